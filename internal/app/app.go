package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"cliprelay/internal/config"
	"cliprelay/internal/eventbus"
	"cliprelay/internal/relay"
	"cliprelay/internal/runtime/supervisor"
	"cliprelay/internal/storage"
	kit "cliprelay/internal/transport"
	"cliprelay/internal/transport/console"
	"cliprelay/internal/transport/telegram"
	logx "cliprelay/pkg/logx"
	"cliprelay/pkg/systemd"
)

type App struct {
	cfgm     *config.ConfigManager
	settings *config.Settings
	dests    []relay.Destination

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   storage.Store
	backend kit.Backend

	queue    *relay.Queue
	producer *relay.Producer
	loop     *relay.Loop

	stats  *Stats
	notify *systemd.Notifier
	cron   *cron.Cron
	sup    *supervisor.Supervisor
}

// Option customizes New.
type Option func(*options)

type options struct {
	backend kit.Backend
	notify  *systemd.Notifier
}

// WithBackend replaces the configured backend.
func WithBackend(b kit.Backend) Option { return func(o *options) { o.backend = b } }

// WithNotifier replaces the sd_notify sender.
func WithNotifier(n *systemd.Notifier) Option { return func(o *options) { o.notify = n } }

// New loads the config at cfgPath and builds every component without
// starting any of them.
func New(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfgm.SetValidator(config.ValidateHook)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	settings, err := config.Resolve(cfg)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogging(cfg.Logging))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	dests := mapDestinations(settings.Destinations)

	backend := o.backend
	if backend == nil {
		backend, err = newBackend(settings, dests, log)
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
	}

	var store storage.Store
	if sc, enabled := mapStorageConfig(settings); enabled {
		store, err = storage.Open(sc, log)
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
		log.Info("delivery journal enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	notify := o.notify
	if notify == nil {
		notify = systemd.New()
	}

	bus := eventbus.New()
	q := relay.NewQueue(settings.QueueSize)
	loop := relay.NewLoop(relay.LoopConfig{
		Destinations:     dests,
		PollInterval:     settings.PollInterval,
		BatchSize:        relay.DefaultBatchSize,
		TerminateTimeout: settings.SendTimeout,
	}, q, backend, log.With(logx.String("comp", "relay")), bus)

	return &App{
		cfgm:     cfgm,
		settings: settings,
		dests:    dests,
		log:      log.With(logx.String("comp", "app")),
		logs:     logSvc,
		bus:      bus,
		store:    store,
		backend:  backend,
		queue:    q,
		producer: relay.NewProducer(len(dests), relay.DefaultBatchSize, q),
		loop:     loop,
		stats:    &Stats{},
		notify:   notify,
	}, nil
}

func newBackend(s *config.Settings, dests []relay.Destination, log logx.Logger) (kit.Backend, error) {
	switch s.Backend {
	case "console":
		return console.New(log.With(logx.String("comp", "console"))), nil
	case "telegram":
		return telegram.New(mapTelegram(s, dests), log.With(logx.String("comp", "telegram")))
	default:
		return nil, fmt.Errorf("unknown backend %q", s.Backend)
	}
}

func (a *App) Settings() *config.Settings { return a.settings }
func (a *App) Producer() *relay.Producer  { return a.producer }
func (a *App) Queue() *relay.Queue        { return a.queue }
func (a *App) Loop() *relay.Loop          { return a.loop }
func (a *App) Logger() logx.Logger        { return a.log }
func (a *App) LogService() *logx.Service  { return a.logs }
func (a *App) Store() storage.Store       { return a.store }
func (a *App) Stats() StatsSnapshot       { return a.stats.Snapshot() }

func (a *App) Destinations() []string {
	names := make([]string, len(a.dests))
	for i, d := range a.dests {
		names[i] = d.Name
	}
	return names
}

// Status is the console footer feed.
func (a *App) Status() (queued, capacity int, state string) {
	return a.queue.Len(), a.queue.Cap(), a.loop.State().String()
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start connects the backend in the background and returns. The delivery
// loop starts the first time the backend reports ready.
//
// Cancelling ctx does not stop the loop: the capture surface is expected
// to flush through the producer first, then call Stop.
func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = supervisor.NewSupervisor(context.WithoutCancel(ctx),
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)

	// subscribe before anything can publish
	events, unsub := a.bus.Subscribe(256, relay.EventSent, relay.EventFailed, relay.EventState)
	a.sup.Go0("relay.events", func(c context.Context) {
		defer unsub()
		a.watchEvents(c, events)
	})

	rep, err := a.startReport(a.settings.ReportSchedule)
	if err != nil {
		a.sup.Cancel()
		return fmt.Errorf("report.schedule: %w", err)
	}
	a.cron = rep

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) { a.watchConfig(c, sub) })
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.sup.GoRestart("backend.start", a.startBackend,
		supervisor.WithRestartBackoff(time.Second, time.Minute))

	a.log.Info("app started",
		logx.String("backend", a.settings.Backend),
		logx.Int("destinations", len(a.dests)),
		logx.Int("queue_cap", a.queue.Cap()),
	)
	return nil
}

func (a *App) startBackend(ctx context.Context) error {
	err := a.backend.Start(ctx, func() { a.loop.Ready(a.sup) })
	if errors.Is(err, kit.ErrTerminated) {
		return nil
	}
	return err
}

// Stop tears the app down. Anything still queued is not delivered; callers
// flush through the producer before calling Stop.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := a.notify.Stopping(); err != nil {
		a.log.Debug("sd_notify STOPPING failed", logx.Err(err))
	}

	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("report", time.Second, func(c context.Context) error {
		if a.cron == nil {
			return nil
		}
		select {
		case <-a.cron.Stop().Done():
			return nil
		case <-c.Done():
			return c.Err()
		}
	})
	step("supervisor", 5*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("backend", 2*time.Second, func(c context.Context) error {
		select {
		case <-a.loop.Done():
			// the loop terminated the backend on its way out
			return nil
		default:
			return a.backend.Terminate(c)
		}
	})
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped", a.stats.Snapshot().fields()...)
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
