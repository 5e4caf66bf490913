package capture

import (
	"bufio"
	"context"
	"fmt"
	"io"

	logx "cliprelay/pkg/logx"
)

// StdinResult counts what a stdin session fed into the relay.
type StdinResult struct {
	Lines   int
	Batches int
}

// RunStdin ingests every line read from r into dest until EOF or ctx ends.
func RunStdin(ctx context.Context, r io.Reader, p Paster, dest int, log logx.Logger) (StdinResult, error) {
	var res StdinResult
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info("stdin capture interrupted", logx.Int("lines", res.Lines))
			return res, nil
		case line, ok := <-lines:
			if !ok {
				var err error
				select {
				case err = <-readErr:
				default:
				}
				if err != nil {
					return res, fmt.Errorf("read stdin: %w", err)
				}
				log.Info("stdin closed", logx.Int("lines", res.Lines), logx.Int("batches", res.Batches))
				return res, nil
			}
			out, err := p.Paste(ctx, dest, line)
			if err != nil {
				return res, err
			}
			res.Lines++
			res.Batches += out.Batches
		}
	}
}
