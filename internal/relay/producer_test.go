package relay

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestProducerPasteEnqueuesBatches(t *testing.T) {
	q := NewQueue(0)
	p := NewProducer(2, DefaultBatchSize, q)
	ctx := context.Background()

	res, err := p.Paste(ctx, 1, "a\nb\nc\nd\ne\nf\n")
	if err != nil {
		t.Fatalf("Paste: %v", err)
	}
	if res != (PasteResult{Batches: 1, Pending: 1}) {
		t.Fatalf("result = %+v", res)
	}
	ins, st := q.TryDequeue()
	if st != Dequeued || ins != (Send{Content: "a\nb\nc\nd\ne", Destination: 1}) {
		t.Fatalf("dequeued %#v (%s)", ins, st)
	}
	if got := p.Pending(); !reflect.DeepEqual(got, []int{0, 1}) {
		t.Fatalf("Pending = %v", got)
	}
}

func TestProducerCloseFlushesOnce(t *testing.T) {
	q := NewQueue(0)
	p := NewProducer(2, DefaultBatchSize, q)
	ctx := context.Background()
	_, _ = p.Paste(ctx, 0, "one\ntwo\nthree")

	if err := p.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Close(ctx); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	ins, st := q.TryDequeue()
	if st != Dequeued {
		t.Fatalf("status = %s", st)
	}
	want := SendAndQuit{Contents: []string{"one\ntwo\nthree", ""}}
	if !reflect.DeepEqual(ins, want) {
		t.Fatalf("flush = %#v, want %#v", ins, want)
	}
	if _, st := q.TryDequeue(); st != Closed {
		t.Fatalf("queue should be closed after flush, got %s", st)
	}
	if _, err := p.Paste(ctx, 0, "late"); !errors.Is(err, ErrProducerClosed) {
		t.Fatalf("Paste after Close err = %v", err)
	}
}

func TestProducerCloseWithStoppedConsumer(t *testing.T) {
	q := NewQueue(1)
	p := NewProducer(1, DefaultBatchSize, q)
	_ = q.Enqueue(context.Background(), Send{})
	q.MarkStopped()

	if err := p.Close(context.Background()); !errors.Is(err, ErrConsumerStopped) {
		t.Fatalf("Close err = %v, want ErrConsumerStopped", err)
	}
}
