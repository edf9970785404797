package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/OFFIS-RIT/quill/pkg/chunker"
	"github.com/OFFIS-RIT/quill/pkg/common"
	"github.com/OFFIS-RIT/quill/pkg/indexer"
	"github.com/OFFIS-RIT/quill/pkg/vector"
)

type published struct {
	key string
	msg amqp091.Publishing
}

type fakeChannel struct {
	published []published
	declared  map[string]amqp091.Table
	fail      error
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp091.Publishing) error {
	if f.fail != nil {
		return f.fail
	}
	f.published = append(f.published, published{key: key, msg: msg})
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, args amqp091.Table) (amqp091.Queue, error) {
	if f.declared == nil {
		f.declared = map[string]amqp091.Table{}
	}
	f.declared[name] = args
	return amqp091.Queue{Name: name}, nil
}

type fakeAck struct {
	acks, nacks int
	requeued    bool
}

func (f *fakeAck) Ack(uint64, bool) error {
	f.acks++
	return nil
}

func (f *fakeAck) Nack(_ uint64, _ bool, requeue bool) error {
	f.nacks++
	f.requeued = requeue
	return nil
}

func (f *fakeAck) Reject(uint64, bool) error { return nil }

func newTestWorker(t *testing.T, sink indexer.Sink) *Worker {
	t.Helper()
	registry := indexer.NewRegistry(func(collection string) (*indexer.Indexer, error) {
		cfg := indexer.Config{
			Collection: collection,
			Chunker:    chunker.New(chunker.Options{MaxTokens: 40, OverlapTokens: 5, Tokenizer: chunker.WordTokenizer{}}),
			Index:      vector.NewMemoryIndex(vector.HashEmbedder{}),
		}
		if sink != nil {
			cfg.Sinks = []indexer.Sink{sink}
		}
		return indexer.New(cfg)
	})
	return NewWorker(registry, nil)
}

type countingSink struct{ saved []string }

func (s *countingSink) Save(_ context.Context, snap *indexer.Snapshot) error {
	s.saved = append(s.saved, snap.Collection)
	return nil
}

func TestSetupQueues(t *testing.T) {
	ch := &fakeChannel{}
	if err := SetupQueues(ch, Queues); err != nil {
		t.Fatalf("SetupQueues: %v", err)
	}
	if len(ch.declared) != 6 {
		t.Fatalf("declared %d queues, want 6", len(ch.declared))
	}
	args := ch.declared["index_queue_retry"]
	if args["x-dead-letter-routing-key"] != IndexQueue || args["x-message-ttl"] != int32(10000) {
		t.Fatalf("unexpected retry queue args %v", args)
	}
}

func TestProcess(t *testing.T) {
	ctx := context.Background()
	sink := &countingSink{}
	w := newTestWorker(t, sink)

	index, _ := json.Marshal(IndexMessage{
		Collection: "novel",
		Document:   common.Document{DocID: "ch1", Text: "Sarah lit the lamp in the temple."},
	})
	if err := w.Process(ctx, IndexQueue, index); err != nil {
		t.Fatalf("index message: %v", err)
	}

	folder, _ := json.Marshal(FolderMessage{
		Collection: "novel",
		Documents: []common.Document{
			{DocID: "ch2", Text: "Marcus waited outside."},
			{DocID: "ch3", Text: "The crystal cracked."},
		},
	})
	if err := w.Process(ctx, FolderQueue, folder); err != nil {
		t.Fatalf("folder message: %v", err)
	}

	idx, err := w.registry.Get("novel")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := len(idx.Documents()); got != 3 {
		t.Fatalf("documents = %d, want 3", got)
	}
	if len(sink.saved) != 2 {
		t.Fatalf("expected a snapshot per message, got %v", sink.saved)
	}
}

func TestProcess_Errors(t *testing.T) {
	w := newTestWorker(t, nil)
	ctx := context.Background()

	tests := []struct {
		name  string
		queue string
		body  string
	}{
		{"malformed", IndexQueue, "{"},
		{"no collection", IndexQueue, `{"document":{"doc_id":"a","text":"x"}}`},
		{"no doc id", IndexQueue, `{"collection":"c","document":{"text":"x"}}`},
		{"empty folder", FolderQueue, `{"collection":"c","documents":[]}`},
		{"unknown queue", "delete_queue", `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := w.Process(ctx, tt.queue, []byte(tt.body)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
	if err := w.Process(ctx, "delete_queue", nil); !errors.Is(err, ErrUnknownQueue) {
		t.Fatalf("expected ErrUnknownQueue, got %v", err)
	}
}

func TestHandleProcessingError(t *testing.T) {
	ctx := context.Background()

	t.Run("retry", func(t *testing.T) {
		ch := &fakeChannel{}
		ack := &fakeAck{}
		msg := amqp091.Delivery{Acknowledger: ack, Body: []byte("x"), Headers: amqp091.Table{"x-retries": int32(3)}}
		handleProcessingError(ctx, ch, msg, IndexQueue)

		if len(ch.published) != 1 || ch.published[0].key != "index_queue_retry" {
			t.Fatalf("published = %+v", ch.published)
		}
		if got := ch.published[0].msg.Headers["x-retries"]; got != int32(4) {
			t.Fatalf("x-retries = %v, want 4", got)
		}
		if msg.Headers["x-retries"] != int32(3) {
			t.Fatalf("original headers were modified")
		}
		if ack.acks != 1 {
			t.Fatalf("expected ack after republish")
		}
	})

	t.Run("dead letter", func(t *testing.T) {
		ch := &fakeChannel{}
		ack := &fakeAck{}
		msg := amqp091.Delivery{Acknowledger: ack, Body: []byte("x"), Headers: amqp091.Table{"x-retries": int32(MaxRetries)}}
		handleProcessingError(ctx, ch, msg, FolderQueue)

		if len(ch.published) != 1 || ch.published[0].key != "folder_queue_dlq" {
			t.Fatalf("published = %+v", ch.published)
		}
		if ack.acks != 1 {
			t.Fatalf("expected ack after dead-lettering")
		}
	})

	t.Run("publish failure requeues", func(t *testing.T) {
		ch := &fakeChannel{fail: errors.New("channel closed")}
		ack := &fakeAck{}
		handleProcessingError(ctx, ch, amqp091.Delivery{Acknowledger: ack}, IndexQueue)
		if ack.nacks != 1 || !ack.requeued || ack.acks != 0 {
			t.Fatalf("expected requeueing nack, got %+v", ack)
		}
	})
}

func TestHandle_AcksOnSuccess(t *testing.T) {
	w := newTestWorker(t, nil)
	ch := &fakeChannel{}
	ack := &fakeAck{}
	body, _ := json.Marshal(IndexMessage{Collection: "c", Document: common.Document{DocID: "a", Text: "Sarah ran."}})

	w.handle(context.Background(), ch, queuedMessage{msg: amqp091.Delivery{Acknowledger: ack, Body: body}, queueName: IndexQueue})
	if ack.acks != 1 || len(ch.published) != 0 {
		t.Fatalf("expected plain ack, got acks=%d published=%d", ack.acks, len(ch.published))
	}
}

func TestFormatDuration(t *testing.T) {
	if got := formatDuration(time.Hour + 2*time.Minute + 3*time.Second); got != "01:02:03" {
		t.Fatalf("formatDuration = %q", got)
	}
}
