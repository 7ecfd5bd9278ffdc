package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/lyve-bridge/internal/queue"
	"go.uber.org/zap"
)

func TestNewStaleScannerAppliesDefaults(t *testing.T) {
	t.Parallel()

	f := newSyncFixture(t, nil)
	scanner, err := NewStaleScanner(f.mappings, &fakePublisher{}, 0, 0, nil)
	if err != nil {
		t.Fatalf("NewStaleScanner() error = %v", err)
	}
	if scanner.interval != defaultStaleScanInterval {
		t.Fatalf("interval = %s, want %s", scanner.interval, defaultStaleScanInterval)
	}
	if scanner.limit != defaultStaleScanLimit {
		t.Fatalf("limit = %d, want %d", scanner.limit, defaultStaleScanLimit)
	}

	if _, err := NewStaleScanner(nil, &fakePublisher{}, 0, 0, nil); err == nil {
		t.Fatal("expected error for missing repository")
	}
}

func TestStaleScannerPublishesStaleMappings(t *testing.T) {
	t.Parallel()

	f := newSyncFixture(t, nil)
	for _, id := range []string{"res-1", "res-2", "res-3"} {
		if r := f.svc.Create(context.Background(), id, testAttributes()); !r.IsSuccess() {
			t.Fatalf("Create(%s) = %+v", id, r)
		}
	}
	for _, id := range []string{"res-1", "res-3"} {
		if err := f.mappings.MarkStale(context.Background(), id); err != nil {
			t.Fatalf("MarkStale(%s) error = %v", id, err)
		}
	}

	publisher := &fakePublisher{
		publishFn: func(ctx context.Context, queueName string, msg queue.ReconcileMessage) error {
			if queueName != queue.ReconcileQueue {
				t.Errorf("queue = %s, want %s", queueName, queue.ReconcileQueue)
			}
			return nil
		},
	}
	scanner, err := NewStaleScanner(f.mappings, publisher, time.Second, 10, zap.NewNop())
	if err != nil {
		t.Fatalf("NewStaleScanner() error = %v", err)
	}

	if err := scanner.scan(context.Background()); err != nil {
		t.Fatalf("scan() error = %v", err)
	}

	published := publisher.messages()
	if len(published) != 2 {
		t.Fatalf("published = %d, want 2", len(published))
	}
	got := map[string]bool{}
	for _, msg := range published {
		got[msg.SourceID] = true
		if msg.Reason != queue.ReasonStale || msg.CorrelationID == "" {
			t.Fatalf("message = %+v, want stale reason and correlation id", msg)
		}
	}
	if !got["res-1"] || !got["res-3"] {
		t.Fatalf("published sources = %v, want res-1 and res-3", got)
	}
}

func TestStaleScannerContinuesAfterPublishError(t *testing.T) {
	t.Parallel()

	f := newSyncFixture(t, nil)
	for _, id := range []string{"res-1", "res-2"} {
		if r := f.svc.Create(context.Background(), id, testAttributes()); !r.IsSuccess() {
			t.Fatalf("Create(%s) = %+v", id, r)
		}
		if err := f.mappings.MarkStale(context.Background(), id); err != nil {
			t.Fatalf("MarkStale(%s) error = %v", id, err)
		}
	}

	calls := 0
	publisher := &fakePublisher{
		publishFn: func(ctx context.Context, queueName string, msg queue.ReconcileMessage) error {
			calls++
			if calls == 1 {
				return errors.New("broker down")
			}
			return nil
		},
	}
	scanner, err := NewStaleScanner(f.mappings, publisher, time.Second, 10, nil)
	if err != nil {
		t.Fatalf("NewStaleScanner() error = %v", err)
	}

	if err := scanner.scan(context.Background()); err != nil {
		t.Fatalf("scan() error = %v", err)
	}
	if calls != 2 || len(publisher.messages()) != 1 {
		t.Fatalf("calls=%d published=%d, want 2/1", calls, len(publisher.messages()))
	}
}
