package service

import (
	"context"
	"testing"
	"time"

	"github.com/kursadbilgin/lyve-bridge/internal/domain"
	"github.com/kursadbilgin/lyve-bridge/internal/observability"
	"github.com/kursadbilgin/lyve-bridge/internal/queue"
)

type fakeReconciler struct {
	reconcileFn func(ctx context.Context, sourceID string) domain.Result
}

func (f *fakeReconciler) Reconcile(ctx context.Context, sourceID string) domain.Result {
	return f.reconcileFn(ctx, sourceID)
}

func TestReconcileWorkerProcessMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		result  domain.Result
		wantErr bool
	}{
		{name: "synced acks", result: domain.Success(&domain.IdentityMapping{State: domain.MappingStateSynced})},
		{name: "deleted acks", result: domain.NotFound("person res-1 was deleted")},
		{name: "conflict acks", result: domain.Conflict(nil, "in flight")},
		{name: "unavailable dead-letters", result: domain.Unavailable("upstream circuit is open"), wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			reconciler := &fakeReconciler{
				reconcileFn: func(ctx context.Context, sourceID string) domain.Result {
					if sourceID != "res-1" {
						t.Errorf("sourceID = %s, want res-1", sourceID)
					}
					if id, ok := observability.CorrelationIDFromContext(ctx); !ok || id != "corr-1" {
						t.Errorf("correlation id = %q, want corr-1", id)
					}
					return tc.result
				},
			}

			worker, err := NewReconcileWorker(&fakeConsumer{}, reconciler, 1, nil)
			if err != nil {
				t.Fatalf("NewReconcileWorker() error = %v", err)
			}

			err = worker.processMessage(context.Background(), queue.ReconcileMessage{
				SourceID:      "res-1",
				CorrelationID: "corr-1",
				Reason:        queue.ReasonStale,
			})
			if (err != nil) != tc.wantErr {
				t.Fatalf("processMessage() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestReconcileWorkerStartConsumesReconcileQueue(t *testing.T) {
	t.Parallel()

	queues := make(chan string, 4)
	consumer := &fakeConsumer{
		consumeFn: func(ctx context.Context, queueName string, handler queue.MessageHandler) error {
			queues <- queueName
			<-ctx.Done()
			return nil
		},
	}
	worker, err := NewReconcileWorker(consumer, &fakeReconciler{}, 2, nil)
	if err != nil {
		t.Fatalf("NewReconcileWorker() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Start(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case name := <-queues:
			if name != queue.ReconcileQueue {
				t.Fatalf("queue = %s, want %s", name, queue.ReconcileQueue)
			}
		case <-time.After(time.Second):
			t.Fatal("worker did not start consuming")
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
}

func TestReconcileWorkerEndToEnd(t *testing.T) {
	t.Parallel()

	f := newSyncFixture(t, nil)
	if r := f.svc.Create(context.Background(), "res-1", testAttributes()); !r.IsSuccess() {
		t.Fatalf("Create() = %+v", r)
	}
	if err := f.mappings.MarkStale(context.Background(), "res-1"); err != nil {
		t.Fatalf("MarkStale() error = %v", err)
	}

	worker, err := NewReconcileWorker(&fakeConsumer{}, f.svc, 1, nil)
	if err != nil {
		t.Fatalf("NewReconcileWorker() error = %v", err)
	}
	if err := worker.processMessage(context.Background(), queue.ReconcileMessage{SourceID: "res-1"}); err != nil {
		t.Fatalf("processMessage() error = %v", err)
	}

	mapping, err := f.mappings.GetBySourceID(context.Background(), "res-1")
	if err != nil {
		t.Fatalf("GetBySourceID() error = %v", err)
	}
	if mapping.State != domain.MappingStateSynced {
		t.Fatalf("state = %s, want SYNCED", mapping.State)
	}
}
