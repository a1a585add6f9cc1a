package controller

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"intake/internal/mapping"
	"intake/internal/model"
	"intake/internal/orchestrator"
	"intake/internal/store"
	"intake/pkg/batchsvc"
	"intake/pkg/batchsvc/batchsvctest"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func newTestImportController(fake *batchsvctest.Fake) (*ImportController, *store.Store) {
	st := store.New()
	ic := NewImportController(ControllerDeps{
		Client:       fake,
		Store:        st,
		Resolver:     mapping.NewResolver(mapping.DefaultConfig()),
		PollInterval: 10 * time.Millisecond,
	})
	return ic, st
}

func entryNamed(ic *ImportController, name string) (model.QueueEntry, bool) {
	for _, entry := range ic.QueueEntries() {
		if entry.Name == name {
			return entry, true
		}
	}
	return model.QueueEntry{}, false
}

// An upload handler returns long before batch creation finishes; the
// background work must run on the controller's context, not the request's.
func TestEnqueueProcessesAfterCallerReturns(t *testing.T) {
	fake := batchsvctest.New()
	fake.CreateBatchFn = func(ctx context.Context, req batchsvc.CreateBatchRequest) (*model.Batch, error) {
		select {
		case <-time.After(100 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &model.Batch{ID: "b1", Status: model.BatchPending, HasFile: true}, nil
	}
	fake.GetBatchStatusFn = func(ctx context.Context, batchID string) (*model.BatchProgress, error) {
		return &model.BatchProgress{Status: model.BatchValidated, Progress: 1, ServerTime: time.Now()}, nil
	}

	ic, _ := newTestImportController(fake)
	defer ic.Shutdown()

	// Enqueue returns immediately, the way the HTTP handler does.
	ids := ic.Enqueue(orchestrator.FileInput{Name: "slow.csv", SourceType: model.SourceProducts})
	if len(ids) != 1 {
		t.Fatalf("entry ids = %d, want 1", len(ids))
	}

	waitFor(t, 2*time.Second, func() bool {
		entry, ok := entryNamed(ic, "slow.csv")
		return ok && entry.Status == model.EntryReady
	}, "entry never became ready; background work did not outlive the caller")

	entry, _ := entryNamed(ic, "slow.csv")
	if entry.Error != "" {
		t.Errorf("entry error = %q, want none", entry.Error)
	}
}

func TestShutdownCancelsBackgroundWork(t *testing.T) {
	fake := batchsvctest.New()
	started := make(chan struct{})
	fake.CreateBatchFn = func(ctx context.Context, req batchsvc.CreateBatchRequest) (*model.Batch, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}

	ic, _ := newTestImportController(fake)

	ic.Enqueue(orchestrator.FileInput{Name: "f.csv", SourceType: model.SourceProducts})
	<-started
	ic.Shutdown()

	waitFor(t, 2*time.Second, func() bool {
		entry, ok := entryNamed(ic, "f.csv")
		return ok && entry.Status == model.EntryError
	}, "in-flight entry never observed shutdown")

	entry, _ := entryNamed(ic, "f.csv")
	if !strings.Contains(entry.Error, "context canceled") {
		t.Errorf("entry error = %q, want cancellation", entry.Error)
	}
}

func TestPatchItemToleratesRefreshFailure(t *testing.T) {
	fake := batchsvctest.New()
	fake.ListItemsFn = func(ctx context.Context, batchID string, filter model.ItemFilter) ([]model.Item, error) {
		return nil, errors.New("listing unavailable")
	}

	ic, st := newTestImportController(fake)
	defer ic.Shutdown()
	st.UpsertBatch(model.Batch{ID: "b1", Status: model.BatchReady})
	st.SetItems("b1", []model.Item{{ID: "i1", Status: model.ItemOK}})

	if err := ic.PatchItem(context.Background(), "b1", "i1", "price", "2.50"); err != nil {
		t.Errorf("PatchItem() error = %v, refresh failure must not fail the edit", err)
	}
	if got := fake.Calls("PatchItem"); got != 1 {
		t.Errorf("PatchItem calls = %d, want 1", got)
	}
	if items := st.Items("b1"); len(items) != 1 {
		t.Errorf("stale items clobbered by failed refresh: %d", len(items))
	}
}

func TestValidateBatchToleratesRefreshFailure(t *testing.T) {
	fake := batchsvctest.New()
	fake.ListItemsFn = func(ctx context.Context, batchID string, filter model.ItemFilter) ([]model.Item, error) {
		return nil, errors.New("listing unavailable")
	}

	ic, _ := newTestImportController(fake)
	defer ic.Shutdown()

	if err := ic.ValidateBatch(context.Background(), "b1"); err != nil {
		t.Errorf("ValidateBatch() error = %v, refresh failure must not fail validation", err)
	}
	if got := fake.Calls("ValidateBatch"); got != 1 {
		t.Errorf("ValidateBatch calls = %d, want 1", got)
	}
}

func TestPatchItemSurfacesEditFailure(t *testing.T) {
	fake := batchsvctest.New()
	fake.PatchItemFn = func(ctx context.Context, batchID, itemID, field, value string) error {
		return errors.New("field rejected")
	}

	ic, _ := newTestImportController(fake)
	defer ic.Shutdown()

	if err := ic.PatchItem(context.Background(), "b1", "i1", "price", "x"); err == nil {
		t.Error("PatchItem() should surface the edit failure")
	}
}
