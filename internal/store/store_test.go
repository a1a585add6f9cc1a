package store

import (
	"testing"
	"time"

	"intake/internal/model"
)

func TestSetStatusMonotonic(t *testing.T) {
	tests := []struct {
		name       string
		current    model.BatchStatus
		next       model.BatchStatus
		wantOK     bool
		wantStatus model.BatchStatus
	}{
		{"pending to parsing", model.BatchPending, model.BatchParsing, true, model.BatchParsing},
		{"parsing to ready", model.BatchParsing, model.BatchReady, true, model.BatchReady},
		{"ready to validated", model.BatchReady, model.BatchValidated, true, model.BatchValidated},
		{"validated to promoted", model.BatchValidated, model.BatchPromoted, true, model.BatchPromoted},
		{"ready back to parsing rejected", model.BatchReady, model.BatchParsing, false, model.BatchReady},
		{"promoted back to pending rejected", model.BatchPromoted, model.BatchPending, false, model.BatchPromoted},
		{"validated back to ready rejected", model.BatchValidated, model.BatchReady, false, model.BatchValidated},
		{"same status accepted", model.BatchReady, model.BatchReady, true, model.BatchReady},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New()
			s.UpsertBatch(model.Batch{ID: "b1", Status: tt.current})

			if got := s.SetStatus("b1", tt.next); got != tt.wantOK {
				t.Errorf("SetStatus() = %v, want %v", got, tt.wantOK)
			}
			batch, _ := s.Batch("b1")
			if batch.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", batch.Status, tt.wantStatus)
			}
		})
	}
}

func TestSetStatusUnknownBatch(t *testing.T) {
	s := New()
	if s.SetStatus("missing", model.BatchReady) {
		t.Error("SetStatus() on unknown batch should return false")
	}
}

func TestResetIsTheMonotonicException(t *testing.T) {
	s := New()
	s.UpsertBatch(model.Batch{ID: "b1", Status: model.BatchError})
	s.SetItems("b1", []model.Item{{ID: "i1"}, {ID: "i2"}})

	s.Reset("b1")

	batch, ok := s.Batch("b1")
	if !ok {
		t.Fatal("batch disappeared after reset")
	}
	if batch.Status != model.BatchPending {
		t.Errorf("status after reset = %s, want %s", batch.Status, model.BatchPending)
	}
	if batch.ItemCount != 0 {
		t.Errorf("item count after reset = %d, want 0", batch.ItemCount)
	}
	if items := s.Items("b1"); len(items) != 0 {
		t.Errorf("items after reset = %d, want 0", len(items))
	}
}

func TestUpsertBatchKeepsHigherRankedStatus(t *testing.T) {
	s := New()
	s.UpsertBatch(model.Batch{ID: "b1", Status: model.BatchReady, ItemCount: 10})

	// A stale read arrives after the status advanced locally.
	s.UpsertBatch(model.Batch{ID: "b1", Status: model.BatchParsing, ItemCount: 12})

	batch, _ := s.Batch("b1")
	if batch.Status != model.BatchReady {
		t.Errorf("status = %s, want %s", batch.Status, model.BatchReady)
	}
	if batch.ItemCount != 12 {
		t.Errorf("item count = %d, want 12 (non-status fields still update)", batch.ItemCount)
	}
}

func TestSubscribeReceivesEvents(t *testing.T) {
	s := New()
	var events []Event
	s.Subscribe(func(ev Event) {
		events = append(events, ev)
	})

	s.UpsertBatch(model.Batch{ID: "b1", Status: model.BatchPending})
	s.SetStatus("b1", model.BatchParsing)
	s.SetStatus("b1", model.BatchParsing) // no change, no event
	s.SetItems("b1", []model.Item{{ID: "i1"}})
	s.DeleteBatch("b1")
	s.DeleteBatch("b1") // already gone, no event

	want := []EventKind{EventBatchUpserted, EventStatusChanged, EventItemsReplaced, EventBatchDeleted}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d: %+v", len(events), len(want), events)
	}
	for i, kind := range want {
		if events[i].Kind != kind {
			t.Errorf("event %d = %s, want %s", i, events[i].Kind, kind)
		}
		if events[i].BatchID != "b1" {
			t.Errorf("event %d batch id = %s, want b1", i, events[i].BatchID)
		}
	}
}

func TestItemsReturnsCopy(t *testing.T) {
	s := New()
	s.UpsertBatch(model.Batch{ID: "b1", Status: model.BatchReady})
	s.SetItems("b1", []model.Item{{ID: "i1", Status: model.ItemOK}})

	items := s.Items("b1")
	items[0].Status = model.ItemErrorValidation

	if got := s.Items("b1")[0].Status; got != model.ItemOK {
		t.Errorf("store item mutated through snapshot, status = %s", got)
	}
}

func TestListBatchesNewestFirst(t *testing.T) {
	s := New()
	base := time.Now()
	s.UpsertBatch(model.Batch{ID: "old", Status: model.BatchReady, CreatedAt: base.Add(-time.Hour)})
	s.UpsertBatch(model.Batch{ID: "new", Status: model.BatchReady, CreatedAt: base})
	s.UpsertBatch(model.Batch{ID: "mid", Status: model.BatchReady, CreatedAt: base.Add(-time.Minute)})

	got := s.ListBatches()
	wantOrder := []string{"new", "mid", "old"}
	if len(got) != len(wantOrder) {
		t.Fatalf("got %d batches, want %d", len(got), len(wantOrder))
	}
	for i, id := range wantOrder {
		if got[i].ID != id {
			t.Errorf("position %d = %s, want %s", i, got[i].ID, id)
		}
	}
}
