package store

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"intake/internal/model"
)

// Event describes one mutation of the store, delivered to subscribers.
type Event struct {
	BatchID string
	Kind    EventKind
}

type EventKind string

const (
	EventBatchUpserted EventKind = "batch_upserted"
	EventStatusChanged EventKind = "status_changed"
	EventItemsReplaced EventKind = "items_replaced"
	EventBatchDeleted  EventKind = "batch_deleted"
	EventBatchReset    EventKind = "batch_reset"
)

// Store is the normalized in-memory view of batches and their items. It is
// the single source of truth shared by the queue, the lifecycle
// controllers and the promotion coordinator; every mutation goes through
// it so observers never diverge.
type Store struct {
	mu      sync.RWMutex
	batches map[string]model.Batch
	items   map[string][]model.Item
	subs    []func(Event)
}

func New() *Store {
	return &Store{
		batches: make(map[string]model.Batch),
		items:   make(map[string][]model.Item),
	}
}

// Subscribe registers a callback invoked after every mutation. Callbacks
// run outside the store lock and must not call back into the store
// synchronously from themselves.
func (s *Store) Subscribe(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

func (s *Store) notify(ev Event) {
	s.mu.RLock()
	subs := make([]func(Event), len(s.subs))
	copy(subs, s.subs)
	s.mu.RUnlock()

	for _, fn := range subs {
		fn(ev)
	}
}

// UpsertBatch inserts or updates a batch record. Status changes still go
// through the monotonic guard.
func (s *Store) UpsertBatch(batch model.Batch) {
	s.mu.Lock()
	if existing, ok := s.batches[batch.ID]; ok && batch.Status.Rank() < existing.Status.Rank() {
		// Never regress status from a stale read.
		batch.Status = existing.Status
	}
	s.batches[batch.ID] = batch
	s.mu.Unlock()

	s.notify(Event{BatchID: batch.ID, Kind: EventBatchUpserted})
}

// SetStatus advances a batch's status. Transitions are monotonic: a status
// ranked below the current one is rejected and the method returns false.
func (s *Store) SetStatus(batchID string, status model.BatchStatus) bool {
	s.mu.Lock()
	batch, ok := s.batches[batchID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	if status.Rank() < batch.Status.Rank() {
		s.mu.Unlock()
		log.Debug().
			Str("batch_id", batchID).
			Str("current", string(batch.Status)).
			Str("rejected", string(status)).
			Msg("Ignoring backwards status transition")
		return false
	}
	changed := batch.Status != status
	batch.Status = status
	s.batches[batchID] = batch
	s.mu.Unlock()

	if changed {
		s.notify(Event{BatchID: batchID, Kind: EventStatusChanged})
	}
	return true
}

// Reset force-returns a batch to PENDING and clears its items. This is the
// single sanctioned exception to monotonic status transitions and only
// runs on explicit operator action.
func (s *Store) Reset(batchID string) {
	s.mu.Lock()
	batch, ok := s.batches[batchID]
	if ok {
		batch.Status = model.BatchPending
		batch.ItemCount = 0
		s.batches[batchID] = batch
		delete(s.items, batchID)
	}
	s.mu.Unlock()

	if ok {
		s.notify(Event{BatchID: batchID, Kind: EventBatchReset})
	}
}

// SetItems replaces the item list for a batch.
func (s *Store) SetItems(batchID string, items []model.Item) {
	s.mu.Lock()
	s.items[batchID] = items
	if batch, ok := s.batches[batchID]; ok {
		batch.ItemCount = len(items)
		s.batches[batchID] = batch
	}
	s.mu.Unlock()

	s.notify(Event{BatchID: batchID, Kind: EventItemsReplaced})
}

// DeleteBatch removes a batch and its items.
func (s *Store) DeleteBatch(batchID string) {
	s.mu.Lock()
	_, ok := s.batches[batchID]
	delete(s.batches, batchID)
	delete(s.items, batchID)
	s.mu.Unlock()

	if ok {
		s.notify(Event{BatchID: batchID, Kind: EventBatchDeleted})
	}
}

// Batch returns a copy of the batch record.
func (s *Store) Batch(batchID string) (model.Batch, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	batch, ok := s.batches[batchID]
	return batch, ok
}

// Items returns a copy of the batch's item list.
func (s *Store) Items(batchID string) []model.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := s.items[batchID]
	out := make([]model.Item, len(items))
	copy(out, items)
	return out
}

// ListBatches returns all known batches, newest first.
func (s *Store) ListBatches() []model.Batch {
	s.mu.RLock()
	out := make([]model.Batch, 0, len(s.batches))
	for _, batch := range s.batches {
		out = append(out, batch)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}
