package orchestrator

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"intake/internal/model"
	"intake/internal/store"
	"intake/pkg/batchsvc"
)

// FileInput is one file submitted to the queue. The queue takes ownership
// of Content: when it also implements io.Closer it is closed once the
// entry no longer needs it.
type FileInput struct {
	Name       string
	Content    io.Reader
	SourceType model.SourceType
}

// Stager uploads a file somewhere durable before batch creation and
// returns its URL. Optional; when nil, file content is not staged and the
// batch is created from the raw upload name only.
type Stager interface {
	StageFile(ctx context.Context, name string, content io.Reader) (string, error)
}

// QueueListener receives queue lifecycle notifications. All methods are
// optional to care about; implementations must not block.
type QueueListener interface {
	EntryUpdated(entry model.QueueEntry)
	BatchStuck(batchID string)
}

// QueueOptions configure an import queue.
type QueueOptions struct {
	PollInterval time.Duration
	StuckAfter   time.Duration
	Stager       Stager
	Listener     QueueListener
}

// Queue coordinates N independently submitted files. Each file gets its
// own QueueEntry and its own lifecycle controller; a failure or stall in
// one entry never blocks or delays the others.
type Queue struct {
	client batchsvc.API
	store  *store.Store
	opts   QueueOptions

	mu          sync.Mutex
	entries     map[string]*model.QueueEntry
	order       []string
	controllers map[string]*Controller // keyed by entry id
	byBatch     map[string]string      // batch id -> entry id
}

// NewQueue builds an empty queue. Teardown via Shutdown cancels every live
// poller.
func NewQueue(client batchsvc.API, st *store.Store, opts QueueOptions) *Queue {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.StuckAfter <= 0 {
		opts.StuckAfter = DefaultStuckAfter
	}
	return &Queue{
		client:      client,
		store:       st,
		opts:        opts,
		entries:     make(map[string]*model.QueueEntry),
		controllers: make(map[string]*Controller),
		byBatch:     make(map[string]string),
	}
}

// Add enqueues one or more files. Each file gets a pending entry
// immediately; registration and polling proceed in the background, one
// goroutine per file.
func (q *Queue) Add(ctx context.Context, files ...FileInput) []string {
	ids := make([]string, 0, len(files))

	for _, file := range files {
		entry := &model.QueueEntry{
			ID:        uuid.NewString(),
			Name:      file.Name,
			Status:    model.EntryPending,
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}

		q.mu.Lock()
		q.entries[entry.ID] = entry
		q.order = append(q.order, entry.ID)
		q.mu.Unlock()

		ids = append(ids, entry.ID)
		q.notifyEntry(*entry)

		go q.runEntry(ctx, entry.ID, file)
	}

	return ids
}

// runEntry drives one file from upload to a registered, polling batch.
func (q *Queue) runEntry(ctx context.Context, entryID string, file FileInput) {
	defer func() {
		if closer, ok := file.Content.(io.Closer); ok {
			closer.Close()
		}
	}()

	req := batchsvc.CreateBatchRequest{
		FileName:   file.Name,
		SourceType: file.SourceType,
	}

	if q.opts.Stager != nil && file.Content != nil {
		url, err := q.opts.Stager.StageFile(ctx, file.Name, file.Content)
		if err != nil {
			q.failEntry(entryID, "could not stage file: "+err.Error())
			return
		}
		req.FileURL = url
		q.updateEntry(entryID, func(e *model.QueueEntry) {
			e.StagedURL = url
		})
	}

	batch, err := q.client.CreateBatch(ctx, req)
	if err != nil {
		q.failEntry(entryID, "could not create batch: "+err.Error())
		return
	}

	q.store.UpsertBatch(*batch)

	ctrl := NewController(q.client, q.store, *batch, ControllerOptions{
		PollInterval: q.opts.PollInterval,
		StuckAfter:   q.opts.StuckAfter,
		OnStuck:      q.handleStuck,
		OnTerminal:   q.handleTerminal,
	})

	q.mu.Lock()
	if _, stillThere := q.entries[entryID]; !stillThere {
		// Entry was dismissed while the batch was being created.
		q.mu.Unlock()
		ctrl.Stop()
		return
	}
	q.controllers[entryID] = ctrl
	q.byBatch[batch.ID] = entryID
	q.mu.Unlock()

	q.updateEntry(entryID, func(e *model.QueueEntry) {
		e.BatchID = batch.ID
		e.Status = model.EntryProcessing
		e.Info = "processing"
	})

	if err := ctrl.Start(ctx); err != nil {
		// Trigger failures are recoverable via Retry; the entry stays in
		// processing with the failure detail attached.
		log.Warn().Err(err).Str("entry_id", entryID).Msg("Processing trigger failed")
		q.updateEntry(entryID, func(e *model.QueueEntry) {
			e.Info = "start failed, retry available: " + err.Error()
		})
	}
}

// handleTerminal maps a terminal batch status onto the owning entry.
func (q *Queue) handleTerminal(batchID string, status model.BatchStatus) {
	entryID, ok := q.entryForBatch(batchID)
	if !ok {
		return
	}

	switch status {
	case model.BatchError:
		q.updateEntry(entryID, func(e *model.QueueEntry) {
			e.Status = model.EntryError
			e.Error = "processing failed"
		})
	case model.BatchEmpty:
		q.updateEntry(entryID, func(e *model.QueueEntry) {
			e.Status = model.EntryError
			e.Error = "no rows detected in file"
		})
	default:
		q.updateEntry(entryID, func(e *model.QueueEntry) {
			if e.Status == model.EntryProcessing || e.Status == model.EntryPending {
				e.Status = model.EntryReady
				e.Info = "ready for review"
			}
		})
	}
}

func (q *Queue) handleStuck(batchID string) {
	if q.opts.Listener != nil {
		q.opts.Listener.BatchStuck(batchID)
	}
}

// MarkSaving flags the entry owning a batch as being promoted.
func (q *Queue) MarkSaving(batchID string) {
	if entryID, ok := q.entryForBatch(batchID); ok {
		q.updateEntry(entryID, func(e *model.QueueEntry) {
			e.Status = model.EntrySaving
			e.Info = "promoting rows"
		})
	}
}

// MarkSaved flags the entry owning a batch as fully promoted, with a
// human-readable accounting summary.
func (q *Queue) MarkSaved(batchID, summary string) {
	if entryID, ok := q.entryForBatch(batchID); ok {
		q.updateEntry(entryID, func(e *model.QueueEntry) {
			e.Status = model.EntrySaved
			e.Info = summary
		})
	}
}

// MarkPromotionAborted returns an entry from saving back to ready. Used
// when a promotion stops before any rows were sent, such as a declined
// zero-stock confirmation.
func (q *Queue) MarkPromotionAborted(batchID string) {
	if entryID, ok := q.entryForBatch(batchID); ok {
		q.updateEntry(entryID, func(e *model.QueueEntry) {
			if e.Status == model.EntrySaving {
				e.Status = model.EntryReady
				e.Info = "ready for review"
			}
		})
	}
}

// MarkSaveFailed reports a failed promotion on the owning entry.
func (q *Queue) MarkSaveFailed(batchID, detail string) {
	if entryID, ok := q.entryForBatch(batchID); ok {
		q.updateEntry(entryID, func(e *model.QueueEntry) {
			e.Status = model.EntryError
			e.Error = detail
		})
	}
}

// Controller returns the lifecycle controller owning a batch, when one is
// live in this queue.
func (q *Queue) Controller(batchID string) (*Controller, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	entryID, ok := q.byBatch[batchID]
	if !ok {
		return nil, false
	}
	ctrl, ok := q.controllers[entryID]
	return ctrl, ok
}

// Entries returns a snapshot of the queue in submission order.
func (q *Queue) Entries() []model.QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]model.QueueEntry, 0, len(q.order))
	for _, id := range q.order {
		if entry, ok := q.entries[id]; ok {
			out = append(out, *entry)
		}
	}
	return out
}

// Remove dismisses a single entry. Allowed from terminal states and from
// a stuck processing state; the underlying batch is left untouched.
func (q *Queue) Remove(entryID string) bool {
	q.mu.Lock()
	entry, ok := q.entries[entryID]
	if !ok {
		q.mu.Unlock()
		return false
	}
	if !entry.Status.Terminal() && entry.Status != model.EntryProcessing {
		q.mu.Unlock()
		return false
	}
	ctrl := q.controllers[entryID]
	q.removeLocked(entryID)
	q.mu.Unlock()

	if ctrl != nil {
		ctrl.Stop()
	}
	return true
}

// ClearStuck dismisses every entry still in processing. This is a
// local-only dismissal: pollers are torn down but the server-side batches
// are not deleted.
func (q *Queue) ClearStuck() int {
	return q.clearWhere(func(e *model.QueueEntry) bool {
		return e.Status == model.EntryProcessing
	})
}

// ClearCompleted dismisses every entry in a terminal state.
func (q *Queue) ClearCompleted() int {
	return q.clearWhere(func(e *model.QueueEntry) bool {
		return e.Status.Terminal()
	})
}

func (q *Queue) clearWhere(match func(*model.QueueEntry) bool) int {
	q.mu.Lock()
	var removed []string
	var ctrls []*Controller
	for id, entry := range q.entries {
		if match(entry) {
			removed = append(removed, id)
			if ctrl, ok := q.controllers[id]; ok {
				ctrls = append(ctrls, ctrl)
			}
		}
	}
	for _, id := range removed {
		q.removeLocked(id)
	}
	q.mu.Unlock()

	for _, ctrl := range ctrls {
		ctrl.Stop()
	}

	if len(removed) > 0 {
		log.Info().Int("count", len(removed)).Msg("Cleared queue entries")
	}
	return len(removed)
}

// removeLocked deletes entry bookkeeping. Called with the lock held.
func (q *Queue) removeLocked(entryID string) {
	if entry, ok := q.entries[entryID]; ok && entry.BatchID != "" {
		delete(q.byBatch, entry.BatchID)
	}
	delete(q.entries, entryID)
	delete(q.controllers, entryID)
	for i, id := range q.order {
		if id == entryID {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
}

// Shutdown tears down every live poller. The queue is unusable afterwards.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	ctrls := make([]*Controller, 0, len(q.controllers))
	for _, ctrl := range q.controllers {
		ctrls = append(ctrls, ctrl)
	}
	q.mu.Unlock()

	for _, ctrl := range ctrls {
		ctrl.Stop()
	}
	log.Info().Int("pollers", len(ctrls)).Msg("Import queue shut down")
}

func (q *Queue) entryForBatch(batchID string) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	entryID, ok := q.byBatch[batchID]
	return entryID, ok
}

func (q *Queue) failEntry(entryID, detail string) {
	q.updateEntry(entryID, func(e *model.QueueEntry) {
		e.Status = model.EntryError
		e.Error = detail
	})
}

func (q *Queue) updateEntry(entryID string, mutate func(*model.QueueEntry)) {
	q.mu.Lock()
	entry, ok := q.entries[entryID]
	if !ok {
		q.mu.Unlock()
		return
	}
	mutate(entry)
	entry.UpdatedAt = time.Now()
	snapshot := *entry
	q.mu.Unlock()

	q.notifyEntry(snapshot)
}

func (q *Queue) notifyEntry(entry model.QueueEntry) {
	if q.opts.Listener != nil {
		q.opts.Listener.EntryUpdated(entry)
	}
}
