package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"intake/internal/cache"
	"intake/internal/database"
	"intake/internal/events"
	"intake/internal/mapping"
	"intake/internal/model"
	"intake/internal/orchestrator"
	"intake/internal/promotion"
	"intake/internal/store"
	"intake/pkg/batchsvc"
)

const mappingsCacheKey = "saved_mappings"
const mappingsCacheTTL = 5 * time.Minute

// ImportController is the orchestration context handed to the API
// surface: the queue, the mapping sessions, the promotion coordinator and
// the recovery actions, built explicitly and torn down explicitly.
type ImportController struct {
	client   batchsvc.API
	store    *store.Store
	queue    *orchestrator.Queue
	resolver *mapping.Resolver
	promoter *promotion.Coordinator
	cache    cache.Cache
	events   *events.Publisher
	history  database.Database

	// baseCtx outlives any single HTTP request: enqueued files keep
	// staging, registering and polling after the upload response is sent.
	baseCtx    context.Context
	cancelBase context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*mapping.Session
	detached map[string]*orchestrator.Controller
	stuck    map[string]bool
}

// ControllerDeps carries the collaborators; cache, events and history are
// optional and may be nil.
type ControllerDeps struct {
	Client   batchsvc.API
	Store    *store.Store
	Resolver *mapping.Resolver
	Cache    cache.Cache
	Events   *events.Publisher
	History  database.Database

	PollInterval time.Duration
	StuckAfter   time.Duration
	Stager       orchestrator.Stager
}

// NewImportController wires the orchestration engine. The returned
// controller owns the queue; Shutdown cancels all live pollers.
func NewImportController(deps ControllerDeps) *ImportController {
	baseCtx, cancelBase := context.WithCancel(context.Background())
	c := &ImportController{
		baseCtx:    baseCtx,
		cancelBase: cancelBase,
		client:   deps.Client,
		store:    deps.Store,
		resolver: deps.Resolver,
		cache:    deps.Cache,
		events:   deps.Events,
		history:  deps.History,
		sessions: make(map[string]*mapping.Session),
		detached: make(map[string]*orchestrator.Controller),
		stuck:    make(map[string]bool),
	}

	c.queue = orchestrator.NewQueue(deps.Client, deps.Store, orchestrator.QueueOptions{
		PollInterval: deps.PollInterval,
		StuckAfter:   deps.StuckAfter,
		Stager:       deps.Stager,
		Listener:     c,
	})

	var sink promotion.EventSink
	if deps.Events != nil {
		sink = deps.Events
	}
	var recorder promotion.Recorder
	if deps.History != nil {
		recorder = deps.History
	}
	c.promoter = promotion.NewCoordinator(deps.Client, deps.Store, nil, sink, recorder)

	return c
}

// Shutdown tears down the queue and every detached poller.
func (c *ImportController) Shutdown() {
	c.cancelBase()
	c.queue.Shutdown()

	c.mu.Lock()
	ctrls := make([]*orchestrator.Controller, 0, len(c.detached))
	for _, ctrl := range c.detached {
		ctrls = append(ctrls, ctrl)
	}
	c.detached = make(map[string]*orchestrator.Controller)
	c.mu.Unlock()

	for _, ctrl := range ctrls {
		ctrl.Stop()
	}
}

// --- queue operations ---

// Enqueue submits files for import and returns the new entry ids. The
// background work runs on the controller's own context, not the caller's:
// an upload must keep processing after its HTTP request completes.
func (c *ImportController) Enqueue(files ...orchestrator.FileInput) []string {
	return c.queue.Add(c.baseCtx, files...)
}

// QueueEntries returns the current queue snapshot.
func (c *ImportController) QueueEntries() []model.QueueEntry {
	return c.queue.Entries()
}

// RemoveEntry dismisses one queue entry.
func (c *ImportController) RemoveEntry(entryID string) bool {
	return c.queue.Remove(entryID)
}

// ClearStuck dismisses all entries still in processing.
func (c *ImportController) ClearStuck() int {
	return c.queue.ClearStuck()
}

// ClearCompleted dismisses all terminal entries.
func (c *ImportController) ClearCompleted() int {
	return c.queue.ClearCompleted()
}

// EntryUpdated implements orchestrator.QueueListener: terminal entries are
// written to the audit history and terminal batches are announced.
func (c *ImportController) EntryUpdated(entry model.QueueEntry) {
	if entry.BatchID == "" {
		return
	}

	batch, _ := c.store.Batch(entry.BatchID)

	if c.history != nil && (entry.Status.Terminal() || entry.Status == model.EntryReady) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.history.RecordEntry(ctx, entry, batch.SourceType); err != nil {
			log.Warn().Err(err).Str("entry_id", entry.ID).Msg("Could not record history entry")
		}
	}

	if c.events != nil && batch.Status.Terminal() &&
		(entry.Status == model.EntryReady || entry.Status == model.EntryError) {
		c.events.BatchTerminal(context.Background(), entry.BatchID, batch.Status)
	}
}

// BatchStuck implements orchestrator.QueueListener. Advisory only: the
// batch keeps polling, the UI gets the recovery prompt.
func (c *ImportController) BatchStuck(batchID string) {
	c.mu.Lock()
	c.stuck[batchID] = true
	c.mu.Unlock()
}

// StuckBatches lists batches currently flagged as stuck.
func (c *ImportController) StuckBatches() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.stuck))
	for id := range c.stuck {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (c *ImportController) clearStuckFlag(batchID string) {
	c.mu.Lock()
	delete(c.stuck, batchID)
	c.mu.Unlock()
}

// --- batch operations ---

// Batch refreshes one batch and its items from the service into the store
// and returns them.
func (c *ImportController) Batch(ctx context.Context, batchID string) (model.Batch, []model.Item, error) {
	batch, err := c.client.GetBatch(ctx, batchID)
	if err != nil {
		return model.Batch{}, nil, err
	}
	c.store.UpsertBatch(*batch)

	items, err := c.client.ListItems(ctx, batchID, model.ItemFilter{})
	if err != nil {
		return *batch, nil, err
	}
	c.store.SetItems(batchID, items)

	refreshed, _ := c.store.Batch(batchID)
	return refreshed, items, nil
}

// ListBatches lists batches from the service and mirrors them into the
// store.
func (c *ImportController) ListBatches(ctx context.Context, filter model.BatchFilter) ([]model.Batch, error) {
	batches, err := c.client.ListBatches(ctx, filter)
	if err != nil {
		return nil, err
	}
	for _, batch := range batches {
		c.store.UpsertBatch(batch)
	}
	return batches, nil
}

// PatchItem updates one item field and refreshes the batch's items.
func (c *ImportController) PatchItem(ctx context.Context, batchID, itemID, field, value string) error {
	if err := c.client.PatchItem(ctx, batchID, itemID, field, value); err != nil {
		return err
	}
	items, err := c.client.ListItems(ctx, batchID, model.ItemFilter{})
	if err != nil {
		// The edit itself succeeded; the stale view heals on the next read.
		log.Warn().Err(err).Str("batch_id", batchID).Msg("Could not refresh items after item edit")
		return nil
	}
	c.store.SetItems(batchID, items)
	return nil
}

// ValidateBatch re-runs server-side validation and refreshes items.
func (c *ImportController) ValidateBatch(ctx context.Context, batchID string) error {
	if err := c.client.ValidateBatch(ctx, batchID); err != nil {
		return err
	}
	items, err := c.client.ListItems(ctx, batchID, model.ItemFilter{})
	if err != nil {
		log.Warn().Err(err).Str("batch_id", batchID).Msg("Could not refresh items after validation")
		return nil
	}
	c.store.SetItems(batchID, items)
	return nil
}

// controllerFor finds the lifecycle controller owning a batch, creating a
// detached one for batches that entered outside the queue (API-created).
func (c *ImportController) controllerFor(ctx context.Context, batchID string) (*orchestrator.Controller, error) {
	if ctrl, ok := c.queue.Controller(batchID); ok {
		return ctrl, nil
	}

	c.mu.Lock()
	if ctrl, ok := c.detached[batchID]; ok {
		c.mu.Unlock()
		return ctrl, nil
	}
	c.mu.Unlock()

	batch, ok := c.store.Batch(batchID)
	if !ok {
		fetched, err := c.client.GetBatch(ctx, batchID)
		if err != nil {
			return nil, fmt.Errorf("unknown batch %s: %w", batchID, err)
		}
		c.store.UpsertBatch(*fetched)
		batch = *fetched
	}

	ctrl := orchestrator.NewController(c.client, c.store, batch, orchestrator.ControllerOptions{
		OnStuck: c.BatchStuck,
	})

	c.mu.Lock()
	c.detached[batchID] = ctrl
	c.mu.Unlock()
	return ctrl, nil
}

// RetryBatch re-issues the start-processing command.
func (c *ImportController) RetryBatch(ctx context.Context, batchID string) error {
	ctrl, err := c.controllerFor(ctx, batchID)
	if err != nil {
		return err
	}
	c.clearStuckFlag(batchID)
	return ctrl.Retry(ctx)
}

// ResetBatch clears items, forces PENDING and relaunches processing.
func (c *ImportController) ResetBatch(ctx context.Context, batchID string) error {
	ctrl, err := c.controllerFor(ctx, batchID)
	if err != nil {
		return err
	}
	c.clearStuckFlag(batchID)
	return ctrl.ResetAndRelaunch(ctx)
}

// CancelBatch stops polling immediately and requests cooperative
// server-side cancellation.
func (c *ImportController) CancelBatch(ctx context.Context, batchID string) error {
	ctrl, err := c.controllerFor(ctx, batchID)
	if err != nil {
		return err
	}
	c.clearStuckFlag(batchID)
	return ctrl.Cancel(ctx)
}

// ForceDeleteBatch permanently removes the batch and its items.
func (c *ImportController) ForceDeleteBatch(ctx context.Context, batchID string) error {
	ctrl, err := c.controllerFor(ctx, batchID)
	if err != nil {
		return err
	}
	c.clearStuckFlag(batchID)
	if err := ctrl.ForceDelete(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.detached, batchID)
	delete(c.sessions, batchID)
	c.mu.Unlock()
	return nil
}

// BatchETA returns the remaining-time estimate for a polling batch.
func (c *ImportController) BatchETA(ctx context.Context, batchID string) (time.Duration, bool) {
	if ctrl, ok := c.queue.Controller(batchID); ok {
		return ctrl.ETA(), true
	}
	c.mu.Lock()
	ctrl, ok := c.detached[batchID]
	c.mu.Unlock()
	if ok {
		return ctrl.ETA(), true
	}
	return 0, false
}

// --- mapping operations ---

// MappingSessionState is the UI-facing view of a mapping session.
type MappingSessionState struct {
	Mapping           map[string]string   `json:"mapping"`
	AutoAcceptPending bool                `json:"auto_accept_pending"`
	Preview           []map[string]string `json:"preview"`
}

// StartMappingSession suggests a mapping for the batch's detected columns
// and opens an interactive session. High-confidence suggestions schedule
// auto-confirmation after the configured delay.
func (c *ImportController) StartMappingSession(ctx context.Context, batchID string) (*MappingSessionState, error) {
	items := c.store.Items(batchID)
	if len(items) == 0 {
		var err error
		items, err = c.client.ListItems(ctx, batchID, model.ItemFilter{})
		if err != nil {
			return nil, err
		}
		c.store.SetItems(batchID, items)
	}
	if len(items) == 0 {
		return nil, errors.New("batch has no items to map")
	}

	columns := make([]string, 0, len(items[0].Raw))
	for column := range items[0].Raw {
		columns = append(columns, column)
	}
	sort.Strings(columns)

	session := c.resolver.NewSession(columns, func(confirmed map[string]string) error {
		return c.commitMapping(batchID, confirmed)
	})

	c.mu.Lock()
	c.sessions[batchID] = session
	c.mu.Unlock()

	return c.sessionState(batchID, session), nil
}

func (c *ImportController) sessionState(batchID string, session *mapping.Session) *MappingSessionState {
	working := session.Mapping()
	samples := rawSamples(c.store.Items(batchID))
	return &MappingSessionState{
		Mapping:           working,
		AutoAcceptPending: session.AutoAcceptPending(),
		Preview:           c.resolver.Preview(working, samples),
	}
}

func rawSamples(items []model.Item) []map[string]string {
	samples := make([]map[string]string, 0, len(items))
	for _, item := range items {
		samples = append(samples, item.Raw)
	}
	return samples
}

func (c *ImportController) session(batchID string) (*mapping.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	session, ok := c.sessions[batchID]
	if !ok {
		return nil, fmt.Errorf("no mapping session open for batch %s", batchID)
	}
	return session, nil
}

// AssignMapping maps one source column to a target field. Cancels any
// pending auto-confirm.
func (c *ImportController) AssignMapping(batchID, column, field string) (*MappingSessionState, error) {
	session, err := c.session(batchID)
	if err != nil {
		return nil, err
	}
	if err := session.Assign(column, field); err != nil {
		return nil, err
	}
	return c.sessionState(batchID, session), nil
}

// CancelAutoAccept stops a pending auto-confirmation.
func (c *ImportController) CancelAutoAccept(batchID string) error {
	session, err := c.session(batchID)
	if err != nil {
		return err
	}
	session.CancelAutoAccept()
	return nil
}

// ConfirmMapping commits the working mapping for the batch.
func (c *ImportController) ConfirmMapping(batchID string) error {
	session, err := c.session(batchID)
	if err != nil {
		return err
	}
	return session.Confirm()
}

// commitMapping persists the confirmed mapping and attaches it to the
// batch. Runs for both manual and auto confirmation.
func (c *ImportController) commitMapping(batchID string, confirmed map[string]string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	saved, err := c.client.SaveMapping(ctx, "batch-"+batchID, confirmed)
	if err != nil {
		return fmt.Errorf("save mapping: %w", err)
	}
	if err := c.client.SetBatchMapping(ctx, batchID, saved.ID); err != nil {
		return fmt.Errorf("attach mapping: %w", err)
	}

	c.invalidateMappingsCache(ctx)

	if batch, ok := c.store.Batch(batchID); ok {
		batch.MappingID = saved.ID
		c.store.UpsertBatch(batch)
	}

	log.Info().
		Str("batch_id", batchID).
		Str("mapping_id", saved.ID).
		Msg("Mapping confirmed")
	return nil
}

// ApplySavedMapping replaces the session's working mapping with a saved
// one and attaches it to the batch. The service increments the mapping's
// use count.
func (c *ImportController) ApplySavedMapping(ctx context.Context, batchID, mappingID string) (*MappingSessionState, error) {
	session, err := c.session(batchID)
	if err != nil {
		return nil, err
	}

	mappings, err := c.ListMappings(ctx)
	if err != nil {
		return nil, err
	}
	var saved *model.SavedMapping
	for i := range mappings {
		if mappings[i].ID == mappingID {
			saved = &mappings[i]
			break
		}
	}
	if saved == nil {
		return nil, fmt.Errorf("saved mapping %s not found", mappingID)
	}

	if err := session.ApplySaved(*saved); err != nil {
		return nil, err
	}
	if err := c.client.SetBatchMapping(ctx, batchID, mappingID); err != nil {
		return nil, err
	}
	c.invalidateMappingsCache(ctx)

	if batch, ok := c.store.Batch(batchID); ok {
		batch.MappingID = mappingID
		c.store.UpsertBatch(batch)
	}

	return c.sessionState(batchID, session), nil
}

// ListMappings lists saved mappings, served from cache when fresh.
func (c *ImportController) ListMappings(ctx context.Context) ([]model.SavedMapping, error) {
	if c.cache != nil {
		if data, err := c.cache.Get(ctx, mappingsCacheKey); err == nil {
			var mappings []model.SavedMapping
			if err := json.Unmarshal(data, &mappings); err == nil {
				return mappings, nil
			}
		}
	}

	mappings, err := c.client.ListMappings(ctx)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if data, err := json.Marshal(mappings); err == nil {
			if err := c.cache.Set(ctx, mappingsCacheKey, data, mappingsCacheTTL); err != nil {
				log.Debug().Err(err).Msg("Could not cache saved mappings")
			}
		}
	}
	return mappings, nil
}

// SaveMapping stores a named mapping for reuse.
func (c *ImportController) SaveMapping(ctx context.Context, name string, m map[string]string) (*model.SavedMapping, error) {
	saved, err := c.client.SaveMapping(ctx, name, m)
	if err != nil {
		return nil, err
	}
	c.invalidateMappingsCache(ctx)
	return saved, nil
}

func (c *ImportController) invalidateMappingsCache(ctx context.Context) {
	if c.cache != nil {
		if err := c.cache.Delete(ctx, mappingsCacheKey); err != nil && err != cache.ErrCacheMiss {
			log.Debug().Err(err).Msg("Could not invalidate mappings cache")
		}
	}
}

// --- promotion ---

// Promote runs the promotion coordinator and keeps the owning queue entry
// in step (saving → saved / error).
func (c *ImportController) Promote(ctx context.Context, req promotion.Request) (*model.PromotionResult, string, error) {
	if req.SourceType == "" {
		if batch, ok := c.store.Batch(req.BatchID); ok {
			req.SourceType = batch.SourceType
		}
	}

	c.queue.MarkSaving(req.BatchID)

	result, err := c.promoter.Promote(ctx, req)
	if err != nil {
		var zeroStock *promotion.ZeroStockError
		if errors.Is(err, promotion.ErrDeclined) || errors.As(err, &zeroStock) {
			// Nothing was sent; the entry goes back to awaiting review.
			c.queue.MarkPromotionAborted(req.BatchID)
		} else {
			c.queue.MarkSaveFailed(req.BatchID, err.Error())
		}
		return nil, "", err
	}

	summary := promotion.Summary(*result)
	if result.FullFailure() {
		c.queue.MarkSaveFailed(req.BatchID, summary)
	} else {
		c.queue.MarkSaved(req.BatchID, summary)
	}
	return result, summary, nil
}

// --- history / health ---

// History lists recent import audit records.
func (c *ImportController) History(ctx context.Context, limit int) ([]database.ImportRecord, error) {
	if c.history == nil {
		return nil, errors.New("import history is not configured")
	}
	return c.history.ListHistory(ctx, limit)
}
