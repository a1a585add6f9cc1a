package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"intake/internal/model"
	"intake/internal/store"
	"intake/pkg/batchsvc"
)

const (
	// DefaultPollInterval is the fixed status polling cadence.
	DefaultPollInterval = 3 * time.Second

	// DefaultStuckAfter is how long progress may sit unchanged before the
	// batch is flagged as stuck.
	DefaultStuckAfter = 60 * time.Second
)

// ControllerOptions tune a lifecycle controller. Zero values fall back to
// the defaults above.
type ControllerOptions struct {
	PollInterval time.Duration
	StuckAfter   time.Duration

	// OnStuck fires once when a batch exceeds the stuck threshold. It is
	// advisory: the batch keeps its status and polling continues.
	OnStuck func(batchID string)

	// OnTerminal fires once polling observes a terminal status.
	OnTerminal func(batchID string, status model.BatchStatus)
}

// Controller owns the full lifecycle of exactly one batch: the
// start-processing trigger, status polling, ETA estimation, stuck
// detection and the operator recovery actions.
type Controller struct {
	client  batchsvc.API
	store   *store.Store
	batchID string
	hasFile bool

	pollInterval time.Duration
	stuckAfter   time.Duration
	onStuck      func(string)
	onTerminal   func(string, model.BatchStatus)

	seq uint64 // issued per status request, atomically

	mu          sync.Mutex
	parent      context.Context
	triggered   bool
	polling     bool
	pollCancel  context.CancelFunc
	pollDone    chan struct{}
	samples     []model.ProgressSample
	stuckSince  time.Time
	stuckFired  bool
	eta         time.Duration
	lastApplied uint64
}

// NewController builds a controller for one batch. The batch must already
// be registered in the store.
func NewController(client batchsvc.API, st *store.Store, batch model.Batch, opts ControllerOptions) *Controller {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.StuckAfter <= 0 {
		opts.StuckAfter = DefaultStuckAfter
	}
	return &Controller{
		client:       client,
		store:        st,
		batchID:      batch.ID,
		hasFile:      batch.HasFile,
		pollInterval: opts.PollInterval,
		stuckAfter:   opts.StuckAfter,
		onStuck:      opts.OnStuck,
		onTerminal:   opts.OnTerminal,
	}
}

// BatchID returns the id of the batch this controller owns.
func (c *Controller) BatchID() string {
	return c.batchID
}

// Start triggers processing (for file-backed batches) and begins polling
// unless the batch is already terminal. Safe to call more than once.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	c.parent = ctx
	c.mu.Unlock()

	if err := c.triggerProcessing(ctx); err != nil {
		return err
	}

	if batch, ok := c.store.Batch(c.batchID); ok && batch.Status.Terminal() {
		return nil
	}

	c.startPolling(ctx)
	return nil
}

// triggerProcessing issues the start-processing command at most once per
// batch id, even when raced from concurrent callers. A NotApplicable
// response (fileless batch) is treated as a no-op.
func (c *Controller) triggerProcessing(ctx context.Context) error {
	if !c.hasFile {
		return nil
	}

	c.mu.Lock()
	if c.triggered {
		c.mu.Unlock()
		return nil
	}
	c.triggered = true
	c.mu.Unlock()

	err := c.client.StartProcessing(ctx, c.batchID)
	if err == nil {
		log.Debug().Str("batch_id", c.batchID).Msg("Processing triggered")
		return nil
	}
	if errors.Is(err, batchsvc.ErrNotApplicable) {
		// No file attached after all; nothing to process.
		log.Debug().Str("batch_id", c.batchID).Msg("Processing trigger not applicable")
		return nil
	}

	// Allow a later Start or Retry to attempt the trigger again.
	c.mu.Lock()
	c.triggered = false
	c.mu.Unlock()
	return err
}

// startPolling launches the polling loop if it is not already running.
func (c *Controller) startPolling(ctx context.Context) {
	c.mu.Lock()
	if c.polling {
		c.mu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.polling = true
	c.pollCancel = cancel
	c.pollDone = done
	c.mu.Unlock()

	go c.pollLoop(pollCtx, done)
}

func (c *Controller) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		c.mu.Lock()
		c.polling = false
		c.mu.Unlock()
	}()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if terminal := c.pollOnce(ctx); terminal {
				return
			}
		}
	}
}

// pollOnce issues one status request and applies the sample. Returns true
// when a terminal status was observed and polling must stop.
func (c *Controller) pollOnce(ctx context.Context) bool {
	seq := atomic.AddUint64(&c.seq, 1)

	progress, err := c.client.GetBatchStatus(ctx, c.batchID)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		if !batchsvc.IsTransient(err) {
			// Permanent rejection (gone, unauthorized, malformed); more
			// polling cannot change the answer.
			log.Warn().Err(err).Str("batch_id", c.batchID).Msg("Permanent polling error, stopping poller")
			return true
		}
		// Transient errors are retried on the next tick, never surfaced.
		log.Debug().Err(err).Str("batch_id", c.batchID).Msg("Polling error, will retry")
		return false
	}

	return c.applySample(seq, progress)
}

// applySample consumes one status sample in arrival order. Samples from
// requests older than the latest applied one are dropped so a slow
// response can never overwrite fresher state.
func (c *Controller) applySample(seq uint64, progress *model.BatchProgress) bool {
	c.mu.Lock()

	if seq <= c.lastApplied {
		c.mu.Unlock()
		return false
	}
	c.lastApplied = seq

	sample := model.ProgressSample{Progress: progress.Progress, ServerTime: progress.ServerTime}
	c.samples = append(c.samples, sample)
	if len(c.samples) > 2 {
		c.samples = c.samples[len(c.samples)-2:]
	}

	c.updateETA()

	fireStuck := false
	if len(c.samples) == 2 {
		prev, cur := c.samples[0], c.samples[1]
		if cur.Progress == prev.Progress {
			if c.stuckSince.IsZero() {
				c.stuckSince = cur.ServerTime
			} else if cur.ServerTime.Sub(c.stuckSince) > c.stuckAfter && !c.stuckFired {
				c.stuckFired = true
				fireStuck = true
			}
		} else {
			c.stuckSince = time.Time{}
			c.stuckFired = false
		}
	}

	status := progress.Status
	c.mu.Unlock()

	c.store.SetStatus(c.batchID, status)

	if fireStuck && c.onStuck != nil {
		log.Warn().
			Str("batch_id", c.batchID).
			Float64("progress", progress.Progress).
			Msg("Batch appears stuck, surfacing recovery actions")
		c.onStuck(c.batchID)
	}

	if status.Terminal() {
		log.Info().
			Str("batch_id", c.batchID).
			Str("status", string(status)).
			Msg("Batch reached terminal status, polling stopped")
		if c.onTerminal != nil {
			c.onTerminal(c.batchID, status)
		}
		return true
	}
	return false
}

// updateETA recomputes the remaining-time estimate from the two retained
// samples. Called with the lock held.
func (c *Controller) updateETA() {
	c.eta = 0
	if len(c.samples) != 2 {
		return
	}
	prev, cur := c.samples[0], c.samples[1]
	dp := cur.Progress - prev.Progress
	dt := cur.ServerTime.Sub(prev.ServerTime)
	if dp <= 0 || dt <= 0 {
		return
	}
	eta := time.Duration(float64(1-cur.Progress) * (float64(dt) / dp))
	if eta < time.Second {
		eta = time.Second
	}
	c.eta = eta
}

// ETA returns the current remaining-time estimate, or zero when no
// estimate is available.
func (c *Controller) ETA() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eta
}

// Stuck reports whether the batch has exceeded the stuck threshold.
func (c *Controller) Stuck() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stuckFired
}

// RefreshNow issues an immediate out-of-band status poll. The sequence
// guard keeps it from regressing state if it races the periodic loop.
func (c *Controller) RefreshNow(ctx context.Context) {
	c.pollOnce(ctx)
}

// Retry re-issues the start-processing command for the same batch id.
// Only valid for file-backed batches.
func (c *Controller) Retry(ctx context.Context) error {
	if !c.hasFile {
		return errors.New("retry requires a batch with an attached file")
	}

	c.mu.Lock()
	c.triggered = false
	c.resetProgressLocked()
	parent := c.parent
	c.mu.Unlock()

	if err := c.triggerProcessing(ctx); err != nil {
		return err
	}
	if parent == nil {
		parent = ctx
	}
	c.startPolling(parent)
	return nil
}

// ResetAndRelaunch clears all items, forces the batch back to PENDING and
// re-triggers processing.
func (c *Controller) ResetAndRelaunch(ctx context.Context) error {
	c.stopPolling()

	err := c.client.ResetBatch(ctx, c.batchID, batchsvc.ResetOptions{
		ClearItems: true,
		NewStatus:  model.BatchPending,
	})
	if err != nil {
		return err
	}

	c.store.Reset(c.batchID)

	c.mu.Lock()
	c.triggered = false
	c.resetProgressLocked()
	parent := c.parent
	c.mu.Unlock()

	if err := c.triggerProcessing(ctx); err != nil {
		return err
	}
	if parent == nil {
		parent = ctx
	}
	c.startPolling(parent)
	return nil
}

// Cancel stops polling immediately and requests cooperative server-side
// cancellation. The poller is down before the server answers, or doesn't.
func (c *Controller) Cancel(ctx context.Context) error {
	c.stopPolling()
	return c.client.CancelBatch(ctx, c.batchID)
}

// ForceDelete permanently removes the batch and its items. Valid from any
// state.
func (c *Controller) ForceDelete(ctx context.Context) error {
	c.stopPolling()
	if err := c.client.DeleteBatch(ctx, c.batchID); err != nil {
		return err
	}
	c.store.DeleteBatch(c.batchID)
	return nil
}

// Stop tears the controller down, deterministically cancelling its poll
// loop and waiting for it to exit.
func (c *Controller) Stop() {
	c.stopPolling()
}

func (c *Controller) stopPolling() {
	c.mu.Lock()
	cancel := c.pollCancel
	done := c.pollDone
	c.pollCancel = nil
	c.pollDone = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// resetProgressLocked clears the sample window and stuck markers. Called
// with the lock held.
func (c *Controller) resetProgressLocked() {
	c.samples = nil
	c.stuckSince = time.Time{}
	c.stuckFired = false
	c.eta = 0
}
