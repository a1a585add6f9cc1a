package promotion

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"intake/internal/model"
	"intake/internal/store"
	"intake/pkg/batchsvc"
)

// ErrDeclined is returned when the zero-stock confirmation gate is
// refused. Nothing has been sent to the service at that point.
var ErrDeclined = errors.New("promotion declined by user")

// ZeroStockError asks the caller to explicitly acknowledge rows whose
// computed stock is zero or negative before promotion proceeds.
type ZeroStockError struct {
	Count int
}

func (e *ZeroStockError) Error() string {
	return fmt.Sprintf("%d rows have zero or negative stock, confirmation required", e.Count)
}

// ConfirmFunc answers the zero-stock gate interactively. Returning false
// aborts the promotion with ErrDeclined.
type ConfirmFunc func(zeroStockCount int) bool

// EventSink receives promotion completion notifications. Optional.
type EventSink interface {
	PromotionCompleted(ctx context.Context, batchID string, result model.PromotionResult)
}

// Recorder persists promotion outcomes for the local history. Optional.
type Recorder interface {
	RecordPromotion(ctx context.Context, batchID string, sourceType model.SourceType, result model.PromotionResult) error
}

// Request targets a whole batch or an explicit subset of its items.
type Request struct {
	BatchID    string
	ItemIDs    []string
	SourceType model.SourceType
	Options    model.PromotionOptions

	// AcknowledgeZeroStock bypasses the zero-stock gate for callers that
	// already obtained confirmation out of band.
	AcknowledgeZeroStock bool
}

// Coordinator converts validated batch rows into production records and
// interprets the aggregate result.
type Coordinator struct {
	client  batchsvc.API
	store   *store.Store
	confirm ConfirmFunc
	events  EventSink
	history Recorder
}

func NewCoordinator(client batchsvc.API, st *store.Store, confirm ConfirmFunc, events EventSink, history Recorder) *Coordinator {
	return &Coordinator{
		client:  client,
		store:   st,
		confirm: confirm,
		events:  events,
		history: history,
	}
}

// Promote validates options client-side, runs the zero-stock gate for
// product rows, invokes the service and refreshes the affected batch.
// A partial result (some failed, some created) is returned without error.
func (c *Coordinator) Promote(ctx context.Context, req Request) (*model.PromotionResult, error) {
	if req.BatchID == "" && len(req.ItemIDs) == 0 {
		return nil, errors.New("promotion requires a batch id or item ids")
	}

	if err := validateOptions(req.SourceType, req.Options); err != nil {
		return nil, err
	}

	if req.SourceType == model.SourceProducts {
		if err := c.zeroStockGate(req); err != nil {
			return nil, err
		}
	}

	result, err := c.client.PromoteBatch(ctx, batchsvc.PromoteRequest{
		BatchID: req.BatchID,
		ItemIDs: req.ItemIDs,
		Options: req.Options,
	})
	if err != nil {
		return nil, fmt.Errorf("promote batch %s: %w", req.BatchID, err)
	}

	logResult(req.BatchID, *result)

	// Item statuses changed server-side; pull the batch and its items back
	// into the store so every observer sees the post-promotion state.
	c.refresh(ctx, req.BatchID)

	if c.events != nil {
		c.events.PromotionCompleted(ctx, req.BatchID, *result)
	}
	if c.history != nil {
		if err := c.history.RecordPromotion(ctx, req.BatchID, req.SourceType, *result); err != nil {
			log.Warn().Err(err).Str("batch_id", req.BatchID).Msg("Could not record promotion history")
		}
	}

	return result, nil
}

// validateOptions rejects inconsistent per-source-type options before any
// server call is made.
func validateOptions(sourceType model.SourceType, opts model.PromotionOptions) error {
	switch sourceType {
	case model.SourceInvoices, model.SourceExpenses, model.SourceReceipts:
		payment := opts.Payment
		if payment == nil {
			return fmt.Errorf("%s promotion requires payment options", sourceType)
		}
		if payment.Status == model.PaymentPaid {
			if payment.Method == "" {
				return fmt.Errorf("%s promotion with paid status requires a payment method", sourceType)
			}
			if payment.PaidAt == nil {
				return fmt.Errorf("%s promotion with paid status requires a paid-at date", sourceType)
			}
		}
	case model.SourceProducts:
		if opts.Products != nil && opts.Products.CreateWarehouse && opts.Products.Warehouse == "" {
			return errors.New("warehouse auto-creation requires a warehouse name")
		}
	}
	return nil
}

// zeroStockGate counts submitted product rows with computed stock <= 0 and
// demands explicit confirmation before proceeding. Declining aborts with
// zero side effects.
func (c *Coordinator) zeroStockGate(req Request) error {
	if req.AcknowledgeZeroStock {
		return nil
	}

	count := c.countZeroStock(req.BatchID, req.ItemIDs)
	if count == 0 {
		return nil
	}

	if c.confirm == nil {
		return &ZeroStockError{Count: count}
	}
	if !c.confirm(count) {
		log.Info().
			Str("batch_id", req.BatchID).
			Int("zero_stock", count).
			Msg("Promotion declined at zero-stock gate")
		return ErrDeclined
	}
	return nil
}

func (c *Coordinator) countZeroStock(batchID string, itemIDs []string) int {
	subset := make(map[string]bool, len(itemIDs))
	for _, id := range itemIDs {
		subset[id] = true
	}

	count := 0
	for _, item := range c.store.Items(batchID) {
		if len(subset) > 0 && !subset[item.ID] {
			continue
		}
		if item.Status != model.ItemOK {
			continue
		}
		raw, ok := item.Normalized["cantidad"]
		if !ok {
			continue
		}
		stock, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			continue
		}
		if stock <= 0 {
			count++
		}
	}
	return count
}

// refresh reloads the affected batch, its items and the batch list.
func (c *Coordinator) refresh(ctx context.Context, batchID string) {
	if batchID != "" {
		if items, err := c.client.ListItems(ctx, batchID, model.ItemFilter{}); err == nil {
			c.store.SetItems(batchID, items)
		} else {
			log.Warn().Err(err).Str("batch_id", batchID).Msg("Could not refresh items after promotion")
		}
		if batch, err := c.client.GetBatch(ctx, batchID); err == nil {
			c.store.UpsertBatch(*batch)
		}
	}
	if batches, err := c.client.ListBatches(ctx, model.BatchFilter{}); err == nil {
		for _, batch := range batches {
			c.store.UpsertBatch(batch)
		}
	}
}

// Summary renders a user-facing accounting line for a promotion result.
// Partial failures are reported as combined success/warning, never
// silently dropped.
func Summary(result model.PromotionResult) string {
	switch {
	case result.FullFailure():
		return fmt.Sprintf("promotion failed: 0 created, %d failed", result.Failed)
	case result.Partial():
		return fmt.Sprintf("promoted %d rows, %d skipped, %d failed", result.Created, result.Skipped, result.Failed)
	default:
		return fmt.Sprintf("promoted %d rows, %d skipped", result.Created, result.Skipped)
	}
}

func logResult(batchID string, result model.PromotionResult) {
	event := log.Info()
	if result.FullFailure() {
		event = log.Error()
	} else if result.Partial() {
		event = log.Warn()
	}
	event.
		Str("batch_id", batchID).
		Int("created", result.Created).
		Int("skipped", result.Skipped).
		Int("failed", result.Failed).
		Msg("Promotion completed")
}
