package promotion

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"intake/internal/model"
	"intake/internal/store"
	"intake/pkg/batchsvc"
	"intake/pkg/batchsvc/batchsvctest"
)

func storeWithItems(batchID string, items ...model.Item) *store.Store {
	st := store.New()
	st.UpsertBatch(model.Batch{ID: batchID, Status: model.BatchValidated, SourceType: model.SourceProducts})
	st.SetItems(batchID, items)
	return st
}

func productItem(id, stock string) model.Item {
	return model.Item{
		ID:         id,
		Status:     model.ItemOK,
		Normalized: map[string]string{"name": "item " + id, "cantidad": stock},
	}
}

func TestPromotePaidStatusRequiresMethodAndDate(t *testing.T) {
	paidAt := time.Now()

	tests := []struct {
		name    string
		payment *model.PaymentOptions
		wantErr string
	}{
		{
			name:    "missing payment options entirely",
			payment: nil,
			wantErr: "requires payment options",
		},
		{
			name:    "paid without method",
			payment: &model.PaymentOptions{Status: model.PaymentPaid, PaidAt: &paidAt},
			wantErr: "requires a payment method",
		},
		{
			name:    "paid without date",
			payment: &model.PaymentOptions{Status: model.PaymentPaid, Method: "card"},
			wantErr: "requires a paid-at date",
		},
		{
			name:    "pending needs no method",
			payment: &model.PaymentOptions{Status: model.PaymentPending},
		},
		{
			name:    "paid fully specified",
			payment: &model.PaymentOptions{Status: model.PaymentPaid, Method: "card", PaidAt: &paidAt},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := batchsvctest.New()
			st := store.New()
			st.UpsertBatch(model.Batch{ID: "b1", Status: model.BatchValidated, SourceType: model.SourceInvoices})
			c := NewCoordinator(fake, st, nil, nil, nil)

			_, err := c.Promote(context.Background(), Request{
				BatchID:    "b1",
				SourceType: model.SourceInvoices,
				Options:    model.PromotionOptions{Payment: tt.payment},
			})

			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Promote() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Promote() error = %v, want %q", err, tt.wantErr)
			}
			if got := fake.Calls("PromoteBatch"); got != 0 {
				t.Errorf("PromoteBatch calls = %d, validation must reject before any server call", got)
			}
		})
	}
}

func TestPromoteWarehouseCreationRequiresName(t *testing.T) {
	fake := batchsvctest.New()
	st := storeWithItems("b1", productItem("i1", "5"))
	c := NewCoordinator(fake, st, nil, nil, nil)

	_, err := c.Promote(context.Background(), Request{
		BatchID:    "b1",
		SourceType: model.SourceProducts,
		Options: model.PromotionOptions{
			Products: &model.ProductOptions{CreateWarehouse: true},
		},
	})
	if err == nil {
		t.Fatal("warehouse auto-creation without a name should be rejected")
	}
	if got := fake.Calls("PromoteBatch"); got != 0 {
		t.Errorf("PromoteBatch calls = %d, want 0", got)
	}
}

func TestZeroStockGateBlocksWithoutConfirmer(t *testing.T) {
	fake := batchsvctest.New()
	st := storeWithItems("b1",
		productItem("i1", "0"),
		productItem("i2", "-3"),
		productItem("i3", "7"),
	)
	c := NewCoordinator(fake, st, nil, nil, nil)

	_, err := c.Promote(context.Background(), Request{BatchID: "b1", SourceType: model.SourceProducts})

	var zs *ZeroStockError
	if !errors.As(err, &zs) {
		t.Fatalf("Promote() error = %v, want ZeroStockError", err)
	}
	if zs.Count != 2 {
		t.Errorf("zero-stock count = %d, want 2", zs.Count)
	}
	if got := fake.Calls("PromoteBatch"); got != 0 {
		t.Errorf("PromoteBatch calls = %d, want 0 before acknowledgement", got)
	}
}

func TestZeroStockGateDeclinedAbortsCleanly(t *testing.T) {
	fake := batchsvctest.New()
	st := storeWithItems("b1", productItem("i1", "0"), productItem("i2", "4"))

	asked := 0
	decline := func(count int) bool {
		asked = count
		return false
	}
	c := NewCoordinator(fake, st, decline, nil, nil)

	_, err := c.Promote(context.Background(), Request{BatchID: "b1", SourceType: model.SourceProducts})
	if !errors.Is(err, ErrDeclined) {
		t.Fatalf("Promote() error = %v, want ErrDeclined", err)
	}
	if asked != 1 {
		t.Errorf("confirmer asked about %d rows, want 1", asked)
	}

	// Declining must leave no trace: no server call, no item changes.
	if got := fake.Calls("PromoteBatch"); got != 0 {
		t.Errorf("PromoteBatch calls = %d, want 0 after decline", got)
	}
	if got := fake.Calls("ListItems"); got != 0 {
		t.Errorf("ListItems calls = %d, want 0 after decline", got)
	}
	items := st.Items("b1")
	for _, item := range items {
		if item.Status != model.ItemOK {
			t.Errorf("item %s status changed to %s after decline", item.ID, item.Status)
		}
	}
}

func TestZeroStockGateAcceptedProceeds(t *testing.T) {
	fake := batchsvctest.New()
	fake.PromoteBatchFn = func(ctx context.Context, req batchsvc.PromoteRequest) (*model.PromotionResult, error) {
		return &model.PromotionResult{Created: 2}, nil
	}
	st := storeWithItems("b1", productItem("i1", "0"), productItem("i2", "4"))
	c := NewCoordinator(fake, st, func(int) bool { return true }, nil, nil)

	result, err := c.Promote(context.Background(), Request{BatchID: "b1", SourceType: model.SourceProducts})
	if err != nil {
		t.Fatalf("Promote() error = %v", err)
	}
	if result.Created != 2 {
		t.Errorf("created = %d, want 2", result.Created)
	}
}

func TestZeroStockGateAcknowledgedSkipsConfirmer(t *testing.T) {
	fake := batchsvctest.New()
	st := storeWithItems("b1", productItem("i1", "0"))
	c := NewCoordinator(fake, st, func(int) bool {
		t.Error("confirmer called despite acknowledgement")
		return false
	}, nil, nil)

	_, err := c.Promote(context.Background(), Request{
		BatchID:              "b1",
		SourceType:           model.SourceProducts,
		AcknowledgeZeroStock: true,
	})
	if err != nil {
		t.Fatalf("Promote() error = %v", err)
	}
}

func TestZeroStockCountRespectsSubsetAndStatus(t *testing.T) {
	fake := batchsvctest.New()
	broken := productItem("i3", "0")
	broken.Status = model.ItemErrorValidation
	st := storeWithItems("b1",
		productItem("i1", "0"),
		productItem("i2", "0"),
		broken,
		productItem("i4", "not-a-number"),
	)
	c := NewCoordinator(fake, st, nil, nil, nil)

	// Only i1 is in the submitted subset; i2 is excluded, i3 is not OK and
	// i4 has unparseable stock.
	_, err := c.Promote(context.Background(), Request{
		BatchID:    "b1",
		ItemIDs:    []string{"i1", "i3", "i4"},
		SourceType: model.SourceProducts,
	})

	var zs *ZeroStockError
	if !errors.As(err, &zs) {
		t.Fatalf("Promote() error = %v, want ZeroStockError", err)
	}
	if zs.Count != 1 {
		t.Errorf("zero-stock count = %d, want 1", zs.Count)
	}
}

func TestPromotePartialResultIsNotAnError(t *testing.T) {
	fake := batchsvctest.New()
	fake.PromoteBatchFn = func(ctx context.Context, req batchsvc.PromoteRequest) (*model.PromotionResult, error) {
		return &model.PromotionResult{Created: 7, Skipped: 1, Failed: 2}, nil
	}
	st := storeWithItems("b1", productItem("i1", "5"))
	c := NewCoordinator(fake, st, nil, nil, nil)

	result, err := c.Promote(context.Background(), Request{BatchID: "b1", SourceType: model.SourceProducts})
	if err != nil {
		t.Fatalf("Promote() error = %v, partial results must not error", err)
	}
	if !result.Partial() {
		t.Error("result should report as partial")
	}
	if result.FullFailure() {
		t.Error("partial result misreported as full failure")
	}
}

func TestPromoteRefreshesStore(t *testing.T) {
	fake := batchsvctest.New()
	fake.PromoteBatchFn = func(ctx context.Context, req batchsvc.PromoteRequest) (*model.PromotionResult, error) {
		return &model.PromotionResult{Created: 1}, nil
	}
	fake.ListItemsFn = func(ctx context.Context, batchID string, filter model.ItemFilter) ([]model.Item, error) {
		return []model.Item{{ID: "i1", Status: model.ItemPromoted}}, nil
	}
	fake.GetBatchFn = func(ctx context.Context, batchID string) (*model.Batch, error) {
		return &model.Batch{ID: batchID, Status: model.BatchPromoted}, nil
	}
	st := storeWithItems("b1", productItem("i1", "5"))
	c := NewCoordinator(fake, st, nil, nil, nil)

	if _, err := c.Promote(context.Background(), Request{BatchID: "b1", SourceType: model.SourceProducts}); err != nil {
		t.Fatalf("Promote() error = %v", err)
	}

	items := st.Items("b1")
	if len(items) != 1 || items[0].Status != model.ItemPromoted {
		t.Errorf("items not refreshed after promotion: %+v", items)
	}
	if batch, _ := st.Batch("b1"); batch.Status != model.BatchPromoted {
		t.Errorf("batch status = %s, want %s", batch.Status, model.BatchPromoted)
	}
}

type sinkSpy struct {
	batchID string
	result  model.PromotionResult
}

func (s *sinkSpy) PromotionCompleted(ctx context.Context, batchID string, result model.PromotionResult) {
	s.batchID = batchID
	s.result = result
}

type recorderSpy struct {
	batchID string
	err     error
}

func (r *recorderSpy) RecordPromotion(ctx context.Context, batchID string, sourceType model.SourceType, result model.PromotionResult) error {
	r.batchID = batchID
	return r.err
}

func TestPromoteNotifiesSinkAndRecorder(t *testing.T) {
	fake := batchsvctest.New()
	fake.PromoteBatchFn = func(ctx context.Context, req batchsvc.PromoteRequest) (*model.PromotionResult, error) {
		return &model.PromotionResult{Created: 3}, nil
	}
	st := storeWithItems("b1", productItem("i1", "5"))
	sink := &sinkSpy{}
	rec := &recorderSpy{}
	c := NewCoordinator(fake, st, nil, sink, rec)

	if _, err := c.Promote(context.Background(), Request{BatchID: "b1", SourceType: model.SourceProducts}); err != nil {
		t.Fatalf("Promote() error = %v", err)
	}
	if sink.batchID != "b1" || sink.result.Created != 3 {
		t.Errorf("sink got %s/%+v", sink.batchID, sink.result)
	}
	if rec.batchID != "b1" {
		t.Errorf("recorder got %s", rec.batchID)
	}
}

func TestPromoteHistoryFailureIsNonFatal(t *testing.T) {
	fake := batchsvctest.New()
	st := storeWithItems("b1", productItem("i1", "5"))
	rec := &recorderSpy{err: errors.New("mongo down")}
	c := NewCoordinator(fake, st, nil, nil, rec)

	if _, err := c.Promote(context.Background(), Request{BatchID: "b1", SourceType: model.SourceProducts}); err != nil {
		t.Errorf("Promote() error = %v, history failures must not fail the promotion", err)
	}
}

func TestPromoteRequiresTarget(t *testing.T) {
	fake := batchsvctest.New()
	c := NewCoordinator(fake, store.New(), nil, nil, nil)

	if _, err := c.Promote(context.Background(), Request{}); err == nil {
		t.Error("Promote() without batch or items should fail")
	}
}

func TestSummary(t *testing.T) {
	tests := []struct {
		name   string
		result model.PromotionResult
		want   string
	}{
		{
			name:   "clean success",
			result: model.PromotionResult{Created: 10, Skipped: 2},
			want:   "promoted 10 rows, 2 skipped",
		},
		{
			name:   "partial carries the failure count",
			result: model.PromotionResult{Created: 8, Skipped: 1, Failed: 3},
			want:   "promoted 8 rows, 1 skipped, 3 failed",
		},
		{
			name:   "full failure",
			result: model.PromotionResult{Failed: 5},
			want:   "promotion failed: 0 created, 5 failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Summary(tt.result); got != tt.want {
				t.Errorf("Summary() = %q, want %q", got, tt.want)
			}
		})
	}
}
