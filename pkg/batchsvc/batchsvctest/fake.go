// Package batchsvctest provides a configurable in-memory fake of the
// batch service API for tests.
package batchsvctest

import (
	"context"
	"sync"

	"intake/internal/model"
	"intake/pkg/batchsvc"
)

// Fake implements batchsvc.API. Behavior is overridden per method via the
// *Fn fields; unset methods succeed with zero values. Call counts are
// tracked for every method.
type Fake struct {
	mu    sync.Mutex
	calls map[string]int

	CreateBatchFn     func(ctx context.Context, req batchsvc.CreateBatchRequest) (*model.Batch, error)
	StartProcessingFn func(ctx context.Context, batchID string) error
	GetBatchStatusFn  func(ctx context.Context, batchID string) (*model.BatchProgress, error)
	GetBatchFn        func(ctx context.Context, batchID string) (*model.Batch, error)
	ListBatchesFn     func(ctx context.Context, filter model.BatchFilter) ([]model.Batch, error)
	ListItemsFn       func(ctx context.Context, batchID string, filter model.ItemFilter) ([]model.Item, error)
	PatchItemFn       func(ctx context.Context, batchID, itemID, field, value string) error
	ValidateBatchFn   func(ctx context.Context, batchID string) error
	PromoteBatchFn    func(ctx context.Context, req batchsvc.PromoteRequest) (*model.PromotionResult, error)
	ResetBatchFn      func(ctx context.Context, batchID string, opts batchsvc.ResetOptions) error
	CancelBatchFn     func(ctx context.Context, batchID string) error
	DeleteBatchFn     func(ctx context.Context, batchID string) error
	SetBatchMappingFn func(ctx context.Context, batchID, mappingID string) error
	ListMappingsFn    func(ctx context.Context) ([]model.SavedMapping, error)
	SaveMappingFn     func(ctx context.Context, name string, mapping map[string]string) (*model.SavedMapping, error)
}

func New() *Fake {
	return &Fake{calls: make(map[string]int)}
}

func (f *Fake) record(method string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
}

// Calls returns how many times the named method was invoked.
func (f *Fake) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *Fake) CreateBatch(ctx context.Context, req batchsvc.CreateBatchRequest) (*model.Batch, error) {
	f.record("CreateBatch")
	if f.CreateBatchFn != nil {
		return f.CreateBatchFn(ctx, req)
	}
	return &model.Batch{ID: "batch-1", Status: model.BatchPending, SourceType: req.SourceType, HasFile: req.FileURL != "" || req.FileName != ""}, nil
}

func (f *Fake) StartProcessing(ctx context.Context, batchID string) error {
	f.record("StartProcessing")
	if f.StartProcessingFn != nil {
		return f.StartProcessingFn(ctx, batchID)
	}
	return nil
}

func (f *Fake) GetBatchStatus(ctx context.Context, batchID string) (*model.BatchProgress, error) {
	f.record("GetBatchStatus")
	if f.GetBatchStatusFn != nil {
		return f.GetBatchStatusFn(ctx, batchID)
	}
	return &model.BatchProgress{Status: model.BatchParsing}, nil
}

func (f *Fake) GetBatch(ctx context.Context, batchID string) (*model.Batch, error) {
	f.record("GetBatch")
	if f.GetBatchFn != nil {
		return f.GetBatchFn(ctx, batchID)
	}
	return &model.Batch{ID: batchID, Status: model.BatchPending}, nil
}

func (f *Fake) ListBatches(ctx context.Context, filter model.BatchFilter) ([]model.Batch, error) {
	f.record("ListBatches")
	if f.ListBatchesFn != nil {
		return f.ListBatchesFn(ctx, filter)
	}
	return nil, nil
}

func (f *Fake) ListItems(ctx context.Context, batchID string, filter model.ItemFilter) ([]model.Item, error) {
	f.record("ListItems")
	if f.ListItemsFn != nil {
		return f.ListItemsFn(ctx, batchID, filter)
	}
	return nil, nil
}

func (f *Fake) PatchItem(ctx context.Context, batchID, itemID, field, value string) error {
	f.record("PatchItem")
	if f.PatchItemFn != nil {
		return f.PatchItemFn(ctx, batchID, itemID, field, value)
	}
	return nil
}

func (f *Fake) ValidateBatch(ctx context.Context, batchID string) error {
	f.record("ValidateBatch")
	if f.ValidateBatchFn != nil {
		return f.ValidateBatchFn(ctx, batchID)
	}
	return nil
}

func (f *Fake) PromoteBatch(ctx context.Context, req batchsvc.PromoteRequest) (*model.PromotionResult, error) {
	f.record("PromoteBatch")
	if f.PromoteBatchFn != nil {
		return f.PromoteBatchFn(ctx, req)
	}
	return &model.PromotionResult{}, nil
}

func (f *Fake) ResetBatch(ctx context.Context, batchID string, opts batchsvc.ResetOptions) error {
	f.record("ResetBatch")
	if f.ResetBatchFn != nil {
		return f.ResetBatchFn(ctx, batchID, opts)
	}
	return nil
}

func (f *Fake) CancelBatch(ctx context.Context, batchID string) error {
	f.record("CancelBatch")
	if f.CancelBatchFn != nil {
		return f.CancelBatchFn(ctx, batchID)
	}
	return nil
}

func (f *Fake) DeleteBatch(ctx context.Context, batchID string) error {
	f.record("DeleteBatch")
	if f.DeleteBatchFn != nil {
		return f.DeleteBatchFn(ctx, batchID)
	}
	return nil
}

func (f *Fake) SetBatchMapping(ctx context.Context, batchID, mappingID string) error {
	f.record("SetBatchMapping")
	if f.SetBatchMappingFn != nil {
		return f.SetBatchMappingFn(ctx, batchID, mappingID)
	}
	return nil
}

func (f *Fake) ListMappings(ctx context.Context) ([]model.SavedMapping, error) {
	f.record("ListMappings")
	if f.ListMappingsFn != nil {
		return f.ListMappingsFn(ctx)
	}
	return nil, nil
}

func (f *Fake) SaveMapping(ctx context.Context, name string, mapping map[string]string) (*model.SavedMapping, error) {
	f.record("SaveMapping")
	if f.SaveMappingFn != nil {
		return f.SaveMappingFn(ctx, name, mapping)
	}
	return &model.SavedMapping{ID: "mapping-1", Name: name, Mapping: mapping}, nil
}

var _ batchsvc.API = (*Fake)(nil)
