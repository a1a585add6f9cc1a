package batchsvc

import (
	"context"

	"intake/internal/model"
)

// CreateBatchRequest describes a new batch. Either FileURL (a staged
// upload) or Rows (programmatic data) is set, never both.
type CreateBatchRequest struct {
	FileName   string              `json:"file_name,omitempty"`
	FileURL    string              `json:"file_url,omitempty"`
	Rows       []map[string]string `json:"rows,omitempty"`
	SourceType model.SourceType    `json:"source_type"`
}

// PromoteRequest targets a whole batch or an explicit subset of items.
type PromoteRequest struct {
	BatchID string                 `json:"batch_id,omitempty"`
	ItemIDs []string               `json:"item_ids,omitempty"`
	Options model.PromotionOptions `json:"options"`
}

// ResetOptions controls a batch reset.
type ResetOptions struct {
	ClearItems bool              `json:"clear_items"`
	NewStatus  model.BatchStatus `json:"new_status"`
}

// API is the semantic contract the orchestration engine consumes from the
// batch-processing service.
type API interface {
	CreateBatch(ctx context.Context, req CreateBatchRequest) (*model.Batch, error)

	// StartProcessing kicks off server-side parsing. Returns
	// ErrNotApplicable when the batch has no attached file.
	StartProcessing(ctx context.Context, batchID string) error

	GetBatchStatus(ctx context.Context, batchID string) (*model.BatchProgress, error)
	GetBatch(ctx context.Context, batchID string) (*model.Batch, error)
	ListBatches(ctx context.Context, filter model.BatchFilter) ([]model.Batch, error)

	ListItems(ctx context.Context, batchID string, filter model.ItemFilter) ([]model.Item, error)
	PatchItem(ctx context.Context, batchID, itemID, field, value string) error

	// ValidateBatch re-runs server-side validation, refreshing item
	// statuses and errors.
	ValidateBatch(ctx context.Context, batchID string) error

	PromoteBatch(ctx context.Context, req PromoteRequest) (*model.PromotionResult, error)

	ResetBatch(ctx context.Context, batchID string, opts ResetOptions) error
	CancelBatch(ctx context.Context, batchID string) error
	DeleteBatch(ctx context.Context, batchID string) error

	SetBatchMapping(ctx context.Context, batchID, mappingID string) error
	ListMappings(ctx context.Context) ([]model.SavedMapping, error)
	SaveMapping(ctx context.Context, name string, mapping map[string]string) (*model.SavedMapping, error)
}
