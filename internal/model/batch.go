package model

import (
	"time"
)

// BatchStatus represents the current state of an import batch as reported
// by the processing service.
type BatchStatus string

const (
	BatchPending   BatchStatus = "PENDING"
	BatchParsing   BatchStatus = "PARSING"
	BatchReady     BatchStatus = "READY"
	BatchEmpty     BatchStatus = "EMPTY"
	BatchValidated BatchStatus = "VALIDATED"
	BatchPartial   BatchStatus = "PARTIAL"
	BatchPromoted  BatchStatus = "PROMOTED"
	BatchError     BatchStatus = "ERROR"
)

// statusRank orders statuses so that transitions can be checked for
// monotonicity. Statuses sharing a rank are alternative outcomes of the
// same stage, not steps on a single path.
var statusRank = map[BatchStatus]int{
	BatchPending:   0,
	BatchParsing:   1,
	BatchReady:     2,
	BatchEmpty:     2,
	BatchError:     2,
	BatchValidated: 3,
	BatchPartial:   4,
	BatchPromoted:  5,
}

// Rank returns the monotonic ordering position of the status. Unknown
// statuses rank below PENDING so they never clobber known state.
func (s BatchStatus) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

// Terminal reports whether polling should stop once this status is seen.
func (s BatchStatus) Terminal() bool {
	switch s {
	case BatchReady, BatchEmpty, BatchValidated, BatchPartial, BatchPromoted, BatchError:
		return true
	}
	return false
}

// SourceType is the semantic category of the rows in a batch.
type SourceType string

const (
	SourceProducts         SourceType = "products"
	SourceInvoices         SourceType = "invoices"
	SourceExpenses         SourceType = "expenses"
	SourceReceipts         SourceType = "receipts"
	SourceRecipes          SourceType = "recipes"
	SourceGeneric          SourceType = "generic"
	SourceBankTransactions SourceType = "bank_transactions"
)

// Batch is one imported file or dataset tracked by the processing service.
type Batch struct {
	ID         string      `json:"id" bson:"_id"`
	Status     BatchStatus `json:"status" bson:"status"`
	SourceType SourceType  `json:"source_type" bson:"source_type"`
	ItemCount  int         `json:"item_count" bson:"item_count"`
	MappingID  string      `json:"mapping_id,omitempty" bson:"mapping_id,omitempty"`
	HasFile    bool        `json:"has_file" bson:"has_file"`
	CreatedAt  time.Time   `json:"created_at" bson:"created_at"`
}

// BatchProgress is one polling sample from the processing service.
type BatchProgress struct {
	Status     BatchStatus `json:"status"`
	Progress   float64     `json:"progress"`
	Pending    int         `json:"pending"`
	Processing int         `json:"processing"`
	Completed  int         `json:"completed"`
	ServerTime time.Time   `json:"server_time"`
}

// ProgressSample is the part of a polling sample retained for ETA
// estimation. At most the two most recent samples are kept per batch.
type ProgressSample struct {
	Progress   float64
	ServerTime time.Time
}

// BatchFilter narrows batch listings.
type BatchFilter struct {
	SourceType SourceType
	Status     BatchStatus
	Limit      int
}
