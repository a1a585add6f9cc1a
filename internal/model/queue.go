package model

import "time"

// EntryStatus is the client-side lifecycle of one queued file.
type EntryStatus string

const (
	EntryPending    EntryStatus = "pending"
	EntryProcessing EntryStatus = "processing"
	EntryReady      EntryStatus = "ready"
	EntrySaving     EntryStatus = "saving"
	EntrySaved      EntryStatus = "saved"
	EntryError      EntryStatus = "error"
)

// Terminal reports whether the entry has finished, successfully or not.
func (s EntryStatus) Terminal() bool {
	return s == EntrySaved || s == EntryError
}

// QueueEntry tracks one submitted file through the import queue. Entries
// are client-owned and never sent to the processing service.
type QueueEntry struct {
	ID        string      `json:"id" bson:"_id"`
	Name      string      `json:"name" bson:"name"`
	Status    EntryStatus `json:"status" bson:"status"`
	BatchID   string      `json:"batch_id,omitempty" bson:"batch_id,omitempty"`
	Info      string      `json:"info,omitempty" bson:"info,omitempty"`
	Error     string      `json:"error,omitempty" bson:"error,omitempty"`
	StagedURL string      `json:"staged_url,omitempty" bson:"staged_url,omitempty"`
	CreatedAt time.Time   `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time   `json:"updated_at" bson:"updated_at"`
}
