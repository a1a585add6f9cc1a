package model

// IgnoreField is the sentinel target meaning a source column is
// deliberately left out of the import.
const IgnoreField = "ignore"

// SavedMapping is a reusable, named column-to-field assignment stored by
// the processing service. UseCount is incremented server-side when the
// mapping is applied to a batch.
type SavedMapping struct {
	ID       string            `json:"id" bson:"_id"`
	Name     string            `json:"name" bson:"name"`
	Mapping  map[string]string `json:"mapping" bson:"mapping"`
	UseCount int               `json:"use_count" bson:"use_count"`
}
