package model

// ItemStatus represents the validation/promotion state of one row.
type ItemStatus string

const (
	ItemOK              ItemStatus = "OK"
	ItemErrorValidation ItemStatus = "ERROR_VALIDATION"
	ItemErrorPromotion  ItemStatus = "ERROR_PROMOTION"
	ItemPromoted        ItemStatus = "PROMOTED"
)

// ItemError is a single validation or promotion failure on an item. Field
// is empty for row-level errors.
type ItemError struct {
	Field   string `json:"field,omitempty" bson:"field,omitempty"`
	Message string `json:"message" bson:"message"`
}

// Item is one row within a batch. Items are owned by their batch and are
// removed when the batch is deleted or reset.
type Item struct {
	ID         string            `json:"id" bson:"_id"`
	Idx        int               `json:"idx" bson:"idx"`
	Status     ItemStatus        `json:"status" bson:"status"`
	Errors     []ItemError       `json:"errors,omitempty" bson:"errors,omitempty"`
	Raw        map[string]string `json:"raw" bson:"raw"`
	Normalized map[string]string `json:"normalized" bson:"normalized"`
}

// ItemFilter narrows item listings within a batch.
type ItemFilter struct {
	Status ItemStatus
	Limit  int
	Offset int
}
