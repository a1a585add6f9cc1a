package model

import "time"

// PaymentStatus for promoted invoices, expenses and receipts.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
)

// ProductOptions control promotion of product rows.
type ProductOptions struct {
	Warehouse         string `json:"warehouse,omitempty"`
	CreateWarehouse   bool   `json:"create_warehouse,omitempty"`
	AllowMissingPrice bool   `json:"allow_missing_price,omitempty"`
	AutoActivate      bool   `json:"auto_activate,omitempty"`
}

// PaymentOptions control promotion of invoice, expense and receipt rows.
type PaymentOptions struct {
	Status              PaymentStatus `json:"status"`
	Method              string        `json:"method,omitempty"`
	PaidAt              *time.Time    `json:"paid_at,omitempty"`
	PostAccountingEntry bool          `json:"post_accounting_entry,omitempty"`
}

// RecipeOptions control promotion of recipe rows.
type RecipeOptions struct {
	PersistIngredients bool `json:"persist_ingredients,omitempty"`
}

// PromotionOptions carries the sourceType-dependent settings for one
// promotion call. Only the section matching the batch's source type is
// consulted.
type PromotionOptions struct {
	Products *ProductOptions `json:"products,omitempty"`
	Payment  *PaymentOptions `json:"payment,omitempty"`
	Recipes  *RecipeOptions  `json:"recipes,omitempty"`
}

// PromotionResult is the aggregate outcome of a promotion call. A partial
// result is not an error: callers distinguish full failure (Created == 0)
// from partial failure (Failed > 0 with Created > 0).
type PromotionResult struct {
	Created int         `json:"created"`
	Skipped int         `json:"skipped"`
	Failed  int         `json:"failed"`
	Errors  []ItemError `json:"errors,omitempty"`
}

// FullFailure reports whether nothing was promoted at all.
func (r PromotionResult) FullFailure() bool {
	return r.Created == 0 && r.Failed > 0
}

// Partial reports whether some rows were promoted and some failed.
func (r PromotionResult) Partial() bool {
	return r.Created > 0 && r.Failed > 0
}

// Total is the number of rows accounted for by the result.
func (r PromotionResult) Total() int {
	return r.Created + r.Skipped + r.Failed
}
