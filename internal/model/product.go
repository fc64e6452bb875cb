package model

import (
	"time"

	"dario.cat/mergo"
)

// Product is the seller's internal item, identified by a stable SKU.
//
// Invariants: SKU is unique and immutable; Quantity is never negative; if
// IsStockedItem is false, Quantity is 0 or 1 and a sale on any platform
// transitions Status to SOLD; if IsStockedItem is true, a sale decrements
// Quantity and Status only becomes SOLD once Quantity reaches 0.
type Product struct {
	ID                   int64
	SKU                  string
	Title                string
	Description          string
	Brand                string
	ModelName            string
	Year                 string
	Finish               string
	Category             string
	CategoryIDs          map[PlatformTag]string
	Condition            Condition
	BasePrice            float64
	SpecialistPrice      *float64
	Quantity             int
	IsStockedItem        bool
	PrimaryImage         string
	AdditionalImages     []string
	Status               ProductStatus
	ManufacturingCountry string
	ShippingProfileID    int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// CanonicalPrice is the price the diff engine and reconciler treat as
// authoritative: the specialist override if set, else the base price.
func (p *Product) CanonicalPrice() float64 {
	if p.SpecialistPrice != nil {
		return *p.SpecialistPrice
	}
	return p.BasePrice
}

// ApplySale records a sale of qty units (defaulting to 1) against the
// product, following the stocked/non-stocked invariant from spec §3.
func (p *Product) ApplySale(qty int) {
	if qty <= 0 {
		qty = 1
	}
	if !p.IsStockedItem {
		p.Quantity = 0
		p.Status = ProductSold
		return
	}
	p.Quantity -= qty
	if p.Quantity < 0 {
		p.Quantity = 0
	}
	if p.Quantity == 0 {
		p.Status = ProductSold
	}
}

// Merged returns a copy of p with the non-nil fields of changed overlaid
// onto it via dario.cat/mergo. mergo skips zero values, so a field set to
// its zero value ("" or 0) leaves p's value unchanged. A caller that needs the
// product's full, post-edit shape (e.g. a form-post adapter that cannot
// PATCH individual fields) never has to hand-write the "changed ?? current"
// fallback per field.
func (p *Product) Merged(changed ChangedFields) (*Product, error) {
	overrides := Product{}
	if changed.Title != nil {
		overrides.Title = *changed.Title
	}
	if changed.Description != nil {
		overrides.Description = *changed.Description
	}
	if changed.Brand != nil {
		overrides.Brand = *changed.Brand
	}
	if changed.ModelName != nil {
		overrides.ModelName = *changed.ModelName
	}
	if changed.Year != nil {
		overrides.Year = *changed.Year
	}
	if changed.Finish != nil {
		overrides.Finish = *changed.Finish
	}
	if changed.Category != nil {
		overrides.Category = *changed.Category
	}
	if changed.Condition != nil {
		overrides.Condition = *changed.Condition
	}
	if changed.BasePrice != nil {
		overrides.BasePrice = *changed.BasePrice
	}
	if changed.Quantity != nil {
		overrides.Quantity = *changed.Quantity
	}
	if changed.PrimaryImage != nil {
		overrides.PrimaryImage = *changed.PrimaryImage
	}
	if changed.AdditionalImages != nil {
		overrides.AdditionalImages = changed.AdditionalImages
	}
	if changed.ManufacturingCountry != nil {
		overrides.ManufacturingCountry = *changed.ManufacturingCountry
	}

	merged := *p
	if err := mergo.Merge(&merged, overrides, mergo.WithOverride); err != nil {
		return nil, err
	}
	return &merged, nil
}

// ChangedFields is a sparse set of field edits applied through
// Adapter.ApplyProductEdit; keys are the Product field names they target.
// dario.cat/mergo merges non-zero values from this onto the canonical
// Product, leaving untouched fields as-is.
type ChangedFields struct {
	Title                *string
	Description          *string
	Brand                *string
	ModelName            *string
	Year                 *string
	Finish               *string
	Category             *string
	Condition            *Condition
	BasePrice            *float64
	Quantity             *int
	PrimaryImage         *string
	AdditionalImages     []string
	ManufacturingCountry *string
}
