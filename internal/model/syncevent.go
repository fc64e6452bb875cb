package model

import "time"

// SyncEvent is a single detected change requiring reconciliation. The
// partial unique index over (Platform, ExternalID, ChangeType) restricted to
// Status = PENDING is the dedup primitive the event writer relies on; it is
// enforced by the Store implementation, not by this type.
type SyncEvent struct {
	ID                int64
	SyncRunID         string
	Platform          PlatformTag
	ProductID         *int64 // nil until a human or reconciliation confirms the link
	PlatformCommonID  *int64
	ExternalID        string
	ChangeType        ChangeType
	ChangeData        ChangeData
	Status            EventStatus
	Notes             EventNotes
	DetectedAt        time.Time
	ProcessedAt       *time.Time
}

// ChangeData is the JSON payload carrying old/new values and raw context for
// one detected change. Its shape is validated against a generated JSON
// Schema (internal/schema) before the event is inserted.
type ChangeData struct {
	OldStatus      *UniversalStatus `json:"old_status,omitempty"`
	NewStatus      *UniversalStatus `json:"new_status,omitempty"`
	OldPrice       *float64         `json:"old_price,omitempty"`
	NewPrice       *float64         `json:"new_price,omitempty"`
	OldQuantity    *int             `json:"old_quantity,omitempty"`
	NewQuantity    *int             `json:"new_quantity,omitempty"`
	QuantitySold   *int             `json:"quantity_sold,omitempty"`
	OldListingURL  string           `json:"old_listing_url,omitempty"`
	NewListingURL  string           `json:"new_listing_url,omitempty"`
	Title          string           `json:"title,omitempty"`
	// ListedAt is the marketplace's own listing timestamp at detection
	// time, carried through for new_listing/rogue events so a reviewer can
	// tell how long a rogue listing has been live without refetching it.
	ListedAt       *time.Time       `json:"listed_at,omitempty"`
	MatchCandidate *MatchCandidate  `json:"match_candidate,omitempty"`
	Raw            RawPayload       `json:"raw,omitempty"`
}

// MatchCandidate is the match suggester's best guess at which local product
// a rogue remote listing refers to, written for operator review.
type MatchCandidate struct {
	ProductID  int64  `json:"product_id"`
	Confidence int    `json:"confidence"`
	Reason     string `json:"reason"`
}

// EventNotes records a per-platform trace of reconciliation/dispatch
// attempts so a later run can resume without redoing successful legs — the
// "partial event reconciliation" invariant from spec §4.5.
type EventNotes struct {
	Reason       string                  `json:"reason,omitempty"`
	Attempts     map[PlatformTag]Attempt `json:"attempts,omitempty"`
	DiffText     string                  `json:"diff_text,omitempty"`
}

// Attempt records the outcome of one outbound action taken on behalf of a
// SyncEvent against one platform.
type Attempt struct {
	Outcome   string `json:"outcome"` // "ok", "transient", "permanent", "skipped"
	Reason    string `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
