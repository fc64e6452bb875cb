package model

import "time"

// PlatformLink is the association between one Product and one marketplace.
// It is the authoritative canonical view of what that marketplace currently
// shows; it is never deleted, only transitioned to REMOVED/ENDED.
//
// Invariant: at most one PlatformLink per (ProductID, Platform) pair.
type PlatformLink struct {
	ID                   int64
	ProductID            int64
	Platform             PlatformTag
	ExternalID           *string // nil while a listing is being created
	Status               LinkStatus
	ListingURL           string
	LastSync             time.Time
	SyncStatus           SyncStatus
	PlatformSpecificData RawPayload
}

// RawPayload preserves a marketplace's response verbatim for audit and later
// enrichment. Typed fields are extracted from it at the adapter boundary;
// downstream code never reaches back into it except to diff or display it.
type RawPayload []byte

// PlatformListing holds marketplace-specific denormalized fields (category
// IDs, policy IDs, seller profile IDs, picture arrays, the raw API
// snapshot) for one PlatformLink. One-to-one with PlatformLink.
type PlatformListing struct {
	LinkID         int64
	Platform       PlatformTag
	CategoryID     string
	PolicyID       string
	SellerProfile  string
	Pictures       []string
	RawAPISnapshot RawPayload
}

// ProductMapping is a hint that two products may refer to the same physical
// item. Store.InsertProductMapping persists one; the match suggester does not
// write or read them (it records its candidate in ChangeData.MatchCandidate).
// A mapping is never treated as ground truth on its own.
type ProductMapping struct {
	ID              int64
	ProductID       int64
	CandidateID     int64
	Confidence      int
	CreatedAt       time.Time
	Resolved        bool
	ResolutionNotes string
}
