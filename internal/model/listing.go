package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// ListingDocument is the raw response body for one prefix fetch.
// It is owned by the fetch -> parse pipeline and persisted verbatim by the
// mirror writer. It is never mutated after receipt.
type ListingDocument struct {
	// Prefix is the prefix the document was fetched for.
	Prefix string `json:"prefix"`

	// URL is the listing URL that produced the document.
	URL string `json:"url"`

	// Page is the 1-based page number when pagination is followed.
	// Page 1 is the canonical document for the prefix.
	Page int `json:"page"`

	// Body holds the raw bytes exactly as received.
	Body []byte `json:"-"`

	// FetchedAt is when the response was received.
	FetchedAt time.Time `json:"fetched_at"`
}

// NewListingDocument creates a ListingDocument for page 1 of prefix.
func NewListingDocument(prefix, url string, body []byte) *ListingDocument {
	return &ListingDocument{
		Prefix:    prefix,
		URL:       url,
		Page:      1,
		Body:      body,
		FetchedAt: time.Now(),
	}
}

// Hash returns the hex SHA-256 of the document body.
func (d *ListingDocument) Hash() string {
	sum := sha256.Sum256(d.Body)
	return hex.EncodeToString(sum[:])
}

// KeyRecord is a leaf object key from a listing's contents section.
// Size, ETag and LastModified are carried when the listing provides them
// but nothing in the crawl depends on them.
type KeyRecord struct {
	Key          string `json:"key"`
	Size         int64  `json:"size,omitempty"`
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
}
