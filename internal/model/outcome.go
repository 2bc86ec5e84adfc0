package model

// NodeOutcome is the tagged result of visiting one prefix.
// Err == nil is the success variant carrying Children and Keys;
// Err != nil is the failure variant and Kind says which stage failed.
//
// A parse failure still leaves MirrorPaths populated, because the raw
// document is persisted before it is parsed.
type NodeOutcome struct {
	// Prefix is the visited prefix.
	Prefix string `json:"prefix"`

	// Depth is the frontier level the prefix was dispatched from.
	Depth int `json:"depth"`

	// Children are the common prefixes reported by the listing.
	Children []string `json:"children,omitempty"`

	// Keys are the object keys reported by the listing.
	Keys []KeyRecord `json:"keys,omitempty"`

	// MirrorPaths are the local files written for the prefix, page 1 first.
	MirrorPaths []string `json:"mirror_paths,omitempty"`

	// Pages is the number of listing pages fetched.
	Pages int `json:"pages"`

	// Kind classifies Err. It is meaningless when Err is nil.
	Kind FailureKind `json:"kind"`

	// Err is the failure, if any.
	Err error `json:"-"`
}

// OK reports whether the outcome is the success variant.
func (o NodeOutcome) OK() bool {
	return o.Err == nil
}

// Failure converts a failed outcome into a ledger entry.
func (o NodeOutcome) Failure() Failure {
	return NewFailure(o.Prefix, o.Kind, o.Depth, o.Err)
}
