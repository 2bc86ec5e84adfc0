package keyfilter

import (
	"strings"

	"github.com/nao1215/bucketcrawl/internal/config"
)

// Class is the classification of a single key.
type Class int

const (
	// Other is any key that is neither an archive nor a sidecar.
	Other Class = iota
	// Wanted is an archive key.
	Wanted
	// ChecksumSidecar is the checksum file published next to an archive.
	ChecksumSidecar
)

// String returns a human-readable representation of the class.
func (c Class) String() string {
	switch c {
	case Wanted:
		return "wanted"
	case ChecksumSidecar:
		return "checksum"
	default:
		return "other"
	}
}

// Filter classifies and selects keys.
// The zero value is not useful; use New.
type Filter struct {
	// ArchiveSuffix marks wanted keys, e.g. ".zip".
	ArchiveSuffix string
	// ChecksumSuffix marks sidecars, e.g. ".CHECKSUM".
	ChecksumSuffix string
	// Date optionally restricts Select to one month. Nil means no restriction.
	Date *DateFilter
}

// New creates a Filter with the given suffixes and optional date filter.
func New(archiveSuffix, checksumSuffix string, date *DateFilter) *Filter {
	return &Filter{
		ArchiveSuffix:  archiveSuffix,
		ChecksumSuffix: checksumSuffix,
		Date:           date,
	}
}

// FromConfig builds a Filter from the configured suffixes and year/month.
// A partial or invalid date filter is returned as a usage error.
func FromConfig(cfg *config.Config) (*Filter, error) {
	date, err := NewDateFilter(cfg.Year, cfg.Month)
	if err != nil {
		return nil, err
	}
	return New(cfg.ArchiveSuffix, cfg.ChecksumSuffix, date), nil
}

// Classify returns the class of key. It ignores the date filter.
func (f *Filter) Classify(key string) Class {
	if f.ChecksumSuffix != "" && strings.HasSuffix(key, f.ChecksumSuffix) {
		return ChecksumSidecar
	}
	if strings.HasSuffix(key, f.ArchiveSuffix) {
		return Wanted
	}
	return Other
}

// Want reports whether key is Wanted and passes the date filter.
func (f *Filter) Want(key string) bool {
	if f.Classify(key) != Wanted {
		return false
	}
	return f.Date.Match(key)
}

// Select returns the wanted keys of keys in their original order, with
// duplicates removed.
func (f *Filter) Select(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if !f.Want(k) {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// SidecarKey returns the checksum sidecar key for an archive key.
func (f *Filter) SidecarKey(key string) string {
	return key + f.ChecksumSuffix
}
