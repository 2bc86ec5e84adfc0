package keyfilter

import (
	"strings"

	"github.com/nao1215/bucketcrawl/internal/config"
)

// DateFilter matches keys containing a fixed YYYY-MM substring.
// A nil *DateFilter matches every key.
type DateFilter struct {
	Year  string
	Month string
}

// NewDateFilter validates year and month and returns a filter.
// Both empty returns a nil filter. Supplying exactly one, a month outside
// 1-12, or a year that is not four digits returns a *config.UsageError.
func NewDateFilter(year, month string) (*DateFilter, error) {
	y, m, err := config.ParseYearMonth(year, month)
	if err != nil {
		return nil, err
	}
	if y == "" {
		return nil, nil
	}
	return &DateFilter{Year: y, Month: m}, nil
}

// Pattern returns the YYYY-MM substring the filter matches.
func (d *DateFilter) Pattern() string {
	if d == nil {
		return ""
	}
	return d.Year + "-" + d.Month
}

// Match reports whether key contains the filter's YYYY-MM.
func (d *DateFilter) Match(key string) bool {
	if d == nil {
		return true
	}
	return strings.Contains(key, d.Pattern())
}
