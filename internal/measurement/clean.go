package measurement

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// MinCellID and MaxCellID bound the grid cell domain.
const (
	MinCellID = 0
	MaxCellID = 9999
)

// timestampLayouts are tried in order. Layouts without a zone are read in the
// configured location.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// cleaner applies the per-row value rules for one file and counts clamps.
type cleaner struct {
	loc    *time.Location
	schema Schema
	header *Header
	stats  *FileStats
}

// timestamp parses s as one of the accepted layouts or as epoch milliseconds.
func (c *cleaner) timestamp(s string) (time.Time, bool) {
	return parseTimestamp(strings.TrimSpace(s), c.loc)
}

func parseTimestamp(s string, loc *time.Location) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if len(s) >= 10 && isDigits(s) {
		ms, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return time.Time{}, false
		}
		return time.UnixMilli(ms).UTC(), true
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// metric returns the cleaned value of a numeric column: the column default
// when absent, 0 when unparsable, 0 (counted as clamped) when negative.
func (c *cleaner) metric(name, raw string) float64 {
	if !c.header.Has(name) {
		col, _ := c.schema.Column(name)
		return col.Default
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	if v < 0 {
		c.stats.Clamped++
		return 0
	}
	return v
}

// integer parses an optional INTEGER column, falling back to the default when
// the value is missing, unparsable or outside the 32-bit column range.
func (c *cleaner) integer(name, raw string) int32 {
	col, _ := c.schema.Column(name)
	if !c.header.Has(name) {
		return int32(col.Default)
	}
	n, ok := parseInteger(raw)
	if !ok || n < math.MinInt32 || n > math.MaxInt32 {
		return int32(col.Default)
	}
	return int32(n)
}

// cellID parses a cell identifier and checks it against the grid domain.
func cellID(raw string) (int32, bool) {
	n, ok := parseInteger(raw)
	if !ok || n < MinCellID || n > MaxCellID {
		return 0, false
	}
	return int32(n), true
}

// parseInteger accepts integers and integral floats such as "42.0".
func parseInteger(raw string) (int64, bool) {
	s := strings.TrimSpace(raw)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	return int64(f), true
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}
