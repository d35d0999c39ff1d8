package search

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// decimalWindow is the half-open range [Low, High) a decimal's implied
// precision denotes. A value of "100" covers [99.5, 100.5); "100.00" covers
// [99.995, 100.005).
type decimalWindow struct {
	Value float64
	Low   float64
	High  float64
}

// parseDecimal derives a value and its implied precision window from the
// decimal's textual significant digits.
func parseDecimal(s string) (decimalWindow, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return decimalWindow{}, fmt.Errorf("%w: decimal %q", ErrInvalidSpec, s)
	}
	half := 0.5 * math.Pow(10, -float64(decimalPlaces(s)))
	return decimalWindow{Value: v, Low: v - half, High: v + half}, nil
}

// decimalPlaces counts fractional digits in the textual form, ignoring any
// exponent part.
func decimalPlaces(s string) int {
	if i := strings.IndexAny(s, "eE"); i >= 0 {
		s = s[:i]
	}
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return len(s) - i - 1
	}
	return 0
}

// approximateWindow widens a decimal window to ±10% of the value.
func approximateWindow(v float64) (low, high float64) {
	tol := math.Abs(v) * 0.1
	return v - tol, v + tol
}

// DateInterval is the half-open millisecond interval a date value denotes.
// A day-precision date covers [start-of-day, start-of-next-day).
type DateInterval struct {
	StartMS int64
	EndMS   int64
}

// dateLayouts in decreasing precision. Instant values get a one-millisecond
// interval.
var dateLayouts = []struct {
	layout string
	step   func(time.Time) time.Time
}{
	{"2006-01-02T15:04:05.000Z07:00", func(t time.Time) time.Time { return t.Add(time.Millisecond) }},
	{time.RFC3339, func(t time.Time) time.Time { return t.Add(time.Second) }},
	{"2006-01-02T15:04Z07:00", func(t time.Time) time.Time { return t.Add(time.Minute) }},
	{"2006-01-02", func(t time.Time) time.Time { return t.AddDate(0, 0, 1) }},
	{"2006-01", func(t time.Time) time.Time { return t.AddDate(0, 1, 0) }},
	{"2006", func(t time.Time) time.Time { return t.AddDate(1, 0, 0) }},
}

// ParseDateInterval parses a date or date-time of any supported precision
// into its half-open interval. Partial dates without a zone are taken as UTC.
func ParseDateInterval(s string) (DateInterval, error) {
	for _, l := range dateLayouts {
		t, err := time.ParseInLocation(l.layout, s, time.UTC)
		if err != nil {
			continue
		}
		return DateInterval{
			StartMS: t.UnixMilli(),
			EndMS:   l.step(t).UnixMilli(),
		}, nil
	}
	return DateInterval{}, fmt.Errorf("%w: date %q", ErrInvalidSpec, s)
}

// widen expands the interval by tol on both ends.
func (d DateInterval) widen(tol int64) DateInterval {
	return DateInterval{StartMS: d.StartMS - tol, EndMS: d.EndMS + tol}
}

// approximateTolerance is ±10% of the interval width; for instant-precision
// values the distance to now anchors the tolerance instead.
func (d DateInterval) approximateTolerance(now time.Time) int64 {
	base := d.EndMS - d.StartMS
	dist := now.UnixMilli() - d.StartMS
	if dist < 0 {
		dist = -dist
	}
	if dist > base {
		base = dist
	}
	return base / 10
}

// canonicalUnit maps a unit code to its canonical base unit and conversion
// factor, so that the same physical quantity compares equal across unit
// systems (5403 mg == 5.403 g).
type canonicalUnit struct {
	Unit   string
	Factor float64
}

var unitTable = map[string]canonicalUnit{
	// mass → g
	"kg":  {"g", 1000},
	"g":   {"g", 1},
	"mg":  {"g", 0.001},
	"ug":  {"g", 1e-6},
	"mcg": {"g", 1e-6},
	"ng":  {"g", 1e-9},
	// volume → L
	"L":  {"L", 1},
	"l":  {"L", 1},
	"dL": {"L", 0.1},
	"mL": {"L", 0.001},
	"ml": {"L", 0.001},
	"uL": {"L", 1e-6},
	// length → m
	"m":  {"m", 1},
	"cm": {"m", 0.01},
	"mm": {"m", 0.001},
	"km": {"m", 1000},
	"[in_i]": {"m", 0.0254},
	// time → s
	"s":   {"s", 1},
	"min": {"s", 60},
	"h":   {"s", 3600},
	"d":   {"s", 86400},
	"wk":  {"s", 604800},
	"ms":  {"s", 0.001},
}

// CanonicalizeQuantity converts a (value, unit) pair to its canonical base
// unit. Unknown units canonicalize to themselves.
func CanonicalizeQuantity(value float64, unit string) (float64, string) {
	if c, ok := unitTable[unit]; ok {
		return value * c.Factor, c.Unit
	}
	return value, unit
}

// canonicalFactor returns the conversion factor applied to values of the
// given unit, 1 for unknown units.
func canonicalFactor(unit string) float64 {
	if c, ok := unitTable[unit]; ok {
		return c.Factor
	}
	return 1
}
