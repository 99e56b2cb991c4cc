package workshop

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// Handle is a single preloaded library binding: a name-to-function map that
// the workbench injects into every execution namespace.
type Handle map[string]any

// Registry is the process-wide set of vetted library handles. It is built
// once and never mutated afterwards; every execution namespace references
// the same registry but receives its own copy of the binding map, so no
// request can add, remove or replace entries.
type Registry struct {
	handles map[string]Handle
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the shared process-lifetime registry, constructing it on
// first use. Repeated calls return the same instance.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = New()
	})
	return defaultRegistry
}

// New constructs a registry with the fixed handle set. The set is hardcoded:
// no configuration or request parameter can extend it, which keeps the
// "which libraries are trusted" decision out of the request-time trust
// boundary entirely.
func New() *Registry {
	return &Registry{
		handles: map[string]Handle{
			"stats": statsHandle(),
			"text":  textHandle(),
			"num":   numHandle(),
			"dates": datesHandle(),
		},
	}
}

// Get returns the named handle.
func (r *Registry) Get(name string) (Handle, bool) {
	h, ok := r.handles[name]
	return h, ok
}

// Names returns the sorted handle names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handles))
	for name := range r.handles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Handles returns a deep copy of the binding maps. Each execution namespace
// gets its own copy, so code that overwrites a binding pollutes only its own
// namespace and never the registry or a concurrent request.
func (r *Registry) Handles() map[string]Handle {
	out := make(map[string]Handle, len(r.handles))
	for name, h := range r.handles {
		bindings := make(Handle, len(h))
		for fn, impl := range h {
			bindings[fn] = impl
		}
		out[name] = bindings
	}
	return out
}

func statsHandle() Handle {
	return Handle{
		"mean":     mean,
		"median":   median,
		"min":      minOf,
		"max":      maxOf,
		"sum":      sum,
		"std":      std,
		"quantile": quantile,
	}
}

func textHandle() Handle {
	return Handle{
		"trim":     strings.TrimSpace,
		"lower":    strings.ToLower,
		"upper":    strings.ToUpper,
		"replace":  func(s, old, new string) string { return strings.ReplaceAll(s, old, new) },
		"split":    func(s, sep string) []string { return strings.Split(s, sep) },
		"join":     func(parts []string, sep string) string { return strings.Join(parts, sep) },
		"contains": strings.Contains,
		"padStart": padStart,
	}
}

func numHandle() Handle {
	return Handle{
		"round": math.Round,
		"floor": math.Floor,
		"ceil":  math.Ceil,
		"abs":   math.Abs,
		"clamp": func(v, lo, hi float64) float64 { return math.Min(math.Max(v, lo), hi) },
		"parse": parseNumber,
	}
}

func datesHandle() Handle {
	return Handle{
		"parse":  parseDate,
		"format": formatDate,
		"year":   func(iso string) (float64, error) { return datePart(iso, func(t time.Time) int { return t.Year() }) },
		"month":  func(iso string) (float64, error) { return datePart(iso, func(t time.Time) int { return int(t.Month()) }) },
		"day":    func(iso string) (float64, error) { return datePart(iso, func(t time.Time) int { return t.Day() }) },
	}
}

func mean(values []float64) (float64, error) {
	if len(values) == 0 {
		return 0, fmt.Errorf("mean of empty slice")
	}
	return sum(values) / float64(len(values)), nil
}

func median(values []float64) (float64, error) {
	return quantile(values, 0.5)
}

func minOf(values []float64) (float64, error) {
	if len(values) == 0 {
		return 0, fmt.Errorf("min of empty slice")
	}
	m := values[0]
	for _, v := range values[1:] {
		m = math.Min(m, v)
	}
	return m, nil
}

func maxOf(values []float64) (float64, error) {
	if len(values) == 0 {
		return 0, fmt.Errorf("max of empty slice")
	}
	m := values[0]
	for _, v := range values[1:] {
		m = math.Max(m, v)
	}
	return m, nil
}

func sum(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total
}

func std(values []float64) (float64, error) {
	if len(values) < 2 {
		return 0, fmt.Errorf("std needs at least two values")
	}
	m, _ := mean(values)
	variance := 0.0
	for _, v := range values {
		variance += (v - m) * (v - m)
	}
	return math.Sqrt(variance / float64(len(values)-1)), nil
}

func quantile(values []float64, q float64) (float64, error) {
	if len(values) == 0 {
		return 0, fmt.Errorf("quantile of empty slice")
	}
	if q < 0 || q > 1 {
		return 0, fmt.Errorf("quantile must be in [0, 1], got %v", q)
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	// Linear interpolation between closest ranks.
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo], nil
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac, nil
}

// padStart measures width in runes so multi-byte input pads correctly.
func padStart(s string, width int, pad string) string {
	if pad == "" || utf8.RuneCountInString(s) >= width {
		return s
	}
	for utf8.RuneCountInString(s) < width {
		s = pad + s
	}
	if runes := []rune(s); len(runes) > width {
		s = string(runes[len(runes)-width:])
	}
	return s
}

func parseNumber(s string) (float64, error) {
	var f float64
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%g", &f); err != nil {
		return 0, fmt.Errorf("cannot parse %q as a number", s)
	}
	return f, nil
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
	"02.01.2006",
}

func parseDate(s string) (string, error) {
	t, err := parseAnyDate(s)
	if err != nil {
		return "", err
	}
	return t.Format("2006-01-02"), nil
}

func formatDate(iso, layout string) (string, error) {
	t, err := parseAnyDate(iso)
	if err != nil {
		return "", err
	}
	return t.Format(layout), nil
}

func datePart(iso string, part func(time.Time) int) (float64, error) {
	t, err := parseAnyDate(iso)
	if err != nil {
		return 0, err
	}
	return float64(part(t)), nil
}

func parseAnyDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as a date", s)
}
