package clinic

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Catalog maps a service name to its fixed duration. Immutable after load.
type Catalog struct {
	durations map[string]time.Duration
}

// DefaultCatalog returns the clinic's built-in service list.
func DefaultCatalog() Catalog {
	return Catalog{durations: map[string]time.Duration{
		"checkup":         30 * time.Minute,
		"general checkup": 30 * time.Minute,
		"cleaning":        60 * time.Minute,
		"dental cleaning": 60 * time.Minute,
		"root canal":      90 * time.Minute,
		"surgery":         120 * time.Minute,
		"extraction":      45 * time.Minute,
		"consultation":    15 * time.Minute,
		"consult":         15 * time.Minute,
	}}
}

// ParseCatalog parses "checkup:30,cleaning:60" (minutes per service).
func ParseCatalog(raw string) (Catalog, error) {
	durations := map[string]time.Duration{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, minsStr, ok := strings.Cut(part, ":")
		if !ok {
			return Catalog{}, fmt.Errorf("invalid catalog entry %q", part)
		}
		mins, err := strconv.Atoi(strings.TrimSpace(minsStr))
		if err != nil || mins <= 0 {
			return Catalog{}, fmt.Errorf("invalid duration in catalog entry %q", part)
		}
		durations[normalizeService(name)] = time.Duration(mins) * time.Minute
	}
	if len(durations) == 0 {
		return Catalog{}, fmt.Errorf("catalog is empty")
	}
	return Catalog{durations: durations}, nil
}

// Duration resolves a service name to its duration. Lookup is case-insensitive
// and tolerates qualifiers ("root canal therapy" matches "root canal"), since
// the dialogue layer passes through whatever phrasing the patient used.
func (c Catalog) Duration(service string) (time.Duration, bool) {
	s := normalizeService(service)
	if s == "" {
		return 0, false
	}
	if d, ok := c.durations[s]; ok {
		return d, true
	}
	var best string
	var bestDur time.Duration
	for name, d := range c.durations {
		if strings.Contains(s, name) && len(name) > len(best) {
			best = name
			bestDur = d
		}
	}
	if best == "" {
		return 0, false
	}
	return bestDur, true
}

func normalizeService(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
