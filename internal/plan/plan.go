// Package plan holds the static billing plan catalog and the resource
// limits attached to each tier.
package plan

import "strings"

// Plan is a billing tier.
type Plan string

const (
	Free       Plan = "free"
	Pro        Plan = "pro"
	Enterprise Plan = "enterprise"
)

// Limits is the resource ceiling snapshot for a plan.
type Limits struct {
	MaxMembers     int `json:"max_members"`
	MaxProjects    int `json:"max_projects"`
	StorageLimitGB int `json:"storage_limit_gb"`
}

var catalog = map[Plan]Limits{
	Free:       {MaxMembers: 3, MaxProjects: 1, StorageLimitGB: 1},
	Pro:        {MaxMembers: 25, MaxProjects: 10, StorageLimitGB: 50},
	Enterprise: {MaxMembers: 1000, MaxProjects: 100, StorageLimitGB: 1000},
}

// Parse normalizes a raw plan string.
func Parse(raw string) (Plan, bool) {
	p := Plan(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := catalog[p]
	return p, ok
}

// Valid reports whether p is a known tier.
func (p Plan) Valid() bool {
	_, ok := catalog[p]
	return ok
}

// LimitsFor returns the catalog limits for a plan. Unknown plans fall
// back to the free tier so a corrupted record never grants headroom.
func LimitsFor(p Plan) Limits {
	if limits, ok := catalog[p]; ok {
		return limits
	}
	return catalog[Free]
}
