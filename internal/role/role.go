// Package role holds the static role catalog: the mapping from a role
// name to the capability set it grants. The catalog is the single
// source of truth for authorization; members only cache a snapshot of
// their role's entry.
package role

import "strings"

// Role is a named capability bundle assignable to a member.
type Role string

const (
	Owner   Role = "owner"
	Admin   Role = "admin"
	Manager Role = "manager"
	Analyst Role = "analyst"
	Viewer  Role = "viewer"
)

// Capability is a namespaced "area.action" permission string.
type Capability string

const (
	OrgManage   Capability = "org.manage"
	OrgBilling  Capability = "org.billing"
	OrgSettings Capability = "org.settings"

	MembersInvite Capability = "members.invite"
	MembersRemove Capability = "members.remove"
	MembersManage Capability = "members.manage"
	MembersView   Capability = "members.view"

	ProjectsCreate Capability = "projects.create"
	ProjectsDelete Capability = "projects.delete"
	ProjectsManage Capability = "projects.manage"
	ProjectsView   Capability = "projects.view"

	AnalyticsView   Capability = "analytics.view"
	AnalyticsExport Capability = "analytics.export"

	SecurityView      Capability = "security.view"
	SecurityConfigure Capability = "security.configure"

	ComplianceView   Capability = "compliance.view"
	ComplianceManage Capability = "compliance.manage"
)

// Area returns the namespace before the dot, Action the part after.
func (c Capability) Area() string {
	area, _, _ := strings.Cut(string(c), ".")
	return area
}

func (c Capability) Action() string {
	_, action, _ := strings.Cut(string(c), ".")
	return action
}

// CapabilitySet is the grant attached to a role: either the wildcard
// (every capability, current and future) or an explicit list.
type CapabilitySet struct {
	wildcard bool
	grants   []Capability
}

// WildcardSet grants everything. Reserved for the owner role.
func WildcardSet() CapabilitySet {
	return CapabilitySet{wildcard: true}
}

// SetOf grants exactly the listed capabilities.
func SetOf(caps ...Capability) CapabilitySet {
	return CapabilitySet{grants: caps}
}

// IsWildcard reports whether the set grants every capability.
func (s CapabilitySet) IsWildcard() bool { return s.wildcard }

// Grants reports whether the set covers the capability.
func (s CapabilitySet) Grants(c Capability) bool {
	if s.wildcard {
		return true
	}
	for _, grant := range s.grants {
		if grant == c {
			return true
		}
	}
	return false
}

// List returns the snapshot representation stored on members: the
// wildcard sentinel "*" for owner, otherwise the capability strings.
func (s CapabilitySet) List() []string {
	if s.wildcard {
		return []string{WildcardSentinel}
	}
	out := make([]string, 0, len(s.grants))
	for _, grant := range s.grants {
		out = append(out, string(grant))
	}
	return out
}

// WildcardSentinel is the stored marker for "all capabilities".
const WildcardSentinel = "*"

var catalog = map[Role]CapabilitySet{
	Owner: WildcardSet(),
	Admin: SetOf(
		OrgManage, OrgBilling, OrgSettings,
		MembersInvite, MembersRemove, MembersManage,
		ProjectsCreate, ProjectsDelete, ProjectsManage,
		AnalyticsView, AnalyticsExport,
		SecurityView, SecurityConfigure,
		ComplianceView, ComplianceManage,
	),
	Manager: SetOf(
		MembersInvite, MembersView,
		ProjectsCreate, ProjectsManage,
		AnalyticsView, AnalyticsExport,
		SecurityView, ComplianceView,
	),
	Analyst: SetOf(
		AnalyticsView, AnalyticsExport,
		SecurityView, ComplianceView, ProjectsView,
	),
	Viewer: SetOf(
		AnalyticsView, SecurityView, ComplianceView, ProjectsView,
	),
}

// Parse normalizes a raw role string.
func Parse(raw string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := catalog[r]
	return r, ok
}

// Valid reports whether r is in the catalog.
func (r Role) Valid() bool {
	_, ok := catalog[r]
	return ok
}

// Capabilities returns the catalog entry for a role. Unknown roles get
// an empty set.
func Capabilities(r Role) CapabilitySet {
	return catalog[r]
}

// All lists every catalog role. Order is stable for policy seeding.
func All() []Role {
	return []Role{Owner, Admin, Manager, Analyst, Viewer}
}
