package role

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	r, ok := Parse(" Admin ")
	assert.True(t, ok)
	assert.Equal(t, Admin, r)

	_, ok = Parse("superadmin")
	assert.False(t, ok)
}

func TestOwnerWildcard(t *testing.T) {
	set := Capabilities(Owner)
	assert.True(t, set.IsWildcard())
	assert.True(t, set.Grants(SecurityConfigure))
	assert.True(t, set.Grants(Capability("future.capability")))
	assert.Equal(t, []string{WildcardSentinel}, set.List())
}

func TestCatalogGrants(t *testing.T) {
	assert.True(t, Capabilities(Admin).Grants(MembersInvite))
	assert.True(t, Capabilities(Manager).Grants(MembersInvite))
	assert.False(t, Capabilities(Analyst).Grants(MembersInvite))
	assert.False(t, Capabilities(Viewer).Grants(MembersInvite))
	assert.True(t, Capabilities(Viewer).Grants(AnalyticsView))
	assert.False(t, Capabilities(Viewer).Grants(AnalyticsExport))
}

func TestUnknownRoleGrantsNothing(t *testing.T) {
	set := Capabilities(Role("superadmin"))
	assert.False(t, set.IsWildcard())
	assert.False(t, set.Grants(AnalyticsView))
	assert.Empty(t, set.List())
}

func TestCapabilityNamespace(t *testing.T) {
	assert.Equal(t, "members", MembersInvite.Area())
	assert.Equal(t, "invite", MembersInvite.Action())
}
