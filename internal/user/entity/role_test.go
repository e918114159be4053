package entity

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAtLeast(t *testing.T) {
	cases := []struct {
		role, threshold Role
		want            bool
	}{
		{RoleVisitor, RoleVisitor, true},
		{RoleVisitor, RoleExhibitor, false},
		{RoleExhibitor, RoleVolunteer, true},
		{RolePartner, RoleExhibitor, true},
		{RoleVolunteer, RoleAdmin, false},
		{RoleAdmin, RoleAdmin, true},
		{RoleSuperAdmin, RoleAdmin, true},
		{RoleAdmin, RoleSuperAdmin, false},
		{Role(42), RoleVisitor, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, AtLeast(c.role, c.threshold), "%s >= %s", c.role, c.threshold)
	}
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole(" super_admin ")
	require.NoError(t, err)
	assert.Equal(t, RoleSuperAdmin, r)

	_, err = ParseRole("root")
	assert.Error(t, err)
}

func TestRoleJSON(t *testing.T) {
	b, err := json.Marshal(struct {
		Role Role `json:"role"`
	}{RolePartner})
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"PARTNER"}`, string(b))

	var out struct {
		Role Role `json:"role"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"role":"ADMIN"}`), &out))
	assert.Equal(t, RoleAdmin, out.Role)
}

func TestRoleScanValue(t *testing.T) {
	var r Role
	require.NoError(t, r.Scan([]byte("VOLUNTEER")))
	assert.Equal(t, RoleVolunteer, r)

	v, err := RoleExhibitor.Value()
	require.NoError(t, err)
	assert.Equal(t, "EXHIBITOR", v)

	assert.Error(t, r.Scan(12))
}
