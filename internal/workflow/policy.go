package workflow

import "sort"

// Capability is a permission a role may hold.
type Capability string

const (
	CapApproveWithoutValidation Capability = "approve_without_validation"
	CapEditApplication          Capability = "edit_application"
	CapViewClients              Capability = "view_clients"
	CapViewAnalytics            Capability = "view_analytics"
	CapSubmitApplication        Capability = "submit_application"
	CapContestDecision          Capability = "contest_decision"
	CapViewAudit                Capability = "view_audit"
	CapManageUsers              Capability = "manage_users"
)

// KnownCapabilities lists every capability the engine and API check.
func KnownCapabilities() []Capability {
	return []Capability{
		CapApproveWithoutValidation,
		CapEditApplication,
		CapViewClients,
		CapViewAnalytics,
		CapSubmitApplication,
		CapContestDecision,
		CapViewAudit,
		CapManageUsers,
	}
}

// Policy answers whether a role holds a capability.
type Policy interface {
	HasPermission(role string, capability Capability) bool
}

// RolePolicy is a capability set per role. It is immutable after construction.
type RolePolicy struct {
	roles map[string]map[Capability]struct{}
}

// NewRolePolicy builds a policy from role → capabilities.
func NewRolePolicy(roles map[string][]Capability) *RolePolicy {
	p := &RolePolicy{roles: make(map[string]map[Capability]struct{}, len(roles))}
	for role, caps := range roles {
		set := make(map[Capability]struct{}, len(caps))
		for _, c := range caps {
			set[c] = struct{}{}
		}
		p.roles[role] = set
	}
	return p
}

// DefaultRolePolicy mirrors the role table the web client ships with.
func DefaultRolePolicy() *RolePolicy {
	agent := []Capability{
		CapApproveWithoutValidation,
		CapEditApplication,
		CapViewClients,
		CapSubmitApplication,
		CapContestDecision,
	}
	manager := append(append([]Capability{}, agent...), CapViewAnalytics, CapViewAudit)
	return NewRolePolicy(map[string][]Capability{
		"client":  {CapSubmitApplication, CapContestDecision},
		"agent":   agent,
		"manager": manager,
		"admin":   KnownCapabilities(),
	})
}

func (p *RolePolicy) HasPermission(role string, capability Capability) bool {
	caps, ok := p.roles[role]
	if !ok {
		return false
	}
	_, ok = caps[capability]
	return ok
}

// HasRole reports whether role is defined.
func (p *RolePolicy) HasRole(role string) bool {
	_, ok := p.roles[role]
	return ok
}

// Roles returns the defined role names, sorted.
func (p *RolePolicy) Roles() []string {
	out := make([]string, 0, len(p.roles))
	for r := range p.roles {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// Capabilities returns the sorted capabilities of a role.
func (p *RolePolicy) Capabilities(role string) []Capability {
	caps := p.roles[role]
	out := make([]Capability, 0, len(caps))
	for c := range caps {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
