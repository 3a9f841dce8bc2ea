// Package policy loads the role → capability table from YAML.
package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/creditdesk/creditdesk/internal/workflow"
)

// File is the on-disk shape of a policy.
type File struct {
	Version int                 `yaml:"version"`
	Roles   map[string][]string `yaml:"roles"`
}

// Loaded is a parsed policy plus the digest of the bytes it came from.
type Loaded struct {
	Policy *workflow.RolePolicy
	Hash   string
}

// Load reads and parses a policy file.
func Load(path string) (Loaded, error) {
	// #nosec G304 -- path comes from operator configuration.
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, fmt.Errorf("failed to read policy file: %w", err)
	}
	return Parse(data)
}

// Parse validates a YAML policy. Unknown capabilities are rejected rather
// than ignored so that a typo cannot silently remove a permission.
func Parse(data []byte) (Loaded, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Loaded{}, fmt.Errorf("failed to parse policy: %w", err)
	}
	if len(f.Roles) == 0 {
		return Loaded{}, fmt.Errorf("policy defines no roles")
	}

	known := make(map[workflow.Capability]bool)
	for _, c := range workflow.KnownCapabilities() {
		known[c] = true
	}

	roles := make(map[string][]workflow.Capability, len(f.Roles))
	var unknown []string
	for role, caps := range f.Roles {
		role = strings.TrimSpace(role)
		if role == "" || role == workflow.SystemRole {
			return Loaded{}, fmt.Errorf("invalid role name %q", role)
		}
		for _, c := range caps {
			capability := workflow.Capability(strings.TrimSpace(c))
			if !known[capability] {
				unknown = append(unknown, role+"."+c)
				continue
			}
			roles[role] = append(roles[role], capability)
		}
		if _, ok := roles[role]; !ok {
			roles[role] = nil
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return Loaded{}, fmt.Errorf("unknown capabilities: %s", strings.Join(unknown, ", "))
	}

	sum := sha256.Sum256(data)
	return Loaded{
		Policy: workflow.NewRolePolicy(roles),
		Hash:   "sha256:" + hex.EncodeToString(sum[:]),
	}, nil
}
