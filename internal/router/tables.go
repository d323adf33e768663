package router

import (
	_ "embed"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed tables.yaml
var tablesYAML []byte

// Tables is the parsed routing table document.
type Tables struct {
	Version       int                       `yaml:"version"`
	Capabilities  map[string]capabilityRow  `yaml:"capabilities"`
	Triggers      []Trigger                 `yaml:"triggers"`
	ReviewRoles   []Role                    `yaml:"review_roles"`
	ApprovalRoles []Role                    `yaml:"approval_roles"`
	Fallbacks     map[Role]Role             `yaml:"fallbacks"`
	Authorities   map[string]Role           `yaml:"authorities"`
}

type capabilityRow struct {
	Primary    Role   `yaml:"primary"`
	Supporting []Role `yaml:"supporting"`
}

// Trigger injects a cross-cutting role when any of its keywords appear in
// the task description.
type Trigger struct {
	Role     Role     `yaml:"role"`
	Keywords []string `yaml:"keywords"`
}

// LoadTables parses and validates the embedded routing tables.
func LoadTables() (*Tables, error) {
	return parseTables(tablesYAML)
}

func parseTables(data []byte) (*Tables, error) {
	var t Tables
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse routing tables: %w", err)
	}
	if err := t.validate(); err != nil {
		return nil, fmt.Errorf("invalid routing tables: %w", err)
	}
	return &t, nil
}

// validate rejects tables that would produce non-deterministic or
// unroutable chains.
func (t *Tables) validate() error {
	if t.Version < 1 {
		return fmt.Errorf("version must be at least 1, got %d", t.Version)
	}
	if len(t.Capabilities) == 0 {
		return fmt.Errorf("capability matrix is empty")
	}
	for taskType, row := range t.Capabilities {
		if row.Primary == "" {
			return fmt.Errorf("task type %q has no primary role", taskType)
		}
	}
	seenTrigger := make(map[Role]struct{})
	for _, trig := range t.Triggers {
		if trig.Role == "" {
			return fmt.Errorf("trigger with empty role")
		}
		if len(trig.Keywords) == 0 {
			return fmt.Errorf("trigger for %s has no keywords", trig.Role)
		}
		if _, dup := seenTrigger[trig.Role]; dup {
			return fmt.Errorf("duplicate trigger entry for role %s", trig.Role)
		}
		seenTrigger[trig.Role] = struct{}{}
	}
	for failed, alt := range t.Fallbacks {
		if failed == alt {
			return fmt.Errorf("role %s falls back to itself", failed)
		}
	}
	return nil
}

// Roles returns every role the tables can route to, sorted and deduped.
func (t *Tables) Roles() []Role {
	seen := make(map[Role]struct{})
	for _, row := range t.Capabilities {
		seen[row.Primary] = struct{}{}
		for _, r := range row.Supporting {
			seen[r] = struct{}{}
		}
	}
	for _, trig := range t.Triggers {
		seen[trig.Role] = struct{}{}
	}
	for _, r := range t.ReviewRoles {
		seen[r] = struct{}{}
	}
	for _, r := range t.ApprovalRoles {
		seen[r] = struct{}{}
	}
	for failed, alt := range t.Fallbacks {
		seen[failed] = struct{}{}
		seen[alt] = struct{}{}
	}
	for _, r := range t.Authorities {
		seen[r] = struct{}{}
	}
	roles := make([]Role, 0, len(seen))
	for r := range seen {
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}

// AuthorityFor returns the single role with authority over a conflict
// domain, or false when the domain has no registered authority.
func (t *Tables) AuthorityFor(domain string) (Role, bool) {
	role, ok := t.Authorities[domain]
	return role, ok
}
