package auth

import (
	"fmt"
	"strings"

	"github.com/artifortress/artifortress/pkg/types"
)

// RoleMapping promotes an identity-provider claim to a repository scope.
// A principal whose claim named Claim carries Value receives Role on the
// repositories matched by RepoPattern (an exact key or "*").
type RoleMapping struct {
	Claim       string
	Value       string
	RepoPattern string
	Role        types.Role
}

// ParseRoleMappings parses the configured mapping list. The wire form is
// comma-separated entries of "claim|value|repoPattern|role", for example
// "groups|af-admins|*|admin,groups|af-readers|maven-releases|read".
// An empty string yields no mappings. Malformed entries are an error so a
// bad deployment config fails at startup instead of silently dropping
// grants.
func ParseRoleMappings(raw string) ([]RoleMapping, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	entries := strings.Split(raw, ",")
	mappings := make([]RoleMapping, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, "|")
		if len(parts) != 4 {
			return nil, fmt.Errorf("role mapping %q must have four '|'-separated fields", entry)
		}
		claim := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		pattern := types.NormalizeRepoKey(parts[2])
		if claim == "" || value == "" || pattern == "" {
			return nil, fmt.Errorf("role mapping %q has an empty field", entry)
		}
		role, err := types.ParseRole(parts[3])
		if err != nil {
			return nil, fmt.Errorf("role mapping %q: %w", entry, err)
		}
		mappings = append(mappings, RoleMapping{
			Claim:       claim,
			Value:       value,
			RepoPattern: pattern,
			Role:        role,
		})
	}
	return mappings, nil
}

// ApplyRoleMappings derives scopes from claim values. claims maps a claim
// name to the values the credential carried for it; string claims become a
// single-element slice at extraction time. Duplicate grants collapse to one
// scope.
func ApplyRoleMappings(mappings []RoleMapping, claims map[string][]string) []types.Scope {
	scopes := make([]types.Scope, 0, len(mappings))
	seen := make(map[types.Scope]struct{}, len(mappings))
	for _, m := range mappings {
		values, ok := claims[m.Claim]
		if !ok {
			continue
		}
		for _, v := range values {
			if v != m.Value {
				continue
			}
			scope := types.Scope{RepoKey: m.RepoPattern, Role: m.Role}
			if _, dup := seen[scope]; dup {
				break
			}
			seen[scope] = struct{}{}
			scopes = append(scopes, scope)
			break
		}
	}
	return scopes
}
