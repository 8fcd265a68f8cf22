package storage

import (
	"encoding/json"
	"fmt"

	"github.com/artifortress/artifortress/pkg/errs"
	"github.com/artifortress/artifortress/pkg/types"
)

// marshalJSONList encodes a string slice for a jsonb column, mapping nil
// to an empty array so the column never holds JSON null.
func marshalJSONList(values []string) ([]byte, error) {
	if values == nil {
		values = []string{}
	}
	return json.Marshal(values)
}

func marshalRoles(roles []types.Role) ([]byte, error) {
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, string(role))
	}
	return marshalJSONList(names)
}

// parseRoles decodes a jsonb role list, dropping entries that no longer
// parse as known roles
func parseRoles(raw []byte) []types.Role {
	var names []string
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &names); err != nil {
			return nil
		}
	}
	roles := make([]types.Role, 0, len(names))
	for _, name := range names {
		role, err := types.ParseRole(name)
		if err != nil {
			continue
		}
		roles = append(roles, role)
	}
	return roles
}

func marshalScopes(scopes []types.Scope) ([]byte, error) {
	return marshalJSONList(types.ScopeStrings(scopes))
}

// parseScopes decodes a jsonb scope list back into the typed form
func parseScopes(raw []byte) []types.Scope {
	var entries []string
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil
		}
	}
	return types.ParseScopes(entries)
}

func errNotFoundRepo(key string) error {
	return errs.NotFound(fmt.Sprintf("repo %q not found", key))
}

func errNotFoundBinding(subject string) error {
	return errs.NotFound(fmt.Sprintf("role binding for %q not found", subject))
}
