package auth

import (
	"fmt"

	"github.com/artifortress/artifortress/pkg/errs"
	"github.com/artifortress/artifortress/pkg/types"
)

// HasRole reports whether the scope set grants required on repoKey.
// A scope matches when its key equals the normalized repoKey or is the
// wildcard "*", and its role implies the required role. Adding scopes
// can only widen the answer, never narrow it.
func HasRole(scopes []types.Scope, repoKey string, required types.Role) bool {
	key := types.NormalizeRepoKey(repoKey)
	for _, scope := range scopes {
		if scope.RepoKey != "*" && scope.RepoKey != key {
			continue
		}
		if scope.Role.Implies(required) {
			return true
		}
	}
	return false
}

// RequireRole returns Forbidden when the principal lacks required on repoKey.
// The credential itself is already valid at this point, so the failure is
// an authorization failure, never Unauthorized.
func RequireRole(principal types.Principal, repoKey string, required types.Role) error {
	if HasRole(principal.Scopes, repoKey, required) {
		return nil
	}
	return errs.Forbidden(fmt.Sprintf("subject %q lacks role %q on repo %q", principal.Subject, required, types.NormalizeRepoKey(repoKey)))
}
