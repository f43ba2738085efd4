package auth

import (
	"context"
	"sort"

	"github.com/samber/oops"
)

// PermissionSet is a set of "resource:action" keys.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from keys.
func NewPermissionSet(keys ...string) PermissionSet {
	set := make(PermissionSet, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}

// Has reports whether key is in the set.
func (s PermissionSet) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// Missing returns the keys of required that are not in the set, in order.
func (s PermissionSet) Missing(required []string) []string {
	var missing []string
	for _, key := range required {
		if !s.Has(key) {
			missing = append(missing, key)
		}
	}
	return missing
}

// HasAll reports whether every key of required is present.
func (s PermissionSet) HasAll(required []string) bool {
	return len(s.Missing(required)) == 0
}

// Sorted returns the keys in lexical order.
func (s PermissionSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// PermissionResolver flattens a user's roles into a permission set.
type PermissionResolver struct {
	directory UserDirectory
}

// NewPermissionResolver creates a resolver over directory.
func NewPermissionResolver(directory UserDirectory) *PermissionResolver {
	return &PermissionResolver{directory: directory}
}

// Resolve returns the union of permissions granted through every role of
// userID. Results are read fresh on every call.
func (r *PermissionResolver) Resolve(ctx context.Context, userID string) (PermissionSet, error) {
	rows, err := r.directory.RolePermissionRows(ctx, userID)
	if err != nil {
		return nil, oops.Code("PERMISSIONS_RESOLVE_FAILED").With("user_id", userID).Wrap(err)
	}
	set := make(PermissionSet, len(rows))
	for _, row := range rows {
		set[FormatPermission(row.Resource, row.Action)] = struct{}{}
	}
	return set, nil
}
