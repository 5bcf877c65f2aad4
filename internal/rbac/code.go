package rbac

import (
	"fmt"
	"strings"
)

// PermissionCode returns the canonical code lower(resource):lower(action).
func PermissionCode(resource Resource, action Action) string {
	return strings.ToLower(string(resource)) + ":" + strings.ToLower(string(action))
}

// CatalogCode appends a scope suffix to the canonical code. The suffix only
// distinguishes catalog entries; matching always uses resource and action.
func CatalogCode(resource Resource, action Action, scope Scope) string {
	return PermissionCode(resource, action) + ":" + strings.ToLower(string(scope))
}

// ParseCode splits a permission code into resource and action. A trailing
// scope segment is accepted and ignored.
func ParseCode(code string) (Resource, Action, error) {
	parts := strings.Split(strings.TrimSpace(code), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return "", "", fmt.Errorf("%w: malformed permission code %q", ErrValidation, code)
	}
	resource := normalizeResource(Resource(parts[0]))
	action := normalizeAction(Action(parts[1]))
	if !resource.Valid() {
		return "", "", fmt.Errorf("%w: permission code %q has no resource", ErrValidation, code)
	}
	if !action.Valid() {
		return "", "", fmt.Errorf("%w: permission code %q has unknown action", ErrValidation, code)
	}
	if len(parts) == 3 {
		if scope := Scope(strings.ToUpper(strings.TrimSpace(parts[2]))); !scope.Valid() {
			return "", "", fmt.Errorf("%w: permission code %q has unknown scope", ErrValidation, code)
		}
	}
	return resource, action, nil
}

func normalizeResource(r Resource) Resource {
	return Resource(strings.ToUpper(strings.TrimSpace(string(r))))
}

func normalizeAction(a Action) Action {
	return Action(strings.ToUpper(strings.TrimSpace(string(a))))
}

func normalizeCode(code string) string {
	return strings.TrimSpace(strings.ToLower(code))
}
