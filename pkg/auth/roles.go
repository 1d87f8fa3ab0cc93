package auth

import (
	"slices"
	"sort"
)

// Permission grants Actions on Resource. "*" is a wildcard for either.
type Permission struct {
	Resource string   `json:"resource" yaml:"resource"`
	Actions  []string `json:"actions" yaml:"actions"`
}

// Allows reports whether the permission grants action on resource.
func (p Permission) Allows(resource, action string) bool {
	if p.Resource != "*" && p.Resource != resource {
		return false
	}
	return slices.Contains(p.Actions, action) || slices.Contains(p.Actions, "*")
}

type Role struct {
	ID          string       `json:"id" yaml:"id"`
	Name        string       `json:"name" yaml:"name"`
	Permissions []Permission `json:"permissions" yaml:"permissions"`
}

// Can reports whether any permission of the role grants action on resource.
func (r Role) Can(resource, action string) bool {
	for _, p := range r.Permissions {
		if p.Allows(resource, action) {
			return true
		}
	}
	return false
}

// HasPermission reports whether any of roles grants action on resource.
func HasPermission(roles []Role, resource, action string) bool {
	for _, r := range roles {
		if r.Can(resource, action) {
			return true
		}
	}
	return false
}

// Claims is a decoded JWT claim set.
type Claims map[string]any

func (c Claims) String(key string) string {
	v, _ := c[key].(string)
	return v
}

// ExtractRoles collects role names from Keycloak style claim sets: the realm
// wide realm_access.roles list followed by resource_access.<client>.roles for
// every client, clients in lexical order. Duplicates keep their first position.
func ExtractRoles(claimSets ...Claims) []string {
	roles := []string{}
	seen := map[string]struct{}{}
	add := func(values []string) {
		for _, v := range values {
			if v == "" {
				continue
			}
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			roles = append(roles, v)
		}
	}
	for _, claims := range claimSets {
		if claims == nil {
			continue
		}
		if realm, ok := claims["realm_access"].(map[string]any); ok {
			add(stringList(realm["roles"]))
		}
		resources, ok := claims["resource_access"].(map[string]any)
		if !ok {
			continue
		}
		clients := make([]string, 0, len(resources))
		for client := range resources {
			clients = append(clients, client)
		}
		sort.Strings(clients)
		for _, client := range clients {
			if access, ok := resources[client].(map[string]any); ok {
				add(stringList(access["roles"]))
			}
		}
	}
	return roles
}

func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
