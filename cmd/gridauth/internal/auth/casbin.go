package auth

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

//go:embed model.conf
var casbinModelContent string

// WildcardPermission grants every resource and action.
const WildcardPermission = "*"

// PermissionChecker evaluates canonical resource:action permissions with Casbin.
// The model is parsed once; each check loads the caller's permissions as
// policies into a fresh enforcer, so no policy state is shared between requests.
type PermissionChecker struct {
	model model.Model
}

// NewPermissionChecker parses the embedded model.
func NewPermissionChecker() (*PermissionChecker, error) {
	m, err := model.NewModelFromString(casbinModelContent)
	if err != nil {
		return nil, fmt.Errorf("parse casbin model: %w", err)
	}
	return &PermissionChecker{model: m}, nil
}

// Allowed reports whether permissions grant resource:action.
// Supports "*" and "resource:*".
func (c *PermissionChecker) Allowed(permissions []string, required string) (bool, error) {
	resource, action, ok := strings.Cut(required, ":")
	if !ok || resource == "" || action == "" {
		return false, fmt.Errorf("required permission %q is not in resource:action form", required)
	}

	const subject = "principal"
	rules := make([][]string, 0, len(permissions))
	for _, perm := range permissions {
		if perm == WildcardPermission {
			rules = append(rules, []string{subject, "*", "*"})
			continue
		}
		res, act, ok := strings.Cut(perm, ":")
		if !ok || res == "" || act == "" {
			continue
		}
		rules = append(rules, []string{subject, res, act})
	}
	if len(rules) == 0 {
		return false, nil
	}

	enforcer, err := casbin.NewEnforcer(c.model.Copy())
	if err != nil {
		return false, fmt.Errorf("create casbin enforcer: %w", err)
	}
	if _, err := enforcer.AddPolicies(dedupeRules(rules)); err != nil {
		return false, fmt.Errorf("load permissions: %w", err)
	}

	allowed, err := enforcer.Enforce(subject, resource, action)
	if err != nil {
		return false, fmt.Errorf("enforce %s: %w", required, err)
	}
	return allowed, nil
}

// dedupeRules drops repeated rules; AddPolicies rejects batches with duplicates.
func dedupeRules(rules [][]string) [][]string {
	seen := make(map[string]struct{}, len(rules))
	out := rules[:0]
	for _, r := range rules {
		key := strings.Join(r, "|")
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}
