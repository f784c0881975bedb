package iam

import (
	"sort"
	"strings"

	"github.com/terraconstructs/grid/cmd/gridauth/internal/auth"
)

// NormalizePermission returns the canonical lowercase resource:action form.
//
// Legacy RESOURCE_ACTION codes have their first underscore replaced with a
// colon; codes that already contain a colon are only lowercased.
func NormalizePermission(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" || code == auth.WildcardPermission || strings.Contains(code, ":") {
		return code
	}
	return strings.Replace(code, "_", ":", 1)
}

// NormalizePermissions normalizes and de-duplicates codes. The result is
// sorted and never nil.
func NormalizePermissions(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		n := NormalizePermission(c)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
