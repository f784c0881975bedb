package tenancy

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-bexpr"

	"github.com/terraconstructs/grid/cmd/gridauth/internal/db/models"
)

// Filter selects tenants with a go-bexpr expression, for example:
//
//	status == "active" and "consumer" in connection_types
//	code matches "^acme-"
//
// Fields: code, name, status, connection_types, directories.
type Filter struct {
	evaluator *bexpr.Evaluator
}

// NewFilter compiles expr. An empty expression matches every tenant.
func NewFilter(expr string) (*Filter, error) {
	if strings.TrimSpace(expr) == "" {
		return &Filter{}, nil
	}
	evaluator, err := bexpr.CreateEvaluator(expr)
	if err != nil {
		return nil, fmt.Errorf("compile tenant filter %q: %w", expr, err)
	}
	return &Filter{evaluator: evaluator}, nil
}

// Match reports whether tenant satisfies the expression.
// Evaluation errors (e.g. an unknown field) do not match.
func (f *Filter) Match(tenant *models.Tenant) bool {
	if f.evaluator == nil {
		return true
	}
	matches, err := f.evaluator.Evaluate(tenantFields(tenant))
	if err != nil {
		return false
	}
	return matches
}

// Apply returns the tenants that match, preserving order.
func (f *Filter) Apply(tenants []models.Tenant) []models.Tenant {
	out := make([]models.Tenant, 0, len(tenants))
	for i := range tenants {
		if f.Match(&tenants[i]) {
			out = append(out, tenants[i])
		}
	}
	return out
}

func tenantFields(t *models.Tenant) map[string]any {
	connectionTypes := []string{}
	directories := []string{}
	seen := map[models.ConnectionType]bool{}
	for _, b := range t.Bindings {
		if !b.IsActive {
			continue
		}
		directories = append(directories, b.DirectoryID)
		if !seen[b.ConnectionType] {
			seen[b.ConnectionType] = true
			connectionTypes = append(connectionTypes, string(b.ConnectionType))
		}
	}
	return map[string]any{
		"code":             t.Code,
		"name":             t.Name,
		"status":           t.Status,
		"connection_types": connectionTypes,
		"directories":      directories,
	}
}
