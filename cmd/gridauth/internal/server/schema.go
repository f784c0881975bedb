package server

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/terraconstructs/grid/cmd/gridauth/internal/apierror"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Request schema names, one file per name under schemas/.
const (
	schemaAuthenticate    = "authenticate"
	schemaRefresh         = "refresh"
	schemaCreateRole      = "create_role"
	schemaGrantPermission = "grant_permission"
	schemaAssignRole      = "assign_role"
)

// maxRequestBody caps request bodies before they are parsed.
const maxRequestBody = 64 << 10

// requestValidator holds the compiled request schemas.
type requestValidator struct {
	schemas map[string]*jsonschema.Schema
}

func newRequestValidator() (*requestValidator, error) {
	names := []string{schemaAuthenticate, schemaRefresh, schemaCreateRole, schemaGrantPermission, schemaAssignRole}

	compiler := jsonschema.NewCompiler()
	compiler.DefaultDraft(jsonschema.Draft7)

	v := &requestValidator{schemas: make(map[string]*jsonschema.Schema, len(names))}
	for _, name := range names {
		raw, err := schemaFS.ReadFile("schemas/" + name + ".json")
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", name, err)
		}
		parsed, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", name, err)
		}
		url := name + ".json"
		if err := compiler.AddResource(url, parsed); err != nil {
			return nil, fmt.Errorf("add schema resource %s: %w", name, err)
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		v.schemas[name] = schema
	}
	return v, nil
}

// decode validates the request body against the named schema and unmarshals it into dst.
// Any failure is an apierror.InvalidRequestError.
func (v *requestValidator) decode(r *http.Request, name string, dst any) error {
	schema, ok := v.schemas[name]
	if !ok {
		return fmt.Errorf("unknown request schema %q", name)
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil {
		return apierror.Invalid("request body could not be read", err)
	}
	if len(body) > maxRequestBody {
		return apierror.Invalid("request body too large", nil)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return apierror.Invalid("request body is required", nil)
	}

	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return apierror.Invalid("request body is not valid JSON", err)
	}
	if err := schema.Validate(instance); err != nil {
		return apierror.Invalid(formatValidationError(err), err)
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return apierror.Invalid("request body does not match the expected shape", err)
	}
	return nil
}

// formatValidationError reports the first failing location with the library message.
func formatValidationError(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}

	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}

	path := "$"
	if len(leaf.InstanceLocation) > 0 {
		path = "$." + strings.Join(leaf.InstanceLocation, ".")
	}

	msg := leaf.Error()
	if len(msg) > 200 {
		msg = msg[:200] + "... (truncated)"
	}
	return fmt.Sprintf("%s: %s", path, msg)
}
