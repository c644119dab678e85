package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// FieldError is one flattened validation failure, reported in the shape
// spec.md §4.C specifies: a human message plus, where applicable, the
// expected value or type.
type FieldError struct {
	Path     string `json:"path,omitempty"`
	Message  string `json:"message"`
	Expected string `json:"expected,omitempty"`
}

// Result is the outcome of validating a single set of arguments.
type Result struct {
	Valid  bool
	Errors []FieldError
}

// Validator compiles and caches a JSON Schema validator per tool name.
type Validator struct {
	mu    sync.RWMutex
	byTool map[string]*jsonschema.Resolved
}

// New constructs an empty Validator.
func New() *Validator {
	return &Validator{byTool: make(map[string]*jsonschema.Resolved)}
}

// Register compiles schemaDoc (a JSON Schema document expressed as a Go
// map, the shape mcp.Tool.InputSchema carries) and caches it under name.
// Registration is expected to happen once, at tool-registration time; a
// compile failure there is a configuration error, not a request error.
func (v *Validator) Register(name string, schemaDoc map[string]any) error {
	if schemaDoc == nil {
		return nil
	}
	b, err := json.Marshal(schemaDoc)
	if err != nil {
		return fmt.Errorf("validation: marshal schema for %q: %w", name, err)
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(b, &schema); err != nil {
		return fmt.Errorf("validation: parse schema for %q: %w", name, err)
	}
	resolved, err := schema.Resolve(&jsonschema.ResolveOptions{ValidateDefaults: true})
	if err != nil {
		return fmt.Errorf("validation: compile schema for %q: %w", name, err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.byTool[name] = resolved
	return nil
}

// Unregister drops a cached validator, mirroring LiveRegister/Unregister on
// the tool registry.
func (v *Validator) Unregister(name string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.byTool, name)
}

// Validate runs args through the compiled schema for name. A tool with no
// registered schema always validates.
func (v *Validator) Validate(name string, args map[string]any) Result {
	v.mu.RLock()
	resolved, ok := v.byTool[name]
	v.mu.RUnlock()
	if !ok || resolved == nil {
		return Result{Valid: true}
	}

	err := resolved.Validate(args)
	if err == nil {
		return Result{Valid: true}
	}
	return Result{Valid: false, Errors: flatten(err)}
}

// ValidateOrThrow runs Validate and, on failure, returns a single error
// joining every flattened message with "; ".
func (v *Validator) ValidateOrThrow(name string, args map[string]any) error {
	res := v.Validate(name, args)
	if res.Valid {
		return nil
	}
	msgs := make([]string, len(res.Errors))
	for i, e := range res.Errors {
		msgs[i] = e.Message
	}
	return fmt.Errorf("validation failed: %s", strings.Join(msgs, "; "))
}

// flatten turns the underlying schema engine's error (possibly an
// errors.Join tree of per-keyword failures) into the field-error shape
// spec.md §4.C's flattening rules describe. The engine's error type is not
// part of this package's stable surface, so classification is done on the
// rendered message text rather than by reaching into engine internals.
func flatten(err error) []FieldError {
	var leaves []error
	collectLeaves(err, &leaves)
	if len(leaves) == 0 {
		leaves = []error{err}
	}

	out := make([]FieldError, 0, len(leaves))
	for _, leaf := range leaves {
		out = append(out, classify(leaf.Error()))
	}
	return out
}

func collectLeaves(err error, out *[]error) {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			collectLeaves(e, out)
		}
		return
	}
	*out = append(*out, err)
}

func classify(msg string) FieldError {
	lower := strings.ToLower(msg)
	path := extractPath(msg)

	switch {
	case strings.Contains(lower, "required"):
		return FieldError{Path: path, Message: "Missing required property: " + propertyFromMessage(msg)}
	case strings.Contains(lower, "type"):
		expected := expectedFromMessage(msg)
		return FieldError{Path: path, Message: fmt.Sprintf("Property %s must be %s", orRoot(path), expected), Expected: expected}
	case strings.Contains(lower, "enum"):
		return FieldError{Path: path, Message: msg}
	case strings.Contains(lower, "minimum"), strings.Contains(lower, "maximum"),
		strings.Contains(lower, "minlength"), strings.Contains(lower, "maxlength"),
		strings.Contains(lower, "pattern"), strings.Contains(lower, "additionalproperties"):
		return FieldError{Path: path, Message: msg, Expected: expectedFromMessage(msg)}
	default:
		if path != "" {
			return FieldError{Path: path, Message: fmt.Sprintf("Validation failed at %s", path)}
		}
		return FieldError{Message: msg}
	}
}

// extractPath pulls a JSON-pointer-like path out of an engine error message
// when present (most JSON Schema engines render one, e.g. "#/properties/foo"
// or "at /foo").
func extractPath(msg string) string {
	if i := strings.Index(msg, "#/"); i >= 0 {
		end := i + 2
		for end < len(msg) && !isSep(msg[end]) {
			end++
		}
		return msg[i:end]
	}
	if i := strings.Index(msg, " at /"); i >= 0 {
		start := i + 4
		end := start
		for end < len(msg) && !isSep(msg[end]) {
			end++
		}
		return msg[start:end]
	}
	return ""
}

func isSep(b byte) bool { return b == ' ' || b == ':' || b == ',' }

func propertyFromMessage(msg string) string {
	if i := strings.LastIndex(msg, "\""); i > 0 {
		if j := strings.LastIndex(msg[:i], "\""); j >= 0 {
			return msg[j+1 : i]
		}
	}
	return msg
}

func expectedFromMessage(msg string) string {
	fields := strings.Fields(msg)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

func orRoot(path string) string {
	if path == "" {
		return "(root)"
	}
	return path
}
