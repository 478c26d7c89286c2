package todo

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrDecode is returned when a stored payload cannot be turned into a List.
var ErrDecode = errors.New("decode task list")

// schemaURL is the resource name the bundled schema is registered under.
const schemaURL = "todos.schema.json"

// bundledSchema describes the stored task list.
const bundledSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "title": "Todos",
  "type": "array",
  "items": {
    "type": "object",
    "required": ["id", "title", "description", "completed"],
    "properties": {
      "id": { "type": "integer" },
      "title": { "type": "string" },
      "description": { "type": "string" },
      "completed": { "type": "boolean" }
    }
  }
}`

var compileSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	return jsonschema.CompileString(schemaURL, bundledSchema)
})

// BundledSchema returns the JSON Schema used by Decode.
func BundledSchema() []byte {
	return []byte(bundledSchema)
}

// ValidationError represents a validation error with context.
type ValidationError struct {
	Path string // path to the offending value, e.g. "[2].completed"
	Err  error
}

func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Encode serializes the list as a JSON array. A nil list encodes as [].
func Encode(l List) ([]byte, error) {
	if l == nil {
		l = List{}
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("marshal task list: %w", err)
	}
	return data, nil
}

// EncodeIndent is Encode with 2-space indentation and a trailing newline.
func EncodeIndent(l List) ([]byte, error) {
	if l == nil {
		l = List{}
	}
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal task list: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode validates data against the bundled schema and unmarshals it.
func Decode(data []byte) (List, error) {
	if errs := Validate(data); len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrDecode, errors.Join(errs...))
	}

	var l List
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if l == nil {
		l = List{}
	}
	return l, nil
}

// Validate checks data against the bundled schema. It returns nil when the
// payload is a valid task list.
func Validate(data []byte) []error {
	schema, err := compileSchema()
	if err != nil {
		return []error{fmt.Errorf("compile bundled schema: %w", err)}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return []error{&ValidationError{Err: fmt.Errorf("invalid JSON: %w", err)}}
	}

	if err := schema.Validate(doc); err != nil {
		var errs []error
		ve, ok := err.(*jsonschema.ValidationError)
		if !ok {
			return []error{err}
		}
		collectSchemaErrors(&errs, ve)
		return errs
	}
	return nil
}

func collectSchemaErrors(errs *[]error, err *jsonschema.ValidationError) {
	if err == nil {
		return
	}

	if len(err.Causes) == 0 {
		*errs = append(*errs, &ValidationError{
			Path: jsonPointerToPath(err.InstanceLocation),
			Err:  errors.New(err.Message),
		})
		return
	}

	for _, cause := range err.Causes {
		collectSchemaErrors(errs, cause)
	}
}

// jsonPointerToPath turns "/2/completed" into "[2].completed".
func jsonPointerToPath(ptr string) string {
	ptr = strings.TrimPrefix(ptr, "#")
	ptr = strings.TrimPrefix(ptr, "/")
	if ptr == "" {
		return ""
	}

	var b strings.Builder
	for _, part := range strings.Split(ptr, "/") {
		part = strings.ReplaceAll(part, "~1", "/")
		part = strings.ReplaceAll(part, "~0", "~")
		if part == "" {
			continue
		}
		if idx, err := strconv.Atoi(part); err == nil {
			fmt.Fprintf(&b, "[%d]", idx)
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(part)
	}
	return b.String()
}
