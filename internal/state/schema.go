package state

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/felho/pairflow/internal/pferrors"
)

// schemaOnce compiles the structural JSON Schema for Snapshot exactly
// once, the same lazy-init discipline the teacher applies to its own
// package-level parser tables.
var (
	schemaOnce     sync.Once
	resolvedSchema *jsonschema.Resolved
	schemaInitErr  error
)

// compiledSchema derives a JSON Schema document from the Snapshot
// struct's own field tags via jsonschema.For, resolves it, and caches
// the result. This catches structural drift (wrong JSON types, stray
// fields) the hand-written Validate checks in state.go don't look
// for — those checks encode the spec's semantic invariants (I1, I4)
// a generic schema can't express, and remain authoritative; this
// is a second, independent pass.
func compiledSchema() (*jsonschema.Resolved, error) {
	schemaOnce.Do(func() {
		schema, err := jsonschema.For[Snapshot](nil)
		if err != nil {
			schemaInitErr = fmt.Errorf("deriving state snapshot schema: %w", err)
			return
		}
		resolvedSchema, schemaInitErr = schema.Resolve(nil)
	})
	return resolvedSchema, schemaInitErr
}

// validateAgainstSchema re-decodes data as a generic JSON value and
// checks it against the compiled schema, returning any structural
// violations as FieldErrors. A schema-compilation failure is swallowed
// rather than surfaced per document: the hand-written Validate pass
// already ran and remains the authoritative check.
func validateAgainstSchema(data []byte) []pferrors.FieldError {
	resolved, err := compiledSchema()
	if err != nil {
		return nil
	}

	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil
	}

	if err := resolved.Validate(generic); err != nil {
		return []pferrors.FieldError{{Path: "$", Message: fmt.Sprintf("schema: %v", err)}}
	}
	return nil
}
