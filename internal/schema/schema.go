// Package schema generates and enforces a JSON Schema for
// model.ChangeData, adapted from the teacher's pkg/schema Cache/Registry
// pattern: a schema is generated once from the Go type via
// alecthomas/jsonschema and cached, then every detected change is validated
// against it with xeipuuv/gojsonschema before it is allowed onto the event
// writer's insert path. A change that fails validation is an invariant bug
// in the diff engine, not a marketplace problem, so it is surfaced as a
// *errs.FatalError rather than skipped.
package schema

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/alecthomas/jsonschema"
	"github.com/xeipuuv/gojsonschema"

	"github.com/tommytoolman/marketsync/internal/errs"
	"github.com/tommytoolman/marketsync/internal/model"
)

// Registry caches one compiled gojsonschema.Schema per change_type, since
// ChangeData is the same Go struct for every kind of change but each kind
// legitimately uses a different subset of its optional fields.
type Registry struct {
	mu    sync.RWMutex
	cache map[model.ChangeType]*gojsonschema.Schema
}

// NewRegistry builds an empty registry; schemas are generated lazily on
// first validation per change type.
func NewRegistry() *Registry {
	return &Registry{cache: make(map[model.ChangeType]*gojsonschema.Schema)}
}

// Validate checks data against the generated schema for changeType,
// returning a *errs.FatalError describing every violation when it fails.
func (r *Registry) Validate(changeType model.ChangeType, data model.ChangeData) error {
	schema, err := r.schemaFor(changeType)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return &errs.FatalError{Op: "schema.Validate", Err: err}
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return &errs.FatalError{Op: "schema.Validate", Err: err}
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return &errs.FatalError{Op: "schema.Validate", Err: fmt.Errorf("change_data invalid for %s: %v", changeType, msgs)}
	}
	return nil
}

func (r *Registry) schemaFor(changeType model.ChangeType) (*gojsonschema.Schema, error) {
	r.mu.RLock()
	s, ok := r.cache[changeType]
	r.mu.RUnlock()
	if ok {
		return s, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.cache[changeType]; ok {
		return s, nil
	}

	reflector := &jsonschema.Reflector{ExpandedStruct: true, RequiredFromJSONSchemaTags: false}
	rawSchema := reflector.Reflect(&model.ChangeData{})
	addRequiredFields(rawSchema, changeType)

	b, err := json.Marshal(rawSchema)
	if err != nil {
		return nil, &errs.FatalError{Op: "schema.schemaFor", Err: err}
	}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(b))
	if err != nil {
		return nil, &errs.FatalError{Op: "schema.schemaFor", Err: err}
	}
	r.cache[changeType] = compiled
	return compiled, nil
}

// addRequiredFields tightens the generically-generated schema per change
// type, since e.g. a price change must carry old_price/new_price while a
// new_listing change must carry a title.
func addRequiredFields(s *jsonschema.Schema, changeType model.ChangeType) {
	// The reflector runs with ExpandedStruct, so ChangeData's properties sit
	// on the root type rather than under Definitions.
	def := s.Type
	if def == nil {
		return
	}
	switch changeType {
	case model.ChangePrice:
		def.Required = append(def.Required, "old_price", "new_price")
	case model.ChangeQuantityChange:
		def.Required = append(def.Required, "old_quantity", "new_quantity")
	case model.ChangeStatusChange:
		def.Required = append(def.Required, "old_status", "new_status")
	case model.ChangeNewListing:
		def.Required = append(def.Required, "new_status", "title")
	case model.ChangeRemovedListing:
		def.Required = append(def.Required, "old_status")
	}
}
