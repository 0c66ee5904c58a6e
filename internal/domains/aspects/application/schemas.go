package application

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/domain"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/ports"
)

var _ ports.SchemaRegistry = (*SchemaRegistry)(nil)

type aspectSchema struct {
	// entityTypes lists the entity types the aspect may attach to; empty means any.
	entityTypes []string
	newValue    func() any
}

// SchemaRegistry maps aspect names to their Go schema types.
type SchemaRegistry struct {
	mu       sync.RWMutex
	schemas  map[string]aspectSchema
	validate *validator.Validate
}

// NewSchemaRegistry returns a registry with no aspects registered.
func NewSchemaRegistry() *SchemaRegistry {
	v := validator.New()
	_ = v.RegisterValidation("urn", func(fl validator.FieldLevel) bool {
		_, err := domain.ParseEntityUrn(fl.Field().String())
		return err == nil
	})
	v.RegisterStructValidation(validateTestDefinition, domain.TestDefinition{})
	return &SchemaRegistry{schemas: map[string]aspectSchema{}, validate: v}
}

// DefaultSchemaRegistry registers the built-in catalog aspects.
func DefaultSchemaRegistry() *SchemaRegistry {
	r := NewSchemaRegistry()
	r.Register(domain.AspectGlossaryNodeInfo, func() any { return &domain.GlossaryNodeInfo{} }, domain.EntityGlossaryNode)
	r.Register(domain.AspectGlossaryTermInfo, func() any { return &domain.GlossaryTermInfo{} }, domain.EntityGlossaryTerm)
	r.Register(domain.AspectGlossaryRelatedTerms, func() any { return &domain.GlossaryRelatedTerms{} }, domain.EntityGlossaryTerm)
	r.Register(domain.AspectTestInfo, func() any { return &domain.TestInfo{} }, domain.EntityTest)
	r.Register(domain.AspectOwnership, func() any { return &domain.Ownership{} })
	r.Register(domain.AspectStatus, func() any { return &domain.Status{} })
	return r
}

// Register declares an aspect schema. newValue must return a pointer to a struct.
func (r *SchemaRegistry) Register(aspectName string, newValue func() any, entityTypes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[aspectName] = aspectSchema{entityTypes: entityTypes, newValue: newValue}
}

// Known reports whether the aspect has a declared schema.
func (r *SchemaRegistry) Known(aspectName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.schemas[aspectName]
	return ok
}

// Validate decodes payload strictly into the aspect schema and returns its
// canonical JSON encoding. All failures wrap ErrSchemaInvalid.
func (r *SchemaRegistry) Validate(entityType, aspectName string, payload []byte) ([]byte, error) {
	r.mu.RLock()
	schema, ok := r.schemas[aspectName]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown aspect %q", ErrSchemaInvalid, aspectName)
	}
	if len(schema.entityTypes) > 0 && !containsFold(schema.entityTypes, entityType) {
		return nil, fmt.Errorf("%w: aspect %s does not attach to entity type %s", ErrSchemaInvalid, aspectName, entityType)
	}
	value := schema.newValue()
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(value); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaInvalid, err)
	}
	if decoder.More() {
		return nil, fmt.Errorf("%w: trailing data after payload", ErrSchemaInvalid)
	}
	if d, ok := value.(domain.Defaulter); ok {
		d.ApplyDefaults()
	}
	if err := r.validate.Struct(value); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaInvalid, err)
	}
	canonical, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaInvalid, err)
	}
	return canonical, nil
}

// validateTestDefinition checks that the definition body parses in its declared encoding.
func validateTestDefinition(sl validator.StructLevel) {
	def := sl.Current().Interface().(domain.TestDefinition)
	switch def.Type {
	case domain.TestDefinitionJSON:
		if def.JSON != "" && !json.Valid([]byte(def.JSON)) {
			sl.ReportError(def.JSON, "json", "JSON", "json", "")
		}
	case domain.TestDefinitionYAML:
		var doc any
		if err := yaml.Unmarshal([]byte(def.YAML), &doc); err != nil {
			sl.ReportError(def.YAML, "yaml", "YAML", "yaml", "")
		}
	}
}

func containsFold(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(v, target) {
			return true
		}
	}
	return false
}
