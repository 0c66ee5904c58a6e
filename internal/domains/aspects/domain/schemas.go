package domain

import "strings"

// Built-in aspect names.
const (
	AspectGlossaryNodeInfo     = "GlossaryNodeInfo"
	AspectGlossaryTermInfo     = "GlossaryTermInfo"
	AspectGlossaryRelatedTerms = "GlossaryRelatedTerms"
	AspectTestInfo             = "TestInfo"
	AspectOwnership            = "Ownership"
	AspectStatus               = "Status"
)

// Built-in entity types.
const (
	EntityGlossaryNode = "glossaryNode"
	EntityGlossaryTerm = "glossaryTerm"
	EntityTest         = "test"
	EntityDataset      = "dataset"
)

// GlossaryNodeInfo describes a glossary node (a folder of terms).
type GlossaryNodeInfo struct {
	Name        string `json:"name" validate:"required,max=256"`
	Definition  string `json:"definition,omitempty" validate:"max=10000"`
	ParentNode  string `json:"parentNode,omitempty" validate:"omitempty,urn"`
	Description string `json:"description,omitempty"`
}

// GlossaryTermInfo describes a business glossary term.
type GlossaryTermInfo struct {
	Name        string            `json:"name" validate:"required,max=256"`
	Definition  string            `json:"definition" validate:"required"`
	TermSource  string            `json:"termSource,omitempty" validate:"omitempty,oneof=INTERNAL EXTERNAL"`
	ParentNode  string            `json:"parentNode,omitempty" validate:"omitempty,urn"`
	SourceURL   string            `json:"sourceUrl,omitempty" validate:"omitempty,url"`
	CustomProps map[string]string `json:"customProperties,omitempty"`
}

// GlossaryRelatedTerms links a term to other terms.
type GlossaryRelatedTerms struct {
	IsRelatedTerms  []string `json:"isRelatedTerms,omitempty" validate:"dive,urn"`
	HasRelatedTerms []string `json:"hasRelatedTerms,omitempty" validate:"dive,urn"`
	RelatedTerms    []string `json:"relatedTerms,omitempty" validate:"dive,urn"`
}

// TestInfo describes a metadata test definition.
type TestInfo struct {
	Name        string         `json:"name" validate:"required,max=256"`
	Category    string         `json:"category" validate:"required"`
	Description string         `json:"description,omitempty"`
	Definition  TestDefinition `json:"definition"`
}

// Test definition encodings.
const (
	TestDefinitionJSON = "JSON"
	TestDefinitionYAML = "YAML"
)

// Defaulter is implemented by aspects that fill omitted fields before validation.
type Defaulter interface {
	ApplyDefaults()
}

// ApplyDefaults treats a definition without a type as JSON.
func (t *TestInfo) ApplyDefaults() {
	kind := strings.ToUpper(strings.TrimSpace(t.Definition.Type))
	if kind == "" {
		kind = TestDefinitionJSON
	}
	t.Definition.Type = kind
}

// TestDefinition holds the serialized test rules.
type TestDefinition struct {
	Type string `json:"type" validate:"required,oneof=JSON YAML"`
	JSON string `json:"json,omitempty" validate:"required_if=Type JSON"`
	YAML string `json:"yaml,omitempty" validate:"required_if=Type YAML"`
}

// Ownership lists the owners of an entity.
type Ownership struct {
	Owners []Owner `json:"owners" validate:"required,min=1,dive"`
}

// Owner is one owner entry.
type Owner struct {
	Owner string `json:"owner" validate:"required,urn"`
	Type  string `json:"type" validate:"required,oneof=TECHNICAL_OWNER BUSINESS_OWNER DATA_STEWARD NONE"`
}

// Status marks soft-removal of an entity.
type Status struct {
	Removed bool `json:"removed"`
}
