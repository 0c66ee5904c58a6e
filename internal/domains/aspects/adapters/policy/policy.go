package policy

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/domain"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/ports"
)

const wildcard = "*"

var _ ports.Authorizer = (*Policy)(nil)

// Rule grants changes on matching entity types and aspects to holders of Privilege.
type Rule struct {
	EntityTypes []string `yaml:"entityTypes"`
	Aspects     []string `yaml:"aspects"`
	ChangeTypes []string `yaml:"changeTypes"`
	Privilege   string   `yaml:"privilege"`
}

// Policy is an ordered rule list. A change is allowed when the actor holds the
// privilege of at least one matching rule; no matching rule means deny.
type Policy struct {
	Rules []Rule `yaml:"rules"`
}

// Default requires EDIT_ENTITY for writes and DELETE_ENTITY for deletes, and
// lets the domain-specific privileges manage glossaries and tests.
func Default() *Policy {
	return &Policy{Rules: []Rule{
		{EntityTypes: []string{wildcard}, Aspects: []string{wildcard}, ChangeTypes: []string{"UPSERT", "PATCH"}, Privilege: string(domain.PrivilegeEditEntity)},
		{EntityTypes: []string{wildcard}, Aspects: []string{wildcard}, ChangeTypes: []string{"DELETE"}, Privilege: string(domain.PrivilegeDeleteEntity)},
		{EntityTypes: []string{domain.EntityGlossaryNode, domain.EntityGlossaryTerm}, Aspects: []string{wildcard}, ChangeTypes: []string{wildcard}, Privilege: string(domain.PrivilegeManageGlossary)},
		{EntityTypes: []string{domain.EntityTest}, Aspects: []string{wildcard}, ChangeTypes: []string{wildcard}, Privilege: string(domain.PrivilegeManageTests)},
	}}
}

// Parse decodes a YAML policy document.
func Parse(data []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	for i, rule := range p.Rules {
		if strings.TrimSpace(rule.Privilege) == "" {
			return nil, fmt.Errorf("parse policy: rule %d has no privilege", i)
		}
	}
	return &p, nil
}

// Load reads a policy file, falling back to Default when path is empty.
func Load(path string) (*Policy, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy %s: %w", path, err)
	}
	return Parse(data)
}

// Authorize implements ports.Authorizer.
func (p *Policy) Authorize(_ context.Context, actor domain.ActorContext, entityType, aspectName string, changeType domain.ChangeType) error {
	matched := false
	for _, rule := range p.Rules {
		if !matches(rule.EntityTypes, entityType) || !matches(rule.Aspects, aspectName) || !matches(rule.ChangeTypes, string(changeType)) {
			continue
		}
		matched = true
		if actor.Has(domain.Privilege(rule.Privilege)) {
			return nil
		}
	}
	if !matched {
		return fmt.Errorf("%w: no rule covers %s %s/%s", ports.ErrUnauthorized, changeType, entityType, aspectName)
	}
	return fmt.Errorf("%w: %s may not %s %s/%s", ports.ErrUnauthorized, actor.Actor, changeType, entityType, aspectName)
}

func matches(patterns []string, value string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if p == wildcard || strings.EqualFold(p, value) {
			return true
		}
	}
	return false
}
