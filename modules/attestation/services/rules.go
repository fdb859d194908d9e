package services

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/iota-uz/iota-attest/modules/attestation/domain/aggregates/attestation"
	"github.com/iota-uz/iota-attest/modules/attestation/domain/hierarchy"
)

type AutomaticDecision struct {
	Decision attestation.Decision
	Comment  string
	Rule     string
}

type Rule interface {
	Name() string
	Evaluate(superior hierarchy.SuperiorRef, req *attestation.Request) *AutomaticDecision
}

// RuleSet evaluates rules in order; the first decision wins.
// FlexibleScheduleRule always runs ahead of the configured rules.
type RuleSet []Rule

func (rs RuleSet) EvaluateAutomatic(superior hierarchy.SuperiorRef, req *attestation.Request) *AutomaticDecision {
	if d := (FlexibleScheduleRule{}).Evaluate(superior, req); d != nil {
		return d
	}
	for _, rule := range rs {
		if _, ok := rule.(FlexibleScheduleRule); ok {
			continue
		}
		if d := rule.Evaluate(superior, req); d != nil {
			if d.Rule == "" {
				d.Rule = rule.Name()
			}
			return d
		}
	}
	return nil
}

func DefaultRuleSet() RuleSet {
	return RuleSet{FlexibleScheduleRule{}}
}

// FlexibleScheduleRule approves on behalf of superiors working a flexible schedule.
type FlexibleScheduleRule struct{}

func (FlexibleScheduleRule) Name() string { return "flexible_schedule" }

func (r FlexibleScheduleRule) Evaluate(superior hierarchy.SuperiorRef, _ *attestation.Request) *AutomaticDecision {
	if !superior.FlexibleSchedule {
		return nil
	}
	return &AutomaticDecision{
		Decision: attestation.DecisionApproved,
		Comment:  "auto-approved: flexible schedule",
		Rule:     r.Name(),
	}
}

// RoleRule decides for superiors whose role is listed. Roles compare case-insensitively.
type RoleRule struct {
	Roles    []string
	Decision attestation.Decision
}

func (RoleRule) Name() string { return "role" }

func (r RoleRule) Evaluate(superior hierarchy.SuperiorRef, _ *attestation.Request) *AutomaticDecision {
	role := strings.TrimSpace(superior.Role)
	if role == "" {
		return nil
	}
	for _, candidate := range r.Roles {
		if !strings.EqualFold(strings.TrimSpace(candidate), role) {
			continue
		}
		decision := r.Decision
		if decision == "" {
			decision = attestation.DecisionApproved
		}
		verb := "auto-approved"
		if decision == attestation.DecisionRejected {
			verb = "auto-rejected"
		}
		return &AutomaticDecision{
			Decision: decision,
			Comment:  fmt.Sprintf("%s: role %s", verb, role),
			Rule:     r.Name(),
		}
	}
	return nil
}

type rulesFile struct {
	Rules []ruleConfig `yaml:"rules"`
}

type ruleConfig struct {
	Type     string   `yaml:"type"`
	Roles    []string `yaml:"roles"`
	Decision string   `yaml:"decision"`
}

// ParseRuleSet reads a YAML document of the form
//
//	rules:
//	  - type: flexible_schedule
//	  - type: role
//	    roles: [director]
//	    decision: approved
//
// An empty rule list yields DefaultRuleSet. The flexible_schedule rule is
// placed first whether or not the document lists it.
func ParseRuleSet(data []byte) (RuleSet, error) {
	var file rulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if len(file.Rules) == 0 {
		return DefaultRuleSet(), nil
	}

	out := make(RuleSet, 0, len(file.Rules)+1)
	out = append(out, FlexibleScheduleRule{})
	for i, cfg := range file.Rules {
		switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
		case "flexible_schedule":
			// already first
		case "role":
			if len(cfg.Roles) == 0 {
				return nil, fmt.Errorf("rule %d: role rule requires roles", i)
			}
			decision := attestation.Decision(strings.ToLower(strings.TrimSpace(cfg.Decision)))
			if decision == "" {
				decision = attestation.DecisionApproved
			}
			if !decision.Valid() {
				return nil, fmt.Errorf("rule %d: invalid decision %q", i, cfg.Decision)
			}
			out = append(out, RoleRule{Roles: cfg.Roles, Decision: decision})
		default:
			return nil, fmt.Errorf("rule %d: unknown rule type %q", i, cfg.Type)
		}
	}
	return out, nil
}

// LoadRuleSet reads the rules file at path. An empty path yields DefaultRuleSet.
func LoadRuleSet(path string) (RuleSet, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultRuleSet(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	return ParseRuleSet(data)
}
