package services

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/iota-attest/modules/attestation/domain/aggregates/attestation"
	"github.com/iota-uz/iota-attest/modules/attestation/domain/hierarchy"
)

func TestRuleSet_FirstDecisionWins(t *testing.T) {
	rules := RuleSet{
		RoleRule{Roles: []string{"director"}, Decision: attestation.DecisionApproved},
		RoleRule{Roles: []string{"director", "head"}, Decision: attestation.DecisionRejected},
	}
	sup := hierarchy.SuperiorRef{ID: uuid.New(), Role: "Director"}

	d := rules.EvaluateAutomatic(sup, &attestation.Request{})
	require.NotNil(t, d)
	require.Equal(t, "role", d.Rule)
	require.Equal(t, "auto-approved: role Director", d.Comment)

	sup.Role = "head"
	d = rules.EvaluateAutomatic(sup, &attestation.Request{})
	require.NotNil(t, d)
	require.Equal(t, attestation.DecisionRejected, d.Decision)

	sup.Role = "clerk"
	require.Nil(t, rules.EvaluateAutomatic(sup, &attestation.Request{}))
}

func TestRuleSet_FlexibleScheduleAlwaysApproves(t *testing.T) {
	rules := RuleSet{
		RoleRule{Roles: []string{"head"}, Decision: attestation.DecisionRejected},
		FlexibleScheduleRule{},
	}
	sup := hierarchy.SuperiorRef{ID: uuid.New(), Role: "head", FlexibleSchedule: true}

	d := rules.EvaluateAutomatic(sup, &attestation.Request{})
	require.NotNil(t, d)
	require.Equal(t, attestation.DecisionApproved, d.Decision)
	require.Equal(t, "flexible_schedule", d.Rule)

	// no flexible rule configured at all
	d = RuleSet{RoleRule{Roles: []string{"head"}, Decision: attestation.DecisionRejected}}.EvaluateAutomatic(sup, &attestation.Request{})
	require.NotNil(t, d)
	require.Equal(t, attestation.DecisionApproved, d.Decision)

	parsed, err := ParseRuleSet([]byte("rules:\n  - type: role\n    roles: [head]\n    decision: rejected\n"))
	require.NoError(t, err)
	require.Equal(t, RuleSet{FlexibleScheduleRule{}, RoleRule{Roles: []string{"head"}, Decision: attestation.DecisionRejected}}, parsed)
	d = parsed.EvaluateAutomatic(sup, &attestation.Request{})
	require.NotNil(t, d)
	require.Equal(t, attestation.DecisionApproved, d.Decision)
}

func TestParseRuleSet(t *testing.T) {
	rules, err := ParseRuleSet([]byte(`
rules:
  - type: flexible_schedule
  - type: role
    roles: [director, ceo]
  - type: role
    roles: [auditor]
    decision: rejected
`))
	require.NoError(t, err)
	require.Len(t, rules, 3)
	require.Equal(t, RoleRule{Roles: []string{"auditor"}, Decision: attestation.DecisionRejected}, rules[2])
	require.Equal(t, attestation.DecisionApproved, rules[1].(RoleRule).Decision)

	empty, err := ParseRuleSet([]byte("rules: []"))
	require.NoError(t, err)
	require.Equal(t, DefaultRuleSet(), empty)

	for name, doc := range map[string]string{
		"unknown type":   "rules:\n  - type: lottery\n",
		"no roles":       "rules:\n  - type: role\n",
		"bad decision":   "rules:\n  - type: role\n    roles: [x]\n    decision: maybe\n",
		"malformed yaml": "rules: [",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRuleSet([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestLoadRuleSet(t *testing.T) {
	rules, err := LoadRuleSet("")
	require.NoError(t, err)
	require.Equal(t, DefaultRuleSet(), rules)

	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - type: role\n    roles: [director]\n"), 0o600))
	rules, err = LoadRuleSet(path)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	require.Equal(t, FlexibleScheduleRule{}, rules[0])

	_, err = LoadRuleSet(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
