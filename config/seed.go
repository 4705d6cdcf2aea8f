package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"governor/schema"
)

// policySeedFile is the on-disk TOML shape for a batch of declarative
// Policy seeds, echoing the teacher's own flat TOML node config
// (config/config.go) rather than introducing a nested format of its own.
type policySeedFile struct {
	Policies []policySeedEntry `toml:"policies"`
}

type policySeedEntry struct {
	ID                   string                 `toml:"id"`
	Priority             int                    `toml:"priority"`
	Active               bool                   `toml:"active"`
	OrganizationID       string                 `toml:"organization_id"`
	CartridgeID          string                 `toml:"cartridge_id"`
	Effect               string                 `toml:"effect"`
	ApprovalRequirement  string                 `toml:"approval_requirement"`
	RiskCategoryOverride string                 `toml:"risk_category_override"`
	ConditionField       string                 `toml:"condition_field"`
	ConditionOperator    string                 `toml:"condition_operator"`
	ConditionValue       interface{}            `toml:"condition_value"`
	EffectParams         map[string]interface{} `toml:"effect_params"`
}

// LoadPolicySeeds decodes a TOML policy-seed file into schema.Policy
// values. The seed format only expresses single-leaf-condition policies;
// policies with a composed rule tree are expected to be created through
// the API instead of the seed file.
func LoadPolicySeeds(path string) ([]schema.Policy, error) {
	var file policySeedFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("config: decode policy seed %s: %w", path, err)
	}
	out := make([]schema.Policy, 0, len(file.Policies))
	for _, entry := range file.Policies {
		policy := schema.Policy{
			ID:                   entry.ID,
			Priority:             entry.Priority,
			Active:               entry.Active,
			OrganizationID:       entry.OrganizationID,
			CartridgeID:          entry.CartridgeID,
			Effect:               schema.PolicyEffect(entry.Effect),
			EffectParams:         entry.EffectParams,
			ApprovalRequirement:  schema.ApprovalRequirement(entry.ApprovalRequirement),
			RiskCategoryOverride: schema.RiskCategory(entry.RiskCategoryOverride),
		}
		if entry.ConditionField != "" {
			policy.Rule = schema.PolicyRule{
				Composition: schema.CompositionLeaf,
				Condition: &schema.Condition{
					Field:    entry.ConditionField,
					Operator: schema.ConditionOperator(entry.ConditionOperator),
					Value:    entry.ConditionValue,
				},
			}
		}
		out = append(out, policy)
	}
	return out, nil
}

// identitySeedFile is the on-disk YAML shape for a batch of IdentitySpec
// seeds.
type identitySeedFile struct {
	Identities []schema.IdentitySpec `yaml:"identities"`
}

// LoadIdentitySeeds decodes a YAML identity-seed file into IdentitySpec
// values.
func LoadIdentitySeeds(path string) ([]schema.IdentitySpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read identity seed %s: %w", path, err)
	}
	var file identitySeedFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("config: decode identity seed %s: %w", path, err)
	}
	return file.Identities, nil
}
