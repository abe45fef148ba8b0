package tier

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rendis/herald/pkg/schema"
)

// Policy caps the duration a step may wait for organizations on matching tiers.
type Policy struct {
	Name string `yaml:"name" json:"name"`
	// StepTypes the policy applies to; empty means delay and digest.
	StepTypes []schema.StepType `yaml:"step_types" json:"stepTypes,omitempty"`
	// When is a CEL guard over tier, step and organization.
	When string `yaml:"when" json:"when"`
	// Max is an expr formula returning the limit in milliseconds.
	Max string `yaml:"max" json:"max"`
	// Message overrides the generated violation message.
	Message string `yaml:"message,omitempty" json:"message,omitempty"`
}

func (p Policy) appliesTo(t schema.StepType) bool {
	if len(p.StepTypes) == 0 {
		return t == schema.StepTypeDelay || t == schema.StepTypeDigest
	}
	for _, st := range p.StepTypes {
		if st == t {
			return true
		}
	}
	return false
}

// DefaultPolicies limit delay and digest windows per tier.
var DefaultPolicies = []Policy{
	{Name: "free-window", When: `tier == "free"`, Max: "days(1)"},
	{Name: "pro-window", When: `tier == "pro"`, Max: "days(7)"},
	{Name: "business-window", When: `tier in ["business", "enterprise"]`, Max: "days(90)"},
}

type policyFile struct {
	Policies []Policy `yaml:"policies"`
}

// LoadPolicies reads a YAML policy file.
func LoadPolicies(path string) ([]Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "read tier policy file %s: %s", path, err.Error()).WithCause(err)
	}
	return ParsePolicies(data)
}

// ParsePolicies decodes YAML policies and checks every policy has a guard
// and a limit.
func ParsePolicies(data []byte) ([]Policy, error) {
	var f policyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeParse, "invalid tier policy YAML: %s", err.Error()).WithCause(err)
	}
	for i, p := range f.Policies {
		if p.When == "" || p.Max == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"tier policy %d (%q) needs both when and max", i, p.Name)
		}
	}
	return f.Policies, nil
}
