package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Default reminder topics
const (
	DefaultNotClassifiedTopic = "not-classified"
	DefaultNonCompliantTopic  = "non-compliant"
)

// Policy is the classification policy file
type Policy struct {
	Classifications    []Classification   `yaml:"classifications"`
	NotClassifiedTopic string             `yaml:"not_classified_topic"`
	NonCompliantTopic  string             `yaml:"non_compliant_topic"`
	NonCompliant       []NonCompliantRule `yaml:"non_compliant"`
}

// Classification is one allowed repo classification and the topic that marks it
type Classification struct {
	Name  string `yaml:"name"`
	Topic string `yaml:"topic"`
}

// NonCompliantRule flags repos with the given classification and visibility
type NonCompliantRule struct {
	Classification string `yaml:"classification"`
	Visibility     string `yaml:"visibility"`
}

// LoadPolicy reads and validates the policy file. An empty path yields an
// empty policy with default topics.
func LoadPolicy(path string) (*Policy, error) {
	if path == "" {
		policy := &Policy{}
		policy.applyDefaults()
		return policy, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	return ParsePolicy(data)
}

// ParsePolicy parses and validates policy YAML
func ParsePolicy(data []byte) (*Policy, error) {
	var policy Policy
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}

	known := make(map[string]bool, len(policy.Classifications))
	for i, c := range policy.Classifications {
		if c.Topic == "" {
			return nil, fmt.Errorf("classification at index %d missing topic", i)
		}
		if known[c.Topic] {
			return nil, fmt.Errorf("classification topic %q is duplicated", c.Topic)
		}
		known[c.Topic] = true
	}

	for i, rule := range policy.NonCompliant {
		if !known[rule.Classification] {
			return nil, fmt.Errorf("non_compliant rule at index %d references unknown classification %q", i, rule.Classification)
		}
		switch rule.Visibility {
		case "public", "internal", "private":
		default:
			return nil, fmt.Errorf("non_compliant rule at index %d has invalid visibility %q", i, rule.Visibility)
		}
	}

	policy.applyDefaults()
	return &policy, nil
}

func (p *Policy) applyDefaults() {
	if p.NotClassifiedTopic == "" {
		p.NotClassifiedTopic = DefaultNotClassifiedTopic
	}
	if p.NonCompliantTopic == "" {
		p.NonCompliantTopic = DefaultNonCompliantTopic
	}
}

// ClassificationTopics returns the configured classification topics in order
func (p *Policy) ClassificationTopics() []string {
	topics := make([]string, 0, len(p.Classifications))
	for _, c := range p.Classifications {
		topics = append(topics, c.Topic)
	}
	return topics
}
