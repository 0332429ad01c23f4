package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines a rule-matching test scenario.
// A scenario installs rules, publishes a sequence of external events and
// asserts on the derived events the engine delivered.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Rules is inline CUE source with a top-level `rule` struct.
	Rules string `yaml:"rules,omitempty"`

	// RuleFiles lists CUE files to compile, relative to the scenario file.
	RuleFiles []string `yaml:"rule_files,omitempty"`

	// Processors is the number of processor units. Default: 1.
	Processors int `yaml:"processors,omitempty"`

	// MaxDepth overrides the engine's recursion depth bound.
	MaxDepth *int `yaml:"max_depth,omitempty"`

	// MaxLineageEvents caps derived events per submission (0 = unlimited).
	MaxLineageEvents int `yaml:"max_lineage_events,omitempty"`

	// Events are published in order, each as its own submission.
	Events []EventStep `yaml:"events"`

	// Assertions validate the delivered trace and engine counters.
	Assertions []Assertion `yaml:"assertions"`
}

// EventStep is one externally published event.
type EventStep struct {
	Type  int                    `yaml:"type"`
	TS    int64                  `yaml:"ts"`
	Attrs map[string]interface{} `yaml:"attrs,omitempty"`
}

// Assertion validates the trace or the engine counters.
type Assertion struct {
	// Type specifies the assertion type:
	// - "delivered_count": total derived events delivered
	// - "delivered_type_count": derived events of EventType
	// - "contains": a derived event of EventType whose attributes include Attrs
	// - "order": the first events of each listed type appear in order
	// - "max_depth": deepest delivered event
	// - "recursion_needed": whether any rule output feeds a rule input
	// - "truncated": lineages or events cut off by the depth bound or quota
	Type string `yaml:"type"`

	// EventType selects events (delivered_type_count, contains).
	EventType *int `yaml:"event_type,omitempty"`

	// Count is the expected number (delivered_count, delivered_type_count, truncated).
	Count *int `yaml:"count,omitempty"`

	// Attrs are the expected attributes (contains). Subset match.
	Attrs map[string]interface{} `yaml:"attrs,omitempty"`

	// Types is the expected type order (order).
	Types []int `yaml:"types,omitempty"`

	// Depth is the expected maximum depth (max_depth).
	Depth *int `yaml:"depth,omitempty"`

	// Value is the expected flag (recursion_needed).
	Value *bool `yaml:"value,omitempty"`
}

// Assertion type constants.
const (
	AssertDeliveredCount     = "delivered_count"
	AssertDeliveredTypeCount = "delivered_type_count"
	AssertContains           = "contains"
	AssertOrder              = "order"
	AssertMaxDepth           = "max_depth"
	AssertRecursionNeeded    = "recursion_needed"
	AssertTruncated          = "truncated"
)

// LoadScenario reads and parses a scenario YAML file.
// Rule file paths are resolved relative to the scenario file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	base := filepath.Dir(path)
	for i, p := range scenario.RuleFiles {
		if !filepath.IsAbs(p) {
			scenario.RuleFiles[i] = filepath.Join(base, p)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Rules == "" && len(s.RuleFiles) == 0 {
		return fmt.Errorf("rules or rule_files is required")
	}

	if s.Processors < 0 {
		return fmt.Errorf("processors must be non-negative")
	}

	if s.MaxDepth != nil && *s.MaxDepth < 0 {
		return fmt.Errorf("max_depth must be non-negative")
	}

	if len(s.Events) == 0 {
		return fmt.Errorf("events list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for _, p := range s.RuleFiles {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return fmt.Errorf("rule file not found: %s", p)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	needCount := func() error {
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: count is required for %s", index, a.Type)
		}
		if *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
		return nil
	}

	switch a.Type {
	case AssertDeliveredCount, AssertTruncated:
		return needCount()
	case AssertDeliveredTypeCount:
		if a.EventType == nil {
			return fmt.Errorf("assertions[%d]: event_type is required for %s", index, a.Type)
		}
		return needCount()
	case AssertContains:
		if a.EventType == nil {
			return fmt.Errorf("assertions[%d]: event_type is required for contains", index)
		}
	case AssertOrder:
		if len(a.Types) == 0 {
			return fmt.Errorf("assertions[%d]: types list is required for order", index)
		}
	case AssertMaxDepth:
		if a.Depth == nil {
			return fmt.Errorf("assertions[%d]: depth is required for max_depth", index)
		}
	case AssertRecursionNeeded:
		if a.Value == nil {
			return fmt.Errorf("assertions[%d]: value is required for recursion_needed", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
