package siem

import (
	"fmt"
	"strconv"
	"strings"
)

// Filter is one per-sink routing condition. A sink receives an event only
// when every one of its filters matches.
type Filter struct {
	Field    string `json:"field" mapstructure:"field"`
	Operator string `json:"operator" mapstructure:"operator"`
	Value    string `json:"value" mapstructure:"value"`
}

const (
	OpEquals      = "equals"
	OpNotEquals   = "not_equals"
	OpContains    = "contains"
	OpNotContains = "not_contains"
	OpGreaterThan = "greater_than"
	OpLessThan    = "less_than"
)

func (f Filter) validate() error {
	if f.Field == "" {
		return fmt.Errorf("filter field is required")
	}
	switch f.Operator {
	case OpEquals, OpNotEquals, OpContains, OpNotContains:
		return nil
	case OpGreaterThan, OpLessThan:
		if _, err := strconv.ParseFloat(f.Value, 64); err != nil {
			return fmt.Errorf("filter value %q is not numeric for operator %s", f.Value, f.Operator)
		}
		return nil
	default:
		return fmt.Errorf("unknown filter operator %q", f.Operator)
	}
}

// Matches reports whether the event satisfies this filter. An unknown
// field never matches.
func (f Filter) Matches(event SecurityEvent) bool {
	switch f.Operator {
	case OpEquals, OpNotEquals, OpContains, OpNotContains:
		value, ok := event.fieldString(f.Field)
		if !ok {
			return false
		}
		switch f.Operator {
		case OpEquals:
			return value == f.Value
		case OpNotEquals:
			return value != f.Value
		case OpContains:
			return strings.Contains(value, f.Value)
		default:
			return !strings.Contains(value, f.Value)
		}
	case OpGreaterThan, OpLessThan:
		value, ok := event.fieldNumber(f.Field)
		if !ok {
			return false
		}
		threshold, err := strconv.ParseFloat(f.Value, 64)
		if err != nil {
			return false
		}
		if f.Operator == OpGreaterThan {
			return value > threshold
		}
		return value < threshold
	default:
		return false
	}
}

func matchesAll(event SecurityEvent, filters []Filter) bool {
	for _, filter := range filters {
		if !filter.Matches(event) {
			return false
		}
	}
	return true
}
