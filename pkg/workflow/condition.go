package workflow

import (
	"fmt"
	"strings"
)

// Condition is a transition guard over the governed entity's properties.
// The only form is "key=value": the property must be present and equal to
// value.
type Condition struct {
	Key   string
	Value string
}

// ParseCondition parses "key=value". Whitespace around key and value is
// ignored; the value may itself contain '='.
func ParseCondition(s string) (Condition, error) {
	key, value, ok := strings.Cut(s, "=")
	if !ok {
		return Condition{}, fmt.Errorf("condition %q: expected key=value", s)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return Condition{}, fmt.Errorf("condition %q: empty key", s)
	}
	return Condition{Key: key, Value: strings.TrimSpace(value)}, nil
}

// Satisfied reports whether props meet the condition. A missing key is not
// satisfied.
func (c Condition) Satisfied(props map[string]string) bool {
	actual, ok := props[c.Key]
	return ok && actual == c.Value
}

func (c Condition) String() string {
	return c.Key + "=" + c.Value
}

// conditionMet evaluates a stored condition string. An empty string means no
// condition; a string that does not parse is never met.
func conditionMet(raw string, props map[string]string) bool {
	if raw == "" {
		return true
	}
	c, err := ParseCondition(raw)
	if err != nil {
		return false
	}
	return c.Satisfied(props)
}
