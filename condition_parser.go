package accessctl

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ParseCondition parses a single textual condition of the form
//
//	<field> <op> <value>
//
// into a Condition, for config files and the CLI. Supported operators:
// ==, !=, >, >=, <, <=, in, nin, contains, matches. Values may be quoted
// strings, numbers, bracketed lists for in/nin, or "${ns.path}" references.
// Parsing stays deliberately small: one condition per string, combined with
// AND by attaching several to a permission.
func ParseCondition(s string) (Condition, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Condition{}, fmt.Errorf("empty condition")
	}

	m := conditionRe.FindStringSubmatch(s)
	if m == nil {
		return Condition{}, fmt.Errorf("unsupported condition syntax: %s", s)
	}
	field, opText, rawValue := m[1], m[2], strings.TrimSpace(m[3])

	op, ok := operatorFor(opText)
	if !ok {
		return Condition{}, fmt.Errorf("unknown operator: %s", opText)
	}

	value, err := parseConditionValue(op, rawValue)
	if err != nil {
		return Condition{}, err
	}
	return Condition{Type: ConditionAttribute, Field: field, Operator: op, Value: value}, nil
}

var conditionRe = regexp.MustCompile(`^([a-zA-Z0-9_.]+)\s*(==|!=|>=|<=|>|<|\bin\b|\bnin\b|\bcontains\b|\bmatches\b)\s*(.+)$`)

func operatorFor(text string) (Operator, bool) {
	switch text {
	case "==":
		return OpEq, true
	case "!=":
		return OpNe, true
	case ">":
		return OpGt, true
	case ">=":
		return OpGte, true
	case "<":
		return OpLt, true
	case "<=":
		return OpLte, true
	case "in":
		return OpIn, true
	case "nin":
		return OpNin, true
	case "contains":
		return OpContains, true
	case "matches":
		return OpRegex, true
	}
	return "", false
}

func parseConditionValue(op Operator, raw string) (any, error) {
	if op == OpIn || op == OpNin {
		if !strings.HasPrefix(raw, "[") || !strings.HasSuffix(raw, "]") {
			return nil, fmt.Errorf("%s expects a bracketed list, got %s", op, raw)
		}
		items := splitCSV(raw[1 : len(raw)-1])
		out := make([]any, 0, len(items))
		for _, it := range items {
			out = append(out, scalarValue(it))
		}
		return out, nil
	}
	return scalarValue(raw), nil
}

// scalarValue unquotes strings, converts numerics and keeps "${...}" markers
// intact; the evaluator resolves them to context references.
func scalarValue(raw string) any {
	raw = strings.TrimSpace(raw)
	if len(raw) >= 2 && (raw[0] == '"' || raw[0] == '\'') && raw[len(raw)-1] == raw[0] {
		return raw[1 : len(raw)-1]
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return int(n)
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	if raw == "true" {
		return true
	}
	if raw == "false" {
		return false
	}
	return raw
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
