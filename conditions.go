package accessctl

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/oarkflow/date"

	"github.com/orchidsec/accessctl/logger"
)

// ============================================================================
// CONTEXT REFERENCES (dynamic condition values)
// ============================================================================

// ContextRef is a structured reference to a context field, used as a condition
// value to express dynamic checks such as "the caller's own id". It replaces
// string-embedded templates: values are resolved by namespace lookup, never by
// string substitution.
type ContextRef struct {
	Namespace string `json:"namespace" yaml:"namespace"`
	Path      string `json:"path" yaml:"path"`
}

func (r ContextRef) String() string {
	return "${" + r.Namespace + "." + r.Path + "}"
}

// Resolve looks the reference up against the context.
func (r ContextRef) Resolve(actx *AccessContext) (any, bool) {
	return actx.Lookup(r.Namespace, r.Path)
}

// ParseContextRef recognizes values of the exact form "${namespace.path}".
// A "${" embedded inside a longer literal is not a reference; the whole
// string must be the marker. This keeps literals containing "${" inert.
func ParseContextRef(s string) (ContextRef, bool) {
	if len(s) < 4 || !strings.HasPrefix(s, "${") || !strings.HasSuffix(s, "}") {
		return ContextRef{}, false
	}
	inner := s[2 : len(s)-1]
	dot := strings.IndexByte(inner, '.')
	if dot <= 0 || dot == len(inner)-1 {
		return ContextRef{}, false
	}
	ns := inner[:dot]
	switch ns {
	case NamespaceUser, NamespaceResource, NamespaceEnv, NamespaceSession:
		return ContextRef{Namespace: ns, Path: inner[dot+1:]}, true
	}
	return ContextRef{}, false
}

// ============================================================================
// CONDITION EVALUATOR
// ============================================================================

// ConditionEvaluator evaluates AND-combined conditions against a request
// context. It is stateless and safe for concurrent use. Every ambiguous case
// fails closed: unknown operators, missing fields, incomparable values and
// unresolved references all leave the condition unsatisfied.
type ConditionEvaluator struct {
	log logger.Logger
}

func NewConditionEvaluator(log logger.Logger) *ConditionEvaluator {
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &ConditionEvaluator{log: log}
}

// Evaluate returns true only if every condition holds.
func (ev *ConditionEvaluator) Evaluate(conditions []Condition, actx *AccessContext) bool {
	for i := range conditions {
		if !ev.evaluateOne(&conditions[i], actx) {
			return false
		}
	}
	return true
}

func (ev *ConditionEvaluator) evaluateOne(cond *Condition, actx *AccessContext) bool {
	fieldValue, ok := lookupField(actx, cond.Field)
	if !ok {
		return false
	}

	expected, ok := ev.resolveValue(cond.Value, actx)
	if !ok {
		// Unresolved context reference: unsatisfied by decision, not by the
		// accident of comparing the raw marker text.
		ev.log.Debug("condition reference unresolved", "field", cond.Field, "value", fmt.Sprint(cond.Value))
		return false
	}

	if cond.Type == ConditionTime {
		return evaluateTime(cond.Operator, fieldValue, expected)
	}

	switch cond.Operator {
	case OpEq:
		return valueEquals(fieldValue, expected)
	case OpNe:
		return !valueEquals(fieldValue, expected)
	case OpGt:
		c, ok := compareValues(fieldValue, expected)
		return ok && c > 0
	case OpGte:
		c, ok := compareValues(fieldValue, expected)
		return ok && c >= 0
	case OpLt:
		c, ok := compareValues(fieldValue, expected)
		return ok && c < 0
	case OpLte:
		c, ok := compareValues(fieldValue, expected)
		return ok && c <= 0
	case OpIn:
		return memberOf(fieldValue, expected)
	case OpNin:
		return isList(expected) && !memberOf(fieldValue, expected)
	case OpContains:
		return containsValue(fieldValue, expected)
	case OpRegex:
		return matchRegex(fieldValue, expected)
	}

	ev.log.Error("unknown condition operator", "operator", string(cond.Operator), "field", cond.Field)
	return false
}

// resolveValue turns a condition value into its concrete form: ContextRef
// values (and "${...}" strings) resolve against the context, everything else
// passes through. The boolean is false only for an unresolved reference.
func (ev *ConditionEvaluator) resolveValue(value any, actx *AccessContext) (any, bool) {
	switch v := value.(type) {
	case ContextRef:
		return v.Resolve(actx)
	case *ContextRef:
		if v == nil {
			return nil, false
		}
		return v.Resolve(actx)
	case string:
		if ref, ok := ParseContextRef(v); ok {
			return ref.Resolve(actx)
		}
	}
	return value, true
}

// lookupField resolves the condition field from the context using the
// namespace prefix; unprefixed fields check user then resource attributes.
func lookupField(actx *AccessContext, field string) (any, bool) {
	if actx == nil || field == "" {
		return nil, false
	}
	if dot := strings.IndexByte(field, '.'); dot > 0 {
		switch ns := field[:dot]; ns {
		case NamespaceUser, NamespaceResource, NamespaceEnv, NamespaceSession:
			return actx.Lookup(ns, field[dot+1:])
		}
	}
	if v, ok := actx.Lookup(NamespaceUser, field); ok {
		return v, true
	}
	return actx.Lookup(NamespaceResource, field)
}

// ============================================================================
// COMPARISON HELPERS
// ============================================================================

func valueEquals(a, b any) bool {
	if c, ok := compareValues(a, b); ok {
		return c == 0
	}
	// Incomparable kinds (bool vs bool, mixed): fall back to printed equality.
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// compareValues orders two values when both sides are strings, numbers or
// timestamps. The boolean is false for anything else; ordered operators treat
// that as unsatisfied.
func compareValues(a, b any) (int, bool) {
	if af, ok := toFloat(a); ok {
		if bf, ok2 := toFloat(b); ok2 {
			switch {
			case af == bf:
				return 0, true
			case af < bf:
				return -1, true
			default:
				return 1, true
			}
		}
		return 0, false
	}
	if at, ok := a.(time.Time); ok {
		if bt, ok2 := toTime(b); ok2 {
			return at.Compare(bt), true
		}
		return 0, false
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// toTime coerces timestamps and flexible string forms (RFC3339, dates, etc.).
func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		if parsed, err := date.Parse(t); err == nil {
			return parsed, true
		}
	case int64:
		return time.Unix(t, 0), true
	}
	return time.Time{}, false
}

func evaluateTime(op Operator, fieldValue, expected any) bool {
	ft, ok := toTime(fieldValue)
	if !ok {
		return false
	}
	et, ok := toTime(expected)
	if !ok {
		return false
	}
	c := ft.Compare(et)
	switch op {
	case OpEq:
		return c == 0
	case OpNe:
		return c != 0
	case OpGt:
		return c > 0
	case OpGte:
		return c >= 0
	case OpLt:
		return c < 0
	case OpLte:
		return c <= 0
	}
	return false
}

func isList(v any) bool {
	switch v.(type) {
	case []any, []string, []int, []float64:
		return true
	}
	return false
}

func memberOf(needle, list any) bool {
	switch items := list.(type) {
	case []any:
		for _, it := range items {
			if valueEquals(needle, it) {
				return true
			}
		}
	case []string:
		for _, it := range items {
			if valueEquals(needle, it) {
				return true
			}
		}
	case []int:
		for _, it := range items {
			if valueEquals(needle, it) {
				return true
			}
		}
	case []float64:
		for _, it := range items {
			if valueEquals(needle, it) {
				return true
			}
		}
	}
	return false
}

// containsValue supports substring containment for strings and membership for
// slice-valued fields (e.g. a user's group list containing a group id).
func containsValue(fieldValue, expected any) bool {
	switch fv := fieldValue.(type) {
	case string:
		es, ok := expected.(string)
		return ok && strings.Contains(fv, es)
	case []any, []string, []int, []float64:
		return memberOf(expected, fv)
	}
	return false
}

func matchRegex(fieldValue, expected any) bool {
	pattern, ok := expected.(string)
	if !ok {
		return false
	}
	fs, ok := fieldValue.(string)
	if !ok {
		return false
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		// Malformed pattern: unsatisfied, never satisfied.
		return false
	}
	return re.MatchString(fs)
}
