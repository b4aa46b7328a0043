package stores

import (
	"time"

	"github.com/oarkflow/date"

	"github.com/orchidsec/accessctl"
)

func parseFlexibleTime(s string) (time.Time, error) {
	return date.Parse(s)
}

// scanTime normalizes driver timestamp values; sqlite hands back strings,
// other drivers time.Time.
func scanTime(raw interface{}) time.Time {
	switch v := raw.(type) {
	case time.Time:
		return v
	case string:
		if t, err := parseFlexibleTime(v); err == nil {
			return t
		}
	case []byte:
		if t, err := parseFlexibleTime(string(v)); err == nil {
			return t
		}
	}
	return time.Time{}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func cloneResource(r *accessctl.Resource) *accessctl.Resource {
	if r == nil {
		return nil
	}
	dup := *r
	return &dup
}
