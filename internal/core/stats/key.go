package stats

import (
	"fmt"
	"strings"
)

// Metric is the kind of counted event.
type Metric string

const (
	// MetricMessage counts chat messages.
	MetricMessage Metric = "msg"
	// MetricCommand counts command/plugin invocations.
	MetricCommand Metric = "cmd"
)

// ValidMetric reports whether m is a known metric.
func ValidMetric(m Metric) bool {
	return m == MetricMessage || m == MetricCommand
}

// Reserved scopes. Regular scopes are conversation (group) identifiers.
const (
	// ScopeGlobal holds cross-conversation per-user counters.
	ScopeGlobal = "global"
	// ScopePlugins holds per-plugin command counters. Kept separate from
	// ScopeGlobal so plugin names can never collide with user ids.
	ScopePlugins = "plugins"
)

// keyPrefix namespaces every counter key in the ephemeral store.
const keyPrefix = "stat"

// CounterKey identifies one daily increment bucket: which metric, for
// which calendar day, in which scope (conversation or reserved), for
// which subject (user id or plugin name).
//
// The ephemeral layout groups all subjects of one (metric, day, scope)
// into a single hash: the encoded HashKey addresses the hash, Subject
// is the hash field.
type CounterKey struct {
	Metric  Metric
	Day     Day
	Scope   string
	Subject string
}

// Validate checks that every component of the key is usable.
func (k CounterKey) Validate() error {
	if !ValidMetric(k.Metric) {
		return fmt.Errorf("invalid metric: %q", k.Metric)
	}
	if _, err := ParseDay(string(k.Day)); err != nil {
		return fmt.Errorf("invalid day: %w", err)
	}
	if k.Scope == "" {
		return fmt.Errorf("scope is required")
	}
	if strings.Contains(k.Scope, ":") {
		return fmt.Errorf("scope must not contain ':': %q", k.Scope)
	}
	if k.Subject == "" {
		return fmt.Errorf("subject is required")
	}
	return nil
}

// HashKey encodes the (metric, day, scope) part of the key:
//
//	stat:<metric>:daily:<day>:<scope>
func (k CounterKey) HashKey() string {
	return EncodeHashKey(k.Metric, k.Day, k.Scope)
}

// EncodeHashKey builds the ephemeral hash key for one (metric, day, scope).
func EncodeHashKey(metric Metric, day Day, scope string) string {
	return fmt.Sprintf("%s:%s:daily:%s:%s", keyPrefix, metric, day, scope)
}

// DecodeHashKey is the inverse of EncodeHashKey.
func DecodeHashKey(key string) (Metric, Day, string, error) {
	parts := strings.Split(key, ":")
	if len(parts) != 5 || parts[0] != keyPrefix || parts[2] != "daily" {
		return "", "", "", fmt.Errorf("malformed counter key: %q", key)
	}
	metric := Metric(parts[1])
	if !ValidMetric(metric) {
		return "", "", "", fmt.Errorf("malformed counter key %q: unknown metric %q", key, parts[1])
	}
	day, err := ParseDay(parts[3])
	if err != nil {
		return "", "", "", fmt.Errorf("malformed counter key %q: %w", key, err)
	}
	if parts[4] == "" {
		return "", "", "", fmt.Errorf("malformed counter key %q: empty scope", key)
	}
	return metric, day, parts[4], nil
}

// CounterScanPattern matches every live counter hash key.
func CounterScanPattern() string {
	return keyPrefix + ":*:daily:*"
}
