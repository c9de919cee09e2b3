// Package router resolves client-supplied model identifiers to backend
// provider/model targets via an ordered rule table.
package router

import (
	"fmt"
	"strings"

	"claude-bridge/internal/config"
)

// Target is a resolved backend destination.
type Target struct {
	Provider string
	Model    string
}

// UnknownModelError is returned when no rule matches and no default fallback
// is configured.
type UnknownModelError struct {
	Model string
}

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("no mapping rule or default for model %q", e.Model)
}

// Mapper is the read-only rule table. Built once at startup and safe for
// concurrent use.
type Mapper struct {
	rules []config.ModelRule
	def   *Target
}

// New compiles the router configuration. Rules with unparseable targets are
// rejected up front rather than at request time.
func New(cfg config.RouterConfig) (*Mapper, error) {
	for i, rule := range cfg.Rules {
		if _, err := parseTarget(rule.Target); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}

		if rule.Match == "" && rule.Prefix == "" && rule.Contains == "" {
			return nil, fmt.Errorf("rule %d: no match condition", i)
		}
	}

	m := &Mapper{rules: cfg.Rules}

	if cfg.Default != "" {
		def, err := parseTarget(cfg.Default)
		if err != nil {
			return nil, fmt.Errorf("default target: %w", err)
		}

		m.def = &def
	}

	return m, nil
}

// Resolve maps a client model id to its backend target. Exact rules win over
// prefix rules, prefix over contains, all in declaration order.
func (m *Mapper) Resolve(model string) (Target, error) {
	for _, rule := range m.rules {
		if rule.Match != "" && rule.Match == model {
			return mustTarget(rule.Target), nil
		}
	}

	for _, rule := range m.rules {
		if rule.Prefix != "" && strings.HasPrefix(model, rule.Prefix) {
			return mustTarget(rule.Target), nil
		}
	}

	for _, rule := range m.rules {
		if rule.Contains != "" && strings.Contains(model, rule.Contains) {
			return mustTarget(rule.Target), nil
		}
	}

	if m.def != nil {
		return *m.def, nil
	}

	return Target{}, &UnknownModelError{Model: model}
}

// parseTarget splits the "provider,model" form; a bare model id maps to the
// empty provider, which FindProvider treats as unconfigured.
func parseTarget(s string) (Target, error) {
	parts := strings.SplitN(s, ",", 2)
	if len(parts) == 2 {
		provider := strings.TrimSpace(parts[0])
		model := strings.TrimSpace(parts[1])

		if provider == "" || model == "" {
			return Target{}, fmt.Errorf("malformed target %q", s)
		}

		return Target{Provider: provider, Model: model}, nil
	}

	model := strings.TrimSpace(s)
	if model == "" {
		return Target{}, fmt.Errorf("malformed target %q", s)
	}

	return Target{Model: model}, nil
}

// mustTarget re-parses a target validated at construction time.
func mustTarget(s string) Target {
	t, _ := parseTarget(s)
	return t
}
