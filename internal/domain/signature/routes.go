package signature

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Family identifies a class of external caller sharing one signing identity.
type Family string

const (
	FamilyExchangeOracle   Family = "exchange_oracle"
	FamilyRecordingOracle  Family = "recording_oracle"
	FamilyReputationOracle Family = "reputation_oracle"
)

// Valid reports whether f is a known caller family.
func (f Family) Valid() bool {
	switch f {
	case FamilyExchangeOracle, FamilyRecordingOracle, FamilyReputationOracle:
		return true
	default:
		return false
	}
}

// ErrUnknownRoute is returned when no rule matches a request path.
var ErrUnknownRoute = errors.New("no caller family for route")

// Rule maps a path prefix to the caller family allowed on it.
type Rule struct {
	Prefix string `yaml:"prefix"`
	Family Family `yaml:"family"`
}

// Rules is evaluated in order; the first matching prefix wins.
type Rules []Rule

// Classify returns the family of the first rule whose prefix matches path on
// a segment boundary.
func (r Rules) Classify(path string) (Family, error) {
	for _, rule := range r {
		if matchPrefix(path, rule.Prefix) {
			return rule.Family, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownRoute, path)
}

// Validate rejects empty prefixes and unknown families.
func (r Rules) Validate() error {
	for i, rule := range r {
		if !strings.HasPrefix(rule.Prefix, "/") {
			return fmt.Errorf("signature rule %d: prefix %q must start with /", i, rule.Prefix)
		}
		if !rule.Family.Valid() {
			return fmt.Errorf("signature rule %d: unknown family %q", i, rule.Family)
		}
	}
	return nil
}

func matchPrefix(path, prefix string) bool {
	if prefix == "" || !strings.HasPrefix(path, prefix) {
		return false
	}
	if len(path) == len(prefix) || strings.HasSuffix(prefix, "/") {
		return true
	}
	return path[len(prefix)] == '/'
}

// ParseRules parses "prefix=family" pairs separated by commas.
func ParseRules(s string) (Rules, error) {
	var rules Rules
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		prefix, family, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("signature rule %q: expected prefix=family", part)
		}
		rules = append(rules, Rule{
			Prefix: strings.TrimSpace(prefix),
			Family: Family(strings.TrimSpace(family)),
		})
	}
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return rules, nil
}

type rulesFile struct {
	Routes Rules `yaml:"routes"`
}

// LoadRulesFile reads rules from a YAML document of the form:
//
//	routes:
//	  - prefix: /api/webhook/exchange-oracle
//	    family: exchange_oracle
func LoadRulesFile(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signature rules: %w", err)
	}
	return decodeRules(data)
}

func decodeRules(data []byte) (Rules, error) {
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode signature rules: %w", err)
	}
	if err := f.Routes.Validate(); err != nil {
		return nil, err
	}
	return f.Routes, nil
}
