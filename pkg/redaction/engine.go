// Package redaction masks personally identifiable information in transcript
// text, replacing each detected span with a category tag such as [PERSON]
// or [PHONE]. Detection is rule-based: an ordered list of regular
// expressions per category, shipped as an embedded YAML ruleset.
package redaction

import (
	_ "embed"
	"fmt"
	"regexp"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRulesYAML []byte

// Rule is one PII category with its replacement tag and detection patterns.
type Rule struct {
	Category string   `yaml:"category"`
	Tag      string   `yaml:"tag"`
	Patterns []string `yaml:"patterns"`
}

type ruleset struct {
	Rules []Rule `yaml:"rules"`
}

type compiledRule struct {
	category string
	tag      string
	patterns []*regexp.Regexp
}

// Engine detects and masks PII spans. Construct it once at startup and
// inject it into the pipeline; compilation of the ruleset is not cheap
// enough to repeat per request.
type Engine struct {
	rules  []compiledRule
	logger *zap.Logger
}

// NewEngine creates an Engine from the embedded default ruleset.
func NewEngine(logger *zap.Logger) (*Engine, error) {
	return NewEngineFromRules(defaultRulesYAML, logger)
}

// NewEngineFromRules creates an Engine from a YAML ruleset.
func NewEngineFromRules(rulesYAML []byte, logger *zap.Logger) (*Engine, error) {
	var rs ruleset
	if err := yaml.Unmarshal(rulesYAML, &rs); err != nil {
		return nil, fmt.Errorf("parse redaction ruleset: %w", err)
	}
	if len(rs.Rules) == 0 {
		return nil, fmt.Errorf("redaction ruleset is empty")
	}

	engine := &Engine{logger: logger.Named("redaction")}
	for _, rule := range rs.Rules {
		compiled := compiledRule{category: rule.Category, tag: rule.Tag}
		if compiled.tag == "" {
			return nil, fmt.Errorf("rule %s has no tag", rule.Category)
		}
		for _, pattern := range rule.Patterns {
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("compile pattern for %s: %w", rule.Category, err)
			}
			compiled.patterns = append(compiled.patterns, re)
		}
		engine.rules = append(engine.rules, compiled)
	}

	return engine, nil
}

// Redact returns the text with every detected PII span replaced by its
// category tag. Empty input returns empty output. Pure and stateless:
// safe for concurrent use.
func (e *Engine) Redact(text string) string {
	if text == "" {
		return text
	}

	detected := 0
	for _, rule := range e.rules {
		for _, re := range rule.patterns {
			text = replaceMatches(re, text, rule.tag, &detected)
		}
	}

	if detected > 0 {
		e.logger.Debug("redacted PII spans", zap.Int("count", detected))
	}
	return text
}

// replaceMatches substitutes the rule tag for each match. When the pattern
// defines a capture group named "pii", only that group is replaced and the
// surrounding context is kept; otherwise the whole match is replaced.
func replaceMatches(re *regexp.Regexp, text, tag string, detected *int) string {
	piiGroup := -1
	for i, name := range re.SubexpNames() {
		if name == "pii" {
			piiGroup = i
			break
		}
	}

	var out []byte
	last := 0
	for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
		start, end := m[0], m[1]
		if piiGroup >= 0 && m[2*piiGroup] >= 0 {
			start, end = m[2*piiGroup], m[2*piiGroup+1]
		}
		out = append(out, text[last:start]...)
		out = append(out, tag...)
		last = end
		*detected++
	}
	if last == 0 {
		return text
	}
	out = append(out, text[last:]...)
	return string(out)
}

// Categories returns the configured category names, in application order.
func (e *Engine) Categories() []string {
	categories := make([]string, len(e.rules))
	for i, r := range e.rules {
		categories[i] = r.category
	}
	return categories
}
