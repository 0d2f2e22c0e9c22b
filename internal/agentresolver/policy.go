package agentresolver

import (
	"fmt"
	"regexp"
)

// Compile compiles every rule's pattern, returning the first compile error.
// A compiled policy must be built before Resolve/Allows is called.
func (p ToolPolicy) Compile() (ToolPolicy, error) {
	out := make(ToolPolicy, len(p))
	for i, rule := range p {
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("agentresolver: invalid tool policy pattern %q: %w", rule.Pattern, err)
		}
		rule.compiled = re
		out[i] = rule
	}
	return out, nil
}

// Resolve evaluates toolName against the policy last-match-wins: the last
// rule whose pattern matches wins; no match means ActionEnable (implicit
// default-allow).
func (p ToolPolicy) Resolve(toolName string) PolicyAction {
	action := ActionEnable
	for _, rule := range p {
		re := rule.compiled
		if re == nil {
			re = regexp.MustCompile(rule.Pattern)
		}
		if re.MatchString(toolName) {
			action = rule.Action
		}
	}
	return action
}

// Allows reports whether toolName is usable under the policy: ActionEnable
// or ActionRequire both allow; ActionDisable forbids.
func (p ToolPolicy) Allows(toolName string) bool {
	return p.Resolve(toolName) != ActionDisable
}

// Required returns the tool names the policy requires (forces into every
// turn's tool set regardless of what the model asks for).
func (p ToolPolicy) Required() []string {
	seen := make(map[string]bool)
	var required []string
	for _, tn := range p.allMatchableNames() {
		if p.Resolve(tn) == ActionRequire {
			if !seen[tn] {
				seen[tn] = true
				required = append(required, tn)
			}
		}
	}
	return required
}

// allMatchableNames collects literal (non-regex-metacharacter) patterns as
// candidate tool names for Required() to probe. Patterns that are genuinely
// regular expressions (wildcards, alternations) can't be enumerated this
// way and are the caller's responsibility to test directly with Resolve.
func (p ToolPolicy) allMatchableNames() []string {
	var names []string
	for _, rule := range p {
		if isLiteralPattern(rule.Pattern) {
			names = append(names, rule.Pattern)
		}
	}
	return names
}

func isLiteralPattern(pattern string) bool {
	for _, r := range pattern {
		switch r {
		case '.', '*', '+', '?', '(', ')', '[', ']', '{', '}', '|', '^', '$', '\\':
			return false
		}
	}
	return true
}

// Compose concatenates policies in precedence order: agent ⧺ caller ⧺
// systemMinion. Later entries win ties because Resolve walks the full
// concatenated list and keeps the last match.
func Compose(policies ...ToolPolicy) ToolPolicy {
	var out ToolPolicy
	for _, p := range policies {
		out = append(out, p...)
	}
	return out
}
