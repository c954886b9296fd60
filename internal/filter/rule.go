package filter

import (
	"fmt"
	"net/url"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/bakkerme/culler/internal/core"
)

// RulePredicate evaluates a compiled expr-lang rule against each resource.
type RulePredicate struct {
	name    string
	rule    string
	program *vm.Program
}

// NewRule compiles rule. The rule sees id, scope, location, title, host, path,
// scheme, last_used_at and attrs, and must return a bool.
func NewRule(name, rule string) (*RulePredicate, error) {
	if rule == "" {
		return nil, fmt.Errorf("filter rule is required")
	}
	if name == "" {
		name = "rule"
	}
	program, err := expr.Compile(rule, expr.Env(ruleEnv(core.Resource{})))
	if err != nil {
		return nil, fmt.Errorf("compile filter rule: %w", err)
	}
	return &RulePredicate{name: name, rule: rule, program: program}, nil
}

func (p *RulePredicate) Name() string { return p.name }

func (p *RulePredicate) Rule() string { return p.rule }

func (p *RulePredicate) Match(r core.Resource) (bool, error) {
	result, err := expr.Run(p.program, ruleEnv(r))
	if err != nil {
		return false, err
	}
	matched, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("filter rule returned %T, want bool", result)
	}
	return matched, nil
}

func ruleEnv(r core.Resource) map[string]interface{} {
	var host, path, scheme string
	if u, err := url.Parse(r.Location); err == nil {
		host, path, scheme = u.Hostname(), u.Path, u.Scheme
	}
	attrs := r.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	return map[string]interface{}{
		"id":           r.ID,
		"scope":        r.Scope,
		"location":     r.Location,
		"title":        r.Title,
		"host":         host,
		"path":         path,
		"scheme":       scheme,
		"last_used_at": r.LastUsedAt,
		"attrs":        attrs,
	}
}
