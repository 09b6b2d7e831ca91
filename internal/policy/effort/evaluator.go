// Package effort implements the Policy Evaluator: a pure function
// mapping per-item signals to an effort decision and QA requirement,
// driven by a declarative rule engine over the restricted expression
// grammar in expr.go rather than a general-purpose scripting language.
package effort

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/autoapply/orchestrator/internal/domain"
)

// Effort is re-exported from domain so this package's rules and
// decisions speak the same vocabulary as the rest of the control plane.
type Effort = domain.Effort

// Effort levels, re-exported from domain.
const (
	EffortLow    = domain.EffortLow
	EffortMedium = domain.EffortMedium
	EffortHigh   = domain.EffortHigh
)

// Rule pairs a predicate with the effort level it upgrades/downgrades to,
// or marks that QA is required when it matches.
type Rule struct {
	Name   string
	When   Predicate
	Target Effort // unused for QA rules
}

// RawRule is the on-disk/config representation before parsing.
type RawRule struct {
	Name   string `mapstructure:"name" yaml:"name"`
	When   string `mapstructure:"when" yaml:"when"`
	Target string `mapstructure:"target" yaml:"target"`
}

// Policy is pure data describing upgrades, downgrades, skips, and QA
// triggers as an ordered list of rules.
type Policy struct {
	SkipThreshold float64
	Upgrades      []Rule
	Downgrades    []Rule
	QARules       []Rule
}

// Decision is the Policy Evaluator's output.
type Decision struct {
	Effort     Effort
	QARequired bool
	SkipReason string
}

// Load compiles a set of raw rule definitions into a Policy. A rule
// whose predicate fails to parse is replaced with AlwaysFalse and a
// one-time startup warning is logged; it never aborts the load.
func Load(skipThreshold float64, upgrades, downgrades, qaRules []RawRule, logger *zap.Logger) (Policy, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := Policy{SkipThreshold: skipThreshold}
	var err error
	if p.Upgrades, err = compileRules(upgrades, logger); err != nil {
		return Policy{}, err
	}
	if p.Downgrades, err = compileRules(downgrades, logger); err != nil {
		return Policy{}, err
	}
	if p.QARules, err = compileRules(qaRules, logger); err != nil {
		return Policy{}, err
	}
	return p, nil
}

func compileRules(raw []RawRule, logger *zap.Logger) ([]Rule, error) {
	rules := make([]Rule, 0, len(raw))
	for _, r := range raw {
		pred, err := ParsePredicate(r.When)
		if err != nil {
			logger.Warn("invalid policy predicate; treating as always-false",
				zap.String("rule", r.Name), zap.String("predicate", r.When), zap.Error(err))
			pred = AlwaysFalse()
		}
		var target Effort
		if r.Target != "" {
			target = Effort(r.Target)
			if target != EffortLow && target != EffortMedium && target != EffortHigh {
				return nil, fmt.Errorf("rule %q: invalid target effort %q", r.Name, r.Target)
			}
		}
		rules = append(rules, Rule{Name: r.Name, When: pred, Target: target})
	}
	return rules, nil
}

// Input is the frozen signal set the Policy Evaluator consumes.
type Input struct {
	HintEffort  Effort
	MatchScore  float64
	CompanyTier string
	DomainAvoid bool
}

func (in Input) vars() Vars {
	return Vars{
		"hint_effort":  string(in.HintEffort),
		"match_score":  in.MatchScore,
		"company_tier": in.CompanyTier,
		"domain_avoid": in.DomainAvoid,
	}
}

// Evaluate runs the avoid/skip/upgrade/downgrade/QA decision sequence
// against one item's signals. It is a pure function: the same inputs
// always produce the same Decision.
func (p Policy) Evaluate(in Input) Decision {
	if in.CompanyTier == "avoid" {
		return Decision{Effort: EffortLow, SkipReason: "avoid_company"}
	}
	if in.MatchScore < p.SkipThreshold {
		return Decision{Effort: EffortLow, SkipReason: "low_match"}
	}

	effort := in.HintEffort
	if effort == "" {
		effort = EffortLow
	}
	vars := in.vars()

	for _, rule := range p.Upgrades {
		if rule.When.Eval(vars) {
			if rule.Target.Rank() > effort.Rank() {
				effort = rule.Target
			}
			break
		}
	}
	for _, rule := range p.Downgrades {
		if rule.When.Eval(vars) {
			if rule.Target.Rank() < effort.Rank() {
				effort = rule.Target
			}
			break
		}
	}

	qaRequired := false
	for _, rule := range p.QARules {
		if rule.When.Eval(vars) {
			qaRequired = true
			break
		}
	}

	return Decision{Effort: effort, QARequired: qaRequired}
}
