package alert

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

const maxRuleMessageChars = 280

// Validate checks a rule's fields. An empty severity defaults to warning and
// a blank message is cleared.
func (r *Rule) Validate() error {
	var errs []error
	if !r.Metric.Valid() {
		errs = append(errs, fmt.Errorf("unknown metric %q", r.Metric))
	}
	if r.Comparison != ComparisonAbove && r.Comparison != ComparisonBelow {
		errs = append(errs, fmt.Errorf("comparison %q must be above or below", r.Comparison))
	}
	if r.Severity == "" {
		r.Severity = SeverityWarning
	}
	if !r.Severity.Valid() {
		errs = append(errs, fmt.Errorf("unknown severity %q", r.Severity))
	}
	if math.IsNaN(r.Threshold) || math.IsInf(r.Threshold, 0) {
		errs = append(errs, errors.New("threshold must be a finite number"))
	}
	if r.Message != nil {
		msg := strings.TrimSpace(*r.Message)
		switch {
		case msg == "":
			r.Message = nil
		case utf8.RuneCountInString(msg) > maxRuleMessageChars:
			errs = append(errs, fmt.Errorf("message exceeds %d characters", maxRuleMessageChars))
		default:
			r.Message = &msg
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidRule, errors.Join(errs...))
	}
	return nil
}

// refreshRules reloads the enabled-rule cache used by Evaluate.
func (e *Engine) refreshRules(ctx context.Context) error {
	rules, err := e.rules.List(ctx)
	if err != nil {
		return fmt.Errorf("loading alert rules: %w", err)
	}
	e.rulesMu.Lock()
	e.ruleCache = rules
	e.rulesMu.Unlock()
	return nil
}

// afterRuleChange refreshes the cache; a failed refresh leaves the old cache
// and is logged, since the mutation itself already succeeded.
func (e *Engine) afterRuleChange(ctx context.Context) {
	if err := e.refreshRules(ctx); err != nil {
		e.logger.Error("refreshing alert rule cache failed", "error", err)
	}
}

// ListRules returns every custom rule.
func (e *Engine) ListRules(ctx context.Context) ([]Rule, error) {
	return e.rules.List(ctx)
}

// GetRule returns a rule or ErrRuleNotFound.
func (e *Engine) GetRule(ctx context.Context, id int64) (*Rule, error) {
	return e.rules.Get(ctx, id)
}

// CreateRule validates and stores a new rule.
func (e *Engine) CreateRule(ctx context.Context, rule Rule) (*Rule, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if err := e.rules.Create(ctx, &rule); err != nil {
		return nil, err
	}
	e.afterRuleChange(ctx)
	e.logger.Info("alert rule created", "rule_id", rule.ID, "metric", rule.Metric)
	return &rule, nil
}

// UpdateRule validates and replaces an existing rule.
func (e *Engine) UpdateRule(ctx context.Context, id int64, rule Rule) (*Rule, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	existing, err := e.rules.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	rule.ID = id
	rule.CreatedAt = existing.CreatedAt
	if err := e.rules.Update(ctx, &rule); err != nil {
		return nil, err
	}
	e.afterRuleChange(ctx)
	e.logger.Info("alert rule updated", "rule_id", id)
	return &rule, nil
}

// DeleteRule removes a rule.
func (e *Engine) DeleteRule(ctx context.Context, id int64) error {
	if err := e.rules.Delete(ctx, id); err != nil {
		return err
	}
	e.afterRuleChange(ctx)
	e.logger.Info("alert rule deleted", "rule_id", id)
	return nil
}
