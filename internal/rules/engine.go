// Package rules provides condition matching and rule selection for
// escalation rules, with optional CEL-Go predicates.
package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/kite/internal/domain"
)

// Engine selects matching rules for a case. It loads per-tenant rule
// snapshots through the cache and keeps compiled CEL programs by rule.
type Engine struct {
	mu       sync.RWMutex
	env      *cel.Env
	programs map[string]*compiledExpression

	repo    domain.Repository
	cache   domain.Cache
	ruleTTL time.Duration
}

type compiledExpression struct {
	source  string
	program cel.Program
}

// NewEngine creates a new rule engine. repo and cache may be nil in tests.
func NewEngine(repo domain.Repository, cache domain.Cache, ruleTTL time.Duration) (*Engine, error) {
	if ruleTTL <= 0 {
		ruleTTL = time.Minute
	}

	env, err := cel.NewEnv(
		cel.Variable("days_overdue", cel.IntType),
		cel.Variable("debt_amount", cel.DoubleType),
		cel.Variable("paid_amount", cel.DoubleType),
		cel.Variable("outstanding", cel.DoubleType),
		cel.Variable("priority", cel.StringType),
		cel.Variable("priority_rank", cel.IntType),
		cel.Variable("status", cel.StringType),
		cel.Variable("currency", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:      env,
		programs: make(map[string]*compiledExpression),
		repo:     repo,
		cache:    cache,
		ruleTTL:  ruleTTL,
	}, nil
}

// ValidateRule checks the rule shape and compiles its expression without
// caching the program.
func (e *Engine) ValidateRule(rule *domain.EscalationRule) error {
	if rule == nil {
		return fmt.Errorf("%w: rule is required", domain.ErrInvalidInput)
	}
	if err := rule.Validate(); err != nil {
		return err
	}
	if rule.Conditions.Expression == "" {
		return nil
	}
	if _, err := e.compile(rule.Conditions.Expression); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

// Select returns the rules matching the case in firing order.
func (e *Engine) Select(ctx context.Context, c *domain.DebtCase, rules []*domain.EscalationRule) []*domain.EscalationRule {
	snapshot := c.Snapshot()
	candidates := SelectMatchingRules(snapshot, rules)

	matched := candidates[:0]
	for _, r := range candidates {
		if r.Conditions.Expression == "" {
			matched = append(matched, r)
			continue
		}
		ok, err := e.evalExpression(r, snapshot)
		if err != nil {
			slog.Warn("rule expression failed",
				"rule_id", r.ID,
				"case_id", c.ID,
				"error", err,
			)
			continue
		}
		if ok {
			matched = append(matched, r)
		}
	}
	return matched
}

// SelectForCase loads the tenant's active rules and selects matches.
func (e *Engine) SelectForCase(ctx context.Context, c *domain.DebtCase) ([]*domain.EscalationRule, error) {
	rules, err := e.ActiveRules(ctx, c.TenantID)
	if err != nil {
		return nil, err
	}
	return e.Select(ctx, c, rules), nil
}

// ActiveRules returns the tenant's active rules ordered by priority,
// served from cache when available.
func (e *Engine) ActiveRules(ctx context.Context, tenantID string) ([]*domain.EscalationRule, error) {
	if e.cache != nil {
		data, err := e.cache.Get(ctx, tenantID, domain.CacheKeyActiveRules)
		if err == nil && data != nil {
			var cached []*domain.EscalationRule
			if err := json.Unmarshal(data, &cached); err == nil {
				return cached, nil
			}
		}
	}

	if e.repo == nil {
		return nil, fmt.Errorf("no rule source configured")
	}

	rules, err := e.repo.ListRules(ctx, tenantID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}

	if e.cache != nil {
		if data, err := json.Marshal(rules); err == nil {
			if err := e.cache.Set(ctx, tenantID, domain.CacheKeyActiveRules, data, e.ruleTTL); err != nil {
				slog.Warn("failed to cache rules", "tenant_id", tenantID, "error", err)
			}
		}
	}
	return rules, nil
}

// Invalidate drops the tenant's cached rule snapshot. Call after every rule write.
func (e *Engine) Invalidate(ctx context.Context, tenantID string) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Delete(ctx, tenantID, domain.CacheKeyActiveRules); err != nil {
		slog.Warn("failed to invalidate rule cache", "tenant_id", tenantID, "error", err)
	}
}

// CompiledCount returns the number of cached CEL programs.
func (e *Engine) CompiledCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.programs)
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.programs = make(map[string]*compiledExpression)
	return nil
}

func (e *Engine) evalExpression(rule *domain.EscalationRule, c domain.CaseSnapshot) (bool, error) {
	program, err := e.programFor(rule)
	if err != nil {
		return false, err
	}

	out, _, err := program.Eval(map[string]any{
		"days_overdue":  int64(c.DaysOverdue),
		"debt_amount":   c.DebtAmount.InexactFloat64(),
		"paid_amount":   c.PaidAmount.InexactFloat64(),
		"outstanding":   c.DebtAmount.Sub(c.PaidAmount).InexactFloat64(),
		"priority":      string(c.Priority),
		"priority_rank": int64(c.Priority.Rank()),
		"status":        string(c.Status),
		"currency":      c.Currency,
	})
	if err != nil {
		return false, fmt.Errorf("evaluation error: %w", err)
	}

	b, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("expression returned %s, want bool", out.Type().TypeName())
	}
	return bool(b), nil
}

// programFor returns the compiled program for the rule, recompiling when
// the expression text changed since it was cached.
func (e *Engine) programFor(rule *domain.EscalationRule) (cel.Program, error) {
	source := rule.Conditions.Expression

	e.mu.RLock()
	cached, ok := e.programs[rule.ID]
	e.mu.RUnlock()
	if ok && cached.source == source {
		return cached.program, nil
	}

	program, err := e.compile(source)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", rule.ID, err)
	}

	e.mu.Lock()
	e.programs[rule.ID] = &compiledExpression{source: source, program: program}
	e.mu.Unlock()

	return program, nil
}

func (e *Engine) compile(source string) (cel.Program, error) {
	ast, issues := e.env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("expression must return bool, got %s", ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program: %w", err)
	}
	return program, nil
}
