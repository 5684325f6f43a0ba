package rules

import (
	"slices"
	"sort"

	"github.com/opensource-finance/kite/internal/domain"
	"github.com/shopspring/decimal"
)

// Matches reports whether the case satisfies every present sub-condition.
// Absent sub-conditions and empty sets impose no constraint. A range with
// min > max is evaluated literally and never matches.
func Matches(c domain.CaseSnapshot, cond domain.ConditionSet) bool {
	if !inIntRange(c.DaysOverdue, cond.DaysOverdue) {
		return false
	}
	if !inAmountRange(c.DebtAmount, cond.DebtAmount) {
		return false
	}
	if len(cond.Priority) > 0 && !slices.Contains(cond.Priority, c.Priority) {
		return false
	}
	if len(cond.Status) > 0 && !slices.Contains(cond.Status, c.Status) {
		return false
	}
	return true
}

func inIntRange(v int, r *domain.IntRange) bool {
	if r == nil {
		return true
	}
	if r.Min != nil && v < *r.Min {
		return false
	}
	if r.Max != nil && v > *r.Max {
		return false
	}
	return true
}

func inAmountRange(v decimal.Decimal, r *domain.AmountRange) bool {
	if r == nil {
		return true
	}
	if r.Min != nil && v.LessThan(*r.Min) {
		return false
	}
	if r.Max != nil && v.GreaterThan(*r.Max) {
		return false
	}
	return true
}

// SelectMatchingRules returns the active rules that match the case, ordered
// ascending by priority. Ties keep their input order.
func SelectMatchingRules(c domain.CaseSnapshot, rules []*domain.EscalationRule) []*domain.EscalationRule {
	matched := make([]*domain.EscalationRule, 0, len(rules))
	for _, r := range rules {
		if r == nil || !r.Active {
			continue
		}
		if Matches(c, r.Conditions) {
			matched = append(matched, r)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Priority < matched[j].Priority
	})
	return matched
}
