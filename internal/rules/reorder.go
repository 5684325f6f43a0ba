package rules

import (
	"fmt"
	"sort"

	"github.com/opensource-finance/kite/internal/domain"
)

// PlanReorder computes the priority changes that move ruleID to target.
//
// The moved rule takes target. Every other rule whose priority is greater
// than or equal to target shifts up by one. Rules below target are not
// touched. Only rules whose priority actually changes are returned, sorted
// by new priority.
func PlanReorder(rules []*domain.EscalationRule, ruleID string, target int) ([]domain.ReorderChange, error) {
	if target < 0 {
		return nil, fmt.Errorf("%w: priority must not be negative", domain.ErrInvalidInput)
	}

	var moved *domain.EscalationRule
	for _, r := range rules {
		if r.ID == ruleID {
			moved = r
			break
		}
	}
	if moved == nil {
		return nil, fmt.Errorf("%w: rule %s", domain.ErrNotFound, ruleID)
	}

	collision := false
	for _, r := range rules {
		if r.ID != ruleID && r.Priority == target {
			collision = true
			break
		}
	}
	if moved.Priority == target && !collision {
		return nil, nil
	}

	var changes []domain.ReorderChange
	if moved.Priority != target {
		changes = append(changes, domain.ReorderChange{
			RuleID:      moved.ID,
			OldPriority: moved.Priority,
			NewPriority: target,
		})
	}
	for _, r := range rules {
		if r.ID == ruleID || r.Priority < target {
			continue
		}
		changes = append(changes, domain.ReorderChange{
			RuleID:      r.ID,
			OldPriority: r.Priority,
			NewPriority: r.Priority + 1,
		})
	}

	sort.SliceStable(changes, func(i, j int) bool {
		return changes[i].NewPriority < changes[j].NewPriority
	})
	return changes, nil
}

// ApplyReorder applies changes to the in-memory rules.
func ApplyReorder(rules []*domain.EscalationRule, changes []domain.ReorderChange) {
	byID := make(map[string]int, len(changes))
	for _, c := range changes {
		byID[c.RuleID] = c.NewPriority
	}
	for _, r := range rules {
		if p, ok := byID[r.ID]; ok {
			r.Priority = p
		}
	}
}
