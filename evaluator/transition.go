package evaluator

import (
	"github.com/gavel-judge/gavel/runnerproto"
	"github.com/gavel-judge/gavel/schema"
)

// findTransition picks the rule for stateName given the observed status set.
// An exact status-set match always beats the otherwise row. A nil return
// means the table has no row for the observation.
func findTransition(table schema.TransitionFunction, stateName string, statusSet []runnerproto.Status) *schema.TransitionRule {
	key := schema.StatusSetKey(statusSet)
	var fallback *schema.TransitionRule
	for i := range table {
		rule := &table[i]
		if rule.State != stateName {
			continue
		}
		if rule.Otherwise {
			if fallback == nil {
				fallback = rule
			}
			continue
		}
		if rule.OutcomeKey() == key {
			return rule
		}
	}
	return fallback
}
