package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/gavel-judge/gavel/runnerproto"
)

// TransitionRule is one row of the transition table: in state State, when
// the observed status set matches Outcome (or anything, if Otherwise), move
// to Next carrying Grade.
type TransitionRule struct {
	State string
	// Outcome is the exact set of case statuses this row fires on.
	// Ignored when Otherwise is set.
	Outcome []runnerproto.Status
	// Otherwise marks the wildcard fallback row for State.
	Otherwise bool
	// Next is the target state name, or TerminalState.
	Next string
	// Grade is the grade carried by this transition; the grade attached to
	// the last fired transition wins.
	Grade *int
}

// OutcomeKey is the canonical form of the rule's status set, usable as a
// lookup key. Otherwise rows have no key.
func (r TransitionRule) OutcomeKey() string {
	return StatusSetKey(r.Outcome)
}

// StatusSetKey canonicalizes a status set (deduplicated, order independent).
func StatusSetKey(set []runnerproto.Status) string {
	distinct := make(map[runnerproto.Status]struct{}, len(set))
	for _, s := range set {
		distinct[s] = struct{}{}
	}
	keys := make([]string, 0, len(distinct))
	for s := range distinct {
		keys = append(keys, string(s))
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}

// TransitionFunction is the ordered transition table.
type TransitionFunction []TransitionRule

// The wire shape is a list of pairs:
//
//	[[["precheck", ["pass"]], ["given", null]],
//	 [["precheck", "otherwise"], ["$", 0]]]

// UnmarshalJSON implements json.Unmarshaler for one rule pair.
func (r *TransitionRule) UnmarshalJSON(data []byte) error {
	var pair [2]json.RawMessage
	if err := unmarshalTuple(data, pair[:], "transition rule"); err != nil {
		return err
	}

	var key [2]json.RawMessage
	if err := unmarshalTuple(pair[0], key[:], "transition rule key"); err != nil {
		return err
	}
	if err := json.Unmarshal(key[0], &r.State); err != nil {
		return fmt.Errorf("transition rule state: %w", err)
	}
	var otherwise string
	if err := json.Unmarshal(key[1], &otherwise); err == nil {
		if otherwise != "otherwise" {
			return fmt.Errorf("invalid transition outcome: %q", otherwise)
		}
		r.Otherwise = true
		r.Outcome = nil
	} else {
		if err := json.Unmarshal(key[1], &r.Outcome); err != nil {
			return fmt.Errorf("transition rule outcome: %w", err)
		}
	}

	var target [2]json.RawMessage
	if err := unmarshalTuple(pair[1], target[:], "transition rule target"); err != nil {
		return err
	}
	if err := json.Unmarshal(target[0], &r.Next); err != nil {
		return fmt.Errorf("transition rule next state: %w", err)
	}
	if err := json.Unmarshal(target[1], &r.Grade); err != nil {
		return fmt.Errorf("transition rule grade: %w", err)
	}
	return nil
}

// MarshalJSON implements json.Marshaler, reproducing the wire shape.
func (r TransitionRule) MarshalJSON() ([]byte, error) {
	var outcome any
	if r.Otherwise {
		outcome = "otherwise"
	} else {
		outcome = r.Outcome
	}
	return json.Marshal([2]any{
		[2]any{r.State, outcome},
		[2]any{r.Next, r.Grade},
	})
}

func unmarshalTuple(data []byte, dst []json.RawMessage, what string) error {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if len(items) != len(dst) {
		return fmt.Errorf("%s: expected %d elements, got %d", what, len(dst), len(items))
	}
	copy(dst, items)
	return nil
}
