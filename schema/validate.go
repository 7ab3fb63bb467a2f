package schema

import (
	"fmt"
	"strings"

	"github.com/gavel-judge/gavel/runnerproto"
)

// Issue is one structural or semantic defect found in a setting document.
type Issue struct {
	Path string `json:"path"`
	Msg  string `json:"msg"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s", i.Path, i.Msg)
}

// ValidationError carries the structured diagnostics from setting
// validation.
type ValidationError struct {
	SchemaVersion string
	Issues        []Issue
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Issues))
	for _, i := range e.Issues {
		msgs = append(msgs, i.String())
	}
	return fmt.Sprintf("schema(%s): %s", e.SchemaVersion, strings.Join(msgs, "; "))
}

type validator struct {
	issues []Issue
}

func (v *validator) addf(path, format string, args ...any) {
	v.issues = append(v.issues, Issue{Path: path, Msg: fmt.Sprintf(format, args...)})
}

// Validate checks the semantic invariants that the JSON shape alone cannot
// enforce. It reports all defects it finds, not just the first.
func (s *Setting) Validate() error {
	v := &validator{}

	if s.SchemaVersion != SchemaVersionV1 {
		v.addf("schema_version", "unrecognized version %q", s.SchemaVersion)
	}
	if s.Exercise.Name == "" {
		v.addf("exercise.name", "must not be empty")
	}
	for i, tag := range s.Exercise.Tags {
		if tag.Name == "" {
			v.addf(fmt.Sprintf("exercise.tags[%d].name", i), "must not be empty")
		} else if runnerproto.IsBuiltinTagName(tag.Name) {
			v.addf(fmt.Sprintf("exercise.tags[%d].name", i),
				"%q collides with a reserved builtin tag", tag.Name)
		}
	}

	switch s.Judge.Sandbox.Name {
	case SandboxFirejail, SandboxNsJail:
	default:
		v.addf("judge.sandbox.name", "unknown sandbox kind %q", s.Judge.Sandbox.Name)
	}
	if s.Judge.Environment.Name == "" {
		v.addf("judge.environment.name", "must not be empty")
	}

	v.validateEvaluation(&s.Judge.Evaluation)

	if len(v.issues) > 0 {
		return &ValidationError{SchemaVersion: s.SchemaVersion, Issues: v.issues}
	}
	return nil
}

func (v *validator) validateEvaluation(e *Evaluation) {
	if len(e.States) == 0 {
		v.addf("judge.evaluation.states", "must declare at least one state")
	}
	for name, state := range e.States {
		path := fmt.Sprintf("judge.evaluation.states[%s]", name)
		if name == TerminalState {
			v.addf(path, "state name %q is reserved for the terminal marker", TerminalState)
		}
		if state.Runner.Name == "" {
			v.addf(path+".runner.name", "must not be empty")
		}
		if state.TimeLimit == 0 {
			v.addf(path+".time_limit", "must be positive")
		}
	}
	if _, ok := e.States[e.InitialState]; !ok {
		v.addf("judge.evaluation.initial_state",
			"state %q is not declared", e.InitialState)
	}

	// duplicate (state, outcome-set) rows make the lookup ambiguous
	type ruleKey struct {
		state, outcome string
	}
	seen := make(map[ruleKey]struct{}, len(e.TransitionFunction))
	seenOtherwise := make(map[string]struct{})
	for i, rule := range e.TransitionFunction {
		path := fmt.Sprintf("judge.evaluation.transition_function[%d]", i)
		if _, ok := e.States[rule.State]; !ok {
			v.addf(path, "source state %q is not declared", rule.State)
		}
		if rule.Next != TerminalState {
			if _, ok := e.States[rule.Next]; !ok {
				v.addf(path, "target state %q is not declared", rule.Next)
			}
		}
		if rule.Otherwise {
			if _, dup := seenOtherwise[rule.State]; dup {
				v.addf(path, "duplicate otherwise row for state %q", rule.State)
			}
			seenOtherwise[rule.State] = struct{}{}
			continue
		}
		for j, st := range rule.Outcome {
			if !st.Valid() {
				v.addf(fmt.Sprintf("%s.outcome[%d]", path, j), "invalid status %q", st)
			}
		}
		key := ruleKey{state: rule.State, outcome: rule.OutcomeKey()}
		if _, dup := seen[key]; dup {
			v.addf(path, "duplicate outcome set for state %q", rule.State)
		}
		seen[key] = struct{}{}
	}
}
