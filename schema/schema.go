// Package schema holds the versioned, declarative grading specification of
// one exercise and its load-time validation.
package schema

import (
	"encoding/json"

	"github.com/gavel-judge/gavel/runnerproto"
)

// SchemaVersionV1 is the current setting document version.
const SchemaVersionV1 = "v1.0"

// TerminalState is the reserved name marking termination of the evaluation
// state machine.
const TerminalState = "$"

// Setting is the root of an exercise grading specification. It is immutable
// once loaded and shared read-only across the whole evaluation.
type Setting struct {
	SchemaVersion string   `json:"schema_version"`
	Exercise      Exercise `json:"exercise"`
	Judge         Judge    `json:"judge"`
}

// Exercise identifies the versioned exercise this setting grades.
type Exercise struct {
	Name    string `json:"name"`
	Version string `json:"version"`

	// Tags declares the exercise-authored tag vocabulary. Builtin
	// infrastructure tag names are reserved and rejected here.
	Tags []runnerproto.Tag `json:"tags,omitempty"`
}

// Judge groups everything the evaluation engine needs.
type Judge struct {
	Preprocess  Preprocess  `json:"preprocess"`
	Environment Environment `json:"environment"`
	Sandbox     Sandbox     `json:"sandbox"`
	Evaluation  Evaluation  `json:"evaluation"`
}

// Preprocess configures the submission preprocessing step.
type Preprocess struct {
	// Rename, when set, fixes the file name the submission is staged under,
	// so test scripts can import it under a stable name.
	Rename string `json:"rename,omitempty"`
}

// Environment selects the language/toolchain environment the runner
// executes in. Environments are provisioned by the system administrator.
type Environment struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// SandboxKind is the closed set of supported confinement backends.
type SandboxKind string

const (
	SandboxFirejail SandboxKind = "Firejail"
	SandboxNsJail   SandboxKind = "NsJail"
)

// Sandbox selects and parameterizes the confinement backend.
type Sandbox struct {
	Name    SandboxKind    `json:"name"`
	Options SandboxOptions `json:"options"`
}

// SandboxOptions are the backend-independent resource limits.
type SandboxOptions struct {
	// CPULimit is the number of CPU cores the sandbox exposes.
	CPULimit int `json:"cpu_limit"`
	// MemoryLimit bounds the address space, in bytes or with a size suffix.
	MemoryLimit Size `json:"memory_limit"`
	// NetworkLimit is reserved; only "disable" is honored today.
	NetworkLimit string `json:"network_limit"`
}

// StateRunner names the in-sandbox harness for one state and carries its
// opaque, runner-specific options.
type StateRunner struct {
	Name    string          `json:"name"`
	Version string          `json:"version"`
	Options json.RawMessage `json:"options"`
}

// State is one stage of grading.
type State struct {
	Runner    StateRunner `json:"runner"`
	TimeLimit TimeLimit   `json:"time_limit"`
	// RequiredFiles are exercise files staged next to the submission,
	// relative to the exercise concrete directory.
	RequiredFiles []string `json:"required_files"`
}

// Evaluation declares the grading automaton.
type Evaluation struct {
	InitialState       string             `json:"initial_state"`
	States             map[string]State   `json:"states"`
	TransitionFunction TransitionFunction `json:"transition_function"`
}
