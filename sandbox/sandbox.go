// Package sandbox composes the subprocess invocation chain for one state
// execution: environment activation wrapping sandbox confinement wrapping
// the resource limiter wrapping the runner command.
//
// Everything in this package is pure command composition; nothing here
// executes a process.
package sandbox

import (
	"fmt"

	"github.com/gavel-judge/gavel/schema"
)

// FailureExitCode is the deterministic exit code the sandbox binary itself
// reports on confinement failure. It never aliases the wrapped program's
// exit code because the sandbox is invoked with a deterministic-exit-code
// guarantee.
const FailureExitCode = 255

// Paths carries the absolute locations a composed command references.
type Paths struct {
	// EnvironmentRoot holds the provisioned toolchain environments,
	// mounted read-only into the sandbox.
	EnvironmentRoot string
	// RunnerDir holds the runner harnesses, mounted read-only.
	RunnerDir string
	// LimiterPath is the resource limiter binary.
	LimiterPath string
	// ExerciseDir is the exercise concrete bundle, mounted read-only.
	ExerciseDir string
	// EvaluationDir is the per-evaluation scratch tree, the only writable
	// location inside the sandbox.
	EvaluationDir string
}

// Sandbox is the closed set of confinement backends. Implementations wrap
// an inner command with the backend's flag vocabulary.
type Sandbox interface {
	Kind() schema.SandboxKind
	WrapCommand(p Paths, inner []string) []string
}

// New selects the backend for the configured kind.
func New(kind schema.SandboxKind, opts schema.SandboxOptions, profile *Profile) (Sandbox, error) {
	switch kind {
	case schema.SandboxFirejail:
		return &firejail{opts: opts, profile: profile}, nil
	case schema.SandboxNsJail:
		return &nsjail{opts: opts, profile: profile}, nil
	default:
		return nil, fmt.Errorf("unknown sandbox kind %q", kind)
	}
}

// Composer builds the full argv for one state as a pure function of
// configuration and paths.
type Composer struct {
	Env     Environment
	Box     Sandbox
	Limiter Limiter
}

// Compose nests the wrappers innermost first: runner invocation, resource
// limiter, sandbox confinement, environment activation.
func (c *Composer) Compose(p Paths, runnerArgs []string, timeLimitSec int) []string {
	cmd := c.Limiter.WrapCommand(runnerArgs, timeLimitSec)
	cmd = c.Box.WrapCommand(p, cmd)
	return c.Env.WrapCommand(cmd)
}
