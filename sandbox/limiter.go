package sandbox

import (
	"fmt"
	"strconv"
)

// ExitTimedOut is the limiter's exit code when the time limit triggered.
// It is deferred to the caller: depending on the resource statistics it is
// interpreted as a student-attributable timeout.
const ExitTimedOut = 124

// DefaultTimeLimitSec is the safety fallback when a state carries no limit.
const DefaultTimeLimitSec = 60

// Limiter wraps a command with the resource/time limiter binary. The
// limiter sends SIGTERM at the limit, SIGKILL one second later, and prints
// its resource statistics block on stderr when the child exits.
type Limiter struct {
	// Path to the limiter binary (limitrace).
	Path string
}

// WrapCommand prefixes inner with the limiter invocation for the given
// whole-second time limit.
func (l Limiter) WrapCommand(inner []string, timeLimitSec int) []string {
	if timeLimitSec <= 0 {
		timeLimitSec = DefaultTimeLimitSec
	}
	cmd := []string{
		l.Path,
		"--signal=TERM",
		fmt.Sprintf("--kill-after=%d", timeLimitSec+1),
		strconv.Itoa(timeLimitSec),
	}
	return append(cmd, inner...)
}
