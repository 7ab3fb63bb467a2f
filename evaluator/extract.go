package evaluator

import (
	"fmt"
	"time"

	"github.com/gavel-judge/gavel/runnerproto"
	"github.com/gavel-judge/gavel/sandbox"
	"github.com/gavel-judge/gavel/schema"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const entireStageCase = "(Entire stage)"

// extraction is the fully classified outcome of one state execution.
type extraction struct {
	cases       []runnerproto.CaseResult
	diagnostics string
	stats       sandbox.ResourceStats
	hasStats    bool
	// fatal marks outcomes that must halt the state machine regardless of
	// what the transition table says.
	fatal bool
}

// extract turns a finished process into case results. Classification order
// follows the runner/limiter contract: signals first, then the reserved
// exit bands, then resource verdicts from the limiter statistics, and the
// runner's report only when no verdict fired — a killed or crashed runner
// never wrote a report line, so its payload must not be parsed.
func (e *Evaluator) extract(res *ProcessResult, timeLimitSec int, memLimit schema.Size) *extraction {
	out := &extraction{}

	if res.Signal == unix.SIGKILL {
		e.logger.Warn("runner killed", zap.Int("exit", res.ExitCode))
		out.cases = []runnerproto.CaseResult{fatalCase(
			"Runner process was killed.", string(res.Stderr), runnerproto.TagBSE)}
		out.fatal = true
		return out
	}

	// 255 is the sandbox wrapper reporting its own failure and 124 is the
	// limiter's timeout exit. Both still carry a well formed stderr tail,
	// so classification continues from the statistics.
	deferred := res.ExitCode == sandbox.FailureExitCode || res.ExitCode == sandbox.ExitTimedOut

	if !deferred && res.ExitCode >= statusCodeOffset {
		e.logger.Warn("runner internal failure", zap.Int("exit", res.ExitCode))
		out.cases = []runnerproto.CaseResult{fatalCase(
			fmt.Sprintf("Runner failed internally (code %d).", res.ExitCode-statusCodeOffset),
			string(res.Stderr), runnerproto.TagESE)}
		out.fatal = true
		return out
	}

	if !deferred && res.ExitCode != 0 {
		e.logger.Warn("runner crashed", zap.Int("exit", res.ExitCode))
		out.cases = []runnerproto.CaseResult{fatalCase(
			fmt.Sprintf("Runner exited with code %d and no result.", res.ExitCode),
			string(res.Stderr), runnerproto.TagUA)}
		out.fatal = true
		return out
	}

	remain, stats, _, err := sandbox.ExtractStats(string(res.Stderr))
	if err != nil {
		e.logger.Warn("stderr framing broken", zap.Error(err))
		out.cases = []runnerproto.CaseResult{fatalCase(
			"Evaluation produced no readable result.", string(res.Stderr), runnerproto.TagBSE)}
		out.fatal = true
		return out
	}
	out.stats = stats
	out.hasStats = true

	// Resource verdicts come before the payload: a run the limiter cut off
	// left a traceback where the report line would be.
	var verdicts []runnerproto.CaseResult
	elapsed := time.Duration(stats.ElapsedNsec) * time.Nanosecond
	if elapsed >= time.Duration(timeLimitSec)*time.Second {
		verdicts = append(verdicts, runnerproto.CaseResult{
			Name:   entireStageCase,
			Status: runnerproto.StatusError,
			Tags:   []runnerproto.Tag{runnerproto.TagTLE},
			Msg:    fmt.Sprintf("Evaluation took longer than the %d second limit.", timeLimitSec),
		})
	}
	// getrusage reports ru_maxrss in kilobytes on Linux.
	if memLimit > 0 && stats.MaxRSS*1024 >= uint64(memLimit) {
		verdicts = append(verdicts, runnerproto.CaseResult{
			Name:   entireStageCase,
			Status: runnerproto.StatusError,
			Tags:   []runnerproto.Tag{runnerproto.TagUA},
			Msg:    "Evaluation exceeded the memory limit.",
			Err:    fmt.Sprintf("MLE: %d KiB used", stats.MaxRSS),
		})
	}
	if len(verdicts) > 0 {
		out.cases = verdicts
		out.diagnostics = remain
		return out
	}

	payload, diagnostics := splitPayload(remain)
	out.diagnostics = diagnostics

	cases, perr := runnerproto.ParseReport([]byte(payload))
	if perr != nil {
		e.logger.Warn("report payload malformed", zap.Error(perr))
		out.cases = []runnerproto.CaseResult{fatalCase(
			"Evaluation produced no readable result.", diagnostics, runnerproto.TagBSE)}
		out.fatal = true
		return out
	}
	out.cases = cases
	return out
}

// splitPayload takes the stderr text that precedes the statistics tail and
// separates the trailing report line from earlier diagnostic output.
func splitPayload(remain string) (payload, diagnostics string) {
	for i := len(remain) - 1; i >= 0; i-- {
		if remain[i] == '\n' {
			return remain[i+1:], remain[:i]
		}
	}
	return remain, ""
}

func fatalCase(msg, systemMsg string, tag runnerproto.Tag) runnerproto.CaseResult {
	return runnerproto.CaseResult{
		Name:          entireStageCase,
		Status:        runnerproto.StatusFatal,
		Tags:          []runnerproto.Tag{tag},
		Msg:           msg,
		SystemMessage: systemMsg,
	}
}
