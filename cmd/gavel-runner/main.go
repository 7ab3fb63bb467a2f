// Command gavel-runner is the reference in-sandbox test runner. It takes
// the engine's runner argv contract, runs the command-comparison cases
// declared in its options and reports results on the wire the engine
// expects: human diagnostics on stderr, the report as the final line.
//
// It imports nothing but the standard library and the wire contract
// package, keeping it runnable inside the most restrictive sandbox.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/gavel-judge/gavel/runnerproto"
)

// internal failure codes, reported as statusCodeOffset+code so the engine
// can tell them apart from test process exits
const (
	statusCodeOffset = 192

	codeBadArgs     = 1
	codeBadOptions  = 2
	codeReportWrite = 3
)

// options is the decoded runner options document for one state.
type options struct {
	Cases []caseSpec `json:"cases"`
	// TimeoutSec bounds each case command; 0 means no per-case bound.
	TimeoutSec int `json:"timeout_sec"`
}

// caseSpec declares one command-comparison case: run Command with Stdin
// and compare its stdout against Expected.
type caseSpec struct {
	Name     string   `json:"name"`
	Command  []string `json:"command"`
	Stdin    string   `json:"stdin"`
	Expected string   `json:"expected"`
	// Message shown to the student on failure.
	Message string `json:"msg"`
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 6 {
		fmt.Fprintf(os.Stderr, "usage: gavel-runner <exercise dir> <state> <evaluation dir> <submission file> <result name> <options b64> [-l <level>]\n")
		return statusCodeOffset + codeBadArgs
	}
	state := args[1]
	evalDir := args[2]
	resultName := args[4]
	optionsB64 := args[5]

	raw, err := runnerproto.DecodeParameter(optionsB64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "undecodable options: %v\n", err)
		return statusCodeOffset + codeBadOptions
	}
	var opts options
	if raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &opts); err != nil {
			fmt.Fprintf(os.Stderr, "invalid options document: %v\n", err)
			return statusCodeOffset + codeBadOptions
		}
	}

	workDir := filepath.Join(evalDir, state)
	results := make([]runnerproto.CaseResult, 0, len(opts.Cases))
	for _, c := range opts.Cases {
		c := c
		results = append(results, runnerproto.RunIsolated(c.Name, func() runnerproto.CaseResult {
			return runCase(workDir, c, opts.TimeoutSec)
		}))
	}

	// persist the per-state artifact, then emit the report as the final
	// stderr line
	if data, err := json.Marshal(results); err == nil {
		_ = os.WriteFile(filepath.Join(workDir, resultName+".json"), append(data, '\n'), 0o644)
	}
	if err := runnerproto.WriteReport(os.Stderr, results); err != nil {
		fmt.Fprintf(os.Stderr, "report write failed: %v\n", err)
		return statusCodeOffset + codeReportWrite
	}
	return 0
}

func runCase(dir string, c caseSpec, timeoutSec int) runnerproto.CaseResult {
	if len(c.Command) == 0 {
		return runnerproto.CaseResult{
			Name:   c.Name,
			Status: runnerproto.StatusError,
			Tags:   []runnerproto.Tag{runnerproto.TagESE},
			Err:    "case declares no command",
		}
	}

	ctx := context.Background()
	if timeoutSec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutSec)*time.Second)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Command[0], c.Command[1:]...)
	cmd.Dir = dir
	cmd.Stdin = strings.NewReader(c.Stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return runnerproto.CaseResult{
			Name:   c.Name,
			Status: runnerproto.StatusError,
			Tags:   []runnerproto.Tag{runnerproto.TagTLE},
			Msg:    "Your program took too long.",
		}
	}
	if err != nil {
		return runnerproto.CaseResult{
			Name:          c.Name,
			Status:        runnerproto.StatusError,
			Tags:          []runnerproto.Tag{runnerproto.TagUA},
			Msg:           "Your program did not finish normally.",
			Err:           err.Error(),
			SystemMessage: stderr.String(),
		}
	}

	got := strings.TrimRight(stdout.String(), "\n")
	want := strings.TrimRight(c.Expected, "\n")
	if got != want {
		msg := c.Message
		if msg == "" {
			msg = "Output did not match the expected result."
		}
		return runnerproto.CaseResult{
			Name:   c.Name,
			Status: runnerproto.StatusFail,
			Tags:   []runnerproto.Tag{},
			Msg:    msg,
			Err:    fmt.Sprintf("expected %q, got %q", want, got),
		}
	}
	return runnerproto.CaseResult{
		Name:   c.Name,
		Status: runnerproto.StatusPass,
		Tags:   []runnerproto.Tag{},
	}
}
