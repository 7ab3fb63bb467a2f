package evaluator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gavel-judge/gavel/runnerproto"
	"github.com/gavel-judge/gavel/sandbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// stubRunner serves canned process results keyed by the state directory
// base name, which is the state being executed.
type stubRunner struct {
	results map[string]*ProcessResult
	errs    map[string]error
	argvs   [][]string
}

func (s *stubRunner) Run(ctx context.Context, dir string, argv []string) (*ProcessResult, error) {
	state := filepath.Base(dir)
	s.argvs = append(s.argvs, argv)
	if err, ok := s.errs[state]; ok {
		return nil, err
	}
	res, ok := s.results[state]
	if !ok {
		return nil, fmt.Errorf("unexpected state %q", state)
	}
	return res, nil
}

// hangingRunner never returns until the stage deadline cancels it.
type hangingRunner struct{}

func (hangingRunner) Run(ctx context.Context, dir string, argv []string) (*ProcessResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// stubStderr reassembles the runner/limiter stderr contract: diagnostics,
// the report payload line, then the limiter statistics block.
func stubStderr(payload string, elapsedNsec, maxRSSKiB uint64) []byte {
	return []byte("INFO:runner:starting\n" + payload + "\n" + statsBlock(elapsedNsec, maxRSSKiB))
}

// killedStderr is what a limiter-terminated run leaves behind: whatever the
// runner printed before dying, then the statistics block, with no report line.
func killedStderr(diag string, elapsedNsec, maxRSSKiB uint64) []byte {
	return []byte(diag + statsBlock(elapsedNsec, maxRSSKiB))
}

func statsBlock(elapsedNsec, maxRSSKiB uint64) string {
	rusage := fmt.Sprintf("ru_utime_usec:100\tru_stime_usec:50\tru_time_usec:150\t"+
		"ru_maxrss:%d\tru_minflt:0\tru_majflt:0\tru_inblock:0\tru_oublock:0\t"+
		"ru_nvcsw:0\tru_nivcsw:0\ttime_elapse_nsec:%d", maxRSSKiB, elapsedNsec)
	detect := "cpu_overuse:0\tmemory_overuse:0\tutime_overuse:0\tstime_overuse:0\t" +
		"as_overuse:0\trss_overuse:0\texit_status:0"
	return sandbox.StatsHeader + "\n" + rusage + "\n" + detect + "\n"
}

func passOutcome() *ProcessResult {
	return &ProcessResult{
		ExitCode: 0,
		Stderr:   stubStderr(`[{"name": "q1", "status": "pass", "tags": [], "msg": "", "err": "", "system_message": ""}]`, 50_000_000, 20_000),
	}
}

func failOutcome() *ProcessResult {
	return &ProcessResult{
		ExitCode: 0,
		Stderr:   stubStderr(`[{"name": "q1", "status": "fail", "tags": [], "msg": "wrong answer", "err": "", "system_message": ""}]`, 50_000_000, 20_000),
	}
}

const testSetting = `{
	"schema_version": "v1.0",
	"exercise": {"name": "ex1", "version": "20260401"},
	"judge": {
		"preprocess": {"rename": "submission.py"},
		"environment": {"name": "python3", "version": ""},
		"sandbox": {
			"name": "Firejail",
			"options": {"cpu_limit": 1, "memory_limit": "256MiB", "network_limit": "disable"}
		},
		"evaluation": {
			"initial_state": "precheck",
			"states": {
				"precheck": {
					"runner": {"name": "test_runner_py310_unittest.py", "version": "", "options": {"evaluation_style": "separate"}},
					"time_limit": 2,
					"required_files": [".judge/judge_util.py"]
				},
				"given": {
					"runner": {"name": "test_runner_py310_unittest.py", "version": "", "options": {"evaluation_style": "separate"}},
					"time_limit": 2,
					"required_files": []
				},
				"hidden": {
					"runner": {"name": "test_runner_py310_unittest.py", "version": "", "options": {"evaluation_style": "separate"}},
					"time_limit": 2,
					"required_files": []
				}
			},
			"transition_function": [
				[["precheck", ["pass"]], ["given", 5]],
				[["precheck", "otherwise"], ["$", 0]],
				[["given", ["pass"]], ["hidden", 8]],
				[["given", "otherwise"], ["$", 0]],
				[["hidden", ["pass"]], ["$", 10]],
				[["hidden", "otherwise"], ["$", 8]]
			]
		}
	}
}`

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// newTestEvaluator lays out a full on-disk fixture: environment root,
// runner directory, limiter, exercise concrete and a submission.
func newTestEvaluator(t *testing.T, settingDoc string, runner CommandRunner) (*Evaluator, Options) {
	t.Helper()
	root := t.TempDir()

	envRoot := filepath.Join(root, "environments")
	writeTestFile(t, filepath.Join(envRoot, "python3", "environment_ready"), "")

	runnerDir := filepath.Join(root, "runners")
	writeTestFile(t, filepath.Join(runnerDir, "test_runner_py310_unittest.py"), "# harness\n")

	limiter := filepath.Join(root, "limitrace")
	writeTestFile(t, limiter, "")

	exerciseDir := filepath.Join(root, "exercise")
	writeTestFile(t, filepath.Join(exerciseDir, "setting.json"), settingDoc)
	for _, script := range []string{"precheck.py", "given.py", "hidden.py"} {
		writeTestFile(t, filepath.Join(exerciseDir, script), "# tests\n")
	}
	writeTestFile(t, filepath.Join(exerciseDir, ".judge", "judge_util.py"), "# util\n")

	submissionDir := filepath.Join(root, "submission")
	writeTestFile(t, filepath.Join(submissionDir, "main.py"), "print('hi')\n")

	ev, err := New(Config{
		EnvironmentRoot:  envRoot,
		RunnerDir:        runnerDir,
		LimiterPath:      limiter,
		EvaluatorVersion: "test",
		StageGrace:       200 * time.Millisecond,
		Runner:           runner,
	})
	require.NoError(t, err)

	return ev, Options{
		ExerciseDir:    exerciseDir,
		SubmissionDir:  submissionDir,
		SubmissionFile: "main.py",
		EvaluationDir:  filepath.Join(root, "evaluation"),
		ResultName:     "result",
		SubmissionKey:  "sub-1",
	}
}

func TestEvaluateAllPassGradeLastTransitionWins(t *testing.T) {
	stub := &stubRunner{results: map[string]*ProcessResult{
		"precheck": passOutcome(),
		"given":    passOutcome(),
		"hidden":   passOutcome(),
	}}
	ev, opts := newTestEvaluator(t, testSetting, stub)

	resp := ev.Evaluate(context.Background(), opts)

	require.Equal(t, []string{"precheck", "given", "hidden", "$"}, resp.StateHistory)
	require.NotNil(t, resp.OverallResult.Grade)
	assert.Equal(t, 10, *resp.OverallResult.Grade)
	assert.Equal(t, []runnerproto.Status{runnerproto.StatusPass}, resp.OverallResult.StatusSet)
	assert.Len(t, resp.StateResults, 3)
	assert.Equal(t, "sub-1", resp.Metadata.SubmissionKey)
	assert.NotEmpty(t, resp.Metadata.EvaluationKey)
	assert.Equal(t, "ex1", resp.Metadata.ExerciseConcrete.Name)
	assert.NotEmpty(t, resp.Metadata.ExerciseConcrete.DirectoryHash)

	// every composed command activates the environment through bash
	require.Len(t, stub.argvs, 3)
	assert.Equal(t, "bash", stub.argvs[0][0])
}

func TestEvaluateFailTakesOtherwiseRow(t *testing.T) {
	stub := &stubRunner{results: map[string]*ProcessResult{
		"precheck": passOutcome(),
		"given":    failOutcome(),
	}}
	ev, opts := newTestEvaluator(t, testSetting, stub)

	resp := ev.Evaluate(context.Background(), opts)

	require.Equal(t, []string{"precheck", "given", "$"}, resp.StateHistory)
	require.NotNil(t, resp.OverallResult.Grade)
	assert.Equal(t, 0, *resp.OverallResult.Grade)
	assert.Len(t, resp.StateResults, 2)
}

func TestEvaluateTimeLimitExceeded(t *testing.T) {
	// a limiter kill leaves no report line, only the statistics block
	stub := &stubRunner{results: map[string]*ProcessResult{
		"precheck": {
			ExitCode: sandbox.ExitTimedOut,
			Stderr:   killedStderr("", 2_500_000_000, 20_000),
		},
	}}
	ev, opts := newTestEvaluator(t, testSetting, stub)

	resp := ev.Evaluate(context.Background(), opts)

	require.Equal(t, []string{"precheck", "$"}, resp.StateHistory)
	sr := resp.StateResults["precheck"]
	require.Len(t, sr.Cases, 1)
	assert.Equal(t, "(Entire stage)", sr.Cases[0].Name)
	assert.Equal(t, runnerproto.StatusError, sr.Cases[0].Status)
	assert.Equal(t, []runnerproto.Tag{runnerproto.TagTLE}, sr.Cases[0].Tags)
	require.NotNil(t, resp.OverallResult.Grade)
	assert.Equal(t, 0, *resp.OverallResult.Grade)
}

func TestEvaluateMemoryLimitExceeded(t *testing.T) {
	// 300000 KiB used against the 256MiB limit
	stub := &stubRunner{results: map[string]*ProcessResult{
		"precheck": {
			ExitCode: sandbox.FailureExitCode,
			Stderr:   killedStderr("MemoryError\n", 50_000_000, 300_000),
		},
	}}
	ev, opts := newTestEvaluator(t, testSetting, stub)

	resp := ev.Evaluate(context.Background(), opts)

	sr := resp.StateResults["precheck"]
	require.Len(t, sr.Cases, 1)
	assert.Equal(t, "(Entire stage)", sr.Cases[0].Name)
	assert.Equal(t, runnerproto.StatusError, sr.Cases[0].Status)
	assert.Equal(t, []runnerproto.Tag{runnerproto.TagUA}, sr.Cases[0].Tags)
	assert.Contains(t, sr.Cases[0].ReviewerMessage, "MLE")
	require.Equal(t, []string{"precheck", "$"}, resp.StateHistory)
}

func TestEvaluateCrashWithoutReport(t *testing.T) {
	// a runner that died before reporting leaves only its traceback
	traceback := "Traceback (most recent call last):\n" +
		"  File \"main.py\", line 1, in <module>\n" +
		"RecursionError: maximum recursion depth exceeded\n"
	stub := &stubRunner{results: map[string]*ProcessResult{
		"precheck": {
			ExitCode: 1,
			Stderr:   []byte(traceback),
		},
	}}
	ev, opts := newTestEvaluator(t, testSetting, stub)

	resp := ev.Evaluate(context.Background(), opts)

	// fatal outcomes halt without reaching the terminal state
	require.Equal(t, []string{"precheck"}, resp.StateHistory)
	sr := resp.StateResults["precheck"]
	require.Len(t, sr.Cases, 1)
	assert.Equal(t, runnerproto.StatusFatal, sr.Cases[0].Status)
	assert.Equal(t, []runnerproto.Tag{runnerproto.TagUA}, sr.Cases[0].Tags)
	assert.Contains(t, sr.Cases[0].SystemMessage, "RecursionError")
	assert.Nil(t, resp.OverallResult.Grade)
}

func TestEvaluateKilledRunnerIsBackendFailure(t *testing.T) {
	stub := &stubRunner{results: map[string]*ProcessResult{
		"precheck": {ExitCode: -1, Signal: unix.SIGKILL},
	}}
	ev, opts := newTestEvaluator(t, testSetting, stub)

	resp := ev.Evaluate(context.Background(), opts)

	sr := resp.StateResults["precheck"]
	require.Len(t, sr.Cases, 1)
	assert.Equal(t, runnerproto.StatusFatal, sr.Cases[0].Status)
	assert.Equal(t, []runnerproto.Tag{runnerproto.TagBSE}, sr.Cases[0].Tags)
	require.Equal(t, []string{"precheck"}, resp.StateHistory)
}

func TestEvaluateInternalRunnerFailure(t *testing.T) {
	stub := &stubRunner{results: map[string]*ProcessResult{
		"precheck": {ExitCode: statusCodeOffset + 3},
	}}
	ev, opts := newTestEvaluator(t, testSetting, stub)

	resp := ev.Evaluate(context.Background(), opts)

	sr := resp.StateResults["precheck"]
	require.Len(t, sr.Cases, 1)
	assert.Equal(t, runnerproto.StatusFatal, sr.Cases[0].Status)
	assert.Equal(t, []runnerproto.Tag{runnerproto.TagESE}, sr.Cases[0].Tags)
}

func TestEvaluateMalformedOutputIsBackendFailure(t *testing.T) {
	stub := &stubRunner{results: map[string]*ProcessResult{
		"precheck": {ExitCode: 0, Stderr: []byte("garbage with no statistics block\n")},
	}}
	ev, opts := newTestEvaluator(t, testSetting, stub)

	resp := ev.Evaluate(context.Background(), opts)

	sr := resp.StateResults["precheck"]
	require.Len(t, sr.Cases, 1)
	assert.Equal(t, runnerproto.StatusFatal, sr.Cases[0].Status)
	assert.Equal(t, []runnerproto.Tag{runnerproto.TagBSE}, sr.Cases[0].Tags)
}

func TestEvaluateMissingRequiredFileHalts(t *testing.T) {
	stub := &stubRunner{results: map[string]*ProcessResult{}}
	ev, opts := newTestEvaluator(t, testSetting, stub)
	require.NoError(t, os.Remove(filepath.Join(opts.ExerciseDir, ".judge", "judge_util.py")))

	resp := ev.Evaluate(context.Background(), opts)

	require.Equal(t, []string{"precheck"}, resp.StateHistory)
	sr := resp.StateResults["precheck"]
	require.Len(t, sr.Cases, 1)
	assert.Equal(t, setupCase, sr.Cases[0].Name)
	assert.Equal(t, runnerproto.StatusFatal, sr.Cases[0].Status)
	assert.Equal(t, []runnerproto.Tag{runnerproto.TagESE}, sr.Cases[0].Tags)
	assert.Nil(t, resp.OverallResult.Grade)
	assert.Empty(t, stub.argvs)
}

func TestEvaluateExecutionErrorIsFatal(t *testing.T) {
	stub := &stubRunner{errs: map[string]error{
		"precheck": fmt.Errorf("fork failed"),
	}}
	ev, opts := newTestEvaluator(t, testSetting, stub)

	resp := ev.Evaluate(context.Background(), opts)

	sr := resp.StateResults["precheck"]
	require.Len(t, sr.Cases, 1)
	assert.Equal(t, "(Entire stage)", sr.Cases[0].Name)
	assert.Equal(t, runnerproto.StatusFatal, sr.Cases[0].Status)
	assert.Equal(t, []runnerproto.Tag{runnerproto.TagBSE}, sr.Cases[0].Tags)
	require.Equal(t, []string{"precheck"}, resp.StateHistory)
}

func TestEvaluateStageDeadlineHalts(t *testing.T) {
	doc := `{
		"schema_version": "v1.0",
		"exercise": {"name": "ex1", "version": "1"},
		"judge": {
			"preprocess": {},
			"environment": {"name": "python3", "version": ""},
			"sandbox": {"name": "Firejail", "options": {"cpu_limit": 1, "memory_limit": 0, "network_limit": "disable"}},
			"evaluation": {
				"initial_state": "precheck",
				"states": {
					"precheck": {"runner": {"name": "test_runner_py310_unittest.py", "version": "", "options": null}, "time_limit": 1, "required_files": []}
				},
				"transition_function": [
					[["precheck", "otherwise"], ["$", 0]]
				]
			}
		}
	}`
	ev, opts := newTestEvaluator(t, doc, hangingRunner{})

	resp := ev.Evaluate(context.Background(), opts)

	// the limiter inside the sandbox never fired, so the run cannot be
	// graded; the machine halts at the state with a fatal timeout case
	require.Equal(t, []string{"precheck"}, resp.StateHistory)
	sr := resp.StateResults["precheck"]
	require.Len(t, sr.Cases, 1)
	assert.Equal(t, runnerproto.StatusFatal, sr.Cases[0].Status)
	assert.Equal(t, []runnerproto.Tag{runnerproto.TagTLE}, sr.Cases[0].Tags)
	assert.Nil(t, resp.OverallResult.Grade)
}

func TestEvaluateBothResourceVerdicts(t *testing.T) {
	// over on time and memory at once reports both cases
	stub := &stubRunner{results: map[string]*ProcessResult{
		"precheck": {
			ExitCode: sandbox.ExitTimedOut,
			Stderr:   killedStderr("", 2_500_000_000, 300_000),
		},
	}}
	ev, opts := newTestEvaluator(t, testSetting, stub)

	resp := ev.Evaluate(context.Background(), opts)

	require.Equal(t, []string{"precheck", "$"}, resp.StateHistory)
	sr := resp.StateResults["precheck"]
	require.Len(t, sr.Cases, 2)
	assert.Equal(t, []runnerproto.Tag{runnerproto.TagTLE}, sr.Cases[0].Tags)
	assert.Equal(t, []runnerproto.Tag{runnerproto.TagUA}, sr.Cases[1].Tags)
	for _, c := range sr.Cases {
		assert.Equal(t, runnerproto.StatusError, c.Status)
	}
}

func TestEvaluateUnknownEnvironment(t *testing.T) {
	doc := `{
		"schema_version": "v1.0",
		"exercise": {"name": "ex1", "version": "1"},
		"judge": {
			"preprocess": {},
			"environment": {"name": "haskell", "version": ""},
			"sandbox": {"name": "Firejail", "options": {"cpu_limit": 1, "memory_limit": 0, "network_limit": "disable"}},
			"evaluation": {
				"initial_state": "precheck",
				"states": {
					"precheck": {"runner": {"name": "test_runner_py310_unittest.py", "version": "", "options": null}, "time_limit": 2, "required_files": []}
				},
				"transition_function": [
					[["precheck", "otherwise"], ["$", 0]]
				]
			}
		}
	}`
	ev, opts := newTestEvaluator(t, doc, &stubRunner{})

	resp := ev.Evaluate(context.Background(), opts)

	sr, ok := resp.StateResults[setupCase]
	require.True(t, ok)
	require.Len(t, sr.Cases, 1)
	assert.Equal(t, runnerproto.StatusFatal, sr.Cases[0].Status)
	assert.Equal(t, []runnerproto.Tag{runnerproto.TagESE}, sr.Cases[0].Tags)
	assert.Empty(t, resp.StateHistory)
}

func TestEvaluateOverallAggregation(t *testing.T) {
	stub := &stubRunner{results: map[string]*ProcessResult{
		"precheck": passOutcome(),
		"given":    failOutcome(),
	}}
	ev, opts := newTestEvaluator(t, testSetting, stub)

	resp := ev.Evaluate(context.Background(), opts)

	assert.Equal(t,
		[]runnerproto.Status{runnerproto.StatusFail, runnerproto.StatusPass},
		resp.OverallResult.StatusSet)
	assert.Equal(t, uint64(100_000_000), resp.OverallResult.Time)
	assert.Equal(t, uint64(40_000), resp.OverallResult.Memory)

	pre := resp.StateResults["precheck"]
	require.NotNil(t, pre.Result.Time)
	assert.Equal(t, uint64(50_000_000), *pre.Result.Time)
	require.NotNil(t, pre.Result.Memory)
	assert.Equal(t, uint64(20_000), *pre.Result.Memory)
}

func TestFindTransitionExactBeatsOtherwise(t *testing.T) {
	stub := &stubRunner{results: map[string]*ProcessResult{
		"precheck": passOutcome(),
		"given":    passOutcome(),
		"hidden":   passOutcome(),
	}}
	ev, opts := newTestEvaluator(t, testSetting, stub)

	resp := ev.Evaluate(context.Background(), opts)

	// a pass in precheck must take the exact row to given, never the
	// otherwise row to the terminal state
	require.Equal(t, "given", resp.StateHistory[1])
}

func TestEvaluateResponsePersistence(t *testing.T) {
	stub := &stubRunner{results: map[string]*ProcessResult{
		"precheck": failOutcome(),
	}}
	ev, opts := newTestEvaluator(t, testSetting, stub)

	resp := ev.Evaluate(context.Background(), opts)

	path := filepath.Join(opts.EvaluationDir, "result.json")
	require.NoError(t, resp.WriteFile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state_history"`)
	assert.Contains(t, string(data), `"overall_result"`)
}
