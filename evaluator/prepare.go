package evaluator

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gavel-judge/gavel/runnerproto"
	"github.com/gavel-judge/gavel/schema"
	"go.uber.org/zap"
)

// renamed runners kept for settings written against older deployments
var runnerAliases = map[string]string{
	"test_runner_py37_unittest_v3.py": "test_runner_py310_unittest.py",
}

// stateArgs is everything executeState needs after staging succeeded.
type stateArgs struct {
	runnerPath     string
	evaluationFile string
	optionsB64     string
	timeLimitSec   int
	stateDir       string
}

// prepare stages the execution directory for one state: the submission
// (optionally renamed), the state's test script and every required file.
// Any missing artifact fails the whole state with a MissConfigurationError.
func (e *Evaluator) prepare(setting *schema.Setting, opts Options, stateName string, state schema.State) (*stateArgs, error) {
	runnerName := state.Runner.Name
	if alias, ok := runnerAliases[runnerName]; ok {
		runnerName = alias
	}
	runnerPath := filepath.Join(e.conf.RunnerDir, runnerName)
	if info, err := os.Stat(runnerPath); err != nil || !info.Mode().IsRegular() {
		return nil, missConfigf(err, "runner %q not found (expected %q)", runnerName, runnerPath)
	}

	optionsB64 := runnerproto.EncodeParameter(string(state.Runner.Options))

	stateDir := filepath.Join(opts.EvaluationDir, stateName)
	e.logger.Debug("staging state directory",
		zap.String("state", stateName), zap.String("dir", stateDir))
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, missConfigf(err, "create state directory %q", stateDir)
	}

	evaluationFile := opts.SubmissionFile
	if setting.Judge.Preprocess.Rename != "" {
		evaluationFile = setting.Judge.Preprocess.Rename
	}
	if err := copyFile(
		filepath.Join(opts.SubmissionDir, opts.SubmissionFile),
		filepath.Join(stateDir, evaluationFile),
	); err != nil {
		return nil, missConfigf(err, "submission file not found: %q", opts.SubmissionFile)
	}

	scriptName := stateName + e.conf.ScriptExt
	if err := copyFile(
		filepath.Join(opts.ExerciseDir, scriptName),
		filepath.Join(stateDir, scriptName),
	); err != nil {
		return nil, missConfigf(err, "state script not found: %q", scriptName)
	}

	for _, required := range state.RequiredFiles {
		dst := filepath.Join(stateDir, required)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return nil, missConfigf(err, "create directory for %q", required)
		}
		if err := copyFile(filepath.Join(opts.ExerciseDir, required), dst); err != nil {
			return nil, missConfigf(err, "required file not found: %q", required)
		}
	}

	timeLimitSec := state.TimeLimit.Seconds()
	if timeLimitSec <= 0 {
		return nil, missConfigf(nil, "invalid time_limit: %v", state.TimeLimit)
	}

	return &stateArgs{
		runnerPath:     runnerPath,
		evaluationFile: evaluationFile,
		optionsB64:     optionsB64,
		timeLimitSec:   timeLimitSec,
		stateDir:       stateDir,
	}, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%q is not a regular file", src)
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
