package worker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gavel-judge/gavel/evaluator"
)

// newFixtureEvaluator builds a minimal engine whose evaluations terminate
// immediately with a setup failure: the exercise directory named in the
// options does not exist. Pool behavior is what is under test here, not
// grading.
func newFixtureEvaluator(t *testing.T) (*evaluator.Evaluator, evaluator.Options) {
	t.Helper()
	root := t.TempDir()

	envRoot := filepath.Join(root, "environments")
	mustWrite(t, filepath.Join(envRoot, "python3", "environment_ready"), "")
	runnerDir := filepath.Join(root, "runners")
	mustWrite(t, filepath.Join(runnerDir, "runner.py"), "")
	limiter := filepath.Join(root, "limitrace")
	mustWrite(t, limiter, "")

	ev, err := evaluator.New(evaluator.Config{
		EnvironmentRoot: envRoot,
		RunnerDir:       runnerDir,
		LimiterPath:     limiter,
	})
	if err != nil {
		t.Fatalf("evaluator.New: %v", err)
	}
	return ev, evaluator.Options{
		ExerciseDir:    filepath.Join(root, "no-such-exercise"),
		SubmissionDir:  root,
		SubmissionFile: "main.py",
		EvaluationDir:  filepath.Join(root, "evaluation"),
		ResultName:     "result",
		SubmissionKey:  "sub-1",
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
