package evaluator

// Options locate everything one evaluation run touches. They mirror the
// contract with the integration layer that queues submissions.
type Options struct {
	// ExerciseDir is the exercise concrete bundle directory.
	ExerciseDir string
	// SubmissionDir and SubmissionFile locate the student's submitted file.
	SubmissionDir  string
	SubmissionFile string
	// EvaluationDir is the scratch tree for this run; each visited state
	// stages its own subdirectory underneath.
	EvaluationDir string
	// ResultName is the base name for per-state result artifacts and the
	// persisted response document.
	ResultName string
	// SubmissionKey identifies the submission in the caller's bookkeeping;
	// echoed back in the response metadata.
	SubmissionKey string
	// LogLevel is forwarded to the in-sandbox runner.
	LogLevel string
}

func (o *Options) logLevel() string {
	if o.LogLevel == "" {
		return "ERROR"
	}
	return o.LogLevel
}
