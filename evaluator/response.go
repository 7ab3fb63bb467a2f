package evaluator

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/gavel-judge/gavel/runnerproto"
)

// EvaluatorName identifies this engine in response metadata.
const EvaluatorName = "gavel"

// ExerciseIdentity pins the exercise concrete a response was graded
// against.
type ExerciseIdentity struct {
	Name          string `json:"name"`
	Version       string `json:"version"`
	DirectoryHash string `json:"directory_hash"`
}

// EvaluatorIdentity records which engine build produced a response.
type EvaluatorIdentity struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// RunnerIdentity names the harness that ran one state.
type RunnerIdentity struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Metadata is the audit header of a response.
type Metadata struct {
	SubmissionKey    string            `json:"submission_key"`
	EvaluationKey    string            `json:"evaluation_key"`
	EvaluatedAt      time.Time         `json:"evaluated_at"`
	ExerciseConcrete ExerciseIdentity  `json:"exercise_concrete"`
	Evaluator        EvaluatorIdentity `json:"evaluator"`
}

// CaseResult is one graded test case, immutable once produced.
type CaseResult struct {
	Name            string             `json:"name"`
	Status          runnerproto.Status `json:"status"`
	Tags            []runnerproto.Tag  `json:"tags"`
	StudentMessage  string             `json:"student_message"`
	ReviewerMessage string             `json:"reviewer_message"`
	SystemMessage   string             `json:"system_message"`
}

// Aggregate summarizes one state's cases. Time is wall-clock nanoseconds,
// Memory the peak RSS as reported by the limiter; both are nil when the
// state never produced statistics.
type Aggregate struct {
	StatusSet []runnerproto.Status `json:"status_set"`
	Time      *uint64              `json:"time"`
	Memory    *uint64              `json:"memory"`
	TagSet    []runnerproto.Tag    `json:"tag_set"`
}

// StateResult is the outcome of one visited state.
type StateResult struct {
	Runner RunnerIdentity `json:"runner"`
	Cases  []CaseResult   `json:"cases"`
	Result Aggregate      `json:"result"`
}

// OverallResult aggregates across all visited states. Grade carries the
// grade of the last fired transition; time and memory are sums, the status
// and tag sets unions.
type OverallResult struct {
	StatusSet []runnerproto.Status `json:"status_set"`
	Grade     *int                 `json:"grade"`
	Time      uint64               `json:"time"`
	Memory    uint64               `json:"memory"`
	TagSet    []runnerproto.Tag    `json:"tag_set"`
}

// Response is the canonical evaluation report.
type Response struct {
	Metadata      Metadata               `json:"metadata"`
	StateHistory  []string               `json:"state_history"`
	StateResults  map[string]StateResult `json:"state_results"`
	OverallResult OverallResult          `json:"overall_result"`
}

// WriteFile persists the response document, creating the parent directory
// when the evaluation failed before staging anything.
func (r *Response) WriteFile(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func statusSetOf(cases []runnerproto.CaseResult) []runnerproto.Status {
	distinct := make(map[runnerproto.Status]struct{}, len(cases))
	for _, c := range cases {
		distinct[c.Status] = struct{}{}
	}
	set := make([]runnerproto.Status, 0, len(distinct))
	for s := range distinct {
		set = append(set, s)
	}
	runnerproto.SortStatuses(set)
	return set
}

func tagSetOf(cases []runnerproto.CaseResult) []runnerproto.Tag {
	var all []runnerproto.Tag
	for _, c := range cases {
		all = append(all, c.Tags...)
	}
	if all == nil {
		all = []runnerproto.Tag{}
	}
	return runnerproto.SortTags(all)
}

func toCaseResult(rc runnerproto.CaseResult) CaseResult {
	tags := rc.Tags
	if tags == nil {
		tags = []runnerproto.Tag{}
	}
	return CaseResult{
		Name:            rc.Name,
		Status:          rc.Status,
		Tags:            tags,
		StudentMessage:  rc.Msg,
		ReviewerMessage: rc.Err,
		SystemMessage:   rc.SystemMessage,
	}
}
