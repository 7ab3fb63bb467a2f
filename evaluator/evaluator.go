// Package evaluator drives the grading state machine for one submission:
// per-state staging, sandboxed runner execution, outcome classification and
// transition-table walking, accumulating the evaluation response.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gavel-judge/gavel/runnerproto"
	"github.com/gavel-judge/gavel/sandbox"
	"github.com/gavel-judge/gavel/schema"
	"github.com/rs/xid"
	"go.uber.org/zap"
)

// setupCase is the pseudo case name carrying staging and configuration
// failures that happen before a runner could produce real cases.
const setupCase = "__setup__"

// defaultOutputLimit bounds captured runner output per stream.
const defaultOutputLimit = 8 << 20

// maxTransitions guards against transition tables that cycle.
const maxTransitions = 100

// Config is the engine-level configuration shared by all evaluations.
type Config struct {
	// EnvironmentRoot holds provisioned toolchain environments.
	EnvironmentRoot string
	// RunnerDir holds the runner harness scripts.
	RunnerDir string
	// LimiterPath is the resource limiter binary.
	LimiterPath string

	// ScriptExt is appended to the state name to find its test script.
	// Defaults to ".py".
	ScriptExt string
	// RunnerCommand is the interpreter invocation prefixed to the runner
	// script. Defaults to ["python"].
	RunnerCommand []string
	// OutputLimit caps captured bytes per output stream.
	OutputLimit int64
	// StageGrace is the slack beyond a state's time limit before the
	// evaluator gives up on the limiter. Defaults to 3s.
	StageGrace time.Duration

	// SandboxProfile tweaks the confinement backend; nil means defaults.
	SandboxProfile *sandbox.Profile
	// EnvironmentActivate overrides activation commands per environment
	// name, from the environments config file.
	EnvironmentActivate map[string][]string

	// EvaluatorVersion is stamped into response metadata.
	EvaluatorVersion string

	// Runner executes composed commands. Defaults to os/exec.
	Runner CommandRunner

	Logger *zap.Logger
}

// Evaluator is a reusable grading engine. One Evaluator serves many
// evaluations; all per-run state lives on the stack of Evaluate.
type Evaluator struct {
	conf         Config
	environments map[string]struct{}
	runner       CommandRunner
	logger       *zap.Logger
}

// New validates the engine configuration and discovers the provisioned
// environments.
func New(conf Config) (*Evaluator, error) {
	if conf.Logger == nil {
		conf.Logger = zap.NewNop()
	}
	if conf.ScriptExt == "" {
		conf.ScriptExt = ".py"
	}
	if len(conf.RunnerCommand) == 0 {
		conf.RunnerCommand = []string{"python"}
	}
	if conf.OutputLimit <= 0 {
		conf.OutputLimit = defaultOutputLimit
	}
	if conf.StageGrace <= 0 {
		conf.StageGrace = defaultStageGrace
	}
	if info, err := os.Stat(conf.RunnerDir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("runner directory %q not usable: %w", conf.RunnerDir, err)
	}
	if info, err := os.Stat(conf.LimiterPath); err != nil || !info.Mode().IsRegular() {
		return nil, fmt.Errorf("limiter binary %q not usable: %w", conf.LimiterPath, err)
	}
	names, err := sandbox.List(conf.EnvironmentRoot)
	if err != nil {
		return nil, err
	}
	environments := make(map[string]struct{}, len(names))
	for _, n := range names {
		environments[n] = struct{}{}
	}
	runner := conf.Runner
	if runner == nil {
		runner = &execRunner{outputLimit: conf.OutputLimit}
	}
	return &Evaluator{
		conf:         conf,
		environments: environments,
		runner:       runner,
		logger:       conf.Logger,
	}, nil
}

// Evaluate grades one submission. It never returns an error: every failure
// mode is folded into the response as a fatal case, so the caller always
// has a complete document to persist and report.
func (e *Evaluator) Evaluate(ctx context.Context, opts Options) *Response {
	resp := &Response{
		Metadata: Metadata{
			SubmissionKey: opts.SubmissionKey,
			EvaluationKey: xid.New().String(),
			EvaluatedAt:   time.Now().UTC(),
			Evaluator: EvaluatorIdentity{
				Name:    EvaluatorName,
				Version: e.conf.EvaluatorVersion,
			},
		},
		StateHistory: []string{},
		StateResults: map[string]StateResult{},
	}
	logger := e.logger.With(
		zap.String("submission_key", opts.SubmissionKey),
		zap.String("evaluation_key", resp.Metadata.EvaluationKey))

	concrete, err := schema.LoadExerciseConcrete(opts.ExerciseDir)
	if err != nil {
		logger.Error("exercise concrete unusable", zap.Error(err))
		e.recordSetupFailure(resp, setupCase, "Exercise configuration could not be loaded.", err)
		e.finish(resp, nil)
		return resp
	}
	setting := concrete.Setting
	resp.Metadata.ExerciseConcrete = ExerciseIdentity{
		Name:          concrete.Setting.Exercise.Name,
		Version:       concrete.Setting.Exercise.Version,
		DirectoryHash: concrete.DirectoryHash,
	}

	composer, err := e.buildComposer(setting)
	if err != nil {
		logger.Error("engine configuration rejected", zap.Error(err))
		e.recordSetupFailure(resp, setupCase, "Evaluation environment is not available.", err)
		e.finish(resp, nil)
		return resp
	}

	paths := sandbox.Paths{
		EnvironmentRoot: e.conf.EnvironmentRoot,
		RunnerDir:       e.conf.RunnerDir,
		LimiterPath:     e.conf.LimiterPath,
		ExerciseDir:     opts.ExerciseDir,
		EvaluationDir:   opts.EvaluationDir,
	}

	evaluation := setting.Judge.Evaluation
	var grade *int
	stateName := evaluation.InitialState

	for steps := 0; ; steps++ {
		if steps >= maxTransitions {
			logger.Error("transition limit reached", zap.String("state", stateName))
			e.recordSetupFailure(resp, stateName, "Evaluation did not terminate.", nil)
			break
		}
		resp.StateHistory = append(resp.StateHistory, stateName)
		logger.Info("entering state", zap.String("state", stateName))

		state, ok := evaluation.States[stateName]
		if !ok {
			e.recordSetupFailure(resp, stateName,
				fmt.Sprintf("State %q is not declared.", stateName), nil)
			break
		}

		args, err := e.prepare(setting, opts, stateName, state)
		if err != nil {
			logger.Error("state staging failed", zap.String("state", stateName), zap.Error(err))
			e.recordSetupFailure(resp, stateName, "Evaluation could not be prepared.", err)
			break
		}

		ext := e.runState(ctx, composer, paths, opts, stateName, args,
			setting.Judge.Sandbox.Options.MemoryLimit)
		resp.StateResults[stateName] = stateResultOf(state, ext)

		if ext.fatal {
			break
		}

		statusSet := statusSetOf(ext.cases)
		rule := findTransition(evaluation.TransitionFunction, stateName, statusSet)
		if rule == nil {
			logger.Error("no transition for outcome",
				zap.String("state", stateName),
				zap.String("status_set", schema.StatusSetKey(statusSet)))
			e.recordSetupFailure(resp, stateName,
				"No transition is defined for this outcome.", nil)
			break
		}

		// The grade of the last fired transition wins, a nil grade included.
		grade = rule.Grade

		stateName = rule.Next
		if stateName == schema.TerminalState {
			resp.StateHistory = append(resp.StateHistory, schema.TerminalState)
			break
		}
	}

	e.finish(resp, grade)
	logger.Info("evaluation finished",
		zap.Strings("state_history", resp.StateHistory),
		zap.Any("grade", grade))
	return resp
}

func (e *Evaluator) buildComposer(setting *schema.Setting) (*sandbox.Composer, error) {
	env := setting.Judge.Environment
	if _, ok := e.environments[env.Name]; !ok {
		return nil, missConfigf(nil, "environment %q is not provisioned", env.Name)
	}
	box, err := sandbox.New(setting.Judge.Sandbox.Name, setting.Judge.Sandbox.Options, e.conf.SandboxProfile)
	if err != nil {
		return nil, missConfigf(err, "sandbox %q", setting.Judge.Sandbox.Name)
	}
	return &sandbox.Composer{
		Env: sandbox.Environment{
			Root:     e.conf.EnvironmentRoot,
			Name:     env.Name,
			Version:  env.Version,
			Activate: e.conf.EnvironmentActivate[env.Name],
		},
		Box:     box,
		Limiter: sandbox.Limiter{Path: e.conf.LimiterPath},
	}, nil
}

// runState executes one prepared state inside the sandbox chain and
// classifies the outcome.
func (e *Evaluator) runState(ctx context.Context, composer *sandbox.Composer, paths sandbox.Paths,
	opts Options, stateName string, args *stateArgs, memLimit schema.Size) *extraction {

	runnerArgs := append([]string{}, e.conf.RunnerCommand...)
	runnerArgs = append(runnerArgs,
		args.runnerPath,
		opts.ExerciseDir,
		stateName,
		opts.EvaluationDir,
		args.evaluationFile,
		fmt.Sprintf("%s__%s", opts.ResultName, stateName),
		args.optionsB64,
		"-l", opts.logLevel(),
	)
	argv := composer.Compose(paths, runnerArgs, args.timeLimitSec)

	runCtx, cancel := context.WithTimeout(ctx, stageDeadline(args.timeLimitSec, e.conf.StageGrace))
	defer cancel()

	res, err := e.runner.Run(runCtx, args.stateDir, argv)
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		// reaching the outer ceiling means the in-sandbox limiter itself
		// failed to enforce the limit; halt rather than grade
		e.logger.Error("stage exceeded wall-clock ceiling", zap.String("state", stateName))
		return &extraction{
			cases: []runnerproto.CaseResult{fatalCase(
				fmt.Sprintf("Evaluation took longer than the %d second limit.", args.timeLimitSec),
				"limiter did not enforce the time limit", runnerproto.TagTLE)},
			fatal: true,
		}
	}
	if err != nil {
		e.logger.Error("runner execution failed", zap.String("state", stateName), zap.Error(err))
		return &extraction{
			cases: []runnerproto.CaseResult{fatalCase(
				"Evaluation could not be executed.", err.Error(), runnerproto.TagBSE)},
			fatal: true,
		}
	}
	return e.extract(res, args.timeLimitSec, memLimit)
}

// recordSetupFailure overwrites key's state result with a single fatal
// environment-side failure case.
func (e *Evaluator) recordSetupFailure(resp *Response, key, msg string, err error) {
	systemMsg := ""
	if err != nil {
		systemMsg = err.Error()
	}
	c := runnerproto.CaseResult{
		Name:          setupCase,
		Status:        runnerproto.StatusFatal,
		Tags:          []runnerproto.Tag{runnerproto.TagESE},
		Msg:           msg,
		SystemMessage: systemMsg,
	}
	resp.StateResults[key] = StateResult{
		Cases: []CaseResult{toCaseResult(c)},
		Result: Aggregate{
			StatusSet: []runnerproto.Status{runnerproto.StatusFatal},
			TagSet:    []runnerproto.Tag{runnerproto.TagESE},
		},
	}
}

func stateResultOf(state schema.State, ext *extraction) StateResult {
	cases := make([]CaseResult, 0, len(ext.cases))
	for _, c := range ext.cases {
		cases = append(cases, toCaseResult(c))
	}
	agg := Aggregate{
		StatusSet: statusSetOf(ext.cases),
		TagSet:    tagSetOf(ext.cases),
	}
	if ext.hasStats {
		elapsed := ext.stats.ElapsedNsec
		maxRSS := ext.stats.MaxRSS
		agg.Time = &elapsed
		agg.Memory = &maxRSS
	}
	return StateResult{
		Runner: RunnerIdentity{
			Name:    state.Runner.Name,
			Version: state.Runner.Version,
		},
		Cases:  cases,
		Result: agg,
	}
}

// finish folds all state results into the overall aggregate.
func (e *Evaluator) finish(resp *Response, grade *int) {
	var all []runnerproto.CaseResult
	overall := OverallResult{Grade: grade}
	for _, sr := range resp.StateResults {
		for _, c := range sr.Cases {
			all = append(all, runnerproto.CaseResult{Status: c.Status, Tags: c.Tags})
		}
		if sr.Result.Time != nil {
			overall.Time += *sr.Result.Time
		}
		if sr.Result.Memory != nil {
			overall.Memory += *sr.Result.Memory
		}
	}
	overall.StatusSet = statusSetOf(all)
	overall.TagSet = tagSetOf(all)
	resp.OverallResult = overall
}
