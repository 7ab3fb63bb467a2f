// Command gavel grades submissions against lecturer-authored exercise
// bundles: it stages each grading state, runs the in-sandbox test runner
// and walks the exercise's transition table into a graded response.
//
// It runs either as a one-shot evaluation of a single submission, or with
// -serve as a long-lived worker reading evaluation requests from stdin as
// JSON lines and writing responses to stdout.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gavel-judge/gavel/cmd/gavel/config"
	"github.com/gavel-judge/gavel/cmd/gavel/version"
	"github.com/gavel-judge/gavel/evaluator"
	"github.com/gavel-judge/gavel/sandbox"
	"github.com/gavel-judge/gavel/worker"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

var logger *zap.Logger

func main() {
	conf := loadConf()
	if conf.Version {
		fmt.Println(version.Version)
		return
	}
	initLogger(conf)
	defer logger.Sync()
	if ce := logger.Check(zap.InfoLevel, "Config loaded"); ce != nil {
		ce.Write(zap.String("config", fmt.Sprintf("%+v", conf)))
	}

	ev := newEvaluator(conf)

	if !conf.Serve {
		os.Exit(runOnce(conf, ev))
	}

	work := worker.New(worker.Config{
		Evaluator:   ev,
		Parallelism: conf.Parallelism,
		Observer: func(r worker.Response) {
			observeEvaluation(r.Response, r.Elapsed)
		},
	})
	work.Start()
	logger.Info("Worker started", zap.Int("parallelism", conf.Parallelism))

	servers := []initFunc{
		cleanUpWorker(work),
		initServeLoop(conf, work),
		initMonitorHTTPServer(conf),
	}

	sig := make(chan os.Signal, 1+len(servers))

	stops := []stopFunc{}
	for _, s := range servers {
		start, stop := s()
		if start != nil {
			go func() {
				start()
				sig <- os.Interrupt
			}()
		}
		if stop != nil {
			stops = append(stops, stop)
		}
	}

	// graceful shutdown on signal or when any server loop exits
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	signal.Reset(syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, s := range stops {
		if err := s(ctx); err != nil {
			logger.Error("Shutdown failed", zap.Error(err))
		}
	}
}

func loadConf() *config.Config {
	var conf config.Config
	if err := conf.Load(); err != nil {
		log.Fatalln("load config failed ", err)
	}
	return &conf
}

func initLogger(conf *config.Config) {
	if conf.Silent {
		logger = zap.NewNop()
		return
	}

	var err error
	if conf.Release {
		logger, err = zap.NewProduction()
	} else {
		config := zap.NewDevelopmentConfig()
		if term.IsTerminal(int(os.Stderr.Fd())) {
			config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		if !conf.EnableDebug {
			config.Level.SetLevel(zap.InfoLevel)
		}
		logger, err = config.Build()
	}
	if err != nil {
		log.Fatalln("init logger failed ", err)
	}
}

func newEvaluator(conf *config.Config) *evaluator.Evaluator {
	profile, err := sandbox.ReadProfile(conf.SandboxProfile)
	if err != nil {
		logger.Fatal("sandbox profile unusable", zap.Error(err))
	}
	activate := map[string][]string{}
	if conf.EnvironmentConf != "" {
		activate, err = sandbox.ReadEnvironmentsConf(conf.EnvironmentConf)
		if err != nil {
			logger.Fatal("environments config unusable", zap.Error(err))
		}
	}
	var outputLimit int64
	if conf.OutputLimit != nil {
		outputLimit = int64(*conf.OutputLimit)
	}
	ev, err := evaluator.New(evaluator.Config{
		EnvironmentRoot:     conf.EnvironmentRoot,
		RunnerDir:           conf.RunnerDir,
		LimiterPath:         conf.LimiterPath,
		RunnerCommand:       []string{conf.RunnerCommand},
		OutputLimit:         outputLimit,
		SandboxProfile:      profile,
		EnvironmentActivate: activate,
		EvaluatorVersion:    version.Version,
		Logger:              logger,
	})
	if err != nil {
		logger.Fatal("evaluator init failed", zap.Error(err))
	}
	return ev
}

func optionsFromConf(conf *config.Config) evaluator.Options {
	return evaluator.Options{
		ExerciseDir:    conf.ExerciseDir,
		SubmissionDir:  conf.SubmissionDir,
		SubmissionFile: conf.SubmissionFile,
		EvaluationDir:  conf.EvaluationDir,
		ResultName:     conf.ResultName,
		SubmissionKey:  conf.SubmissionKey,
		LogLevel:       conf.RunnerLogLevel,
	}
}

// runOnce evaluates the single submission named by the configuration and
// persists the response next to the evaluation scratch tree.
func runOnce(conf *config.Config, ev *evaluator.Evaluator) int {
	opts := optionsFromConf(conf)
	start := time.Now()
	resp := ev.Evaluate(context.Background(), opts)
	observeEvaluation(resp, time.Since(start))

	path := filepath.Join(opts.EvaluationDir, opts.ResultName+".json")
	if err := resp.WriteFile(path); err != nil {
		logger.Error("persist response failed", zap.String("path", path), zap.Error(err))
		return 1
	}
	if err := json.NewEncoder(os.Stdout).Encode(resp); err != nil {
		logger.Error("write response failed", zap.Error(err))
		return 1
	}
	return 0
}

// evalRequest is one line of the -serve protocol; zero fields fall back to
// the command line configuration.
type evalRequest struct {
	ExerciseDir    string `json:"exercise_dir"`
	SubmissionDir  string `json:"submission_dir"`
	SubmissionFile string `json:"submission_file"`
	EvaluationDir  string `json:"evaluation_dir"`
	ResultName     string `json:"result_name"`
	SubmissionKey  string `json:"submission_key"`
}

type stopFunc func(ctx context.Context) error
type initFunc func() (start func(), cleanUp stopFunc)

func cleanUpWorker(work worker.Worker) initFunc {
	return func() (start func(), cleanUp stopFunc) {
		return nil, func(ctx context.Context) error {
			logger.Info("Worker shutdown")
			work.Shutdown()
			return nil
		}
	}
}

// initServeLoop reads newline-delimited JSON evaluation requests from
// stdin, grades them through the worker pool and writes one response
// document per line to stdout, preserving request order.
func initServeLoop(conf *config.Config, work worker.Worker) initFunc {
	return func() (start func(), cleanUp stopFunc) {
		ctx, cancel := context.WithCancel(context.Background())
		return func() {
				logger.Info("Serving evaluation requests on stdin")
				pending := make(chan pendingResponse, 64)
				writerDone := make(chan struct{})
				go writeResponses(pending, writerDone)

				scanner := bufio.NewScanner(os.Stdin)
				scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
				for scanner.Scan() {
					line := scanner.Bytes()
					if len(line) == 0 {
						continue
					}
					var req evalRequest
					if err := json.Unmarshal(line, &req); err != nil {
						logger.Error("bad request line", zap.Error(err))
						continue
					}
					opts := req.options(conf)
					pending <- pendingResponse{
						opts: opts,
						ch:   work.Submit(ctx, &worker.Request{Options: opts}),
					}
				}
				if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
					logger.Error("stdin read failed", zap.Error(err))
				}
				close(pending)
				<-writerDone
				logger.Info("Request stream closed")
			}, func(context.Context) error {
				cancel()
				return nil
			}
	}
}

type pendingResponse struct {
	opts evaluator.Options
	ch   <-chan worker.Response
}

func writeResponses(pending <-chan pendingResponse, done chan<- struct{}) {
	defer close(done)
	enc := json.NewEncoder(os.Stdout)
	for p := range pending {
		r := <-p.ch
		path := filepath.Join(p.opts.EvaluationDir, p.opts.ResultName+".json")
		if err := r.Response.WriteFile(path); err != nil {
			logger.Error("persist response failed", zap.String("path", path), zap.Error(err))
		}
		if err := enc.Encode(r.Response); err != nil {
			logger.Error("write response failed", zap.Error(err))
			return
		}
	}
}

// options merges the request over the command line configuration; empty
// request fields fall back to the flags.
func (req evalRequest) options(conf *config.Config) evaluator.Options {
	opts := optionsFromConf(conf)
	if req.ExerciseDir != "" {
		opts.ExerciseDir = req.ExerciseDir
	}
	if req.SubmissionDir != "" {
		opts.SubmissionDir = req.SubmissionDir
	}
	if req.SubmissionFile != "" {
		opts.SubmissionFile = req.SubmissionFile
	}
	if req.EvaluationDir != "" {
		opts.EvaluationDir = req.EvaluationDir
	}
	if req.ResultName != "" {
		opts.ResultName = req.ResultName
	}
	opts.SubmissionKey = req.SubmissionKey
	return opts
}

func initMonitorHTTPServer(conf *config.Config) initFunc {
	return func() (start func(), cleanUp stopFunc) {
		mr := initMonitorHTTPMux(conf)
		if mr == nil {
			return nil, nil
		}
		msrv := http.Server{
			Addr:    conf.MonitorAddr,
			Handler: mr,
		}
		return func() {
				logger.Info("Starting monitoring http server", zap.String("addr", conf.MonitorAddr))
				logger.Info("Monitoring http server stopped", zap.Error(msrv.ListenAndServe()))
			}, func(ctx context.Context) error {
				logger.Info("Monitoring http server shutdown")
				return msrv.Shutdown(ctx)
			}
	}
}

func initMonitorHTTPMux(conf *config.Config) http.Handler {
	if !conf.EnableMetrics && !conf.EnableDebug {
		return nil
	}
	mux := http.NewServeMux()
	if conf.EnableMetrics {
		mux.Handle("/metrics", promhttp.Handler())
	}
	if conf.EnableDebug {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}
