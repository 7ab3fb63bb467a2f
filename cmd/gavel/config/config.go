package config

import (
	"os"
	"runtime"

	"github.com/gavel-judge/gavel/schema"
	"github.com/koding/multiconfig"
)

// Config defines the gavel command configuration.
type Config struct {
	// sandbox chain
	EnvironmentRoot string       `flagUsage:"specifies the provisioned environments root" default:"/opt/judge/environments"`
	RunnerDir       string       `flagUsage:"specifies the runner harness directory" default:"/opt/judge/runners"`
	LimiterPath     string       `flagUsage:"specifies the resource limiter binary" default:"/opt/judge/bin/limitrace"`
	SandboxProfile  string       `flagUsage:"specifies the sandbox profile file" default:"sandbox.yaml"`
	EnvironmentConf string       `flagUsage:"specifies the environments activation config file" default:"environments.yaml"`
	RunnerCommand   string       `flagUsage:"specifies the interpreter invoking runner scripts" default:"python"`
	OutputLimit     *schema.Size `flagUsage:"specifies the capture limit per runner output stream" default:"8m"`

	// evaluation input
	ExerciseDir    string `flagUsage:"specifies the exercise concrete directory"`
	SubmissionDir  string `flagUsage:"specifies the submission directory"`
	SubmissionFile string `flagUsage:"specifies the submitted file name"`
	EvaluationDir  string `flagUsage:"specifies the evaluation scratch directory"`
	ResultName     string `flagUsage:"specifies the result artifact base name" default:"result"`
	SubmissionKey  string `flagUsage:"specifies the caller's submission key"`
	RunnerLogLevel string `flagUsage:"specifies the log level forwarded to the runner" default:"ERROR"`

	// serve mode
	Serve       bool   `flagUsage:"read evaluation requests from stdin as JSON lines"`
	Parallelism int    `flagUsage:"control the # of concurrent evaluations (default equal to number of cpu)"`
	MonitorAddr string `flagUsage:"specifies the metrics binding address" default:":5052"`

	EnableMetrics bool `flagUsage:"enable prometheus metrics endpoint"`
	EnableDebug   bool `flagUsage:"enable debug endpoint"`

	// logger config
	Release bool `flagUsage:"release level of logs"`
	Silent  bool `flagUsage:"do not print logs"`

	// show version and exit
	Version bool `flagUsage:"show version and exit"`
}

// Load loads config from flag & environment variables.
func (c *Config) Load() error {
	cl := multiconfig.MultiLoader(
		&multiconfig.TagLoader{},
		&multiconfig.EnvironmentLoader{
			Prefix:    "GAVEL",
			CamelCase: true,
		},
		&multiconfig.FlagLoader{
			CamelCase: true,
			EnvPrefix: "GAVEL",
		},
	)
	if os.Getpid() == 1 {
		c.Release = true
	}
	if err := cl.Load(c); err != nil {
		return err
	}
	if c.Parallelism <= 0 {
		c.Parallelism = runtime.NumCPU()
	}
	return nil
}
