package sandbox

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gavel-judge/gavel/schema"
)

const sandboxHostName = "gavel_judge"

type firejail struct {
	opts    schema.SandboxOptions
	profile *Profile
}

func (f *firejail) Kind() schema.SandboxKind { return schema.SandboxFirejail }

// WrapCommand confines inner with firejail. The wrapped process sees a
// private filesystem with the shared roots read-only and only the
// evaluation directory writable, no network, and no capabilities.
func (f *firejail) WrapCommand(p Paths, inner []string) []string {
	hostName := sandboxHostName
	privateBin := []string{"bash"}
	var extraReadOnly []string
	debug := false
	if f.profile != nil {
		if f.profile.HostName != "" {
			hostName = f.profile.HostName
		}
		if len(f.profile.PrivateBin) > 0 {
			privateBin = f.profile.PrivateBin
		}
		extraReadOnly = f.profile.ReadOnly
		debug = f.profile.Debug
	}

	shared := []string{
		p.EnvironmentRoot,
		p.LimiterPath,
		p.RunnerDir,
		p.ExerciseDir,
		p.EvaluationDir,
	}
	hasHome := false
	hasOpt := false
	for _, path := range shared {
		if strings.HasPrefix(path, "/home") {
			hasHome = true
		}
		if strings.HasPrefix(path, "/opt") {
			hasOpt = true
		}
	}

	cmd := []string{"cd", "/srv", "&&", "firejail"}
	if debug {
		cmd = append(cmd, "--allow-debuggers")
	}
	cmd = append(cmd, "--seccomp=mbind")
	if f.opts.CPULimit > 0 {
		cpus := make([]string, 0, f.opts.CPULimit)
		for i := 0; i < f.opts.CPULimit; i++ {
			cpus = append(cpus, strconv.Itoa(i))
		}
		cmd = append(cmd, "--cpu="+strings.Join(cpus, ","))
	}
	if f.opts.MemoryLimit > 0 {
		cmd = append(cmd, fmt.Sprintf("--rlimit-as=%d", f.opts.MemoryLimit.Byte()))
	}
	cmd = append(cmd,
		"--hostname="+hostName,
		"--net=none",
		"--caps.drop=all",
		"--private-bin="+strings.Join(privateBin, ","),
		"--private-dev",
		"--private-etc=_",
	)
	// firejail requires a parameter for some of the private-* options;
	// "_" stands in for "nothing".
	if !hasHome {
		cmd = append(cmd, "--private")
	}
	if !hasOpt {
		cmd = append(cmd, "--private-opt=_")
	}
	cmd = append(cmd, "--private-srv=_", "--private-tmp")
	for _, path := range append([]string{"/opt", "/home"}, extraReadOnly...) {
		cmd = append(cmd, "--read-only="+path)
	}
	cmd = append(cmd, "--read-write="+p.EvaluationDir)
	cmd = append(cmd, "--deterministic-exit-code", "-c")
	return append(cmd, inner...)
}
