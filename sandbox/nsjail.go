package sandbox

import (
	"fmt"
	"strconv"

	"github.com/gavel-judge/gavel/schema"
)

type nsjail struct {
	opts    schema.SandboxOptions
	profile *Profile
}

func (n *nsjail) Kind() schema.SandboxKind { return schema.SandboxNsJail }

// WrapCommand confines inner with nsjail, matching the firejail contract:
// read-only shared roots, writable evaluation directory, no network, and
// the sandbox's own failures reported with a deterministic exit code.
func (n *nsjail) WrapCommand(p Paths, inner []string) []string {
	hostName := sandboxHostName
	if n.profile != nil && n.profile.HostName != "" {
		hostName = n.profile.HostName
	}

	cmd := []string{
		"nsjail",
		"--mode", "o",
		"--quiet",
		"--hostname", hostName,
		"--disable_clone_newnet=false",
		"--rlimit_fsize", "64",
		"--rlimit_nofile", "256",
	}
	if n.opts.CPULimit > 0 {
		cmd = append(cmd, "--max_cpus", strconv.Itoa(n.opts.CPULimit))
	}
	if n.opts.MemoryLimit > 0 {
		cmd = append(cmd, "--rlimit_as", fmt.Sprintf("%d", n.opts.MemoryLimit.Byte()>>20))
	}
	for _, ro := range []string{
		p.EnvironmentRoot,
		p.RunnerDir,
		p.ExerciseDir,
		"/bin", "/usr", "/lib", "/lib64",
	} {
		cmd = append(cmd, "--bindmount_ro", ro)
	}
	if n.profile != nil {
		for _, ro := range n.profile.ReadOnly {
			cmd = append(cmd, "--bindmount_ro", ro)
		}
	}
	cmd = append(cmd,
		"--bindmount", p.EvaluationDir,
		"--cwd", p.EvaluationDir,
		"--forward_signals",
		"--",
	)
	return append(cmd, inner...)
}
