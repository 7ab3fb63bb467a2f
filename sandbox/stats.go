package sandbox

import (
	"fmt"
	"strconv"
	"strings"
)

// StatsHeader is the line the limiter prints before its two LTSV
// statistics lines. The spacing is part of the limiter's output contract.
const StatsHeader = "====    limitrace statistics    ===="

// ResourceStats is the limiter's rusage record for the whole state
// execution. Field units follow getrusage: times in microseconds, MaxRSS
// as reported by the kernel, elapsed wall clock in nanoseconds.
type ResourceStats struct {
	UserTimeUsec   uint64
	SystemTimeUsec uint64
	CPUTimeUsec    uint64
	MaxRSS         uint64
	MinorFaults    uint64
	MajorFaults    uint64
	InBlock        uint64
	OutBlock       uint64
	VolCtxSwitch   uint64
	InvolCtxSwitch uint64
	ElapsedNsec    uint64
}

// LimitDetection is the limiter's own view of which limit fired.
type LimitDetection struct {
	CPUOveruse    uint64
	MemoryOveruse uint64
	UtimeOveruse  uint64
	StimeOveruse  uint64
	ASOveruse     uint64
	RSSOveruse    uint64
	ExitStatus    uint64
}

func parseLTSVLine(line string) (map[string]uint64, error) {
	fields := strings.Split(line, "\t")
	out := make(map[string]uint64, len(fields))
	for _, f := range fields {
		key, value, ok := strings.Cut(f, ":")
		if !ok {
			return nil, fmt.Errorf("invalid LTSV field %q", f)
		}
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid LTSV value for %q: %w", key, err)
		}
		out[key] = n
	}
	return out, nil
}

func parseResourceStats(line string) (ResourceStats, error) {
	m, err := parseLTSVLine(line)
	if err != nil {
		return ResourceStats{}, err
	}
	return ResourceStats{
		UserTimeUsec:   m["ru_utime_usec"],
		SystemTimeUsec: m["ru_stime_usec"],
		CPUTimeUsec:    m["ru_time_usec"],
		MaxRSS:         m["ru_maxrss"],
		MinorFaults:    m["ru_minflt"],
		MajorFaults:    m["ru_majflt"],
		InBlock:        m["ru_inblock"],
		OutBlock:       m["ru_oublock"],
		VolCtxSwitch:   m["ru_nvcsw"],
		InvolCtxSwitch: m["ru_nivcsw"],
		ElapsedNsec:    m["time_elapse_nsec"],
	}, nil
}

func parseLimitDetection(line string) (LimitDetection, error) {
	m, err := parseLTSVLine(line)
	if err != nil {
		return LimitDetection{}, err
	}
	return LimitDetection{
		CPUOveruse:    m["cpu_overuse"],
		MemoryOveruse: m["memory_overuse"],
		UtimeOveruse:  m["utime_overuse"],
		StimeOveruse:  m["stime_overuse"],
		ASOveruse:     m["as_overuse"],
		RSSOveruse:    m["rss_overuse"],
		ExitStatus:    m["exit_status"],
	}, nil
}

// ExtractStats peels the limiter's trailing statistics block off stderr.
//
// The framing contract: after stripping trailing whitespace, the last three
// lines are the header, the rusage LTSV line and the limit-detection LTSV
// line, in that order. Everything before the block is returned verbatim;
// its own last line is the runner's report payload.
func ExtractStats(stderr string) (remain string, stats ResourceStats, detect LimitDetection, err error) {
	trimmed := strings.TrimRight(stderr, " \t\r\n")
	parts := splitLastLines(trimmed, 3)
	if len(parts) != 4 {
		return "", ResourceStats{}, LimitDetection{}, fmt.Errorf("statistics block missing from output")
	}
	remain, header, rusageLine, detectLine := parts[0], parts[1], parts[2], parts[3]
	if header != StatsHeader {
		return "", ResourceStats{}, LimitDetection{}, fmt.Errorf("invalid statistics header %q", header)
	}
	stats, err = parseResourceStats(rusageLine)
	if err != nil {
		return "", ResourceStats{}, LimitDetection{}, err
	}
	detect, err = parseLimitDetection(detectLine)
	if err != nil {
		return "", ResourceStats{}, LimitDetection{}, err
	}
	return remain, stats, detect, nil
}

// splitLastLines splits s on its last n newlines, returning n+1 parts, or
// fewer when s has fewer lines.
func splitLastLines(s string, n int) []string {
	parts := make([]string, 0, n+1)
	for i := 0; i < n; i++ {
		idx := strings.LastIndexByte(s, '\n')
		if idx < 0 {
			break
		}
		parts = append([]string{s[idx+1:]}, parts...)
		s = s[:idx]
	}
	return append([]string{s}, parts...)
}
