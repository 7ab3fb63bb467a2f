package runnerproto

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
)

// WriteReport emits the case results as a single JSON array line on w.
// The runner must call this exactly once, as the very last line it writes
// to the designated stream; any diagnostics have to be flushed before.
func WriteReport(w io.Writer, cases []CaseResult) error {
	if cases == nil {
		cases = []CaseResult{}
	}
	for i := range cases {
		if err := cases[i].validate(); err != nil {
			return err
		}
	}
	data, err := json.Marshal(cases)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}

// ParseReport decodes the trailing report line produced by WriteReport.
func ParseReport(line []byte) ([]CaseResult, error) {
	var cases []CaseResult
	if err := json.Unmarshal(line, &cases); err != nil {
		return nil, fmt.Errorf("parse runner report: %w", err)
	}
	for i := range cases {
		if err := cases[i].validate(); err != nil {
			return nil, fmt.Errorf("parse runner report: %w", err)
		}
	}
	return cases, nil
}

// RunIsolated runs one case body and converts a panic into a fatal case
// result, so a crashing case cannot keep the remaining cases from being
// reported.
func RunIsolated(name string, fn func() CaseResult) (res CaseResult) {
	defer func() {
		if r := recover(); r != nil {
			res = CaseResult{
				Name:          name,
				Status:        StatusFatal,
				Tags:          []Tag{},
				SystemMessage: fmt.Sprintf("case panicked: %v", r),
			}
		}
	}()
	return fn()
}

// Runner options travel on the command line, so they are base64 encoded
// with an alphabet that avoids shell metacharacters ('/' maps to '+' and
// '+' to '_').
var paramEncoding = base64.NewEncoding(
	"ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_+")

// EncodeParameter encodes an option payload for argv transport.
func EncodeParameter(raw string) string {
	return paramEncoding.EncodeToString([]byte(raw))
}

// DecodeParameter reverses EncodeParameter.
func DecodeParameter(encoded string) (string, error) {
	b, err := paramEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
