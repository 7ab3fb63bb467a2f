package evaluator

import "fmt"

// MissConfigurationError reports a state-scoped configuration defect found
// while staging an execution: a missing submission, state script, runner or
// required file. It is system-responsible, never a submission failure.
type MissConfigurationError struct {
	Msg string
	Err error
}

func (e *MissConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *MissConfigurationError) Unwrap() error { return e.Err }

func missConfigf(err error, format string, args ...any) *MissConfigurationError {
	return &MissConfigurationError{Msg: fmt.Sprintf(format, args...), Err: err}
}
