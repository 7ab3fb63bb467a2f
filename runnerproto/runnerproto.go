// Package runnerproto defines the wire contract between the evaluator and
// the per-state runner that executes inside the sandbox.
//
// Code importing this package may itself run inside the sandbox, where
// nothing beyond the Go standard library is guaranteed to be available.
// Keep this package dependency free.
package runnerproto

import (
	"fmt"
	"sort"
)

// Status is the verdict of a single test case.
type Status string

const (
	// StatusPass means the case behaved as the exercise expects.
	StatusPass Status = "pass"
	// StatusFail means the case ran to completion but produced a wrong result.
	StatusFail Status = "fail"
	// StatusError means the case aborted while running.
	StatusError Status = "error"
	// StatusFatal means the case could not be run at all.
	StatusFatal Status = "fatal"
)

var statusDisplayOrder = map[Status]int{
	StatusFatal: 20,
	StatusFail:  30,
	StatusError: 40,
	StatusPass:  50,
}

// Valid reports whether s is one of the four defined verdicts.
func (s Status) Valid() bool {
	_, ok := statusDisplayOrder[s]
	return ok
}

// DisplayOrder returns the fixed ordering weight used when a status set is
// serialized. Lower weights sort first.
func (s Status) DisplayOrder() int {
	return statusDisplayOrder[s]
}

// SortStatuses orders a status set by display order, in place.
func SortStatuses(set []Status) {
	sort.Slice(set, func(i, j int) bool {
		return set[i].DisplayOrder() < set[j].DisplayOrder()
	})
}

// CaseResult is one test case outcome as reported by the runner.
//
// The three message fields have different visibility intents: Msg is shown
// to the student, Err to the reviewer, and SystemMessage is debug-only and
// must never reach the student.
type CaseResult struct {
	Name          string `json:"name"`
	Status        Status `json:"status"`
	Tags          []Tag  `json:"tags"`
	Msg           string `json:"msg"`
	Err           string `json:"err"`
	SystemMessage string `json:"system_message"`
}

func (c *CaseResult) validate() error {
	if c.Name == "" {
		return fmt.Errorf("case result has empty name")
	}
	if !c.Status.Valid() {
		return fmt.Errorf("case %q has invalid status %q", c.Name, c.Status)
	}
	for i, tag := range c.Tags {
		if tag.Name == "" {
			return fmt.Errorf("case %q tag %d has empty name", c.Name, i)
		}
	}
	return nil
}
