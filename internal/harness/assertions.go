package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/theatresync/internal/state"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("assertion failed: %s\n  Expected: %s\n  Actual: %s", e.Type, e.Expected, e.Actual)
}

// EvaluateAssertions checks every assertion against the run and returns
// the failure messages.
func EvaluateAssertions(result *Result, st *state.Store, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, st, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluate(result *Result, st *state.Store, a Assertion) error {
	switch a.Type {
	case AssertSessionOrder:
		return assertSessionOrder(st, a)
	case AssertCaseStatus:
		return assertCaseStatus(st, a)
	case AssertCalls:
		return assertCalls(result.Calls, a)
	case AssertConverged:
		return assertConverged(result)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertSessionOrder checks the session's live schedules belong to the
// listed cases in order and are numbered densely from 1.
func assertSessionOrder(st *state.Store, a Assertion) error {
	live := st.SessionSchedules(a.Session)
	got := make([]string, len(live))
	dense := true
	for i, s := range live {
		got[i] = s.CaseID
		if s.OrderIndex != i+1 {
			dense = false
		}
	}
	want := a.Cases
	if want == nil {
		want = []string{}
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		return &AssertionError{
			Type:     AssertSessionOrder,
			Expected: fmt.Sprintf("session %s holds %v", a.Session, want),
			Actual:   fmt.Sprintf("%v", got),
		}
	}
	if !dense {
		idx := make([]int, len(live))
		for i, s := range live {
			idx[i] = s.OrderIndex
		}
		return &AssertionError{
			Type:     AssertSessionOrder,
			Expected: fmt.Sprintf("session %s numbered 1..%d", a.Session, len(live)),
			Actual:   fmt.Sprintf("%v", idx),
		}
	}
	return nil
}

func assertCaseStatus(st *state.Store, a Assertion) error {
	c, ok := st.Case(a.Case)
	if !ok {
		return &AssertionError{
			Type:     AssertCaseStatus,
			Expected: fmt.Sprintf("case %s is %s", a.Case, a.Status),
			Actual:   "case not found",
		}
	}
	if string(c.Status) != a.Status {
		return &AssertionError{
			Type:     AssertCaseStatus,
			Expected: fmt.Sprintf("case %s is %s", a.Case, a.Status),
			Actual:   string(c.Status),
		}
	}
	return nil
}

func assertCalls(calls []string, a Assertion) error {
	n := 0
	for _, op := range calls {
		if op == a.Op {
			n++
		}
	}
	if n != a.Count {
		return &AssertionError{
			Type:     AssertCalls,
			Expected: fmt.Sprintf("%d calls of %s", a.Count, a.Op),
			Actual:   fmt.Sprintf("%d calls (%s)", n, strings.Join(calls, " ")),
		}
	}
	return nil
}

func assertConverged(result *Result) error {
	local, remote := FormatBoard(result.Local), FormatBoard(result.Authority)
	if local != remote {
		return &AssertionError{
			Type:     AssertConverged,
			Expected: "local board equals authority board\n" + remote,
			Actual:   "\n" + local,
		}
	}
	return nil
}
