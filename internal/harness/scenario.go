package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/theatresync/internal/domain"
	"github.com/roach88/theatresync/internal/state"
	"github.com/roach88/theatresync/internal/testutil"
)

// Scenario is a scripted run of commands, pushes and failure injection.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Seed is the authority's state before the first step. The local store
	// is loaded from it by an initial resync.
	Seed Seed `yaml:"seed"`

	// Steps run in order; the engine settles after each.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// Seed describes the authority's initial entities.
type Seed struct {
	Sessions  []SeedSession  `yaml:"sessions"`
	Cases     []SeedCase     `yaml:"cases"`
	Schedules []SeedSchedule `yaml:"schedules"`
}

// SeedSession is a theatre session. Date defaults to the fixture date.
type SeedSession struct {
	ID   string `yaml:"id"`
	Date string `yaml:"date,omitempty"`
}

// SeedCase is a case with a status and grouping index.
type SeedCase struct {
	ID           string `yaml:"id"`
	Status       string `yaml:"status"`
	OrderIndex   int    `yaml:"order_index"`
	Subspecialty string `yaml:"subspecialty,omitempty"`
}

// SeedSchedule places a case in a session. Status defaults to scheduled.
type SeedSchedule struct {
	ID         string `yaml:"id"`
	Case       string `yaml:"case"`
	Session    string `yaml:"session"`
	OrderIndex int    `yaml:"order_index"`
	Status     string `yaml:"status,omitempty"`
}

// Step is exactly one of a command, a push, a failure injection, a heal or
// a resync.
type Step struct {
	Command string         `yaml:"command,omitempty"`
	Args    CommandArgs    `yaml:"args,omitempty"`
	Push    map[string]any `yaml:"push,omitempty"`
	Fail    *FailStep      `yaml:"fail,omitempty"`
	Heal    bool           `yaml:"heal,omitempty"`
	Resync  string         `yaml:"resync,omitempty"`

	// Expect checks a command's outcome. Without it any outcome is accepted
	// and only logged.
	Expect *Expect `yaml:"expect,omitempty"`
}

// CommandArgs are the arguments of a command step.
type CommandArgs struct {
	Case         string   `yaml:"case,omitempty"`
	Session      string   `yaml:"session,omitempty"`
	Position     int      `yaml:"position,omitempty"`
	IDs          []string `yaml:"ids,omitempty"`
	Name         string   `yaml:"name,omitempty"`
	Subspecialty string   `yaml:"subspecialty,omitempty"`
}

// FailStep injects an authority failure.
type FailStep struct {
	Op     string `yaml:"op"`
	Always bool   `yaml:"always,omitempty"`
}

// Expect is the expected outcome of a command: an error code, or success
// when Error is empty.
type Expect struct {
	Error string `yaml:"error,omitempty"`
}

// Assertion validates the final state.
type Assertion struct {
	Type    string   `yaml:"type"`
	Session string   `yaml:"session,omitempty"`
	Cases   []string `yaml:"cases,omitempty"`
	Case    string   `yaml:"case,omitempty"`
	Status  string   `yaml:"status,omitempty"`
	Op      string   `yaml:"op,omitempty"`
	Count   int      `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertSessionOrder = "session_order"
	AssertCaseStatus   = "case_status"
	AssertCalls        = "calls"
	AssertConverged    = "converged"
)

// Command names accepted in steps.
var commands = []string{
	"assign", "move", "reorder", "unschedule", "cancel", "complete",
	"archive", "unarchive", "triage", "create_case", "delete_case",
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadDir loads every *.yaml scenario in dir, ordered by file name.
func LoadDir(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	out := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		out = append(out, s)
	}
	return out, nil
}

// Snapshot turns the seed into authority state.
func (s Seed) Snapshot() state.Snapshot {
	var snap state.Snapshot
	for _, v := range s.Sessions {
		date := v.Date
		if date == "" {
			date = testutil.FixtureDate
		}
		snap.Sessions = append(snap.Sessions, testutil.Session(v.ID, date))
	}
	for _, v := range s.Cases {
		c := testutil.Case(v.ID, domain.CaseStatus(v.Status), v.OrderIndex)
		if v.Subspecialty != "" {
			c.Subspecialty = domain.StringPtr(v.Subspecialty)
		}
		snap.Cases = append(snap.Cases, c)
	}
	for _, v := range s.Schedules {
		sc := testutil.Schedule(v.ID, v.Case, v.Session, v.OrderIndex)
		if v.Status != "" {
			sc.Status = domain.ScheduleStatus(v.Status)
		}
		snap.Schedules = append(snap.Schedules, sc)
	}
	return snap
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, c := range s.Seed.Cases {
		if c.ID == "" {
			return fmt.Errorf("seed.cases[%d]: id is required", i)
		}
		if !slices.Contains(domain.CaseStatuses, domain.CaseStatus(c.Status)) {
			return fmt.Errorf("seed.cases[%d]: unknown status %q", i, c.Status)
		}
	}
	for i, sc := range s.Seed.Schedules {
		if sc.ID == "" || sc.Case == "" || sc.Session == "" {
			return fmt.Errorf("seed.schedules[%d]: id, case and session are required", i)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step Step) error {
	kinds := 0
	if step.Command != "" {
		kinds++
		if !slices.Contains(commands, step.Command) {
			return fmt.Errorf("steps[%d]: unknown command %q (want one of %s)", index, step.Command, strings.Join(commands, ", "))
		}
	}
	if step.Push != nil {
		kinds++
	}
	if step.Fail != nil {
		kinds++
		if step.Fail.Op == "" {
			return fmt.Errorf("steps[%d]: fail.op is required", index)
		}
	}
	if step.Heal {
		kinds++
	}
	if step.Resync != "" {
		kinds++
	}
	if kinds != 1 {
		return fmt.Errorf("steps[%d]: exactly one of command, push, fail, heal, resync is required", index)
	}
	if step.Expect != nil && step.Command == "" {
		return fmt.Errorf("steps[%d]: expect applies to commands only", index)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertSessionOrder:
		if a.Session == "" {
			return fmt.Errorf("assertions[%d]: session is required for session_order", index)
		}
	case AssertCaseStatus:
		if a.Case == "" || a.Status == "" {
			return fmt.Errorf("assertions[%d]: case and status are required for case_status", index)
		}
	case AssertCalls:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for calls", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for calls", index)
		}
	case AssertConverged:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
