// Package domain defines the scheduling entities, their closed status sets,
// and the error taxonomy shared by every layer of theatresync.
package domain

import "time"

// EntityKind identifies the type of record held in the entity store and
// carried in change envelopes.
type EntityKind string

// Supported entity kinds.
const (
	// KindCase identifies a patient's surgical case.
	KindCase EntityKind = "case"
	// KindSession identifies a theatre session.
	KindSession EntityKind = "theatre_session"
	// KindSchedule identifies the join record binding a case to a session.
	KindSchedule EntityKind = "case_schedule"
)

// Kinds lists every entity kind in a stable order.
var Kinds = []EntityKind{KindCase, KindSession, KindSchedule}

// Valid reports whether k is one of the known entity kinds.
func (k EntityKind) Valid() bool {
	switch k {
	case KindCase, KindSession, KindSchedule:
		return true
	}
	return false
}

// Action is the change operation carried by a push envelope.
type Action string

// Change actions understood by the reconciliation layer.
const (
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
	ActionReorder Action = "reorder"
)

// Actions lists every action in a stable order.
var Actions = []Action{ActionCreate, ActionUpdate, ActionDelete, ActionReorder}

// CaseStatus is the lifecycle state of a case.
type CaseStatus string

// Case lifecycle states.
const (
	StatusNewReferral     CaseStatus = "new_referral"
	StatusAwaitingSurgery CaseStatus = "awaiting_surgery"
	StatusScheduled       CaseStatus = "scheduled"
	StatusCompleted       CaseStatus = "completed"
	StatusCancelled       CaseStatus = "cancelled"
	StatusArchived        CaseStatus = "archived"
)

// CaseStatuses lists every case status.
var CaseStatuses = []CaseStatus{
	StatusNewReferral,
	StatusAwaitingSurgery,
	StatusScheduled,
	StatusCompleted,
	StatusCancelled,
	StatusArchived,
}

// SessionType tags a theatre session.
type SessionType string

// Session types.
const (
	SessionMorning   SessionType = "morning"
	SessionAfternoon SessionType = "afternoon"
	SessionEvening   SessionType = "evening"
	SessionEmergency SessionType = "emergency"
	SessionWeekend   SessionType = "weekend"
)

// SessionStatus is the state of a theatre session.
type SessionStatus string

// Session states.
const (
	SessionScheduled  SessionStatus = "scheduled"
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionCancelled  SessionStatus = "cancelled"
)

// ScheduleStatus is the state of a case schedule.
type ScheduleStatus string

// Case schedule states.
const (
	ScheduleScheduled  ScheduleStatus = "scheduled"
	ScheduleInProgress ScheduleStatus = "in_progress"
	ScheduleCompleted  ScheduleStatus = "completed"
	ScheduleCancelled  ScheduleStatus = "cancelled"
)

// DateLayout is the wire format of calendar dates.
const DateLayout = "2006-01-02"

// Entity is implemented by every record the entity store holds.
type Entity interface {
	Kind() EntityKind
	EntityID() string
}

// Base contains common fields for all records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EntityID returns the record identifier.
func (b Base) EntityID() string { return b.ID }

// Case represents one patient's surgical case.
type Case struct {
	Base
	Name         string     `json:"name"`
	Diagnosis    string     `json:"diagnosis"`
	Outcome      string     `json:"outcome"`
	Status       CaseStatus `json:"status"`
	Subspecialty *string    `json:"subspecialty,omitempty"`
	SurgeryDate  *string    `json:"surgery_date,omitempty"`
	OrderIndex   int        `json:"order_index"`
	Archived     bool       `json:"archived"`
}

// Kind implements Entity.
func (Case) Kind() EntityKind { return KindCase }

// GroupKey returns the ordering scope of the case. Scheduled cases are
// grouped by surgery date; every other case is grouped by status.
func (c Case) GroupKey() string {
	if c.Status == StatusScheduled && c.SurgeryDate != nil {
		return string(StatusScheduled) + ":" + *c.SurgeryDate
	}
	return string(c.Status)
}

// Clone returns a deep copy.
func (c Case) Clone() Case {
	c.Subspecialty = cloneString(c.Subspecialty)
	c.SurgeryDate = cloneString(c.SurgeryDate)
	return c
}

// TheatreSession is a scheduled block of operating-theatre time.
type TheatreSession struct {
	Base
	TheatreID      string        `json:"theatre_id"`
	Date           string        `json:"date"`
	StartTime      string        `json:"start_time"`
	EndTime        string        `json:"end_time"`
	SessionType    SessionType   `json:"session_type"`
	ConsultantID   *string       `json:"consultant_id,omitempty"`
	AnaesthetistID *string       `json:"anaesthetist_id,omitempty"`
	Status         SessionStatus `json:"status"`
	Notes          string        `json:"notes"`
}

// Kind implements Entity.
func (TheatreSession) Kind() EntityKind { return KindSession }

// Clone returns a deep copy.
func (s TheatreSession) Clone() TheatreSession {
	s.ConsultantID = cloneString(s.ConsultantID)
	s.AnaesthetistID = cloneString(s.AnaesthetistID)
	return s
}

// CaseSchedule binds a case to a theatre session at a position.
type CaseSchedule struct {
	Base
	CaseID            string         `json:"case_id"`
	SessionID         string         `json:"session_id"`
	ScheduledDate     string         `json:"scheduled_date"`
	StartTime         string         `json:"start_time"`
	EndTime           string         `json:"end_time"`
	EstimatedDuration int            `json:"estimated_duration"`
	OrderIndex        int            `json:"order_index"`
	Status            ScheduleStatus `json:"status"`
	Notes             string         `json:"notes"`
}

// Kind implements Entity.
func (CaseSchedule) Kind() EntityKind { return KindSchedule }

// Live reports whether the schedule still occupies its case. Completed and
// cancelled schedules are history.
func (s CaseSchedule) Live() bool {
	return s.Status == ScheduleScheduled || s.Status == ScheduleInProgress
}

// Clone returns a copy. CaseSchedule holds no reference fields.
func (s CaseSchedule) Clone() CaseSchedule { return s }

// CloneEntity deep-copies any entity the store understands.
func CloneEntity(e Entity) Entity {
	switch v := e.(type) {
	case Case:
		return v.Clone()
	case TheatreSession:
		return v.Clone()
	case CaseSchedule:
		return v.Clone()
	}
	return e
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string { return &s }

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
