package task

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/kazi/core"
)

const dateLayout = "2006-01-02"

// Status is the progress of a Task.
type Status string

// Statuses
const (
	StatusPending    Status = "Pending"
	StatusInProgress Status = "In Progress"
	StatusCompleted  Status = "Completed"

	DefaultStatus = StatusPending
)

var AllStatuses = []Status{StatusPending, StatusInProgress, StatusCompleted}

// OrderingFields maps the orderable API fields to their column.
var OrderingFields = map[string]string{
	"title":      "title",
	"status":     "status",
	"due_date":   "due_date",
	"created_at": "created_at",
}

// ParseStatus returns the Status matching s (case-insensitive).
func ParseStatus(s string) (Status, error) {
	s = strings.TrimSpace(s)
	for _, st := range AllStatuses {
		if strings.EqualFold(string(st), s) {
			return st, nil
		}
	}
	// accept the snake case form too: in_progress
	if strings.EqualFold(strings.ReplaceAll(s, "_", " "), string(StatusInProgress)) {
		return StatusInProgress, nil
	}
	return "", fmt.Errorf("invalid status %q", s)
}

func (s Status) IsValid() bool {
	_, err := ParseStatus(string(s))
	return err == nil
}

func (s Status) String() string { return string(s) }

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s), nil
}

// UnmarshalText leaves the zero Status for empty text: defaults & the "taskstatus" validator deal with it.
func (s *Status) UnmarshalText(text []byte) error {
	if strings.TrimSpace(string(text)) == "" {
		*s = ""
		return nil
	}
	st, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// Scan implements sql.Scanner.
func (s *Status) Scan(src interface{}) error {
	var str string
	switch v := src.(type) {
	case string:
		str = v
	case []byte:
		str = string(v)
	default:
		return fmt.Errorf("cannot scan %T into Status", src)
	}
	st, err := ParseStatus(str)
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// Value implements driver.Valuer.
func (s Status) Value() (driver.Value, error) {
	st, err := ParseStatus(string(s))
	if err != nil {
		return nil, err
	}
	return string(st), nil
}

type Task struct {
	ID           string      `json:"id"`
	Title        string      `json:"title"`
	Description  null.String `json:"description"`
	AssignedToID null.String `json:"assigned_to"`
	CreatedByID  string      `json:"created_by"`
	Status       Status      `json:"status"`
	DueDate      null.Time   `json:"due_date"` // date only, UTC midnight
	TaskType     null.String `json:"task_type"`
	Attachment   null.String `json:"attachment"`
	CreatedAt    time.Time   `json:"created_at"` // UTC
}

func (t Task) String() string {
	return t.Title
}

// IsAssignedTo reports whether the User with the given ID is the Task's assignee.
func (t Task) IsAssignedTo(userID string) bool {
	return t.AssignedToID.Valid && t.AssignedToID.String == userID
}

// TaskFile is a file attached to a Task. A Task can have many.
type TaskFile struct {
	ID         string    `json:"id"`
	TaskID     string    `json:"task_id"`
	File       string    `json:"file"`
	UploadedAt time.Time `json:"uploaded_at"` // UTC
}

// NewTask contains information needed to create a new Task.
type NewTask struct {
	Title       string `json:"title" validate:"required,max=255"`
	Description string `json:"description"`
	AssignedTo  string `json:"assigned_to" validate:"omitempty,uuid"`
	Status      Status `json:"status" validate:"omitempty,taskstatus"`
	DueDate     string `json:"due_date"` // YYYY-MM-DD
	TaskType    string `json:"task_type" validate:"omitempty,max=50"`

	dueDate null.Time
}

func (nt *NewTask) Validate(validate *validator.Validate) error {
	nt.Title = core.CleanString(nt.Title)
	nt.Description = strings.TrimSpace(nt.Description)
	nt.AssignedTo = core.CleanString(nt.AssignedTo, true /* lower */)
	nt.TaskType = core.CleanString(nt.TaskType)
	if nt.Status == "" {
		nt.Status = DefaultStatus
	}

	if err := validate.Struct(nt); err != nil {
		return err
	}

	var err error
	nt.dueDate, err = parseDate("due_date", nt.DueDate)
	return err
}

// UpdateTask defines what information may be provided to modify an existing Task.
// Nil fields are left untouched; empty strings clear optional fields.
type UpdateTask struct {
	Title       *string `json:"title" validate:"omitempty,max=255"`
	Description *string `json:"description"`
	AssignedTo  *string `json:"assigned_to" validate:"omitempty,uuid|len=0"`
	Status      *Status `json:"status" validate:"omitempty,taskstatus"`
	DueDate     *string `json:"due_date"` // YYYY-MM-DD
	TaskType    *string `json:"task_type" validate:"omitempty,max=50"`

	dueDate null.Time
}

func (ut *UpdateTask) Validate(validate *validator.Validate) error {
	if ut.Title != nil {
		title := core.CleanString(*ut.Title)
		if title == "" {
			return core.NewValidationError(nil, core.FieldError{Field: "title", Error: "this field may not be blank"})
		}
		ut.Title = &title
	}
	if ut.AssignedTo != nil {
		id := core.CleanString(*ut.AssignedTo, true /* lower */)
		ut.AssignedTo = &id
	}
	if ut.TaskType != nil {
		typ := core.CleanString(*ut.TaskType)
		ut.TaskType = &typ
	}

	if err := validate.Struct(ut); err != nil {
		return err
	}

	if ut.DueDate != nil {
		var err error
		if ut.dueDate, err = parseDate("due_date", *ut.DueDate); err != nil {
			return err
		}
	}
	return nil
}

// OnlyStatus reports whether the update changes nothing but the Status.
func (ut UpdateTask) OnlyStatus() bool {
	return ut.Title == nil && ut.Description == nil && ut.AssignedTo == nil &&
		ut.DueDate == nil && ut.TaskType == nil
}

type QueryFilter struct {
	Search     string   `query:"search"`
	Statuses   []string `query:"status"`
	AssignedTo string   `query:"assigned_to"`
	CreatedBy  string   `query:"created_by"`
	TaskType   string   `query:"task_type"`
	DueFrom    string   `query:"due_from"` // YYYY-MM-DD
	DueTo      string   `query:"due_to"`   // YYYY-MM-DD

	statuses  []Status
	dueFrom   null.Time
	dueTo     null.Time
	visibleTo string
}

// Clean normalizes the raw query values. Invalid values are reported as a core.ValidationError.
func (qf *QueryFilter) Clean() error {
	qf.Search = core.CleanString(qf.Search)
	qf.AssignedTo = core.CleanString(qf.AssignedTo, true /* lower */)
	qf.CreatedBy = core.CleanString(qf.CreatedBy, true /* lower */)
	qf.TaskType = core.CleanString(qf.TaskType)

	qf.statuses = qf.statuses[:0]
	for _, s := range qf.Statuses {
		st, err := ParseStatus(s)
		if err != nil {
			return core.NewValidationError(nil, core.FieldError{Field: "status", Error: err.Error()})
		}
		qf.statuses = append(qf.statuses, st)
	}

	var err error
	if qf.dueFrom, err = parseDate("due_from", qf.DueFrom); err != nil {
		return err
	}
	qf.dueTo, err = parseDate("due_to", qf.DueTo)
	return err
}

func (qf QueryFilter) StatusValues() []Status { return qf.statuses }
func (qf QueryFilter) DueFromDate() null.Time { return qf.dueFrom }
func (qf QueryFilter) DueToDate() null.Time   { return qf.dueTo }

// VisibleTo returns the ID of the User the results are restricted to (created by or assigned to).
// Empty means no restriction.
func (qf QueryFilter) VisibleTo() string { return qf.visibleTo }

func parseDate(field, s string) (null.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return null.Time{}, nil
	}
	d, err := time.ParseInLocation(dateLayout, s, time.UTC)
	if err != nil {
		return null.Time{}, core.NewValidationError(nil, core.FieldError{Field: field, Error: "invalid date, use YYYY-MM-DD"})
	}
	return null.TimeFrom(d), nil
}
