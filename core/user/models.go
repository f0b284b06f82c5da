package user

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/kazi/core"
)

// Role is the closed classification of a User. The zero value is not a valid Role.
type Role string

// Roles
const (
	RoleAdmin   Role = "Admin"
	RoleTeacher Role = "Teacher"
	RoleStudent Role = "Student"

	DefaultRole = RoleStudent
)

var (
	AllRoles = []Role{RoleAdmin, RoleTeacher, RoleStudent}

	RoleChoices = []RoleChoice{
		{Name: "Student", Value: RoleStudent},
		{Name: "Teacher", Value: RoleTeacher},
		{Name: "Admin", Value: RoleAdmin},
	}
)

// OrderingFields maps the orderable API fields to their column.
var OrderingFields = map[string]string{
	"name":       "name",
	"username":   "username",
	"email":      "email",
	"role":       "role",
	"created_at": "created_at",
	"last_login": "last_login",
}

type RoleChoice struct {
	Name  string `json:"name"`
	Value Role   `json:"value"`
}

// ParseRole returns the Role matching s (case-insensitive).
func ParseRole(s string) (Role, error) {
	for _, r := range AllRoles {
		if strings.EqualFold(string(r), strings.TrimSpace(s)) {
			return r, nil
		}
	}
	return "", fmt.Errorf("invalid role %q", s)
}

func (r Role) IsValid() bool {
	_, err := ParseRole(string(r))
	return err == nil && r != ""
}

func (r Role) String() string { return string(r) }

func (r Role) MarshalText() ([]byte, error) {
	return []byte(r), nil
}

// UnmarshalText leaves the zero Role for empty text: defaults & the "role" validator deal with it.
func (r *Role) UnmarshalText(text []byte) error {
	if strings.TrimSpace(string(text)) == "" {
		*r = ""
		return nil
	}
	role, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = role
	return nil
}

// Scan implements sql.Scanner.
func (r *Role) Scan(src interface{}) error {
	var s string
	switch v := src.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("cannot scan %T into Role", src)
	}
	role, err := ParseRole(s)
	if err != nil {
		return err
	}
	*r = role
	return nil
}

// Value implements driver.Valuer. It writes the canonical form of the Role.
func (r Role) Value() (driver.Value, error) {
	role, err := ParseRole(string(r))
	if err != nil {
		return nil, err
	}
	return string(role), nil
}

type User struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Username     string      `json:"username"`
	Email        string      `json:"email"`
	Role         Role        `json:"role"`
	IsSuperuser  bool        `json:"is_superuser"`
	IsActive     bool        `json:"is_active"`
	PasswordHash []byte      `json:"-"`
	OTP          null.String `json:"-"`
	OTPCreatedAt null.Time   `json:"-"`
	CreatedAt    time.Time   `json:"created_at"` // UTC
	UpdatedAt    time.Time   `json:"updated_at"` // UTC
	LastLogin    null.Time   `json:"last_login"` // UTC
}

func (u User) String() string {
	return fmt.Sprintf("%s (%s)", u.Username, u.Role)
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(pwd))
}

func (u User) IsAdmin() bool   { return u.Role == RoleAdmin }
func (u User) IsTeacher() bool { return u.Role == RoleTeacher }
func (u User) IsStudent() bool { return u.Role == RoleStudent }

func (u User) CanManageUsers() bool  { return u.IsAdmin() || u.IsSuperuser }
func (u User) CanAssignRoles() bool  { return u.IsAdmin() || u.IsSuperuser }
func (u User) CanViewAllTasks() bool { return u.IsAdmin() || u.IsSuperuser }

// CanCreateTasks reports whether the User may create & assign Tasks.
func (u User) CanCreateTasks() bool { return u.IsAdmin() || u.IsTeacher() || u.IsSuperuser }

// CanAssignTo reports whether the User may assign a Task to `assignee`.
// Teachers may only assign Students.
func (u User) CanAssignTo(assignee User) bool {
	if u.CanViewAllTasks() {
		return true
	}
	return u.IsTeacher() && (assignee.IsStudent() || assignee.ID == u.ID)
}

// NewUser contains information needed to create a new User.
type NewUser struct {
	Name            string `json:"name" validate:"required"`
	Username        string `json:"username" validate:"omitempty,min=4,alphanum_"`
	Email           string `json:"email" validate:"omitempty,email"`
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`
	Role            Role   `json:"role" validate:"omitempty,role"`
	IsSuperuser     bool   `json:"is_superuser"`
}

func (nu *NewUser) Validate(validate *validator.Validate, svc Service) error {
	nu.Name = core.CleanString(nu.Name)
	nu.Username = core.CleanString(nu.Username, true /* lower */)
	nu.Email = core.CleanString(nu.Email, true /* lower */)
	if nu.Role == "" {
		nu.Role = DefaultRole
	}

	if err := validate.Struct(nu); err != nil {
		return err
	}
	return svc.CheckUniqueness(nu.Username, nu.Email)
}

// UpdateUser defines what information may be provided to modify an existing User.
type UpdateUser struct {
	Name            string `json:"name"`
	Username        string `json:"username" validate:"omitempty,min=4,alphanum_"`
	Email           string `json:"email" validate:"omitempty,email"`
	IsActive        *bool  `json:"is_active"`
	IsSuperuser     *bool  `json:"is_superuser"`
	Role            *Role  `json:"role" validate:"omitempty,role"`
	Password        string `json:"password" validate:"omitempty"`
	PasswordConfirm string `json:"password_confirm" validate:"required_with=Password,eqfield=Password"`
}

func (uu *UpdateUser) Validate(origUsr User, validate *validator.Validate, svc Service) error {
	name := core.CleanString(uu.Name)
	if name != "" {
		uu.Name = name
	} else {
		uu.Name = origUsr.Name
	}

	uname := core.CleanString(uu.Username, true /* lower */)
	if uname != "" {
		uu.Username = uname
	} else {
		uu.Username = origUsr.Username
	}

	email := core.CleanString(uu.Email, true /* lower */)
	if email != "" {
		uu.Email = email
	} else {
		uu.Email = origUsr.Email
	}

	if err := validate.Struct(uu); err != nil {
		return err
	}
	return svc.CheckUniqueness(uu.Username, uu.Email, origUsr)
}

type ResetUserPassword struct {
	Token           string `json:"token,omitempty" validate:"required"`
	UID             string `json:"uid,omitempty" validate:"required"`
	Password        string `json:"password,omitempty" validate:"required"`
	PasswordConfirm string `json:"password_confirm,omitempty" validate:"required,eqfield=Password"`
}

func (rp ResetUserPassword) Validate(validate *validator.Validate) error { return validate.Struct(rp) }

type QueryFilter struct {
	Search      string   `query:"search"`
	Roles       []string `query:"role"`
	IsActive    *bool    `query:"is_active"`
	CreatedFrom string   `query:"created_from"` // RFC3339
	CreatedTo   string   `query:"created_to"`   // RFC3339

	roles       []Role
	createdFrom time.Time
	createdTo   time.Time
}

// Clean normalizes the raw query values. Invalid values are reported as a core.ValidationError.
func (qf *QueryFilter) Clean() error {
	qf.Search = core.CleanString(qf.Search)

	qf.roles = qf.roles[:0]
	for _, r := range qf.Roles {
		role, err := ParseRole(r)
		if err != nil {
			return core.NewValidationError(nil, core.FieldError{Field: "role", Error: err.Error()})
		}
		qf.roles = append(qf.roles, role)
	}

	var err error
	if qf.createdFrom, err = parseQueryTime(qf.CreatedFrom); err != nil {
		return core.NewValidationError(nil, core.FieldError{Field: "created_from", Error: "invalid RFC3339 time"})
	}
	if qf.createdTo, err = parseQueryTime(qf.CreatedTo); err != nil {
		return core.NewValidationError(nil, core.FieldError{Field: "created_to", Error: "invalid RFC3339 time"})
	}
	return nil
}

func (qf QueryFilter) RoleValues() []Role       { return qf.roles }
func (qf QueryFilter) CreatedFromTime() time.Time { return qf.createdFrom }
func (qf QueryFilter) CreatedToTime() time.Time   { return qf.createdTo }

func (qf QueryFilter) IsEmpty() bool {
	return qf.Search == "" && len(qf.roles) == 0 && qf.IsActive == nil && qf.createdFrom.IsZero() && qf.createdTo.IsZero()
}

func parseQueryTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// GetFilter selects a single User. The first non-empty field wins.
type GetFilter struct {
	ID              string
	Username        string
	Email           string
	UsernameOrEmail string
}
