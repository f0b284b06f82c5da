package user

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/kazi/core"
)

var (
	// errors
	ErrNotFound       = core.NewNotFoundError("user not found")
	ErrUserExists     = errors.New("a user with this username or email already exists")
	ErrEmailExists    = errors.New("a user with this email already exists")
	ErrUsernameExists = errors.New("a user with this username already exists")
	ErrInvalidUID     = errors.New("invalid uid")

	otpKeyPrefix = "otp:attempts:"
)

type (
	Repository interface {
		CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers ...User) error
		CreateUser(ctx context.Context, usr User) (User, error)
		QueryUsers(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error)
		GetUser(ctx context.Context, filter GetFilter) (User, error)
		UpdateUser(ctx context.Context, usr User) (User, error)
		UpdateOrCreateUser(ctx context.Context, usr User) (User, error)
		// SaveOTP persists the OTP fields of usr only.
		SaveOTP(ctx context.Context, usr User) error
		// ConsumeOTP clears the User's OTP only if it still holds `code` issued at `issuedAt`.
		// It reports whether the OTP was cleared.
		ConsumeOTP(ctx context.Context, id, code string, issuedAt time.Time) (bool, error)
		DeleteUsersByID(ctx context.Context, ids ...string) (int, error)
	}

	Service interface {
		CheckUniqueness(uname, email string, exclUsers ...User) error
		Create(ctx context.Context, nu NewUser) (User, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error)
		GetByID(ctx context.Context, id string) (User, error)
		GetByUsername(ctx context.Context, uname string) (User, error)
		GetByEmail(ctx context.Context, email string) (User, error)
		GetByUsernameOrEmail(ctx context.Context, uname string) (User, error)
		Update(ctx context.Context, usr User, uu UpdateUser) (User, error)
		SetLastLogin(ctx context.Context, usr User) (User, error)
		Delete(ctx context.Context, ids ...string) (int, error)

		SetOTP(ctx context.Context, usr User, code string) (User, error)
		IssueOTP(ctx context.Context, usr User) (User, error)
		VerifyOTP(ctx context.Context, usr User, code string) (User, error)

		RequestPasswordReset(ctx context.Context, email string) error
		ResetPassword(ctx context.Context, data ResetUserPassword) error
	}

	service struct {
		repo    Repository
		mailSvc core.EmailService
		limiter core.Limiter
		conf    *core.Config
		tokens  tokenGenerator
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, mailSvc core.EmailService, limiter core.Limiter, conf *core.Config) Service {
	return newService(repo, mailSvc, limiter, conf)
}

func newService(repo Repository, mailSvc core.EmailService, limiter core.Limiter, conf *core.Config) *service {
	return &service{
		repo:    repo,
		mailSvc: mailSvc,
		limiter: limiter,
		conf:    conf,
		tokens:  tokenGenerator{secretKey: conf.SecretKey, timeout: conf.PasswordResetTimeoutDelta},
	}
}

func (svc *service) CheckUniqueness(uname, email string, exclUsers ...User) error {
	if err := svc.repo.CheckUsernameUniqueness(context.Background(), uname, email, exclUsers...); err != nil {
		var field string
		switch errors.Cause(err) {
		case ErrUsernameExists:
			field = "username"
		case ErrEmailExists:
			field = "email"
		case ErrUserExists:
			return core.NewValidationError(err)
		default:
			return err
		}
		return core.NewValidationError(err, core.FieldError{Field: field, Error: err.Error()})
	}
	return nil
}

func (svc *service) Create(ctx context.Context, nu NewUser) (User, error) {
	now := NowFunc().UTC()
	role := nu.Role
	if role == "" {
		role = DefaultRole
	}
	usr := User{
		Name:        nu.Name,
		Username:    nu.Username,
		Email:       nu.Email,
		Role:        role,
		IsSuperuser: nu.IsSuperuser,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, errors.Wrap(err, "setting password")
	}
	return svc.repo.CreateUser(ctx, usr)
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error) {
	return svc.repo.QueryUsers(ctx, filter, core.SafeOrderings(ordering, OrderingFields))
}

func (svc *service) GetByID(ctx context.Context, id string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{ID: id})
}

func (svc *service) GetByUsername(ctx context.Context, uname string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{Username: core.CleanString(uname, true /* lower */)})
}

func (svc *service) GetByEmail(ctx context.Context, email string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{Email: core.CleanString(email, true /* lower */)})
}

func (svc *service) GetByUsernameOrEmail(ctx context.Context, uname string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{UsernameOrEmail: core.CleanString(uname, true /* lower */)})
}

// Update applies a validated UpdateUser to usr. Permission checks are the caller's job.
func (svc *service) Update(ctx context.Context, usr User, uu UpdateUser) (User, error) {
	usr.Name = uu.Name
	usr.Username = uu.Username
	usr.Email = uu.Email
	if uu.IsActive != nil {
		usr.IsActive = *uu.IsActive
	}
	if uu.IsSuperuser != nil {
		usr.IsSuperuser = *uu.IsSuperuser
	}
	if uu.Role != nil {
		usr.Role = *uu.Role
	}
	if uu.Password != "" {
		if err := usr.SetPassword(uu.Password); err != nil {
			return User{}, errors.Wrap(err, "setting password")
		}
	}
	usr.UpdatedAt = NowFunc().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

func (svc *service) SetLastLogin(ctx context.Context, usr User) (User, error) {
	usr.LastLogin = null.TimeFrom(NowFunc().UTC())
	return svc.repo.UpdateUser(ctx, usr)
}

func (svc *service) Delete(ctx context.Context, ids ...string) (int, error) {
	return svc.repo.DeleteUsersByID(ctx, ids...)
}

func (svc *service) otpTTL() time.Duration {
	if svc.conf.OTP.TTL > 0 {
		return svc.conf.OTP.TTL
	}
	return DefaultOTPTTL
}

// SetOTP stores `code` as the User's OTP issued now, and persists it.
func (svc *service) SetOTP(ctx context.Context, usr User, code string) (User, error) {
	usr.SetOTP(code, NowFunc())
	if err := svc.repo.SaveOTP(ctx, usr); err != nil {
		return User{}, errors.Wrap(err, "saving OTP")
	}
	// a fresh code gets a fresh attempts budget
	if err := svc.limiter.Reset(ctx, otpKeyPrefix+usr.ID); err != nil {
		return User{}, errors.Wrap(err, "resetting OTP attempts")
	}
	return usr, nil
}

// IssueOTP generates a new OTP for the User, persists it and emails it to them.
func (svc *service) IssueOTP(ctx context.Context, usr User) (User, error) {
	if usr.Email == "" {
		return User{}, core.NewValidationError(errors.New("no email address to send the code to"))
	}
	code, err := GenerateOTP(svc.conf.OTP.Length)
	if err != nil {
		return User{}, err
	}
	if usr, err = svc.SetOTP(ctx, usr, code); err != nil {
		return User{}, err
	}
	svc.sendOTPMail(usr)
	return usr, nil
}

// VerifyOTP checks `code` against the User's current OTP and consumes it on success:
// a code can only be verified once. Returns the User with their last login updated.
func (svc *service) VerifyOTP(ctx context.Context, usr User, code string) (User, error) {
	ttl := svc.otpTTL()

	if usr.HasOTP() && svc.conf.OTP.MaxAttempts > 0 {
		allowed, err := svc.limiter.Allow(ctx, otpKeyPrefix+usr.ID, svc.conf.OTP.MaxAttempts, ttl)
		if err != nil {
			return User{}, errors.Wrap(err, "counting OTP attempts")
		}
		if !allowed {
			// burn the code: a new one must be requested. A code issued meanwhile is left alone.
			if _, err := svc.repo.ConsumeOTP(ctx, usr.ID, usr.OTP.String, usr.OTPCreatedAt.Time); err != nil {
				return User{}, errors.Wrap(err, "clearing OTP")
			}
			return User{}, ErrOTPAttemptsExceeded
		}
	}

	if err := usr.VerifyOTP(code, NowFunc(), ttl); err != nil {
		return User{}, err
	}

	consumed, err := svc.repo.ConsumeOTP(ctx, usr.ID, usr.OTP.String, usr.OTPCreatedAt.Time)
	if err != nil {
		return User{}, errors.Wrap(err, "consuming OTP")
	}
	if !consumed {
		// verified or overwritten concurrently
		return User{}, ErrOTPMismatch
	}
	usr.ClearOTP()
	if err := svc.limiter.Reset(ctx, otpKeyPrefix+usr.ID); err != nil {
		return User{}, errors.Wrap(err, "resetting OTP attempts")
	}

	return svc.SetLastLogin(ctx, usr)
}

func (svc *service) RequestPasswordReset(ctx context.Context, email string) error {
	usr, err := svc.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if !usr.IsActive {
		return ErrNotFound
	}
	return svc.sendPasswordResetMail(usr)
}

func (svc *service) ResetPassword(ctx context.Context, data ResetUserPassword) error {
	invalidErr := func(field string) error {
		return core.NewValidationError(nil, core.FieldError{Field: field, Error: "invalid value"})
	}

	uid, err := decodeUID(data.UID)
	if err != nil {
		return invalidErr("uid")
	}
	usr, err := svc.GetByID(ctx, uid)
	if err != nil {
		if core.IsNotFound(err) {
			return invalidErr("uid")
		}
		return errors.Wrap(err, "getting user by ID")
	}
	if err = svc.tokens.verifyToken(usr, data.Token); err != nil {
		return invalidErr("token")
	}

	if err = usr.SetPassword(data.Password); err != nil {
		return errors.Wrap(err, "setting password")
	}
	usr.UpdatedAt = NowFunc().UTC()
	if _, err = svc.repo.UpdateUser(ctx, usr); err != nil {
		return errors.Wrap(err, "updating user")
	}
	return nil
}

// MakePasswordResetToken returns the token sent by RequestPasswordReset for usr.
func MakePasswordResetToken(usr User, conf *core.Config) (string, error) {
	return tokenGenerator{secretKey: conf.SecretKey, timeout: conf.PasswordResetTimeoutDelta}.makeToken(usr)
}

func (svc *service) sendOTPMail(usr User) {
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      "Your login code",
		TemplateName: "otp",
		TemplateData: map[string]interface{}{
			"Name":       usr.Name,
			"Code":       usr.OTP.String,
			"TTLMinutes": int(svc.otpTTL() / time.Minute),
		},
	})
}

func (svc *service) sendPasswordResetMail(usr User) error {
	token, err := svc.tokens.makeToken(usr)
	if err != nil {
		return errors.Wrap(err, "making password reset token")
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      "Password Reset",
		TemplateName: "password_reset",
		TemplateData: map[string]interface{}{
			"Name":  usr.Name,
			"UID":   EncodeUID(usr),
			"Token": token,
		},
	})
	return nil
}

// String is used by loggers.
func (svc *service) String() string {
	return fmt.Sprintf("user.Service(otp ttl %v)", svc.otpTTL())
}
