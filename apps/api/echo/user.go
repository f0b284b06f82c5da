package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/kazi/core"
	"github.com/trezcool/kazi/core/user"
	"github.com/trezcool/kazi/services/metrics"
)

var (
	errUsrNotFoundInCtx    = errors.New("user object not found in echo.Context")
	errNoPermsToSetRoles   = "not enough rights to set this role"
	errNoPermsToSetSuperus = "only superusers can grant or revoke superuser status"

	otpSentDetail = "A verification code has been sent to your email address."
)

type userApi struct {
	svc      user.Service
	limiter  core.Limiter
	conf     *core.Config
	validate *validator.Validate
	logger   core.Logger
}

func registerUserAPI(g *echo.Group, deps ServerDeps, jwt, auth echo.MiddlewareFunc) {
	api := userApi{
		svc:      deps.UserSvc,
		limiter:  deps.Limiter,
		conf:     deps.Conf,
		validate: deps.Validate,
		logger:   deps.Logger,
	}
	manager := managerMiddleware(api.svc)

	ug := g.Group("/users")

	// un-authed endpoints
	ug.POST("/login", api.login)
	ug.POST("/login/verify", api.verifyLogin)
	ug.POST("/password-reset", api.resetPassword)
	ug.POST("/password-reset-confirm", api.confirmPasswordReset)

	// authed endpoints
	ag := ug.Group("", jwt, auth)
	ag.POST("/token-refresh", api.refreshToken)
	ag.GET("/me", api.me)
	ag.POST("/register", api.create, manager)
	ag.GET("", api.query, manager)
	ag.DELETE("", api.destroyMultiple, manager)
	ag.GET("/roles", api.queryRoles, manager)

	// detail endpoints
	dg := ag.Group("/:id", ctxUserOrManagerMiddleware(api.svc))
	dg.GET("", api.retrieve)
	dg.PUT("", api.update)
	dg.DELETE("", api.destroy, manager)
}

// Handlers

func (api *userApi) login(ctx echo.Context) error {
	var data LoginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to LoginRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	reqCtx := ctx.Request().Context()
	if api.limiter != nil && api.conf.RateLimit.LoginAttempts > 0 {
		allowed, err := api.limiter.Allow(reqCtx, loginKey(ctx, data.Username), api.conf.RateLimit.LoginAttempts, api.conf.RateLimit.LoginWindow)
		if err != nil {
			return errors.Wrap(err, "limiting login attempts")
		}
		if !allowed {
			metrics.RateLimited.WithLabelValues("login").Inc()
			return errTooManyRequests
		}
	}

	usr, err := authenticate(reqCtx, data.Username, data.Password, api.svc)
	if err != nil {
		metrics.Logins.WithLabelValues("failed").Inc()
		return err
	}
	if _, err = api.svc.IssueOTP(reqCtx, usr); err != nil {
		return errors.Wrap(err, "issuing OTP")
	}

	metrics.Logins.WithLabelValues("otp_sent").Inc()
	return ctx.JSON(http.StatusOK, LoginResponse{OTPRequired: true, Detail: otpSentDetail})
}

func (api *userApi) verifyLogin(ctx echo.Context) error {
	var data VerifyLoginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to VerifyLoginRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	reqCtx := ctx.Request().Context()
	usr, err := api.svc.GetByUsernameOrEmail(reqCtx, data.Username)
	if err != nil {
		if core.IsNotFound(err) {
			metrics.OTPVerifications.WithLabelValues("invalid").Inc()
			return errInvalidCode
		}
		return errors.Wrap(err, "finding user by username or email")
	}
	if !usr.IsActive {
		return errAccountDeactivated
	}

	usr, err = api.svc.VerifyOTP(reqCtx, usr, data.OTP)
	if err != nil {
		if herr, ok := otpHTTPError(err); ok {
			metrics.OTPVerifications.WithLabelValues(otpResult(err)).Inc()
			return herr
		}
		return errors.Wrap(err, "verifying OTP")
	}
	metrics.OTPVerifications.WithLabelValues("ok").Inc()

	if api.limiter != nil {
		if err = api.limiter.Reset(reqCtx, loginKey(ctx, data.Username)); err != nil {
			api.logger.Warn("resetting login attempts", errors.Wrap(err, "resetting login attempts"), usr)
		}
	}

	token, err := GenerateToken(GetUserClaims(usr, api.conf), api.conf.SecretKey)
	if err != nil {
		return errors.Wrap(err, "generating token")
	}
	return ctx.JSON(http.StatusOK, TokenResponse{Token: token})
}

func (api *userApi) resetPassword(ctx echo.Context) error {
	var data PasswordResetRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to PasswordResetRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	if err := api.svc.RequestPasswordReset(ctx.Request().Context(), data.Email); !(err == nil || core.IsNotFound(err)) {
		// do not return errors to attackers
		api.logger.Error("requesting password reset", errors.Wrap(err, "requesting password reset"))
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{
		Success: "If the email address supplied is associated with an active account on this system, " +
			"an email will arrive in your inbox shortly with instructions to reset your password.",
	})
}

func (api *userApi) confirmPasswordReset(ctx echo.Context) error {
	var data user.ResetUserPassword
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ResetUserPassword")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	if err := api.svc.ResetPassword(ctx.Request().Context(), data); err != nil {
		return errors.Wrap(err, "resetting password")
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: "Password has been reset with the new password."})
}

func (api *userApi) refreshToken(ctx echo.Context) error {
	token, err := refreshToken(ctx, api.svc, api.conf)
	if err != nil {
		return errors.Wrap(err, "refreshing token")
	}
	return ctx.JSON(http.StatusOK, TokenResponse{Token: token})
}

func (api *userApi) me(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.svc)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, usr)
}

func (api *userApi) create(ctx echo.Context) error {
	var data user.NewUser
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewUser")
	}
	if err := data.Validate(api.validate, api.svc); err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.svc)
	if err != nil {
		return err
	}
	if data.Role != user.DefaultRole && !ctxUsr.CanAssignRoles() {
		return core.NewValidationError(nil, core.FieldError{Field: "role", Error: errNoPermsToSetRoles})
	}
	if data.IsSuperuser && !ctxUsr.IsSuperuser {
		return core.NewValidationError(nil, core.FieldError{Field: "is_superuser", Error: errNoPermsToSetSuperus})
	}

	usr, err := api.svc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating user")
	}
	return ctx.JSON(http.StatusCreated, usr)
}

func (api *userApi) query(ctx echo.Context) error {
	filter, err := bindUserFilter(ctx)
	if err != nil {
		return err
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	users, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying users")
	}
	if users == nil {
		users = []user.User{}
	}
	return ctx.JSON(http.StatusOK, users)
}

func (api *userApi) retrieve(ctx echo.Context) error {
	usr, ok := ctx.Get("object").(user.User)
	if !ok {
		return errors.Wrap(errUsrNotFoundInCtx, "retrieving object from context")
	}
	return ctx.JSON(http.StatusOK, usr)
}

func (api *userApi) update(ctx echo.Context) error {
	usr, ok := ctx.Get("object").(user.User)
	if !ok {
		return errors.Wrap(errUsrNotFoundInCtx, "retrieving object from context")
	}

	var data user.UpdateUser
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateUser")
	}

	ctxUsr, err := getContextUser(ctx, api.svc)
	if err != nil {
		return err
	}
	// only superusers can modify other superusers
	if usr.IsSuperuser && !ctxUsr.IsSuperuser && usr.ID != ctxUsr.ID {
		return errHttpForbidden
	}
	if !ctxUsr.CanManageUsers() {
		// `IsActive`, `Role` & `IsSuperuser` can only be changed by managers
		// `Username` and `Email` can only be changed by managers for now
		if data.IsActive != nil || data.Role != nil || data.IsSuperuser != nil || data.Username != "" || data.Email != "" {
			return errHttpForbidden
		}
	}

	if err = data.Validate(usr, api.validate, api.svc); err != nil {
		return err
	}

	if data.Role != nil && *data.Role != usr.Role && !ctxUsr.CanAssignRoles() {
		return core.NewValidationError(nil, core.FieldError{Field: "role", Error: errNoPermsToSetRoles})
	}
	if data.IsSuperuser != nil && *data.IsSuperuser != usr.IsSuperuser && !ctxUsr.IsSuperuser {
		return core.NewValidationError(nil, core.FieldError{Field: "is_superuser", Error: errNoPermsToSetSuperus})
	}

	usr, err = api.svc.Update(ctx.Request().Context(), usr, data)
	if err != nil {
		return errors.Wrap(err, "updating user")
	}
	return ctx.JSON(http.StatusOK, usr)
}

func (api *userApi) destroy(ctx echo.Context) error {
	usr, ok := ctx.Get("object").(user.User)
	if !ok {
		return errors.Wrap(errUsrNotFoundInCtx, "retrieving object from context")
	}

	ctxUsr, err := getContextUser(ctx, api.svc)
	if err != nil {
		return err
	}
	// ctxUser cannot delete themselves, nor a superuser unless they are one
	if usr.ID == ctxUsr.ID || (usr.IsSuperuser && !ctxUsr.IsSuperuser) {
		return errHttpForbidden
	}

	if _, err = api.svc.Delete(ctx.Request().Context(), usr.ID); err != nil {
		return errors.Wrap(err, "deleting user")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *userApi) destroyMultiple(ctx echo.Context) error {
	ids := ctx.QueryParams()["id"]
	if len(ids) == 0 {
		return ctx.NoContent(http.StatusNoContent)
	}

	ctxUsr, err := getContextUser(ctx, api.svc)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == ctxUsr.ID {
			return errHttpForbidden
		}
	}
	if !ctxUsr.IsSuperuser {
		targets, err := api.svc.Query(ctx.Request().Context(), nil, nil)
		if err != nil {
			return errors.Wrap(err, "querying users")
		}
		for _, target := range targets {
			if target.IsSuperuser && contains(ids, target.ID) {
				return errHttpForbidden
			}
		}
	}

	if _, err = api.svc.Delete(ctx.Request().Context(), ids...); err != nil {
		return errors.Wrap(err, "deleting users")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *userApi) queryRoles(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, user.AllRoles)
}

// ctxUserOrManagerMiddleware puts the User of the `:id` path param in the context as "object",
// if it is the authenticated User or the latter can manage Users.
func ctxUserOrManagerMiddleware(svc user.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			ctxUsr, err := getContextUser(ctx, svc)
			if err != nil {
				return err
			}

			if ctx.Param("id") == ctxUsr.ID || ctxUsr.CanManageUsers() {
				usr, err := svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
				if err == nil {
					ctx.Set("object", usr)
					return next(ctx)
				}
				if !core.IsNotFound(err) {
					return errors.Wrap(err, "finding user by ID")
				}
			}
			return errHttpNotFound
		}
	}
}

func loginKey(ctx echo.Context, uname string) string {
	return "login:" + ctx.RealIP() + ":" + uname
}

func otpResult(err error) string {
	switch errors.Cause(err) {
	case user.ErrOTPExpired:
		return "expired"
	case user.ErrOTPAttemptsExceeded:
		return "attempts_exceeded"
	}
	return "invalid"
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type (
	LoginRequest struct {
		Username string `json:"username" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	LoginResponse struct {
		OTPRequired bool   `json:"otp_required"`
		Detail      string `json:"detail"`
	}

	VerifyLoginRequest struct {
		Username string `json:"username" validate:"required"`
		OTP      string `json:"otp" validate:"required,numeric"`
	}

	TokenResponse struct {
		Token string `json:"token"`
	}

	PasswordResetRequest struct {
		Email string `json:"email" validate:"required,email"`
	}

	SuccessResponse struct {
		Success string `json:"success"`
	}
)

func (lr *LoginRequest) Validate(validate *validator.Validate) error {
	lr.Username = core.CleanString(lr.Username, true /* lower */)
	return validate.Struct(lr)
}

func (vr *VerifyLoginRequest) Validate(validate *validator.Validate) error {
	vr.Username = core.CleanString(vr.Username, true /* lower */)
	vr.OTP = core.CleanString(vr.OTP)
	return validate.Struct(vr)
}

func (pr *PasswordResetRequest) Validate(validate *validator.Validate) error {
	pr.Email = core.CleanString(pr.Email, true /* lower */)
	return validate.Struct(pr)
}
