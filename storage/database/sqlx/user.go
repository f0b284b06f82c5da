package sqlxrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/kazi/core"
	"github.com/trezcool/kazi/core/user"
)

const userColumns = `id, name, username, email, password_hash, role, is_superuser, is_active,
	otp, otp_created_at, created_at, updated_at, last_login`

type userRow struct {
	ID           string      `db:"id"`
	Name         string      `db:"name"`
	Username     null.String `db:"username"`
	Email        null.String `db:"email"`
	PasswordHash []byte      `db:"password_hash"`
	Role         user.Role   `db:"role"`
	IsSuperuser  bool        `db:"is_superuser"`
	IsActive     bool        `db:"is_active"`
	OTP          null.String `db:"otp"`
	OTPCreatedAt null.Time   `db:"otp_created_at"`
	CreatedAt    time.Time   `db:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at"`
	LastLogin    null.Time   `db:"last_login"`
}

func toUserRow(usr user.User) userRow {
	return userRow{
		ID:           usr.ID,
		Name:         usr.Name,
		Username:     null.NewString(usr.Username, usr.Username != ""),
		Email:        null.NewString(usr.Email, usr.Email != ""),
		PasswordHash: usr.PasswordHash,
		Role:         usr.Role,
		IsSuperuser:  usr.IsSuperuser,
		IsActive:     usr.IsActive,
		OTP:          usr.OTP,
		OTPCreatedAt: usr.OTPCreatedAt,
		CreatedAt:    usr.CreatedAt.UTC(),
		UpdatedAt:    usr.UpdatedAt.UTC(),
		LastLogin:    usr.LastLogin,
	}
}

func (row userRow) toUser() user.User {
	usr := user.User{
		ID:           row.ID,
		Name:         row.Name,
		Username:     row.Username.String,
		Email:        row.Email.String,
		PasswordHash: row.PasswordHash,
		Role:         row.Role,
		IsSuperuser:  row.IsSuperuser,
		IsActive:     row.IsActive,
		OTP:          row.OTP,
		OTPCreatedAt: row.OTPCreatedAt,
		CreatedAt:    row.CreatedAt.UTC(),
		UpdatedAt:    row.UpdatedAt.UTC(),
		LastLogin:    row.LastLogin,
	}
	if usr.OTPCreatedAt.Valid {
		usr.OTPCreatedAt.Time = usr.OTPCreatedAt.Time.UTC()
	}
	if usr.LastLogin.Valid {
		usr.LastLogin.Time = usr.LastLogin.Time.UTC()
	}
	return usr
}

type userRepository struct {
	db sqlx.ExtContext
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db sqlx.ExtContext) user.Repository {
	return &userRepository{db: db}
}

// trapUniqueErr maps unique constraint violations to the user uniqueness errors.
func trapUniqueErr(err error, msg string) error {
	if pqErr, ok := pqError(err); ok && pqErr.Code == pqUniqueViolation {
		switch pqErr.Constraint {
		case "user_username_key":
			return user.ErrUsernameExists
		case "user_email_key":
			return user.ErrEmailExists
		}
		return user.ErrUserExists
	}
	return errors.Wrap(err, msg)
}

func (repo *userRepository) CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers ...user.User) error {
	ids := make([]string, 0, len(excludedUsers))
	for _, u := range excludedUsers {
		if isUUID(u.ID) {
			ids = append(ids, u.ID)
		}
	}

	check := func(col, val string, existsErr error) error {
		if val == "" {
			return nil
		}
		w := &where{}
		w.add(col+" = ?", val)
		if len(ids) > 0 {
			w.add("id NOT IN (?)", ids)
		}
		q, args, err := w.build(repo.db, `SELECT EXISTS (SELECT 1 FROM "user"`, nil)
		if err != nil {
			return err
		}
		var exists bool
		if err = sqlx.GetContext(ctx, repo.db, &exists, q+")", args...); err != nil {
			return errors.Wrap(err, "checking user uniqueness")
		}
		if exists {
			return existsErr
		}
		return nil
	}

	if err := check("username", username, user.ErrUsernameExists); err != nil {
		return err
	}
	return check("email", email, user.ErrEmailExists)
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	usr.ID = uuid.New().String()
	q := `INSERT INTO "user" (` + userColumns + `) VALUES (
		:id, :name, :username, :email, :password_hash, :role, :is_superuser, :is_active,
		:otp, :otp_created_at, :created_at, :updated_at, :last_login)`
	if _, err := sqlx.NamedExecContext(ctx, repo.db, q, toUserRow(usr)); err != nil {
		return user.User{}, trapUniqueErr(err, "inserting user")
	}
	return usr, nil
}

func (repo *userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	w := &where{}
	if filter != nil {
		// users with Name, Username or Email matching the search keyword
		if filter.Search != "" {
			val := "%" + filter.Search + "%"
			w.add("(name ILIKE ? OR username ILIKE ? OR email ILIKE ?)", val, val, val)
		}
		if roles := filter.RoleValues(); len(roles) > 0 {
			w.add("role IN (?)", roles)
		}
		if filter.IsActive != nil {
			w.add("is_active = ?", *filter.IsActive)
		}
		if from := filter.CreatedFromTime(); !from.IsZero() {
			w.add("created_at >= ?", from)
		}
		if to := filter.CreatedToTime(); !to.IsZero() {
			w.add("created_at <= ?", to)
		}
	}
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "created_at", Ascending: true}}
	}

	q, args, err := w.build(repo.db, `SELECT `+userColumns+` FROM "user"`, ordering)
	if err != nil {
		return nil, err
	}
	var rows []userRow
	if err = sqlx.SelectContext(ctx, repo.db, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}

	users := make([]user.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, row.toUser())
	}
	return users, nil
}

func (repo *userRepository) GetUser(ctx context.Context, filter user.GetFilter) (user.User, error) {
	w := &where{}
	switch {
	case filter.ID != "":
		if !isUUID(filter.ID) {
			return user.User{}, user.ErrNotFound
		}
		w.add("id = ?", filter.ID)
	case filter.Username != "":
		w.add("username = ?", filter.Username)
	case filter.Email != "":
		w.add("email = ?", filter.Email)
	case filter.UsernameOrEmail != "":
		w.add("(username = ? OR email = ?)", filter.UsernameOrEmail, filter.UsernameOrEmail)
	default:
		return user.User{}, user.ErrNotFound
	}

	q, args, err := w.build(repo.db, `SELECT `+userColumns+` FROM "user"`, nil)
	if err != nil {
		return user.User{}, err
	}
	var row userRow
	if err = sqlx.GetContext(ctx, repo.db, &row, q+" LIMIT 1", args...); err != nil {
		return user.User{}, trapNoRowsErr(err, user.ErrNotFound, "finding user")
	}
	return row.toUser(), nil
}

// UpdateUser saves all the User's fields but the OTP, which is only written by SaveOTP & ConsumeOTP.
func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	q := `UPDATE "user" SET
		name = :name, username = :username, email = :email, password_hash = :password_hash, role = :role,
		is_superuser = :is_superuser, is_active = :is_active, updated_at = :updated_at, last_login = :last_login
		WHERE id = :id`
	res, err := sqlx.NamedExecContext(ctx, repo.db, q, toUserRow(usr))
	if err != nil {
		return user.User{}, trapUniqueErr(err, "updating user")
	}
	if err = checkAffected(res, user.ErrNotFound); err != nil {
		return user.User{}, err
	}
	return usr, nil
}

func (repo *userRepository) UpdateOrCreateUser(ctx context.Context, usr user.User) (user.User, error) {
	if usr.ID == "" {
		return repo.CreateUser(ctx, usr)
	}
	return repo.UpdateUser(ctx, usr)
}

func (repo *userRepository) SaveOTP(ctx context.Context, usr user.User) error {
	q := repo.db.Rebind(`UPDATE "user" SET otp = ?, otp_created_at = ? WHERE id = ?`)
	res, err := repo.db.ExecContext(ctx, q, usr.OTP, usr.OTPCreatedAt, usr.ID)
	if err != nil {
		return errors.Wrap(err, "saving OTP")
	}
	return checkAffected(res, user.ErrNotFound)
}

func (repo *userRepository) ConsumeOTP(ctx context.Context, id, code string, issuedAt time.Time) (bool, error) {
	if !isUUID(id) {
		return false, nil
	}
	q := repo.db.Rebind(`UPDATE "user" SET otp = NULL, otp_created_at = NULL
		WHERE id = ? AND otp = ? AND otp_created_at = ?`)
	res, err := repo.db.ExecContext(ctx, q, id, code, issuedAt.UTC())
	if err != nil {
		return false, errors.Wrap(err, "consuming OTP")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "getting affected rows")
	}
	return n == 1, nil
}

func (repo *userRepository) DeleteUsersByID(ctx context.Context, ids ...string) (int, error) {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if isUUID(id) {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return 0, nil
	}

	w := &where{}
	w.add("id IN (?)", valid)
	q, args, err := w.build(repo.db, `DELETE FROM "user"`, nil)
	if err != nil {
		return 0, err
	}
	res, err := repo.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, errors.Wrap(err, "deleting users")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "getting affected rows")
	}
	return int(n), nil
}
