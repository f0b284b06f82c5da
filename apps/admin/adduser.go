package main

import (
	"context"

	"github.com/trezcool/kazi/core"
	"github.com/trezcool/kazi/core/user"
)

type newAdminUser struct {
	name        string
	username    string
	email       string
	password    string
	role        user.Role
	isSuperuser bool
}

// addUser updates or creates a user.User, matched by username then by email.
func (cli *commandLine) addUser(nu newAdminUser) error {
	ctx := context.Background()
	uname := core.CleanString(nu.username, true /* lower */)
	email := core.CleanString(nu.email, true /* lower */)
	name := core.CleanString(nu.name)

	usr, err := cli.findUser(ctx, uname, email)
	if err != nil {
		if err != user.ErrNotFound {
			return err
		}
		now := user.NowFunc().UTC()
		usr = user.User{CreatedAt: now}
	}
	if uname != "" {
		usr.Username = uname
	}
	if email != "" {
		usr.Email = email
	}
	if name != "" {
		usr.Name = name
	}
	usr.Role = nu.role
	usr.IsSuperuser = nu.isSuperuser
	usr.IsActive = true
	usr.UpdatedAt = user.NowFunc().UTC()

	if err = user.ValidatePassword(nu.password, usr.Name, usr.Username, usr.Email); err != nil {
		return err
	}
	if err = usr.SetPassword(nu.password); err != nil {
		return err
	}
	_, err = cli.usrRepo.UpdateOrCreateUser(ctx, usr)
	return err
}

func (cli *commandLine) findUser(ctx context.Context, uname, email string) (user.User, error) {
	for _, key := range []string{uname, email} {
		if key == "" {
			continue
		}
		usr, err := cli.usrRepo.GetUser(ctx, user.GetFilter{UsernameOrEmail: key})
		if err != user.ErrNotFound {
			return usr, err
		}
	}
	return user.User{}, user.ErrNotFound
}
