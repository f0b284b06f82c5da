package user

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/volatiletech/null/v8"
)

func TestMakeVerifyToken(t *testing.T) {
	tg := tokenGenerator{secretKey: []byte("secret"), timeout: 3 * 24 * time.Hour}

	now := time.Now()
	usr := User{
		ID:        "5d2c1d1e-6a3f-4c57-9f0c-6b6bd9b1f9a1",
		Name:      "T",
		Username:  "t",
		Email:     "t@test.test",
		Role:      RoleStudent,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
		LastLogin: null.TimeFrom(now),
	}
	_ = usr.SetPassword("pwd")

	validToken, err := tg.makeToken(usr)
	assert.NoError(t, err)

	// generate an expired token
	dayLate := tg.timeout + (24 * time.Hour)
	restore := MockNow(time.Now().Add(-dayLate))
	expiredToken, err := tg.makeToken(usr)
	restore()
	assert.NoError(t, err)

	// a password change invalidates previous tokens
	usrNewPwd := usr
	_ = usrNewPwd.SetPassword("new-pwd")

	// a new login invalidates previous tokens
	usrNewLogin := usr
	usrNewLogin.LastLogin = null.TimeFrom(now.Add(time.Hour))

	otherKey := tokenGenerator{secretKey: []byte("other"), timeout: tg.timeout}

	tests := []struct {
		name    string
		tg      tokenGenerator
		usr     User
		token   string
		wantErr error
	}{
		{name: "no token", tg: tg, usr: usr, wantErr: errInvalidToken},
		{name: "invalid parts len", tg: tg, usr: usr, token: "lmaooolol", wantErr: errInvalidToken},
		{name: "invalid base32", tg: tg, usr: usr, token: "hahaha-sigsig-sig", wantErr: errInvalidToken},
		{name: "invalid timestamp", tg: tg, usr: usr, token: "NRXWY-sigsig-sig", wantErr: errInvalidToken},
		{name: "invalid token", tg: tg, usr: usr, token: "HE4TS-sigsig-sig", wantErr: errInvalidToken},
		{name: "expired token", tg: tg, usr: usr, token: expiredToken, wantErr: errTokenExpired},
		{name: "password changed", tg: tg, usr: usrNewPwd, token: validToken, wantErr: errInvalidToken},
		{name: "logged in since", tg: tg, usr: usrNewLogin, token: validToken, wantErr: errInvalidToken},
		{name: "other secret key", tg: otherKey, usr: usr, token: validToken, wantErr: errInvalidToken},
		{name: "valid token", tg: tg, usr: usr, token: validToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantErr, tt.tg.verifyToken(tt.usr, tt.token))
		})
	}
}

func TestEncodeDecodeUID(t *testing.T) {
	usr := User{ID: "5d2c1d1e-6a3f-4c57-9f0c-6b6bd9b1f9a1"}
	uid := EncodeUID(usr)
	id, err := decodeUID(uid)
	assert.NoError(t, err)
	assert.Equal(t, usr.ID, id)

	_, err = decodeUID("%%%")
	assert.Error(t, err)
}
