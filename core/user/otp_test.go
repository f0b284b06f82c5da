package user

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUser_VerifyOTP(t *testing.T) {
	issuedAt := time.Date(2021, time.March, 1, 10, 0, 0, 0, time.UTC)

	issued := User{}
	issued.SetOTP("123456", issuedAt)

	overwritten := User{}
	overwritten.SetOTP("111111", issuedAt)
	overwritten.SetOTP("222222", issuedAt.Add(time.Minute))

	tests := []struct {
		name      string
		usr       User
		candidate string
		now       time.Time
		ttl       time.Duration
		wantErr   error
	}{
		{name: "never issued", usr: User{}, candidate: "123456", now: issuedAt, wantErr: ErrOTPNotIssued},
		{name: "valid at issuance", usr: issued, candidate: "123456", now: issuedAt},
		{name: "valid at T+4:59", usr: issued, candidate: "123456", now: issuedAt.Add(4*time.Minute + 59*time.Second)},
		{name: "valid at T+5:00", usr: issued, candidate: "123456", now: issuedAt.Add(5 * time.Minute)},
		{name: "expired at T+5:01", usr: issued, candidate: "123456", now: issuedAt.Add(5*time.Minute + time.Second), wantErr: ErrOTPExpired},
		{name: "mismatch in window", usr: issued, candidate: "000000", now: issuedAt.Add(time.Minute), wantErr: ErrOTPMismatch},
		{name: "mismatch after window", usr: issued, candidate: "000000", now: issuedAt.Add(time.Hour), wantErr: ErrOTPMismatch},
		{name: "case and length sensitive", usr: issued, candidate: "1234567", now: issuedAt, wantErr: ErrOTPMismatch},
		{name: "overwritten code", usr: overwritten, candidate: "111111", now: issuedAt.Add(2 * time.Minute), wantErr: ErrOTPMismatch},
		{name: "latest code", usr: overwritten, candidate: "222222", now: issuedAt.Add(2 * time.Minute)},
		{name: "custom ttl", usr: issued, candidate: "123456", now: issuedAt.Add(2 * time.Minute), ttl: time.Minute, wantErr: ErrOTPExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantErr, tt.usr.VerifyOTP(tt.candidate, tt.now, tt.ttl))
			assert.Equal(t, tt.wantErr == nil, tt.usr.CheckOTP(tt.candidate, tt.now, tt.ttl))
		})
	}
}

func TestUser_OTPPair(t *testing.T) {
	usr := User{}
	assert.False(t, usr.HasOTP())
	assert.True(t, usr.OTPExpiresAt(0).IsZero())

	now := time.Now()
	usr.SetOTP("654321", now)
	assert.True(t, usr.HasOTP())
	assert.Equal(t, "654321", usr.OTP.String)
	assert.True(t, usr.OTPCreatedAt.Valid)
	assert.Equal(t, time.UTC, usr.OTPCreatedAt.Time.Location())
	assert.True(t, usr.OTPExpiresAt(0).Equal(now.Truncate(time.Microsecond).Add(DefaultOTPTTL)))

	usr.ClearOTP()
	assert.False(t, usr.HasOTP())
	assert.False(t, usr.OTP.Valid)
	assert.False(t, usr.OTPCreatedAt.Valid)
	assert.Equal(t, ErrOTPNotIssued, usr.VerifyOTP("654321", now, 0))
}

func TestGenerateOTP(t *testing.T) {
	for _, length := range []int{4, 6} {
		code, err := GenerateOTP(length)
		require.NoError(t, err)
		assert.Len(t, code, length)
		for _, c := range code {
			assert.True(t, c >= '0' && c <= '9')
		}
	}

	_, err := GenerateOTP(0)
	assert.Error(t, err)
}
