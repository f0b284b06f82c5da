package user

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
)

// DefaultOTPTTL is how long an issued OTP stays valid when no TTL is configured.
const DefaultOTPTTL = 5 * time.Minute

var (
	ErrOTPNotIssued        = errors.New("no OTP issued")
	ErrOTPMismatch         = errors.New("invalid OTP")
	ErrOTPExpired          = errors.New("OTP expired")
	ErrOTPAttemptsExceeded = errors.New("too many OTP attempts")
)

// SetOTP stores `code` as the User's current OTP, issued at `now`. Any previous code is overwritten.
// The issuance time is kept at microsecond precision, like the database does.
func (u *User) SetOTP(code string, now time.Time) {
	u.OTP = null.StringFrom(code)
	u.OTPCreatedAt = null.TimeFrom(now.UTC().Truncate(time.Microsecond))
}

// ClearOTP removes the current OTP, if any.
func (u *User) ClearOTP() {
	u.OTP = null.String{}
	u.OTPCreatedAt = null.Time{}
}

// HasOTP reports whether an OTP is currently stored.
func (u User) HasOTP() bool {
	return u.OTP.Valid && u.OTP.String != "" && u.OTPCreatedAt.Valid
}

// OTPExpiresAt returns when the current OTP stops being valid. Zero if none is stored.
func (u User) OTPExpiresAt(ttl time.Duration) time.Time {
	if !u.HasOTP() {
		return time.Time{}
	}
	if ttl <= 0 {
		ttl = DefaultOTPTTL
	}
	return u.OTPCreatedAt.Time.Add(ttl)
}

// VerifyOTP checks `candidate` against the stored OTP at time `now`.
// It does not modify the User: consuming a verified code is up to the caller.
func (u User) VerifyOTP(candidate string, now time.Time, ttl time.Duration) error {
	if !u.HasOTP() {
		return ErrOTPNotIssued
	}
	if subtle.ConstantTimeCompare([]byte(u.OTP.String), []byte(candidate)) != 1 {
		return ErrOTPMismatch
	}
	if now.After(u.OTPExpiresAt(ttl)) {
		return ErrOTPExpired
	}
	return nil
}

// CheckOTP is the boolean form of VerifyOTP.
func (u User) CheckOTP(candidate string, now time.Time, ttl time.Duration) bool {
	return u.VerifyOTP(candidate, now, ttl) == nil
}

// GenerateOTP returns a cryptographically random numeric code of `length` digits.
func GenerateOTP(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("invalid OTP length %d", length)
	}
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", errors.Wrap(err, "reading random OTP")
	}
	return fmt.Sprintf("%0*d", length, n), nil
}
