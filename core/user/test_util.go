package user

import (
	"context"
	"time"

	"github.com/trezcool/kazi/core"
)

// NewServiceMock returns a Service that never limits OTP attempts. Used by tests of dependent packages.
func NewServiceMock(repo Repository, mailSvc core.EmailService, conf *core.Config) Service {
	return newService(repo, mailSvc, unlimited{}, conf)
}

type unlimited struct{}

func (unlimited) Allow(context.Context, string, int, time.Duration) (bool, error) { return true, nil }
func (unlimited) Reset(context.Context, string) error                          { return nil }

// MockNow freezes NowFunc at t and returns a func restoring it.
func MockNow(t time.Time) (restore func()) {
	NowFunc = func() time.Time { return t }
	return func() { NowFunc = time.Now }
}
