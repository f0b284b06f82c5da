package core_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/kazi/core"
)

func TestNewConfig(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{name: "secret key required", env: map[string]string{}, wantErr: "SECRET_KEY is not set"},
		{
			name:    "otp length",
			env:     map[string]string{"QA_SECRET_KEY": "s3cr3t", "QA_OTP_LENGTH": "8"},
			wantErr: "OTP_LENGTH must be between 4 and 6, got 8",
		},
		{
			name:    "otp ttl",
			env:     map[string]string{"QA_SECRET_KEY": "s3cr3t", "QA_OTP_TTL_SECONDS": "0"},
			wantErr: "OTP_TTL_SECONDS must be positive",
		},
		{
			name:    "db engine",
			env:     map[string]string{"QA_SECRET_KEY": "s3cr3t", "QA_DB_ENGINE": "mysql"},
			wantErr: `unsupported DB_ENGINE "mysql"`,
		},
		{
			name:    "email backend",
			env:     map[string]string{"QA_SECRET_KEY": "s3cr3t", "QA_EMAIL_BACKEND": "pigeon"},
			wantErr: `unsupported EMAIL_BACKEND "pigeon"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ENV", "QA")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := core.NewConfig()
			assert.EqualError(t, err, tt.wantErr)
		})
	}

	t.Run("defaults", func(t *testing.T) {
		t.Setenv("ENV", "QA")
		t.Setenv("QA_SECRET_KEY", "s3cr3t")
		conf, err := core.NewConfig()
		require.NoError(t, err)
		assert.Equal(t, "QA", conf.Env)
		assert.Equal(t, 6, conf.OTP.Length)
		assert.Equal(t, 5*time.Minute, conf.OTP.TTL)
		assert.Equal(t, "postgres", conf.Database.Engine)
		assert.Equal(t, "console", conf.Email.Backend)
	})
}
