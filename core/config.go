package core

import (
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

var errSecretKeyMissing = errors.New("SECRET_KEY is not set")

type (
	Config struct {
		Env              string
		Build            string
		AppName          string
		Debug            bool
		TestMode         bool
		SecretKey        []byte
		WorkDir          string
		FrontendBaseURL  string
		DefaultFromEmail mail.Address
		RollbarToken     string

		PasswordResetTimeoutDelta time.Duration

		Server    ServerConfig
		Database  DatabaseConfig
		Email     EmailConfig
		Redis     RedisConfig
		OTP       OTPConfig
		RateLimit RateLimitConfig
		Media     MediaConfig
	}

	ServerConfig struct {
		Host                      string
		Address                   string
		DebugHost                 string
		DisableReqLogs            bool
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
	}

	DatabaseConfig struct {
		Engine        string // postgres | memory
		Host          string
		Port          int
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	EmailConfig struct {
		Backend        string // console | sendgrid | smtp
		SendgridAPIKey string
		SMTPHost       string
		SMTPPort       int
		SMTPUser       string
		SMTPPassword   string
		SMTPUseSSL     bool
	}

	RedisConfig struct {
		Addr     string
		Password string
		DB       int
	}

	OTPConfig struct {
		TTL         time.Duration
		MaxAttempts int
		Length      int
	}

	RateLimitConfig struct {
		LoginAttempts int
		LoginWindow   time.Duration
		PageRequests  int
		PageWindow    time.Duration
	}

	MediaConfig struct {
		Root string
		URL  string
	}
)

// Address returns the "host:port" of the database server.
func (c DatabaseConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// NewConfig loads the configuration of the current environment (ENV: DEV, TEST, QA, PROD)
// from the process environment and the optional "config/.env.<env>" file.
func NewConfig() (*Config, error) {
	env := strings.ToUpper(os.Getenv("ENV"))
	if env == "" {
		env = "DEV"
	}

	wd, err := Getwd()
	if err != nil {
		return nil, errors.Wrap(err, "finding project root")
	}

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			return nil, errors.Wrapf(err, "loading %s", dotEnvPath)
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "checking %s", dotEnvPath)
	}

	v := viper.New()
	v.SetTypeByDefaultValue(true)
	setDefaults(v, env)
	v.SetEnvPrefix(env)
	v.AutomaticEnv()

	return newConfigFrom(v, env, wd)
}

func setDefaults(v *viper.Viper, env string) {
	v.SetDefault("DEBUG", env == "DEV" || env == "TEST")
	v.SetDefault("TEST_MODE", env == "TEST")
	v.SetDefault("BUILD", "develop")
	v.SetDefault("APP_NAME", "Kazi")
	v.SetDefault("FRONTEND_BASE_URL", "http://localhost:8080")
	v.SetDefault("DEFAULT_FROM_EMAIL", "noreply@localhost")
	v.SetDefault("PASSWORD_RESET_TIMEOUT", 3*24*time.Hour)

	v.SetDefault("SERVER_HOST", "localhost")
	v.SetDefault("SERVER_ADDRESS", ":8000")
	v.SetDefault("SERVER_DEBUG_HOST", "localhost:4000")
	v.SetDefault("SERVER_DISABLE_REQ_LOGS", false)
	v.SetDefault("SERVER_SHUTDOWN_TIMEOUT", 5*time.Second)
	v.SetDefault("JWT_EXPIRATION", 24*time.Hour)
	v.SetDefault("JWT_REFRESH_EXPIRATION", 7*24*time.Hour)

	v.SetDefault("DB_ENGINE", "postgres")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_NAME", "kazi")
	v.SetDefault("DB_USER", "")
	v.SetDefault("DB_PASSWORD", "")
	v.SetDefault("DB_ADMIN_USER", "")
	v.SetDefault("DB_ADMIN_PASSWORD", "")
	v.SetDefault("DB_DISABLE_TLS", env == "DEV" || env == "TEST")

	v.SetDefault("EMAIL_BACKEND", "console")
	v.SetDefault("SENDGRID_API_KEY", "")
	v.SetDefault("EMAIL_HOST", "")
	v.SetDefault("EMAIL_PORT", 587)
	v.SetDefault("EMAIL_HOST_USER", "")
	v.SetDefault("EMAIL_HOST_PASSWORD", "")
	v.SetDefault("EMAIL_USE_SSL", false)

	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("OTP_TTL_SECONDS", 300)
	v.SetDefault("MAX_OTP_ATTEMPTS", 5)
	v.SetDefault("OTP_LENGTH", 6)

	v.SetDefault("RATE_LIMIT_LOGIN_ATTEMPTS", 5)
	v.SetDefault("RATE_LIMIT_LOGIN_WINDOW", 300)
	v.SetDefault("RATE_LIMIT_PAGE_REQUESTS", 20)
	v.SetDefault("RATE_LIMIT_PAGE_WINDOW", 60)

	v.SetDefault("MEDIA_ROOT", "media")
	v.SetDefault("MEDIA_URL", "/media/")

	v.SetDefault("SECRET_KEY", "")
	v.SetDefault("ROLLBAR_TOKEN", "")
}

func newConfigFrom(v *viper.Viper, env, wd string) (*Config, error) {
	secretKey := v.GetString("SECRET_KEY")
	if secretKey == "" {
		return nil, errSecretKeyMissing
	}

	from, err := mail.ParseAddress(v.GetString("DEFAULT_FROM_EMAIL"))
	if err != nil {
		return nil, errors.Wrap(err, "parsing DEFAULT_FROM_EMAIL")
	}

	mediaRoot := v.GetString("MEDIA_ROOT")
	if !filepath.IsAbs(mediaRoot) {
		mediaRoot = filepath.Join(wd, mediaRoot)
	}

	conf := &Config{
		Env:              env,
		Build:            v.GetString("BUILD"),
		AppName:          v.GetString("APP_NAME"),
		Debug:            v.GetBool("DEBUG"),
		TestMode:         v.GetBool("TEST_MODE"),
		SecretKey:        []byte(secretKey),
		WorkDir:          wd,
		FrontendBaseURL:  strings.TrimSuffix(v.GetString("FRONTEND_BASE_URL"), "/"),
		DefaultFromEmail: *from,
		RollbarToken:     v.GetString("ROLLBAR_TOKEN"),

		PasswordResetTimeoutDelta: v.GetDuration("PASSWORD_RESET_TIMEOUT"),

		Server: ServerConfig{
			Host:                      v.GetString("SERVER_HOST"),
			Address:                   v.GetString("SERVER_ADDRESS"),
			DebugHost:                 v.GetString("SERVER_DEBUG_HOST"),
			DisableReqLogs:            v.GetBool("SERVER_DISABLE_REQ_LOGS"),
			ShutdownTimeout:           v.GetDuration("SERVER_SHUTDOWN_TIMEOUT"),
			JWTExpirationDelta:        v.GetDuration("JWT_EXPIRATION"),
			JWTRefreshExpirationDelta: v.GetDuration("JWT_REFRESH_EXPIRATION"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("DB_ENGINE"),
			Host:          v.GetString("DB_HOST"),
			Port:          v.GetInt("DB_PORT"),
			Name:          v.GetString("DB_NAME"),
			User:          v.GetString("DB_USER"),
			Password:      v.GetString("DB_PASSWORD"),
			AdminUser:     v.GetString("DB_ADMIN_USER"),
			AdminPassword: v.GetString("DB_ADMIN_PASSWORD"),
			DisableTLS:    v.GetBool("DB_DISABLE_TLS"),
		},
		Email: EmailConfig{
			Backend:        v.GetString("EMAIL_BACKEND"),
			SendgridAPIKey: v.GetString("SENDGRID_API_KEY"),
			SMTPHost:       v.GetString("EMAIL_HOST"),
			SMTPPort:       v.GetInt("EMAIL_PORT"),
			SMTPUser:       v.GetString("EMAIL_HOST_USER"),
			SMTPPassword:   v.GetString("EMAIL_HOST_PASSWORD"),
			SMTPUseSSL:     v.GetBool("EMAIL_USE_SSL"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		OTP: OTPConfig{
			TTL:         time.Duration(v.GetInt("OTP_TTL_SECONDS")) * time.Second,
			MaxAttempts: v.GetInt("MAX_OTP_ATTEMPTS"),
			Length:      v.GetInt("OTP_LENGTH"),
		},
		RateLimit: RateLimitConfig{
			LoginAttempts: v.GetInt("RATE_LIMIT_LOGIN_ATTEMPTS"),
			LoginWindow:   time.Duration(v.GetInt("RATE_LIMIT_LOGIN_WINDOW")) * time.Second,
			PageRequests:  v.GetInt("RATE_LIMIT_PAGE_REQUESTS"),
			PageWindow:    time.Duration(v.GetInt("RATE_LIMIT_PAGE_WINDOW")) * time.Second,
		},
		Media: MediaConfig{
			Root: mediaRoot,
			URL:  v.GetString("MEDIA_URL"),
		},
	}

	if conf.OTP.Length < 4 || conf.OTP.Length > 6 {
		return nil, errors.Errorf("OTP_LENGTH must be between 4 and 6, got %d", conf.OTP.Length)
	}
	if conf.OTP.TTL <= 0 {
		return nil, errors.New("OTP_TTL_SECONDS must be positive")
	}

	switch conf.Database.Engine {
	case "postgres", "memory":
	default:
		return nil, errors.Errorf("unsupported DB_ENGINE %q", conf.Database.Engine)
	}
	switch conf.Email.Backend {
	case "console", "sendgrid", "smtp":
	default:
		return nil, errors.Errorf("unsupported EMAIL_BACKEND %q", conf.Email.Backend)
	}
	return conf, nil
}

// NewTestConfig returns a Config suitable for tests: in-memory DB, console emails, no rate limits.
func NewTestConfig() *Config {
	wd, _ := os.Getwd()
	return &Config{
		Env:                       "TEST",
		Build:                     "test",
		AppName:                   "Kazi",
		Debug:                     false,
		TestMode:                  true,
		SecretKey:                 []byte("test-secret"),
		WorkDir:                   wd,
		FrontendBaseURL:           "http://localhost:8080",
		DefaultFromEmail:          mail.Address{Address: "noreply@localhost"},
		PasswordResetTimeoutDelta: 3 * 24 * time.Hour,
		Server: ServerConfig{
			Host:                      "localhost",
			DisableReqLogs:            true,
			ShutdownTimeout:           time.Second,
			JWTExpirationDelta:        10 * time.Minute,
			JWTRefreshExpirationDelta: 4 * time.Hour,
		},
		Database: DatabaseConfig{Engine: "memory"},
		Email:    EmailConfig{Backend: "console"},
		OTP:      OTPConfig{TTL: 5 * time.Minute, MaxAttempts: 5, Length: 6},
		Media:    MediaConfig{Root: filepath.Join(os.TempDir(), "kazi-media"), URL: "/media/"},
	}
}
