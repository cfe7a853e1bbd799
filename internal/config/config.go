// Package config loads the process configuration once at startup.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const EnvProduction = "production"

type Config struct {
	Env              string `yaml:"env" env:"APP_ENV" env-default:"development"`
	LogLevel         string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	DBPath           string `yaml:"db_path" env:"DB_PATH" env-default:"data/lms.db"`
	FrontendURL      string `yaml:"frontend_url" env:"FRONTEND_URL" env-default:"http://localhost:5173"`
	DefaultAvatarURL string `yaml:"default_avatar_url" env:"DEFAULT_AVATAR_URL" env-default:"https://res.cloudinary.com/lms/image/upload/v1/avatars/default.png"`

	HTTP      HTTP      `yaml:"http"`
	Auth      Auth      `yaml:"auth"`
	Google    OAuthApp  `yaml:"google" env-prefix:"GOOGLE_"`
	GitHub    OAuthApp  `yaml:"github" env-prefix:"GITHUB_"`
	Razorpay  Razorpay  `yaml:"razorpay"`
	SMTP      SMTP      `yaml:"smtp"`
	Redis     Redis     `yaml:"redis"`
	RateLimit RateLimit `yaml:"rate_limit"`
}

type HTTP struct {
	Port            int           `yaml:"port" env:"PORT" env-default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"HTTP_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"HTTP_WRITE_TIMEOUT" env-default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"HTTP_IDLE_TIMEOUT" env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"30s"`
}

type Auth struct {
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
}

// OAuthApp is one provider's client registration. An empty ClientID
// leaves that provider's routes unregistered.
type OAuthApp struct {
	ClientID     string `yaml:"client_id" env:"CLIENT_ID"`
	ClientSecret string `yaml:"client_secret" env:"CLIENT_SECRET"`
	CallbackURL  string `yaml:"callback_url" env:"CALLBACK_URL"`
}

func (o OAuthApp) Enabled() bool { return o.ClientID != "" }

type Razorpay struct {
	KeyID     string        `yaml:"key_id" env:"RAZORPAY_KEY_ID"`
	KeySecret string        `yaml:"key_secret" env:"RAZORPAY_SECRET"`
	BaseURL   string        `yaml:"base_url" env:"RAZORPAY_BASE_URL" env-default:"https://api.razorpay.com/v1"`
	Timeout   time.Duration `yaml:"timeout" env:"RAZORPAY_TIMEOUT" env-default:"10s"`
}

type SMTP struct {
	Host     string        `yaml:"host" env:"SMTP_HOST"`
	Port     int           `yaml:"port" env:"SMTP_PORT" env-default:"587"`
	Username string        `yaml:"username" env:"SMTP_USERNAME"`
	Password string        `yaml:"password" env:"SMTP_PASSWORD"`
	From     string        `yaml:"from" env:"SMTP_FROM_EMAIL" env-default:"no-reply@lms.local"`
	Timeout  time.Duration `yaml:"timeout" env:"SMTP_TIMEOUT" env-default:"10s"`
}

type Redis struct {
	Addr      string `yaml:"addr" env:"REDIS_ADDR"`
	Password  string `yaml:"password" env:"REDIS_PASSWORD"`
	DB        int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	KeyPrefix string `yaml:"key_prefix" env:"REDIS_KEY_PREFIX" env-default:"lms:ratelimit:"`
}

type RateLimit struct {
	Limit  int           `yaml:"limit" env:"RATE_LIMIT_REQUESTS" env-default:"10"`
	Window time.Duration `yaml:"window" env:"RATE_LIMIT_WINDOW" env-default:"15m"`
}

// Load reads path when it exists and then applies environment variables
// on top. An empty path reads the environment only.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := cleanenv.ReadConfig(path, &cfg); err != nil {
				return nil, fmt.Errorf("config: reading %s: %w", path, err)
			}
			return &cfg, nil
		}
	}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config: reading environment: %w", err)
	}
	return &cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// Validate reports every missing or malformed setting at once.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Auth.JWTSecret) < 16 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 16 characters"))
	}
	if c.Razorpay.KeyID == "" || c.Razorpay.KeySecret == "" {
		errs = append(errs, errors.New("RAZORPAY_KEY_ID and RAZORPAY_SECRET are required"))
	}
	if u, err := url.Parse(c.FrontendURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("FRONTEND_URL %q must be an absolute URL", c.FrontendURL))
	}
	for name, app := range map[string]OAuthApp{"GOOGLE": c.Google, "GITHUB": c.GitHub} {
		if app.Enabled() && (app.ClientSecret == "" || app.CallbackURL == "") {
			errs = append(errs, fmt.Errorf("%s_CLIENT_SECRET and %s_CALLBACK_URL are required when %s_CLIENT_ID is set", name, name, name))
		}
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d out of range", c.HTTP.Port))
	}
	if c.RateLimit.Limit <= 0 || c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be positive"))
	}

	return errors.Join(errs...)
}

// FrontendOrigin is scheme://host of FrontendURL, the only origin the
// OAuth bridge page posts to.
func (c *Config) FrontendOrigin() string {
	u, err := url.Parse(c.FrontendURL)
	if err != nil {
		return strings.TrimRight(c.FrontendURL, "/")
	}
	return u.Scheme + "://" + u.Host
}
