package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full service configuration, read once at startup.
type Config struct {
	HTTPAddr       string
	AppName        string
	AutoMigrate    bool
	AllowedOrigins []string

	Token   TokenConfig
	OTP     OTPConfig
	Hashing HashingConfig
	SMS     SMSConfig
	SMTP    SMTPConfig
	Redis   RedisConfig
	Kafka   KafkaConfig
}

type TokenConfig struct {
	Secret   []byte
	Issuer   string
	Audience string
	TTL      time.Duration
}

type OTPConfig struct {
	TTL           time.Duration
	MaxAttempts   int
	SweepInterval time.Duration
}

type HashingConfig struct {
	BcryptCost    int
	Argon2Memory  uint32
	Argon2Time    uint32
	Argon2Threads uint8
}

type SMSConfig struct {
	APIURL  string
	APIKey  string
	Timeout time.Duration
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

type RedisConfig struct {
	URL string
}

type KafkaConfig struct {
	Brokers    []string
	AuditTopic string
}

// MinSecretLength is the minimum accepted length of SECRET_KEY in bytes.
const MinSecretLength = 32

// Load reads the configuration from environment variables and validates it.
// All problems found are returned together.
func Load() (*Config, error) {
	var errs []error
	intVar := func(key string, def int) int {
		raw := strings.TrimSpace(os.Getenv(key))
		if raw == "" {
			return def
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: not an integer: %q", key, raw))
			return def
		}
		return v
	}

	otpMinutes := intVar("SMS_CODE_EXPIRE_MINUTES", 10)
	cfg := &Config{
		HTTPAddr:       stringVar("HTTP_ADDR", "0.0.0.0:8431"),
		AppName:        stringVar("APP_NAME", "CrowdPlatform"),
		AutoMigrate:    os.Getenv("DB_AUTO_MIGRATE") == "1",
		AllowedOrigins: listVar("CORS_ALLOWED_ORIGINS", []string{"*"}),
		Token: TokenConfig{
			Secret:   []byte(os.Getenv("SECRET_KEY")),
			Issuer:   stringVar("TOKEN_ISSUER", "crowdfunding-auth"),
			Audience: stringVar("TOKEN_AUDIENCE", "crowdfunding-api"),
			TTL:      time.Duration(intVar("ACCESS_TOKEN_EXPIRE_MINUTES", 120)) * time.Minute,
		},
		OTP: OTPConfig{
			TTL:           time.Duration(otpMinutes) * time.Minute,
			MaxAttempts:   intVar("MAX_SMS_ATTEMPTS", 3),
			SweepInterval: time.Duration(intVar("SWEEP_INTERVAL_MINUTES", otpMinutes)) * time.Minute,
		},
		SMS: SMSConfig{
			APIURL:  os.Getenv("SMS_API_URL"),
			APIKey:  os.Getenv("SMS_API_KEY"),
			Timeout: time.Duration(intVar("SMS_TIMEOUT_SECONDS", 5)) * time.Second,
		},
		SMTP: SMTPConfig{
			Host:     os.Getenv("SMTP_HOST"),
			Port:     intVar("SMTP_PORT", 587),
			Username: os.Getenv("SMTP_USERNAME"),
			Password: os.Getenv("SMTP_PASSWORD"),
			From:     stringVar("SMTP_FROM", "no-reply@localhost"),
			Timeout:  time.Duration(intVar("SMTP_TIMEOUT_SECONDS", 10)) * time.Second,
		},
		Redis: RedisConfig{URL: os.Getenv("REDIS_URL")},
		Kafka: KafkaConfig{
			Brokers:    listVar("KAFKA_BROKERS", nil),
			AuditTopic: stringVar("KAFKA_AUDIT_TOPIC", "auth-events"),
		},
	}

	bcryptCost := intVar("BCRYPT_COST", 12)
	memory := intVar("ARGON2_MEMORY_KB", 64*1024)
	iterations := intVar("ARGON2_TIME", 3)
	threads := intVar("ARGON2_THREADS", 2)
	cfg.Hashing = HashingConfig{
		BcryptCost:    bcryptCost,
		Argon2Memory:  uint32(max(memory, 0)),
		Argon2Time:    uint32(max(iterations, 0)),
		Argon2Threads: uint8(min(max(threads, 0), 255)),
	}

	errs = append(errs, cfg.validate(memory, iterations, threads)...)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

func (c *Config) validate(memory, iterations, threads int) []error {
	var errs []error
	if len(c.Token.Secret) < MinSecretLength {
		errs = append(errs, fmt.Errorf("SECRET_KEY: must be at least %d bytes", MinSecretLength))
	}
	if c.Token.Issuer == "" || c.Token.Audience == "" {
		errs = append(errs, errors.New("TOKEN_ISSUER and TOKEN_AUDIENCE must not be empty"))
	}
	if c.Token.TTL < time.Minute {
		errs = append(errs, errors.New("ACCESS_TOKEN_EXPIRE_MINUTES: must be >= 1"))
	}
	if c.OTP.TTL < time.Minute {
		errs = append(errs, errors.New("SMS_CODE_EXPIRE_MINUTES: must be >= 1"))
	}
	if c.OTP.MaxAttempts < 1 {
		errs = append(errs, errors.New("MAX_SMS_ATTEMPTS: must be >= 1"))
	}
	// the sweep has to run at least once per code lifetime
	if c.OTP.SweepInterval < time.Minute || c.OTP.SweepInterval > c.OTP.TTL {
		errs = append(errs, errors.New("SWEEP_INTERVAL_MINUTES: must be between 1 and SMS_CODE_EXPIRE_MINUTES"))
	}
	if c.Hashing.BcryptCost < 4 || c.Hashing.BcryptCost > 31 {
		errs = append(errs, errors.New("BCRYPT_COST: must be between 4 and 31"))
	}
	if memory < 1 || iterations < 1 || threads < 1 || threads > 255 {
		errs = append(errs, errors.New("ARGON2_MEMORY_KB, ARGON2_TIME, ARGON2_THREADS: must be positive (threads <= 255)"))
	}
	if c.SMS.Timeout <= 0 || c.SMTP.Timeout <= 0 {
		errs = append(errs, errors.New("SMS_TIMEOUT_SECONDS and SMTP_TIMEOUT_SECONDS: must be positive"))
	}
	if c.SMTP.Host != "" && (c.SMTP.Port < 1 || c.SMTP.Port > 65535) {
		errs = append(errs, errors.New("SMTP_PORT: out of range"))
	}
	return errs
}

func stringVar(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func listVar(key string, def []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
