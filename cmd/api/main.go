package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth/internal/audit"
	"github.com/ovaphlow/pitchfork/service-auth/internal/auth"
	"github.com/ovaphlow/pitchfork/service-auth/internal/config"
	"github.com/ovaphlow/pitchfork/service-auth/internal/delivery"
	"github.com/ovaphlow/pitchfork/service-auth/internal/janitor"
	otprepo "github.com/ovaphlow/pitchfork/service-auth/internal/otp/repo"
	"github.com/ovaphlow/pitchfork/service-auth/internal/router"
	"github.com/ovaphlow/pitchfork/service-auth/internal/token"
	"github.com/ovaphlow/pitchfork/service-auth/internal/user"
	userrepo "github.com/ovaphlow/pitchfork/service-auth/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-auth/pkg/cache"
	"github.com/ovaphlow/pitchfork/service-auth/pkg/database"
	"github.com/ovaphlow/pitchfork/service-auth/pkg/utilities"
)

func main() {
	// best-effort: without a .env the real environment is used
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration:\n%v\n", err)
		os.Exit(1)
	}

	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Infow("starting service-auth", "addr", cfg.HTTPAddr)

	db, err := database.Connect(database.ConfigFromEnv())
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()
	users := userrepo.NewUserRepo(db)
	codes := otprepo.NewCodeRepo(db, clock, cfg.OTP.MaxAttempts)
	if cfg.AutoMigrate {
		if err := migrate(ctx, users, codes); err != nil {
			sugar.Fatalf("migrate: %v", err)
		}
		sugar.Info("schema ensured")
	}

	tokens, err := token.NewIssuer(cfg.Token.Secret, cfg.Token.Issuer, cfg.Token.Audience, clock)
	if err != nil {
		sugar.Fatalf("token issuer: %v", err)
	}

	publisher, closeAudit := newPublisher(cfg.Kafka, sugar)
	defer closeAudit()

	svc := auth.NewService(auth.Deps{
		Users: user.NewService(users,
			user.Argon2Hasher{Memory: cfg.Hashing.Argon2Memory, Time: cfg.Hashing.Argon2Time, Threads: cfg.Hashing.Argon2Threads},
			user.BcryptHasher{Cost: cfg.Hashing.BcryptCost},
			clock),
		Codes:     codes,
		Tokens:    tokens,
		SMS:       newSMS(cfg.SMS, sugar),
		Email:     newEmail(cfg.SMTP, sugar),
		Templates: delivery.Templates{AppName: cfg.AppName},
		Audit:     publisher,
		Logger:    sugar,
		CodeTTL:   cfg.OTP.TTL,
		TokenTTL:  cfg.Token.TTL,
	})

	var locker janitor.Locker
	if cfg.Redis.URL != "" {
		rdb, err := cache.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			sugar.Warnw("redis unavailable, janitor runs without lease", "err", err)
		} else {
			defer rdb.Close()
			locker = cache.NewLease(rdb, utilities.NewKSUID())
		}
	}
	janitorDone := make(chan struct{})
	go func() {
		defer close(janitorDone)
		janitor.New(codes, locker, cfg.OTP.SweepInterval, clock, sugar).Run(ctx)
	}()

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: router.RegisterRoutes(sugar, router.Options{
			Auth:           auth.NewHandler(svc, sugar),
			DB:             db,
			AllowedOrigins: cfg.AllowedOrigins,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()
	sugar.Info("service is running; press Ctrl+C to stop")

	<-ctx.Done()
	sugar.Info("shutting down")

	doneCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}
	// welcome emails still in flight
	svc.Wait()
	<-janitorDone

	sugar.Info("goodbye")
}

type tableEnsurer interface {
	EnsureTable(ctx context.Context) error
}

// migrate creates users before codes; codes reference users.
func migrate(ctx context.Context, tables ...tableEnsurer) error {
	for _, t := range tables {
		if err := t.EnsureTable(ctx); err != nil {
			return err
		}
	}
	return nil
}

func newSMS(c config.SMSConfig, logger *zap.SugaredLogger) delivery.SMSSender {
	if c.APIURL == "" {
		logger.Warn("SMS_API_URL not set, SMS is only logged")
		return delivery.LogSMS{Logger: logger}
	}
	return delivery.NewHTTPSMS(c.APIURL, c.APIKey, c.Timeout, logger)
}

func newEmail(c config.SMTPConfig, logger *zap.SugaredLogger) delivery.EmailSender {
	if c.Host == "" {
		logger.Warn("SMTP_HOST not set, email is only logged")
		return delivery.LogEmail{Logger: logger}
	}
	return &delivery.SMTPMailer{
		Host:     c.Host,
		Port:     c.Port,
		Username: c.Username,
		Password: c.Password,
		From:     c.From,
		Timeout:  c.Timeout,
		Logger:   logger,
	}
}

func newPublisher(c config.KafkaConfig, logger *zap.SugaredLogger) (audit.Publisher, func()) {
	if len(c.Brokers) == 0 {
		return audit.LogPublisher{Logger: logger}, func() {}
	}
	p := audit.NewKafkaPublisher(c.Brokers, c.AuditTopic, logger)
	return p, func() {
		if err := p.Close(); err != nil {
			logger.Warnw("audit writer close failed", "err", err)
		}
	}
}
