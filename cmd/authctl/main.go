// Command authctl runs operator tasks against the auth database:
//
//	authctl migrate
//	authctl sweep
//	authctl deactivate <user_id>
//	authctl reactivate <user_id>
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth/internal/audit"
	"github.com/ovaphlow/pitchfork/service-auth/internal/auth"
	"github.com/ovaphlow/pitchfork/service-auth/internal/config"
	otprepo "github.com/ovaphlow/pitchfork/service-auth/internal/otp/repo"
	"github.com/ovaphlow/pitchfork/service-auth/internal/user"
	userrepo "github.com/ovaphlow/pitchfork/service-auth/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-auth/pkg/database"
	"github.com/ovaphlow/pitchfork/service-auth/pkg/utilities"
)

const usage = "usage: authctl migrate | sweep | deactivate <user_id> | reactivate <user_id>"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
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

	db, err := database.Connect(database.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "db connect: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	clock := clockwork.NewRealClock()
	users := userrepo.NewUserRepo(db)
	codes := otprepo.NewCodeRepo(db, clock, cfg.OTP.MaxAttempts)
	svc := auth.NewService(auth.Deps{
		Users: user.NewService(users,
			user.Argon2Hasher{Memory: cfg.Hashing.Argon2Memory, Time: cfg.Hashing.Argon2Time, Threads: cfg.Hashing.Argon2Threads},
			user.BcryptHasher{Cost: cfg.Hashing.BcryptCost},
			clock),
		Codes:  codes,
		Audit:  audit.LogPublisher{Logger: sugar},
		Logger: sugar,
	})

	if err := run(ctx, svc, sugar, os.Args[1:], func() error {
		if err := users.EnsureTable(ctx); err != nil {
			return err
		}
		return codes.EnsureTable(ctx)
	}, clock); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

var errUsage = errors.New(usage)

func run(ctx context.Context, svc *auth.Service, logger *zap.SugaredLogger, args []string, migrate func() error, clock clockwork.Clock) error {
	switch args[0] {
	case "migrate":
		if err := migrate(); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Info("schema ensured")
	case "sweep":
		n, err := svc.SweepExpired(ctx, clock.Now())
		if err != nil {
			return err
		}
		logger.Infow("expired codes swept", "count", n)
	case "deactivate", "reactivate":
		if len(args) != 2 {
			return errUsage
		}
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil || id <= 0 {
			return errUsage
		}
		if args[0] == "deactivate" {
			err = svc.Deactivate(ctx, id)
		} else {
			err = svc.Reactivate(ctx, id)
		}
		if err != nil {
			return fmt.Errorf("%s %d: %w", args[0], id, err)
		}
		logger.Infow("user updated", "user_id", id, "action", args[0])
	default:
		return errUsage
	}
	return nil
}
