// Command lmsctl is the operator tool for the LMS database.
//
//	lmsctl promote -email ada@example.com
//	lmsctl add-course -title "Go in Practice" -price 499
//
// It reads DB_PATH the same way the server does and runs the migrations
// on open, so it also works against a fresh database.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sakif/lms/internal/config"
	"github.com/sakif/lms/internal/logging"
	"github.com/sakif/lms/internal/model"
	sqliteRepo "github.com/sakif/lms/internal/repository/sqlite"
)

const usage = `usage:
  lmsctl promote -email <address> [-role admin|user]
  lmsctl add-course -title <title> -price <rupees>`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err := run(context.Background(), os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, "lmsctl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd string, args []string) error {
	cfg, err := config.Load(os.Getenv("LMS_CONFIG"))
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Env, "warn")

	switch cmd {
	case "promote":
		fs := flag.NewFlagSet("promote", flag.ExitOnError)
		email := fs.String("email", "", "email of the account to change")
		role := fs.String("role", string(model.RoleAdmin), "role to assign")
		_ = fs.Parse(args)
		if *email == "" {
			return fmt.Errorf("promote: -email is required")
		}
		r := model.Role(*role)
		if r != model.RoleAdmin && r != model.RoleUser {
			return fmt.Errorf("promote: unknown role %q", *role)
		}
		return withDB(ctx, cfg.DBPath, logger, func(db *sqliteRepo.DB) error {
			addr := strings.ToLower(strings.TrimSpace(*email))
			if err := db.Users().SetRole(ctx, addr, r); err != nil {
				return err
			}
			fmt.Printf("%s is now %s\n", addr, r)
			return nil
		})

	case "add-course":
		fs := flag.NewFlagSet("add-course", flag.ExitOnError)
		title := fs.String("title", "", "course title")
		price := fs.Int64("price", 0, "price in rupees")
		_ = fs.Parse(args)
		if strings.TrimSpace(*title) == "" || *price <= 0 {
			return fmt.Errorf("add-course: -title and a positive -price are required")
		}
		return withDB(ctx, cfg.DBPath, logger, func(db *sqliteRepo.DB) error {
			course := &model.Course{Title: strings.TrimSpace(*title), Price: *price}
			if err := db.Courses().CreateCourse(ctx, course); err != nil {
				return err
			}
			fmt.Printf("created course %s (%s, %d INR)\n", course.ID, course.Title, course.Price)
			return nil
		})

	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
}

func withDB(ctx context.Context, path string, logger *slog.Logger, fn func(*sqliteRepo.DB) error) error {
	db, err := sqliteRepo.New(ctx, path, logger)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}
