// Command echoshockctl runs administrative tasks directly against the
// configured database. Granting admin rights is deliberately not possible
// over HTTP; this tool is the way to do it.
//
//	echoshockctl promote --username keeper
//	echoshockctl demote --username keeper
//	echoshockctl reconcile
package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/TotemHolder-js/EchoShock/internal/auth"
	"github.com/TotemHolder-js/EchoShock/internal/backend"
	"github.com/TotemHolder-js/EchoShock/internal/config"
	"github.com/TotemHolder-js/EchoShock/internal/repository"
	sqliteRepo "github.com/TotemHolder-js/EchoShock/internal/repository/sqlite"
	"github.com/TotemHolder-js/EchoShock/internal/service"
)

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp(out io.Writer) *cli.App {
	var (
		cfg *config.Config
		db  *sqliteRepo.DB
	)

	return &cli.App{
		Name:      "echoshockctl",
		Usage:     "EchoShock administration",
		Writer:    out,
		ErrWriter: out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to the configuration file",
				Value:   "config.yaml",
				EnvVars: []string{"ECHOSHOCK_CONFIG"},
			},
		},
		Before: func(c *cli.Context) error {
			if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("loading .env: %w", err)
			}
			var err error
			if cfg, err = config.LoadFile(c.String("config")); err != nil {
				return err
			}
			if db, err = sqliteRepo.New(cfg.Database.Path); err != nil {
				return err
			}
			return nil
		},
		After: func(c *cli.Context) error {
			if db != nil {
				return db.Close()
			}
			return nil
		},
		Commands: []*cli.Command{
			adminCommand("promote", "grant admin rights", true, &db),
			adminCommand("demote", "revoke admin rights", false, &db),
			{
				Name:  "reconcile",
				Usage: "clean up sign-ups that left a principal without a profile",
				Action: func(c *cli.Context) error {
					provider := authProvider(cfg, db)
					logger := slog.New(slog.NewTextHandler(io.Discard, nil))
					rec := service.NewReconciler(db, db, provider, nil, nil, logger,
						cfg.Reconcile.Interval, cfg.Reconcile.Grace)

					res, err := rec.RunOnce(c.Context)
					if err != nil {
						return err
					}
					pending, err := db.CountPendingOrphans(c.Context)
					if err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "checked=%d resolved=%d deleted=%d failed=%d pending=%d\n",
						res.Checked, res.Resolved, res.Deleted, res.Failed, pending)
					return nil
				},
			},
		},
	}
}

func adminCommand(name, usage string, isAdmin bool, db **sqliteRepo.DB) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "username", Aliases: []string{"u"}, Required: true},
		},
		Action: func(c *cli.Context) error {
			username := c.String("username")
			if err := (*db).SetAdmin(c.Context, username, isAdmin); err != nil {
				return fmt.Errorf("%s %s: %w", name, username, err)
			}
			fmt.Fprintf(c.App.Writer, "%s: is_admin=%t\n", username, isAdmin)
			return nil
		},
	}
}

// authProvider mirrors the server's backend selection so the reconciler
// deletes principals wherever they actually live.
func authProvider(cfg *config.Config, db *sqliteRepo.DB) repository.AuthProvider {
	if cfg.Backend.Mode == config.BackendRemote {
		return backend.NewAuthProvider(backend.New(cfg.Backend.URL, cfg.Backend.ServiceKey, nil))
	}
	return auth.NewLocalProvider(db, auth.NewPasswordService(cfg.Auth.BcryptCost))
}
