// Command areactl is the native Area client. It keeps its session in a
// local file, runs the OAuth connect flow through a loopback or deep-link
// redirect, and drives the area composer from the terminal.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/perimeter-epitech/area/internal/backend"
	"github.com/perimeter-epitech/area/internal/config"
	"github.com/perimeter-epitech/area/internal/observability"
	"github.com/perimeter-epitech/area/internal/session"
	"github.com/perimeter-epitech/area/model"
)

var version = "dev"

func main() {
	args := os.Args
	if len(args) == 1 {
		args = append(args, "--help")
	}
	a := &app{out: os.Stdout, errOut: os.Stderr}
	if err := newRootCommand(a).Run(context.Background(), args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// app is the state every command shares. Before fills it in.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	client *backend.Client
	store  *session.FileStore
	sess   *session.Session

	out    io.Writer
	errOut io.Writer
	json   bool
}

func newRootCommand(a *app) *cli.Command {
	return &cli.Command{
		Name:    "areactl",
		Usage:   "Area client: connect services and compose areas",
		Version: version,
		Writer:  a.out,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to configuration file", Sources: cli.EnvVars("AREA_CONFIG")},
			&cli.StringFlag{Name: "backend", Usage: "Area API base URL", Sources: cli.EnvVars("AREA_BACKEND")},
			&cli.StringFlag{Name: "session-file", Usage: "where the session is kept", Sources: cli.EnvVars("AREA_SESSION_FILE")},
			&cli.StringFlag{Name: "log-level", Value: "warn", Usage: "debug, info, warn or error"},
			&cli.BoolFlag{Name: "json", Usage: "print raw JSON"},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			return ctx, a.init(c)
		},
		After: func(ctx context.Context, c *cli.Command) error {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
			return nil
		},
		Commands: []*cli.Command{
			loginCommand(a),
			registerCommand(a),
			logoutCommand(a),
			whoamiCommand(a),
			deleteAccountCommand(a),
			servicesCommand(a),
			actionsCommand(a),
			reactionsCommand(a),
			connectionsCommand(a),
			connectCommand(a),
			disconnectCommand(a),
			oauthCommand(a),
			areasCommand(a),
			composeCommand(a),
		},
	}
}

// init loads configuration and the stored session.
func (a *app) init(c *cli.Command) error {
	// A missing .env is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if u := c.String("backend"); u != "" {
		cfg.Backend.BaseURL = u
	}
	a.cfg = cfg
	a.json = c.Bool("json")

	a.logger, err = observability.NewConsoleLogger(c.String("log-level"))
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	a.client = backend.NewClient(cfg.Backend, nil, a.logger)

	path := c.String("session-file")
	if path == "" {
		path = cfg.Session.File
	}
	if path == "" {
		path = session.DefaultPath()
	}
	a.store = session.NewFileStore(path)
	a.sess, err = a.store.Load(cfg.Backend.BaseURL)
	if err != nil {
		return err
	}

	if a.sess.Expired(time.Now()) {
		a.logger.Info("stored token expired")
		a.sess.Invalidate()
		return a.save()
	}
	return nil
}

func (a *app) save() error {
	return a.store.Save(a.sess)
}

// token returns the session token or asks the user to log in.
func (a *app) token() (string, error) {
	if !a.sess.Authenticated() {
		return "", errors.New("not logged in, run `areactl login` first")
	}
	return a.sess.Token, nil
}

// check applies the 401 rule: the stored token is dropped and the user is
// sent back to login.
func (a *app) check(err error) error {
	if err == nil {
		return nil
	}
	if model.IsUnauthorized(err) {
		a.sess.Invalidate()
		if serr := a.save(); serr != nil {
			a.logger.Error("failed to save session", zap.Error(serr))
		}
		return fmt.Errorf("%w (session cleared, run `areactl login`)", err)
	}
	return err
}

// print writes v as JSON under --json, else calls human.
func (a *app) print(v any, human func(w io.Writer)) error {
	if a.json {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	human(a.out)
	return nil
}

// draftsDir keeps composer drafts next to the session file.
func (a *app) draftsDir() string {
	return filepath.Join(filepath.Dir(a.store.Path()), "drafts")
}

// argID parses the n-th positional argument as a positive id.
func argID(c *cli.Command, n int, name string) (uint64, error) {
	raw := c.Args().Get(n)
	if raw == "" {
		return 0, fmt.Errorf("missing <%s>", name)
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("<%s> must be a positive integer, got %q", name, raw)
	}
	return id, nil
}
