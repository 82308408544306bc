// Package cli implements the apibuilder command-line tool.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/reactwaylabs/api-builder/config"
	"github.com/reactwaylabs/api-builder/internal/logging"
	"github.com/reactwaylabs/api-builder/oauth"
)

// RootFlags are accepted by every command.
type RootFlags struct {
	Config   string `help:"Path to a YAML config file" type:"path" env:"APIBUILDER_CONFIG"`
	LogLevel string `name:"log-level" help:"Log level: debug|info|warn|error (overrides log_level from the config)"`
}

// CLI is the command tree.
type CLI struct {
	RootFlags `embed:""`

	Login   LoginCmd   `cmd:"" help:"Log in with a username and password and store the credentials"`
	Logout  LogoutCmd  `cmd:"" help:"Revoke the stored credentials"`
	Status  StatusCmd  `cmd:"" aliases:"st" help:"Show whether credentials are stored"`
	Request RequestCmd `cmd:"" aliases:"req" help:"Send one request through the queue"`
}

// ExitError carries the process exit code for an error.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps err to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return 1
}

type exitPanic struct{ code int }

// Execute parses args and runs the selected command, writing output to
// stdout and diagnostics to stderr.
func Execute(args []string, stdout, stderr io.Writer) (err error) {
	cli := &CLI{}
	parser, err := kong.New(
		cli,
		kong.Name("apibuilder"),
		kong.Description("Queue HTTP requests against an API and manage its OAuth credentials."),
		kong.Writers(stdout, stderr),
		kong.Exit(func(code int) { panic(exitPanic{code: code}) }),
	)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			if ep, ok := r.(exitPanic); ok {
				if ep.code == 0 {
					err = nil
					return
				}
				err = &ExitError{Code: ep.code, Err: errors.New("exited")}
				return
			}
			panic(r)
		}
	}()

	kctx, err := parser.Parse(args)
	if err != nil {
		var parseErr *kong.ParseError
		if errors.As(err, &parseErr) {
			err = &ExitError{Code: 2, Err: parseErr}
		}
		_, _ = fmt.Fprintln(stderr, "error:", err)
		return err
	}

	a, err := newApp(cli.RootFlags, stdout, stderr)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "error:", err)
		return &ExitError{Code: 2, Err: err}
	}
	defer func() { _ = a.logger.Sync() }()

	kctx.BindTo(context.Background(), (*context.Context)(nil))
	kctx.Bind(a)

	if err := kctx.Run(); err != nil {
		if ExitCode(err) == 0 {
			return nil
		}
		_, _ = fmt.Fprintln(stderr, "error:", err)
		return err
	}
	return nil
}

// app is the state shared by commands.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	stdout io.Writer
	stderr io.Writer

	// readPassword prompts for a password; nil when stdin is not a terminal.
	readPassword func() (string, error)
}

func newApp(flags RootFlags, stdout, stderr io.Writer) (*app, error) {
	cfg, err := config.Load(flags.Config)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Config{Level: logLevel(flags, cfg), Output: stderr, Name: "apibuilder"})
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, stdout: stdout, stderr: stderr}
	if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
		a.readPassword = func() (string, error) {
			_, _ = fmt.Fprint(stderr, "Password: ")
			b, err := term.ReadPassword(fd)
			_, _ = fmt.Fprintln(stderr)
			return string(b), err
		}
	}
	return a, nil
}

// logLevel prefers the flag over the configured level.
func logLevel(flags RootFlags, cfg *config.Config) string {
	if flags.LogLevel != "" {
		return flags.LogLevel
	}
	return cfg.LogLevel
}

// identity opens the configured storage and the OAuth identity on it. The
// returned function closes both.
func (a *app) identity(ctx context.Context) (*oauth.Manager, func(), error) {
	if !a.cfg.IdentityEnabled() {
		return nil, nil, &ExitError{Code: 2, Err: errors.New("no identity configured: set oauth.login_path and oauth.logout_path")}
	}
	store, closeStore, err := a.cfg.OpenStorage(ctx)
	if err != nil {
		return nil, nil, err
	}
	id, err := a.cfg.NewIdentity(store, a.logger)
	if err != nil {
		_ = closeStore()
		return nil, nil, err
	}
	return id, func() {
		id.Close()
		if err := closeStore(); err != nil {
			a.logger.Warn("closing storage failed", zap.Error(err))
		}
	}, nil
}
