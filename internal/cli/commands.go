package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	apibuilder "github.com/reactwaylabs/api-builder"
	"github.com/reactwaylabs/api-builder/oauth"
)

// LoginCmd exchanges a username and password for credentials.
type LoginCmd struct {
	Username string `required:"" short:"u" help:"Account username"`
	Password string `env:"APIBUILDER_PASSWORD" help:"Password; prompted for when omitted on a terminal"`
}

func (c *LoginCmd) Run(ctx context.Context, a *app) error {
	password := c.Password
	if password == "" {
		if a.readPassword == nil {
			return &ExitError{Code: 2, Err: errors.New("password required: pass --password or set APIBUILDER_PASSWORD")}
		}
		var err error
		if password, err = a.readPassword(); err != nil {
			return fmt.Errorf("read password: %w", err)
		}
	}

	id, done, err := a.identity(ctx)
	if err != nil {
		return err
	}
	defer done()

	if err := id.Login(ctx, c.Username, password); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(a.stdout, "Logged in as %s\n", c.Username)
	return nil
}

// LogoutCmd revokes the stored credentials.
type LogoutCmd struct{}

func (c *LogoutCmd) Run(ctx context.Context, a *app) error {
	id, done, err := a.identity(ctx)
	if err != nil {
		return err
	}
	defer done()

	if err := id.Logout(ctx); err != nil {
		if errors.Is(err, oauth.ErrAnonymous) {
			_, _ = fmt.Fprintln(a.stdout, "Not logged in")
			return nil
		}
		return err
	}
	_, _ = fmt.Fprintln(a.stdout, "Logged out")
	return nil
}

// StatusCmd reports whether credentials are stored.
type StatusCmd struct{}

func (c *StatusCmd) Run(ctx context.Context, a *app) error {
	_, _ = fmt.Fprintf(a.stdout, "host\t%s\n", a.cfg.Host)
	if !a.cfg.IdentityEnabled() {
		_, _ = fmt.Fprintln(a.stdout, "identity\tnot configured")
		return nil
	}

	id, done, err := a.identity(ctx)
	if err != nil {
		return err
	}
	defer done()

	_, _ = fmt.Fprintf(a.stdout, "storage\t%s\n", a.cfg.Storage.Driver)
	creds, ok := id.Credentials()
	if !ok {
		_, _ = fmt.Fprintln(a.stdout, "authenticated\tno")
		return nil
	}
	_, _ = fmt.Fprintln(a.stdout, "authenticated\tyes")
	_, _ = fmt.Fprintf(a.stdout, "token_type\t%s\n", creds.TokenType)
	if creds.Scope != "" {
		_, _ = fmt.Fprintf(a.stdout, "scope\t%s\n", creds.Scope)
	}
	_, _ = fmt.Fprintf(a.stdout, "renewable\t%t\n", creds.RefreshToken != "")
	return nil
}

// RequestCmd sends one request and prints the response.
type RequestCmd struct {
	Method string            `arg:"" help:"HTTP method: GET, POST, PUT, PATCH or DELETE"`
	Path   string            `arg:"" help:"Path appended to the configured host and prefix"`
	Data   string            `short:"d" help:"Request body; sent as JSON when it is valid JSON"`
	Header map[string]string `short:"H" help:"Extra header as key=value (repeatable)"`
	Query  map[string]string `short:"q" help:"Query parameter as key=value (repeatable)"`
	Auth   bool              `help:"Attach the stored credentials"`
	Forced bool              `help:"Skip ahead of queued requests"`
}

func (c *RequestCmd) Run(ctx context.Context, a *app) error {
	req := apibuilder.Request{
		Method:        apibuilder.Method(strings.ToUpper(c.Method)),
		Path:          c.Path,
		Headers:       c.Header,
		Authenticated: c.Auth,
		Forced:        c.Forced,
	}
	if len(c.Query) > 0 {
		req.Query = make(url.Values, len(c.Query))
		for k, v := range c.Query {
			req.Query.Set(k, v)
		}
	}
	if c.Data != "" {
		if json.Valid([]byte(c.Data)) {
			req.Body = apibuilder.JSON(json.RawMessage(c.Data))
		} else {
			req.Body = apibuilder.Text(c.Data)
		}
	}

	var opts []apibuilder.Option
	if a.cfg.IdentityEnabled() {
		id, done, err := a.identity(ctx)
		if err != nil {
			return err
		}
		defer done()
		opts = a.cfg.BuilderOptions(id, a.logger)
	} else {
		opts = a.cfg.BuilderOptions(nil, a.logger)
	}

	b := apibuilder.New(a.cfg.Host, opts...)
	defer b.Close()

	resp, err := b.Do(ctx, req)
	if err != nil {
		if errors.Is(err, apibuilder.ErrInvalidMethod) {
			return &ExitError{Code: 2, Err: err}
		}
		return err
	}

	_, _ = fmt.Fprintf(a.stdout, "%d %s\n", resp.StatusCode, http.StatusText(resp.StatusCode))
	if len(resp.Body) > 0 {
		_, _ = a.stdout.Write(resp.Body)
		if resp.Body[len(resp.Body)-1] != '\n' {
			_, _ = fmt.Fprintln(a.stdout)
		}
	}
	if !resp.OK() {
		return &ExitError{Code: 1, Err: fmt.Errorf("request failed with status %d", resp.StatusCode)}
	}
	return nil
}
