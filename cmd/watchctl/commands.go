package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/subcommands"

	"github.com/kjannette/stockwatch-backend/internal/apiclient"
	"github.com/kjannette/stockwatch-backend/internal/watchlist"
)

var commands = []subcommands.Command{
	&openCmd{},
	&showCmd{},
	&addCmd{},
	&rmCmd{},
	&refreshCmd{},
	&signinCmd{},
	&signoutCmd{},
	&closeCmd{},
}

func client() *apiclient.Client {
	return apiclient.New(*serverFlag, *apiKeyFlag)
}

func sessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "stockwatch", "session")
}

// target is the -s flag shared by every command acting on a session.
type target struct {
	id string
}

func (t *target) SetFlags(f *flag.FlagSet) {
	f.StringVar(&t.id, "s", "", "session id (overrides -session and the remembered session)")
}

func (t *target) session() (string, error) {
	if t.id != "" {
		return t.id, nil
	}
	return currentSession()
}

func currentSession() (string, error) {
	if *sessionFlag != "" {
		return *sessionFlag, nil
	}
	b, err := os.ReadFile(sessionFile())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", errors.New("no session: run `watchctl open` first or pass -session")
		}
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func saveSession(id string) error {
	p := sessionFile()
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return err
	}
	return os.WriteFile(p, []byte(id+"\n"), 0o600)
}

func fail(err error) subcommands.ExitStatus {
	fmt.Fprintln(os.Stderr, err)
	return subcommands.ExitFailure
}

// withSession resolves the session id and runs fn against it, rendering
// whatever state comes back, including the state attached to an error.
func withSession(t *target, fn func(c *apiclient.Client, id string) (*watchlist.Snapshot, error)) subcommands.ExitStatus {
	id, err := t.session()
	if err != nil {
		return fail(err)
	}
	state, err := fn(client(), id)
	if err != nil {
		var apiErr *apiclient.APIError
		if errors.As(err, &apiErr) && apiErr.State != nil {
			printMarkdown(renderState(id, apiErr.State))
		}
		return fail(err)
	}
	if state != nil {
		printMarkdown(renderState(id, state))
	}
	return subcommands.ExitSuccess
}

type openCmd struct{}

func (*openCmd) Name() string     { return "open" }
func (*openCmd) Synopsis() string { return "open a new dashboard session" }
func (*openCmd) Usage() string {
	return `watchctl open

  Opens a dashboard session with the default watchlist and remembers its id
  for the other commands.
`
}
func (*openCmd) SetFlags(*flag.FlagSet) {}

func (*openCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	id, state, err := client().CreateSession(ctx)
	if err != nil {
		return fail(err)
	}
	if err := saveSession(id); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not remember session: %v\n", err)
	}
	fmt.Println(id)
	printMarkdown(renderState(id, state))
	return subcommands.ExitSuccess
}

type showCmd struct {
	target
}

func (*showCmd) Name() string     { return "show" }
func (*showCmd) Synopsis() string { return "display the watchlist, quotes and news" }
func (*showCmd) Usage() string {
	return `watchctl show [-s <ID>]

  Prints the current dashboard state.
`
}

func (p *showCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withSession(&p.target, func(c *apiclient.Client, id string) (*watchlist.Snapshot, error) {
		return c.Session(ctx, id)
	})
}

type addCmd struct {
	target
}

func (*addCmd) Name() string     { return "add" }
func (*addCmd) Synopsis() string { return "add a symbol to the watchlist" }
func (*addCmd) Usage() string {
	return `watchctl add [-s <ID>] <SYMBOL>

  Validates SYMBOL against the quote provider and appends it.
`
}

func (p *addCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "add takes exactly one symbol")
		return subcommands.ExitUsageError
	}
	return withSession(&p.target, func(c *apiclient.Client, id string) (*watchlist.Snapshot, error) {
		return c.AddSymbol(ctx, id, f.Arg(0))
	})
}

type rmCmd struct {
	target
}

func (*rmCmd) Name() string     { return "rm" }
func (*rmCmd) Synopsis() string { return "remove a symbol from the watchlist" }
func (*rmCmd) Usage() string {
	return `watchctl rm [-s <ID>] <SYMBOL>

  Removes SYMBOL. The last symbol cannot be removed.
`
}

func (p *rmCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "rm takes exactly one symbol")
		return subcommands.ExitUsageError
	}
	return withSession(&p.target, func(c *apiclient.Client, id string) (*watchlist.Snapshot, error) {
		return c.RemoveSymbol(ctx, id, f.Arg(0))
	})
}

type refreshCmd struct {
	target
}

func (*refreshCmd) Name() string     { return "refresh" }
func (*refreshCmd) Synopsis() string { return "fetch fresh quotes and news now" }
func (*refreshCmd) Usage() string {
	return `watchctl refresh [-s <ID>]

  Runs a refresh cycle immediately and prints the result.
`
}

func (p *refreshCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withSession(&p.target, func(c *apiclient.Client, id string) (*watchlist.Snapshot, error) {
		return c.Refresh(ctx, id)
	})
}

type signinCmd struct {
	target
	credential string
}

func (*signinCmd) Name() string     { return "signin" }
func (*signinCmd) Synopsis() string { return "sign the session in with an identity token" }
func (*signinCmd) Usage() string {
	return `watchctl signin [-s <ID>] <ID_TOKEN>

  Signs in with a Google ID token. The token may also be passed with
  -credential or STOCKWATCH_CREDENTIAL.
`
}

func (p *signinCmd) SetFlags(f *flag.FlagSet) {
	p.target.SetFlags(f)
	f.StringVar(&p.credential, "credential", os.Getenv("STOCKWATCH_CREDENTIAL"), "Google ID token")
}

func (p *signinCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 1 {
		p.credential = f.Arg(0)
	}
	if p.credential == "" {
		fmt.Fprintln(os.Stderr, "signin requires an ID token")
		return subcommands.ExitUsageError
	}
	return withSession(&p.target, func(c *apiclient.Client, id string) (*watchlist.Snapshot, error) {
		_, state, err := c.SignIn(ctx, id, p.credential)
		return state, err
	})
}

type signoutCmd struct {
	target
}

func (*signoutCmd) Name() string     { return "signout" }
func (*signoutCmd) Synopsis() string { return "sign the session out" }
func (*signoutCmd) Usage() string {
	return `watchctl signout [-s <ID>]
`
}

func (p *signoutCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withSession(&p.target, func(c *apiclient.Client, id string) (*watchlist.Snapshot, error) {
		return c.SignOut(ctx, id)
	})
}

type closeCmd struct {
	target
}

func (*closeCmd) Name() string     { return "close" }
func (*closeCmd) Synopsis() string { return "close the dashboard session" }
func (*closeCmd) Usage() string {
	return `watchctl close [-s <ID>]
`
}

func (p *closeCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	id, err := p.session()
	if err != nil {
		return fail(err)
	}
	if err := client().CloseSession(ctx, id); err != nil {
		return fail(err)
	}
	if p.id == "" && *sessionFlag == "" {
		_ = os.Remove(sessionFile())
	}
	fmt.Printf("closed %s\n", id)
	return subcommands.ExitSuccess
}

type healthCmd struct{}

func (*healthCmd) Name() string     { return "health" }
func (*healthCmd) Synopsis() string { return "check server health" }
func (*healthCmd) Usage() string {
	return `watchctl health
`
}
func (*healthCmd) SetFlags(*flag.FlagSet) {}

func (*healthCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	h, err := client().Health(ctx)
	if err != nil {
		return fail(err)
	}
	fmt.Printf("status=%s database=%s driver=%s sessions=%d\n", h.Status, h.Services.Database, h.Services.Driver, h.Sessions)
	return subcommands.ExitSuccess
}
