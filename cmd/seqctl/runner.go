package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"seqkeeper/internal/app"
	"seqkeeper/internal/config"
	"seqkeeper/internal/core/security"
	"seqkeeper/internal/domain/auth"
	"seqkeeper/internal/domain/sequence"
	"seqkeeper/internal/infrastructure/storage/postgres"
	"seqkeeper/pkg/logger"
)

const dateLayout = "2006-01-02"

// Runner holds the dependencies of every seqctl command.
type Runner struct {
	app    *app.App
	log    *logger.Logger
	output io.Writer
}

// RunnerOpts configures a Runner.
type RunnerOpts struct {
	// App is used as is when set; otherwise it is built from --config on first use.
	App    *app.App
	Logger *logger.Logger
	Output io.Writer
}

// NewRunner creates a Runner.
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	return &Runner{app: opts.App, log: opts.Logger, output: opts.Output}
}

// Close releases the database pool, if one was opened.
func (r *Runner) Close() {
	if r.app != nil {
		r.app.Close()
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range []func(*Runner) *cli.Command{
		migrateCommand, listCommand, createCommand, nextCommand, resetCommand, tokenCommand, configCommand,
	} {
		commands = append(commands, fn(r))
	}
	return commands
}

func (r *Runner) open(ctx context.Context, cmd *cli.Command) (*app.App, error) {
	if r.app != nil {
		return r.app, nil
	}

	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}
	if r.log == nil {
		if r.log, err = app.NewLogger(cfg); err != nil {
			return nil, fmt.Errorf("init logger: %w", err)
		}
	}

	a, err := app.New(ctx, cfg, r.log)
	if err != nil {
		return nil, err
	}
	r.app = a
	return a, nil
}

func (r *Runner) writeJSON(data any) error {
	output, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	if _, err := fmt.Fprintf(r.output, "%s\n", output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	if _, err := fmt.Fprintf(r.output, format, args...); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func parseDate(value string, loc *time.Location) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(dateLayout, value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("--at must be YYYY-MM-DD: %w", err)
	}
	return t, nil
}

func migrateCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply pending database migrations",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "down", Usage: "Roll back the latest migration"},
		},
		Action: r.Migrate,
	}
}

// Migrate applies or rolls back migrations.
func (r *Runner) Migrate(ctx context.Context, cmd *cli.Command) error {
	a, err := r.open(ctx, cmd)
	if err != nil {
		return err
	}
	if a.Pool == nil {
		return errors.New("migrate requires a PostgreSQL database")
	}

	if cmd.Bool("down") {
		v, err := postgres.Rollback(ctx, a.Pool)
		if err != nil {
			return err
		}
		if v == 0 {
			return r.writePlain("nothing to roll back\n")
		}
		return r.writePlain("rolled back migration %04d\n", v)
	}

	applied, err := postgres.Migrate(ctx, a.Pool)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return r.writePlain("database is up to date\n")
	}
	for _, v := range applied {
		if err := r.writePlain("applied migration %04d\n", v); err != nil {
			return err
		}
	}
	return nil
}

func listCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List sequences",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "search", Aliases: []string{"s"}, Usage: "Filter by code or name"},
			&cli.BoolFlag{Name: "json", Usage: "Output JSON"},
		},
		Action: r.List,
	}
}

// List prints every sequence matching --search.
func (r *Runner) List(ctx context.Context, cmd *cli.Command) error {
	a, err := r.open(ctx, cmd)
	if err != nil {
		return err
	}
	ctx = security.Elevate(ctx)

	filter := sequence.DefaultListFilter()
	filter.Search = cmd.String("search")
	res, err := a.Sequences.List(ctx, filter)
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return r.writeJSON(res.Items)
	}

	w := tabwriter.NewWriter(r.output, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CODE\tNAME\tNEXT\tRESET\tFORMAT")
	for _, s := range res.Items {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", s.Code, s.Name, s.NextValue, s.ResetMode, sequence.Format(s, s.NextValue, a.Clock.Now()))
	}
	return w.Flush()
}

func createCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "Create a sequence",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "code"},
		},
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Usage: "Display name (defaults to the code)"},
			&cli.StringFlag{Name: "prefix", Usage: "Prefix, may contain {year}, {y}, {month}, {day}"},
			&cli.StringFlag{Name: "suffix"},
			&cli.IntFlag{Name: "padding", Value: 5},
			&cli.IntFlag{Name: "step", Value: 1},
			&cli.StringFlag{Name: "reset", Value: string(sequence.ResetNone), Usage: "none, monthly or yearly"},
		},
		Action: r.Create,
	}
}

// Create adds a sequence.
func (r *Runner) Create(ctx context.Context, cmd *cli.Command) error {
	code := cmd.StringArg("code")
	if code == "" {
		return errors.New("sequence code is required")
	}
	a, err := r.open(ctx, cmd)
	if err != nil {
		return err
	}

	mode := sequence.ParseResetMode(cmd.String("reset"))
	if raw := strings.ToLower(strings.TrimSpace(cmd.String("reset"))); mode == sequence.ResetNone && raw != "" && raw != "none" {
		return fmt.Errorf("unknown reset mode %q", cmd.String("reset"))
	}

	seq := sequence.NewSequence(code, cmd.String("name"))
	if seq.Name == "" {
		seq.Name = code
	}
	seq.Prefix = cmd.String("prefix")
	seq.Suffix = cmd.String("suffix")
	seq.Padding = int(cmd.Int("padding"))
	seq.Step = int64(cmd.Int("step"))
	seq.ResetMode = mode

	if err := a.Sequences.Create(security.Elevate(ctx), seq); err != nil {
		return err
	}
	return r.writePlain("created %s (%s)\n", seq.Code, seq.ID)
}

func nextCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "next",
		Usage: "Allocate the next number of a sequence",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "code"},
		},
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "at", Usage: "Date for prefix placeholders (YYYY-MM-DD)"},
		},
		Action: r.Next,
	}
}

// Next allocates and prints one number.
func (r *Runner) Next(ctx context.Context, cmd *cli.Command) error {
	code := cmd.StringArg("code")
	if code == "" {
		return errors.New("sequence code is required")
	}
	a, err := r.open(ctx, cmd)
	if err != nil {
		return err
	}
	loc, err := a.Config.Reset.Location()
	if err != nil {
		return err
	}
	at, err := parseDate(cmd.String("at"), loc)
	if err != nil {
		return err
	}

	number, err := a.Sequences.Next(security.Elevate(ctx), code, at)
	if err != nil {
		return err
	}
	return r.writePlain("%s\n", number)
}

func resetCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "reset",
		Usage: "Run the periodic reset as of a date",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "at", Usage: "Evaluate as of this date (YYYY-MM-DD); defaults to now"},
		},
		Action: r.Reset,
	}
}

// Reset runs the reset policy and prints the report. Partial failures are
// printed and returned.
func (r *Runner) Reset(ctx context.Context, cmd *cli.Command) error {
	a, err := r.open(ctx, cmd)
	if err != nil {
		return err
	}
	loc, err := a.Config.Reset.Location()
	if err != nil {
		return err
	}
	at, err := parseDate(cmd.String("at"), loc)
	if err != nil {
		return err
	}
	if at.IsZero() {
		at = a.Clock.Now().In(loc)
	}

	report, runErr := a.Resets.ApplyResets(security.Elevate(ctx), at)

	if err := r.writePlain("evaluated %d sequences as of %s\n", report.Evaluated, at.Format(dateLayout)); err != nil {
		return err
	}
	for _, res := range report.Reset {
		if err := r.writePlain("reset %s (%s): %d -> 1\n", res.Code, res.Mode, res.Previous); err != nil {
			return err
		}
	}
	for _, f := range report.Failed {
		if err := r.writePlain("FAILED %s: %v\n", f.Code, f.Err); err != nil {
			return err
		}
	}
	return runErr
}

func tokenCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Issue an API access token",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Required: true},
			&cli.BoolFlag{Name: "admin", Usage: "Grant every permission"},
			&cli.StringSliceFlag{Name: "perm", Usage: "Permission to grant, e.g. sequence:next (repeatable)"},
			&cli.DurationFlag{Name: "ttl", Usage: "Token lifetime (defaults to auth.token_ttl)"},
		},
		Action: r.Token,
	}
}

// Token prints a signed JWT.
func (r *Runner) Token(ctx context.Context, cmd *cli.Command) error {
	a, err := r.open(ctx, cmd)
	if err != nil {
		return err
	}
	if a.Config.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret (JWT_SECRET) is not set")
	}

	tok, expires, err := a.JWT.GenerateAccessToken(auth.TokenRequest{
		UserID:      cmd.String("user"),
		Permissions: cmd.StringSlice("perm"),
		IsAdmin:     cmd.Bool("admin"),
		TTL:         cmd.Duration("ttl"),
	})
	if err != nil {
		return err
	}
	a.Log.Debugw("issued token", "user_id", cmd.String("user"), "expires_at", expires)
	return r.writePlain("%s\n", tok)
}

func configCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Print the example configuration file",
		Action: func(_ context.Context, _ *cli.Command) error {
			_, err := r.output.Write(config.Example())
			return err
		},
	}
}
