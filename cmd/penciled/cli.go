package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"

	"github.com/penciled/penciled/internal/errors"
	"github.com/penciled/penciled/internal/event"
	"github.com/penciled/penciled/internal/input"
	"github.com/penciled/penciled/internal/ops"
	"github.com/penciled/penciled/internal/web"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(d ops.Deps) *cli.App {
	app := &cli.App{
		Name:    "penciled",
		Usage:   "Turn notes, flyers, and voicemails into calendar events",
		Version: Version,
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "verbose", Usage: "Log debug detail to stderr"},
		},
		Before: func(c *cli.Context) error {
			if c.Bool("verbose") {
				slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
			}
			return nil
		},
		Commands: []*cli.Command{
			submitCmd(d),
			sessionsCmd(d),
			eventsCmd(d),
			syncCmd(d),
			batchEditCmd(d),
			migrateCmd(d),
			exportCmd(d),
			inventoryCmd(d),
			adminCmd(d),
			serveCmd(d),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// submitCmd creates the submit command.
func submitCmd(d ops.Deps) *cli.Command {
	return &cli.Command{
		Name:      "submit",
		Usage:     "Submit an input for event extraction (text as argument or stdin)",
		ArgsUsage: "[text]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "kind", Aliases: []string{"k"}, Value: "text", Usage: "Input kind: text|image|audio|document|email|link"},
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "Read the input from a file"},
			&cli.StringFlag{Name: "mime", Usage: "MIME type override for --file"},
			&cli.StringFlag{Name: "hint", Usage: "Free-text hint carried into extraction"},
			&cli.StringFlag{Name: "owner", Usage: "Session owner (defaults to configured owner)"},
			&cli.BoolFlag{Name: "guest", Usage: "Create an anonymous trial session"},
			&cli.BoolFlag{Name: "wait", Aliases: []string{"w"}, Usage: "Block until processing settles"},
		},
		Action: func(c *cli.Context) error {
			kind, err := input.ParseKind(c.String("kind"))
			if err != nil {
				return outputError(errors.NewValidation(err.Error()))
			}

			var in input.Input
			if file := c.String("file"); file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return outputError(errors.NewValidation(fmt.Sprintf("cannot read %s: %v", file, err)))
				}
				switch kind {
				case input.KindText:
					in = input.NewText(string(data))
				case input.KindEmail:
					in = input.NewEmail(string(data))
				case input.KindLink:
					in = input.NewLink(strings.TrimSpace(string(data)))
				default:
					mimeType := c.String("mime")
					if mimeType == "" {
						mimeType = mime.TypeByExtension(filepath.Ext(file))
					}
					in = input.NewFile(kind, filepath.Base(file), mimeType, data)
				}
			} else {
				switch kind {
				case input.KindImage, input.KindAudio, input.KindDocument:
					return outputError(errors.NewValidation(fmt.Sprintf("kind %q requires --file", kind)))
				}

				text := strings.Join(c.Args().Slice(), " ")
				if text == "" && stdinHasData() {
					text, err = readStdin(d.Config.MaxInputBytes)
					if err != nil {
						return outputError(errors.NewValidation(err.Error()))
					}
				}
				if text == "" {
					return outputError(errors.NewValidation("provide text as an argument, via stdin, or with --file"))
				}

				switch kind {
				case input.KindLink:
					in = input.NewLink(text)
				case input.KindEmail:
					in = input.NewEmail(text)
				default:
					in = input.NewText(text)
				}
			}
			in.Hint = c.String("hint")

			output, err := ops.CreateSession(c.Context, d, ops.CreateSessionInput{
				Input: in,
				Owner: c.String("owner"),
				Guest: c.Bool("guest"),
				Wait:  c.Bool("wait"),
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// sessionsCmd creates the sessions command group.
func sessionsCmd(d ops.Deps) *cli.Command {
	return &cli.Command{
		Name:  "sessions",
		Usage: "Inspect extraction sessions",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List an owner's sessions, most recently updated first",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "owner", Usage: "Owner to list (defaults to configured owner)"},
					&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 20, Usage: "Maximum items to return"},
					&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Value: 0, Usage: "Items to skip"},
				},
				Action: func(c *cli.Context) error {
					output, err := ops.ListSessions(d, ops.ListSessionsInput{
						Owner:  c.String("owner"),
						Limit:  c.Int("limit"),
						Offset: c.Int("offset"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "show",
				Usage:     "Show one session",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "token", Usage: "Guest access token"},
					&cli.BoolFlag{Name: "stages", Usage: "Include the stage audit trail"},
				},
				Action: func(c *cli.Context) error {
					output, err := ops.GetSession(d, ops.GetSessionInput{
						ID:            c.Args().First(),
						Token:         c.String("token"),
						IncludeStages: c.Bool("stages"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "events",
				Usage:     "List a session's events in slot order",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "token", Usage: "Guest access token"},
				},
				Action: func(c *cli.Context) error {
					output, err := ops.SessionEvents(d, ops.SessionEventsInput{
						ID:    c.Args().First(),
						Token: c.String("token"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
		},
	}
}

// eventsCmd creates the events command group.
func eventsCmd(d ops.Deps) *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "Edit, delete, and sync individual events",
		Subcommands: []*cli.Command{
			{
				Name:      "update",
				Usage:     "Patch one event's fields",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "token", Usage: "Guest access token"},
					&cli.StringFlag{Name: "summary", Usage: "New summary"},
					&cli.StringFlag{Name: "start", Usage: "New start: YYYY-MM-DD or \"YYYY-MM-DD HH:MM\""},
					&cli.StringFlag{Name: "end", Usage: "New end: YYYY-MM-DD or \"YYYY-MM-DD HH:MM\""},
					&cli.StringFlag{Name: "time-zone", Usage: "IANA zone for --start/--end"},
					&cli.BoolFlag{Name: "all-day", Usage: "Mark the event all-day (or not, with --all-day=false)"},
					&cli.StringFlag{Name: "location", Usage: "New location (empty clears)"},
					&cli.StringFlag{Name: "description", Usage: "New description (empty clears)"},
					&cli.StringFlag{Name: "recurrence", Usage: "New RRULE (empty clears)"},
					&cli.StringFlag{Name: "calendar", Usage: "Target calendar id"},
				},
				Action: func(c *cli.Context) error {
					patch, err := patchFromFlags(c)
					if err != nil {
						return outputError(errors.NewValidation(err.Error()))
					}

					output, err := ops.UpdateEvent(d, ops.UpdateEventInput{
						ID:    c.Args().First(),
						Token: c.String("token"),
						Patch: patch,
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete one event",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "token", Usage: "Guest access token"},
				},
				Action: func(c *cli.Context) error {
					output, err := ops.DeleteEvent(d, ops.DeleteEventInput{
						ID:    c.Args().First(),
						Token: c.String("token"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "sync",
				Usage:     "Push one event to its calendar",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "token", Usage: "Guest access token"},
					&cli.StringFlag{Name: "provider", Usage: "Calendar override for this push"},
				},
				Action: func(c *cli.Context) error {
					output, err := ops.SyncEvent(c.Context, d, ops.SyncEventInput{
						ID:       c.Args().First(),
						Token:    c.String("token"),
						Provider: c.String("provider"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
		},
	}
}

// syncCmd creates the session-level sync command.
func syncCmd(d ops.Deps) *cli.Command {
	return &cli.Command{
		Name:      "sync",
		Usage:     "Push a session's events to their calendars",
		ArgsUsage: "<session-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "events", Usage: "Comma-separated event ids to push instead of the whole session"},
			&cli.StringFlag{Name: "token", Usage: "Guest access token"},
			&cli.StringFlag{Name: "provider", Usage: "Calendar override for this push"},
		},
		Action: func(c *cli.Context) error {
			in := ops.SyncSessionInput{
				Token:    c.String("token"),
				Provider: c.String("provider"),
			}
			if ids := parseIDs(c.String("events")); len(ids) > 0 {
				in.EventIDs = ids
			} else {
				in.SessionID = c.Args().First()
			}

			output, err := ops.SyncSession(c.Context, d, in)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// batchEditCmd creates the batch-edit command.
func batchEditCmd(d ops.Deps) *cli.Command {
	return &cli.Command{
		Name:      "batch-edit",
		Usage:     "Apply a natural-language instruction across events",
		ArgsUsage: "<instruction>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "session", Aliases: []string{"s"}, Usage: "Apply across this session's events"},
			&cli.StringFlag{Name: "events", Usage: "Comma-separated event ids to apply across"},
			&cli.StringFlag{Name: "token", Usage: "Guest access token"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.BatchEdit(c.Context, d, ops.BatchEditInput{
				SessionID:   c.String("session"),
				EventIDs:    parseIDs(c.String("events")),
				Token:       c.String("token"),
				Instruction: strings.Join(c.Args().Slice(), " "),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// migrateCmd creates the migrate command.
func migrateCmd(d ops.Deps) *cli.Command {
	return &cli.Command{
		Name:      "migrate",
		Usage:     "Adopt guest sessions into an account",
		ArgsUsage: "<session-id>...",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Required: true, Usage: "Account owner adopting the sessions"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.MigrateGuestSessions(d, ops.MigrateGuestSessionsInput{
				UserID:     c.String("user"),
				SessionIDs: c.Args().Slice(),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// exportCmd creates the export command.
func exportCmd(d ops.Deps) *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "Write a session's events to an .ics file",
		ArgsUsage: "<session-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "Export file path (default: ~/.penciled/exports/<session>-<timestamp>.ics)"},
			&cli.StringFlag{Name: "time-zone", Usage: "Zone for events without one of their own"},
			&cli.StringFlag{Name: "token", Usage: "Guest access token"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Export(d, ops.ExportInput{
				SessionID: c.Args().First(),
				Token:     c.String("token"),
				Path:      c.String("path"),
				TimeZone:  c.String("time-zone"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// inventoryCmd creates the inventory command.
func inventoryCmd(d ops.Deps) *cli.Command {
	return &cli.Command{
		Name:  "inventory",
		Usage: "Summarize the store: sessions by status, events, guest cap, calendars",
		Action: func(_ *cli.Context) error {
			output, err := ops.Inventory(d)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// adminCmd creates the admin command group.
func adminCmd(d ops.Deps) *cli.Command {
	return &cli.Command{
		Name:  "admin",
		Usage: "Maintenance operations",
		Subcommands: []*cli.Command{
			{
				Name:  "reap",
				Usage: "Apply the retention policy once: discard expired transient sessions, fail stuck ones",
				Action: func(_ *cli.Context) error {
					output, err := ops.Reap(d, ops.ReapInput{})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
		},
	}
}

// serveCmd creates the serve command: the HTTP API plus the cron janitor.
func serveCmd(d ops.Deps) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API with the retention janitor",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Aliases: []string{"a"}, Usage: "Listen address (default from config)"},
		},
		Action: func(c *cli.Context) error {
			if !c.Bool("verbose") {
				slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
			}

			janitor := cron.New()
			_, err := janitor.AddFunc(d.Config.SweepSchedule, func() {
				out, err := ops.Reap(d, ops.ReapInput{})
				if err != nil {
					fmt.Fprintf(os.Stderr, "janitor: reap failed: %v\n", err)
					return
				}
				if len(out.Reaped)+len(out.Swept) > 0 {
					fmt.Fprintf(os.Stderr, "janitor: reaped %d transient, swept %d stuck\n",
						len(out.Reaped), len(out.Swept))
				}
			})
			if err != nil {
				return outputError(errors.NewValidation(fmt.Sprintf("invalid sweep schedule %q: %v", d.Config.SweepSchedule, err)))
			}
			janitor.Start()
			defer janitor.Stop()

			return web.Run(web.NewServer(d, Version, c.String("addr")))
		},
	}
}

// Helper functions

// patchFromFlags builds an event patch from set flags only, so unset
// fields keep their stored values.
func patchFromFlags(c *cli.Context) (event.Patch, error) {
	var patch event.Patch

	if c.IsSet("summary") {
		s := c.String("summary")
		patch.Summary = &s
	}
	if c.IsSet("start") {
		dt, err := parseDateTime(c.String("start"))
		if err != nil {
			return event.Patch{}, err
		}
		dt.TimeZone = c.String("time-zone")
		patch.Start = &dt
	}
	if c.IsSet("end") {
		dt, err := parseDateTime(c.String("end"))
		if err != nil {
			return event.Patch{}, err
		}
		dt.TimeZone = c.String("time-zone")
		patch.End = &dt
	}
	if c.IsSet("all-day") {
		b := c.Bool("all-day")
		patch.AllDay = &b
	}
	if c.IsSet("location") {
		s := c.String("location")
		patch.Location = &s
	}
	if c.IsSet("description") {
		s := c.String("description")
		patch.Description = &s
	}
	if c.IsSet("recurrence") {
		s := c.String("recurrence")
		patch.Recurrence = &s
	}
	if c.IsSet("calendar") {
		s := c.String("calendar")
		patch.CalendarID = &s
	}

	return patch, nil
}

// parseDateTime parses "YYYY-MM-DD" or "YYYY-MM-DD HH:MM".
func parseDateTime(s string) (event.DateTime, error) {
	s = strings.TrimSpace(s)
	if date, clock, ok := strings.Cut(s, " "); ok {
		if _, err := time.Parse("2006-01-02", date); err != nil {
			return event.DateTime{}, fmt.Errorf("invalid date in %q", s)
		}
		if _, err := time.Parse("15:04", clock); err != nil {
			return event.DateTime{}, fmt.Errorf("invalid time in %q", s)
		}
		return event.DateTime{Date: date, Time: clock}, nil
	}
	if _, err := time.Parse("2006-01-02", s); err != nil {
		return event.DateTime{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD or \"YYYY-MM-DD HH:MM\"", s)
	}
	return event.DateTime{Date: s}, nil
}

// parseIDs splits a comma-separated id list.
func parseIDs(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		id := strings.TrimSpace(p)
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	var penErr *errors.PenciledError
	if stderrors.As(err, &penErr) {
		return cli.Exit(fmt.Sprintf("[%s] %s", penErr.Code, penErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads stdin up to limit bytes.
func readStdin(limit int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(os.Stdin, limit+1))
	if err != nil {
		return "", err
	}
	if int64(len(data)) > limit {
		return "", fmt.Errorf("stdin input exceeds %d bytes", limit)
	}
	return strings.TrimSpace(string(data)), nil
}
