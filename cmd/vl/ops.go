package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"voltline/internal/app"
	"voltline/internal/config"
	"voltline/internal/domain"
	"voltline/internal/engine"
	"voltline/internal/refresh"
	"voltline/internal/server"
	voltlinesdk "voltline/sdk/go"
)

func workerCmd() *cobra.Command {
	w := &cobra.Command{Use: "worker", Short: "Manage the worker directory"}
	w.AddCommand(workerAddCmd())
	w.AddCommand(workerListCmd())
	w.AddCommand(workerPresenceCmd())
	return w
}

func workerAddCmd() *cobra.Command {
	var opts engine.WorkerOptions
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				w, err := e.RegisterWorker(ctx, actor, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "worker id (generated when empty)")
	cmd.Flags().StringVar(&opts.EmployeeCode, "code", "", "employee code")
	cmd.Flags().StringVar(&opts.Name, "name", "", "full name")
	cmd.Flags().StringVar(&opts.Role, "role", string(domain.RoleElectrician), "Admin, Manager or Electrician")
	cmd.Flags().StringVar(&opts.Email, "email", "", "email")
	cmd.Flags().StringVar(&opts.Phone, "phone", "", "phone")
	cmd.Flags().StringSliceVar(&opts.Skills, "skills", nil, "skills")
	cmd.Flags().StringVar(&opts.Certifications, "certifications", "", "certifications")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func workerListCmd() *cobra.Command {
	var role string
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workers with availability",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				var r domain.Role
				if role != "" {
					parsed, ok := domain.ParseRole(role)
					if !ok {
						return fmt.Errorf("invalid role %q", role)
					}
					r = parsed
				}
				items, err := e.Workers(ctx, actor, r, activeOnly)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Code", "Name", "Role", "Presence", "Availability", "Completed", "Rating"})
				for _, w := range items {
					completed, rating := "", ""
					if w.Performance != nil {
						completed = strconv.Itoa(w.Performance.TasksCompleted)
						rating = fmt.Sprintf("%.2f", w.Performance.AverageRating)
					}
					tw.AppendRow(table.Row{w.ID, w.EmployeeCode, w.Name, w.Role, w.Presence, w.Availability, completed, rating})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "filter by role")
	cmd.Flags().BoolVar(&activeOnly, "active-only", false, "hide deactivated workers")
	return cmd
}

func workerPresenceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presence <worker-id> <Online|Offline|Break>",
		Short: "Set a worker's presence",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				w, err := e.SetPresence(ctx, actor, args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Printf("%s is %s\n", w.Name, w.Presence)
				return nil
			})
		},
	}
}

func feedCmd() *cobra.Command {
	f := &cobra.Command{Use: "feed", Short: "Browse the activity feed"}
	f.AddCommand(feedListCmd())
	f.AddCommand(feedReadCmd())
	f.AddCommand(feedUnreadCmd())
	return f
}

func feedListCmd() *cobra.Command {
	var q engine.FeedQuery
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show recent activity, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				page, err := e.RecentActivity(ctx, actor, q)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(page)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Time", "Actor", "Verb", "Subject", "Read"})
				for _, evt := range page.Events {
					read := ""
					if evt.Read != nil && *evt.Read {
						read = "yes"
					}
					tw.AppendRow(table.Row{evt.ID, evt.TS.Format(time.RFC3339), evt.Actor, evt.Verb, evt.SubjectRef, read})
				}
				tw.Render()
				fmt.Printf("unread: %d", page.Unread)
				if page.NextCursor > 0 {
					fmt.Printf("  next: --before %d", page.NextCursor)
				}
				fmt.Println()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&q.Limit, "limit", 20, "max events")
	cmd.Flags().Int64Var(&q.Before, "before", 0, "exclusive event id cursor")
	cmd.Flags().StringVar(&q.SubjectRef, "subject", "", "task, issue or worker id")
	cmd.Flags().StringVar(&q.Verb, "verb", "", "event verb")
	return cmd
}

func feedReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <event-id>",
		Short: "Mark an event read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid event id %q", args[0])
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				return e.MarkRead(ctx, actor, id)
			})
		},
	}
}

func feedUnreadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unread",
		Short: "Count unread events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				n, err := e.UnreadCount(ctx, actor)
				if err != nil {
					return err
				}
				fmt.Println(n)
				return nil
			})
		},
	}
}

func configCmd() *cobra.Command {
	c := &cobra.Command{Use: "config", Short: "Manage company config"}
	c.AddCommand(configInitCmd())
	c.AddCommand(configShowCmd())
	c.AddCommand(configValidateCmd())
	c.AddCommand(configImportCmd())
	return c
}

func configInitCmd() *cobra.Command {
	var company string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default voltline.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(company)), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&company, "company", "Voltline Electrical", "company name")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the active config stored in the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				if viper.GetBool("json") {
					return printJSON(e.Config)
				}
				b, err := e.Config.ToYAML()
				if err != nil {
					return err
				}
				fmt.Print(string(b))
				return nil
			})
		},
	}
}

func configValidateCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				path = config.Path(viper.GetString("workspace"))
			}
			if _, err := config.FromFile(path); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "file", "", "config file (default <workspace>/voltline.yml)")
	return cmd
}

func configImportCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Store a config file in the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				path = config.Path(viper.GetString("workspace"))
			}
			cfg, err := config.FromFile(path)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				if err := e.ImportConfig(ctx, actor, cfg); err != nil {
					return err
				}
				fmt.Println("imported", path, "(takes effect on next start)")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&path, "file", "", "config file (default <workspace>/voltline.yml)")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowHeaders bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
			conn, e, err := app.Open(ctx, viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer conn.Close()
			e.Logger = logger.With("component", "engine")
			authCfg := server.AuthConfig{JWTSecret: viper.GetString("jwt-secret"), AllowActorHeaders: allowHeaders}
			if authCfg.JWTSecret == "" && !allowHeaders {
				return fmt.Errorf("VOLTLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg, Logger: logger})
			if err != nil {
				return err
			}
			go func() {
				if err := server.NewWebhookDispatcher(e, logger).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Warn("webhook dispatcher stopped", "error", err)
				}
			}()
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			fmt.Printf("Serving Voltline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens (env VOLTLINE_JWT_SECRET)")
	cmd.Flags().BoolVar(&allowHeaders, "allow-actor-headers", false, "trust X-Actor-Id/X-Actor-Role headers (development only)")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := currentActor()
			if err != nil {
				return err
			}
			tok, err := server.SignToken(viper.GetString("jwt-secret"), actor, ttl)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}

type feedLine struct {
	ID      int64
	TS      time.Time
	Actor   string
	Verb    string
	Subject string
}

func watchCmd() *cobra.Command {
	var remote, token string
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the activity feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			actor, err := currentActor()
			if err != nil {
				return err
			}
			var fetch func(context.Context) ([]feedLine, error)
			if remote != "" {
				client := voltlinesdk.New(remote)
				client.BearerToken = token
				client.ActorID, client.ActorRole = actor.ID, string(actor.Role)
				fetch = func(ctx context.Context) ([]feedLine, error) {
					page, err := client.Feed(ctx, 50, 0)
					if err != nil {
						return nil, err
					}
					lines := make([]feedLine, 0, len(page.Events))
					for _, evt := range page.Events {
						lines = append(lines, feedLine{evt.ID, evt.TS, evt.Actor, evt.Verb, evt.SubjectRef})
					}
					return lines, nil
				}
			} else {
				conn, e, err := app.Open(ctx, viper.GetString("workspace"))
				if err != nil {
					return err
				}
				defer conn.Close()
				fetch = func(ctx context.Context) ([]feedLine, error) {
					page, err := e.RecentActivity(ctx, actor, engine.FeedQuery{Limit: 50})
					if err != nil {
						return nil, err
					}
					lines := make([]feedLine, 0, len(page.Events))
					for _, evt := range page.Events {
						lines = append(lines, feedLine{evt.ID, evt.TS, evt.Actor, evt.Verb, evt.SubjectRef})
					}
					return lines, nil
				}
			}
			var last int64
			err = refresh.Poller{
				Interval: interval,
				Logger:   slog.Default().With("component", "watch"),
				Fetch: func(ctx context.Context) error {
					lines, err := fetch(ctx)
					if err != nil {
						return err
					}
					slices.Reverse(lines)
					for _, l := range lines {
						if l.ID <= last {
							continue
						}
						fmt.Printf("%6d  %s  %-12s %-20s %s\n", l.ID, l.TS.Local().Format("15:04:05"), l.Actor, l.Verb, l.Subject)
						last = l.ID
					}
					return nil
				},
			}.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&remote, "server", "", "API base URL (watch the local workspace when empty)")
	cmd.Flags().StringVar(&token, "token", "", "bearer token for --server")
	cmd.Flags().DurationVar(&interval, "interval", refresh.DefaultInterval, "poll interval")
	return cmd
}
