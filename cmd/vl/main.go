package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"voltline/internal/aggregate"
	"voltline/internal/app"
	"voltline/internal/db"
	"voltline/internal/domain"
	"voltline/internal/engine"
)

var rootCmd = &cobra.Command{
	Use:   "vl",
	Short: "Voltline CLI",
	Long: `Voltline dispatches electrical work orders to field electricians.
Core concepts:
- Workspace: a .voltline directory holding the SQLite database; company config is stored in the DB and imported explicitly.
- Work orders: pending -> assigned -> in_progress -> completed, with cancelled reachable from any open status.
- Assignment: managers pick an electrician or let 'vl task auto-assign' choose the best available match.
- Issues: electricians escalate obstructions; emergencies raise the work order's priority.
- Stats and reports: computed on demand from tasks, issues and workers.
- Activity feed: every change is recorded; view with 'vl feed list' or follow with 'vl watch'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "token" {
			return nil
		}
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	_ = godotenv.Load()
	viper.SetEnvPrefix("VOLTLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "admin", "actor identifier")
	rootCmd.PersistentFlags().String("actor-role", string(domain.RoleAdmin), "actor role (Admin, Manager, Electrician)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("actor-role", rootCmd.PersistentFlags().Lookup("actor-role"))
}

func registerCommands() {
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(issueCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(teamCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(feedCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(tokenCmd())
}

func statsCmd() *cobra.Command {
	var workerID string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show dashboard counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				var (
					s   aggregate.DashboardStats
					err error
				)
				if workerID != "" {
					s, err = e.WorkerStats(ctx, actor, workerID)
				} else {
					s, err = e.Stats(ctx, actor)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Metric", "Value"})
				tw.AppendRows([]table.Row{
					{"As of", s.AsOf},
					{"Today total", s.TodayTotal},
					{"Pending today", s.PendingToday},
					{"Assigned today", s.AssignedToday},
					{"In progress today", s.InProgressToday},
					{"Completed today", s.CompletedToday},
					{"Cancelled today", s.CancelledToday},
					{"Total tasks", s.TotalTasks},
					{"Completed this month", s.CompletedThisMonth},
					{"On-time rate", fmt.Sprintf("%.1f%%", s.OnTimeRate*100)},
					{"Average rating", fmt.Sprintf("%.2f (%d rated)", s.AvgRating, s.RatedTasks)},
					{"Charges this month", fmt.Sprintf("%.2f", s.ChargesThisMonth)},
				})
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&workerID, "worker", "", "worker id (per-electrician dashboard)")
	return cmd
}

func teamCmd() *cobra.Command {
	var start, end string
	cmd := &cobra.Command{
		Use:   "team",
		Short: "Summarise team workload for a period",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				from, to, err := parsePeriod(e, start, end)
				if err != nil {
					return err
				}
				ts, err := e.TeamSummary(ctx, actor, from, to)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(ts)
				}
				fmt.Printf("Electricians: %d  Handled: %d  Completed: %d  Completion: %.1f%%  Rating: %.2f\n",
					ts.TotalElectricians, ts.TotalTasksHandled, ts.TotalCompleted, ts.OverallCompletionRate*100, ts.AverageRating)
				tw := newTable()
				tw.AppendHeader(table.Row{"Worker", "Name", "Tasks"})
				for _, w := range ts.WorkloadDistribution {
					tw.AppendRow(table.Row{w.WorkerID, w.Name, w.Tasks})
				}
				tw.Render()
				return nil
			})
		},
	}
	addPeriodFlags(cmd, &start, &end)
	return cmd
}

func reportCmd() *cobra.Command {
	var typ, start, end string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate an on-demand report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				from, to, err := parsePeriod(e, start, end)
				if err != nil {
					return err
				}
				rep, err := e.GenerateReport(ctx, actor, typ, from, to)
				if err != nil {
					return err
				}
				return printJSON(rep)
			})
		},
	}
	cmd.Flags().StringVar(&typ, "type", string(domain.ReportTaskAnalytics), "report type")
	addPeriodFlags(cmd, &start, &end)
	return cmd
}

// --- helpers ---

func currentActor() (domain.Actor, error) {
	id := strings.TrimSpace(viper.GetString("actor-id"))
	if id == "" {
		return domain.Actor{}, fmt.Errorf("actor-id is required")
	}
	role, ok := domain.ParseRole(viper.GetString("actor-role"))
	if !ok {
		return domain.Actor{}, fmt.Errorf("invalid actor-role %q", viper.GetString("actor-role"))
	}
	return domain.Actor{ID: id, Role: role}, nil
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine, domain.Actor) error) error {
	actor, err := currentActor()
	if err != nil {
		return err
	}
	conn, e, err := app.Open(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, e, actor)
}

func addPeriodFlags(cmd *cobra.Command, start, end *string) {
	cmd.Flags().StringVar(start, "start", "", "period start (YYYY-MM-DD or RFC3339, default start of month)")
	cmd.Flags().StringVar(end, "end", "", "period end, exclusive (default now)")
}

func parsePeriod(e engine.Engine, rawStart, rawEnd string) (time.Time, time.Time, error) {
	loc, err := e.Config.Location()
	if err != nil {
		loc = time.UTC
	}
	now := e.Now()
	start := aggregate.Month(now, loc).Start
	end := now
	if strings.TrimSpace(rawStart) != "" {
		if start, err = parseInstant(rawStart, loc); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start %q", rawStart)
		}
	}
	if strings.TrimSpace(rawEnd) != "" {
		if end, err = parseInstant(rawEnd, loc); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end %q", rawEnd)
		}
	}
	return start, end, nil
}

func parseInstant(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if t, err := time.ParseInLocation(domain.DateLayout, v, loc); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, v)
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	return tw
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
