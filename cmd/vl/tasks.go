package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"voltline/internal/domain"
	"voltline/internal/engine"
	"voltline/internal/repo"
)

func taskCmd() *cobra.Command {
	t := &cobra.Command{Use: "task", Short: "Manage work orders"}
	t.AddCommand(taskCreateCmd())
	t.AddCommand(taskListCmd())
	t.AddCommand(taskShowCmd())
	t.AddCommand(taskAssignCmd())
	t.AddCommand(taskAutoAssignCmd())
	t.AddCommand(taskCandidatesCmd())
	t.AddCommand(taskStartCmd())
	t.AddCommand(taskCompleteCmd())
	t.AddCommand(taskCancelCmd())
	t.AddCommand(taskFeedbackCmd())
	return t
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a work order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				t, err := e.CreateTask(ctx, actor, opts)
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Customer.Name, "customer", "", "customer name")
	cmd.Flags().StringVar(&opts.Customer.Address, "address", "", "site address")
	cmd.Flags().StringVar(&opts.Customer.Phone, "phone", "", "customer phone")
	cmd.Flags().StringVar(&opts.Priority, "priority", string(domain.PriorityMedium), "Low, Medium or High")
	cmd.Flags().StringVar(&opts.Schedule.Date, "date", "", "scheduled date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.Schedule.Start, "start", "", "window start (HH:MM)")
	cmd.Flags().StringVar(&opts.Schedule.End, "end", "", "window end (HH:MM)")
	cmd.Flags().Float64Var(&opts.Schedule.EstimatedHours, "hours", 0, "estimated hours")
	cmd.Flags().StringSliceVar(&opts.RequiredSkills, "skills", nil, "required skills")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func taskListCmd() *cobra.Command {
	var status, assignee, priority, from, to string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List work orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				f := repo.TaskFilter{AssigneeID: assignee, From: from, To: to, Limit: limit}
				for _, raw := range strings.Split(status, ",") {
					if strings.TrimSpace(raw) == "" {
						continue
					}
					s, ok := domain.ParseTaskStatus(raw)
					if !ok {
						return fmt.Errorf("invalid status %q", raw)
					}
					f.Status = append(f.Status, s)
				}
				if priority != "" {
					p, ok := domain.ParsePriority(priority)
					if !ok {
						return fmt.Errorf("invalid priority %q", priority)
					}
					f.Priority = p
				}
				tasks, err := e.ListTasks(ctx, actor, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Code", "ID", "Title", "Priority", "Status", "Assignee", "Date", "Window"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.Code, t.ID, t.Title, t.Priority, t.Status, deref(t.AssigneeID),
						t.Schedule.Date, t.Schedule.Start + "-" + t.Schedule.End})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "comma-separated statuses")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee worker id")
	cmd.Flags().StringVar(&priority, "priority", "", "priority")
	cmd.Flags().StringVar(&from, "from", "", "scheduled on or after (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "scheduled on or before (YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "limit", 100, "max results")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a work order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				t, err := e.GetTask(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
}

func taskAssignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assign <task-id> <worker-id>",
		Short: "Assign a pending work order",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				t, err := e.Assign(ctx, actor, args[0], args[1])
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
}

func taskAutoAssignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auto-assign <task-id>",
		Short: "Assign the best available electrician",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				t, err := e.AssignBestMatch(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
}

func taskCandidatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "candidates <task-id>",
		Short: "Rank available electricians for a work order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				cands, err := e.RankCandidates(ctx, actor, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cands)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"#", "Worker", "Name", "Skill overlap", "Rating", "Tasks today"})
				for i, c := range cands {
					tw.AppendRow(table.Row{i + 1, c.Worker.ID, c.Worker.Name, c.SkillOverlap,
						fmt.Sprintf("%.2f", c.AverageRating), c.TasksToday})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func taskStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <task-id>",
		Short: "Start an assigned work order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				t, err := e.StartTask(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
}

func taskCompleteCmd() *cobra.Command {
	var d engine.CompletionDetails
	cmd := &cobra.Command{
		Use:   "complete <task-id>",
		Short: "Complete an in-progress work order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				t, err := e.CompleteTask(ctx, actor, args[0], d)
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
	cmd.Flags().StringVar(&d.Notes, "notes", "", "completion notes")
	cmd.Flags().StringVar(&d.MaterialsUsed, "materials", "", "materials used")
	cmd.Flags().Float64Var(&d.AdditionalCharges, "charges", 0, "additional charges")
	_ = cmd.MarkFlagRequired("notes")
	return cmd
}

func taskCancelCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel an open work order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				t, err := e.CancelTask(ctx, actor, args[0], reason)
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "cancellation reason")
	return cmd
}

func taskFeedbackCmd() *cobra.Command {
	var rating int
	var comment string
	cmd := &cobra.Command{
		Use:   "feedback <task-id>",
		Short: "Record customer feedback on a completed work order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				t, err := e.AttachFeedback(ctx, actor, args[0], rating, comment)
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
	cmd.Flags().IntVar(&rating, "rating", 0, "rating 1-5")
	cmd.Flags().StringVar(&comment, "comment", "", "comment")
	_ = cmd.MarkFlagRequired("rating")
	return cmd
}

func printTask(t domain.WorkOrder) error {
	if viper.GetBool("json") {
		return printJSON(t)
	}
	fmt.Printf("%s  %s  [%s, %s]\n", t.Code, t.Title, t.Status, t.Priority)
	fmt.Printf("  id:        %s\n", t.ID)
	fmt.Printf("  customer:  %s, %s\n", t.Customer.Name, t.Customer.Address)
	fmt.Printf("  schedule:  %s %s-%s\n", t.Schedule.Date, t.Schedule.Start, t.Schedule.End)
	if t.AssigneeID != nil {
		fmt.Printf("  assignee:  %s\n", *t.AssigneeID)
	}
	if t.Actuals.CompletedAt != nil {
		fmt.Printf("  completed: %s (charges %.2f)\n", t.Actuals.CompletedAt.Format("2006-01-02 15:04"), t.Actuals.AdditionalCharges)
	}
	if t.Feedback != nil {
		fmt.Printf("  feedback:  %d/5 %s\n", t.Feedback.Rating, t.Feedback.Comment)
	}
	return nil
}

func issueCmd() *cobra.Command {
	is := &cobra.Command{Use: "issue", Short: "Escalate and resolve issues"}
	is.AddCommand(issueReportCmd())
	is.AddCommand(issueListCmd())
	is.AddCommand(issueUpdateCmd())
	return is
}

func issueReportCmd() *cobra.Command {
	var d engine.IssueDetails
	cmd := &cobra.Command{
		Use:   "report <task-id>",
		Short: "Report an issue on a work order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				is, err := e.ReportIssue(ctx, actor, args[0], d)
				if err != nil {
					return err
				}
				return printJSONOrTable(is)
			})
		},
	}
	cmd.Flags().StringVar(&d.Type, "type", string(domain.IssueOther), "access, materials, scope, safety or other")
	cmd.Flags().StringVar(&d.Description, "description", "", "what is blocking the work")
	cmd.Flags().StringVar(&d.RequestedAction, "action", "", "reschedule, assistance, manager or other")
	cmd.Flags().StringVar(&d.Priority, "priority", string(domain.IssueNormal), "normal, urgent or emergency")
	_ = cmd.MarkFlagRequired("description")
	return cmd
}

func issueListCmd() *cobra.Command {
	var status, priority, taskID string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List issues",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				f := repo.IssueFilter{
					Status:   domain.IssueStatus(strings.ToLower(status)),
					Priority: domain.IssuePriority(strings.ToLower(priority)),
					TaskID:   taskID,
					Limit:    limit,
				}
				items, err := e.ListIssues(ctx, actor, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Task", "Type", "Priority", "Status", "Reported by", "Description"})
				for _, is := range items {
					tw.AppendRow(table.Row{is.ID, is.TaskID, is.Type, is.Priority, is.Status, is.ReportedBy, is.Description})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "open, in_progress or resolved")
	cmd.Flags().StringVar(&priority, "priority", "", "normal, urgent or emergency")
	cmd.Flags().StringVar(&taskID, "task", "", "work order id")
	cmd.Flags().IntVar(&limit, "limit", 100, "max results")
	return cmd
}

func issueUpdateCmd() *cobra.Command {
	var status, notes string
	cmd := &cobra.Command{
		Use:   "update <issue-id>",
		Short: "Move an issue to in_progress or resolved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				is, err := e.UpdateIssueStatus(ctx, actor, args[0], domain.IssueStatus(strings.ToLower(status)), notes)
				if err != nil {
					return err
				}
				return printJSONOrTable(is)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", string(domain.IssueResolved), "target status")
	cmd.Flags().StringVar(&notes, "notes", "", "resolution notes")
	return cmd
}
