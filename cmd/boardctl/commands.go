package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"taskboard/board"
	"taskboard/config"
	"taskboard/domain"
	"taskboard/notify"
	"taskboard/remote"
	"taskboard/storage"
	"taskboard/syncer"
)

const requestTimeout = 30 * time.Second

// workspace is a board loaded from the task store for one command run.
type workspace struct {
	board   *board.Board
	engine  *board.Engine
	adapter *syncer.Adapter
}

func openBoard(cmd *cobra.Command, opts *globalOptions) (*workspace, error) {
	client := remote.New(opts.baseURL, &http.Client{Timeout: requestTimeout}, log.StandardLogger()).WithBearer(opts.token)
	b := board.New()
	adapter := syncer.New(syncer.Options{
		Store:     client,
		Directory: client,
		Notifier:  printNotifier{w: cmd.ErrOrStderr()},
		User:      opts.user,
	})
	if err := adapter.LoadAll(cmd.Context(), b); err != nil {
		return nil, err
	}
	return &workspace{board: b, engine: board.NewEngine(b, adapter), adapter: adapter}, nil
}

// printNotifier shows notifications on the terminal.
type printNotifier struct {
	w io.Writer
}

func (p printNotifier) Notify(_ context.Context, n notify.Notification) {
	fmt.Fprintf(p.w, "%s: %s\n", n.Level, n.Message)
}

func announce(w io.Writer, res board.Result) {
	if res.Announcement != "" {
		fmt.Fprintln(w, res.Announcement)
	}
}

func listCmd(opts *globalOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show the board grouped by column",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := openBoard(cmd, opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			view := w.board.View()
			if asJSON {
				data, err := sonic.ConfigStd.MarshalIndent(view, "", "  ")
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(out, string(data))
				return err
			}
			for _, col := range view.Columns {
				fmt.Fprintf(out, "%s (%d)\n", col.Title, len(col.Tasks))
				for _, t := range col.Tasks {
					fmt.Fprintf(out, "  %s  %s  @%s", t.ID, t.Title, t.Owner)
					if len(t.Assignees) > 0 {
						fmt.Fprintf(out, "  -> %s", strings.Join(t.Assignees, ", "))
					}
					if t.EndDate != nil {
						fmt.Fprintf(out, "  due %s", t.EndDate.Format(time.DateOnly))
					}
					fmt.Fprintln(out)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "Output as JSON")
	return cmd
}

type taskFlags struct {
	title       string
	description string
	status      string
	due         string
	assignees   []string
}

func (f *taskFlags) register(cmd *cobra.Command, withStatus bool) {
	cmd.Flags().StringVarP(&f.title, "title", "t", "", "Task title")
	cmd.Flags().StringVarP(&f.description, "description", "d", "", "Task description")
	cmd.Flags().StringVar(&f.due, "due", "", "End date (YYYY-MM-DD or RFC 3339)")
	cmd.Flags().StringSliceVarP(&f.assignees, "assignee", "a", nil, "Assigned username (repeatable)")
	if withStatus {
		cmd.Flags().StringVarP(&f.status, "status", "s", "", "Status: TODO, IN_PROGRESS or DONE")
	}
}

// apply overlays the flags the user set onto p.
func (f *taskFlags) apply(cmd *cobra.Command, p *domain.TaskPayload) error {
	changed := cmd.Flags().Changed
	if changed("title") {
		p.Title = f.title
	}
	if changed("description") {
		p.Description = f.description
	}
	if changed("assignee") {
		p.Assignees = f.assignees
	}
	if changed("status") {
		s := domain.Status(strings.ToUpper(f.status))
		if _, ok := domain.ColumnFor(s); !ok {
			return fmt.Errorf("unknown status %q", f.status)
		}
		p.Status = s
	}
	if changed("due") {
		if f.due == "" {
			p.EndDate = nil
			return nil
		}
		d, err := domain.ParseTimestamp(f.due)
		if err != nil {
			return fmt.Errorf("invalid --due: %w", err)
		}
		p.EndDate = &d
	}
	return nil
}

func createCmd(opts *globalOptions) *cobra.Command {
	flags := &taskFlags{}
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task in the To Do column",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var p domain.TaskPayload
			if err := flags.apply(cmd, &p); err != nil {
				return err
			}
			w, err := openBoard(cmd, opts)
			if err != nil {
				return err
			}
			task, err := w.adapter.CreateTask(cmd.Context(), w.board, p)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created task %s\n", task.ID)
			return nil
		},
	}
	flags.register(cmd, false)
	return cmd
}

func editCmd(opts *globalOptions) *cobra.Command {
	flags := &taskFlags{}
	cmd := &cobra.Command{
		Use:   "edit <task-id>",
		Short: "Change fields of a task, keeping the ones not given",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := openBoard(cmd, opts)
			if err != nil {
				return err
			}
			current, ok := w.board.Task(args[0])
			if !ok {
				return domain.ErrTaskNotFound
			}
			p := domain.TaskPayload{
				Title:       current.Title,
				Description: current.Description,
				EndDate:     current.EndDate,
				Status:      domain.StatusFor(current.ColumnID),
				Assignees:   current.Assignees,
			}
			if err := flags.apply(cmd, &p); err != nil {
				return err
			}
			task, err := w.adapter.EditTask(cmd.Context(), w.board, opts.user, current.ID, p)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated task %s\n", task.ID)
			return nil
		},
	}
	flags.register(cmd, true)
	return cmd
}

func moveCmd(opts *globalOptions) *cobra.Command {
	var before string
	cmd := &cobra.Command{
		Use:   "move <task-id> [column]",
		Short: "Drag a task onto a column or in front of another task",
		Long: `Runs a full drag gesture on the board: the task is picked up, moved over
the target and dropped. The resulting column is saved to the task store.

Columns: todo, in-progress, done.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (len(args) == 2) == (before != "") {
				return errors.New("give either a column or --before")
			}
			w, err := openBoard(cmd, opts)
			if err != nil {
				return err
			}
			id := args[0]
			if _, ok := w.board.Task(id); !ok {
				return domain.ErrTaskNotFound
			}

			var over domain.Subject
			if before != "" {
				if _, ok := w.board.Task(before); !ok {
					return fmt.Errorf("%w: %s", domain.ErrTaskNotFound, before)
				}
				over = w.board.Subject(domain.KindTask, before)
			} else {
				col := domain.ColumnID(args[1])
				if !col.Valid() {
					return fmt.Errorf("%w: %s", domain.ErrInvalidColumn, args[1])
				}
				over = w.board.Subject(domain.KindColumn, string(col))
			}

			out := cmd.OutOrStdout()
			announce(out, w.engine.Start(w.board.Subject(domain.KindTask, id)))
			announce(out, w.engine.Over(w.board.Subject(domain.KindTask, id), over))
			res := w.engine.End(w.board.Subject(domain.KindTask, id), &over)
			announce(out, res)
			if res.Persist != nil {
				if err := <-res.Persist; err != nil {
					return err
				}
			}
			task, _ := w.board.Task(id)
			fmt.Fprintf(out, "Task %s is in %s\n", id, task.ColumnID)
			return nil
		},
	}
	cmd.Flags().StringVar(&before, "before", "", "Drop in front of this task instead of onto a column")
	return cmd
}

func deleteCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <task-id>",
		Short: "Delete a task you own",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := openBoard(cmd, opts)
			if err != nil {
				return err
			}
			if err := w.adapter.DeleteTask(cmd.Context(), w.board, opts.user, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted task %s\n", args[0])
			return nil
		},
	}
}

func usernamesCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "usernames",
		Short: "List users that tasks can be assigned to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := remote.New(opts.baseURL, &http.Client{Timeout: requestTimeout}, log.StandardLogger()).WithBearer(opts.token)
			names, err := client.ListUsernames(cmd.Context())
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
}

func initStorageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-storage",
		Short: "Create the Azure tables and events queue used by the table store",
		Long: `Reads STORAGE_CONNECTION_STRING, TASKS_TABLE, USERS_TABLE and
TASK_EVENTS_QUEUE from the environment (or .env) and creates whatever is missing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.StorageConnectionString == "" {
				return errors.New("missing STORAGE_CONNECTION_STRING")
			}
			if err := storage.Provision(cmd.Context(), cfg.StorageConnectionString, cfg.TasksTable, cfg.UsersTable, cfg.TaskEventsQueue); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "storage ready")
			return nil
		},
	}
}
