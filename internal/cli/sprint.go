package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nucleus/sprint-worklog/internal/sprint"
	"github.com/nucleus/sprint-worklog/internal/timeutil"
)

func (a *App) sprintCmd() *cobra.Command {
	var watch time.Duration
	cmd := &cobra.Command{
		Use:   "sprint",
		Short: "Show your time on the active sprint as an issue by day grid",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.cfg.RequireBoard(); err != nil {
				return err
			}
			if watch <= 0 {
				return a.showSprint(cmd.Context(), cmd.OutOrStdout())
			}
			return a.watchSprint(cmd.Context(), cmd.OutOrStdout(), watch)
		},
	}
	cmd.Flags().DurationVarP(&watch, "watch", "w", 0, "Reload the grid at this interval until interrupted")
	return cmd
}

func (a *App) showSprint(ctx context.Context, out io.Writer) error {
	grid, err := a.loader.Load(ctx, a.cfg.BoardID, &logSink{log: a.log})
	if err != nil {
		if sprint.IsNoActiveSprint(err) {
			fmt.Fprintln(out, "No active sprint found on this board.")
			return nil
		}
		return err
	}
	return renderGrid(out, grid)
}

// watchSprint reloads the grid until ctx is done. Cached metadata is
// dropped between loads so board and field changes show up.
func (a *App) watchSprint(ctx context.Context, out io.Writer, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		err := a.showSprint(ctx, out)
		if ctx.Err() != nil || deadlineWithin(ctx, every) {
			return nil
		}
		if err != nil && !errors.Is(err, sprint.ErrSuperseded) {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.meta.Invalidate()
		}
	}
}

// deadlineWithin reports whether ctx ends before another reload could run.
// The rate limiter fails early with its own error once a wait would cross
// the deadline, before ctx.Err is set.
func deadlineWithin(ctx context.Context, d time.Duration) bool {
	dl, ok := ctx.Deadline()
	return ok && time.Until(dl) < d
}

// logSink reports load progress to the debug log.
type logSink struct {
	log    zerolog.Logger
	loaded int
}

func (s *logSink) SprintLoaded(token sprint.LoadToken, grid *sprint.Grid) {
	s.log.Debug().Uint64("token", uint64(token)).Int("issues", len(grid.Issues)).Msg("sprint resolved")
}

func (s *logSink) IssueLoaded(_ sprint.LoadToken, issueKey string, days map[string]int) {
	s.loaded++
	s.log.Debug().Str("issue", issueKey).Int("days", len(days)).Int("loaded", s.loaded).Msg("issue worklogs loaded")
}

func (s *logSink) IssueFailed(_ sprint.LoadToken, issueKey string, err error) {
	s.log.Debug().Str("issue", issueKey).Err(err).Msg("issue worklogs unavailable")
}

func renderGrid(out io.Writer, grid *sprint.Grid) error {
	p := newPalette(out)
	s := grid.Sprint
	fmt.Fprintf(out, "%s  %s to %s  %s\n\n", p.bold(s.Name), s.StartKey, s.EndKey, p.faint(grid.User))

	if len(grid.Issues) == 0 {
		fmt.Fprintln(out, "No issues assigned to you in this sprint.")
		return nil
	}

	totals := grid.Totals()
	t := &table{right: map[int]bool{}}
	t.header = []string{"Key", "Status", "Summary"}
	for i, date := range grid.Dates {
		t.header = append(t.header, dayLabel(date))
		t.right[3+i] = true
	}
	t.header = append(t.header, "Total", "Points")
	t.right[3+len(grid.Dates)] = true
	t.right[4+len(grid.Dates)] = true

	for _, issue := range grid.Issues {
		key := issue.Key
		if issue.Subtask {
			key = "  " + key
		}
		row := []string{key, p.status(issue.Status, issue.StatusColor), truncate(issue.Summary, 40)}
		_, failed := grid.Failed[issue.Key]
		for _, date := range grid.Dates {
			switch seconds := grid.Days[issue.Key][date]; {
			case failed:
				row = append(row, "!")
			case seconds > 0:
				row = append(row, formatHours(seconds))
			default:
				row = append(row, "")
			}
		}
		row = append(row, formatHours(totals.PerIssue[issue.Key]), formatPoints(issue.Points))
		t.add(row...)
	}

	t.footer = []string{"", "", "Total"}
	for _, date := range grid.Dates {
		t.footer = append(t.footer, formatHours(totals.PerDay[date]))
	}
	points := &totals.Points
	if !hasPoints(grid.Issues) {
		points = nil
	}
	t.footer = append(t.footer, formatHours(totals.Seconds), formatPoints(points))

	if err := t.render(out); err != nil {
		return err
	}

	if len(grid.Failed) > 0 {
		keys := make([]string, 0, len(grid.Failed))
		for key := range grid.Failed {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		fmt.Fprintln(out)
		for _, key := range keys {
			fmt.Fprintf(out, "! %s: worklogs unavailable: %v\n", key, grid.Failed[key])
		}
	}
	return nil
}

func hasPoints(issues []*sprint.Issue) bool {
	for _, issue := range issues {
		if issue.Points != nil {
			return true
		}
	}
	return false
}

// dayLabel renders a date key as "Mon 01".
func dayLabel(dateKey string) string {
	t, err := timeutil.ParseDateKey(dateKey)
	if err != nil {
		return dateKey
	}
	return t.Format("Mon 02")
}

func (a *App) worklogsCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "worklogs <issue>",
		Short: "Show your time on an issue per day",
		Long: `Show your time on an issue per day. Without --from and --to the range
is the active sprint of the configured board.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if from == "" || to == "" {
				if err := a.cfg.RequireBoard(); err != nil {
					return fmt.Errorf("%w, or pass --from and --to", err)
				}
				s, err := a.agg.ActiveSprint(ctx, a.cfg.BoardID)
				if err != nil {
					return err
				}
				if from == "" {
					from = s.StartKey
				}
				if to == "" {
					to = s.EndKey
				}
			}
			days, err := a.agg.IssueWorklogs(ctx, args[0], from, to)
			if err != nil {
				return err
			}
			return renderDays(cmd.OutOrStdout(), args[0], days)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "First day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "Last day (YYYY-MM-DD)")
	return cmd
}

func renderDays(out io.Writer, issueKey string, days map[string]int) error {
	if len(days) == 0 {
		fmt.Fprintf(out, "No time logged by you on %s in this range.\n", issueKey)
		return nil
	}
	dates := make([]string, 0, len(days))
	total := 0
	for date, seconds := range days {
		dates = append(dates, date)
		total += seconds
	}
	sort.Strings(dates)

	t := &table{right: map[int]bool{1: true}}
	for _, date := range dates {
		t.add(date, formatHours(days[date]))
	}
	t.footer = []string{"Total", formatHours(total)}
	return t.render(out)
}
