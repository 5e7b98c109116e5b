package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nucleus/sprint-worklog/internal/adf"
	"github.com/nucleus/sprint-worklog/internal/connector/jira"
	"github.com/nucleus/sprint-worklog/internal/metadata"
	"github.com/nucleus/sprint-worklog/internal/timeutil"
	"github.com/nucleus/sprint-worklog/internal/worklog"
)

var (
	errInvalidPayload  = errors.New("invalid worklog update payload")
	errNegativeHours   = errors.New("hours must be 0 or greater")
	errNoPointsField   = errors.New("no story points field found on this Jira site")
	errDescriptionFlag = errors.New("pass exactly one of --html, --text or --file")
)

func (a *App) setCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <issue> <date|today> <hours>",
		Short: "Set your total hours on an issue for one day",
		Long: `Set your total hours on an issue for one day. The difference to what is
already logged is added as a single worklog at noon, or removed from your
newest worklogs of that day. Zero clears the day.`,
		Example: "  sprint-worklog set ENG-12 2024-01-03 2.5\n  sprint-worklog set ENG-12 today 0",
		Args:    cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			issueKey, dateKey := args[0], args[1]
			hours, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return fmt.Errorf("%w: hours %q", errInvalidPayload, args[2])
			}
			if hours < 0 {
				return errNegativeHours
			}
			if dateKey == "today" {
				user, err := a.meta.UserContext(ctx)
				if err != nil {
					return err
				}
				dateKey = timeutil.DateKey(timeNow(), user.Location)
			}

			res, err := a.recon.SetTargetHours(ctx, issueKey, dateKey, hours)
			if err != nil {
				if errors.Is(err, worklog.ErrConflict) {
					return fmt.Errorf("%w; reload and try again", err)
				}
				return err
			}
			out := cmd.OutOrStdout()
			if !res.Updated {
				fmt.Fprintf(out, "%s %s: already %s\n", issueKey, dateKey, formatHours(res.Seconds))
				return nil
			}
			fmt.Fprintf(out, "%s %s: %s\n", issueKey, dateKey, formatHours(res.Seconds))
			return nil
		},
	}
}

func (a *App) transitionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transitions <issue>",
		Short: "List the workflow transitions available on an issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			list, err := a.trans.Get(ctx, args[0])
			if err != nil {
				return err
			}
			if a.cfg.BoardID > 0 {
				order, err := a.meta.BoardStatusOrder(ctx, a.cfg.BoardID)
				if err != nil {
					return err
				}
				list = metadata.SortTransitions(list, order)
			}

			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintf(out, "No transitions available on %s.\n", args[0])
				return nil
			}
			p := newPalette(out)
			t := &table{header: []string{"ID", "Transition", "To"}}
			for _, tr := range list {
				t.add(tr.ID, tr.Name, p.status(tr.TargetName(), tr.To.Color()))
			}
			return t.render(out)
		},
	}
}

func (a *App) transitionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transition <issue> <transition-id>",
		Short: "Move an issue through a workflow transition",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			applied, err := a.trans.Apply(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s is now %s\n", args[0], newPalette(out).status(applied.Status, applied.StatusColor))
			return nil
		},
	}
}

func (a *App) summaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary <issue> <text>...",
		Short: "Rename an issue",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			summary := strings.TrimSpace(strings.Join(args[1:], " "))
			if summary == "" {
				return fmt.Errorf("summary is empty: %w", jira.ErrInvalidInput)
			}
			if err := a.jira.UpdateFields(cmd.Context(), args[0], map[string]any{"summary": summary}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s renamed\n", args[0])
			return nil
		},
	}
}

func (a *App) describeCmd() *cobra.Command {
	var htmlBody, text, file string
	cmd := &cobra.Command{
		Use:   "describe <issue>",
		Short: "Replace an issue description",
		Long: `Replace an issue description. HTML is sanitized and converted to the
Atlassian document format; plain text becomes paragraphs. --file reads
HTML from a file, or from stdin when the name is "-".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			set := 0
			for _, v := range []string{htmlBody, text, file} {
				if v != "" {
					set++
				}
			}
			if set != 1 {
				return errDescriptionFlag
			}

			var doc *adf.Node
			switch {
			case text != "":
				doc = adf.PlainText(text)
			default:
				if file != "" {
					data, err := readInput(cmd.InOrStdin(), file)
					if err != nil {
						return err
					}
					htmlBody = data
				}
				var err error
				doc, err = adf.FromHTML(htmlBody)
				if err != nil {
					return err
				}
			}

			if err := a.jira.UpdateFields(cmd.Context(), args[0], map[string]any{"description": doc}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s description updated\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&htmlBody, "html", "", "Description as HTML")
	cmd.Flags().StringVar(&text, "text", "", "Description as plain text")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read the HTML description from a file")
	return cmd
}

func readInput(stdin io.Reader, name string) (string, error) {
	if name == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return "", fmt.Errorf("read description: %w", err)
	}
	return string(data), nil
}

func (a *App) pointsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "points <issue> <value|none>",
		Short: "Set or clear the story points of an issue",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var value any
			if args[1] != "none" {
				points, err := strconv.ParseFloat(args[1], 64)
				if err != nil || points < 0 {
					return fmt.Errorf("story points %q: %w", args[1], jira.ErrInvalidInput)
				}
				value = points
			}

			fieldID, err := a.meta.StoryPointsFieldID(ctx)
			if err != nil {
				return err
			}
			if fieldID == "" {
				return errNoPointsField
			}
			if err := a.jira.UpdateFields(ctx, args[0], map[string]any{fieldID: value}); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if value == nil {
				fmt.Fprintf(out, "%s story points cleared\n", args[0])
				return nil
			}
			points := value.(float64)
			fmt.Fprintf(out, "%s story points: %s\n", args[0], formatPoints(&points))
			return nil
		},
	}
}

func (a *App) subtaskCmd() *cobra.Command {
	var issueType string
	cmd := &cobra.Command{
		Use:   "subtask <parent> <summary>...",
		Short: "Create a subtask under an issue",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			parent := args[0]
			summary := strings.TrimSpace(strings.Join(args[1:], " "))
			project := jira.ProjectKey(parent)
			if project == "" || summary == "" {
				return fmt.Errorf("subtask of %q: %w", parent, jira.ErrInvalidInput)
			}

			created, err := a.jira.CreateIssue(cmd.Context(), map[string]any{
				"project":   map[string]any{"key": project},
				"parent":    map[string]any{"key": parent},
				"issuetype": map[string]any{"name": issueType},
				"summary":   summary,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s under %s\n", created.Key, parent)
			return nil
		},
	}
	cmd.Flags().StringVar(&issueType, "type", "Subtask", "Issue type name of the subtask")
	return cmd
}
