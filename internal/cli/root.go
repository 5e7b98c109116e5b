// Package cli implements the sprint-worklog command line.
package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/nucleus/sprint-worklog/internal/config"
	"github.com/nucleus/sprint-worklog/internal/connector/jira"
	"github.com/nucleus/sprint-worklog/internal/logging"
	"github.com/nucleus/sprint-worklog/internal/metadata"
	"github.com/nucleus/sprint-worklog/internal/sprint"
	"github.com/nucleus/sprint-worklog/internal/transitions"
	"github.com/nucleus/sprint-worklog/internal/worklog"
)

var timeNow = time.Now

// App holds the services shared by all commands. They are built once the
// flags are parsed.
type App struct {
	transport http.RoundTripper

	configPath string
	boardID    int
	verbose    bool

	cfg    *config.Config
	log    zerolog.Logger
	jira   *jira.Jira
	meta   *metadata.Store
	trans  *transitions.Cache
	agg    *sprint.Aggregator
	loader *sprint.Loader
	recon  *worklog.Reconciler
}

// Option customizes the App.
type Option func(*App)

// WithTransport routes Jira traffic through rt.
func WithTransport(rt http.RoundTripper) Option {
	return func(a *App) { a.transport = rt }
}

// NewRootCommand builds the command tree.
func NewRootCommand(opts ...Option) *cobra.Command {
	a := &App{}
	for _, opt := range opts {
		opt(a)
	}

	root := &cobra.Command{
		Use:   "sprint-worklog",
		Short: "Log and review your time on the active Jira sprint",
		Long: `sprint-worklog shows the active sprint of a Jira board as a grid of
issues and days, and sets the hours you logged on an issue for a day.

Credentials come from JIRA_BASE_URL, JIRA_EMAIL and JIRA_API_TOKEN, a .env
file, or a config file passed with --config.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	a.bindFlags(root.PersistentFlags())

	root.AddCommand(
		a.whoamiCmd(),
		a.sprintCmd(),
		a.worklogsCmd(),
		a.setCmd(),
		a.transitionsCmd(),
		a.transitionCmd(),
		a.summaryCmd(),
		a.describeCmd(),
		a.pointsCmd(),
		a.subtaskCmd(),
	)
	return root
}

func (a *App) bindFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&a.configPath, "config", "c", "", "Config file (.yaml, .yml, .json or .jsonc)")
	fs.IntVarP(&a.boardID, "board", "b", 0, "Jira board id (overrides JIRA_BOARD_ID)")
	fs.BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")
}

func (a *App) setup(cmd *cobra.Command, _ []string) error {
	if cmd.Name() == "help" || (cmd.HasParent() && cmd.Parent().Name() == "completion") {
		return nil
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.boardID > 0 {
		cfg.BoardID = a.boardID
	}
	if a.verbose {
		cfg.LogLevel = "debug"
	}
	a.cfg = cfg
	a.log = logging.NewWithWriter(cfg, cmd.ErrOrStderr())

	if err := cfg.Validate(); err != nil {
		return err
	}

	var jiraOpts []jira.Option
	if a.transport != nil {
		jiraOpts = append(jiraOpts, jira.WithTransport(a.transport))
	}
	client, err := jira.New(cfg.Jira(), a.log, jiraOpts...)
	if err != nil {
		return err
	}
	a.jira = client
	a.meta = metadata.NewStore(client, metadata.WithLogger(a.log))
	a.trans = transitions.NewCache(client,
		transitions.WithWorkers(cfg.PrefetchWorkers),
		transitions.WithLogger(a.log),
	)
	a.agg = sprint.NewAggregator(client, a.meta, a.log)
	a.loader = sprint.NewLoader(a.agg, a.meta, a.trans, a.log)
	a.recon = worklog.NewReconciler(client, a.meta, worklog.WithLogger(a.log))
	return nil
}

// Execute runs the CLI until completion or an interrupt.
func Execute(version string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand()
	root.Version = version
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func (a *App) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the Jira account and timezone in use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, err := a.meta.UserContext(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\nSite:     %s\nTimezone: %s\n",
				user.DisplayName, user.AccountID, a.jira.SiteURL(), user.TimeZone)
			return nil
		},
	}
}
