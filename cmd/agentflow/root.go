package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/aristath/agentflow/internal/config"
	"github.com/aristath/agentflow/internal/events"
	"github.com/aristath/agentflow/internal/logging"
	"github.com/aristath/agentflow/internal/orchestrator"
	"github.com/aristath/agentflow/internal/process"
)

// app holds the state shared by every subcommand.
type app struct {
	cfgFile   string
	logLevel  string
	logFormat string
	yes       bool

	cfg         *config.Config
	logger      *slog.Logger
	globalPath  string
	projectPath string

	// answer replaces the interactive confirmation prompt when set.
	answer orchestrator.AnswerFunc
}

func newRootCmd() *cobra.Command {
	return (&app{}).rootCmd()
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "agentflow",
		Short: "Run LLM agents and agent workflows",
		Long: `agentflow sends requests to tool-using LLM agents and runs workflows of
agent tasks with dependencies, bounded concurrency, timeouts and retries.

Use "agentflow run orchestrator <request>" to let the planner split a
request across the configured agents.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.loadConfig(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "",
		"config file (default: .agentflow/config.json or $"+config.EnvConfigPath+")")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "",
		"log level (debug, info, warn, error); overrides the config file")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "",
		"log format (auto, text, json); overrides the config file")
	root.PersistentFlags().BoolVarP(&a.yes, "yes", "y", false,
		"approve every tool that asks for confirmation")

	root.AddCommand(
		a.runCmd(),
		a.workflowCmd(),
		a.agentsCmd(),
		a.toolsCmd(),
		a.configCmd(),
	)
	return root
}

func (a *app) resolvePaths() error {
	global, err := config.GlobalPath()
	if err != nil {
		return err
	}
	a.globalPath = global
	a.projectPath = config.ProjectPath()
	if a.cfgFile != "" {
		a.projectPath = a.cfgFile
	}
	return nil
}

func (a *app) loadConfig(cmd *cobra.Command) error {
	if err := a.resolvePaths(); err != nil {
		return err
	}
	cfg, err := config.Load(a.globalPath, a.projectPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	level, format := cfg.Logging.Level, cfg.Logging.Format
	if a.logLevel != "" {
		level = a.logLevel
	}
	if a.logFormat != "" {
		format = a.logFormat
	}
	a.logger = logging.New(logging.Config{Level: level, Format: format, Output: cmd.ErrOrStderr()})
	return nil
}

// openService builds the service for one command. The returned close
// function stops the confirmation channel; it is safe to call when err is
// non-nil.
func (a *app) openService(ctx context.Context, bus *events.EventBus, interactive bool) (*orchestrator.Service, func(), error) {
	pm := process.NewManager()
	qaCtx, cancel := context.WithCancel(ctx)
	watchdog := killOnCancel(ctx, qaCtx.Done(), pm, a.logger)

	qa := orchestrator.NewQAChannel(2*max(1, a.cfg.Workflows.MaxParallelTasks), a.answerFunc(interactive))
	qa.Start(qaCtx)

	closeFn := func() {
		cancel()
		qa.Stop()
		<-watchdog
	}

	svc, err := orchestrator.NewService(orchestrator.Options{
		Config:    a.cfg,
		Processes: pm,
		Confirmer: qa,
		Bus:       bus,
		Logger:    a.logger,
	})
	if err != nil {
		closeFn()
		return nil, func() {}, err
	}
	return svc, closeFn, nil
}

// killOnCancel kills every tracked subprocess if ctx is cancelled by a
// signal before release closes. The returned channel closes when the
// watcher exits.
func killOnCancel(ctx context.Context, release <-chan struct{}, pm *process.Manager, logger *slog.Logger) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case <-ctx.Done():
		case <-release:
			if ctx.Err() == nil {
				return
			}
		}
		if pm.Count() == 0 {
			return
		}
		logger.Warn("shutdown signal received, killing subprocesses", "count", pm.Count())
		if err := pm.KillAll(); err != nil {
			logger.Error("killing subprocesses", "error", err)
		}
	}()
	return done
}

var errNoTerminal = errors.New("confirmation needs an interactive terminal; pass --yes to approve tools")

func (a *app) answerFunc(interactive bool) orchestrator.AnswerFunc {
	switch {
	case a.answer != nil:
		return a.answer
	case a.yes:
		return func(context.Context, string, string) (string, error) { return "yes", nil }
	case !interactive || !term.IsTerminal(int(os.Stdin.Fd())):
		return func(context.Context, string, string) (string, error) { return "", errNoTerminal }
	default:
		return promptConfirm
	}
}

// promptConfirm asks on the terminal. The QA channel serializes callers.
func promptConfirm(ctx context.Context, from, question string) (string, error) {
	var ok bool
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(question).
			Description(fmt.Sprintf("Requested by %s", from)).
			Affirmative("Approve").
			Negative("Deny").
			Value(&ok),
	))
	if err := form.RunWithContext(ctx); err != nil {
		return "", err
	}
	if ok {
		return "yes", nil
	}
	return "no", nil
}
