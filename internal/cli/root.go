// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jeranaias/agrochat/internal/app"
	"github.com/jeranaias/agrochat/internal/config"
	"github.com/jeranaias/agrochat/internal/logger"
	"github.com/jeranaias/agrochat/internal/ui/chat"
	"github.com/jeranaias/agrochat/internal/ui/styles"
)

// Version is set at build time with -ldflags "-X ...cli.Version=...".
var Version = "dev"

// Options holds the global flags.
type Options struct {
	ConfigPath string
	BackendURL string
	Storage    string
	LogLevel   string
	JSON       bool
}

// App is the command line application. Config and the wired components
// are loaded on first use so that commands like version never touch disk.
type App struct {
	Options Options

	cfg     *config.Config
	app     *app.App
	printer *replyPrinter
}

// NewApp creates the CLI application.
func NewApp() *App {
	return &App{}
}

// CreateRootCommand builds the command tree.
func (a *App) CreateRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "agrochat",
		Short: "Terminal client for the agricultural assistant",
		Long: `agrochat talks to the agricultural assistant backend. Run it without a
subcommand to open the chat interface.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.configureLogging(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runTUI(cmd.Context())
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.Options.ConfigPath, "config", "", "Config file (default ~/.agrochat/config.toml)")
	flags.StringVar(&a.Options.BackendURL, "backend", "", "Backend URL (overrides backend.url)")
	flags.StringVar(&a.Options.Storage, "storage", "", "Storage backend: file or sqlite")
	flags.StringVar(&a.Options.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.BoolVar(&a.Options.JSON, "json", false, "Machine-readable output")

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return NewUsageError(err.Error(), "")
	})

	a.addAuthCommands(rootCmd)
	a.addAskCommand(rootCmd)
	a.addChatCommand(rootCmd)
	a.addConversationCommands(rootCmd)
	a.addProfileCommands(rootCmd)
	a.addStatusCommand(rootCmd)
	a.addConfigCommands(rootCmd)
	a.addDevServerCommand(rootCmd)
	a.addVersionCommand(rootCmd)

	return rootCmd
}

// =============================================================================
// ENTRY POINTS
// =============================================================================

// Execute runs the CLI with the process arguments and returns the exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return Run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
}

// Run executes one command line against the given streams.
func Run(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) int {
	a := NewApp()
	defer a.Close()

	root := a.CreateRootCommand()
	root.SetArgs(args)
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}
	if a.Options.JSON {
		DisplayError(out, err, true)
	} else {
		DisplayError(errOut, err, false)
	}
	return ExitCode(err)
}

// Close releases the wired components.
func (a *App) Close() {
	if a.app != nil {
		a.app.Close()
		a.app = nil
	}
}

// =============================================================================
// LAZY LOADING
// =============================================================================

func (a *App) configPath() (string, error) {
	if a.Options.ConfigPath != "" {
		return a.Options.ConfigPath, nil
	}
	return config.Path()
}

// Config loads the configuration once, applying flag overrides.
func (a *App) Config() (*config.Config, error) {
	if a.cfg != nil {
		return a.cfg, nil
	}
	path, err := a.configPath()
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadFrom(path)
	if err != nil {
		return nil, err
	}

	if a.Options.BackendURL != "" {
		cfg.Backend.URL = a.Options.BackendURL
	}
	if a.Options.Storage != "" {
		cfg.Storage.Backend = a.Options.Storage
	}
	if a.Options.LogLevel != "" {
		cfg.Log.Level = a.Options.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}
	a.cfg = cfg
	return cfg, nil
}

// Open wires storage, client, session and book once.
func (a *App) Open() (*app.App, error) {
	if a.app != nil {
		return a.app, nil
	}
	cfg, err := a.Config()
	if err != nil {
		return nil, err
	}
	wired, err := app.New(cfg)
	if err != nil {
		return nil, err
	}
	a.app = wired
	return wired, nil
}

// configureLogging sends logs to the configured file. The chat interface
// defaults to ~/.agrochat/agrochat.log so log lines never paint over it.
func (a *App) configureLogging(cmd *cobra.Command) error {
	if !needsConfig(cmd) {
		return nil
	}
	cfg, err := a.Config()
	if err != nil {
		return err
	}
	file := cfg.Log.File
	if file == "" && !cmd.HasParent() {
		dir, err := config.Dir()
		if err != nil {
			return err
		}
		file = filepath.Join(dir, "agrochat.log")
	}
	return logger.Configure(cfg.Log.Level, file)
}

// needsConfig is false for commands that must work with a broken config.
func needsConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "version", "config":
			return false
		}
	}
	return true
}

// =============================================================================
// CHAT INTERFACE
// =============================================================================

func (a *App) runTUI(ctx context.Context) error {
	if err := RequiresTTY("the chat interface"); err != nil {
		return NewUsageError(err.Error(), "agrochat ask \"¿Cuándo siembro maíz?\"")
	}
	wired, err := a.Open()
	if err != nil {
		return err
	}
	theme := styles.NewTheme(wired.Config.UI.Theme)
	return chat.Run(ctx, wired, chat.New(wired, theme))
}

// =============================================================================
// OUTPUT HELPERS
// =============================================================================

// emit prints data as a JSON envelope in --json mode, otherwise runs human.
func (a *App) emit(cmd *cobra.Command, data interface{}, human func(w io.Writer)) error {
	if a.Options.JSON {
		return NewJSONResponse(cmd.CommandPath(), data).Print(cmd.OutOrStdout())
	}
	human(cmd.OutOrStdout())
	return nil
}

// exactArgs is cobra.ExactArgs with a usage error and an example.
func exactArgs(n int, example string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return NewUsageError(fmt.Sprintf("%s expects %d argument(s), got %d", cmd.CommandPath(), n, len(args)), example)
		}
		return nil
	}
}

// minArgs is cobra.MinimumNArgs with a usage error and an example.
func minArgs(n int, example string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) < n {
			return NewUsageError(fmt.Sprintf("%s expects at least %d argument(s)", cmd.CommandPath(), n), example)
		}
		return nil
	}
}
