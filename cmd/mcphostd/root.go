// Package main implements mcphostd, a standalone CLI host wiring the
// catalog/transport/session/registry/manager/installer components into
// one process. Shaped after genai-toolbox's cmd/root.go: a Command
// embedding *cobra.Command, flags bound directly into a config struct,
// and each verb as its own subcommand over a shared Manager.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mcphost/runtime/catalog"
	"github.com/mcphost/runtime/hostconfig"
	"github.com/mcphost/runtime/hostevents"
	"github.com/mcphost/runtime/hosttypes"
	"github.com/mcphost/runtime/installer"
	"github.com/mcphost/runtime/logx"
	"github.com/mcphost/runtime/manager"
	"github.com/mcphost/runtime/protocol"
	"github.com/mcphost/runtime/registry"
	"github.com/mcphost/runtime/runner"
	"github.com/mcphost/runtime/store"
)

// Command represents one invocation of the mcphostd CLI.
type Command struct {
	*cobra.Command

	configPath string
	dataDir    string

	log logx.Logger
	mgr *manager.Manager

	// runnerOverride lets tests swap in a runner.Fake before Execute runs
	// setup, avoiding real subprocess execution during install.
	runnerOverride runner.CommandRunner

	inStream  io.Reader
	outStream io.Writer
	errStream io.Writer
}

func main() {
	if err := NewCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// NewCommand builds the root mcphostd command and all of its subcommands.
func NewCommand() *Command {
	base := &cobra.Command{
		Use:           "mcphostd",
		Short:         "mcphostd manages the lifecycle of installed MCP servers",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd := &Command{
		Command:   base,
		inStream:  os.Stdin,
		outStream: os.Stdout,
		errStream: os.Stderr,
	}
	base.SetIn(cmd.inStream)
	base.SetOut(cmd.outStream)
	base.SetErr(cmd.errStream)

	flags := cmd.PersistentFlags()
	flags.StringVar(&cmd.configPath, "config", "", "Path to the mcphostd YAML config file (default: $HOME/.mcphostd/config.yaml)")
	flags.StringVar(&cmd.dataDir, "data-dir", "", "Directory mcphostd persists its registry and install cache under (default: $HOME/.mcphostd)")

	base.PersistentPreRunE = func(*cobra.Command, []string) error { return cmd.setup() }

	cmd.AddCommand(
		cmd.newInstallCommand(),
		cmd.newStartCommand(),
		cmd.newStopCommand(),
		cmd.newRestartCommand(),
		cmd.newUninstallCommand(),
		cmd.newListCommand(),
		cmd.newStatusCommand(),
		cmd.newHealthCommand(),
	)
	return cmd
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mcphostd"
	}
	return home + "/.mcphostd"
}

// setup loads config, wires the catalog/registry/event bus/installer, and
// constructs the shared Manager every subcommand operates against.
func (c *Command) setup() error {
	if c.dataDir == "" {
		c.dataDir = defaultDataDir()
	}
	if c.configPath == "" {
		c.configPath = c.dataDir + "/config.yaml"
	}

	cfg, err := hostconfig.Load(c.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.InstallRoot == "" {
		cfg.InstallRoot = c.dataDir + "/servers"
	}

	c.log = logx.NewLogger(cfg.LogLevel)

	kv, err := store.NewFileStore(c.dataDir)
	if err != nil {
		return fmt.Errorf("open data directory: %w", err)
	}

	bus := hostevents.New()
	reg, err := registry.New(kv, bus)
	if err != nil {
		return fmt.Errorf("load registry: %w", err)
	}
	cat := catalog.New()

	pipeline := installer.New(cfg.InstallRoot, kv)
	pipeline.Policy = installer.SourcePolicy{
		AllowedDomains:    cfg.Security.AllowedDomains,
		TrustedPublishers: cfg.Security.TrustedPublishers,
	}
	if c.runnerOverride != nil {
		pipeline.Run = c.runnerOverride
	}

	clientInfo := protocol.ClientInfo{Name: "mcphostd", Version: "dev"}
	c.mgr = manager.New(reg, bus, cat, clientInfo, pipeline)

	sub := bus.Subscribe(32, hostevents.DropOldest)
	go c.printEvents(sub.Events())

	return nil
}

func (c *Command) printEvents(events <-chan hosttypes.Event) {
	for evt := range events {
		fmt.Fprintf(c.outStream, "[event] %s %+v\n", evt.Kind, evt.Payload)
	}
}

func (c *Command) newInstallCommand() *cobra.Command {
	var autoStart, forceReinstall, allowHighRisk, autoRetry bool
	cmd := &cobra.Command{
		Use:   "install <url>",
		Short: "Install an MCP server from a git/npm/pip/tarball/local-file origin",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			rec, err := c.mgr.Install(context.Background(), args[0], installer.InstallOptions{
				AutoStart:      autoStart,
				ForceReinstall: forceReinstall,
				AllowHighRisk:  allowHighRisk,
				AutoRetry:      autoRetry,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(c.outStream, "installed %s (%s)\n", rec.ID, rec.Invocation.Command)
			return nil
		},
	}
	cmd.Flags().BoolVar(&autoStart, "auto-start", false, "Start the server immediately after installing it")
	cmd.Flags().BoolVar(&forceReinstall, "force", false, "Bypass the install cache")
	cmd.Flags().BoolVar(&allowHighRisk, "allow-high-risk", false, "Allow install to proceed despite high-risk security findings")
	cmd.Flags().BoolVar(&autoRetry, "retry", false, "Retry the install pipeline with exponential backoff on failure")
	return cmd
}

func (c *Command) newStartCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "start <id>",
		Short: "Start an installed server",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return c.mgr.Start(context.Background(), args[0])
		},
	}
}

func (c *Command) newStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <id>",
		Short: "Stop a running server",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return c.mgr.Stop(context.Background(), args[0])
		},
	}
}

func (c *Command) newRestartCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "restart <id>",
		Short: "Restart a server",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return c.mgr.Restart(context.Background(), args[0])
		},
	}
}

func (c *Command) newUninstallCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall <id>",
		Short: "Stop and remove an installed server",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return c.mgr.Uninstall(context.Background(), args[0])
		},
	}
}

func (c *Command) newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every installed server",
		RunE: func(*cobra.Command, []string) error {
			for _, rec := range c.mgr.List() {
				status, _ := c.mgr.Status(rec.ID)
				fmt.Fprintf(c.outStream, "%s\t%s\t%s\n", rec.ID, status.State, rec.InstallURL)
			}
			return nil
		},
	}
}

func (c *Command) newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <id>",
		Short: "Show a server's runtime status",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			status, ok := c.mgr.Status(args[0])
			if !ok {
				return fmt.Errorf("unknown server %q", args[0])
			}
			fmt.Fprintf(c.outStream, "state=%s pid=%d restarts=%d errors=%d\n", status.State, status.PID, status.RestartCount, status.ErrorCount)
			return nil
		},
	}
}

func (c *Command) newHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health <id>",
		Short: "Probe a running server with a tools/list call",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			healthy, err := c.mgr.Health(context.Background(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(c.outStream, "healthy=%v\n", healthy)
			return nil
		},
	}
}
