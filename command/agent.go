// Package command holds the CLI commands for stppd.
package command

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"

	"github.com/mediatree/stpp/agent"
	"github.com/mediatree/stpp/agent/config"
)

// AgentCommand runs the stppd agent until signalled.
type AgentCommand struct {
	Ui cli.Ui
}

func (c *AgentCommand) Run(args []string) int {
	var (
		configFile string
		bindAddr   string
		port       int
		logLevel   string
	)
	flags := flag.NewFlagSet("agent", flag.ContinueOnError)
	flags.Usage = func() { c.Ui.Output(c.Help()) }
	flags.StringVar(&configFile, "config", "", "Path to an HCL config file")
	flags.StringVar(&bindAddr, "bind", "", "Bind address (overrides config)")
	flags.IntVar(&port, "port", 0, "HTTP port (overrides config)")
	flags.StringVar(&logLevel, "log-level", "", "Log level (overrides config)")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	cfg := config.DefaultConfig()
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			c.Ui.Error(fmt.Sprintf("Error loading config: %s", err))
			return 1
		}
		cfg = loaded
	}
	if bindAddr != "" {
		cfg.BindAddr = bindAddr
	}
	if port != 0 {
		cfg.Port = port
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "stppd",
		Level: hclog.LevelFromString(cfg.LogLevel),
	})

	a, err := agent.New(cfg, logger)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error starting agent: %s", err))
		return 1
	}
	if err := a.Start(); err != nil {
		c.Ui.Error(fmt.Sprintf("Error starting agent: %s", err))
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("caught signal, shutting down", "signal", sig.String())

	if err := a.Shutdown(); err != nil {
		c.Ui.Error(fmt.Sprintf("Error during shutdown: %s", err))
		return 1
	}
	return 0
}

func (c *AgentCommand) Synopsis() string {
	return "Runs the STPP agent"
}

func (c *AgentCommand) Help() string {
	helpText := `
Usage: stppd agent [options]

  Starts the STPP agent: the WebSocket endpoint remote UI clients connect
  to at /api/stpp.

Options:

  -config=path     Path to an HCL configuration file.
  -bind=addr       Address to bind the HTTP server to.
  -port=port       Port for the HTTP server.
  -log-level=info  Log verbosity.
`
	return strings.TrimSpace(helpText)
}
