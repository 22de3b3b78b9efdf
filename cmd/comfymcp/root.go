package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"comfymcp/internal/config"
	"comfymcp/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	comfyURL    string
	workflowDir string
}

// cfg is loaded once per invocation by the root pre-run hook.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "comfymcp",
	Short: "MCP tool server for ComfyUI image generation",
	Long: `comfymcp exposes a ComfyUI server as Model Context Protocol tools: it loads
API-format workflow graphs, injects prompts and dimensions, queues the jobs and
tracks them until their images are ready.

Settings come from built-in defaults, an optional YAML config file, COMFYUI_*
and COMFYMCP_* environment variables and finally command line flags.`,
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	PersistentPreRunE: loadConfig,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootFlags.configPath, "config", "", "Path to a YAML config file")
	pf.StringVar(&rootFlags.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&rootFlags.logFormat, "log-format", "", "Log format: text or json")
	pf.StringVar(&rootFlags.comfyURL, "comfyui-url", "", "ComfyUI base URL")
	pf.StringVar(&rootFlags.workflowDir, "workflow-dir", "", "Directory of API-format workflow definitions")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workflowsCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.Version = version
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	c, err := config.Load(rootFlags.configPath)
	if err != nil {
		return err
	}
	if err := c.ApplyEnv(os.LookupEnv); err != nil {
		return err
	}
	if rootFlags.logLevel != "" {
		c.Log.Level = rootFlags.logLevel
	}
	if rootFlags.logFormat != "" {
		c.Log.Format = rootFlags.logFormat
	}
	if rootFlags.comfyURL != "" {
		c.ComfyUI.URL = rootFlags.comfyURL
	}
	if rootFlags.workflowDir != "" {
		c.Workflows.Dir = rootFlags.workflowDir
	}
	if cmd.Flags().Changed("http-addr") {
		c.Server.HTTPAddr = serveFlags.httpAddr
	}
	if cmd.Flags().Changed("watch") {
		c.Workflows.Watch = serveFlags.watch
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	level, _ := logging.ParseLevel(c.Log.Level)
	logging.Init(level, c.Log.Format, cmd.ErrOrStderr())
	cfg = c
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
