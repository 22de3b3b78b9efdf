// Package config loads server settings: built-in defaults, then an optional
// YAML (or JSON) file, then environment variables. Command line flags are
// applied last by the caller.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"comfymcp/internal/ledger"
	"comfymcp/internal/logging"
	"comfymcp/internal/workflow"
)

// Config is the full server configuration.
type Config struct {
	ComfyUI   ComfyUI   `yaml:"comfyui"`
	Workflows Workflows `yaml:"workflows"`
	Ledger    Ledger    `yaml:"ledger"`
	Server    Server    `yaml:"server"`
	Log       Log       `yaml:"log"`
}

// ComfyUI locates the upstream execution engine.
type ComfyUI struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Workflows configures the graph definition directory and the graph each
// tool loads when the caller names none.
type Workflows struct {
	Dir              string `yaml:"dir"`
	Default          string `yaml:"default"`
	Watch            bool   `yaml:"watch"`
	Modify           string `yaml:"modify"`
	Resize           string `yaml:"resize"`
	Upscale          string `yaml:"upscale"`
	RemoveBackground string `yaml:"remove_background"`
}

// Ledger configures request tracking.
type Ledger struct {
	Timeout     time.Duration `yaml:"timeout"`
	Concurrency int           `yaml:"concurrency"`
}

// Server configures the MCP identity and the optional status listener.
type Server struct {
	Name        string        `yaml:"name"`
	Version     string        `yaml:"version"`
	HTTPAddr    string        `yaml:"http_addr"`
	ParentCheck time.Duration `yaml:"parent_check"`
}

// Log configures the process logger.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ComfyUI: ComfyUI{
			URL:     "http://127.0.0.1:8188",
			Timeout: 30 * time.Second,
		},
		Workflows: Workflows{
			Dir:              ".",
			Default:          workflow.DefaultGraphName,
			Modify:           "img2img_workflow.json",
			Resize:           "resize_workflow.json",
			Upscale:          "upscale_workflow.json",
			RemoveBackground: "remove_background_workflow.json",
		},
		Ledger: Ledger{
			Timeout:     ledger.DefaultTimeout,
			Concurrency: 8,
		},
		Server: Server{
			Name:        "comfyui-mcp-server",
			Version:     "0.1.0",
			ParentCheck: 5 * time.Second,
		},
		Log: Log{
			Level:  "info",
			Format: logging.FormatText,
		},
	}
}

// Load reads the file at path over the defaults. An empty path returns the
// defaults unchanged.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML or JSON over the defaults. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides settings from environment variables read through lookup
// (usually os.LookupEnv). COMFYUI_WORKFLOW_PATH names a single definition
// file and sets both the directory and the default graph.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("COMFYUI_URL"); ok && v != "" {
		c.ComfyUI.URL = v
	}
	if v, ok := lookup("COMFYUI_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("COMFYUI_TIMEOUT: %w", err)
		}
		c.ComfyUI.Timeout = d
	}
	if v, ok := lookup("COMFYUI_WORKFLOW_PATH"); ok && v != "" {
		c.Workflows.Dir = filepath.Dir(v)
		c.Workflows.Default = filepath.Base(v)
	}
	if v, ok := lookup("COMFYUI_WORKFLOW_DIR"); ok && v != "" {
		c.Workflows.Dir = v
	}
	if v, ok := lookup("COMFYUI_DEFAULT_WORKFLOW"); ok && v != "" {
		c.Workflows.Default = v
	}
	if v, ok := lookup("COMFYUI_WATCH_WORKFLOWS"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("COMFYUI_WATCH_WORKFLOWS: %w", err)
		}
		c.Workflows.Watch = b
	}
	if v, ok := lookup("COMFYMCP_LOG_LEVEL"); ok && v != "" {
		c.Log.Level = v
	}
	if v, ok := lookup("COMFYMCP_HTTP_ADDR"); ok {
		c.Server.HTTPAddr = v
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if u, err := url.Parse(c.ComfyUI.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("comfyui.url: %q is not an http(s) URL", c.ComfyUI.URL))
	}
	if c.ComfyUI.Timeout < 0 {
		errs = append(errs, fmt.Errorf("comfyui.timeout: must not be negative"))
	}
	if c.Workflows.Dir == "" {
		errs = append(errs, fmt.Errorf("workflows.dir: required"))
	}
	if c.Workflows.Default == "" {
		errs = append(errs, fmt.Errorf("workflows.default: required"))
	}
	if c.Ledger.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("ledger.concurrency: must be positive"))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Log.Format != logging.FormatText && c.Log.Format != logging.FormatJSON {
		errs = append(errs, fmt.Errorf("log.format: %q is not text or json", c.Log.Format))
	}
	return errors.Join(errs...)
}
