package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"genpool/internal/config"
)

type serveOptions struct {
	configPath string
	envFiles   []string

	apiAddr        string
	managementAddr string
	dataDir        string
	defaultService string
	logLevel       string
	logFormat      string
	bootstrap      string
	autostart      bool
	headless       bool
	browser        string
	install        bool
	maxRetries     int
	corsEnabled    bool
	corsOrigins    []string
}

func (o *serveOptions) bind(cmd *cobra.Command) {
	d := config.Defaults()
	f := cmd.Flags()
	f.StringVarP(&o.configPath, "config", "c", "", "Config file (.yaml, .yml, .json, .toml)")
	f.StringSliceVar(&o.envFiles, "env-file", nil, "Dotenv files to load before reading GENPOOL_* variables (default .env)")
	f.StringVar(&o.apiAddr, "api-addr", d.APIAddr, "Generation API listen address")
	f.StringVar(&o.managementAddr, "management-addr", d.ManagementAddr, "Management API listen address")
	f.StringVar(&o.dataDir, "data-dir", d.DataDir, "Directory for instance metadata and cookies")
	f.StringVar(&o.defaultService, "default-service", d.DefaultService, "Service used when a request names none (aistudio, doubao, grok, simulated)")
	f.StringVar(&o.logLevel, "log-level", d.LogLevel, "Log level: trace, debug, info, warn, error, off")
	f.StringVar(&o.logFormat, "log-format", d.LogFormat, "Log format: console or json")
	f.StringVar(&o.bootstrap, "bootstrap", "", "Instances to ensure at boot, e.g. aistudio:2,doubao:1")
	f.BoolVar(&o.autostart, "autostart", d.Autostart, "Start every created instance at boot")
	f.BoolVar(&o.headless, "headless", d.Headless, "Run browsers headless")
	f.StringVar(&o.browser, "browser", d.Browser, "Browser engine: chromium, firefox, webkit")
	f.BoolVar(&o.install, "install-browsers", d.InstallBrowsers, "Download the playwright driver and browsers on first use")
	f.IntVar(&o.maxRetries, "max-retries", d.MaxRetries, "Requeues allowed after a transient task failure")
	f.BoolVar(&o.corsEnabled, "cors", d.CORSEnabled, "Enable CORS on both servers")
	f.StringSliceVar(&o.corsOrigins, "cors-origins", nil, "Allowed CORS origins")
}

// resolve builds the effective configuration. Precedence from low to high:
// defaults, config file, GENPOOL_* environment, explicitly set flags.
func (o *serveOptions) resolve(flags *pflag.FlagSet) (config.Config, error) {
	if err := config.LoadDotEnv(o.envFiles...); err != nil {
		return config.Config{}, err
	}
	cfg := config.Defaults()
	if o.configPath != "" {
		c, err := config.Load(o.configPath)
		if err != nil {
			return cfg, err
		}
		cfg = c
	}
	if err := config.ApplyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := o.applyFlags(flags, &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (o *serveOptions) applyFlags(flags *pflag.FlagSet, cfg *config.Config) error {
	set := flags.Changed
	if set("api-addr") {
		cfg.APIAddr = o.apiAddr
	}
	if set("management-addr") {
		cfg.ManagementAddr = o.managementAddr
	}
	if set("data-dir") {
		cfg.DataDir = o.dataDir
	}
	if set("default-service") {
		cfg.DefaultService = o.defaultService
	}
	if set("log-level") {
		cfg.LogLevel = o.logLevel
	}
	if set("log-format") {
		cfg.LogFormat = o.logFormat
	}
	if set("bootstrap") {
		b, err := config.ParseBootstrap(o.bootstrap)
		if err != nil {
			return fmt.Errorf("--bootstrap: %w", err)
		}
		cfg.Bootstrap = b
	}
	if set("autostart") {
		cfg.Autostart = o.autostart
	}
	if set("headless") {
		cfg.Headless = o.headless
	}
	if set("browser") {
		cfg.Browser = o.browser
	}
	if set("install-browsers") {
		cfg.InstallBrowsers = o.install
	}
	if set("max-retries") {
		cfg.MaxRetries = o.maxRetries
	}
	if set("cors") {
		cfg.CORSEnabled = o.corsEnabled
	}
	if set("cors-origins") {
		cfg.CORSOrigins = o.corsOrigins
	}
	return nil
}

func newConfigCmd(opts *serveOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.resolve(cmd.Flags())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(cfg)
		},
	}
	opts.bind(cmd)
	return cmd
}
