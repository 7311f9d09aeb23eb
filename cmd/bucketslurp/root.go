package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ligustah/bucketslurp/internal/config"
	"github.com/ligustah/bucketslurp/internal/downloader"
	slurphttp "github.com/ligustah/bucketslurp/internal/http"
	"github.com/ligustah/bucketslurp/internal/logging"
	"github.com/ligustah/bucketslurp/internal/provider"
)

// envPrefix prefixes every environment variable read by the CLI, e.g.
// BUCKETSLURP_THREADS or BUCKETSLURP_S3_ACCESS_KEY_ID.
const envPrefix = "BUCKETSLURP"

// credentialKeys are read from the environment (and the config file) only.
var credentialKeys = []string{
	"s3-access-key-id",
	"s3-secret-access-key",
	"s3-session-token",
	"s3-region",
	"s3-endpoint",
	"b2-authorization-token",
	"gcs-user-project",
}

type app struct {
	stdout      io.Writer
	stderr      io.Writer
	v           *viper.Viper
	registry    *provider.Registry
	interrupted bool
}

func (a *app) rootCmd() *cobra.Command {
	a.v = viper.New()
	a.registry = provider.DefaultRegistry()

	cmd := &cobra.Command{
		Use:   "bucketslurp -m <module> (-u <url> | -f <file>) [flags]",
		Short: "Enumerate and download publicly readable cloud storage buckets",
		Long: `bucketslurp lists every object of a cloud storage bucket through the
provider's listing API, writes a manifest to <log-dir>/<module>/<bucket>/downloads.log
and downloads the objects concurrently.

Modules:
  ` + strings.Join(a.registry.Codes(), ", ") + `

Run 'bucketslurp modules' for provider names and URL keywords.

Examples:
  bucketslurp -m ali -u https://bucket.oss-cn-hangzhou.aliyuncs.com
  bucketslurp -m s3 -f buckets.txt -t 8 -o ./loot
  bucketslurp -m gcs -u https://storage.googleapis.com/bucket --dry-run`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return usagef("unexpected arguments: %s", strings.Join(args, " "))
			}
			return nil
		},
		RunE: a.runRoot,
	}

	defaults := config.Default()
	f := cmd.Flags()
	f.StringP("url", "u", "", "bucket URL")
	f.StringP("file", "f", "", "file with one bucket URL per line")
	f.StringP("proxy", "p", "", "proxy URL (http, https or socks5)")
	f.IntP("threads", "t", defaults.Threads, "number of parallel downloads")
	f.StringP("module", "m", "", "provider module (required)")
	f.StringP("config", "c", "", "YAML config file")
	f.StringP("output", "o", defaults.Output, "output directory or blob URL (file://, s3://, gs://, mem://)")
	f.String("log-dir", defaults.LogDir, "root directory for bucket manifests")
	f.String("prefix", "", "only list keys with this prefix")
	f.Bool("dry-run", false, "list buckets and write manifests without downloading")
	f.Int("max-pages", defaults.MaxPages, "maximum listing pages per bucket")
	f.String("log-level", defaults.LogLevel, "log level (debug, info, warn, error)")
	f.Duration("timeout", defaults.Timeout, "connect and response header timeout")
	f.Bool("verify-tls", false, "verify TLS certificates")

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	_ = a.v.BindPFlags(f)
	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
	for _, key := range credentialKeys {
		_ = a.v.BindEnv(key)
	}

	cmd.AddCommand(a.modulesCmd())
	return cmd
}

// loadConfig layers defaults, the config file, environment and flags.
func (a *app) loadConfig() (config.Config, error) {
	cfg := config.Default()
	if path := a.v.GetString("config"); path != "" {
		fileCfg, err := config.LoadFromFile(path)
		if err != nil {
			return cfg, &usageError{err: err}
		}
		cfg = fileCfg
	}

	var o config.Config
	a.setString("url", &o.URL)
	a.setString("file", &o.File)
	a.setString("module", &o.Module)
	a.setString("proxy", &o.Proxy)
	a.setString("output", &o.Output)
	a.setString("log-dir", &o.LogDir)
	a.setString("prefix", &o.Prefix)
	a.setString("log-level", &o.LogLevel)
	if a.v.IsSet("threads") {
		o.Threads = a.v.GetInt("threads")
	}
	if a.v.IsSet("max-pages") {
		o.MaxPages = a.v.GetInt("max-pages")
	}
	if a.v.IsSet("timeout") {
		o.Timeout = a.v.GetDuration("timeout")
	}
	o.DryRun = a.v.GetBool("dry-run")
	o.VerifyTLS = a.v.GetBool("verify-tls")

	a.setString("s3-access-key-id", &o.Credentials.S3.AccessKeyID)
	a.setString("s3-secret-access-key", &o.Credentials.S3.SecretAccessKey)
	a.setString("s3-session-token", &o.Credentials.S3.SessionToken)
	a.setString("s3-region", &o.Credentials.S3.Region)
	a.setString("s3-endpoint", &o.Credentials.S3.Endpoint)
	a.setString("b2-authorization-token", &o.Credentials.B2.AuthorizationToken)
	a.setString("gcs-user-project", &o.Credentials.GCS.UserProject)

	o.URL = strings.TrimRight(o.URL, "/")
	return cfg.Merge(o), nil
}

func (a *app) setString(key string, dst *string) {
	if a.v.IsSet(key) {
		*dst = a.v.GetString(key)
	}
}

// validate checks the arguments that make the invocation meaningful.
// Violations are usage errors.
func (a *app) validate(cfg config.Config) error {
	if cfg.URL == "" && cfg.File == "" {
		return usagef("one of --url or --file is required")
	}
	if cfg.Module == "" {
		return usagef("--module is required (one of %s)", strings.Join(a.registry.Codes(), ", "))
	}
	if _, ok := a.registry.Lookup(cfg.Module); !ok {
		return usagef("unknown module %q (one of %s)", cfg.Module, strings.Join(a.registry.Codes(), ", "))
	}
	if err := cfg.Validate(); err != nil {
		return &usageError{err: err}
	}
	return nil
}

// targets returns the bucket URLs from --url and --file, in that order.
func (a *app) targets(cfg config.Config) ([]provider.Target, error) {
	var urls []string
	if cfg.URL != "" {
		urls = append(urls, cfg.URL)
	}
	if cfg.File != "" {
		fromFile, err := config.ReadURLFile(cfg.File)
		if err != nil {
			return nil, &usageError{err: err}
		}
		if len(fromFile) == 0 {
			return nil, usagef("no bucket URLs in %s", cfg.File)
		}
		urls = append(urls, fromFile...)
	}

	targets := make([]provider.Target, len(urls))
	for i, u := range urls {
		targets[i] = provider.Target{URL: u, Module: cfg.Module}
	}
	return targets, nil
}

func (a *app) runRoot(cmd *cobra.Command, _ []string) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	if err := a.validate(cfg); err != nil {
		return err
	}
	targets, err := a.targets(cfg)
	if err != nil {
		return err
	}

	httpOpts := slurphttp.DefaultOptions()
	httpOpts.MaxIdleConnsPerHost = max(cfg.Threads*2, httpOpts.MaxIdleConnsPerHost)
	httpOpts.Timeout = cfg.Timeout
	httpOpts.Proxy = cfg.Proxy
	httpOpts.VerifyTLS = cfg.VerifyTLS
	client, err := slurphttp.NewClient(httpOpts)
	if err != nil {
		return &usageError{err: err}
	}

	log := logging.New(logging.Options{Level: cfg.LogLevel, Output: a.stderr})
	ctx := log.WithContext(cmd.Context())

	m, _ := a.registry.Lookup(cfg.Module)
	printBanner(a.stderr, m, len(targets), cfg)

	opts := downloader.Options{
		Workers:  cfg.Threads,
		LogDir:   cfg.LogDir,
		Prefix:   cfg.Prefix,
		DryRun:   cfg.DryRun,
		Registry: a.registry,
		Deps: provider.Deps{
			HTTP:        client,
			MaxPages:    cfg.MaxPages,
			Credentials: cfg.Credentials,
		},
		ProgressOutput: a.stdout,
	}

	if !cfg.DryRun {
		out, err := downloader.OpenOutput(ctx, cfg.Output)
		if err != nil {
			return fmt.Errorf("%w: %v", errStorage, err)
		}
		defer out.Close()
		opts.Output = out
	}

	results := downloader.Run(ctx, targets, opts)
	printSummary(a.stderr, results)

	if ctx.Err() != nil {
		a.interrupted = true
	}
	return nil
}
