package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines configuration for the bucketslurp CLI.
type Config struct {
	URL         string        `yaml:"url"`
	File        string        `yaml:"file"`
	Module      string        `yaml:"module"`
	Proxy       string        `yaml:"proxy"`
	Threads     int           `yaml:"threads"`
	Output      string        `yaml:"output"`
	LogDir      string        `yaml:"log_dir"`
	Prefix      string        `yaml:"prefix"`
	MaxPages    int           `yaml:"max_pages"`
	DryRun      bool          `yaml:"dry_run"`
	LogLevel    string        `yaml:"log_level"`
	Timeout     time.Duration `yaml:"timeout"`
	VerifyTLS   bool          `yaml:"verify_tls"`
	Credentials Credentials   `yaml:"credentials"`
}

// Credentials holds the secrets some providers need.
type Credentials struct {
	S3  S3Credentials  `yaml:"s3"`
	B2  B2Credentials  `yaml:"b2"`
	GCS GCSCredentials `yaml:"gcs"`
}

// S3Credentials configures the Amazon S3 module. Without an access key the
// bucket is read anonymously.
type S3Credentials struct {
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

// B2Credentials configures the Backblaze B2 module.
type B2Credentials struct {
	AuthorizationToken string `yaml:"authorization_token"`
}

// GCSCredentials configures the Google Cloud Storage module.
type GCSCredentials struct {
	// UserProject is billed for requester-pays buckets.
	UserProject string `yaml:"user_project"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Threads:  3,
		Output:   "./downloads",
		LogDir:   "log",
		MaxPages: 10000,
		LogLevel: "info",
		Timeout:  10 * time.Second,
	}
}

// yamlConfig is used for YAML unmarshaling with a string timeout.
type yamlConfig struct {
	URL         string      `yaml:"url"`
	File        string      `yaml:"file"`
	Module      string      `yaml:"module"`
	Proxy       string      `yaml:"proxy"`
	Threads     int         `yaml:"threads"`
	Output      string      `yaml:"output"`
	LogDir      string      `yaml:"log_dir"`
	Prefix      string      `yaml:"prefix"`
	MaxPages    int         `yaml:"max_pages"`
	DryRun      bool        `yaml:"dry_run"`
	LogLevel    string      `yaml:"log_level"`
	Timeout     string      `yaml:"timeout"`
	VerifyTLS   bool        `yaml:"verify_tls"`
	Credentials Credentials `yaml:"credentials"`
}

// LoadFromFile loads configuration from a YAML file on top of Default.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	override := Config{
		URL:         yc.URL,
		File:        yc.File,
		Module:      yc.Module,
		Proxy:       yc.Proxy,
		Threads:     yc.Threads,
		Output:      yc.Output,
		LogDir:      yc.LogDir,
		Prefix:      yc.Prefix,
		MaxPages:    yc.MaxPages,
		DryRun:      yc.DryRun,
		LogLevel:    yc.LogLevel,
		VerifyTLS:   yc.VerifyTLS,
		Credentials: yc.Credentials,
	}
	if yc.Timeout != "" {
		d, err := time.ParseDuration(yc.Timeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse timeout: %w", err)
		}
		override.Timeout = d
	}

	return Default().Merge(override), nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.URL == "" && c.File == "" {
		return errors.New("config: either url or file is required")
	}
	if c.Module == "" {
		return errors.New("config: module is required")
	}
	if c.Threads <= 0 {
		return errors.New("config: threads must be positive")
	}
	if c.MaxPages <= 0 {
		return errors.New("config: max_pages must be positive")
	}
	if c.Timeout <= 0 {
		return errors.New("config: timeout must be positive")
	}
	if c.Output == "" {
		return errors.New("config: output is required")
	}
	s3 := c.Credentials.S3
	if (s3.AccessKeyID == "") != (s3.SecretAccessKey == "") {
		return errors.New("config: s3 access_key_id and secret_access_key must be set together")
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	if override.URL != "" {
		c.URL = override.URL
	}
	if override.File != "" {
		c.File = override.File
	}
	if override.Module != "" {
		c.Module = override.Module
	}
	if override.Proxy != "" {
		c.Proxy = override.Proxy
	}
	if override.Threads != 0 {
		c.Threads = override.Threads
	}
	if override.Output != "" {
		c.Output = override.Output
	}
	if override.LogDir != "" {
		c.LogDir = override.LogDir
	}
	if override.Prefix != "" {
		c.Prefix = override.Prefix
	}
	if override.MaxPages != 0 {
		c.MaxPages = override.MaxPages
	}
	if override.DryRun {
		c.DryRun = override.DryRun
	}
	if override.LogLevel != "" {
		c.LogLevel = override.LogLevel
	}
	if override.Timeout != 0 {
		c.Timeout = override.Timeout
	}
	if override.VerifyTLS {
		c.VerifyTLS = override.VerifyTLS
	}
	c.Credentials = c.Credentials.merge(override.Credentials)
	return c
}

func (c Credentials) merge(o Credentials) Credentials {
	if o.S3.AccessKeyID != "" {
		c.S3.AccessKeyID = o.S3.AccessKeyID
	}
	if o.S3.SecretAccessKey != "" {
		c.S3.SecretAccessKey = o.S3.SecretAccessKey
	}
	if o.S3.SessionToken != "" {
		c.S3.SessionToken = o.S3.SessionToken
	}
	if o.S3.Region != "" {
		c.S3.Region = o.S3.Region
	}
	if o.S3.Endpoint != "" {
		c.S3.Endpoint = o.S3.Endpoint
	}
	if o.S3.UsePathStyle {
		c.S3.UsePathStyle = true
	}
	if o.B2.AuthorizationToken != "" {
		c.B2.AuthorizationToken = o.B2.AuthorizationToken
	}
	if o.GCS.UserProject != "" {
		c.GCS.UserProject = o.GCS.UserProject
	}
	return c
}

// ReadURLFile reads bucket URLs from path, one per line. Blank lines and
// lines starting with '#' are skipped; trailing slashes are trimmed.
func ReadURLFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open url file: %w", err)
	}
	defer f.Close()

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, strings.TrimRight(line, "/"))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read url file: %w", err)
	}
	return urls, nil
}
