package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the repository-relative config file name.
const FileName = ".releasekit.yaml"

// Pattern is one regex replacement applied to a file target. Replace is a
// template rendered with the release data (e.g. "version: {{.Version}}").
type Pattern struct {
	Match   string `yaml:"match" validate:"required"`
	Replace string `yaml:"replace" validate:"required"`
}

// FileTarget is a file whose content carries the version. Update, when set
// programmatically, takes precedence over Patterns.
type FileTarget struct {
	Path     string                                               `yaml:"path" validate:"required"`
	Patterns []Pattern                                            `yaml:"patterns" validate:"dive"`
	Update   func(content []byte, version string) ([]byte, error) `yaml:"-"`
}

type DocsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir" validate:"required_if=Enabled true"`
	Command string `yaml:"command" validate:"required_if=Enabled true"`
}

// Check is one preflight command.
type Check struct {
	Name       string `yaml:"name" validate:"required"`
	Kind       string `yaml:"kind" validate:"omitempty,oneof=format lint typecheck test custom"`
	Command    string `yaml:"command" validate:"required"`
	Fixable    bool   `yaml:"fixable"`
	FixCommand string `yaml:"fix_command" validate:"required_if=Fixable true"`
}

type AIConfig struct {
	Enabled     bool   `yaml:"enabled"`
	MaxAttempts int    `yaml:"max_attempts" validate:"gte=0,lte=10"`
	Model       string `yaml:"model"`
	APIKeyEnv   string `yaml:"api_key_env"`
	BaseURL     string `yaml:"base_url"`
}

type AutoFixConfig struct {
	Basic bool     `yaml:"basic"`
	AI    AIConfig `yaml:"ai"`
}

type GitHubConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Owner    string `yaml:"owner" validate:"required_if=Enabled true"`
	Repo     string `yaml:"repo" validate:"required_if=Enabled true"`
	APIURL   string `yaml:"api_url" validate:"omitempty,url"`
	TokenEnv string `yaml:"token_env"`
}

type PublishConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Package      string        `yaml:"package" validate:"omitempty,jsrpackage"`
	RegistryURL  string        `yaml:"registry_url" validate:"omitempty,url"`
	MaxAttempts  int           `yaml:"max_attempts" validate:"gte=0"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Timeout      time.Duration `yaml:"timeout"`
	WaitForCI    bool          `yaml:"wait_for_ci"`
}

type CIConfig struct {
	Workflow     string        `yaml:"workflow"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Timeout      time.Duration `yaml:"timeout"`
}

type LogConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	File  string `yaml:"file"`
}

type TelemetryConfig struct {
	MetricsFile string `yaml:"metrics_file"`
	Trace       bool   `yaml:"trace"`
}

type Config struct {
	VersionFile      string          `yaml:"version_file" validate:"required"`
	ChangelogFile    string          `yaml:"changelog_file" validate:"required"`
	TagPrefix        string          `yaml:"tag_prefix"`
	Remote           string          `yaml:"remote" validate:"required"`
	Branch           string          `yaml:"branch"`
	FormatCommand    string          `yaml:"format_command"`
	DryRun           bool            `yaml:"dry_run"`
	SkipConfirmation bool            `yaml:"skip_confirmation"`
	Files            []FileTarget    `yaml:"files" validate:"dive"`
	Docs             DocsConfig      `yaml:"docs"`
	Preflight        []Check         `yaml:"preflight" validate:"dive"`
	AutoFix          AutoFixConfig   `yaml:"autofix"`
	GitHub           GitHubConfig    `yaml:"github"`
	Publish          PublishConfig   `yaml:"publish"`
	CI               CIConfig        `yaml:"ci"`
	Log              LogConfig       `yaml:"log"`
	Telemetry        TelemetryConfig `yaml:"telemetry"`
	// StateDir holds the audit log, journal and history database.
	StateDir string `yaml:"state_dir"`
}

func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		VersionFile:   "deno.json",
		ChangelogFile: "CHANGELOG.md",
		TagPrefix:     "v",
		Remote:        "origin",
		AutoFix: AutoFixConfig{
			Basic: true,
			AI: AIConfig{
				MaxAttempts: 3,
				Model:       "gpt-4o-mini",
				APIKeyEnv:   "OPENAI_API_KEY",
			},
		},
		GitHub: GitHubConfig{
			APIURL:   "https://api.github.com",
			TokenEnv: "GITHUB_TOKEN",
		},
		Publish: PublishConfig{
			RegistryURL:  "https://jsr.io",
			MaxAttempts:  10,
			PollInterval: 15 * time.Second,
			Timeout:      10 * time.Minute,
		},
		CI: CIConfig{
			PollInterval: 20 * time.Second,
			Timeout:      30 * time.Minute,
		},
		Log:      LogConfig{Level: "info"},
		StateDir: filepath.Join(home, ".releasekit"),
	}
}

// Load reads the config at path over the defaults. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	// Ensure defaults for zero values
	def := Default()
	if cfg.VersionFile == "" {
		cfg.VersionFile = def.VersionFile
	}
	if cfg.ChangelogFile == "" {
		cfg.ChangelogFile = def.ChangelogFile
	}
	if cfg.Remote == "" {
		cfg.Remote = def.Remote
	}
	if cfg.AutoFix.AI.MaxAttempts == 0 {
		cfg.AutoFix.AI.MaxAttempts = def.AutoFix.AI.MaxAttempts
	}
	if cfg.AutoFix.AI.Model == "" {
		cfg.AutoFix.AI.Model = def.AutoFix.AI.Model
	}
	if cfg.AutoFix.AI.APIKeyEnv == "" {
		cfg.AutoFix.AI.APIKeyEnv = def.AutoFix.AI.APIKeyEnv
	}
	if cfg.GitHub.APIURL == "" {
		cfg.GitHub.APIURL = def.GitHub.APIURL
	}
	if cfg.GitHub.TokenEnv == "" {
		cfg.GitHub.TokenEnv = def.GitHub.TokenEnv
	}
	if cfg.Publish.RegistryURL == "" {
		cfg.Publish.RegistryURL = def.Publish.RegistryURL
	}
	if cfg.Publish.MaxAttempts == 0 {
		cfg.Publish.MaxAttempts = def.Publish.MaxAttempts
	}
	if cfg.Publish.PollInterval == 0 {
		cfg.Publish.PollInterval = def.Publish.PollInterval
	}
	if cfg.Publish.Timeout == 0 {
		cfg.Publish.Timeout = def.Publish.Timeout
	}
	if cfg.CI.PollInterval == 0 {
		cfg.CI.PollInterval = def.CI.PollInterval
	}
	if cfg.CI.Timeout == 0 {
		cfg.CI.Timeout = def.CI.Timeout
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.StateDir == "" {
		cfg.StateDir = def.StateDir
	}
	cfg.StateDir = expandHome(cfg.StateDir)

	return cfg, nil
}

// AuditDir, JournalDir, BackupDir and HistoryPath locate the persistent
// state.
func (c *Config) AuditDir() string    { return filepath.Join(c.StateDir, "audit") }
func (c *Config) JournalDir() string  { return filepath.Join(c.StateDir, "journal") }
func (c *Config) BackupDir() string   { return filepath.Join(c.StateDir, "backups") }
func (c *Config) HistoryPath() string { return filepath.Join(c.StateDir, "history.db") }

func (c *Config) EnsureDirs() error {
	for _, d := range []string{c.StateDir, c.AuditDir(), c.JournalDir(), c.BackupDir()} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return err
		}
	}
	return nil
}

// GitHubToken reads the token from the configured environment variable.
func (c *Config) GitHubToken() string {
	return os.Getenv(c.GitHub.TokenEnv)
}

// AIKey reads the remediation model API key.
func (c *Config) AIKey() string {
	return os.Getenv(c.AutoFix.AI.APIKeyEnv)
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
