package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// WorkspaceDirName is the directory name for project-level scout config.
	WorkspaceDirName = ".scout"
	// WorkspaceConfigFile is the config file name inside the workspace directory.
	WorkspaceConfigFile = "config.yaml"
	// MaxSearchDepth limits how many parent directories to walk when discovering a workspace.
	MaxSearchDepth = 10

	// EnvAPIKey holds the inference API key.
	EnvAPIKey = "OPENROUTER_API_KEY"
	// EnvModel overrides llm.model.
	EnvModel = "SCOUT_MODEL"
	// EnvHeadless overrides browser.headless ("true"/"false").
	EnvHeadless = "SCOUT_HEADLESS"
	// EnvMaxIterations overrides agent.max_iterations.
	EnvMaxIterations = "SCOUT_MAX_ITERATIONS"
)

// WorkspaceOptions controls workspace discovery behavior.
type WorkspaceOptions struct {
	// Disable skips workspace discovery entirely (--no-workspace flag).
	Disable bool
	// ExplicitDir uses this directory as workspace root instead of walking up (--workspace-dir flag).
	ExplicitDir string
}

// Config captures all tunable settings for the scout agent.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logger  LoggerConfig  `yaml:"logger"`
	Browser BrowserConfig `yaml:"browser"`
	LLM     LLMConfig     `yaml:"llm"`
	Agent   AgentConfig   `yaml:"agent"`
	MCP     MCPConfig     `yaml:"mcp"`
	Journal JournalConfig `yaml:"journal"`
	Trace   TraceConfig   `yaml:"trace"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// LoggerConfig mirrors the zap/lumberjack knobs.
type LoggerConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // console | json
	LogFile    string `yaml:"log_file"`
	MaxSize    int    `yaml:"max_size"` // megabytes
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"` // days
	Compress   bool   `yaml:"compress"`
}

// BrowserConfig configures how we attach to or launch Chrome for Rod.
type BrowserConfig struct {
	// Control endpoint for Rod (e.g., ws://localhost:9222). Takes precedence over launch.
	DebuggerURL string `yaml:"debugger_url"`
	// Optional launch command (binary followed by flags). Empty uses Rod's managed browser.
	Launch []string `yaml:"launch"`
	// Headless controls whether Chrome runs in headless mode (default: false, logins need a visible window).
	Headless *bool `yaml:"headless"`
	// UserDataDir is the persistent profile directory holding cookies and local storage.
	UserDataDir string `yaml:"user_data_dir"`
	// Viewport width for the agent page (default: 1280).
	ViewportWidth int `yaml:"viewport_width"`
	// Viewport height for the agent page (default: 800).
	ViewportHeight int `yaml:"viewport_height"`
	// Per-operation timeouts (e.g., "30s").
	NavigationTimeoutStr string `yaml:"navigation_timeout"`
	ClickTimeoutStr      string `yaml:"click_timeout"`
	TypeTimeoutStr       string `yaml:"type_timeout"`
}

// LLMConfig configures the OpenAI-compatible inference endpoint.
type LLMConfig struct {
	Endpoint          string  `yaml:"endpoint"`
	Model             string  `yaml:"model"`
	APIKey            string  `yaml:"-"`
	TimeoutStr        string  `yaml:"timeout"`
	RequestsPerMinute int     `yaml:"requests_per_minute"`
	Temperature       float64 `yaml:"temperature"`
	MaxRetryElapsed   string  `yaml:"max_retry_elapsed"`
}

// AgentConfig holds loop ceilings and settle steps.
type AgentConfig struct {
	MaxIterations         int    `yaml:"max_iterations"`
	SubAgentMaxIterations int    `yaml:"sub_agent_max_iterations"`
	RetryCeiling          int    `yaml:"retry_ceiling"`
	MaxElements           int    `yaml:"max_elements"`
	ReflectionDelay       string `yaml:"reflection_delay"`
	ErrorDelay            string `yaml:"error_delay"`
	SettleAfterNavigate   string `yaml:"settle_after_navigate"`
	SettleAfterEnter      string `yaml:"settle_after_enter"`
	SettleAfterScroll     string `yaml:"settle_after_scroll"`
	KeystrokeDelay        string `yaml:"keystroke_delay"`
	ScrollStep            int    `yaml:"scroll_step"`
	ExtractConcurrency    int    `yaml:"extract_concurrency"`
}

type MCPConfig struct {
	// When set, starts an SSE server on this port instead of stdio-only.
	SSEPort int `yaml:"sse_port"`
}

// JournalConfig controls the embedded action journal.
type JournalConfig struct {
	Enable          bool `yaml:"enable"`
	FactBufferLimit int  `yaml:"fact_buffer_limit"`
}

// TraceConfig controls the per-task conversation trace.
type TraceConfig struct {
	Enable bool   `yaml:"enable"`
	Dir    string `yaml:"dir"`
}

type MetricsConfig struct {
	// Addr, when set, serves /metrics (e.g., ":9464").
	Addr string `yaml:"addr"`
}

// DefaultConfig provides reasonable defaults for local development.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Name:    "scout",
			Version: "0.3.0",
		},
		Logger: LoggerConfig{
			Level:      "info",
			Format:     "console",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     14,
		},
		Browser: BrowserConfig{
			UserDataDir:          "data/browser-profile",
			ViewportWidth:        1280,
			ViewportHeight:       800,
			NavigationTimeoutStr: "30s",
			ClickTimeoutStr:      "5s",
			TypeTimeoutStr:       "10s",
		},
		LLM: LLMConfig{
			Endpoint:          "https://openrouter.ai/api/v1/chat/completions",
			Model:             "anthropic/claude-sonnet-4",
			TimeoutStr:        "120s",
			RequestsPerMinute: 30,
			Temperature:       0.2,
			MaxRetryElapsed:   "2m",
		},
		Agent: AgentConfig{
			MaxIterations:         500,
			SubAgentMaxIterations: 15,
			RetryCeiling:          3,
			MaxElements:           150,
			ReflectionDelay:       "1s",
			ErrorDelay:            "3s",
			SettleAfterNavigate:   "2s",
			SettleAfterEnter:      "1s",
			SettleAfterScroll:     "500ms",
			KeystrokeDelay:        "30ms",
			ScrollStep:            600,
			ExtractConcurrency:    4,
		},
		Journal: JournalConfig{
			Enable:          true,
			FactBufferLimit: 2048,
		},
		Trace: TraceConfig{
			Enable: true,
			Dir:    "data/traces",
		},
	}
}

// DiscoverWorkspace walks up from startDir looking for a .scout/config.yaml file.
// Returns the workspace root directory (parent of .scout/) or empty string if not found.
func DiscoverWorkspace(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving start directory: %w", err)
	}

	for i := 0; i < MaxSearchDepth; i++ {
		candidate := filepath.Join(dir, WorkspaceDirName, WorkspaceConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", nil
}

// LoadWithWorkspace implements multi-layer config merge:
//
//	DefaultConfig() <- .scout/config.yaml <- explicit --config <- environment
//
// CLI flags are applied by the caller afterwards. Returns the merged config
// and the workspace directory (empty if none found).
func LoadWithWorkspace(explicitConfig string, opts WorkspaceOptions) (Config, string, error) {
	cfg := DefaultConfig()
	wsDir := ""

	if !opts.Disable {
		var err error
		if opts.ExplicitDir != "" {
			candidate := filepath.Join(opts.ExplicitDir, WorkspaceDirName, WorkspaceConfigFile)
			if _, statErr := os.Stat(candidate); statErr == nil {
				wsDir = opts.ExplicitDir
			}
		} else {
			cwd, cwdErr := os.Getwd()
			if cwdErr != nil {
				return cfg, "", fmt.Errorf("getting working directory: %w", cwdErr)
			}
			wsDir, err = DiscoverWorkspace(cwd)
			if err != nil {
				return cfg, "", fmt.Errorf("discovering workspace: %w", err)
			}
		}

		if wsDir != "" {
			wsConfigPath := filepath.Join(wsDir, WorkspaceDirName, WorkspaceConfigFile)
			raw, err := os.ReadFile(wsConfigPath)
			if err != nil {
				return cfg, "", fmt.Errorf("reading workspace config %s: %w", wsConfigPath, err)
			}
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, "", fmt.Errorf("parsing workspace config %s: %w", wsConfigPath, err)
			}
			cfg = resolveWorkspacePaths(cfg, filepath.Join(wsDir, WorkspaceDirName))
		}
	}

	if explicitConfig != "" {
		raw, err := os.ReadFile(explicitConfig)
		if err != nil {
			return cfg, wsDir, fmt.Errorf("reading explicit config %s: %w", explicitConfig, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, wsDir, fmt.Errorf("parsing explicit config %s: %w", explicitConfig, err)
		}
	}

	// .env is optional; a missing file is not an error.
	_ = godotenv.Load()
	cfg.ApplyEnv(os.Getenv)

	return cfg, wsDir, cfg.Validate()
}

// ApplyEnv overlays environment variables onto the config.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv(EnvAPIKey)); v != "" {
		c.LLM.APIKey = v
	}
	if v := strings.TrimSpace(getenv(EnvModel)); v != "" {
		c.LLM.Model = v
	}
	if v := strings.TrimSpace(getenv(EnvHeadless)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Browser.Headless = &b
		}
	}
	if v := strings.TrimSpace(getenv(EnvMaxIterations)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Agent.MaxIterations = n
		}
	}
}

// InitWorkspace creates a .scout/ directory with template files at root.
func InitWorkspace(root string) error {
	wsDir := filepath.Join(root, WorkspaceDirName)

	if _, err := os.Stat(wsDir); err == nil {
		return fmt.Errorf("workspace directory already exists: %s", wsDir)
	}

	dirs := []string{
		wsDir,
		filepath.Join(wsDir, "data"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	templateConfig := `# scout project-level configuration
# Values here override defaults but are overridden by --config, environment and CLI flags.
# The inference key is read from OPENROUTER_API_KEY (a .env file works too).

# llm:
#   model: "anthropic/claude-sonnet-4"
#   requests_per_minute: 30

# browser:
#   headless: false
#   user_data_dir: "data/browser-profile"

# agent:
#   max_iterations: 500
#   sub_agent_max_iterations: 15
#   settle_after_navigate: "2s"
`
	configPath := filepath.Join(wsDir, WorkspaceConfigFile)
	if err := os.WriteFile(configPath, []byte(templateConfig), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	gitignoreContent := "# Browser profile, traces and logs - do not version control\ndata/\n"
	gitignorePath := filepath.Join(wsDir, ".gitignore")
	if err := os.WriteFile(gitignorePath, []byte(gitignoreContent), 0644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}

	return nil
}

// resolveWorkspacePaths resolves relative paths in the config against the workspace directory.
func resolveWorkspacePaths(cfg Config, base string) Config {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}

	cfg.Logger.LogFile = resolve(cfg.Logger.LogFile)
	cfg.Browser.UserDataDir = resolve(cfg.Browser.UserDataDir)
	cfg.Trace.Dir = resolve(cfg.Trace.Dir)
	return cfg
}

// Validate ensures required fields exist so the agent can start deterministically.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return errors.New("server.name is required")
	}
	if c.Agent.MaxIterations <= 0 {
		return errors.New("agent.max_iterations must be positive")
	}
	if c.Agent.SubAgentMaxIterations <= 0 {
		return errors.New("agent.sub_agent_max_iterations must be positive")
	}
	if c.Agent.RetryCeiling <= 0 {
		return errors.New("agent.retry_ceiling must be positive")
	}
	if c.Agent.MaxElements <= 0 {
		return errors.New("agent.max_elements must be positive")
	}
	if c.LLM.Endpoint == "" {
		return errors.New("llm.endpoint is required")
	}
	return nil
}

// RequireAPIKey reports the fatal init condition for commands that call the model.
func (c *Config) RequireAPIKey() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("%s is not set", EnvAPIKey)
	}
	return nil
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

// NavigationTimeout returns the parsed navigation timeout with a sane default.
func (b BrowserConfig) NavigationTimeout() time.Duration {
	return parseDuration(b.NavigationTimeoutStr, 30*time.Second)
}

// ClickTimeout bounds a single click attempt.
func (b BrowserConfig) ClickTimeout() time.Duration {
	return parseDuration(b.ClickTimeoutStr, 5*time.Second)
}

// TypeTimeout bounds a single typing strategy.
func (b BrowserConfig) TypeTimeout() time.Duration {
	return parseDuration(b.TypeTimeoutStr, 10*time.Second)
}

// IsHeadless returns whether Chrome should run in headless mode (default: false).
func (b BrowserConfig) IsHeadless() bool {
	if b.Headless == nil {
		return false
	}
	return *b.Headless
}

// GetViewportWidth returns the viewport width with a sane default.
func (b BrowserConfig) GetViewportWidth() int {
	if b.ViewportWidth <= 0 {
		return 1280
	}
	return b.ViewportWidth
}

// GetViewportHeight returns the viewport height with a sane default.
func (b BrowserConfig) GetViewportHeight() int {
	if b.ViewportHeight <= 0 {
		return 800
	}
	return b.ViewportHeight
}

func (l LLMConfig) Timeout() time.Duration {
	return parseDuration(l.TimeoutStr, 120*time.Second)
}

func (l LLMConfig) RetryElapsed() time.Duration {
	return parseDuration(l.MaxRetryElapsed, 2*time.Minute)
}

func (a AgentConfig) Reflection() time.Duration {
	return parseDuration(a.ReflectionDelay, time.Second)
}

func (a AgentConfig) ErrorPause() time.Duration {
	return parseDuration(a.ErrorDelay, 3*time.Second)
}

func (a AgentConfig) NavigateSettle() time.Duration {
	return parseDuration(a.SettleAfterNavigate, 2*time.Second)
}

func (a AgentConfig) EnterSettle() time.Duration {
	return parseDuration(a.SettleAfterEnter, time.Second)
}

func (a AgentConfig) ScrollSettle() time.Duration {
	return parseDuration(a.SettleAfterScroll, 500*time.Millisecond)
}

func (a AgentConfig) Keystroke() time.Duration {
	return parseDuration(a.KeystrokeDelay, 30*time.Millisecond)
}

// GetScrollStep returns the wheel delta in pixels.
func (a AgentConfig) GetScrollStep() int {
	if a.ScrollStep <= 0 {
		return 600
	}
	return a.ScrollStep
}

// GetExtractConcurrency bounds the read-only extraction fan-out.
func (a AgentConfig) GetExtractConcurrency() int {
	if a.ExtractConcurrency <= 0 {
		return 4
	}
	return a.ExtractConcurrency
}
