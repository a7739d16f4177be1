package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the root configuration for the custodian service and the
// deployment executor.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	Deploy   DeployConfig   `mapstructure:"deploy"`
	Index    IndexConfig    `mapstructure:"index"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type AuthConfig struct {
	// Secret signs control-channel bearer tokens (HS256). Shared between
	// the server and the deployment executor on the same host.
	Secret   string        `mapstructure:"secret"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// JobsConfig holds per-operation-type timeouts used for drain estimation.
type JobsConfig struct {
	// Timeouts maps operation type (e.g. "repo_refresh") to its configured
	// maximum runtime.
	Timeouts       map[string]time.Duration `mapstructure:"timeouts"`
	DefaultTimeout time.Duration            `mapstructure:"default_timeout"`
	// DrainSafetyMultiplier scales the longest configured timeout into the
	// recommended drain wait for deployments.
	DrainSafetyMultiplier float64 `mapstructure:"drain_safety_multiplier"`
}

// DeployConfig drives the self-update executor.
type DeployConfig struct {
	RepoPath       string `mapstructure:"repo_path"`
	Remote         string `mapstructure:"remote"`
	Branch         string `mapstructure:"branch"`
	FallbackBranch string `mapstructure:"fallback_branch"`
	RemoteURL      string `mapstructure:"remote_url"`

	InstallCommand string `mapstructure:"install_command"`
	RestartCommand string `mapstructure:"restart_command"`

	SearchToolBinary  string `mapstructure:"search_tool_binary"`
	SearchToolInstall string `mapstructure:"search_tool_install"`
	ServiceUnitPath   string `mapstructure:"service_unit_path"`
	WorkerCount       int    `mapstructure:"worker_count"`

	StatusFile    string `mapstructure:"status_file"`
	LockFile      string `mapstructure:"lock_file"`
	SyncStateFile string `mapstructure:"sync_state_file"`

	ControlBaseURL string        `mapstructure:"control_base_url"`
	DrainPoll      time.Duration `mapstructure:"drain_poll"`
	HealthTimeout  time.Duration `mapstructure:"health_timeout"`

	// TransientFailureThreshold is how many consecutive transient fetch
	// failures are tolerated before escalating to a re-clone.
	TransientFailureThreshold int `mapstructure:"transient_failure_threshold"`
}

// IndexConfig points at the vector index used for post-deploy integrity
// verification. The index itself is an external collaborator.
type IndexConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
	APIKey     string `mapstructure:"api_key"`
	UseTLS     bool   `mapstructure:"use_tls"`
}

// Load reads configuration from the given file (or the default search
// paths), with environment variable override.
func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable override
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Config file is optional; defaults plus env are a valid setup.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.cors.allow_all_origins", false)
	v.SetDefault("server.cors.allowed_origins", []string{})

	v.SetDefault("database.path", "./data/custodian.db")
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("auth.token_ttl", 5*time.Minute)

	v.SetDefault("jobs.default_timeout", 30*time.Minute)
	v.SetDefault("jobs.drain_safety_multiplier", 1.5)

	v.SetDefault("deploy.remote", "origin")
	v.SetDefault("deploy.fallback_branch", "main")
	v.SetDefault("deploy.install_command", "make install-deps")
	v.SetDefault("deploy.restart_command", "systemctl restart custodian")
	v.SetDefault("deploy.search_tool_binary", "rg")
	v.SetDefault("deploy.worker_count", 4)
	v.SetDefault("deploy.status_file", "/var/lib/custodian/deploy-status.json")
	v.SetDefault("deploy.lock_file", "/var/lib/custodian/deploy.lock")
	v.SetDefault("deploy.sync_state_file", "/var/lib/custodian/sync-state.json")
	v.SetDefault("deploy.control_base_url", "http://127.0.0.1:8080")
	v.SetDefault("deploy.drain_poll", 5*time.Second)
	v.SetDefault("deploy.health_timeout", 60*time.Second)
	v.SetDefault("deploy.transient_failure_threshold", 3)

	v.SetDefault("index.enabled", false)
	v.SetDefault("index.host", "localhost")
	v.SetDefault("index.port", 6334)
	v.SetDefault("index.collection", "code_chunks")
}

// OperationTimeout returns the configured timeout for an operation type,
// falling back to the default when the type has no entry.
func (c *JobsConfig) OperationTimeout(operationType string) time.Duration {
	if d, ok := c.Timeouts[operationType]; ok && d > 0 {
		return d
	}
	return c.DefaultTimeout
}

// TargetBranch returns the configured deploy branch, falling back to the
// configured fallback when unset.
func (c *DeployConfig) TargetBranch() string {
	if c.Branch != "" {
		return c.Branch
	}
	return c.FallbackBranch
}
