// Package types defines shared interfaces and configuration structures.
package types

// ConfigManager defines the interface for static (environment) configuration.
type ConfigManager interface {
	IsMaster() bool
	GetAuthConfig() AuthConfig
	GetCORSConfig() CORSConfig
	GetPerformanceConfig() PerformanceConfig
	GetLogConfig() LogConfig
	GetDatabaseConfig() DatabaseConfig
	GetEffectiveServerConfig() ServerConfig
	GetRedisDSN() string
	GetEncryptionKey() string
	IsDebugMode() bool
	Validate() error
	ReloadConfig() error
	DisplayServerConfig()
}

// Config aggregates every static configuration section parsed from the
// environment.
type Config struct {
	Server        ServerConfig      `json:"server"`
	Auth          AuthConfig        `json:"auth"`
	CORS          CORSConfig        `json:"cors"`
	Performance   PerformanceConfig `json:"performance"`
	Log           LogConfig         `json:"log"`
	Database      DatabaseConfig    `json:"database"`
	RedisDSN      string            `json:"redis_dsn"`
	EncryptionKey string            `json:"-"`
	DebugMode     bool              `json:"debug_mode"`
}

// ServerConfig represents HTTP server configuration.
type ServerConfig struct {
	Port                    int    `json:"port"`
	Host                    string `json:"host"`
	IsMaster                bool   `json:"is_master"`
	ReadTimeout             int    `json:"read_timeout"`
	WriteTimeout            int    `json:"write_timeout"`
	IdleTimeout             int    `json:"idle_timeout"`
	GracefulShutdownTimeout int    `json:"graceful_shutdown_timeout"`
}

// AuthConfig represents dashboard authentication configuration.
type AuthConfig struct {
	Key string `json:"key"`
}

// CORSConfig represents CORS configuration.
type CORSConfig struct {
	Enabled          bool     `json:"enabled"`
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
}

// PerformanceConfig represents performance-related configuration.
type PerformanceConfig struct {
	MaxConcurrentRequests int `json:"max_concurrent_requests"`
}

// LogConfig represents logging configuration.
type LogConfig struct {
	Level      string `json:"level"`
	Format     string `json:"format"`
	EnableFile bool   `json:"enable_file"`
	FilePath   string `json:"file_path"`
}

// DatabaseConfig represents database connection configuration.
type DatabaseConfig struct {
	DSN string `json:"dsn"`
}

// SystemSettings holds the dynamic, dashboard-editable settings. Values are
// persisted in the settings table and merged over the struct defaults.
type SystemSettings struct {
	// Scan behavior
	ScanIntervalSeconds int  `json:"scan_interval_seconds" default:"600" name:"Scan Interval" category:"scan" desc:"Seconds between automatic scans. The scheduler never sleeps less than 30s." validate:"min=30"`
	ScanTimeoutSeconds  int  `json:"scan_timeout_seconds" default:"20" name:"Request Timeout" category:"scan" desc:"Per-request timeout in seconds, clamped to 5-180." validate:"min=5,max=180"`
	ScanConcurrency     int  `json:"scan_concurrency" default:"8" name:"Scan Concurrency" category:"scan" desc:"Number of sites checked in parallel, clamped to 1-64." validate:"min=1,max=64"`
	NotifyOnChange      bool `json:"notify_on_change" default:"true" name:"Notify On Change" category:"scan" desc:"Send a notification when a watched aspect changes."`

	// Site inventory (MoviePilot)
	MoviePilotBaseURL        string `json:"moviepilot_base_url" default:"" name:"MoviePilot Base URL" category:"moviepilot" desc:"Base URL of the MoviePilot instance supplying the site inventory."`
	MoviePilotUsername       string `json:"moviepilot_username" default:"" name:"MoviePilot Username" category:"moviepilot"`
	MoviePilotPassword       string `json:"moviepilot_password" default:"" name:"MoviePilot Password" category:"moviepilot"`
	MoviePilotOTP            string `json:"moviepilot_otp" default:"" name:"MoviePilot OTP" category:"moviepilot" desc:"Optional one-time password for login."`
	MoviePilotOnlyActive     bool   `json:"moviepilot_only_active" default:"true" name:"Only Active Sites" category:"moviepilot"`
	SitesCacheTTLSeconds     int    `json:"sites_cache_ttl_seconds" default:"86400" name:"Inventory Cache TTL" category:"moviepilot" desc:"How long a fetched site inventory stays usable, clamped to 60-604800." validate:"min=60,max=604800"`
	DepsRetryIntervalSeconds int    `json:"deps_retry_interval_seconds" default:"3600" name:"Dependency Retry Interval" category:"moviepilot" desc:"Backoff before re-contacting a failed upstream dependency, clamped to 60-86400." validate:"min=60,max=86400"`

	// Cookies
	CookieSource         string `json:"cookie_source" default:"auto" name:"Cookie Source" category:"cookies" desc:"auto, cookiecloud or moviepilot."`
	CookieCloudBaseURL   string `json:"cookiecloud_base_url" default:"" name:"CookieCloud Base URL" category:"cookies"`
	CookieCloudUUID      string `json:"cookiecloud_uuid" default:"" name:"CookieCloud UUID" category:"cookies"`
	CookieCloudPassword  string `json:"cookiecloud_password" default:"" name:"CookieCloud Password" category:"cookies"`
	CookieRefreshSeconds int    `json:"cookie_refresh_seconds" default:"300" name:"Cookie Refresh" category:"cookies" desc:"Minimum seconds between CookieCloud fetches, clamped to 30-86400." validate:"min=30,max=86400"`

	// HTTP
	UserAgent     string `json:"user_agent" default:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36" name:"User Agent" category:"http"`
	ProxyURL      string `json:"proxy_url" default:"" name:"Proxy URL" category:"http" desc:"Optional http/https/socks5 proxy for tracker requests."`
	TrustEnvProxy bool   `json:"trust_env_proxy" default:"false" name:"Trust Env Proxy" category:"http" desc:"Fall back to HTTP_PROXY/HTTPS_PROXY environment variables."`
}

// SystemSettingInfo is the dashboard representation of a single setting.
type SystemSettingInfo struct {
	Key          string `json:"key"`
	Value        any    `json:"value"`
	DefaultValue any    `json:"default_value"`
	Name         string `json:"name"`
	Category     string `json:"category"`
	Description  string `json:"description"`
}
