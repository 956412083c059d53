package keeper

import (
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/core-tools/hsu-proxykeeper/pkg/artifact"
	"github.com/core-tools/hsu-proxykeeper/pkg/errors"
	"github.com/core-tools/hsu-proxykeeper/pkg/heartbeat"
	"github.com/core-tools/hsu-proxykeeper/pkg/proxyconfig"
	"github.com/core-tools/hsu-proxykeeper/pkg/supervisor"
)

const (
	DefaultReleasesURL   = "https://github.com/XTLS/Xray-core/releases"
	DefaultBinaryPath    = "server"
	DefaultArchiveMember = "xray"
	DefaultProcessName   = "server"
	DefaultConfigName    = "config"
	DefaultHostDomain    = "replit.co"
	DefaultLockFile      = "keeper.lock"

	defaultVersionTimeout  = 10 * time.Second
	defaultLatestTimeout   = 15 * time.Second
	defaultDownloadTimeout = 5 * time.Minute
	defaultIdentityTimeout = 10 * time.Second
	defaultGracefulTimeout = 10 * time.Second
	defaultKillTimeout     = 5 * time.Second
)

// KeeperConfig is the optional YAML configuration file; every field has a default
type KeeperConfig struct {
	Keeper    KeeperOptions   `yaml:"keeper"`
	Release   ReleaseConfig   `yaml:"release"`
	Binary    BinaryConfig    `yaml:"binary"`
	Proxy     ProxyConfig     `yaml:"proxy"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Identity  IdentityConfig  `yaml:"identity"`
}

type KeeperOptions struct {
	WorkDir      string `yaml:"work_dir,omitempty"`
	LogLevel     string `yaml:"log_level,omitempty"`
	LogFormat    string `yaml:"log_format,omitempty"`
	LockFile     string `yaml:"lock_file,omitempty"`
	PIDDirectory string `yaml:"pid_directory,omitempty"`
}

type ReleaseConfig struct {
	URL             string              `yaml:"url,omitempty"`
	Source          artifact.SourceKind `yaml:"source,omitempty"`
	CacheDir        string              `yaml:"cache_dir,omitempty"`
	ArchiveName     string              `yaml:"archive_name,omitempty"`
	LatestTimeout   time.Duration       `yaml:"latest_timeout,omitempty"`
	DownloadTimeout time.Duration       `yaml:"download_timeout,omitempty"`
}

type BinaryConfig struct {
	// Path of the installed binary, relative to the work dir unless absolute
	Path           string        `yaml:"path,omitempty"`
	ArchiveMember  string        `yaml:"archive_member,omitempty"`
	ProcessName    string        `yaml:"process_name,omitempty"`
	VersionTimeout time.Duration `yaml:"version_timeout,omitempty"`
}

type ProxyConfig struct {
	Transport       supervisor.Transport `yaml:"transport,omitempty"`
	Format          proxyconfig.Format   `yaml:"format,omitempty"`
	ConfigPath      string               `yaml:"config_path,omitempty"`
	Env             []string             `yaml:"env,omitempty"`
	Args            []string             `yaml:"args,omitempty"`
	StdinArgs       []string             `yaml:"stdin_args,omitempty"`
	Port            int                  `yaml:"port,omitempty"`
	LogLevel        string               `yaml:"log_level,omitempty"`
	DNSServers      []string             `yaml:"dns_servers,omitempty"`
	DomainStrategy  string               `yaml:"domain_strategy,omitempty"`
	GracefulTimeout time.Duration        `yaml:"graceful_timeout,omitempty"`
	KillTimeout     time.Duration        `yaml:"kill_timeout,omitempty"`
}

type HeartbeatConfig struct {
	Interval time.Duration `yaml:"interval,omitempty"`
	Timeout  time.Duration `yaml:"timeout,omitempty"`
	Scheme   string        `yaml:"scheme,omitempty"`
	Domain   string        `yaml:"domain,omitempty"`

	// URL replaces the host-derived base address; the identity is still appended
	URL string `yaml:"url,omitempty"`
}

type IdentityConfig struct {
	// URL of the key-value store; REPLIT_DB_URL when empty
	URL     string        `yaml:"url,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// Environment carries the host-provided naming and store address
type Environment struct {
	DBURL string
	Slug  string
	Owner string
}

func LoadConfigFromFile(filename string) (*KeeperConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", filename)
	}

	var config KeeperConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.NewParseError("failed to parse YAML configuration", err).WithContext("filename", filename)
	}

	SetConfigDefaults(&config)
	return &config, nil
}

// DefaultConfig is what the keeper runs with when no configuration file is given
func DefaultConfig() *KeeperConfig {
	config := &KeeperConfig{}
	SetConfigDefaults(config)
	return config
}

func SetConfigDefaults(config *KeeperConfig) {
	if config.Keeper.WorkDir == "" {
		config.Keeper.WorkDir = "."
	}
	if config.Keeper.LogLevel == "" {
		config.Keeper.LogLevel = "info"
	}
	if config.Keeper.LockFile == "" {
		config.Keeper.LockFile = DefaultLockFile
	}

	if config.Release.URL == "" {
		config.Release.URL = DefaultReleasesURL
	}
	if config.Release.Source == "" {
		config.Release.Source = artifact.SourceKindHTTP
	}
	if config.Release.ArchiveName == "" {
		config.Release.ArchiveName = artifact.PlatformArchiveName(runtime.GOOS, runtime.GOARCH)
	}
	if config.Release.LatestTimeout == 0 {
		config.Release.LatestTimeout = defaultLatestTimeout
	}
	if config.Release.DownloadTimeout == 0 {
		config.Release.DownloadTimeout = defaultDownloadTimeout
	}

	if config.Binary.Path == "" {
		config.Binary.Path = DefaultBinaryPath
	}
	if config.Binary.ArchiveMember == "" {
		config.Binary.ArchiveMember = DefaultArchiveMember
	}
	if config.Binary.ProcessName == "" {
		config.Binary.ProcessName = DefaultProcessName
	}
	if config.Binary.VersionTimeout == 0 {
		config.Binary.VersionTimeout = defaultVersionTimeout
	}

	if config.Proxy.Transport == "" {
		config.Proxy.Transport = supervisor.TransportFile
	}
	if config.Proxy.Format == "" {
		config.Proxy.Format = proxyconfig.FormatYAML
	}
	if config.Proxy.ConfigPath == "" {
		config.Proxy.ConfigPath = DefaultConfigName + config.Proxy.Format.Extension()
	}
	if config.Proxy.GracefulTimeout == 0 {
		config.Proxy.GracefulTimeout = defaultGracefulTimeout
	}
	if config.Proxy.KillTimeout == 0 {
		config.Proxy.KillTimeout = defaultKillTimeout
	}

	if config.Heartbeat.Interval == 0 {
		config.Heartbeat.Interval = heartbeat.DefaultInterval
	}
	if config.Heartbeat.Timeout == 0 {
		config.Heartbeat.Timeout = heartbeat.DefaultPingTimeout
	}
	if config.Heartbeat.Scheme == "" {
		config.Heartbeat.Scheme = "https"
	}
	if config.Heartbeat.Domain == "" {
		config.Heartbeat.Domain = DefaultHostDomain
	}

	if config.Identity.Timeout == 0 {
		config.Identity.Timeout = defaultIdentityTimeout
	}
}

// resolvePath anchors relative paths at the work dir
func (c *KeeperConfig) resolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.Keeper.WorkDir, path)
}
