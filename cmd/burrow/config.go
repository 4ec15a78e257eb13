package main

import (
	"time"

	"github.com/tinytelemetry/burrow/internal/project"
)

const (
	defaultBindHost         = "127.0.0.1"
	defaultAPIPort          = 5000
	defaultOTLPPort         = 4317
	defaultTCPPort          = 4000
	defaultMuxBufferSize    = DefaultMuxBuffer
	defaultQueryTimeout     = 30 * time.Second
	defaultBatchSize        = 100
	defaultFlushInterval    = time.Second
	defaultLogRetention     = 30 // days, 0 = disabled
	defaultAppLogRetention  = 30
	defaultLineAppName      = "burrow-line"
	defaultLogLevel         = "info"
	defaultBackupInterval   = 6 * time.Hour
	defaultBackupKeepLast   = 24
	defaultProjectCacheTTL  = project.DefaultCacheTTL
	defaultAppLogBatchSize  = 50
	defaultAppLogFlushEvery = 2 * time.Second
)

// appConfig is internal runtime configuration.
// It is package-private to keep defaults and shape local to the CLI entrypoint.
type appConfig struct {
	Host           string        `mapstructure:"host"`
	APIPort        int           `mapstructure:"api-port"`
	APIAddr        string        `mapstructure:"api-addr"`
	TrustedProxies []string      `mapstructure:"trusted-proxies"`
	DBPath         string        `mapstructure:"db-path"`
	QueryTimeout   time.Duration `mapstructure:"query-timeout"`

	BatchSize           int           `mapstructure:"batch-size"`
	FlushInterval       time.Duration `mapstructure:"flush-interval"`
	AppLogBatchSize     int           `mapstructure:"applog-batch-size"`
	AppLogFlushInterval time.Duration `mapstructure:"applog-flush-interval"`
	JournalEnabled      bool          `mapstructure:"journal-enabled"`
	JournalPath         string        `mapstructure:"journal-path"`

	LogRetention    int `mapstructure:"log-retention"`
	AppLogRetention int `mapstructure:"applog-retention"`

	RequireAPIKey   bool          `mapstructure:"require-api-key"`
	AdminToken      string        `mapstructure:"admin-token"`
	ProjectCacheTTL time.Duration `mapstructure:"project-cache-ttl"`

	OTLPEnabled bool   `mapstructure:"otlp-enabled"`
	OTLPPort    int    `mapstructure:"otlp-port"`
	OTLPAddr    string `mapstructure:"otlp-addr"`

	TCPEnabled    bool   `mapstructure:"tcp-enabled"`
	TCPPort       int    `mapstructure:"tcp-port"`
	TCPAddr       string `mapstructure:"tcp-addr"`
	MuxBufferSize int    `mapstructure:"mux-buffer-size"`
	LineAppName   string `mapstructure:"line-app-name"`
	LineAPIKey    string `mapstructure:"line-api-key"`

	BackupEnabled        bool          `mapstructure:"backup-enabled"`
	BackupInterval       time.Duration `mapstructure:"backup-interval"`
	BackupLocalDir       string        `mapstructure:"backup-local-dir"`
	BackupKeepLast       int           `mapstructure:"backup-keep-last"`
	BackupBucketURL      string        `mapstructure:"backup-bucket-url"`
	BackupS3Endpoint     string        `mapstructure:"backup-s3-endpoint"`
	BackupS3Region       string        `mapstructure:"backup-s3-region"`
	BackupS3AccessKey    string        `mapstructure:"backup-s3-access-key"`
	BackupS3SecretKey    string        `mapstructure:"backup-s3-secret-key"`
	BackupS3SessionToken string        `mapstructure:"backup-s3-session-token"`
	BackupS3UseSSL       bool          `mapstructure:"backup-s3-use-ssl"`

	LogLevel string `mapstructure:"log-level"`
	LogFile  string `mapstructure:"log-file"`

	ConfigPath string `mapstructure:"-"` // not from config file
}
