package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// Build variables - set by ldflags during build.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

func main() {
	var configPath string
	var envFile string
	var showVersion bool

	flag.StringVar(&configPath, "config", "", "config file (default is $HOME/.config/burrow/config.yml)")
	flag.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	flag.BoolVar(&showVersion, "version", false, "print version information")
	flag.Parse()

	if showVersion {
		fmt.Printf("Burrow - Log Ingestion Service\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Built:      %s\n", buildTime)
		fmt.Printf("  Go version: %s\n", goVersion)
		return
	}

	if err := loadEnvFile(envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading %s: %v\n", envFile, err)
		os.Exit(1)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := runServer(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadEnvFile exports the variables of a dotenv file without overriding
// ones already set. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func loadConfig(configPath string) (appConfig, error) {
	var cfg appConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}

	dataDir := filepath.Join(home, ".local", "share", "burrow")

	v := viper.New()
	v.SetEnvPrefix("BURROW")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("host", defaultBindHost)
	v.SetDefault("api-port", defaultAPIPort)
	v.SetDefault("trusted-proxies", []string{})
	v.SetDefault("db-path", filepath.Join(dataDir, "burrow.duckdb"))
	v.SetDefault("query-timeout", defaultQueryTimeout)
	v.SetDefault("batch-size", defaultBatchSize)
	v.SetDefault("flush-interval", defaultFlushInterval)
	v.SetDefault("applog-batch-size", defaultAppLogBatchSize)
	v.SetDefault("applog-flush-interval", defaultAppLogFlushEvery)
	v.SetDefault("journal-enabled", false)
	v.SetDefault("journal-path", filepath.Join(dataDir, "ingest.journal"))
	v.SetDefault("log-retention", defaultLogRetention)
	v.SetDefault("applog-retention", defaultAppLogRetention)
	v.SetDefault("require-api-key", true)
	v.SetDefault("admin-token", "")
	v.SetDefault("project-cache-ttl", defaultProjectCacheTTL)
	v.SetDefault("otlp-enabled", false)
	v.SetDefault("otlp-port", defaultOTLPPort)
	v.SetDefault("tcp-enabled", false)
	v.SetDefault("tcp-port", defaultTCPPort)
	v.SetDefault("mux-buffer-size", defaultMuxBufferSize)
	v.SetDefault("line-app-name", defaultLineAppName)
	v.SetDefault("line-api-key", "")
	v.SetDefault("backup-enabled", false)
	v.SetDefault("backup-interval", defaultBackupInterval)
	v.SetDefault("backup-local-dir", filepath.Join(dataDir, "backups"))
	v.SetDefault("backup-keep-last", defaultBackupKeepLast)
	v.SetDefault("backup-s3-use-ssl", true)
	v.SetDefault("log-level", defaultLogLevel)
	v.SetDefault("log-file", "")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigFile(filepath.Join(home, ".config", "burrow", "config.yml"))
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, err
		}
	} else {
		cfg.ConfigPath = v.ConfigFileUsed()
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	if err := validateConfig(&cfg); err != nil {
		return cfg, err
	}

	for _, p := range []*string{&cfg.DBPath, &cfg.JournalPath, &cfg.BackupLocalDir, &cfg.LogFile} {
		if strings.HasPrefix(*p, "~/") {
			*p = filepath.Join(home, (*p)[2:])
		}
	}

	if cfg.APIAddr == "" {
		cfg.APIAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.APIPort))
	}
	if cfg.OTLPAddr == "" {
		cfg.OTLPAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.OTLPPort))
	}
	if cfg.TCPAddr == "" {
		cfg.TCPAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.TCPPort))
	}
	return cfg, nil
}

func validateConfig(cfg *appConfig) error {
	if strings.TrimSpace(cfg.Host) == "" {
		cfg.Host = defaultBindHost
	}
	ports := []struct {
		name string
		port int
	}{
		{"api-port", cfg.APIPort},
		{"otlp-port", cfg.OTLPPort},
		{"tcp-port", cfg.TCPPort},
	}
	for _, p := range ports {
		if p.port <= 0 || p.port > 65535 {
			return fmt.Errorf("invalid %s: %d", p.name, p.port)
		}
	}
	if cfg.BatchSize <= 0 {
		return fmt.Errorf("invalid batch-size: %d", cfg.BatchSize)
	}
	if cfg.FlushInterval <= 0 {
		return fmt.Errorf("invalid flush-interval: %s", cfg.FlushInterval)
	}
	if cfg.AppLogBatchSize <= 0 {
		return fmt.Errorf("invalid applog-batch-size: %d", cfg.AppLogBatchSize)
	}
	if cfg.AppLogFlushInterval <= 0 {
		return fmt.Errorf("invalid applog-flush-interval: %s", cfg.AppLogFlushInterval)
	}
	if cfg.LogRetention < 0 {
		return fmt.Errorf("invalid log-retention: %d", cfg.LogRetention)
	}
	if cfg.AppLogRetention < 0 {
		return fmt.Errorf("invalid applog-retention: %d", cfg.AppLogRetention)
	}
	if cfg.ProjectCacheTTL <= 0 {
		return fmt.Errorf("invalid project-cache-ttl: %s", cfg.ProjectCacheTTL)
	}
	if cfg.JournalEnabled && strings.TrimSpace(cfg.JournalPath) == "" {
		return errors.New("journal-path is required when journal-enabled is set")
	}
	if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("invalid log-level: %q", cfg.LogLevel)
	}

	if cfg.BackupEnabled {
		if cfg.BackupInterval <= 0 {
			return fmt.Errorf("invalid backup-interval: %s", cfg.BackupInterval)
		}
		if cfg.BackupKeepLast <= 0 {
			return fmt.Errorf("invalid backup-keep-last: %d", cfg.BackupKeepLast)
		}
		if cfg.BackupBucketURL != "" && (cfg.BackupS3AccessKey == "" || cfg.BackupS3SecretKey == "") {
			return errors.New("backup-s3-access-key and backup-s3-secret-key are required when backup-bucket-url is set")
		}
	}
	return nil
}
