package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Region      RegionConfig      `mapstructure:"region"`
	SMTP        SMTPConfig        `mapstructure:"smtp"`
	AutoSend    AutoSendConfig    `mapstructure:"autosend"`
	Certificate CertificateConfig `mapstructure:"certificate"`
	Document    DocumentConfig    `mapstructure:"document"`
	Verify      VerifyConfig      `mapstructure:"verify"`
	Logger      LoggerConfig      `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
}

// RegionConfig holds the operating region settings used for civil-day boundaries
type RegionConfig struct {
	Timezone string `mapstructure:"timezone"`
}

// SMTPConfig holds outgoing mail configuration
type SMTPConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	From        string        `mapstructure:"from"`
	SenderName  string        `mapstructure:"sender_name"`
	SendTimeout time.Duration `mapstructure:"send_timeout"`
}

// AutoSendConfig holds batch planning and dispatch configuration
type AutoSendConfig struct {
	BatchSize           int           `mapstructure:"batch_size"`
	MaxEntriesPerRun    int           `mapstructure:"max_entries_per_run"`
	IncludeCertificates bool          `mapstructure:"include_certificates"`
	QueueSize           int           `mapstructure:"queue_size"`
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	ScheduleHour        int           `mapstructure:"schedule_hour"`
	BrandingImagePath   string        `mapstructure:"branding_image_path"`
}

// CertificateConfig holds uploaded certificate validation limits
type CertificateConfig struct {
	StorageDir string `mapstructure:"storage_dir"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxPages   int    `mapstructure:"max_pages"`
}

// DocumentConfig holds statement rendering configuration
type DocumentConfig struct {
	IssuerName    string        `mapstructure:"issuer_name"`
	IssuerEIK     string        `mapstructure:"issuer_eik"`
	RenderTimeout time.Duration `mapstructure:"render_timeout"`
}

// VerifyConfig holds public verification page rate limiting
type VerifyConfig struct {
	RateLimit  int           `mapstructure:"rate_limit"`
	RateWindow time.Duration `mapstructure:"rate_window"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	bindEnvVars()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)

	viper.SetDefault("database.path", "data/fuelregistry.db")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	viper.SetDefault("database.migrations_dir", "migrations")

	viper.SetDefault("region.timezone", "Europe/Sofia")

	viper.SetDefault("smtp.port", 587)
	viper.SetDefault("smtp.sender_name", "Fuel Registry")
	viper.SetDefault("smtp.send_timeout", 30*time.Second)

	viper.SetDefault("autosend.batch_size", 10)
	viper.SetDefault("autosend.max_entries_per_run", 500)
	viper.SetDefault("autosend.include_certificates", true)
	viper.SetDefault("autosend.queue_size", 16)
	viper.SetDefault("autosend.poll_interval", time.Minute)
	viper.SetDefault("autosend.schedule_hour", 7)
	viper.SetDefault("autosend.branding_image_path", "assets/branding.png")

	viper.SetDefault("certificate.storage_dir", "data/certificates")
	viper.SetDefault("certificate.max_size_mb", 10)
	viper.SetDefault("certificate.max_pages", 20)

	viper.SetDefault("document.render_timeout", 30*time.Second)

	viper.SetDefault("verify.rate_limit", 30)
	viper.SetDefault("verify.rate_window", time.Minute)

	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.output_path", "stdout")
	viper.SetDefault("logger.format", "json")
}

func bindEnvVars() {
	// Sensitive credentials from environment
	viper.BindEnv("smtp.host", "SMTP_HOST")
	viper.BindEnv("smtp.username", "SMTP_USERNAME")
	viper.BindEnv("smtp.password", "SMTP_PASSWORD")
	viper.BindEnv("smtp.from", "SMTP_FROM")
	viper.BindEnv("document.issuer_name", "ISSUER_NAME")
	viper.BindEnv("document.issuer_eik", "ISSUER_EIK")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.SMTP.Host == "" {
		return fmt.Errorf("smtp.host is required")
	}
	if c.SMTP.From == "" {
		return fmt.Errorf("smtp.from is required")
	}
	if c.Document.IssuerName == "" {
		return fmt.Errorf("document.issuer_name is required")
	}
	if c.AutoSend.BatchSize <= 0 {
		return fmt.Errorf("autosend.batch_size must be positive")
	}
	if c.AutoSend.MaxEntriesPerRun < c.AutoSend.BatchSize {
		return fmt.Errorf("autosend.max_entries_per_run must be at least autosend.batch_size")
	}
	if _, err := time.LoadLocation(c.Region.Timezone); err != nil {
		return fmt.Errorf("region.timezone is invalid: %w", err)
	}
	return nil
}
