package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
	Data     DataConfig     `yaml:"data" mapstructure:"data"`
	Load     LoadConfig     `yaml:"load" mapstructure:"load"`
	Report   ReportConfig   `yaml:"report" mapstructure:"report"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// DatabaseConfig configures the PostGIS connection. URL wins over the
// individual fields when set.
type DatabaseConfig struct {
	URL           string `yaml:"url" mapstructure:"url"`
	Host          string `yaml:"host" mapstructure:"host"`
	Port          int    `yaml:"port" mapstructure:"port"`
	Name          string `yaml:"name" mapstructure:"name"`
	User          string `yaml:"user" mapstructure:"user"`
	Password      string `yaml:"password" mapstructure:"password"`
	MaintenanceDB string `yaml:"maintenance_db" mapstructure:"maintenance_db"`
	MaxConns      int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// DataConfig locates the input files and describes how to read them.
type DataConfig struct {
	Dir             string `yaml:"dir" mapstructure:"dir"`
	GridFile        string `yaml:"grid_file" mapstructure:"grid_file"`
	ProvincesFile   string `yaml:"provinces_file" mapstructure:"provinces_file"`
	TrafficPattern  string `yaml:"traffic_pattern" mapstructure:"traffic_pattern"`
	MobilityPattern string `yaml:"mobility_pattern" mapstructure:"mobility_pattern"`
	TargetCRS       string `yaml:"target_crs" mapstructure:"target_crs"`
	Timezone        string `yaml:"timezone" mapstructure:"timezone"`
	Delimiter       string `yaml:"delimiter" mapstructure:"delimiter"`
	Encoding        string `yaml:"encoding" mapstructure:"encoding"`
}

// LoadConfig tunes the measurement loads.
type LoadConfig struct {
	BatchSize  int `yaml:"batch_size" mapstructure:"batch_size"`
	LimitFiles int `yaml:"limit_files" mapstructure:"limit_files"`
}

// ReportConfig configures the smoke-test query.
type ReportConfig struct {
	TopN  int    `yaml:"top_n" mapstructure:"top_n"`
	Since string `yaml:"since" mapstructure:"since"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, file and environment.
func Load() (*Config, error) {
	// .env is optional; real environment variables take precedence.
	_ = godotenv.Load()

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CDR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "milan_telecom")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.maintenance_db", "postgres")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("data.dir", "data_milan_cdr_kaggle")
	v.SetDefault("data.grid_file", "milano-grid.geojson")
	v.SetDefault("data.provinces_file", "Italian_provinces.geojson")
	v.SetDefault("data.traffic_pattern", "sms-call-internet-mi-*.csv")
	v.SetDefault("data.mobility_pattern", "mi-to-provinces-*.csv")
	v.SetDefault("data.target_crs", "EPSG:32632")
	v.SetDefault("data.timezone", "UTC")
	v.SetDefault("data.delimiter", ",")
	v.SetDefault("data.encoding", "")
	v.SetDefault("load.batch_size", 5000)
	v.SetDefault("load.limit_files", 0)
	v.SetDefault("report.top_n", 10)
	v.SetDefault("report.since", "2013-11-01T00:00:00Z")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the values the loaders depend on.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.URL == "" && c.Database.Name == "" {
		errs = append(errs, "database.url or database.name is required")
	}
	if c.Database.URL == "" && (c.Database.Port <= 0 || c.Database.Port > 65535) {
		errs = append(errs, "database.port must be between 1 and 65535")
	}
	if c.Load.BatchSize <= 0 {
		errs = append(errs, "load.batch_size must be > 0")
	}
	if c.Load.LimitFiles < 0 {
		errs = append(errs, "load.limit_files must be >= 0")
	}
	if len([]rune(c.Data.Delimiter)) != 1 {
		errs = append(errs, "data.delimiter must be a single character")
	}
	if _, err := time.LoadLocation(c.Data.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("data.timezone %q is not a known location", c.Data.Timezone))
	}
	if c.Report.TopN <= 0 {
		errs = append(errs, "report.top_n must be > 0")
	}
	if _, err := time.Parse(time.RFC3339, c.Report.Since); err != nil {
		errs = append(errs, "report.since must be an RFC 3339 timestamp")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// DSN returns the connection string for the target database.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return d.dsnFor(d.Name)
}

// MaintenanceDSN returns a connection string for the maintenance database
// used to create the target database. When URL is set its path is swapped.
func (d DatabaseConfig) MaintenanceDSN() string {
	if d.URL != "" {
		u, err := url.Parse(d.URL)
		if err != nil {
			return d.URL
		}
		u.Path = "/" + d.MaintenanceDB
		return u.String()
	}
	return d.dsnFor(d.MaintenanceDB)
}

// DatabaseName returns the target database name, taken from URL when set.
func (d DatabaseConfig) DatabaseName() string {
	if d.URL != "" {
		if u, err := url.Parse(d.URL); err == nil {
			if name := strings.TrimPrefix(u.Path, "/"); name != "" {
				return name
			}
		}
	}
	return d.Name
}

func (d DatabaseConfig) dsnFor(name string) string {
	u := url.URL{
		Scheme: "postgres",
		Host:   d.Host + ":" + strconv.Itoa(d.Port),
		Path:   "/" + name,
	}
	if d.Password != "" {
		u.User = url.UserPassword(d.User, d.Password)
	} else if d.User != "" {
		u.User = url.User(d.User)
	}
	return u.String()
}

// Location returns the time zone applied to naive timestamps.
func (d DataConfig) Location() (*time.Location, error) {
	if d.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(d.Timezone)
	if err != nil {
		return nil, eris.Wrapf(err, "config: load timezone %q", d.Timezone)
	}
	return loc, nil
}

// Comma returns the field delimiter as a rune, defaulting to ','.
func (d DataConfig) Comma() rune {
	r := []rune(d.Delimiter)
	if len(r) != 1 {
		return ','
	}
	return r[0]
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
