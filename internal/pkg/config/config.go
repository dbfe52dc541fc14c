package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sigmap/terrascene/internal/core/domain"
)

// Config holds all application configuration.
type Config struct {
	Scene     SceneConfig     `mapstructure:"scene"`
	DEM       DEMConfig       `mapstructure:"dem"`
	Buildings BuildingsConfig `mapstructure:"buildings"`
	Telecom   TelecomConfig   `mapstructure:"telecom"`
	Ditto     DittoConfig     `mapstructure:"ditto"`
	BaseScene BaseSceneConfig `mapstructure:"basescene"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Valkey    ValkeyConfig    `mapstructure:"valkey"`
	Temporal  TemporalConfig  `mapstructure:"temporal"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type SceneConfig struct {
	MinLon    float64               `mapstructure:"min_lon"`
	MinLat    float64               `mapstructure:"min_lat"`
	MaxLon    float64               `mapstructure:"max_lon"`
	MaxLat    float64               `mapstructure:"max_lat"`
	OutputDir string                `mapstructure:"output_dir"`
	WorkDir   string                `mapstructure:"work_dir"`
	Materials domain.MaterialConfig `mapstructure:"materials"`
}

// BoundingBox validates the configured scene area.
func (s SceneConfig) BoundingBox() (domain.BoundingBox, error) {
	return domain.NewBoundingBox(s.MinLon, s.MinLat, s.MaxLon, s.MaxLat)
}

type DEMConfig struct {
	WCSURL         string        `mapstructure:"wcs_url"`
	CoverageID     string        `mapstructure:"coverage_id"`
	Format         string        `mapstructure:"format"`
	CRS            string        `mapstructure:"crs"`
	ResolutionDeg  float64       `mapstructure:"resolution_deg"`
	PaddingM       float64       `mapstructure:"padding_m"`
	MaxEdgeM       float64       `mapstructure:"max_edge_m"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	Timeout        time.Duration `mapstructure:"timeout"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
}

type BuildingsConfig struct {
	EmbedDepth     float64 `mapstructure:"embed_depth"`
	WeldTolerance  float64 `mapstructure:"weld_tolerance"`
	DegenerateArea float64 `mapstructure:"degenerate_area"`
	MergeBatchSize int     `mapstructure:"merge_batch_size"`
	MergeRadius    float64 `mapstructure:"merge_radius"`
	Workers        int     `mapstructure:"workers"`
	FootprintStep  float64 `mapstructure:"footprint_step"`
}

type TelecomConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	OverpassURL   string        `mapstructure:"overpass_url"`
	DefaultHeight float64       `mapstructure:"default_height"`
	MountOffset   float64       `mapstructure:"mount_offset"`
	Radius        float64       `mapstructure:"radius"`
	Sections      int           `mapstructure:"sections"`
	DedupeRadius  float64       `mapstructure:"dedupe_radius"`
	Timeout       time.Duration `mapstructure:"timeout"`
	ExportPath    string        `mapstructure:"export_path"`
}

type DittoConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	URL         string        `mapstructure:"url"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	Namespace   string        `mapstructure:"namespace"`
	PolicyID    string        `mapstructure:"policy_id"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

type BaseSceneConfig struct {
	Command   string   `mapstructure:"command"`
	Args      []string `mapstructure:"args"`
	OSMServer string   `mapstructure:"osm_server"`
}

type ServerConfig struct {
	Port         int `mapstructure:"port"`
	ReadTimeout  int `mapstructure:"read_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

// ValkeyConfig configures the DEM cache. An empty Addr disables caching.
type ValkeyConfig struct {
	Addr string `mapstructure:"addr"`
}

type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	TempoAddr   string `mapstructure:"tempo_addr"`
	Enabled     bool   `mapstructure:"enabled"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from defaults, an optional config file, the
// environment and, when given, command-line flags (highest precedence).
func Load(service string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v, service)

	// Config file (optional). --config overrides the search path.
	configFile := ""
	if flags != nil {
		if f := flags.Lookup("config"); f != nil {
			configFile = f.Value.String()
		}
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		_ = v.ReadInConfig() // OK if missing
	}

	// Environment variables: TERRASCENE_DEM_WCS_URL → dem.wcs_url
	v.SetEnvPrefix("TERRASCENE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper, service string) {
	v.SetDefault("scene.min_lon", 0.0)
	v.SetDefault("scene.min_lat", 0.0)
	v.SetDefault("scene.max_lon", 0.0)
	v.SetDefault("scene.max_lat", 0.0)
	v.SetDefault("scene.output_dir", "./scene")
	v.SetDefault("scene.work_dir", "")
	v.SetDefault("scene.materials.ground_idx", 13)
	v.SetDefault("scene.materials.rooftop_idx", 2)
	v.SetDefault("scene.materials.wall_idx", 1)

	v.SetDefault("dem.wcs_url", "http://tinitaly.pi.ingv.it/TINItaly_1_1/wcs")
	v.SetDefault("dem.coverage_id", "TINItaly_1_1:tinitaly_dem")
	v.SetDefault("dem.format", "ArcGrid")
	v.SetDefault("dem.crs", domain.CRSWGS84)
	v.SetDefault("dem.resolution_deg", 0.00009)
	v.SetDefault("dem.padding_m", 100.0)
	v.SetDefault("dem.max_edge_m", 0.0)
	v.SetDefault("dem.max_attempts", 4)
	v.SetDefault("dem.initial_backoff", "2s")
	v.SetDefault("dem.timeout", "60s")
	v.SetDefault("dem.cache_ttl", "168h")

	v.SetDefault("buildings.embed_depth", 0.5)
	v.SetDefault("buildings.weld_tolerance", 1e-4)
	v.SetDefault("buildings.degenerate_area", 1e-8)
	v.SetDefault("buildings.merge_batch_size", 64)
	v.SetDefault("buildings.merge_radius", 50.0)
	v.SetDefault("buildings.workers", 8)
	v.SetDefault("buildings.footprint_step", 2.0)

	v.SetDefault("telecom.enabled", true)
	v.SetDefault("telecom.overpass_url", "https://overpass-api.de/api/interpreter")
	v.SetDefault("telecom.default_height", 150.0)
	v.SetDefault("telecom.mount_offset", 0.0)
	v.SetDefault("telecom.radius", 2.0)
	v.SetDefault("telecom.sections", 16)
	v.SetDefault("telecom.dedupe_radius", 5.0)
	v.SetDefault("telecom.timeout", "30s")
	v.SetDefault("telecom.export_path", "")

	v.SetDefault("ditto.enabled", false)
	v.SetDefault("ditto.url", "http://localhost:8080/api/2")
	v.SetDefault("ditto.username", "ditto")
	v.SetDefault("ditto.password", "ditto")
	v.SetDefault("ditto.namespace", "com.sionna")
	v.SetDefault("ditto.policy_id", "com.sionna:policy")
	v.SetDefault("ditto.timeout", "10s")
	v.SetDefault("ditto.max_attempts", 3)

	v.SetDefault("basescene.command", "scenegen")
	v.SetDefault("basescene.args", []string{})
	v.SetDefault("basescene.osm_server", "https://overpass-api.de/api/interpreter")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 10)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "terrascene")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "terrascene")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("valkey.addr", "localhost:6379")
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "scene-generation")
	v.SetDefault("telemetry.service_name", service)
	v.SetDefault("telemetry.tempo_addr", "tempo:4317")
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// bindFlags maps CLI flags onto config keys. --bbox takes
// "min_lon,min_lat,max_lon,max_lat".
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for flag, key := range map[string]string{
		"output":    "scene.output_dir",
		"log-level": "logging.level",
	} {
		if f := flags.Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("bind flag %s: %w", flag, err)
			}
		}
	}

	f := flags.Lookup("bbox")
	if f == nil || !f.Changed {
		return nil
	}
	parts := strings.Split(f.Value.String(), ",")
	if len(parts) != 4 {
		return fmt.Errorf("--bbox wants 4 comma-separated values, got %q", f.Value.String())
	}
	for i, key := range []string{"scene.min_lon", "scene.min_lat", "scene.max_lon", "scene.max_lat"} {
		v.Set(key, strings.TrimSpace(parts[i]))
	}
	return nil
}

// Validate checks that required configuration fields are present and sane.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Database.Host == "" {
		errs = append(errs, "database.host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", c.Database.Port))
	}
	if c.Database.User == "" {
		errs = append(errs, "database.user is required")
	}
	if c.Database.DBName == "" {
		errs = append(errs, "database.dbname is required")
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, "server.read_timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, "server.write_timeout must be positive")
	}

	if c.DEM.WCSURL == "" {
		errs = append(errs, "dem.wcs_url is required")
	}
	if c.DEM.CoverageID == "" {
		errs = append(errs, "dem.coverage_id is required")
	}
	if c.DEM.ResolutionDeg <= 0 {
		errs = append(errs, "dem.resolution_deg must be positive")
	}
	if c.DEM.PaddingM < 0 {
		errs = append(errs, "dem.padding_m must not be negative")
	}
	if c.DEM.MaxAttempts < 1 {
		errs = append(errs, "dem.max_attempts must be at least 1")
	}
	if c.DEM.Timeout <= 0 {
		errs = append(errs, "dem.timeout must be positive")
	}

	if c.Buildings.EmbedDepth < 0 {
		errs = append(errs, "buildings.embed_depth must not be negative")
	}
	if c.Buildings.WeldTolerance < 0 || c.Buildings.DegenerateArea < 0 {
		errs = append(errs, "buildings.weld_tolerance and buildings.degenerate_area must not be negative")
	}
	if c.Buildings.MergeBatchSize < 1 {
		errs = append(errs, "buildings.merge_batch_size must be at least 1")
	}
	if c.Buildings.Workers < 1 {
		errs = append(errs, "buildings.workers must be at least 1")
	}

	if c.Telecom.Enabled {
		if c.Telecom.OverpassURL == "" {
			errs = append(errs, "telecom.overpass_url is required when telecom is enabled")
		}
		if c.Telecom.DefaultHeight <= 0 || c.Telecom.Radius <= 0 {
			errs = append(errs, "telecom.default_height and telecom.radius must be positive")
		}
		if c.Telecom.Sections < 3 {
			errs = append(errs, "telecom.sections must be at least 3")
		}
	}

	if c.Ditto.Enabled && c.Ditto.URL == "" {
		errs = append(errs, "ditto.url is required when ditto is enabled")
	}

	if c.Scene.OutputDir == "" {
		errs = append(errs, "scene.output_dir is required")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
