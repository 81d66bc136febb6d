package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// FileName is the configuration file looked up in the config directory.
const FileName = "ctf.cfg.json"

// GameplayConfig holds the rules of the game mode
type GameplayConfig struct {
	DroppedFlagReturnTimeout   time.Duration
	TeamCanReturnFlag          bool
	CappingRequiresFlagAtBase  bool
	FlagsGlow                  bool
	CapsToWin                  int
	AllowDropFlagCommand       bool
	DropFlagCooldown           time.Duration
	IgnoreTouchesAfterRoundEnd bool
	StatusInterval             time.Duration
}

// SoundConfig names the cues played on flag transitions. Empty names are
// silent.
type SoundConfig struct {
	TeamFlagStolen    string `json:"teamFlagStolen" mapstructure:"teamFlagStolen"`
	EnemyFlagStolen   string `json:"enemyFlagStolen" mapstructure:"enemyFlagStolen"`
	TeamFlagDropped   string `json:"teamFlagDropped" mapstructure:"teamFlagDropped"`
	EnemyFlagDropped  string `json:"enemyFlagDropped" mapstructure:"enemyFlagDropped"`
	TeamFlagReturned  string `json:"teamFlagReturned" mapstructure:"teamFlagReturned"`
	EnemyFlagReturned string `json:"enemyFlagReturned" mapstructure:"enemyFlagReturned"`
	TeamFlagCaptured  string `json:"teamFlagCaptured" mapstructure:"teamFlagCaptured"`
	EnemyFlagCaptured string `json:"enemyFlagCaptured" mapstructure:"enemyFlagCaptured"`
}

// FlagConfig holds the appearance of the flag pickups
type FlagConfig struct {
	Model        string
	GlowDistance int
	Height       float64
}

// MemoryConfig holds in-memory/JSON storage backend settings
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
}

// SQLiteConfig holds SQLite storage backend settings
type SQLiteConfig struct {
	Path string `json:"path" mapstructure:"path"`
}

// DBConfig holds Postgres connection settings
type DBConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
}

// StorageConfig selects and configures the event recorder backend
type StorageConfig struct {
	Type   string
	Memory MemoryConfig
	SQLite SQLiteConfig
	DB     DBConfig
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled      bool
	ServiceName  string
	BatchTimeout time.Duration
	Endpoint     string
	Insecure     bool
	// MetricInterval is how often the meter provider exports.
	MetricInterval time.Duration
}

// GraylogConfig holds the GELF log sink settings
type GraylogConfig struct {
	Enabled bool
	Address string
}

// InfluxConfig holds the InfluxDB event sink settings
type InfluxConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Protocol string
	Token    string
	Org      string
	Bucket   string
}

// APIConfig holds the stats web service that finished matches are uploaded
// to. An empty ServerURL disables uploads.
type APIConfig struct {
	ServerURL string
	APIKey    string
	Tag       string
}

func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./ctflogs")
	viper.SetDefault("mapDataDir", "./mapdata")
	viper.SetDefault("language", "en")
	viper.SetDefault("game", "csgo")

	viper.SetDefault("ctf.droppedFlagReturnTimeout", 45.0)
	viper.SetDefault("ctf.teamCanReturnFlag", false)
	viper.SetDefault("ctf.cappingRequiresFlagAtBase", false)
	viper.SetDefault("ctf.flagsGlow", true)
	viper.SetDefault("ctf.capsToWin", 3)
	viper.SetDefault("ctf.allowDropFlagCommand", true)
	viper.SetDefault("ctf.dropFlagCooldown", 2.0)
	viper.SetDefault("ctf.ignoreTouchesAfterRoundEnd", false)
	viper.SetDefault("ctf.statusInterval", "1s")

	viper.SetDefault("ctf.sounds.teamFlagStolen", "ctf/sfx_ctf_grab_en.mp3")
	viper.SetDefault("ctf.sounds.enemyFlagStolen", "ctf/sfx_ctf_grab_pl.mp3")
	viper.SetDefault("ctf.sounds.teamFlagDropped", "ctf/sfx_ctf_drop.mp3")
	viper.SetDefault("ctf.sounds.enemyFlagDropped", "ctf/sfx_ctf_drop.mp3")
	viper.SetDefault("ctf.sounds.teamFlagReturned", "ctf/sfx_ctf_rtn.mp3")
	viper.SetDefault("ctf.sounds.enemyFlagReturned", "ctf/sfx_ctf_rtn.mp3")
	viper.SetDefault("ctf.sounds.teamFlagCaptured", "ctf/sfx_ctf_cap_pl.mp3")
	viper.SetDefault("ctf.sounds.enemyFlagCaptured", "ctf/sfx_ctf_cap_pl.mp3")

	viper.SetDefault("ctf.flag.model", "models/props/cs_militia/caseofbeer01.mdl")
	viper.SetDefault("ctf.flag.glowDistance", 10240)
	viper.SetDefault("ctf.flag.height", 12.0)

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.memory.outputDir", "./ctfmatches")
	viper.SetDefault("storage.memory.compressOutput", true)
	viper.SetDefault("storage.sqlite.path", "./ctfmatches/ctf.db")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "ctf")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "ctf-metrics")
	viper.SetDefault("influx.bucket", "ctf_events")

	viper.SetDefault("api.serverUrl", "")
	viper.SetDefault("api.apiKey", "")
	viper.SetDefault("api.tag", "ctf")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "ctf-extension")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)
	viper.SetDefault("otel.metricInterval", "60s")
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	setDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

// LoadDefaults registers the defaults without reading a file.
func LoadDefaults() {
	setDefaults()
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// ErrInvalidSetting is matched by every setting GetGameplayConfig rejected.
var ErrInvalidSetting = errors.New("invalid setting")

func seconds(key string) time.Duration {
	return time.Duration(viper.GetFloat64(key) * float64(time.Second))
}

// GetGameplayConfig returns the game rules. Out of range values are replaced
// by their defaults and reported in the returned error.
func GetGameplayConfig() (GameplayConfig, error) {
	cfg := GameplayConfig{
		DroppedFlagReturnTimeout:   seconds("ctf.droppedFlagReturnTimeout"),
		TeamCanReturnFlag:          viper.GetBool("ctf.teamCanReturnFlag"),
		CappingRequiresFlagAtBase:  viper.GetBool("ctf.cappingRequiresFlagAtBase"),
		FlagsGlow:                  viper.GetBool("ctf.flagsGlow"),
		CapsToWin:                  viper.GetInt("ctf.capsToWin"),
		AllowDropFlagCommand:       viper.GetBool("ctf.allowDropFlagCommand"),
		DropFlagCooldown:           seconds("ctf.dropFlagCooldown"),
		IgnoreTouchesAfterRoundEnd: viper.GetBool("ctf.ignoreTouchesAfterRoundEnd"),
		StatusInterval:             viper.GetDuration("ctf.statusInterval"),
	}

	var errs []error
	if cfg.DroppedFlagReturnTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%w: ctf.droppedFlagReturnTimeout must be positive", ErrInvalidSetting))
		cfg.DroppedFlagReturnTimeout = 45 * time.Second
	}
	if cfg.CapsToWin < 1 {
		errs = append(errs, fmt.Errorf("%w: ctf.capsToWin must be at least 1", ErrInvalidSetting))
		cfg.CapsToWin = 3
	}
	if cfg.DropFlagCooldown < 0 {
		errs = append(errs, fmt.Errorf("%w: ctf.dropFlagCooldown must not be negative", ErrInvalidSetting))
		cfg.DropFlagCooldown = 2 * time.Second
	}
	if cfg.StatusInterval <= 0 {
		errs = append(errs, fmt.Errorf("%w: ctf.statusInterval must be positive", ErrInvalidSetting))
		cfg.StatusInterval = time.Second
	}
	return cfg, errors.Join(errs...)
}

// GetSoundConfig returns the flag transition sound cues.
func GetSoundConfig() SoundConfig {
	return SoundConfig{
		TeamFlagStolen:    viper.GetString("ctf.sounds.teamFlagStolen"),
		EnemyFlagStolen:   viper.GetString("ctf.sounds.enemyFlagStolen"),
		TeamFlagDropped:   viper.GetString("ctf.sounds.teamFlagDropped"),
		EnemyFlagDropped:  viper.GetString("ctf.sounds.enemyFlagDropped"),
		TeamFlagReturned:  viper.GetString("ctf.sounds.teamFlagReturned"),
		EnemyFlagReturned: viper.GetString("ctf.sounds.enemyFlagReturned"),
		TeamFlagCaptured:  viper.GetString("ctf.sounds.teamFlagCaptured"),
		EnemyFlagCaptured: viper.GetString("ctf.sounds.enemyFlagCaptured"),
	}
}

// GetFlagConfig returns the flag appearance.
func GetFlagConfig() FlagConfig {
	return FlagConfig{
		Model:        viper.GetString("ctf.flag.model"),
		GlowDistance: viper.GetInt("ctf.flag.glowDistance"),
		Height:       viper.GetFloat64("ctf.flag.height"),
	}
}

// GetStorageConfig returns the recorder backend settings.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: viper.GetString("storage.type"),
		Memory: MemoryConfig{
			OutputDir:      viper.GetString("storage.memory.outputDir"),
			CompressOutput: viper.GetBool("storage.memory.compressOutput"),
		},
		SQLite: SQLiteConfig{
			Path: viper.GetString("storage.sqlite.path"),
		},
		DB: DBConfig{
			Host:     viper.GetString("db.host"),
			Port:     viper.GetString("db.port"),
			Username: viper.GetString("db.username"),
			Password: viper.GetString("db.password"),
			Database: viper.GetString("db.database"),
		},
	}
}

// GetOTelConfig returns the OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:        viper.GetBool("otel.enabled"),
		ServiceName:    viper.GetString("otel.serviceName"),
		BatchTimeout:   viper.GetDuration("otel.batchTimeout"),
		Endpoint:       viper.GetString("otel.endpoint"),
		Insecure:       viper.GetBool("otel.insecure"),
		MetricInterval: viper.GetDuration("otel.metricInterval"),
	}
}

// GetGraylogConfig returns the GELF sink settings.
func GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled: viper.GetBool("graylog.enabled"),
		Address: viper.GetString("graylog.address"),
	}
}

// GetInfluxConfig returns the InfluxDB sink settings.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:  viper.GetBool("influx.enabled"),
		Host:     viper.GetString("influx.host"),
		Port:     viper.GetString("influx.port"),
		Protocol: viper.GetString("influx.protocol"),
		Token:    viper.GetString("influx.token"),
		Org:      viper.GetString("influx.org"),
		Bucket:   viper.GetString("influx.bucket"),
	}
}

// GetAPIConfig returns the upload settings.
func GetAPIConfig() APIConfig {
	return APIConfig{
		ServerURL: viper.GetString("api.serverUrl"),
		APIKey:    viper.GetString("api.apiKey"),
		Tag:       viper.GetString("api.tag"),
	}
}
