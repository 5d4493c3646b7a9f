// Package config builds the immutable run configuration from defaults, an
// optional YAML file, MODELCRAFT_* environment variables and CLI flags.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/danielpatrickdp/modelcraft/internal/xtal"
)

// #region types

// Mode selects the experimental method.
type Mode string

const (
	ModeXRay Mode = "xray"
	ModeEM   Mode = "em"
)

// Config is the complete run configuration. It is built once and passed by
// value; nothing mutates it after Load returns.
type Config struct {
	Mode     Mode           `mapstructure:"mode"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Run      RunConfig      `mapstructure:"run"`
	XRay     XRayConfig     `mapstructure:"xray"`
	EM       EMConfig       `mapstructure:"em"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Publish  PublishConfig  `mapstructure:"publish"`
	Remote   RemoteConfig   `mapstructure:"remote"`
}

// LoggerConfig controls zap output.
type LoggerConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"` // console | json
	ServiceName string `mapstructure:"service_name"`
	LogFile     string `mapstructure:"log_file"`
	MaxSize     int    `mapstructure:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAge      int    `mapstructure:"max_age"`
	Compress    bool   `mapstructure:"compress"`
}

// RunConfig holds settings shared by both modes.
type RunConfig struct {
	Contents           string        `mapstructure:"contents"`
	Model              string        `mapstructure:"model"`
	Cycles             int           `mapstructure:"cycles"`
	AutoStopCycles     int           `mapstructure:"auto_stop_cycles"`
	Directory          string        `mapstructure:"directory"`
	OverwriteDirectory bool          `mapstructure:"overwrite_directory"`
	KeepFiles          bool          `mapstructure:"keep_files"`
	KeepLogs           bool          `mapstructure:"keep_logs"`
	Threads            int           `mapstructure:"threads"`
	StepTimeout        time.Duration `mapstructure:"step_timeout"`
	Disable            DisableConfig `mapstructure:"disable"`
}

// DisableConfig switches individual steps off.
type DisableConfig struct {
	Buccaneer       bool `mapstructure:"buccaneer"`
	Nautilus        bool `mapstructure:"nautilus"`
	Parrot          bool `mapstructure:"parrot"`
	Pruning         bool `mapstructure:"pruning"`
	Sheetbend       bool `mapstructure:"sheetbend"`
	DummyAtoms      bool `mapstructure:"dummy_atoms"`
	Waters          bool `mapstructure:"waters"`
	SideChainFixing bool `mapstructure:"side_chain_fixing"`
}

// XRayConfig holds crystallographic inputs.
type XRayConfig struct {
	Data         string `mapstructure:"data"`
	Observations string `mapstructure:"observations"`
	Phases       string `mapstructure:"phases"`
	FreeRFlag    string `mapstructure:"freerflag"`
	Unbiased     bool   `mapstructure:"unbiased"`
	Twinned      bool   `mapstructure:"twinned"`
	Basic        bool   `mapstructure:"basic"`
}

// EMConfig holds cryo-EM inputs.
type EMConfig struct {
	Maps       []string `mapstructure:"maps"`
	Resolution float64  `mapstructure:"resolution"`
	Mask       string   `mapstructure:"mask"`
	Blur       float64  `mapstructure:"blur"`
}

// PipelineConfig holds the thresholds the cycle controller decides on.
type PipelineConfig struct {
	PruneResolution     float64 `mapstructure:"prune_resolution"`
	SideChainRWork      float64 `mapstructure:"side_chain_rwork"`
	SideChainResolution float64 `mapstructure:"side_chain_resolution"`
	CellLengthTolerance float64 `mapstructure:"cell_length_tolerance"`
	CellAngleTolerance  float64 `mapstructure:"cell_angle_tolerance"`
}

// PublishConfig optionally copies final outputs to object storage.
type PublishConfig struct {
	URL       string `mapstructure:"url"` // s3://bucket/prefix
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	PathStyle bool   `mapstructure:"path_style"`
}

// RemoteConfig points step execution at a stepd daemon instead of local exec.
type RemoteConfig struct {
	Address string `mapstructure:"address"`
}

// #endregion types

// #region defaults

// DefaultConfig returns the built-in defaults for an X-ray run.
func DefaultConfig() Config {
	tol := xtal.DefaultCellTolerance()
	return Config{
		Mode: ModeXRay,
		Logger: LoggerConfig{
			Level:       "info",
			Format:      "console",
			ServiceName: "modelcraft",
			MaxSize:     10,
			MaxBackups:  3,
			MaxAge:      28,
		},
		Run: RunConfig{
			Cycles:         25,
			AutoStopCycles: 4,
			Directory:      "modelcraft",
			Threads:        1,
			StepTimeout:    6 * time.Hour,
		},
		XRay: XRayConfig{},
		EM:   EMConfig{},
		Pipeline: PipelineConfig{
			PruneResolution:     2.3,
			SideChainRWork:      0.3,
			SideChainResolution: 2.5,
			CellLengthTolerance: tol.Length,
			CellAngleTolerance:  tol.Angle,
		},
		Publish: PublishConfig{Region: "us-east-1"},
	}
}

// SetDefaults registers every key with viper so environment variables bind
// during Unmarshal even when no config file mentions them.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("mode", string(d.Mode))

	v.SetDefault("logger.level", d.Logger.Level)
	v.SetDefault("logger.format", d.Logger.Format)
	v.SetDefault("logger.service_name", d.Logger.ServiceName)
	v.SetDefault("logger.log_file", d.Logger.LogFile)
	v.SetDefault("logger.max_size", d.Logger.MaxSize)
	v.SetDefault("logger.max_backups", d.Logger.MaxBackups)
	v.SetDefault("logger.max_age", d.Logger.MaxAge)
	v.SetDefault("logger.compress", d.Logger.Compress)

	v.SetDefault("run.contents", "")
	v.SetDefault("run.model", "")
	v.SetDefault("run.cycles", d.Run.Cycles)
	v.SetDefault("run.auto_stop_cycles", d.Run.AutoStopCycles)
	v.SetDefault("run.directory", d.Run.Directory)
	v.SetDefault("run.overwrite_directory", false)
	v.SetDefault("run.keep_files", false)
	v.SetDefault("run.keep_logs", false)
	v.SetDefault("run.threads", d.Run.Threads)
	v.SetDefault("run.step_timeout", d.Run.StepTimeout)
	for _, k := range []string{"buccaneer", "nautilus", "parrot", "pruning", "sheetbend", "dummy_atoms", "waters", "side_chain_fixing"} {
		v.SetDefault("run.disable."+k, false)
	}

	v.SetDefault("xray.data", "")
	v.SetDefault("xray.observations", "")
	v.SetDefault("xray.phases", "")
	v.SetDefault("xray.freerflag", "")
	v.SetDefault("xray.unbiased", false)
	v.SetDefault("xray.twinned", false)
	v.SetDefault("xray.basic", false)

	v.SetDefault("em.maps", []string{})
	v.SetDefault("em.resolution", 0.0)
	v.SetDefault("em.mask", "")
	v.SetDefault("em.blur", 0.0)

	v.SetDefault("pipeline.prune_resolution", d.Pipeline.PruneResolution)
	v.SetDefault("pipeline.side_chain_rwork", d.Pipeline.SideChainRWork)
	v.SetDefault("pipeline.side_chain_resolution", d.Pipeline.SideChainResolution)
	v.SetDefault("pipeline.cell_length_tolerance", d.Pipeline.CellLengthTolerance)
	v.SetDefault("pipeline.cell_angle_tolerance", d.Pipeline.CellAngleTolerance)

	v.SetDefault("publish.url", "")
	v.SetDefault("publish.region", d.Publish.Region)
	v.SetDefault("publish.endpoint", "")
	v.SetDefault("publish.path_style", false)

	v.SetDefault("remote.address", "")
}

// #endregion defaults

// #region load

// NewViper returns a viper instance with defaults, env binding and, when
// cfgFile is non-empty, the given YAML file.
func NewViper(cfgFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix("MODELCRAFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	return v, nil
}

// Load unmarshals and validates the configuration held by v.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the inputs each mode requires.
func (c Config) Validate() error {
	if c.Run.Contents == "" {
		return fmt.Errorf("config: contents file is required")
	}
	if c.Run.Cycles < 1 {
		return fmt.Errorf("config: cycles must be at least 1, got %d", c.Run.Cycles)
	}
	if c.Run.AutoStopCycles < 0 {
		return fmt.Errorf("config: auto_stop_cycles must not be negative")
	}
	if c.Run.Threads < 1 {
		return fmt.Errorf("config: threads must be at least 1")
	}
	if c.Run.StepTimeout <= 0 {
		return fmt.Errorf("config: step_timeout must be positive")
	}
	switch c.Mode {
	case ModeXRay:
		if c.XRay.Data == "" {
			return fmt.Errorf("config: xray mode requires a data file")
		}
	case ModeEM:
		if len(c.EM.Maps) == 0 || len(c.EM.Maps) > 2 {
			return fmt.Errorf("config: em mode requires one map or two half maps, got %d", len(c.EM.Maps))
		}
		if c.EM.Resolution <= 0 {
			return fmt.Errorf("config: em mode requires a positive resolution")
		}
	default:
		return fmt.Errorf("config: unknown mode %q", c.Mode)
	}
	if c.Publish.URL != "" && !strings.HasPrefix(c.Publish.URL, "s3://") {
		return fmt.Errorf("config: publish url must start with s3://")
	}
	return nil
}

// #endregion load
