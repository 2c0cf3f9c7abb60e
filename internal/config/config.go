// Package config loads the settings of a fill run from a YAML file and
// DBFILL_* environment variables. Environment values win over the file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"go.yaml.in/yaml/v3"

	"github.com/koustreak/dbfill/internal/database"
	"github.com/koustreak/dbfill/internal/database/postgres"
	"github.com/koustreak/dbfill/internal/errs"
	"github.com/koustreak/dbfill/internal/filestore"
	"github.com/koustreak/dbfill/internal/logger"
	"github.com/koustreak/dbfill/internal/telemetry"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DBFILL_"

// Config is the complete configuration of a fill run.
type Config struct {
	Database  database.ConnInfo `yaml:"database" envPrefix:"DB_"`
	Fill      Fill              `yaml:"fill" envPrefix:"FILL_"`
	Log       logger.Config     `yaml:"log" envPrefix:"LOG_"`
	Store     filestore.Config  `yaml:"store" envPrefix:"STORE_"`
	Telemetry telemetry.Config  `yaml:"telemetry" envPrefix:"OTEL_"`

	// Path is the file the configuration was read from, empty when none.
	Path string `yaml:"-" env:"-"`
}

// Fill holds the database building settings.
type Fill struct {
	DataFolder string `yaml:"data_folder" env:"DATA_FOLDER"`
	Schema     string `yaml:"schema" env:"SCHEMA"`

	// AdditionalSearchPath set to null in YAML disables search path
	// resolution when no schema is given either.
	AdditionalSearchPath []string `yaml:"additional_search_path" env:"ADDITIONAL_SEARCH_PATH" envSeparator:","`

	PreInitScript      string `yaml:"pre_init_script" env:"PRE_INIT_SCRIPT"`
	PreInitScriptFile  string `yaml:"pre_init_script_file" env:"PRE_INIT_SCRIPT_FILE"`
	PostInitScript     string `yaml:"post_init_script" env:"POST_INIT_SCRIPT"`
	PostInitScriptFile string `yaml:"post_init_script_file" env:"POST_INIT_SCRIPT_FILE"`

	FallbackDB string `yaml:"fallback_db" env:"FALLBACK_DB"`

	RegisterExec bool `yaml:"register_exec" env:"REGISTER_EXEC"`

	// ExecFile defaults to the configuration file.
	ExecFile string `yaml:"exec_file" env:"EXEC_FILE"`
}

// Default returns the configuration used when neither file nor environment
// says otherwise.
func Default() *Config {
	return &Config{
		Database: database.ConnInfo{Host: "localhost", Port: database.DefaultPort},
		Fill: Fill{
			DataFolder:           "datafolder",
			AdditionalSearchPath: []string{"postgis"},
			FallbackDB:           postgres.DefaultFallbackDB,
		},
		Log:       *logger.DefaultConfig(),
		Telemetry: telemetry.Config{ServiceName: "dbfill"},
	}
}

// Load reads path (skipped when empty), applies environment overrides,
// inlines the init script files and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errs.Wrap(errs.ErrKindInvalidInput, fmt.Sprintf("read config %s", path), err)
		}
		if err := decode(data, cfg); err != nil {
			return nil, errs.Wrap(errs.ErrKindInvalidInput, fmt.Sprintf("parse config %s", path), err)
		}
		cfg.Path = path
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "parse environment", err)
	}

	if err := cfg.resolveFiles(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode rejects unknown keys so a misspelt setting is not silently
// ignored. An empty document leaves cfg untouched.
func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) resolveFiles() error {
	for _, s := range []struct {
		file   string
		script *string
	}{
		{c.Fill.PreInitScriptFile, &c.Fill.PreInitScript},
		{c.Fill.PostInitScriptFile, &c.Fill.PostInitScript},
	} {
		if s.file == "" {
			continue
		}
		if *s.script != "" {
			return errs.Newf(errs.ErrKindInvalidInput, "init script given both inline and as file %s", s.file)
		}
		data, err := os.ReadFile(c.relative(s.file))
		if err != nil {
			return errs.Wrap(errs.ErrKindInvalidInput, fmt.Sprintf("read init script %s", s.file), err)
		}
		*s.script = string(data)
	}

	if c.Fill.ExecFile == "" {
		c.Fill.ExecFile = c.Path
	}
	return nil
}

// relative resolves p against the configuration file's folder.
func (c *Config) relative(p string) string {
	if filepath.IsAbs(p) || c.Path == "" {
		return p
	}
	return filepath.Join(filepath.Dir(c.Path), p)
}

// Validate checks the settings that would otherwise fail late.
func (c *Config) Validate() error {
	if c.Database.Database == "" {
		return errs.New(errs.ErrKindInvalidInput, "database.database is required")
	}
	if c.Database.HasOptions() {
		if _, err := database.ParseSearchPathOption(c.Database.Options); err != nil {
			return err
		}
	}
	if c.Fill.Schema != "" {
		if err := database.CheckSQLNameSafe(c.Fill.Schema); err != nil {
			return err
		}
	}
	for _, s := range c.Fill.AdditionalSearchPath {
		if err := database.CheckSQLNameSafe(s); err != nil {
			return err
		}
	}
	if c.Fill.RegisterExec && c.Fill.ExecFile == "" {
		return errs.New(errs.ErrKindInvalidInput, "fill.register_exec needs an exec file or a config file")
	}
	if c.Store.Endpoint != "" && c.Store.Provider != "" && c.Store.Provider != filestore.ProviderMinIO {
		return errs.Newf(errs.ErrKindInvalidInput, "unsupported store provider %q", c.Store.Provider)
	}
	return nil
}
