package database

import "strings"

// DefaultPort is used when ConnInfo.Port is zero.
const DefaultPort = 5432

// ConnInfo holds the parameters of one PostgreSQL session.
// It is treated as immutable once the Database is constructed: the resolver
// returns a modified copy rather than editing the caller's value.
type ConnInfo struct {
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	Database string `yaml:"database" env:"NAME"`
	User     string `yaml:"user" env:"USER"`

	// Password may be left empty and supplied through a credentials file
	// (~/.pgpass or $PGPASSFILE).
	Password string `yaml:"password" env:"PASSWORD"`
	SSLMode  string `yaml:"sslmode" env:"SSLMODE"`

	// Options is the raw libpq "options" string. Only a search path
	// directive ("-c search_path=a,b") is supported.
	Options string `yaml:"options" env:"OPTIONS"`

	// Params are extra runtime parameters sent at connection start.
	Params map[string]string `yaml:"params" env:"-"`

	// SearchPath is the resolved schema search path. Empty means the
	// server default.
	SearchPath []string `yaml:"-" env:"-"`
}

// WithDatabase returns a copy of c targeting another database.
func (c ConnInfo) WithDatabase(name string) ConnInfo {
	c.Database = name
	return c
}

// WithoutSearchPath returns a copy of c that keeps the server's default search
// path. Used for side connections opened while resolving the search path.
func (c ConnInfo) WithoutSearchPath() ConnInfo {
	c.Options = ""
	c.SearchPath = nil
	return c
}

// WithSearchPath returns a copy of c carrying the resolved path.
func (c ConnInfo) WithSearchPath(path []string) ConnInfo {
	c.Options = ""
	c.SearchPath = append([]string(nil), path...)
	return c
}

// PortOrDefault returns the configured port or DefaultPort.
func (c ConnInfo) PortOrDefault() int {
	if c.Port == 0 {
		return DefaultPort
	}
	return c.Port
}

// SSLModeOrDefault returns the configured sslmode or "disable".
func (c ConnInfo) SSLModeOrDefault() string {
	if c.SSLMode == "" {
		return "disable"
	}
	return c.SSLMode
}

// HasOptions reports whether a raw options string was supplied.
func (c ConnInfo) HasOptions() bool {
	return strings.TrimSpace(c.Options) != ""
}
