package dbfill

import (
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/koustreak/dbfill/internal/database"
	"github.com/koustreak/dbfill/internal/database/postgres"
	"github.com/koustreak/dbfill/internal/filestore"
	"github.com/koustreak/dbfill/internal/logger"
)

// tracerName identifies spans emitted by this package.
const tracerName = "github.com/koustreak/dbfill/internal/dbfill"

// Options configures Open.
type Options struct {
	Conn database.ConnInfo

	// DataFolder is the filesystem root for filler artifacts. Created when
	// missing.
	DataFolder string

	// Schema is created if needed and placed first in the search path.
	Schema string

	// AdditionalSearchPath is appended after the default path. nil means
	// "not requested"; together with an empty Schema that skips search
	// path resolution entirely.
	AdditionalSearchPath []string

	PreInitScript  string
	PostInitScript string

	// InitScript replaces the bundled core init script when non-empty.
	InitScript string

	// FallbackDB is used to create a missing target database and to read
	// the server's boot-time search path.
	FallbackDB string

	// RegisterExec records ExecFile into _exec_info on InitDB.
	RegisterExec bool
	ExecFile     string

	Logger *logger.Logger
	Tracer trace.Tracer

	// HTTPClient is used by Base.Download. Defaults to http.DefaultClient.
	HTTPClient *http.Client

	// Store is the object store behind Base.FetchObject. Optional.
	Store filestore.Store

	// Dial opens sessions. Defaults to postgres.Dial.
	Dial postgres.Dialer
}

// DefaultOptions mirrors the historical defaults: a "datafolder" artifact
// root, the postgis schema appended to the search path and the "postgres"
// maintenance database as fallback.
func DefaultOptions() Options {
	return Options{
		DataFolder:           "datafolder",
		AdditionalSearchPath: []string{"postgis"},
		FallbackDB:           postgres.DefaultFallbackDB,
	}
}

func (o Options) logger() *logger.Logger {
	if o.Logger == nil {
		return logger.Nop()
	}
	return o.Logger
}

func (o Options) tracer() trace.Tracer {
	if o.Tracer == nil {
		return otel.Tracer(tracerName)
	}
	return o.Tracer
}

func (o Options) httpClient() *http.Client {
	if o.HTTPClient == nil {
		return http.DefaultClient
	}
	return o.HTTPClient
}

func (o Options) dataFolder() string {
	if o.DataFolder == "" {
		return "datafolder"
	}
	return o.DataFolder
}
