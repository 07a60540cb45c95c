// Package datastore wires cmd/backend's "serve" subcommand to one of the
// three datastore.Client backends (in-process memory, direct Postgres, or
// the external REST datastore service) through a cobra/pflag Config struct
// and a functional-option constructor.
package datastore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/openslides/backend/internal/datastore/memory"
	"github.com/openslides/backend/internal/datastore/postgres"
	"github.com/openslides/backend/internal/datastore/rest"
	pkgdatastore "github.com/openslides/backend/pkg/datastore"
	"github.com/openslides/backend/pkg/fqid"
)

// Engine names which datastore.Client backend to construct.
type Engine string

const (
	MemoryEngine   Engine = "memory"
	PostgresEngine Engine = "postgres"
	RESTEngine     Engine = "rest"
)

// Config is the flag-bindable configuration for the datastore backend.
type Config struct {
	Engine         string
	RESTBaseURL    string
	PostgresURI    string
	RequestTimeout time.Duration
}

// RegisterDatastoreFlagsWithPrefix registers one flag per Config field onto
// flags, each named "<prefix->datastore-<field>" (prefix may be empty),
// binding directly into config so a caller can read the parsed values back
// out of the same struct it passed in.
func RegisterDatastoreFlagsWithPrefix(flags *pflag.FlagSet, prefix string, config *Config) error {
	name := func(suffix string) string {
		if prefix == "" {
			return "datastore-" + suffix
		}
		return prefix + "-datastore-" + suffix
	}
	flags.StringVar(&config.Engine, name("engine"), string(MemoryEngine), "datastore backend to use (memory, postgres, rest)")
	flags.StringVar(&config.RESTBaseURL, name("rest-url"), "", "base URL of the external datastore service (rest engine only)")
	flags.StringVar(&config.PostgresURI, name("postgres-uri"), "", "Postgres connection string (postgres engine only)")
	flags.DurationVar(&config.RequestTimeout, name("request-timeout"), 10*time.Second, "per-request timeout applied to the rest engine's HTTP client")
	return nil
}

// DefaultDatastoreConfig returns the Config RegisterDatastoreFlagsWithPrefix
// would produce against an unparsed flag set, for callers that want the
// defaults without constructing a pflag.FlagSet themselves.
func DefaultDatastoreConfig() *Config {
	cfg := &Config{}
	_ = RegisterDatastoreFlagsWithPrefix(&pflag.FlagSet{}, "", cfg)
	return cfg
}

// options accumulates what NewDatastore needs beyond a bare Config:
// pre-built dependencies (a Postgres pool) and, for the memory engine,
// seed fixtures loaded from files or literal contents.
type options struct {
	engine           Engine
	restBaseURL      string
	requestTimeout   time.Duration
	pool             *pgxpool.Pool
	seedFiles        []string
	seedFileContents map[string][]byte
}

// Option configures NewDatastore.
type Option func(*options)

// WithEngine overrides the backend to construct, ignoring Config.Engine.
func WithEngine(engine Engine) Option {
	return func(o *options) { o.engine = engine }
}

// WithRESTBaseURL sets the external datastore service URL for RESTEngine.
func WithRESTBaseURL(url string) Option {
	return func(o *options) { o.restBaseURL = url }
}

// WithRequestTimeout overrides the rest engine's per-request HTTP timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// WithPostgresPool supplies an already-connected pool for PostgresEngine,
// letting cmd/backend apply postgres.Schema and run health checks before
// handing the pool to this package.
func WithPostgresPool(pool *pgxpool.Pool) Option {
	return func(o *options) { o.pool = pool }
}

// SetBootstrapFiles loads memory-engine seed fixtures from JSON or YAML
// files (by extension), each holding a top-level array of
// memory.Fixture-shaped objects
// (`[{"fqid": "meeting/1", "fields": {...}}, ...]`).
func SetBootstrapFiles(paths []string) Option {
	return func(o *options) { o.seedFiles = append(o.seedFiles, paths...) }
}

// SetBootstrapFileContents loads memory-engine seed fixtures from literal
// byte slices keyed by a caller-chosen label, in the same shape as
// SetBootstrapFiles. The label's extension picks the parser (JSON unless it
// ends in .yaml/.yml) and names the source in error messages.
func SetBootstrapFileContents(contents map[string][]byte) Option {
	return func(o *options) {
		if o.seedFileContents == nil {
			o.seedFileContents = map[string][]byte{}
		}
		for k, v := range contents {
			o.seedFileContents[k] = v
		}
	}
}

// FromConfig seeds the option set's engine/rest/timeout fields from a parsed
// Config, for callers that built one via RegisterDatastoreFlagsWithPrefix.
func FromConfig(cfg *Config) Option {
	return func(o *options) {
		o.engine = Engine(cfg.Engine)
		o.restBaseURL = cfg.RESTBaseURL
		o.requestTimeout = cfg.RequestTimeout
	}
}

type seedFixture struct {
	FQId   string         `json:"fqid" yaml:"fqid"`
	Fields map[string]any `json:"fields" yaml:"fields"`
}

// NewDatastore builds a pkg/datastore.Client for the engine selected by opts
// (defaulting to MemoryEngine), applying every SetBootstrapFile(Contents)
// seed against it when the chosen engine is MemoryEngine.
func NewDatastore(ctx context.Context, opts ...Option) (pkgdatastore.Client, error) {
	o := &options{engine: MemoryEngine, requestTimeout: 10 * time.Second}
	for _, opt := range opts {
		opt(o)
	}

	switch o.engine {
	case MemoryEngine, "":
		client := memory.New()
		fixtures, err := loadFixtures(o)
		if err != nil {
			return nil, err
		}
		if len(fixtures) > 0 {
			if err := client.Seed(fixtures); err != nil {
				return nil, fmt.Errorf("datastore: seeding memory engine: %w", err)
			}
		}
		return client, nil

	case PostgresEngine:
		if o.pool == nil {
			return nil, fmt.Errorf("datastore: postgres engine requires WithPostgresPool")
		}
		return postgres.New(o.pool), nil

	case RESTEngine:
		if o.restBaseURL == "" {
			return nil, fmt.Errorf("datastore: rest engine requires a base URL (WithRESTBaseURL or --datastore-rest-url)")
		}
		client := rest.New(o.restBaseURL)
		if o.requestTimeout > 0 {
			client.HTTPClient.Timeout = o.requestTimeout
		}
		return client, nil

	default:
		return nil, fmt.Errorf("datastore: unknown engine %q", o.engine)
	}
}

func loadFixtures(o *options) ([]memory.Fixture, error) {
	type source struct {
		label string
		data  []byte
	}
	var raw []source
	for _, path := range o.seedFiles {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("datastore: reading seed file %q: %w", path, err)
		}
		raw = append(raw, source{label: path, data: b})
	}
	for label, b := range o.seedFileContents {
		raw = append(raw, source{label: label, data: b})
	}

	var out []memory.Fixture
	for _, src := range raw {
		var entries []seedFixture
		var err error
		switch ext := strings.ToLower(filepath.Ext(src.label)); ext {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(src.data, &entries)
		default:
			err = json.Unmarshal(src.data, &entries)
		}
		if err != nil {
			return nil, fmt.Errorf("datastore: parsing seed fixtures from %q: %w", src.label, err)
		}
		for _, e := range entries {
			id, err := fqid.ParseFQId(e.FQId)
			if err != nil {
				return nil, fmt.Errorf("datastore: parsing seed fixture fqid %q: %w", e.FQId, err)
			}
			out = append(out, memory.Fixture{ID: id, Fields: e.Fields})
		}
	}
	return out, nil
}
