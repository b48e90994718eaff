package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"
	"sort"

	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// Checkpoint backends
const (
	CheckpointFile   = "file"   // lastTs rewritten in the configuration document
	CheckpointPebble = "pebble" // lastTs kept in a Pebble database
)

// Envelope formats for message handlers
const (
	FormatJSON    = "json"
	FormatMsgpack = "msgpack"
)

// SourceConfiguration describes the oplog connection
type SourceConfiguration struct {
	Host           string `toml:"host" json:"host"`
	DB             string `toml:"db" json:"db"`
	Collection     string `toml:"collection" json:"collection"`
	User           string `toml:"user" json:"user"`
	Pass           string `toml:"pass" json:"pass"`
	AwaitTimeoutMS int    `toml:"await_timeout_ms" json:"await_timeout_ms"` // Tail wait before a batch ends
}

// HandlerConfiguration defines a named handler instance.
// Type selects the registered factory; the remaining fields are
// interpreted by that factory.
type HandlerConfiguration struct {
	Type      string   `toml:"type" json:"type"`
	Format    string   `toml:"format" json:"format,omitempty"`         // json or msgpack
	Prefix    string   `toml:"prefix" json:"prefix,omitempty"`         // Subject/topic prefix
	URL       string   `toml:"url" json:"url,omitempty"`               // nats
	Brokers   []string `toml:"brokers" json:"brokers,omitempty"`       // kafka
	BatchSize int      `toml:"batch_size" json:"batch_size,omitempty"` // kafka
	Path      string   `toml:"path" json:"path,omitempty"`             // sqlite
	Table     string   `toml:"table" json:"table,omitempty"`           // sqlite
	Level     string   `toml:"level" json:"level,omitempty"`           // log
}

// CheckpointConfiguration selects where lastTs is persisted
type CheckpointConfiguration struct {
	Backend string `toml:"backend" json:"backend"`
	Path    string `toml:"path" json:"path,omitempty"`
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose    bool   `toml:"verbose" json:"verbose"`
	Format     string `toml:"format" json:"format"` // "console" or "json"
	File       string `toml:"file" json:"file,omitempty"`
	MaxSizeMB  int    `toml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" json:"max_backups"`
	Compress   bool   `toml:"compress" json:"compress"`
}

// HTTPConfiguration controls the status endpoints
type HTTPConfiguration struct {
	Enabled       bool    `toml:"enabled" json:"enabled"`
	Address       string  `toml:"address" json:"address"`
	Port          int     `toml:"port" json:"port"`
	RatePerSecond float64 `toml:"rate_per_second" json:"rate_per_second"`
	Burst         int     `toml:"burst" json:"burst"`
	Secret        string  `toml:"secret" json:"secret,omitempty"` // Shared secret; empty disables auth
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled" json:"enabled"`
}

// Configuration is the configuration document. It doubles as the
// checkpoint file: LastTs is rewritten after every processed change.
type Configuration struct {
	Source      SourceConfiguration `toml:"source" json:"source"`
	LastTs      int64               `toml:"lastTs" json:"lastTs"`
	Collections map[string]string   `toml:"collections" json:"collections"`
	Period      int                 `toml:"period" json:"period"`

	Handlers   map[string]HandlerConfiguration `toml:"handlers,omitempty" json:"handlers,omitempty"`
	Checkpoint CheckpointConfiguration         `toml:"checkpoint" json:"checkpoint"`
	Logging    LoggingConfiguration            `toml:"logging" json:"logging"`
	HTTP       HTTPConfiguration               `toml:"http" json:"http"`
	Prometheus PrometheusConfiguration         `toml:"prometheus" json:"prometheus"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	HTTPPortFlag   = flag.Int("http-port", 0, "Status HTTP port (overrides config)")
	VerboseFlag    = flag.Bool("verbose", false, "Enable debug logging (overrides config)")
)

// Default returns the documented defaults
func Default() Configuration {
	return Configuration{
		Source: SourceConfiguration{
			Host:           "mongodb://localhost:27017",
			DB:             "local",
			Collection:     "oplog.$main",
			User:           "",
			Pass:           "",
			AwaitTimeoutMS: 1000,
		},
		LastTs:      0,
		Collections: map[string]string{},
		Period:      5000,

		Checkpoint: CheckpointConfiguration{
			Backend: CheckpointFile,
		},

		Logging: LoggingConfiguration{
			Verbose:    false,
			Format:     "console",
			MaxSizeMB:  20,
			MaxBackups: 5,
		},

		HTTP: HTTPConfiguration{
			Enabled:       true,
			Address:       "0.0.0.0",
			Port:          8080,
			RatePerSecond: 1,
			Burst:         15,
		},

		Prometheus: PrometheusConfiguration{
			Enabled: true,
		},
	}
}

// Load reads the document at path merged over the defaults.
// A missing file is not an error.
func Load(path string) (Configuration, bool, error) {
	config := Default()

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return config, false, nil
		}
		return config, false, err
	}

	if err := DecodeFile(path, &config); err != nil {
		return config, true, err
	}
	if config.Collections == nil {
		config.Collections = map[string]string{}
	}

	return config, true, nil
}

// ApplyFlags applies CLI overrides
func ApplyFlags(config *Configuration) {
	if *HTTPPortFlag != 0 {
		config.HTTP.Port = *HTTPPortFlag
	}
	if *VerboseFlag {
		config.Logging.Verbose = true
	}
}

// HandlerNames returns the distinct handler names referenced by the
// routing table, sorted.
func (c *Configuration) HandlerNames() []string {
	seen := make(map[string]bool, len(c.Collections))
	names := make([]string, 0, len(c.Collections))
	for _, name := range c.Collections {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Validate checks configuration for errors
func (c *Configuration) Validate() error {
	if c.Source.Host == "" {
		return fmt.Errorf("source host is required")
	}
	if c.Source.Collection == "" {
		return fmt.Errorf("source collection is required")
	}
	if c.Period < 0 {
		return fmt.Errorf("period must be >= 0")
	}
	if c.LastTs < 0 {
		return fmt.Errorf("lastTs must be >= 0")
	}

	for ns, name := range c.Collections {
		if ns == "" {
			return fmt.Errorf("empty namespace in collections")
		}
		if name == "" {
			return fmt.Errorf("namespace %q has no handler", ns)
		}
	}

	for name, h := range c.Handlers {
		if h.Type == "" {
			return fmt.Errorf("handler %q has no type", name)
		}
		switch h.Format {
		case "", FormatJSON, FormatMsgpack:
		default:
			return fmt.Errorf("handler %q: unknown format %q", name, h.Format)
		}
	}

	switch c.Checkpoint.Backend {
	case "", CheckpointFile:
	case CheckpointPebble:
		if c.Checkpoint.Path == "" {
			return fmt.Errorf("pebble checkpoint backend requires a path")
		}
	default:
		return fmt.Errorf("unknown checkpoint backend: %s", c.Checkpoint.Backend)
	}

	if c.HTTP.Enabled && (c.HTTP.Port < 1 || c.HTTP.Port > 65535) {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTP.Port)
	}

	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("unknown logging format: %s", c.Logging.Format)
	}

	return nil
}

// NodeID returns a stable identifier for this machine
func NodeID() uint64 {
	id, err := machineid.ProtectedID("moplog")
	if err != nil {
		log.Debug().Err(err).Msg("Machine ID unavailable, falling back to hostname")
		id, _ = os.Hostname()
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64()
}
