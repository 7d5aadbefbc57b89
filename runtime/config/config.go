// Package config loads the settings of a runview host from YAML with
// environment overrides and turns them into transport and store options.
//
// Environment variables take precedence over the file:
//
//	RUNVIEW_ENDPOINT           - event stream URL
//	RUNVIEW_METHOD             - GET or POST (default: GET)
//	RUNVIEW_HEADERS            - extra headers, "Key=Value,Key2=Value2"
//	RUNVIEW_IDLE_TIMEOUT       - idle read timeout (default: "45s")
//	RUNVIEW_MAX_ATTEMPTS       - consecutive failures before giving up (default: 0, unlimited)
//	RUNVIEW_CONNECT_RATE       - connection attempts per second (default: 0, unlimited)
//	RUNVIEW_BACKOFF_INITIAL    - first reconnect delay (default: "500ms")
//	RUNVIEW_BACKOFF_MAX        - reconnect delay cap (default: "30s")
//	RUNVIEW_VALIDATE_SCHEMAS   - validate event payloads against JSON schemas
//	RUNVIEW_ARCHIVE            - none, memory, pulse or mongo (default: none)
//	RUNVIEW_REDIS_ADDR         - Redis address for the pulse archive
//	RUNVIEW_REDIS_PASSWORD     - Redis password
//	RUNVIEW_REDIS_MAP          - replicated map name (default: "runview-runs")
//	RUNVIEW_MONGO_URI          - MongoDB URI for the mongo archive
//	RUNVIEW_MONGO_DATABASE     - database name (default: "runview")
//	RUNVIEW_MONGO_COLLECTION   - collection name (default: "runs")
//	RUNVIEW_EVENT_LOG          - none, memory or mongo (default: none)
//	RUNVIEW_EVENT_LOG_MONGO_URI - MongoDB URI for the mongo event log
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"goa.design/runview/runtime/backoff"
	"goa.design/runview/runtime/events"
	"goa.design/runview/runtime/transport"
)

// Archive backends.
const (
	ArchiveNone   = "none"
	ArchiveMemory = "memory"
	ArchivePulse  = "pulse"
	ArchiveMongo  = "mongo"
)

// Event log backends.
const (
	EventLogNone   = "none"
	EventLogMemory = "memory"
	EventLogMongo  = "mongo"
)

type (
	// Config is the complete host configuration.
	Config struct {
		Endpoint        string            `yaml:"endpoint"`
		Method          string            `yaml:"method"`
		Headers         map[string]string `yaml:"headers"`
		IdleTimeout     time.Duration     `yaml:"idle_timeout"`
		MaxAttempts     int               `yaml:"max_attempts"`
		ConnectRate     float64           `yaml:"connect_rate"`
		ConnectBurst    int               `yaml:"connect_burst"`
		Backoff         Backoff           `yaml:"backoff"`
		ValidateSchemas bool              `yaml:"validate_schemas"`
		Archive         Archive           `yaml:"archive"`
		EventLog        EventLog          `yaml:"event_log"`
	}

	// Backoff configures the exponential reconnect delay.
	Backoff struct {
		Initial    time.Duration `yaml:"initial"`
		Max        time.Duration `yaml:"max"`
		Multiplier float64       `yaml:"multiplier"`
		Jitter     float64       `yaml:"jitter"`
	}

	// Archive selects where finished runs are stored.
	Archive struct {
		Backend string `yaml:"backend"`
		Redis   Redis  `yaml:"redis"`
		Mongo   Mongo  `yaml:"mongo"`
	}

	// Redis configures the pulse archive.
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		Map      string `yaml:"map"`
	}

	// EventLog selects where received events are journaled.
	EventLog struct {
		Backend string `yaml:"backend"`
		Mongo   Mongo  `yaml:"mongo"`
	}

	// Mongo configures a MongoDB backend.
	Mongo struct {
		URI        string `yaml:"uri"`
		Database   string `yaml:"database"`
		Collection string `yaml:"collection"`
	}
)

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	b := backoff.DefaultExponential()
	return Config{
		Method:      http.MethodGet,
		IdleTimeout: transport.DefaultIdleTimeout,
		Backoff: Backoff{
			Initial:    b.Initial,
			Max:        b.Max,
			Multiplier: b.Multiplier,
			Jitter:     b.Jitter,
		},
		Archive: Archive{
			Backend: ArchiveNone,
			Redis:   Redis{Addr: "localhost:6379", Map: "runview-runs"},
			Mongo:   Mongo{Database: "runview", Collection: "runs"},
		},
		EventLog: EventLog{
			Backend: EventLogNone,
			Mongo:   Mongo{Database: "runview", Collection: "run_events"},
		},
	}
}

// Load reads the YAML file at path, when path is not empty, applies the
// process environment and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.decode(data); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes data over the defaults without consulting the environment.
// Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := cfg.decode(data); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides c with the RUNVIEW_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	str("RUNVIEW_ENDPOINT", &c.Endpoint)
	str("RUNVIEW_METHOD", &c.Method)
	dur("RUNVIEW_IDLE_TIMEOUT", &c.IdleTimeout)
	num("RUNVIEW_MAX_ATTEMPTS", &c.MaxAttempts)
	dur("RUNVIEW_BACKOFF_INITIAL", &c.Backoff.Initial)
	dur("RUNVIEW_BACKOFF_MAX", &c.Backoff.Max)
	str("RUNVIEW_ARCHIVE", &c.Archive.Backend)
	str("RUNVIEW_REDIS_ADDR", &c.Archive.Redis.Addr)
	str("RUNVIEW_REDIS_PASSWORD", &c.Archive.Redis.Password)
	str("RUNVIEW_REDIS_MAP", &c.Archive.Redis.Map)
	str("RUNVIEW_MONGO_URI", &c.Archive.Mongo.URI)
	str("RUNVIEW_MONGO_DATABASE", &c.Archive.Mongo.Database)
	str("RUNVIEW_MONGO_COLLECTION", &c.Archive.Mongo.Collection)
	str("RUNVIEW_EVENT_LOG", &c.EventLog.Backend)
	str("RUNVIEW_EVENT_LOG_MONGO_URI", &c.EventLog.Mongo.URI)

	if v, ok := lookup("RUNVIEW_CONNECT_RATE"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("RUNVIEW_CONNECT_RATE: %w", err))
		} else {
			c.ConnectRate = f
		}
	}
	if v, ok := lookup("RUNVIEW_VALIDATE_SCHEMAS"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("RUNVIEW_VALIDATE_SCHEMAS: %w", err))
		} else {
			c.ValidateSchemas = b
		}
	}
	if v, ok := lookup("RUNVIEW_HEADERS"); ok && v != "" {
		h, err := parseHeaders(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("RUNVIEW_HEADERS: %w", err))
		} else {
			if c.Headers == nil {
				c.Headers = make(map[string]string, len(h))
			}
			for k, v := range h {
				c.Headers[k] = v
			}
		}
	}
	return errors.Join(errs...)
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	return errors.Join(c.validateStream(), c.ValidateStorage())
}

func (c Config) validateStream() error {
	var errs []error
	if c.Endpoint == "" {
		errs = append(errs, errors.New("endpoint is required"))
	} else if u, err := url.Parse(c.Endpoint); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("endpoint %q must be an absolute http(s) URL", c.Endpoint))
	}
	switch strings.ToUpper(c.Method) {
	case http.MethodGet, http.MethodPost:
	default:
		errs = append(errs, fmt.Errorf("method %q must be GET or POST", c.Method))
	}
	if c.MaxAttempts < 0 {
		errs = append(errs, errors.New("max_attempts must not be negative"))
	}
	if c.ConnectRate < 0 {
		errs = append(errs, errors.New("connect_rate must not be negative"))
	}
	if c.Backoff.Initial <= 0 {
		errs = append(errs, errors.New("backoff.initial must be positive"))
	}
	if c.Backoff.Max < c.Backoff.Initial {
		errs = append(errs, errors.New("backoff.max must not be smaller than backoff.initial"))
	}
	if c.Backoff.Multiplier < 1 {
		errs = append(errs, errors.New("backoff.multiplier must be at least 1"))
	}
	if c.Backoff.Jitter < 0 || c.Backoff.Jitter > 1 {
		errs = append(errs, errors.New("backoff.jitter must be between 0 and 1"))
	}
	return errors.Join(errs...)
}

// ValidateStorage reports invalid archive and event log settings. It is
// enough for hosts that replay journaled runs without connecting.
func (c Config) ValidateStorage() error {
	var errs []error
	switch c.Archive.Backend {
	case "", ArchiveNone, ArchiveMemory:
	case ArchivePulse:
		if c.Archive.Redis.Addr == "" || c.Archive.Redis.Map == "" {
			errs = append(errs, errors.New("archive.redis.addr and archive.redis.map are required by the pulse archive"))
		}
	case ArchiveMongo:
		if c.Archive.Mongo.URI == "" || c.Archive.Mongo.Database == "" || c.Archive.Mongo.Collection == "" {
			errs = append(errs, errors.New("archive.mongo.uri, database and collection are required by the mongo archive"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown archive backend %q", c.Archive.Backend))
	}
	switch c.EventLog.Backend {
	case "", EventLogNone, EventLogMemory:
	case EventLogMongo:
		if c.EventLog.Mongo.URI == "" || c.EventLog.Mongo.Database == "" {
			errs = append(errs, errors.New("event_log.mongo.uri and database are required by the mongo event log"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown event log backend %q", c.EventLog.Backend))
	}
	return errors.Join(errs...)
}

// BackoffStrategy returns the configured reconnect strategy.
func (c Config) BackoffStrategy() backoff.Strategy {
	return &backoff.Exponential{
		Initial:    c.Backoff.Initial,
		Max:        c.Backoff.Max,
		Multiplier: c.Backoff.Multiplier,
		Jitter:     c.Backoff.Jitter,
	}
}

// TransportOptions returns the session options described by c. Telemetry
// and the HTTP client are left to the caller.
func (c Config) TransportOptions() transport.Options {
	h := make(http.Header, len(c.Headers))
	for k, v := range c.Headers {
		h.Set(k, v)
	}
	opts := transport.Options{
		Endpoint:     c.Endpoint,
		Method:       strings.ToUpper(c.Method),
		Header:       h,
		Backoff:      c.BackoffStrategy(),
		IdleTimeout:  c.IdleTimeout,
		MaxAttempts:  c.MaxAttempts,
		ConnectBurst: c.ConnectBurst,
	}
	if c.ConnectRate > 0 {
		opts.ConnectLimit = rate.Limit(c.ConnectRate)
	}
	return opts
}

// NewDecoder returns the event decoder described by c.
func (c Config) NewDecoder() (*events.Decoder, error) {
	if c.ValidateSchemas {
		return events.NewDecoder(events.WithSchemaValidation())
	}
	return events.NewDecoder()
}

func parseHeaders(s string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid header %q, want Key=Value", pair)
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out, nil
}
