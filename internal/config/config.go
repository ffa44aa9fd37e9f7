package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port int `yaml:"port"`
		// Origin is the interceptor's own origin. Empty means the Host of
		// each incoming request.
		Origin string `yaml:"origin"`
		Prefix string `yaml:"prefix"`
		// Static is an optional directory served for requests outside the
		// site namespace.
		Static string `yaml:"static"`
	} `yaml:"server"`

	Bridge   Bridge   `yaml:"bridge"`
	Resolver Resolver `yaml:"resolver"`
	Manager  Manager  `yaml:"manager"`

	Logging struct {
		LogStatsEvery Duration `yaml:"logStatsEvery"`
	} `yaml:"logging"`
}

type Bridge struct {
	// Mode is "pipe" (resolver and manager in one process) or "websocket".
	Mode          string   `yaml:"mode"`
	Path          string   `yaml:"path"`
	URL           string   `yaml:"url"`
	RetryAttempts int      `yaml:"retryAttempts"`
	RetryDelay    Duration `yaml:"retryDelay"`
}

type Resolver struct {
	ReadyTimeout        Duration `yaml:"readyTimeout"`
	ReadyTimeoutMax     Duration `yaml:"readyTimeoutMax"`
	RequestTimeout      Duration `yaml:"requestTimeout"`
	MediaRequestTimeout Duration `yaml:"mediaRequestTimeout"`
	MediaCacheMin       ByteSize `yaml:"mediaCacheMin"`
	MediaCacheMax       ByteSize `yaml:"mediaCacheMax"`
	FallbackRedirect    Duration `yaml:"fallbackRedirect"`
	RetryAfter          Duration `yaml:"retryAfter"`
	// Media picks the media timeout and the 503 fallback. It defaults to
	// manager.media; set it only when the resolver runs apart from a
	// manager with a different list.
	Media []string `yaml:"media"`
}

type Manager struct {
	SwarmDir string `yaml:"swarmDir"`

	Cache struct {
		Path string   `yaml:"path"`
		TTL  Duration `yaml:"ttl"`
		Max  ByteSize `yaml:"max"`
	} `yaml:"cache"`

	// Essential and Media are glob patterns matched against lowercased
	// file base names.
	Essential []string `yaml:"essential"`
	Media     []string `yaml:"media"`

	Thresholds Thresholds `yaml:"thresholds"`

	Extract struct {
		Base            Duration `yaml:"base"`
		PerMB           Duration `yaml:"perMB"`
		Max             Duration `yaml:"max"`
		IndexRetryDelay Duration `yaml:"indexRetryDelay"`
	} `yaml:"extract"`

	Fallback struct {
		Base    Duration `yaml:"base"`
		PerFile Duration `yaml:"perFile"`
		PerMB   Duration `yaml:"perMB"`
		Min     Duration `yaml:"min"`
		Max     Duration `yaml:"max"`
	} `yaml:"fallback"`
}

// Thresholds are progress fractions in [0, 1].
type Thresholds struct {
	EarlyOverall        float64 `yaml:"earlyOverall"`
	EarlyEssentialRatio float64 `yaml:"earlyEssentialRatio"`
	FileReady           float64 `yaml:"fileReady"`
	Essential           float64 `yaml:"essential"`
	Media               float64 `yaml:"media"`
	Other               float64 `yaml:"other"`
	FallbackOverall     float64 `yaml:"fallbackOverall"`
}

// Duration is a time.Duration read from strings like "30s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) D() time.Duration { return time.Duration(d) }

var DefaultMediaPatterns = []string{
	"*.mp4", "*.m4v", "*.webm", "*.mkv", "*.mov", "*.avi", "*.ogv",
	"*.mp3", "*.m4a", "*.aac", "*.ogg", "*.oga", "*.opus", "*.wav", "*.flac",
}

var DefaultEssentialPatterns = []string{"index.html", "*.css", "*.js"}

// Default returns a Config with every default filled in.
func Default() Config {
	var cfg Config
	applyDefaults(&cfg)
	return cfg
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

func Parse(b []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	cfg.Server.Origin = strings.TrimRight(cfg.Server.Origin, "/")
	if cfg.Server.Prefix == "" {
		cfg.Server.Prefix = "/site"
	}
	cfg.Server.Prefix = "/" + strings.Trim(cfg.Server.Prefix, "/")

	b := &cfg.Bridge
	if b.Mode == "" {
		b.Mode = "pipe"
	}
	if b.Path == "" {
		b.Path = "/_bridge"
	}
	if b.RetryAttempts == 0 {
		b.RetryAttempts = 10
	}
	setDur(&b.RetryDelay, time.Second)

	r := &cfg.Resolver
	setDur(&r.ReadyTimeout, 30*time.Second)
	setDur(&r.ReadyTimeoutMax, 120*time.Second)
	setDur(&r.RequestTimeout, 5*time.Second)
	setDur(&r.MediaRequestTimeout, 10*time.Second)
	setSize(&r.MediaCacheMin, 100*1024)
	setSize(&r.MediaCacheMax, 256*1024*1024)
	setDur(&r.FallbackRedirect, 2*time.Second)
	setDur(&r.RetryAfter, 5*time.Second)

	m := &cfg.Manager
	if m.SwarmDir == "" {
		m.SwarmDir = "./data/swarm"
	}
	if m.Cache.Path == "" {
		m.Cache.Path = "./data/sites"
	}
	setDur(&m.Cache.TTL, 7*24*time.Hour)
	setSize(&m.Cache.Max, 1024*1024*1024)
	if len(m.Essential) == 0 {
		m.Essential = append([]string(nil), DefaultEssentialPatterns...)
	}
	if len(m.Media) == 0 {
		m.Media = append([]string(nil), DefaultMediaPatterns...)
	}
	if len(cfg.Resolver.Media) == 0 {
		cfg.Resolver.Media = append([]string(nil), m.Media...)
	}

	t := &m.Thresholds
	setFrac(&t.EarlyOverall, 0.95)
	setFrac(&t.EarlyEssentialRatio, 0.80)
	setFrac(&t.FileReady, 0.90)
	setFrac(&t.Essential, 0.90)
	setFrac(&t.Media, 0.70)
	setFrac(&t.Other, 0.80)
	setFrac(&t.FallbackOverall, 0.80)

	setDur(&m.Extract.Base, 5*time.Second)
	setDur(&m.Extract.PerMB, time.Second)
	setDur(&m.Extract.Max, 60*time.Second)
	setDur(&m.Extract.IndexRetryDelay, 2*time.Second)

	setDur(&m.Fallback.Base, 15*time.Second)
	setDur(&m.Fallback.PerFile, 500*time.Millisecond)
	setDur(&m.Fallback.PerMB, time.Second)
	setDur(&m.Fallback.Min, 15*time.Second)
	setDur(&m.Fallback.Max, 180*time.Second)
}

func validate(cfg *Config) error {
	switch cfg.Bridge.Mode {
	case "pipe", "websocket":
	default:
		return fmt.Errorf("bridge.mode: unknown mode %q", cfg.Bridge.Mode)
	}
	if !strings.HasPrefix(cfg.Bridge.Path, "/") {
		return fmt.Errorf("bridge.path: must start with /")
	}
	if cfg.Resolver.ReadyTimeoutMax < cfg.Resolver.ReadyTimeout {
		return fmt.Errorf("resolver.readyTimeoutMax: must not be below readyTimeout")
	}
	if cfg.Manager.Extract.Max < cfg.Manager.Extract.Base {
		return fmt.Errorf("manager.extract.max: must not be below base")
	}
	if cfg.Manager.Fallback.Max < cfg.Manager.Fallback.Min {
		return fmt.Errorf("manager.fallback.max: must not be below min")
	}

	t := cfg.Manager.Thresholds
	fracs := []struct {
		name string
		v    float64
	}{
		{"earlyOverall", t.EarlyOverall},
		{"earlyEssentialRatio", t.EarlyEssentialRatio},
		{"fileReady", t.FileReady},
		{"essential", t.Essential},
		{"media", t.Media},
		{"other", t.Other},
		{"fallbackOverall", t.FallbackOverall},
	}
	for _, f := range fracs {
		if f.v < 0 || f.v > 1 {
			return fmt.Errorf("manager.thresholds.%s: %v is outside [0, 1]", f.name, f.v)
		}
	}
	return nil
}

func setDur(d *Duration, def time.Duration) {
	if *d == 0 {
		*d = Duration(def)
	}
}

func setSize(b *ByteSize, def int64) {
	if *b == 0 {
		*b = ByteSize(def)
	}
}

func setFrac(f *float64, def float64) {
	if *f == 0 {
		*f = def
	}
}
