// Package config parses flowd's YAML configuration file: listen
// addresses, filter rules, the log path, and the three optional
// secondary outputs (JSON-lines, pcap mirror, webhook forward).
package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/pavelkim/flowd/internal/filter"
)

// Config is the top-level configuration document.
type Config struct {
	Listen    []ListenAddr    `yaml:"listen"`
	Collector CollectorConfig `yaml:"collector"`
	Store     StoreConfig     `yaml:"store"`
	CtlSock   CtlSockConfig   `yaml:"ctlsock"`
	Filter    []FilterRule    `yaml:"filter"`
	Output    OutputConfig    `yaml:"output"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// CtlSockConfig names the privileged monitor's control-channel socket
// (spec.md §4.6). When Path is set, the log file descriptor comes from
// the monitor and SIGHUP re-fetches the filter rules from it; when Path
// is empty, the collector opens its log path directly (the standalone
// mode SPEC_FULL.md §7 describes). Listening sockets are opened by the
// collector itself in both cases.
type CtlSockConfig struct {
	Path string `yaml:"path"`
}

// CollectorConfig holds tuning parameters for the event loop and peer
// table that spec.md leaves as implementation-defined constants.
type CollectorConfig struct {
	MaxPeers int `yaml:"max_peers"`
}

const defaultMaxPeers = 1024

// ListenAddr is one UDP bind point, opened by collector.New
// (spec.md §3 "Listen address").
type ListenAddr struct {
	Addr string `yaml:"addr"`
	Port int    `yaml:"port"`
}

// StoreConfig names the append-only flow log.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// FilterRule is the YAML shape of one internal/filter.Rule.
type FilterRule struct {
	Predicate string `yaml:"predicate"`
	Value     string `yaml:"value"`
	Action    string `yaml:"action"` // "accept" or "discard"
	Tag       *uint32 `yaml:"tag"`
}

// OutputConfig groups the three optional secondary sinks.
type OutputConfig struct {
	JSON    JSONOutputConfig    `yaml:"json"`
	PCAP    PCAPOutputConfig    `yaml:"pcap"`
	Webhook WebhookOutputConfig `yaml:"webhook"`
}

// JSONOutputConfig mirrors accepted flow records as JSON lines.
type JSONOutputConfig struct {
	Enabled    bool   `yaml:"enabled"`
	OutputFile string `yaml:"output_file"`
}

// PCAPOutputConfig synthesizes a pcap frame per accepted flow record.
type PCAPOutputConfig struct {
	Enabled    bool `yaml:"enabled"`
	OutputFile string `yaml:"output_file"`
	MaxSizeMB  int  `yaml:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups"`
}

// WebhookFilterConfig narrows which records get forwarded upstream.
type WebhookFilterConfig struct {
	SrcCIDR  string `yaml:"src_cidr"`
	DstCIDR  string `yaml:"dst_cidr"`
	DstPort  uint16 `yaml:"dst_port"`
	Protocol string `yaml:"protocol"`
}

// WebhookOutputConfig forwards filtered records to an HTTP endpoint.
type WebhookOutputConfig struct {
	Enabled          bool                `yaml:"enabled"`
	Filter           WebhookFilterConfig `yaml:"filter"`
	UpstreamURL      string              `yaml:"upstream_url"`
	IgnoreSSL        bool                `yaml:"ignore_ssl"`
	IgnoreHTTPErrors bool                `yaml:"ignore_http_errors"`
}

// LoggingConfig contains application logging settings for both sinks.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`

	File struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"file"`

	Console struct {
		Enabled bool   `yaml:"enabled"`
		Level   string `yaml:"level"`
		Format  string `yaml:"format"`
	} `yaml:"console"`
}

var macroRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandMacros substitutes ${KEY} references using defines, the map
// built from repeated `-D KEY=VALUE` command-line flags (spec.md §6).
// Unknown keys are left untouched, so a typo stays visible as literal
// ${KEY} text in the parsed value rather than silently vanishing.
func expandMacros(data []byte, defines map[string]string) []byte {
	if len(defines) == 0 {
		return data
	}
	return macroRe.ReplaceAllFunc(data, func(m []byte) []byte {
		key := macroRe.FindSubmatch(m)[1]
		if v, ok := defines[string(key)]; ok {
			return []byte(v)
		}
		return m
	})
}

// Load reads, macro-expands, and parses the configuration file at path.
func Load(path string, defines map[string]string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg, err := Parse(expandMacros(data, defines))
	if err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Parse unmarshals and validates an already macro-expanded configuration
// document. Used directly by Load, and by internal/collector to apply a
// document streamed back over ctlsock.Client.Reconfigure, which the
// monitor has already macro-expanded on its side.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if cfg.Store.Path == "" {
		return nil, fmt.Errorf("config: store.path is required")
	}
	if len(cfg.Listen) == 0 {
		return nil, fmt.Errorf("config: at least one listen address is required")
	}
	if cfg.Collector.MaxPeers == 0 {
		cfg.Collector.MaxPeers = defaultMaxPeers
	}

	return &cfg, nil
}

// CompileFilter converts the YAML rule list into a filter.RuleList ready
// for filter.Evaluate, compiling any CIDR predicates once up front.
func CompileFilter(rules []FilterRule) (filter.RuleList, error) {
	out := make(filter.RuleList, 0, len(rules))
	for _, rule := range rules {
		action := filter.ActionAccept
		if rule.Action == "discard" {
			action = filter.ActionDiscard
		}
		r := filter.Rule{
			Predicate: filter.Predicate(rule.Predicate),
			Value:     rule.Value,
			Action:    action,
		}
		if rule.Tag != nil {
			r.SetTag = true
			r.Tag = *rule.Tag
		}
		out = append(out, r)
	}
	if err := out.Compile(); err != nil {
		return nil, fmt.Errorf("config: compile filter rules: %w", err)
	}
	return out, nil
}
