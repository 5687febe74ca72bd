package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/downfa11-org/go-consumer/util"
	"gopkg.in/yaml.v3"
)

// Config holds the consumer configuration. Precedence, lowest to highest:
// flag defaults, config file (YAML or JSON), environment variables.
type Config struct {
	// Broker connection
	BrokerAddrs           []string `yaml:"broker_addrs" json:"broker_addrs"`
	MaxConnectRetries     int      `yaml:"max_connect_retries" json:"max_connect_retries"`
	ConnectRetryBackoffMS int      `yaml:"connect_retry_backoff_ms" json:"connect_retry_backoff_ms"`
	Compression           string   `yaml:"compression" json:"compression"`
	DispatchBufferSize    int      `yaml:"dispatch_buffer_size" json:"dispatch_buffer_size"`

	// Consumer identity
	ConsumerType string   `yaml:"consumer_type" json:"consumer_type"`
	Topics       []string `yaml:"topics" json:"topics"`
	Group        string   `yaml:"group" json:"group"`

	// Segment storage
	DataDir         string `yaml:"data_dir" json:"data_dir"`
	SegmentCapacity uint64 `yaml:"segment_capacity" json:"segment_capacity"` // records per segment

	// Query API & observability
	QueryPort      int           `yaml:"query_port" json:"query_port"`
	EnableExporter bool          `yaml:"enable_exporter" json:"enable_exporter"`
	ExporterPort   int           `yaml:"exporter_port" json:"exporter_port"`
	LogLevel       util.LogLevel `yaml:"log_level" json:"log_level"`
}

// ConsumerTopic is the logical stream this consumer's segments belong to.
func (c *Config) ConsumerTopic() string {
	return fmt.Sprintf("consumer-%s-data", c.ConsumerType)
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}

	configPath := flag.String("config", "", "Path to YAML/JSON config file")
	brokerAddrs := flag.String("broker-addr", "localhost:9000", "Comma-separated broker addresses")
	consumerType := flag.String("consumer-type", "generic", "Consumer type (price, product, inventory, audit, ...)")
	topics := flag.String("topics", "", "Comma-separated topics to subscribe")
	group := flag.String("group", "", "Consumer group name")
	dataDir := flag.String("data-dir", "consumer-data", "Base directory for segments and metadata")
	segmentCapacity := flag.Uint64("segment-capacity", 1_000_000, "Records per segment")
	queryPort := flag.Int("query-port", 8080, "HTTP query API port")
	exporter := flag.Bool("exporter", true, "Enable Prometheus exporter")
	exporterPort := flag.Int("exporter-port", 9100, "Exporter port")
	logLevelStr := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	compression := flag.String("compression", "none", "Payload compression (none, gzip, snappy, lz4)")
	maxRetries := flag.Int("max-connect-retries", 5, "Broker connect attempts before giving up")
	retryBackoff := flag.Int("connect-retry-backoff", 1000, "Backoff between connect attempts (ms)")
	dispatchBuffer := flag.Int("dispatch-buffer", 1024, "Inbound event channel buffer size")

	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" && *configPath == "" {
		*configPath = envPath
	}

	flag.Parse()

	cfg.BrokerAddrs = splitList(*brokerAddrs)
	cfg.ConsumerType = *consumerType
	cfg.Topics = splitList(*topics)
	cfg.Group = *group
	cfg.DataDir = *dataDir
	cfg.SegmentCapacity = *segmentCapacity
	cfg.QueryPort = *queryPort
	cfg.EnableExporter = *exporter
	cfg.ExporterPort = *exporterPort
	cfg.LogLevel = parseLogLevel(*logLevelStr)
	cfg.Compression = *compression
	cfg.MaxConnectRetries = *maxRetries
	cfg.ConnectRetryBackoffMS = *retryBackoff
	cfg.DispatchBufferSize = *dispatchBuffer

	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			return nil, err
		}
		if strings.HasSuffix(*configPath, ".json") {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		} else {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		}
	}

	applyEnvOverrides(cfg)
	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	util.SetLevel(cfg.LogLevel)
	return cfg, nil
}

// applyEnvOverrides applies the container-facing environment variables. The
// legacy singular CONSUMER_TOPIC is honored when CONSUMER_TOPICS is absent.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BROKER_ADDRS"); v != "" {
		cfg.BrokerAddrs = splitList(v)
	}
	if v := os.Getenv("CONSUMER_TYPE"); v != "" {
		cfg.ConsumerType = v
	}
	if v := os.Getenv("CONSUMER_TOPICS"); v != "" {
		cfg.Topics = splitList(v)
	} else if v := os.Getenv("CONSUMER_TOPIC"); v != "" {
		cfg.Topics = splitList(v)
	}
	if v := os.Getenv("CONSUMER_GROUP"); v != "" {
		cfg.Group = v
	}
	if v := os.Getenv("CONSUMER_PORT"); v != "" {
		cfg.QueryPort = util.ParseInt(v, cfg.QueryPort)
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("SEGMENT_CAPACITY"); v != "" {
		if n := util.ParseInt(v, 0); n > 0 {
			cfg.SegmentCapacity = uint64(n)
		}
	}
}

// Normalize fills defaults for values a config file may have zeroed.
func (c *Config) Normalize() {
	if len(c.BrokerAddrs) == 0 {
		c.BrokerAddrs = []string{"localhost:9000"}
	}
	if c.ConsumerType == "" {
		c.ConsumerType = "generic"
	}
	if c.Group == "" {
		c.Group = c.ConsumerType + "-group"
	}
	if len(c.Topics) == 0 {
		c.Topics = []string{c.ConsumerType + "-topic"}
	}
	if c.DataDir == "" {
		c.DataDir = "consumer-data"
	}
	if c.SegmentCapacity == 0 {
		c.SegmentCapacity = 1_000_000
	}
	if c.QueryPort == 0 {
		c.QueryPort = 8080
	}
	if c.ExporterPort == 0 {
		c.ExporterPort = 9100
	}
	if c.Compression == "" {
		c.Compression = "none"
	}
	if c.MaxConnectRetries == 0 {
		c.MaxConnectRetries = 5
	}
	if c.ConnectRetryBackoffMS == 0 {
		c.ConnectRetryBackoffMS = 1000
	}
	if c.DispatchBufferSize == 0 {
		c.DispatchBufferSize = 1024
	}
}

func (c *Config) Validate() error {
	switch c.Compression {
	case "none", "gzip", "snappy", "lz4":
	default:
		return fmt.Errorf("unsupported compression type: %s", c.Compression)
	}
	return nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseLogLevel(s string) util.LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return util.LogLevelDebug
	case "warn", "warning":
		return util.LogLevelWarn
	case "error":
		return util.LogLevelError
	}
	return util.LogLevelInfo
}
