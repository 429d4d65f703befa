package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level" toml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint" toml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure" toml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind" toml:"prometheus_bind"`
	TraceStdout    bool   `yaml:"trace_stdout" toml:"trace_stdout"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind" toml:"bind"`
	Port int    `yaml:"port" toml:"port"`
}

type Config struct {
	RuntimeName string            `yaml:"runtime_name" toml:"runtime_name"`
	Environment string            `yaml:"environment" toml:"environment"`
	HTTP        HTTPConfig        `yaml:"http" toml:"http"`
	Telemetry   TelemetryConfig   `yaml:"telemetry" toml:"telemetry"`
	Bus         BusConfig         `yaml:"bus" toml:"bus"`
	Node        NodeConfig        `yaml:"node" toml:"node"`
	EventStore  EventStoreConfig  `yaml:"event_store" toml:"event_store"`
	Recognition RecognitionConfig `yaml:"recognition" toml:"recognition"`
	Classifier  ClassifierConfig  `yaml:"classifier" toml:"classifier"`
	Camera      CameraConfig      `yaml:"camera" toml:"camera"`
	Signs       SignsConfig       `yaml:"signs" toml:"signs"`
	MQTT        MQTTConfig        `yaml:"mqtt" toml:"mqtt"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded" toml:"embedded"`
	Host           string   `yaml:"host" toml:"host"`
	Port           int      `yaml:"port" toml:"port"`
	StoreDir       string   `yaml:"store_dir" toml:"store_dir"`
	JetStream      bool     `yaml:"jetstream" toml:"jetstream"`
	Servers        []string `yaml:"servers" toml:"servers"`
	Username       string   `yaml:"username" toml:"username"`
	Password       string   `yaml:"password" toml:"password"`
	Token          string   `yaml:"token" toml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure" toml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms" toml:"connect_timeout_ms"`
}

type NodeConfig struct {
	ID                string `yaml:"id" toml:"id"`
	Role              string `yaml:"role" toml:"role"`
	HeartbeatInterval int    `yaml:"heartbeat_interval_ms" toml:"heartbeat_interval_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path" toml:"path"`
	RetentionMode string `yaml:"retention_mode" toml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days" toml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions" toml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start" toml:"vacuum_on_start"`
}

// RecognitionConfig tunes letter stabilization and buffering.
type RecognitionConfig struct {
	RequiredFrames      int     `yaml:"required_frames" toml:"required_frames"`
	BufferLimit         int     `yaml:"buffer_limit" toml:"buffer_limit"`
	HistoryLimit        int     `yaml:"history_limit" toml:"history_limit"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold" toml:"confidence_threshold"`
}

type ClassifierConfig struct {
	Mode      string   `yaml:"mode" toml:"mode"` // mock, exec, script
	Command   string   `yaml:"command" toml:"command"`
	Sources   []string `yaml:"sources" toml:"sources"`
	Script    string   `yaml:"script" toml:"script"`
	MockWord  string   `yaml:"mock_word" toml:"mock_word"`
	MockHold  int      `yaml:"mock_hold_frames" toml:"mock_hold_frames"`
	TimeoutMS int      `yaml:"timeout_ms" toml:"timeout_ms"`
}

// MaxCameraFPS is the highest frame rate a camera source may be paced at.
const MaxCameraFPS = 1000

type CameraConfig struct {
	Mode      string `yaml:"mode" toml:"mode"` // synthetic, directory, exec
	Command   string `yaml:"command" toml:"command"`
	Directory string `yaml:"directory" toml:"directory"`
	Width     int    `yaml:"width" toml:"width"`
	Height    int    `yaml:"height" toml:"height"`
	Flip      bool   `yaml:"flip" toml:"flip"`
	FPS       int    `yaml:"fps" toml:"fps"`
}

type SignsConfig struct {
	Enabled       bool   `yaml:"enabled" toml:"enabled"`
	AutoStart     bool   `yaml:"auto_start" toml:"auto_start"`
	PublishFrames bool   `yaml:"publish_frames" toml:"publish_frames"`
	Stream        string `yaml:"stream" toml:"stream"`
	StreamMaxAge  int    `yaml:"stream_max_age_hours" toml:"stream_max_age_hours"`
}

type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled" toml:"enabled"`
	Broker      string `yaml:"broker" toml:"broker"`
	ClientID    string `yaml:"client_id" toml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix" toml:"topic_prefix"`
	QoS         int    `yaml:"qos" toml:"qos"`
	Username    string `yaml:"username" toml:"username"`
	Password    string `yaml:"password" toml:"password"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-signs",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Host:           "0.0.0.0",
			Port:           4222,
			StoreDir:       "./data/nats",
			JetStream:      true,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Node: NodeConfig{
			ID:                "loqa-signs-1",
			Role:              "signs",
			HeartbeatInterval: 5000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/loqa-signs.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Recognition: RecognitionConfig{
			RequiredFrames:      6,
			BufferLimit:         24,
			HistoryLimit:        12,
			ConfidenceThreshold: 0.82,
		},
		Classifier: ClassifierConfig{
			Mode:      "mock",
			Sources:   []string{"./model"},
			MockWord:  "HELLO",
			MockHold:  8,
			TimeoutMS: 5000,
		},
		Camera: CameraConfig{
			Mode:   "synthetic",
			Width:  320,
			Height: 240,
			Flip:   true,
			FPS:    15,
		},
		Signs: SignsConfig{
			Enabled:      true,
			AutoStart:    false,
			Stream:       "SIGNS",
			StreamMaxAge: 24,
		},
		MQTT: MQTTConfig{
			Enabled:     false,
			Broker:      "tcp://localhost:1883",
			ClientID:    "loqa-signs",
			TopicPrefix: "loqa/signs",
			QoS:         1,
		},
	}
}

// Load reads path (YAML, or TOML when the extension is .toml) over the defaults, applies LOQA_*
// environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := decode(path, data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		_, err := toml.Decode(string(data), cfg)
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "LOQA_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Telemetry.TraceStdout, "LOQA_TELEMETRY_TRACE_STDOUT")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideString(&cfg.Bus.Host, "LOQA_BUS_HOST")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_BUS_STORE_DIR")
	overrideBool(&cfg.Bus.JetStream, "LOQA_BUS_JETSTREAM")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Node.ID, "LOQA_NODE_ID")
	overrideString(&cfg.Node.Role, "LOQA_NODE_ROLE")
	overrideInt(&cfg.Node.HeartbeatInterval, "LOQA_NODE_HEARTBEAT_INTERVAL_MS")
	overrideString(&cfg.EventStore.Path, "LOQA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "LOQA_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_EVENT_STORE_VACUUM_ON_START")
	overrideInt(&cfg.Recognition.RequiredFrames, "LOQA_RECOGNITION_REQUIRED_FRAMES")
	overrideInt(&cfg.Recognition.BufferLimit, "LOQA_RECOGNITION_BUFFER_LIMIT")
	overrideInt(&cfg.Recognition.HistoryLimit, "LOQA_RECOGNITION_HISTORY_LIMIT")
	overrideFloat(&cfg.Recognition.ConfidenceThreshold, "LOQA_RECOGNITION_CONFIDENCE_THRESHOLD")
	overrideString(&cfg.Classifier.Mode, "LOQA_CLASSIFIER_MODE")
	overrideString(&cfg.Classifier.Command, "LOQA_CLASSIFIER_COMMAND")
	overrideStringSlice(&cfg.Classifier.Sources, "LOQA_CLASSIFIER_SOURCES")
	overrideString(&cfg.Classifier.Script, "LOQA_CLASSIFIER_SCRIPT")
	overrideString(&cfg.Classifier.MockWord, "LOQA_CLASSIFIER_MOCK_WORD")
	overrideInt(&cfg.Classifier.MockHold, "LOQA_CLASSIFIER_MOCK_HOLD_FRAMES")
	overrideInt(&cfg.Classifier.TimeoutMS, "LOQA_CLASSIFIER_TIMEOUT_MS")
	overrideString(&cfg.Camera.Mode, "LOQA_CAMERA_MODE")
	overrideString(&cfg.Camera.Command, "LOQA_CAMERA_COMMAND")
	overrideString(&cfg.Camera.Directory, "LOQA_CAMERA_DIRECTORY")
	overrideInt(&cfg.Camera.Width, "LOQA_CAMERA_WIDTH")
	overrideInt(&cfg.Camera.Height, "LOQA_CAMERA_HEIGHT")
	overrideBool(&cfg.Camera.Flip, "LOQA_CAMERA_FLIP")
	overrideInt(&cfg.Camera.FPS, "LOQA_CAMERA_FPS")
	overrideBool(&cfg.Signs.Enabled, "LOQA_SIGNS_ENABLED")
	overrideBool(&cfg.Signs.AutoStart, "LOQA_SIGNS_AUTO_START")
	overrideBool(&cfg.Signs.PublishFrames, "LOQA_SIGNS_PUBLISH_FRAMES")
	overrideString(&cfg.Signs.Stream, "LOQA_SIGNS_STREAM")
	overrideInt(&cfg.Signs.StreamMaxAge, "LOQA_SIGNS_STREAM_MAX_AGE_HOURS")
	overrideBool(&cfg.MQTT.Enabled, "LOQA_MQTT_ENABLED")
	overrideString(&cfg.MQTT.Broker, "LOQA_MQTT_BROKER")
	overrideString(&cfg.MQTT.ClientID, "LOQA_MQTT_CLIENT_ID")
	overrideString(&cfg.MQTT.TopicPrefix, "LOQA_MQTT_TOPIC_PREFIX")
	overrideInt(&cfg.MQTT.QoS, "LOQA_MQTT_QOS")
	overrideString(&cfg.MQTT.Username, "LOQA_MQTT_USERNAME")
	overrideString(&cfg.MQTT.Password, "LOQA_MQTT_PASSWORD")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	switch strings.ToLower(cfg.Telemetry.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("telemetry.log_level must be one of debug|info|warn|error")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
		if cfg.Bus.JetStream && cfg.Bus.StoreDir == "" {
			return errors.New("bus.store_dir must be set when embedded jetstream is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Node.ID == "" {
		return errors.New("node.id must not be empty")
	}
	if cfg.Node.HeartbeatInterval < 0 {
		return errors.New("node.heartbeat_interval_ms must be >= 0")
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if err := validateRecognition(cfg.Recognition); err != nil {
		return err
	}
	if cfg.Signs.Enabled {
		if err := validateClassifier(cfg.Classifier); err != nil {
			return err
		}
		if err := validateCamera(cfg.Camera); err != nil {
			return err
		}
		if cfg.Bus.JetStream && cfg.Signs.Stream == "" {
			return errors.New("signs.stream must not be empty when jetstream is enabled")
		}
	}
	if cfg.MQTT.Enabled {
		if cfg.MQTT.Broker == "" {
			return errors.New("mqtt.broker must be set when mqtt is enabled")
		}
		if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
			return errors.New("mqtt.qos must be 0, 1 or 2")
		}
		if strings.TrimSpace(cfg.MQTT.TopicPrefix) == "" {
			return errors.New("mqtt.topic_prefix must not be empty")
		}
	}
	return nil
}

func validateRecognition(r RecognitionConfig) error {
	if r.RequiredFrames <= 0 {
		return errors.New("recognition.required_frames must be positive")
	}
	if r.BufferLimit <= 0 {
		return errors.New("recognition.buffer_limit must be positive")
	}
	if r.HistoryLimit <= 0 {
		return errors.New("recognition.history_limit must be positive")
	}
	if r.ConfidenceThreshold < 0 || r.ConfidenceThreshold > 1 {
		return errors.New("recognition.confidence_threshold must be between 0 and 1")
	}
	return nil
}

func validateClassifier(c ClassifierConfig) error {
	switch c.Mode {
	case "mock":
	case "exec":
		if c.Command == "" {
			return errors.New("classifier.command must be set when mode=exec")
		}
		if len(c.Sources) == 0 {
			return errors.New("classifier.sources must not be empty when mode=exec")
		}
	case "script":
		if c.Script == "" {
			return errors.New("classifier.script must be set when mode=script")
		}
	default:
		return errors.New("classifier.mode must be one of mock|exec|script")
	}
	if c.TimeoutMS < 0 {
		return errors.New("classifier.timeout_ms must be >= 0")
	}
	return nil
}

func validateCamera(c CameraConfig) error {
	switch c.Mode {
	case "synthetic":
	case "directory":
		if c.Directory == "" {
			return errors.New("camera.directory must be set when mode=directory")
		}
	case "exec":
		if c.Command == "" {
			return errors.New("camera.command must be set when mode=exec")
		}
	default:
		return errors.New("camera.mode must be one of synthetic|directory|exec")
	}
	if c.Width <= 0 || c.Height <= 0 {
		return errors.New("camera.width and camera.height must be positive")
	}
	if c.FPS < 0 || c.FPS > MaxCameraFPS {
		return fmt.Errorf("camera.fps must be between 0 and %d", MaxCameraFPS)
	}
	return nil
}
