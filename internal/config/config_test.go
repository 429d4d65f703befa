package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	r := cfg.Recognition
	if r.RequiredFrames != 6 || r.BufferLimit != 24 || r.HistoryLimit != 12 || r.ConfidenceThreshold != 0.82 {
		t.Fatalf("unexpected recognition defaults %+v", r)
	}
	if cfg.Camera.Width != 320 || cfg.Camera.Height != 240 || !cfg.Camera.Flip {
		t.Fatalf("unexpected camera defaults %+v", cfg.Camera)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOQA_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("LOQA_BUS_USERNAME", "alice")
	t.Setenv("LOQA_BUS_PASSWORD", "secret")
	t.Setenv("LOQA_BUS_TLS_INSECURE", "true")
	t.Setenv("LOQA_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("LOQA_NODE_ID", "test-node")
	t.Setenv("LOQA_EVENT_STORE_PATH", "./tmp.db")
	t.Setenv("LOQA_EVENT_STORE_RETENTION_MODE", "persistent")
	t.Setenv("LOQA_EVENT_STORE_RETENTION_DAYS", "7")
	t.Setenv("LOQA_RECOGNITION_REQUIRED_FRAMES", "4")
	t.Setenv("LOQA_RECOGNITION_CONFIDENCE_THRESHOLD", "0.5")
	t.Setenv("LOQA_CLASSIFIER_MODE", "exec")
	t.Setenv("LOQA_CLASSIFIER_COMMAND", "python3 classify.py")
	t.Setenv("LOQA_CLASSIFIER_SOURCES", "https://models.example/signs/, ./local-model")
	t.Setenv("LOQA_CAMERA_FLIP", "false")
	t.Setenv("LOQA_SIGNS_AUTO_START", "true")
	t.Setenv("LOQA_MQTT_ENABLED", "true")
	t.Setenv("LOQA_MQTT_QOS", "2")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.Node.ID != "test-node" {
		t.Fatalf("expected node id override")
	}
	if cfg.EventStore.Path != "./tmp.db" || cfg.EventStore.RetentionMode != "persistent" || cfg.EventStore.RetentionDays != 7 {
		t.Fatalf("expected event store overrides, got %+v", cfg.EventStore)
	}
	if cfg.Recognition.RequiredFrames != 4 || cfg.Recognition.ConfidenceThreshold != 0.5 {
		t.Fatalf("expected recognition overrides, got %+v", cfg.Recognition)
	}
	if cfg.Classifier.Mode != "exec" || len(cfg.Classifier.Sources) != 2 || cfg.Classifier.Sources[1] != "./local-model" {
		t.Fatalf("expected classifier overrides, got %+v", cfg.Classifier)
	}
	if cfg.Camera.Flip {
		t.Fatal("expected camera flip override false")
	}
	if !cfg.Signs.AutoStart {
		t.Fatal("expected auto start override")
	}
	if !cfg.MQTT.Enabled || cfg.MQTT.QoS != 2 {
		t.Fatalf("expected mqtt overrides, got %+v", cfg.MQTT)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signs.yaml")
	data := `
runtime_name: kiosk
recognition:
  required_frames: 3
  buffer_limit: 5
camera:
  mode: directory
  directory: ./frames
classifier:
  mode: script
  script: ./session.yaml
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RuntimeName != "kiosk" || cfg.Recognition.RequiredFrames != 3 || cfg.Recognition.BufferLimit != 5 {
		t.Fatalf("unexpected values %+v", cfg)
	}
	if cfg.Recognition.HistoryLimit != 12 {
		t.Fatalf("expected history default kept, got %d", cfg.Recognition.HistoryLimit)
	}
	if cfg.Camera.Mode != "directory" || cfg.Camera.Width != 320 {
		t.Fatalf("unexpected camera %+v", cfg.Camera)
	}
}

func TestLoadTOMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signs.toml")
	data := `
runtime_name = "booth"

[recognition]
required_frames = 8
confidence_threshold = 0.9

[mqtt]
enabled = true
broker = "tcp://broker:1883"
topic_prefix = "booth/signs"
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RuntimeName != "booth" || cfg.Recognition.RequiredFrames != 8 || cfg.Recognition.ConfidenceThreshold != 0.9 {
		t.Fatalf("unexpected values %+v", cfg)
	}
	if !cfg.MQTT.Enabled || cfg.MQTT.Broker != "tcp://broker:1883" || cfg.MQTT.QoS != 1 {
		t.Fatalf("unexpected mqtt %+v", cfg.MQTT)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"frames", func(c *Config) { c.Recognition.RequiredFrames = 0 }, "required_frames"},
		{"buffer", func(c *Config) { c.Recognition.BufferLimit = -1 }, "buffer_limit"},
		{"history", func(c *Config) { c.Recognition.HistoryLimit = 0 }, "history_limit"},
		{"threshold", func(c *Config) { c.Recognition.ConfidenceThreshold = 1.2 }, "confidence_threshold"},
		{"classifier mode", func(c *Config) { c.Classifier.Mode = "tfjs" }, "classifier.mode"},
		{"exec command", func(c *Config) { c.Classifier.Mode = "exec" }, "classifier.command"},
		{"script path", func(c *Config) { c.Classifier.Mode = "script" }, "classifier.script"},
		{"camera mode", func(c *Config) { c.Camera.Mode = "v4l2" }, "camera.mode"},
		{"camera dir", func(c *Config) { c.Camera.Mode = "directory" }, "camera.directory"},
		{"camera size", func(c *Config) { c.Camera.Width = 0 }, "camera.width"},
		{"camera fps", func(c *Config) { c.Camera.FPS = 2_000_000_000 }, "camera.fps"},
		{"mqtt qos", func(c *Config) { c.MQTT.Enabled = true; c.MQTT.QoS = 3 }, "mqtt.qos"},
		{"log level", func(c *Config) { c.Telemetry.LogLevel = "loud" }, "log_level"},
		{"retention", func(c *Config) { c.EventStore.RetentionMode = "forever" }, "retention_mode"},
	}
	for _, tc := range cases {
		cfg := Default()
		tc.mutate(&cfg)
		err := validate(cfg)
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: expected error mentioning %q, got %v", tc.name, tc.want, err)
		}
	}
}

func TestValidateSkipsDisabledSigns(t *testing.T) {
	cfg := Default()
	cfg.Signs.Enabled = false
	cfg.Classifier.Mode = "unknown"
	if err := validate(cfg); err != nil {
		t.Fatalf("expected disabled signs to skip classifier checks, got %v", err)
	}
}
