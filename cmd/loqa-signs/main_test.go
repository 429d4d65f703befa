package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const helloScript = `
labels: [H, E, L, O]
frames:
  - predictions: [{label: "Letter_H", probability: 0.95}, {label: "Letter_E", probability: 0.02}]
    repeat: 3
  - predictions: [{label: "Letter_E", probability: 0.93}]
    repeat: 3
  - predictions: [{label: "Letter_L", probability: 0.91}]
    repeat: 3
  - predictions: []
  - predictions: [{label: "Letter_L", probability: 0.91}]
    repeat: 3
  - predictions: [{label: "Letter_O", probability: 0.97}]
    repeat: 3
  - action: interpret
  - predictions: [{label: "Letter_O", probability: 0.40}]
    repeat: 5
  - predictions: [{label: "A", probability: 0.90}]
    repeat: 3
  - action: clear
  - action: interpret
`

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestReplayPrintsWords(t *testing.T) {
	path := writeScript(t, helloScript)
	out, err := run(t, "replay", path, "--required-frames", "3", "-v")
	if err != nil {
		t.Fatalf("replay: %v\n%s", err, out)
	}
	// The second L stabilizes after the empty frame but is an immediate repeat of the tail.
	for _, want := range []string{"word: HELO", "word: (empty)", "buffer: \n", "history: A O L E H"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
	if !strings.Contains(out, "letter 1: H") {
		t.Fatalf("expected verbose letters in output:\n%s", out)
	}
}

func TestReplayRejectsInvalidSettings(t *testing.T) {
	path := writeScript(t, helloScript)
	if _, err := run(t, "replay", path, "--required-frames", "0"); err == nil {
		t.Fatal("expected error for zero required frames")
	}
}

func TestValidateConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signs.toml")
	if err := os.WriteFile(path, []byte("runtime_name = \"booth\"\n[recognition]\nrequired_frames = 4\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	out, err := run(t, "validate", "--config", path)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out, "config ok: booth") || !strings.Contains(out, "required_frames=4") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestControlRejectsUnknownCommand(t *testing.T) {
	if _, err := run(t, "control", "pause"); err == nil {
		t.Fatal("expected error for unknown control command")
	}
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	if err != nil || strings.TrimSpace(out) != version {
		t.Fatalf("unexpected version output %q (%v)", out, err)
	}
}
