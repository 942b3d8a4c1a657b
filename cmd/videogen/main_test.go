package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	base := t.TempDir()
	doc := strings.Join([]string{
		"server:",
		"  env: test",
		"  log_level: error",
		"redis:",
		"  db: 15",
		"store:",
		"  driver: sqlite",
		"  sqlite_path: " + filepath.Join(base, "progress.db"),
		"mock:",
		"  delay_ms: 0",
		"participants:",
		"  - id: Char1",
		"    model_ref: models/char1",
		"    voice_id: voice-1",
		"  - id: char2",
		"    model_ref: models/char2",
		"    voice_id: voice-2",
		"",
	}, "\n")
	path := filepath.Join(base, "config.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRunThenStatus(t *testing.T) {
	cfgPath := writeTestConfig(t)

	out, err := execute(t, "run", "-c", cfgPath, "--id", "video-1", "--characters", "Char1,char2", "--brief", "two rivals cook dinner")
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	for _, want := range []string{"video video-1 started", "generating_story", "splicing_video", "final video: output/video-1/final/final_video.mp4"} {
		if !strings.Contains(out, want) {
			t.Fatalf("run output missing %q:\n%s", want, out)
		}
	}

	out, err = execute(t, "status", "-c", cfgPath, "video-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "stage:    completed") || !strings.Contains(out, "progress: 100%") {
		t.Fatalf("unexpected status output:\n%s", out)
	}
}

func TestRunReportsFailure(t *testing.T) {
	cfgPath := writeTestConfig(t)

	_, err := execute(t, "run", "-c", cfgPath, "--id", "video-2", "--characters", "stranger", "--brief", "a walk")
	if err == nil || !strings.Contains(err.Error(), "validation") {
		t.Fatalf("expected validation failure, got %v", err)
	}
}

func TestStatusUnknownVideo(t *testing.T) {
	cfgPath := writeTestConfig(t)
	if _, err := execute(t, "status", "-c", cfgPath, "nope"); err == nil {
		t.Fatal("expected error for unknown video")
	}
}
