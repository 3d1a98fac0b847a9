package logger

import (
	"path/filepath"
	"testing"
)

func TestNew(t *testing.T) {
	t.Run("RejectsUnknownLevel", func(t *testing.T) {
		if _, err := New(Config{Level: "chatty", Format: "json"}); err == nil {
			t.Fatal("expected error for unknown level")
		}
	})

	t.Run("FileCore", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "promptguard.log")
		log, err := New(Config{
			Level:  "debug",
			Format: "console",
			File:   &FileConfig{Enabled: true, Path: path},
		})
		if err != nil {
			t.Fatalf("Failed to create logger: %v", err)
		}
		log.WithComponent("test").WithChannel("paste").Info("hello")
	})
}

func TestIsSensitiveHeader(t *testing.T) {
	cases := map[string]bool{
		"Authorization": true,
		"X-Api-Key":     true,
		"Cookie":        true,
		"Content-Type":  false,
		"Accept":        false,
	}
	for header, want := range cases {
		if got := isSensitiveHeader(header); got != want {
			t.Errorf("isSensitiveHeader(%q) = %v, want %v", header, got, want)
		}
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil).Logger == nil {
		t.Fatal("Wrap(nil) should return a usable logger")
	}
}
