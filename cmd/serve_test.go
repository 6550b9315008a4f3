package cmd

import (
	"path/filepath"
	"testing"

	"mcpbroker/pkg/logging"
)

func TestLevelFor(t *testing.T) {
	if levelFor(true) != logging.LevelDebug {
		t.Error("expected debug=true to select LevelDebug")
	}
	if levelFor(false) != logging.LevelInfo {
		t.Error("expected debug=false to select LevelInfo")
	}
}

func TestResolveDataDirUsesFlagWhenSet(t *testing.T) {
	original := dataDir
	defer func() { dataDir = original }()

	dataDir = filepath.Join(t.TempDir(), "explicit")
	got, err := resolveDataDir()
	if err != nil {
		t.Fatalf("resolveDataDir: %v", err)
	}
	if got != dataDir {
		t.Errorf("expected resolveDataDir to return the --data-dir flag value, got %q", got)
	}
}

func TestServeCommandProperties(t *testing.T) {
	if serveCmd.Use != "serve" {
		t.Errorf("expected Use 'serve', got %q", serveCmd.Use)
	}
	if serveCmd.Flags().Lookup("debug") == nil {
		t.Error("expected --debug flag to be registered")
	}
}
