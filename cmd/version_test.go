package cmd

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestNewVersionCmd(t *testing.T) {
	versionCmd := newVersionCmd()

	if versionCmd.Use != "version" {
		t.Errorf("expected Use to be 'version', got %s", versionCmd.Use)
	}
	if versionCmd.Short == "" {
		t.Error("expected Short description to be set")
	}
	if versionCmd.RunE == nil {
		t.Error("expected RunE to be set")
	}
}

func TestVersionCommandExecution(t *testing.T) {
	testVersion := "1.2.3-test"
	original := rootCmd.Version
	defer func() { rootCmd.Version = original }()
	rootCmd.Version = testVersion

	originalDir := dataDir
	defer func() { dataDir = originalDir }()
	dataDir = filepath.Join(t.TempDir(), "does-not-exist")

	versionCmd := newVersionCmd()
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)

	if err := versionCmd.RunE(versionCmd, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := buf.String()
	want := "mcpbroker version " + testVersion + "\n\nStore: (none yet)\n"
	if output != want {
		t.Errorf("expected output %q, got %q", want, output)
	}
}

func TestStoreSummaryNoStore(t *testing.T) {
	dir := t.TempDir()
	if _, err := storeSummary(nil, dir); err == nil {
		t.Error("expected an error when no store exists in the directory")
	}
}
