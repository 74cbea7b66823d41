package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateConfigBuiltinDefaults(t *testing.T) {
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"validate-config", "--storage-root", t.TempDir(), "--log-level", "error"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("validate-config: %v", err)
	}
	if !strings.Contains(out.String(), "default: configuration is valid") {
		t.Errorf("output = %q", out.String())
	}
}

func TestValidateConfigReportsIssues(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "configs", "configs", "institutions")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	inst := `{"institution_id":"uni","passing_threshold":95,"excellence_threshold":90,
		"routing_configs":{"mcq":{"artifact_type":"mcq","processor_config":{},"ace_weight_mapping":{"analysis":0.5,"communication":0.5,"evaluation":0.5}}}}`
	if err := os.WriteFile(filepath.Join(dir, "uni.json"), []byte(inst), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"validate-config", "--institution", "uni", "--storage-root", root, "--log-level", "error"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected validation failure")
	}
	if !strings.Contains(out.String(), "uni: mcq: ") || !strings.Contains(out.String(), "passing_threshold") {
		t.Errorf("output = %q", out.String())
	}
}

func TestWriteJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	if err := writeJSON(path, map[string]int{"students": 3}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]int
	if err := json.Unmarshal(data, &got); err != nil || got["students"] != 3 {
		t.Errorf("file = %s (%v)", data, err)
	}
}
