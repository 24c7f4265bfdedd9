package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestBuiltinRegistry_RegistersIntegrationBackends(t *testing.T) {
	reg := builtinRegistry(zerolog.Nop())

	for _, id := range []string{"hl7-gateway", "lab", "pharmacy", "insurance"} {
		if !reg.Has(id) {
			t.Errorf("expected built-in service %q to be registered", id)
		}
	}
	if got := len(reg.List()); got != 4 {
		t.Errorf("expected 4 built-in services, got %d", got)
	}
}

func TestValidateCmd_AcceptsValidWorkflow(t *testing.T) {
	path := writeWorkflow(t, `{
		"name": "lab-order",
		"steps": [
			{"id": "submit", "name": "Submit order", "type": "send", "service": "lab", "operation": "submit-order"}
		]
	}`)

	cmd := validateCmd()
	cmd.SetArgs([]string{path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("expected valid workflow to pass, got %v", err)
	}
}

func TestValidateCmd_RejectsInvalidWorkflow(t *testing.T) {
	path := writeWorkflow(t, `{
		"name": "",
		"steps": [
			{"id": "s1", "name": "", "type": "send", "service": "ghost", "operation": ""}
		]
	}`)

	cmd := validateCmd()
	cmd.SetArgs([]string{path})
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected validation errors for invalid workflow")
	}
}

func TestValidateCmd_MissingFile(t *testing.T) {
	cmd := validateCmd()
	cmd.SetArgs([]string{"/nonexistent/workflow.json"})
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func writeWorkflow(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workflow.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write workflow file: %v", err)
	}
	return path
}
