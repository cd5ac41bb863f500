package cli

import (
	"bytes"
	"strings"
	"testing"
)

func TestVersionSkipsConfig(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version", "--config", "/nonexistent/config.yaml"})
	defer rootCmd.SetArgs(nil)

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("version must not load config: %v", err)
	}
	if !strings.Contains(out.String(), "rate-oracle-updater") {
		t.Fatalf("unexpected output %q", out.String())
	}
	if appHandle != nil {
		t.Fatal("version must not build the application")
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := map[string]bool{"run": false, "state": false, "show": false, "export": false, "version": false}
	for _, cmd := range rootCmd.Commands() {
		if _, ok := want[cmd.Name()]; ok {
			want[cmd.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("command %s not registered", name)
		}
	}
}
