package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestFilterEnabled(t *testing.T) {
	cases := []struct {
		expr string
		name string
		want bool
	}{
		{"", "trigger", true},
		{"*", "trigger", true},
		{"trigger,provider", "trigger", true},
		{"trigger,provider", "storage", false},
		{"-storage", "storage", false},
		{"-storage", "trigger", true},
		{"rate-*", "rate-updater", true},
		{"rate-*,-rate-updater", "rate-updater", false},
		{"oracle", "any*", true},
	}

	for _, tc := range cases {
		got := ParseFilter(tc.expr).Enabled(tc.name)
		if got != tc.want {
			t.Fatalf("filter %q name %q: want %v, got %v", tc.expr, tc.name, tc.want, got)
		}
	}
}

func TestComponentFiltered(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)
	filter := ParseFilter("-storage")

	storageLog := Component(base, filter, "storage")
	storageLog.Info().Msg("hidden")
	triggerLog := Component(base, filter, "trigger")
	triggerLog.Info().Msg("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("filtered component should not log: %s", out)
	}
	if !strings.Contains(out, `"component":"trigger"`) {
		t.Fatalf("component field missing: %s", out)
	}
}

func TestNilFilterEnablesAll(t *testing.T) {
	var f *Filter
	if !f.Enabled("anything") {
		t.Fatal("nil filter should enable every component")
	}
}
