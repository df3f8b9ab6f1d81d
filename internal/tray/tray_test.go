package tray

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/loykin/sidekeeper/internal/health"
)

func TestAppearance(t *testing.T) {
	tests := []struct {
		state   health.State
		icon    Icon
		tooltip string
	}{
		{health.Running, IconConnected, "Bridge to Fig - Connected"},
		{health.Waiting, IconWaiting, "Bridge to Fig - Waiting for Plugin"},
		{health.Stopped, IconStopped, "Bridge to Fig - Server Stopped"},
	}
	for _, tt := range tests {
		icon, tooltip := Appearance(tt.state)
		if icon != tt.icon || tooltip != tt.tooltip {
			t.Fatalf("Appearance(%s) = %s %q, want %s %q", tt.state, icon, tooltip, tt.icon, tt.tooltip)
		}
	}
}

func TestThemeTitle(t *testing.T) {
	th := Theme{Title: "Sidecar"}
	if _, tip := th.Appearance(health.Waiting); tip != "Sidecar - Waiting for Plugin" {
		t.Fatalf("unexpected tooltip %q", tip)
	}
	if icon, tip := (Theme{}).Initial(); icon != IconStopped || tip != DefaultTitle {
		t.Fatalf("unexpected initial appearance %s %q", icon, tip)
	}
}

func TestCallbackPresentsEachTransition(t *testing.T) {
	var got []string
	cb := Theme{}.Callback(PresenterFunc(func(icon Icon, tooltip string) {
		got = append(got, string(icon)+"|"+tooltip)
	}))
	cb(health.Running)
	cb(health.Stopped)
	want := []string{
		"tray-connected|Bridge to Fig - Connected",
		"tray-stopped|Bridge to Fig - Server Stopped",
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("presented %v, want %v", got, want)
	}
}

func TestLogPresenter(t *testing.T) {
	var buf bytes.Buffer
	p := LogPresenter{Log: slog.New(slog.NewTextHandler(&buf, nil))}
	p.Present(IconWaiting, "Bridge to Fig - Waiting for Plugin")
	out := buf.String()
	if !strings.Contains(out, "icon=tray-waiting") || !strings.Contains(out, "Waiting for Plugin") {
		t.Fatalf("unexpected log output: %s", out)
	}
}
