// Package tray maps health states to the icon and tooltip a presentation
// layer displays.
package tray

import (
	"log/slog"

	"github.com/loykin/sidekeeper/internal/health"
)

// Icon selects a tray icon asset.
type Icon string

const (
	IconConnected Icon = "tray-connected"
	IconWaiting   Icon = "tray-waiting"
	IconStopped   Icon = "tray-stopped"
)

const DefaultTitle = "Bridge to Fig"

// Theme holds the product title prefixed to every tooltip.
type Theme struct {
	Title string
}

// Initial returns the tooltip shown before the first transition.
func (t Theme) Initial() (Icon, string) { return IconStopped, t.title() }

// Appearance returns the icon and tooltip for s.
func (t Theme) Appearance(s health.State) (Icon, string) {
	switch s {
	case health.Running:
		return IconConnected, t.title() + " - Connected"
	case health.Waiting:
		return IconWaiting, t.title() + " - Waiting for Plugin"
	case health.Stopped:
		return IconStopped, t.title() + " - Server Stopped"
	}
	return IconStopped, t.title() + " - Server Stopped"
}

func (t Theme) title() string {
	if t.Title == "" {
		return DefaultTitle
	}
	return t.Title
}

// Appearance maps s using the default theme.
func Appearance(s health.State) (Icon, string) { return Theme{}.Appearance(s) }

// Presenter displays an icon and tooltip. Implementations must tolerate
// repeated identical calls.
type Presenter interface {
	Present(icon Icon, tooltip string)
}

// PresenterFunc adapts a function to Presenter.
type PresenterFunc func(icon Icon, tooltip string)

func (f PresenterFunc) Present(icon Icon, tooltip string) { f(icon, tooltip) }

// LogPresenter is the headless presenter: it logs each update.
type LogPresenter struct {
	Log *slog.Logger
}

func (p LogPresenter) Present(icon Icon, tooltip string) {
	l := p.Log
	if l == nil {
		l = slog.Default()
	}
	l.Info("tray updated", "icon", string(icon), "tooltip", tooltip)
}

// Callback returns a health callback that forwards every transition to p.
func (t Theme) Callback(p Presenter) health.Callback {
	return func(s health.State) {
		icon, tooltip := t.Appearance(s)
		p.Present(icon, tooltip)
	}
}
