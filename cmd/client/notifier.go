package main

import (
	"github.com/dkeye/VoiceQueue/internal/core"
	"github.com/pterm/pterm"
)

// terminalNotifier shows turn notifications as pterm prefix lines.
type terminalNotifier struct{}

func (terminalNotifier) Notify(n core.Notification) {
	switch n.Kind {
	case core.NotifyTurn:
		pterm.Success.Println(n.Message)
	case core.NotifyNextUp:
		pterm.Info.Println(n.Message)
	case core.NotifyForfeited:
		pterm.Warning.Println(n.Message + " (" + n.Reason + ")")
	case core.NotifyInvalidated:
		pterm.Error.Println(n.Message)
	default:
		pterm.Println(n.Message)
	}
}
