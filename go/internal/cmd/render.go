package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/mcdev12/tapduel/go/internal/duel/match"
	"github.com/mcdev12/tapduel/go/internal/duel/outcome"
	"github.com/mcdev12/tapduel/go/internal/duel/session"
)

const clearScreen = "\033[H\033[2J"

// renderView writes one frame. Lines end in \r\n because stdin is raw.
func renderView(w io.Writer, v session.View, hint string) {
	var b strings.Builder
	b.WriteString(clearScreen)
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format, args...)
		b.WriteString("\r\n")
	}

	line("TAP DUEL  %s  round %d", modeTitle(v), v.Round)
	line("")
	for i, p := range v.Peers {
		marker := " "
		if p.IsLocal {
			marker = ">"
		}
		line("%s %d. %-16s %-6s %4d", marker, i+1, p.Label, p.Color, p.Score)
	}
	line("")

	switch v.Phase {
	case match.PhaseInit, match.PhaseConnecting:
		line("Connecting...")
	case match.PhaseLobby:
		if v.InviteURL != "" {
			line("Invite: %s", v.InviteURL)
		}
		if v.WaitingForConfirm {
			line("Starting...")
		} else {
			line("Waiting to start.")
		}
	case match.PhaseCountdown:
		line("Get ready: %d", v.Countdown)
	case match.PhasePlaying:
		line("TAP! %ds left", v.TimeRemaining)
	case match.PhaseFinished:
		line("%s", resultLine(v.Result))
	case match.PhaseError:
		line("%s", v.Message())
	}
	line("")
	line("%s", hint)
	io.WriteString(w, b.String())
}

func modeTitle(v session.View) string {
	if v.Mode == outcome.ModeOnline {
		return fmt.Sprintf("online (%s, %s)", v.Role, v.Strategy)
	}
	return string(v.Mode)
}

func resultLine(res *outcome.MatchResult) string {
	switch {
	case res == nil:
		return "Match over."
	case res.Draw:
		return "It's a draw!"
	case res.Mode != outcome.ModeLocal && res.LocalWon():
		return "You win!"
	default:
		return fmt.Sprintf("%s wins!", res.Labels[*res.WinningPeerIndex])
	}
}
