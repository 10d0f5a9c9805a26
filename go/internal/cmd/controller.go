package main

import (
	"github.com/mcdev12/tapduel/go/internal/duel/session"
)

// controller maps key presses onto one session type.
type controller interface {
	session.Advancer
	View() session.View
	// Press handles one key and reports whether it did anything.
	Press(key byte) bool
	Close() error
}

const (
	keyClick   = ' '
	keyEnter   = '\r'
	keyStart   = 's'
	keyRematch = 'r'
)

func isClick(key byte) bool {
	return key == keyClick || key == keyEnter || key == '\n'
}

type onlineController struct{ *session.Online }

func (c onlineController) Press(key byte) bool {
	switch {
	case isClick(key):
		c.HandleLocalClick()
		return true
	case key == keyStart:
		return c.RequestStart()
	case key == keyRematch:
		return c.RequestRematch()
	}
	return false
}

type localController struct{ *session.Local }

// Press maps 1-4 to the player slots; space and enter click for slot 0.
func (c localController) Press(key byte) bool {
	switch {
	case key >= '1' && key <= '4':
		c.HandleClick(int(key - '1'))
		return true
	case isClick(key):
		c.HandleClick(0)
		return true
	case key == keyStart:
		return c.RequestStart()
	case key == keyRematch:
		return c.RequestRematch()
	}
	return false
}

type practiceController struct{ *session.Practice }

// Press also accepts e, m and h to change the bot between matches.
func (c practiceController) Press(key byte) bool {
	switch {
	case isClick(key):
		c.HandleLocalClick()
		return true
	case key == keyStart:
		return c.RequestStart()
	case key == keyRematch:
		return c.RequestRematch()
	case key == 'e':
		return c.SetDifficulty(session.Easy) == nil
	case key == 'm':
		return c.SetDifficulty(session.Medium) == nil
	case key == 'h':
		return c.SetDifficulty(session.Hard) == nil
	}
	return false
}
