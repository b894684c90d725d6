// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/nextcloud/go_speaker_client/internal/session"
)

// Renderer reflects session state onto the user's controls.
type Renderer interface {
	Render(s session.Snapshot)
	// Alert surfaces a notice the user has to acknowledge.
	Alert(text string)
}

// Console prints state changes as text lines. Only the parts that changed
// since the previous Render are written.
type Console struct {
	mu   sync.Mutex
	w    io.Writer
	last *session.Snapshot
}

func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

func (c *Console) Render(s session.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	last := c.last
	if last == nil || last.Phase() != s.Phase() || last.Task != s.Task || last.Speaker != s.Speaker {
		fmt.Fprintf(c.w, "[%s] start=%s stop=%s task=%s speaker=%q\n",
			s.Phase(), onOff(s.StartEnabled()), onOff(s.StopEnabled()), s.Task, s.Speaker)
	}
	if last == nil || !slices.Equal(last.Roster, s.Roster) {
		fmt.Fprintf(c.w, "roster: %s\n", strings.Join(s.Roster, ", "))
	}
	if last != nil && last.StatusLog != s.StatusLog {
		fmt.Fprintf(c.w, "status:\n%s\n", strings.ReplaceAll(s.StatusLog, session.LineBreak, "\n"))
	}
	c.last = &s
}

func (c *Console) Alert(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, "ALERT: %s\n", text)
}

func onOff(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

// Discard drops everything; used when no renderer is attached.
type Discard struct{}

func (Discard) Render(session.Snapshot) {}
func (Discard) Alert(string)            {}
