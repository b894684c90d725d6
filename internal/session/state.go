// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session holds the client-visible state of one speaker client:
// connection and recording flags, the selected task and speaker, the last
// roster from the server and the status log.
package session

import (
	"errors"
	"slices"
	"sync"

	"github.com/nextcloud/go_speaker_client/internal/protocol"
)

var (
	ErrNotConnected        = errors.New("not connected")
	ErrAlreadyRecording    = errors.New("capture already running")
	ErrSpeakerNameRequired = errors.New("speaker name required for this task")
)

type Phase int

const (
	Disconnected Phase = iota
	Idle
	Recording
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "connected/idle"
	case Recording:
		return "connected/recording"
	}
	return "disconnected"
}

// Binding is the task and speaker a capture session or stop frame is tagged with.
type Binding struct {
	Task    protocol.Task
	Speaker string
}

// Snapshot is an immutable copy of State for rendering.
type Snapshot struct {
	Connected bool
	Recording bool
	Task      protocol.Task
	Speaker   string
	Roster    []string
	StatusLog string
}

func (s Snapshot) Phase() Phase {
	switch {
	case !s.Connected:
		return Disconnected
	case s.Recording:
		return Recording
	}
	return Idle
}

// StartEnabled mirrors the start control: only usable while connected and idle.
func (s Snapshot) StartEnabled() bool { return s.Phase() == Idle }

// StopEnabled mirrors the stop control: only usable while recording.
func (s Snapshot) StopEnabled() bool { return s.Phase() == Recording }

type State struct {
	mu        sync.Mutex
	connected bool
	recording bool
	task      protocol.Task
	speaker   string
	roster    []string
	statusLog string
}

func New(task protocol.Task, speaker string) *State {
	if task == "" {
		task = protocol.TaskEnroll
	}
	return &State{task: task, speaker: speaker, roster: []string{}}
}

func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Connected: s.connected,
		Recording: s.recording,
		Task:      s.task,
		Speaker:   s.speaker,
		Roster:    slices.Clone(s.roster),
		StatusLog: s.statusLog,
	}
}

func (s *State) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *State) Recording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}

func (s *State) Binding() Binding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Binding{Task: s.task, Speaker: s.speaker}
}

func (s *State) SetTask(t protocol.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.task = t
}

func (s *State) SetSpeaker(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speaker = name
}

// Open marks the channel as connected.
func (s *State) Open() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
}

// Close marks the channel as closed and forces recording off. It reports
// whether a capture was running.
func (s *State) Close() (wasRecording bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wasRecording = s.recording
	s.connected = false
	s.recording = false
	return wasRecording
}

// BeginRecording moves Idle to Recording and returns the binding the capture
// runs under. The speaker name is required for enroll and verify.
func (s *State) BeginRecording() (Binding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := Binding{Task: s.task, Speaker: s.speaker}
	switch {
	case !s.connected:
		return b, ErrNotConnected
	case s.recording:
		return b, ErrAlreadyRecording
	case b.Task.RequiresSpeaker() && b.Speaker == "":
		return b, ErrSpeakerNameRequired
	}
	s.recording = true
	return b, nil
}

// EndRecording clears the recording flag and returns the binding active at stop time.
func (s *State) EndRecording() Binding {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recording = false
	return Binding{Task: s.task, Speaker: s.speaker}
}

// ReplaceRoster swaps in the server's roster wholesale.
func (s *State) ReplaceRoster(names []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roster = slices.Clone(names)
	if s.roster == nil {
		s.roster = []string{}
	}
}

func (s *State) SetStatus(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusLog = text
}

// AppendStatus adds a line to the status log.
func (s *State) AppendStatus(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statusLog == "" {
		s.statusLog = text
		return
	}
	s.statusLog += LineBreak + text
}

const LineBreak = "\r\n"
