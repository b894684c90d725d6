// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrMalformedFrame = errors.New("malformed event frame")

// Event is an inbound frame decoded by task.
type Event interface {
	EventTask() Task
}

// RosterEvent replaces the enrolled speaker list.
type RosterEvent struct {
	Speakers []string
}

// AlertEvent is a server notice the user must acknowledge.
type AlertEvent struct {
	Text string
}

// ResultEvent is a textual outcome of enroll, verify, identify or remove_voice.
type ResultEvent struct {
	Task       Task
	Text       string
	OK         bool
	Speaker    string
	Confidence *float64
}

// UnknownEvent carries a task this client does not handle.
type UnknownEvent struct {
	Task Task
}

func (RosterEvent) EventTask() Task    { return TaskGetVoiceList }
func (AlertEvent) EventTask() Task     { return TaskAlert }
func (e ResultEvent) EventTask() Task  { return e.Task }
func (e UnknownEvent) EventTask() Task { return e.Task }

// Appends reports whether the result extends the status log instead of
// replacing it. Verification and identification results stream in.
func (e ResultEvent) Appends() bool {
	return e.Task == TaskVerify || e.Task == TaskIdentify
}

type eventFrame struct {
	Task       Task            `json:"task"`
	Status     string          `json:"status,omitempty"`
	Message    json.RawMessage `json:"message"`
	SpkName    string          `json:"spk_name,omitempty"`
	Confidence *float64        `json:"confidence,omitempty"`
}

// ParseEvent decodes one inbound frame. Unrecognised tasks decode to
// UnknownEvent; undecodable frames return ErrMalformedFrame.
func ParseEvent(data []byte) (Event, error) {
	var f eventFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch f.Task {
	case TaskGetVoiceList:
		var speakers []string
		if err := json.Unmarshal(f.Message, &speakers); err != nil {
			return nil, fmt.Errorf("%w: roster message: %v", ErrMalformedFrame, err)
		}
		if speakers == nil {
			speakers = []string{}
		}
		return RosterEvent{Speakers: speakers}, nil

	case TaskAlert:
		text, err := messageText(f.Message)
		if err != nil {
			return nil, err
		}
		return AlertEvent{Text: text}, nil

	case TaskEnroll, TaskVerify, TaskIdentify, TaskRemoveVoice:
		text, err := messageText(f.Message)
		if err != nil {
			return nil, err
		}
		return ResultEvent{
			Task:       f.Task,
			Text:       text,
			OK:         f.Status == "true" || f.Status == "success",
			Speaker:    f.SpkName,
			Confidence: f.Confidence,
		}, nil
	}

	return UnknownEvent{Task: f.Task}, nil
}

func messageText(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return "", fmt.Errorf("%w: message is not text: %v", ErrMalformedFrame, err)
	}
	return text, nil
}
