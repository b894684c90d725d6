// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
)

type Task string

const (
	TaskEnroll       Task = "enroll"
	TaskVerify       Task = "verify"
	TaskIdentify     Task = "identify"
	TaskRemoveVoice  Task = "remove_voice"
	TaskGetVoiceList Task = "get_voice_list"

	// TaskAlert only appears on inbound frames.
	TaskAlert Task = "alert"
)

// ParseTask accepts the selectable tasks; alert is server-only.
func ParseTask(s string) (Task, error) {
	switch t := Task(s); t {
	case TaskEnroll, TaskVerify, TaskIdentify, TaskRemoveVoice, TaskGetVoiceList:
		return t, nil
	}
	return "", fmt.Errorf("unknown task %q", s)
}

// RequiresSpeaker reports whether captured audio must be bound to a speaker name.
func (t Task) RequiresSpeaker() bool {
	return t == TaskEnroll || t == TaskVerify
}

type RecordPhase string

const (
	RecordStart RecordPhase = "start"
	RecordStop  RecordPhase = "stop"
)

// CommandFrame is the outbound message. Record is omitted for roster
// and removal commands.
type CommandFrame struct {
	Task    Task        `json:"task"`
	Record  RecordPhase `json:"record,omitempty"`
	SpkName string      `json:"spk_name"`
	Data    Samples     `json:"data"`
}

func StartFrame(task Task, speaker string, data []int16) CommandFrame {
	return CommandFrame{Task: task, Record: RecordStart, SpkName: speaker, Data: data}
}

func StopFrame(task Task, speaker string) CommandFrame {
	return CommandFrame{Task: task, Record: RecordStop, SpkName: speaker}
}

func RosterRequest() CommandFrame {
	return CommandFrame{Task: TaskGetVoiceList}
}

func RemoveVoiceRequest(speaker string) CommandFrame {
	return CommandFrame{Task: TaskRemoveVoice, SpkName: speaker}
}

// Validate checks the start/stop payload invariants.
func (f CommandFrame) Validate() error {
	switch f.Record {
	case RecordStart:
		if len(f.Data) == 0 {
			return errors.New("start frame without samples")
		}
	case RecordStop:
		if len(f.Data) != 0 {
			return errors.New("stop frame with samples")
		}
	}
	return nil
}

// Samples is 16-bit PCM as the speaker server expects it: a typed-array style
// object keyed by sample index ({"0":12,"1":-4}) in index order, or [] when
// empty. Decoding also accepts a plain JSON array.
type Samples []int16

func (s Samples) MarshalJSON() ([]byte, error) {
	if len(s) == 0 {
		return []byte("[]"), nil
	}
	var buf bytes.Buffer
	buf.Grow(len(s) * 10)
	buf.WriteByte('{')
	for i, v := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('"')
		buf.WriteString(strconv.Itoa(i))
		buf.WriteString(`":`)
		buf.WriteString(strconv.Itoa(int(v)))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (s *Samples) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = nil
		return nil
	}

	if data[0] == '[' {
		var list []int16
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*s = list
		return nil
	}

	var indexed map[string]int16
	if err := json.Unmarshal(data, &indexed); err != nil {
		return err
	}
	keys := make([]int, 0, len(indexed))
	for k := range indexed {
		i, err := strconv.Atoi(k)
		if err != nil || i < 0 {
			return fmt.Errorf("invalid sample index %q", k)
		}
		keys = append(keys, i)
	}
	sort.Ints(keys)
	out := make([]int16, len(keys))
	for i, k := range keys {
		if k != i {
			return fmt.Errorf("sample index %d missing", i)
		}
		out[i] = indexed[strconv.Itoa(k)]
	}
	*s = out
	return nil
}
