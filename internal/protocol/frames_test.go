// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

import (
	"encoding/json"
	"testing"
)

func TestSamples_MarshalIndexedObjectInOrder(t *testing.T) {
	data := make(Samples, 12)
	for i := range data {
		data[i] = int16(i - 3)
	}
	got, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"0":-3,"1":-2,"2":-1,"3":0,"4":1,"5":2,"6":3,"7":4,"8":5,"9":6,"10":7,"11":8}`
	if string(got) != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestSamples_EmptyIsArray(t *testing.T) {
	got, err := json.Marshal(StopFrame(TaskEnroll, "alice"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"task":"enroll","record":"stop","spk_name":"alice","data":[]}`
	if string(got) != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestSamples_RosterRequestOmitsRecord(t *testing.T) {
	got, err := json.Marshal(RosterRequest())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"task":"get_voice_list","spk_name":"","data":[]}`
	if string(got) != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestSamples_UnmarshalForms(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []int16
	}{
		{"indexed", `{"1":5,"0":-7,"2":9}`, []int16{-7, 5, 9}},
		{"array", `[1,2,3]`, []int16{1, 2, 3}},
		{"empty array", `[]`, []int16{}},
		{"null", `null`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s Samples
			if err := json.Unmarshal([]byte(tt.input), &s); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if len(s) != len(tt.want) {
				t.Fatalf("got %v, want %v", s, tt.want)
			}
			for i := range tt.want {
				if s[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", s, tt.want)
				}
			}
		})
	}
}

func TestSamples_UnmarshalRejectsGaps(t *testing.T) {
	var s Samples
	if err := json.Unmarshal([]byte(`{"0":1,"2":3}`), &s); err == nil {
		t.Fatalf("expected error for missing index")
	}
	if err := json.Unmarshal([]byte(`{"a":1}`), &s); err == nil {
		t.Fatalf("expected error for non-numeric index")
	}
}

func TestCommandFrame_Validate(t *testing.T) {
	if err := StartFrame(TaskVerify, "bob", nil).Validate(); err == nil {
		t.Fatalf("expected empty start frame to be invalid")
	}
	if err := StartFrame(TaskVerify, "bob", []int16{1}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stop := StopFrame(TaskVerify, "bob")
	if err := stop.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stop.Data = Samples{1}
	if err := stop.Validate(); err == nil {
		t.Fatalf("expected stop frame with data to be invalid")
	}
}

func TestParseTask(t *testing.T) {
	for _, s := range []string{"enroll", "verify", "identify", "remove_voice", "get_voice_list"} {
		if _, err := ParseTask(s); err != nil {
			t.Fatalf("ParseTask(%q): %v", s, err)
		}
	}
	for _, s := range []string{"alert", "", "Enroll"} {
		if _, err := ParseTask(s); err == nil {
			t.Fatalf("ParseTask(%q): expected error", s)
		}
	}
	if !TaskEnroll.RequiresSpeaker() || !TaskVerify.RequiresSpeaker() || TaskIdentify.RequiresSpeaker() {
		t.Fatalf("unexpected RequiresSpeaker results")
	}
}
