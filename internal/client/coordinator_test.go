// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import (
	"context"
	"errors"
	"io"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/nextcloud/go_speaker_client/internal/capture"
	"github.com/nextcloud/go_speaker_client/internal/media"
	"github.com/nextcloud/go_speaker_client/internal/protocol"
	"github.com/nextcloud/go_speaker_client/internal/session"
)

type recordingChannel struct {
	mu     sync.Mutex
	frames []protocol.CommandFrame
	closed bool
}

func (r *recordingChannel) Send(f protocol.CommandFrame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
	return nil
}

func (r *recordingChannel) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

func (r *recordingChannel) sent() []protocol.CommandFrame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.frames)
}

func (r *recordingChannel) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = nil
}

// control frames only; streamed start frames are filtered out
func (r *recordingChannel) control() []protocol.CommandFrame {
	var out []protocol.CommandFrame
	for _, f := range r.sent() {
		if f.Record != protocol.RecordStart {
			out = append(out, f)
		}
	}
	return out
}

type recordingRenderer struct {
	mu      sync.Mutex
	alerts  []string
	last    session.Snapshot
	renders int
}

func (r *recordingRenderer) Render(s session.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = s
	r.renders++
}

func (r *recordingRenderer) Alert(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, text)
}

func (r *recordingRenderer) alertList() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.alerts)
}

// blockStream yields a number of blocks and then blocks until closed.
type blockStream struct {
	mu     sync.Mutex
	blocks int
	fail   error
	closed chan struct{}
	once   sync.Once
}

func newBlockStream(blocks int, fail error) *blockStream {
	return &blockStream{blocks: blocks, fail: fail, closed: make(chan struct{})}
}

func (s *blockStream) SampleRate() int { return 48000 }

func (s *blockStream) Read(buf []float32) error {
	s.mu.Lock()
	if s.blocks > 0 {
		s.blocks--
		s.mu.Unlock()
		for i := range buf {
			buf[i] = 0.1
		}
		return nil
	}
	fail := s.fail
	s.mu.Unlock()
	if fail != nil {
		return fail
	}
	<-s.closed
	return io.EOF
}

func (s *blockStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *blockStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

type stubSource struct {
	mu     sync.Mutex
	opens  int
	err    error
	stream *blockStream
}

func (s *stubSource) Open(blockSize int) (capture.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens++
	if s.err != nil {
		return nil, s.err
	}
	if s.stream == nil {
		return nil, errors.New("no input device")
	}
	return s.stream, nil
}

func (s *stubSource) openCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

type stubNegotiator struct {
	err    error
	closed bool
}

func (n *stubNegotiator) Negotiate(ctx context.Context) (*media.TrackWriter, error) {
	return nil, n.err
}

func (n *stubNegotiator) Close() { n.closed = true }

type harness struct {
	coord    *Coordinator
	channel  *recordingChannel
	renderer *recordingRenderer
	source   *stubSource
}

func newHarness(task protocol.Task, speaker string, stream *blockStream) *harness {
	h := &harness{
		channel:  &recordingChannel{},
		renderer: &recordingRenderer{},
		source:   &stubSource{stream: stream},
	}
	h.coord = New(Options{
		Task:     task,
		Speaker:  speaker,
		Source:   h.source,
		Renderer: h.renderer,
	})
	h.coord.Bind(h.channel)
	return h
}

func (h *harness) connect(t *testing.T) {
	t.Helper()
	h.coord.OnOpen()
	h.channel.reset()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestOnOpen_RequestsRoster(t *testing.T) {
	h := newHarness(protocol.TaskEnroll, "", nil)
	h.coord.OnOpen()

	frames := h.channel.sent()
	if len(frames) != 1 || frames[0].Task != protocol.TaskGetVoiceList {
		t.Fatalf("expected one roster request, got %+v", frames)
	}
	if snap := h.coord.Snapshot(); snap.Phase() != session.Idle {
		t.Fatalf("phase = %s, want idle", snap.Phase())
	}
	if h.renderer.last.Phase() != session.Idle {
		t.Fatalf("renderer not updated")
	}
}

func TestStopCapture_WhenIdleSendsOneStopFrame(t *testing.T) {
	h := newHarness(protocol.TaskIdentify, "", nil)
	h.connect(t)

	h.coord.StopCapture()

	frames := h.channel.sent()
	if len(frames) != 1 {
		t.Fatalf("expected exactly one frame, got %+v", frames)
	}
	f := frames[0]
	if f.Task != protocol.TaskIdentify || f.Record != protocol.RecordStop || len(f.Data) != 0 {
		t.Fatalf("unexpected stop frame %+v", f)
	}
	if h.coord.Snapshot().Recording {
		t.Fatalf("recording should remain false")
	}
}

func TestStopCapture_EnrollRefreshesRoster(t *testing.T) {
	h := newHarness(protocol.TaskEnroll, "alice", newBlockStream(0, nil))
	h.connect(t)

	if err := h.coord.StartCapture(); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	h.coord.StopCapture()

	frames := h.channel.control()
	if len(frames) != 2 {
		t.Fatalf("expected stop + roster request, got %+v", frames)
	}
	if frames[0].Record != protocol.RecordStop || frames[0].SpkName != "alice" {
		t.Fatalf("unexpected stop frame %+v", frames[0])
	}
	if frames[1].Task != protocol.TaskGetVoiceList {
		t.Fatalf("expected roster request, got %+v", frames[1])
	}
}

func TestOnEvent_RosterReplaced(t *testing.T) {
	h := newHarness(protocol.TaskEnroll, "", nil)
	h.connect(t)

	h.coord.OnEvent(protocol.RosterEvent{Speakers: []string{"carol"}})
	h.coord.OnEvent(protocol.RosterEvent{Speakers: []string{"alice", "bob"}})

	if got := h.coord.Snapshot().Roster; !slices.Equal(got, []string{"alice", "bob"}) {
		t.Fatalf("roster = %v", got)
	}
}

func TestOnEvent_StatusLog(t *testing.T) {
	h := newHarness(protocol.TaskVerify, "", nil)
	h.connect(t)

	h.coord.OnEvent(protocol.ResultEvent{Task: protocol.TaskVerify, Text: "m1"})
	h.coord.OnEvent(protocol.ResultEvent{Task: protocol.TaskVerify, Text: "m2"})
	if got := h.coord.Snapshot().StatusLog; got != "m1"+session.LineBreak+"m2" {
		t.Fatalf("status log = %q", got)
	}

	h.coord.OnEvent(protocol.ResultEvent{Task: protocol.TaskEnroll, Text: "done"})
	h.coord.OnEvent(protocol.ResultEvent{Task: protocol.TaskEnroll, Text: "done2"})
	if got := h.coord.Snapshot().StatusLog; got != "done2" {
		t.Fatalf("status log = %q, want done2", got)
	}
}

func TestOnEvent_AlertAndUnknown(t *testing.T) {
	h := newHarness(protocol.TaskEnroll, "", nil)
	h.connect(t)
	before := h.coord.Snapshot()

	h.coord.OnEvent(protocol.AlertEvent{Text: "too many connections"})
	h.coord.OnEvent(protocol.UnknownEvent{Task: "bogus"})

	if got := h.renderer.alertList(); !slices.Equal(got, []string{"too many connections"}) {
		t.Fatalf("alerts = %v", got)
	}
	after := h.coord.Snapshot()
	if after.StatusLog != before.StatusLog || !slices.Equal(after.Roster, before.Roster) {
		t.Fatalf("state changed by alert/unknown event")
	}
}

func TestStartCapture_MissingSpeaker(t *testing.T) {
	h := newHarness(protocol.TaskEnroll, "", newBlockStream(0, nil))
	h.connect(t)

	err := h.coord.StartCapture()
	if !errors.Is(err, session.ErrSpeakerNameRequired) {
		t.Fatalf("expected ErrSpeakerNameRequired, got %v", err)
	}
	if h.source.openCount() != 0 {
		t.Fatalf("microphone acquired without a speaker name")
	}
	if h.coord.Snapshot().Recording {
		t.Fatalf("recording should be false")
	}
	if got := h.renderer.alertList(); !slices.Equal(got, []string{SpeakerNotice}) {
		t.Fatalf("alerts = %v", got)
	}
}

func TestStartCapture_Disconnected(t *testing.T) {
	h := newHarness(protocol.TaskIdentify, "", newBlockStream(0, nil))

	if err := h.coord.StartCapture(); !errors.Is(err, session.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if h.source.openCount() != 0 || len(h.channel.sent()) != 0 {
		t.Fatalf("disconnected start had side effects")
	}
	if got := h.renderer.alertList(); !slices.Equal(got, []string{ClosedNotice}) {
		t.Fatalf("alerts = %v", got)
	}
}

func TestStartCapture_Guarded(t *testing.T) {
	stream := newBlockStream(0, nil)
	h := newHarness(protocol.TaskIdentify, "", stream)
	h.connect(t)

	if err := h.coord.StartCapture(); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	if err := h.coord.StartCapture(); !errors.Is(err, session.ErrAlreadyRecording) {
		t.Fatalf("expected ErrAlreadyRecording, got %v", err)
	}
	if h.source.openCount() != 1 {
		t.Fatalf("microphone opened %d times", h.source.openCount())
	}
	h.coord.StopCapture()
	if !stream.isClosed() {
		t.Fatalf("stream not released on stop")
	}
}

func TestStartCapture_AcquireFailure(t *testing.T) {
	h := newHarness(protocol.TaskIdentify, "", nil)
	h.source.err = errors.New("permission denied")
	h.connect(t)

	if err := h.coord.StartCapture(); err == nil {
		t.Fatalf("expected acquire error")
	}
	snap := h.coord.Snapshot()
	if snap.Phase() != session.Idle || !snap.StartEnabled() {
		t.Fatalf("expected idle after failed start, got %s", snap.Phase())
	}
	if len(h.renderer.alertList()) != 0 {
		t.Fatalf("acquire failure should not alert")
	}
}

func TestStartCapture_StreamsBlocks(t *testing.T) {
	h := newHarness(protocol.TaskVerify, "bob", newBlockStream(3, nil))
	h.connect(t)

	if err := h.coord.StartCapture(); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	waitFor(t, func() bool { return len(h.channel.sent()) >= 3 })
	h.coord.StopCapture()

	frames := h.channel.sent()
	if len(frames) != 4 {
		t.Fatalf("expected 3 blocks and a stop frame, got %d frames", len(frames))
	}
	for _, f := range frames[:3] {
		if f.Record != protocol.RecordStart || f.SpkName != "bob" || len(f.Data) != 1365 {
			t.Fatalf("unexpected block frame task=%s record=%s len=%d", f.Task, f.Record, len(f.Data))
		}
	}
	if frames[3].Record != protocol.RecordStop {
		t.Fatalf("last frame should be the stop frame")
	}
}

func TestOnClose_WhileRecording(t *testing.T) {
	stream := newBlockStream(0, nil)
	h := newHarness(protocol.TaskVerify, "bob", stream)
	h.connect(t)

	if err := h.coord.StartCapture(); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	h.coord.OnClose(errors.New("connection reset"))

	snap := h.coord.Snapshot()
	if snap.Recording || snap.Connected {
		t.Fatalf("expected disconnected and not recording, got %+v", snap)
	}
	if !stream.isClosed() {
		t.Fatalf("microphone not released")
	}
	if frames := h.channel.sent(); len(frames) != 0 {
		t.Fatalf("no frame should be sent after close, got %+v", frames)
	}
	if got := h.renderer.alertList(); !slices.Equal(got, []string{ClosedNotice}) {
		t.Fatalf("alerts = %v", got)
	}
	if h.renderer.last.StartEnabled() || h.renderer.last.StopEnabled() {
		t.Fatalf("controls should be disabled after close")
	}
}

func TestCaptureFailure_StopsSession(t *testing.T) {
	h := newHarness(protocol.TaskIdentify, "", newBlockStream(1, errors.New("device unplugged")))
	h.connect(t)

	if err := h.coord.StartCapture(); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	waitFor(t, func() bool { return !h.coord.Snapshot().Recording })
	waitFor(t, func() bool { return len(h.channel.control()) == 1 })

	if f := h.channel.control()[0]; f.Record != protocol.RecordStop {
		t.Fatalf("expected stop frame, got %+v", f)
	}
}

func TestRemoveVoice(t *testing.T) {
	h := newHarness(protocol.TaskEnroll, "", nil)
	h.connect(t)

	if err := h.coord.RemoveVoice(""); !errors.Is(err, session.ErrSpeakerNameRequired) {
		t.Fatalf("expected ErrSpeakerNameRequired, got %v", err)
	}
	if got := h.renderer.alertList(); !slices.Equal(got, []string{RemoveVoiceNotice}) {
		t.Fatalf("alerts = %v", got)
	}
	frames := h.channel.sent()
	if len(frames) != 1 || frames[0].Task != protocol.TaskGetVoiceList {
		t.Fatalf("expected only a roster refresh, got %+v", frames)
	}

	h.channel.reset()
	if err := h.coord.RemoveVoice("carol"); err != nil {
		t.Fatalf("RemoveVoice: %v", err)
	}
	frames = h.channel.sent()
	if len(frames) != 2 || frames[0].Task != protocol.TaskRemoveVoice || frames[0].SpkName != "carol" ||
		frames[1].Task != protocol.TaskGetVoiceList {
		t.Fatalf("unexpected frames %+v", frames)
	}
}

func TestIntents_Disconnected(t *testing.T) {
	h := newHarness(protocol.TaskEnroll, "", nil)

	if err := h.coord.RefreshRoster(); !errors.Is(err, session.ErrNotConnected) {
		t.Fatalf("RefreshRoster: %v", err)
	}
	if err := h.coord.RemoveVoice("carol"); !errors.Is(err, session.ErrNotConnected) {
		t.Fatalf("RemoveVoice: %v", err)
	}
	if len(h.channel.sent()) != 0 {
		t.Fatalf("frames sent while disconnected")
	}
	if got := h.renderer.alertList(); len(got) != 2 || got[0] != ClosedNotice {
		t.Fatalf("alerts = %v", got)
	}
}

func TestSelectorsApplyToStopFrame(t *testing.T) {
	h := newHarness(protocol.TaskIdentify, "", nil)
	h.connect(t)

	h.coord.SetTask(protocol.TaskVerify)
	h.coord.SetSpeaker("dave")
	h.coord.StopCapture()

	frames := h.channel.sent()
	if len(frames) != 1 || frames[0].Task != protocol.TaskVerify || frames[0].SpkName != "dave" {
		t.Fatalf("unexpected frames %+v", frames)
	}
	if h.renderer.last.Task != protocol.TaskVerify || h.renderer.last.Speaker != "dave" {
		t.Fatalf("renderer not updated with selectors")
	}
}

func TestNegotiateMedia(t *testing.T) {
	h := newHarness(protocol.TaskIdentify, "", nil)
	if err := h.coord.NegotiateMedia(context.Background()); !errors.Is(err, ErrMediaUnavailable) {
		t.Fatalf("expected ErrMediaUnavailable, got %v", err)
	}

	neg := &stubNegotiator{err: errors.New("connection refused")}
	h.coord.negotiator = neg
	h.connect(t)

	if err := h.coord.NegotiateMedia(context.Background()); err == nil {
		t.Fatalf("expected negotiation error")
	}
	if snap := h.coord.Snapshot(); snap.Phase() != session.Idle {
		t.Fatalf("phase = %s, want idle", snap.Phase())
	}

	h.coord.Shutdown()
	if !neg.closed || !h.channel.closed {
		t.Fatalf("shutdown did not release media path and channel")
	}
}
