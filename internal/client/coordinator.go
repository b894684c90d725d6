// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package client coordinates one speaker client session: it owns the
// session state and turns user intents and server events into capture,
// channel and renderer actions.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nextcloud/go_speaker_client/internal/capture"
	"github.com/nextcloud/go_speaker_client/internal/media"
	"github.com/nextcloud/go_speaker_client/internal/protocol"
	"github.com/nextcloud/go_speaker_client/internal/session"
	"github.com/nextcloud/go_speaker_client/internal/ui"
)

const (
	ClosedNotice      = "Connection closed. Restart the client to try again."
	SpeakerNotice     = "Please input speaker name to be enrolled or verified."
	RemoveVoiceNotice = "Please choose speaker name to be deleted."
)

var ErrMediaUnavailable = errors.New("media negotiation not configured")

// Channel is the duplex link to the speaker server.
type Channel interface {
	Send(frame protocol.CommandFrame) error
	Close()
}

// Negotiator establishes the media path and returns the local track writer.
type Negotiator interface {
	Negotiate(ctx context.Context) (*media.TrackWriter, error)
	Close()
}

// WavLocator resolves the download URL of the last recording.
type WavLocator interface {
	WavURL(ctx context.Context) (string, error)
}

type Options struct {
	Task       protocol.Task
	Speaker    string
	Source     capture.Source
	Renderer   ui.Renderer
	Negotiator Negotiator
	Wav        WavLocator
}

type Coordinator struct {
	mu sync.Mutex // serialises user intents and lifecycle callbacks

	state      *session.State
	pipeline   *capture.Pipeline
	renderer   ui.Renderer
	negotiator Negotiator
	wav        WavLocator

	chMu    sync.Mutex
	channel Channel

	logger *slog.Logger
}

func New(opts Options) *Coordinator {
	c := &Coordinator{
		state:      session.New(opts.Task, opts.Speaker),
		renderer:   opts.Renderer,
		negotiator: opts.Negotiator,
		wav:        opts.Wav,
		logger:     slog.With("component", "coordinator"),
	}
	if c.renderer == nil {
		c.renderer = ui.Discard{}
	}
	c.pipeline = capture.NewPipeline(opts.Source, blockSender{c}, c.state.Binding, c.onCaptureFailure)
	return c
}

// Bind attaches the channel frames are sent on. It must be called before
// the channel is opened.
func (c *Coordinator) Bind(ch Channel) {
	c.chMu.Lock()
	defer c.chMu.Unlock()
	c.channel = ch
}

func (c *Coordinator) Snapshot() session.Snapshot {
	return c.state.Snapshot()
}

// OnOpen implements transport.Handler.
func (c *Coordinator) OnOpen() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.Open()
	c.logger.Info("connected to speaker server")
	c.requestRoster()
	c.render()
}

// OnEvent implements transport.Handler.
func (c *Coordinator) OnEvent(ev protocol.Event) {
	switch e := ev.(type) {
	case protocol.RosterEvent:
		c.state.ReplaceRoster(e.Speakers)
		c.logger.Debug("roster replaced", "speakers", len(e.Speakers))
	case protocol.AlertEvent:
		c.renderer.Alert(e.Text)
		return
	case protocol.ResultEvent:
		if e.Appends() {
			c.state.AppendStatus(e.Text)
		} else {
			c.state.SetStatus(e.Text)
		}
		c.logger.Debug("result received", "task", e.Task, "ok", e.OK, "speaker", e.Speaker)
	default:
		return
	}
	c.render()
}

// OnClose implements transport.Handler. The session is terminal afterwards.
func (c *Coordinator) OnClose(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	wasRecording := c.state.Close()
	c.logger.Warn("speaker server connection closed", "error", err, "was_recording", wasRecording)
	c.stopCapture()
	c.renderer.Alert(ClosedNotice)
	c.render()
}

// StartCapture moves the session into recording and starts streaming
// microphone blocks.
func (c *Coordinator) StartCapture() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, err := c.state.BeginRecording()
	switch {
	case errors.Is(err, session.ErrNotConnected):
		c.renderer.Alert(ClosedNotice)
		return err
	case errors.Is(err, session.ErrSpeakerNameRequired):
		c.logger.Warn("capture not started, speaker name missing", "task", b.Task)
		c.renderer.Alert(SpeakerNotice)
		return err
	case err != nil:
		return err
	}

	if err := c.pipeline.Start(); err != nil {
		c.state.EndRecording()
		c.logger.Error("could not acquire media", "error", err)
		c.render()
		return err
	}

	c.logger.Info("recording", "task", b.Task, "speaker", b.Speaker)
	c.render()
	return nil
}

// StopCapture releases the input and sends the stop frame for the task and
// speaker selected now. It is safe to call when not recording.
func (c *Coordinator) StopCapture() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopCapture()
	c.render()
}

func (c *Coordinator) stopCapture() {
	c.pipeline.Stop()
	b := c.state.EndRecording()

	if err := c.send(protocol.StopFrame(b.Task, b.Speaker)); err != nil {
		c.logger.Debug("stop frame not sent", "error", err)
	}
	if b.Task == protocol.TaskEnroll {
		c.requestRoster()
	}
}

// RefreshRoster asks the server for the enrolled speakers.
func (c *Coordinator) RefreshRoster() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.Connected() {
		c.renderer.Alert(ClosedNotice)
		return session.ErrNotConnected
	}
	return c.requestRoster()
}

// RemoveVoice deletes an enrolled speaker and refreshes the roster.
func (c *Coordinator) RemoveVoice(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.Connected() {
		c.renderer.Alert(ClosedNotice)
		return session.ErrNotConnected
	}

	var err error
	if name == "" {
		c.renderer.Alert(RemoveVoiceNotice)
		err = session.ErrSpeakerNameRequired
	} else if err = c.send(protocol.RemoveVoiceRequest(name)); err == nil {
		c.logger.Info("voice removal requested", "speaker", name)
	}

	if rerr := c.requestRoster(); err == nil {
		err = rerr
	}
	return err
}

func (c *Coordinator) SetTask(t protocol.Task) {
	c.state.SetTask(t)
	c.render()
}

func (c *Coordinator) SetSpeaker(name string) {
	c.state.SetSpeaker(name)
	c.render()
}

// NegotiateMedia runs the one-shot media negotiation. Failures are logged
// and leave the session in its non-recording state; there is no retry.
func (c *Coordinator) NegotiateMedia(ctx context.Context) error {
	if c.negotiator == nil {
		return ErrMediaUnavailable
	}

	writer, err := c.negotiator.Negotiate(ctx)
	if err != nil {
		c.logger.Error("media negotiation failed", "error", err)
		if c.state.Recording() {
			c.StopCapture()
		} else {
			c.render()
		}
		return fmt.Errorf("negotiate media: %w", err)
	}
	if writer != nil {
		c.pipeline.SetTap(writer)
	}
	return nil
}

// WavURL returns the download link for the server's last recording.
func (c *Coordinator) WavURL(ctx context.Context) (string, error) {
	if c.wav == nil {
		return "", errors.New("wav download not configured")
	}
	return c.wav.WavURL(ctx)
}

// Shutdown stops any capture and tears down the media path and channel.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	if c.state.Recording() {
		c.stopCapture()
	}
	c.mu.Unlock()

	if c.negotiator != nil {
		c.negotiator.Close()
	}
	c.chMu.Lock()
	ch := c.channel
	c.chMu.Unlock()
	if ch != nil {
		ch.Close()
	}
}

func (c *Coordinator) onCaptureFailure(err error) {
	c.logger.Error("capture failed, stopping", "error", err)
	c.StopCapture()
}

func (c *Coordinator) requestRoster() error {
	if err := c.send(protocol.RosterRequest()); err != nil {
		c.logger.Debug("roster request not sent", "error", err)
		return err
	}
	return nil
}

// send forwards a frame only while connected; callers never queue.
func (c *Coordinator) send(frame protocol.CommandFrame) error {
	if !c.state.Connected() {
		return session.ErrNotConnected
	}
	c.chMu.Lock()
	ch := c.channel
	c.chMu.Unlock()
	if ch == nil {
		return session.ErrNotConnected
	}
	return ch.Send(frame)
}

func (c *Coordinator) render() {
	c.renderer.Render(c.state.Snapshot())
}

type blockSender struct{ c *Coordinator }

func (s blockSender) Send(frame protocol.CommandFrame) error {
	return s.c.send(frame)
}
