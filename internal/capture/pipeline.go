// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextcloud/go_speaker_client/internal/constants"
	"github.com/nextcloud/go_speaker_client/internal/protocol"
	"github.com/nextcloud/go_speaker_client/internal/resample"
	"github.com/nextcloud/go_speaker_client/internal/session"
)

var ErrRunning = errors.New("capture pipeline already running")

// FrameSender ships command frames to the server.
type FrameSender interface {
	Send(frame protocol.CommandFrame) error
}

// Tap receives every raw captured block in capture order. The slice is
// reused after WriteBlock returns.
type Tap interface {
	WriteBlock(samples []float32, sampleRate int)
}

// Pipeline streams microphone blocks to the server as start frames. The
// task and speaker are read for every block so selector changes apply
// mid-capture.
type Pipeline struct {
	mu sync.Mutex

	source    Source
	sender    FrameSender
	binding   func() session.Binding
	onFailure func(error)
	tap       Tap
	blockSize int

	stream Stream
	stopCh chan struct{}
	done   chan struct{}
	logger *slog.Logger
}

// NewPipeline builds a pipeline. onFailure is called from its own goroutine
// when the input stream fails mid-capture.
func NewPipeline(source Source, sender FrameSender, binding func() session.Binding, onFailure func(error)) *Pipeline {
	return &Pipeline{
		source:    source,
		sender:    sender,
		binding:   binding,
		onFailure: onFailure,
		blockSize: constants.CaptureBlockSize,
		logger:    slog.With("component", "capture"),
	}
}

// SetTap installs a second consumer for raw blocks, e.g. the media track.
func (p *Pipeline) SetTap(t Tap) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tap = t
}

func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stream != nil
}

// Start acquires the input and begins streaming. A failure to acquire the
// input is returned and leaves the pipeline stopped.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream != nil {
		return ErrRunning
	}

	stream, err := p.source.Open(p.blockSize)
	if err != nil {
		return fmt.Errorf("acquire microphone: %w", err)
	}
	if stream.SampleRate() < constants.TargetSampleRate {
		stream.Close()
		return fmt.Errorf("input rate %d Hz is below %d Hz", stream.SampleRate(), constants.TargetSampleRate)
	}

	p.stream = stream
	p.stopCh = make(chan struct{})
	p.done = make(chan struct{})

	logger := p.logger.With("capture_id", uuid.NewString(), "sample_rate", stream.SampleRate())
	logger.Info("capture started")
	go p.run(stream, p.stopCh, p.done, logger)
	return nil
}

// Stop releases the input. It is safe to call when not running.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	stream, stopCh, done := p.stream, p.stopCh, p.done
	p.stream, p.stopCh, p.done = nil, nil, nil
	p.mu.Unlock()

	if stream == nil {
		return
	}

	close(stopCh)
	if err := stream.Close(); err != nil {
		p.logger.Warn("failed to close input stream", "error", err)
	}
	// The block in flight, if any, is sent before Stop returns.
	select {
	case <-done:
	case <-time.After(constants.CaptureStopTimeout):
		p.logger.Warn("capture loop did not stop in time")
	}
}

func (p *Pipeline) run(stream Stream, stopCh, done chan struct{}, logger *slog.Logger) {
	defer close(done)
	defer logger.Info("capture stopped")

	buf := make([]float32, p.blockSize)
	rate := stream.SampleRate()
	blocks := 0

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		if err := stream.Read(buf); err != nil {
			select {
			case <-stopCh:
				return
			default:
			}
			logger.Error("input stream failed", "error", err, "blocks", blocks)
			if p.onFailure != nil {
				go p.onFailure(err)
			}
			return
		}
		blocks++

		p.mu.Lock()
		tap := p.tap
		p.mu.Unlock()
		if tap != nil {
			tap.WriteBlock(buf, rate)
		}

		b := p.binding()
		if b.Task.RequiresSpeaker() && b.Speaker == "" {
			logger.Warn("speaker name required, block not sent", "task", b.Task)
			continue
		}

		pcm, err := resample.Downsample(buf, rate, constants.TargetSampleRate)
		if err != nil {
			logger.Error("dropping block", "error", err)
			continue
		}
		if len(pcm) == 0 {
			continue
		}

		if err := p.sender.Send(protocol.StartFrame(b.Task, b.Speaker, pcm)); err != nil {
			logger.Debug("failed to send block", "error", err, "block", blocks)
		}
	}
}
