// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package capture

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

const pollInterval = 10 * time.Millisecond

// Stream is an open single-channel input delivering normalized samples.
type Stream interface {
	SampleRate() int
	// Read blocks until the next len(buf) samples are available.
	Read(buf []float32) error
	Close() error
}

// Source hands out exclusive input streams.
type Source interface {
	Open(blockSize int) (Stream, error)
}

// Microphone opens the default input device through PortAudio at the
// device's native rate.
type Microphone struct{}

func (Microphone) Open(blockSize int) (Stream, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}

	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("default input device: %w", err)
	}

	buf := make([]float32, blockSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, dev.DefaultSampleRate, blockSize, buf)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("open input stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("start input stream: %w", err)
	}

	return &micStream{
		stream:     stream,
		buf:        buf,
		sampleRate: int(dev.DefaultSampleRate),
	}, nil
}

type micStream struct {
	mu         sync.Mutex
	stream     *portaudio.Stream
	buf        []float32
	sampleRate int
	closed     bool
}

func (m *micStream) SampleRate() int { return m.sampleRate }

// Read polls for a full block so that Close never races a blocking read.
func (m *micStream) Read(buf []float32) error {
	if len(buf) != len(m.buf) {
		return fmt.Errorf("read size %d does not match block size %d", len(buf), len(m.buf))
	}

	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return io.EOF
		}
		available, err := m.stream.AvailableToRead()
		if err != nil {
			m.mu.Unlock()
			return err
		}
		if available >= len(m.buf) {
			err := m.stream.Read()
			if err == nil {
				copy(buf, m.buf)
			}
			m.mu.Unlock()
			return err
		}
		m.mu.Unlock()
		time.Sleep(pollInterval)
	}
}

func (m *micStream) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	var err error
	if stopErr := m.stream.Stop(); stopErr != nil {
		err = stopErr
	}
	if closeErr := m.stream.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	portaudio.Terminate()
	return err
}
