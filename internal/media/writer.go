// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package media

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/hraban/opus"
	"github.com/pion/webrtc/v4/pkg/media"
	resampling "github.com/tphakala/go-audio-resampling"

	"github.com/nextcloud/go_speaker_client/internal/constants"
)

type sampleWriter interface {
	WriteSample(s media.Sample) error
}

// TrackWriter converts captured blocks to 48kHz, encodes 20ms opus frames
// and writes them to the local media track.
type TrackWriter struct {
	mu sync.Mutex

	enc    *opus.Encoder
	track  sampleWriter
	pcmBuf []int16
	opus   []byte

	srcRate   int
	resampler resampling.Resampler

	frames int
	closed bool
	logger *slog.Logger
}

func NewTrackWriter(track sampleWriter) (*TrackWriter, error) {
	enc, err := opus.NewEncoder(constants.MediaSampleRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}
	return &TrackWriter{
		enc:    enc,
		track:  track,
		opus:   make([]byte, 4000),
		logger: slog.With("component", "media_writer"),
	}, nil
}

// WriteBlock implements capture.Tap.
func (w *TrackWriter) WriteBlock(samples []float32, sampleRate int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || len(samples) == 0 {
		return
	}

	pcm, err := w.toMediaRate(samples, sampleRate)
	if err != nil {
		w.logger.Warn("dropping block", "error", err, "sample_rate", sampleRate)
		return
	}
	w.pcmBuf = append(w.pcmBuf, pcm...)

	for len(w.pcmBuf) >= constants.OpusFrameSamples {
		n, err := w.enc.Encode(w.pcmBuf[:constants.OpusFrameSamples], w.opus)
		w.pcmBuf = w.pcmBuf[constants.OpusFrameSamples:]
		if err != nil {
			w.logger.Debug("opus encode error", "error", err)
			continue
		}
		pkt := make([]byte, n)
		copy(pkt, w.opus[:n])
		if err := w.track.WriteSample(media.Sample{Data: pkt, Duration: constants.OpusFrameDuration}); err != nil {
			w.logger.Debug("failed to write media sample", "error", err)
			continue
		}
		w.frames++
	}
	// keep the tail without growing the backing array forever
	w.pcmBuf = append([]int16(nil), w.pcmBuf...)
}

func (w *TrackWriter) toMediaRate(samples []float32, sampleRate int) ([]int16, error) {
	if sampleRate == constants.MediaSampleRate {
		out := make([]int16, len(samples))
		for i, s := range samples {
			out[i] = toPCM(float64(s))
		}
		return out, nil
	}

	if w.resampler == nil || w.srcRate != sampleRate {
		r, err := resampling.New(&resampling.Config{
			InputRate:  float64(sampleRate),
			OutputRate: float64(constants.MediaSampleRate),
			Channels:   1,
			Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
		})
		if err != nil {
			return nil, fmt.Errorf("create resampler: %w", err)
		}
		w.resampler = r
		w.srcRate = sampleRate
	}

	input := make([]float64, len(samples))
	for i, s := range samples {
		input[i] = float64(s)
	}
	output, err := w.resampler.Process(input)
	if err != nil {
		return nil, fmt.Errorf("resample: %w", err)
	}
	out := make([]int16, len(output))
	for i, s := range output {
		out[i] = toPCM(s)
	}
	return out, nil
}

// Frames is the number of opus frames written so far.
func (w *TrackWriter) Frames() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames
}

func (w *TrackWriter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	w.pcmBuf = nil
}

func toPCM(v float64) int16 {
	switch {
	case v >= 1:
		return 32767
	case v <= -1:
		return -32768
	}
	return int16(v * 32767)
}
