// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package media

import (
	"log/slog"

	"github.com/hraban/opus"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/nextcloud/go_speaker_client/internal/constants"
)

// trackStats counts what arrives on a remote audio track.
type trackStats struct {
	packets  int
	lost     int
	samples  int
	lastSeq  uint16
	haveLast bool
}

func (s *trackStats) observe(pkt *rtp.Packet, decoded int) {
	if s.haveLast {
		gap := pkt.SequenceNumber - s.lastSeq // wraps at 65535
		if gap > 1 && gap < 1<<15 {
			s.lost += int(gap - 1)
		}
	}
	s.lastSeq = pkt.SequenceNumber
	s.haveLast = true
	s.packets++
	s.samples += decoded
}

func readRemoteTrack(track *webrtc.TrackRemote, logger *slog.Logger) {
	logger = logger.With("ssrc", uint32(track.SSRC()), "codec", track.Codec().MimeType)
	logger.Info("remote audio reader started")

	dec, err := opus.NewDecoder(constants.MediaSampleRate, 1)
	if err != nil {
		logger.Error("failed to create opus decoder", "error", err)
		return
	}

	var stats trackStats
	defer func() {
		logger.Info("remote audio reader stopped",
			"packets", stats.packets, "lost", stats.lost, "samples", stats.samples)
	}()

	pcmBuf := make([]int16, 5760) // max 120ms at 48kHz
	rtpBuf := make([]byte, 4096)

	for {
		n, _, err := track.Read(rtpBuf)
		if err != nil {
			return
		}
		if n == 0 {
			continue
		}

		packet := &rtp.Packet{}
		if err := packet.Unmarshal(rtpBuf[:n]); err != nil {
			continue
		}
		if len(packet.Payload) == 0 {
			continue
		}

		decoded, err := dec.Decode(packet.Payload, pcmBuf)
		if err != nil {
			logger.Debug("opus decode error", "error", err)
			decoded = 0
		}
		stats.observe(packet, decoded)
	}
}
