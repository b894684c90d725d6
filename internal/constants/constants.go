// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package constants

import "time"

const (
	TargetSampleRate    = 16000
	MediaSampleRate     = 48000
	CaptureBlockSize    = 4096
	OpusFrameSamples    = 960 // 20ms at 48kHz
	OpusFrameDuration   = 20 * time.Millisecond
	WSHandshakeTimeout  = 30 * time.Second
	WSWriteTimeout      = 10 * time.Second
	ICEGatheringTimeout = 10 * time.Second
	OfferRequestTimeout = 30 * time.Second
	HTTPClientTimeout   = 30 * time.Second
	CaptureStopTimeout  = 2 * time.Second
	MaxInboundFrameSize = 1 << 20
)
