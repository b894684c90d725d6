// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/nextcloud/go_speaker_client/internal/constants"
	"github.com/nextcloud/go_speaker_client/internal/server"
)

var (
	ErrGatheringTimeout  = errors.New("ICE gathering did not complete in time")
	ErrAlreadyNegotiated = errors.New("media path already negotiated")
)

// Offerer delivers a local description to the server and returns its answer.
type Offerer interface {
	Offer(ctx context.Context, offer server.SessionDescription) (*server.SessionDescription, error)
}

// Negotiator drives the one-shot offer/answer exchange for the media path.
type Negotiator struct {
	mu sync.Mutex

	offerer       Offerer
	iceServers    []string
	gatherTimeout time.Duration

	pc      *webrtc.PeerConnection
	writer  *TrackWriter
	started bool

	logger *slog.Logger
}

func NewNegotiator(offerer Offerer, iceServers []string) *Negotiator {
	return &Negotiator{
		offerer:       offerer,
		iceServers:    iceServers,
		gatherTimeout: constants.ICEGatheringTimeout,
		logger:        slog.With("component", "media"),
	}
}

// Negotiate creates the offer, waits for ICE gathering, exchanges it with
// the server and applies the answer. It runs at most once; on failure the
// peer connection is closed and no retry is made.
func (n *Negotiator) Negotiate(ctx context.Context) (*TrackWriter, error) {
	n.mu.Lock()
	if n.started {
		n.mu.Unlock()
		return nil, ErrAlreadyNegotiated
	}
	n.started = true
	n.mu.Unlock()

	var iceServers []webrtc.ICEServer
	if len(n.iceServers) > 0 {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: n.iceServers})
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	writer, err := n.setup(ctx, pc)
	if err != nil {
		pc.Close()
		return nil, err
	}

	n.mu.Lock()
	n.pc = pc
	n.writer = writer
	n.mu.Unlock()

	n.logger.Info("media path negotiated")
	return writer, nil
}

func (n *Negotiator) setup(ctx context.Context, pc *webrtc.PeerConnection) (*TrackWriter, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: constants.MediaSampleRate, Channels: 1},
		"audio", "speaker-client",
	)
	if err != nil {
		return nil, fmt.Errorf("create local track: %w", err)
	}

	sender, err := pc.AddTrack(track)
	if err != nil {
		return nil, fmt.Errorf("add local track: %w", err)
	}
	go drainRTCP(sender)

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		n.logger.Debug("peer connection state changed", "state", state.String())
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		n.logger.Debug("receiving remote audio track", "codec", remote.Codec().MimeType)
		go readRemoteTrack(remote, n.logger)
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}

	timer := time.NewTimer(n.gatherTimeout)
	defer timer.Stop()
	select {
	case <-gatherComplete:
	case <-timer.C:
		return nil, ErrGatheringTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	local := pc.LocalDescription()
	if local == nil {
		return nil, errors.New("no local description after gathering")
	}
	n.logger.Debug("sending offer", "sdp_len", len(local.SDP))

	offerCtx, cancel := context.WithTimeout(ctx, constants.OfferRequestTimeout)
	defer cancel()
	answer, err := n.offerer.Offer(offerCtx, server.SessionDescription{
		SDP:  local.SDP,
		Type: local.Type.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("offer exchange: %w", err)
	}

	if sdpType := webrtc.NewSDPType(answer.Type); sdpType != webrtc.SDPTypeAnswer {
		return nil, fmt.Errorf("server replied with %q instead of an answer", answer.Type)
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer.SDP,
	}); err != nil {
		return nil, fmt.Errorf("set remote description: %w", err)
	}

	return NewTrackWriter(track)
}

// Writer returns the local track writer once negotiation succeeded.
func (n *Negotiator) Writer() *TrackWriter {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.writer
}

func (n *Negotiator) Close() {
	n.mu.Lock()
	pc, writer := n.pc, n.writer
	n.pc, n.writer = nil, nil
	n.mu.Unlock()

	if writer != nil {
		writer.Close()
	}
	if pc != nil {
		if err := pc.Close(); err != nil {
			n.logger.Warn("failed to close peer connection", "error", err)
		}
	}
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
