// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nextcloud/go_speaker_client/internal/config"
	"github.com/nextcloud/go_speaker_client/internal/constants"
)

// SessionDescription is the JSON body exchanged with POST /offer.
type SessionDescription struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}

// Client talks to the speaker server's plain HTTP endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(cfg *config.Config) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.SkipCertVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Client{
		baseURL: cfg.ServerURL,
		httpClient: &http.Client{
			Timeout:   constants.HTTPClientTimeout,
			Transport: transport,
		},
	}
}

// Offer posts the local description and returns the server's answer.
func (c *Client) Offer(ctx context.Context, offer SessionDescription) (*SessionDescription, error) {
	jsonBody, err := json.Marshal(offer)
	if err != nil {
		return nil, fmt.Errorf("marshaling offer: %w", err)
	}

	url := c.baseURL + "/offer"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	respBody, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var answer SessionDescription
	if err := json.Unmarshal(respBody, &answer); err != nil {
		return nil, fmt.Errorf("parsing answer: %w", err)
	}
	if answer.SDP == "" || answer.Type == "" {
		return nil, fmt.Errorf("answer is missing sdp or type")
	}
	return &answer, nil
}

// WavURL resolves the server-relative path of the last recording into an
// absolute download URL.
func (c *Client) WavURL(ctx context.Context) (string, error) {
	url := c.baseURL + "/wav_path"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	body, err := c.do(req)
	if err != nil {
		return "", err
	}

	path := strings.TrimSpace(string(body))
	// Flask may return the path JSON encoded.
	var quoted string
	if json.Unmarshal(body, &quoted) == nil {
		path = quoted
	}
	if path == "" {
		return "", fmt.Errorf("server returned an empty wav path")
	}
	return c.baseURL + "/" + strings.TrimLeft(path, "/"), nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		slog.Warn("speaker server request failed",
			"method", req.Method, "url", req.URL.String(), "status", resp.StatusCode, "body", string(body))
		return nil, fmt.Errorf("%s %s failed with status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	return body, nil
}
