// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/nextcloud/go_speaker_client/internal/protocol"
)

type Config struct {
	ServerURL      string
	ControlAddr    string
	ControlToken   string
	ICEServers     []string
	InitialTask    protocol.Task
	InitialSpeaker string
	EnableMedia    bool
	SkipCertVerify bool
}

// LoadConfig reads the environment, after loading .env from the working
// directory when present.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env file", "error", err)
	}

	cfg := &Config{
		ServerURL:      strings.TrimRight(os.Getenv("SC_SERVER_URL"), "/"),
		ControlAddr:    os.Getenv("SC_CONTROL_ADDR"),
		ControlToken:   os.Getenv("SC_CONTROL_TOKEN"),
		InitialSpeaker: os.Getenv("SC_SPEAKER_NAME"),
		EnableMedia:    true,
		SkipCertVerify: envBool("SKIP_CERT_VERIFY"),
	}

	if cfg.ServerURL == "" {
		cfg.ServerURL = "http://127.0.0.1:5000"
	}
	u, err := url.Parse(cfg.ServerURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("SC_SERVER_URL is not a valid URL: %q", cfg.ServerURL)
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return nil, fmt.Errorf("SC_SERVER_URL must use http or https, got %q", u.Scheme)
	}

	if cfg.ControlAddr == "" {
		cfg.ControlAddr = "127.0.0.1:7000"
	}

	for _, s := range strings.Split(os.Getenv("SC_ICE_SERVERS"), ",") {
		if s = strings.TrimSpace(s); s != "" {
			cfg.ICEServers = append(cfg.ICEServers, s)
		}
	}

	cfg.InitialTask = protocol.TaskEnroll
	if v := os.Getenv("SC_TASK"); v != "" {
		task, err := protocol.ParseTask(v)
		if err != nil {
			return nil, fmt.Errorf("SC_TASK: %w", err)
		}
		cfg.InitialTask = task
	}

	if v := os.Getenv("SC_ENABLE_MEDIA"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("SC_ENABLE_MEDIA: %w", err)
		}
		cfg.EnableMedia = enabled
	}

	return cfg, nil
}

// WebSocketURL is the server's /ws endpoint with the scheme mapped to ws/wss.
func (c *Config) WebSocketURL() string {
	wsURL := c.ServerURL
	switch {
	case strings.HasPrefix(wsURL, "https://"):
		wsURL = "wss://" + strings.TrimPrefix(wsURL, "https://")
	case strings.HasPrefix(wsURL, "http://"):
		wsURL = "ws://" + strings.TrimPrefix(wsURL, "http://")
	}
	return wsURL + "/ws"
}

func envBool(key string) bool {
	v := os.Getenv(key)
	return v == "true" || v == "1"
}
