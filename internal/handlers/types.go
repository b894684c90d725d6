// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package handlers

type TaskRequest struct {
	Task string `json:"task"`
}

type SpeakerRequest struct {
	Speaker string `json:"speaker"`
}

type RemoveVoiceRequest struct {
	Speaker string `json:"speaker"`
}

type StateResponse struct {
	Phase        string   `json:"phase"`
	Connected    bool     `json:"connected"`
	Recording    bool     `json:"recording"`
	StartEnabled bool     `json:"startEnabled"`
	StopEnabled  bool     `json:"stopEnabled"`
	Task         string   `json:"task"`
	Speaker      string   `json:"speaker"`
	Roster       []string `json:"roster"`
	StatusLog    string   `json:"statusLog"`
}

type WavResponse struct {
	URL string `json:"url"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type StatusResponse struct {
	Status string `json:"status"`
}
