// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package ws

type MessageType string

const (
	MsgSnapshot MessageType = "snapshot"
)

type Message struct {
	Type    MessageType `json:"type"`
	Payload any         `json:"payload"`
}

type errorBody struct {
	Error string `json:"error"`
}
