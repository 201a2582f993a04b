// SPDX-FileCopyrightText: 2026 The krait-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package wire

import (
	"encoding/json"
)

// Message actions, stored in the Action field.
const (
	// ActionCheckin announces a living agent after profile initialization.
	ActionCheckin = "checkin"

	// ActionGetTasking requests new tasking from the controller.
	ActionGetTasking = "get_tasking"

	// ActionPostResponse delivers finished job output to the controller.
	ActionPostResponse = "post_response"
)

// Task is one tasking record issued by the controller.
type Task struct {
	ID         string `json:"id"`
	Command    string `json:"command"`
	Parameters string `json:"parameters"`
}

// Response carries the outcome of one finished Task back to the controller.
type Response struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Output string `json:"output"`
}

// Message is the plaintext of an Envelope, before encryption respectively
// after decryption.
type Message struct {
	Action    string     `json:"action"`
	Tasks     []Task     `json:"tasks,omitempty"`
	Responses []Response `json:"responses,omitempty"`
}

// Marshal serializes a Message to its JSON plaintext.
func (msg Message) Marshal() ([]byte, error) {
	return json.Marshal(msg)
}

// UnmarshalMessage parses a JSON plaintext back into a Message.
func UnmarshalMessage(data []byte) (msg Message, err error) {
	err = json.Unmarshal(data, &msg)
	return
}
