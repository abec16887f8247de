package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// PushPayload is what a push-notification sink displays.
type PushPayload struct {
	Title              string `json:"title"`
	Body               string `json:"body"`
	Tag                string `json:"tag"` // groups notifications per location
	Icon               string `json:"icon,omitempty"`
	RequireInteraction bool   `json:"require_interaction,omitempty"`
}

// SpeechPayload is what a speech-synthesis sink speaks.
type SpeechPayload struct {
	UtteranceText string `json:"utterance_text"`
	LanguageTag   string `json:"language_tag"`
}

// AlertMessage is the message format published for each alert event.
type AlertMessage struct {
	ID        string         `json:"id"`
	Location  string         `json:"location"`
	AQI       int            `json:"aqi"`
	Band      string         `json:"band"`
	Language  string         `json:"language"`
	Push      PushPayload    `json:"push"`
	Speech    *SpeechPayload `json:"speech,omitempty"`
	EmittedAt time.Time      `json:"emitted_at"`
}

// Validate checks the fields the relay depends on.
func (m *AlertMessage) Validate() error {
	if m.Location == "" {
		return fmt.Errorf("location is required")
	}
	if m.Push.Title == "" && m.Push.Body == "" {
		return fmt.Errorf("push payload is empty")
	}
	return nil
}

// EncodeAlertMessage encodes an AlertMessage to JSON
func EncodeAlertMessage(msg *AlertMessage) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeAlertMessage decodes JSON to AlertMessage
func DecodeAlertMessage(data []byte) (*AlertMessage, error) {
	var msg AlertMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid alert message: %w", err)
	}
	return &msg, nil
}
