package models

import "time"

// Voice types.
const (
	VoiceTypeBuiltin = "builtin"
	VoiceTypeCustom  = "custom"
)

// VoiceProfile names a synthesis voice: either an engine voice identifier
// or an uploaded reference sample.
type VoiceProfile struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	VoiceType string    `json:"voiceType"`
	FilePath  string    `json:"filePath,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
