package domain

import (
	"errors"
	"strconv"
)

var (
	ErrChannelNameEmpty      = errors.New("channel name empty")
	ErrChannelNameNotNumeric = errors.New("channel name must be a positive integer string")
	ErrTokenEmpty            = errors.New("token empty")
)

// ParseChannelName validates a channel name: a numeric string that converts
// to a positive 64-bit integer.
func ParseChannelName(name string) (int64, error) {
	if name == "" {
		return 0, ErrChannelNameEmpty
	}
	id, err := strconv.ParseInt(name, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrChannelNameNotNumeric
	}
	return id, nil
}

// Participant is a remote user visible in the session. Mutable state lives in
// the stream registry; this is the plain snapshot handed to consumers.
type Participant struct {
	UID        int64      `json:"uid"`
	Role       ClientRole `json:"role"`
	SpeakMuted bool       `json:"speak_muted"`
	AudioMuted bool       `json:"audio_muted"`
	// Synthetic marks a cross-channel anchor surfaced locally via
	// a channel subscription.
	Synthetic bool `json:"synthetic,omitempty"`
	// SourceChannel is the origin channel of a synthetic participant.
	SourceChannel int64 `json:"source_channel,omitempty"`
}

// DeviceStream is one video-capable source of a participant. The empty
// device id is the default single-stream device.
type DeviceStream struct {
	DeviceID string    `json:"device_id"`
	Type     VideoType `json:"type"`
	Enabled  bool      `json:"enabled"`
}

// ChatInfo is a chat relay payload.
type ChatInfo struct {
	Type          ChatType `json:"type"`
	SeqID         string   `json:"seq_id"`
	Data          string   `json:"data"`
	AudioDuration int      `json:"audio_duration,omitempty"`
}
