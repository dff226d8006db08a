// Package signal defines the wire protocol between the engine and the channel
// server, and the websocket transport carrying it. Every message is a JSON
// envelope discriminated by the "t" field.
package signal

import "encoding/json"

// Client -> server message types.
const (
	TJoin          = "join"
	TLeave         = "leave"
	TRenew         = "renew"
	TRole          = "role"
	TLocalAudio    = "local_audio"
	TLocalVideo    = "local_video"
	TSpeakMute     = "speak_mute"
	TMuteAudio     = "mute_audio"
	TMuteVideo     = "mute_video"
	TDual          = "dual"
	TStreamType    = "stream_type"
	TAddPublish    = "add_publish"
	TRemovePublish = "remove_publish"
	TUpdatePublish = "update_publish"
	TLayout        = "layout"
	TSubChannel    = "sub_channel"
	TUnsubChannel  = "unsub_channel"
	TChat          = "chat"
	TSignal        = "signal"
	TLyric         = "lyric"
	TSEI           = "sei"
	TLastmile      = "lastmile"
	TPing          = "ping"
	TOffer         = "offer"
	TCandidate     = "candidate"
)

// Server -> client message types.
const (
	TJoined        = "joined"
	TJoinError     = "join_error"
	TLeft          = "left"
	TPeerJoined    = "peer_joined"
	TPeerOffline   = "peer_offline"
	TKicked        = "kicked"
	TRoleChanged   = "role_changed"
	TSpeakMuted    = "speak_muted"
	TAudioMuted    = "audio_muted"
	TVideoEnabled  = "video_enabled"
	TDualStream    = "dual_stream"
	TTokenExpiring = "token_expiring"
	TRenewResult   = "renew_result"
	TRtmpStatus    = "rtmp_status"
	TRtmpCreated   = "rtmp_created"
	TAudioLevel    = "audio_level"
	TQuality       = "quality"
	TPong          = "pong"
	TAnswer        = "answer"
)

// Envelope is the discriminator common to every message.
type Envelope struct {
	T string `json:"t"`
}

// PeekType extracts the message type without decoding the payload.
func PeekType(data []byte) string {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return ""
	}
	return env.T
}

type JoinMsg struct {
	T            string `json:"t"`
	Token        string `json:"token"`
	Channel      string `json:"channel"`
	UID          int64  `json:"uid"`
	Role         int    `json:"role"`
	Profile      int    `json:"profile"`
	VideoEnabled bool   `json:"video_enabled"`
	Rejoin       bool   `json:"rejoin,omitempty"`
}

type LeaveMsg struct {
	T string `json:"t"`
}

type RenewMsg struct {
	T     string `json:"t"`
	Token string `json:"token"`
}

type RoleMsg struct {
	T    string `json:"t"`
	UID  int64  `json:"uid"`
	Role int    `json:"role"`
}

type MuteMsg struct {
	T    string `json:"t"`
	UID  int64  `json:"uid,omitempty"`
	Mute bool   `json:"mute"`
	// DeviceID scopes video mutes to one device stream.
	DeviceID string `json:"device_id,omitempty"`
}

type LocalVideoMsg struct {
	T         string `json:"t"`
	Enabled   bool   `json:"enabled"`
	DeviceID  string `json:"device_id,omitempty"`
	VideoType int    `json:"video_type"`
}

type DualMsg struct {
	T       string `json:"t"`
	Enabled bool   `json:"enabled"`
}

// DualStreamMsg is the server-side broadcast of a peer's dual-stream toggle.
type DualStreamMsg struct {
	T       string `json:"t"`
	UID     int64  `json:"uid"`
	Enabled bool   `json:"enabled"`
}

type StreamTypeMsg struct {
	T          string `json:"t"`
	UID        int64  `json:"uid,omitempty"` // zero uid sets the default
	StreamType int    `json:"stream_type"`
}

type PublishMsg struct {
	T   string `json:"t"`
	URL string `json:"url"`
}

type LayoutMsg struct {
	T      string          `json:"t"`
	Layout json.RawMessage `json:"layout"`
}

type ChannelSubMsg struct {
	T       string `json:"t"`
	Channel int64  `json:"channel"`
}

type ChatMsg struct {
	T             string `json:"t"`
	UID           int64  `json:"uid,omitempty"`
	ChatType      int    `json:"chat_type"`
	SeqID         string `json:"seq_id"`
	Data          string `json:"data"`
	AudioDuration int    `json:"audio_duration,omitempty"`
}

type SignalMsg struct {
	T       string `json:"t"`
	UID     int64  `json:"uid"`
	SeqID   string `json:"seq_id"`
	Message string `json:"message"`
}

type TextMsg struct {
	T    string `json:"t"`
	UID  int64  `json:"uid,omitempty"`
	Text string `json:"text"`
}

type LastmileMsg struct {
	T       string `json:"t"`
	Enabled bool   `json:"enabled"`
}

type PingMsg struct {
	T string `json:"t"`
}

// SDPMsg carries a media session description, offer or answer.
type SDPMsg struct {
	T   string `json:"t"`
	SDP string `json:"sdp"`
}

type CandidateMsg struct {
	T         string          `json:"t"`
	Candidate json.RawMessage `json:"candidate"`
}

// JoinedMsg acknowledges a join. TokenTTL is the channel key validity in
// seconds, used to schedule the expiry warning.
type JoinedMsg struct {
	T        string `json:"t"`
	Channel  string `json:"channel"`
	UID      int64  `json:"uid"`
	TokenTTL int64  `json:"token_ttl"`
}

type JoinErrorMsg struct {
	T    string `json:"t"`
	Code int    `json:"code"`
}

type PeerJoinedMsg struct {
	T            string `json:"t"`
	UID          int64  `json:"uid"`
	Role         int    `json:"role"`
	VideoEnabled bool   `json:"video_enabled"`
	// Synthetic participants come from a cross-channel subscription.
	Synthetic     bool  `json:"synthetic,omitempty"`
	SourceChannel int64 `json:"source_channel,omitempty"`
}

type PeerOfflineMsg struct {
	T      string `json:"t"`
	UID    int64  `json:"uid"`
	Reason int    `json:"reason"`
}

type KickedMsg struct {
	T      string `json:"t"`
	UID    int64  `json:"uid"`
	Reason int    `json:"reason"`
}

type VideoEnabledMsg struct {
	T         string `json:"t"`
	UID       int64  `json:"uid"`
	Enabled   bool   `json:"enabled"`
	DeviceID  string `json:"device_id,omitempty"`
	VideoType int    `json:"video_type"`
}

type TokenExpiringMsg struct {
	T     string `json:"t"`
	Token string `json:"token"`
}

type RenewResultMsg struct {
	T        string `json:"t"`
	OK       bool   `json:"ok"`
	TokenTTL int64  `json:"token_ttl,omitempty"`
}

type RtmpStatusMsg struct {
	T      string `json:"t"`
	URL    string `json:"url"`
	Status int    `json:"status"`
}

type RtmpCreatedMsg struct {
	T        string `json:"t"`
	URL      string `json:"url"`
	DeviceID string `json:"device_id"`
}

type AudioLevelMsg struct {
	T         string `json:"t"`
	UID       int64  `json:"uid"`
	Level     int    `json:"level"`
	FullRange int    `json:"full_range"`
}

type QualityMsg struct {
	T       string `json:"t"`
	Quality int    `json:"quality"`
}
