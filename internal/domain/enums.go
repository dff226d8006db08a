// Package domain contains the engine vocabulary: enumerations and plain data
// objects without transport or lifecycle logic.
package domain

// ErrorCode identifies a failure surfaced through the error event. The engine
// never raises these from the mutating APIs themselves.
type ErrorCode int

const (
	ErrNone ErrorCode = 0

	// Join failures. The engine does not retry a failed join.
	ErrInvalidChannelName ErrorCode = 9000
	ErrJoinTimeout        ErrorCode = 9001
	ErrJoinConnectFailed  ErrorCode = 9002
	ErrJoinVerifyFailed   ErrorCode = 9003
	ErrJoinBadVersion     ErrorCode = 9004
	ErrJoinUnknown        ErrorCode = 9005
	ErrJoinNoAnchor       ErrorCode = 9006

	// Media liveness, advisory only.
	ErrNoAudioData         ErrorCode = 9101
	ErrNoVideoData         ErrorCode = 9102
	ErrNoReceivedAudioData ErrorCode = 9111
	ErrNoReceivedVideoData ErrorCode = 9112

	// Distinct from generic errors so the caller can run the renewal flow.
	ErrInvalidChannelKey ErrorCode = 9200

	ErrUnknown ErrorCode = 9999
)

func (e ErrorCode) String() string {
	switch e {
	case ErrNone:
		return "none"
	case ErrInvalidChannelName:
		return "invalid channel name"
	case ErrJoinTimeout:
		return "join timeout"
	case ErrJoinConnectFailed:
		return "join connect failed"
	case ErrJoinVerifyFailed:
		return "join verify failed"
	case ErrJoinBadVersion:
		return "join bad version"
	case ErrJoinUnknown:
		return "join unknown error"
	case ErrJoinNoAnchor:
		return "no anchor in channel"
	case ErrNoAudioData:
		return "no outbound audio data"
	case ErrNoVideoData:
		return "no outbound video data"
	case ErrNoReceivedAudioData:
		return "no inbound audio data"
	case ErrNoReceivedVideoData:
		return "no inbound video data"
	case ErrInvalidChannelKey:
		return "invalid channel key"
	default:
		return "unknown"
	}
}

// IsJoinError reports whether the code belongs to the join/auth family.
func (e ErrorCode) IsJoinError() bool {
	return e >= ErrInvalidChannelName && e <= ErrJoinNoAnchor
}

// KickReason explains a server-forced exit. Every kick is terminal for the
// local session and is followed by a Disconnected transition.
type KickReason int

const (
	KickedByHost          KickReason = 1
	KickPushRtmpFailed    KickReason = 2
	KickServerOverload    KickReason = 3
	KickMasterExit        KickReason = 4
	KickReLogin           KickReason = 5
	KickNoAudioData       KickReason = 6
	KickNoVideoData       KickReason = 7
	KickNewChairEnter     KickReason = 8
	KickChannelKeyExpired KickReason = 9
)

func (k KickReason) String() string {
	switch k {
	case KickedByHost:
		return "kicked by host"
	case KickPushRtmpFailed:
		return "rtmp push failed"
	case KickServerOverload:
		return "server overload"
	case KickMasterExit:
		return "anchor exited"
	case KickReLogin:
		return "duplicate login"
	case KickNoAudioData:
		return "no audio data"
	case KickNoVideoData:
		return "no video data"
	case KickNewChairEnter:
		return "role preempted"
	case KickChannelKeyExpired:
		return "channel key expired"
	default:
		return "unknown"
	}
}

// OfflineReason explains why a remote participant disappeared.
type OfflineReason int

const (
	OfflineQuit           OfflineReason = 1
	OfflineDropped        OfflineReason = 2
	OfflineBecomeAudience OfflineReason = 3
)

func (r OfflineReason) String() string {
	switch r {
	case OfflineQuit:
		return "quit"
	case OfflineDropped:
		return "dropped"
	case OfflineBecomeAudience:
		return "become audience"
	default:
		return "unknown"
	}
}

// ConnectionState is the session's network state. Reconnecting is only
// reachable from Connected; Failed is terminal until an explicit leave+rejoin.
type ConnectionState int

const (
	StateDisconnected ConnectionState = 1
	StateConnecting   ConnectionState = 2
	StateConnected    ConnectionState = 3
	StateReconnecting ConnectionState = 4
	StateFailed       ConnectionState = 5
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ChannelProfile selects the channel mode. Immutable once a join starts.
type ChannelProfile int

const (
	ProfileCommunication    ChannelProfile = 0
	ProfileLiveBroadcasting ChannelProfile = 1
	ProfileGameFreeMode     ChannelProfile = 2
)

func (p ChannelProfile) Valid() bool {
	return p >= ProfileCommunication && p <= ProfileGameFreeMode
}

func (p ChannelProfile) String() string {
	switch p {
	case ProfileCommunication:
		return "communication"
	case ProfileLiveBroadcasting:
		return "live broadcasting"
	case ProfileGameFreeMode:
		return "game free mode"
	default:
		return "unknown"
	}
}

// ClientRole is the permission tier of a participant.
type ClientRole int

const (
	RoleAnchor      ClientRole = 1
	RoleBroadcaster ClientRole = 2
	RoleAudience    ClientRole = 3
)

func (r ClientRole) Valid() bool { return r >= RoleAnchor && r <= RoleAudience }

// CanSendMedia reports whether the role grants outbound audio/video.
func (r ClientRole) CanSendMedia() bool { return r == RoleAnchor || r == RoleBroadcaster }

func (r ClientRole) String() string {
	switch r {
	case RoleAnchor:
		return "anchor"
	case RoleBroadcaster:
		return "broadcaster"
	case RoleAudience:
		return "audience"
	default:
		return "unknown"
	}
}

// AudioCodec is the preferred audio encoding.
type AudioCodec int

const (
	AudioCodecAAC    AudioCodec = 1
	AudioCodecISACWB AudioCodec = 2
	AudioCodecOpus   AudioCodec = 4
)

func (c AudioCodec) String() string {
	switch c {
	case AudioCodecAAC:
		return "aac"
	case AudioCodecISACWB:
		return "isac-wb"
	case AudioCodecOpus:
		return "opus"
	default:
		return "unknown"
	}
}

// VideoType classifies a device stream source.
type VideoType int

const (
	VideoTypeVideo  VideoType = 0
	VideoTypeScreen VideoType = 1
	VideoTypeFile   VideoType = 2
	VideoTypeMixer  VideoType = 3
	VideoTypeCamera VideoType = 4
)

func (t VideoType) String() string {
	switch t {
	case VideoTypeVideo:
		return "video"
	case VideoTypeScreen:
		return "screen"
	case VideoTypeFile:
		return "file"
	case VideoTypeMixer:
		return "mixer"
	case VideoTypeCamera:
		return "camera"
	default:
		return "unknown"
	}
}

// StreamType selects the dual-stream variant.
type StreamType int

const (
	StreamHigh StreamType = 0
	StreamLow  StreamType = 1
)

func (t StreamType) String() string {
	if t == StreamLow {
		return "low"
	}
	return "high"
}

// RtmpStatus reports publish target health. InitError, OpenError and
// LinkFailed are caller-actionable; the buffer states are transient
// backpressure signals.
type RtmpStatus int

const (
	RtmpInitError       RtmpStatus = 0
	RtmpOpenError       RtmpStatus = 1
	RtmpAudioBufferFull RtmpStatus = 2
	RtmpVideoBufferFull RtmpStatus = 3
	RtmpLinkFailed      RtmpStatus = 4
	RtmpLinkSucceeded   RtmpStatus = 5
)

// Fatal reports whether the status requires caller action on the target.
func (s RtmpStatus) Fatal() bool {
	return s == RtmpInitError || s == RtmpOpenError || s == RtmpLinkFailed
}

func (s RtmpStatus) String() string {
	switch s {
	case RtmpInitError:
		return "init error"
	case RtmpOpenError:
		return "open error"
	case RtmpAudioBufferFull:
		return "audio buffer full"
	case RtmpVideoBufferFull:
		return "video buffer full"
	case RtmpLinkFailed:
		return "link failed"
	case RtmpLinkSucceeded:
		return "link succeeded"
	default:
		return "unknown"
	}
}

// NetworkQuality is the lastmile probe verdict.
type NetworkQuality int

const (
	QualityExcellent NetworkQuality = 1
	QualityGood      NetworkQuality = 2
	QualityCommon    NetworkQuality = 3
	QualityPoor      NetworkQuality = 4
	QualityBad       NetworkQuality = 5
	QualityDown      NetworkQuality = 6
)

func (q NetworkQuality) String() string {
	switch q {
	case QualityExcellent:
		return "excellent"
	case QualityGood:
		return "good"
	case QualityCommon:
		return "common"
	case QualityPoor:
		return "poor"
	case QualityBad:
		return "bad"
	case QualityDown:
		return "down"
	default:
		return "unknown"
	}
}

// ChatType classifies a chat relay payload.
type ChatType int

const (
	ChatText    ChatType = 1
	ChatPicture ChatType = 2
	ChatAudio   ChatType = 3
	ChatCustom  ChatType = 4
)

// VideoFrameFormat tags externally injected video frames.
type VideoFrameFormat int

const (
	FrameFormatTexture VideoFrameFormat = 0
	FrameFormatI420    VideoFrameFormat = 1
	FrameFormatNV12    VideoFrameFormat = 2
	FrameFormatNV21    VideoFrameFormat = 3
	FrameFormatRGBA    VideoFrameFormat = 4
	FrameFormatBGRA    VideoFrameFormat = 5
	FrameFormatARGB    VideoFrameFormat = 6
)

// AudioRoute identifies the active audio output path.
type AudioRoute int

const (
	RouteDefault          AudioRoute = -1
	RouteHeadset          AudioRoute = 0
	RouteEarpiece         AudioRoute = 1
	RouteHeadsetNoMic     AudioRoute = 2
	RouteSpeakerphone     AudioRoute = 3
	RouteLoudspeaker      AudioRoute = 4
	RouteHeadsetBluetooth AudioRoute = 5
)

func (r AudioRoute) String() string {
	switch r {
	case RouteHeadset:
		return "headset"
	case RouteEarpiece:
		return "earpiece"
	case RouteHeadsetNoMic:
		return "headset_no_mic"
	case RouteSpeakerphone:
		return "speakerphone"
	case RouteLoudspeaker:
		return "loudspeaker"
	case RouteHeadsetBluetooth:
		return "headset_bluetooth"
	default:
		return "default"
	}
}
