package domain

import "time"

// ChannelStats is the aggregate session report, emitted periodically while
// connected and once more with the leave notification.
type ChannelStats struct {
	Duration     time.Duration `json:"duration"`
	TxBytes      uint64        `json:"tx_bytes"`
	RxBytes      uint64        `json:"rx_bytes"`
	TxAudioKbps  uint64        `json:"tx_audio_kbps"`
	RxAudioKbps  uint64        `json:"rx_audio_kbps"`
	TxVideoKbps  uint64        `json:"tx_video_kbps"`
	RxVideoKbps  uint64        `json:"rx_video_kbps"`
	Users        int           `json:"users"`
}

// LocalVideoStats describes the outbound video stream.
type LocalVideoStats struct {
	EncodedBitrate  uint64  `json:"encoded_bitrate"`
	SentBitrate     uint64  `json:"sent_bitrate"`
	SentFrameRate   uint64  `json:"sent_frame_rate"`
	ReceivedBitrate uint64  `json:"received_bitrate"`
	SentLossRate    float64 `json:"sent_loss_rate"`
	BufferDuration  int     `json:"buffer_duration"`
	RTT             uint64  `json:"rtt"`
}

// LocalAudioStats describes the outbound audio stream.
type LocalAudioStats struct {
	EncodedBitrate  uint64  `json:"encoded_bitrate"`
	SentBitrate     uint64  `json:"sent_bitrate"`
	ReceivedBitrate uint64  `json:"received_bitrate"`
	CaptureDataSize uint64  `json:"capture_data_size"`
	SentLossRate    float64 `json:"sent_loss_rate"`
	RTT             uint64  `json:"rtt"`
}

// RemoteVideoStats describes one inbound video stream. DeviceID is required
// when the remote user publishes multiple streams.
type RemoteVideoStats struct {
	UID               int64   `json:"uid"`
	DeviceID          string  `json:"device_id"`
	Delay             uint64  `json:"delay"`
	Width             uint64  `json:"width"`
	Height            uint64  `json:"height"`
	ReceivedBitrate   uint64  `json:"received_bitrate"`
	ReceivedFrameRate uint64  `json:"received_frame_rate"`
	ReceivedFrames    uint64  `json:"received_frames"`
	LostFrames        uint64  `json:"lost_frames"`
	LossRate          float64 `json:"loss_rate"`
	RTT               uint64  `json:"rtt"`
}

// RemoteAudioStats describes one inbound audio stream.
type RemoteAudioStats struct {
	UID             int64   `json:"uid"`
	ReceivedBitrate uint64  `json:"received_bitrate"`
	LossRate        float64 `json:"loss_rate"`
	BufferDuration  uint64  `json:"buffer_duration"`
	Delay           uint64  `json:"delay"`
	AudioCodec      uint64  `json:"audio_codec"`
	RTT             uint64  `json:"rtt"`
}
