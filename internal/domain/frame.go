package domain

// VideoFrame is an externally injected raw video frame, bypassing internal
// capture. Timestamps are milliseconds; wrong timestamps cause frame drops
// or A/V desync downstream.
type VideoFrame struct {
	Format         VideoFrameFormat
	TimestampMs    int64
	Data           []byte
	StrideInPixels int
	Height         int
	CropLeft       int
	CropTop        int
	CropRight      int
	CropBottom     int
	Rotation       int // 0, 90, 180, 270
	DeviceID       string
	FrameID        uint64
}

// ValidRotation reports whether the rotation is one of the four quadrants.
func (f *VideoFrame) ValidRotation() bool {
	switch f.Rotation {
	case 0, 90, 180, 270:
		return true
	}
	return false
}

// AudioFrame is externally injected raw PCM.
type AudioFrame struct {
	Data       []byte
	SampleRate int
	Channels   int
}
