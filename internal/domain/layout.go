package domain

import "errors"

var (
	ErrCanvasSize     = errors.New("canvas dimensions must be positive")
	ErrRegionGeometry = errors.New("region coordinates out of [0,1] or exceeding canvas")
	ErrRegionZOrder   = errors.New("region z-order out of [0,100]")
	ErrRegionAlpha    = errors.New("region alpha out of [0,1]")
)

// Region places one participant's stream on the composited canvas.
// All coordinates are fractions of the canvas.
type Region struct {
	UID      int64   `json:"uid"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	ZOrder   int     `json:"z_order"`
	Alpha    float64 `json:"alpha"`
	DeviceID string  `json:"device_id,omitempty"`
}

// Validate checks the geometry invariants: x+width <= 1, y+height <= 1,
// zOrder in [0,100], alpha in [0,1].
func (r Region) Validate() error {
	if r.X < 0 || r.Y < 0 || r.Width < 0 || r.Height < 0 ||
		r.X+r.Width > 1.0 || r.Y+r.Height > 1.0 {
		return ErrRegionGeometry
	}
	if r.ZOrder < 0 || r.ZOrder > 100 {
		return ErrRegionZOrder
	}
	if r.Alpha < 0 || r.Alpha > 1.0 {
		return ErrRegionAlpha
	}
	return nil
}

// Layout is a composited canvas for one publish target. RtmpURL selects the
// target; it may stay empty when only one target exists.
type Layout struct {
	CanvasWidth     int      `json:"canvas_width"`
	CanvasHeight    int      `json:"canvas_height"`
	BackgroundColor string   `json:"background_color,omitempty"` // "#rrggbb"
	BackgroundImage string   `json:"background_image,omitempty"`
	Regions         []Region `json:"regions"`
	ExtInfo         string   `json:"ext_info,omitempty"`
	RtmpURL         string   `json:"rtmp_url,omitempty"`
}

func (l Layout) Validate() error {
	if l.CanvasWidth <= 0 || l.CanvasHeight <= 0 {
		return ErrCanvasSize
	}
	for _, r := range l.Regions {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// MixerVideoParams configures the composited CDN output video.
type MixerVideoParams struct {
	Width       int `json:"width"`
	Height      int `json:"height"`
	FrameRate   int `json:"frame_rate"`
	BitrateKbps int `json:"bitrate_kbps"`
}

// MixerAudioParams configures the composited CDN output audio.
type MixerAudioParams struct {
	SampleRate int `json:"sample_rate"` // 8000..48000
	Channels   int `json:"channels"`    // 1 or 2
}

func DefaultMixerVideoParams() MixerVideoParams {
	return MixerVideoParams{Width: 352, Height: 640, FrameRate: 15, BitrateKbps: 750}
}

func DefaultMixerAudioParams() MixerAudioParams {
	return MixerAudioParams{SampleRate: 48000, Channels: 2}
}

var validSampleRates = map[int]bool{8000: true, 16000: true, 24000: true, 32000: true, 44100: true, 48000: true}

func (p MixerAudioParams) Valid() bool {
	return validSampleRates[p.SampleRate] && (p.Channels == 1 || p.Channels == 2)
}
