package domain

// VideoProfile is a preset resolution/fps/bitrate tuple.
type VideoProfile int

const (
	VideoProfile120P    VideoProfile = 0
	VideoProfile180P    VideoProfile = 10
	VideoProfile240P    VideoProfile = 20
	VideoProfile360P    VideoProfile = 30
	VideoProfile480P    VideoProfile = 40
	VideoProfile640x480 VideoProfile = 45
	VideoProfile720P    VideoProfile = 50
	VideoProfile1080P   VideoProfile = 60

	VideoProfileDefault = VideoProfile360P
)

// VideoEncoding is the resolved encoder configuration, either from a preset
// or fully custom.
type VideoEncoding struct {
	Width       int
	Height      int
	FrameRate   int
	BitrateKbps int

	// SwapWidthAndHeight renders the preset in portrait orientation.
	SwapWidthAndHeight bool
}

var videoProfiles = map[VideoProfile]VideoEncoding{
	VideoProfile120P:    {Width: 160, Height: 120, FrameRate: 15, BitrateKbps: 65},
	VideoProfile180P:    {Width: 320, Height: 180, FrameRate: 15, BitrateKbps: 140},
	VideoProfile240P:    {Width: 320, Height: 240, FrameRate: 15, BitrateKbps: 200},
	VideoProfile360P:    {Width: 640, Height: 360, FrameRate: 15, BitrateKbps: 400},
	VideoProfile480P:    {Width: 848, Height: 480, FrameRate: 15, BitrateKbps: 600},
	VideoProfile640x480: {Width: 640, Height: 480, FrameRate: 15, BitrateKbps: 500},
	VideoProfile720P:    {Width: 1280, Height: 720, FrameRate: 15, BitrateKbps: 1130},
	VideoProfile1080P:   {Width: 1920, Height: 1080, FrameRate: 15, BitrateKbps: 2080},
}

// Encoding resolves the preset. Unknown presets fall back to the default.
func (p VideoProfile) Encoding(swap bool) VideoEncoding {
	enc, ok := videoProfiles[p]
	if !ok {
		enc = videoProfiles[VideoProfileDefault]
	}
	if swap {
		enc.Width, enc.Height = enc.Height, enc.Width
		enc.SwapWidthAndHeight = true
	}
	return enc
}

// Valid reports whether p is a known preset.
func (p VideoProfile) Valid() bool {
	_, ok := videoProfiles[p]
	return ok
}

// LowVariant derives the small-stream encoding: half linear dimensions,
// quarter bitrate.
func (e VideoEncoding) LowVariant() VideoEncoding {
	return VideoEncoding{
		Width:       e.Width / 2,
		Height:      e.Height / 2,
		FrameRate:   e.FrameRate,
		BitrateKbps: e.BitrateKbps / 4,
	}
}

// AudioEncoding is the preferred audio codec configuration.
type AudioEncoding struct {
	Codec       AudioCodec
	BitrateKbps int
	Channels    int
}

// Valid checks the codec's documented bitrate range.
func (e AudioEncoding) Valid() bool {
	if e.Channels < 1 || e.Channels > 2 {
		return false
	}
	switch e.Codec {
	case AudioCodecAAC, AudioCodecOpus:
		return e.BitrateKbps >= 32 && e.BitrateKbps <= 96
	case AudioCodecISACWB:
		return e.BitrateKbps >= 10 && e.BitrateKbps <= 32
	default:
		return false
	}
}
