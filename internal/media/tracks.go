package media

import (
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// trackReader adapts a remote track to the pump's reader interface, dropping
// the interceptor attributes.
type trackReader struct {
	t *webrtc.TrackRemote
}

func NewTrackReader(t *webrtc.TrackRemote) RTPReader {
	return trackReader{t: t}
}

func (r trackReader) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := r.t.ReadRTP()
	return pkt, err
}

// Discard swallows packets for tracks the application has no sink for. The
// pump still drains the track so RTCP feedback keeps flowing.
type Discard struct{}

func (Discard) WriteRTP(*rtp.Packet) error { return nil }
