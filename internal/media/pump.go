package media

import (
	"errors"
	"io"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/rs/zerolog/log"
)

// Pump states. A muted pump keeps reading so the negotiated stream stays
// alive; packets are dropped instead of forwarded.
const (
	PumpOk int32 = iota
	PumpMuted
	PumpDelete
)

// RTPReader abstracts the remote track for the pump.
type RTPReader interface {
	ReadRTP() (*rtp.Packet, error)
}

// RTPWriter is where forwarded packets go.
type RTPWriter interface {
	WriteRTP(p *rtp.Packet) error
}

// Pump forwards RTP from one remote track to a local writer. Mute and delete
// are flag changes observed by the loop, never a teardown of the reader.
type Pump struct {
	state   atomic.Int32
	packets atomic.Uint64
	bytes   atomic.Uint64

	uid      int64
	deviceID string
}

func NewPump(uid int64, deviceID string) *Pump {
	return &Pump{uid: uid, deviceID: deviceID}
}

func (p *Pump) UID() int64       { return p.uid }
func (p *Pump) DeviceID() string { return p.deviceID }

func (p *Pump) SetMuted(muted bool) {
	if p.state.Load() == PumpDelete {
		return
	}
	if muted {
		p.state.Store(PumpMuted)
	} else {
		p.state.Store(PumpOk)
	}
}

func (p *Pump) Muted() bool { return p.state.Load() == PumpMuted }

func (p *Pump) Stop() { p.state.Store(PumpDelete) }

// Counters reports forwarded packets and payload bytes.
func (p *Pump) Counters() (packets, bytes uint64) {
	return p.packets.Load(), p.bytes.Load()
}

// Run reads until the reader ends or Stop is called. onFirst fires once when
// the first packet of an unmuted stream is forwarded.
func (p *Pump) Run(r RTPReader, w RTPWriter, onFirst func()) {
	first := true
	for {
		pkt, err := r.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Error().Err(err).Str("module", "media").Int64("uid", p.uid).Msg("pump read")
			}
			return
		}
		switch p.state.Load() {
		case PumpDelete:
			return
		case PumpMuted:
			continue
		}
		if first {
			first = false
			if onFirst != nil {
				onFirst()
			}
		}
		if err := w.WriteRTP(pkt); err != nil {
			log.Error().Err(err).Str("module", "media").Int64("uid", p.uid).Msg("pump write")
			return
		}
		p.packets.Add(1)
		p.bytes.Add(uint64(len(pkt.Payload)))
	}
}
