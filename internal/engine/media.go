package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/pview/rtcengine/internal/domain"
	"github.com/pview/rtcengine/internal/event"
	"github.com/pview/rtcengine/internal/media"
	"github.com/pview/rtcengine/internal/signal"
)

// RemoteSink maps an incoming track to where its packets should go. A nil
// return discards the track's media while keeping it drained.
type RemoteSink func(uid int64, deviceID string, kind webrtc.RTPCodecType) media.RTPWriter

// mediaState is the engine's WebRTC side: one peer connection per session,
// one pump per remote track.
type mediaState struct {
	mu    sync.Mutex
	conn  *media.Connection
	pumps map[string]*remotePump
	sink  RemoteSink

	lastVideoBytes  uint64
	lastAudioBytes  uint64
	lastVideoFrames uint64
}

// remotePump pairs a running pump with its codec kind and the byte count at
// the previous stats tick.
type remotePump struct {
	*media.Pump
	kind      webrtc.RTPCodecType
	lastBytes uint64
}

func pumpKey(uid int64, deviceID string) string {
	return fmt.Sprintf("%d/%s", uid, deviceID)
}

// SetRemoteMediaSink installs the track sink factory. Must be called before
// StartMediaTransport.
func (e *Engine) SetRemoteMediaSink(sink RemoteSink) {
	e.med.mu.Lock()
	e.med.sink = sink
	e.med.mu.Unlock()
}

// StartMediaTransport negotiates the WebRTC leg of the session: it sends an
// offer over signaling and completes once the server answers.
func (e *Engine) StartMediaTransport() Code {
	sess := e.session()
	if sess == nil {
		return CodeNotInChannel
	}
	e.med.mu.Lock()
	if e.med.conn != nil {
		e.med.mu.Unlock()
		return CodeOK
	}
	conn, err := media.NewConnection(media.DefaultConfig())
	if err != nil {
		e.med.mu.Unlock()
		log.Error().Err(err).Str("module", "engine").Msg("peer connection create failed")
		return CodeNotSupported
	}
	e.med.conn = conn
	e.med.pumps = make(map[string]*remotePump)
	e.med.mu.Unlock()

	conn.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		raw, err := json.Marshal(ci)
		if err != nil {
			return
		}
		_ = sess.send(signal.CandidateMsg{T: signal.TCandidate, Candidate: raw})
	})
	conn.OnTrack(func(ctx context.Context, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		e.bindRemoteTrack(track)
	})

	if err := conn.Start(e.ctx); err != nil {
		e.stopMediaTransport()
		return CodeNotSupported
	}
	offer, err := conn.CreateAndSetOffer()
	if err != nil {
		log.Error().Err(err).Str("module", "engine").Msg("offer failed")
		e.stopMediaTransport()
		return CodeNotSupported
	}
	return e.codeFromSendErr(sess.send(signal.SDPMsg{T: signal.TOffer, SDP: offer.SDP}))
}

func (e *Engine) stopMediaTransport() {
	e.med.mu.Lock()
	conn := e.med.conn
	pumps := e.med.pumps
	e.med.conn = nil
	e.med.pumps = nil
	e.med.mu.Unlock()

	for _, p := range pumps {
		p.Stop()
	}
	if conn != nil {
		conn.Close()
	}
}

func (e *Engine) onMediaAnswer(sdp string) {
	e.med.mu.Lock()
	conn := e.med.conn
	e.med.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.ApplyAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}); err != nil {
		log.Error().Err(err).Str("module", "engine").Msg("apply answer failed")
	}
}

func (e *Engine) onMediaCandidate(raw json.RawMessage) {
	e.med.mu.Lock()
	conn := e.med.conn
	e.med.mu.Unlock()
	if conn == nil {
		return
	}
	var ci webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &ci); err != nil {
		return
	}
	if err := conn.AddICECandidate(ci); err != nil {
		log.Warn().Err(err).Str("module", "engine").Msg("add candidate failed")
	}
}

// bindRemoteTrack spawns the pump for one incoming track. The track's stream
// id carries the publisher uid, the track id the device id.
func (e *Engine) bindRemoteTrack(track *webrtc.TrackRemote) {
	uid, err := strconv.ParseInt(track.StreamID(), 10, 64)
	if err != nil {
		log.Warn().Str("module", "engine").Str("stream_id", track.StreamID()).Msg("track with non-numeric stream id")
		return
	}
	deviceID := track.ID()

	e.med.mu.Lock()
	if e.med.pumps == nil {
		e.med.mu.Unlock()
		return
	}
	pump := media.NewPump(uid, deviceID)
	e.med.pumps[pumpKey(uid, deviceID)] = &remotePump{Pump: pump, kind: track.Kind()}
	sink := e.med.sink
	e.med.mu.Unlock()

	if track.Kind() == webrtc.RTPCodecTypeVideo && e.reg.videoMuted(uid, deviceID) {
		pump.SetMuted(true)
	}

	var w media.RTPWriter
	if sink != nil {
		w = sink(uid, deviceID, track.Kind())
	}
	if w == nil {
		w = media.Discard{}
	}

	delivered := sink != nil
	onFirst := func() {
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			e.bus.Publish(event.FirstRemoteVideoFrameDecoded{UID: uid, DeviceID: deviceID})
			if delivered {
				e.bus.Publish(event.FirstRemoteVideoFrame{UID: uid, DeviceID: deviceID})
			}
		} else {
			e.bus.Publish(event.FirstAudioFrameDecoded{UID: uid})
		}
	}
	go func() {
		pump.Run(media.NewTrackReader(track), w, onFirst)
		e.med.mu.Lock()
		delete(e.med.pumps, pumpKey(uid, deviceID))
		e.med.mu.Unlock()
	}()
}

// setPumpMuted propagates a playback mute to the live pump, if one exists.
func (e *Engine) setPumpMuted(uid int64, deviceID string, muted bool) {
	e.med.mu.Lock()
	pump := e.med.pumps[pumpKey(uid, deviceID)]
	e.med.mu.Unlock()
	if pump != nil {
		pump.SetMuted(muted)
	}
}

// publishMediaStats derives the periodic per-stream reports from the frame
// source counters and the live pump counters.
func (e *Engine) publishMediaStats(interval time.Duration) {
	secs := interval.Seconds()
	if secs <= 0 {
		return
	}

	e.mu.Lock()
	videoOn := e.videoEnabled
	videoEnc := e.videoEnc
	audioEnc := e.audioEnc
	e.mu.Unlock()

	videoBytes, audioBytes := e.source.Bytes()
	videoFrames, _, _, _ := e.source.Counters()

	type remoteDelta struct {
		uid      int64
		deviceID string
		kind     webrtc.RTPCodecType
		bytes    uint64
		packets  uint64
	}
	e.med.mu.Lock()
	dvBytes := videoBytes - e.med.lastVideoBytes
	daBytes := audioBytes - e.med.lastAudioBytes
	dvFrames := videoFrames - e.med.lastVideoFrames
	e.med.lastVideoBytes = videoBytes
	e.med.lastAudioBytes = audioBytes
	e.med.lastVideoFrames = videoFrames
	var remotes []remoteDelta
	for _, p := range e.med.pumps {
		packets, total := p.Counters()
		remotes = append(remotes, remoteDelta{
			uid:      p.UID(),
			deviceID: p.DeviceID(),
			kind:     p.kind,
			bytes:    total - p.lastBytes,
			packets:  packets,
		})
		p.lastBytes = total
	}
	e.med.mu.Unlock()

	if videoOn || dvBytes > 0 {
		e.bus.Publish(event.LocalVideoStats{Stats: domain.LocalVideoStats{
			EncodedBitrate: uint64(videoEnc.BitrateKbps),
			SentBitrate:    kbps(dvBytes, secs),
			SentFrameRate:  uint64(float64(dvFrames) / secs),
		}})
	}
	e.bus.Publish(event.LocalAudioStats{Stats: domain.LocalAudioStats{
		EncodedBitrate:  uint64(audioEnc.BitrateKbps),
		SentBitrate:     kbps(daBytes, secs),
		CaptureDataSize: audioBytes,
	}})
	for _, r := range remotes {
		if r.kind == webrtc.RTPCodecTypeVideo {
			e.bus.Publish(event.RemoteVideoStats{Stats: domain.RemoteVideoStats{
				UID:             r.uid,
				DeviceID:        r.deviceID,
				ReceivedBitrate: kbps(r.bytes, secs),
				ReceivedFrames:  r.packets,
			}})
		} else {
			e.bus.Publish(event.RemoteAudioStats{Stats: domain.RemoteAudioStats{
				UID:             r.uid,
				ReceivedBitrate: kbps(r.bytes, secs),
			}})
		}
	}
}

func kbps(bytes uint64, secs float64) uint64 {
	return uint64(float64(bytes) * 8 / 1000 / secs)
}
