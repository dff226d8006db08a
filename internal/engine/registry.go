package engine

import (
	"sync"

	"github.com/pview/rtcengine/internal/domain"
	"github.com/rs/zerolog/log"
)

// participantState is one remote user plus their device streams. Mute state
// is distinct from stream enablement: muting suppresses playback without
// tearing down the negotiated stream.
type participantState struct {
	p       domain.Participant
	streams map[string]*domain.DeviceStream

	videoMuted map[string]bool

	// Dual-stream selection. requested is the latest caller choice; active
	// trails it until the new variant is flowing, so playback of the old
	// variant is never interrupted by the switch itself.
	hasSelection bool
	requested    domain.StreamType
	active       domain.StreamType
	dualEnabled  bool
}

// registry tracks remote participants and their per-device streams.
// (uid, deviceId) is a unique key; uid is unique among active participants.
type registry struct {
	mu            sync.RWMutex
	parts         map[int64]*participantState
	defaultStream domain.StreamType
}

func newRegistry() *registry {
	return &registry{parts: make(map[int64]*participantState)}
}

// add records a joining participant. Re-adding an existing uid replaces the
// old entry (uid uniqueness invariant).
func (r *registry) add(p domain.Participant, videoEnabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps := &participantState{
		p:          p,
		streams:    make(map[string]*domain.DeviceStream),
		videoMuted: make(map[string]bool),
	}
	if videoEnabled {
		ps.streams[""] = &domain.DeviceStream{DeviceID: "", Type: domain.VideoTypeVideo, Enabled: true}
	}
	r.parts[p.UID] = ps
	log.Debug().Str("module", "engine.registry").Int64("uid", p.UID).Str("role", p.Role.String()).Msg("participant added")
}

func (r *registry) remove(uid int64) (domain.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps, ok := r.parts[uid]
	if !ok {
		return domain.Participant{}, false
	}
	delete(r.parts, uid)
	log.Debug().Str("module", "engine.registry").Int64("uid", uid).Msg("participant removed")
	return ps.p, true
}

func (r *registry) get(uid int64) (domain.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ps, ok := r.parts[uid]
	if !ok {
		return domain.Participant{}, false
	}
	return ps.p, true
}

func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.parts)
}

func (r *registry) participants() []domain.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Participant, 0, len(r.parts))
	for _, ps := range r.parts {
		out = append(out, ps.p)
	}
	return out
}

func (r *registry) setRole(uid int64, role domain.ClientRole) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps, ok := r.parts[uid]
	if !ok {
		return false
	}
	ps.p.Role = role
	return true
}

func (r *registry) setSpeakMuted(uid int64, muted bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps, ok := r.parts[uid]
	if !ok {
		return false
	}
	ps.p.SpeakMuted = muted
	return true
}

func (r *registry) setAudioMuted(uid int64, muted bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps, ok := r.parts[uid]
	if !ok {
		return false
	}
	ps.p.AudioMuted = muted
	return true
}

// setVideoEnabled upserts one device stream's enabled flag. Unknown devices
// are created on first sight (multi-stream add).
func (r *registry) setVideoEnabled(uid int64, deviceID string, vt domain.VideoType, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps, ok := r.parts[uid]
	if !ok {
		return false
	}
	ds, ok := ps.streams[deviceID]
	if !ok {
		ds = &domain.DeviceStream{DeviceID: deviceID, Type: vt}
		ps.streams[deviceID] = ds
	}
	ds.Type = vt
	ds.Enabled = enabled
	return true
}

func (r *registry) streams(uid int64) []domain.DeviceStream {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ps, ok := r.parts[uid]
	if !ok {
		return nil
	}
	out := make([]domain.DeviceStream, 0, len(ps.streams))
	for _, ds := range ps.streams {
		out = append(out, *ds)
	}
	return out
}

// muteVideo toggles playback suppression for one device stream.
func (r *registry) muteVideo(uid int64, deviceID string, mute bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps, ok := r.parts[uid]
	if !ok {
		return false
	}
	ps.videoMuted[deviceID] = mute
	return true
}

// deviceType reports the video type of one device stream, defaulting to the
// plain camera stream for unseen devices.
func (r *registry) deviceType(uid int64, deviceID string) domain.VideoType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if ps, ok := r.parts[uid]; ok {
		if ds, ok := ps.streams[deviceID]; ok {
			return ds.Type
		}
	}
	return domain.VideoTypeVideo
}

func (r *registry) videoMuted(uid int64, deviceID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ps, ok := r.parts[uid]
	if !ok {
		return false
	}
	return ps.videoMuted[deviceID]
}

// muteAllVideo applies to the current snapshot only; participants joining
// later are unaffected. Returns the affected uids.
func (r *registry) muteAllVideo(mute bool) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	uids := make([]int64, 0, len(r.parts))
	for uid, ps := range r.parts {
		for dev := range ps.streams {
			ps.videoMuted[dev] = mute
		}
		ps.videoMuted[""] = mute
		uids = append(uids, uid)
	}
	return uids
}

// muteAllAudio applies to the current snapshot only.
func (r *registry) muteAllAudio(mute bool) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	uids := make([]int64, 0, len(r.parts))
	for uid, ps := range r.parts {
		ps.p.AudioMuted = mute
		uids = append(uids, uid)
	}
	return uids
}

func (r *registry) setDualEnabled(uid int64, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps, ok := r.parts[uid]
	if !ok {
		return false
	}
	ps.dualEnabled = enabled
	return true
}

// selectStream records the caller's variant choice for one uid. The switch
// needs nothing beyond a stream-type-select message; the previously flowing
// variant stays active until promoteStream.
func (r *registry) selectStream(uid int64, st domain.StreamType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps, ok := r.parts[uid]
	if !ok {
		return false
	}
	ps.hasSelection = true
	ps.requested = st
	return true
}

// promoteStream marks the requested variant as flowing.
func (r *registry) promoteStream(uid int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ps, ok := r.parts[uid]; ok && ps.hasSelection {
		ps.active = ps.requested
	}
}

// streamSelection returns the effective selection for uid: its own choice if
// one was made, the registry-wide default otherwise.
func (r *registry) streamSelection(uid int64) domain.StreamType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if ps, ok := r.parts[uid]; ok && ps.hasSelection {
		return ps.requested
	}
	return r.defaultStream
}

func (r *registry) activeStream(uid int64) domain.StreamType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if ps, ok := r.parts[uid]; ok {
		return ps.active
	}
	return r.defaultStream
}

func (r *registry) setDefaultStream(st domain.StreamType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultStream = st
}

// syntheticOf lists synthetic participants originating from channelID.
func (r *registry) syntheticOf(channelID int64) []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []int64
	for uid, ps := range r.parts {
		if ps.p.Synthetic && ps.p.SourceChannel == channelID {
			out = append(out, uid)
		}
	}
	return out
}

func (r *registry) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parts = make(map[int64]*participantState)
	r.defaultStream = domain.StreamHigh
}
