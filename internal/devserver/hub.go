// Package devserver is a minimal channel server speaking the engine's wire
// protocol, used by the CLI and integration tests. It enforces the same
// channel rules the production server does: numeric channel names, one anchor
// per live channel, audience rejected from anchorless live channels.
package devserver

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pview/rtcengine/internal/domain"
	"github.com/pview/rtcengine/internal/signal"
)

const tokenTTLSeconds = 3600

type member struct {
	uid          int64
	role         domain.ClientRole
	videoEnabled bool
	conn         *serverConn
	subs         map[int64]bool
}

type channel struct {
	id      int64
	name    string
	profile domain.ChannelProfile
	members map[int64]*member
}

func (ch *channel) anchor() *member {
	for _, m := range ch.members {
		if m.role == domain.RoleAnchor {
			return m
		}
	}
	return nil
}

// Hub owns all channels. One lock guards the whole topology; the dev server
// optimizes for correctness, not scale.
type Hub struct {
	mu       sync.Mutex
	channels map[int64]*channel
	limiter  *JoinLimiter
}

func NewHub() *Hub {
	return &Hub{
		channels: make(map[int64]*channel),
		limiter:  NewJoinLimiter(10, time.Minute),
	}
}

// Handle serves one websocket client until it disconnects.
func (h *Hub) Handle(ws WSConn) {
	conn := newServerConn(ws)
	go conn.writeLoop()

	logger := log.With().Str("module", "devserver").Logger()
	var ch *channel
	var me *member

	defer func() {
		conn.close()
		if ch != nil && me != nil {
			h.dropMember(ch, me, domain.OfflineDropped)
		}
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		switch signal.PeekType(data) {
		case signal.TJoin:
			var m signal.JoinMsg
			if json.Unmarshal(data, &m) != nil {
				continue
			}
			joined, newCh, newMe := h.join(conn, m, &logger)
			if joined {
				ch, me = newCh, newMe
			}
		case signal.TLeave:
			if ch != nil && me != nil {
				_ = conn.trySend(signal.LeaveMsg{T: signal.TLeft})
				h.dropMember(ch, me, domain.OfflineQuit)
				ch, me = nil, nil
			}
		case signal.TRenew:
			var m signal.RenewMsg
			if json.Unmarshal(data, &m) != nil {
				continue
			}
			if validToken(m.Token) {
				_ = conn.trySend(signal.RenewResultMsg{T: signal.TRenewResult, OK: true, TokenTTL: tokenTTLSeconds})
			} else {
				_ = conn.trySend(signal.RenewResultMsg{T: signal.TRenewResult, OK: false})
			}
		case signal.TPing:
			_ = conn.trySend(signal.PingMsg{T: signal.TPong})
		case signal.TLastmile:
			var m signal.LastmileMsg
			if json.Unmarshal(data, &m) == nil && m.Enabled {
				_ = conn.trySend(signal.QualityMsg{T: signal.TQuality, Quality: int(domain.QualityGood)})
			}
		default:
			if ch != nil && me != nil {
				h.handleInChannel(ch, me, data)
			}
		}
	}
}

func validToken(token string) bool {
	return token != "" && token != "bad" && token != "expired"
}

// join validates and admits a client. The returned bool says whether the
// caller is now a channel member.
func (h *Hub) join(conn *serverConn, m signal.JoinMsg, logger *zerolog.Logger) (bool, *channel, *member) {
	reject := func(code domain.ErrorCode) (bool, *channel, *member) {
		_ = conn.trySend(signal.JoinErrorMsg{T: signal.TJoinError, Code: int(code)})
		return false, nil, nil
	}

	channelID, err := domain.ParseChannelName(m.Channel)
	if err != nil {
		return reject(domain.ErrInvalidChannelName)
	}
	if m.Token == "" || m.Token == "bad" {
		return reject(domain.ErrJoinVerifyFailed)
	}
	if m.Token == "expired" {
		return reject(domain.ErrInvalidChannelKey)
	}
	if m.UID <= 0 {
		return reject(domain.ErrJoinVerifyFailed)
	}
	if !h.limiter.Allow(m.UID) {
		return reject(domain.ErrJoinUnknown)
	}
	role := domain.ClientRole(m.Role)
	if !role.Valid() {
		role = domain.RoleBroadcaster
	}
	profile := domain.ChannelProfile(m.Profile)

	h.mu.Lock()
	ch, ok := h.channels[channelID]
	if !ok {
		ch = &channel{
			id:      channelID,
			name:    m.Channel,
			profile: profile,
			members: make(map[int64]*member),
		}
		h.channels[channelID] = ch
	}

	if ch.profile == domain.ProfileLiveBroadcasting {
		if a := ch.anchor(); a != nil && role == domain.RoleAnchor && a.uid != m.UID {
			// New anchor displaces the old one.
			_ = a.conn.trySend(signal.KickedMsg{T: signal.TKicked, UID: a.uid, Reason: int(domain.KickNewChairEnter)})
			h.removeLocked(ch, a, domain.OfflineQuit)
			logger.Warn().Int64("old_anchor", a.uid).Int64("uid", m.UID).Msg("anchor displaced")
		} else if ch.anchor() == nil && role != domain.RoleAnchor {
			h.mu.Unlock()
			return reject(domain.ErrJoinNoAnchor)
		}
	}

	if old, ok := ch.members[m.UID]; ok {
		// Rejoin: swap the transport, no membership churn.
		old.conn.close()
		old.conn = conn
		old.role = role
		h.mu.Unlock()
		_ = conn.trySend(signal.JoinedMsg{T: signal.TJoined, Channel: ch.name, UID: m.UID, TokenTTL: tokenTTLSeconds})
		logger.Info().Str("channel", ch.name).Int64("uid", m.UID).Msg("rejoined")
		return true, ch, old
	}

	me := &member{
		uid:          m.UID,
		role:         role,
		videoEnabled: m.VideoEnabled,
		conn:         conn,
		subs:         make(map[int64]bool),
	}
	ch.members[m.UID] = me

	_ = conn.trySend(signal.JoinedMsg{T: signal.TJoined, Channel: ch.name, UID: m.UID, TokenTTL: tokenTTLSeconds})
	for _, other := range ch.members {
		if other.uid == me.uid {
			continue
		}
		_ = conn.trySend(signal.PeerJoinedMsg{T: signal.TPeerJoined, UID: other.uid, Role: int(other.role), VideoEnabled: other.videoEnabled})
		_ = other.conn.trySend(signal.PeerJoinedMsg{T: signal.TPeerJoined, UID: me.uid, Role: int(me.role), VideoEnabled: me.videoEnabled})
	}
	h.mu.Unlock()

	logger.Info().Str("channel", ch.name).Int64("uid", m.UID).Str("role", role.String()).Msg("joined")
	return true, ch, me
}

func (h *Hub) handleInChannel(ch *channel, me *member, data []byte) {
	switch signal.PeekType(data) {
	case signal.TRole:
		var m signal.RoleMsg
		if json.Unmarshal(data, &m) != nil {
			return
		}
		role := domain.ClientRole(m.Role)
		if !role.Valid() {
			return
		}
		if role == domain.RoleAnchor && me.role != domain.RoleAnchor {
			// The anchor seat is claimed at join time only.
			return
		}
		h.mu.Lock()
		wasSending := me.role.CanSendMedia()
		me.role = role
		h.broadcastLocked(ch, 0, signal.RoleMsg{T: signal.TRoleChanged, UID: me.uid, Role: m.Role})
		if wasSending && !role.CanSendMedia() {
			// Demotion to audience: media presence vanishes for the others.
			h.broadcastLocked(ch, me.uid, signal.PeerOfflineMsg{T: signal.TPeerOffline, UID: me.uid, Reason: int(domain.OfflineBecomeAudience)})
		}
		h.mu.Unlock()
	case signal.TLocalAudio:
		var m signal.MuteMsg
		if json.Unmarshal(data, &m) != nil {
			return
		}
		h.broadcast(ch, me.uid, signal.MuteMsg{T: signal.TAudioMuted, UID: me.uid, Mute: m.Mute})
	case signal.TLocalVideo:
		var m signal.LocalVideoMsg
		if json.Unmarshal(data, &m) != nil {
			return
		}
		h.mu.Lock()
		me.videoEnabled = m.Enabled
		h.broadcastLocked(ch, me.uid, signal.VideoEnabledMsg{
			T: signal.TVideoEnabled, UID: me.uid, Enabled: m.Enabled,
			DeviceID: m.DeviceID, VideoType: m.VideoType,
		})
		h.mu.Unlock()
	case signal.TSpeakMute:
		var m signal.MuteMsg
		if json.Unmarshal(data, &m) != nil {
			return
		}
		if me.role != domain.RoleAnchor {
			return
		}
		h.broadcast(ch, 0, signal.MuteMsg{T: signal.TSpeakMuted, UID: m.UID, Mute: m.Mute})
	case signal.TDual:
		var m signal.DualMsg
		if json.Unmarshal(data, &m) != nil {
			return
		}
		h.broadcast(ch, me.uid, signal.DualStreamMsg{T: signal.TDualStream, UID: me.uid, Enabled: m.Enabled})
	case signal.TAddPublish:
		var m signal.PublishMsg
		if json.Unmarshal(data, &m) != nil {
			return
		}
		_ = me.conn.trySend(signal.RtmpCreatedMsg{T: signal.TRtmpCreated, URL: m.URL, DeviceID: ""})
		_ = me.conn.trySend(signal.RtmpStatusMsg{T: signal.TRtmpStatus, URL: m.URL, Status: int(domain.RtmpLinkSucceeded)})
	case signal.TUpdatePublish:
		var m signal.PublishMsg
		if json.Unmarshal(data, &m) != nil {
			return
		}
		_ = me.conn.trySend(signal.RtmpStatusMsg{T: signal.TRtmpStatus, URL: m.URL, Status: int(domain.RtmpLinkSucceeded)})
	case signal.TRemovePublish, signal.TLayout, signal.TMuteAudio, signal.TMuteVideo, signal.TStreamType:
		// Playback-side state; nothing to relay.
	case signal.TSubChannel:
		var m signal.ChannelSubMsg
		if json.Unmarshal(data, &m) != nil {
			return
		}
		h.mu.Lock()
		src, ok := h.channels[m.Channel]
		if ok {
			if a := src.anchor(); a != nil {
				me.subs[m.Channel] = true
				_ = me.conn.trySend(signal.PeerJoinedMsg{
					T: signal.TPeerJoined, UID: a.uid, Role: int(a.role),
					VideoEnabled: a.videoEnabled, Synthetic: true, SourceChannel: m.Channel,
				})
			}
		}
		h.mu.Unlock()
	case signal.TUnsubChannel:
		var m signal.ChannelSubMsg
		if json.Unmarshal(data, &m) != nil {
			return
		}
		h.mu.Lock()
		if me.subs[m.Channel] {
			delete(me.subs, m.Channel)
			if src, ok := h.channels[m.Channel]; ok {
				if a := src.anchor(); a != nil {
					_ = me.conn.trySend(signal.PeerOfflineMsg{T: signal.TPeerOffline, UID: a.uid, Reason: int(domain.OfflineQuit)})
				}
			}
		}
		h.mu.Unlock()
	case signal.TChat:
		var m signal.ChatMsg
		if json.Unmarshal(data, &m) != nil {
			return
		}
		m.UID = me.uid
		h.broadcast(ch, me.uid, m)
	case signal.TSignal:
		var m signal.SignalMsg
		if json.Unmarshal(data, &m) != nil {
			return
		}
		target := m.UID
		m.UID = me.uid
		h.mu.Lock()
		if target == 0 {
			h.broadcastLocked(ch, me.uid, m)
		} else if t, ok := ch.members[target]; ok {
			_ = t.conn.trySend(m)
		}
		h.mu.Unlock()
	case signal.TLyric:
		var m signal.TextMsg
		if json.Unmarshal(data, &m) != nil {
			return
		}
		m.UID = me.uid
		h.broadcast(ch, me.uid, m)
	case signal.TSEI:
		var m signal.TextMsg
		if json.Unmarshal(data, &m) != nil {
			return
		}
		m.UID = me.uid
		h.broadcast(ch, me.uid, m)
	}
}

func (h *Hub) broadcast(ch *channel, except int64, v any) {
	h.mu.Lock()
	h.broadcastLocked(ch, except, v)
	h.mu.Unlock()
}

func (h *Hub) broadcastLocked(ch *channel, except int64, v any) {
	for _, m := range ch.members {
		if m.uid == except {
			continue
		}
		_ = m.conn.trySend(v)
	}
}

func (h *Hub) dropMember(ch *channel, me *member, reason domain.OfflineReason) {
	h.mu.Lock()
	h.removeLocked(ch, me, reason)
	h.mu.Unlock()
}

func (h *Hub) removeLocked(ch *channel, me *member, reason domain.OfflineReason) {
	if _, ok := ch.members[me.uid]; !ok {
		return
	}
	delete(ch.members, me.uid)
	h.broadcastLocked(ch, me.uid, signal.PeerOfflineMsg{T: signal.TPeerOffline, UID: me.uid, Reason: int(reason)})
	if me.role == domain.RoleAnchor {
		// Cross-channel subscribers lose their synthetic participant.
		for _, other := range h.channels {
			for _, om := range other.members {
				if om.subs[ch.id] {
					delete(om.subs, ch.id)
					_ = om.conn.trySend(signal.PeerOfflineMsg{T: signal.TPeerOffline, UID: me.uid, Reason: int(domain.OfflineQuit)})
				}
			}
		}
	}
	if len(ch.members) == 0 {
		delete(h.channels, ch.id)
	}
}
