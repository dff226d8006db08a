package engine

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pview/rtcengine/internal/domain"
	"github.com/pview/rtcengine/internal/event"
	"github.com/pview/rtcengine/internal/signal"
)

const joinTimeout = 10 * time.Second

// session is one channel occupancy from join to leave, including any
// reconnection attempts in between. It owns the signaling connection; the
// engine talks to the server only through the current session.
type session struct {
	eng *Engine

	channelName string
	channelID   int64
	uid         int64

	requestedAt time.Time

	mu         sync.Mutex
	token      string
	conn       signal.Conn
	joined     bool
	left       bool
	statsSent  bool
	joinedAt   time.Time
	tokenTimer *time.Timer
	lastTx     uint64
	lastRx     uint64
	stats      domain.ChannelStats

	// Per-call completion hooks. A non-nil hook suppresses the broadcast of
	// the corresponding event for this occurrence.
	joinHook  func(channel string, uid int64, elapsed time.Duration)
	leaveHook func(stats domain.ChannelStats)

	cancel context.CancelFunc
	done   chan struct{}

	logger zerolog.Logger
}

func newSession(eng *Engine, channelName string, channelID, uid int64, token string,
	joinHook func(string, int64, time.Duration), leaveHook func(domain.ChannelStats)) *session {
	return &session{
		eng:         eng,
		channelName: channelName,
		channelID:   channelID,
		uid:         uid,
		token:       token,
		requestedAt: time.Now(),
		joinHook:    joinHook,
		leaveHook:   leaveHook,
		done:        make(chan struct{}),
		logger: log.With().
			Str("module", "engine.session").
			Str("channel", channelName).
			Int64("uid", uid).
			Logger(),
	}
}

// run drives the session: dial, join, read until the transport drops, then
// reconnect inside the signal timeout window.
func (s *session) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer close(s.done)
	defer cancel()

	conn, err := s.eng.dialer.Dial(ctx, s.eng.signalAddr())
	if err != nil {
		s.logger.Error().Err(err).Msg("signal dial failed")
		s.failJoin(domain.ErrJoinConnectFailed)
		return
	}
	s.attach(conn)

	if err := s.sendJoin(false); err != nil {
		s.logger.Error().Err(err).Msg("join send failed")
		s.failJoin(domain.ErrJoinConnectFailed)
		return
	}

	joinGuard := time.AfterFunc(joinTimeout, func() {
		s.mu.Lock()
		pending := !s.joined && !s.left
		s.mu.Unlock()
		if pending {
			s.logger.Warn().Msg("join timed out")
			s.failJoin(domain.ErrJoinTimeout)
		}
	})
	defer joinGuard.Stop()

	statsCtx, stopStats := context.WithCancel(ctx)
	defer stopStats()
	go s.statsLoop(statsCtx)

	for {
		s.readLoop(conn)
		if s.isDone(ctx) {
			return
		}
		s.mu.Lock()
		joined := s.joined
		s.mu.Unlock()
		if !joined {
			// Transport gone before the server acknowledged the join. This is
			// a join failure, not a reconnect; Reconnecting is reachable only
			// from Connected.
			s.logger.Error().Msg("transport lost before join ack")
			s.failJoin(domain.ErrJoinConnectFailed)
			return
		}

		// Transport lost while joined: reconnect until the signal timeout
		// window closes.
		s.eng.bus.Publish(event.ConnectionLost{})
		s.eng.setState(domain.StateReconnecting)
		deadline := time.Now().Add(s.eng.cfg.SignalTimeout)

		conn = s.redial(ctx, deadline)
		if conn == nil {
			if s.isDone(ctx) {
				return
			}
			s.logger.Warn().Msg("reconnect window expired")
			s.eng.bus.Publish(event.ReconnectTimeout{})
			s.eng.setState(domain.StateFailed)
			s.markLeft()
			return
		}
	}
}

func (s *session) redial(ctx context.Context, deadline time.Time) signal.Conn {
	backoff := s.eng.cfg.ReconnectBackoff
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		if s.isDone(ctx) {
			return nil
		}
		conn, err := s.eng.dialer.Dial(ctx, s.eng.signalAddr())
		if err != nil {
			s.logger.Warn().Err(err).Msg("reconnect dial failed")
			continue
		}
		s.attach(conn)
		if err := s.sendJoin(true); err != nil {
			s.logger.Warn().Err(err).Msg("rejoin send failed")
			conn.Close()
			continue
		}
		return conn
	}
	return nil
}

func (s *session) readLoop(conn signal.Conn) {
	for data := range conn.Inbound() {
		s.handleMessage(data)
	}
}

func (s *session) isDone(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.left
}

func (s *session) attach(conn signal.Conn) {
	s.mu.Lock()
	s.conn = conn
	tx, rx := conn.Counters()
	s.lastTx, s.lastRx = tx, rx
	s.mu.Unlock()
}

func (s *session) sendJoin(rejoin bool) error {
	s.mu.Lock()
	token := s.token
	conn := s.conn
	s.mu.Unlock()
	return conn.TrySend(signal.JoinMsg{
		T:            signal.TJoin,
		Token:        token,
		Channel:      s.channelName,
		UID:          s.uid,
		Role:         int(s.eng.roles.role()),
		Profile:      int(s.eng.profile()),
		VideoEnabled: s.eng.localVideoOn(),
		Rejoin:       rejoin,
	})
}

// send queues a message on the current connection.
func (s *session) send(v any) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return signal.ErrClosed
	}
	return conn.TrySend(v)
}

// leave ends the session. The stats snapshot goes to the leave hook when one
// was supplied, to the broadcast event otherwise, never both. A session that
// already ended internally (reconnect window expired) still delivers the
// snapshot exactly once on the explicit leave.
func (s *session) leave() {
	s.mu.Lock()
	if s.left && s.statsSent {
		s.mu.Unlock()
		return
	}
	s.left = true
	s.statsSent = true
	conn := s.conn
	hook := s.leaveHook
	s.leaveHook = nil
	if s.tokenTimer != nil {
		s.tokenTimer.Stop()
		s.tokenTimer = nil
	}
	stats := s.snapshotStatsLocked()
	s.mu.Unlock()

	if conn != nil {
		_ = conn.TrySend(signal.LeaveMsg{T: signal.TLeave})
		conn.Close()
	}
	if s.cancel != nil {
		s.cancel()
	}
	if hook != nil {
		s.eng.bus.PublishOverride(event.LeaveChannel{Stats: stats}, func(event.Event) {
			hook(stats)
		})
	} else {
		s.eng.bus.Publish(event.LeaveChannel{Stats: stats})
	}
	s.logger.Info().Msg("left channel")
}

func (s *session) markLeft() {
	s.mu.Lock()
	s.left = true
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// failJoin surfaces a join failure and ends the session without a leave
// event; the engine never entered the channel and returns to Disconnected.
func (s *session) failJoin(code domain.ErrorCode) {
	s.markLeft()
	s.eng.bus.Publish(event.Error{Code: code})
	s.eng.setState(domain.StateDisconnected)
	s.eng.clearSession(s)
}

func (s *session) renewToken(token string) error {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return s.send(signal.RenewMsg{T: signal.TRenew, Token: token})
}

// scheduleTokenWarn arms the expiry warning at ttl minus
// clamp(ttl/6, floor, cap) from now.
func (s *session) scheduleTokenWarn(ttlSeconds int64) {
	if ttlSeconds <= 0 {
		return
	}
	ttl := time.Duration(ttlSeconds) * time.Second
	warnBefore := ttl / 6
	if warnBefore < s.eng.cfg.TokenWarnFloor {
		warnBefore = s.eng.cfg.TokenWarnFloor
	}
	if warnBefore > s.eng.cfg.TokenWarnCap {
		warnBefore = s.eng.cfg.TokenWarnCap
	}
	fireIn := ttl - warnBefore
	if fireIn <= 0 {
		fireIn = time.Second
	}
	s.mu.Lock()
	if s.tokenTimer != nil {
		s.tokenTimer.Stop()
	}
	s.tokenTimer = time.AfterFunc(fireIn, func() {
		// The token is read at fire time so a renewal issued after arming
		// reports the key actually in use.
		s.mu.Lock()
		gone := s.left
		token := s.token
		s.mu.Unlock()
		if !gone {
			s.eng.bus.Publish(event.TokenExpiring{Token: token})
		}
	})
	s.mu.Unlock()
}

func (s *session) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(s.eng.cfg.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		s.mu.Lock()
		if !s.joined || s.left || s.conn == nil {
			s.mu.Unlock()
			continue
		}
		tx, rx := s.conn.Counters()
		s.stats.TxBytes += tx - s.lastTx
		s.stats.RxBytes += rx - s.lastRx
		s.lastTx, s.lastRx = tx, rx
		stats := s.snapshotStatsLocked()
		s.mu.Unlock()
		s.eng.bus.Publish(event.ChannelStats{Stats: stats})
		s.eng.publishMediaStats(s.eng.cfg.StatsInterval)
	}
}

func (s *session) snapshotStatsLocked() domain.ChannelStats {
	stats := s.stats
	if !s.joinedAt.IsZero() {
		stats.Duration = time.Since(s.joinedAt)
	}
	stats.Users = s.eng.reg.count() + 1
	return stats
}

func (s *session) handleMessage(data []byte) {
	switch signal.PeekType(data) {
	case signal.TJoined:
		var m signal.JoinedMsg
		if unmarshal(data, &m, &s.logger) {
			s.onJoined(m)
		}
	case signal.TJoinError:
		var m signal.JoinErrorMsg
		if unmarshal(data, &m, &s.logger) {
			s.logger.Warn().Int("code", m.Code).Msg("join rejected")
			s.failJoin(domain.ErrorCode(m.Code))
		}
	case signal.TPeerJoined:
		var m signal.PeerJoinedMsg
		if unmarshal(data, &m, &s.logger) {
			s.onPeerJoined(m)
		}
	case signal.TPeerOffline:
		var m signal.PeerOfflineMsg
		if unmarshal(data, &m, &s.logger) {
			s.onPeerOffline(m)
		}
	case signal.TKicked:
		var m signal.KickedMsg
		if unmarshal(data, &m, &s.logger) {
			s.onKicked(m)
		}
	case signal.TRoleChanged:
		var m signal.RoleMsg
		if unmarshal(data, &m, &s.logger) {
			s.onRoleChanged(m)
		}
	case signal.TSpeakMuted:
		var m signal.MuteMsg
		if unmarshal(data, &m, &s.logger) {
			s.eng.reg.setSpeakMuted(m.UID, m.Mute)
			s.eng.bus.Publish(event.SpeakingMuted{UID: m.UID, Muted: m.Mute})
		}
	case signal.TAudioMuted:
		var m signal.MuteMsg
		if unmarshal(data, &m, &s.logger) {
			s.eng.reg.setAudioMuted(m.UID, m.Mute)
			s.eng.bus.Publish(event.AudioMuted{UID: m.UID, Muted: m.Mute})
		}
	case signal.TVideoEnabled:
		var m signal.VideoEnabledMsg
		if unmarshal(data, &m, &s.logger) {
			s.eng.reg.setVideoEnabled(m.UID, m.DeviceID, domain.VideoType(m.VideoType), m.Enabled)
			s.eng.bus.Publish(event.VideoEnabled{UID: m.UID, Enabled: m.Enabled})
			s.eng.bus.Publish(event.VideoDeviceEnabled{
				UID:       m.UID,
				DeviceID:  m.DeviceID,
				VideoType: domain.VideoType(m.VideoType),
				Enabled:   m.Enabled,
			})
		}
	case signal.TDualStream:
		var m signal.DualStreamMsg
		if unmarshal(data, &m, &s.logger) {
			s.eng.reg.setDualEnabled(m.UID, m.Enabled)
			s.eng.bus.Publish(event.DualStreamChanged{UID: m.UID, Enabled: m.Enabled})
		}
	case signal.TTokenExpiring:
		var m signal.TokenExpiringMsg
		if unmarshal(data, &m, &s.logger) {
			s.eng.bus.Publish(event.TokenExpiring{Token: m.Token})
		}
	case signal.TRenewResult:
		var m signal.RenewResultMsg
		if unmarshal(data, &m, &s.logger) {
			s.onRenewResult(m)
		}
	case signal.TRtmpStatus:
		var m signal.RtmpStatusMsg
		if unmarshal(data, &m, &s.logger) {
			s.eng.relays.HandleServerStatus(m.URL, domain.RtmpStatus(m.Status))
		}
	case signal.TRtmpCreated:
		var m signal.RtmpCreatedMsg
		if unmarshal(data, &m, &s.logger) {
			s.eng.bus.Publish(event.RtmpCreated{URL: m.URL, DeviceID: m.DeviceID})
		}
	case signal.TAudioLevel:
		var m signal.AudioLevelMsg
		if unmarshal(data, &m, &s.logger) {
			s.eng.bus.Publish(event.AudioLevel{UID: m.UID, Level: m.Level, FullRange: m.FullRange})
		}
	case signal.TQuality:
		var m signal.QualityMsg
		if unmarshal(data, &m, &s.logger) {
			s.eng.bus.Publish(event.NetworkQuality{Quality: domain.NetworkQuality(m.Quality)})
		}
	case signal.TChat:
		var m signal.ChatMsg
		if unmarshal(data, &m, &s.logger) {
			s.eng.bus.Publish(event.Chat{UID: m.UID, Info: domain.ChatInfo{
				Type:          domain.ChatType(m.ChatType),
				SeqID:         m.SeqID,
				Data:          m.Data,
				AudioDuration: m.AudioDuration,
			}})
		}
	case signal.TSignal:
		var m signal.SignalMsg
		if unmarshal(data, &m, &s.logger) {
			s.eng.bus.Publish(event.Signal{UID: m.UID, SeqID: m.SeqID, Message: m.Message})
		}
	case signal.TLyric:
		var m signal.TextMsg
		if unmarshal(data, &m, &s.logger) {
			s.eng.bus.Publish(event.Lyric{UID: m.UID, Lyric: m.Text})
		}
	case signal.TSEI:
		var m signal.TextMsg
		if unmarshal(data, &m, &s.logger) {
			s.eng.bus.Publish(event.SEI{UID: m.UID, Content: m.Text})
		}
	case signal.TAnswer:
		var m signal.SDPMsg
		if unmarshal(data, &m, &s.logger) {
			s.eng.onMediaAnswer(m.SDP)
		}
	case signal.TCandidate:
		var m signal.CandidateMsg
		if unmarshal(data, &m, &s.logger) {
			s.eng.onMediaCandidate(m.Candidate)
		}
	case signal.TLeft, signal.TPong:
		// acks
	default:
		s.logger.Debug().Str("type", signal.PeekType(data)).Msg("unhandled message")
	}
}

func (s *session) onJoined(m signal.JoinedMsg) {
	s.mu.Lock()
	if s.left {
		s.mu.Unlock()
		return
	}
	rejoin := s.joined
	s.joined = true
	if s.joinedAt.IsZero() {
		s.joinedAt = time.Now()
	}
	hook := s.joinHook
	s.joinHook = nil
	elapsed := time.Since(s.requestedAt)
	s.mu.Unlock()

	s.eng.setState(domain.StateConnected)
	s.scheduleTokenWarn(m.TokenTTL)

	if rejoin {
		s.logger.Info().Msg("rejoined channel")
		s.eng.bus.Publish(event.ReconnectSucceeded{})
		s.eng.restoreSettings(s)
		return
	}

	s.logger.Info().Dur("elapsed", elapsed).Msg("joined channel")
	ev := event.JoinSuccess{Channel: s.channelName, UID: s.uid, Elapsed: elapsed}
	if hook != nil {
		s.eng.bus.PublishOverride(ev, func(event.Event) {
			hook(s.channelName, s.uid, elapsed)
		})
	} else {
		s.eng.bus.Publish(ev)
	}
}

func (s *session) onPeerJoined(m signal.PeerJoinedMsg) {
	p := domain.Participant{
		UID:           m.UID,
		Role:          domain.ClientRole(m.Role),
		Synthetic:     m.Synthetic,
		SourceChannel: m.SourceChannel,
	}
	s.eng.reg.add(p, m.VideoEnabled)
	s.eng.bus.Publish(event.ParticipantJoined{
		UID:          m.UID,
		Role:         p.Role,
		VideoEnabled: m.VideoEnabled,
		Elapsed:      time.Since(s.requestedAt),
	})
}

func (s *session) onPeerOffline(m signal.PeerOfflineMsg) {
	if _, ok := s.eng.reg.remove(m.UID); !ok {
		return
	}
	s.eng.bus.Publish(event.ParticipantOffline{
		UID:    m.UID,
		Reason: domain.OfflineReason(m.Reason),
	})
}

func (s *session) onKicked(m signal.KickedMsg) {
	if m.UID != 0 && m.UID != s.uid {
		return
	}
	s.logger.Warn().Int("reason", m.Reason).Msg("kicked from channel")
	s.markLeft()
	s.eng.bus.Publish(event.Kicked{UID: s.uid, Reason: domain.KickReason(m.Reason)})
	s.eng.setState(domain.StateDisconnected)
	s.eng.clearSession(s)
}

func (s *session) onRoleChanged(m signal.RoleMsg) {
	role := domain.ClientRole(m.Role)
	if m.UID == s.uid {
		next, send := s.eng.roles.confirm(role)
		s.eng.bus.Publish(event.RoleChanged{UID: m.UID, Role: role})
		if send {
			if err := s.send(signal.RoleMsg{T: signal.TRole, UID: s.uid, Role: int(next)}); err != nil {
				s.logger.Error().Err(err).Msg("queued role send failed")
			}
		}
		return
	}
	s.eng.reg.setRole(m.UID, role)
	s.eng.bus.Publish(event.RoleChanged{UID: m.UID, Role: role})
}

// onRenewResult: a rejected renewal surfaces as an error without touching the
// connection state; the old key keeps the session alive until it expires.
func (s *session) onRenewResult(m signal.RenewResultMsg) {
	if !m.OK {
		s.logger.Warn().Msg("token renewal rejected")
		s.eng.bus.Publish(event.Error{Code: domain.ErrInvalidChannelKey})
		return
	}
	s.eng.bus.Publish(event.TokenRenewed{})
	s.scheduleTokenWarn(m.TokenTTL)
}

func unmarshal(data []byte, v any, logger *zerolog.Logger) bool {
	if err := json.Unmarshal(data, v); err != nil {
		logger.Error().Err(err).Msg("bad message")
		return false
	}
	return true
}
