// Package engine implements the channel session engine: join/leave
// lifecycle, role transitions, remote stream bookkeeping, CDN publishing and
// the event bus the application consumes.
package engine

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/pview/rtcengine/internal/config"
	"github.com/pview/rtcengine/internal/domain"
	"github.com/pview/rtcengine/internal/engine/relay"
	"github.com/pview/rtcengine/internal/event"
	"github.com/pview/rtcengine/internal/media"
	"github.com/pview/rtcengine/internal/signal"
)

// Code is the synchronous return of engine operations. Zero is success;
// negative values reject the call without any event.
type Code int

const (
	CodeOK               Code = 0
	CodeInvalidArgument  Code = -1
	CodeNotInChannel     Code = -2
	CodeAlreadyInChannel Code = -3
	CodeNotSupported     Code = -4
	CodeBackpressure     Code = -5
)

// Frame-rate downgrade requests are throttled so a burst of drops produces
// one request, not a storm.
const (
	frameRateReqWindow    = 2 * time.Second
	minRequestedFrameRate = 5
)

// Engine is one independent engine instance. Instances share nothing; tests
// run several side by side.
type Engine struct {
	cfg    *config.Config
	bus    *event.Dispatcher
	dialer signal.Dialer

	mu           sync.Mutex
	state        domain.ConnectionState
	chanProfile  domain.ChannelProfile
	videoEnc     domain.VideoEncoding
	audioEnc     domain.AudioEncoding
	videoEnabled bool
	audioMuted   bool
	dualEnabled  bool
	sess         *session
	firstFrame   bool
	closed       bool

	mixing    bool
	effects   map[int]struct{}
	speakerOn bool

	lastVideoDrops uint64
	lastRateReq    time.Time

	lastmileCancel context.CancelFunc

	reg    *registry
	roles  *roleController
	relays *relay.Manager
	source *media.ExternalSource
	med    mediaState

	ctx    context.Context
	cancel context.CancelFunc
}

// Option customizes engine construction.
type Option func(*options)

type options struct {
	dialer signal.Dialer
	sink   relay.SinkDialer
}

// WithDialer replaces the websocket signaling dialer.
func WithDialer(d signal.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithSinkDialer replaces the RTMP sink dialer for publish targets.
func WithSinkDialer(d relay.SinkDialer) Option {
	return func(o *options) { o.sink = d }
}

func New(cfg *config.Config, opts ...Option) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.dialer == nil {
		o.dialer = signal.WSDialer{}
	}

	bus := event.NewDispatcher(cfg.EventBuffer)
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:          cfg,
		bus:          bus,
		dialer:       o.dialer,
		state:        domain.StateDisconnected,
		chanProfile:  domain.ChannelProfile(cfg.ChannelProfile),
		videoEnc:     domain.VideoProfile(cfg.VideoProfile).Encoding(false),
		audioEnc:     domain.AudioEncoding{Codec: domain.AudioCodec(cfg.AudioCodec), BitrateKbps: cfg.AudioBitrate, Channels: cfg.AudioChannels},
		reg:          newRegistry(),
		roles:        newRoleController(domain.RoleBroadcaster),
		relays:       relay.NewManager(bus, o.sink),
		source:       media.NewExternalSource(),
		ctx:          ctx,
		cancel:       cancel,
	}
	log.Info().Str("module", "engine").Msg("engine created")
	return e
}

// On registers a handler for one event kind. Events of kinds without a
// handler are dropped.
func (e *Engine) On(k event.Kind, h event.Handler) {
	e.bus.Subscribe(k, h)
}

// Close destroys the engine. A live session is left first; the instance is
// unusable afterwards.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	sess := e.sess
	e.sess = nil
	if e.lastmileCancel != nil {
		e.lastmileCancel()
		e.lastmileCancel = nil
	}
	e.mu.Unlock()

	if sess != nil {
		sess.leave()
	}
	e.stopMediaTransport()
	e.relays.Reset()
	e.source.Close()
	e.cancel()
	e.bus.Close()
	log.Info().Str("module", "engine").Msg("engine closed")
}

// Join enters a channel. onSuccess, when non-nil, replaces the broadcast
// join-success event for this call. uid zero asks for an auto-assigned id.
func (e *Engine) Join(token, channel string, uid int64, onSuccess func(channel string, uid int64, elapsed time.Duration)) Code {
	channelID, err := domain.ParseChannelName(channel)
	if err != nil {
		log.Warn().Str("module", "engine").Str("channel", channel).Err(err).Msg("join rejected")
		e.bus.Publish(event.Error{Code: domain.ErrInvalidChannelName})
		return CodeInvalidArgument
	}
	if uid < 0 {
		return CodeInvalidArgument
	}
	if uid == 0 {
		uid = generateUID()
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return CodeNotSupported
	}
	if e.sess != nil {
		e.mu.Unlock()
		return CodeAlreadyInChannel
	}
	sess := newSession(e, channel, channelID, uid, token, onSuccess, nil)
	e.sess = sess
	e.firstFrame = true
	e.mu.Unlock()

	e.setState(domain.StateConnecting)
	go sess.run(e.ctx)
	return CodeOK
}

// Leave exits the current channel. onStats, when non-nil, replaces the
// broadcast leave event; the stats snapshot is delivered exactly once either
// way.
func (e *Engine) Leave(onStats func(domain.ChannelStats)) Code {
	e.mu.Lock()
	sess := e.sess
	if sess == nil {
		e.mu.Unlock()
		return CodeNotInChannel
	}
	e.sess = nil
	e.mu.Unlock()

	if onStats != nil {
		sess.mu.Lock()
		sess.leaveHook = onStats
		sess.mu.Unlock()
	}
	sess.leave()
	e.afterSession()
	e.setState(domain.StateDisconnected)
	return CodeOK
}

// RenewToken replaces the channel key before the current one expires.
func (e *Engine) RenewToken(token string) Code {
	if token == "" {
		return CodeInvalidArgument
	}
	sess := e.session()
	if sess == nil {
		return CodeNotInChannel
	}
	return e.codeFromSendErr(sess.renewToken(token))
}

func (e *Engine) GetConnectionState() domain.ConnectionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// SetChannelProfile selects the channel usage mode. Only allowed outside a
// channel.
func (e *Engine) SetChannelProfile(p domain.ChannelProfile) Code {
	if p != domain.ProfileCommunication && p != domain.ProfileLiveBroadcasting && p != domain.ProfileGameFreeMode {
		return CodeInvalidArgument
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess != nil {
		return CodeNotSupported
	}
	e.chanProfile = p
	return CodeOK
}

// SetClientRole requests a role transition. Outside a channel it takes effect
// immediately; inside, the server confirms and concurrent requests settle in
// request order. Only Broadcaster and Audience are reachable after joining;
// the anchor seat is claimed at join time.
func (e *Engine) SetClientRole(role domain.ClientRole) Code {
	if !role.Valid() {
		return CodeInvalidArgument
	}
	e.mu.Lock()
	sess := e.sess
	e.mu.Unlock()

	if sess == nil {
		e.roles.reset(role)
		return CodeOK
	}
	if role == domain.RoleAnchor {
		return CodeNotSupported
	}
	if !e.roles.request(role) {
		return CodeOK // queued behind the in-flight transition
	}
	return e.codeFromSendErr(sess.send(signal.RoleMsg{T: signal.TRole, UID: sess.uid, Role: int(role)}))
}

// SetVideoProfile picks an encoder preset.
func (e *Engine) SetVideoProfile(p domain.VideoProfile, swapWidthAndHeight bool) Code {
	if !p.Valid() {
		return CodeInvalidArgument
	}
	e.mu.Lock()
	e.videoEnc = p.Encoding(swapWidthAndHeight)
	e.mu.Unlock()
	return CodeOK
}

// SetVideoProfileCustom sets a fully custom encoder configuration.
func (e *Engine) SetVideoProfileCustom(enc domain.VideoEncoding) Code {
	if enc.Width <= 0 || enc.Height <= 0 || enc.FrameRate <= 0 || enc.BitrateKbps <= 0 {
		return CodeInvalidArgument
	}
	e.mu.Lock()
	e.videoEnc = enc
	e.mu.Unlock()
	return CodeOK
}

func (e *Engine) VideoEncoding() domain.VideoEncoding {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.videoEnc
}

// SetPreferredAudioCodec validates against the codec's bitrate range.
func (e *Engine) SetPreferredAudioCodec(enc domain.AudioEncoding) Code {
	if !enc.Valid() {
		return CodeInvalidArgument
	}
	e.mu.Lock()
	e.audioEnc = enc
	e.mu.Unlock()
	return CodeOK
}

// SetSignalTimeout adjusts the reconnection window. Values under 20s clamp.
func (e *Engine) SetSignalTimeout(d time.Duration) Code {
	if d <= 0 {
		return CodeInvalidArgument
	}
	if d < 20*time.Second {
		d = 20 * time.Second
	}
	e.mu.Lock()
	e.cfg.SignalTimeout = d
	e.mu.Unlock()
	return CodeOK
}

// SetServerAddr points the engine at a different channel server. Only
// allowed outside a channel.
func (e *Engine) SetServerAddr(ip string, port int) Code {
	if ip == "" || port <= 0 || port > 65535 {
		return CodeInvalidArgument
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess != nil {
		return CodeNotSupported
	}
	e.cfg.ServerIP = ip
	e.cfg.ServerPort = port
	return CodeOK
}

// EnableLocalVideo toggles local video. In a channel the change is announced
// to the server; the camera lifecycle surfaces as CameraReady/VideoStopped.
func (e *Engine) EnableLocalVideo(enabled bool) Code {
	e.mu.Lock()
	changed := e.videoEnabled != enabled
	e.videoEnabled = enabled
	sess := e.sess
	e.mu.Unlock()

	if changed {
		if enabled {
			e.bus.Publish(event.CameraReady{})
		} else {
			e.bus.Publish(event.VideoStopped{})
		}
	}
	if sess == nil {
		return CodeOK
	}
	return e.codeFromSendErr(sess.send(signal.LocalVideoMsg{
		T:       signal.TLocalVideo,
		Enabled: enabled,
	}))
}

// MuteLocalAudio stops or resumes sending the local audio stream without
// tearing it down.
func (e *Engine) MuteLocalAudio(mute bool) Code {
	e.mu.Lock()
	e.audioMuted = mute
	sess := e.sess
	e.mu.Unlock()
	if sess == nil {
		return CodeOK
	}
	return e.codeFromSendErr(sess.send(signal.MuteMsg{T: signal.TLocalAudio, Mute: mute}))
}

// MuteRemoteAudio suppresses playback of one remote user without affecting
// the negotiated stream.
func (e *Engine) MuteRemoteAudio(uid int64, mute bool) Code {
	sess := e.session()
	if sess == nil {
		return CodeNotInChannel
	}
	if !e.reg.setAudioMuted(uid, mute) {
		return CodeInvalidArgument
	}
	return e.codeFromSendErr(sess.send(signal.MuteMsg{T: signal.TMuteAudio, UID: uid, Mute: mute}))
}

// MuteRemoteVideo suppresses playback of one remote device stream. The
// change is announced locally as a video-enabled notification scoped to that
// device.
func (e *Engine) MuteRemoteVideo(uid int64, deviceID string, mute bool) Code {
	sess := e.session()
	if sess == nil {
		return CodeNotInChannel
	}
	if !e.reg.muteVideo(uid, deviceID, mute) {
		return CodeInvalidArgument
	}
	e.setPumpMuted(uid, deviceID, mute)
	e.publishVideoMuted(uid, deviceID, mute)
	return e.codeFromSendErr(sess.send(signal.MuteMsg{T: signal.TMuteVideo, UID: uid, DeviceID: deviceID, Mute: mute}))
}

func (e *Engine) publishVideoMuted(uid int64, deviceID string, mute bool) {
	e.bus.Publish(event.VideoEnabled{UID: uid, Enabled: !mute})
	e.bus.Publish(event.VideoDeviceEnabled{
		UID:       uid,
		DeviceID:  deviceID,
		VideoType: e.reg.deviceType(uid, deviceID),
		Enabled:   !mute,
	})
}

// MuteAllRemoteAudio applies to participants present right now; later
// joiners are unaffected.
func (e *Engine) MuteAllRemoteAudio(mute bool) Code {
	sess := e.session()
	if sess == nil {
		return CodeNotInChannel
	}
	for _, uid := range e.reg.muteAllAudio(mute) {
		if err := sess.send(signal.MuteMsg{T: signal.TMuteAudio, UID: uid, Mute: mute}); err != nil {
			return e.codeFromSendErr(err)
		}
	}
	return CodeOK
}

func (e *Engine) MuteAllRemoteVideo(mute bool) Code {
	sess := e.session()
	if sess == nil {
		return CodeNotInChannel
	}
	for _, uid := range e.reg.muteAllVideo(mute) {
		e.publishVideoMuted(uid, "", mute)
		if err := sess.send(signal.MuteMsg{T: signal.TMuteVideo, UID: uid, Mute: mute}); err != nil {
			return e.codeFromSendErr(err)
		}
	}
	return CodeOK
}

// MuteRemoteSpeaking is the anchor-side speaking ban. Only the anchor may
// issue it.
func (e *Engine) MuteRemoteSpeaking(uid int64, mute bool) Code {
	sess := e.session()
	if sess == nil {
		return CodeNotInChannel
	}
	if e.roles.role() != domain.RoleAnchor {
		return CodeNotSupported
	}
	return e.codeFromSendErr(sess.send(signal.MuteMsg{T: signal.TSpeakMute, UID: uid, Mute: mute}))
}

// EnableDualStream publishes the low-resolution variant alongside the high
// one.
func (e *Engine) EnableDualStream(enabled bool) Code {
	e.mu.Lock()
	e.dualEnabled = enabled
	sess := e.sess
	e.mu.Unlock()
	if sess == nil {
		return CodeOK
	}
	return e.codeFromSendErr(sess.send(signal.DualMsg{T: signal.TDual, Enabled: enabled}))
}

// SetRemoteVideoStreamType switches which dual-stream variant of uid is
// received. Nothing beyond this call is needed; the previous variant stops
// flowing once the new one does.
func (e *Engine) SetRemoteVideoStreamType(uid int64, st domain.StreamType) Code {
	if st != domain.StreamHigh && st != domain.StreamLow {
		return CodeInvalidArgument
	}
	sess := e.session()
	if sess == nil {
		return CodeNotInChannel
	}
	if !e.reg.selectStream(uid, st) {
		return CodeInvalidArgument
	}
	code := e.codeFromSendErr(sess.send(signal.StreamTypeMsg{T: signal.TStreamType, UID: uid, StreamType: int(st)}))
	if code == CodeOK {
		e.reg.promoteStream(uid)
	}
	return code
}

// SetDefaultRemoteVideoStreamType sets the variant for users without an
// explicit selection.
func (e *Engine) SetDefaultRemoteVideoStreamType(st domain.StreamType) Code {
	if st != domain.StreamHigh && st != domain.StreamLow {
		return CodeInvalidArgument
	}
	e.reg.setDefaultStream(st)
	sess := e.session()
	if sess == nil {
		return CodeOK
	}
	return e.codeFromSendErr(sess.send(signal.StreamTypeMsg{T: signal.TStreamType, StreamType: int(st)}))
}

// RemoteVideoStreamType reports the effective selection for uid.
func (e *Engine) RemoteVideoStreamType(uid int64) domain.StreamType {
	return e.reg.streamSelection(uid)
}

// AddPublishTarget starts pushing the channel stream to a CDN url. Setup is
// asynchronous; health arrives as rtmp status events.
func (e *Engine) AddPublishTarget(url string) Code {
	sess := e.session()
	if sess == nil {
		return CodeNotInChannel
	}
	if err := e.relays.Add(e.ctx, url); err != nil {
		log.Warn().Str("module", "engine").Str("url", url).Err(err).Msg("add publish rejected")
		return CodeInvalidArgument
	}
	return e.codeFromSendErr(sess.send(signal.PublishMsg{T: signal.TAddPublish, URL: url}))
}

// RemovePublishTarget is idempotent for unknown urls.
func (e *Engine) RemovePublishTarget(url string) Code {
	sess := e.session()
	if sess == nil {
		return CodeNotInChannel
	}
	e.relays.Remove(url)
	return e.codeFromSendErr(sess.send(signal.PublishMsg{T: signal.TRemovePublish, URL: url}))
}

// UpdatePublishTarget swaps the url of a failed target, keeping its layout.
func (e *Engine) UpdatePublishTarget(url string) Code {
	sess := e.session()
	if sess == nil {
		return CodeNotInChannel
	}
	if err := e.relays.Update(e.ctx, url); err != nil {
		return CodeInvalidArgument
	}
	return e.codeFromSendErr(sess.send(signal.PublishMsg{T: signal.TUpdatePublish, URL: url}))
}

// SetLayout applies a composited layout to one publish target. An invalid
// layout is rejected as a whole and never disturbs the accepted one.
func (e *Engine) SetLayout(l domain.Layout) Code {
	if err := e.relays.SetLayout(l); err != nil {
		log.Warn().Str("module", "engine").Err(err).Msg("layout rejected")
		if errors.Is(err, relay.ErrNoTarget) || errors.Is(err, relay.ErrUnknownURL) || errors.Is(err, relay.ErrAmbiguousTarget) {
			return CodeNotSupported
		}
		return CodeInvalidArgument
	}
	sess := e.session()
	if sess == nil {
		return CodeOK
	}
	raw, err := json.Marshal(l)
	if err != nil {
		return CodeInvalidArgument
	}
	return e.codeFromSendErr(sess.send(signal.LayoutMsg{T: signal.TLayout, Layout: raw}))
}

func (e *Engine) SetMixerVideoParams(p domain.MixerVideoParams) Code {
	if err := e.relays.SetMixerVideoParams(p); err != nil {
		return CodeInvalidArgument
	}
	return CodeOK
}

func (e *Engine) SetMixerAudioParams(p domain.MixerAudioParams) Code {
	if err := e.relays.SetMixerAudioParams(p); err != nil {
		return CodeInvalidArgument
	}
	return CodeOK
}

func (e *Engine) SetMixerBackgroundImage(imageURL, rtmpURL string) Code {
	if imageURL == "" {
		return CodeInvalidArgument
	}
	e.relays.SetBackgroundImage(imageURL, rtmpURL)
	return CodeOK
}

// SubscribeChannel surfaces another channel's anchor as a synthetic
// participant in the current session.
func (e *Engine) SubscribeChannel(channelID int64) Code {
	if channelID <= 0 {
		return CodeInvalidArgument
	}
	sess := e.session()
	if sess == nil {
		return CodeNotInChannel
	}
	if err := e.relays.Subscribe(channelID); err != nil {
		return CodeInvalidArgument
	}
	return e.codeFromSendErr(sess.send(signal.ChannelSubMsg{T: signal.TSubChannel, Channel: channelID}))
}

// UnsubscribeChannel removes the subscription and its synthetic
// participants.
func (e *Engine) UnsubscribeChannel(channelID int64) Code {
	sess := e.session()
	if sess == nil {
		return CodeNotInChannel
	}
	if err := e.relays.Unsubscribe(channelID); err != nil {
		return CodeInvalidArgument
	}
	e.dropSynthetic(channelID)
	return e.codeFromSendErr(sess.send(signal.ChannelSubMsg{T: signal.TUnsubChannel, Channel: channelID}))
}

func (e *Engine) dropSynthetic(channelID int64) {
	for _, uid := range e.reg.syntheticOf(channelID) {
		if _, ok := e.reg.remove(uid); ok {
			e.bus.Publish(event.ParticipantOffline{UID: uid, Reason: domain.OfflineQuit})
		}
	}
}

// SendChat relays a chat payload to the channel. A missing seq id is filled
// in.
func (e *Engine) SendChat(info domain.ChatInfo) Code {
	if info.Type < domain.ChatText || info.Type > domain.ChatCustom {
		return CodeInvalidArgument
	}
	sess := e.session()
	if sess == nil {
		return CodeNotInChannel
	}
	if info.SeqID == "" {
		info.SeqID = ulid.Make().String()
	}
	return e.codeFromSendErr(sess.send(signal.ChatMsg{
		T:             signal.TChat,
		ChatType:      int(info.Type),
		SeqID:         info.SeqID,
		Data:          info.Data,
		AudioDuration: info.AudioDuration,
	}))
}

// SendSignal sends a point-to-point signaling message and returns its seq id.
func (e *Engine) SendSignal(uid int64, message string) (string, Code) {
	if message == "" {
		return "", CodeInvalidArgument
	}
	sess := e.session()
	if sess == nil {
		return "", CodeNotInChannel
	}
	seq := ulid.Make().String()
	code := e.codeFromSendErr(sess.send(signal.SignalMsg{T: signal.TSignal, UID: uid, SeqID: seq, Message: message}))
	if code != CodeOK {
		return "", code
	}
	return seq, CodeOK
}

// SendLyric broadcasts a lyric line to the channel.
func (e *Engine) SendLyric(lyric string) Code {
	sess := e.session()
	if sess == nil {
		return CodeNotInChannel
	}
	return e.codeFromSendErr(sess.send(signal.TextMsg{T: signal.TLyric, Text: lyric}))
}

// InsertSEI attaches supplemental data to the outbound video stream.
func (e *Engine) InsertSEI(content string) Code {
	if content == "" {
		return CodeInvalidArgument
	}
	sess := e.session()
	if sess == nil {
		return CodeNotInChannel
	}
	return e.codeFromSendErr(sess.send(signal.TextMsg{T: signal.TSEI, Text: content}))
}

// PushVideoFrame injects an externally captured frame. It feeds the publish
// targets and the local frame observers.
func (e *Engine) PushVideoFrame(f *domain.VideoFrame) Code {
	if f == nil || len(f.Data) == 0 || !f.ValidRotation() {
		return CodeInvalidArgument
	}
	e.mu.Lock()
	if e.sess == nil {
		e.mu.Unlock()
		return CodeNotInChannel
	}
	first := e.firstFrame
	e.firstFrame = false
	e.mu.Unlock()

	e.source.PushVideo(f)
	e.relays.PushVideo(f)
	if first {
		e.bus.Publish(event.FirstLocalVideoFrame{Width: f.StrideInPixels, Height: f.Height})
		e.bus.Publish(event.MediaSending{})
	}
	e.bus.Publish(event.LocalVideoFrame{Frame: f})
	e.checkVideoPressure()
	return CodeOK
}

// checkVideoPressure asks the capturer to slow down when the frame source
// starts dropping, at most once per throttle window.
func (e *Engine) checkVideoPressure() {
	_, drops, _, _ := e.source.Counters()
	e.mu.Lock()
	congested := drops > e.lastVideoDrops && time.Since(e.lastRateReq) >= frameRateReqWindow
	if congested {
		e.lastRateReq = time.Now()
	}
	e.lastVideoDrops = drops
	rate := e.videoEnc.FrameRate / 2
	e.mu.Unlock()
	if !congested {
		return
	}
	if rate < minRequestedFrameRate {
		rate = minRequestedFrameRate
	}
	e.bus.Publish(event.FrameRateRequest{FrameRate: rate})
}

// PushAudioFrame injects externally captured PCM.
func (e *Engine) PushAudioFrame(f domain.AudioFrame) Code {
	if len(f.Data) == 0 || f.SampleRate <= 0 || f.Channels < 1 || f.Channels > 2 {
		return CodeInvalidArgument
	}
	if e.session() == nil {
		return CodeNotInChannel
	}
	e.source.PushAudio(f)
	e.relays.PushAudio(f)
	e.bus.Publish(event.LocalAudioData{Frame: f})
	return CodeOK
}

// EnableLastmileTest probes network quality before joining. It cannot run
// during a call.
func (e *Engine) EnableLastmileTest() Code {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.sess != nil {
		return CodeNotSupported
	}
	if e.lastmileCancel != nil {
		return CodeOK
	}
	ctx, cancel := context.WithCancel(e.ctx)
	e.lastmileCancel = cancel
	go e.lastmileProbe(ctx)
	return CodeOK
}

func (e *Engine) DisableLastmileTest() Code {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastmileCancel == nil {
		return CodeOK
	}
	e.lastmileCancel()
	e.lastmileCancel = nil
	return CodeOK
}

// lastmileProbe holds a bare signaling connection and forwards quality
// reports until disabled.
func (e *Engine) lastmileProbe(ctx context.Context) {
	conn, err := e.dialer.Dial(ctx, e.signalAddr())
	if err != nil {
		log.Warn().Str("module", "engine").Err(err).Msg("lastmile dial failed")
		e.bus.Publish(event.NetworkQuality{Quality: domain.QualityDown})
		return
	}
	defer conn.Close()
	if err := conn.TrySend(signal.LastmileMsg{T: signal.TLastmile, Enabled: true}); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			_ = conn.TrySend(signal.LastmileMsg{T: signal.TLastmile, Enabled: false})
			return
		case data, ok := <-conn.Inbound():
			if !ok {
				return
			}
			if signal.PeekType(data) == signal.TQuality {
				var m signal.QualityMsg
				if json.Unmarshal(data, &m) == nil {
					e.bus.Publish(event.NetworkQuality{Quality: domain.NetworkQuality(m.Quality)})
				}
			}
		}
	}
}

// Participants snapshots the remote participant list.
func (e *Engine) Participants() []domain.Participant {
	return e.reg.participants()
}

// RemoteStreams lists the device streams of one participant.
func (e *Engine) RemoteStreams(uid int64) []domain.DeviceStream {
	return e.reg.streams(uid)
}

func (e *Engine) Role() domain.ClientRole { return e.roles.role() }

// --- session support ---

func (e *Engine) session() *session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess
}

func (e *Engine) signalAddr() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.SignalAddr()
}

func (e *Engine) profile() domain.ChannelProfile {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.chanProfile
}

func (e *Engine) localVideoOn() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.videoEnabled
}

func (e *Engine) setState(s domain.ConnectionState) {
	e.mu.Lock()
	if e.state == s {
		e.mu.Unlock()
		return
	}
	e.state = s
	e.mu.Unlock()
	e.bus.Publish(event.ConnectionStateChanged{State: s})
}

// restoreSettings replays local state after a successful rejoin so the
// session looks the way it did before the transport dropped.
func (e *Engine) restoreSettings(sess *session) {
	e.mu.Lock()
	videoEnabled := e.videoEnabled
	audioMuted := e.audioMuted
	dual := e.dualEnabled
	e.mu.Unlock()

	msgs := []any{
		signal.LocalVideoMsg{T: signal.TLocalVideo, Enabled: videoEnabled},
		signal.MuteMsg{T: signal.TLocalAudio, Mute: audioMuted},
		signal.DualMsg{T: signal.TDual, Enabled: dual},
	}
	for _, id := range e.relays.Subscriptions() {
		msgs = append(msgs, signal.ChannelSubMsg{T: signal.TSubChannel, Channel: id})
	}
	for _, m := range msgs {
		if err := sess.send(m); err != nil {
			log.Warn().Str("module", "engine").Err(err).Msg("rejoin restore send failed")
			return
		}
	}
}

// clearSession drops session state after a server-initiated end (kick, join
// failure).
func (e *Engine) clearSession(sess *session) {
	e.mu.Lock()
	if e.sess != sess {
		e.mu.Unlock()
		return
	}
	e.sess = nil
	e.mu.Unlock()
	e.afterSession()
}

func (e *Engine) afterSession() {
	e.stopMediaTransport()
	e.reg.reset()
	e.relays.Reset()
	e.roles.reset(e.roles.role())
	e.stopPlayback()
}

func (e *Engine) codeFromSendErr(err error) Code {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, signal.ErrBackpressure):
		return CodeBackpressure
	default:
		return CodeNotInChannel
	}
}

// generateUID derives a random positive uid.
func generateUID() int64 {
	u := uuid.New()
	id := int64(binary.BigEndian.Uint64(u[:8]) &^ (1 << 63))
	if id == 0 {
		id = 1
	}
	return id
}
