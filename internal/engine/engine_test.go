package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pview/rtcengine/internal/config"
	"github.com/pview/rtcengine/internal/domain"
	"github.com/pview/rtcengine/internal/engine/relay"
	"github.com/pview/rtcengine/internal/event"
	"github.com/pview/rtcengine/internal/signal"
)

// fakeConn is a scripted signaling connection: tests inspect what the engine
// sent and inject server messages into the inbound channel.
type fakeConn struct {
	mu      sync.Mutex
	sent    [][]byte
	sendErr error
	inbound chan []byte
	once    sync.Once
	tx      uint64
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 64)}
}

func (c *fakeConn) TrySend(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.sent = append(c.sent, data)
	c.tx += uint64(len(data))
	return nil
}

func (c *fakeConn) Inbound() <-chan []byte { return c.inbound }

func (c *fakeConn) Close() { c.once.Do(func() { close(c.inbound) }) }

// drop simulates the server side going away.
func (c *fakeConn) drop() { c.Close() }

func (c *fakeConn) Counters() (uint64, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tx, 0
}

func (c *fakeConn) deliver(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	c.inbound <- data
}

// waitSent polls for the first sent message of one wire type after offset,
// returning the raw bytes and the next offset.
func (c *fakeConn) waitSent(t *testing.T, msgType string, offset int) ([]byte, int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		for i := offset; i < len(c.sent); i++ {
			if signal.PeekType(c.sent[i]) == msgType {
				data := c.sent[i]
				c.mu.Unlock()
				return data, i + 1
			}
		}
		c.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("engine never sent %q", msgType)
	return nil, 0
}

func (c *fakeConn) countSent(msgType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, data := range c.sent {
		if signal.PeekType(data) == msgType {
			n++
		}
	}
	return n
}

type fakeDialer struct {
	mu      sync.Mutex
	conns   []*fakeConn
	dialErr error
}

func (d *fakeDialer) Dial(ctx context.Context, addr string) (signal.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) waitConn(t *testing.T, n int) *fakeConn {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		d.mu.Lock()
		if len(d.conns) >= n {
			c := d.conns[n-1]
			d.mu.Unlock()
			return c
		}
		d.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("dial %d never happened", n)
	return nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.ReconnectBackoff = 10 * time.Millisecond
	cfg.StatsInterval = time.Hour
	return cfg
}

func newTestEngine(t *testing.T, cfg *config.Config) (*Engine, *fakeDialer) {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	d := &fakeDialer{}
	eng := New(cfg, WithDialer(d), WithSinkDialer(func(ctx context.Context, url string) (relay.Sink, error) {
		return nopSink{}, nil
	}))
	t.Cleanup(eng.Close)
	return eng, d
}

type nopSink struct{}

func (nopSink) WriteVideo(int64, []byte) error { return nil }
func (nopSink) WriteAudio(int64, []byte) error { return nil }
func (nopSink) Close() error                   { return nil }

func collect(eng *Engine, k event.Kind) <-chan event.Event {
	ch := make(chan event.Event, 32)
	eng.On(k, func(ev event.Event) { ch <- ev })
	return ch
}

func waitEvent(t *testing.T, ch <-chan event.Event) event.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func expectNoEvent(t *testing.T, ch <-chan event.Event) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %T", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

// joinChannel drives a full join handshake and returns the live connection.
func joinChannel(t *testing.T, eng *Engine, d *fakeDialer, uid int64) *fakeConn {
	t.Helper()
	if code := eng.Join("tok", "42", uid, nil); code != CodeOK {
		t.Fatalf("join returned %d", code)
	}
	conn := d.waitConn(t, 1)
	conn.waitSent(t, signal.TJoin, 0)
	conn.deliver(t, signal.JoinedMsg{T: signal.TJoined, Channel: "42", UID: uid, TokenTTL: 3600})
	waitState(t, eng, domain.StateConnected)
	return conn
}

func waitState(t *testing.T, eng *Engine, want domain.ConnectionState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if eng.GetConnectionState() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %v, want %v", eng.GetConnectionState(), want)
}

func TestJoinSuccessHookSuppressesBroadcast(t *testing.T) {
	eng, d := newTestEngine(t, nil)
	broadcast := collect(eng, event.KindJoinSuccess)

	hooked := make(chan int64, 1)
	if code := eng.Join("tok", "42", 7, func(channel string, uid int64, elapsed time.Duration) {
		if channel != "42" {
			t.Errorf("hook channel = %q", channel)
		}
		hooked <- uid
	}); code != CodeOK {
		t.Fatalf("join returned %d", code)
	}

	conn := d.waitConn(t, 1)
	raw, _ := conn.waitSent(t, signal.TJoin, 0)
	var jm signal.JoinMsg
	if err := json.Unmarshal(raw, &jm); err != nil {
		t.Fatalf("unmarshal join: %v", err)
	}
	if jm.Channel != "42" || jm.UID != 7 || jm.Token != "tok" || jm.Rejoin {
		t.Fatalf("join msg = %+v", jm)
	}

	conn.deliver(t, signal.JoinedMsg{T: signal.TJoined, Channel: "42", UID: 7, TokenTTL: 3600})

	select {
	case uid := <-hooked:
		if uid != 7 {
			t.Fatalf("hook uid = %d", uid)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("join hook never fired")
	}
	expectNoEvent(t, broadcast)
	waitState(t, eng, domain.StateConnected)

	if code := eng.Join("tok", "43", 8, nil); code != CodeAlreadyInChannel {
		t.Fatalf("second join returned %d", code)
	}
}

func TestJoinRejectsInvalidChannelName(t *testing.T) {
	eng, _ := newTestEngine(t, nil)
	errs := collect(eng, event.KindError)

	if code := eng.Join("tok", "lobby", 1, nil); code != CodeInvalidArgument {
		t.Fatalf("join returned %d", code)
	}
	ev := waitEvent(t, errs).(event.Error)
	if ev.Code != domain.ErrInvalidChannelName {
		t.Fatalf("error code = %v", ev.Code)
	}
	if code := eng.Join("tok", "", 1, nil); code != CodeInvalidArgument {
		t.Fatalf("empty channel returned %d", code)
	}
	if code := eng.Join("tok", "42", -1, nil); code != CodeInvalidArgument {
		t.Fatalf("negative uid returned %d", code)
	}
}

func TestJoinErrorFromServer(t *testing.T) {
	eng, d := newTestEngine(t, nil)
	errs := collect(eng, event.KindError)

	if code := eng.Join("bad", "42", 7, nil); code != CodeOK {
		t.Fatalf("join returned %d", code)
	}
	conn := d.waitConn(t, 1)
	conn.waitSent(t, signal.TJoin, 0)
	conn.deliver(t, signal.JoinErrorMsg{T: signal.TJoinError, Code: int(domain.ErrJoinVerifyFailed)})

	ev := waitEvent(t, errs).(event.Error)
	if ev.Code != domain.ErrJoinVerifyFailed {
		t.Fatalf("error code = %v", ev.Code)
	}
	// A rejected join returns to Disconnected; Failed is reserved for the
	// reconnect window expiring.
	waitState(t, eng, domain.StateDisconnected)
	if code := eng.Leave(nil); code != CodeNotInChannel {
		t.Fatalf("leave after failed join returned %d", code)
	}
}

func TestTransportDropBeforeJoinAck(t *testing.T) {
	eng, d := newTestEngine(t, nil)
	errs := collect(eng, event.KindError)
	lost := collect(eng, event.KindConnectionLost)

	if code := eng.Join("tok", "42", 7, nil); code != CodeOK {
		t.Fatalf("join returned %d", code)
	}
	conn := d.waitConn(t, 1)
	conn.waitSent(t, signal.TJoin, 0)
	conn.drop()

	ev := waitEvent(t, errs).(event.Error)
	if ev.Code != domain.ErrJoinConnectFailed {
		t.Fatalf("error code = %v", ev.Code)
	}
	waitState(t, eng, domain.StateDisconnected)
	// No reconnect attempt was ever in flight.
	expectNoEvent(t, lost)
	d.mu.Lock()
	dials := len(d.conns)
	d.mu.Unlock()
	if dials != 1 {
		t.Fatalf("%d dials after pre-ack drop, want 1", dials)
	}

	// The engine is reusable after the failure.
	if code := eng.Join("tok", "42", 7, nil); code != CodeOK {
		t.Fatalf("rejoin returned %d", code)
	}
}

func TestLeaveDeliversStatsExactlyOnce(t *testing.T) {
	eng, d := newTestEngine(t, nil)
	broadcast := collect(eng, event.KindLeaveChannel)
	joinChannel(t, eng, d, 7)

	statsCh := make(chan domain.ChannelStats, 2)
	if code := eng.Leave(func(stats domain.ChannelStats) { statsCh <- stats }); code != CodeOK {
		t.Fatalf("leave returned %d", code)
	}

	select {
	case stats := <-statsCh:
		if stats.Users < 1 {
			t.Fatalf("stats users = %d", stats.Users)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("leave hook never fired")
	}
	expectNoEvent(t, broadcast)

	select {
	case <-statsCh:
		t.Fatal("leave stats delivered twice")
	case <-time.After(50 * time.Millisecond):
	}

	if code := eng.Leave(nil); code != CodeNotInChannel {
		t.Fatalf("second leave returned %d", code)
	}
	if eng.GetConnectionState() != domain.StateDisconnected {
		t.Fatalf("state after leave = %v", eng.GetConnectionState())
	}
}

func TestRoleTransitionsSettleInRequestOrder(t *testing.T) {
	eng, d := newTestEngine(t, nil)
	roleEvents := collect(eng, event.KindRoleChanged)
	conn := joinChannel(t, eng, d, 7)

	if code := eng.SetClientRole(domain.RoleAudience); code != CodeOK {
		t.Fatalf("first role request returned %d", code)
	}
	if code := eng.SetClientRole(domain.RoleBroadcaster); code != CodeOK {
		t.Fatalf("queued role request returned %d", code)
	}

	// Only one request on the wire until the first confirmation.
	raw, next := conn.waitSent(t, signal.TRole, 0)
	var rm signal.RoleMsg
	_ = json.Unmarshal(raw, &rm)
	if rm.Role != int(domain.RoleAudience) {
		t.Fatalf("first wire role = %d", rm.Role)
	}
	if n := conn.countSent(signal.TRole); n != 1 {
		t.Fatalf("%d role messages on wire before confirm", n)
	}

	conn.deliver(t, signal.RoleMsg{T: signal.TRoleChanged, UID: 7, Role: int(domain.RoleAudience)})
	ev := waitEvent(t, roleEvents).(event.RoleChanged)
	if ev.Role != domain.RoleAudience {
		t.Fatalf("first settle role = %v", ev.Role)
	}

	// Confirmation releases the queued request.
	raw, _ = conn.waitSent(t, signal.TRole, next)
	_ = json.Unmarshal(raw, &rm)
	if rm.Role != int(domain.RoleBroadcaster) {
		t.Fatalf("second wire role = %d", rm.Role)
	}
	conn.deliver(t, signal.RoleMsg{T: signal.TRoleChanged, UID: 7, Role: int(domain.RoleBroadcaster)})
	ev = waitEvent(t, roleEvents).(event.RoleChanged)
	if ev.Role != domain.RoleBroadcaster {
		t.Fatalf("second settle role = %v", ev.Role)
	}
	if eng.Role() != domain.RoleBroadcaster {
		t.Fatalf("settled role = %v, want last requested", eng.Role())
	}
}

func TestAnchorNotGrantableAfterLiveJoin(t *testing.T) {
	cfg := testConfig()
	cfg.ChannelProfile = int(domain.ProfileLiveBroadcasting)
	eng, d := newTestEngine(t, cfg)
	joinChannel(t, eng, d, 7)

	if code := eng.SetClientRole(domain.RoleAnchor); code != CodeNotSupported {
		t.Fatalf("anchor grant after live join returned %d", code)
	}
}

func TestAnchorNotGrantableAfterJoinAnyProfile(t *testing.T) {
	eng, d := newTestEngine(t, nil)
	conn := joinChannel(t, eng, d, 7)

	// The default profile is communication; the anchor seat is still only
	// claimable at join time.
	if code := eng.SetClientRole(domain.RoleAnchor); code != CodeNotSupported {
		t.Fatalf("anchor grant after join returned %d", code)
	}
	if n := conn.countSent(signal.TRole); n != 0 {
		t.Fatalf("%d role messages on wire after rejected grant", n)
	}
	// Broadcaster/audience transitions still work.
	if code := eng.SetClientRole(domain.RoleAudience); code != CodeOK {
		t.Fatalf("audience request returned %d", code)
	}
	conn.waitSent(t, signal.TRole, 0)
}

func TestKickEndsSession(t *testing.T) {
	eng, d := newTestEngine(t, nil)
	kicked := collect(eng, event.KindKicked)
	conn := joinChannel(t, eng, d, 7)

	conn.deliver(t, signal.KickedMsg{T: signal.TKicked, UID: 7, Reason: int(domain.KickNewChairEnter)})

	ev := waitEvent(t, kicked).(event.Kicked)
	if ev.Reason != domain.KickNewChairEnter {
		t.Fatalf("kick reason = %v", ev.Reason)
	}
	waitState(t, eng, domain.StateDisconnected)
	if code := eng.Leave(nil); code != CodeNotInChannel {
		t.Fatalf("leave after kick returned %d", code)
	}
}

func TestRenewRejectionKeepsConnectionState(t *testing.T) {
	eng, d := newTestEngine(t, nil)
	errs := collect(eng, event.KindError)
	states := collect(eng, event.KindConnectionStateChanged)
	conn := joinChannel(t, eng, d, 7)
	// Consume the Connecting and Connected transitions from the join.
	waitEvent(t, states)
	waitEvent(t, states)

	if code := eng.RenewToken("stale"); code != CodeOK {
		t.Fatalf("renew returned %d", code)
	}
	conn.waitSent(t, signal.TRenew, 0)
	conn.deliver(t, signal.RenewResultMsg{T: signal.TRenewResult, OK: false})

	ev := waitEvent(t, errs).(event.Error)
	if ev.Code != domain.ErrInvalidChannelKey {
		t.Fatalf("error code = %v", ev.Code)
	}
	expectNoEvent(t, states)
	if eng.GetConnectionState() != domain.StateConnected {
		t.Fatalf("state after rejected renew = %v", eng.GetConnectionState())
	}
}

func TestReconnectRestoresLocalSettings(t *testing.T) {
	eng, d := newTestEngine(t, nil)
	lost := collect(eng, event.KindConnectionLost)
	resumed := collect(eng, event.KindReconnectSucceeded)
	conn1 := joinChannel(t, eng, d, 7)

	eng.EnableLocalVideo(true)
	eng.MuteLocalAudio(true)
	eng.EnableDualStream(true)
	conn1.waitSent(t, signal.TDual, 0)

	conn1.drop()
	waitEvent(t, lost)
	waitState(t, eng, domain.StateReconnecting)

	conn2 := d.waitConn(t, 2)
	raw, _ := conn2.waitSent(t, signal.TJoin, 0)
	var jm signal.JoinMsg
	_ = json.Unmarshal(raw, &jm)
	if !jm.Rejoin {
		t.Fatal("reconnect join not flagged as rejoin")
	}
	conn2.deliver(t, signal.JoinedMsg{T: signal.TJoined, Channel: "42", UID: 7, TokenTTL: 3600})

	waitEvent(t, resumed)
	waitState(t, eng, domain.StateConnected)

	// Local state replayed on the fresh transport.
	raw, _ = conn2.waitSent(t, signal.TLocalVideo, 0)
	var lv signal.LocalVideoMsg
	_ = json.Unmarshal(raw, &lv)
	if !lv.Enabled {
		t.Fatal("local video state not restored")
	}
	raw, _ = conn2.waitSent(t, signal.TLocalAudio, 0)
	var mm signal.MuteMsg
	_ = json.Unmarshal(raw, &mm)
	if !mm.Mute {
		t.Fatal("local audio mute not restored")
	}
	conn2.waitSent(t, signal.TDual, 0)
}

func TestMuteRemoteVideoNotifiesLocally(t *testing.T) {
	eng, d := newTestEngine(t, nil)
	conn := joinChannel(t, eng, d, 7)
	joined := collect(eng, event.KindParticipantJoined)
	enabled := collect(eng, event.KindVideoEnabled)
	deviceEnabled := collect(eng, event.KindVideoDeviceEnabled)

	conn.deliver(t, signal.PeerJoinedMsg{T: signal.TPeerJoined, UID: 100, Role: 2, VideoEnabled: true})
	waitEvent(t, joined)

	if code := eng.MuteRemoteVideo(100, "", true); code != CodeOK {
		t.Fatalf("mute returned %d", code)
	}
	ev := waitEvent(t, enabled).(event.VideoEnabled)
	if ev.UID != 100 || ev.Enabled {
		t.Fatalf("video enabled after mute = %+v", ev)
	}
	dev := waitEvent(t, deviceEnabled).(event.VideoDeviceEnabled)
	if dev.UID != 100 || dev.Enabled {
		t.Fatalf("device enabled after mute = %+v", dev)
	}
	conn.waitSent(t, signal.TMuteVideo, 0)

	if code := eng.MuteRemoteVideo(100, "", false); code != CodeOK {
		t.Fatalf("unmute returned %d", code)
	}
	ev = waitEvent(t, enabled).(event.VideoEnabled)
	if ev.UID != 100 || !ev.Enabled {
		t.Fatalf("video enabled after unmute = %+v", ev)
	}
	dev = waitEvent(t, deviceEnabled).(event.VideoDeviceEnabled)
	if !dev.Enabled {
		t.Fatalf("device enabled after unmute = %+v", dev)
	}
}

func TestMuteAllRemoteVideoNotifiesPerPeer(t *testing.T) {
	eng, d := newTestEngine(t, nil)
	conn := joinChannel(t, eng, d, 7)
	joined := collect(eng, event.KindParticipantJoined)
	enabled := collect(eng, event.KindVideoEnabled)

	conn.deliver(t, signal.PeerJoinedMsg{T: signal.TPeerJoined, UID: 100, Role: 2, VideoEnabled: true})
	conn.deliver(t, signal.PeerJoinedMsg{T: signal.TPeerJoined, UID: 101, Role: 2, VideoEnabled: true})
	waitEvent(t, joined)
	waitEvent(t, joined)

	if code := eng.MuteAllRemoteVideo(true); code != CodeOK {
		t.Fatalf("mute all returned %d", code)
	}
	seen := map[int64]bool{}
	for i := 0; i < 2; i++ {
		ev := waitEvent(t, enabled).(event.VideoEnabled)
		if ev.Enabled {
			t.Fatalf("video still enabled for %d", ev.UID)
		}
		seen[ev.UID] = true
	}
	if !seen[100] || !seen[101] {
		t.Fatalf("notified uids = %v", seen)
	}
}

func TestReconnectWindowExpires(t *testing.T) {
	cfg := testConfig()
	cfg.SignalTimeout = 150 * time.Millisecond
	eng, d := newTestEngine(t, cfg)
	timeouts := collect(eng, event.KindReconnectTimeout)
	conn := joinChannel(t, eng, d, 7)

	d.mu.Lock()
	d.dialErr = errors.New("refused")
	d.mu.Unlock()

	conn.drop()
	waitEvent(t, timeouts)
	waitState(t, eng, domain.StateFailed)
}

func TestLeaveAfterReconnectTimeoutDeliversStats(t *testing.T) {
	cfg := testConfig()
	cfg.SignalTimeout = 150 * time.Millisecond
	eng, d := newTestEngine(t, cfg)
	timeouts := collect(eng, event.KindReconnectTimeout)
	broadcast := collect(eng, event.KindLeaveChannel)
	conn := joinChannel(t, eng, d, 7)

	d.mu.Lock()
	d.dialErr = errors.New("refused")
	d.mu.Unlock()
	conn.drop()
	waitEvent(t, timeouts)
	waitState(t, eng, domain.StateFailed)

	// The session ended internally, but the caller still gets its stats
	// snapshot from the explicit leave.
	statsCh := make(chan domain.ChannelStats, 2)
	if code := eng.Leave(func(stats domain.ChannelStats) { statsCh <- stats }); code != CodeOK {
		t.Fatalf("leave after timeout returned %d", code)
	}
	select {
	case stats := <-statsCh:
		if stats.Users < 1 {
			t.Fatalf("stats users = %d", stats.Users)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("leave hook never fired after reconnect timeout")
	}
	expectNoEvent(t, broadcast)

	if code := eng.Leave(nil); code != CodeNotInChannel {
		t.Fatalf("second leave returned %d", code)
	}
	select {
	case <-statsCh:
		t.Fatal("leave stats delivered twice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMuteAllAffectsSnapshotOnly(t *testing.T) {
	eng, d := newTestEngine(t, nil)
	conn := joinChannel(t, eng, d, 7)
	joined := collect(eng, event.KindParticipantJoined)

	conn.deliver(t, signal.PeerJoinedMsg{T: signal.TPeerJoined, UID: 100, Role: 2})
	conn.deliver(t, signal.PeerJoinedMsg{T: signal.TPeerJoined, UID: 101, Role: 2})
	waitEvent(t, joined)
	waitEvent(t, joined)

	if code := eng.MuteAllRemoteAudio(true); code != CodeOK {
		t.Fatalf("mute all returned %d", code)
	}
	if n := conn.countSent(signal.TMuteAudio); n != 2 {
		t.Fatalf("%d mute messages, want 2", n)
	}

	conn.deliver(t, signal.PeerJoinedMsg{T: signal.TPeerJoined, UID: 102, Role: 2})
	waitEvent(t, joined)
	for _, p := range eng.Participants() {
		if p.UID == 102 && p.AudioMuted {
			t.Fatal("late joiner inherited bulk mute")
		}
	}
}

func TestSendFailuresMapToCodes(t *testing.T) {
	eng, d := newTestEngine(t, nil)
	conn := joinChannel(t, eng, d, 7)

	if _, code := eng.SendSignal(0, "hello"); code != CodeOK {
		t.Fatalf("send signal returned %d", code)
	}

	conn.mu.Lock()
	conn.sendErr = signal.ErrBackpressure
	conn.mu.Unlock()
	if code := eng.SendChat(domain.ChatInfo{Type: domain.ChatText, Data: "hi"}); code != CodeBackpressure {
		t.Fatalf("chat under backpressure returned %d", code)
	}

	if code := eng.SendChat(domain.ChatInfo{Type: 0}); code != CodeInvalidArgument {
		t.Fatalf("bad chat type returned %d", code)
	}
	if code := eng.InsertSEI(""); code != CodeInvalidArgument {
		t.Fatalf("empty sei returned %d", code)
	}
}

func TestPeerOfflineReasons(t *testing.T) {
	eng, d := newTestEngine(t, nil)
	conn := joinChannel(t, eng, d, 7)
	joined := collect(eng, event.KindParticipantJoined)
	offline := collect(eng, event.KindParticipantOffline)

	conn.deliver(t, signal.PeerJoinedMsg{T: signal.TPeerJoined, UID: 100, Role: 2, VideoEnabled: true})
	waitEvent(t, joined)

	conn.deliver(t, signal.PeerOfflineMsg{T: signal.TPeerOffline, UID: 100, Reason: int(domain.OfflineBecomeAudience)})
	ev := waitEvent(t, offline).(event.ParticipantOffline)
	if ev.Reason != domain.OfflineBecomeAudience {
		t.Fatalf("offline reason = %v", ev.Reason)
	}
	if len(eng.Participants()) != 0 {
		t.Fatal("offline peer still registered")
	}

	// Unknown uid: no event.
	conn.deliver(t, signal.PeerOfflineMsg{T: signal.TPeerOffline, UID: 999, Reason: 1})
	expectNoEvent(t, offline)
}

func TestTokenExpiryWarning(t *testing.T) {
	cfg := testConfig()
	cfg.TokenWarnFloor = 50 * time.Millisecond
	cfg.TokenWarnCap = 100 * time.Millisecond
	eng, d := newTestEngine(t, cfg)
	warnings := collect(eng, event.KindTokenExpiring)

	if code := eng.Join("tok", "42", 7, nil); code != CodeOK {
		t.Fatalf("join returned %d", code)
	}
	conn := d.waitConn(t, 1)
	conn.waitSent(t, signal.TJoin, 0)
	conn.deliver(t, signal.JoinedMsg{T: signal.TJoined, Channel: "42", UID: 7, TokenTTL: 1})

	ev := waitEvent(t, warnings).(event.TokenExpiring)
	if ev.Token != "tok" {
		t.Fatalf("warning token = %q", ev.Token)
	}
}

func TestTokenWarningReportsRenewedKey(t *testing.T) {
	cfg := testConfig()
	cfg.TokenWarnFloor = 50 * time.Millisecond
	cfg.TokenWarnCap = 100 * time.Millisecond
	eng, d := newTestEngine(t, cfg)
	warnings := collect(eng, event.KindTokenExpiring)

	if code := eng.Join("tok", "42", 7, nil); code != CodeOK {
		t.Fatalf("join returned %d", code)
	}
	conn := d.waitConn(t, 1)
	conn.waitSent(t, signal.TJoin, 0)
	conn.deliver(t, signal.JoinedMsg{T: signal.TJoined, Channel: "42", UID: 7, TokenTTL: 1})
	waitState(t, eng, domain.StateConnected)

	// Renewed before the armed warning fires: the warning names the key in
	// use, not the one the timer was armed with.
	if code := eng.RenewToken("fresh"); code != CodeOK {
		t.Fatalf("renew returned %d", code)
	}
	conn.waitSent(t, signal.TRenew, 0)

	ev := waitEvent(t, warnings).(event.TokenExpiring)
	if ev.Token != "fresh" {
		t.Fatalf("warning token = %q, want renewed key", ev.Token)
	}
}

func TestOperationsOutsideChannel(t *testing.T) {
	eng, _ := newTestEngine(t, nil)

	if code := eng.RenewToken("x"); code != CodeNotInChannel {
		t.Fatalf("renew = %d", code)
	}
	if code := eng.MuteRemoteAudio(1, true); code != CodeNotInChannel {
		t.Fatalf("mute remote = %d", code)
	}
	if code := eng.AddPublishTarget("rtmp://cdn/live/a"); code != CodeNotInChannel {
		t.Fatalf("add publish = %d", code)
	}
	if code := eng.SubscribeChannel(9); code != CodeNotInChannel {
		t.Fatalf("subscribe = %d", code)
	}
	// Pre-join local settings succeed and take effect at join time.
	if code := eng.EnableLocalVideo(true); code != CodeOK {
		t.Fatalf("enable video = %d", code)
	}
	if code := eng.SetClientRole(domain.RoleAudience); code != CodeOK {
		t.Fatalf("pre-join role = %d", code)
	}
	if eng.Role() != domain.RoleAudience {
		t.Fatalf("pre-join role not applied: %v", eng.Role())
	}
}

func TestSetSignalTimeoutClamps(t *testing.T) {
	cfg := testConfig()
	eng, _ := newTestEngine(t, cfg)

	if code := eng.SetSignalTimeout(5 * time.Second); code != CodeOK {
		t.Fatalf("set timeout = %d", code)
	}
	if cfg.SignalTimeout != 20*time.Second {
		t.Fatalf("timeout = %v, want clamped 20s", cfg.SignalTimeout)
	}
	if code := eng.SetSignalTimeout(0); code != CodeInvalidArgument {
		t.Fatalf("zero timeout = %d", code)
	}
}

func TestAudioMixingLifecycle(t *testing.T) {
	eng, d := newTestEngine(t, nil)
	started := collect(eng, event.KindAudioMixingStarted)
	finished := collect(eng, event.KindAudioMixingFinished)

	if code := eng.StartAudioMixing("bgm.mp3", false, -1); code != CodeNotInChannel {
		t.Fatalf("mixing outside channel = %d", code)
	}
	joinChannel(t, eng, d, 7)

	if code := eng.StartAudioMixing("", false, -1); code != CodeInvalidArgument {
		t.Fatalf("empty path = %d", code)
	}
	if code := eng.StartAudioMixing("bgm.mp3", false, -1); code != CodeOK {
		t.Fatalf("start mixing = %d", code)
	}
	waitEvent(t, started)

	// Restart finishes the running mix before starting the new one.
	if code := eng.StartAudioMixing("other.mp3", false, 1); code != CodeOK {
		t.Fatalf("restart mixing = %d", code)
	}
	waitEvent(t, finished)
	waitEvent(t, started)

	if code := eng.StopAudioMixing(); code != CodeOK {
		t.Fatalf("stop mixing = %d", code)
	}
	waitEvent(t, finished)
	if code := eng.StopAudioMixing(); code != CodeInvalidArgument {
		t.Fatalf("second stop = %d", code)
	}
}

func TestEffectsFinishOnLeave(t *testing.T) {
	eng, d := newTestEngine(t, nil)
	effects := collect(eng, event.KindAudioEffectFinished)
	mixFinished := collect(eng, event.KindAudioMixingFinished)
	joinChannel(t, eng, d, 7)

	if code := eng.PlayEffect(3, "clap.wav"); code != CodeOK {
		t.Fatalf("play effect = %d", code)
	}
	if code := eng.PlayEffect(3, "clap.wav"); code != CodeInvalidArgument {
		t.Fatalf("duplicate effect id = %d", code)
	}
	if code := eng.StartAudioMixing("bgm.mp3", false, -1); code != CodeOK {
		t.Fatalf("start mixing = %d", code)
	}

	if code := eng.Leave(nil); code != CodeOK {
		t.Fatalf("leave = %d", code)
	}
	ev := waitEvent(t, effects).(event.AudioEffectFinished)
	if ev.SoundID != 3 {
		t.Fatalf("finished sound id = %d", ev.SoundID)
	}
	waitEvent(t, mixFinished)

	if code := eng.StopEffect(3); code != CodeInvalidArgument {
		t.Fatalf("stop after leave = %d", code)
	}
}

func TestSpeakerphoneRouteEvents(t *testing.T) {
	eng, _ := newTestEngine(t, nil)
	routes := collect(eng, event.KindAudioRouteChanged)

	if code := eng.SetEnableSpeakerphone(true); code != CodeOK {
		t.Fatalf("enable speakerphone = %d", code)
	}
	ev := waitEvent(t, routes).(event.AudioRouteChanged)
	if ev.Route != domain.RouteSpeakerphone {
		t.Fatalf("route = %v", ev.Route)
	}
	if !eng.IsSpeakerphoneEnabled() {
		t.Fatal("speakerphone not reported enabled")
	}

	// No event without a state change.
	if code := eng.SetEnableSpeakerphone(true); code != CodeOK {
		t.Fatalf("re-enable = %d", code)
	}
	expectNoEvent(t, routes)

	if code := eng.SetEnableSpeakerphone(false); code != CodeOK {
		t.Fatalf("disable = %d", code)
	}
	ev = waitEvent(t, routes).(event.AudioRouteChanged)
	if ev.Route != domain.RouteEarpiece {
		t.Fatalf("route = %v", ev.Route)
	}
}

func TestFrameRateRequestOnSourcePressure(t *testing.T) {
	eng, d := newTestEngine(t, nil)
	requests := collect(eng, event.KindFrameRateRequest)
	joinChannel(t, eng, d, 7)

	frame := func() *domain.VideoFrame {
		return &domain.VideoFrame{Format: domain.FrameFormatI420, Data: []byte{1, 2, 3}, StrideInPixels: 4, Height: 4}
	}
	for i := 0; i < 40; i++ {
		if code := eng.PushVideoFrame(frame()); code != CodeOK {
			t.Fatalf("push %d returned %d", i, code)
		}
	}

	ev := waitEvent(t, requests).(event.FrameRateRequest)
	if ev.FrameRate < minRequestedFrameRate {
		t.Fatalf("requested frame rate = %d", ev.FrameRate)
	}
	// Further drops inside the throttle window stay silent.
	for i := 0; i < 10; i++ {
		eng.PushVideoFrame(frame())
	}
	expectNoEvent(t, requests)
}

func TestChannelSubscription(t *testing.T) {
	eng, d := newTestEngine(t, nil)
	conn := joinChannel(t, eng, d, 7)
	joined := collect(eng, event.KindParticipantJoined)
	offline := collect(eng, event.KindParticipantOffline)

	if code := eng.SubscribeChannel(9); code != CodeOK {
		t.Fatalf("subscribe = %d", code)
	}
	if code := eng.SubscribeChannel(9); code != CodeInvalidArgument {
		t.Fatalf("double subscribe = %d", code)
	}
	conn.waitSent(t, signal.TSubChannel, 0)

	conn.deliver(t, signal.PeerJoinedMsg{T: signal.TPeerJoined, UID: 900, Role: 1, Synthetic: true, SourceChannel: 9})
	waitEvent(t, joined)

	if code := eng.UnsubscribeChannel(9); code != CodeOK {
		t.Fatalf("unsubscribe = %d", code)
	}
	ev := waitEvent(t, offline).(event.ParticipantOffline)
	if ev.UID != 900 {
		t.Fatalf("synthetic removal uid = %d", ev.UID)
	}
}
