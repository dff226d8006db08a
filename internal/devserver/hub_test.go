package devserver

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pview/rtcengine/internal/domain"
	"github.com/pview/rtcengine/internal/signal"
)

type fakeWS struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeWS() *fakeWS {
	return &fakeWS{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (ws *fakeWS) ReadMessage() (int, []byte, error) {
	select {
	case <-ws.closed:
		return 0, nil, errors.New("closed")
	case data, ok := <-ws.in:
		if !ok {
			return 0, nil, errors.New("closed")
		}
		return 1, data, nil
	}
}

func (ws *fakeWS) WriteMessage(mt int, data []byte) error {
	select {
	case ws.out <- data:
		return nil
	case <-ws.closed:
		return errors.New("closed")
	}
}

func (ws *fakeWS) SetWriteDeadline(t time.Time) error { return nil }

func (ws *fakeWS) Close() error {
	ws.once.Do(func() { close(ws.closed) })
	return nil
}

func (ws *fakeWS) send(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	select {
	case ws.in <- data:
	case <-time.After(time.Second):
		t.Fatal("server stopped reading")
	}
}

// expect reads until a message of the wanted type arrives.
func (ws *fakeWS) expect(t *testing.T, msgType string) []byte {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case data := <-ws.out:
			if signal.PeekType(data) == msgType {
				return data
			}
		case <-deadline:
			t.Fatalf("server never sent %q", msgType)
		}
	}
}

func (ws *fakeWS) expectNone(t *testing.T, msgType string) {
	t.Helper()
	timeout := time.After(50 * time.Millisecond)
	for {
		select {
		case data := <-ws.out:
			if signal.PeekType(data) == msgType {
				t.Fatalf("server sent unexpected %q", msgType)
			}
		case <-timeout:
			return
		}
	}
}

func joinMsg(channel string, uid int64, role domain.ClientRole, profile domain.ChannelProfile) signal.JoinMsg {
	return signal.JoinMsg{
		T:       signal.TJoin,
		Token:   "dev",
		Channel: channel,
		UID:     uid,
		Role:    int(role),
		Profile: int(profile),
	}
}

func TestHubJoinAndPeerVisibility(t *testing.T) {
	hub := NewHub()

	a := newFakeWS()
	go hub.Handle(a)
	a.send(t, joinMsg("42", 1, domain.RoleBroadcaster, domain.ProfileCommunication))
	a.expect(t, signal.TJoined)

	b := newFakeWS()
	go hub.Handle(b)
	b.send(t, joinMsg("42", 2, domain.RoleBroadcaster, domain.ProfileCommunication))
	b.expect(t, signal.TJoined)

	// Existing member announced to the newcomer and vice versa.
	var pj signal.PeerJoinedMsg
	_ = json.Unmarshal(b.expect(t, signal.TPeerJoined), &pj)
	if pj.UID != 1 {
		t.Fatalf("newcomer saw uid %d, want 1", pj.UID)
	}
	_ = json.Unmarshal(a.expect(t, signal.TPeerJoined), &pj)
	if pj.UID != 2 {
		t.Fatalf("existing member saw uid %d, want 2", pj.UID)
	}

	// Disconnect surfaces as dropped.
	b.Close()
	var po signal.PeerOfflineMsg
	_ = json.Unmarshal(a.expect(t, signal.TPeerOffline), &po)
	if po.UID != 2 || po.Reason != int(domain.OfflineDropped) {
		t.Fatalf("offline = %+v", po)
	}
}

func TestHubJoinValidation(t *testing.T) {
	hub := NewHub()

	ws := newFakeWS()
	go hub.Handle(ws)

	ws.send(t, joinMsg("lobby", 1, domain.RoleBroadcaster, domain.ProfileCommunication))
	var je signal.JoinErrorMsg
	_ = json.Unmarshal(ws.expect(t, signal.TJoinError), &je)
	if je.Code != int(domain.ErrInvalidChannelName) {
		t.Fatalf("code = %d", je.Code)
	}

	bad := joinMsg("42", 1, domain.RoleBroadcaster, domain.ProfileCommunication)
	bad.Token = "bad"
	ws.send(t, bad)
	_ = json.Unmarshal(ws.expect(t, signal.TJoinError), &je)
	if je.Code != int(domain.ErrJoinVerifyFailed) {
		t.Fatalf("code = %d", je.Code)
	}

	expired := joinMsg("42", 1, domain.RoleBroadcaster, domain.ProfileCommunication)
	expired.Token = "expired"
	ws.send(t, expired)
	_ = json.Unmarshal(ws.expect(t, signal.TJoinError), &je)
	if je.Code != int(domain.ErrInvalidChannelKey) {
		t.Fatalf("code = %d", je.Code)
	}
}

func TestHubLiveChannelAnchorRules(t *testing.T) {
	hub := NewHub()

	// Audience cannot enter an anchorless live channel.
	aud := newFakeWS()
	go hub.Handle(aud)
	aud.send(t, joinMsg("77", 5, domain.RoleAudience, domain.ProfileLiveBroadcasting))
	var je signal.JoinErrorMsg
	_ = json.Unmarshal(aud.expect(t, signal.TJoinError), &je)
	if je.Code != int(domain.ErrJoinNoAnchor) {
		t.Fatalf("code = %d, want no-anchor", je.Code)
	}

	anchor1 := newFakeWS()
	go hub.Handle(anchor1)
	anchor1.send(t, joinMsg("77", 1, domain.RoleAnchor, domain.ProfileLiveBroadcasting))
	anchor1.expect(t, signal.TJoined)

	// A second anchor displaces the first.
	anchor2 := newFakeWS()
	go hub.Handle(anchor2)
	anchor2.send(t, joinMsg("77", 2, domain.RoleAnchor, domain.ProfileLiveBroadcasting))
	anchor2.expect(t, signal.TJoined)

	var km signal.KickedMsg
	_ = json.Unmarshal(anchor1.expect(t, signal.TKicked), &km)
	if km.Reason != int(domain.KickNewChairEnter) {
		t.Fatalf("kick reason = %d", km.Reason)
	}
}

func TestHubRoleDemotionBroadcastsOffline(t *testing.T) {
	hub := NewHub()

	a := newFakeWS()
	go hub.Handle(a)
	a.send(t, joinMsg("42", 1, domain.RoleBroadcaster, domain.ProfileCommunication))
	a.expect(t, signal.TJoined)

	b := newFakeWS()
	go hub.Handle(b)
	b.send(t, joinMsg("42", 2, domain.RoleBroadcaster, domain.ProfileCommunication))
	b.expect(t, signal.TJoined)
	a.expect(t, signal.TPeerJoined)

	b.send(t, signal.RoleMsg{T: signal.TRole, UID: 2, Role: int(domain.RoleAudience)})

	var rc signal.RoleMsg
	_ = json.Unmarshal(a.expect(t, signal.TRoleChanged), &rc)
	if rc.UID != 2 || rc.Role != int(domain.RoleAudience) {
		t.Fatalf("role change = %+v", rc)
	}
	var po signal.PeerOfflineMsg
	_ = json.Unmarshal(a.expect(t, signal.TPeerOffline), &po)
	if po.UID != 2 || po.Reason != int(domain.OfflineBecomeAudience) {
		t.Fatalf("offline = %+v", po)
	}
	// The requester also learns its confirmed role.
	_ = json.Unmarshal(b.expect(t, signal.TRoleChanged), &rc)
	if rc.UID != 2 {
		t.Fatalf("requester role change = %+v", rc)
	}
}

func TestHubIgnoresAnchorPromotion(t *testing.T) {
	hub := NewHub()

	a := newFakeWS()
	go hub.Handle(a)
	a.send(t, joinMsg("42", 1, domain.RoleBroadcaster, domain.ProfileCommunication))
	a.expect(t, signal.TJoined)

	b := newFakeWS()
	go hub.Handle(b)
	b.send(t, joinMsg("42", 2, domain.RoleBroadcaster, domain.ProfileCommunication))
	b.expect(t, signal.TJoined)
	a.expect(t, signal.TPeerJoined)

	// The anchor seat is claimed at join time; an in-channel promotion
	// request is dropped without a broadcast.
	b.send(t, signal.RoleMsg{T: signal.TRole, UID: 2, Role: int(domain.RoleAnchor)})
	a.expectNone(t, signal.TRoleChanged)
	b.expectNone(t, signal.TRoleChanged)

	// Broadcaster/audience transitions still go through.
	b.send(t, signal.RoleMsg{T: signal.TRole, UID: 2, Role: int(domain.RoleAudience)})
	var rc signal.RoleMsg
	_ = json.Unmarshal(a.expect(t, signal.TRoleChanged), &rc)
	if rc.UID != 2 || rc.Role != int(domain.RoleAudience) {
		t.Fatalf("role change = %+v", rc)
	}
}

func TestHubRenewAndChatRelay(t *testing.T) {
	hub := NewHub()

	a := newFakeWS()
	go hub.Handle(a)
	a.send(t, joinMsg("42", 1, domain.RoleBroadcaster, domain.ProfileCommunication))
	a.expect(t, signal.TJoined)

	b := newFakeWS()
	go hub.Handle(b)
	b.send(t, joinMsg("42", 2, domain.RoleBroadcaster, domain.ProfileCommunication))
	b.expect(t, signal.TJoined)

	a.send(t, signal.RenewMsg{T: signal.TRenew, Token: "fresh"})
	var rr signal.RenewResultMsg
	_ = json.Unmarshal(a.expect(t, signal.TRenewResult), &rr)
	if !rr.OK {
		t.Fatal("valid renew rejected")
	}

	a.send(t, signal.RenewMsg{T: signal.TRenew, Token: "bad"})
	_ = json.Unmarshal(a.expect(t, signal.TRenewResult), &rr)
	if rr.OK {
		t.Fatal("bad renew accepted")
	}

	a.send(t, signal.ChatMsg{T: signal.TChat, ChatType: int(domain.ChatText), SeqID: "s1", Data: "hi"})
	var cm signal.ChatMsg
	_ = json.Unmarshal(b.expect(t, signal.TChat), &cm)
	if cm.UID != 1 || cm.Data != "hi" {
		t.Fatalf("chat relay = %+v", cm)
	}
	// The sender does not hear its own chat back.
	a.expectNone(t, signal.TChat)
}

func TestHubChannelSubscription(t *testing.T) {
	hub := NewHub()

	anchor := newFakeWS()
	go hub.Handle(anchor)
	anchor.send(t, joinMsg("9", 100, domain.RoleAnchor, domain.ProfileLiveBroadcasting))
	anchor.expect(t, signal.TJoined)

	sub := newFakeWS()
	go hub.Handle(sub)
	sub.send(t, joinMsg("42", 1, domain.RoleBroadcaster, domain.ProfileCommunication))
	sub.expect(t, signal.TJoined)

	sub.send(t, signal.ChannelSubMsg{T: signal.TSubChannel, Channel: 9})
	var pj signal.PeerJoinedMsg
	_ = json.Unmarshal(sub.expect(t, signal.TPeerJoined), &pj)
	if pj.UID != 100 || !pj.Synthetic || pj.SourceChannel != 9 {
		t.Fatalf("synthetic peer = %+v", pj)
	}

	sub.send(t, signal.ChannelSubMsg{T: signal.TUnsubChannel, Channel: 9})
	var po signal.PeerOfflineMsg
	_ = json.Unmarshal(sub.expect(t, signal.TPeerOffline), &po)
	if po.UID != 100 {
		t.Fatalf("synthetic offline = %+v", po)
	}
}

func TestHubAnchorExitEndsSubscriptions(t *testing.T) {
	hub := NewHub()

	anchor := newFakeWS()
	go hub.Handle(anchor)
	anchor.send(t, joinMsg("9", 100, domain.RoleAnchor, domain.ProfileLiveBroadcasting))
	anchor.expect(t, signal.TJoined)

	sub := newFakeWS()
	go hub.Handle(sub)
	sub.send(t, joinMsg("42", 1, domain.RoleBroadcaster, domain.ProfileCommunication))
	sub.expect(t, signal.TJoined)

	sub.send(t, signal.ChannelSubMsg{T: signal.TSubChannel, Channel: 9})
	sub.expect(t, signal.TPeerJoined)

	// The anchor leaving its own channel retires the synthetic participant
	// in every subscribing channel.
	anchor.Close()
	var po signal.PeerOfflineMsg
	_ = json.Unmarshal(sub.expect(t, signal.TPeerOffline), &po)
	if po.UID != 100 || po.Reason != int(domain.OfflineQuit) {
		t.Fatalf("synthetic offline = %+v", po)
	}

	// The subscription is gone; an explicit unsubscribe is a no-op.
	sub.send(t, signal.ChannelSubMsg{T: signal.TUnsubChannel, Channel: 9})
	sub.expectNone(t, signal.TPeerOffline)
}
