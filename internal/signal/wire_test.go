package signal

import (
	"encoding/json"
	"testing"
)

func TestPeekType(t *testing.T) {
	data, _ := json.Marshal(JoinMsg{T: TJoin, Channel: "42", UID: 7})
	if got := PeekType(data); got != TJoin {
		t.Fatalf("PeekType = %q, want %q", got, TJoin)
	}
	if got := PeekType([]byte("not json")); got != "" {
		t.Fatalf("PeekType on garbage = %q", got)
	}
	if got := PeekType([]byte(`{"other":"field"}`)); got != "" {
		t.Fatalf("PeekType without discriminator = %q", got)
	}
}

func TestJoinMsgOmitsRejoinWhenFalse(t *testing.T) {
	data, _ := json.Marshal(JoinMsg{T: TJoin, Channel: "42"})
	var m map[string]any
	_ = json.Unmarshal(data, &m)
	if _, ok := m["rejoin"]; ok {
		t.Fatal("rejoin serialized on initial join")
	}

	data, _ = json.Marshal(JoinMsg{T: TJoin, Channel: "42", Rejoin: true})
	_ = json.Unmarshal(data, &m)
	if v, ok := m["rejoin"]; !ok || v != true {
		t.Fatal("rejoin flag lost")
	}
}
