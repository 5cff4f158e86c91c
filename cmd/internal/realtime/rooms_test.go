package realtime

import "testing"

func TestParseRoom(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		kind RoomKind
		id   string
	}{
		{name: "monitoring", kind: RoomMonitor},
		{name: "user:01HZX", kind: RoomUser, id: "01HZX"},
		{name: "role:police", kind: RoomRole, id: "police"},
		{name: "role:chief", kind: RoomInvalid},
		{name: "conversation:c-1", kind: RoomConversation, id: "c-1"},
		{name: "incident:42", kind: RoomIncident, id: "42"},
		{name: "tracking:unit_7", kind: RoomTracking, id: "unit_7"},
		{name: "tracking:", kind: RoomInvalid},
		{name: "user:a b", kind: RoomInvalid},
		{name: "user:x:y", kind: RoomInvalid},
		{name: "monitoring:1", kind: RoomInvalid},
		{name: "lobby", kind: RoomInvalid},
		{name: "", kind: RoomInvalid},
	}
	for _, tc := range cases {
		kind, id := ParseRoom(tc.name)
		if kind != tc.kind || id != tc.id {
			t.Fatalf("ParseRoom(%q)=(%s,%q) want (%s,%q)", tc.name, kind, id, tc.kind, tc.id)
		}
	}
}
