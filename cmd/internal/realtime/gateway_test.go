package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"beacon/cmd/identity"
	"beacon/cmd/internal/auth/autherr"
	"beacon/cmd/internal/auth/guard"
	v1 "beacon/shared/contracts/realtime/v1"
)

// tokenAuth maps tokens to principals or errors.
type tokenAuth map[string]any

func (a tokenAuth) AuthenticateToken(_ context.Context, token string) (guard.Principal, error) {
	switch v := a[token].(type) {
	case guard.Principal:
		return v, nil
	case error:
		return guard.Principal{}, v
	default:
		return guard.Principal{}, autherr.E("test", autherr.ErrTokenInvalidSignature, nil)
	}
}

type gatewayEnv struct {
	rt  liveRealtime
	gw  *Gateway
	srv *httptest.Server
}

func newGatewayEnv(t *testing.T, auth Authenticator, mutate ...func(*GatewayConfig)) gatewayEnv {
	t.Helper()

	rt := newLiveRealtime(t, nil)
	cfg := DefaultGatewayConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	gw, err := NewGateway(cfg, auth, rt.reg, rt.disp, WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	srv := httptest.NewServer(gw)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = gw.Close(ctx)
		srv.Close()
	})
	return gatewayEnv{rt: rt, gw: gw, srv: srv}
}

func (e gatewayEnv) wsURL(query string) string {
	u := "ws" + strings.TrimPrefix(e.srv.URL, "http")
	if query != "" {
		u += "?" + query
	}
	return u
}

func (e gatewayEnv) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, e.wsURL(""), &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   http.Header{"Authorization": []string{"Bearer " + token}},
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, match func(v1.Envelope) bool) v1.Envelope {
	t.Helper()
	for i := 0; i < 32; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, b, err := conn.Read(ctx)
		cancel()
		if err != nil {
			t.Fatalf("conn.Read: %v", err)
		}
		var env v1.Envelope
		if err := json.Unmarshal(b, &env); err != nil {
			t.Fatalf("unmarshal envelope: %v", err)
		}
		if match(env) {
			return env
		}
	}
	t.Fatalf("expected envelope not received")
	return v1.Envelope{}
}

func ofType(typ string) func(v1.Envelope) bool {
	return func(env v1.Envelope) bool { return env.Type == typ }
}

func writeJSON(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	b, err := json.Marshal(v1.Envelope{V: v1.Version, Type: typ, ID: "c1", TS: time.Now().UTC(), Payload: raw})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestGateway_HandshakeRejections(t *testing.T) {
	t.Parallel()

	auth := tokenAuth{
		"expired":   autherr.E("test", autherr.ErrTokenExpired, nil),
		"suspended": autherr.E("test", autherr.ErrAccountSuspended, nil),
		"gone":      autherr.E("test", autherr.ErrSessionNotFound, nil),
		"down":      autherr.Unavailable("test", nil),
	}
	env := newGatewayEnv(t, auth)

	cases := []struct {
		name   string
		header string
		query  string
		status int
		reason string
	}{
		{name: "no token", status: http.StatusUnauthorized, reason: autherr.ReasonNoToken},
		{name: "wrong scheme", header: "Basic abc", status: http.StatusUnauthorized, reason: autherr.ReasonMalformed},
		{name: "bad signature", header: "Bearer forged", status: http.StatusUnauthorized, reason: autherr.ReasonInvalidSignature},
		{name: "expired", header: "Bearer expired", status: http.StatusUnauthorized, reason: autherr.ReasonExpired},
		{name: "suspended", query: "access_token=suspended", status: http.StatusForbidden, reason: autherr.ReasonIneligible},
		{name: "user gone", header: "Bearer gone", status: http.StatusUnauthorized, reason: autherr.ReasonSessionNotFound},
		{name: "directory down", header: "Bearer down", status: http.StatusServiceUnavailable, reason: autherr.ReasonUnavailable},
	}
	for _, tc := range cases {
		u := env.srv.URL
		if tc.query != "" {
			u += "?" + tc.query
		}
		req, err := http.NewRequest(http.MethodGet, u, nil)
		if err != nil {
			t.Fatalf("NewRequest: %v", err)
		}
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		var body handshakeError
		_ = json.NewDecoder(resp.Body).Decode(&body)
		_ = resp.Body.Close()

		if resp.StatusCode != tc.status || body.Error.Code != tc.reason {
			t.Fatalf("%s: got %d/%q want %d/%q", tc.name, resp.StatusCode, body.Error.Code, tc.status, tc.reason)
		}
	}
}

func TestGateway_OriginRequired(t *testing.T) {
	t.Parallel()

	env := newGatewayEnv(t, tokenAuth{}, func(c *GatewayConfig) { c.OriginRequired = true })

	resp, err := http.Get(env.srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status=%d want 403", resp.StatusCode)
	}
}

func TestGateway_HelloAckListsAutoRooms(t *testing.T) {
	t.Parallel()

	auth := tokenAuth{"tok-p": guard.Principal{UserID: "cop", Role: identity.RolePolice, Status: identity.StatusApproved}}
	env := newGatewayEnv(t, auth)

	conn := env.dial(t, "tok-p")
	ack := readUntil(t, conn, ofType(v1.TypeHelloAck))

	var p v1.HelloAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.UserID != "cop" || p.Role != "police" || p.ConnectionID == "" {
		t.Fatalf("hello_ack=%+v", p)
	}
	want := []string{"monitoring", "role:police", "user:cop"}
	if strings.Join(p.Rooms, ",") != strings.Join(want, ",") {
		t.Fatalf("rooms=%v want %v", p.Rooms, want)
	}
}

func TestGateway_QueryTokenAndRoomJoinDenied(t *testing.T) {
	t.Parallel()

	auth := tokenAuth{"tok-r": guard.Principal{UserID: "rider", Role: identity.RoleRider, Status: identity.StatusApproved}}
	env := newGatewayEnv(t, auth)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, resp, err := websocket.Dial(ctx, env.wsURL(url.Values{"access_token": {"tok-r"}}.Encode()), &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.CloseNow() }()

	readUntil(t, conn, ofType(v1.TypeHelloAck))

	writeJSON(t, conn, v1.TypeRoomJoin, v1.RoomPayload{Room: RoomMonitoring})
	errEnv := readUntil(t, conn, ofType(v1.TypeError))
	var p v1.ErrorPayload
	if err := json.Unmarshal(errEnv.Payload, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.Code != "room_access_denied" || p.Room != RoomMonitoring {
		t.Fatalf("error=%+v", p)
	}

	writeJSON(t, conn, v1.TypeRoomJoin, v1.RoomPayload{Room: "user:rider"})
	readUntil(t, conn, ofType(v1.TypeRoomJoined))
}

func TestGateway_PresenceReachesMonitoring(t *testing.T) {
	t.Parallel()

	auth := tokenAuth{
		"tok-c": guard.Principal{UserID: "cmd", Role: identity.RoleCommander, Status: identity.StatusApproved},
		"tok-r": guard.Principal{UserID: "rider", Role: identity.RoleRider, Status: identity.StatusApproved},
	}
	env := newGatewayEnv(t, auth)

	watcher := env.dial(t, "tok-c")
	readUntil(t, watcher, ofType(v1.TypeHelloAck))

	presenceFor := func(event, userID string) func(v1.Envelope) bool {
		return func(e v1.Envelope) bool {
			if e.Type != v1.TypeEvent {
				return false
			}
			var p v1.EventPayload
			var d v1.PresenceData
			if json.Unmarshal(e.Payload, &p) != nil || p.Event != event || json.Unmarshal(p.Data, &d) != nil {
				return false
			}
			return d.UserID == userID
		}
	}

	rider := env.dial(t, "tok-r")
	readUntil(t, watcher, presenceFor(v1.EventPresenceOnline, "rider"))

	_ = rider.Close(websocket.StatusNormalClosure, "bye")
	readUntil(t, watcher, presenceFor(v1.EventPresenceOffline, "rider"))
}

func TestGateway_BadEnvelopeKeepsConnection(t *testing.T) {
	t.Parallel()

	auth := tokenAuth{"tok": guard.Principal{UserID: "u", Role: identity.RoleVolunteer, Status: identity.StatusApproved}}
	env := newGatewayEnv(t, auth)

	conn := env.dial(t, "tok")
	readUntil(t, conn, ofType(v1.TypeHelloAck))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	readUntil(t, conn, ofType(v1.TypeError))

	writeJSON(t, conn, v1.TypeHello, struct{}{})
	readUntil(t, conn, ofType(v1.TypeHelloAck))
}

func TestGateway_CloseDisconnectsClients(t *testing.T) {
	t.Parallel()

	auth := tokenAuth{"tok": guard.Principal{UserID: "u", Role: identity.RoleRider, Status: identity.StatusApproved}}
	env := newGatewayEnv(t, auth)

	conn := env.dial(t, "tok")
	readUntil(t, conn, ofType(v1.TypeHelloAck))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() {
		// Keep reading so the close handshake can complete.
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()
	if err := env.gw.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if env.rt.reg.IsOnline("u") {
		t.Fatalf("user still registered after gateway close")
	}
}
