// Package main provides a CI-friendly WebSocket smoke test for beacon realtime.
//
// It validates:
//   - login over the auth API
//   - handshake + subprotocol selection
//   - hello_ack for the authenticated principal
//   - monitoring room join
//   - presence.online fanout when a second account connects (optional)
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "beacon/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
	flag "github.com/spf13/pflag"
)

const maxReadBytes = 1 << 20 // 1MiB

type smokeClient struct {
	name   string
	conn   *websocket.Conn
	userID string

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		baseURL  = flag.String("base", "http://127.0.0.1:8080", "HTTP base URL of the API")
		origin   = flag.String("origin", "", "Origin header to send (browser-like WS handshake)")
		ident    = flag.String("identifier", "", "Monitor account identifier (police or above)")
		password = flag.String("password", "", "Monitor account password")
		peerID   = flag.String("peer-identifier", "", "Second account; enables the presence check")
		peerPW   = flag.String("peer-password", "", "Second account password")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	wsURL, err := wsURLFor(*baseURL)
	if err != nil {
		fatalf("invalid --base: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid --origin: %v", err)
	}
	if *ident == "" || *password == "" {
		fatalf("--identifier and --password are required")
	}

	root := context.Background()

	tokA := mustLogin(root, *baseURL, *ident, *password, *timeout)
	a := mustConnect(root, "A", wsURL, *origin, tokA, *timeout)
	defer closeWS(a.conn)
	mustJoin(root, a, "monitoring", *timeout)

	if *verbose {
		fmt.Printf("connected: A=%s origin=%q\n", a.userID, *origin)
	}

	if *peerID == "" {
		fmt.Printf("OK: A=%s joined monitoring (presence check skipped)\n", a.userID)
		return
	}

	tokB := mustLogin(root, *baseURL, *peerID, *peerPW, *timeout)
	b := mustConnect(root, "B", wsURL, *origin, tokB, *timeout)
	defer closeWS(b.conn)

	mustAssertPresence(root, a, b.userID, v1.EventPresenceOnline, *timeout)
	closeWS(b.conn)
	mustAssertPresence(root, a, b.userID, v1.EventPresenceOffline, *timeout)

	fmt.Printf("OK: A=%s B=%s presence online/offline observed\n", a.userID, b.userID)
}

// wsURLFor maps http(s)://host to ws(s)://host/ws.
func wsURLFor(base string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", errors.New("missing host")
	}
	u.Path += "/ws"
	return u.String(), nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustLogin(parent context.Context, base, ident, pw string, stepTimeout time.Duration) string {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	body := mustJSON(map[string]string{
		"identifier":  ident,
		"password":    pw,
		"device_name": "ws-smoke",
		"device_type": "desktop",
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(base, "/")+"/auth/login", bytes.NewReader(body))
	if err != nil {
		fatalf("login request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("login %s: %v", ident, err)
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode != http.StatusOK {
		fatalf("login %s: status %d", ident, res.StatusCode)
	}

	var out struct {
		Session struct {
			AccessToken string `json:"access_token"`
		} `json:"session"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		fatalf("login %s: decode: %v", ident, err)
	}
	if out.Session.AccessToken == "" {
		fatalf("login %s: missing access token", ident)
	}
	return out.Session.AccessToken
}

func mustConnect(parent context.Context, name, wsURL, origin, token string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	assertSubprotocol(resp, v1.Subprotocol)

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	ack := c.mustReadUntilType(parent, v1.TypeHelloAck, stepTimeout, nil)

	var p v1.HelloAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal hello_ack payload (%s): %v", name, err)
	}
	if strings.TrimSpace(p.UserID) == "" || strings.TrimSpace(p.ConnectionID) == "" {
		fatalf("hello_ack missing identity (%s)", name)
	}
	c.userID = p.UserID

	return c
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) fail(err error) {
	select {
	case c.errCh <- err:
	default:
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				c.fail(err)
				return
			}
			if mt != websocket.MessageText {
				c.fail(fmt.Errorf("unsupported message type: %v", mt))
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				c.fail(fmt.Errorf("bad json: %w", err))
				return
			}
			if env.V != v1.Version || env.Type == "" {
				c.fail(fmt.Errorf("bad envelope: v=%q type=%q", env.V, env.Type))
				return
			}

			select {
			case c.inbox <- env:
			default:
				c.fail(errors.New("inbox overflow: consumer too slow"))
				return
			}
		}
	}()
}

func mustJoin(parent context.Context, c *smokeClient, room string, stepTimeout time.Duration) {
	env := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeRoomJoin,
		ID:      fmt.Sprintf("%s-join", c.name),
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.RoomPayload{Room: room}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	joined := c.mustReadUntilType(parent, v1.TypeRoomJoined, stepTimeout, map[string]struct{}{v1.TypeEvent: {}})

	var p v1.RoomPayload
	if err := json.Unmarshal(joined.Payload, &p); err != nil {
		fatalf("unmarshal room_joined payload (%s): %v", c.name, err)
	}
	if p.Room != room {
		fatalf("room_joined mismatch (%s): got=%q want=%q", c.name, p.Room, room)
	}
}

// mustAssertPresence waits for a presence event about userID, skipping
// unrelated events.
func mustAssertPresence(parent context.Context, c *smokeClient, userID, event string, stepTimeout time.Duration) {
	deadline := time.Now().Add(stepTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			fatalf("timeout waiting for %s of %s (%s)", event, userID, c.name)
		}
		env := c.mustReadUntilType(parent, v1.TypeEvent, remaining, nil)

		var p v1.EventPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			fatalf("unmarshal event payload (%s): %v", c.name, err)
		}
		if p.Event != event {
			continue
		}
		var d v1.PresenceData
		if err := json.Unmarshal(p.Data, &d); err != nil {
			fatalf("unmarshal presence data (%s): %v", c.name, err)
		}
		if d.UserID == userID {
			return
		}
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration, skipTypes map[string]struct{}) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q room=%q", c.name, ep.Code, ep.Message, ep.Room)
			}
			if _, ok := skipTypes[env.Type]; ok {
				continue
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write %s: %v", env.Type, err)
	}
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		fatalf("marshal: %v", err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
