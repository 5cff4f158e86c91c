package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"beacon/cmd/internal/auth/autherr"
	"beacon/cmd/internal/auth/guard"
	v1 "beacon/shared/contracts/realtime/v1"
)

const wsCloseGrace = time.Second

// Authenticator validates a handshake token. *guard.Guard implements it.
type Authenticator interface {
	AuthenticateToken(ctx context.Context, token string) (guard.Principal, error)
}

// Gateway is the WebSocket entrypoint. It authenticates before the upgrade,
// registers the connection, and serves room_join / room_leave / hello until
// the peer goes away or the gateway is closed.
type Gateway struct {
	cfg  GatewayConfig
	auth Authenticator
	reg  *Registry
	disp *Dispatcher

	log     *slog.Logger
	metrics *Metrics
	now     func() time.Time

	originPatterns []string

	closing   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewGateway(cfg GatewayConfig, auth Authenticator, reg *Registry, disp *Dispatcher, opts ...Option) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if auth == nil || reg == nil || disp == nil {
		return nil, errors.New("realtime: gateway requires authenticator, registry and dispatcher")
	}
	s := newSettings(opts)
	return &Gateway{
		cfg:            cfg,
		auth:           auth,
		reg:            reg,
		disp:           disp,
		log:            s.log,
		metrics:        s.metrics,
		now:            s.now,
		originPatterns: deriveOriginPatterns(cfg.AllowedOrigins),
		closing:        make(chan struct{}),
	}, nil
}

// Close disconnects every live connection with StatusGoingAway and waits
// for their handlers to finish or ctx to end.
func (g *Gateway) Close(ctx context.Context) error {
	g.closeOnce.Do(func() { close(g.closing) })

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-g.closing:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		g.metrics.rejected("origin")
		writeHandshakeError(w, http.StatusForbidden, "origin_not_allowed", "Origin not allowed.")
		return
	}

	p, err := g.authenticate(r)
	if err != nil {
		reason := autherr.HandshakeReason(err)
		g.log.Info("ws.reject.auth", "reason", reason, "remote", r.RemoteAddr)
		g.metrics.rejected(reason)
		writeHandshakeError(w, autherr.HTTPStatus(err), reason, autherr.UserMessage(err))
		return
	}

	g.wg.Add(1)
	defer g.wg.Done()

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = ws.CloseNow() }()

	if sp := ws.Subprotocol(); sp != v1.Subprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = ws.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}
	ws.SetReadLimit(maxFrameBytes)

	c := NewConn(p.UserID, p.Role, g.cfg.SendQueue)
	if _, err := g.reg.Connect(c); err != nil {
		g.log.Error("ws.register.fail", "user_id", p.UserID, "err", err)
		_ = ws.Close(websocket.StatusInternalError, "register failed")
		return
	}
	g.log.Info("ws.open", "conn_id", c.ID, "user_id", c.UserID, "role", string(c.Role))

	g.serve(r.Context(), ws, c)
}

// authenticate takes the token from the Authorization header, falling back
// to the access_token query parameter for browser clients.
func (g *Gateway) authenticate(r *http.Request) (guard.Principal, error) {
	var tok string
	if h := r.Header.Get("Authorization"); strings.TrimSpace(h) != "" {
		t, err := guard.ExtractBearer(h)
		if err != nil {
			return guard.Principal{}, err
		}
		tok = t
	} else {
		tok = strings.TrimSpace(r.URL.Query().Get("access_token"))
	}
	if tok == "" {
		return guard.Principal{}, autherr.E("realtime.Handshake", autherr.ErrAuthMissing, nil)
	}
	return g.auth.AuthenticateToken(r.Context(), tok)
}

func (g *Gateway) serve(parent context.Context, ws *websocket.Conn, c *Conn) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.reg.Disconnect(c)
			_ = ws.Close(code, reason)
			cancel()
		})
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.Done():
				return
			case env := <-c.Send:
				if err := writeEnvelope(ctx, ws, env, g.cfg.WriteTimeout); err != nil {
					g.log.Info("ws.write.fail", "conn_id", c.ID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.cfg.HeartbeatInterval)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.Done():
				return
			case <-g.closing:
				shutdown(websocket.StatusGoingAway, "server shutdown")
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
				err := ws.Ping(hbCtx)
				hbCancel()
				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "conn_id", c.ID, "failures", failures, "err", err)
					if failures >= maxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	g.sendHelloAck(c)

	limiter := newConnLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		env, err := readEnvelope(readCtx, ws)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.sendError(c, "bad_json", "invalid JSON", "")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "conn_id", c.ID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		if !limiter.Allow() {
			g.sendError(c, "rate_limited", "too many events", "")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.sendError(c, "bad_envelope", err.Error(), "")
			continue readLoop
		}

		switch env.Type {
		case v1.TypeHello:
			g.sendHelloAck(c)
		case v1.TypeRoomJoin:
			g.onJoin(ctx, c, env)
		case v1.TypeRoomLeave:
			g.onLeave(c, env)
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
	g.log.Info("ws.close", "conn_id", c.ID, "user_id", c.UserID)
}

func (g *Gateway) onJoin(ctx context.Context, c *Conn, env v1.Envelope) {
	var p v1.RoomPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || strings.TrimSpace(p.Room) == "" {
		g.sendError(c, "bad_payload", "room is required", "")
		return
	}
	if err := g.disp.Join(ctx, c, p.Room); err != nil {
		g.sendError(c, autherr.Code(err), autherr.UserMessage(err), p.Room)
		return
	}
	g.send(c, v1.TypeRoomJoined, v1.RoomPayload{Room: p.Room})
}

func (g *Gateway) onLeave(c *Conn, env v1.Envelope) {
	var p v1.RoomPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || strings.TrimSpace(p.Room) == "" {
		g.sendError(c, "bad_payload", "room is required", "")
		return
	}
	if !g.disp.Leave(c, p.Room) {
		g.sendError(c, "not_joined", "not a member of this room", p.Room)
		return
	}
	g.send(c, v1.TypeRoomLeft, v1.RoomPayload{Room: p.Room})
}

func (g *Gateway) sendHelloAck(c *Conn) {
	g.send(c, v1.TypeHelloAck, v1.HelloAckPayload{
		ConnectionID: c.ID,
		UserID:       c.UserID,
		Role:         string(c.Role),
		Rooms:        g.reg.RoomsOf(c),
	})
}

func (g *Gateway) sendError(c *Conn, code, msg, room string) {
	g.send(c, v1.TypeError, v1.ErrorPayload{Code: code, Message: msg, Room: room})
}

func (g *Gateway) send(c *Conn, typ string, payload any) {
	env, err := newEnvelope(typ, payload, g.now())
	if err != nil {
		g.log.Error("ws.envelope.fail", "conn_id", c.ID, "type", typ, "err", err)
		return
	}
	if !c.enqueue(env) {
		g.log.Debug("ws.send.dropped", "conn_id", c.ID, "type", typ)
	}
}

type handshakeError struct {
	Error v1.ErrorPayload `json:"error"`
}

func writeHandshakeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(handshakeError{Error: v1.ErrorPayload{Code: code, Message: msg}})
}

// ---- envelope IO ----

var errBadJSON = errors.New("realtime: bad json")

func readEnvelope(ctx context.Context, ws *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := ws.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText {
		return v1.Envelope{}, fmt.Errorf("%w: binary frame", errBadJSON)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, fmt.Errorf("%w: %v", errBadJSON, err)
	}
	return env, nil
}

func writeEnvelope(parent context.Context, ws *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, b)
}

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	switch {
	case errors.Is(err, errBadJSON):
		return readErrBadJSON
	case websocket.CloseStatus(err) != -1:
		return readErrClose
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return readErrCtxDone
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.EOF):
		return readErrConnClosed
	default:
		return readErrUnknown
	}
}

// ---- origin policy ----

func (g *Gateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}
	if len(g.cfg.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)
	for _, a := range g.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		switch {
		case a == "":
			continue
		case a == "*", origin == a:
			return nil
		case originHost != "" && originHost == originHostOnly(a):
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = u.Host
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// deriveOriginPatterns feeds the allow-list hosts to websocket.Accept so
// its own cross-origin check agrees with enforceOrigin.
func deriveOriginPatterns(allowed []string) []string {
	var out []string
	for _, a := range allowed {
		if strings.TrimSpace(a) == "*" {
			return []string{"*"}
		}
		if h := originHostOnly(a); h != "" && !slices.Contains(out, h) {
			out = append(out, h)
		}
	}
	slices.Sort(out)
	return out
}
