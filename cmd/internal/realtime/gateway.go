package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"warden/cmd/internal/auth/session"

	"github.com/coder/websocket"
)

// EventConnected is the first frame on every connection, sent once the
// client is subscribed.
const EventConnected session.EventType = "session.connected"

// Authenticator validates the access token presented on the handshake.
type Authenticator interface {
	ValidateAccessToken(ctx context.Context, tok string) (session.AccessClaims, error)
}

// Gateway upgrades authenticated requests and streams the user's session
// events until the peer leaves, the hub drops it, or the server shuts down.
type Gateway struct {
	log  *slog.Logger
	hub  *Hub
	auth Authenticator
	cfg  GatewayConfig

	// Host patterns for websocket.Accept, derived from AllowedOrigins so
	// both origin checks agree.
	originPatterns []string

	now func() time.Time
}

// NewGateway constructs a Gateway.
func NewGateway(log *slog.Logger, hub *Hub, auth Authenticator, cfg GatewayConfig) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	if hub == nil {
		hub = NewHub(log, nil)
	}
	cfg = cfg.withDefaults()
	return &Gateway{
		log:            log,
		hub:            hub,
		auth:           auth,
		cfg:            cfg,
		originPatterns: deriveOriginPatterns(cfg.AllowedOrigins),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		writeError(w, http.StatusForbidden, "forbidden", "forbidden")
		return
	}

	tok := accessToken(r)
	if tok == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return
	}
	claims, err := g.auth.ValidateAccessToken(r.Context(), tok)
	if err != nil {
		g.log.Info("ws.reject.auth", "err", err, "remote", r.RemoteAddr)
		writeError(w, http.StatusForbidden, "invalid_token", "invalid token")
		return
	}

	now := g.now()
	id, err := NewClientID(now)
	if err != nil {
		g.log.Error("ws.client_id.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.InsecureSkipVerify,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	client := NewClient(id, claims.UserID, claims.SessionID, g.cfg.SendQueueSize)
	if !g.hub.Subscribe(client) {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer g.hub.Unsubscribe(client)

	g.log.Info("ws.connect", "client_id", id, "user_id", claims.UserID, "session_id", claims.SessionID)

	code, reason := g.serve(r.Context(), conn, client, now)
	_ = conn.Close(code, reason)

	g.log.Info("ws.disconnect", "client_id", id, "user_id", claims.UserID, "reason", reason)
}

// serve runs the write loop. CloseRead keeps reading control frames in the
// background, which Ping depends on.
func (g *Gateway) serve(parent context.Context, conn *websocket.Conn, client *Client, now time.Time) (websocket.StatusCode, string) {
	ctx := conn.CloseRead(parent)

	hello := session.Event{Type: EventConnected, SessionID: client.SessionID, At: now}
	if err := writeEvent(ctx, conn, hello, g.cfg.WriteTimeout); err != nil {
		return websocket.StatusAbnormalClosure, "write failed"
	}

	t := time.NewTicker(g.cfg.HeartbeatEvery)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return websocket.StatusNormalClosure, "peer closed"

		case <-client.Done():
			// Either the hub dropped a slow client or the server is shutting down.
			return websocket.StatusGoingAway, "closed by server"

		case ev := <-client.Send:
			if err := writeEvent(ctx, conn, ev, g.cfg.WriteTimeout); err != nil {
				g.log.Info("ws.write.fail", "client_id", client.ID, "close_status", websocket.CloseStatus(err), "err", err)
				return websocket.StatusAbnormalClosure, "write failed"
			}

		case <-t.C:
			pingCtx, cancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
			err := conn.Ping(pingCtx)
			cancel()

			if err != nil {
				failures++
				g.log.Info("ws.ping.fail", "client_id", client.ID, "failures", failures, "err", err)
				if failures >= wsMaxPingFailures {
					return websocket.StatusGoingAway, "heartbeat failed"
				}
				continue
			}
			failures = 0
		}
	}
}

func writeEvent(parent context.Context, conn *websocket.Conn, ev session.Event, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// accessToken prefers the Authorization header; browsers cannot set headers
// on a websocket handshake so the query parameter is accepted too.
func accessToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if scheme, tok, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(tok)
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "message": msg},
	})
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
		if a == "*" {
			return nil
		}
		if origin == a {
			return nil
		}
		if originHost != "" && originHost == originHostOnly(a) {
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
		s = strings.TrimSpace(u.Host)
		if s == "" {
			return ""
		}
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// deriveOriginPatterns returns the sorted, unique hosts of the allowlist.
// websocket.Accept matches them against the origin host with path.Match.
func deriveOriginPatterns(allowed []string) []string {
	out := make([]string, 0, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" {
			continue
		}
		out = append(out, h)
	}
	slices.Sort(out)
	return slices.Compact(out)
}
