// Command smoke is a CI-friendly end-to-end check against a running warden.
//
// It validates:
//   - registration returns an access token and a refresh cookie
//   - the session websocket accepts the access token and says hello
//   - one refresh rotates the cookie
//   - replaying the rotated cookie is rejected and pushes session.reuse_detected
//   - the replacement cookie is dead afterwards
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const (
	cookieName   = "express_jwt"
	maxReadBytes = 1 << 16
)

type event struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Revoked   int64  `json:"revoked"`
}

func main() {
	var (
		baseURL  = flag.String("url", "http://127.0.0.1:8080", "warden base URL")
		origin   = flag.String("origin", "http://localhost", "Origin header for the websocket handshake")
		password = flag.String("password", "smoke-test-password-1", "password for the throwaway account")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	base, err := validateBaseURL(*baseURL)
	if err != nil {
		fatalf("invalid -url: %v", err)
	}

	root := context.Background()
	client := &http.Client{Timeout: *timeout}
	email := "smoke-" + uuid.NewString() + "@example.com"

	access, first := mustRegister(client, base, email, *password)
	if *verbose {
		fmt.Printf("registered %s\n", email)
	}

	conn := mustConnect(root, base, *origin, access, *timeout)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	hello := mustRead(root, conn, *timeout)
	if hello.Type != "session.connected" {
		fatalf("expected hello, got %q", hello.Type)
	}

	status, second := refresh(client, base, first)
	if status != http.StatusOK || second == nil {
		fatalf("refresh: status=%d", status)
	}
	if second.Value == first.Value {
		fatalf("refresh did not rotate the cookie")
	}

	status, _ = refresh(client, base, first)
	if status != http.StatusForbidden {
		fatalf("replay: status=%d want=%d", status, http.StatusForbidden)
	}

	ev := mustRead(root, conn, *timeout)
	if ev.Type != "session.reuse_detected" {
		fatalf("expected reuse event, got %q", ev.Type)
	}
	if ev.Revoked < 1 {
		fatalf("reuse event revoked=%d", ev.Revoked)
	}

	status, _ = refresh(client, base, second)
	if status != http.StatusForbidden {
		fatalf("post-reuse refresh: status=%d want=%d", status, http.StatusForbidden)
	}

	fmt.Println("OK: warden session smoke passed")
}

func validateBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return nil, errors.New("missing host")
	}
	return u, nil
}

func mustRegister(client *http.Client, base *url.URL, email, password string) (string, *http.Cookie) {
	body, _ := json.Marshal(map[string]string{"name": "Smoke", "email": email, "password": password})
	res, err := client.Post(base.JoinPath("/register").String(), "application/json", bytes.NewReader(body))
	if err != nil {
		fatalf("register: %v", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusCreated {
		fatalf("register: status=%d", res.StatusCode)
	}
	var out struct {
		AccessToken string `json:"accessToken"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil || out.AccessToken == "" {
		fatalf("register: missing access token (%v)", err)
	}
	c := findCookie(res)
	if c == nil {
		fatalf("register: missing %s cookie", cookieName)
	}
	return out.AccessToken, c
}

func refresh(client *http.Client, base *url.URL, c *http.Cookie) (int, *http.Cookie) {
	req, err := http.NewRequest(http.MethodGet, base.JoinPath("/refresh").String(), nil)
	if err != nil {
		fatalf("refresh: %v", err)
	}
	req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	res, err := client.Do(req)
	if err != nil {
		fatalf("refresh: %v", err)
	}
	defer res.Body.Close()
	return res.StatusCode, findCookie(res)
}

func findCookie(res *http.Response) *http.Cookie {
	for _, c := range res.Cookies() {
		if c.Name == cookieName && c.Value != "" {
			return c
		}
	}
	return nil
}

func mustConnect(parent context.Context, base *url.URL, origin, access string, stepTimeout time.Duration) *websocket.Conn {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	u := *base.JoinPath("/ws/sessions")
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}

	h := http.Header{}
	h.Set("Authorization", "Bearer "+access)
	if origin != "" {
		h.Set("Origin", origin)
	}

	conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{HTTPHeader: h})
	if err != nil {
		fatalf("connect: %v", err)
	}
	conn.SetReadLimit(maxReadBytes)
	return conn
}

func mustRead(parent context.Context, conn *websocket.Conn, stepTimeout time.Duration) event {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		fatalf("read: %v", err)
	}
	var ev event
	if err := json.Unmarshal(data, &ev); err != nil {
		fatalf("decode event: %v", err)
	}
	return ev
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
