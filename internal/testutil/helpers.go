// Package testutil holds helpers shared by the HTTP and websocket tests:
// request builders, a websocket dialer that speaks the event envelope, and
// waiting helpers for asynchronous fan-out.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// TestOrigin is the Origin header sent by DialAs. Servers under test must allow it.
const TestOrigin = "http://localhost:8080"

// Frame is a decoded outbound event.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Decode unmarshals the frame payload into v.
func (f Frame) Decode(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(f.Data, v), "decode %s payload", f.Event)
}

// WSURL converts an httptest server URL into its websocket endpoint.
func WSURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + "/ws"
}

// DialAs opens a websocket as userID using development-mode identity headers.
func DialAs(t *testing.T, httpURL, userID string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set("Origin", TestOrigin)
	header.Set("X-User-ID", userID)
	return Dial(t, WSURL(httpURL), header)
}

// Dial opens a websocket with the given headers and closes it on cleanup.
func Dial(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(url, header)
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// Send writes one event frame.
func Send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	payload, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Frame{Event: event, Data: payload}))
}

// Read returns the next frame, failing the test after timeout.
func Read(t *testing.T, conn *websocket.Conn, timeout time.Duration) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	var f Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

// Expect reads frames until one named event arrives, skipping others.
func Expect(t *testing.T, conn *websocket.Conn, event string, timeout time.Duration) Frame {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			t.Fatalf("timed out waiting for %q", event)
		}
		f := Read(t, conn, remaining)
		if f.Event == event {
			return f
		}
	}
}

// ExpectSilence asserts that no frame arrives within wait. The connection is
// unusable afterwards because the read deadline has expired.
func ExpectSilence(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wait)))
	var f Frame
	err := conn.ReadJSON(&f)
	require.Error(t, err, "unexpected frame %s: %s", f.Event, f.Data)
}

// Do sends an HTTP request as userID with an optional JSON body and returns
// the status and raw response body.
func Do(t *testing.T, method, url, userID string, body any) (int, []byte) {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw
}

// Eventually polls cond until it holds or timeout elapses.
func Eventually(t *testing.T, cond func() bool, timeout time.Duration, msg string) {
	t.Helper()
	require.Eventually(t, cond, timeout, 5*time.Millisecond, msg)
}
