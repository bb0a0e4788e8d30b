package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ferrors "github.com/vinayprograms/failsafe/errors"
)

// wsPair starts an httptest server and returns both ends of one
// websocket connection.
func wsPair(t *testing.T, cfg WebSocketConfig) (client, server *WebSocketConn, header http.Header) {
	t.Helper()

	accepted := make(chan *WebSocketConn, 1)
	headers := make(chan http.Header, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers <- r.Header.Clone()
		conn, err := Accept(w, r, nil, cfg)
		if err != nil {
			t.Errorf("Accept error: %v", err)
			return
		}
		accepted <- conn
	}))
	t.Cleanup(srv.Close)

	h := http.Header{}
	h.Set("X-Client-ID", "client-1")
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, err := Dial(context.Background(), wsURL, h, cfg)
	if err != nil {
		t.Fatalf("Dial error: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	select {
	case s := <-accepted:
		t.Cleanup(func() { s.Close() })
		return c, s, <-headers
	case <-time.After(2 * time.Second):
		t.Fatal("server did not accept")
	}
	return nil, nil, nil
}

// --- Unit Tests ---

func TestWebSocketConfig_Defaults(t *testing.T) {
	cfg := DefaultWebSocketConfig()
	if cfg.MaxMessageSize != 1024*1024 {
		t.Errorf("MaxMessageSize = %d, want 1MB", cfg.MaxMessageSize)
	}
	if cfg.WriteTimeout != 10*time.Second {
		t.Errorf("WriteTimeout = %v, want 10s", cfg.WriteTimeout)
	}
	if cfg.RecvBufferSize != 64 {
		t.Errorf("RecvBufferSize = %d, want 64", cfg.RecvBufferSize)
	}
}

// --- Integration Tests ---

func TestWebSocketConn_RoundTrip(t *testing.T) {
	client, server, header := wsPair(t, DefaultWebSocketConfig())

	if header.Get("X-Client-ID") != "client-1" {
		t.Errorf("header = %q, want client-1", header.Get("X-Client-ID"))
	}
	if client.ID() == server.ID() {
		t.Error("connection ids should differ")
	}

	ctx := context.Background()
	for _, msg := range []string{"a", "b", "c"} {
		if err := server.Send(ctx, []byte(msg)); err != nil {
			t.Fatalf("Send error: %v", err)
		}
	}
	for _, want := range []string{"a", "b", "c"} {
		select {
		case got := <-client.Recv():
			if string(got) != want {
				t.Errorf("Recv = %q, want %q", got, want)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for frame")
		}
	}
}

func TestWebSocketConn_PeerClose(t *testing.T) {
	client, server, _ := wsPair(t, DefaultWebSocketConfig())

	server.Close()

	select {
	case _, ok := <-client.Recv():
		if ok {
			t.Fatal("unexpected frame")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client did not observe close")
	}
	<-client.Done()
	if !ferrors.Is(client.Err(), ferrors.ErrCodePeerClosed) {
		t.Errorf("Err = %v, want PEER_CLOSED", client.Err())
	}
}

func TestWebSocketConn_SendAfterClose(t *testing.T) {
	_, server, _ := wsPair(t, DefaultWebSocketConfig())

	server.Close()
	err := server.Send(context.Background(), []byte("x"))
	if !ferrors.Is(err, ferrors.ErrCodePeerClosed) {
		t.Errorf("err = %v, want PEER_CLOSED", err)
	}
}

func TestWebSocketConn_ServerSeesClientGone(t *testing.T) {
	client, server, _ := wsPair(t, DefaultWebSocketConfig())

	client.Close()

	select {
	case <-server.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("server did not observe disconnect")
	}
	if server.Err() == nil {
		t.Error("Err should be set after disconnect")
	}
}

// --- Failure Tests ---

func TestDial_Refused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	_, err := Dial(context.Background(), url, nil, DefaultWebSocketConfig())
	if !ferrors.Is(err, ferrors.ErrCodeConnection) {
		t.Errorf("err = %v, want CONNECTION_FAILED", err)
	}
}

func TestDial_NotWebSocket(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), nil, DefaultWebSocketConfig())
	if !ferrors.Is(err, ferrors.ErrCodeConnection) {
		t.Fatalf("err = %v, want CONNECTION_FAILED", err)
	}
	if ferrors.GetMetadata(err)["status"] != "404" {
		t.Errorf("metadata = %v, want status 404", ferrors.GetMetadata(err))
	}
}

// --- Security Tests ---

func TestWebSocketConn_OversizedFrame(t *testing.T) {
	cfg := DefaultWebSocketConfig()
	cfg.MaxMessageSize = 16
	client, server, _ := wsPair(t, cfg)

	server.Send(context.Background(), []byte(strings.Repeat("x", 64)))

	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("oversized frame did not end the connection")
	}
}

// --- Performance Tests ---

func BenchmarkWebSocketConn_Throughput(b *testing.B) {
	accepted := make(chan *WebSocketConn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _ := Accept(w, r, nil, DefaultWebSocketConfig())
		accepted <- conn
	}))
	defer srv.Close()

	client, _ := Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), nil, DefaultWebSocketConfig())
	defer client.Close()
	server := <-accepted
	defer server.Close()

	frame := []byte(`{"alg":"ed25519","signer":"x","payload":"e30=","signature":"AA=="}`)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		server.Send(ctx, frame)
		<-client.Recv()
	}
}
