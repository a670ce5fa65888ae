package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// mockServer is a minimal realtime server for testing.
func mockServer(t *testing.T, handler func(ctx context.Context, conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer func() { _ = conn.CloseNow() }()
		handler(r.Context(), conn)
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) Message {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Errorf("server read: %v", err)
		return Message{}
	}
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		t.Errorf("server parse: %v", err)
	}
	return m
}

func writeMessage(ctx context.Context, conn *websocket.Conn, m Message) {
	data, _ := json.Marshal(m)
	_ = conn.Write(ctx, websocket.MessageText, data)
}

func okReply(topic, ref string) Message {
	return Message{Topic: topic, Event: EventReply, Ref: ref, Payload: json.RawMessage(`{"status":"ok","response":{}}`)}
}

func TestEndpointURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "https://abc.example.co", want: "wss://abc.example.co/realtime/v1/websocket?apikey=k&vsn=1.0.0"},
		{in: "http://localhost:54321/", want: "ws://localhost:54321/realtime/v1/websocket?apikey=k&vsn=1.0.0"},
		{in: "wss://rt.example.co/socket/websocket", want: "wss://rt.example.co/socket/websocket?apikey=k&vsn=1.0.0"},
		{in: "ftp://nope", wantErr: true},
	}
	for _, tt := range tests {
		got, err := EndpointURL(tt.in, "k")
		if tt.wantErr {
			if err == nil {
				t.Errorf("%s: expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%s: got %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestJoinOK(t *testing.T) {
	srv := mockServer(t, func(ctx context.Context, conn *websocket.Conn) {
		m := readMessage(t, ctx, conn)
		if m.Event != EventJoin || m.Topic != "realtime:orders" {
			t.Errorf("expected join on realtime:orders, got %s %s", m.Event, m.Topic)
		}
		if !strings.Contains(string(m.Payload), `"user_id":"u1"`) {
			t.Errorf("join payload missing config: %s", m.Payload)
		}
		writeMessage(ctx, conn, okReply(m.Topic, m.Ref))
		time.Sleep(100 * time.Millisecond)
	})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := Connect(ctx, wsURL(srv))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer func() { _ = c.Close() }()

	if err := c.Join(ctx, "realtime:orders", map[string]string{"user_id": "u1"}); err != nil {
		t.Fatalf("Join: %v", err)
	}
}

func TestJoinRejected(t *testing.T) {
	srv := mockServer(t, func(ctx context.Context, conn *websocket.Conn) {
		m := readMessage(t, ctx, conn)
		writeMessage(ctx, conn, Message{
			Topic: m.Topic, Event: EventReply, Ref: m.Ref,
			Payload: json.RawMessage(`{"status":"error","response":{"reason":"unauthorized"}}`),
		})
		time.Sleep(100 * time.Millisecond)
	})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := Connect(ctx, wsURL(srv))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer func() { _ = c.Close() }()

	err = c.Join(ctx, "realtime:orders", nil)
	if err == nil || !strings.Contains(err.Error(), "unauthorized") {
		t.Fatalf("expected rejection, got %v", err)
	}
}

func TestListenDeliversFramesReadDuringJoin(t *testing.T) {
	srv := mockServer(t, func(ctx context.Context, conn *websocket.Conn) {
		m := readMessage(t, ctx, conn)
		writeMessage(ctx, conn, Message{Topic: m.Topic, Event: "presence_state", Payload: json.RawMessage(`{"u1":{}}`)})
		writeMessage(ctx, conn, okReply(m.Topic, m.Ref))
		writeMessage(ctx, conn, Message{Topic: "phoenix", Event: EventReply, Ref: "99", Payload: json.RawMessage(`{"status":"ok"}`)})
		writeMessage(ctx, conn, Message{Topic: m.Topic, Event: "postgres_changes", Payload: json.RawMessage(`{"data":{}}`)})
		time.Sleep(200 * time.Millisecond)
	})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := Connect(ctx, wsURL(srv))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer func() { _ = c.Close() }()
	if err := c.Join(ctx, "realtime:orders", nil); err != nil {
		t.Fatalf("Join: %v", err)
	}

	events := c.ListenWithTimeout(ctx, 0)
	var got []string
	for ev := range events {
		if ev.Err != nil {
			break
		}
		got = append(got, ev.Message.Event)
		if len(got) == 2 {
			break
		}
	}
	if len(got) != 2 || got[0] != "presence_state" || got[1] != "postgres_changes" {
		t.Fatalf("unexpected events: %v", got)
	}
}

func TestListenStopsOnChannelClose(t *testing.T) {
	srv := mockServer(t, func(ctx context.Context, conn *websocket.Conn) {
		m := readMessage(t, ctx, conn)
		writeMessage(ctx, conn, okReply(m.Topic, m.Ref))
		writeMessage(ctx, conn, Message{Topic: "realtime:other", Event: EventClose, Payload: json.RawMessage(`{}`)})
		writeMessage(ctx, conn, Message{Topic: m.Topic, Event: EventClose, Payload: json.RawMessage(`{}`)})
		time.Sleep(200 * time.Millisecond)
	})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := Connect(ctx, wsURL(srv))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer func() { _ = c.Close() }()
	if err := c.Join(ctx, "realtime:orders", nil); err != nil {
		t.Fatalf("Join: %v", err)
	}

	var last Event
	for ev := range c.ListenWithTimeout(ctx, 0) {
		last = ev
	}
	if last.Err == nil || !strings.Contains(last.Err.Error(), "realtime:orders closed") {
		t.Fatalf("expected close error, got %v", last.Err)
	}
}

func TestListenReadTimeout(t *testing.T) {
	srv := mockServer(t, func(ctx context.Context, _ *websocket.Conn) {
		<-ctx.Done()
	})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := Connect(ctx, wsURL(srv))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer func() { _ = c.Close() }()

	ev, ok := <-c.ListenWithTimeout(ctx, 50*time.Millisecond)
	if !ok {
		t.Fatal("expected an event before close")
	}
	if !errors.Is(ev.Err, ErrReadTimeout) {
		t.Fatalf("expected ErrReadTimeout, got %v", ev.Err)
	}
}

func TestHeartbeat(t *testing.T) {
	var beats atomic.Int32
	srv := mockServer(t, func(ctx context.Context, conn *websocket.Conn) {
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var m Message
			_ = json.Unmarshal(data, &m)
			if m.Topic == "phoenix" && m.Event == EventHeartbeat {
				beats.Add(1)
			}
		}
	})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := Connect(ctx, wsURL(srv))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer func() { _ = c.Close() }()

	hbCtx, hbCancel := context.WithCancel(ctx)
	c.StartHeartbeat(hbCtx, 20*time.Millisecond, nil)
	time.Sleep(150 * time.Millisecond)
	hbCancel()

	if beats.Load() < 2 {
		t.Fatalf("expected at least 2 heartbeats, got %d", beats.Load())
	}
}

func TestTrackSendsPresence(t *testing.T) {
	got := make(chan Message, 1)
	srv := mockServer(t, func(ctx context.Context, conn *websocket.Conn) {
		got <- readMessage(t, ctx, conn)
		time.Sleep(100 * time.Millisecond)
	})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := Connect(ctx, wsURL(srv))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer func() { _ = c.Close() }()

	if err := c.Track(ctx, "realtime:presence", map[string]string{"user_id": "u1"}); err != nil {
		t.Fatalf("Track: %v", err)
	}
	m := <-got
	if m.Event != "presence" || !strings.Contains(string(m.Payload), `"event":"track"`) {
		t.Fatalf("unexpected track frame: %+v", m)
	}
}
