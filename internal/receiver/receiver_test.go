package receiver

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/genricoloni/tabcast/internal/protocol"
	"github.com/genricoloni/tabcast/internal/tabstate"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func startReceiver(t *testing.T, opts ...Option) (*Receiver, *httptest.Server, chan Update) {
	t.Helper()
	updates := make(chan Update, 16)
	r := New(zap.NewNop(), func(u Update) { updates <- u }, opts...)
	srv := httptest.NewServer(r.Routes())
	t.Cleanup(func() {
		_ = r.Close()
		srv.Close()
	})
	return r, srv, updates
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg protocol.Message) {
	t.Helper()
	frame, err := protocol.Encode(msg)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

func next(t *testing.T, updates chan Update) Update {
	t.Helper()
	select {
	case u := <-updates:
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("no update received")
		return Update{}
	}
}

func TestReceivesSessions(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		msg       protocol.Message
		wantTitle tabstate.TitleData
	}{
		{
			name: "current protocol",
			path: CurrentPath,
			msg: protocol.Active{PlayInfo: &protocol.PlayInfo{
				Title:  "Song",
				Artist: "Band",
				Source: "https://www.youtube.com/watch?v=1",
			}},
			wantTitle: tabstate.TitleData{Title: "Song", Subtitle: "Band"},
		},
		{
			name: "legacy protocol",
			path: LegacyPath,
			msg: protocol.Active{Legacy: &protocol.LegacyEvent{
				Metadata: protocol.LegacyMetadata{Title: "Old Song", Artist: "Old Band"},
			}},
			wantTitle: tabstate.TitleData{Title: "Old Song", Subtitle: "Old Band"},
		},
		{
			name: "long title cleaned up",
			path: CurrentPath,
			msg: protocol.Active{PlayInfo: &protocol.PlayInfo{
				Title: "Some Band - A Very Long Song Name (Official Music Video) [Remastered 2011]",
			}},
			wantTitle: tabstate.TitleData{Title: "A Very Long Song Name", Subtitle: "Some Band"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, srv, updates := startReceiver(t)
			conn := dial(t, srv, tt.path)

			send(t, conn, tt.msg)
			u := next(t, updates)
			assert.True(t, u.Active)
			assert.NotEmpty(t, u.ClientID)
			assert.Equal(t, tt.wantTitle, u.Display())

			send(t, conn, protocol.Inactive{})
			u = next(t, updates)
			assert.False(t, u.Active)
			assert.False(t, u.Disconnected)
			assert.Equal(t, tabstate.TitleData{}, u.Display())
		})
	}
}

func TestPingsClients(t *testing.T) {
	_, srv, _ := startReceiver(t, WithPingInterval(20*time.Millisecond))
	conn := dial(t, srv, CurrentPath)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	msg, err := protocol.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, protocol.Ping{}, msg)
}

func TestAnswersPing(t *testing.T) {
	_, srv, _ := startReceiver(t)
	conn := dial(t, srv, CurrentPath)

	send(t, conn, protocol.Ping{})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"Pong"}`, string(data))
}

func TestDropsSilentClient(t *testing.T) {
	r, srv, updates := startReceiver(t, WithIdleTimeout(100*time.Millisecond))
	conn := dial(t, srv, CurrentPath)

	send(t, conn, protocol.Active{PlayInfo: &protocol.PlayInfo{Title: "Song"}})
	assert.True(t, next(t, updates).Active)

	u := next(t, updates)
	assert.False(t, u.Active, "silent client reported inactive")
	assert.True(t, u.Disconnected)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Eventually(t, func() bool { return r.Clients() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestIgnoresMalformedFrames(t *testing.T) {
	_, srv, updates := startReceiver(t)
	conn := dial(t, srv, CurrentPath)

	for _, frame := range []string{`not json`, `{"type":"Bogus"}`, `{"type":"Active"}`} {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
	}
	send(t, conn, protocol.Active{PlayInfo: &protocol.PlayInfo{Title: "Song"}})

	u := next(t, updates)
	assert.True(t, u.Active)
	assert.Equal(t, "Song", u.PlayInfo.Title)
}

func TestCloseDisconnectsClients(t *testing.T) {
	r, srv, updates := startReceiver(t)
	conn := dial(t, srv, CurrentPath)
	assert.Eventually(t, func() bool { return r.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, r.Close())
	u := next(t, updates)
	assert.False(t, u.Active)
	assert.True(t, u.Disconnected)
	assert.Equal(t, 0, r.Clients())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestCallbackPanicRecovered(t *testing.T) {
	calls := make(chan struct{}, 4)
	r := New(zap.NewNop(), func(Update) {
		calls <- struct{}{}
		panic("boom")
	})
	srv := httptest.NewServer(r.Routes())
	t.Cleanup(func() {
		_ = r.Close()
		srv.Close()
	})
	conn := dial(t, srv, CurrentPath)

	send(t, conn, protocol.Inactive{})
	send(t, conn, protocol.Inactive{})
	for range 2 {
		select {
		case <-calls:
		case <-time.After(2 * time.Second):
			t.Fatal("callback not invoked after panic")
		}
	}
}

func TestUpdateInfo(t *testing.T) {
	tests := []struct {
		name   string
		update Update
		want   *protocol.PlayInfo
	}{
		{
			name:   "inactive",
			update: Update{ClientID: "a"},
		},
		{
			name: "current protocol keeps its fields",
			update: Update{Active: true, PlayInfo: &protocol.PlayInfo{
				Title:    "Song",
				Artist:   "Band",
				Source:   "https://music.youtube.com/watch?v=1",
				Timeline: &protocol.TimelineInfo{TS: 1, Rate: 1, ProgressMs: 2000, DurationMs: 3000},
			}},
			want: &protocol.PlayInfo{
				Title:    "Song",
				Artist:   "Band",
				Source:   "https://music.youtube.com/watch?v=1",
				Timeline: &protocol.TimelineInfo{TS: 1, Rate: 1, ProgressMs: 2000, DurationMs: 3000},
			},
		},
		{
			name: "long title cleaned up",
			update: Update{Active: true, PlayInfo: &protocol.PlayInfo{
				Title:  "Some Band - A Very Long Song Name (Official Music Video) [Remastered 2011]",
				Source: "youtube",
			}},
			want: &protocol.PlayInfo{Title: "A Very Long Song Name", Artist: "Some Band", Source: "youtube"},
		},
		{
			name: "legacy converted",
			update: Update{Active: true, Legacy: &protocol.LegacyEvent{
				Metadata: protocol.LegacyMetadata{Title: "Old Song", Artist: "Old Band", Artwork: "https://img/1.jpg"},
				Position: &protocol.LegacyPosition{Rate: 1, Timestamp: 1700, Position: 12.5, Duration: 200},
			}},
			want: &protocol.PlayInfo{
				Title:    "Old Song",
				Artist:   "Old Band",
				Source:   "legacy",
				Image:    protocol.ExternalImage("https://img/1.jpg"),
				Timeline: &protocol.TimelineInfo{TS: 1700, Rate: 1, ProgressMs: 12500, DurationMs: 200000},
			},
		},
		{
			name:   "active without body",
			update: Update{Active: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.update.Info())
		})
	}
}
