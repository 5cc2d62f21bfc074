//go:build linux

package mpris

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/genricoloni/tabcast/internal/mpris/mocks"
	"github.com/genricoloni/tabcast/internal/protocol"
	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
)

const (
	spotify       = "org.mpris.MediaPlayer2.spotify"
	spotifyUnique = ":1.45"
)

var fixedNow = time.UnixMilli(1_700_000_000_000)

func newTestSource(client DBusClient, opts ...Option) *Source {
	s := NewSource(zap.NewNop(), opts...)
	s.conn = client
	s.now = func() time.Time { return fixedNow }
	s.running = true
	return s
}

func expectProperty(m *mocks.MockDBusClient, dest, prop string, value any, err error) *gomock.Call {
	return m.EXPECT().GetProperty(dest, objectPath, playerIface+"."+prop).Return(dbus.MakeVariant(value), err)
}

// expectTimeline answers the position and rate reads of a playing player
func expectTimeline(m *mocks.MockDBusClient, dest string) {
	expectProperty(m, dest, "Position", int64(42_500_000), nil)
	expectProperty(m, dest, "Rate", 1.5, nil)
}

func nextSession(t *testing.T, s *Source) (Session, bool) {
	t.Helper()
	select {
	case session := <-s.Events():
		return session, true
	default:
		return Session{}, false
	}
}

func TestFetchPlayer(t *testing.T) {
	track := 7
	tests := []struct {
		name        string
		setupMock   func(*mocks.MockDBusClient)
		expectError bool
		want        *Session
	}{
		{
			name: "Playing with full metadata",
			setupMock: func(m *mocks.MockDBusClient) {
				expectProperty(m, spotifyUnique, "Metadata", map[string]dbus.Variant{
					"xesam:title":       dbus.MakeVariant("Stairway to Heaven"),
					"xesam:artist":      dbus.MakeVariant([]string{"Led Zeppelin"}),
					"xesam:album":       dbus.MakeVariant("Led Zeppelin IV"),
					"xesam:trackNumber": dbus.MakeVariant(int32(7)),
					"mpris:artUrl":      dbus.MakeVariant("https://i.scdn.co/image/abc"),
					"mpris:length":      dbus.MakeVariant(int64(482_000_000)),
				}, nil)
				expectProperty(m, spotifyUnique, "PlaybackStatus", "Playing", nil)
				expectTimeline(m, spotifyUnique)
			},
			want: &Session{
				Player: spotify,
				Info: &protocol.PlayInfo{
					Title:       "Stairway to Heaven",
					Artist:      "Led Zeppelin",
					Source:      "dbus::spotify",
					Image:       protocol.ExternalImage("https://i.scdn.co/image/abc"),
					Album:       &protocol.AlbumInfo{Title: "Led Zeppelin IV"},
					TrackNumber: &track,
					Timeline: &protocol.TimelineInfo{
						TS:         float64(fixedNow.UnixMilli()),
						Rate:       1.5,
						ProgressMs: 42_500,
						DurationMs: 482_000,
					},
				},
			},
		},
		{
			name: "Paused",
			setupMock: func(m *mocks.MockDBusClient) {
				expectProperty(m, spotifyUnique, "Metadata", map[string]dbus.Variant{
					"xesam:title": dbus.MakeVariant("Stairway to Heaven"),
				}, nil)
				expectProperty(m, spotifyUnique, "PlaybackStatus", "Paused", nil)
			},
			want: &Session{Player: spotify},
		},
		{
			name: "DBus error",
			setupMock: func(m *mocks.MockDBusClient) {
				expectProperty(m, spotifyUnique, "Metadata", "", errors.New("connection timeout"))
			},
			expectError: true,
		},
		{
			name: "Metadata is not a map",
			setupMock: func(m *mocks.MockDBusClient) {
				expectProperty(m, spotifyUnique, "Metadata", 12345, nil)
			},
		},
		{
			name: "Status is not a string",
			setupMock: func(m *mocks.MockDBusClient) {
				expectProperty(m, spotifyUnique, "Metadata", map[string]dbus.Variant{}, nil)
				expectProperty(m, spotifyUnique, "PlaybackStatus", 3, nil)
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			client := mocks.NewMockDBusClient(ctrl)
			tt.setupMock(client)

			s := newTestSource(client)
			s.addPlayer(spotifyUnique, spotify)

			err := s.fetchPlayer(context.Background(), spotifyUnique)
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}

			got, ok := nextSession(t, s)
			if tt.want == nil {
				assert.False(t, ok, "unexpected session %+v", got)
				return
			}
			require.True(t, ok, "expected a session")
			assert.Equal(t, *tt.want, got)
		})
	}
}

func TestReportCollapsesPauses(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockDBusClient(ctrl)
	expectTimeline(client, spotifyUnique)

	s := newTestSource(client)
	s.addPlayer(spotifyUnique, spotify)
	ctx := context.Background()
	playing := map[string]dbus.Variant{"xesam:title": dbus.MakeVariant("Song")}

	s.report(ctx, spotifyUnique, nil, "Paused")
	s.report(ctx, spotifyUnique, nil, "Stopped")
	s.report(ctx, spotifyUnique, playing, "Playing")
	s.report(ctx, spotifyUnique, nil, "Paused")
	s.report(ctx, ":1.99", playing, "Playing")

	var sessions []Session
	for {
		session, ok := nextSession(t, s)
		if !ok {
			break
		}
		sessions = append(sessions, session)
	}
	require.Len(t, sessions, 3)
	assert.Nil(t, sessions[0].Info)
	assert.Equal(t, "Song", sessions[1].Info.Title)
	assert.Nil(t, sessions[2].Info)
}

func propertiesChanged(sender, iface string, changed map[string]dbus.Variant) *dbus.Signal {
	return &dbus.Signal{
		Sender: sender,
		Path:   objectPath,
		Name:   "org.freedesktop.DBus.Properties.PropertiesChanged",
		Body:   []any{iface, changed, []string{}},
	}
}

func TestHandlePropertiesChanged(t *testing.T) {
	tests := []struct {
		name      string
		signal    *dbus.Signal
		setupMock func(*mocks.MockDBusClient)
		wantTitle string
		wantEvent bool
	}{
		{
			name: "Metadata and status in signal",
			signal: propertiesChanged(spotifyUnique, playerIface, map[string]dbus.Variant{
				"Metadata": dbus.MakeVariant(map[string]dbus.Variant{
					"xesam:title": dbus.MakeVariant("Black Dog"),
				}),
				"PlaybackStatus": dbus.MakeVariant("Playing"),
			}),
			setupMock: func(m *mocks.MockDBusClient) { expectTimeline(m, spotifyUnique) },
			wantTitle: "Black Dog",
			wantEvent: true,
		},
		{
			name: "Status change reads metadata",
			signal: propertiesChanged(spotifyUnique, playerIface, map[string]dbus.Variant{
				"PlaybackStatus": dbus.MakeVariant("Playing"),
			}),
			setupMock: func(m *mocks.MockDBusClient) {
				expectProperty(m, spotifyUnique, "Metadata", map[string]dbus.Variant{
					"xesam:title": dbus.MakeVariant("Rock and Roll"),
				}, nil)
				expectTimeline(m, spotifyUnique)
			},
			wantTitle: "Rock and Roll",
			wantEvent: true,
		},
		{
			name: "Metadata change reads status",
			signal: propertiesChanged(spotifyUnique, playerIface, map[string]dbus.Variant{
				"Metadata": dbus.MakeVariant(map[string]dbus.Variant{
					"xesam:title": dbus.MakeVariant("Kashmir"),
				}),
			}),
			setupMock: func(m *mocks.MockDBusClient) {
				expectProperty(m, spotifyUnique, "PlaybackStatus", "Playing", nil)
				expectTimeline(m, spotifyUnique)
			},
			wantTitle: "Kashmir",
			wantEvent: true,
		},
		{
			name: "Other properties ignored",
			signal: propertiesChanged(spotifyUnique, playerIface, map[string]dbus.Variant{
				"Volume": dbus.MakeVariant(0.5),
			}),
		},
		{
			name: "Other interface ignored",
			signal: propertiesChanged(spotifyUnique, "org.mpris.MediaPlayer2", map[string]dbus.Variant{
				"PlaybackStatus": dbus.MakeVariant("Playing"),
			}),
		},
		{
			name: "Unfollowed sender ignored",
			signal: propertiesChanged(":1.99", playerIface, map[string]dbus.Variant{
				"PlaybackStatus": dbus.MakeVariant("Playing"),
			}),
		},
		{
			name: "Invalid metadata ignored",
			signal: propertiesChanged(spotifyUnique, playerIface, map[string]dbus.Variant{
				"Metadata":       dbus.MakeVariant("nope"),
				"PlaybackStatus": dbus.MakeVariant("Playing"),
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			client := mocks.NewMockDBusClient(ctrl)
			if tt.setupMock != nil {
				tt.setupMock(client)
			}

			s := newTestSource(client)
			s.addPlayer(spotifyUnique, spotify)
			s.handlePropertiesChanged(context.Background(), tt.signal)

			got, ok := nextSession(t, s)
			require.Equal(t, tt.wantEvent, ok)
			if ok {
				require.NotNil(t, got.Info)
				assert.Equal(t, tt.wantTitle, got.Info.Title)
				assert.Equal(t, spotify, got.Player)
			}
		})
	}
}

func nameOwnerChanged(name, oldOwner, newOwner string) *dbus.Signal {
	return &dbus.Signal{
		Sender: "org.freedesktop.DBus",
		Name:   "org.freedesktop.DBus.NameOwnerChanged",
		Body:   []any{name, oldOwner, newOwner},
	}
}

func TestHandleNameOwnerChanged(t *testing.T) {
	t.Run("New player is fetched", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		client := mocks.NewMockDBusClient(ctrl)
		expectProperty(client, ":1.50", "Metadata", map[string]dbus.Variant{
			"xesam:title": dbus.MakeVariant("Intro"),
		}, nil)
		expectProperty(client, ":1.50", "PlaybackStatus", "Playing", nil)
		expectTimeline(client, ":1.50")

		s := newTestSource(client)
		s.handleNameOwnerChanged(context.Background(), nameOwnerChanged("org.mpris.MediaPlayer2.vlc", "", ":1.50"))

		got, ok := nextSession(t, s)
		require.True(t, ok)
		assert.Equal(t, "org.mpris.MediaPlayer2.vlc", got.Player)
		assert.Equal(t, "dbus::vlc", got.Info.Source)
	})

	t.Run("Filtered player is skipped", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		client := mocks.NewMockDBusClient(ctrl)

		s := newTestSource(client, WithPlayers("spotify"))
		s.handleNameOwnerChanged(context.Background(), nameOwnerChanged("org.mpris.MediaPlayer2.vlc", "", ":1.50"))

		_, ok := nextSession(t, s)
		assert.False(t, ok)
		assert.Empty(t, s.players)
	})

	t.Run("Removed player is reported", func(t *testing.T) {
		s := newTestSource(nil)
		s.addPlayer(spotifyUnique, spotify)
		s.handleNameOwnerChanged(context.Background(), nameOwnerChanged(spotify, spotifyUnique, ""))

		got, ok := nextSession(t, s)
		require.True(t, ok)
		assert.Equal(t, Session{Player: spotify, Removed: true}, got)
		assert.Empty(t, s.players)
	})

	t.Run("Unknown removal is silent", func(t *testing.T) {
		s := newTestSource(nil)
		s.handleNameOwnerChanged(context.Background(), nameOwnerChanged(spotify, spotifyUnique, ""))

		_, ok := nextSession(t, s)
		assert.False(t, ok)
	})

	t.Run("Owner transfer keeps the player", func(t *testing.T) {
		s := newTestSource(nil)
		s.addPlayer(spotifyUnique, spotify)
		s.handleNameOwnerChanged(context.Background(), nameOwnerChanged(spotify, spotifyUnique, ":1.60"))

		require.Contains(t, s.players, ":1.60")
		assert.NotContains(t, s.players, spotifyUnique)
		assert.Equal(t, spotify, s.players[":1.60"].name)
	})

	t.Run("Short body ignored", func(t *testing.T) {
		s := newTestSource(nil)
		s.handleNameOwnerChanged(context.Background(), &dbus.Signal{
			Name: "org.freedesktop.DBus.NameOwnerChanged",
			Body: []any{spotify},
		})
		assert.Empty(t, s.players)
	})
}

func TestDetectPlayers(t *testing.T) {
	tests := []struct {
		name        string
		opts        []Option
		setupMock   func(*mocks.MockDBusClient)
		expectError bool
		wantPlayers []string
	}{
		{
			name: "Every player",
			setupMock: func(m *mocks.MockDBusClient) {
				m.EXPECT().ListNames().Return([]string{
					"org.freedesktop.DBus",
					spotify,
					"org.mpris.MediaPlayer2.vlc.instance42",
				}, nil)
				m.EXPECT().GetNameOwner(spotify).Return(spotifyUnique, nil)
				m.EXPECT().GetNameOwner("org.mpris.MediaPlayer2.vlc.instance42").Return(":1.50", nil)
				expectProperty(m, spotifyUnique, "Metadata", 0, nil)
				expectProperty(m, ":1.50", "Metadata", 0, nil)
			},
			wantPlayers: []string{spotify, "org.mpris.MediaPlayer2.vlc.instance42"},
		},
		{
			name: "Selected players",
			opts: []Option{WithPlayers("vlc")},
			setupMock: func(m *mocks.MockDBusClient) {
				m.EXPECT().ListNames().Return([]string{spotify, "org.mpris.MediaPlayer2.vlc.instance42"}, nil)
				m.EXPECT().GetNameOwner("org.mpris.MediaPlayer2.vlc.instance42").Return(":1.50", nil)
				expectProperty(m, ":1.50", "Metadata", 0, nil)
			},
			wantPlayers: []string{"org.mpris.MediaPlayer2.vlc.instance42"},
		},
		{
			name: "Unresolvable player skipped",
			setupMock: func(m *mocks.MockDBusClient) {
				m.EXPECT().ListNames().Return([]string{spotify}, nil)
				m.EXPECT().GetNameOwner(spotify).Return("", errors.New("gone"))
			},
		},
		{
			name: "ListNames fails",
			setupMock: func(m *mocks.MockDBusClient) {
				m.EXPECT().ListNames().Return(nil, errors.New("bus down"))
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			client := mocks.NewMockDBusClient(ctrl)
			tt.setupMock(client)

			s := newTestSource(client, tt.opts...)
			err := s.detectPlayers(context.Background())
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}

			var names []string
			for _, p := range s.players {
				names = append(names, p.name)
			}
			assert.ElementsMatch(t, tt.wantPlayers, names)
		})
	}
}

func TestWants(t *testing.T) {
	tests := []struct {
		name    string
		players []string
		busName string
		want    bool
	}{
		{name: "any player", busName: spotify, want: true},
		{name: "not a player", busName: "org.freedesktop.Notifications", want: false},
		{name: "short name", players: []string{"spotify"}, busName: spotify, want: true},
		{name: "full name", players: []string{spotify}, busName: spotify, want: true},
		{name: "instance", players: []string{"vlc"}, busName: "org.mpris.MediaPlayer2.vlc.instance42", want: true},
		{name: "prefix is not a match", players: []string{"vl"}, busName: "org.mpris.MediaPlayer2.vlc", want: false},
		{name: "other player", players: []string{"vlc"}, busName: spotify, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := options{players: tt.players}
			assert.Equal(t, tt.want, o.wants(tt.busName))
		})
	}
}

func TestArtistValue(t *testing.T) {
	s := NewSource(zap.NewNop())
	tests := []struct {
		name  string
		value dbus.Variant
		want  string
	}{
		{name: "list", value: dbus.MakeVariant([]string{"Simon", "Garfunkel"}), want: "Simon, Garfunkel"},
		{name: "string", value: dbus.MakeVariant("Adele"), want: "Adele"},
		{name: "missing", value: dbus.Variant{}, want: ""},
		{name: "wrong type", value: dbus.MakeVariant(42), want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.artistValue(tt.value))
		})
	}
}

func TestStartAndStop(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockDBusClient(ctrl)

	signals := make(chan chan<- *dbus.Signal, 1)
	client.EXPECT().AddMatchSignal(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	client.EXPECT().AddMatchSignal(gomock.Any(), gomock.Any()).Return(nil)
	client.EXPECT().Signal(gomock.Any()).Do(func(ch chan<- *dbus.Signal) { signals <- ch })
	client.EXPECT().ListNames().Return([]string{spotify}, nil)
	client.EXPECT().GetNameOwner(spotify).Return(spotifyUnique, nil)
	expectProperty(client, spotifyUnique, "Metadata", map[string]dbus.Variant{}, nil)
	expectProperty(client, spotifyUnique, "PlaybackStatus", "Stopped", nil)
	expectTimeline(client, spotifyUnique)
	client.EXPECT().Close().Return(nil)

	s := NewSource(zap.NewNop())
	s.dial = func() (DBusClient, error) { return client, nil }

	done := make(chan error, 1)
	go func() { done <- s.Start(context.Background()) }()

	session := <-s.Events()
	assert.Equal(t, Session{Player: spotify}, session)

	ch := <-signals
	ch <- propertiesChanged(spotifyUnique, playerIface, map[string]dbus.Variant{
		"Metadata": dbus.MakeVariant(map[string]dbus.Variant{
			"xesam:title": dbus.MakeVariant("Song 2"),
		}),
		"PlaybackStatus": dbus.MakeVariant("Playing"),
	})
	session = <-s.Events()
	require.NotNil(t, session.Info)
	assert.Equal(t, "Song 2", session.Info.Title)

	require.NoError(t, s.Stop(context.Background()))
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return")
	}

	_, open := <-s.Events()
	assert.False(t, open, "events are closed after Stop")
	assert.NoError(t, s.Stop(context.Background()), "second Stop is a no-op")
}

func TestStartErrors(t *testing.T) {
	t.Run("Bus unavailable", func(t *testing.T) {
		s := NewSource(zap.NewNop())
		s.dial = func() (DBusClient, error) { return nil, errors.New("no session bus") }

		err := s.Start(context.Background())
		require.Error(t, err)
		assert.False(t, s.running)
	})

	t.Run("Match rule rejected", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		client := mocks.NewMockDBusClient(ctrl)
		client.EXPECT().AddMatchSignal(gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("denied"))
		client.EXPECT().Close().Return(nil)

		s := NewSource(zap.NewNop())
		s.dial = func() (DBusClient, error) { return client, nil }

		err := s.Start(context.Background())
		require.Error(t, err)
		assert.False(t, s.running)
	})
}
