// Package mpris follows local media players over the D-Bus MPRIS interface
// and reports them as sessions next to the browser ones.
package mpris

import (
	"strings"

	"github.com/genricoloni/tabcast/internal/protocol"
)

const (
	namePrefix   = "org.mpris.MediaPlayer2."
	objectPath   = "/org/mpris/MediaPlayer2"
	playerIface  = "org.mpris.MediaPlayer2.Player"
	sourcePrefix = "dbus::"
)

// Session is the state of one player. Info is nil while the player is not
// playing; Removed marks a player that left the bus.
type Session struct {
	Player  string
	Info    *protocol.PlayInfo
	Removed bool
}

// Option configures a Source
type Option func(*options)

type options struct {
	players []string
}

// WithPlayers restricts the source to the named players. Names may be given
// in full or without the "org.mpris.MediaPlayer2." prefix.
func WithPlayers(names ...string) Option {
	return func(o *options) { o.players = append(o.players, names...) }
}

// wants reports whether busName belongs to a followed player. Instances such
// as "vlc.instance1234" match their base name.
func (o *options) wants(busName string) bool {
	if !strings.HasPrefix(busName, namePrefix) {
		return false
	}
	if len(o.players) == 0 {
		return true
	}
	short := strings.TrimPrefix(busName, namePrefix)
	for _, p := range o.players {
		p = strings.TrimPrefix(p, namePrefix)
		if short == p || strings.HasPrefix(short, p+".") {
			return true
		}
	}
	return false
}
