package nowplaying

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/genricoloni/tabcast/internal/protocol"
)

// ErrUnclosedBrace is returned for a format ending inside an interpolation
var ErrUnclosedBrace = errors.New("expected closing brace")

type field int

const (
	fieldTitle field = iota
	fieldArtist
	fieldAlbumName
	fieldAlbumTracks
	fieldTrackNumber
	fieldSource
	fieldDuration
)

// fields are the interpolations a format may use. A trailing ? marks fields
// that render empty when the session does not carry them.
var fields = map[string]field{
	"title":         fieldTitle,
	"artist":        fieldArtist,
	"album-name?":   fieldAlbumName,
	"album-tracks?": fieldAlbumTracks,
	"track-number?": fieldTrackNumber,
	"source":        fieldSource,
	"duration?":     fieldDuration,
}

type part struct {
	text        string
	field       field
	interpolate bool
}

// Format renders a session with a string such as "{artist} - {title}".
// "{{" writes a literal brace.
type Format struct {
	parts []part
}

// ParseFormat compiles a format string
func ParseFormat(s string) (*Format, error) {
	var (
		parts []part
		text  strings.Builder
	)
	flush := func() {
		if text.Len() > 0 {
			parts = append(parts, part{text: text.String()})
			text.Reset()
		}
	}

	for i := 0; i < len(s); i++ {
		if s[i] != '{' {
			text.WriteByte(s[i])
			continue
		}
		if i+1 < len(s) && s[i+1] == '{' {
			text.WriteByte('{')
			i++
			continue
		}
		end := strings.IndexByte(s[i+1:], '}')
		if end < 0 {
			return nil, fmt.Errorf("%w at column %d", ErrUnclosedBrace, len(s))
		}
		name := s[i+1 : i+1+end]
		f, ok := fields[name]
		if !ok {
			return nil, fmt.Errorf("%q is not a valid interpolation", name)
		}
		flush()
		parts = append(parts, part{field: f, interpolate: true})
		i += end + 1
	}
	flush()

	return &Format{parts: parts}, nil
}

// RawFormat renders s verbatim
func RawFormat(s string) *Format {
	return &Format{parts: []part{{text: s}}}
}

// Render formats info
func (f *Format) Render(info *protocol.PlayInfo) string {
	var b strings.Builder
	for _, p := range f.parts {
		if !p.interpolate {
			b.WriteString(p.text)
			continue
		}
		renderField(&b, p.field, info)
	}
	return b.String()
}

func renderField(b *strings.Builder, f field, info *protocol.PlayInfo) {
	switch f {
	case fieldTitle:
		b.WriteString(info.Title)
	case fieldArtist:
		b.WriteString(info.Artist)
	case fieldAlbumName:
		if info.Album != nil {
			b.WriteString(info.Album.Title)
		}
	case fieldAlbumTracks:
		if info.Album != nil && info.Album.TrackCount > 0 {
			b.WriteString(strconv.Itoa(info.Album.TrackCount))
		}
	case fieldTrackNumber:
		if info.TrackNumber != nil && *info.TrackNumber > 0 {
			b.WriteString(strconv.Itoa(*info.TrackNumber))
		}
	case fieldSource:
		b.WriteString(info.Source)
	case fieldDuration:
		if info.Timeline != nil {
			secs := info.Timeline.DurationMs / 1000
			fmt.Fprintf(b, "%dm%ds", secs/60, secs%60)
		}
	}
}
