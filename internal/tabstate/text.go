package tabstate

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// maxSafeLength is the length above which the display side cleans up titles
const maxSafeLength = 50

var (
	// a dash inside one parenthesis group, e.g. "(Forsen-Remix)"
	parenthesizedDash = regexp.MustCompile(`\([^()]+-[^()]+\)`)
	// trailing " - YouTube" style site suffix of page titles
	siteSuffix = regexp.MustCompile(` +- [^-]+$`)
	// bracketed annotations, greedy like the display client
	annotationGroups = regexp.MustCompile(`(:?\(.+\)|\[.+\]|\{.+\})`)
	spaceRun         = regexp.MustCompile(` +`)
)

// SplitTitle splits a raw title into title and artist.
//
// A title with a dash is split on every dash: the first piece is the artist
// and the remaining pieces are joined with a single space. This is skipped when
// the title contains a dash inside a parenthesis group. Titles containing "by"
// are split the other way round ("Song by Artist"). The heuristic is lossy and
// consumers depend on its exact output.
func SplitTitle(raw string) (title, artist string) {
	title, artist, _ = splitTitle(raw)
	return title, artist
}

// splitTitle is SplitTitle that also reports whether an artist piece was
// split off, which may be empty as in "- Song"
func splitTitle(raw string) (title, artist string, split bool) {
	if strings.Contains(raw, "-") && !parenthesizedDash.MatchString(raw) {
		parts := strings.Split(raw, "-")
		return strings.TrimSpace(strings.Join(parts[1:], " ")), strings.TrimSpace(parts[0]), true
	}
	if strings.Contains(raw, "by") {
		parts := strings.Split(raw, "by")
		return strings.TrimSpace(parts[0]), strings.TrimSpace(strings.Join(parts[1:], " ")), true
	}
	return strings.TrimSpace(raw), "", false
}

// stripSiteSuffix removes " - YouTube" and similar suffixes browsers show in tab titles
func stripSiteSuffix(pageTitle string) string {
	return siteSuffix.ReplaceAllString(pageTitle, "")
}

// TitleData is what the overlay renders: a title line and an optional subtitle
type TitleData struct {
	Title    string
	Subtitle string
}

// CleanupTitle shortens titles and subtitles longer than 50 characters by
// removing bracketed annotations. If the cleaned title exposes a dash it is
// re-split into title and subtitle.
func CleanupTitle(data TitleData) TitleData {
	if utf8.RuneCountInString(data.Title) > maxSafeLength {
		title := cleanupTooLong(data.Title)
		subtitle := data.Subtitle
		if idx := strings.Index(title, "-"); idx != -1 {
			subtitle = strings.TrimSpace(title[:idx])
			title = strings.TrimSpace(title[idx+1:])
		}
		if utf8.RuneCountInString(subtitle) > maxSafeLength {
			subtitle = cleanupTooLong(subtitle)
		}
		return TitleData{Title: title, Subtitle: subtitle}
	}
	if utf8.RuneCountInString(data.Subtitle) > maxSafeLength {
		return TitleData{Title: data.Title, Subtitle: cleanupTooLong(data.Subtitle)}
	}
	return data
}

func cleanupTooLong(s string) string {
	s = annotationGroups.ReplaceAllString(s, "")
	// only the first run of spaces is collapsed
	if loc := spaceRun.FindStringIndex(s); loc != nil {
		s = s[:loc[0]] + " " + s[loc[1]:]
	}
	return strings.TrimSpace(s)
}
