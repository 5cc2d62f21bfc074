package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// PlayInfo is the body of an Active message in the current protocol
type PlayInfo struct {
	Title       string        `json:"title"`
	Artist      string        `json:"artist"`
	Source      string        `json:"source"`
	Image       *ImageInfo    `json:"image"`
	Timeline    *TimelineInfo `json:"timeline"`
	Album       *AlbumInfo    `json:"album"`
	TrackNumber *int          `json:"trackNumber"`
}

// TimelineInfo describes playback progress at a point in time
type TimelineInfo struct {
	// TS is the epoch timestamp (ms) at which ProgressMs was sampled
	TS         float64 `json:"ts"`
	Rate       float64 `json:"rate"`
	ProgressMs int64   `json:"progressMs"`
	DurationMs int64   `json:"durationMs"`
}

// AlbumInfo describes the album of the playing track
type AlbumInfo struct {
	Title      string `json:"title"`
	TrackCount int    `json:"trackCount"`
}

// InternalImage references an image held by the display server
type InternalImage struct {
	ID      int `json:"id"`
	EpochID int `json:"epochId"`
}

// ImageInfo is either an external URL or an InternalImage.
// On the wire it is a JSON string or an object.
type ImageInfo struct {
	URL      string
	Internal *InternalImage
}

// ExternalImage returns an ImageInfo pointing at url
func ExternalImage(url string) *ImageInfo {
	return &ImageInfo{URL: url}
}

// MarshalJSON encodes the image as a string or an object
func (i ImageInfo) MarshalJSON() ([]byte, error) {
	if i.Internal != nil {
		return json.Marshal(i.Internal)
	}
	return json.Marshal(i.URL)
}

// UnmarshalJSON accepts a string or an {id, epochId} object
func (i *ImageInfo) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty image")
	}
	switch data[0] {
	case '"':
		*i = ImageInfo{}
		return json.Unmarshal(data, &i.URL)
	case '{':
		var internal InternalImage
		if err := json.Unmarshal(data, &internal); err != nil {
			return err
		}
		*i = ImageInfo{Internal: &internal}
		return nil
	default:
		return fmt.Errorf("image must be a string or an object, got %s", data)
	}
}

// LegacyEvent is the body of an Active message in the legacy protocol
type LegacyEvent struct {
	Metadata LegacyMetadata  `json:"metadata"`
	Position *LegacyPosition `json:"position,omitempty"`
}

// LegacyMetadata is the metadata part of a LegacyEvent
type LegacyMetadata struct {
	Title   string `json:"title"`
	Artist  string `json:"artist,omitempty"`
	Artwork string `json:"artwork,omitempty"`
}

// LegacyPosition is the timeline part of a LegacyEvent, in seconds
type LegacyPosition struct {
	Rate      float64 `json:"rate"`
	Timestamp float64 `json:"timestamp"`
	Position  float64 `json:"position"`
	Duration  float64 `json:"duration"`
}
