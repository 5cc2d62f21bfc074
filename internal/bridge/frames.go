package bridge

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/genricoloni/tabcast/internal/domain"
	"github.com/genricoloni/tabcast/internal/protocol"
)

// Frame types sent by the extension shim
const (
	frameSnapshot           = "Snapshot"
	frameTabCreated         = "TabCreated"
	frameTabRemoved         = "TabRemoved"
	frameTabUpdated         = "TabUpdated"
	frameTabActivated       = "TabActivated"
	frameWindowFocusChanged = "WindowFocusChanged"
	frameWindowUpdated      = "WindowUpdated"
	frameWindowRemoved      = "WindowRemoved"
	frameMetadata           = "Metadata"
	framePlayPosition       = "PlayPosition"
)

var errMissingData = errors.New("missing data")

type snapshotData struct {
	Windows []domain.WindowRecord `json:"windows"`
}

type tabRefData struct {
	TabID *domain.TabID `json:"tabId"`
}

type tabUpdatedData struct {
	TabID *domain.TabID     `json:"tabId"`
	Tab   *domain.TabRecord `json:"tab"`
}

type windowRefData struct {
	WindowID *domain.WindowID `json:"windowId"`
}

type metadataData struct {
	TabID    *domain.TabID         `json:"tabId"`
	Metadata *domain.MediaMetadata `json:"metadata"`
}

type positionData struct {
	TabID    *domain.TabID        `json:"tabId"`
	Position *domain.PlayPosition `json:"position"`
}

// decodeFrame turns a shim frame into a browser event
func decodeFrame(env protocol.Envelope) (domain.BrowserEvent, error) {
	switch env.Type {
	case frameSnapshot:
		var data snapshotData
		if err := unmarshal(env, &data); err != nil {
			return nil, err
		}
		for i := range data.Windows {
			fillWindowIDs(&data.Windows[i])
		}
		return domain.SnapshotEvent{Windows: data.Windows}, nil

	case frameTabCreated:
		var rec domain.TabRecord
		if err := unmarshal(env, &rec); err != nil {
			return nil, err
		}
		return domain.TabCreatedEvent{Tab: rec}, nil

	case frameTabRemoved:
		var data tabRefData
		if err := unmarshal(env, &data); err != nil {
			return nil, err
		}
		if data.TabID == nil {
			return nil, missing(env, "tabId")
		}
		return domain.TabRemovedEvent{TabID: *data.TabID}, nil

	case frameTabUpdated:
		var data tabUpdatedData
		if err := unmarshal(env, &data); err != nil {
			return nil, err
		}
		if data.TabID == nil {
			return nil, missing(env, "tabId")
		}
		// without the record the cache would answer GetTab with stale state
		if data.Tab == nil {
			return nil, missing(env, "tab")
		}
		return tabUpdated{TabUpdatedEvent: domain.TabUpdatedEvent{TabID: *data.TabID}, record: data.Tab}, nil

	case frameTabActivated:
		var info domain.ActivateInfo
		if err := unmarshal(env, &info); err != nil {
			return nil, err
		}
		return domain.TabActivatedEvent{Info: info}, nil

	case frameWindowFocusChanged:
		var data windowRefData
		if err := unmarshal(env, &data); err != nil {
			return nil, err
		}
		if data.WindowID == nil {
			return nil, missing(env, "windowId")
		}
		return domain.WindowFocusChangedEvent{WindowID: *data.WindowID}, nil

	case frameWindowUpdated:
		var rec domain.WindowRecord
		if err := unmarshal(env, &rec); err != nil {
			return nil, err
		}
		if rec.ID == nil {
			return nil, missing(env, "id")
		}
		return domain.WindowUpdatedEvent{Window: rec}, nil

	case frameWindowRemoved:
		var data windowRefData
		if err := unmarshal(env, &data); err != nil {
			return nil, err
		}
		if data.WindowID == nil {
			return nil, missing(env, "windowId")
		}
		return domain.WindowRemovedEvent{WindowID: *data.WindowID}, nil

	case frameMetadata:
		var data metadataData
		if err := unmarshal(env, &data); err != nil {
			return nil, err
		}
		if data.TabID == nil {
			return nil, missing(env, "tabId")
		}
		return domain.MetadataEvent{TabID: *data.TabID, Metadata: data.Metadata}, nil

	case framePlayPosition:
		var data positionData
		if err := unmarshal(env, &data); err != nil {
			return nil, err
		}
		if data.TabID == nil {
			return nil, missing(env, "tabId")
		}
		return domain.PlayPositionEvent{TabID: *data.TabID, Position: data.Position}, nil

	default:
		return nil, &protocol.DecodeError{Kind: protocol.UnknownType, Type: env.Type}
	}
}

// tabUpdated carries the record sent along with the update so the cache can be refreshed
// before the event is published
type tabUpdated struct {
	domain.TabUpdatedEvent
	record *domain.TabRecord
}

func unmarshal(env protocol.Envelope, v any) error {
	if len(env.Data) == 0 {
		return &protocol.DecodeError{Kind: protocol.InvalidData, Type: env.Type, Err: errMissingData}
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return &protocol.DecodeError{Kind: protocol.InvalidData, Type: env.Type, Err: err}
	}
	return nil
}

func missing(env protocol.Envelope, field string) error {
	return &protocol.DecodeError{
		Kind: protocol.InvalidData,
		Type: env.Type,
		Err:  fmt.Errorf("missing %s", field),
	}
}

// fillWindowIDs sets the window id of enumerated tabs that omit it
func fillWindowIDs(w *domain.WindowRecord) {
	if w.ID == nil {
		return
	}
	for i := range w.Tabs {
		if w.Tabs[i].WindowID == nil {
			w.Tabs[i].WindowID = domain.WindowIDPtr(*w.ID)
		}
	}
}
