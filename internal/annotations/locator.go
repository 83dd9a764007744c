package annotations

import (
	"encoding/json/v2"
	"fmt"

	"github.com/listenupapp/listenup-sync/internal/domain"
)

// Per-type wire shapes. Field order is the serialized order.

type audioV2Wire struct {
	Type             domain.LocatorType `json:"@type"`
	Version          int                `json:"@version"`
	ReadingOrderItem string             `json:"readingOrderItem"`
	OffsetMs         int64              `json:"readingOrderItemOffsetMilliseconds"`
}

type audioV1Wire struct {
	Type        domain.LocatorType `json:"@type"`
	Title       string             `json:"title,omitempty"`
	AudiobookID string             `json:"audiobookID,omitempty"`
	Part        int                `json:"part"`
	Chapter     int                `json:"chapter"`
	Time        int64              `json:"time"`
	Duration    int64              `json:"duration,omitzero"`
}

type hrefWire struct {
	Type                  domain.LocatorType `json:"@type"`
	Href                  string             `json:"href"`
	ProgressWithinChapter float64            `json:"progressWithinChapter"`
	Page                  *int               `json:"page,omitempty"`
}

type legacyCFIWire struct {
	Type                  domain.LocatorType `json:"@type"`
	IDRef                 string             `json:"idref"`
	ContentCFI            string             `json:"contentCFI"`
	ProgressWithinChapter float64            `json:"progressWithinChapter"`
}

type pageWire struct {
	Type domain.LocatorType `json:"@type"`
	Page int                `json:"page"`
}

// anyLocatorWire is the union of every known field. Pointers record presence.
type anyLocatorWire struct {
	Type    domain.LocatorType `json:"@type"`
	Version *int               `json:"@version"`

	ReadingOrderItem string `json:"readingOrderItem"`
	OffsetMs         *int64 `json:"readingOrderItemOffsetMilliseconds"`

	Title       string `json:"title"`
	AudiobookID string `json:"audiobookID"`
	Part        *int   `json:"part"`
	Chapter     *int   `json:"chapter"`
	Time        *int64 `json:"time"`
	Duration    *int64 `json:"duration"`

	Href                  string   `json:"href"`
	ProgressWithinChapter *float64 `json:"progressWithinChapter"`
	Page                  *int     `json:"page"`

	IDRef      string `json:"idref"`
	ContentCFI string `json:"contentCFI"`
}

// EncodeLocator serializes a locator to the JSON string carried in a fragment selector.
func EncodeLocator(l domain.Locator) (string, error) {
	var v any
	switch loc := domain.LocatorValue(l).(type) {
	case domain.AudioLocator:
		if loc.Version >= 2 {
			v = audioV2Wire{
				Type:             domain.LocatorTypeAudioBookTime,
				Version:          loc.Version,
				ReadingOrderItem: loc.ReadingOrderItem,
				OffsetMs:         loc.OffsetMs,
			}
		} else {
			v = audioV1Wire{
				Type:        domain.LocatorTypeAudioBookTime,
				Title:       loc.Title,
				AudiobookID: loc.AudiobookID,
				Part:        loc.Part,
				Chapter:     loc.Chapter,
				Time:        loc.TimeMs,
				Duration:    loc.DurationMs,
			}
		}
	case domain.HrefProgressionLocator:
		v = hrefWire{
			Type:                  domain.LocatorTypeHrefProgression,
			Href:                  loc.Href,
			ProgressWithinChapter: loc.ProgressWithinChapter,
			Page:                  loc.Page,
		}
	case domain.LegacyCFILocator:
		v = legacyCFIWire{
			Type:                  domain.LocatorTypeLegacyCFI,
			IDRef:                 loc.IDRef,
			ContentCFI:            loc.ContentCFI,
			ProgressWithinChapter: loc.ProgressWithinChapter,
		}
	case domain.PageLocator:
		v = pageWire{Type: domain.LocatorTypePage, Page: loc.Page}
	default:
		return "", fmt.Errorf("%w: unsupported locator %T", ErrMalformedLocator, l)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedLocator, err)
	}
	return string(data), nil
}

// DecodeLocator parses a selector value. Tagged payloads are decoded by their "@type".
// Payloads without a tag predate the discriminant and go through decodeUntagged.
func DecodeLocator(value string) (domain.Locator, error) {
	var w anyLocatorWire
	if err := json.Unmarshal([]byte(value), &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedLocator, err)
	}

	switch w.Type {
	case "":
		return decodeUntagged(&w)
	case domain.LocatorTypeAudioBookTime:
		if loc, ok := w.audio(); ok {
			return loc, nil
		}
	case domain.LocatorTypeHrefProgression:
		if loc, ok := w.href(); ok {
			return loc, nil
		}
	case domain.LocatorTypeLegacyCFI:
		if loc, ok := w.legacyCFI(); ok {
			return loc, nil
		}
	case domain.LocatorTypePage:
		if w.Page != nil {
			return domain.PageLocator{Page: *w.Page}, nil
		}
	default:
		return nil, fmt.Errorf("%w: @type %q", ErrUnknownLocator, w.Type)
	}
	return nil, fmt.Errorf("%w: %s missing required fields", ErrMalformedLocator, w.Type)
}

// decodeUntagged is the compatibility path for locators written before "@type" existed.
// Decoders are tried in a fixed order: audio, href+progression, legacy CFI.
func decodeUntagged(w *anyLocatorWire) (domain.Locator, error) {
	if loc, ok := w.audio(); ok {
		return loc, nil
	}
	if loc, ok := w.href(); ok {
		return loc, nil
	}
	if loc, ok := w.legacyCFI(); ok {
		return loc, nil
	}
	return nil, ErrUnknownLocator
}

func (w *anyLocatorWire) audio() (domain.AudioLocator, bool) {
	if (w.Version != nil && *w.Version >= 2) || w.ReadingOrderItem != "" {
		if w.ReadingOrderItem == "" || w.OffsetMs == nil {
			return domain.AudioLocator{}, false
		}
		version := 2
		if w.Version != nil {
			version = *w.Version
		}
		return domain.AudioLocator{
			Version:          version,
			ReadingOrderItem: w.ReadingOrderItem,
			OffsetMs:         *w.OffsetMs,
		}, true
	}

	if w.Time == nil || w.Chapter == nil {
		return domain.AudioLocator{}, false
	}
	loc := domain.AudioLocator{
		Version:     1,
		Title:       w.Title,
		AudiobookID: w.AudiobookID,
		Chapter:     *w.Chapter,
		TimeMs:      *w.Time,
	}
	if w.Part != nil {
		loc.Part = *w.Part
	}
	if w.Duration != nil {
		loc.DurationMs = *w.Duration
	}
	return loc, true
}

func (w *anyLocatorWire) href() (domain.HrefProgressionLocator, bool) {
	if w.Href == "" || w.ProgressWithinChapter == nil {
		return domain.HrefProgressionLocator{}, false
	}
	return domain.HrefProgressionLocator{
		Href:                  w.Href,
		ProgressWithinChapter: *w.ProgressWithinChapter,
		Page:                  w.Page,
	}, true
}

func (w *anyLocatorWire) legacyCFI() (domain.LegacyCFILocator, bool) {
	if w.IDRef == "" {
		return domain.LegacyCFILocator{}, false
	}
	loc := domain.LegacyCFILocator{IDRef: w.IDRef, ContentCFI: w.ContentCFI}
	if w.ProgressWithinChapter != nil {
		loc.ProgressWithinChapter = *w.ProgressWithinChapter
	}
	return loc, true
}
