package domain

import "math"

// LocatorType is the discriminant written as "@type" inside a serialized locator.
type LocatorType string

// Locator discriminants.
const (
	LocatorTypeAudioBookTime   LocatorType = "LocatorAudioBookTime"
	LocatorTypeHrefProgression LocatorType = "LocatorHrefProgression"
	LocatorTypeLegacyCFI       LocatorType = "LocatorLegacyCFI"
	LocatorTypePage            LocatorType = "LocatorPage"
)

// progressionEpsilon absorbs float noise from JSON round-trips of progression fractions.
const progressionEpsilon = 1e-6

// Locator is a format-specific position inside a book.
type Locator interface {
	Type() LocatorType
	// similar compares positional fields only; callers guarantee equal types.
	similar(other Locator) bool
}

// SimilarLocators reports whether two locators point at the same logical position.
// It is reflexive and symmetric.
func SimilarLocators(a, b Locator) bool {
	a, b = LocatorValue(a), LocatorValue(b)
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Type() != b.Type() {
		return false
	}
	return a.similar(b)
}

// AudioLocator positions inside an audiobook. Version 2 addresses a reading-order item plus
// an offset; version 1 (legacy) addresses chapter/part plus a time offset.
type AudioLocator struct {
	Version int

	// v2
	ReadingOrderItem string
	OffsetMs         int64

	// v1
	Title       string
	AudiobookID string
	Part        int
	Chapter     int
	TimeMs      int64
	DurationMs  int64
}

// Type implements Locator.
func (AudioLocator) Type() LocatorType { return LocatorTypeAudioBookTime }

func (l AudioLocator) similar(other Locator) bool {
	o, ok := asAudio(other)
	if !ok {
		return false
	}
	if l.normalizedVersion() != o.normalizedVersion() {
		return false
	}
	if l.normalizedVersion() >= 2 {
		return l.ReadingOrderItem == o.ReadingOrderItem && l.OffsetMs == o.OffsetMs
	}
	return l.Chapter == o.Chapter && l.Part == o.Part && l.TimeMs == o.TimeMs
}

func (l AudioLocator) normalizedVersion() int {
	if l.Version <= 1 {
		return 1
	}
	return l.Version
}

// HrefProgressionLocator positions inside a reflowable EPUB chapter.
type HrefProgressionLocator struct {
	Href                  string
	ProgressWithinChapter float64
	Page                  *int
}

// Type implements Locator.
func (HrefProgressionLocator) Type() LocatorType { return LocatorTypeHrefProgression }

func (l HrefProgressionLocator) similar(other Locator) bool {
	o, ok := asHref(other)
	if !ok {
		return false
	}
	if l.Href != o.Href || !closeEnough(l.ProgressWithinChapter, o.ProgressWithinChapter) {
		return false
	}
	if l.Page == nil || o.Page == nil {
		return l.Page == nil && o.Page == nil
	}
	return *l.Page == *o.Page
}

// LegacyCFILocator is the pre-Readium-2 EPUB position (idref + content CFI).
type LegacyCFILocator struct {
	IDRef                 string
	ContentCFI            string
	ProgressWithinChapter float64
}

// Type implements Locator.
func (LegacyCFILocator) Type() LocatorType { return LocatorTypeLegacyCFI }

func (l LegacyCFILocator) similar(other Locator) bool {
	o, ok := asLegacy(other)
	if !ok {
		return false
	}
	return l.IDRef == o.IDRef && l.ContentCFI == o.ContentCFI &&
		closeEnough(l.ProgressWithinChapter, o.ProgressWithinChapter)
}

// PageLocator positions inside a PDF.
type PageLocator struct {
	Page int
}

// Type implements Locator.
func (PageLocator) Type() LocatorType { return LocatorTypePage }

func (l PageLocator) similar(other Locator) bool {
	o, ok := asPage(other)
	return ok && l.Page == o.Page
}

func closeEnough(a, b float64) bool {
	return math.Abs(a-b) <= progressionEpsilon
}

// LocatorValue returns the value form of a locator stored by pointer. A typed-nil pointer
// yields nil.
func LocatorValue(l Locator) Locator {
	switch v := l.(type) {
	case *AudioLocator:
		if v != nil {
			return *v
		}
	case *HrefProgressionLocator:
		if v != nil {
			return *v
		}
	case *LegacyCFILocator:
		if v != nil {
			return *v
		}
	case *PageLocator:
		if v != nil {
			return *v
		}
	default:
		return l
	}
	return nil
}

func asAudio(l Locator) (AudioLocator, bool) {
	v, ok := LocatorValue(l).(AudioLocator)
	return v, ok
}

func asHref(l Locator) (HrefProgressionLocator, bool) {
	v, ok := LocatorValue(l).(HrefProgressionLocator)
	return v, ok
}

func asLegacy(l Locator) (LegacyCFILocator, bool) {
	v, ok := LocatorValue(l).(LegacyCFILocator)
	return v, ok
}

func asPage(l Locator) (PageLocator, bool) {
	v, ok := LocatorValue(l).(PageLocator)
	return v, ok
}
