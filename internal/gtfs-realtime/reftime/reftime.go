// Package reftime reconciles feed-relative time with the local clock.
//
// Countdowns are computed against the publisher clock carried in the feed
// header whenever one is present, so a drifting kiosk clock does not skew
// the board. The local clock is only a fallback.
package reftime

import (
	"math"
	"time"

	"github.com/transitboard/pkg/gtfs-realtime/models"
)

type Source int

const (
	SourceFeedHeader Source = iota
	SourceLocalClock
)

func (s Source) String() string {
	if s == SourceFeedHeader {
		return "feed_header"
	}
	return "local_clock"
}

// ResolveReferenceTime returns the reference epoch seconds for feed
func ResolveReferenceTime(feed *models.Feed, now func() time.Time) (int64, Source) {
	if feed != nil {
		if ts, ok := models.ToEpochSeconds(feed.Header.Timestamp); ok && ts > 0 {
			return ts, SourceFeedHeader
		}
	}
	if now == nil {
		now = time.Now
	}
	return now().Unix(), SourceLocalClock
}

// Window bounds which predictions are shown
type Window struct {
	// DepartureGrace is how far in the past an event may be and still count
	// as boarding now.
	DepartureGrace time.Duration
	MaxLookahead   time.Duration
}

// MinutesUntil converts an event time into a rounded countdown. ok is false
// when the event left more than the grace window ago or is further out than
// the look-ahead.
func MinutesUntil(eta, ref int64, w Window) (minutes int, ok bool) {
	diff := eta - ref
	if diff < -int64(w.DepartureGrace/time.Second) {
		return 0, false
	}

	minutes = int(math.Round(float64(diff) / 60))
	if minutes < 0 {
		minutes = 0
	}
	if minutes > int(w.MaxLookahead/time.Minute) {
		return 0, false
	}
	return minutes, true
}
