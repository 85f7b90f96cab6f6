package models

// Feed is the canonical, decoder-independent shape of one GTFS-Realtime
// snapshot. Trip update entities and alert entities are split at decode time.
type Feed struct {
	Header   FeedHeader
	Entities []RawFeedEntity
	Alerts   []AlertEntity
}

// FeedHeader carries the publisher clock at generation time. Version is
// empty when the payload had no header.
type FeedHeader struct {
	Version   string
	Timestamp EpochValue
}

// RawFeedEntity is one trip update record
type RawFeedEntity struct {
	ID              string
	TripID          string
	RouteID         string
	HasTripUpdate   bool
	StopTimeUpdates []StopTimeUpdate
}

type StopTimeUpdate struct {
	StopID    string
	Arrival   EpochValue
	Departure EpochValue
}

// EventTime returns the arrival time when present, else the departure time
func (s StopTimeUpdate) EventTime() (EpochValue, bool) {
	if s.Arrival.IsPresent() {
		return s.Arrival, true
	}
	if s.Departure.IsPresent() {
		return s.Departure, true
	}
	return EpochValue{}, false
}

// AlertEntity is one service alert with the route ids of its informed entities
type AlertEntity struct {
	ID                 string
	RouteIDs           []string
	HeaderTranslations []Translation
}

type Translation struct {
	Text     string
	Language string
}
