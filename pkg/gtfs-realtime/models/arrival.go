package models

type RouteColor string

const (
	RouteRed  RouteColor = "red"
	RouteBlue RouteColor = "blue"
)

type Direction string

const (
	DirectionWest Direction = "west"
	DirectionEast Direction = "east"
)

const (
	StatusBoarding = "Boarding"
	StatusOnTime   = "On Time"
)

// Arrival is one train shown on the board. Created per cycle, never mutated.
type Arrival struct {
	TripID      string     `json:"tripId"`
	RouteColor  RouteColor `json:"line"`
	Direction   Direction  `json:"direction"`
	Destination string     `json:"destination"`
	Minutes     int        `json:"minutes"`
	Status      string     `json:"status"`
}

// DirectionalArrivalList is ordered ascending by Minutes and capped to the
// configured display size.
type DirectionalArrivalList []Arrival

// Board is the result of one successful extraction
type Board struct {
	West          DirectionalArrivalList `json:"west"`
	East          DirectionalArrivalList `json:"east"`
	ReferenceTime int64                  `json:"referenceTime"`
}

// IsEmpty reports whether neither direction has a train (service closed)
func (b Board) IsEmpty() bool {
	return len(b.West) == 0 && len(b.East) == 0
}

type AlertState struct {
	Active  bool   `json:"active"`
	Message string `json:"message"`
}

// AllClear is the inactive alert state
func AllClear() AlertState {
	return AlertState{}
}

// FeedStatus is the heartbeat shown next to the board
type FeedStatus string

const (
	FeedLive         FeedStatus = "live"
	FeedStale        FeedStatus = "stale"
	FeedReconnecting FeedStatus = "reconnecting"
)
