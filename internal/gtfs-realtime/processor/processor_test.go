package processor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitboard/internal/common/logger"
	"github.com/transitboard/internal/gtfs-realtime/reftime"
	"github.com/transitboard/pkg/gtfs-realtime/models"
)

const (
	ref      = int64(1700000000)
	westStop = "6822"
	eastStop = "6831"
)

func testConfig() Config {
	return Config{
		WestStopID: westStop,
		EastStopID: eastStop,
		Routes: []RouteMatcher{
			{Pattern: "201", Color: models.RouteRed},
			{Pattern: "202", Color: models.RouteBlue},
		},
		Destinations: map[models.Direction]map[models.RouteColor]string{
			models.DirectionWest: {models.RouteRed: "Tuscany", models.RouteBlue: "69 Street"},
			models.DirectionEast: {models.RouteRed: "Somerset", models.RouteBlue: "Saddletowne"},
		},
		Window:            reftime.Window{DepartureGrace: 90 * time.Second, MaxLookahead: 60 * time.Minute},
		DisplayCap:        3,
		BoardingThreshold: 1,
	}
}

func newTestProcessor(t *testing.T, mutate ...func(*Config)) *Processor {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	p, err := NewProcessor(cfg, logger.Nop())
	require.NoError(t, err)
	return p
}

func stop(id string, offset int64) models.StopTimeUpdate {
	return models.StopTimeUpdate{StopID: id, Arrival: models.PlainEpoch(ref + offset)}
}

func trip(tripID, routeID string, stops ...models.StopTimeUpdate) models.RawFeedEntity {
	return models.RawFeedEntity{
		ID:              tripID,
		TripID:          tripID,
		RouteID:         routeID,
		HasTripUpdate:   true,
		StopTimeUpdates: stops,
	}
}

func feedOf(entities ...models.RawFeedEntity) *models.Feed {
	return &models.Feed{Entities: entities}
}

func TestEmptyFeedIsDistinct(t *testing.T) {
	p := newTestProcessor(t)

	_, err := p.ExtractArrivals(nil, ref)
	assert.ErrorIs(t, err, ErrEmptyFeed)

	_, err = p.ExtractArrivals(&models.Feed{}, ref)
	assert.ErrorIs(t, err, ErrEmptyFeed)

	// entities present but nothing scheduled is a valid, empty board
	board, err := p.ExtractArrivals(feedOf(trip("t1", "999", stop(westStop, 60))), ref)
	require.NoError(t, err)
	assert.True(t, board.IsEmpty())
	assert.NotNil(t, board.West)
	assert.NotNil(t, board.East)
	assert.Equal(t, ref, board.ReferenceTime)
}

func TestDuplicateTripEmitsOnce(t *testing.T) {
	p := newTestProcessor(t)

	board, err := p.ExtractArrivals(feedOf(
		trip("ghost", "201", stop(westStop, 300)),
		trip("ghost", "201", stop(westStop, 120)),
	), ref)
	require.NoError(t, err)

	require.Len(t, board.West, 1)
	assert.Equal(t, 5, board.West[0].Minutes)
	assert.Empty(t, board.East)
}

func TestLoopingTripCountsFirstVisitOnly(t *testing.T) {
	p := newTestProcessor(t)

	board, err := p.ExtractArrivals(feedOf(
		trip("loop", "202", stop(westStop, 240), stop("7000", 480), stop(westStop, 900), stop(eastStop, 1200)),
	), ref)
	require.NoError(t, err)

	require.Len(t, board.West, 1)
	assert.Equal(t, 4, board.West[0].Minutes)
	assert.Empty(t, board.East)
}

func TestExpiredStopFallsThroughToNextVisit(t *testing.T) {
	p := newTestProcessor(t)

	board, err := p.ExtractArrivals(feedOf(
		trip("loop", "201", stop(westStop, -600), stop(westStop, 420)),
	), ref)
	require.NoError(t, err)

	require.Len(t, board.West, 1)
	assert.Equal(t, 7, board.West[0].Minutes)
}

func TestUnmatchedTripNotMarkedProcessed(t *testing.T) {
	p := newTestProcessor(t)

	board, err := p.ExtractArrivals(feedOf(
		trip("t1", "201", stop("9999", 60)),
		trip("t1", "201", stop(eastStop, 180)),
	), ref)
	require.NoError(t, err)

	require.Len(t, board.East, 1)
	assert.Equal(t, "t1", board.East[0].TripID)
	assert.Equal(t, 3, board.East[0].Minutes)
}

func TestGraceWindow(t *testing.T) {
	p := newTestProcessor(t)

	board, err := p.ExtractArrivals(feedOf(
		trip("gone", "201", stop(westStop, -91)),
		trip("now", "201", stop(westStop, -89)),
	), ref)
	require.NoError(t, err)

	require.Len(t, board.West, 1)
	assert.Equal(t, "now", board.West[0].TripID)
	assert.Equal(t, 0, board.West[0].Minutes)
	assert.Equal(t, models.StatusBoarding, board.West[0].Status)
}

func TestLookaheadExcludesFarTrips(t *testing.T) {
	p := newTestProcessor(t)

	board, err := p.ExtractArrivals(feedOf(
		trip("far", "201", stop(westStop, 61*60)),
	), ref)
	require.NoError(t, err)
	assert.Empty(t, board.West)
}

func TestRankingAndTruncation(t *testing.T) {
	p := newTestProcessor(t, func(c *Config) { c.DisplayCap = 2 })

	board, err := p.ExtractArrivals(feedOf(
		trip("a", "201", stop(eastStop, 12*60)),
		trip("b", "202", stop(eastStop, 3*60)),
		trip("c", "201", stop(eastStop, 7*60)),
	), ref)
	require.NoError(t, err)

	require.Len(t, board.East, 2)
	assert.Equal(t, 3, board.East[0].Minutes)
	assert.Equal(t, 7, board.East[1].Minutes)
}

func TestRankingStableOnTies(t *testing.T) {
	p := newTestProcessor(t)

	board, err := p.ExtractArrivals(feedOf(
		trip("first", "201", stop(westStop, 300)),
		trip("second", "202", stop(westStop, 300)),
		trip("early", "202", stop(westStop, 60)),
	), ref)
	require.NoError(t, err)

	require.Len(t, board.West, 3)
	assert.Equal(t, []string{"early", "first", "second"},
		[]string{board.West[0].TripID, board.West[1].TripID, board.West[2].TripID})
}

func TestRouteMatchingAndColours(t *testing.T) {
	p := newTestProcessor(t)

	board, err := p.ExtractArrivals(feedOf(
		trip("red", "201-20666", stop(westStop, 120)),
		trip("blue", "202", stop(westStop, 240)),
		trip("both", "201/202", stop(eastStop, 120)),
		trip("bus", "3", stop(westStop, 60)),
		trip("noroute", "", stop(westStop, 60)),
	), ref)
	require.NoError(t, err)

	require.Len(t, board.West, 2)
	assert.Equal(t, models.RouteRed, board.West[0].RouteColor)
	assert.Equal(t, "Tuscany", board.West[0].Destination)
	assert.Equal(t, models.RouteBlue, board.West[1].RouteColor)
	assert.Equal(t, "69 Street", board.West[1].Destination)
	assert.Equal(t, models.StatusOnTime, board.West[1].Status)

	require.Len(t, board.East, 1)
	// first pattern wins
	assert.Equal(t, models.RouteRed, board.East[0].RouteColor)
	assert.Equal(t, "Somerset", board.East[0].Destination)
}

func TestDepartureUsedWhenArrivalMissing(t *testing.T) {
	p := newTestProcessor(t)

	board, err := p.ExtractArrivals(feedOf(
		trip("t1", "202",
			models.StopTimeUpdate{StopID: westStop},
			models.StopTimeUpdate{StopID: eastStop, Departure: models.PlainEpoch(ref + 600)},
		),
	), ref)
	require.NoError(t, err)

	require.Len(t, board.East, 1)
	assert.Equal(t, 10, board.East[0].Minutes)
	assert.Equal(t, "Saddletowne", board.East[0].Destination)
}

func TestEntitiesWithoutUpdatesSkipped(t *testing.T) {
	p := newTestProcessor(t)

	board, err := p.ExtractArrivals(feedOf(
		models.RawFeedEntity{ID: "vehicle", TripID: "t1", RouteID: "201"},
		trip("t1", "201"),
		trip("t1", "201", stop(westStop, 60)),
	), ref)
	require.NoError(t, err)
	require.Len(t, board.West, 1)
}

func TestNewProcessorValidation(t *testing.T) {
	_, err := NewProcessor(Config{}, logger.Nop())
	assert.Error(t, err)

	cfg := testConfig()
	cfg.Routes = []RouteMatcher{{Pattern: ""}}
	_, err = NewProcessor(cfg, logger.Nop())
	assert.Error(t, err)

	cfg = testConfig()
	cfg.DisplayCap = 0
	_, err = NewProcessor(cfg, logger.Nop())
	assert.Error(t, err)
}

func alert(id string, routes []string, translations ...models.Translation) models.AlertEntity {
	return models.AlertEntity{ID: id, RouteIDs: routes, HeaderTranslations: translations}
}

func TestExtractActiveAlert(t *testing.T) {
	p := newTestProcessor(t)
	tracked := p.TrackedRoutes()
	assert.Equal(t, []string{"201", "202"}, tracked)

	feed := &models.Feed{Alerts: []models.AlertEntity{
		alert("bus", []string{"3"}, models.Translation{Text: "Bus detour"}),
		alert("ctrain", []string{"10", "202-1"}, models.Translation{Text: "Blue line delays"}),
		alert("later", []string{"201"}, models.Translation{Text: "Red line delays"}),
	}}

	state := p.ExtractActiveAlert(feed, tracked)
	assert.True(t, state.Active)
	assert.Equal(t, "Blue line delays", state.Message)
}

func TestExtractActiveAlertAllClear(t *testing.T) {
	p := newTestProcessor(t)

	assert.Equal(t, models.AllClear(), p.ExtractActiveAlert(nil, p.TrackedRoutes()))
	assert.Equal(t, models.AllClear(), p.ExtractActiveAlert(&models.Feed{}, p.TrackedRoutes()))

	noMatch := &models.Feed{Alerts: []models.AlertEntity{
		alert("bus", []string{"3"}, models.Translation{Text: "Bus detour"}),
	}}
	assert.Equal(t, models.AllClear(), p.ExtractActiveAlert(noMatch, p.TrackedRoutes()))

	noHeader := &models.Feed{Alerts: []models.AlertEntity{
		alert("first", []string{"201"}),
		alert("second", []string{"202"}, models.Translation{Text: "ignored"}),
	}}
	state := p.ExtractActiveAlert(noHeader, p.TrackedRoutes())
	assert.False(t, state.Active)
	assert.Empty(t, state.Message)
}

func TestExtractActiveAlertPreferredLanguage(t *testing.T) {
	p := newTestProcessor(t, func(c *Config) { c.PreferredLanguage = "fr" })

	feed := &models.Feed{Alerts: []models.AlertEntity{
		alert("a", []string{"201"},
			models.Translation{Text: "Delays", Language: "en"},
			models.Translation{Text: "Retards", Language: "FR"},
		),
	}}
	assert.Equal(t, "Retards", p.ExtractActiveAlert(feed, p.TrackedRoutes()).Message)

	p = newTestProcessor(t, func(c *Config) { c.PreferredLanguage = "de" })
	assert.Equal(t, "Delays", p.ExtractActiveAlert(feed, p.TrackedRoutes()).Message)
}
