package processor

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/transitboard/internal/common/logger"
	"github.com/transitboard/internal/gtfs-realtime/reftime"
	"github.com/transitboard/pkg/gtfs-realtime/models"
)

// ErrEmptyFeed means the feed decoded but carried no entities. It is kept
// apart from a valid board with zero trains so the scheduler can tell
// "no data" from "nothing scheduled".
var ErrEmptyFeed = errors.New("feed contains no entities")

// RouteMatcher assigns a line colour to route ids containing Pattern
type RouteMatcher struct {
	Pattern string
	Color   models.RouteColor
}

type Config struct {
	WestStopID string
	EastStopID string
	// Routes are matched in order and the first pattern contained in a route
	// id decides its colour. Route ids containing no pattern are dropped.
	Routes            []RouteMatcher
	Destinations      map[models.Direction]map[models.RouteColor]string
	Window            reftime.Window
	DisplayCap        int
	BoardingThreshold int
	PreferredLanguage string
}

type Processor struct {
	config Config
	logger logger.Logger
}

func NewProcessor(cfg Config, log logger.Logger) (*Processor, error) {
	if cfg.WestStopID == "" || cfg.EastStopID == "" {
		return nil, fmt.Errorf("both tracked stop ids are required")
	}
	if len(cfg.Routes) == 0 {
		return nil, fmt.Errorf("at least one tracked route is required")
	}
	for _, r := range cfg.Routes {
		if r.Pattern == "" {
			return nil, fmt.Errorf("tracked route pattern cannot be empty")
		}
	}
	if cfg.DisplayCap <= 0 {
		return nil, fmt.Errorf("display cap must be positive")
	}

	return &Processor{config: cfg, logger: log}, nil
}

// TrackedRoutes returns the configured route patterns in priority order
func (p *Processor) TrackedRoutes() []string {
	out := make([]string, len(p.config.Routes))
	for i, r := range p.config.Routes {
		out[i] = r.Pattern
	}
	return out
}

// ExtractArrivals builds the ranked west and east lists for one cycle. It
// touches nothing outside its arguments.
func (p *Processor) ExtractArrivals(feed *models.Feed, ref int64) (models.Board, error) {
	if feed == nil || len(feed.Entities) == 0 {
		return models.Board{}, ErrEmptyFeed
	}

	board := models.Board{
		West:          models.DirectionalArrivalList{},
		East:          models.DirectionalArrivalList{},
		ReferenceTime: ref,
	}
	processed := make(map[string]struct{})
	var skippedRoute, duplicates int

	for _, entity := range feed.Entities {
		if !entity.HasTripUpdate || len(entity.StopTimeUpdates) == 0 {
			continue
		}

		if _, seen := processed[entity.TripID]; seen {
			duplicates++
			continue
		}

		color, tracked := p.routeColor(entity.RouteID)
		if !tracked {
			skippedRoute++
			continue
		}

		for _, stu := range entity.StopTimeUpdates {
			event, ok := stu.EventTime()
			if !ok {
				continue
			}
			eta, ok := models.ToEpochSeconds(event)
			if !ok {
				continue
			}
			minutes, ok := reftime.MinutesUntil(eta, ref, p.config.Window)
			if !ok {
				continue
			}

			var direction models.Direction
			switch stu.StopID {
			case p.config.WestStopID:
				direction = models.DirectionWest
			case p.config.EastStopID:
				direction = models.DirectionEast
			default:
				continue
			}

			arrival := models.Arrival{
				TripID:      entity.TripID,
				RouteColor:  color,
				Direction:   direction,
				Destination: p.destination(direction, color),
				Minutes:     minutes,
				Status:      p.status(minutes),
			}
			if direction == models.DirectionWest {
				board.West = append(board.West, arrival)
			} else {
				board.East = append(board.East, arrival)
			}
			processed[entity.TripID] = struct{}{}
			// first qualifying stop only, so looping trips count once
			break
		}
	}

	board.West = p.rank(board.West)
	board.East = p.rank(board.East)

	p.logger.Debug("Extracted arrivals",
		"entities", len(feed.Entities),
		"west", len(board.West),
		"east", len(board.East),
		"duplicates", duplicates,
		"untracked_routes", skippedRoute,
	)

	return board, nil
}

// routeColor reports whether routeID is tracked and which colour it maps to
func (p *Processor) routeColor(routeID string) (models.RouteColor, bool) {
	if routeID == "" {
		return "", false
	}
	for _, r := range p.config.Routes {
		if strings.Contains(routeID, r.Pattern) {
			return r.Color, true
		}
	}
	return "", false
}

func (p *Processor) destination(direction models.Direction, color models.RouteColor) string {
	if byColor, ok := p.config.Destinations[direction]; ok {
		return byColor[color]
	}
	return ""
}

func (p *Processor) status(minutes int) string {
	if minutes <= p.config.BoardingThreshold {
		return models.StatusBoarding
	}
	return models.StatusOnTime
}

func (p *Processor) rank(list models.DirectionalArrivalList) models.DirectionalArrivalList {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Minutes < list[j].Minutes
	})
	if len(list) > p.config.DisplayCap {
		list = list[:p.config.DisplayCap]
	}
	return list
}

// ExtractActiveAlert returns the headline of the first alert that names a
// tracked route. Only that first alert is considered; if it has no header
// text the board shows all clear.
func (p *Processor) ExtractActiveAlert(feed *models.Feed, trackedRoutes []string) models.AlertState {
	if feed == nil {
		return models.AllClear()
	}

	for _, alert := range feed.Alerts {
		if !referencesAny(alert.RouteIDs, trackedRoutes) {
			continue
		}

		if len(alert.HeaderTranslations) == 0 {
			return models.AllClear()
		}
		text := p.pickTranslation(alert.HeaderTranslations)
		if text == "" {
			return models.AllClear()
		}
		return models.AlertState{Active: true, Message: text}
	}

	return models.AllClear()
}

func (p *Processor) pickTranslation(translations []models.Translation) string {
	if lang := p.config.PreferredLanguage; lang != "" {
		for _, tr := range translations {
			if strings.EqualFold(tr.Language, lang) {
				return tr.Text
			}
		}
	}
	return translations[0].Text
}

func referencesAny(routeIDs, tracked []string) bool {
	for _, routeID := range routeIDs {
		for _, pattern := range tracked {
			if pattern != "" && strings.Contains(routeID, pattern) {
				return true
			}
		}
	}
	return false
}
