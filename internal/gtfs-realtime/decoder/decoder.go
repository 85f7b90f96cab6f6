package decoder

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"

	"github.com/transitboard/pkg/gtfs-realtime/models"
)

// FeedMessageName is the fully qualified schema name of a GTFS-Realtime feed
const FeedMessageName protoreflect.FullName = "transit_realtime.FeedMessage"

const (
	FormatProtobuf = "protobuf"
	FormatJSON     = "json"
)

// DecodeError wraps any failure to turn a payload into a feed
type DecodeError struct {
	Format string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode %s feed: %v", e.Format, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decoder turns raw payloads into models.Feed. The message schema is looked
// up on first use and kept once found; a failed lookup is retried next call.
type Decoder struct {
	mu       sync.Mutex
	schema   protoreflect.MessageType
	resolver func(protoreflect.FullName) (protoreflect.MessageType, error)
}

func New() *Decoder {
	return &Decoder{resolver: protoregistry.GlobalTypes.FindMessageByName}
}

func (d *Decoder) messageType() (protoreflect.MessageType, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.schema != nil {
		return d.schema, nil
	}
	mt, err := d.resolver(FeedMessageName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve schema %s: %w", FeedMessageName, err)
	}
	d.schema = mt
	return mt, nil
}

// SchemaLoaded reports whether the schema has been resolved
func (d *Decoder) SchemaLoaded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.schema != nil
}

// Decode parses buf as a GTFS-Realtime FeedMessage. JSON is used when the
// content type says so or the body looks like a JSON object; protobuf
// binary otherwise.
func (d *Decoder) Decode(buf []byte, contentType string) (feed *models.Feed, err error) {
	format := FormatProtobuf
	if isJSON(buf, contentType) {
		format = FormatJSON
	}

	defer func() {
		if r := recover(); r != nil {
			feed = nil
			err = &DecodeError{Format: format, Err: fmt.Errorf("panic during decode: %v", r)}
		}
	}()

	if len(buf) == 0 {
		return nil, &DecodeError{Format: format, Err: fmt.Errorf("empty payload")}
	}

	mt, err := d.messageType()
	if err != nil {
		return nil, &DecodeError{Format: format, Err: err}
	}

	msg := mt.New().Interface()
	switch format {
	case FormatJSON:
		err = protojson.UnmarshalOptions{AllowPartial: true, DiscardUnknown: true}.Unmarshal(buf, msg)
	default:
		err = proto.UnmarshalOptions{AllowPartial: true, DiscardUnknown: true}.Unmarshal(buf, msg)
	}
	if err != nil {
		return nil, &DecodeError{Format: format, Err: err}
	}

	fm, ok := msg.(*gtfs.FeedMessage)
	if !ok {
		return nil, &DecodeError{Format: format, Err: fmt.Errorf("unexpected message type %T", msg)}
	}

	return Normalize(fm), nil
}

func isJSON(buf []byte, contentType string) bool {
	if strings.Contains(strings.ToLower(contentType), "json") {
		return true
	}
	trimmed := bytes.TrimLeft(buf, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// Normalize converts a bindings message into the canonical feed. Trip update
// records and alerts are split; entities carrying neither are kept as trip
// records without an update so callers can skip them explicitly.
func Normalize(fm *gtfs.FeedMessage) *models.Feed {
	feed := &models.Feed{}
	if fm == nil {
		return feed
	}

	if header := fm.GetHeader(); header != nil {
		feed.Header.Version = header.GetGtfsRealtimeVersion()
		if header.Timestamp != nil {
			feed.Header.Timestamp = models.WideEpoch(header.GetTimestamp())
		}
	}

	for _, entity := range fm.GetEntity() {
		if alert := entity.GetAlert(); alert != nil {
			feed.Alerts = append(feed.Alerts, normalizeAlert(entity.GetId(), alert))
			continue
		}
		feed.Entities = append(feed.Entities, normalizeEntity(entity))
	}

	return feed
}

func normalizeEntity(entity *gtfs.FeedEntity) models.RawFeedEntity {
	raw := models.RawFeedEntity{ID: entity.GetId()}

	tu := entity.GetTripUpdate()
	if tu == nil {
		return raw
	}

	raw.HasTripUpdate = true
	raw.TripID = tu.GetTrip().GetTripId()
	raw.RouteID = tu.GetTrip().GetRouteId()

	updates := tu.GetStopTimeUpdate()
	raw.StopTimeUpdates = make([]models.StopTimeUpdate, 0, len(updates))
	for _, stu := range updates {
		raw.StopTimeUpdates = append(raw.StopTimeUpdates, models.StopTimeUpdate{
			StopID:    stu.GetStopId(),
			Arrival:   eventEpoch(stu.GetArrival()),
			Departure: eventEpoch(stu.GetDeparture()),
		})
	}
	return raw
}

func eventEpoch(ev *gtfs.TripUpdate_StopTimeEvent) models.EpochValue {
	if ev == nil || ev.Time == nil {
		return models.EpochValue{}
	}
	return models.PlainEpoch(ev.GetTime())
}

func normalizeAlert(id string, alert *gtfs.Alert) models.AlertEntity {
	out := models.AlertEntity{ID: id}

	for _, informed := range alert.GetInformedEntity() {
		if routeID := informed.GetRouteId(); routeID != "" {
			out.RouteIDs = append(out.RouteIDs, routeID)
		}
	}
	for _, tr := range alert.GetHeaderText().GetTranslation() {
		out.HeaderTranslations = append(out.HeaderTranslations, models.Translation{
			Text:     tr.GetText(),
			Language: tr.GetLanguage(),
		})
	}
	return out
}
