package display

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitboard/internal/common/logger"
	"github.com/transitboard/pkg/gtfs-realtime/models"
)

var fixedNow = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

func sampleList() models.DirectionalArrivalList {
	return models.DirectionalArrivalList{
		{TripID: "t1", RouteColor: models.RouteRed, Direction: models.DirectionWest, Destination: "Tuscany", Minutes: 1, Status: models.StatusBoarding},
		{TripID: "t2", RouteColor: models.RouteBlue, Direction: models.DirectionWest, Destination: "69 Street", Minutes: 6, Status: models.StatusOnTime},
	}
}

type recordingRenderer struct {
	calls []string
	err   error
}

func (r *recordingRenderer) RenderArrivals(_ context.Context, containerID string, _ models.DirectionalArrivalList) error {
	r.calls = append(r.calls, "arrivals:"+containerID)
	return r.err
}

func (r *recordingRenderer) RenderAlert(_ context.Context, state models.AlertState) error {
	r.calls = append(r.calls, "alert:"+state.Message)
	return r.err
}

func (r *recordingRenderer) RenderStatus(_ context.Context, status models.FeedStatus) error {
	r.calls = append(r.calls, "status:"+string(status))
	return r.err
}

type countingObserver map[string]int

func (c countingObserver) ObserveRenderError(sink string) { c[sink]++ }

func TestBoardStoresByContainer(t *testing.T) {
	b := NewBoard("westbound-list", "eastbound-list")
	b.now = func() time.Time { return fixedNow }
	ctx := context.Background()

	initial := b.Snapshot()
	assert.Equal(t, models.FeedStale, initial.Status)
	assert.NotNil(t, initial.West)
	assert.True(t, initial.UpdatedAt.IsZero())

	list := sampleList()
	require.NoError(t, b.RenderArrivals(ctx, "westbound-list", list))
	require.NoError(t, b.RenderArrivals(ctx, "eastbound-list", nil))
	require.NoError(t, b.RenderAlert(ctx, models.AlertState{Active: true, Message: "Delays"}))
	require.NoError(t, b.RenderStatus(ctx, models.FeedLive))
	assert.Error(t, b.RenderArrivals(ctx, "platform-3", list))

	// caller mutations must not leak into the board
	list[0].Minutes = 99

	snap := b.Snapshot()
	require.Len(t, snap.West, 2)
	assert.Equal(t, 1, snap.West[0].Minutes)
	assert.Empty(t, snap.East)
	assert.Equal(t, "Delays", snap.Alert.Message)
	assert.Equal(t, models.FeedLive, snap.Status)
	assert.Equal(t, fixedNow, snap.UpdatedAt)
}

func TestMultiContinuesPastFailingSink(t *testing.T) {
	failing := &recordingRenderer{err: errors.New("connection refused")}
	healthy := &recordingRenderer{}
	observer := countingObserver{}

	m := NewMulti(observer, Sink{Name: "redis", Renderer: failing})
	m.Add("board", healthy)

	err := m.RenderArrivals(context.Background(), "westbound-list", sampleList())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis: connection refused")

	require.NoError(t, NewMulti(nil, Sink{Name: "board", Renderer: healthy}).RenderStatus(context.Background(), models.FeedLive))
	_ = m.RenderAlert(context.Background(), models.AlertState{Message: "x"})

	assert.Equal(t, []string{"arrivals:westbound-list", "status:live", "alert:x"}, healthy.calls)
	assert.Equal(t, 2, observer["redis"])
}

func TestLogRenderer(t *testing.T) {
	var buf bytes.Buffer
	r := NewLogRenderer(logger.NewWithWriters(zerolog.DebugLevel, &buf))

	require.NoError(t, r.RenderArrivals(context.Background(), "westbound-list", sampleList()))
	assert.Contains(t, buf.String(), "red Tuscany 1m (Boarding), blue 69 Street 6m (On Time)")
	assert.Contains(t, buf.String(), `"sink":"log"`)

	buf.Reset()
	require.NoError(t, r.RenderArrivals(context.Background(), "eastbound-list", nil))
	assert.Contains(t, buf.String(), "no trains scheduled")

	buf.Reset()
	require.NoError(t, r.RenderStatus(context.Background(), models.FeedReconnecting))
	assert.Contains(t, buf.String(), `"level":"warn"`)
}

type fakePublisher struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (f *fakePublisher) Publish(subj string, data []byte) error {
	f.subjects = append(f.subjects, subj)
	f.payloads = append(f.payloads, data)
	return f.err
}

func TestNATSRendererSubjects(t *testing.T) {
	pub := &fakePublisher{}
	r := NewNATSRenderer(pub, "transit board")
	r.now = func() time.Time { return fixedNow }
	ctx := context.Background()

	require.NoError(t, r.RenderArrivals(ctx, "westbound.list", sampleList()))
	require.NoError(t, r.RenderAlert(ctx, models.AlertState{Active: true, Message: "Delays"}))
	require.NoError(t, r.RenderStatus(ctx, models.FeedLive))

	assert.Equal(t, []string{
		"transit_board.westbound_list",
		"transit_board.alert",
		"transit_board.status",
	}, pub.subjects)

	var arrivals ArrivalsMessage
	require.NoError(t, json.Unmarshal(pub.payloads[0], &arrivals))
	assert.Equal(t, "westbound.list", arrivals.Container)
	assert.Len(t, arrivals.Arrivals, 2)
	assert.Equal(t, fixedNow, arrivals.PublishedAt)

	var alert map[string]interface{}
	require.NoError(t, json.Unmarshal(pub.payloads[1], &alert))
	assert.Equal(t, true, alert["active"])
	assert.Equal(t, "Delays", alert["message"])
}

func TestNATSRendererPublishError(t *testing.T) {
	r := NewNATSRenderer(&fakePublisher{err: errors.New("nats: connection closed")}, "board")
	err := r.RenderStatus(context.Background(), models.FeedStale)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "board.status")
}

type fakeSetter struct {
	keys   []string
	values map[string][]byte
	ttls   []time.Duration
	err    error
}

func (f *fakeSetter) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if f.values == nil {
		f.values = map[string][]byte{}
	}
	f.keys = append(f.keys, key)
	f.values[key] = value.([]byte)
	f.ttls = append(f.ttls, expiration)

	cmd := redis.NewStatusCmd(ctx, "set", key)
	if f.err != nil {
		cmd.SetErr(f.err)
	}
	return cmd
}

func TestRedisRendererKeys(t *testing.T) {
	setter := &fakeSetter{}
	r := NewRedisRenderer(setter, "transitboard", 5*time.Minute)
	ctx := context.Background()

	require.NoError(t, r.RenderArrivals(ctx, "eastbound-list", sampleList()))
	require.NoError(t, r.RenderStatus(ctx, models.FeedReconnecting))

	assert.Equal(t, []string{"transitboard:eastbound-list", "transitboard:status"}, setter.keys)
	assert.Equal(t, []time.Duration{5 * time.Minute, 5 * time.Minute}, setter.ttls)
	assert.True(t, strings.Contains(string(setter.values["transitboard:status"]), `"status":"reconnecting"`))
}

func TestRedisRendererError(t *testing.T) {
	r := NewRedisRenderer(&fakeSetter{err: redis.Nil}, "transitboard", time.Minute)
	err := r.RenderAlert(context.Background(), models.AllClear())
	require.Error(t, err)
	assert.ErrorIs(t, err, redis.Nil)
}
