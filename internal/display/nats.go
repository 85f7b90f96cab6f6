package display

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/transitboard/internal/common/logger"
	"github.com/transitboard/pkg/gtfs-realtime/models"
)

// Publisher is the part of *nats.Conn the renderer needs
type Publisher interface {
	Publish(subj string, data []byte) error
}

type ArrivalsMessage struct {
	Container   string                        `json:"container"`
	Arrivals    models.DirectionalArrivalList `json:"arrivals"`
	PublishedAt time.Time                     `json:"publishedAt"`
}

type AlertMessage struct {
	models.AlertState
	PublishedAt time.Time `json:"publishedAt"`
}

type StatusMessage struct {
	Status      models.FeedStatus `json:"status"`
	PublishedAt time.Time         `json:"publishedAt"`
}

// NATSRenderer publishes JSON to <prefix>.<container>, <prefix>.alert and
// <prefix>.status
type NATSRenderer struct {
	pub    Publisher
	prefix string
	now    func() time.Time
}

func NewNATSRenderer(pub Publisher, subjectPrefix string) *NATSRenderer {
	return &NATSRenderer{pub: pub, prefix: subjectToken(subjectPrefix), now: time.Now}
}

// ConnectNATS dials the server with reconnect logging
func ConnectNATS(url string, log logger.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("transitboard"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info("NATS connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

func (r *NATSRenderer) RenderArrivals(_ context.Context, containerID string, list models.DirectionalArrivalList) error {
	return r.publish(subjectToken(containerID), ArrivalsMessage{
		Container:   containerID,
		Arrivals:    list,
		PublishedAt: r.now(),
	})
}

func (r *NATSRenderer) RenderAlert(_ context.Context, state models.AlertState) error {
	return r.publish("alert", AlertMessage{AlertState: state, PublishedAt: r.now()})
}

func (r *NATSRenderer) RenderStatus(_ context.Context, status models.FeedStatus) error {
	return r.publish("status", StatusMessage{Status: status, PublishedAt: r.now()})
}

func (r *NATSRenderer) publish(suffix string, msg interface{}) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	subject := r.prefix + "." + suffix
	if err := r.pub.Publish(subject, b); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS tokens cannot contain spaces, wildcards or dots
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
