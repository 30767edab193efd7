// Package eventbus publishes a fire-and-forget audit/analytics trail of
// dispatch lifecycle events onto RabbitMQ (the dispatch_topic,
// settlement_topic, and location_fanout exchanges declared by
// pkg/rabbitmq.Connection.SetupTopology). Publish failures are logged and
// never block a trip transition — the source of truth is the trip store,
// not the outbox.
package eventbus

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"dispatch-core/pkg/logger"
)

// Routing keys, bound by pkg/rabbitmq.Connection.SetupTopology to the
// dispatch_audit / settlement_audit / location_updates_admin queues.
const (
	RoutingRideRequested   = "dispatch.requested"
	RoutingRideMatched     = "dispatch.matched"
	RoutingHideRide        = "dispatch.hide"
	RoutingRideCancelled   = "dispatch.cancelled"
	RoutingRideNotApproved = "dispatch.not_approved"
	RoutingSettlement      = "settlement.completed"
)

const (
	exchangeDispatch   = "dispatch_topic"
	exchangeSettlement = "settlement_topic"
	exchangeLocation   = "location_fanout"
)

// RideRequested is published when a passenger's trip enters the requested
// state: on creation, and again when a driver cancel puts it back.
type RideRequested struct {
	TripID      string `json:"trip_id"`
	PassengerID string `json:"passenger_id"`
}

// RideMatched is published when a Dispatcher observes a trip become accepted.
type RideMatched struct {
	TripID   string `json:"trip_id"`
	DriverID string `json:"driver_id"`
}

// RideCancelled is published on dispatch-time or active-ride cancellation.
type RideCancelled struct {
	TripID string `json:"trip_id"`
}

// RideNotApproved is published when a Dispatcher exhausts its search.
type RideNotApproved struct {
	TripID string `json:"trip_id"`
}

// Settlement is published once PaymentInterlock completes a trip's ledger
// split (commission + optional overage).
type Settlement struct {
	TripID     string `json:"trip_id"`
	Commission int64  `json:"commission"`
	Overage    int64  `json:"overage"`
	Pending    bool   `json:"pending"`
}

// publisher is the narrow slice of pkg/rabbitmq.Connection the outbox
// needs, kept as an interface so tests can substitute a fake.
type publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte) error
}

// Outbox publishes lifecycle events, best-effort.
type Outbox struct {
	conn publisher
	log  logger.Logger
}

// New creates an Outbox backed by conn (typically a *pkg/rabbitmq.Connection).
func New(conn publisher, log logger.Logger) *Outbox {
	return &Outbox{conn: conn, log: log}
}

// Publish marshals event and fires it at the exchange its routing key
// belongs to. Failures are logged only — publishing is best-effort.
func (o *Outbox) Publish(ctx context.Context, routingKey string, event interface{}) {
	body, err := json.Marshal(event)
	if err != nil {
		o.log.Error("eventbus_marshal_failed", err)
		return
	}
	exchange := exchangeFor(routingKey)

	publishCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := o.conn.Publish(publishCtx, exchange, routingKey, body); err != nil {
		o.log.WithFields(logger.LogFields{"routing_key": routingKey}).
			Error("eventbus_publish_failed", err)
	}
}

// PublishLocation fans captain location pings out onto the fanout
// exchange, mirroring the admin WebSocket fan-out as a durable audit copy.
func (o *Outbox) PublishLocation(ctx context.Context, captainID string, lat, lon float64) {
	body, err := json.Marshal(map[string]interface{}{
		"captain_id": captainID, "lat": lat, "lon": lon, "ts": time.Now().UTC(),
	})
	if err != nil {
		o.log.Error("eventbus_marshal_failed", err)
		return
	}
	publishCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := o.conn.Publish(publishCtx, exchangeLocation, "", body); err != nil {
		o.log.Error("eventbus_publish_location_failed", err)
	}
}

func exchangeFor(routingKey string) string {
	if strings.HasPrefix(routingKey, "settlement.") {
		return exchangeSettlement
	}
	return exchangeDispatch
}
