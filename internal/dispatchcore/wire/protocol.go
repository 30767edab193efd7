// Package wire defines the realtime event catalogue shared by the captain,
// customer, and admin WebSocket namespaces, plus the handshake envelope they
// all use. It has no behaviour of its own — it is the wire contract that
// notify.Notifier, admin.Hub, and cmd/dispatch-service's handlers all speak.
package wire

// Captain-facing event type names (server -> captain).
const (
	EventNewRide                 = "newRide"
	EventHideRide                = "hideRide"
	EventRideAcceptedConfirm     = "rideAcceptedConfirmation"
	EventRideStatusUpdate        = "rideStatusUpdate"
	EventPaymentRequired         = "paymentRequired"
	EventConnectionEstablished   = "connectionEstablished"
	EventConnectionReplaced      = "connectionReplaced"
	EventRideCancelledConfirm    = "rideCancelledConfirmation"
	EventRideError               = "rideError"
	EventConfigUpdate            = "configUpdate"
)

// Captain-facing event type names (captain -> server).
const (
	EventUpdateLocation = "updateLocation"
	EventAcceptRide     = "acceptRide"
	EventRejectRide     = "rejectRide"
	EventCancelRide     = "cancelRide"
	EventArrived        = "arrived"
	EventStartRide      = "startRide"
	EventEndRide        = "endRide"
	EventSubmitPayment  = "submitPayment"
)

// Passenger-facing event type names (server -> passenger).
const (
	EventRideAccepted       = "rideAccepted"
	EventDriverArrived      = "driverArrived"
	EventRideStarted        = "rideStarted"
	EventRideAwaitingPay    = "rideAwaitingPayment"
	EventRideCompleted      = "rideCompleted"
	EventRideCanceled       = "rideCanceled"
	EventRideNotApproved    = "rideNotApproved"
	EventDriverLocationUpdt = "driverLocationUpdate"
)

// Admin-facing event type names.
const (
	EventStartLocationTracking = "start_location_tracking"
	EventStopLocationTracking  = "stop_location_tracking"
	EventGetCurrentLocations   = "get_current_locations"
	EventGetTrackingStats      = "get_tracking_stats"
	EventFocusCaptain          = "focus_captain"

	EventAdminConnected          = "admin_connected"
	EventCaptainLocationsInitial = "captain_locations_initial"
	EventCaptainLocationUpdate   = "captain_location_update"
	EventTrackingStats           = "tracking_stats"
)

// HideRide reasons.
const (
	ReasonRideTaken         = "ride_taken"
	ReasonDispatchTimeout   = "dispatch_timeout"
	ReasonMaxRadiusReached  = "max_radius_reached"
	ReasonDispatchError     = "dispatch_error"
	ReasonEmergencyStop     = "emergency_stop"
	ReasonExpanding         = "expanding"
	ReasonCancelled         = "cancelled"
)

// PassengerInfo is embedded in newRide so a captain can identify the rider
// without a separate lookup round-trip.
type PassengerInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	PhoneNumber string `json:"phoneNumber"`
}

// NewRidePayload is the newRide event body.
type NewRidePayload struct {
	RideID         string        `json:"rideId"`
	Pickup         [2]float64    `json:"pickup"` // [lon, lat]
	Dropoff        [2]float64    `json:"dropoff"`
	Fare           int64         `json:"fare"`
	Currency       string        `json:"currency"`
	Distance       float64       `json:"distance"`
	Duration       int           `json:"duration"`
	PaymentMethod  string        `json:"paymentMethod"`
	PickupName     string        `json:"pickupName"`
	DropoffName    string        `json:"dropoffName"`
	PassengerInfo  PassengerInfo `json:"passengerInfo"`
}

// HideRidePayload is the hideRide event body.
type HideRidePayload struct {
	RideID  string `json:"rideId"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// RideErrorPayload is sent on both captain and passenger namespaces when a
// request fails for a reason the caller should react to.
type RideErrorPayload struct {
	RideID  string `json:"rideId,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ConnectionEstablishedPayload greets a newly authenticated connection.
type ConnectionEstablishedPayload struct {
	SessionID  string `json:"sessionId"`
	ServerTime string `json:"serverTime"`
}

// DriverLocationUpdatePayload is fanned out to a trip's passenger while a
// captain en route shares location.
type DriverLocationUpdatePayload struct {
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Timestamp string  `json:"ts"`
}

// CaptainLocationUpdatePayload is the admin-namespace location fan-out frame.
type CaptainLocationUpdatePayload struct {
	Type      string             `json:"type"` // location_update | location_removed
	CaptainID string             `json:"captainId,omitempty"`
	Data      *CaptainLocationDTO `json:"data,omitempty"`
}

// CaptainLocationDTO is one entry in the admin snapshot/fan-out stream.
type CaptainLocationDTO struct {
	CaptainID string  `json:"captainId"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	UpdatedAt string  `json:"updatedAt"`
}

// ClientAuthRequest is the first frame every connection must send.
type ClientAuthRequest struct {
	Type  string `json:"type"`
	Token string `json:"message"`
}

// DriverInfo accompanies rideAccepted so the passenger can identify who is
// coming without a second lookup.
type DriverInfo struct {
	ID     string  `json:"id"`
	Rating float64 `json:"rating"`
}

// RideAcceptedPayload is the passenger-facing acceptance event body.
type RideAcceptedPayload struct {
	RideID     string     `json:"rideId"`
	DriverInfo DriverInfo `json:"driverInfo"`
}

// RideAcceptedConfirmationPayload is the captain-facing acceptance echo,
// carrying the ride snapshot so the captain app can render the trip without
// a REST round-trip.
type RideAcceptedConfirmationPayload struct {
	RideID string         `json:"rideId"`
	Status string         `json:"status"`
	Ride   NewRidePayload `json:"ride"`
}

// RideStatusUpdatePayload tells a captain their own trip advanced.
type RideStatusUpdatePayload struct {
	RideID string `json:"rideId"`
	Status string `json:"status"`
}

// PaymentRequiredPayload is sent to the captain when a ride ends and
// settlement is outstanding.
type PaymentRequiredPayload struct {
	RideID         string `json:"rideId"`
	ExpectedAmount int64  `json:"expectedAmount"`
	Currency       string `json:"currency"`
}

// CaptainLocationsInitialPayload seeds a freshly subscribed admin with the
// current captain position snapshot.
type CaptainLocationsInitialPayload struct {
	Data  []CaptainLocationDTO `json:"data"`
	Count int                  `json:"count"`
}

// TrackingStatsPayload answers get_tracking_stats on the admin namespace.
type TrackingStatsPayload struct {
	ActiveSessions    int `json:"activeSessions"`
	TrackedCaptains   int `json:"trackedCaptains"`
	ConnectedCaptains int `json:"connectedCaptains"`
}

// AdminConnectedPayload greets an authenticated admin connection.
type AdminConnectedPayload struct {
	UserInfo map[string]string    `json:"userInfo"`
	Stats    TrackingStatsPayload `json:"stats"`
}
