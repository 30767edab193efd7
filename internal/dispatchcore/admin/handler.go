package admin

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"dispatch-core/pkg/logger"
)

// RestHandler serves the admin dashboard's read endpoints.
type RestHandler struct {
	log  logger.Logger
	pool *pgxpool.Pool
}

// OverviewMetrics is the /admin/overview response.
type OverviewMetrics struct {
	ActiveTrips         int `json:"active_trips"`
	AvailableCaptains   int `json:"available_captains"`
	BusyCaptains        int `json:"busy_captains"`
	TotalTripsToday     int `json:"total_trips_today"`
	TotalRevenueToday   int `json:"total_revenue_today"`
	AverageWaitTime     int `json:"average_wait_time_minutes"`
	AverageTripDuration int `json:"average_trip_duration_minutes"`
}

// ActiveTrip is one row of the /admin/trips/active response.
type ActiveTrip struct {
	TripID      string    `json:"trip_id"`
	RideNumber  string    `json:"ride_number"`
	Status      string    `json:"status"`
	PassengerID string    `json:"passenger_id"`
	DriverID    string    `json:"driver_id"`
	PickupName  string    `json:"pickup_name"`
	DropoffName string    `json:"dropoff_name"`
	StartedAt   time.Time `json:"started_at"`
}

// ActiveTripsResponse pages the active-trips listing.
type ActiveTripsResponse struct {
	Trips      []ActiveTrip `json:"trips"`
	TotalCount int          `json:"total_count"`
	Page       int          `json:"page"`
	PageSize   int          `json:"page_size"`
}

// NewRestHandler creates a RestHandler.
func NewRestHandler(log logger.Logger, pool *pgxpool.Pool) *RestHandler {
	return &RestHandler{log: log, pool: pool}
}

// Overview serves GET /admin/overview.
func (h *RestHandler) Overview(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Second*10)
	defer cancel()

	var metrics OverviewMetrics
	tx, err := h.pool.Begin(ctx)
	if err != nil {
		h.log.Error("get_overview_metrics", err)
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
	SELECT COUNT(*) FROM trips
	WHERE status IN ('requested', 'accepted', 'arrived', 'onRide', 'awaiting_payment')
	`).Scan(&metrics.ActiveTrips)
	if err != nil {
		h.log.Error("get_overview_query_active_trips", err)
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}

	err = tx.QueryRow(ctx, `
	SELECT COUNT(*) FROM captains c
	WHERE c.is_active AND c.is_verified
		AND NOT EXISTS (
			SELECT 1 FROM trips t WHERE t.driver_id = c.id
				AND t.status IN ('accepted', 'arrived', 'onRide')
		)
	`).Scan(&metrics.AvailableCaptains)
	if err != nil {
		h.log.Error("get_overview_query_available_captains", err)
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}

	err = tx.QueryRow(ctx, `
	SELECT COUNT(DISTINCT driver_id) FROM trips
	WHERE status IN ('accepted', 'arrived', 'onRide')
	`).Scan(&metrics.BusyCaptains)
	if err != nil {
		h.log.Error("get_overview_query_busy_captains", err)
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}

	err = tx.QueryRow(ctx, `
	SELECT COUNT(*) FROM trips
	WHERE ended_at >= current_date
	`).Scan(&metrics.TotalTripsToday)
	if err != nil {
		h.log.Error("get_overview_query_total_trips_today", err)
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}

	err = tx.QueryRow(ctx, `
	SELECT COALESCE(SUM(payment_received), 0) FROM trips
	WHERE ended_at >= current_date AND status = 'completed'
	`).Scan(&metrics.TotalRevenueToday)
	if err != nil {
		h.log.Error("get_overview_query_total_revenue_today", err)
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}

	err = tx.QueryRow(ctx, `
	SELECT COALESCE(AVG(EXTRACT(EPOCH FROM (accepted_at - created_at))) / 60, 0)
	FROM trips
	WHERE accepted_at IS NOT NULL AND created_at >= current_date
	`).Scan(&metrics.AverageWaitTime)
	if err != nil {
		h.log.Error("get_overview_query_avg_wait_time_minutes", err)
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}

	err = tx.QueryRow(ctx, `
	SELECT COALESCE(AVG(EXTRACT(EPOCH FROM (ended_at - started_at))) / 60, 0)
	FROM trips
	WHERE status = 'completed' AND ended_at >= current_date
	`).Scan(&metrics.AverageTripDuration)
	if err != nil {
		h.log.Error("get_overview_query_avg_trip_duration", err)
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}

	if err := tx.Commit(ctx); err != nil {
		h.log.Error("get_overview_commit_tx", err)
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}

	writeJSON(w, http.StatusOK, metrics)
}

// ActiveTrips serves GET /admin/trips/active.
func (h *RestHandler) ActiveTrips(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Second*10)
	defer cancel()

	page, pageSize := parsePagination(r)
	offset := (page - 1) * pageSize

	var response ActiveTripsResponse
	response.Trips = make([]ActiveTrip, 0)
	response.Page = page
	response.PageSize = pageSize

	tx, err := h.pool.Begin(ctx)
	if err != nil {
		h.log.Error("get_active_trips", err)
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
	SELECT COUNT(*) FROM trips
	WHERE status IN ('requested', 'accepted', 'arrived', 'onRide', 'awaiting_payment')
	`).Scan(&response.TotalCount)
	if err != nil {
		h.log.Error("get_active_trips_total_count", err)
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}

	if response.TotalCount == 0 {
		if err := tx.Commit(ctx); err != nil {
			h.log.Error("get_active_trips_commit_tx", err)
			writeError(w, http.StatusInternalServerError, "Database error")
			return
		}
		writeJSON(w, http.StatusOK, response)
		return
	}

	rows, err := tx.Query(ctx, `
		SELECT id, ride_number, status, passenger_id, driver_id,
			pickup_name, dropoff_name, started_at
		FROM trips
		WHERE status IN ('requested', 'accepted', 'arrived', 'onRide', 'awaiting_payment')
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
		`, pageSize, offset)
	if err != nil {
		h.log.Error("get_active_trips_rows", err)
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}
	defer rows.Close()

	for rows.Next() {
		var t ActiveTrip
		var driverID sql.NullString
		var startedAt sql.NullTime

		err := rows.Scan(
			&t.TripID,
			&t.RideNumber,
			&t.Status,
			&t.PassengerID,
			&driverID,
			&t.PickupName,
			&t.DropoffName,
			&startedAt,
		)
		if err != nil {
			h.log.Error("get_active_trips_rows", err)
			writeError(w, http.StatusInternalServerError, "Database error")
			return
		}

		if driverID.Valid {
			t.DriverID = driverID.String
		}
		if startedAt.Valid {
			t.StartedAt = startedAt.Time
		}

		response.Trips = append(response.Trips, t)
	}
	if err := rows.Err(); err != nil {
		h.log.Error("get_active_trips_rows", err)
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}

	if err := tx.Commit(ctx); err != nil {
		h.log.Error("get_active_trips_commit_tx", err)
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return nil
	}
	return json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	type errResponse struct {
		Error string `json:"error"`
	}
	writeJSON(w, code, errResponse{Error: msg})
}

func parsePagination(r *http.Request) (page int, pageSize int) {
	pageStr := r.URL.Query().Get("page")
	pageSizeStr := r.URL.Query().Get("pageSize")
	var err error
	page, err = strconv.Atoi(pageStr)
	if err != nil || page < 1 {
		page = 1
	}
	pageSize, err = strconv.Atoi(pageSizeStr)
	if err != nil || pageSize < 1 || pageSize > 100 {
		pageSize = 10
	}
	return page, pageSize
}
