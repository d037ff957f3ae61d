package api

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/locafleet/locafleet/pkg/audit"
	"github.com/locafleet/locafleet/pkg/httputil"
	"github.com/locafleet/locafleet/pkg/observability"
	"github.com/locafleet/locafleet/pkg/rls"
)

const maxBodyBytes = 1 << 20 // 1MB

var (
	errMissingDiscount     = errors.New("percentual_desconto must be positive")
	errInvalidDiscountBody = errors.New("invalid discount request body")
)

// Vehicle is a fleet vehicle row. The tenant column never appears in
// queries; row-level security scopes every statement to the bound
// tenant.
type Vehicle struct {
	ID     uuid.UUID `json:"id"`
	Plate  string    `json:"plate"`
	Model  string    `json:"model"`
	Status string    `json:"status"`
}

// Rental is a vehicle rental row.
type Rental struct {
	ID         uuid.UUID `json:"id"`
	VehicleID  uuid.UUID `json:"vehicle_id"`
	CustomerID uuid.UUID `json:"customer_id"`
	Status     string    `json:"status"`
	TotalValue float64   `json:"total_value"`
	Discount   float64   `json:"discount"`
	CreatedAt  time.Time `json:"created_at"`
}

type createRentalRequest struct {
	VehicleID  uuid.UUID `json:"vehicle_id"`
	CustomerID uuid.UUID `json:"customer_id"`
	TotalValue float64   `json:"total_value"`
}

type applyDiscountRequest struct {
	ReservaID          uuid.UUID `json:"reserva_id"`
	PercentualDesconto float64   `json:"percentual_desconto"`
	Justificativa      string    `json:"justificativa,omitempty"`
}

// listVehicles returns the tenant's fleet.
func (s *Server) listVehicles(w http.ResponseWriter, r *http.Request) {
	var vehicles []Vehicle
	err := s.binder.WithConn(r.Context(), func(bc *rls.BoundConn) error {
		rows, err := bc.QueryContext(r.Context(),
			`SELECT id, plate, model, status FROM vehicles ORDER BY plate`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var v Vehicle
			if err := rows.Scan(&v.ID, &v.Plate, &v.Model, &v.Status); err != nil {
				return err
			}
			vehicles = append(vehicles, v)
		}
		return rows.Err()
	})
	if err != nil {
		s.writeQueryError(w, r, err, "failed to list vehicles")
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{"vehicles": vehicles})
}

// createRental opens a rental for a vehicle.
func (s *Server) createRental(w http.ResponseWriter, r *http.Request) {
	var req createRentalRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.VehicleID == uuid.Nil || req.CustomerID == uuid.Nil {
		httputil.WriteBadRequest(w, "vehicle_id and customer_id are required")
		return
	}
	if req.TotalValue <= 0 {
		httputil.WriteBadRequest(w, "total_value must be positive")
		return
	}

	rental := Rental{
		ID:         uuid.New(),
		VehicleID:  req.VehicleID,
		CustomerID: req.CustomerID,
		Status:     "open",
		TotalValue: req.TotalValue,
		CreatedAt:  time.Now().UTC(),
	}

	err := s.binder.WithConn(r.Context(), func(bc *rls.BoundConn) error {
		_, err := bc.ExecContext(r.Context(),
			`INSERT INTO rentals (id, vehicle_id, customer_id, status, total_value, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			rental.ID, rental.VehicleID, rental.CustomerID, rental.Status, rental.TotalValue, rental.CreatedAt)
		return err
	})
	if err != nil {
		s.writeQueryError(w, r, err, "failed to create rental")
		return
	}

	s.recordDataEvent(r, "rental", rental.ID.String(), "created")
	httputil.WriteCreated(w, rental)
}

// listRentals returns the tenant's rentals.
func (s *Server) listRentals(w http.ResponseWriter, r *http.Request) {
	var rentals []Rental
	err := s.binder.WithConn(r.Context(), func(bc *rls.BoundConn) error {
		rows, err := bc.QueryContext(r.Context(),
			`SELECT id, vehicle_id, customer_id, status, total_value, discount, created_at
			 FROM rentals ORDER BY created_at DESC`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var rt Rental
			if err := rows.Scan(&rt.ID, &rt.VehicleID, &rt.CustomerID, &rt.Status, &rt.TotalValue, &rt.Discount, &rt.CreatedAt); err != nil {
				return err
			}
			rentals = append(rentals, rt)
		}
		return rows.Err()
	})
	if err != nil {
		s.writeQueryError(w, r, err, "failed to list rentals")
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{"rentals": rentals})
}

// getRental returns one rental by ID.
func (s *Server) getRental(w http.ResponseWriter, r *http.Request) {
	rentalID, ok := httputil.ParsePathUUIDOrError(w, r, "reserva_id")
	if !ok {
		return
	}

	var rental Rental
	err := s.binder.WithConn(r.Context(), func(bc *rls.BoundConn) error {
		return bc.QueryRowContext(r.Context(),
			`SELECT id, vehicle_id, customer_id, status, total_value, discount, created_at
			 FROM rentals WHERE id = $1`, rentalID).
			Scan(&rental.ID, &rental.VehicleID, &rental.CustomerID, &rental.Status, &rental.TotalValue, &rental.Discount, &rental.CreatedAt)
	})
	if errors.Is(err, sql.ErrNoRows) {
		httputil.WriteNotFoundError(w, "rental not found")
		return
	}
	if err != nil {
		s.writeQueryError(w, r, err, "failed to get rental")
		return
	}

	httputil.WriteSuccess(w, rental)
}

// closeRental moves an open rental to closed.
func (s *Server) closeRental(w http.ResponseWriter, r *http.Request) {
	rentalID, ok := httputil.ParsePathUUIDOrError(w, r, "reserva_id")
	if !ok {
		return
	}

	var updated int64
	err := s.binder.WithConn(r.Context(), func(bc *rls.BoundConn) error {
		res, err := bc.ExecContext(r.Context(),
			`UPDATE rentals SET status = 'closed' WHERE id = $1 AND status = 'open'`, rentalID)
		if err != nil {
			return err
		}
		updated, err = res.RowsAffected()
		return err
	})
	if err != nil {
		s.writeQueryError(w, r, err, "failed to close rental")
		return
	}
	if updated == 0 {
		httputil.WriteConflict(w, "rental is not open")
		return
	}

	s.recordDataEvent(r, "rental", rentalID.String(), "closed")
	httputil.WriteSuccess(w, map[string]string{"status": "closed"})
}

// applyDiscount applies a percentage discount to an open rental. The
// pipeline has already evaluated the percentage against the caller's
// role threshold before this handler runs.
func (s *Server) applyDiscount(w http.ResponseWriter, r *http.Request) {
	var req applyDiscountRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.ReservaID == uuid.Nil {
		httputil.WriteBadRequest(w, "reserva_id is required")
		return
	}
	if req.PercentualDesconto <= 0 || req.PercentualDesconto > 100 {
		httputil.WriteBadRequest(w, "percentual_desconto must be between 0 and 100")
		return
	}

	var updated int64
	err := s.binder.WithConn(r.Context(), func(bc *rls.BoundConn) error {
		res, err := bc.ExecContext(r.Context(),
			`UPDATE rentals SET discount = $1 WHERE id = $2 AND status = 'open'`,
			req.PercentualDesconto, req.ReservaID)
		if err != nil {
			return err
		}
		updated, err = res.RowsAffected()
		return err
	})
	if err != nil {
		s.writeQueryError(w, r, err, "failed to apply discount")
		return
	}
	if updated == 0 {
		httputil.WriteConflict(w, "rental is not open")
		return
	}

	s.recordDataEvent(r, "rental", req.ReservaID.String(), "discount applied")
	httputil.WriteSuccess(w, map[string]interface{}{
		"reserva_id":          req.ReservaID,
		"percentual_desconto": req.PercentualDesconto,
	})
}

// writeQueryError maps a bind failure to 503 and anything else to 500.
func (s *Server) writeQueryError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	logger := observability.FromContext(r.Context())
	logger.WithError(err).Error(msg)
	if errors.Is(err, rls.ErrBindFailed) {
		httputil.WriteServiceUnavailable(w, "database temporarily unavailable")
		return
	}
	httputil.WriteInternalError(w, errors.New(msg))
}

func (s *Server) recordDataEvent(r *http.Request, resourceType, resourceID, message string) {
	if s.recorder == nil {
		return
	}
	s.recorder.Record(r.Context(), &audit.Event{
		EventType:    audit.EventTypeDataMutation,
		Status:       audit.EventStatusSuccess,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Method:       r.Method,
		Path:         r.URL.Path,
		Message:      message,
	})
}
