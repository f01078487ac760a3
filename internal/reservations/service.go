// Package reservations takes table bookings from the public site and lists them for the owner.
package reservations

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jogardn/creperie/internal/store"
	"github.com/jogardn/creperie/internal/validation"
	"github.com/jogardn/creperie/pkg/models"
	"github.com/sirupsen/logrus"
)

const StatusPending = "pending"

type Service struct {
	store     store.ReservationStore
	validator *validation.Validator
	logger    *logrus.Logger
	now       func() time.Time
}

func NewService(s store.ReservationStore, v *validation.Validator, logger *logrus.Logger) *Service {
	return &Service{store: s, validator: v, logger: logger, now: time.Now}
}

// Create books a table. Client-supplied id, status and timestamp are ignored.
func (s *Service) Create(ctx context.Context, in models.Reservation) (*models.Reservation, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Phone = strings.TrimSpace(in.Phone)
	if err := s.validator.Struct(in); err != nil {
		return nil, err
	}

	in.ID = uuid.New().String()
	in.Status = StatusPending
	in.CreatedAt = s.now().UTC()

	created, err := s.store.CreateReservation(ctx, in)
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"reservation_id": created.ID,
		"date":           created.Date,
		"time":           created.Time,
		"party_size":     created.PartySize,
	}).Info("Reservation created")
	return created, nil
}

// List returns every reservation, newest first.
func (s *Service) List(ctx context.Context) ([]models.Reservation, error) {
	return s.store.ListReservations(ctx)
}
