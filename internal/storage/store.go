package storage

import (
	"context"

	"github.com/clinicdesk/clinic-scheduler/internal/model"
)

// Store combines the appointment and reconciliation repositories into the
// single persistence surface the scheduling engine writes through.
type Store struct {
	*AppointmentRepository
	recon *ReconciliationRepository
}

func NewStore(appts *AppointmentRepository, recon *ReconciliationRepository) *Store {
	return &Store{AppointmentRepository: appts, recon: recon}
}

func (s *Store) EnqueueReconciliation(ctx context.Context, rec model.ReconciliationRecord) error {
	return s.recon.Enqueue(ctx, rec)
}

func (s *Store) DeleteReconciliationFor(ctx context.Context, appointmentID string) error {
	return s.recon.DeleteFor(ctx, appointmentID)
}
