package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/gesco-api/pkg/config"
)

type draftExpirer interface {
	ExpireDrafts(ctx context.Context, cutoff time.Time) (int64, error)
}

type stalePaymentCanceller interface {
	CancelStalePayments(ctx context.Context, now time.Time) (int64, error)
}

type orphanEnrollmentReaper interface {
	DeleteOrphanPendingBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupService runs the periodic maintenance sweeps of the enrollment
// pipeline: expiring abandoned drafts, cancelling payments the gateway never
// answered for, and reaping enrollments whose payments are all dead.
type CleanupService struct {
	candidatures draftExpirer
	paiements    stalePaymentCanceller
	inscriptions orphanEnrollmentReaper
	metrics      *MetricsService
	interval     time.Duration
	draftExpiry  time.Duration
	staleAfter   time.Duration
	logger       *zap.Logger
}

// NewCleanupService constructs CleanupService.
func NewCleanupService(candidatures draftExpirer, paiements stalePaymentCanceller, inscriptions orphanEnrollmentReaper, metrics *MetricsService, cleanup config.CleanupConfig, enrollment config.EnrollmentConfig, logger *zap.Logger) *CleanupService {
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := cleanup.Interval
	if !cleanup.Enabled {
		interval = 0
	}
	return &CleanupService{
		candidatures: candidatures,
		paiements:    paiements,
		inscriptions: inscriptions,
		metrics:      metrics,
		interval:     interval,
		draftExpiry:  enrollment.DraftExpiry,
		staleAfter:   enrollment.StalePaymentAfter,
		logger:       logger,
	}
}

// Start launches the sweep loop until the context is cancelled.
func (s *CleanupService) Start(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()
}

// RunOnce executes the three sweeps. Each sweep is independent; one failing
// does not stop the others.
func (s *CleanupService) RunOnce(ctx context.Context) {
	now := time.Now().UTC()

	if expired, err := s.candidatures.ExpireDrafts(ctx, now.Add(-s.draftExpiry)); err != nil {
		s.logger.Warn("draft expiry sweep failed", zap.Error(err))
	} else if expired > 0 {
		s.metrics.RecordCleanupSweep("drafts_expired", expired)
		s.logger.Info("drafts expired", zap.Int64("count", expired))
	}

	if cancelled, err := s.paiements.CancelStalePayments(ctx, now); err != nil {
		s.logger.Warn("stale payment sweep failed", zap.Error(err))
	} else if cancelled > 0 {
		s.metrics.RecordCleanupSweep("payments_cancelled", cancelled)
		s.logger.Info("stale payments cancelled", zap.Int64("count", cancelled))
	}

	// an orphan needs every payment dead, which the stale sweep just ensured
	// for anything older than the payment window
	if reaped, err := s.inscriptions.DeleteOrphanPendingBefore(ctx, now.Add(-s.staleAfter)); err != nil {
		s.logger.Warn("orphan enrollment sweep failed", zap.Error(err))
	} else if reaped > 0 {
		s.metrics.RecordCleanupSweep("inscriptions_reaped", reaped)
		s.logger.Info("orphan enrollments removed", zap.Int64("count", reaped))
	}
}
