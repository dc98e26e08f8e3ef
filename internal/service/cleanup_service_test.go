package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/noah-isme/gesco-api/pkg/config"
)

type fakeDraftExpirer struct {
	cutoff  time.Time
	expired int64
}

func (f *fakeDraftExpirer) ExpireDrafts(ctx context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return f.expired, nil
}

type fakeStaleCanceller struct {
	calls     int
	cancelled int64
}

func (f *fakeStaleCanceller) CancelStalePayments(ctx context.Context, now time.Time) (int64, error) {
	f.calls++
	return f.cancelled, nil
}

type fakeOrphanReaper struct {
	cutoff time.Time
	reaped int64
}

func (f *fakeOrphanReaper) DeleteOrphanPendingBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return f.reaped, nil
}

func TestCleanupRunOnceUsesConfiguredCutoffs(t *testing.T) {
	drafts := &fakeDraftExpirer{expired: 4}
	payments := &fakeStaleCanceller{cancelled: 2}
	orphans := &fakeOrphanReaper{reaped: 1}
	svc := NewCleanupService(drafts, payments, orphans, NewMetricsService(),
		config.CleanupConfig{Enabled: true, Interval: 15 * time.Minute},
		config.EnrollmentConfig{DraftExpiry: 30 * 24 * time.Hour, StalePaymentAfter: time.Hour},
		zap.NewNop())

	before := time.Now().UTC()
	svc.RunOnce(context.Background())
	after := time.Now().UTC()

	assert.False(t, drafts.cutoff.Before(before.Add(-30*24*time.Hour)))
	assert.False(t, drafts.cutoff.After(after.Add(-30*24*time.Hour)))
	assert.Equal(t, 1, payments.calls)
	assert.False(t, orphans.cutoff.Before(before.Add(-time.Hour)))
	assert.False(t, orphans.cutoff.After(after.Add(-time.Hour)))
}

func TestCleanupDisabledNeverTicks(t *testing.T) {
	payments := &fakeStaleCanceller{}
	svc := NewCleanupService(&fakeDraftExpirer{}, payments, &fakeOrphanReaper{}, nil,
		config.CleanupConfig{Enabled: false, Interval: time.Millisecond},
		config.EnrollmentConfig{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	svc.Start(ctx)
	time.Sleep(10 * time.Millisecond)
	cancel()

	assert.Equal(t, 0, payments.calls)
}
