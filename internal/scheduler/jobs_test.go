package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/opensource-finance/kite/internal/domain"
	"github.com/opensource-finance/kite/internal/installment"
)

type tenantsStub struct {
	ids []string
	err error
}

func (s tenantsStub) ListTenantIDs(ctx context.Context) ([]string, error) {
	return s.ids, s.err
}

type refresherStub struct {
	visited []string
	failFor string
}

func (s *refresherStub) RefreshOverdue(ctx context.Context, tenantID string) (int, error) {
	s.visited = append(s.visited, tenantID)
	if tenantID == s.failFor {
		return 0, errors.New("database locked")
	}
	return 2, nil
}

type sweeperStub struct {
	visited []string
}

func (s *sweeperStub) Sweep(ctx context.Context, tenantID string) (installment.SweepResult, error) {
	s.visited = append(s.visited, tenantID)
	return installment.SweepResult{Reviewed: 3, Updated: 1, Defaulted: 1}, nil
}

func newTestJobs(tenants TenantLister, cases OverdueRefresher, plans PlanSweeper) *Jobs {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewJobs(tenants, cases, plans, logger)
}

func TestRefreshDaysOverdue_VisitsEveryTenant(t *testing.T) {
	refresher := &refresherStub{failFor: "tenant-b"}
	jobs := newTestJobs(tenantsStub{ids: []string{"tenant-a", "tenant-b", "tenant-c"}}, refresher, &sweeperStub{})

	jobs.RefreshDaysOverdue()

	if len(refresher.visited) != 3 {
		t.Fatalf("expected 3 tenants visited despite one failure, got %v", refresher.visited)
	}
}

func TestSweepInstallments_VisitsEveryTenant(t *testing.T) {
	sweeper := &sweeperStub{}
	jobs := newTestJobs(tenantsStub{ids: []string{"tenant-a", "tenant-b"}}, &refresherStub{}, sweeper)

	jobs.SweepInstallments()

	if len(sweeper.visited) != 2 || sweeper.visited[0] != "tenant-a" {
		t.Fatalf("unexpected tenants visited %v", sweeper.visited)
	}
}

func TestJobs_SkipWhenTenantListFails(t *testing.T) {
	refresher := &refresherStub{}
	jobs := newTestJobs(tenantsStub{err: errors.New("connection refused")}, refresher, &sweeperStub{})

	jobs.RefreshDaysOverdue()

	if len(refresher.visited) != 0 {
		t.Fatalf("expected no tenants visited, got %v", refresher.visited)
	}
}

func TestScheduler_RegistersValidSchedules(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	jobs := newTestJobs(tenantsStub{}, &refresherStub{}, &sweeperStub{})

	tests := []struct {
		name string
		cfg  domain.SchedulerConfig
		want int
	}{
		{"Both", domain.SchedulerConfig{OverdueSchedule: "0 2 * * *", InstallmentSchedule: "30 2 * * *"}, 2},
		{"InvalidSkipped", domain.SchedulerConfig{OverdueSchedule: "not a cron", InstallmentSchedule: "@hourly"}, 1},
		{"Disabled", domain.SchedulerConfig{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScheduler(jobs, logger, tt.cfg)
			s.Start()
			defer func() { <-s.Stop().Done() }()

			if got := s.Entries(); got != tt.want {
				t.Errorf("expected %d entries, got %d", tt.want, got)
			}
		})
	}
}
