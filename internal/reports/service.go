// Package reports is the read/delete surface over stored reports.
package reports

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/yuancheng-ma/healthfolio/internal/entity"
	"github.com/yuancheng-ma/healthfolio/internal/repository"
)

// Summary is one report with its indicator count, for list views.
type Summary struct {
	*entity.Report
	IndicatorCount int64 `json:"indicator_count"`
}

type Service struct {
	reports    repository.ReportRepository
	indicators repository.IndicatorRepository
	jobs       repository.ProcessingJobRepository
	log        *slog.Logger
}

func NewService(
	reports repository.ReportRepository,
	indicators repository.IndicatorRepository,
	jobs repository.ProcessingJobRepository,
	log *slog.Logger,
) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{reports: reports, indicators: indicators, jobs: jobs, log: log}
}

// List returns the user's reports in checkup-date order with their
// indicator counts.
func (s *Service) List(ctx context.Context, userID uuid.UUID, from, to *time.Time) ([]*Summary, error) {
	reps, err := s.reports.ListByUser(ctx, userID, from, to)
	if err != nil {
		return nil, err
	}
	out := make([]*Summary, 0, len(reps))
	for _, rep := range reps {
		n, err := s.indicators.CountByReport(ctx, rep.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, &Summary{Report: rep, IndicatorCount: n})
	}
	return out, nil
}

// Get returns one owned report with its indicators attached.
func (s *Service) Get(ctx context.Context, userID, reportID uuid.UUID) (*entity.Report, error) {
	rep, err := s.reports.GetByID(ctx, userID, reportID)
	if err != nil {
		return nil, err
	}
	inds, err := s.indicators.ListByReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	rep.Indicators = make([]entity.Indicator, 0, len(inds))
	for _, ind := range inds {
		rep.Indicators = append(rep.Indicators, *ind)
	}
	return rep, nil
}

// Delete removes an owned report; indicators and the processing job go with
// it via the cascade.
func (s *Service) Delete(ctx context.Context, userID, reportID uuid.UUID) error {
	if err := s.reports.Delete(ctx, userID, reportID); err != nil {
		return err
	}
	s.log.Info("report deleted", "report_id", reportID, "user_id", userID)
	return nil
}
