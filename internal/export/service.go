// Package export renders a user's indicator history as an XLSX workbook.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/yuancheng-ma/healthfolio/internal/entity"
	"github.com/yuancheng-ma/healthfolio/internal/repository"
)

const sheetName = "指标"

var headerRow = []any{"检查日期", "机构", "分类", "指标名称", "数值", "单位", "参考范围", "状态"}

type Service struct {
	reports    repository.ReportRepository
	indicators repository.IndicatorRepository
	log        *slog.Logger
}

func NewService(reports repository.ReportRepository, indicators repository.IndicatorRepository, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{reports: reports, indicators: indicators, log: log}
}

// ExportIndicators writes every indicator in the date range to one sheet,
// ordered by checkup date. The returned bytes are a complete workbook.
func (s *Service) ExportIndicators(ctx context.Context, userID uuid.UUID, from, to *time.Time) ([]byte, error) {
	reports, err := s.reports.ListByUser(ctx, userID, from, to)
	if err != nil {
		return nil, err
	}
	reportByID := map[uuid.UUID]*entity.Report{}
	for _, r := range reports {
		reportByID[r.ID] = r
	}

	indicators, err := s.indicators.ListByUser(ctx, userID, from, to)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, err
	}
	if err := f.SetSheetRow(sheetName, "A1", &headerRow); err != nil {
		return nil, err
	}

	for i, ind := range indicators {
		date, institution := "", ""
		if rep, ok := reportByID[ind.ReportID]; ok {
			date = rep.CheckupDate.Format("2006-01-02")
			institution = rep.Institution
		}
		row := []any{
			date,
			institution,
			string(ind.Category),
			ind.Name,
			ind.Value,
			ind.Unit,
			ind.ReferenceRange,
			string(ind.Status),
		}
		cell := fmt.Sprintf("A%d", i+2)
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	s.log.Info("export.indicators.ok", "user_id", userID, "rows", len(indicators))
	return buf.Bytes(), nil
}
