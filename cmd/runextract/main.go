// runextract runs the extraction pipeline on one local file and prints the
// saved indicators. It is the operator's way to exercise the pipeline
// without the upload surface.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/yuancheng-ma/healthfolio/constants"
	"github.com/yuancheng-ma/healthfolio/internal/common"
	"github.com/yuancheng-ma/healthfolio/internal/core"
	"github.com/yuancheng-ma/healthfolio/internal/repository"
	"github.com/yuancheng-ma/healthfolio/internal/settings"
)

func main() {
	var (
		file        = flag.String("file", "", "path to the report file (pdf or image)")
		user        = flag.String("user", "", "owning user id (uuid)")
		date        = flag.String("date", time.Now().Format("2006-01-02"), "checkup date (YYYY-MM-DD)")
		institution = flag.String("institution", "", "checkup institution")
		workflow    = flag.String("workflow", "", "workflow override (ocr_llm, vlm_transformers, vl_model)")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(log)

	if err := run(*file, *user, *date, *institution, *workflow, log); err != nil {
		log.Error("extraction failed", "error", err)
		os.Exit(1)
	}
}

func run(file, user, date, institution, workflowFlag string, log *slog.Logger) error {
	if file == "" {
		return fmt.Errorf("-file is required")
	}
	userID, err := uuid.Parse(user)
	if err != nil {
		return fmt.Errorf("-user must be a uuid: %w", err)
	}
	checkupDate, err := time.Parse("2006-01-02", date)
	if err != nil {
		return fmt.Errorf("-date must be YYYY-MM-DD: %w", err)
	}
	if workflowFlag != "" && !constants.ValidWorkflow(workflowFlag) {
		return fmt.Errorf("unknown workflow %q", workflowFlag)
	}

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		return err
	}
	db, err := repository.Open(cfg.Database)
	if err != nil {
		return err
	}
	if err := repository.Migrate(db); err != nil {
		return err
	}

	reports := repository.NewReportRepository(db, log)
	indicators := repository.NewIndicatorRepository(db, log)
	jobs := repository.NewProcessingJobRepository(db, log)
	registry := settings.NewRegistry(repository.NewSettingRepository(db, log), log)
	processor := core.NewProcessor(jobs, indicators, registry, nil, nil, cfg.Pipeline.TempDir, log)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Pipeline.ProcessTimeout)
	defer cancel()

	workflow := constants.Workflow(workflowFlag)
	if workflow == "" {
		if constants.IsPDF(filepath.Ext(file)) {
			workflow = registry.OCR(ctx).PDFWorkflow
		} else {
			workflow = constants.WorkflowVLModel
		}
	}

	report, err := reports.Create(ctx, &repository.CreateReportRequest{
		UserID:      userID,
		CheckupDate: checkupDate,
		Institution: institution,
		FilePath:    file,
	})
	if err != nil {
		return err
	}
	job, err := jobs.Start(ctx, report.ID, workflow)
	if err != nil {
		return err
	}

	if err := processor.Process(ctx, userID, job.ID, file); err != nil {
		return err
	}

	saved, err := indicators.ListByReport(ctx, report.ID)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"report_id":  report.ID,
		"job_id":     job.ID,
		"workflow":   workflow,
		"indicators": saved,
	})
}
