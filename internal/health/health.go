// Package health probes the external model services concurrently.
package health

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yuancheng-ma/healthfolio/internal/core"
	"github.com/yuancheng-ma/healthfolio/internal/llm/gemini"
	"github.com/yuancheng-ma/healthfolio/internal/ocr"
	"github.com/yuancheng-ma/healthfolio/internal/settings"
)

// Report is one snapshot of external service reachability.
type Report struct {
	OCR       bool      `json:"ocr"`
	LLM       bool      `json:"llm"`
	Vision    bool      `json:"vl_model"`
	Gemini    bool      `json:"gemini"`
	CheckedAt time.Time `json:"checked_at"`
}

// Healthy reports whether the services the configured workflows depend on
// are all reachable.
func (r *Report) Healthy() bool {
	return r.OCR && r.LLM && r.Vision
}

// Check probes all services in parallel. Probes only ever return false, so
// the group error is always nil; it is used purely for the fan-out.
func Check(ctx context.Context, reg *settings.Registry, log *slog.Logger) *Report {
	if log == nil {
		log = slog.Default()
	}
	clients := core.DefaultClientFactory(ctx, reg, log)
	geminiClient := gemini.NewClient(reg.Gemini(ctx), log)

	report := &Report{CheckedAt: time.Now()}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if c, ok := clients.OCR.(*ocr.Client); ok {
			report.OCR = c.Health(gctx)
		}
		return nil
	})
	g.Go(func() error {
		report.LLM = clients.Chat.Health(gctx)
		return nil
	})
	g.Go(func() error {
		report.Vision = clients.Vision.Health(gctx)
		return nil
	})
	g.Go(func() error {
		report.Gemini = geminiClient.Health(gctx)
		return nil
	})
	_ = g.Wait()

	log.Info("health.checked", "ocr", report.OCR, "llm", report.LLM, "vl_model", report.Vision, "gemini", report.Gemini)
	return report
}
