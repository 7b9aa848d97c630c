// Package integrate implements the cross-report data integration engine: it
// asks a model to harmonize indicator names, units and categories across a
// user's reports, validates the proposal, and applies accepted changes.
package integrate

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yuancheng-ma/healthfolio/constants"
	"github.com/yuancheng-ma/healthfolio/internal/common"
	"github.com/yuancheng-ma/healthfolio/internal/entity"
	"github.com/yuancheng-ma/healthfolio/internal/llm"
	"github.com/yuancheng-ma/healthfolio/internal/llm/gemini"
	"github.com/yuancheng-ma/healthfolio/internal/llm/openai"
	"github.com/yuancheng-ma/healthfolio/internal/repository"
	"github.com/yuancheng-ma/healthfolio/internal/settings"
)

// ChatFactory builds the chat client for one analysis run.
type ChatFactory func(ctx context.Context, reg *settings.Registry, log *slog.Logger) llm.ChatClient

// DefaultChatFactory mirrors the pipeline's provider switch.
func DefaultChatFactory(ctx context.Context, reg *settings.Registry, log *slog.Logger) llm.ChatClient {
	cfg := reg.LLM(ctx)
	if cfg.Provider == "gemini" {
		return gemini.NewClient(reg.Gemini(ctx), log)
	}
	return openai.NewClient(cfg, reg.Health(ctx), log)
}

// FieldDiff is one field-level change with its before value.
type FieldDiff struct {
	Field  string `json:"field"`
	Before string `json:"before"`
	After  string `json:"after"`
}

// ProposedChange is one validated model suggestion, presented to the user
// before anything is written.
type ProposedChange struct {
	IndicatorID uuid.UUID   `json:"indicator_id"`
	ReportID    uuid.UUID   `json:"report_id"`
	Name        string      `json:"name"`
	Reason      string      `json:"reason,omitempty"`
	Diffs       []FieldDiff `json:"diffs"`
}

// AnalyzeResult is the validated integration proposal.
type AnalyzeResult struct {
	Changes   []ProposedChange `json:"changes"`
	Unchanged []uuid.UUID      `json:"unchanged"`
	Discarded int              `json:"discarded"`
}

// ApplyResult reports what a proposal application actually wrote.
type ApplyResult struct {
	Applied int `json:"applied"`
	Skipped int `json:"skipped"`
}

// Engine drives analyze/apply.
type Engine struct {
	reports    repository.ReportRepository
	indicators repository.IndicatorRepository
	applier    repository.IntegrationRepository
	registry   *settings.Registry
	newChat    ChatFactory
	log        *slog.Logger
}

func NewEngine(
	reports repository.ReportRepository,
	indicators repository.IndicatorRepository,
	applier repository.IntegrationRepository,
	registry *settings.Registry,
	factory ChatFactory,
	log *slog.Logger,
) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if factory == nil {
		factory = DefaultChatFactory
	}
	return &Engine{
		reports:    reports,
		indicators: indicators,
		applier:    applier,
		registry:   registry,
		newChat:    factory,
		log:        log,
	}
}

// payload shapes sent to the model. Entries are compact: ids plus the
// mutable fields and the read-only reference range for context.
type payloadEntry struct {
	ID             string `json:"id"`
	ReportDate     string `json:"report_date"`
	Name           string `json:"name"`
	Value          string `json:"value"`
	Unit           string `json:"unit,omitempty"`
	ReferenceRange string `json:"reference_range,omitempty"`
	Status         string `json:"status"`
	IndicatorType  string `json:"indicator_type"`
}

type payloadGroup struct {
	Name    string         `json:"name"`
	Entries []payloadEntry `json:"entries"`
}

// Analyze asks the model for harmonization suggestions across the given
// reports and returns only the suggestions that survive validation. Nothing
// is written. userPrompt is optional free-text guidance from the user that
// is appended to the model request.
func (e *Engine) Analyze(ctx context.Context, userID uuid.UUID, reportIDs []uuid.UUID, userPrompt string) (*AnalyzeResult, error) {
	if len(reportIDs) == 0 {
		return nil, common.NewAppErrorf(common.CodeBadInput, "no reports selected")
	}

	// Ownership preflight: every requested report must belong to the user.
	owned, err := e.reports.ListByIDs(ctx, userID, reportIDs)
	if err != nil {
		return nil, err
	}
	if len(owned) != len(dedupe(reportIDs)) {
		return nil, common.NewAppErrorf(common.CodeIntegrationUnauth,
			"request includes reports not owned by the user")
	}
	reportByID := map[uuid.UUID]*entity.Report{}
	for _, r := range owned {
		reportByID[r.ID] = r
	}

	indicators, err := e.indicators.ListByReports(ctx, reportIDs)
	if err != nil {
		return nil, err
	}
	if len(indicators) == 0 {
		return &AnalyzeResult{}, nil
	}
	byID := map[uuid.UUID]*entity.Indicator{}
	for _, ind := range indicators {
		byID[ind.ID] = ind
	}

	payload, err := buildPayload(indicators, reportByID)
	if err != nil {
		return nil, err
	}

	chat := e.newChat(ctx, e.registry, e.log)
	start := time.Now()
	raw, err := chat.Invoke(ctx, BuildIntegrationSystemPrompt(), BuildIntegrationUserPrompt(payload, userPrompt))
	if err != nil {
		return nil, err
	}
	e.log.Info("integration.analyze.model_ok", "user_id", userID,
		"elapsed_ms", time.Since(start).Milliseconds(), "response_length", len(raw))

	changes, err := parseChanges(raw)
	if err != nil {
		return nil, err
	}

	result := &AnalyzeResult{}
	touched := map[uuid.UUID]bool{}
	for _, ch := range changes {
		proposed, ok := e.validateChange(ch, byID)
		if !ok {
			result.Discarded++
			continue
		}
		result.Changes = append(result.Changes, *proposed)
		touched[proposed.IndicatorID] = true
	}
	for _, ind := range indicators {
		if !touched[ind.ID] {
			result.Unchanged = append(result.Unchanged, ind.ID)
		}
	}
	return result, nil
}

// Apply writes a previously validated proposal. Callers pass the proposal
// back after user confirmation; rows are re-validated against ownership
// inside the transaction.
func (e *Engine) Apply(ctx context.Context, userID uuid.UUID, changes []ProposedChange) (*ApplyResult, error) {
	if len(changes) == 0 {
		return &ApplyResult{}, nil
	}
	updates := make([]repository.FieldUpdate, 0, len(changes))
	for _, ch := range changes {
		fields := map[string]any{}
		for _, d := range ch.Diffs {
			switch d.Field {
			case "name", "value", "unit", "status", "category":
				fields[d.Field] = d.After
			}
		}
		updates = append(updates, repository.FieldUpdate{IndicatorID: ch.IndicatorID, Fields: fields})
	}
	applied, skipped, err := e.applier.ApplyChanges(ctx, userID, updates)
	if err != nil {
		return nil, err
	}
	return &ApplyResult{Applied: applied, Skipped: skipped}, nil
}

// rawChange is the model's change shape with scalars coerced to strings.
type rawChange struct {
	ID            string
	IndicatorName string
	Value         string
	Unit          string
	Status        string
	IndicatorType string
	Reason        string
}

func parseChanges(raw string) ([]rawChange, error) {
	obj := llm.ExtractJSON(raw, llm.HasChanges)
	if obj == nil {
		if llm.IsTruncated(raw) {
			return nil, common.NewAppErrorf(common.CodeLLMTruncated,
				"integration output truncated mid-structure (response_length=%d)", len(raw))
		}
		return nil, common.NewAppErrorf(common.CodeIntegrationBadData,
			"no usable changes object in model output (response_length=%d)", len(raw))
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	var out struct {
		Changes []struct {
			ID            json.RawMessage `json:"id"`
			IndicatorName json.RawMessage `json:"indicator_name"`
			Value         json.RawMessage `json:"value"`
			Unit          json.RawMessage `json:"unit"`
			Status        json.RawMessage `json:"status"`
			IndicatorType json.RawMessage `json:"indicator_type"`
			Reason        json.RawMessage `json:"reason"`
		} `json:"changes"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, common.NewAppError(common.CodeIntegrationBadData, "decode changes", err)
	}
	changes := make([]rawChange, 0, len(out.Changes))
	for _, c := range out.Changes {
		changes = append(changes, rawChange{
			ID:            scalarString(c.ID),
			IndicatorName: scalarString(c.IndicatorName),
			Value:         scalarString(c.Value),
			Unit:          scalarString(c.Unit),
			Status:        scalarString(c.Status),
			IndicatorType: scalarString(c.IndicatorType),
			Reason:        scalarString(c.Reason),
		})
	}
	return changes, nil
}

// validateChange checks one suggestion against the loaded indicator set and
// turns it into field diffs. Suggestions with unknown ids, no effective
// change, or invalid enum values are discarded.
func (e *Engine) validateChange(ch rawChange, byID map[uuid.UUID]*entity.Indicator) (*ProposedChange, bool) {
	id, err := uuid.Parse(strings.TrimSpace(ch.ID))
	if err != nil {
		return nil, false
	}
	ind, ok := byID[id]
	if !ok {
		return nil, false
	}

	var diffs []FieldDiff
	if v := strings.TrimSpace(ch.IndicatorName); v != "" && v != ind.Name {
		diffs = append(diffs, FieldDiff{Field: "name", Before: ind.Name, After: v})
	}
	if v := strings.TrimSpace(ch.Value); v != "" && v != ind.Value {
		diffs = append(diffs, FieldDiff{Field: "value", Before: ind.Value, After: v})
	}
	if v := strings.TrimSpace(ch.Unit); v != "" && v != ind.Unit {
		diffs = append(diffs, FieldDiff{Field: "unit", Before: ind.Unit, After: v})
	}
	if v := strings.TrimSpace(ch.Status); v != "" && v != string(ind.Status) {
		if !constants.ValidIndicatorStatus(v) {
			return nil, false
		}
		diffs = append(diffs, FieldDiff{Field: "status", Before: string(ind.Status), After: v})
	}
	if v := strings.TrimSpace(ch.IndicatorType); v != "" && v != string(ind.Category) {
		if !constants.ValidCategory(v) {
			return nil, false
		}
		diffs = append(diffs, FieldDiff{Field: "category", Before: string(ind.Category), After: v})
	}
	if len(diffs) == 0 {
		return nil, false
	}
	return &ProposedChange{
		IndicatorID: ind.ID,
		ReportID:    ind.ReportID,
		Name:        ind.Name,
		Reason:      strings.TrimSpace(ch.Reason),
		Diffs:       diffs,
	}, true
}

func buildPayload(indicators []*entity.Indicator, reports map[uuid.UUID]*entity.Report) (string, error) {
	groups := map[string]*payloadGroup{}
	var order []string
	for _, ind := range indicators {
		key := strings.ToLower(strings.TrimSpace(ind.Name))
		g, ok := groups[key]
		if !ok {
			g = &payloadGroup{Name: ind.Name}
			groups[key] = g
			order = append(order, key)
		}
		date := ""
		if rep, ok := reports[ind.ReportID]; ok {
			date = rep.CheckupDate.Format("2006-01-02")
		}
		g.Entries = append(g.Entries, payloadEntry{
			ID:             ind.ID.String(),
			ReportDate:     date,
			Name:           ind.Name,
			Value:          ind.Value,
			Unit:           ind.Unit,
			ReferenceRange: ind.ReferenceRange,
			Status:         string(ind.Status),
			IndicatorType:  string(ind.Category),
		})
	}
	sort.Strings(order)
	out := make([]payloadGroup, 0, len(order))
	for _, key := range order {
		out = append(out, *groups[key])
	}
	b, err := json.Marshal(map[string]any{"groups": out})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func scalarString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := map[uuid.UUID]struct{}{}
	var out []uuid.UUID
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
