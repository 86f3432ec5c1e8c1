package core

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/menu-allergens/constants"
	"github.com/joseph-ayodele/menu-allergens/internal/common"
	"github.com/joseph-ayodele/menu-allergens/internal/core/extract"
	"github.com/joseph-ayodele/menu-allergens/internal/core/menu"
	"github.com/joseph-ayodele/menu-allergens/internal/core/normalize"
	"github.com/joseph-ayodele/menu-allergens/internal/core/ocr"
	"github.com/joseph-ayodele/menu-allergens/internal/core/upsert"
	"github.com/joseph-ayodele/menu-allergens/internal/export"
	"github.com/joseph-ayodele/menu-allergens/internal/repository"
)

// DefaultStoreName is used when a request carries no store name.
const DefaultStoreName = "OCR Import"

const defaultPreviewLimit = 10

// Request is one conversion request.
type Request struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

// Response is always returned, also for failures.
type Response struct {
	Success        bool     `json:"success"`
	Data           any      `json:"data,omitempty"`
	Error          string   `json:"error,omitempty"`
	Code           string   `json:"code,omitempty"`
	Count          int      `json:"count"`
	Message        string   `json:"message,omitempty"`
	Sent           *bool    `json:"sent,omitempty"`
	PagesProcessed *int     `json:"pages_processed,omitempty"`
	PagesTotal     *int     `json:"pages_total,omitempty"`
	Warnings       []string `json:"warnings,omitempty"`
	JobID          string   `json:"job_id,omitempty"`
	BatchID        string   `json:"batch_id,omitempty"`

	err error
}

// Err is the failure behind an unsuccessful response.
func (r Response) Err() error { return r.err }

// Download is the data of download_csv and download_xlsx.
type Download struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Content     string `json:"content"`
	Encoding    string `json:"encoding,omitempty"`
}

type payload struct {
	Text            *string             `json:"text"`
	Lines           []string            `json:"lines"`
	Source          string              `json:"source"`
	File            string              `json:"file"`
	Filename        string              `json:"filename"`
	CSVData         *string             `json:"csv_data"`
	Items           []map[string]string `json:"items"`
	ColumnMapping   map[string]string   `json:"column_mapping"`
	Filters         normalize.Filters   `json:"filters"`
	StoreInfo       normalize.StoreInfo `json:"store_info"`
	AllergyOrder    []string            `json:"allergy_order"`
	SelectedColumns []string            `json:"selected_columns"`
	Limit           int                 `json:"limit"`
	Sync            *bool               `json:"sync"`
}

// Processor dispatches conversion actions over the extraction, parsing,
// normalization and upsert stages.
type Processor struct {
	logger     *slog.Logger
	adapter    *extract.Adapter
	parser     *menu.Parser
	normalizer *normalize.Normalizer
	sync       *upsert.Synchronizer
	exporter   *export.Service
	jobsRepo   repository.ConversionJobRepository
	now        func() time.Time
}

// NewProcessor wires the stages. sync and jobsRepo may be nil: conversions
// then report sent=false and no job log is kept.
func NewProcessor(
	logger *slog.Logger,
	adapter *extract.Adapter,
	parser *menu.Parser,
	normalizer *normalize.Normalizer,
	sync *upsert.Synchronizer,
	exporter *export.Service,
	jobsRepo repository.ConversionJobRepository,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if adapter == nil {
		adapter = extract.NewAdapter(nil, extract.Limits{}, logger)
	}
	if parser == nil {
		parser = menu.NewParser(menu.WithLogger(logger))
	}
	if normalizer == nil {
		normalizer = normalize.New(normalize.WithLogger(logger))
	}
	if exporter == nil {
		exporter = export.NewService(logger)
	}
	return &Processor{
		logger:     logger,
		adapter:    adapter,
		parser:     parser,
		normalizer: normalizer,
		sync:       sync,
		exporter:   exporter,
		jobsRepo:   jobsRepo,
		now:        time.Now,
	}
}

// Handle decodes a raw {action, payload} body and dispatches it.
func (p *Processor) Handle(ctx context.Context, body []byte) Response {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return failure(common.NewAppError(common.CodeInvalidPayload, "request body is not valid JSON", fmt.Errorf("%w: %w", common.ErrInvalidInput, err)))
	}
	return p.Dispatch(ctx, req)
}

// Dispatch validates the payload for the action and runs it. Panics in a
// stage are turned into an error response.
func (p *Processor) Dispatch(ctx context.Context, req Request) (resp Response) {
	start := time.Now()
	schema, ok := actionSchemas[req.Action]
	if !ok {
		p.logger.Warn("processor.unknown_action", "action", req.Action)
		return failure(common.NewAppError(common.CodeUnknownAction, fmt.Sprintf("unknown action %q", req.Action), common.ErrInvalidInput))
	}
	body := []byte(req.Payload)
	if len(body) == 0 || string(body) == "null" {
		body = []byte("{}")
	}

	jobID := p.startJob(ctx, req.Action, sourceHint(body, req.Action))
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("processor.panic", "action", req.Action, "panic", r)
			resp = failure(common.WrapError(fmt.Errorf("%w: %v", common.ErrInternal, r), req.Action))
		}
		p.finishJob(ctx, jobID, resp)
		if jobID != uuid.Nil {
			resp.JobID = jobID.String()
		}
		p.logger.Info("processor.done",
			"action", req.Action,
			"success", resp.Success,
			"count", resp.Count,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}()

	if err := common.ValidateJSONAgainstSchema(req.Action, schema, body); err != nil {
		p.logger.Warn("processor.invalid_payload", "action", req.Action, "error", err)
		return failure(err)
	}
	var pl payload
	if err := json.Unmarshal(body, &pl); err != nil {
		return failure(common.NewAppError(common.CodeInvalidPayload, "payload could not be decoded", fmt.Errorf("%w: %w", common.ErrInvalidInput, err)))
	}

	switch req.Action {
	case ActionProcessText:
		return p.processText(pl)
	case ActionProcessPDF:
		return p.processDocument(ctx, constants.KindPDF, pl)
	case ActionProcessImage:
		return p.processDocument(ctx, constants.KindImage, pl)
	case ActionProcessCSV:
		return p.processCSV(pl)
	case ActionPreview:
		return p.preview(pl)
	case ActionConvert:
		return p.convert(ctx, pl)
	case ActionDownloadCSV:
		return p.downloadCSV(pl)
	default:
		return p.downloadXLSX(pl)
	}
}

// ProcessLines parses an already extracted line stream.
func (p *Processor) ProcessLines(lines []string, source string) []menu.MenuItem {
	items, stats := p.parser.ParseWithStats(lines, source)
	p.logger.Debug("processor.parsed",
		"source", source,
		"lines", stats.Lines,
		"items", len(items),
		"orphans", stats.Orphans,
	)
	return items
}

// ProcessDocument runs extraction and parsing for one document.
func (p *Processor) ProcessDocument(ctx context.Context, in extract.Input) ([]menu.MenuItem, extract.Result) {
	res := p.adapter.Extract(ctx, in)
	return p.ProcessLines(res.Lines, in.Name), res
}

func (p *Processor) processText(pl payload) Response {
	source := pl.Source
	if source == "" {
		source = "text"
	}
	items := p.ProcessLines(pl.lines(), source)
	return itemsResponse(items, constants.EffectiveOrder(pl.AllergyOrder), nil)
}

func (p *Processor) processDocument(ctx context.Context, kind constants.InputKind, pl payload) Response {
	data, err := extract.DecodeBase64(pl.File)
	if err != nil {
		return failure(err)
	}
	name := pl.Filename
	if name == "" {
		name = "upload." + string(kind)
	}
	items, res := p.ProcessDocument(ctx, extract.Input{Kind: kind, Data: data, Name: name})

	order := constants.EffectiveOrder(pl.AllergyOrder)
	resp := itemsResponse(items, order, res.Warnings)
	if kind == constants.KindPDF {
		resp.PagesProcessed = intPtr(res.PagesProcessed)
		resp.PagesTotal = intPtr(res.PagesTotal)
	}
	if pl.Sync != nil && *pl.Sync {
		records := p.normalizer.Normalize(items, pl.options())
		p.send(ctx, records, &resp)
	}
	return resp
}

func (p *Processor) processCSV(pl payload) Response {
	data, err := pl.csvBytes()
	if err != nil {
		return failure(err)
	}
	source := pl.Filename
	if source == "" {
		source = "upload.csv"
	}
	order := constants.EffectiveOrder(pl.AllergyOrder)
	items, err := menu.ParseCSV(data, source, p.now())
	if err != nil {
		p.logger.Warn("processor.csv.unreadable", "source", source, "error", err)
		return itemsResponse(nil, order, []string{common.ExtractionError("csv could not be read", err).Error()})
	}
	return itemsResponse(items, order, nil)
}

func (p *Processor) preview(pl payload) Response {
	items, warnings, err := p.itemsOf(pl)
	if err != nil {
		return failure(err)
	}
	records := p.normalizer.Normalize(items, pl.options())
	limit := pl.Limit
	if limit <= 0 {
		limit = defaultPreviewLimit
	}
	shown := records
	if len(shown) > limit {
		shown = shown[:limit]
	}
	view := make([]*normalize.Record, 0, len(shown))
	for _, r := range shown {
		if len(pl.SelectedColumns) > 0 {
			r = r.Select(pl.SelectedColumns)
		}
		view = append(view, r)
	}
	return Response{
		Success:  true,
		Data:     view,
		Count:    len(records),
		Message:  fmt.Sprintf("showing %d of %d records", len(view), len(records)),
		Warnings: warnings,
	}
}

func (p *Processor) convert(ctx context.Context, pl payload) Response {
	items, warnings, err := p.itemsOf(pl)
	if err != nil {
		return failure(err)
	}
	records := p.normalizer.Normalize(items, pl.options())
	resp := Response{Success: true, Data: records, Count: len(records), Warnings: warnings}
	if pl.Sync != nil && !*pl.Sync {
		resp.Sent = boolPtr(false)
		resp.Message = fmt.Sprintf("converted %d records", len(records))
		return resp
	}
	p.send(ctx, records, &resp)
	return resp
}

// send pushes records to the store and reports on resp. A missing store is
// not a request failure.
func (p *Processor) send(ctx context.Context, records []*normalize.Record, resp *Response) {
	resp.Sent = boolPtr(false)
	if len(records) == 0 {
		resp.Message = "no records to send"
		return
	}
	if common.BatchIDFromContext(ctx) == "" {
		ctx = common.WithBatchID(ctx, uuid.NewString())
	}
	res, err := p.sync.Sync(ctx, records)
	if err != nil {
		p.logger.Warn("processor.sync.skipped", "records", len(records), "error", err)
		resp.Message = "record store not configured; records were not sent"
		resp.Warnings = append(resp.Warnings, err.Error())
		return
	}
	resp.Sent = boolPtr(res.Sent)
	resp.BatchID = res.BatchID
	resp.Message = fmt.Sprintf("sent %d of %d records (%d inserted, %d updated)", res.Succeeded, len(records), res.Inserted, res.Patched)
	for _, it := range res.Items {
		if it.Err != nil {
			resp.Warnings = append(resp.Warnings, fmt.Sprintf("%s: %v", it.Identity.Name, it.Err))
		}
	}
}

func (p *Processor) downloadCSV(pl payload) Response {
	items, warnings, err := p.itemsOf(pl)
	if err != nil {
		return failure(err)
	}
	var (
		content []byte
		count   int
	)
	if pl.wantsRecords() {
		records := p.normalizer.Normalize(items, pl.options())
		content, err = p.exporter.RecordsCSV(records)
		count = len(records)
	} else {
		content, err = p.exporter.ItemsCSV(items, constants.EffectiveOrder(pl.AllergyOrder))
		count = len(items)
	}
	if err != nil {
		return failure(common.WrapError(err, "export csv"))
	}
	return Response{
		Success: true,
		Count:   count,
		Data: Download{
			Filename:    p.exporter.Filename("csv"),
			ContentType: "text/csv; charset=utf-8",
			Content:     string(content),
		},
		Warnings: warnings,
	}
}

func (p *Processor) downloadXLSX(pl payload) Response {
	items, warnings, err := p.itemsOf(pl)
	if err != nil {
		return failure(err)
	}
	var (
		content []byte
		count   int
	)
	if pl.wantsRecords() {
		records := p.normalizer.Normalize(items, pl.options())
		content, err = p.exporter.RecordsXLSX(records)
		count = len(records)
	} else {
		content, err = p.exporter.ItemsXLSX(items, constants.EffectiveOrder(pl.AllergyOrder))
		count = len(items)
	}
	if err != nil {
		return failure(common.WrapError(err, "export xlsx"))
	}
	return Response{
		Success: true,
		Count:   count,
		Data: Download{
			Filename:    p.exporter.Filename("xlsx"),
			ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			Content:     base64.StdEncoding.EncodeToString(content),
			Encoding:    "base64",
		},
		Warnings: warnings,
	}
}

// itemsOf resolves the item source of a normalization payload: items, then
// csv_data, then text or lines.
func (p *Processor) itemsOf(pl payload) ([]menu.MenuItem, []string, error) {
	switch {
	case pl.Items != nil:
		return itemsFromJSON(pl.Items, p.now()), nil, nil
	case pl.CSVData != nil:
		items, err := menu.ParseCSV([]byte(*pl.CSVData), pl.source("csv"), p.now())
		if err != nil {
			if errors.Is(err, menu.ErrEmptyCSV) {
				return []menu.MenuItem{}, []string{err.Error()}, nil
			}
			return nil, nil, common.NewAppError(common.CodeInvalidPayload, "csv_data could not be read", fmt.Errorf("%w: %w", common.ErrInvalidInput, err))
		}
		return items, nil, nil
	default:
		return p.ProcessLines(pl.lines(), pl.source("text")), nil, nil
	}
}

// itemsFromJSON rebuilds items from their response form. Allergen keys may
// carry the allergy_ prefix; other keys are kept as extra fields.
func itemsFromJSON(objs []map[string]string, at time.Time) []menu.MenuItem {
	items := make([]menu.MenuItem, 0, len(objs))
	for _, obj := range objs {
		ts := at
		if v, err := time.Parse(time.RFC3339, obj["extracted_at"]); err == nil {
			ts = v
		}
		it := menu.NewMenuItem(strings.TrimSpace(obj[normalize.FieldMenuName]), obj["source_file"], ts)
		for k, v := range obj {
			switch k {
			case normalize.FieldMenuName, "source_file", "extracted_at":
				continue
			}
			if name := strings.TrimPrefix(k, normalize.AllergyPrefix); constants.IsAllergen(name) {
				it.Allergens[name] = constants.ParseStatus(v)
				continue
			}
			if it.Extra == nil {
				it.Extra = make(map[string]string)
			}
			it.Extra[k] = v
		}
		items = append(items, it)
	}
	return items
}

// itemView is the response form of an item: name, one symbol per allergen
// in order, then provenance.
func itemView(it menu.MenuItem, order []string) *normalize.Record {
	r := normalize.NewRecord()
	r.Set(normalize.FieldMenuName, it.Name)
	for _, a := range order {
		r.Set(a, it.Status(a).Symbol())
	}
	r.Set("source_file", it.SourceFile)
	if !it.ExtractedAt.IsZero() {
		r.Set("extracted_at", it.ExtractedAt.UTC().Format(time.RFC3339))
	}
	return r
}

func itemsResponse(items []menu.MenuItem, order []string, warnings []string) Response {
	view := make([]*normalize.Record, 0, len(items))
	for _, it := range items {
		view = append(view, itemView(it, order))
	}
	resp := Response{Success: true, Data: view, Count: len(view), Warnings: warnings}
	if len(view) == 0 {
		resp.Message = "no menu items found"
	}
	return resp
}

func failure(err error) Response {
	resp := Response{Success: false, Error: err.Error(), Code: "INTERNAL", err: err}
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		resp.Code = appErr.Code
		resp.Error = appErr.Message
	}
	return resp
}

func (p *Processor) startJob(ctx context.Context, action, source string) uuid.UUID {
	if p.jobsRepo == nil {
		return uuid.Nil
	}
	id, err := p.jobsRepo.Start(ctx, action, source)
	if err != nil {
		p.logger.Warn("processor.job.start_failed", "action", action, "error", err)
		return uuid.Nil
	}
	return id
}

func (p *Processor) finishJob(ctx context.Context, id uuid.UUID, resp Response) {
	if p.jobsRepo == nil || id == uuid.Nil {
		return
	}
	var err error
	if resp.Success {
		out := repository.JobOutcome{ItemCount: resp.Count}
		if resp.PagesProcessed != nil {
			out.PagesProcessed = *resp.PagesProcessed
		}
		if resp.PagesTotal != nil {
			out.PagesTotal = *resp.PagesTotal
		}
		if resp.Sent != nil {
			out.Sent = *resp.Sent
		}
		err = p.jobsRepo.Finish(ctx, id, out)
	} else {
		err = p.jobsRepo.Fail(ctx, id, resp.Error)
	}
	if err != nil {
		p.logger.Warn("processor.job.finish_failed", "job_id", id, "error", err)
	}
}

func (pl payload) lines() []string {
	if pl.Text != nil {
		return ocr.Lines(*pl.Text)
	}
	return ocr.Lines(strings.Join(pl.Lines, "\n"))
}

// sourceHint names the job source before the payload is validated.
func sourceHint(body []byte, fallback string) string {
	var pl payload
	if json.Unmarshal(body, &pl) != nil {
		return fallback
	}
	return pl.source(fallback)
}

func (pl payload) source(fallback string) string {
	switch {
	case pl.Filename != "":
		return pl.Filename
	case pl.Source != "":
		return pl.Source
	}
	return fallback
}

func (pl payload) csvBytes() ([]byte, error) {
	if pl.CSVData != nil {
		return []byte(*pl.CSVData), nil
	}
	return extract.DecodeBase64(pl.File)
}

func (pl payload) options() normalize.Options {
	store := pl.StoreInfo
	if strings.TrimSpace(store.StoreName) == "" {
		store.StoreName = DefaultStoreName
	}
	return normalize.Options{
		ColumnMapping: pl.ColumnMapping,
		AllergenOrder: pl.AllergyOrder,
		Store:         store,
		Filters:       pl.Filters,
	}
}

// wantsRecords is true when a download asks for normalized records rather
// than the plain item table.
func (pl payload) wantsRecords() bool {
	return len(pl.ColumnMapping) > 0 ||
		len(pl.Filters.AllergyContains) > 0 ||
		len(pl.Filters.NameContains) > 0 ||
		pl.StoreInfo != (normalize.StoreInfo{})
}

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }
