package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/roadguardian/api/internal/model"
)

const reportsKey = "reports:list"

var (
	ErrNotFound     = errors.New("report not found")
	ErrSubmitted    = errors.New("report already submitted")
	ErrNotComplete  = errors.New("report analysis not complete")
	ErrNotRetryable = errors.New("report has no failed analysis to retry")
)

// Reports owns the ordered report collection. It is the single writer to the
// persisted snapshot: every mutation rewrites the whole list under one key.
type Reports struct {
	kv KV

	mu    sync.Mutex
	items []model.Report
}

// NewReports loads the persisted collection and applies the crash-recovery
// rule: a record still marked processing was abandoned by a restart and is
// rewritten to error before anything else sees it.
func NewReports(ctx context.Context, kv KV) (*Reports, error) {
	r := &Reports{kv: kv}

	raw, ok, err := kv.Get(ctx, reportsKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load reports: %w", err)
	}
	if !ok {
		return r, nil
	}

	if err := json.Unmarshal([]byte(raw), &r.items); err != nil {
		return nil, fmt.Errorf("failed to decode reports: %w", err)
	}

	recovered := false
	for i := range r.items {
		if r.items[i].Status == model.ReportStatusProcessing {
			r.items[i].Status = model.ReportStatusError
			r.items[i].Title = model.TitleRecovered
			r.items[i].ProgressMessage = model.MsgRecovered
			r.items[i].JobID = ""
			recovered = true
		}
	}
	if recovered {
		if err := r.persist(ctx); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// List returns the collection in order, newest first
func (r *Reports) List() []model.Report {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]model.Report, len(r.items))
	copy(out, r.items)
	return out
}

// Get returns the report with the given id
func (r *Reports) Get(id string) (model.Report, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if i := r.index(id); i >= 0 {
		return r.items[i], true
	}
	return model.Report{}, false
}

// Create inserts a new record at the head of the collection
func (r *Reports) Create(ctx context.Context, rec model.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items = append([]model.Report{rec}, r.items...)
	return r.persist(ctx)
}

// BeginAnalysis re-arms a failed record for a fresh analysis run. Only a
// record in error can be retried; processing means a job is already active.
func (r *Reports) BeginAnalysis(ctx context.Context, id, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.index(id)
	if i < 0 {
		return ErrNotFound
	}
	if r.items[i].Status != model.ReportStatusError {
		return ErrNotRetryable
	}

	r.items[i].Status = model.ReportStatusProcessing
	r.items[i].Title = model.TitleAnalyzing
	r.items[i].ProgressMessage = model.MsgWaitingServer
	r.items[i].JobID = jobID
	return r.persist(ctx)
}

// SetProgress updates the transient progress message for an active run.
// A stale id or a run that already reached a terminal status is a silent
// no-op, so late messages can never resurrect a finished record.
func (r *Reports) SetProgress(ctx context.Context, id, jobID, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.index(id)
	if i < 0 || !r.fenced(i, jobID) {
		return nil
	}

	r.items[i].ProgressMessage = msg
	return r.persist(ctx)
}

// CompleteAnalysis applies a successful analysis outcome under the job fence
func (r *Reports) CompleteAnalysis(ctx context.Context, id, jobID string, fields model.AnalysisFields) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.index(id)
	if i < 0 || !r.fenced(i, jobID) {
		return nil
	}

	rec := &r.items[i]
	rec.Status = model.ReportStatusComplete
	rec.Title = fields.Title
	rec.ViolationType = fields.ViolationType
	rec.Plate = fields.Plate
	rec.IncidentDate = fields.IncidentDate
	rec.IncidentTime = fields.IncidentTime
	rec.Location = fields.Location
	rec.Description = fields.Description
	rec.DraftContent = fields.DraftContent
	if fields.VideoReference != "" {
		rec.VideoReference = fields.VideoReference
	}
	rec.ProgressMessage = ""
	rec.JobID = ""
	return r.persist(ctx)
}

// FailAnalysis applies a failed analysis outcome under the job fence
func (r *Reports) FailAnalysis(ctx context.Context, id, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.index(id)
	if i < 0 || !r.fenced(i, jobID) {
		return nil
	}

	r.items[i].Status = model.ReportStatusError
	r.items[i].Title = model.TitleAnalysisError
	r.items[i].ProgressMessage = model.MsgServerFailed
	r.items[i].JobID = ""
	return r.persist(ctx)
}

// Edit merges user edits into a record. Submitted reports are closed to
// further edits.
func (r *Reports) Edit(ctx context.Context, id string, patch model.ReportPatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.index(id)
	if i < 0 {
		return ErrNotFound
	}
	if r.items[i].Status == model.ReportStatusSubmitted {
		return ErrSubmitted
	}

	applyPatch(&r.items[i], patch)
	return r.persist(ctx)
}

// Submit merges final edits and moves the record to submitted, a one-way
// transition only allowed from complete.
func (r *Reports) Submit(ctx context.Context, id string, patch model.ReportPatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.index(id)
	if i < 0 {
		return ErrNotFound
	}
	switch r.items[i].Status {
	case model.ReportStatusSubmitted:
		return ErrSubmitted
	case model.ReportStatusComplete:
	default:
		return ErrNotComplete
	}

	applyPatch(&r.items[i], patch)
	if r.items[i].ViolationType != "" {
		r.items[i].Title = r.items[i].ViolationType
	}
	r.items[i].Status = model.ReportStatusSubmitted
	return r.persist(ctx)
}

// Remove deletes the record with the given id. It succeeds regardless of
// whether remote cleanup for the video worked.
func (r *Reports) Remove(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.index(id)
	if i < 0 {
		return false, nil
	}

	r.items = append(r.items[:i], r.items[i+1:]...)
	return true, r.persist(ctx)
}

// persist rewrites the whole collection. Caller must hold the mutex.
func (r *Reports) persist(ctx context.Context) error {
	data, err := json.Marshal(r.items)
	if err != nil {
		return fmt.Errorf("failed to encode reports: %w", err)
	}
	if err := r.kv.Set(ctx, reportsKey, string(data)); err != nil {
		return fmt.Errorf("failed to save reports: %w", err)
	}
	return nil
}

func (r *Reports) index(id string) int {
	for i := range r.items {
		if r.items[i].ID == id {
			return i
		}
	}
	return -1
}

// fenced reports whether the record at i is still owned by the given run
func (r *Reports) fenced(i int, jobID string) bool {
	return !r.items[i].Terminal() && r.items[i].JobID == jobID
}

func applyPatch(rec *model.Report, patch model.ReportPatch) {
	if patch.ViolationType != nil {
		rec.ViolationType = *patch.ViolationType
	}
	if patch.Plate != nil {
		rec.Plate = *patch.Plate
	}
	if patch.IncidentDate != nil {
		rec.IncidentDate = *patch.IncidentDate
	}
	if patch.IncidentTime != nil {
		rec.IncidentTime = *patch.IncidentTime
	}
	if patch.Location != nil {
		rec.Location = *patch.Location
	}
	if patch.DraftContent != nil {
		rec.DraftContent = *patch.DraftContent
	}
	if patch.ReporterContact != nil {
		rec.ReporterContact = *patch.ReporterContact
	}
}
