package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/roadguardian/api/internal/client"
	"github.com/roadguardian/api/internal/model"
	"github.com/roadguardian/api/internal/store"
	"github.com/roadguardian/api/pkg/format"
)

const (
	TaskTypeAnalyze = "analyze:video"
	QueueAnalyze    = "analyze"

	analyzeTaskTimeout  = 10 * time.Minute
	remoteDeleteTimeout = 5 * time.Second
)

// TaskEnqueuer abstracts the asynq client so tests can capture enqueued tasks
type TaskEnqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AnalyzeTaskPayload is the asynq payload for one analysis run
type AnalyzeTaskPayload struct {
	ReportID  string `json:"reportId"`
	JobID     string `json:"jobId"`
	LocalPath string `json:"localPath"`
	Filename  string `json:"filename"`
}

// ReportService orchestrates the report lifecycle: uploads, analysis jobs,
// edits, submission, and deletion with best-effort remote cleanup.
type ReportService struct {
	reports  *store.Reports
	analyzer client.Analyzer
	tasks    TaskEnqueuer
	spoolDir string
}

func NewReportService(reports *store.Reports, analyzer client.Analyzer, tasks TaskEnqueuer, spoolDir string) *ReportService {
	return &ReportService{
		reports:  reports,
		analyzer: analyzer,
		tasks:    tasks,
		spoolDir: spoolDir,
	}
}

// List returns all reports, newest first
func (s *ReportService) List() []model.Report {
	return s.reports.List()
}

// Get returns a single report
func (s *ReportService) Get(id string) (model.Report, bool) {
	return s.reports.Get(id)
}

// CreateFromUpload spools the uploaded video, creates a fresh processing
// record at the head of the list, and enqueues exactly one analysis job.
// Every upload is a brand-new record.
func (s *ReportService) CreateFromUpload(ctx context.Context, filename string, src io.Reader) (model.Report, error) {
	id := uuid.New().String()
	jobID := uuid.New().String()

	localPath, err := s.spool(id, filename, src)
	if err != nil {
		return model.Report{}, fmt.Errorf("failed to spool upload: %w", err)
	}

	rec := model.Report{
		ID:              id,
		Status:          model.ReportStatusProcessing,
		Title:           model.TitleAnalyzing,
		ProgressMessage: model.MsgWaitingServer,
		VideoReference:  filename,
		LocalPath:       localPath,
		JobID:           jobID,
		CreatedAt:       time.Now(),
	}

	if err := s.reports.Create(ctx, rec); err != nil {
		os.Remove(localPath)
		return model.Report{}, err
	}

	if err := s.enqueue(rec, jobID); err != nil {
		// The record would otherwise sit in processing with no job to ever
		// finish it. Fail it under its own job id so the user can retry;
		// the spooled video stays put as the retry source.
		if ferr := s.reports.FailAnalysis(ctx, id, jobID); ferr != nil {
			log.Printf("Failed to mark report %s as failed after enqueue error: %v", id, ferr)
		}
		return model.Report{}, err
	}

	return rec, nil
}

// Resume re-runs analysis for a report whose previous run failed. The record
// status is the guard: only error records can be re-armed, so a second
// resume while a job is active is rejected rather than doubled.
func (s *ReportService) Resume(ctx context.Context, id string) (model.Report, error) {
	rec, ok := s.reports.Get(id)
	if !ok {
		return model.Report{}, store.ErrNotFound
	}
	if rec.LocalPath == "" {
		return model.Report{}, fmt.Errorf("report %s has no spooled video to re-analyze", id)
	}
	if _, err := os.Stat(rec.LocalPath); err != nil {
		return model.Report{}, fmt.Errorf("spooled video missing: %w", err)
	}

	jobID := uuid.New().String()
	if err := s.reports.BeginAnalysis(ctx, id, jobID); err != nil {
		return model.Report{}, err
	}

	rec, _ = s.reports.Get(id)
	if err := s.enqueue(rec, jobID); err != nil {
		// Roll the record back to error so the next retry isn't blocked
		// behind a run that never made it into the queue.
		if ferr := s.reports.FailAnalysis(ctx, id, jobID); ferr != nil {
			log.Printf("Failed to mark report %s as failed after enqueue error: %v", id, ferr)
		}
		return model.Report{}, err
	}

	return rec, nil
}

// Edit merges user edits from the detail screen into a record
func (s *ReportService) Edit(ctx context.Context, id string, patch model.ReportPatch) (model.Report, error) {
	normalizeContact(&patch)
	if err := s.reports.Edit(ctx, id, patch); err != nil {
		return model.Report{}, err
	}
	rec, _ := s.reports.Get(id)
	return rec, nil
}

// Submit finalizes a report. The transition to submitted is one-way: the
// record accepts no further edits afterwards.
func (s *ReportService) Submit(ctx context.Context, id string, patch model.ReportPatch) (model.Report, error) {
	normalizeContact(&patch)
	if err := s.reports.Submit(ctx, id, patch); err != nil {
		return model.Report{}, err
	}
	rec, _ := s.reports.Get(id)
	return rec, nil
}

// Delete removes a report. Remote video cleanup is best-effort with a
// bounded wait; its failure never blocks the local removal.
func (s *ReportService) Delete(ctx context.Context, id string) (bool, error) {
	rec, ok := s.reports.Get(id)
	if !ok {
		return false, nil
	}

	if rec.VideoReference != "" {
		delCtx, cancel := context.WithTimeout(ctx, remoteDeleteTimeout)
		if err := s.analyzer.DeleteArtifact(delCtx, rec.VideoReference); err != nil {
			log.Printf("Remote delete failed for report %s (continuing): %v", id, err)
		}
		cancel()
	}

	if rec.LocalPath != "" {
		if err := os.Remove(rec.LocalPath); err != nil && !os.IsNotExist(err) {
			log.Printf("Failed to remove spooled video %s: %v", rec.LocalPath, err)
		}
	}

	return s.reports.Remove(ctx, id)
}

func (s *ReportService) spool(id, filename string, src io.Reader) (string, error) {
	if err := os.MkdirAll(s.spoolDir, 0o755); err != nil {
		return "", err
	}

	path := filepath.Join(s.spoolDir, id+"_"+filepath.Base(filename))
	dst, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func (s *ReportService) enqueue(rec model.Report, jobID string) error {
	payload := AnalyzeTaskPayload{
		ReportID:  rec.ID,
		JobID:     jobID,
		LocalPath: rec.LocalPath,
		Filename:  rec.VideoReference,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal task payload: %w", err)
	}

	// No automatic retries: a failed analysis stays failed until the user
	// re-initiates a fresh job.
	_, err = s.tasks.Enqueue(asynq.NewTask(TaskTypeAnalyze, data),
		asynq.Queue(QueueAnalyze),
		asynq.MaxRetry(0),
		asynq.Timeout(analyzeTaskTimeout),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

func normalizeContact(patch *model.ReportPatch) {
	if patch.ReporterContact != nil {
		formatted := format.Phone(*patch.ReporterContact)
		patch.ReporterContact = &formatted
	}
}
