package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"github.com/roadguardian/api/internal/client"
	"github.com/roadguardian/api/internal/model"
	"github.com/roadguardian/api/internal/service"
	"github.com/roadguardian/api/internal/store"
	"github.com/roadguardian/api/internal/websocket"
)

// progressScript is the ordered sequence of log lines shown while the
// analyzer works. Purely cosmetic: it never delays the network call and is
// torn down the moment the call returns.
var progressScript = []struct {
	after   time.Duration
	message string
}{
	{0, "📡 서버 연결 중..."},
	{300 * time.Millisecond, "📤 영상 업로드 및 분석 요청..."},
	{1500 * time.Millisecond, "👀 AI가 영상을 프레임 단위로 쪼개는 중..."},
	{3500 * time.Millisecond, "🚗 차량 및 번호판 인식 시도 중..."},
	{5500 * time.Millisecond, "⚖️ 도로교통법 위반 여부 판단 중..."},
	{7 * time.Second, "📝 LLM이 신고 초안을 작성하는 중..."},
}

// AnalyzeWorker processes video analysis jobs
type AnalyzeWorker struct {
	reports  *store.Reports
	analyzer client.Analyzer
	hub      *websocket.Hub
}

// NewAnalyzeWorker creates a new analysis worker
func NewAnalyzeWorker(reports *store.Reports, analyzer client.Analyzer, hub *websocket.Hub) *AnalyzeWorker {
	return &AnalyzeWorker{
		reports:  reports,
		analyzer: analyzer,
		hub:      hub,
	}
}

// ProcessTask runs one analysis job: a single upload+analyze request with a
// cosmetic progress feed alongside it. Exactly one of success or failure is
// applied to the record, and only while the record still belongs to this run.
func (w *AnalyzeWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload service.AnalyzeTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}

	reportID, jobID := payload.ReportID, payload.JobID
	log.Printf("Starting analysis job %s for report %s", jobID, reportID)

	if err := w.reports.SetProgress(ctx, reportID, jobID, model.MsgAnalyzing); err != nil {
		log.Printf("Failed to update progress: %v", err)
	}

	// Progress feed owned by this job, torn down with it
	pubCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.publishProgress(pubCtx, reportID, jobID)
	}()

	result, err := w.analyze(ctx, payload)

	cancel()
	<-done

	if err != nil {
		log.Printf("Analysis job %s failed: %v", jobID, err)
		if ferr := w.reports.FailAnalysis(ctx, reportID, jobID); ferr != nil {
			log.Printf("Failed to mark report as failed: %v", ferr)
		}
		w.hub.BroadcastError(reportID, "ANALYZE_FAILED", model.MsgServerFailed)
		// The outcome is applied; asynq must not retry
		return nil
	}

	fields := model.ParseAnalysis(result, time.Now())
	if err := w.reports.CompleteAnalysis(ctx, reportID, jobID, fields); err != nil {
		log.Printf("Failed to save analysis result: %v", err)
		return err
	}

	if rec, ok := w.reports.Get(reportID); ok {
		w.hub.BroadcastComplete(reportID, rec)
	}

	log.Printf("Analysis job %s completed", jobID)
	return nil
}

func (w *AnalyzeWorker) analyze(ctx context.Context, payload service.AnalyzeTaskPayload) (*model.AnalyzeResult, error) {
	f, err := os.Open(payload.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open spooled video: %w", err)
	}
	defer f.Close()

	return w.analyzer.Analyze(ctx, payload.Filename, f)
}

// publishProgress walks the log script on its fixed schedule until the job's
// context is canceled. Each line goes to subscribers and onto the record's
// transient progress message; the store discards lines arriving after the
// run reached a terminal status.
func (w *AnalyzeWorker) publishProgress(ctx context.Context, reportID, jobID string) {
	start := time.Now()
	for _, step := range progressScript {
		wait := step.after - time.Since(start)
		if wait > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
		if ctx.Err() != nil {
			return
		}

		w.hub.BroadcastLog(reportID, step.message)
		if err := w.reports.SetProgress(ctx, reportID, jobID, step.message); err != nil {
			log.Printf("Failed to update progress: %v", err)
		}
	}
}
