package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"

	"github.com/roadguardian/api/internal/model"
	"github.com/roadguardian/api/internal/service"
	"github.com/roadguardian/api/internal/store"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
}

func (f *fakeEnqueuer) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{}, nil
}

type stubAnalyzer struct {
	deleteErr error
	deleted   []string
}

func (s *stubAnalyzer) Analyze(_ context.Context, _ string, _ io.Reader) (*model.AnalyzeResult, error) {
	return &model.AnalyzeResult{Result: "신호위반(적색신호)"}, nil
}

func (s *stubAnalyzer) DeleteArtifact(_ context.Context, filename string) error {
	s.deleted = append(s.deleted, filename)
	return s.deleteErr
}

type testApp struct {
	app      *fiber.App
	reports  *store.Reports
	analyzer *stubAnalyzer
}

// setupApp builds the report routes the way main.go does, with an in-memory
// store and stubbed collaborators.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	reports, err := store.NewReports(context.Background(), store.NewMemory())
	if err != nil {
		t.Fatalf("NewReports: %v", err)
	}

	analyzer := &stubAnalyzer{}
	svc := service.NewReportService(reports, analyzer, &fakeEnqueuer{}, t.TempDir())
	h := NewReportHandler(svc, validator.New())

	app := fiber.New(fiber.Config{
		BodyLimit: 200 * 1024 * 1024,
	})

	api := app.Group("/api")
	reportsGroup := api.Group("/reports")
	reportsGroup.Get("/", h.List)
	reportsGroup.Post("/", h.Create)
	reportsGroup.Get("/:id", h.Get)
	reportsGroup.Patch("/:id", h.Edit)
	reportsGroup.Delete("/:id", h.Delete)
	reportsGroup.Post("/:id/analyze", h.Resume)
	reportsGroup.Post("/:id/submit", h.Submit)

	return &testApp{app: app, reports: reports, analyzer: analyzer}
}

func createUploadRequest(t *testing.T, filename, contentType string) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	partHeader := make(textproto.MIMEHeader)
	partHeader.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	partHeader.Set("Content-Type", contentType)
	part, err := writer.CreatePart(partHeader)
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	part.Write([]byte("fake video bytes"))
	writer.Close()

	req, err := http.NewRequest(http.MethodPost, "/api/reports/", &buf)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func jsonRequest(t *testing.T, method, path string, body interface{}) *http.Request {
	t.Helper()

	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req, err := http.NewRequest(method, path, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req
}

func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var result map[string]interface{}
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("parse body %q: %v", body, err)
	}
	return result
}

func assertStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, want %d (body: %s)", resp.StatusCode, want, body)
	}
}

// completeReport pushes a freshly created record to complete the way the
// worker would.
func (ta *testApp) completeReport(t *testing.T, id string) {
	t.Helper()

	rec, ok := ta.reports.Get(id)
	if !ok {
		t.Fatalf("report %s not found", id)
	}
	fields := model.ParseAnalysis(&model.AnalyzeResult{
		Result: "신호위반(적색신호)",
		Plate:  "12가3456",
		Time:   "2025-01-01 10:00:00",
	}, rec.CreatedAt)
	if err := ta.reports.CompleteAnalysis(context.Background(), id, rec.JobID, fields); err != nil {
		t.Fatalf("CompleteAnalysis: %v", err)
	}
}

func TestCreateReport(t *testing.T) {
	ta := setupApp(t)

	resp, err := ta.app.Test(createUploadRequest(t, "dashcam.mp4", "video/mp4"), -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusCreated)

	result := parseJSON(t, resp)
	if result["id"] == nil || result["id"] == "" {
		t.Error("expected 'id' in response")
	}
	if result["status"] != string(model.ReportStatusProcessing) {
		t.Errorf("status = %v, want processing", result["status"])
	}
	if result["title"] != model.TitleAnalyzing {
		t.Errorf("title = %v", result["title"])
	}
}

func TestCreateReport_NoFile(t *testing.T) {
	ta := setupApp(t)

	req, _ := http.NewRequest(http.MethodPost, "/api/reports/", strings.NewReader(""))
	resp, err := ta.app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestCreateReport_InvalidType(t *testing.T) {
	ta := setupApp(t)

	resp, err := ta.app.Test(createUploadRequest(t, "notes.txt", "text/plain"), -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestListReports_NewestFirst(t *testing.T) {
	ta := setupApp(t)

	first, _ := ta.app.Test(createUploadRequest(t, "a.mp4", "video/mp4"), -1)
	firstID := parseJSON(t, first)["id"]
	second, _ := ta.app.Test(createUploadRequest(t, "b.mp4", "video/mp4"), -1)
	secondID := parseJSON(t, second)["id"]

	req, _ := http.NewRequest(http.MethodGet, "/api/reports/", nil)
	resp, err := ta.app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	body, _ := io.ReadAll(resp.Body)
	var list []map[string]interface{}
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("parse list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if list[0]["id"] != secondID || list[1]["id"] != firstID {
		t.Errorf("order = [%v, %v], want newest first", list[0]["id"], list[1]["id"])
	}
}

func TestGetReport_NotFound(t *testing.T) {
	ta := setupApp(t)

	req, _ := http.NewRequest(http.MethodGet, "/api/reports/nope", nil)
	resp, err := ta.app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNotFound)
}

func TestSubmitReport_LocksRecord(t *testing.T) {
	ta := setupApp(t)

	created, _ := ta.app.Test(createUploadRequest(t, "a.mp4", "video/mp4"), -1)
	id := parseJSON(t, created)["id"].(string)
	ta.completeReport(t, id)

	resp, err := ta.app.Test(jsonRequest(t, http.MethodPost, "/api/reports/"+id+"/submit", map[string]string{
		"draftContent":    "최종 신고 내용",
		"reporterContact": "01012345678",
	}), -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	if result["status"] != string(model.ReportStatusSubmitted) {
		t.Errorf("status = %v, want submitted", result["status"])
	}
	if result["reporterContact"] != "010-1234-5678" {
		t.Errorf("reporterContact = %v, want formatted", result["reporterContact"])
	}

	// Submitted is one-way: edits and re-submission are refused
	resp, _ = ta.app.Test(jsonRequest(t, http.MethodPatch, "/api/reports/"+id, map[string]string{
		"draftContent": "수정 시도",
	}), -1)
	assertStatus(t, resp, http.StatusConflict)

	resp, _ = ta.app.Test(jsonRequest(t, http.MethodPost, "/api/reports/"+id+"/submit", map[string]string{}), -1)
	assertStatus(t, resp, http.StatusConflict)
}

func TestSubmitReport_RequiresCompletedAnalysis(t *testing.T) {
	ta := setupApp(t)

	created, _ := ta.app.Test(createUploadRequest(t, "a.mp4", "video/mp4"), -1)
	id := parseJSON(t, created)["id"].(string)

	resp, err := ta.app.Test(jsonRequest(t, http.MethodPost, "/api/reports/"+id+"/submit", map[string]string{}), -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusConflict)
}

func TestDeleteReport_SurvivesRemoteFailure(t *testing.T) {
	ta := setupApp(t)

	created, _ := ta.app.Test(createUploadRequest(t, "a.mp4", "video/mp4"), -1)
	id := parseJSON(t, created)["id"].(string)

	ta.analyzer.deleteErr = errors.New("remote down")

	req, _ := http.NewRequest(http.MethodDelete, "/api/reports/"+id, nil)
	resp, err := ta.app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNoContent)

	if len(ta.reports.List()) != 0 {
		t.Error("record survived deletion")
	}
	if len(ta.analyzer.deleted) != 1 {
		t.Errorf("remote delete attempts = %d, want 1", len(ta.analyzer.deleted))
	}
}

func TestDeleteReport_NotFound(t *testing.T) {
	ta := setupApp(t)

	req, _ := http.NewRequest(http.MethodDelete, "/api/reports/nope", nil)
	resp, err := ta.app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNotFound)
}

func TestResumeReport(t *testing.T) {
	ta := setupApp(t)

	created, _ := ta.app.Test(createUploadRequest(t, "a.mp4", "video/mp4"), -1)
	id := parseJSON(t, created)["id"].(string)

	// While a job is active, resume must not double-start
	resp, _ := ta.app.Test(jsonRequest(t, http.MethodPost, "/api/reports/"+id+"/analyze", map[string]string{}), -1)
	assertStatus(t, resp, http.StatusConflict)

	rec, _ := ta.reports.Get(id)
	ta.reports.FailAnalysis(context.Background(), id, rec.JobID)

	resp, err := ta.app.Test(jsonRequest(t, http.MethodPost, "/api/reports/"+id+"/analyze", map[string]string{}), -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	if result["status"] != string(model.ReportStatusProcessing) {
		t.Errorf("status = %v, want processing", result["status"])
	}
}

func TestEditReport(t *testing.T) {
	ta := setupApp(t)

	created, _ := ta.app.Test(createUploadRequest(t, "a.mp4", "video/mp4"), -1)
	id := parseJSON(t, created)["id"].(string)
	ta.completeReport(t, id)

	resp, err := ta.app.Test(jsonRequest(t, http.MethodPatch, "/api/reports/"+id, map[string]string{
		"plate":        "34나5678",
		"location":     "서울특별시 강남구",
		"incidentDate": "2025-02-01",
	}), -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	if result["plate"] != "34나5678" {
		t.Errorf("plate = %v", result["plate"])
	}
	if result["location"] != "서울특별시 강남구" {
		t.Errorf("location = %v", result["location"])
	}

	// The analysis result the user did not touch is preserved
	if result["violationType"] != "신호위반" {
		t.Errorf("violationType = %v", result["violationType"])
	}
}

func TestEditReport_InvalidDate(t *testing.T) {
	ta := setupApp(t)

	created, _ := ta.app.Test(createUploadRequest(t, "a.mp4", "video/mp4"), -1)
	id := parseJSON(t, created)["id"].(string)
	ta.completeReport(t, id)

	resp, err := ta.app.Test(jsonRequest(t, http.MethodPatch, "/api/reports/"+id, map[string]string{
		"incidentDate": "01/02/2025",
	}), -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusBadRequest)
}
