package model

import "time"

// ReportStatus tracks a report through its lifecycle
type ReportStatus string

const (
	ReportStatusProcessing ReportStatus = "processing"
	ReportStatusComplete   ReportStatus = "complete"
	ReportStatusError      ReportStatus = "error"
	ReportStatusSubmitted  ReportStatus = "submitted"
)

// User-facing strings shown in the report list and detail screens.
// Kept in Korean to match the frontend.
const (
	TitleAnalyzing     = "영상 분석 중..."
	TitleAnalysisError = "분석 실패"
	TitleRecovered     = "분석 취소됨"
	TitleFallback      = "위반 감지"

	MsgWaitingServer = "서버 연결 대기 중..."
	MsgAnalyzing     = "AI가 영상을 정밀 분석 중입니다..."
	MsgRecovered     = "분석 중단됨 (재시도 필요)"
	MsgServerFailed  = "서버 연결 실패"

	PlateUnrecognized = "식별불가"
	LocationUnknown   = "위치 정보 없음"
)

// Report represents one uploaded video's violation report
type Report struct {
	ID              string       `json:"id"`
	Status          ReportStatus `json:"status"`
	Title           string       `json:"title"`
	ViolationType   string       `json:"violationType,omitempty"`
	Plate           string       `json:"plate,omitempty"`
	IncidentDate    string       `json:"incidentDate,omitempty"`
	IncidentTime    string       `json:"incidentTime,omitempty"`
	Location        string       `json:"location,omitempty"`
	Description     string       `json:"description,omitempty"`
	DraftContent    string       `json:"draftContent,omitempty"`
	ReporterContact string       `json:"reporterContact,omitempty"`
	ProgressMessage string       `json:"progressMessage,omitempty"`

	// VideoReference is the server-side filename used for remote cleanup.
	// Before analysis completes it holds the original upload filename.
	VideoReference string `json:"videoReference,omitempty"`

	// LocalPath points at the spooled upload so a failed analysis can be
	// re-run without a fresh upload.
	LocalPath string `json:"localPath,omitempty"`

	// JobID fences the active analysis run; results from any other run
	// are discarded.
	JobID string `json:"jobId,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// Terminal reports no longer accept an analysis outcome.
func (r *Report) Terminal() bool {
	return r.Status != ReportStatusProcessing
}

// ReportPatch carries user edits from the detail screen. Nil fields are
// left untouched.
type ReportPatch struct {
	ViolationType   *string `json:"violationType" validate:"omitempty,max=100"`
	Plate           *string `json:"plate" validate:"omitempty,max=20"`
	IncidentDate    *string `json:"incidentDate" validate:"omitempty,datetime=2006-01-02"`
	IncidentTime    *string `json:"incidentTime" validate:"omitempty,datetime=15:04:05"`
	Location        *string `json:"location" validate:"omitempty,max=200"`
	DraftContent    *string `json:"draftContent" validate:"omitempty,max=10000"`
	ReporterContact *string `json:"reporterContact" validate:"omitempty,max=20"`
}
