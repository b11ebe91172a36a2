package model

import (
	"fmt"
	"strings"
	"time"
)

// AnalyzeResult is the payload returned by the video analysis service
type AnalyzeResult struct {
	Result   string `json:"result"`
	Plate    string `json:"plate"`
	Time     string `json:"time"`
	AIReport string `json:"ai_report"`
	Filename string `json:"filename"`
}

// AnalysisFields holds the record fields extracted from one analysis run
type AnalysisFields struct {
	Title          string
	ViolationType  string
	Plate          string
	IncidentDate   string
	IncidentTime   string
	Location       string
	Description    string
	DraftContent   string
	VideoReference string
}

// ParseAnalysis maps an analyzer payload onto report fields, applying the
// fallbacks the detail screen expects.
func ParseAnalysis(res *AnalyzeResult, now time.Time) AnalysisFields {
	violation := ViolationTitle(res.Result)

	desc := res.Result
	if desc == "" {
		desc = "위반 사항이 감지되지 않았습니다."
	}

	plate := res.Plate
	if plate == "" {
		plate = PlateUnrecognized
	}

	date, tod := SplitTimestamp(res.Time, now)

	return AnalysisFields{
		Title:          violation,
		ViolationType:  violation,
		Plate:          plate,
		IncidentDate:   date,
		IncidentTime:   tod,
		Location:       LocationUnknown,
		Description:    desc,
		DraftContent:   SeedDraft(res),
		VideoReference: res.Filename,
	}
}

// ViolationTitle shortens a full violation description to its label, e.g.
// "신호위반(적색신호)" becomes "신호위반".
func ViolationTitle(result string) string {
	if result == "" {
		return TitleFallback
	}
	if i := strings.Index(result, "("); i >= 0 {
		result = result[:i]
	}
	return strings.TrimSpace(result)
}

// SplitTimestamp splits a combined "YYYY-MM-DD HH:MM:SS" value into its date
// and time-of-day parts. A value without a space defaults to today's date
// and a zero time-of-day.
func SplitTimestamp(raw string, now time.Time) (date, tod string) {
	if parts := strings.SplitN(raw, " ", 2); len(parts) == 2 {
		return parts[0], parts[1]
	}
	return now.Format("2006-01-02"), "00:00:00"
}

// SeedDraft returns the narrative draft for a fresh analysis: the LLM-written
// report when present, otherwise a template filled from the detection result.
func SeedDraft(res *AnalyzeResult) string {
	if res.AIReport != "" {
		return res.AIReport
	}

	violation := res.Result
	if violation == "" {
		violation = TitleFallback
	}
	plate := res.Plate
	if plate == "" {
		plate = PlateUnrecognized
	}

	return fmt.Sprintf(`[AI 자동 생성 초안]
위반 내용: %s
차량 번호: %s

상세 내용:
위 차량이 교통법규를 위반하는 장면이 확인되었습니다.`, violation, plate)
}
