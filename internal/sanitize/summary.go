package sanitize

import (
	"math"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/domain"
)

const (
	maxSummaryItems     = 5
	defaultSummaryScore = 50
)

// SanitizeSummary validates clerk output. It fails only when no object can
// be recovered or the summary text is empty.
func SanitizeSummary(raw string) (domain.SummaryFeedback, bool) {
	obj, ok := extractObject(raw)
	if !ok {
		return domain.SummaryFeedback{}, false
	}

	fb := domain.SummaryFeedback{
		Summary:      stringField(obj.Get("summary")),
		Strengths:    stringList(obj.Get("strengths")),
		Improvements: stringList(obj.Get("improvements")),
		Score:        summaryScore(obj.Get("score")),
		SafetyNote:   SafetyNote,
	}
	if fb.Summary == "" {
		return domain.SummaryFeedback{}, false
	}
	return fb, true
}

func stringList(v gjson.Result) []string {
	out := []string{}
	if !v.IsArray() {
		return out
	}
	for _, elem := range v.Array() {
		if len(out) == maxSummaryItems {
			break
		}
		if elem.Type != gjson.String {
			continue
		}
		if s := strings.TrimSpace(elem.Str); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func summaryScore(v gjson.Result) float64 {
	if v.Type != gjson.Number || math.IsNaN(v.Num) || math.IsInf(v.Num, 0) {
		return defaultSummaryScore
	}
	return clamp(v.Num, 0, 100)
}
