package models

// KPI is a named campaign metric with its formatted value and a short reading of it.
type KPI struct {
	Name           string `json:"name" msgpack:"name"`
	Value          string `json:"value" msgpack:"value"`
	Interpretation string `json:"interpretation" msgpack:"interpretation"`
}

// ReportData is the structured analysis of one campaign report.
type ReportData struct {
	CampaignTitle             string   `json:"campaignTitle" msgpack:"campaignTitle"`
	Summary                   string   `json:"summary" msgpack:"summary"`
	KPIs                      []KPI    `json:"kpis" msgpack:"kpis"`
	PositiveInsights          []string `json:"positiveInsights" msgpack:"positiveInsights"`
	AreasForImprovement       []string `json:"areasForImprovement" msgpack:"areasForImprovement"`
	ActionableRecommendations []string `json:"actionableRecommendations" msgpack:"actionableRecommendations"`
}

// Clone returns a deep copy so callers can hand the report out without sharing slices.
func (r *ReportData) Clone() *ReportData {
	if r == nil {
		return nil
	}
	out := *r
	out.KPIs = append([]KPI(nil), r.KPIs...)
	out.PositiveInsights = append([]string(nil), r.PositiveInsights...)
	out.AreasForImprovement = append([]string(nil), r.AreasForImprovement...)
	out.ActionableRecommendations = append([]string(nil), r.ActionableRecommendations...)
	return &out
}

// ReportSummary is the archive listing view of a stored report.
type ReportSummary struct {
	ID            string `json:"id"`
	SessionID     string `json:"sessionId"`
	FileName      string `json:"fileName"`
	CampaignTitle string `json:"campaignTitle"`
	KPICount      int    `json:"kpiCount"`
	CreatedAt     int64  `json:"createdAt"` // Unix ms
}
