package api

import "time"

type CreateJobRequest struct {
	Format string `json:"format"`
}

type RecordMetricRequest struct {
	Views   int64   `json:"views"`
	ViewPct float64 `json:"view_pct"` // watched percentage, [0, 1]
}

type AdjustWeightsRequest struct {
	Adjustments map[string]float64 `json:"adjustments"` // format -> additive delta
}

type JobResponse struct {
	ID             string  `json:"id"`
	Format         string  `json:"format"`
	Status         string  `json:"status"`
	GenerationCost float64 `json:"generation_cost_eur"`
	RenderCost     float64 `json:"render_cost_eur"`
	EstimatedCost  float64 `json:"estimated_cost_eur"`
	RetryCount     int     `json:"retry_count"`
	YouTubeID      string  `json:"youtube_id,omitempty"`
	ErrorMessage   string  `json:"error_message,omitempty"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
}

type WeightResponse struct {
	Format      string  `json:"format"`
	Weight      float64 `json:"weight"`
	LastUpdated string  `json:"last_updated"`
	Reason      string  `json:"reason"`
}

type BudgetResponse struct {
	Date            string  `json:"date"`
	DailyBudget     float64 `json:"daily_budget_eur"`
	TotalCost       float64 `json:"total_cost_eur"`
	GenerationCost  float64 `json:"generation_cost_eur"`
	BudgetRemaining float64 `json:"budget_remaining_eur"`
	VideoCount      int     `json:"video_count"`
	MaxDailyVideos  int     `json:"max_daily_videos"`
	Compliant       bool    `json:"compliant"`
	Reason          string  `json:"reason"`
}

type ListJobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type ListWeightsResponse struct {
	Weights []WeightResponse `json:"weights"`
}

type AdjustWeightsResponse struct {
	OldWeights map[string]float64 `json:"old_weights"`
	NewWeights map[string]float64 `json:"new_weights"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
