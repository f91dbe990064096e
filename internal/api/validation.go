package api

import (
	"fmt"

	"github.com/shortfab/shortfab/internal/domain"
)

func validateCreateJob(req CreateJobRequest) error {
	if req.Format == "" {
		return fmt.Errorf("format is required")
	}
	if !domain.ValidFormat(domain.VideoFormat(req.Format)) {
		return fmt.Errorf("unknown format %q", req.Format)
	}
	return nil
}

func validateRecordMetric(req RecordMetricRequest) error {
	if req.Views < 0 {
		return fmt.Errorf("views must not be negative")
	}
	if req.ViewPct < 0 || req.ViewPct > 1 {
		return fmt.Errorf("view_pct must be between 0 and 1")
	}
	return nil
}

func validateAdjustWeights(req AdjustWeightsRequest) error {
	if len(req.Adjustments) == 0 {
		return fmt.Errorf("adjustments is required")
	}
	for format := range req.Adjustments {
		if !domain.ValidFormat(domain.VideoFormat(format)) {
			return fmt.Errorf("unknown format %q", format)
		}
	}
	return nil
}
