package usecase

import "context"

// MetricsSummary represents aggregated prediction insights.
type MetricsSummary struct {
	TotalRequests              int64   `json:"total_requests"`
	ClassifiedRequests         int64   `json:"classified_requests"`
	RejectedRequests           int64   `json:"rejected_requests"`
	FailedRequests             int64   `json:"failed_requests"`
	RejectionRate              float64 `json:"rejection_rate"`
	AverageConfidence          float64 `json:"average_confidence"`
	AverageProcessingLatencyMs float64 `json:"average_processing_latency_ms"`
}

// GetMetricsSummary aggregates prediction metrics from persisted logs.
func (uc *PredictionUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	if uc.repo == nil {
		return nil, ErrHistoryDisabled
	}
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalRequests:              aggregation.TotalCount,
		ClassifiedRequests:         aggregation.ClassifiedCount,
		RejectedRequests:           aggregation.RejectedCount,
		FailedRequests:             aggregation.FailedCount,
		AverageConfidence:          aggregation.AverageConfidence,
		AverageProcessingLatencyMs: aggregation.AverageLatencyMs,
	}

	if aggregation.TotalCount > 0 {
		summary.RejectionRate = float64(aggregation.RejectedCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
