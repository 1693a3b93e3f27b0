package repository

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/leafscan/internal/retry"
)

// Outcomes recorded for a prediction request.
const (
	OutcomeClassified = "classified"
	OutcomeRejected   = "rejected"
	OutcomeFailed     = "failed"
)

// PredictionLog represents a persisted prediction request.
type PredictionLog struct {
	ID          uint      `gorm:"primaryKey"`
	RequestID   string    `gorm:"column:request_id;uniqueIndex;size:64"`
	UserID      string    `gorm:"column:user_id;size:64;index"`
	ImageSHA256 string    `gorm:"column:image_sha256;size:64;index"`
	Outcome     string    `gorm:"column:outcome;size:16;index"`
	ClassIndex  int       `gorm:"column:class_index"`
	Label       string    `gorm:"column:label;size:128"`
	Confidence  float32   `gorm:"column:confidence"`
	LatencyMs   int64     `gorm:"column:latency_ms"`
	Error       string    `gorm:"column:error;type:text"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (PredictionLog) TableName() string {
	return "prediction_logs"
}

// Aggregation holds summary statistics over all prediction logs.
type Aggregation struct {
	TotalCount        int64
	ClassifiedCount   int64
	RejectedCount     int64
	FailedCount       int64
	AverageConfidence float64
	AverageLatencyMs  float64
}

// PredictionRepository provides persistence APIs for prediction logs.
type PredictionRepository struct {
	db     *gorm.DB
	logger *zap.Logger
	policy retry.Policy
}

// NewPredictionRepository creates a new repository instance.
func NewPredictionRepository(db *gorm.DB, logger *zap.Logger) *PredictionRepository {
	return &PredictionRepository{
		db:     db,
		logger: logger.Named("prediction_repository"),
		policy: retry.DefaultPolicy,
	}
}

// AutoMigrate ensures the schema is available.
func (r *PredictionRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&PredictionLog{})
}

// SaveLog persists a prediction log entry.
func (r *PredictionRepository) SaveLog(ctx context.Context, log *PredictionLog) error {
	return retry.Do(ctx, r.policy, r.logger, "repository.save_log", log.RequestID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindByRequestID retrieves a prediction log. A non-empty userID restricts the
// lookup to logs owned by that user.
func (r *PredictionRepository) FindByRequestID(ctx context.Context, requestID, userID string) (*PredictionLog, error) {
	var log PredictionLog
	err := retry.Do(ctx, r.policy, r.logger, "repository.find_by_request_id", requestID, func() error {
		query := r.db.WithContext(ctx).Where("request_id = ?", requestID)
		if userID != "" {
			query = query.Where("user_id = ?", userID)
		}
		return query.First(&log).Error
	})
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// AggregateMetrics computes counts per outcome, the average confidence of
// classified requests and the average latency of all requests.
func (r *PredictionRepository) AggregateMetrics(ctx context.Context) (*Aggregation, error) {
	var agg Aggregation
	err := retry.Do(ctx, r.policy, r.logger, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).
			Model(&PredictionLog{}).
			Select(`COUNT(*) AS total_count,
				COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0) AS classified_count,
				COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0) AS rejected_count,
				COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0) AS failed_count,
				COALESCE(AVG(CASE WHEN outcome = ? THEN confidence END), 0) AS average_confidence,
				COALESCE(AVG(latency_ms), 0) AS average_latency_ms`,
				OutcomeClassified, OutcomeRejected, OutcomeFailed, OutcomeClassified).
			Scan(&agg).Error
	})
	if err != nil {
		return nil, err
	}
	return &agg, nil
}
