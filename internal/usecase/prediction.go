package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"io"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/leafscan/internal/classifier"
	"github.com/example/leafscan/internal/imageprep"
	"github.com/example/leafscan/internal/leafgate"
	"github.com/example/leafscan/internal/logging"
	"github.com/example/leafscan/internal/repository"
	"github.com/example/leafscan/internal/retry"
	"github.com/example/leafscan/internal/tempstore"
)

var (
	// ErrNoFile means the request carried no usable upload.
	ErrNoFile = errors.New("no file provided")
	// ErrUploadTooLarge means the upload exceeded the configured size limit.
	ErrUploadTooLarge = errors.New("file too large")
	// ErrNotPlant means the leaf gate turned the image away.
	ErrNotPlant = errors.New("image does not appear to be a plant")
	// ErrResultNotFound means no prediction log matches the lookup.
	ErrResultNotFound = errors.New("prediction not found")
	// ErrHistoryDisabled means no prediction repository is configured.
	ErrHistoryDisabled = errors.New("prediction history is not enabled")
)

// PredictionRepository defines the persistence operations needed by the use case.
type PredictionRepository interface {
	SaveLog(ctx context.Context, log *repository.PredictionLog) error
	FindByRequestID(ctx context.Context, requestID, userID string) (*repository.PredictionLog, error)
	AggregateMetrics(ctx context.Context) (*repository.Aggregation, error)
}

// Gate decides whether an image shows a leaf.
type Gate interface {
	Inspect(ctx context.Context, img image.Image) (*leafgate.Verdict, error)
}

// Classifier predicts the disease class of a leaf image.
type Classifier interface {
	Classify(ctx context.Context, img image.Image) (*classifier.Prediction, error)
}

// UploadStore persists uploads for the duration of a request.
type UploadStore interface {
	Save(r io.Reader, filename string) (*tempstore.Upload, error)
}

// Recorder receives pipeline metrics.
type Recorder interface {
	CountOutcome(outcome string)
	ObserveStage(stage string, d time.Duration)
	CountCacheLookup(hit bool)
}

// Dependencies groups the collaborators of the use case. Repository and Cache
// may be nil, which disables history and result caching.
type Dependencies struct {
	Gate       Gate
	Classifier Classifier
	Store      UploadStore
	Repository PredictionRepository
	Cache      Cache
	Recorder   Recorder
}

// Options controls pipeline behaviour.
type Options struct {
	// RejectWhenLeafDetected rejects uploads the gate recognises as a leaf.
	// When false, uploads the gate does not recognise are rejected instead.
	RejectWhenLeafDetected bool
	CacheTTL               time.Duration
	// MaxUploadBytes bounds the stored upload. Zero means unlimited.
	MaxUploadBytes int64
	// MaxImagePixels bounds the decoded image. Zero selects imageprep.DefaultMaxPixels.
	MaxImagePixels int64
}

// Input is one upload to classify.
type Input struct {
	RequestID string
	UserID    string
	Filename  string
	Body      io.Reader
}

// Result is a successful classification.
type Result struct {
	RequestID  string
	ClassIndex int
	Label      string
	Confidence float32
	Cached     bool
}

type nopRecorder struct{}

func (nopRecorder) CountOutcome(string) {}
func (nopRecorder) ObserveStage(string, time.Duration) {}
func (nopRecorder) CountCacheLookup(bool) {}

// PredictionUseCase runs the leaf gate and the disease classifier over uploads.
type PredictionUseCase struct {
	gate       Gate
	classifier Classifier
	store      UploadStore
	repo       PredictionRepository
	cache      Cache
	recorder   Recorder
	opts       Options
	policy     retry.Policy
	logger     *zap.Logger
}

// NewPredictionUseCase constructs a new use case instance.
func NewPredictionUseCase(deps Dependencies, opts Options, logger *zap.Logger) *PredictionUseCase {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 10 * time.Minute
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	return &PredictionUseCase{
		gate:       deps.Gate,
		classifier: deps.Classifier,
		store:      deps.Store,
		repo:       deps.Repository,
		cache:      deps.Cache,
		recorder:   deps.Recorder,
		opts:       opts,
		policy:     retry.DefaultPolicy,
		logger:     logger.Named("prediction_usecase"),
	}
}

// Predict stores the upload, screens it with the leaf gate and classifies it.
// The stored file is removed before Predict returns, whatever the outcome.
func (uc *PredictionUseCase) Predict(ctx context.Context, in Input) (*Result, error) {
	start := time.Now()
	if in.RequestID == "" {
		in.RequestID = uuid.NewString()
	}
	opLogger := logging.WithOperation(uc.logger, "usecase.predict", in.RequestID)

	body := in.Body
	if uc.opts.MaxUploadBytes > 0 {
		body = io.LimitReader(body, uc.opts.MaxUploadBytes+1)
	}
	upload, err := uc.store.Save(body, in.Filename)
	if err != nil {
		err = logging.NewOperationError("usecase.store_upload", in.RequestID, err)
		opLogger.Error("failed to store upload", zap.Error(err))
		uc.recorder.CountOutcome(repository.OutcomeFailed)
		return nil, err
	}
	defer func() {
		if err := upload.Remove(); err != nil {
			opLogger.Warn("failed to remove upload", zap.Error(err), zap.String("path", upload.Path))
		}
	}()

	if upload.Size == 0 {
		return nil, ErrNoFile
	}
	if uc.opts.MaxUploadBytes > 0 && upload.Size > uc.opts.MaxUploadBytes {
		return nil, ErrUploadTooLarge
	}

	record := &repository.PredictionLog{
		RequestID:   in.RequestID,
		UserID:      in.UserID,
		ImageSHA256: upload.SHA256,
	}

	result, err := uc.run(ctx, in.RequestID, upload, opLogger)
	uc.finish(ctx, record, result, err, start, opLogger)
	return result, err
}

func (uc *PredictionUseCase) run(ctx context.Context, requestID string, upload *tempstore.Upload, opLogger *zap.Logger) (*Result, error) {
	cached := uc.recall(ctx, requestID, upload.SHA256)
	if cached != nil {
		if uc.rejects(cached.LeafDetected) {
			return nil, ErrNotPlant
		}
		if p := cached.Prediction; p != nil {
			return &Result{RequestID: requestID, ClassIndex: p.Index, Label: p.Label, Confidence: p.Confidence, Cached: true}, nil
		}
	}

	var img image.Image
	if err := uc.stage("decode", func() (err error) {
		img, err = imageprep.Open(upload.Path, uc.opts.MaxImagePixels)
		return err
	}); err != nil {
		return nil, logging.NewOperationError("usecase.decode_image", requestID, err)
	}

	var verdict *leafgate.Verdict
	if err := uc.stage("leaf_gate", func() (err error) {
		verdict, err = uc.gate.Inspect(ctx, img)
		return err
	}); err != nil {
		return nil, logging.NewOperationError("usecase.leaf_gate", requestID, err)
	}

	entry := &cachedPrediction{LeafDetected: verdict.LeafDetected}
	if uc.rejects(verdict.LeafDetected) {
		opLogger.Info("upload rejected by leaf gate",
			zap.Bool("leaf_detected", verdict.LeafDetected),
			zap.Any("candidates", verdict.Candidates))
		uc.remember(ctx, requestID, upload.SHA256, entry)
		return nil, ErrNotPlant
	}

	var pred *classifier.Prediction
	if err := uc.stage("classify", func() (err error) {
		pred, err = uc.classifier.Classify(ctx, img)
		return err
	}); err != nil {
		return nil, logging.NewOperationError("usecase.classify", requestID, err)
	}

	entry.Prediction = &cachedClassResult{Index: pred.Index, Label: pred.Label, Confidence: pred.Confidence}
	uc.remember(ctx, requestID, upload.SHA256, entry)

	return &Result{
		RequestID:  requestID,
		ClassIndex: pred.Index,
		Label:      pred.Label,
		Confidence: pred.Confidence,
	}, nil
}

func (uc *PredictionUseCase) rejects(leafDetected bool) bool {
	return leafDetected == uc.opts.RejectWhenLeafDetected
}

func (uc *PredictionUseCase) stage(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	uc.recorder.ObserveStage(name, time.Since(start))
	return err
}

// finish records the outcome in metrics and, when configured, the repository.
// Persistence failures are logged and never change the response.
func (uc *PredictionUseCase) finish(ctx context.Context, record *repository.PredictionLog, result *Result, err error, start time.Time, opLogger *zap.Logger) {
	record.LatencyMs = time.Since(start).Milliseconds()
	record.CreatedAt = time.Now().UTC()

	switch {
	case err == nil:
		record.Outcome = repository.OutcomeClassified
		record.ClassIndex = result.ClassIndex
		record.Label = result.Label
		record.Confidence = result.Confidence
		opLogger.Info("upload classified",
			zap.String("label", result.Label),
			zap.Float32("confidence", result.Confidence),
			zap.Bool("cached", result.Cached),
			zap.Int64("latency_ms", record.LatencyMs))
	case errors.Is(err, ErrNotPlant):
		record.Outcome = repository.OutcomeRejected
		record.Error = err.Error()
	default:
		record.Outcome = repository.OutcomeFailed
		record.Error = err.Error()
		opLogger.Error("prediction failed", zap.Error(err))
	}
	uc.recorder.CountOutcome(record.Outcome)

	if uc.repo == nil {
		return
	}
	if err := uc.repo.SaveLog(ctx, record); err != nil {
		opLogger.Warn("failed to persist prediction log", zap.Error(err))
	}
}

func (uc *PredictionUseCase) recall(ctx context.Context, requestID, digest string) *cachedPrediction {
	if uc.cache == nil {
		return nil
	}

	var (
		raw  string
		miss bool
	)
	err := retry.Do(ctx, uc.policy, uc.logger, "cache.get.prediction", requestID, func() error {
		value, err := uc.cache.Get(ctx, cacheKey(digest))
		if errors.Is(err, redis.Nil) {
			miss = true
			return nil
		}
		if err != nil {
			return err
		}
		raw = value
		return nil
	})
	if err != nil {
		logging.WithOperation(uc.logger, "usecase.cache_lookup", requestID).Warn("failed to read cache", zap.Error(err))
	}
	if err != nil || miss {
		uc.recorder.CountCacheLookup(false)
		return nil
	}

	var entry cachedPrediction
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		logging.WithOperation(uc.logger, "usecase.cache_lookup", requestID).Warn("failed to decode cached prediction", zap.Error(err))
		uc.recorder.CountCacheLookup(false)
		return nil
	}
	uc.recorder.CountCacheLookup(true)
	return &entry
}

func (uc *PredictionUseCase) remember(ctx context.Context, requestID, digest string, entry *cachedPrediction) {
	if uc.cache == nil {
		return
	}

	serialized, err := json.Marshal(entry)
	if err != nil {
		logging.WithOperation(uc.logger, "usecase.cache_store", requestID).Error("failed to serialize prediction", zap.Error(err))
		return
	}
	if err := retry.Do(ctx, uc.policy, uc.logger, "cache.set.prediction", requestID, func() error {
		return uc.cache.Set(ctx, cacheKey(digest), string(serialized), uc.opts.CacheTTL)
	}); err != nil {
		logging.WithOperation(uc.logger, "usecase.cache_store", requestID).Warn("failed to cache prediction", zap.Error(err))
	}
}

// GetResult loads a stored prediction. A non-empty userID limits the lookup to
// that user's predictions.
func (uc *PredictionUseCase) GetResult(ctx context.Context, requestID, userID string) (*repository.PredictionLog, error) {
	if uc.repo == nil {
		return nil, ErrHistoryDisabled
	}
	log, err := uc.repo.FindByRequestID(ctx, requestID, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrResultNotFound
	}
	if err != nil {
		return nil, err
	}
	return log, nil
}
