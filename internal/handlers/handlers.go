package handlers

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/example/leafscan/internal/auth"
	"github.com/example/leafscan/internal/metrics"
	"github.com/example/leafscan/internal/repository"
	"github.com/example/leafscan/internal/usecase"
)

// MaxUploadSize is the file size limit used when Options leaves it unset.
const MaxUploadSize = 10 << 20

// multipartOverhead is the room left in the request body for multipart
// boundaries, part headers and other form fields.
const multipartOverhead = 64 << 10

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"

	noFileMessage   = "No file provided"
	tooLargeMessage = "file too large"
	notPlantMessage = "The uploaded image does not appear to be a plant. Please upload a plant image."
)

// Predictor is the use case surface served over HTTP.
type Predictor interface {
	Predict(ctx context.Context, in usecase.Input) (*usecase.Result, error)
	GetResult(ctx context.Context, requestID, userID string) (*repository.PredictionLog, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

// Options configures the routes.
type Options struct {
	// MaxUploadSize limits the uploaded file. The request body may exceed it
	// by the multipart framing.
	MaxUploadSize     int64
	IncludeConfidence bool
	// Auth guards the history routes. Nil leaves them open.
	Auth gin.HandlerFunc
	// OptionalAuth runs on /predict to attach the caller's identity when present.
	OptionalAuth gin.HandlerFunc
	Metrics      *metrics.Collector
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, uc Predictor, opts Options) {
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = MaxUploadSize
	}

	router.Use(RequestID(), CORS())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))
	}

	predict := []gin.HandlerFunc{predictHandler(uc, opts)}
	if opts.OptionalAuth != nil {
		predict = append([]gin.HandlerFunc{opts.OptionalAuth}, predict...)
	}
	router.POST("/predict", predict...)

	history := router.Group("/predictions")
	if opts.Auth != nil {
		history.Use(opts.Auth)
	}

	history.GET("/summary", func(c *gin.Context) {
		summary, err := uc.GetMetricsSummary(c.Request.Context())
		if err != nil {
			writeHistoryError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	})

	history.GET("/:id", func(c *gin.Context) {
		requestID := strings.TrimSpace(c.Param("id"))
		if requestID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
			return
		}

		userID, _ := auth.GetUserID(c.Request.Context())
		log, err := uc.GetResult(c.Request.Context(), requestID, userID)
		if err != nil {
			writeHistoryError(c, err)
			return
		}

		body := gin.H{
			"request_id":   log.RequestID,
			"user_id":      log.UserID,
			"outcome":      log.Outcome,
			"latency_ms":   log.LatencyMs,
			"created_at":   log.CreatedAt,
			"image_sha256": log.ImageSHA256,
		}
		if log.Outcome == repository.OutcomeClassified {
			body["class_index"] = log.ClassIndex
			body["predicted_class"] = log.Label
			if opts.IncludeConfidence {
				body["prediction_accuracy"] = log.Confidence
			}
		}
		if log.Error != "" {
			body["error"] = log.Error
		}
		c.JSON(http.StatusOK, body)
	})
}

func predictHandler(uc Predictor, opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		bodyLimit := opts.MaxUploadSize + multipartOverhead
		if c.Request.ContentLength > bodyLimit {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": tooLargeMessage})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, bodyLimit)

		file, err := c.FormFile("file")
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": tooLargeMessage})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": noFileMessage})
			return
		}
		if file.Filename == "" || file.Size == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": noFileMessage})
			return
		}
		if file.Size > opts.MaxUploadSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": tooLargeMessage})
			return
		}

		result, err := predictFile(c, uc, file)
		if err != nil {
			writePredictError(c, err)
			return
		}

		body := gin.H{"predicted_class": result.Label}
		if opts.IncludeConfidence {
			body["prediction_accuracy"] = result.Confidence
		}
		c.JSON(http.StatusOK, body)
	}
}

func predictFile(c *gin.Context, uc Predictor, file *multipart.FileHeader) (*usecase.Result, error) {
	src, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	userID, _ := auth.GetUserID(c.Request.Context())
	return uc.Predict(c.Request.Context(), usecase.Input{
		RequestID: c.GetString(requestIDKey),
		UserID:    userID,
		Filename:  file.Filename,
		Body:      src,
	})
}

func writePredictError(c *gin.Context, err error) {
	_ = c.Error(err)
	switch {
	case errors.Is(err, usecase.ErrNoFile):
		c.JSON(http.StatusBadRequest, gin.H{"error": noFileMessage})
	case errors.Is(err, usecase.ErrNotPlant):
		c.JSON(http.StatusBadRequest, gin.H{"error": notPlantMessage})
	case errors.Is(err, usecase.ErrUploadTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": tooLargeMessage})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func writeHistoryError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, usecase.ErrResultNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
	case errors.Is(err, usecase.ErrHistoryDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// RequestID assigns every request an id, echoed in the X-Request-ID header.
// A well-formed id supplied by the client is kept.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.NewString()
		}
		c.Set(requestIDKey, requestID)
		c.Header(requestIDHeader, requestID)
		c.Next()
	}
}

// CORS allows browser clients from any origin and answers preflight requests.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
		c.Header("Access-Control-Expose-Headers", "X-Request-ID")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
