package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Brownie44l1/sketch-api/internal/metrics"
	"github.com/Brownie44l1/sketch-api/internal/model"
	"github.com/Brownie44l1/sketch-api/internal/pipeline"
	"github.com/Brownie44l1/sketch-api/internal/sketch"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ctxKey int

const requestIDKey ctxKey = iota

// multipartOverhead is the room left for boundaries and part headers on top
// of the image itself.
const multipartOverhead = 64 << 10

type Handler struct {
	pipeline       *pipeline.Pipeline
	metrics        *metrics.Metrics
	logger         *zap.SugaredLogger
	maxUploadBytes int64
}

func NewHandler(p *pipeline.Pipeline, m *metrics.Metrics, logger *zap.SugaredLogger, maxUploadBytes int64) *Handler {
	return &Handler{
		pipeline:       p,
		metrics:        m,
		logger:         logger,
		maxUploadBytes: maxUploadBytes,
	}
}

// Routes wires every endpoint onto a chi router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestID)
	r.Use(enableCORS)

	r.Get("/health", h.Health)
	r.Get("/labels", h.Labels)
	r.Get("/go/{dataURL}", h.PredictDataURL)
	r.Post("/predict", h.Predict)
	r.Post("/predict/tensor", h.PredictTensor)
	r.Post("/predict/image", h.PredictFromImage)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	return r
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) Labels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.Labels)
}

// PredictDataURL handles GET /go/{dataURL} where dataURL uses the
// URL-safe payload alphabet.
func (h *Handler) PredictDataURL(w http.ResponseWriter, r *http.Request) {
	payload := chi.URLParam(r, "dataURL")
	h.classify(w, r, func() (*model.PredictionResult, error) {
		return h.pipeline.Classify(payload)
	})
}

type payloadRequest struct {
	Payload string `json:"payload"`
}

// Predict handles POST /predict with a JSON {"payload": "..."} body.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	var req payloadRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxUploadBytes)).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "Invalid JSON")
		return
	}
	h.classify(w, r, func() (*model.PredictionResult, error) {
		return h.pipeline.Classify(req.Payload)
	})
}

// PredictTensor handles POST /predict/tensor with an already normalized
// 784-value array.
func (h *Handler) PredictTensor(w http.ResponseWriter, r *http.Request) {
	var req model.PredictionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxUploadBytes)).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if len(req.Image) != model.InputSize {
		h.metrics.ObserveError(string(pipeline.StagePredict))
		h.writeError(w, r, http.StatusBadRequest,
			fmt.Sprintf("Expected %d values, got %d", model.InputSize, len(req.Image)))
		return
	}

	h.classify(w, r, func() (*model.PredictionResult, error) {
		return h.pipeline.ClassifyTensor(req.Image)
	})
}

// PredictFromImage handles a multipart upload in the "image" field.
func (h *Handler) PredictFromImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeTooLarge(w, r)
			return
		}
		h.writeError(w, r, http.StatusBadRequest, "Failed to parse form")
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "No image file provided. Use 'image' as the form field name")
		return
	}
	defer file.Close()

	if header.Size > h.maxUploadBytes {
		h.writeTooLarge(w, r)
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, h.maxUploadBytes+1))
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "Failed to read image")
		return
	}
	if int64(len(data)) > h.maxUploadBytes {
		h.writeTooLarge(w, r)
		return
	}

	h.logger.Infow("Received file", "request_id", requestIDFrom(r.Context()),
		"filename", header.Filename, "size", header.Size)

	h.classify(w, r, func() (*model.PredictionResult, error) {
		return h.pipeline.ClassifyBytes(data)
	})
}

func (h *Handler) classify(w http.ResponseWriter, r *http.Request, run func() (*model.PredictionResult, error)) {
	start := time.Now()
	result, err := run()
	if err != nil {
		stage := pipeline.StageOf(err)
		h.metrics.ObserveError(string(stage))

		switch {
		case errors.Is(err, sketch.ErrDecode):
			h.logger.Infow("Rejected payload", "request_id", requestIDFrom(r.Context()), "error", err)
			h.writeError(w, r, http.StatusBadRequest, err.Error())
		default:
			h.logger.Errorw("Prediction error", "request_id", requestIDFrom(r.Context()),
				"stage", stage, "error", err)
			h.writeError(w, r, http.StatusInternalServerError, "Prediction failed")
		}
		return
	}

	elapsed := time.Since(start)
	h.metrics.ObservePrediction(result.Label, elapsed)
	h.logger.Infow("This is a "+result.Label, "request_id", requestIDFrom(r.Context()),
		"index", result.Index, "confidence", result.Confidence(), "elapsed", elapsed)

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) writeTooLarge(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, r, http.StatusRequestEntityTooLarge,
		fmt.Sprintf("Image too large. Maximum size is %d bytes", h.maxUploadBytes))
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, status, map[string]string{
		"error":      msg,
		"request_id": requestIDFrom(r.Context()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
