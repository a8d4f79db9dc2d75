// Package server exposes a trained bundle over HTTP:
//
//	POST /predict   {"features": {"<name>": <number|null>, ...}}
//	GET  /health    {"status": "ok"}
//	GET  /metrics   Prometheus text format
//
// The served bundle lives in a ModelHolder that is injected at construction
// and may be swapped by a Reloader while requests are in flight.
package server

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/YuminosukeSato/exoml/dataset"
	"github.com/YuminosukeSato/exoml/pkg/errors"
	"github.com/YuminosukeSato/exoml/pkg/log"
)

// RequestIDHeader carries the request id in and out.
const RequestIDHeader = "X-Request-ID"

// maxBodyBytes bounds /predict request bodies.
const maxBodyBytes = 1 << 20

type ctxKey struct{}

// RequestID returns the id stored by the request-id middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// Server holds the handler dependencies.
type Server struct {
	holder  *ModelHolder
	metrics *Metrics
	logger  log.Logger
}

// New builds a server. A nil metrics gets a fresh registry.
func New(holder *ModelHolder, metrics *Metrics) *Server {
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Server{holder: holder, metrics: metrics, logger: log.GetLoggerWithName("server")}
}

// Metrics returns the server's collectors.
func (s *Server) Metrics() *Metrics { return s.metrics }

// Router returns the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(s.instrument)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Post("/predict", s.handlePredict)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	return r
}

// requestID keeps a client-supplied X-Request-ID or assigns a UUID.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), ctxKey{}, id)
		ctx = context.WithValue(ctx, middleware.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		elapsed := time.Since(start)
		s.metrics.observe(route, status, elapsed)
		s.logger.Debug("request served",
			log.RequestIDKey, RequestID(r.Context()),
			log.MethodKey, r.Method,
			log.PathKey, route,
			log.StatusCodeKey, status,
			log.DurationMsKey, elapsed.Milliseconds(),
		)
	})
}

type errorResponse struct {
	Error  string `json:"error"`
	Status string `json:"status"`
}

// PredictRequest is the /predict body.
type PredictRequest struct {
	Features map[string]interface{} `json:"features"`
}

// PredictResponse is the /predict reply.
type PredictResponse struct {
	Prediction   []string `json:"prediction"`
	ModelVersion string   `json:"model_version"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Status: "error"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	b := s.holder.Get()
	if b == nil {
		writeError(w, http.StatusServiceUnavailable, "model not loaded")
		return
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	var req PredictRequest
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.Features == nil {
		writeError(w, http.StatusBadRequest, `"features" object is required`)
		return
	}

	kinds := b.Pipeline.Preprocessor.ColumnKinds()
	frame, err := Vectorize(req.Features, b.FeatureColumns, kinds)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var labels []string
	err = errors.SafeExecute("server.predict", func() error {
		var perr error
		labels, perr = b.Pipeline.Predict(frame)
		return perr
	})
	if err != nil {
		s.logger.Error("prediction failed", err,
			log.RequestIDKey, RequestID(r.Context()),
			log.RunIDKey, b.Version(),
		)
		writeError(w, http.StatusInternalServerError, "prediction failed: "+err.Error())
		return
	}
	s.metrics.preds.Add(float64(len(labels)))
	writeJSON(w, http.StatusOK, PredictResponse{Prediction: labels, ModelVersion: b.Version()})
}

// Vectorize checks that features names exactly the registered columns and
// builds a one-row frame in their order. Values must be numbers, numeric
// strings or null; null becomes a missing value.
func Vectorize(features map[string]interface{}, columns []string, kinds map[string]string) (*dataset.Frame, error) {
	known := make(map[string]bool, len(columns))
	var missing []string
	for _, c := range columns {
		known[c] = true
		if _, ok := features[c]; !ok {
			missing = append(missing, c)
		}
	}
	var extra []string
	for k := range features {
		if !known[k] {
			extra = append(extra, k)
		}
	}
	if len(missing) > 0 {
		return nil, errors.NewSchemaError("predict", "missing features", missing...)
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		return nil, errors.NewSchemaError("predict", "unexpected features", extra...)
	}

	cols := make([]*dataset.Column, len(columns))
	for j, name := range columns {
		v, present, err := featureValue(features[name])
		if err != nil {
			return nil, errors.NewValidationError("features."+name, err.Error(), features[name])
		}
		if kinds[name] == dataset.Categorical.String() {
			text := ""
			if present {
				text = strconv.FormatFloat(v, 'f', -1, 64)
			}
			cols[j] = dataset.NewCategorical(name, []string{text}, []bool{present})
			continue
		}
		cols[j] = dataset.NewNumeric(name, []float64{v})
	}
	return dataset.NewFrame(cols...)
}

func featureValue(raw interface{}) (float64, bool, error) {
	switch x := raw.(type) {
	case nil:
		return math.NaN(), false, nil
	case json.Number:
		f, err := x.Float64()
		return f, err == nil, err
	case float64:
		return x, true, nil
	case string:
		f, ok := dataset.ParseNumber(x)
		if !ok {
			return 0, false, errors.New("not numeric")
		}
		return f, true, nil
	default:
		return 0, false, errors.Newf("unsupported type %T", raw)
	}
}
