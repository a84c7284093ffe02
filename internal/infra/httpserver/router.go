package httpserver

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	appai "github.com/bryanwahyu/automaton-tee/internal/application/ai"
	"github.com/bryanwahyu/automaton-tee/internal/application/attest"
	domai "github.com/bryanwahyu/automaton-tee/internal/domain/ai"
	domain "github.com/bryanwahyu/automaton-tee/internal/domain/attestation"
	"github.com/bryanwahyu/automaton-tee/internal/domain/failures"
	"github.com/bryanwahyu/automaton-tee/internal/infra/codec"
	"github.com/bryanwahyu/automaton-tee/internal/middleware"
)

// Deps wires the router. Only Attest and Signer are required.
type Deps struct {
	Attest     *attest.Service
	Signer     domain.Signer
	Narratives *appai.Service
	Records    domain.Repository
	Failures   failures.Repository
	Metrics    *middleware.Metrics
	Checkers   map[string]middleware.HealthChecker
	Log        *logrus.Logger

	NarrativeMode  bool
	APIKeys        map[string]string
	AllowedOrigins []string
	RateLimitRPS   float64
	RateLimitBurst int
	MaxBodyBytes   int64
}

type Router struct {
	Deps
}

func NewRouter(d Deps) http.Handler {
	if d.Log == nil {
		d.Log = logrus.StandardLogger()
	}
	if d.MaxBodyBytes <= 0 {
		d.MaxBodyBytes = 1 << 20
	}
	r := &Router{Deps: d}
	mux := chi.NewRouter()

	mux.Use(chimw.RequestID)
	mux.Use(chimw.Recoverer)
	if d.Metrics != nil {
		mux.Use(d.Metrics.Middleware)
	}
	mux.Use(middleware.Logging(d.Log))
	if len(d.AllowedOrigins) > 0 {
		mux.Use(cors.Handler(cors.Options{
			AllowedOrigins: d.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
			MaxAge:         300,
		}))
	}
	mux.Use(middleware.APIKeyAuth(d.APIKeys))
	mux.Use(middleware.RateLimitMiddleware(d.RateLimitRPS, d.RateLimitBurst))

	mux.Get("/health", middleware.StatusHandler)
	mux.Get("/healthz", middleware.ReadinessHandler(d.Checkers))
	mux.Get("/readyz", middleware.ReadinessHandler(d.Checkers))
	if d.Metrics != nil {
		mux.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}

	mux.Post("/analyze-dataset", r.wrap(r.handleAnalyze))

	mux.Route("/v1", func(rt chi.Router) {
		rt.Get("/enclave", r.wrap(r.handleEnclave))
		rt.Post("/verify", r.wrap(r.handleVerify))

		rt.Group(func(audit chi.Router) {
			audit.Use(r.requireAudit)
			audit.Get("/attestations", r.wrap(r.handleLatest))
			audit.Get("/attestations/{executionId}", r.wrap(r.handleGet))
			audit.Get("/attestations/{executionId}/failures", r.wrap(r.handleFailures))
			audit.Get("/attestations/{executionId}/narrative", r.wrap(r.handleNarrative))
			audit.Get("/narratives", r.wrap(r.handleNarratives))
		})
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			code, kind := classify(err)
			if code >= 500 {
				r.Log.WithError(err).WithField("path", req.URL.Path).Error("request failed")
			}
			writeJSON(w, code, map[string]string{"error": kind, "message": err.Error()})
		}
	}
}

// classify maps an error to a status code and category.
func classify(err error) (int, string) {
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, string(domain.KindNotFound)
	}
	if errors.Is(err, domai.ErrQuotaExceeded) {
		return http.StatusTooManyRequests, string(domain.KindExternalService)
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return http.StatusRequestEntityTooLarge, string(domain.KindInvalidRequest)
	}
	kind := domain.KindOf(err)
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound, string(kind)
	case domain.KindInvalidRequest:
		return http.StatusBadRequest, string(kind)
	case domain.KindExternalService:
		return http.StatusBadGateway, string(kind)
	default:
		return http.StatusInternalServerError, string(kind)
	}
}

// requireAudit answers 503 when no database is configured.
func (r *Router) requireAudit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if r.Records == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error":   "UNAVAILABLE",
				"message": "audit storage is not configured",
			})
			return
		}
		next.ServeHTTP(w, req)
	})
}

// POST /analyze-dataset
func (r *Router) handleAnalyze(w http.ResponseWriter, req *http.Request) error {
	var body domain.DatasetRequest
	if err := r.decode(w, req, &body); err != nil {
		return err
	}
	if err := middleware.ValidateDatasetRequest(&body); err != nil {
		return err
	}

	res, err := r.Attest.Analyze(req.Context(), body)
	if err != nil {
		return err
	}
	w.Header().Set("X-Execution-Id", string(res.ExecutionID))

	if r.NarrativeMode && res.Narrative != nil {
		w.Header().Set("Content-Type", "application/json")
		_, err := w.Write(res.Narrative)
		return err
	}
	if wantsCBOR(req) {
		b, err := codec.Marshal(res.Response)
		if err != nil {
			return domain.SerializationError("encode cbor", err)
		}
		w.Header().Set("Content-Type", codec.ContentType)
		_, err = w.Write(b)
		return err
	}
	writeJSON(w, http.StatusOK, res.Response)
	return nil
}

// GET /v1/enclave
func (r *Router) handleEnclave(w http.ResponseWriter, _ *http.Request) error {
	writeJSON(w, http.StatusOK, map[string]string{
		"enclavePubKey":  r.Signer.PublicKeyHex(),
		"teeMeasurement": domain.EnclaveMeasurement,
		"provider":       domain.Provider,
	})
	return nil
}

// POST /v1/verify
// Body: an AnalyzeDatasetResponse (JSON or CBOR)
func (r *Router) handleVerify(w http.ResponseWriter, req *http.Request) error {
	var env domain.AnalyzeDatasetResponse
	if err := r.decode(w, req, &env); err != nil {
		return err
	}
	v := attest.Verify(&env)
	// envelope from another process is still valid, just not ours
	writeJSON(w, http.StatusOK, struct {
		attest.Verification
		IssuedHere bool `json:"issuedHere"`
	}{v, env.Attestation.EnclavePubKey == r.Signer.PublicKeyHex()})
	return nil
}

// GET /v1/attestations?dataset_id=&limit=
func (r *Router) handleLatest(w http.ResponseWriter, req *http.Request) error {
	q := req.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	list, err := r.Records.Latest(req.Context(), middleware.SanitizeString(q.Get("dataset_id")), middleware.ValidateLimit(limit))
	if err != nil {
		return err
	}
	if list == nil {
		list = []*domain.Record{}
	}
	writeJSON(w, http.StatusOK, list)
	return nil
}

// GET /v1/attestations/{executionId}
func (r *Router) handleGet(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "executionId")
	if err := middleware.ValidateExecutionID(id); err != nil {
		return err
	}
	rec, err := r.Records.Get(req.Context(), domain.ExecutionID(id))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, rec)
	return nil
}

// GET /v1/attestations/{executionId}/failures
func (r *Router) handleFailures(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "executionId")
	if err := middleware.ValidateExecutionID(id); err != nil {
		return err
	}
	if r.Failures == nil {
		writeJSON(w, http.StatusOK, []*failures.Failure{})
		return nil
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	list, err := r.Failures.ListByExecution(req.Context(), id, middleware.ValidateLimit(limit))
	if err != nil {
		return err
	}
	if list == nil {
		list = []*failures.Failure{}
	}
	writeJSON(w, http.StatusOK, list)
	return nil
}

// GET /v1/attestations/{executionId}/narrative
func (r *Router) handleNarrative(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "executionId")
	if err := middleware.ValidateExecutionID(id); err != nil {
		return err
	}
	if r.Narratives == nil || r.Narratives.Repo == nil {
		return domain.NewError(domain.KindNotFound, "narratives are not enabled", "", nil)
	}
	rec, err := r.Narratives.ByExecution(req.Context(), id)
	if err != nil {
		return err
	}
	if rec == nil {
		return domain.NewError(domain.KindNotFound, "no narrative stored for execution", id, nil)
	}
	writeJSON(w, http.StatusOK, rec)
	return nil
}

// GET /v1/narratives?page=&page_size=
func (r *Router) handleNarratives(w http.ResponseWriter, req *http.Request) error {
	if r.Narratives == nil || r.Narratives.Repo == nil {
		return domain.NewError(domain.KindNotFound, "narratives are not enabled", "", nil)
	}
	page, _ := strconv.Atoi(req.URL.Query().Get("page"))
	size, _ := strconv.Atoi(req.URL.Query().Get("page_size"))
	list, err := r.Narratives.ListNarratives(req.Context(), middleware.ValidatePage(page), middleware.ValidateLimit(size))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, list)
	return nil
}

// decode reads a JSON or CBOR body (by Content-Type) into v.
func (r *Router) decode(w http.ResponseWriter, req *http.Request, v any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, r.MaxBodyBytes))
	if err != nil {
		return err
	}
	if isCBOR(req.Header.Get("Content-Type")) {
		if err := codec.Unmarshal(body, v); err != nil {
			return domain.InvalidRequest("malformed CBOR body: " + err.Error())
		}
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return domain.InvalidRequest("malformed JSON body: " + err.Error())
	}
	return nil
}

func isCBOR(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == codec.ContentType
}

func wantsCBOR(req *http.Request) bool {
	for _, part := range strings.Split(req.Header.Get("Accept"), ",") {
		if isCBOR(strings.TrimSpace(part)) {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
