package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/mytireplan/tire-plan-sub001/internal/domain"
	"github.com/mytireplan/tire-plan-sub001/internal/service"
)

const managerPINHeader = "X-Manager-PIN"

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	pinLimiter    *attemptLimiter
	validate      *validator.Validate
	logger        *zap.Logger
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		pinLimiter:    newAttemptLimiter(8, time.Minute),
		validate:      newValidator(),
		logger:        logger,
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	// report json field names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(a.withMiddleware)

	r.Get("/healthz", a.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(a.requireAuth)

		r.Route("/products", func(r chi.Router) {
			r.Get("/", a.handleListProducts)
			r.Get("/{id}", a.handleGetProduct)
			r.Group(func(r chi.Router) {
				r.Use(requireRole(RoleAdmin))
				r.Post("/", a.handleCreateProduct)
				r.Patch("/{id}", a.handleUpdateProduct)
				r.Delete("/{id}", a.handleHideProduct)
				r.Put("/{id}/stock", a.handleSetStock)
			})
		})

		r.Get("/locations", a.handleListLocations)
		r.With(requireRole(RoleAdmin)).Put("/locations/{id}", a.handleUpsertLocation)

		r.Route("/sales", func(r chi.Router) {
			r.Get("/", a.handleListSales)
			r.Post("/", a.handleCompleteSale)
			r.Get("/{id}", a.handleGetSale)
			r.Patch("/{id}", a.handleEditSale)
			r.Post("/{id}/cancel", a.handleCancelSale)
			r.Delete("/{id}", a.handleDeleteSale)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireRole(RoleAdmin))
			r.Post("/receipts", a.handleReceiveStock)
			r.Patch("/receipts/{id}", a.handleCorrectReceipt)
		})

		r.Get("/stock-events", a.handleStockEvents)
		r.Get("/transfers", a.handleListTransfers)
		r.Post("/transfers", a.handleTransfer)
		r.Get("/writes/{id}", a.handleWriteStatus)
	})

	return r
}

func (a *API) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
	})
}

func requireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := service.ActorFromContext(r.Context())
			if !ok || !isRoleAllowed(actor.Role, roles) {
				writeError(w, http.StatusForbidden, errors.New("forbidden role"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

// checkManagerPIN rate-limits and verifies the PIN sent with a destructive
// sale action. It writes the error response itself.
func (a *API) checkManagerPIN(w http.ResponseWriter, r *http.Request, action string) bool {
	if !a.pinLimiter.Allow("pin:" + action + ":" + clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many manager pin attempts"))
		return false
	}
	if !a.auth.ValidateManagerPIN(r.Header.Get(managerPINHeader)) {
		writeError(w, http.StatusForbidden, errors.New("invalid manager pin"))
		return false
	}
	return true
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+managerPINHeader)
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		a.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(startedAt)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

// decodeValid decodes the body into dest and runs its validate tags. It writes
// a 400 response and returns false on either failure.
func (a *API) decodeValid(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := decodeJSON(r, dest); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	if err := a.validate.Struct(dest); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			details := make([]map[string]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				details = append(details, map[string]string{"field": fe.Namespace(), "rule": fe.Tag()})
			}
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":   "request validation failed",
				"code":    "INVALID_REQUEST",
				"details": details,
			})
			return false
		}
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

var conflictCodes = map[string]bool{
	"INSUFFICIENT_STOCK":    true,
	"SALE_CANCELED":         true,
	"PRODUCT_EXISTS":        true,
	"CONSUMPTION_IMMUTABLE": true,
}

// writeServiceError maps the service error taxonomy onto status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domain.ErrValidation):
		status := http.StatusBadRequest
		if conflictCodes[domain.CodeOf(err)] {
			status = http.StatusConflict
		}
		writeError(w, status, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

// writeResult answers a stock-changing request. A persistence failure after
// the change was applied locally is reported as 202 with a warning instead of
// an error.
func writeResult(w http.ResponseWriter, status int, result domain.OperationResult, err error) {
	if err != nil && errors.Is(err, domain.ErrPersistence) && result.Write.IntentID != "" {
		writeJSON(w, http.StatusAccepted, map[string]any{
			"result":  result,
			"warning": err.Error(),
		})
		return
	}
	if err != nil {
		if errors.Is(err, domain.ErrPersistence) {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		writeServiceError(w, err)
		return
	}
	if result.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

func writeError(w http.ResponseWriter, status int, err error) {
	// For 5xx responses, return a generic message to avoid leaking internal
	// implementation details (stack traces, SQL errors, file paths, etc.).
	// 4xx responses are user-facing so we return the original error message.
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
		var de *domain.Error
		if errors.As(err, &de) && errors.Is(de.Kind, domain.ErrPersistence) {
			msg = de.Message
		}
	}
	body := map[string]any{"error": msg}
	if code := domain.CodeOf(err); code != "" {
		body["code"] = code
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
