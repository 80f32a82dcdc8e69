package http

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"devscope-relay/internal/domain"
	"devscope-relay/internal/dto"
	"devscope-relay/internal/hub"
	"devscope-relay/internal/identity"
	"devscope-relay/internal/observability/metrics"
	obsmw "devscope-relay/internal/observability/middleware"
	"devscope-relay/internal/pending"
	"devscope-relay/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const headerRelayKey = "X-Relay-Key"

type Deps struct {
	Pairing *service.PairingService
	Devices *service.DeviceService
	Relay   *service.RelayService
	Signer  *identity.Signer
	Hub     *hub.Hub
	Queue   pending.Queue

	// APIKey, when non-empty, is required on mutating calls and the stream.
	APIKey string

	// CORSOrigins admits browser (platform=web) clients. Empty allows all.
	CORSOrigins []string

	// StreamBuffer sizes each connection's outbound buffer. Must comfortably
	// exceed the pending-queue bound so a flush cannot overrun it.
	StreamBuffer int
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(obsmw.WithRequestID)
	r.Use(obsmw.WithMetrics)

	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "X-Request-ID", headerRelayKey},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/v1/identity", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, d.Signer.Descriptor())
	})

	r.Post("/v1/challenge", func(w http.ResponseWriter, r *http.Request) {
		var req dto.ChallengeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "malformed body")
			return
		}
		res, err := d.Signer.Challenge(req.Nonce)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, res)
	})

	stream := newStreamServer(d)

	r.Group(func(r chi.Router) {
		r.Use(requireAPIKey(d.APIKey))

		r.Post("/v1/pair", func(w http.ResponseWriter, r *http.Request) {
			var req dto.CreatePairingRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request", "malformed body")
				return
			}
			res, err := d.Pairing.CreatePairing(r.Context(), req)
			if err != nil {
				writeServiceError(w, r, "create pairing", err)
				return
			}
			metrics.PairingsTotal.WithLabelValues("created").Inc()
			slog.Info("pairing created",
				"pairing_id", res.PairingID,
				"owner_id", req.OwnerID,
				"expires_at", res.ExpiresAt,
				"request_id", obsmw.RequestIDFromContext(r.Context()))
			writeJSON(w, http.StatusCreated, res)
		})

		// The confirmation code is low-entropy; cap claim attempts at the
		// transport on top of the per-pairing counter in the service.
		r.With(httprate.LimitByIP(10, time.Minute)).
			Post("/v1/pair/claim", func(w http.ResponseWriter, r *http.Request) {
				var req dto.ClaimPairingRequest
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					writeError(w, http.StatusBadRequest, "invalid_request", "malformed body")
					return
				}
				res, err := d.Pairing.ClaimPairing(r.Context(), req)
				if err != nil {
					writeServiceError(w, r, "claim pairing", err)
					return
				}
				metrics.PairingsTotal.WithLabelValues("claimed").Inc()
				slog.Info("pairing claimed",
					"pairing_id", req.PairingID,
					"owner_id", res.OwnerID,
					"request_id", obsmw.RequestIDFromContext(r.Context()))
				writeJSON(w, http.StatusOK, res)
			})

		r.Post("/v1/pair/approve", func(w http.ResponseWriter, r *http.Request) {
			var req dto.ApprovePairingRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request", "malformed body")
				return
			}
			res, err := d.Pairing.ApprovePairing(r.Context(), req)
			if err != nil {
				writeServiceError(w, r, "approve pairing", err)
				return
			}
			outcome := "denied"
			if res.Approved {
				outcome = "approved"
			}
			metrics.PairingsTotal.WithLabelValues(outcome).Inc()
			slog.Info("pairing resolved",
				"pairing_id", req.PairingID,
				"approved", res.Approved,
				"request_id", obsmw.RequestIDFromContext(r.Context()))
			writeJSON(w, http.StatusOK, res)
		})

		r.Get("/v1/owners/{ownerID}/devices", func(w http.ResponseWriter, r *http.Request) {
			devices, err := d.Devices.List(r.Context(), chi.URLParam(r, "ownerID"))
			if err != nil {
				writeServiceError(w, r, "list devices", err)
				return
			}
			writeJSON(w, http.StatusOK, devices)
		})

		r.Post("/v1/owners/{ownerID}/devices/{deviceID}/revoke", func(w http.ResponseWriter, r *http.Request) {
			ownerID := chi.URLParam(r, "ownerID")
			deviceID := chi.URLParam(r, "deviceID")
			if err := d.Devices.Revoke(r.Context(), ownerID, deviceID); err != nil {
				writeServiceError(w, r, "revoke device", err)
				return
			}
			slog.Info("device revoked",
				"owner_id", ownerID,
				"device_id", deviceID,
				"request_id", obsmw.RequestIDFromContext(r.Context()))
			writeJSON(w, http.StatusOK, dto.RevokeDeviceResponse{OK: true})
		})

		r.Post("/v1/envelopes", func(w http.ResponseWriter, r *http.Request) {
			var req dto.PublishEnvelopeRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request", "malformed body")
				return
			}
			res, err := d.Relay.Publish(r.Context(), req.Envelope)
			if err != nil {
				writeServiceError(w, r, "publish envelope", err)
				return
			}
			recordPublish(r, req.Envelope, res)
			writeJSON(w, http.StatusOK, dto.PublishEnvelopeResponse{Delivered: res.Delivered})
		})

		r.Get("/v1/stream", stream.handle)
	})

	return r
}

// recordPublish logs and counts a publish. Only sizes of the opaque fields
// ever reach the log.
func recordPublish(r *http.Request, env domain.Envelope, res service.PublishResult) {
	outcome := "queued"
	if res.Delivered > 0 {
		outcome = "live"
	}
	metrics.EnvelopesPublishedTotal.WithLabelValues(outcome).Inc()
	if res.Dropped > 0 {
		metrics.PendingDroppedTotal.WithLabelValues().Add(float64(res.Dropped))
	}
	slog.Debug("envelope published",
		"owner_id", env.OwnerID,
		"from_device", env.FromDeviceID,
		"to_device", env.ToDeviceID,
		"ciphertext_bytes", len(env.Ciphertext),
		"outcome", outcome,
		"dropped", res.Dropped,
		"request_id", obsmw.RequestIDFromContext(r.Context()))
}

func requireAPIKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			got := r.Header.Get(headerRelayKey)
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid relay key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Success: false, Error: code, Message: msg})
}

// writeServiceError maps the service error taxonomy onto HTTP. Conflict-class
// outcomes stay distinguishable by code so clients can show "expired" vs
// "already claimed" vs "wrong code" instead of one generic failure.
func writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, code := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		status, code = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrPairingExpired):
		status, code = http.StatusConflict, "pairing_expired"
	case errors.Is(err, domain.ErrAlreadyClaimed):
		status, code = http.StatusConflict, "already_claimed"
	case errors.Is(err, domain.ErrTooManyAttempts):
		status, code = http.StatusConflict, "too_many_attempts"
	case errors.Is(err, domain.ErrNotClaimed):
		status, code = http.StatusConflict, "not_claimed"
	case errors.Is(err, domain.ErrAlreadyResolved):
		status, code = http.StatusConflict, "already_resolved"
	case errors.Is(err, domain.ErrTokenMismatch):
		status, code = http.StatusForbidden, "token_mismatch"
	case errors.Is(err, domain.ErrCodeMismatch):
		status, code = http.StatusForbidden, "code_mismatch"
	case errors.Is(err, domain.ErrDeviceRevoked):
		status, code = http.StatusForbidden, "device_revoked"
	case errors.Is(err, domain.ErrUnknownDevice):
		status, code = http.StatusForbidden, "unknown_device"
	}

	if status == http.StatusInternalServerError {
		slog.Error(op+" failed", "error", err, "request_id", obsmw.RequestIDFromContext(r.Context()))
	} else {
		slog.Warn(op+" rejected", "code", code, "request_id", obsmw.RequestIDFromContext(r.Context()))
	}
	writeError(w, status, code, err.Error())
}
