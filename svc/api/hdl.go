package api

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"
	"golang.org/x/text/unicode/norm"

	"sealbin/cfg"
	"sealbin/pkg/domain"
	"sealbin/svc/svc"
	"sealbin/svc/util"
)

const (
	maxDuration = 30 * 24 * time.Hour
	minDuration = 60 * time.Second
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type Hdl struct {
	paste *svc.Paste
	cfg   *cfg.Cfg
}

type CreateReq struct {
	Ciphertext  string   `json:"ciphertext" validate:"required,base64rawurl"`
	IV          string   `json:"iv" validate:"required,base64rawurl"`
	AuthTag     string   `json:"auth_tag" validate:"required,base64rawurl"`
	Salt        string   `json:"salt,omitempty" validate:"omitempty,base64rawurl"`
	Policy      string   `json:"policy" validate:"required,oneof=never duration views burn"`
	Duration    string   `json:"duration,omitempty"`
	MaxViews    int      `json:"max_views,omitempty" validate:"omitempty,min=1,max=1000"`
	HasPassword bool     `json:"has_password,omitempty"`
	Language    string   `json:"language,omitempty" validate:"omitempty,max=64"`
	Title       string   `json:"title,omitempty" validate:"omitempty,max=200"`
	Tags        []string `json:"tags,omitempty" validate:"omitempty,max=10,dive,max=32"`
}

type CreateResp struct {
	ID            string     `json:"id"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	MaxViews      *int       `json:"max_views,omitempty"`
	DeletionToken string     `json:"deletion_token"`
}

type ConsumeResp struct {
	Payload     domain.Payload     `json:"payload"`
	CreatedAt   time.Time          `json:"created_at"`
	ExpiresAt   *time.Time         `json:"expires_at,omitempty"`
	ViewCount   int                `json:"view_count"`
	MaxViews    *int               `json:"max_views,omitempty"`
	HasPassword bool               `json:"has_password"`
	Display     domain.DisplayMeta `json:"display"`
	WillBurn    bool               `json:"will_burn"`
}

type RotateResp struct {
	ID string `json:"id"`
}

func (h *Hdl) CreatePaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	contentType := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != "application/json" {
		log.Warn().
			Str("content_type", contentType).
			Str("request_id", requestID).
			Msg("invalid Content-Type header")
		w.WriteHeader(http.StatusUnsupportedMediaType)
		json.NewEncoder(w).Encode(map[string]string{
			"error":      "expected Content-Type: application/json",
			"request_id": requestID,
		})
		return
	}

	limit := h.cfg.MaxPayloadSize * 2
	if clHeader := r.Header.Get("Content-Length"); clHeader != "" {
		cl, err := strconv.ParseInt(clHeader, 10, 64)
		if err != nil || cl < 0 {
			log.Warn().Str("content_length", clHeader).Msg("invalid Content-Length")
			writeErr(w, domain.ErrValidationFailed, requestID)
			return
		}
		if cl > limit {
			log.Warn().Int64("content_length", cl).Msg("Content-Length exceeds maximum")
			writeErr(w, domain.ErrPasteTooLarge, requestID)
			return
		}
		if ce := r.Header.Get("Content-Encoding"); ce != "" {
			log.Warn().Str("content_encoding", ce).Msg("compressed content not allowed")
			writeErr(w, domain.ErrValidationFailed, requestID)
			return
		}
	} else {
		log.Warn().Msg("missing Content-Length on POST")
		writeErr(w, domain.ErrValidationFailed, requestID)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	var req CreateReq
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		if err == io.EOF {
			log.Warn().Msg("empty request body")
		} else {
			log.Warn().Err(err).Msg("invalid request")
		}
		writeErr(w, domain.ErrValidationFailed, requestID)
		return
	}
	if err := validate.Struct(&req); err != nil {
		log.Warn().Err(err).Msg("request failed validation")
		writeErr(w, domain.ErrValidationFailed, requestID)
		return
	}
	if int64(len(req.Ciphertext)) > h.cfg.MaxPayloadSize {
		log.Warn().Int("ciphertext_length", len(req.Ciphertext)).Msg("payload exceeds maximum size")
		writeErr(w, domain.ErrPasteTooLarge, requestID)
		return
	}
	var dur time.Duration
	if req.Duration != "" {
		d, err := time.ParseDuration(req.Duration)
		if err != nil {
			log.Warn().Err(err).Str("duration", req.Duration).Msg("invalid duration")
			writeErr(w, domain.ErrInvalidDuration, requestID)
			return
		}
		if d > maxDuration {
			log.Warn().Dur("requested", d).Msg("duration exceeds max, capping")
			d = maxDuration
		}
		if d < minDuration {
			log.Warn().Dur("requested", d).Msg("duration below min, rejecting")
			writeErr(w, domain.ErrInvalidDuration, requestID)
			return
		}
		dur = d
	}

	params := domain.CreateParams{
		Payload: domain.Payload{
			Ciphertext: req.Ciphertext,
			IV:         req.IV,
			AuthTag:    req.AuthTag,
			Salt:       req.Salt,
		},
		Policy:      domain.Policy(req.Policy),
		Duration:    dur,
		MaxViews:    req.MaxViews,
		HasPassword: req.HasPassword,
		Display: domain.DisplayMeta{
			Language: sanitizeDisplay(req.Language),
			Title:    sanitizeDisplay(req.Title),
			Tags:     sanitizeTags(req.Tags),
		},
	}
	result, err := h.paste.Create(r.Context(), params)
	if err != nil {
		log.Error().Err(err).Msg("failed to create paste")
		writeErr(w, err, requestID)
		return
	}
	log.Info().
		Str("paste_id", result.ID).
		Str("policy", req.Policy).
		Bool("password_protected", req.HasPassword).
		Msg("paste created")
	resp := CreateResp{
		ID:            result.ID,
		ExpiresAt:     result.ExpiresAt,
		MaxViews:      result.MaxViews,
		DeletionToken: result.DeletionToken,
	}
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(resp)
}

func (h *Hdl) GetPaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")
	result, err := h.paste.Consume(r.Context(), id)
	if err != nil {
		log.Warn().Err(err).Str("paste_id", id).Msg("consume failed")
		writeErr(w, err, requestID)
		return
	}
	log.Info().
		Str("paste_id", id).
		Str("client_ip", util.RedactIP(r.RemoteAddr)).
		Int("view_count", result.ViewCount).
		Bool("will_burn", result.WillBurn).
		Msg("paste consumed")
	json.NewEncoder(w).Encode(ConsumeResp{
		Payload:     result.Payload,
		CreatedAt:   result.CreatedAt,
		ExpiresAt:   result.ExpiresAt,
		ViewCount:   result.ViewCount,
		MaxViews:    result.MaxViews,
		HasPassword: result.HasPassword,
		Display:     result.Display,
		WillBurn:    result.WillBurn,
	})
}

func (h *Hdl) RotatePaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")
	token := r.Header.Get("X-Deletion-Token")
	if token == "" {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"error":      "missing X-Deletion-Token header",
			"request_id": requestID,
		})
		return
	}
	newID, err := h.paste.Rotate(r.Context(), id, token)
	if err != nil {
		if errors.Is(err, domain.ErrForbidden) {
			log.Warn().
				Str("paste_id", id).
				Str("client_ip", util.RedactIP(r.RemoteAddr)).
				Str("token", util.RedactToken(token)).
				Msg("rotate with invalid token")
		} else {
			log.Warn().Err(err).Str("paste_id", id).Msg("rotate failed")
		}
		writeErr(w, err, requestID)
		return
	}
	json.NewEncoder(w).Encode(RotateResp{ID: newID})
}

func (h *Hdl) RevokePaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")
	token := r.Header.Get("X-Deletion-Token")
	if token == "" {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"error":      "missing X-Deletion-Token header",
			"request_id": requestID,
		})
		return
	}
	if err := h.paste.Revoke(r.Context(), id, token); err != nil {
		if errors.Is(err, domain.ErrForbidden) {
			log.Warn().
				Str("paste_id", id).
				Str("client_ip", util.RedactIP(r.RemoteAddr)).
				Str("token", util.RedactToken(token)).
				Msg("revoke with invalid token")
		} else {
			log.Warn().Err(err).Str("paste_id", id).Msg("revoke failed")
		}
		writeErr(w, err, requestID)
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "revoked"})
}

func (h *Hdl) GetPresets(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	presets := make([]string, len(h.cfg.DurationPresets))
	for i, d := range h.cfg.DurationPresets {
		presets[i] = d.String()
	}
	json.NewEncoder(w).Encode(presets)
}

// writeErr emits the stable code alongside the message: NOT_FOUND and
// PAYLOAD_MISSING share a 404 and are told apart by code, not prose.
func writeErr(w http.ResponseWriter, err error, requestID string) {
	statusCode := domain.Status(err)
	w.WriteHeader(statusCode)
	detail := domain.ToResp(err).Error
	if statusCode >= 500 {
		detail.Msg = "internal server error"
		util.Error().
			Err(err).
			Str("request_id", requestID).
			Msg("internal error with detailed info")
	}
	json.NewEncoder(w).Encode(map[string]string{
		"error":      detail.Msg,
		"code":       detail.Code,
		"request_id": requestID,
	})
}

// sanitizeDisplay normalizes free-form metadata and strips control runes.
// No escaping: display fields only ever travel back out as JSON.
func sanitizeDisplay(s string) string {
	s = norm.NFC.String(s)
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for _, r := range s {
			if r != utf8.RuneError {
				v = append(v, r)
			}
		}
		s = string(v)
	}
	return strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s)
}

func sanitizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(sanitizeDisplay(t))
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
