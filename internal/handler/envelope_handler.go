package handler

import (
	"net/http"

	"mailcrypt-service/internal/usecase"
	"mailcrypt-service/pkg/httputil"
)

// BuildEnvelopeRequest はエンベロープ構築のリクエスト形式。
type BuildEnvelopeRequest struct {
	SenderID     string   `json:"sender_id"`
	RecipientIDs []string `json:"recipient_ids"`
	Subject      string   `json:"subject"`
	Body         string   `json:"body"`
}

// OpenEnvelopeRequest はエンベロープ開封のリクエスト形式。
type OpenEnvelopeRequest struct {
	ViewerID string          `json:"viewer_id"`
	Envelope EnvelopePayload `json:"envelope"`
}

// EnvelopeHandler は送信時の暗号化と閲覧時の復号のHTTPハンドラを提供する。
// 本文と件名はログに出さない。
type EnvelopeHandler struct {
	builder *usecase.EnvelopeBuilder
	gate    *usecase.DecryptionGate
}

// NewEnvelopeHandler は新しいEnvelopeHandlerを生成する。
func NewEnvelopeHandler(builder *usecase.EnvelopeBuilder, gate *usecase.DecryptionGate) *EnvelopeHandler {
	return &EnvelopeHandler{builder: builder, gate: gate}
}

// BuildEnvelope はエンベロープを構築する。平文へのフォールバックも200で返し、理由を outcome に載せる。
func (h *EnvelopeHandler) BuildEnvelope(w http.ResponseWriter, r *http.Request) {
	var req BuildEnvelopeRequest
	if err := httputil.DecodeJSON(w, r, &req, false); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}

	envelope, outcome, err := h.builder.Build(r.Context(), req.SenderID, req.RecipientIDs, req.Subject, req.Body)
	if err != nil {
		writeError(w, r, "BUILD_ENVELOPE", err)
		return
	}

	httputil.JSON(w, http.StatusOK, EnvelopeResponse{
		Envelope: toEnvelopePayload(envelope),
		Outcome:  toOutcomeResponse(outcome),
	})
}

// OpenEnvelope はエンベロープを閲覧者の鍵で開く。
func (h *EnvelopeHandler) OpenEnvelope(w http.ResponseWriter, r *http.Request) {
	var req OpenEnvelopeRequest
	if err := httputil.DecodeJSON(w, r, &req, false); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}

	plaintext, err := h.gate.Open(r.Context(), req.Envelope.toDomain(), req.ViewerID)
	if err != nil {
		writeError(w, r, "OPEN_ENVELOPE", err)
		return
	}

	httputil.JSON(w, http.StatusOK, PlaintextResponse{
		Subject:   plaintext.Subject,
		Body:      plaintext.Body,
		Encrypted: plaintext.Encrypted,
	})
}
