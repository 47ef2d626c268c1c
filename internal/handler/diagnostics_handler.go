package handler

import (
	"net/http"

	"mailcrypt-service/internal/middleware"
	"mailcrypt-service/internal/usecase"
	"mailcrypt-service/pkg/httputil"
)

// DiagnosticsResponse は運用者向け診断のレスポンス形式。
type DiagnosticsResponse struct {
	Health  HealthResponse      `json:"health"`
	History []KeyRecordResponse `json:"history"`
}

// WipeResponse は鍵の消去結果。
type WipeResponse struct {
	AccountID string `json:"account_id"`
	Revoked   bool   `json:"revoked"`
}

// DiagnosticsHandler は運用者向けの診断と修復のHTTPハンドラを提供する。
type DiagnosticsHandler struct {
	service *usecase.DiagnosticsService
}

// NewDiagnosticsHandler は新しいDiagnosticsHandlerを生成する。
func NewDiagnosticsHandler(service *usecase.DiagnosticsService) *DiagnosticsHandler {
	return &DiagnosticsHandler{service: service}
}

// GetAccount は鍵の健全性と全世代の履歴を返す。
func (h *DiagnosticsHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountParam(w, r)
	if !ok {
		return
	}

	health, err := h.service.CheckAccount(r.Context(), accountID)
	if err != nil {
		writeError(w, r, "DIAGNOSE_ACCOUNT", err)
		return
	}
	history, err := h.service.History(r.Context(), accountID)
	if err != nil {
		writeError(w, r, "DIAGNOSE_ACCOUNT", err)
		return
	}

	resp := DiagnosticsResponse{
		Health:  toHealthResponse(health),
		History: make([]KeyRecordResponse, len(history)),
	}
	for i, rec := range history {
		resp.History[i] = toKeyRecordResponse(rec)
	}
	httputil.JSON(w, http.StatusOK, resp)
}

// Wipe はアカウントの有効な鍵を失効させる。
func (h *DiagnosticsHandler) Wipe(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountParam(w, r)
	if !ok {
		return
	}

	revoked, err := h.service.Wipe(r.Context(), accountID)
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "WIPE_KEY", accountID, "", middleware.ResultFailed)
		writeError(w, r, "WIPE_KEY", err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "WIPE_KEY", accountID, "", middleware.ResultSuccess)
	httputil.JSON(w, http.StatusOK, WipeResponse{AccountID: accountID, Revoked: revoked})
}

// Rebuild は鍵を再生成し、完了まで待って新しい鍵を返す。
func (h *DiagnosticsHandler) Rebuild(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountParam(w, r)
	if !ok {
		return
	}
	identity, ok := decodeIdentity(w, r, accountID)
	if !ok {
		return
	}

	record, err := h.service.Rebuild(r.Context(), accountID, identity)
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "REBUILD_KEY", accountID, "", middleware.ResultFailed)
		writeError(w, r, "REBUILD_KEY", err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "REBUILD_KEY", accountID, record.Fingerprint, middleware.ResultSuccess)
	httputil.JSON(w, http.StatusCreated, toKeyRecordResponse(record))
}
