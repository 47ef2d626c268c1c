// Package handler はHTTPハンドラを提供する。
package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"mailcrypt-service/internal/domain"
	"mailcrypt-service/internal/middleware"
	"mailcrypt-service/internal/usecase"
	"mailcrypt-service/pkg/httputil"
)

// IdentityRequest は鍵に埋め込む表示名とアドレス。
type IdentityRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// KeyHandler は鍵の登録・診断・失効のHTTPハンドラを提供する。
type KeyHandler struct {
	lifecycle *usecase.LifecycleManager
	vault     *usecase.Vault
}

// NewKeyHandler は新しいKeyHandlerを生成する。
func NewKeyHandler(lifecycle *usecase.LifecycleManager, vault *usecase.Vault) *KeyHandler {
	return &KeyHandler{lifecycle: lifecycle, vault: vault}
}

// accountParam はURLのアカウントIDを検証して返す。不正な場合は400を書き込みfalseを返す。
func accountParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	accountID := chi.URLParam(r, "account_id")
	if err := domain.ValidateAccountID(accountID); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_ACCOUNT_ID", "invalid account ID format")
		return "", false
	}
	return accountID, true
}

func decodeIdentity(w http.ResponseWriter, r *http.Request, accountID string) (domain.Identity, bool) {
	var req IdentityRequest
	if err := httputil.DecodeJSON(w, r, &req, true); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return domain.Identity{}, false
	}
	if req.Name == "" {
		req.Name = accountID
	}
	return domain.Identity{Name: req.Name, Email: req.Email}, true
}

// startJob はジョブを202で返す。wait=true の場合は完了を待って201で鍵を返す。
func (h *KeyHandler) startJob(w http.ResponseWriter, r *http.Request, operation string, job *usecase.GenerationJob) {
	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	if !wait {
		middleware.WriteAuditLog(r.Context(), operation, job.AccountID(), "", "ACCEPTED")
		w.Header().Set("Location", "/v1/jobs/"+job.ID())
		httputil.JSON(w, http.StatusAccepted, toJobResponse(job.Snapshot()))
		return
	}

	record, err := job.Wait(r.Context())
	if err != nil {
		middleware.WriteAuditLog(r.Context(), operation, job.AccountID(), "", middleware.ResultFailed)
		writeError(w, r, operation, err)
		return
	}
	middleware.WriteAuditLog(r.Context(), operation, record.AccountID, record.Fingerprint, middleware.ResultSuccess)
	httputil.JSON(w, http.StatusCreated, toKeyRecordResponse(record))
}

// GenerateKey はアカウントの鍵生成を開始する。
func (h *KeyHandler) GenerateKey(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountParam(w, r)
	if !ok {
		return
	}
	identity, ok := decodeIdentity(w, r, accountID)
	if !ok {
		return
	}

	job, err := h.lifecycle.Generate(r.Context(), accountID, identity)
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "GENERATE_KEY", accountID, "", middleware.ResultFailed)
		writeError(w, r, "GENERATE_KEY", err)
		return
	}
	h.startJob(w, r, "GENERATE_KEY", job)
}

// RegenerateKey は鍵の再生成を開始する。旧世代は新しい鍵の保存と同時に失効する。
func (h *KeyHandler) RegenerateKey(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountParam(w, r)
	if !ok {
		return
	}
	identity, ok := decodeIdentity(w, r, accountID)
	if !ok {
		return
	}

	job, err := h.lifecycle.Regenerate(r.Context(), accountID, identity)
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "REGENERATE_KEY", accountID, "", middleware.ResultFailed)
		writeError(w, r, "REGENERATE_KEY", err)
		return
	}
	h.startJob(w, r, "REGENERATE_KEY", job)
}

// ListKeys はアカウントの鍵履歴を返す。
func (h *KeyHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountParam(w, r)
	if !ok {
		return
	}

	records, err := h.vault.History(r.Context(), accountID)
	if err != nil {
		writeError(w, r, "LIST_KEYS", err)
		return
	}

	response := KeyListResponse{Keys: make([]KeyRecordResponse, len(records))}
	for i, rec := range records {
		response.Keys[i] = toKeyRecordResponse(rec)
	}
	httputil.JSON(w, http.StatusOK, response)
}

// GetKeyHealth は鍵の健全性を返す。
func (h *KeyHandler) GetKeyHealth(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountParam(w, r)
	if !ok {
		return
	}

	health, err := h.lifecycle.Verify(r.Context(), accountID)
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "VERIFY_KEY", accountID, "", middleware.ResultFailed)
		writeError(w, r, "VERIFY_KEY", err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "VERIFY_KEY", accountID, health.Fingerprint, middleware.ResultSuccess)
	httputil.JSON(w, http.StatusOK, toHealthResponse(health))
}

// RevokeKey は有効な鍵を失効させる。鍵が無い場合も成功とする。
func (h *KeyHandler) RevokeKey(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountParam(w, r)
	if !ok {
		return
	}

	if _, err := h.lifecycle.Revoke(r.Context(), accountID); err != nil {
		middleware.WriteAuditLog(r.Context(), "REVOKE_KEY", accountID, "", middleware.ResultFailed)
		writeError(w, r, "REVOKE_KEY", err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "REVOKE_KEY", accountID, "", middleware.ResultSuccess)
	w.WriteHeader(http.StatusAccepted)
}

// GetJob は鍵生成ジョブの状態を返す。
func (h *KeyHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.lifecycle.Job(chi.URLParam(r, "job_id"))
	if err != nil {
		writeError(w, r, "GET_JOB", err)
		return
	}
	httputil.JSON(w, http.StatusOK, toJobResponse(job.Snapshot()))
}
