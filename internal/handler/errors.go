package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"mailcrypt-service/internal/domain"
	"mailcrypt-service/pkg/httputil"
)

type errorMapping struct {
	target  error
	status  int
	code    string
	message string
}

// errorMappings は上から順に評価する。KeyAlreadyExists は VaultWrite を包むため先に置く。
var errorMappings = []errorMapping{
	{domain.ErrInvalidAccountID, http.StatusBadRequest, "INVALID_ACCOUNT_ID", "invalid account ID format"},
	{domain.ErrInvalidEnvelope, http.StatusBadRequest, "INVALID_ENVELOPE", "invalid envelope"},
	{domain.ErrKeyAlreadyExists, http.StatusConflict, "KEY_ALREADY_EXISTS", "key already exists for this account"},
	{domain.ErrVaultWrite, http.StatusConflict, "VAULT_WRITE_ERROR", "key could not be stored"},
	{domain.ErrVaultUnlock, http.StatusInternalServerError, "VAULT_UNLOCK_ERROR", "private key could not be unlocked"},
	{domain.ErrNoActiveKey, http.StatusNotFound, "NO_ACTIVE_KEY", "account has no active key"},
	{domain.ErrViewerHasNoKey, http.StatusConflict, "VIEWER_HAS_NO_KEY", "viewer has no key to open this message"},
	{domain.ErrKeyMismatchOrCorrupt, http.StatusUnprocessableEntity, "KEY_MISMATCH_OR_CORRUPT", "message cannot be opened with the viewer's current key"},
	{domain.ErrKeyGeneration, http.StatusServiceUnavailable, "KEY_GENERATION_ERROR", "key generation failed, retry later"},
	{domain.ErrJobNotFound, http.StatusNotFound, "JOB_NOT_FOUND", "job not found"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "TIMEOUT", "operation timed out"},
}

// writeError はドメインエラーをステータスとコードに変換して返す。
// 対応するエラーが無い場合は500とし、詳細はログにのみ残す。
func writeError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			if m.status >= http.StatusInternalServerError {
				slog.ErrorContext(r.Context(), "request failed", "operation", operation, "code", m.code, "error", err)
			}
			httputil.Error(w, m.status, m.code, m.message)
			return
		}
	}

	slog.ErrorContext(r.Context(), "request failed", "operation", operation, "error", err)
	httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
}
