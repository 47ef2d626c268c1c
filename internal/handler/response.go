package handler

import (
	"time"

	"mailcrypt-service/internal/domain"
)

// KeyRecordResponse は鍵レコードのレスポンス形式。秘密鍵は含まない。
type KeyRecordResponse struct {
	ID            string  `json:"id"`
	AccountID     string  `json:"account_id"`
	Fingerprint   string  `json:"fingerprint"`
	PublicKey     string  `json:"public_key"`
	HasPrivateKey bool    `json:"has_private_key"`
	Sealer        string  `json:"sealer"`
	Active        bool    `json:"active"`
	CreatedAt     string  `json:"created_at"`
	RevokedAt     *string `json:"revoked_at,omitempty"`
}

// KeyListResponse は鍵履歴のレスポンス形式。
type KeyListResponse struct {
	Keys []KeyRecordResponse `json:"keys"`
}

// JobResponse は鍵生成ジョブのレスポンス形式。
type JobResponse struct {
	ID         string             `json:"id"`
	AccountID  string             `json:"account_id"`
	Kind       string             `json:"kind"`
	Status     string             `json:"status"`
	Key        *KeyRecordResponse `json:"key,omitempty"`
	Error      string             `json:"error,omitempty"`
	CreatedAt  string             `json:"created_at"`
	FinishedAt *string            `json:"finished_at,omitempty"`
}

// HealthResponse は鍵の健全性のレスポンス形式。
type HealthResponse struct {
	AccountID     string `json:"account_id"`
	State         string `json:"state"`
	HasPublicKey  bool   `json:"has_public_key"`
	HasPrivateKey bool   `json:"has_private_key"`
	KeysMatch     bool   `json:"keys_match"`
	Fingerprint   string `json:"fingerprint,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// EnvelopePayload はエンベロープのJSON表現。
type EnvelopePayload struct {
	Mode               string   `json:"mode"`
	Subject            string   `json:"subject"`
	Body               string   `json:"body"`
	TargetFingerprints []string `json:"target_fingerprints,omitempty"`
}

// OutcomeResponse は暗号化判定結果のレスポンス形式。
type OutcomeResponse struct {
	Reason          string   `json:"reason"`
	AccountID       string   `json:"account_id,omitempty"`
	MissingAccounts []string `json:"missing_accounts,omitempty"`
	Warning         string   `json:"warning,omitempty"`
}

// EnvelopeResponse はエンベロープ構築のレスポンス形式。
type EnvelopeResponse struct {
	Envelope EnvelopePayload `json:"envelope"`
	Outcome  OutcomeResponse `json:"outcome"`
}

// PlaintextResponse は開封結果のレスポンス形式。
type PlaintextResponse struct {
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	Encrypted bool   `json:"encrypted"`
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func toKeyRecordResponse(r *domain.KeyRecord) KeyRecordResponse {
	return KeyRecordResponse{
		ID:            r.ID,
		AccountID:     r.AccountID,
		Fingerprint:   r.Fingerprint,
		PublicKey:     r.PublicKey,
		HasPrivateKey: r.HasPrivateKey,
		Sealer:        r.Sealer,
		Active:        r.Active(),
		CreatedAt:     r.CreatedAt.UTC().Format(time.RFC3339),
		RevokedAt:     formatTime(r.RevokedAt),
	}
}

func toJobResponse(s domain.JobSnapshot) JobResponse {
	resp := JobResponse{
		ID:         s.ID,
		AccountID:  s.AccountID,
		Kind:       string(s.Kind),
		Status:     string(s.Status),
		CreatedAt:  s.CreatedAt.UTC().Format(time.RFC3339),
		FinishedAt: formatTime(s.FinishedAt),
	}
	if s.Record != nil {
		rec := toKeyRecordResponse(s.Record)
		resp.Key = &rec
	}
	if s.Err != nil {
		resp.Error = s.Err.Error()
	}
	return resp
}

func toHealthResponse(h *domain.KeyHealth) HealthResponse {
	return HealthResponse{
		AccountID:     h.AccountID,
		State:         string(h.State),
		HasPublicKey:  h.HasPublicKey,
		HasPrivateKey: h.HasPrivateKey,
		KeysMatch:     h.KeysMatch,
		Fingerprint:   h.Fingerprint,
		Reason:        h.Reason,
	}
}

func toEnvelopePayload(e *domain.Envelope) EnvelopePayload {
	return EnvelopePayload{
		Mode:               string(e.Mode),
		Subject:            e.Subject,
		Body:               e.Body,
		TargetFingerprints: e.TargetFingerprints,
	}
}

func (p EnvelopePayload) toDomain() *domain.Envelope {
	return &domain.Envelope{
		Mode:               domain.EnvelopeMode(p.Mode),
		Subject:            p.Subject,
		Body:               p.Body,
		TargetFingerprints: p.TargetFingerprints,
	}
}

func toOutcomeResponse(o domain.EncryptionOutcome) OutcomeResponse {
	return OutcomeResponse{
		Reason:          string(o.Reason),
		AccountID:       o.AccountID,
		MissingAccounts: o.MissingAccounts,
		Warning:         o.Warning(),
	}
}
