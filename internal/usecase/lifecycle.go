package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"mailcrypt-service/internal/domain"
	"mailcrypt-service/internal/pgp"
)

const (
	defaultGenerationTimeout = 2 * time.Minute
	defaultJobRetention      = 15 * time.Minute
)

// KeyGenerator は識別情報に結び付いた鍵ペアを生成する。
type KeyGenerator func(identity domain.Identity) (*pgp.KeyPair, error)

// ProfileGenerator は指定プロファイルでOpenPGP鍵ペアを生成するKeyGeneratorを返す。
func ProfileGenerator(profile pgp.Profile) KeyGenerator {
	return func(identity domain.Identity) (*pgp.KeyPair, error) {
		return pgp.GenerateKeyPair(identity.Name, identity.Email, profile)
	}
}

// LifecycleOption はLifecycleManagerの設定を変更する。
type LifecycleOption func(*LifecycleManager)

// WithWorkers は同時に実行する鍵生成の上限を設定する。
func WithWorkers(n int) LifecycleOption {
	return func(m *LifecycleManager) {
		if n > 0 {
			m.workers = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithGenerationTimeout は鍵生成ジョブ1件あたりのタイムアウトを設定する。
func WithGenerationTimeout(d time.Duration) LifecycleOption {
	return func(m *LifecycleManager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithJobRetention は完了したジョブを照会できる期間を設定する。
func WithJobRetention(d time.Duration) LifecycleOption {
	return func(m *LifecycleManager) {
		m.jobs = NewJobTracker(d)
	}
}

// LifecycleManager はアカウントの鍵の状態遷移（生成・検証・失効・再生成）を管理する。
type LifecycleManager struct {
	vault    *Vault
	generate KeyGenerator
	workers  *semaphore.Weighted
	timeout  time.Duration
	jobs     *JobTracker

	baseCtx  context.Context
	shutdown context.CancelFunc
	wg       sync.WaitGroup
}

// NewLifecycleManager は新しいLifecycleManagerを生成する。
func NewLifecycleManager(vault *Vault, generate KeyGenerator, opts ...LifecycleOption) *LifecycleManager {
	baseCtx, shutdown := context.WithCancel(context.Background())
	m := &LifecycleManager{
		vault:    vault,
		generate: generate,
		workers:  semaphore.NewWeighted(1),
		timeout:  defaultGenerationTimeout,
		jobs:     NewJobTracker(defaultJobRetention),
		baseCtx:  baseCtx,
		shutdown: shutdown,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Generate はABSENTまたはREVOKEDのアカウントに鍵ペアを生成するジョブを開始する。
// 有効な鍵が既にある場合は ErrKeyAlreadyExists を返す。
// 同じアカウントのジョブが実行中の場合は新しいジョブを作らずにそれを返す。
func (m *LifecycleManager) Generate(ctx context.Context, accountID string, identity domain.Identity) (*GenerationJob, error) {
	if err := domain.ValidateAccountID(accountID); err != nil {
		return nil, err
	}
	if job, ok := m.jobs.InFlight(accountID); ok {
		return job, nil
	}

	active, err := m.vault.ActiveRecord(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, fmt.Errorf("%w: %w: account %s", domain.ErrKeyAlreadyExists, domain.ErrVaultWrite, accountID)
	}

	return m.start(ctx, accountID, identity, domain.JobKindGenerate), nil
}

// Regenerate は有効な鍵の失効と新しい鍵の保存を1つの単位として行うジョブを開始する。
// 新しい鍵ペアはロック外で生成し、Vault.Rotate で一度にコミットする。
// 生成に失敗した場合は元の鍵が有効なまま残る。
func (m *LifecycleManager) Regenerate(ctx context.Context, accountID string, identity domain.Identity) (*GenerationJob, error) {
	if err := domain.ValidateAccountID(accountID); err != nil {
		return nil, err
	}
	return m.start(ctx, accountID, identity, domain.JobKindRegenerate), nil
}

func (m *LifecycleManager) start(ctx context.Context, accountID string, identity domain.Identity, kind domain.JobKind) *GenerationJob {
	if identity.Name == "" {
		identity.Name = accountID
	}

	job, created := m.jobs.startOrJoin(accountID, func() *GenerationJob {
		// リクエストのキャンセルから切り離し、トレース情報だけ引き継ぐ
		jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
		stop := context.AfterFunc(m.baseCtx, cancel)
		job := newGenerationJob(accountID, kind, func() {
			stop()
			cancel()
		})

		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			record, err := m.run(jobCtx, job, identity)
			m.jobs.complete(job)
			job.finish(record, err)
		}()
		return job
	})
	if created {
		slog.InfoContext(ctx, "key generation job started",
			"operation", string(kind),
			"account_id", accountID,
			"job_id", job.ID(),
		)
	}
	return job
}

func (m *LifecycleManager) run(ctx context.Context, job *GenerationJob, identity domain.Identity) (_ *domain.KeyRecord, err error) {
	ctx, span := startSpan(ctx, "LifecycleManager."+string(job.kind), job.accountID)
	span.SetAttributes(attribute.String("job.id", job.id))
	defer func() { endSpan(span, err) }()

	if err := m.workers.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: waiting for a worker: %v", domain.ErrKeyGeneration, err)
	}
	job.markRunning()

	kp, err := m.generateWithContext(ctx, identity)
	if err != nil {
		slog.ErrorContext(ctx, "key generation failed",
			"operation", string(job.kind),
			"account_id", job.accountID,
			"job_id", job.id,
			"error", err,
		)
		return nil, err
	}
	defer pgp.Wipe(kp.PrivateKey)

	var record *domain.KeyRecord
	switch job.kind {
	case domain.JobKindRegenerate:
		record, err = m.vault.Rotate(ctx, job.accountID, kp.PublicKey, kp.PrivateKey)
	default:
		record, err = m.vault.Store(ctx, job.accountID, kp.PublicKey, kp.PrivateKey)
	}
	if err != nil {
		if errors.Is(err, domain.ErrVaultWrite) && job.kind == domain.JobKindGenerate {
			// ジョブ開始後に別経路で鍵が登録された
			return nil, fmt.Errorf("%w: %w", domain.ErrKeyAlreadyExists, err)
		}
		return nil, err
	}

	slog.InfoContext(ctx, "key stored",
		"operation", string(job.kind),
		"account_id", job.accountID,
		"job_id", job.id,
		"fingerprint", record.Fingerprint,
	)
	return record, nil
}

// generateWithContext は鍵生成をタイムアウト付きで実行する。
// 呼び出し前に取得したワーカーは、生成処理が実際に戻った時点で解放する。
// 生成処理自体は中断できないため、タイムアウト後も完了までワーカーを保持し、完了した鍵は破棄する。
func (m *LifecycleManager) generateWithContext(ctx context.Context, identity domain.Identity) (*pgp.KeyPair, error) {
	type result struct {
		kp  *pgp.KeyPair
		err error
	}
	ch := make(chan result, 1)
	go func() {
		kp, err := m.generate(identity)
		ch <- result{kp, err}
	}()

	select {
	case r := <-ch:
		m.workers.Release(1)
		if r.err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrKeyGeneration, r.err)
		}
		return r.kp, nil
	case <-ctx.Done():
		// 呼び出し元のジョブもwgで数えられているため、ここでのAddはWaitと競合しない
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			defer m.workers.Release(1)
			if r := <-ch; r.kp != nil {
				pgp.Wipe(r.kp.PrivateKey)
			}
		}()
		return nil, fmt.Errorf("%w: %v", domain.ErrKeyGeneration, ctx.Err())
	}
}

// Verify は鍵素材を公開せずに鍵の健全性を診断する。
// 秘密鍵から導出したフィンガープリントと公開鍵のフィンガープリントを比較する。
func (m *LifecycleManager) Verify(ctx context.Context, accountID string) (_ *domain.KeyHealth, err error) {
	ctx, span := startSpan(ctx, "LifecycleManager.Verify", accountID)
	defer func() { endSpan(span, err) }()

	if err := domain.ValidateAccountID(accountID); err != nil {
		return nil, err
	}

	record, err := m.vault.LatestRecord(ctx, accountID)
	if err != nil {
		return nil, err
	}
	health := &domain.KeyHealth{AccountID: accountID}

	switch {
	case record == nil:
		health.State = domain.KeyStateAbsent
		health.Reason = "no key has been enrolled"
		return health, nil
	case !record.Active():
		health.State = domain.KeyStateRevoked
		health.Fingerprint = record.Fingerprint
		health.Reason = fmt.Sprintf("key %s was revoked at %s", record.Fingerprint, record.RevokedAt.Format(time.RFC3339))
		return health, nil
	}

	health.Fingerprint = record.Fingerprint
	health.HasPublicKey = record.PublicKey != ""
	health.HasPrivateKey = record.HasPrivateKey

	switch {
	case health.HasPublicKey && !health.HasPrivateKey:
		health.State = domain.KeyStateInconsistent
		health.Reason = "public key present without a private key"
		return health, nil
	case !health.HasPublicKey && health.HasPrivateKey:
		health.State = domain.KeyStateInconsistent
		health.Reason = "private key present without a public key"
		return health, nil
	case !health.HasPublicKey:
		health.State = domain.KeyStateInconsistent
		health.Reason = "active record holds neither key"
		return health, nil
	}

	raw, err := m.vault.UnlockPrivateKey(ctx, accountID)
	if err != nil {
		if errors.Is(err, domain.ErrNoActiveKey) {
			// 診断中に失効された
			return m.Verify(ctx, accountID)
		}
		if errors.Is(err, errPrivateKeyMismatch) {
			health.State = domain.KeyStateInconsistent
			health.Reason = fmt.Sprintf("private key does not belong to key %s", record.Fingerprint)
			return health, nil
		}
		return nil, err
	}
	defer pgp.Wipe(raw)

	pubFingerprint, err := pgp.Fingerprint(record.PublicKey)
	if err != nil {
		health.State = domain.KeyStateInconsistent
		health.Reason = "stored public key cannot be parsed"
		return health, nil
	}
	privFingerprint, err := pgp.PrivateKeyFingerprint(raw)
	if err != nil {
		health.State = domain.KeyStateInconsistent
		health.Reason = "unsealed private key cannot be parsed"
		return health, nil
	}

	health.KeysMatch = pubFingerprint == privFingerprint && pubFingerprint == record.Fingerprint
	if !health.KeysMatch {
		health.State = domain.KeyStateInconsistent
		health.Reason = fmt.Sprintf("public key %s and private key %s belong to different generations", pubFingerprint, privFingerprint)
		return health, nil
	}

	health.State = domain.KeyStateActive
	return health, nil
}

// Revoke は有効な鍵を失効させる。ABSENT/REVOKEDからは何もしない。
func (m *LifecycleManager) Revoke(ctx context.Context, accountID string) (bool, error) {
	revoked, err := m.vault.Revoke(ctx, accountID)
	if err != nil {
		return false, err
	}
	if revoked {
		slog.InfoContext(ctx, "key revoked",
			"operation", "revoke",
			"account_id", accountID,
		)
	}
	return revoked, nil
}

// Job はIDで鍵生成ジョブを取得する。
func (m *LifecycleManager) Job(id string) (*GenerationJob, error) {
	job, ok := m.jobs.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}
	return job, nil
}

// Shutdown は実行中のジョブを中断し、全ジョブと中断後も走り続ける鍵生成の終了を待つ。
func (m *LifecycleManager) Shutdown(ctx context.Context) error {
	m.shutdown()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
