package usecase

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"mailcrypt-service/internal/domain"
	"mailcrypt-service/internal/pgp"
)

var testProfile = pgp.Profile{Algorithm: "curve25519"}

// fakeKeyRepository はトランザクションの意味論を保つインメモリのリポジトリ。
type fakeKeyRepository struct {
	mu      sync.Mutex
	records []*domain.KeyRecord
	secrets map[string][]byte

	findActiveErr   error
	createErr       error
	rotateErr       error
	revokeErr       error
	findActiveCalls int
}

func newFakeKeyRepository() *fakeKeyRepository {
	return &fakeKeyRepository{secrets: make(map[string][]byte)}
}

func (r *fakeKeyRepository) view(rec *domain.KeyRecord) *domain.KeyRecord {
	c := *rec
	c.HasPrivateKey = len(r.secrets[rec.ID]) > 0
	return &c
}

func (r *fakeKeyRepository) active(accountID string) *domain.KeyRecord {
	for i := len(r.records) - 1; i >= 0; i-- {
		if r.records[i].AccountID == accountID && r.records[i].RevokedAt == nil {
			return r.records[i]
		}
	}
	return nil
}

func (r *fakeKeyRepository) insert(record *domain.KeyRecord, sealed []byte) {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	record.HasPrivateKey = true
	c := *record
	r.records = append(r.records, &c)
	r.secrets[record.ID] = bytes.Clone(sealed)
}

func (r *fakeKeyRepository) Create(ctx context.Context, record *domain.KeyRecord, sealed []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	if r.active(record.AccountID) != nil {
		return errors.New("active record exists")
	}
	r.insert(record, sealed)
	return nil
}

func (r *fakeKeyRepository) Rotate(ctx context.Context, record *domain.KeyRecord, sealed []byte, revokedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rotateErr != nil {
		return false, r.rotateErr
	}
	revoked := false
	if old := r.active(record.AccountID); old != nil {
		at := revokedAt
		old.RevokedAt = &at
		revoked = true
	}
	r.insert(record, sealed)
	return revoked, nil
}

func (r *fakeKeyRepository) FindActiveByAccountID(ctx context.Context, accountID string) (*domain.KeyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.findActiveCalls++
	if r.findActiveErr != nil {
		return nil, r.findActiveErr
	}
	if rec := r.active(accountID); rec != nil {
		return r.view(rec), nil
	}
	return nil, nil
}

func (r *fakeKeyRepository) FindLatestByAccountID(ctx context.Context, accountID string) (*domain.KeyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec := r.active(accountID); rec != nil {
		return r.view(rec), nil
	}
	for i := len(r.records) - 1; i >= 0; i-- {
		if r.records[i].AccountID == accountID {
			return r.view(r.records[i]), nil
		}
	}
	return nil, nil
}

func (r *fakeKeyRepository) FindAllByAccountID(ctx context.Context, accountID string) ([]*domain.KeyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.KeyRecord
	for _, rec := range r.records {
		if rec.AccountID == accountID {
			out = append(out, r.view(rec))
		}
	}
	return out, nil
}

func (r *fakeKeyRepository) FindSealedPrivateKey(ctx context.Context, recordID string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sealed, ok := r.secrets[recordID]
	if !ok {
		return nil, nil
	}
	return bytes.Clone(sealed), nil
}

func (r *fakeKeyRepository) RevokeActive(ctx context.Context, accountID string, revokedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.revokeErr != nil {
		return false, r.revokeErr
	}
	rec := r.active(accountID)
	if rec == nil {
		return false, nil
	}
	at := revokedAt
	rec.RevokedAt = &at
	return true, nil
}

// putRaw は整合性チェックを通さずにレコードを書き込む。sealed がnilなら秘密鍵の行を作らない。
func (r *fakeKeyRepository) putRaw(record *domain.KeyRecord, sealed []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	c := *record
	r.records = append(r.records, &c)
	if sealed != nil {
		r.secrets[record.ID] = bytes.Clone(sealed)
	}
}

// mockSealer はテスト用のモックシーラー。受け取った関連データを記録する。
type mockSealer struct {
	encryptErr error
	decryptErr error

	mu        sync.Mutex
	sealedAAD [][]byte
	openedAAD [][]byte
}

func (m *mockSealer) Name() string { return "mock" }

func (m *mockSealer) Encrypt(ctx context.Context, plaintext, aad []byte) ([]byte, error) {
	if m.encryptErr != nil {
		return nil, m.encryptErr
	}
	m.mu.Lock()
	m.sealedAAD = append(m.sealedAAD, bytes.Clone(aad))
	m.mu.Unlock()
	return append([]byte("sealed:"), plaintext...), nil
}

func (m *mockSealer) Decrypt(ctx context.Context, ciphertext, aad []byte) ([]byte, error) {
	if m.decryptErr != nil {
		return nil, m.decryptErr
	}
	m.mu.Lock()
	m.openedAAD = append(m.openedAAD, bytes.Clone(aad))
	m.mu.Unlock()
	raw, ok := bytes.CutPrefix(ciphertext, []byte("sealed:"))
	if !ok {
		return nil, errors.New("not sealed by mock")
	}
	return bytes.Clone(raw), nil
}

// mapDirectory はテスト用のディレクトリ。errs と delay で障害を模倣する。
type mapDirectory struct {
	keys  map[string]*domain.PublicKey
	errs  map[string]error
	delay map[string]time.Duration
}

func (d *mapDirectory) ResolvePublicKey(ctx context.Context, accountID string) (*domain.PublicKey, error) {
	if wait, ok := d.delay[accountID]; ok {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err, ok := d.errs[accountID]; ok {
		return nil, err
	}
	return d.keys[accountID], nil
}

type fixture struct {
	repo      *fakeKeyRepository
	sealer    *mockSealer
	vault     *Vault
	lifecycle *LifecycleManager
	builder   *EnvelopeBuilder
	gate      *DecryptionGate
}

func newFixture(t *testing.T, opts ...LifecycleOption) *fixture {
	t.Helper()
	repo := newFakeKeyRepository()
	sealer := &mockSealer{}
	vault := NewVault(repo, sealer)
	lifecycle := NewLifecycleManager(vault, ProfileGenerator(testProfile), append([]LifecycleOption{WithWorkers(4)}, opts...)...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = lifecycle.Shutdown(ctx)
	})
	return &fixture{
		repo:      repo,
		sealer:    sealer,
		vault:     vault,
		lifecycle: lifecycle,
		builder:   NewEnvelopeBuilder(vault, NewVaultDirectory(vault), WithLookupTimeout(time.Second)),
		gate:      NewDecryptionGate(vault),
	}
}

// enroll はアカウントに鍵を生成し、完了まで待つ。
func (f *fixture) enroll(t *testing.T, accountID string) *domain.KeyRecord {
	t.Helper()
	job, err := f.lifecycle.Generate(context.Background(), accountID, domain.Identity{Name: accountID, Email: accountID + "@example.com"})
	if err != nil {
		t.Fatalf("Generate(%s) failed: %v", accountID, err)
	}
	record, err := job.Wait(context.Background())
	if err != nil {
		t.Fatalf("generation for %s failed: %v", accountID, err)
	}
	return record
}

func (f *fixture) regenerate(t *testing.T, accountID string) *domain.KeyRecord {
	t.Helper()
	job, err := f.lifecycle.Regenerate(context.Background(), accountID, domain.Identity{Name: accountID})
	if err != nil {
		t.Fatalf("Regenerate(%s) failed: %v", accountID, err)
	}
	record, err := job.Wait(context.Background())
	if err != nil {
		t.Fatalf("regeneration for %s failed: %v", accountID, err)
	}
	return record
}

func newKeyPair(t *testing.T, name string) *pgp.KeyPair {
	t.Helper()
	kp, err := pgp.GenerateKeyPair(name, name+"@example.com", testProfile)
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	return kp
}
