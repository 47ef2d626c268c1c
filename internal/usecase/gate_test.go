package usecase

import (
	"context"
	"errors"
	"testing"

	"mailcrypt-service/internal/domain"
)

func TestDecryptionGate_Open_Plaintext(t *testing.T) {
	// 平文は鍵を参照しない
	gate := NewDecryptionGate(nil)
	env := &domain.Envelope{Mode: domain.ModePlaintext, Subject: "hi", Body: "there"}

	pt, err := gate.Open(context.Background(), env, "anyone")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if pt.Subject != "hi" || pt.Body != "there" || pt.Encrypted {
		t.Errorf("unexpected plaintext %+v", pt)
	}
}

func TestDecryptionGate_Open_ViewerHasNoKey(t *testing.T) {
	f := newFixture(t)
	f.enroll(t, "sender")
	env, _, err := f.builder.Build(context.Background(), "sender", nil, "s", "b")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	_, err = f.gate.Open(context.Background(), env, "stranger")
	if !errors.Is(err, domain.ErrViewerHasNoKey) {
		t.Errorf("want ErrViewerHasNoKey, got %v", err)
	}
}

func TestDecryptionGate_Open_NotAddressedToViewer(t *testing.T) {
	f := newFixture(t)
	f.enroll(t, "sender")
	f.enroll(t, "eve")
	env, _, err := f.builder.Build(context.Background(), "sender", nil, "s", "b")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	_, err = f.gate.Open(context.Background(), env, "eve")
	if !errors.Is(err, domain.ErrKeyMismatchOrCorrupt) {
		t.Errorf("want ErrKeyMismatchOrCorrupt, got %v", err)
	}
}

func TestDecryptionGate_Open_Corrupt(t *testing.T) {
	f := newFixture(t)
	f.enroll(t, "sender")
	env, _, err := f.builder.Build(context.Background(), "sender", nil, "s", "b")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	corrupt := *env
	corrupt.Body = "-----BEGIN PGP MESSAGE-----\n\nAAAA\n-----END PGP MESSAGE-----\n"
	_, err = f.gate.Open(context.Background(), &corrupt, "sender")
	if !errors.Is(err, domain.ErrKeyMismatchOrCorrupt) {
		t.Errorf("want ErrKeyMismatchOrCorrupt, got %v", err)
	}
}

func TestDecryptionGate_Open_VaultUnlockSurfaced(t *testing.T) {
	f := newFixture(t)
	f.enroll(t, "sender")
	env, _, err := f.builder.Build(context.Background(), "sender", nil, "s", "b")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	f.sealer.decryptErr = errors.New("master passphrase rotated")
	_, err = f.gate.Open(context.Background(), env, "sender")
	if !errors.Is(err, domain.ErrVaultUnlock) {
		t.Errorf("want ErrVaultUnlock, got %v", err)
	}
	if errors.Is(err, domain.ErrKeyMismatchOrCorrupt) || errors.Is(err, domain.ErrViewerHasNoKey) {
		t.Errorf("vault fault must not be reported as a decryption error: %v", err)
	}
}

func TestDecryptionGate_Open_SwappedSecretSurfacesVaultUnlock(t *testing.T) {
	f := newFixture(t)
	record := f.enroll(t, "sender")
	env, _, err := f.builder.Build(context.Background(), "sender", nil, "s", "b")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	other := newKeyPair(t, "other")
	f.repo.mu.Lock()
	f.repo.secrets[record.ID] = append([]byte("sealed:"), other.PrivateKey...)
	f.repo.mu.Unlock()

	_, err = f.gate.Open(context.Background(), env, "sender")
	if !errors.Is(err, domain.ErrVaultUnlock) {
		t.Errorf("want ErrVaultUnlock, got %v", err)
	}
	if errors.Is(err, domain.ErrKeyMismatchOrCorrupt) {
		t.Errorf("swapped secret must not be reported as a decryption error: %v", err)
	}
}

func TestDecryptionGate_Open_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.enroll(t, "sender")
	ctx := context.Background()
	env, _, err := f.builder.Build(ctx, "sender", nil, "subject", "body")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	first, err := f.gate.Open(ctx, env, "sender")
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	second, err := f.gate.Open(ctx, env, "sender")
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	if *first != *second {
		t.Errorf("want identical plaintext, got %+v and %+v", first, second)
	}
}

func TestDecryptionGate_Open_InvalidEnvelope(t *testing.T) {
	gate := NewDecryptionGate(nil)

	_, err := gate.Open(context.Background(), &domain.Envelope{Mode: domain.ModeEncrypted, Subject: "x"}, "alice")
	if !errors.Is(err, domain.ErrInvalidEnvelope) {
		t.Errorf("want ErrInvalidEnvelope, got %v", err)
	}
}
