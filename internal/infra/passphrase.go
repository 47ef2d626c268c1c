package infra

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// 封印データのフォーマット: version (1B) || nonce (24B) || ciphertext
	// v1 は secretbox で関連データを持たない。読み出しのみ対応する。
	// v2 は XChaCha20-Poly1305 で関連データを認証する。
	sealVersionSecretbox byte = 1
	sealVersion          byte = 2
	sealNonceSize             = 24
	sealOverhead              = 16

	// Argon2idのパラメータ
	argon2Time    = 3
	argon2Memory  = 64 * 1024 // 64 MB
	argon2Threads = 4
	argon2KeyLen  = 32
)

// ErrSealedDataInvalid は封印データを開封できない場合のエラー。
var ErrSealedDataInvalid = errors.New("sealed data invalid")

// PassphraseSealer はマスターパスフレーズから導出した鍵で秘密鍵を封印する。
// 導出鍵はmemguardのEnclaveに保持し、パスフレーズ自体は保持しない。
type PassphraseSealer struct {
	key *memguard.Enclave
}

// NewPassphraseSealer はパスフレーズとソルトからArgon2idで鍵を導出してシーラーを生成する。
func NewPassphraseSealer(passphrase, salt string) (*PassphraseSealer, error) {
	if passphrase == "" {
		return nil, errors.New("master passphrase is empty")
	}
	if salt == "" {
		return nil, errors.New("kdf salt is empty")
	}

	pass := []byte(passphrase)
	derived := argon2.IDKey(pass, []byte(salt), argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	memguard.WipeBytes(pass)

	// NewEnclaveは元のバッファを消去する
	return &PassphraseSealer{key: memguard.NewEnclave(derived)}, nil
}

// Name はバックエンド名を返す。
func (s *PassphraseSealer) Name() string {
	return "passphrase"
}

// Encrypt は平文を関連データに結びつけて封印する。
func (s *PassphraseSealer) Encrypt(_ context.Context, plaintext, aad []byte) ([]byte, error) {
	buf, err := s.key.Open()
	if err != nil {
		return nil, fmt.Errorf("opening key enclave: %w", err)
	}
	defer buf.Destroy()

	aead, err := chacha20poly1305.NewX(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("initializing cipher: %w", err)
	}

	nonce := make([]byte, sealNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	out := make([]byte, 0, 1+sealNonceSize+len(plaintext)+sealOverhead)
	out = append(out, sealVersion)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, aad), nil
}

// Decrypt は封印データを開封する。v2 では封印時と同じ関連データが必要。
func (s *PassphraseSealer) Decrypt(_ context.Context, sealed, aad []byte) ([]byte, error) {
	if len(sealed) < 1+sealNonceSize+sealOverhead {
		return nil, fmt.Errorf("%w: too short", ErrSealedDataInvalid)
	}
	version := sealed[0]
	if version != sealVersion && version != sealVersionSecretbox {
		return nil, fmt.Errorf("%w: unknown version %d", ErrSealedDataInvalid, version)
	}

	buf, err := s.key.Open()
	if err != nil {
		return nil, fmt.Errorf("opening key enclave: %w", err)
	}
	defer buf.Destroy()

	nonce := sealed[1 : 1+sealNonceSize]
	body := sealed[1+sealNonceSize:]

	if version == sealVersionSecretbox {
		var n [sealNonceSize]byte
		copy(n[:], nonce)
		plaintext, ok := secretbox.Open(nil, body, &n, buf.ByteArray32())
		if !ok {
			return nil, fmt.Errorf("%w: authentication failed", ErrSealedDataInvalid)
		}
		return plaintext, nil
	}

	aead, err := chacha20poly1305.NewX(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("initializing cipher: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce, body, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed", ErrSealedDataInvalid)
	}
	return plaintext, nil
}

// Close は何もしない。Enclaveはプロセス終了時にmemguardが破棄する。
func (s *PassphraseSealer) Close() error {
	return nil
}
