// Package pgp はOpenPGPによる鍵ペア生成と複数宛先暗号化を提供する。
// 状態を持たず、鍵の保管は呼び出し側の責務とする。
package pgp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
)

const messageType = "PGP MESSAGE"

var (
	// ErrInvalidKey は鍵データを解析できない場合のエラー。
	ErrInvalidKey = errors.New("invalid openpgp key")

	// ErrNoRecipients は暗号化対象の鍵が1つもない場合のエラー。
	ErrNoRecipients = errors.New("no recipients")

	// ErrDecrypt は復号に失敗した場合のエラー。宛先外の鍵と破損を区別しない。
	ErrDecrypt = errors.New("openpgp decryption failed")
)

// Profile は生成する鍵の方式を表す。
type Profile struct {
	Algorithm string // "rsa" または "curve25519"
	RSABits   int
}

// DefaultProfile は長期保存向けのRSA-4096プロファイル。
var DefaultProfile = Profile{Algorithm: "rsa", RSABits: 4096}

func (p Profile) config() (*packet.Config, error) {
	switch p.Algorithm {
	case "", "rsa":
		bits := p.RSABits
		if bits == 0 {
			bits = DefaultProfile.RSABits
		}
		return &packet.Config{Algorithm: packet.PubKeyAlgoRSA, RSABits: bits}, nil
	case "curve25519":
		return &packet.Config{Algorithm: packet.PubKeyAlgoEdDSA, Curve: packet.Curve25519}, nil
	default:
		return nil, fmt.Errorf("unsupported key algorithm %q", p.Algorithm)
	}
}

// KeyPair は生成された鍵ペアを表す。
type KeyPair struct {
	PublicKey   string // アーマー形式
	PrivateKey  []byte // バイナリ形式の秘密鍵（未暗号化）
	Fingerprint string
}

// GenerateKeyPair は識別情報に結び付いた新しい鍵ペアを生成する。CPU負荷が高い。
func GenerateKeyPair(name, email string, profile Profile) (*KeyPair, error) {
	cfg, err := profile.config()
	if err != nil {
		return nil, err
	}

	entity, err := openpgp.NewEntity(name, "", email, cfg)
	if err != nil {
		return nil, fmt.Errorf("generating entity: %w", err)
	}

	var pub bytes.Buffer
	w, err := armor.Encode(&pub, openpgp.PublicKeyType, nil)
	if err != nil {
		return nil, fmt.Errorf("armoring public key: %w", err)
	}
	if err := entity.Serialize(w); err != nil {
		return nil, fmt.Errorf("serializing public key: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("armoring public key: %w", err)
	}

	var priv bytes.Buffer
	if err := entity.SerializePrivate(&priv, nil); err != nil {
		return nil, fmt.Errorf("serializing private key: %w", err)
	}

	return &KeyPair{
		PublicKey:   pub.String(),
		PrivateKey:  priv.Bytes(),
		Fingerprint: fingerprintOf(entity),
	}, nil
}

// Fingerprint はアーマー形式の公開鍵からフィンガープリントを導出する。
func Fingerprint(armoredPublicKey string) (string, error) {
	entity, err := readArmoredEntity(armoredPublicKey)
	if err != nil {
		return "", err
	}
	return fingerprintOf(entity), nil
}

// PrivateKeyFingerprint は秘密鍵に対応する公開鍵のフィンガープリントを導出する。
func PrivateKeyFingerprint(privateKey []byte) (string, error) {
	entity, err := readPrivateEntity(privateKey)
	if err != nil {
		return "", err
	}
	return fingerprintOf(entity), nil
}

// Encrypt は平文を全ての公開鍵に対して一度に暗号化し、アーマー形式で返す。
func Encrypt(plaintext []byte, armoredPublicKeys []string) (string, error) {
	if len(armoredPublicKeys) == 0 {
		return "", ErrNoRecipients
	}

	recipients := make([]*openpgp.Entity, 0, len(armoredPublicKeys))
	for _, k := range armoredPublicKeys {
		entity, err := readArmoredEntity(k)
		if err != nil {
			return "", err
		}
		recipients = append(recipients, entity)
	}

	var buf bytes.Buffer
	aw, err := armor.Encode(&buf, messageType, nil)
	if err != nil {
		return "", fmt.Errorf("armoring message: %w", err)
	}
	pw, err := openpgp.Encrypt(aw, recipients, nil, &openpgp.FileHints{IsBinary: true}, nil)
	if err != nil {
		return "", fmt.Errorf("encrypting: %w", err)
	}
	if _, err := pw.Write(plaintext); err != nil {
		return "", fmt.Errorf("encrypting: %w", err)
	}
	if err := pw.Close(); err != nil {
		return "", fmt.Errorf("encrypting: %w", err)
	}
	if err := aw.Close(); err != nil {
		return "", fmt.Errorf("armoring message: %w", err)
	}
	return buf.String(), nil
}

// Decrypt はアーマー形式の暗号文を秘密鍵で復号する。
func Decrypt(armoredMessage string, privateKey []byte) ([]byte, error) {
	entity, err := readPrivateEntity(privateKey)
	if err != nil {
		return nil, err
	}

	block, err := armor.Decode(strings.NewReader(armoredMessage))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	if block.Type != messageType {
		return nil, fmt.Errorf("%w: unexpected armor type %q", ErrDecrypt, block.Type)
	}

	md, err := openpgp.ReadMessage(block.Body, openpgp.EntityList{entity}, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	plaintext, err := io.ReadAll(md.UnverifiedBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plaintext, nil
}

// Wipe は鍵素材をゼロで上書きする。
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func readArmoredEntity(armored string) (*openpgp.Entity, error) {
	list, err := openpgp.ReadArmoredKeyRing(strings.NewReader(armored))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(list) != 1 {
		return nil, fmt.Errorf("%w: expected 1 entity, got %d", ErrInvalidKey, len(list))
	}
	return list[0], nil
}

func readPrivateEntity(privateKey []byte) (*openpgp.Entity, error) {
	list, err := openpgp.ReadKeyRing(bytes.NewReader(privateKey))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(list) != 1 || list[0].PrivateKey == nil {
		return nil, fmt.Errorf("%w: expected a single private key", ErrInvalidKey)
	}
	return list[0], nil
}

func fingerprintOf(e *openpgp.Entity) string {
	return fmt.Sprintf("%X", e.PrimaryKey.Fingerprint)
}
