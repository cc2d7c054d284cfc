// Package vault はクラス予約サイト認証情報の暗号化・復号を提供する。
// AES-256-GCMを使用し、暗号文ごとに独立したノンスを先頭に付与してbase64で保存する。
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// KeySize は暗号鍵の長さ（バイト）。
const KeySize = 32

var (
	// ErrInvalidKey は鍵長が不正であることを示す。
	ErrInvalidKey = errors.New("vault: key must be 32 bytes")
	// ErrMalformed は暗号文の形式が不正、または改ざんされていることを示す。
	ErrMalformed = errors.New("vault: malformed ciphertext")
)

// Vault は対称鍵による暗号化器。
type Vault struct {
	aead   cipher.AEAD
	random io.Reader
}

// New は32バイトの鍵からVaultを生成する。
func New(key []byte) (*Vault, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to create GCM: %w", err)
	}
	return &Vault{aead: aead, random: rand.Reader}, nil
}

// Encrypt は平文を暗号化し、base64(nonce || ciphertext || tag) を返す。
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(v.random, nonce); err != nil {
		return "", fmt.Errorf("vault: failed to generate nonce: %w", err)
	}
	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt はEncryptの出力を復号する。
func (v *Vault) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrMalformed
	}
	n := v.aead.NonceSize()
	if len(raw) < n+v.aead.Overhead() {
		return "", ErrMalformed
	}
	plain, err := v.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return "", ErrMalformed
	}
	return string(plain), nil
}
