// Copyright (C) 2025 Christian Rößner
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrInvalidKeySize = errors.New("crypto: invalid key size")
	ErrDecryption     = errors.New("crypto: decryption failed")
)

// KeySize is the raw key length expected by NewKey, Encrypt and Decrypt.
const KeySize = chacha20poly1305.KeySize

// NewKey generates fresh random key material.
func NewKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}

	return key, nil
}

// NormalizeKey accepts arbitrary key material and returns a usable key.
// Exact-size keys pass through; everything else is compressed via SHA-256 so a
// truncated or oversized key file fails decryption instead of startup.
func NormalizeKey(material []byte) []byte {
	if len(material) == KeySize {
		return material
	}

	hash := sha256.Sum256(material)

	return hash[:]
}

// Encrypt seals data using ChaCha20-Poly1305. The nonce is prepended to the
// returned ciphertext.
func Encrypt(data []byte, key []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(NormalizeKey(key))
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	// Seal appends the ciphertext and tag to the nonce.
	return aead.Seal(nonce, nonce, data, nil), nil
}

// Decrypt opens a nonce-prefixed ciphertext produced by Encrypt.
func Decrypt(data []byte, key []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(NormalizeKey(key))
	if err != nil {
		return nil, err
	}

	nonceSize := aead.NonceSize()
	if len(data) < nonceSize {
		return nil, ErrDecryption
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryption
	}

	return plaintext, nil
}

// EncryptString encrypts a string and returns the sealed bytes.
func EncryptString(plaintext string, key []byte) ([]byte, error) {
	return Encrypt([]byte(plaintext), key)
}

// DecryptString decrypts sealed bytes back into a string.
func DecryptString(ciphertext []byte, key []byte) (string, error) {
	plaintext, err := Decrypt(ciphertext, key)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}
