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

// Package vault caches per-cluster administrator bind passwords encrypted at
// rest. Records expire after a TTL; the encryption key is generated on first
// use and lives next to the records with owner-only permissions. Plaintext is
// never written to disk.
package vault

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/dirwarden/dirwarden/server/definitions"
	srverrors "github.com/dirwarden/dirwarden/server/errors"
	"github.com/dirwarden/dirwarden/server/log"
	"github.com/dirwarden/dirwarden/server/util/crypto"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/sync/singleflight"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// credentialRecord is the on-disk shape of a cached credential.
type credentialRecord struct {
	Version    int    `json:"v"`
	Ciphertext string `json:"ct"`
	CreatedAt  int64  `json:"created_at"`
	TTL        int64  `json:"ttl"`
}

// Status describes a cached credential without decrypting it.
type Status struct {
	Cached     bool  `json:"cached"`
	Expired    bool  `json:"expired"`
	AgeSeconds int64 `json:"age_seconds"`
	TTL        int64 `json:"ttl"`
}

// Vault stores one encrypted credential per cluster below a secrets
// directory. It is safe for concurrent use: writers go through atomic
// renames, readers only ever observe complete records.
type Vault struct {
	dir    string
	ttl    time.Duration
	logger *slog.Logger

	key      []byte
	keyGroup singleflight.Group

	// now is swapped out by tests to control TTL expiry.
	now func() time.Time
}

// New prepares the secrets directory and loads or creates the encryption key.
func New(dir string, ttl time.Duration, logger *slog.Logger) (*Vault, error) {
	if ttl <= 0 {
		ttl = definitions.DefaultCredentialTTL
	}

	v := &Vault{
		dir:    dir,
		ttl:    ttl,
		logger: log.GetLogger(logger),
		now:    time.Now,
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create secrets dir %s: %w", dir, err)
	}

	v.warnOnWeakPermissions()

	key, err := v.loadOrCreateKey()
	if err != nil {
		return nil, err
	}

	v.key = key

	return v, nil
}

// warnOnWeakPermissions notes when the host cannot express POSIX file modes.
func (v *Vault) warnOnWeakPermissions() {
	if runtime.GOOS == "windows" {
		v.logger.Warn("secrets directory permissions rely on NTFS ACL inheritance, not POSIX modes",
			"dir", v.dir)
	}
}

// loadOrCreateKey reads the key file or generates it once. Concurrent
// creators are collapsed by singleflight; losers of the create race fall back
// to reading the winner's file.
func (v *Vault) loadOrCreateKey() ([]byte, error) {
	keyPath := filepath.Join(v.dir, definitions.VaultKeyFile)

	result, err, _ := v.keyGroup.Do(keyPath, func() (any, error) {
		if material, readErr := os.ReadFile(keyPath); readErr == nil {
			return material, nil
		}

		material, genErr := crypto.NewKey()
		if genErr != nil {
			return nil, genErr
		}

		file, openErr := os.OpenFile(keyPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if openErr != nil {
			if os.IsExist(openErr) {
				// Another process won the create race; use its key.
				return os.ReadFile(keyPath)
			}

			return nil, openErr
		}

		defer file.Close()

		if _, writeErr := file.Write(material); writeErr != nil {
			return nil, writeErr
		}

		return material, nil
	})

	if err != nil {
		return nil, fmt.Errorf("%w: %v", srverrors.ErrVaultStorage, err)
	}

	return result.([]byte), nil
}

// credentialPath maps a cluster name to its record file.
func (v *Vault) credentialPath(cluster string) string {
	sanitized := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(cluster)

	return filepath.Join(v.dir, sanitized+definitions.CredentialSuffix)
}

// Store encrypts plaintext and writes the record atomically. Transient I/O
// failures are retried once before surfacing a storage error.
func (v *Vault) Store(cluster string, plaintext string) error {
	ciphertext, err := crypto.EncryptString(plaintext, v.key)
	if err != nil {
		return fmt.Errorf("%w: %v", srverrors.ErrVaultStorage, err)
	}

	record := credentialRecord{
		Version:    definitions.CredentialVersion,
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		CreatedAt:  v.now().Unix(),
		TTL:        int64(v.ttl / time.Second),
	}

	payload, err := json.Marshal(&record)
	if err != nil {
		return fmt.Errorf("%w: %v", srverrors.ErrVaultStorage, err)
	}

	if err = v.writeAtomic(v.credentialPath(cluster), payload); err != nil {
		// One local retry for transient storage failures.
		if err = v.writeAtomic(v.credentialPath(cluster), payload); err != nil {
			return fmt.Errorf("%w: %v", srverrors.ErrVaultStorage, err)
		}
	}

	v.logger.Info("credential cached",
		definitions.LogKeyCluster, cluster,
		"ttl_s", record.TTL)

	return nil
}

// writeAtomic writes payload to a same-directory temp file and renames it
// over the target so readers never observe partial records.
func (v *Vault) writeAtomic(path string, payload []byte) error {
	tmp, err := os.CreateTemp(v.dir, ".cred-*")
	if err != nil {
		return err
	}

	tmpName := tmp.Name()

	defer os.Remove(tmpName)

	if err = tmp.Chmod(0o600); err != nil {
		tmp.Close()

		return err
	}

	if _, err = tmp.Write(payload); err != nil {
		tmp.Close()

		return err
	}

	if err = tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Load returns the decrypted credential for a cluster. Expired records are
// removed and reported as absent. Records that fail to decrypt (tampering,
// rotated key) are discarded with a warning and reported as absent.
func (v *Vault) Load(cluster string) (string, error) {
	path := v.credentialPath(cluster)

	payload, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", srverrors.ErrCredentialAbsent
		}

		// One local retry for transient storage failures.
		if payload, err = os.ReadFile(path); err != nil {
			return "", fmt.Errorf("%w: %v", srverrors.ErrVaultStorage, err)
		}
	}

	var record credentialRecord

	if err = json.Unmarshal(payload, &record); err != nil {
		v.discardCorrupt(cluster, path, err)

		return "", srverrors.ErrCredentialAbsent
	}

	age := v.now().Unix() - record.CreatedAt
	if age >= record.TTL {
		v.logger.Info("credential expired",
			definitions.LogKeyCluster, cluster,
			"age_s", age,
			"ttl_s", record.TTL)

		_ = os.Remove(path)

		return "", srverrors.ErrCredentialAbsent
	}

	ciphertext, err := base64.StdEncoding.DecodeString(record.Ciphertext)
	if err != nil {
		v.discardCorrupt(cluster, path, err)

		return "", srverrors.ErrCredentialAbsent
	}

	plaintext, err := crypto.DecryptString(ciphertext, v.key)
	if err != nil {
		v.discardCorrupt(cluster, path, err)

		return "", srverrors.ErrCredentialAbsent
	}

	return plaintext, nil
}

// discardCorrupt removes an unreadable record so it cannot wedge the cache.
func (v *Vault) discardCorrupt(cluster string, path string, cause error) {
	v.logger.Warn("discarding unreadable credential record",
		definitions.LogKeyCluster, cluster,
		definitions.LogKeyError, cause.Error())

	_ = os.Remove(path)
}

// Clear removes the cached credential for a cluster.
func (v *Vault) Clear(cluster string) {
	if err := os.Remove(v.credentialPath(cluster)); err != nil && !os.IsNotExist(err) {
		v.logger.Warn("failed to clear credential",
			definitions.LogKeyCluster, cluster,
			definitions.LogKeyError, err.Error())
	}
}

// Present reports whether a live (non-expired, decryptable) credential exists.
func (v *Vault) Present(cluster string) bool {
	_, err := v.Load(cluster)

	return err == nil
}

// GetStatus inspects the record without decrypting the secret.
func (v *Vault) GetStatus(cluster string) Status {
	payload, err := os.ReadFile(v.credentialPath(cluster))
	if err != nil {
		return Status{}
	}

	var record credentialRecord

	if err = json.Unmarshal(payload, &record); err != nil {
		return Status{Cached: true, Expired: true}
	}

	age := v.now().Unix() - record.CreatedAt

	return Status{
		Cached:     true,
		Expired:    age >= record.TTL,
		AgeSeconds: age,
		TTL:        record.TTL,
	}
}

// Healthy reports whether the secrets directory is readable.
func (v *Vault) Healthy() bool {
	_, err := os.Stat(v.dir)

	return err == nil
}

// ErrIsAbsent reports whether err means "no usable credential" as opposed to
// a storage failure.
func ErrIsAbsent(err error) bool {
	return errors.Is(err, srverrors.ErrCredentialAbsent)
}
