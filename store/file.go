package store

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"

	"github.com/appfold/sessionbridge/errors"
)

const (
	fileMagic = "SBCS1"
	saltSize  = 16
)

// FileStore is a CredentialStore backed by a single encrypted file. The
// content key is derived from a caller-supplied device secret with scrypt
// and the payload is sealed with XChaCha20-Poly1305. Writes replace the file
// atomically.
//
// On mobile targets the device secret comes from the OS keystore; the file
// itself never contains enough to decrypt without it.
type FileStore struct {
	mu     sync.Mutex
	path   string
	secret []byte
}

// NewFileStore creates a file-backed store at path, sealed with secret.
func NewFileStore(path string, secret []byte) *FileStore {
	s := &FileStore{path: path, secret: make([]byte, len(secret))}
	copy(s.secret, secret)
	return s
}

func (s *FileStore) deriveKey(salt []byte) ([]byte, error) {
	return scrypt.Key(s.secret, salt, 1<<15, 8, 1, chacha20poly1305.KeySize)
}

func (s *FileStore) load() (map[Key]string, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[Key]string), nil
		}
		return nil, errors.Wrapf(errors.ErrStorageUnavailable, "read %s: %v", s.path, err)
	}

	headerLen := len(fileMagic) + saltSize + chacha20poly1305.NonceSizeX
	if len(raw) < headerLen || string(raw[:len(fileMagic)]) != fileMagic {
		return nil, errors.Wrapf(errors.ErrStorageUnavailable, "corrupt store file %s", s.path)
	}

	salt := raw[len(fileMagic) : len(fileMagic)+saltSize]
	nonce := raw[len(fileMagic)+saltSize : headerLen]
	sealed := raw[headerLen:]

	key, err := s.deriveKey(salt)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrStorageUnavailable, "derive key: %v", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrStorageUnavailable, "init cipher: %v", err)
	}
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrStorageUnavailable, "decrypt %s: %v", s.path, err)
	}

	values := make(map[Key]string)
	if err := json.Unmarshal(plain, &values); err != nil {
		return nil, errors.Wrapf(errors.ErrStorageUnavailable, "decode %s: %v", s.path, err)
	}
	return values, nil
}

func (s *FileStore) save(values map[Key]string) error {
	plain, err := json.Marshal(values)
	if err != nil {
		return errors.Wrapf(errors.ErrStorageUnavailable, "encode: %v", err)
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return errors.Wrapf(errors.ErrStorageUnavailable, "salt: %v", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return errors.Wrapf(errors.ErrStorageUnavailable, "nonce: %v", err)
	}

	key, err := s.deriveKey(salt)
	if err != nil {
		return errors.Wrapf(errors.ErrStorageUnavailable, "derive key: %v", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return errors.Wrapf(errors.ErrStorageUnavailable, "init cipher: %v", err)
	}

	out := make([]byte, 0, len(fileMagic)+saltSize+len(nonce)+len(plain)+aead.Overhead())
	out = append(out, fileMagic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, plain, nil)

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".sbcs-*")
	if err != nil {
		return errors.Wrapf(errors.ErrStorageUnavailable, "temp file: %v", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrapf(errors.ErrStorageUnavailable, "write: %v", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(errors.ErrStorageUnavailable, "close: %v", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(errors.ErrStorageUnavailable, "rename: %v", err)
	}
	return nil
}

// Get implements CredentialStore.Get.
func (s *FileStore) Get(_ context.Context, key Key) (string, error) {
	if !key.Valid() {
		return "", errors.NewValidationError("key", string(key))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return "", err
	}
	value, ok := values[key]
	if !ok {
		return "", errors.ErrNotFound
	}
	return value, nil
}

// Set implements CredentialStore.Set.
func (s *FileStore) Set(_ context.Context, key Key, value string) error {
	if !key.Valid() {
		return errors.NewValidationError("key", string(key))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return err
	}
	values[key] = value
	return s.save(values)
}

// Delete implements CredentialStore.Delete.
func (s *FileStore) Delete(_ context.Context, key Key) error {
	if !key.Valid() {
		return errors.NewValidationError("key", string(key))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return nil
	}
	delete(values, key)
	return s.save(values)
}
