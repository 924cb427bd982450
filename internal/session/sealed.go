package session

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"

	"github.com/google/tink/go/aead"
	"github.com/google/tink/go/insecurecleartextkeyset"
	"github.com/google/tink/go/keyset"
	"github.com/google/tink/go/tink"
)

// sessionAAD binds ciphertexts to their purpose
var sessionAAD = []byte("kling-batcher/session")

// SealedStore encrypts the session blob with a tink AEAD before handing it
// to the wrapped store. The blob holds live login cookies.
type SealedStore struct {
	inner Store
	aead  tink.AEAD
}

// NewSealedStore wraps inner with the given primitive
func NewSealedStore(inner Store, primitive tink.AEAD) *SealedStore {
	return &SealedStore{inner: inner, aead: primitive}
}

// NewSealedStoreFromKeyset wraps inner using a base64 encoded cleartext
// binary keyset.
func NewSealedStoreFromKeyset(inner Store, keysetB64 string) (*SealedStore, error) {
	raw, err := base64.StdEncoding.DecodeString(keysetB64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode session keyset: %w", err)
	}
	handle, err := insecurecleartextkeyset.Read(keyset.NewBinaryReader(bytes.NewReader(raw)))
	if err != nil {
		return nil, fmt.Errorf("failed to read session keyset: %w", err)
	}
	primitive, err := aead.New(handle)
	if err != nil {
		return nil, fmt.Errorf("failed to create AEAD primitive: %w", err)
	}
	return NewSealedStore(inner, primitive), nil
}

// GenerateKeyset creates a fresh AES256-GCM keyset encoded for SESSION_KEYSET_B64
func GenerateKeyset() (string, error) {
	handle, err := keyset.NewHandle(aead.AES256GCMKeyTemplate())
	if err != nil {
		return "", fmt.Errorf("failed to generate keyset: %w", err)
	}
	var buf bytes.Buffer
	if err := insecurecleartextkeyset.Write(handle, keyset.NewBinaryWriter(&buf)); err != nil {
		return "", fmt.Errorf("failed to serialize keyset: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func (s *SealedStore) Load(ctx context.Context) ([]byte, error) {
	sealed, err := s.inner.Load(ctx)
	if err != nil {
		return nil, err
	}
	blob, err := s.aead.Decrypt(sealed, sessionAAD)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt session: %w", err)
	}
	return blob, nil
}

func (s *SealedStore) Save(ctx context.Context, blob []byte) error {
	sealed, err := s.aead.Encrypt(blob, sessionAAD)
	if err != nil {
		return fmt.Errorf("failed to encrypt session: %w", err)
	}
	return s.inner.Save(ctx, sealed)
}

func (s *SealedStore) Delete(ctx context.Context) error {
	return s.inner.Delete(ctx)
}

func (s *SealedStore) Exists(ctx context.Context) (bool, error) {
	return s.inner.Exists(ctx)
}
