package encryption

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zwoods58/WebApp-sub006/internal/config"
)

const purpose = "backup_email"

func newLocal(t *testing.T) *EncryptionManager {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	em, err := NewEncryptionManager(config.KMSConfig{MasterKey: base64.StdEncoding.EncodeToString(key)}, nil, true, zap.NewNop())
	require.NoError(t, err)
	return em
}

func TestLocalRoundTrip(t *testing.T) {
	ctx := context.Background()
	em := newLocal(t)

	encoded, err := em.EncryptString(ctx, "jane@example.com", purpose)
	require.NoError(t, err)
	assert.NotContains(t, encoded, "jane@example.com")

	em.ClearCache()
	assert.Equal(t, 0, em.GetCacheSize())

	got, err := em.DecryptString(ctx, encoded, purpose)
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", got)
	assert.Equal(t, 1, em.GetCacheSize())
}

func TestDecryptWrongPurpose(t *testing.T) {
	ctx := context.Background()
	em := newLocal(t)

	encoded, err := em.EncryptString(ctx, "jane@example.com", purpose)
	require.NoError(t, err)

	_, err = em.DecryptString(ctx, encoded, "other")
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestDecryptWithDifferentMasterKey(t *testing.T) {
	ctx := context.Background()
	encoded, err := newLocal(t).EncryptString(ctx, "jane@example.com", purpose)
	require.NoError(t, err)

	_, err = newLocal(t).DecryptString(ctx, encoded, purpose)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestNewEncryptionManagerKeySources(t *testing.T) {
	_, err := NewEncryptionManager(config.KMSConfig{MasterKey: "c2hvcnQ="}, nil, false, zap.NewNop())
	assert.Error(t, err)

	_, err = NewEncryptionManager(config.KMSConfig{}, nil, true, zap.NewNop())
	assert.Error(t, err)

	em, err := NewEncryptionManager(config.KMSConfig{}, nil, false, zap.NewNop())
	require.NoError(t, err)
	assert.Len(t, em.masterKey, 32)

	_, err = NewEncryptionManager(config.KMSConfig{Enabled: true, KeyID: "k"}, nil, false, zap.NewNop())
	assert.Error(t, err)
}

// fakeKMS "wraps" keys by reversing them.
type fakeKMS struct {
	decrypts int
	fail     bool
}

func (f *fakeKMS) GenerateDataKey(_ context.Context, in *kms.GenerateDataKeyInput, _ ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error) {
	if f.fail {
		return nil, errors.New("kms down")
	}
	key := make([]byte, 32)
	_, _ = rand.Read(key)
	return &kms.GenerateDataKeyOutput{Plaintext: key, CiphertextBlob: reverse(key), KeyId: in.KeyId}, nil
}

func (f *fakeKMS) Decrypt(_ context.Context, in *kms.DecryptInput, _ ...func(*kms.Options)) (*kms.DecryptOutput, error) {
	f.decrypts++
	return &kms.DecryptOutput{Plaintext: reverse(in.CiphertextBlob)}, nil
}

func reverse(b []byte) []byte {
	out := bytes.Clone(b)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func TestKMSRoundTrip(t *testing.T) {
	ctx := context.Background()
	fake := &fakeKMS{}
	em, err := NewEncryptionManager(config.KMSConfig{Enabled: true, KeyID: "alias/auth"}, fake, true, zap.NewNop())
	require.NoError(t, err)

	data, err := em.EncryptField(ctx, "jane@example.com", purpose)
	require.NoError(t, err)
	assert.Equal(t, "alias/auth", data.KeyID)

	em.ClearCache()
	got, err := em.DecryptField(ctx, data, purpose)
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", got)
	assert.Equal(t, 1, fake.decrypts)

	_, err = em.DecryptField(ctx, data, purpose)
	require.NoError(t, err)
	assert.Equal(t, 1, fake.decrypts, "second decrypt should hit the DEK cache")
}

func TestKMSFailure(t *testing.T) {
	em, err := NewEncryptionManager(config.KMSConfig{Enabled: true, KeyID: "k"}, &fakeKMS{fail: true}, false, zap.NewNop())
	require.NoError(t, err)
	_, err = em.EncryptString(context.Background(), "x", purpose)
	assert.Error(t, err)
}
