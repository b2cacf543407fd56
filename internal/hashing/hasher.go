package hashing

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"

	"github.com/zwoods58/WebApp-sub006/internal/config"
)

var (
	ErrInvalidHash         = errors.New("invalid hash format")
	ErrIncompatibleVersion = errors.New("incompatible argon2 version")
)

const pinContext = "pin"

type Argon2Params struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultParams: 64 MiB, 3 passes, 2 lanes.
var DefaultParams = Argon2Params{
	Memory:      64 * 1024,
	Iterations:  3,
	Parallelism: 2,
	SaltLength:  16,
	KeyLength:   32,
}

// Hasher hashes PINs with argon2id. Encoded hashes carry their own cost
// parameters, so changing the configuration never invalidates stored PINs.
type Hasher struct {
	params Argon2Params
	pepper string

	dummyOnce sync.Once
	dummy     string
}

func NewHasher(cfg config.HashingConfig) *Hasher {
	params := DefaultParams
	if cfg.Argon2MemoryCost > 0 {
		params.Memory = uint32(cfg.Argon2MemoryCost)
	}
	if cfg.Argon2TimeCost > 0 {
		params.Iterations = uint32(cfg.Argon2TimeCost)
	}
	if cfg.Argon2Parallelism > 0 {
		params.Parallelism = uint8(cfg.Argon2Parallelism)
	}
	return NewHasherWithParams(params, cfg.Pepper)
}

func NewHasherWithParams(params Argon2Params, pepper string) *Hasher {
	return &Hasher{params: params, pepper: pepper}
}

func (h *Hasher) Params() Argon2Params {
	return h.params
}

// HashPIN returns a PHC string:
// $argon2id$v=19$m=<KiB>,t=<iterations>,p=<parallelism>$<salt>$<hash>
func (h *Hasher) HashPIN(pin string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey(h.input(pin), salt, h.params.Iterations, h.params.Memory, h.params.Parallelism, h.params.KeyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.Memory, h.params.Iterations, h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// VerifyPIN never reports true on a malformed hash.
func (h *Hasher) VerifyPIN(encoded, candidate string) bool {
	params, salt, expected, err := decodeHash(encoded)
	if err != nil {
		return false
	}
	computed := argon2.IDKey(h.input(candidate), salt, params.Iterations, params.Memory, params.Parallelism, params.KeyLength)
	return subtle.ConstantTimeCompare(computed, expected) == 1
}

// NeedsRehash reports whether encoded was produced with weaker parameters
// than the hasher currently uses.
func (h *Hasher) NeedsRehash(encoded string) bool {
	params, _, _, err := decodeHash(encoded)
	if err != nil {
		return true
	}
	return params.Memory < h.params.Memory ||
		params.Iterations < h.params.Iterations ||
		params.KeyLength < h.params.KeyLength
}

// DummyVerify burns the same CPU and memory as a real VerifyPIN. Login calls
// it for unknown phone numbers so response time does not reveal whether an
// account exists.
func (h *Hasher) DummyVerify(candidate string) {
	h.dummyOnce.Do(func() {
		h.dummy, _ = h.HashPIN("000000")
	})
	_ = h.VerifyPIN(h.dummy, candidate)
}

func (h *Hasher) input(secret string) []byte {
	return []byte(secret + h.pepper + pinContext)
}

func decodeHash(encoded string) (Argon2Params, []byte, []byte, error) {
	var p Argon2Params

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return p, nil, nil, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return p, nil, nil, ErrInvalidHash
	}
	if version != argon2.Version {
		return p, nil, nil, ErrIncompatibleVersion
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Iterations, &p.Parallelism); err != nil {
		return p, nil, nil, ErrInvalidHash
	}
	if p.Memory == 0 || p.Iterations == 0 || p.Parallelism == 0 {
		return p, nil, nil, ErrInvalidHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return p, nil, nil, ErrInvalidHash
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return p, nil, nil, ErrInvalidHash
	}

	p.SaltLength = uint32(len(salt))
	p.KeyLength = uint32(len(key))
	return p, salt, key, nil
}
