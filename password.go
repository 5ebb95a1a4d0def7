package accounts

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const (
	AlgorithmArgon2id = "argon2id"
	AlgorithmBcrypt   = "bcrypt"
)

// Hasher is the one-way password primitive. Verify returns
// ErrMismatchedHashAndPassword when the password does not match.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, hash string) error
	Algorithm() string
}

// NewHasher returns the hasher for the given algorithm name
func NewHasher(algorithm string) (Hasher, error) {
	switch strings.ToLower(algorithm) {
	case "", AlgorithmArgon2id:
		return NewArgon2Hasher(DefaultArgon2Params()), nil
	case AlgorithmBcrypt:
		return NewBcryptHasher(bcrypt.DefaultCost), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedHash, algorithm)
	}
}

// Argon2Params are the argon2id cost parameters
type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2Params returns 64 MiB, 3 passes, 2 lanes
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Argon2Hasher produces PHC formatted argon2id hashes:
// $argon2id$v=19$m=65536,t=3,p=2$<salt>$<key>
type Argon2Hasher struct {
	params Argon2Params
}

func NewArgon2Hasher(params Argon2Params) *Argon2Hasher {
	def := DefaultArgon2Params()
	if params.Memory == 0 {
		params.Memory = def.Memory
	}
	if params.Iterations == 0 {
		params.Iterations = def.Iterations
	}
	if params.Parallelism == 0 {
		params.Parallelism = def.Parallelism
	}
	if params.SaltLength == 0 {
		params.SaltLength = def.SaltLength
	}
	if params.KeyLength == 0 {
		params.KeyLength = def.KeyLength
	}
	return &Argon2Hasher{params: params}
}

func (h *Argon2Hasher) Algorithm() string { return AlgorithmArgon2id }

func (h *Argon2Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrNoEmptyString
	}

	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read password salt")
	}

	p := h.params
	key := argon2.IDKey([]byte(password), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)

	b64 := base64.RawStdEncoding
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		p.Memory,
		p.Iterations,
		p.Parallelism,
		b64.EncodeToString(salt),
		b64.EncodeToString(key),
	), nil
}

func (h *Argon2Hasher) Verify(password, hash string) error {
	p, salt, key, err := parseArgon2idHash(hash)
	if err != nil {
		return err
	}

	other := argon2.IDKey([]byte(password), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)
	if subtle.ConstantTimeCompare(key, other) != 1 {
		return ErrMismatchedHashAndPassword
	}
	return nil
}

func parseArgon2idHash(hash string) (Argon2Params, []byte, []byte, error) {
	parts := strings.Split(hash, "$")
	if len(parts) != 6 || parts[1] != AlgorithmArgon2id {
		return Argon2Params{}, nil, nil, fmt.Errorf("%w: invalid argon2id hash format", ErrUnsupportedHash)
	}
	if parts[2] != fmt.Sprintf("v=%d", argon2.Version) {
		return Argon2Params{}, nil, nil, fmt.Errorf("%w: unsupported argon2 version", ErrUnsupportedHash)
	}

	var p Argon2Params
	for _, kv := range strings.Split(parts[3], ",") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return Argon2Params{}, nil, nil, fmt.Errorf("%w: invalid argon2 params", ErrUnsupportedHash)
		}
		var bits int
		switch k {
		case "m", "t":
			bits = 32
		case "p":
			bits = 8
		default:
			return Argon2Params{}, nil, nil, fmt.Errorf("%w: unknown argon2 param %q", ErrUnsupportedHash, k)
		}
		n, err := strconv.ParseUint(v, 10, bits)
		if err != nil {
			return Argon2Params{}, nil, nil, fmt.Errorf("%w: invalid argon2 param %q", ErrUnsupportedHash, k)
		}
		switch k {
		case "m":
			p.Memory = uint32(n)
		case "t":
			p.Iterations = uint32(n)
		case "p":
			p.Parallelism = uint8(n)
		}
	}

	b64 := base64.RawStdEncoding
	salt, err := b64.DecodeString(parts[4])
	if err != nil {
		return Argon2Params{}, nil, nil, fmt.Errorf("%w: invalid argon2 salt", ErrUnsupportedHash)
	}
	key, err := b64.DecodeString(parts[5])
	if err != nil {
		return Argon2Params{}, nil, nil, fmt.Errorf("%w: invalid argon2 key", ErrUnsupportedHash)
	}
	p.SaltLength = uint32(len(salt))
	p.KeyLength = uint32(len(key))
	if p.SaltLength == 0 || p.KeyLength == 0 {
		return Argon2Params{}, nil, nil, fmt.Errorf("%w: empty argon2 salt or key", ErrUnsupportedHash)
	}

	return p, salt, key, nil
}

// BcryptHasher wraps golang.org/x/crypto/bcrypt
type BcryptHasher struct {
	cost int
}

func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

func (h *BcryptHasher) Algorithm() string { return AlgorithmBcrypt }

func (h *BcryptHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrNoEmptyString
	}

	b, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}
	return string(b), nil
}

func (h *BcryptHasher) Verify(password, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrMismatchedHashAndPassword
		}
		return fmt.Errorf("%w: %v", ErrUnsupportedHash, err)
	}
	return nil
}

// ComparePasswordAndHash picks the hasher from the hash prefix, so accounts
// keep authenticating after the configured algorithm changes. Empty and
// unusable hashes never match.
func ComparePasswordAndHash(password, hash string) error {
	switch {
	case hash == "" || strings.HasPrefix(hash, UnusablePassword):
		return ErrMismatchedHashAndPassword
	case strings.HasPrefix(hash, "$"+AlgorithmArgon2id+"$"):
		return (&Argon2Hasher{}).Verify(password, hash)
	case strings.HasPrefix(hash, "$2"):
		return (&BcryptHasher{}).Verify(password, hash)
	default:
		return ErrUnsupportedHash
	}
}

// NeedsRehash is true when hash was produced by a different algorithm than h
func NeedsRehash(h Hasher, hash string) bool {
	if h == nil || hash == "" || strings.HasPrefix(hash, UnusablePassword) {
		return false
	}
	switch h.Algorithm() {
	case AlgorithmArgon2id:
		return !strings.HasPrefix(hash, "$"+AlgorithmArgon2id+"$")
	case AlgorithmBcrypt:
		return !strings.HasPrefix(hash, "$2")
	}
	return false
}
