package keyring

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"authgrid.org/internal/ids"
	"authgrid.org/internal/obs"
)

const (
	defaultKeyBits          = 2048
	defaultGraceWindow      = time.Hour
	defaultMaxTokenLifetime = 15 * time.Minute
)

// ErrNoActiveKey means the keyring holds no signing key. This is a fatal
// operational state; the process must not serve traffic.
var ErrNoActiveKey = errors.New("keyring: no active signing key")

// Keyring owns the signing keypairs. It is a process-wide singleton,
// constructed once at startup and injected into the issuer and verifier.
// Reads are lock-cheap; Rotate is a rare exclusive event.
type Keyring struct {
	mu       sync.RWMutex
	active   *Key
	retiring map[string]*Key

	rotateMu sync.Mutex // serializes Rotate/Sweep without blocking readers

	store    Store
	grace    time.Duration
	tokenTTL time.Duration
	keyBits  int
	now      func() time.Time
}

// Option configures the keyring.
type Option func(*Keyring)

// WithGraceWindow sets how long a demoted key keeps verifying.
func WithGraceWindow(d time.Duration) Option {
	return func(k *Keyring) {
		if d > 0 {
			k.grace = d
		}
	}
}

// WithMaxTokenLifetime declares the longest-lived token the issuer mints.
// The constructor refuses a grace window at or below this value, because a
// token must never outlive its key's verifiability.
func WithMaxTokenLifetime(d time.Duration) Option {
	return func(k *Keyring) {
		if d > 0 {
			k.tokenTTL = d
		}
	}
}

// WithKeyBits overrides the RSA modulus size. Tests shrink it.
func WithKeyBits(bits int) Option {
	return func(k *Keyring) {
		if bits > 0 {
			k.keyBits = bits
		}
	}
}

// WithClock overrides the time source for tests.
func WithClock(fn func() time.Time) Option {
	return func(k *Keyring) {
		if fn != nil {
			k.now = fn
		}
	}
}

// New loads persisted keys from the store, or generates the first key when
// the store is empty, and returns a ready keyring.
func New(ctx context.Context, store Store, opts ...Option) (*Keyring, error) {
	k := &Keyring{
		retiring: make(map[string]*Key),
		store:    store,
		grace:    defaultGraceWindow,
		tokenTTL: defaultMaxTokenLifetime,
		keyBits:  defaultKeyBits,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(k)
	}
	if k.grace <= k.tokenTTL {
		return nil, fmt.Errorf("keyring: grace window %v must exceed max token lifetime %v", k.grace, k.tokenTTL)
	}

	if err := k.load(ctx); err != nil {
		return nil, err
	}
	if k.active == nil {
		if _, err := k.Rotate(ctx); err != nil {
			return nil, err
		}
	}
	return k, nil
}

// load restores persisted keys. If a crash left more than one Active key in
// the store, the newest wins and the rest are demoted. Retiring keys past
// their grace window are purged instead of restored.
func (k *Keyring) load(ctx context.Context) error {
	stored, err := k.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("keyring: load keys: %w", err)
	}
	now := k.now().UTC()

	var actives []*Key
	for _, sk := range stored {
		switch sk.State {
		case StateRetired:
			_ = k.store.Delete(ctx, sk.Kid)
			continue
		case StateRetiring:
			if !sk.RetireAt.After(now) {
				_ = k.store.Delete(ctx, sk.Kid)
				continue
			}
		}
		key, err := decodeStored(sk)
		if err != nil {
			return err
		}
		if key.State == StateActive {
			actives = append(actives, key)
		} else {
			k.retiring[key.Kid] = key
		}
	}

	if len(actives) == 0 {
		return nil
	}
	sort.Slice(actives, func(i, j int) bool { return actives[i].CreatedAt.After(actives[j].CreatedAt) })
	k.active = actives[0]
	for _, key := range actives[1:] {
		key.State = StateRetiring
		key.RetireAt = now.Add(k.grace)
		if err := k.store.UpdateState(ctx, key.Kid, StateRetiring, key.RetireAt); err != nil {
			return err
		}
		k.retiring[key.Kid] = key
	}
	return nil
}

func decodeStored(sk *StoredKey) (*Key, error) {
	priv, err := parsePrivateKey(sk.PrivatePEM)
	if err != nil {
		return nil, fmt.Errorf("keyring: key %s: %w", sk.Kid, err)
	}
	pub, err := parsePublicKey(sk.PublicPEM)
	if err != nil {
		return nil, fmt.Errorf("keyring: key %s: %w", sk.Kid, err)
	}
	// A stored public half that no longer matches the private key means the
	// row was corrupted or tampered with; serving it would publish a JWKS
	// entry that verifies nothing.
	if !pub.Equal(&priv.PublicKey) {
		return nil, fmt.Errorf("keyring: key %s: stored public key does not match private key", sk.Kid)
	}
	return &Key{
		Kid:       sk.Kid,
		Private:   priv,
		Public:    pub,
		State:     sk.State,
		CreatedAt: sk.CreatedAt,
		RetireAt:  sk.RetireAt,
	}, nil
}

// Current returns the Active signing key.
func (k *Keyring) Current() (*Key, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.active == nil {
		return nil, ErrNoActiveKey
	}
	return k.active, nil
}

// VerificationKeys returns the public material of every key a token may
// legitimately carry: the Active key plus all Retiring keys.
func (k *Keyring) VerificationKeys() map[string]*rsa.PublicKey {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make(map[string]*rsa.PublicKey, len(k.retiring)+1)
	if k.active != nil {
		out[k.active.Kid] = k.active.Public
	}
	for kid, key := range k.retiring {
		out[kid] = key.Public
	}
	return out
}

// Lookup resolves a single kid from the verification set.
func (k *Keyring) Lookup(kid string) (*rsa.PublicKey, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.active != nil && k.active.Kid == kid {
		return k.active.Public, true
	}
	if key, ok := k.retiring[kid]; ok {
		return key.Public, true
	}
	return nil, false
}

// Rotate generates a fresh Active key and demotes the current one to
// Retiring for the grace window. Tokens signed by the old key keep verifying
// until the window elapses. Concurrent rotations serialize; each performs a
// full rotation. Returns the kid of the new Active key.
func (k *Keyring) Rotate(ctx context.Context) (string, error) {
	k.rotateMu.Lock()
	defer k.rotateMu.Unlock()

	// Keygen happens outside the read lock so verification traffic is not
	// stalled behind RSA generation.
	priv, err := rsa.GenerateKey(rand.Reader, k.keyBits)
	if err != nil {
		return "", fmt.Errorf("keyring: generate key: %w", err)
	}
	now := k.now().UTC()
	next := &Key{
		Kid:       ids.New(),
		Private:   priv,
		Public:    &priv.PublicKey,
		State:     StateActive,
		CreatedAt: now,
	}

	pubPEM, err := encodePublicKey(next.Public)
	if err != nil {
		return "", err
	}
	if err := k.store.Save(ctx, &StoredKey{
		Kid:        next.Kid,
		PrivatePEM: encodePrivateKey(priv),
		PublicPEM:  pubPEM,
		State:      StateActive,
		CreatedAt:  now,
	}); err != nil {
		return "", fmt.Errorf("keyring: persist key: %w", err)
	}

	retireAt := now.Add(k.grace)

	k.mu.Lock()
	prev := k.active
	k.active = next
	if prev != nil {
		prev.State = StateRetiring
		prev.RetireAt = retireAt
		k.retiring[prev.Kid] = prev
	}
	k.mu.Unlock()

	if prev != nil {
		if err := k.store.UpdateState(ctx, prev.Kid, StateRetiring, retireAt); err != nil {
			return "", fmt.Errorf("keyring: demote key %s: %w", prev.Kid, err)
		}
	}
	obs.KeyRotated()

	if _, err := k.Sweep(ctx); err != nil {
		return "", err
	}
	return next.Kid, nil
}

// Sweep purges Retiring keys whose grace window has elapsed. Tokens signed
// by a swept key fail verification with an unknown-key error from then on.
func (k *Keyring) Sweep(ctx context.Context) (int, error) {
	now := k.now().UTC()

	k.mu.Lock()
	var expired []*Key
	for kid, key := range k.retiring {
		if !key.RetireAt.After(now) {
			expired = append(expired, key)
			delete(k.retiring, kid)
		}
	}
	k.mu.Unlock()

	for _, key := range expired {
		key.State = StateRetired
		zeroKey(key)
		if err := k.store.Delete(ctx, key.Kid); err != nil {
			return len(expired), fmt.Errorf("keyring: purge key %s: %w", key.Kid, err)
		}
	}
	return len(expired), nil
}

// Close drops and zeroes private key material. The keyring is unusable
// afterward.
func (k *Keyring) Close() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.active != nil {
		zeroKey(k.active)
		k.active = nil
	}
	for kid, key := range k.retiring {
		zeroKey(key)
		delete(k.retiring, kid)
	}
}

// zeroKey clears the sensitive components of an RSA private key.
func zeroKey(key *Key) {
	if key.Private == nil {
		return
	}
	key.Private.D.SetInt64(0)
	for _, p := range key.Private.Primes {
		p.SetInt64(0)
	}
	key.Private = nil
}
