package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"sort"
	"sync"
)

type keyEntry struct {
	info    KeyInfo
	digest  [sha256.Size]byte
	enabled bool
}

// KeyValidator checks operator keys against a configured set.
type KeyValidator struct {
	mu      sync.RWMutex
	entries []keyEntry
}

// NewKeyValidator creates a validator holding keys.
func NewKeyValidator(keys []Key) *KeyValidator {
	v := &KeyValidator{}
	v.Replace(keys)
	return v
}

// Replace swaps the whole key set.
func (v *KeyValidator) Replace(keys []Key) {
	entries := make([]keyEntry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, keyEntry{
			info:    KeyInfo{Name: k.Name},
			digest:  sha256.Sum256([]byte(k.Secret)),
			enabled: k.Enabled,
		})
	}

	v.mu.Lock()
	v.entries = entries
	v.mu.Unlock()
}

// Validate returns the key holder for secret. Every entry is compared so
// the time taken does not depend on which key matched.
func (v *KeyValidator) Validate(secret string) (*KeyInfo, error) {
	if secret == "" {
		return nil, ErrMissingKey
	}
	digest := sha256.Sum256([]byte(secret))

	v.mu.RLock()
	defer v.mu.RUnlock()

	var match *keyEntry
	for i := range v.entries {
		if subtle.ConstantTimeCompare(digest[:], v.entries[i].digest[:]) == 1 {
			match = &v.entries[i]
		}
	}
	if match == nil {
		return nil, ErrInvalidKey
	}
	if !match.enabled {
		return nil, ErrKeyDisabled
	}

	info := match.info
	return &info, nil
}

// Len returns the number of configured keys, enabled or not.
func (v *KeyValidator) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.entries)
}

// Names returns the configured key names in sorted order.
func (v *KeyValidator) Names() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()

	names := make([]string, 0, len(v.entries))
	for _, e := range v.entries {
		names = append(names, e.info.Name)
	}
	sort.Strings(names)
	return names
}
