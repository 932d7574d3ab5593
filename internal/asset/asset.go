// Package asset holds the static asset universe and the keys used to address
// positions in a weight vector.
package asset

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Type selects which market-data source prices an asset.
type Type string

const (
	Crypto Type = "crypto"
	Equity Type = "equity"
)

// Valid reports whether t is a supported asset type.
func (t Type) Valid() bool {
	return t == Crypto || t == Equity
}

// Key addresses a position in a weight vector: "{type}:{id}", or Cash.
type Key string

// Cash is the implicit residual position. It never appears in stored weights.
const Cash Key = "cash"

// keyRegex matches: {type}:{id}
// Example: crypto:bitcoin, equity:AAPL
var keyRegex = regexp.MustCompile(`^([a-z]+):([A-Za-z0-9.\-_]+)$`)

var (
	ErrInvalidKey   = errors.New("asset: invalid key format")
	ErrInvalidType  = errors.New("asset: unsupported asset type")
	ErrUnknownAsset = errors.New("asset: not in asset universe")
)

// NewKey builds the key for an asset.
func NewKey(t Type, id string) Key {
	return Key(string(t) + ":" + id)
}

// ParseKey splits a key into its type and id.
func ParseKey(k Key) (Type, string, error) {
	matches := keyRegex.FindStringSubmatch(string(k))
	if matches == nil {
		return "", "", fmt.Errorf("%w: %q (expected {type}:{id})", ErrInvalidKey, k)
	}
	t := Type(matches[1])
	if !t.Valid() {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidType, t)
	}
	return t, matches[2], nil
}

// Asset is one entry of the tradable universe.
type Asset struct {
	Label string `json:"label"`
	Type  Type   `json:"assetType"`
	ID    string `json:"assetId"` // CoinGecko coin id or equity symbol
}

// Key returns the weight-vector key of the asset.
func (a Asset) Key() Key { return NewKey(a.Type, a.ID) }

// Registry is a read-only asset universe.
type Registry struct {
	byKey map[Key]Asset
}

// NewRegistry builds a registry; duplicate keys keep the last entry.
func NewRegistry(assets ...Asset) *Registry {
	r := &Registry{byKey: make(map[Key]Asset, len(assets))}
	for _, a := range assets {
		r.byKey[a.Key()] = a
	}
	return r
}

// Default is the built-in universe.
func Default() *Registry {
	return NewRegistry(
		Asset{Label: "BTC", Type: Crypto, ID: "bitcoin"},
		Asset{Label: "ETH", Type: Crypto, ID: "ethereum"},
		Asset{Label: "AAPL", Type: Equity, ID: "AAPL"},
		Asset{Label: "SPY", Type: Equity, ID: "SPY"},
	)
}

// Lookup returns the asset with the given type and id.
func (r *Registry) Lookup(t Type, id string) (Asset, error) {
	if !t.Valid() {
		return Asset{}, fmt.Errorf("%w: %q", ErrInvalidType, t)
	}
	a, ok := r.byKey[NewKey(t, strings.TrimSpace(id))]
	if !ok {
		return Asset{}, fmt.Errorf("%w: %s:%s", ErrUnknownAsset, t, id)
	}
	return a, nil
}

// All returns the universe sorted by label.
func (r *Registry) All() []Asset {
	out := make([]Asset, 0, len(r.byKey))
	for _, a := range r.byKey {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}
