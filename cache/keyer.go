package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// CallInfo captures the shape of one resolver call: the pieces of a
// field resolution that are allowed to influence its cache key.
type CallInfo struct {
	// Field is the resolved top-level field name. Distinct fields must
	// key separately even when they share a cache config.
	Field string

	// Args are the resolver arguments. Only arguments named by the
	// config's VaryBy list participate in the key.
	Args map[string]any

	// Principal is the authenticated caller's identifier, empty for
	// anonymous callers.
	Principal string

	// Operation is the GraphQL operation name.
	Operation string

	// Fields are the fully-qualified paths of every selected output
	// field for this call.
	Fields []string
}

// Keyer derives deterministic cache keys from resolver call shape.
//
// Contract:
// - Determinism: identical (config, call) inputs always yield the
//   identical key, regardless of map iteration order.
// - Isolation: any difference in the resolved field, a VaryBy argument
//   value, principal, operation name, or selected field set yields a
//   different key.
type Keyer struct{}

// NewKeyer creates a new keyer.
func NewKeyer() *Keyer {
	return &Keyer{}
}

// Key derives the cache key for a call under the given config.
// Format: <prefix>:r=<field>:a=<vals>:u=<principal>:op=<name>:f=<fieldhash>
func (k *Keyer) Key(cfg *Config, call CallInfo) (string, error) {
	var b strings.Builder
	b.WriteString(cfg.KeyPrefix)

	b.WriteString(":r=")
	b.WriteString(call.Field)

	b.WriteString(":a=")
	for i, name := range cfg.VaryBy {
		if i > 0 {
			b.WriteByte(',')
		}
		val, ok := call.Args[name]
		if !ok {
			// Absent and present-but-null must still key differently.
			b.WriteString("-")
			continue
		}
		canonical, err := canonicalize(val)
		if err != nil {
			return "", fmt.Errorf("cache: failed to canonicalize argument %q: %w", name, err)
		}
		b.Write(canonical)
	}

	// The principal comes from an untrusted token subject; quoting keeps
	// delimiter bytes in it from folding into neighboring segments.
	b.WriteString(":u=")
	b.WriteString(strconv.Quote(call.Principal))
	b.WriteString(":op=")
	b.WriteString(call.Operation)
	b.WriteString(":f=")
	b.WriteString(hashFields(call.Fields))

	key := b.String()
	if len(key) > MaxKeyLength {
		sum := sha256.Sum256([]byte(key))
		key = cfg.KeyPrefix + ":h=" + hex.EncodeToString(sum[:16])
	}
	return key, nil
}

// hashFields returns a short stable hash of the selected field paths.
// Order of selection must not matter, so paths are sorted first.
func hashFields(fields []string) string {
	if len(fields) == 0 {
		return "none"
	}
	sorted := make([]string, len(fields))
	copy(sorted, fields)
	sort.Strings(sorted)

	h := sha256.New()
	for _, f := range sorted {
		h.Write([]byte(f))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)[:8])
}

// canonicalize produces a deterministic JSON representation of a value.
// Maps are sorted by key to ensure consistent ordering.
func canonicalize(v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}

	switch val := v.(type) {
	case map[string]any:
		return canonicalizeMap(val)
	case []any:
		return canonicalizeSlice(val)
	default:
		return json.Marshal(v)
	}
}

func canonicalizeMap(m map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := []byte("{")
	for i, k := range keys {
		if i > 0 {
			result = append(result, ',')
		}

		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		result = append(result, keyBytes...)
		result = append(result, ':')

		valBytes, err := canonicalize(m[k])
		if err != nil {
			return nil, err
		}
		result = append(result, valBytes...)
	}
	result = append(result, '}')

	return result, nil
}

func canonicalizeSlice(s []any) ([]byte, error) {
	result := []byte("[")
	for i, v := range s {
		if i > 0 {
			result = append(result, ',')
		}

		valBytes, err := canonicalize(v)
		if err != nil {
			return nil, err
		}
		result = append(result, valBytes...)
	}
	result = append(result, ']')

	return result, nil
}
