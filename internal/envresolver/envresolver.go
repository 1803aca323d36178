// Package envresolver implements EnvResolver (ER): computes
// an agent's effective environment map from its manifest, active profile,
// and the workspace secret store, plus a canonical hash of that map.
package envresolver

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// SecretResolver is the subset of secretresolver.Resolver that ER needs,
// declared locally so this package never imports a concrete secret store.
type SecretResolver interface {
	ResolveVarValue(name string) *string
}

// Input is everything ER needs to compute one agent's effective env.
type Input struct {
	// ManifestEnvNames lists bare names the manifest exposes from the host
	// environment, without a literal value.
	ManifestEnvNames []string
	// ManifestEnvValues holds literal NAME=VALUE pairs declared directly
	// in the manifest, if any.
	ManifestEnvValues map[string]string
	// ProfileEnvNames/ProfileEnvValues are the active profile's overlay;
	// profile values take precedence over manifest values for the same
	// name.
	ProfileEnvNames   []string
	ProfileEnvValues  map[string]string
	// HostEnv is the process environment, consulted for names that
	// declare "inject from env" but have no literal or secret value.
	HostEnv map[string]string
}

// Resolved is the outcome of Resolve: the effective env map plus its
// canonical hash.
type Resolved struct {
	Env  map[string]string
	Hash string
}

// Resolve computes the effective env map and its canonical SHA-256 hash.
// Resolution order per name, highest precedence
// first: profile literal value, manifest literal value, resolved secret,
// host environment variable of the same name. A name with no resolvable
// value is simply omitted — ER never fails on an unresolved optional var.
func Resolve(in Input, secrets SecretResolver) Resolved {
	effective := make(map[string]string)

	names := make(map[string]struct{})
	for _, n := range in.ManifestEnvNames {
		names[n] = struct{}{}
	}
	for _, n := range in.ProfileEnvNames {
		names[n] = struct{}{}
	}
	for n := range in.ManifestEnvValues {
		names[n] = struct{}{}
	}
	for n := range in.ProfileEnvValues {
		names[n] = struct{}{}
	}

	for name := range names {
		if v, ok := in.ProfileEnvValues[name]; ok {
			effective[name] = v
			continue
		}
		if v, ok := in.ManifestEnvValues[name]; ok {
			effective[name] = v
			continue
		}
		if secrets != nil {
			if v := secrets.ResolveVarValue(name); v != nil {
				effective[name] = *v
				continue
			}
		}
		if v, ok := in.HostEnv[name]; ok {
			effective[name] = v
		}
	}

	return Resolved{Env: effective, Hash: CanonicalHash(effective)}
}

// CanonicalHash returns the 64-hex-char SHA-256 of env's canonical JSON
// representation: keys sorted lexicographically.
// encoding/json already marshals map[string]string keys in sorted order,
// but Go does not guarantee that across versions for arbitrary map types,
// so the ordering is made explicit here rather than relied upon.
func CanonicalHash(env map[string]string) string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		keyJSON, _ := json.Marshal(k)
		valJSON, _ := json.Marshal(env[k])
		b.Write(keyJSON)
		b.WriteByte(':')
		b.Write(valJSON)
	}
	b.WriteByte('}')

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// EnvHashLabel is the reserved container label name for the canonical env
// hash.
const EnvHashLabel = "ploinky.envhash"

// WithEnvHashLabel returns a copy of labels with EnvHashLabel set to hash.
func WithEnvHashLabel(labels map[string]string, hash string) map[string]string {
	out := make(map[string]string, len(labels)+1)
	for k, v := range labels {
		out[k] = v
	}
	out[EnvHashLabel] = hash
	return out
}
