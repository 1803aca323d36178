package envresolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeSecrets struct {
	values map[string]string
}

func (f fakeSecrets) ResolveVarValue(name string) *string {
	if v, ok := f.values[name]; ok {
		return &v
	}
	return nil
}

func TestResolve_ProfileOverridesManifest(t *testing.T) {
	in := Input{
		ManifestEnvValues: map[string]string{"MODE": "manifest"},
		ProfileEnvValues:  map[string]string{"MODE": "profile"},
	}
	result := Resolve(in, nil)
	assert.Equal(t, "profile", result.Env["MODE"])
}

func TestResolve_SecretFillsDeclaredNameWithoutLiteral(t *testing.T) {
	in := Input{ManifestEnvNames: []string{"API_KEY"}}
	secrets := fakeSecrets{values: map[string]string{"API_KEY": "s3cr3t"}}

	result := Resolve(in, secrets)
	assert.Equal(t, "s3cr3t", result.Env["API_KEY"])
}

func TestResolve_UnresolvedNameIsOmitted(t *testing.T) {
	in := Input{ManifestEnvNames: []string{"MISSING"}}
	result := Resolve(in, fakeSecrets{})
	_, ok := result.Env["MISSING"]
	assert.False(t, ok)
}

func TestCanonicalHash_IsOrderIndependent(t *testing.T) {
	a := CanonicalHash(map[string]string{"A": "1", "B": "2"})
	b := CanonicalHash(map[string]string{"B": "2", "A": "1"})
	assert.Equal(t, a, b)
}

func TestCanonicalHash_ChangesWithValue(t *testing.T) {
	a := CanonicalHash(map[string]string{"A": "1"})
	b := CanonicalHash(map[string]string{"A": "2"})
	assert.NotEqual(t, a, b)
}

func TestCanonicalHash_Is64HexChars(t *testing.T) {
	h := CanonicalHash(map[string]string{"A": "1"})
	assert.Len(t, h, 64)
	assert.Regexp(t, "^[0-9a-f]{64}$", h)
}

func TestResolve_HashMatchesCanonicalHashOfEffectiveEnv(t *testing.T) {
	in := Input{ManifestEnvValues: map[string]string{"A": "1"}}
	result := Resolve(in, nil)
	assert.Equal(t, CanonicalHash(result.Env), result.Hash)
}

func TestWithEnvHashLabel_PreservesExistingLabels(t *testing.T) {
	labels := WithEnvHashLabel(map[string]string{"existing": "x"}, "deadbeef")
	assert.Equal(t, "x", labels["existing"])
	assert.Equal(t, "deadbeef", labels[EnvHashLabel])
}
