package extract

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/docpipe/internal/cache"
	"github.com/spherical/docpipe/internal/domain"
)

// fakeCache is an in-memory cache.Client for exercising the result cache
// without a real Redis instance.
type fakeCache struct {
	values map[string][]byte
}

func newFakeCache() *fakeCache { return &fakeCache{values: make(map[string][]byte)} }

func (f *fakeCache) Get(ctx context.Context, key string) ([]byte, error) {
	v, ok := f.values[key]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return v, nil
}

func (f *fakeCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	f.values[key] = value
	return nil
}

func (f *fakeCache) Delete(ctx context.Context, key string) error {
	delete(f.values, key)
	return nil
}

func (f *fakeCache) DeleteByPrefix(ctx context.Context, prefix string) error { return nil }
func (f *fakeCache) Close() error                                          { return nil }

func TestParseJSONChainStrict(t *testing.T) {
	data, err := parseJSONChain(`{"title": "foo"}`)
	require.NoError(t, err)
	assert.Equal(t, "foo", data["title"])
}

func TestParseJSONChainFencedFallback(t *testing.T) {
	data, err := parseJSONChain("```json\n{\"title\": \"foo\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, "foo", data["title"])
}

func TestParseJSONChainBalancedObjectFallback(t *testing.T) {
	data, err := parseJSONChain(`Sure, here is the result: {"title": "foo"} -- hope that helps!`)
	require.NoError(t, err)
	assert.Equal(t, "foo", data["title"])
}

func TestParseJSONChainFailsOnGarbage(t *testing.T) {
	_, err := parseJSONChain("no json here at all")
	assert.Error(t, err)
}

func TestStripFencesRemovesJSONLangTag(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}\n```"))
}

func TestCoerceToSchemaRejectsUnknownKey(t *testing.T) {
	vars := []domain.TemplateVariable{{Name: "title", Type: domain.VariableTypeString}}
	_, err := coerceToSchema(map[string]any{"unexpected": "x"}, vars, domain.NullHandlingStrict)
	assert.Error(t, err)
}

func TestCoerceToSchemaConvertsNAAndEmptyToNull(t *testing.T) {
	vars := []domain.TemplateVariable{
		{Name: "title", Type: domain.VariableTypeString},
		{Name: "notes", Type: domain.VariableTypeString},
	}
	out, err := coerceToSchema(map[string]any{"title": "N/A", "notes": ""}, vars, domain.NullHandlingStrict)
	require.NoError(t, err)
	assert.Nil(t, out["title"])
	assert.Nil(t, out["notes"])
}

func TestCoerceToSchemaRecursesIntoNestedObjects(t *testing.T) {
	vars := []domain.TemplateVariable{{Name: "meta", Type: domain.VariableTypeObject}}
	out, err := coerceToSchema(map[string]any{"meta": map[string]any{"author": "N/A"}}, vars, domain.NullHandlingStrict)
	require.NoError(t, err)
	nested, ok := out["meta"].(map[string]any)
	require.True(t, ok)
	assert.Nil(t, nested["author"])
}

func TestAvailableProvidersReflectsConfigured(t *testing.T) {
	svc := New(nil, nil, nil, []ProviderEndpoint{
		{Provider: ProviderLocal, BaseURL: "http://localhost:8000"},
	})
	providers := svc.AvailableProviders()
	require.Len(t, providers, 1)
	assert.Equal(t, ProviderLocal, providers[0])
}

func TestExtractReturnsProviderNotConfigured(t *testing.T) {
	svc := New(nil, nil, nil, nil)
	result := svc.Extract(nil, Request{Provider: ProviderCloudA, TemplateID: "t1"})
	assert.False(t, result.Success)
	assert.Equal(t, string(domain.ErrorKindProviderNotConfigured), result.ErrorKind)
}

func TestResultCacheKeyIsStableAndTextSensitive(t *testing.T) {
	a := resultCacheKey("t1", "local", "llama3", "hello")
	b := resultCacheKey("t1", "local", "llama3", "hello")
	c := resultCacheKey("t1", "local", "llama3", "goodbye")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestLookupCacheRoundTripsAStoredResult(t *testing.T) {
	svc := New(nil, nil, nil, nil).WithCache(newFakeCache())
	key := resultCacheKey("t1", "local", "llama3", "hello")

	_, ok := svc.lookupCache(context.Background(), key)
	assert.False(t, ok, "expected a miss before anything is stored")

	stored := domain.ExtractionResult{TemplateID: "t1", Provider: "local", Model: "llama3", Success: true}
	svc.storeCache(context.Background(), key, stored)

	got, ok := svc.lookupCache(context.Background(), key)
	require.True(t, ok)
	assert.Equal(t, stored.TemplateID, got.TemplateID)
	assert.True(t, got.Success)
}

func TestLookupCacheMissesOnCorruptPayload(t *testing.T) {
	fc := newFakeCache()
	key := resultCacheKey("t1", "local", "llama3", "hello")
	fc.values[key] = []byte("not json")

	svc := New(nil, nil, nil, nil).WithCache(fc)
	_, ok := svc.lookupCache(context.Background(), key)
	assert.False(t, ok)
}

func TestNewDefaultsToNoopCache(t *testing.T) {
	svc := New(nil, nil, nil, nil)
	key := resultCacheKey("t1", "local", "llama3", "hello")
	svc.storeCache(context.Background(), key, domain.ExtractionResult{Success: true})
	_, ok := svc.lookupCache(context.Background(), key)
	assert.False(t, ok, "noop cache should never retain a value")
}
