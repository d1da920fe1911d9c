package preferences

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderedIndexFindMissing(t *testing.T) {
	idx := newOrderedIndex()
	_, found := idx.Find("anonymousAppID")
	assert.False(t, found)
}

func TestOrderedIndexUpsertThenFind(t *testing.T) {
	idx := newOrderedIndex()
	idx.Upsert("anonymousAppID", json.RawMessage(`"abc-123"`))

	value, found := idx.Find("anonymousAppID")
	require.True(t, found)
	assert.Equal(t, `"abc-123"`, string(value))
}

func TestOrderedIndexUpsertReplacesExistingValue(t *testing.T) {
	idx := newOrderedIndex()
	idx.Upsert("account", json.RawMessage(`{"userEmail":"a@example.com"}`))
	idx.Upsert("account", json.RawMessage(`{"userEmail":"b@example.com"}`))

	value, found := idx.Find("account")
	require.True(t, found)
	assert.JSONEq(t, `{"userEmail":"b@example.com"}`, string(value))
}

func TestOrderedIndexRemove(t *testing.T) {
	idx := newOrderedIndex()
	idx.Upsert("publisher(a)", json.RawMessage(`1`))

	assert.True(t, idx.Remove("publisher(a)"))
	_, found := idx.Find("publisher(a)")
	assert.False(t, found)
	assert.False(t, idx.Remove("publisher(a)"))
}

func TestOrderedIndexKeysAreSorted(t *testing.T) {
	idx := newOrderedIndex()
	idx.Upsert("subscription(z)", json.RawMessage(`1`))
	idx.Upsert("subscription(a)", json.RawMessage(`2`))
	idx.Upsert("subscription(m)", json.RawMessage(`3`))

	assert.Equal(t, []string{"subscription(a)", "subscription(m)", "subscription(z)"}, idx.Keys())
}

func TestOrderedIndexKeysEmpty(t *testing.T) {
	idx := newOrderedIndex()
	assert.Empty(t, idx.Keys())
}

// TestOrderedIndexConcurrentUpserts exercises the lock-coupling under
// concurrent writers across distinct keys, the same scenario the
// subscription/publisher records are mutated under from Client's
// goroutines (addSubscription's background registerAPIEndpoint touch runs
// alongside foreground persistence writes).
func TestOrderedIndexConcurrentUpserts(t *testing.T) {
	idx := newOrderedIndex()
	const n = 100

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := "subscription(" + string(rune('a'+i%26)) + ")"
			idx.Upsert(key, json.RawMessage(`1`))
		}(i)
	}
	wg.Wait()

	keys := idx.Keys()
	assert.NotEmpty(t, keys)
	for i := 1; i < len(keys); i++ {
		assert.Less(t, keys[i-1], keys[i])
	}
}
