package dcn

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenStoreSetReplacesWholesale(t *testing.T) {
	var store TokenStore
	assert.False(t, store.Authenticated())
	assert.Empty(t, store.Access())
	assert.Empty(t, store.Refresh())

	store.Set("access-1", "refresh-1")
	assert.True(t, store.Authenticated())
	assert.Equal(t, "access-1", store.Access())
	assert.Equal(t, "refresh-1", store.Refresh())

	store.Set("access-2", "")
	assert.Equal(t, "access-2", store.Access())
	assert.Empty(t, store.Refresh())
}

func TestTokenStoreRotateKeepsRefreshWhenAbsent(t *testing.T) {
	var store TokenStore
	store.Set("access-1", "refresh-1")

	store.Rotate("access-2", "")
	assert.Equal(t, "access-2", store.Access())
	assert.Equal(t, "refresh-1", store.Refresh())

	store.Rotate("access-3", "refresh-2")
	assert.Equal(t, "access-3", store.Access())
	assert.Equal(t, "refresh-2", store.Refresh())
}

func TestTokenStoreClear(t *testing.T) {
	var store TokenStore
	store.Set("access-1", "refresh-1")
	store.Clear()
	assert.False(t, store.Authenticated())
	assert.Empty(t, store.Refresh())
}

func TestTokenStoreConcurrentReadsDuringRotation(t *testing.T) {
	var store TokenStore
	store.Set("access", "refresh")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_ = store.Access()
				_ = store.Refresh()
				_ = store.Authenticated()
			}
		}()
	}
	for j := 0; j < 200; j++ {
		store.Rotate("rotated", "")
	}
	wg.Wait()

	assert.Equal(t, "rotated", store.Access())
	assert.Equal(t, "refresh", store.Refresh())
}
