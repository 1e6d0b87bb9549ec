package ua

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleAllocatorStartsAtOne(t *testing.T) {
	a := newHandleAllocator[SubscriptionHandle]()
	assert.Equal(t, SubscriptionHandle(1), a.Next())
	assert.Equal(t, SubscriptionHandle(2), a.Next())
	assert.Equal(t, SubscriptionHandle(3), a.Next())
}

func TestHandleAllocatorConcurrentUnique(t *testing.T) {
	a := newHandleAllocator[PublicationHandle]()

	const goroutines = 16
	const perGoroutine = 1000

	results := make([][]PublicationHandle, goroutines)
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				results[g] = append(results[g], a.Next())
			}
		}(g)
	}
	wg.Wait()

	seen := make(map[PublicationHandle]bool, goroutines*perGoroutine)
	for g := range results {
		for i, h := range results[g] {
			require.False(t, seen[h], "duplicate handle %d", h)
			seen[h] = true
			assert.NotEqual(t, NoPublication, h)
			if i > 0 {
				// в пределах одной горутины хэндлы строго возрастают
				assert.Greater(t, h, results[g][i-1])
			}
		}
	}
	assert.Len(t, seen, goroutines*perGoroutine)
	for h := PublicationHandle(1); h <= goroutines*perGoroutine; h++ {
		assert.True(t, seen[h], "missing handle %d", h)
	}
}

func TestHandleCategoriesIndependent(t *testing.T) {
	ua := newTestUA(newFakeEngine())
	defer ua.exec.Close()

	s1 := ua.CreateSubscription("presence", mustUri("sip:bob@example.com"), 60, "")
	p1 := ua.CreatePublication("presence", mustUri("sip:alice@example.com"), "available", 60, "")
	s2 := ua.CreateSubscription("presence", mustUri("sip:carol@example.com"), 60, "")

	assert.Equal(t, SubscriptionHandle(1), s1)
	assert.Equal(t, SubscriptionHandle(2), s2)
	assert.Equal(t, PublicationHandle(1), p1)
}

func TestOptionalProfile(t *testing.T) {
	var o optionalProfile
	_, ok := o.get()
	assert.False(t, ok)
	assert.Equal(t, NoConversationProfile, o.value())

	o = someProfile(7)
	h, ok := o.get()
	assert.True(t, ok)
	assert.Equal(t, ConversationProfileHandle(7), h)
}
