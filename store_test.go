package samlsp_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/peopledoc/samlsp"
)

func Test_MemoryOutstandingRequestStore(t *testing.T) {
	ctx := context.Background()

	t.Run("an entry is taken exactly once", func(t *testing.T) {
		r := require.New(t)
		store := samlsp.NewMemoryOutstandingRequestStore(time.Minute)

		r.NoError(store.Put(ctx, "_req-1", "/came-from"))

		cameFrom, err := store.Take(ctx, "_req-1")
		r.NoError(err)
		r.Equal("/came-from", cameFrom)

		_, err = store.Take(ctx, "_req-1")
		r.ErrorContains(err, `samlsp.MemoryOutstandingRequestStore.Take: request "_req-1": unknown or already consumed request`)
		r.ErrorIs(err, samlsp.ErrUnknownRequest)
	})

	t.Run("an unknown request ID", func(t *testing.T) {
		r := require.New(t)
		store := samlsp.NewMemoryOutstandingRequestStore(time.Minute)

		_, err := store.Take(ctx, "_never-issued")
		r.ErrorIs(err, samlsp.ErrUnknownRequest)
	})

	t.Run("entries expire after the TTL", func(t *testing.T) {
		r := require.New(t)
		store := samlsp.NewMemoryOutstandingRequestStore(30 * time.Millisecond)

		r.NoError(store.Put(ctx, "_req-2", "/came-from"))
		time.Sleep(80 * time.Millisecond)

		_, err := store.Take(ctx, "_req-2")
		r.ErrorIs(err, samlsp.ErrUnknownRequest)
	})

	t.Run("concurrent takers see one winner", func(t *testing.T) {
		r := require.New(t)
		store := samlsp.NewMemoryOutstandingRequestStore(time.Minute)

		r.NoError(store.Put(ctx, "_req-3", "/came-from"))

		const takers = 16

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		wg.Add(takers)
		for i := 0; i < takers; i++ {
			go func() {
				defer wg.Done()
				if _, err := store.Take(ctx, "_req-3"); err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		r.Equal(1, wins)
	})
}

func Test_MemorySessionBindingStore(t *testing.T) {
	ctx := context.Background()

	binding := &samlsp.SessionBinding{
		SessionID:    "session-1",
		UserID:       "user-1",
		NameID:       "_abc123",
		NameIDFormat: "urn:oasis:names:tc:SAML:2.0:nameid-format:transient",
		SessionIndex: "_idx-1",
		IdPEntityID:  "http://idp.test",
	}

	t.Run("set then get", func(t *testing.T) {
		r := require.New(t)
		store := samlsp.NewMemorySessionBindingStore()

		r.NoError(store.Set(ctx, binding))

		got, err := store.Get(ctx, "session-1")
		r.NoError(err)
		r.Equal(binding, got)
	})

	t.Run("stored bindings are copies", func(t *testing.T) {
		r := require.New(t)
		store := samlsp.NewMemorySessionBindingStore()

		b := *binding
		r.NoError(store.Set(ctx, &b))
		b.NameID = "_mutated"

		got, err := store.Get(ctx, "session-1")
		r.NoError(err)
		r.Equal("_abc123", got.NameID)

		got.UserID = "mutated"
		again, err := store.Get(ctx, "session-1")
		r.NoError(err)
		r.Equal("user-1", again.UserID)
	})

	t.Run("missing session", func(t *testing.T) {
		r := require.New(t)
		store := samlsp.NewMemorySessionBindingStore()

		_, err := store.Get(ctx, "session-unknown")
		r.ErrorContains(err, `samlsp.MemorySessionBindingStore.Get: session "session-unknown": no session binding`)
		r.ErrorIs(err, samlsp.ErrNoSessionBinding)
	})

	t.Run("binding without a session ID", func(t *testing.T) {
		r := require.New(t)
		store := samlsp.NewMemorySessionBindingStore()

		err := store.Set(ctx, &samlsp.SessionBinding{UserID: "user-1"})
		r.ErrorIs(err, samlsp.ErrInvalidParameter)

		err = store.Set(ctx, nil)
		r.ErrorIs(err, samlsp.ErrInvalidParameter)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		r := require.New(t)
		store := samlsp.NewMemorySessionBindingStore()

		r.NoError(store.Set(ctx, binding))
		r.NoError(store.Delete(ctx, "session-1"))
		r.NoError(store.Delete(ctx, "session-1"))

		_, err := store.Get(ctx, "session-1")
		r.ErrorIs(err, samlsp.ErrNoSessionBinding)
	})
}
