// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-biometrics.
//
// go-biometrics is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package storagetest provides a conformance suite for storage.Backend
// implementations.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-biometrics/pkg/storage"
)

// Factory returns a fresh, empty backend.
type Factory func(t *testing.T) storage.Backend

// Run exercises the storage.Backend contract against backends from newBackend.
func Run(t *testing.T, newBackend Factory) {
	ctx := context.Background()

	t.Run("PutGet", func(t *testing.T) {
		b := newBackend(t)
		require.NoError(t, b.Put(ctx, "enrollment/face/u1", []byte("v1")))

		got, err := b.Get(ctx, "enrollment/face/u1")
		require.NoError(t, err)
		assert.Equal(t, []byte("v1"), got)
	})

	t.Run("Overwrite", func(t *testing.T) {
		b := newBackend(t)
		require.NoError(t, b.Put(ctx, "k", []byte("old")))
		require.NoError(t, b.Put(ctx, "k", []byte("new")))

		got, err := b.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("new"), got)
	})

	t.Run("EmptyValue", func(t *testing.T) {
		b := newBackend(t)
		require.NoError(t, b.Put(ctx, "empty", []byte{}))
		got, err := b.Get(ctx, "empty")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("GetMissing", func(t *testing.T) {
		b := newBackend(t)
		_, err := b.Get(ctx, "missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		b := newBackend(t)
		require.NoError(t, b.Put(ctx, "k", []byte("v")))
		require.NoError(t, b.Delete(ctx, "k"))

		_, err := b.Get(ctx, "k")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		// Deleting again is not an error.
		assert.NoError(t, b.Delete(ctx, "k"))
	})

	t.Run("ListPrefix", func(t *testing.T) {
		b := newBackend(t)
		for _, k := range []string{"enrollment/face/b", "enrollment/face/a", "enrollment/voice/a", "enrollment_status"} {
			require.NoError(t, b.Put(ctx, k, []byte(k)))
		}

		keys, err := b.List(ctx, "enrollment/face/")
		require.NoError(t, err)
		assert.Equal(t, []string{"enrollment/face/a", "enrollment/face/b"}, keys)

		all, err := b.List(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 4)
	})

	t.Run("InvalidKey", func(t *testing.T) {
		b := newBackend(t)
		for _, k := range []string{"", "../escape", "a/../../b", "/abs", "a//b"} {
			assert.ErrorIs(t, b.Put(ctx, k, []byte("x")), storage.ErrInvalidKey, "key %q", k)
		}
	})

	t.Run("ConcurrentWriters", func(t *testing.T) {
		b := newBackend(t)
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				for j := 0; j < 10; j++ {
					val := []byte(fmt.Sprintf("writer-%d-%d", n, j))
					assert.NoError(t, b.Put(ctx, "shared", val))
				}
			}(i)
		}
		wg.Wait()

		// The surviving value is one complete write.
		got, err := b.Get(ctx, "shared")
		require.NoError(t, err)
		assert.Regexp(t, `^writer-\d-\d$`, string(got))
	})

	t.Run("Closed", func(t *testing.T) {
		b := newBackend(t)
		require.NoError(t, b.Close())
		assert.NoError(t, b.Close())
	})
}
