// Copyright (c) 2025 The gfsbak Authors
//
// This file is part of gfsbak.
//
// gfsbak is licensed under the GNU Affero General Public License v3.0 (AGPL-3.0).
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package checkpoint

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gfsbak/gfsbak/pkg/common"
	"github.com/gfsbak/gfsbak/pkg/memory"
)

func TestPathFor(t *testing.T) {
	assert.Equal(t, "checkpoints/photos/incremental.txt", PathFor("photos", common.BackupTypeIncremental))
	assert.Equal(t, "checkpoints/docs/full.txt", PathFor("docs", common.BackupTypeFull))
}

// both implementations must satisfy the same contract
func stores(t *testing.T) map[string]Store {
	t.Helper()
	objStore, err := NewObjectStore(memory.New())
	require.NoError(t, err)
	return map[string]Store{
		"memory":      NewMemoryStore(),
		"objectstore": objStore,
	}
}

func TestLoadMissing(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Load(context.Background(), "photos", common.BackupTypeIncremental)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestCompareAndSwapLifecycle(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			// initial create requires empty expected marker
			require.NoError(t, s.CompareAndSwap(ctx, "photos", common.BackupTypeIncremental, "", "m1"))

			cp, err := s.Load(ctx, "photos", common.BackupTypeIncremental)
			require.NoError(t, err)
			assert.Equal(t, "m1", cp.Marker)
			assert.False(t, cp.UpdatedAt.IsZero())

			// duplicate create rejected
			assert.ErrorIs(t, s.CompareAndSwap(ctx, "photos", common.BackupTypeIncremental, "", "m2"), ErrStaleMarker)

			// normal advance
			require.NoError(t, s.CompareAndSwap(ctx, "photos", common.BackupTypeIncremental, "m1", "m2"))

			// stale advance from the old marker rejected
			assert.ErrorIs(t, s.CompareAndSwap(ctx, "photos", common.BackupTypeIncremental, "m1", "m3"), ErrStaleMarker)

			cp, err = s.Load(ctx, "photos", common.BackupTypeIncremental)
			require.NoError(t, err)
			assert.Equal(t, "m2", cp.Marker)
		})
	}
}

func TestCompareAndSwapMissingTarget(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			err := s.CompareAndSwap(context.Background(), "photos", common.BackupTypeFull, "m1", "m2")
			assert.ErrorIs(t, err, ErrStaleMarker)
		})
	}
}

func TestPairsAreIndependent(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.CompareAndSwap(ctx, "photos", common.BackupTypeIncremental, "", "a"))
			require.NoError(t, s.CompareAndSwap(ctx, "photos", common.BackupTypeFull, "", "b"))
			require.NoError(t, s.CompareAndSwap(ctx, "docs", common.BackupTypeIncremental, "", "c"))

			cp, err := s.Load(ctx, "photos", common.BackupTypeFull)
			require.NoError(t, err)
			assert.Equal(t, "b", cp.Marker)
		})
	}
}

// Concurrent runs racing the same pair: exactly one CAS per round wins and
// the final marker comes from a winner, never a regression to an older value.
func TestCompareAndSwapMonotonicUnderContention(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.CompareAndSwap(ctx, "photos", common.BackupTypeIncremental, "", "round-0"))

			for round := 1; round <= 5; round++ {
				prev := fmt.Sprintf("round-%d", round-1)
				next := fmt.Sprintf("round-%d", round)

				var wg sync.WaitGroup
				wins := make(chan struct{}, 10)
				for w := 0; w < 10; w++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						if err := s.CompareAndSwap(ctx, "photos", common.BackupTypeIncremental, prev, next); err == nil {
							wins <- struct{}{}
						}
					}()
				}
				wg.Wait()
				close(wins)

				var winners int
				for range wins {
					winners++
				}
				assert.Equal(t, 1, winners, "exactly one writer advances per round")

				cp, err := s.Load(ctx, "photos", common.BackupTypeIncremental)
				require.NoError(t, err)
				assert.Equal(t, next, cp.Marker)
			}
		})
	}
}
