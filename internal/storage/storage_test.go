package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stemsi/exstem-client/internal/config"
)

// backendFactory returns two handles onto the same durable store, the way
// two processes would see it.
type backendFactory func(t *testing.T) (Storage, Storage)

func backends() map[string]backendFactory {
	return map[string]backendFactory{
		"memory": func(t *testing.T) (Storage, Storage) {
			m := NewMemoryStorage()
			return m, m
		},
		"file": func(t *testing.T) (Storage, Storage) {
			dir := t.TempDir()
			a, err := NewFileStorage(dir, zerolog.Nop())
			require.NoError(t, err)
			b, err := NewFileStorage(dir, zerolog.Nop())
			require.NoError(t, err)
			return a, b
		},
		"redis": func(t *testing.T) (Storage, Storage) {
			mr := miniredis.RunT(t)
			a := NewRedisStorage(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test", zerolog.Nop())
			b := NewRedisStorage(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test", zerolog.Nop())
			t.Cleanup(func() {
				a.Close()
				b.Close()
			})
			return a, b
		},
	}
}

func TestStorageGetSetRemove(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st, _ := factory(t)

			_, ok, err := st.Get(ctx, "token")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, st.Set(ctx, "token", "T1"))
			v, ok, err := st.Get(ctx, "token")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "T1", v)

			require.NoError(t, st.Set(ctx, "token", "T2"))
			v, _, _ = st.Get(ctx, "token")
			assert.Equal(t, "T2", v)

			require.NoError(t, st.Remove(ctx, "token"))
			require.NoError(t, st.Remove(ctx, "token"))
			_, ok, err = st.Get(ctx, "token")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStorageWatchSeesOtherHandle(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			local, other := factory(t)

			changes, err := local.Watch(ctx)
			require.NoError(t, err)

			require.NoError(t, other.Set(ctx, "token", "T1"))
			got := nextChange(t, changes, "token")
			assert.False(t, got.Removed)
			assert.Equal(t, "T1", got.Value)

			require.NoError(t, other.Remove(ctx, "token"))
			got = nextChange(t, changes, "token")
			assert.True(t, got.Removed)

			cancel()
			require.Eventually(t, func() bool {
				select {
				case _, ok := <-changes:
					return !ok
				default:
					return false
				}
			}, time.Second, 10*time.Millisecond)
		})
	}
}

// nextChange skips duplicate filesystem events until one for key arrives.
func nextChange(t *testing.T, ch <-chan Change, key string) Change {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case c, ok := <-ch:
			require.True(t, ok, "watch closed early")
			if c.Key == key {
				return c
			}
		case <-timeout:
			t.Fatalf("no change for %q", key)
		}
	}
}

func TestFileStorageRejectsBadKeys(t *testing.T) {
	st, err := NewFileStorage(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	for _, key := range []string{"", "../token", ".hidden", `a\b`} {
		assert.Error(t, st.Set(context.Background(), key, "x"), key)
	}
}

func TestFileStorageIgnoresTempFiles(t *testing.T) {
	dir := t.TempDir()
	st, err := NewFileStorage(dir, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, st.Set(context.Background(), "role", "student"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "role", entries[0].Name())

	info, err := os.Stat(filepath.Join(dir, "role"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestMemoryStorageClose(t *testing.T) {
	m := NewMemoryStorage()
	ch, err := m.Watch(context.Background())
	require.NoError(t, err)

	require.NoError(t, m.Close())
	_, ok := <-ch
	assert.False(t, ok)

	assert.ErrorIs(t, m.Set(context.Background(), "token", "T1"), ErrClosed)
	_, err = m.Watch(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpenSelectsBackend(t *testing.T) {
	ctx := context.Background()

	st, err := Open(ctx, &config.Config{SessionBackend: config.SessionBackendMemory}, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &MemoryStorage{}, st)

	st, err = Open(ctx, &config.Config{SessionBackend: config.SessionBackendFile, SessionDir: t.TempDir()}, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &FileStorage{}, st)

	mr := miniredis.RunT(t)
	st, err = Open(ctx, &config.Config{
		SessionBackend:   config.SessionBackendRedis,
		RedisURL:         "redis://" + mr.Addr() + "/0",
		SessionNamespace: "lab",
	}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, st.Set(ctx, "token", "T1"))
	v, err := mr.Get("exstem:session:lab:token")
	require.NoError(t, err)
	assert.Equal(t, "T1", v)
	st.Close()

	_, err = Open(ctx, &config.Config{SessionBackend: "carrier-pigeon"}, zerolog.Nop())
	assert.Error(t, err)
}
