package kv

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-secchord/internal/storage"
)

func testEngine(t *testing.T) storage.Engine {
	t.Helper()

	eng, err := storage.OpenBadger(storage.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func TestStore_PrefixIsolation(t *testing.T) {
	eng := testEngine(t)
	a := New(eng, []byte("a/"))
	b := New(eng, []byte("b/"))

	require.NoError(t, a.Put([]byte("k"), []byte("1")))
	require.NoError(t, b.Put([]byte("k"), []byte("2")))

	got, err := a.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), got)

	raw, err := eng.Get([]byte("b/k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), raw)

	require.NoError(t, a.Delete([]byte("k")))
	ok, err := a.Has([]byte("k"))
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = b.Has([]byte("k"))
	require.NoError(t, err)
	assert.True(t, ok)

	t.Log("✅ 前缀隔离正确")
}

func TestStore_JSON(t *testing.T) {
	s := New(testEngine(t), []byte("j/"))

	type item struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	require.NoError(t, s.PutJSON([]byte("x"), item{"x", 3}))

	var got item
	require.NoError(t, s.GetJSON([]byte("x"), &got))
	assert.Equal(t, item{"x", 3}, got)

	err := s.GetJSON([]byte("missing"), &got)
	assert.True(t, storage.IsNotFound(err))

	t.Log("✅ JSON 读写正确")
}

func TestStore_ScanStripsPrefix(t *testing.T) {
	s := New(testEngine(t), []byte("e/")).Sub([]byte("l/"))

	require.NoError(t, s.Put([]byte("n1/001"), []byte(`{"v":1}`)))
	require.NoError(t, s.Put([]byte("n1/002"), []byte(`{"v":2}`)))
	require.NoError(t, s.Put([]byte("n2/001"), []byte(`{"v":3}`)))

	var keys []string
	require.NoError(t, s.Scan([]byte("n1/"), func(key, _ []byte) error {
		keys = append(keys, string(key))
		return nil
	}))
	assert.Equal(t, []string{"n1/001", "n1/002"}, keys)

	type val struct {
		V int `json:"v"`
	}
	var sum int
	require.NoError(t, ScanJSON(s, nil, func(_ []byte, v *val) error {
		sum += v.V
		return nil
	}))
	assert.Equal(t, 6, sum)

	t.Log("✅ 遍历去除前缀并可解码 JSON")
}

func TestStore_IncrUint64Concurrent(t *testing.T) {
	s := New(testEngine(t), []byte("c/"))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.IncrUint64([]byte("n"), 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	v, err := s.GetUint64([]byte("n"))
	require.NoError(t, err)
	assert.Equal(t, uint64(20), v)

	require.NoError(t, s.Put([]byte("bad"), []byte{1, 2}))
	_, err = s.GetUint64([]byte("bad"))
	assert.ErrorIs(t, err, storage.ErrCorrupted)

	t.Log("✅ 并发计数正确")
}
