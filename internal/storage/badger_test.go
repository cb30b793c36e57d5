package storage

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T, inMemory bool) *Badger {
	t.Helper()

	cfg := InMemoryConfig()
	if !inMemory {
		cfg = DefaultConfig(filepath.Join(t.TempDir(), "test.db"))
	}
	eng, err := OpenBadger(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func TestBadger_PutGetDelete(t *testing.T) {
	for _, inMemory := range []bool{true, false} {
		t.Run(fmt.Sprintf("in_memory=%v", inMemory), func(t *testing.T) {
			eng := openTest(t, inMemory)

			require.NoError(t, eng.Put([]byte("k"), []byte("v")))
			got, err := eng.Get([]byte("k"))
			require.NoError(t, err)
			assert.Equal(t, []byte("v"), got)

			ok, err := eng.Has([]byte("k"))
			require.NoError(t, err)
			assert.True(t, ok)

			require.NoError(t, eng.Delete([]byte("k")))
			_, err = eng.Get([]byte("k"))
			assert.True(t, IsNotFound(err))

			ok, err = eng.Has([]byte("k"))
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}

	t.Log("✅ 读写删除正确")
}

func TestBadger_EmptyKey(t *testing.T) {
	eng := openTest(t, true)

	assert.ErrorIs(t, eng.Put(nil, []byte("v")), ErrEmptyKey)
	_, err := eng.Get(nil)
	assert.ErrorIs(t, err, ErrEmptyKey)

	t.Log("✅ 空键被拒绝")
}

func TestBadger_Scan(t *testing.T) {
	eng := openTest(t, true)

	for _, k := range []string{"a/2", "a/1", "b/1", "a/3"} {
		require.NoError(t, eng.Put([]byte(k), []byte(k)))
	}

	var keys []string
	require.NoError(t, eng.Scan([]byte("a/"), func(key, _ []byte) error {
		keys = append(keys, string(key))
		return nil
	}))
	assert.Equal(t, []string{"a/1", "a/2", "a/3"}, keys)

	keys = keys[:0]
	require.NoError(t, eng.Scan([]byte("a/"), func(key, _ []byte) error {
		keys = append(keys, string(key))
		return ErrStopScan
	}))
	assert.Equal(t, []string{"a/1"}, keys)

	t.Log("✅ 前缀遍历按键序且可提前结束")
}

func TestBadger_Closed(t *testing.T) {
	eng, err := OpenBadger(InMemoryConfig())
	require.NoError(t, err)
	require.NoError(t, eng.Close())
	require.NoError(t, eng.Close())

	assert.ErrorIs(t, eng.Put([]byte("k"), nil), ErrClosed)
	_, err = eng.Get([]byte("k"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, eng.Scan(nil, func(_, _ []byte) error { return nil }), ErrClosed)

	t.Log("✅ 关闭后操作返回 ErrClosed")
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, InMemoryConfig().Validate())
	assert.NoError(t, DefaultConfig("/tmp/x").Validate())
	assert.ErrorIs(t, (&Config{}).Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, (&Config{Path: "x", GCInterval: 1, GCDiscardRatio: 2}).Validate(), ErrInvalidConfig)

	var nilCfg *Config
	assert.ErrorIs(t, nilCfg.Validate(), ErrInvalidConfig)

	t.Log("✅ 引擎配置验证正确")
}
