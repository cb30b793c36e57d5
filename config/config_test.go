package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewConfig 测试创建默认配置
func TestNewConfig(t *testing.T) {
	cfg := NewConfig()
	require.NotNil(t, cfg)
	assert.NoError(t, cfg.Validate())

	assert.Equal(t, 4, cfg.Routing.SuccListSize)
	assert.Equal(t, 3, cfg.Routing.EffectiveQuorum(), "默认取多数")
	assert.Equal(t, 5*time.Second, cfg.Routing.RPCTimeout.Duration())

	t.Log("✅ NewConfig 测试通过")
}

// TestRoutingConfig 测试路由配置
func TestRoutingConfig(t *testing.T) {
	t.Run("ExplicitQuorum", func(t *testing.T) {
		cfg := DefaultRoutingConfig()
		cfg.Quorum = 2
		assert.Equal(t, 2, cfg.EffectiveQuorum())
		assert.NoError(t, cfg.Validate())
	})

	t.Run("QuorumTooLarge", func(t *testing.T) {
		cfg := DefaultRoutingConfig()
		cfg.Quorum = cfg.SuccListSize + 1
		assert.Error(t, cfg.Validate())
	})

	t.Run("ZeroHops", func(t *testing.T) {
		cfg := DefaultRoutingConfig()
		cfg.MaxHops = 0
		assert.Error(t, cfg.Validate())
	})
}

// TestRPCConfig 测试 RPC 配置
func TestRPCConfig(t *testing.T) {
	cfg := DefaultRPCConfig()
	cfg.Transport = "tcp"
	assert.Error(t, cfg.Validate())

	cfg = DefaultRPCConfig()
	cfg.Transport = TransportQUIC
	cfg.ListenAddr = ""
	assert.Error(t, cfg.Validate())

	cfg = DefaultRPCConfig()
	cfg.RateBurst = 0
	assert.Error(t, cfg.Validate())
}

// TestDuration_JSON 测试 Duration 的 JSON 编解码
func TestDuration_JSON(t *testing.T) {
	var v struct {
		D Duration `json:"d"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"d":"250ms"}`), &v))
	assert.Equal(t, 250*time.Millisecond, v.D.Duration())

	require.NoError(t, json.Unmarshal([]byte(`{"d":1000}`), &v))
	assert.Equal(t, time.Microsecond, v.D.Duration())

	assert.Error(t, json.Unmarshal([]byte(`{"d":"soon"}`), &v))

	out, err := json.Marshal(Duration(3 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, `"3s"`, string(out))
}

// TestFromJSON 测试部分字段覆盖
func TestFromJSON(t *testing.T) {
	cfg, err := FromJSON([]byte(`{"routing":{"succ_list_size":8,"rpc_timeout":"2s"}}`))
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Routing.SuccListSize)
	assert.Equal(t, 5, cfg.Routing.EffectiveQuorum())
	assert.Equal(t, 2*time.Second, cfg.Routing.RPCTimeout.Duration())
	assert.Equal(t, TransportSim, cfg.RPC.Transport, "未出现的字段保留默认值")
}

// TestLoad 测试从文件加载
func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secchord.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"routing":{"quorum":9}}`), 0o600))

	_, err := Load(path)
	assert.Error(t, err, "法定数超过后继列表长度")

	require.NoError(t, os.WriteFile(path, []byte(`{"storage":{"in_memory":true,"data_dir":""}}`), 0o600))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Storage.InMemory)

	_, err = Load(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

// TestApplyPreset 测试预设
func TestApplyPreset(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, ApplyPreset(cfg, "hardened"))
	assert.Equal(t, 8, cfg.Routing.SuccListSize)
	assert.Equal(t, 5, cfg.Routing.EffectiveQuorum())
	assert.NoError(t, cfg.Validate())

	cfg = NewConfig()
	require.NoError(t, ApplyPreset(cfg, "test"))
	assert.True(t, cfg.Storage.InMemory)
	assert.False(t, cfg.Metrics.Enable)
	assert.NoError(t, cfg.Validate())

	assert.Error(t, ApplyPreset(cfg, "mobile"))
	assert.Error(t, ApplyPreset(nil, "test"))

	t.Log("✅ 预设测试通过")
}

// TestValidateAndFix 测试自动修复
func TestValidateAndFix(t *testing.T) {
	cfg := NewConfig()
	cfg.Routing.Quorum = 10
	cfg.Routing.RPCTimeout = 0
	cfg.RPC.RateBurst = 0

	fixed, err := ValidateAndFix(cfg)
	require.NoError(t, err)
	assert.Equal(t, 0, fixed.Routing.Quorum)
	assert.Equal(t, DefaultRoutingConfig().RPCTimeout, fixed.Routing.RPCTimeout)
	assert.Equal(t, DefaultRPCConfig().RateBurst, fixed.RPC.RateBurst)

	fresh, err := ValidateAndFix(nil)
	require.NoError(t, err)
	assert.NotNil(t, fresh)
}
