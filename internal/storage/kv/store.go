// Package kv 提供带前缀隔离的键值存储
//
//	eng, _ := storage.OpenBadger(storage.InMemoryConfig())
//	ledger := kv.New(eng, []byte("e/"))
//	ledger.PutJSON([]byte("l/abc"), ev) // 实际键: e/l/abc
package kv

import (
	"encoding/binary"
	"encoding/json"
	"sync"

	"github.com/dep2p/go-secchord/internal/storage"
)

// Store 带前缀隔离的键值存储
type Store struct {
	engine storage.Engine
	prefix []byte
	mu     sync.Mutex
}

// New 创建存储，所有键自动加上 prefix
func New(eng storage.Engine, prefix []byte) *Store {
	return &Store{
		engine: eng,
		prefix: append([]byte(nil), prefix...),
	}
}

// Sub 创建子命名空间
func (s *Store) Sub(prefix []byte) *Store {
	return New(s.engine, s.prefixKey(prefix))
}

func (s *Store) prefixKey(key []byte) []byte {
	out := make([]byte, len(s.prefix)+len(key))
	copy(out, s.prefix)
	copy(out[len(s.prefix):], key)
	return out
}

// Get 读取值
func (s *Store) Get(key []byte) ([]byte, error) {
	return s.engine.Get(s.prefixKey(key))
}

// Put 写入值
func (s *Store) Put(key, value []byte) error {
	return s.engine.Put(s.prefixKey(key), value)
}

// Delete 删除键
func (s *Store) Delete(key []byte) error {
	return s.engine.Delete(s.prefixKey(key))
}

// Has 检查键是否存在
func (s *Store) Has(key []byte) (bool, error) {
	return s.engine.Has(s.prefixKey(key))
}

// GetJSON 读取并解码 JSON 值
func (s *Store) GetJSON(key []byte, v any) error {
	data, err := s.Get(key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// PutJSON 编码并写入 JSON 值
func (s *Store) PutJSON(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Put(key, data)
}

// GetUint64 读取 uint64 值
func (s *Store) GetUint64(key []byte) (uint64, error) {
	data, err := s.Get(key)
	if err != nil {
		return 0, err
	}
	if len(data) != 8 {
		return 0, storage.ErrCorrupted
	}
	return binary.BigEndian.Uint64(data), nil
}

// PutUint64 写入 uint64 值
func (s *Store) PutUint64(key []byte, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return s.Put(key, buf[:])
}

// IncrUint64 递增计数并返回新值，键不存在时从 0 开始
//
// 只对同一个 Store 实例上的并发调用是原子的。
func (s *Store) IncrUint64(key []byte, delta uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.GetUint64(key)
	if err != nil && !storage.IsNotFound(err) {
		return 0, err
	}
	next := cur + delta
	if err := s.PutUint64(key, next); err != nil {
		return 0, err
	}
	return next, nil
}

// Scan 遍历前缀下的键值对，回调收到的键已去掉本存储的前缀
func (s *Store) Scan(prefix []byte, fn func(key, value []byte) error) error {
	n := len(s.prefix)
	return s.engine.Scan(s.prefixKey(prefix), func(key, value []byte) error {
		return fn(key[n:], value)
	})
}

// ScanJSON 遍历前缀并把每个值解码为新的 T
func ScanJSON[T any](s *Store, prefix []byte, fn func(key []byte, v *T) error) error {
	return s.Scan(prefix, func(key, value []byte) error {
		v := new(T)
		if err := json.Unmarshal(value, v); err != nil {
			return err
		}
		return fn(key, v)
	})
}
