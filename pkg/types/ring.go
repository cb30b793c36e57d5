package types

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// ============================================================================
//                              RingID - 环标识
// ============================================================================

// RingIDLen 环标识字节长度（160 位，与 Chord 的 SHA-1 标识空间一致）
const RingIDLen = 20

// RingID Chord 环上的标识符
//
// 大端序 160 位无符号整数，所有运算按 2^160 取模。
// 节点标识和查找键共用同一标识空间，分配后不可变。
type RingID [RingIDLen]byte

// ZeroRingID 零值标识
var ZeroRingID RingID

// ErrInvalidRingID 无效的环标识
var ErrInvalidRingID = errors.New("invalid ring ID: must be 20 bytes")

// RingIDFromUint64 由 uint64 构造 RingID（低 64 位）
//
// 主要用于测试和仿真中的小环。
func RingIDFromUint64(v uint64) RingID {
	var id RingID
	binary.BigEndian.PutUint64(id[RingIDLen-8:], v)
	return id
}

// RingIDFromBytes 从字节切片创建 RingID
func RingIDFromBytes(b []byte) (RingID, error) {
	if len(b) != RingIDLen {
		return ZeroRingID, ErrInvalidRingID
	}
	var id RingID
	copy(id[:], b)
	return id, nil
}

// HashRingID 计算数据的 SHA-1 并作为 RingID
func HashRingID(data []byte) RingID {
	return RingID(sha1.Sum(data))
}

// ParseRingID 解析十六进制 RingID
//
// 不足 40 个十六进制字符时按数值左侧补零，便于输入 "19" 这类短标识。
func ParseRingID(s string) (RingID, error) {
	if len(s) == 0 || len(s) > RingIDLen*2 {
		return ZeroRingID, ErrInvalidRingID
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return ZeroRingID, fmt.Errorf("%w: %v", ErrInvalidRingID, err)
	}
	var id RingID
	copy(id[RingIDLen-len(b):], b)
	return id, nil
}

// String 返回完整十六进制表示
func (id RingID) String() string {
	return hex.EncodeToString(id[:])
}

// ShortString 返回去掉前导零的十六进制表示（日志用）
func (id RingID) ShortString() string {
	s := bytes.TrimLeft(id[:], "\x00")
	if len(s) == 0 {
		return "0"
	}
	h := hex.EncodeToString(s)
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// Bytes 返回字节切片副本
func (id RingID) Bytes() []byte {
	b := make([]byte, RingIDLen)
	copy(b, id[:])
	return b
}

// IsZero 检查是否为零值
func (id RingID) IsZero() bool {
	return id == ZeroRingID
}

// Equal 比较是否相等
func (id RingID) Equal(other RingID) bool {
	return id == other
}

// Cmp 按无符号整数比较
//
//	-1 如果 id <  other
//	 0 如果 id == other
//	+1 如果 id >  other
func (id RingID) Cmp(other RingID) int {
	return bytes.Compare(id[:], other[:])
}

// Add 返回 (id + other) mod 2^160
func (id RingID) Add(other RingID) RingID {
	var out RingID
	carry := uint16(0)
	for i := RingIDLen - 1; i >= 0; i-- {
		sum := uint16(id[i]) + uint16(other[i]) + carry
		out[i] = byte(sum)
		carry = sum >> 8
	}
	return out
}

// Sub 返回 (id - other) mod 2^160
func (id RingID) Sub(other RingID) RingID {
	var out RingID
	borrow := int16(0)
	for i := RingIDLen - 1; i >= 0; i-- {
		diff := int16(id[i]) - int16(other[i]) - borrow
		if diff < 0 {
			diff += 256
			borrow = 1
		} else {
			borrow = 0
		}
		out[i] = byte(diff)
	}
	return out
}

// MarshalJSON 以十六进制字符串编码
func (id RingID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON 从十六进制字符串解码
func (id *RingID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseRingID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ============================================================================
//                              环上距离与区间
// ============================================================================

// Distance 顺时针距离 (to - from) mod 2^160
func Distance(from, to RingID) RingID {
	return to.Sub(from)
}

// Between 判断 x 是否位于开区间 (a, b)
//
// a == b 表示除 a 以外的整个环。
func Between(x, a, b RingID) bool {
	if a == b {
		return x != a
	}
	dx := Distance(a, x)
	return !dx.IsZero() && dx.Cmp(Distance(a, b)) < 0
}

// BetweenRightIncl 判断 x 是否位于左开右闭区间 (a, b]
//
// a == b 表示整个环（x 总在区间内）。
func BetweenRightIncl(x, a, b RingID) bool {
	if a == b {
		return true
	}
	dx := Distance(a, x)
	return !dx.IsZero() && dx.Cmp(Distance(a, b)) <= 0
}

// Brackets 判断相邻节点对 (pred, succ) 是否夹住 key
//
// 即 key ∈ (pred, succ]，此时 succ 是 key 的归属节点。
func Brackets(key, pred, succ RingID) bool {
	if pred == succ {
		return false
	}
	return BetweenRightIncl(key, pred, succ)
}
