package quic

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/dep2p/go-secchord/pkg/types"
)

// 错误定义
var (
	// ErrFrameTooLarge 帧超过大小上限
	ErrFrameTooLarge = errors.New("quic: frame too large")

	// ErrClientClosed 客户端已关闭
	ErrClientClosed = errors.New("quic: client closed")

	// ErrServerClosed 服务端已关闭
	ErrServerClosed = errors.New("quic: server closed")

	// ErrRemote 对端返回的错误
	ErrRemote = errors.New("quic: remote error")
)

// 应答错误码
const (
	codeUnsupported = "unsupported"
	codeInternal    = "internal"
)

// response 应答帧
type response struct {
	Reply *types.RouteReply `json:"reply,omitempty"`
	Error string            `json:"error,omitempty"`
	Code  string            `json:"code,omitempty"`
}

// writeFrame 写入长度前缀的 JSON 帧
func writeFrame(w io.Writer, v any, maxSize int) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("编码帧失败: %w", err)
	}
	if len(data) > maxSize {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(data), maxSize)
	}

	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(data)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// readFrame 读取长度前缀的 JSON 帧
func readFrame(r io.Reader, v any, maxSize int) error {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if int64(n) > int64(maxSize) {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, maxSize)
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	if err := json.Unmarshal(buf, v); err != nil {
		return fmt.Errorf("解码帧失败: %w", err)
	}
	return nil
}
