// Package quic 提供基于 QUIC 的路由 RPC 传输
//
// 每次调用占用一条双向流：客户端写入一个请求帧后关闭写方向，
// 服务端回写一个应答帧。帧格式为 4 字节大端长度前缀加 JSON 正文。
//
// TLS 只用于建立加密信道：证书是每个进程启动时生成的自签名证书，
// 不承载节点身份。路由安全依赖多个独立应答者的交叉核对，而不是
// 传输层认证。
package quic

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"

	"github.com/dep2p/go-secchord/pkg/protocolids"
)

// ALPN 路由协议标识
const ALPN = protocolids.Route

// generateCertificate 生成自签名证书
func generateCertificate() (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("生成密钥失败: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return tls.Certificate{}, err
	}
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"secchord"},
			CommonName:   "secchord node",
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(180 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("创建证书失败: %w", err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}, nil
}

// serverTLSConfig 服务端 TLS 配置
func serverTLSConfig() (*tls.Config, error) {
	cert, err := generateCertificate()
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{ALPN},
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// clientTLSConfig 客户端 TLS 配置
//
// 服务端证书是自签名的，跳过 CA 验证；应答内容由路由层核对。
func clientTLSConfig() *tls.Config {
	return &tls.Config{
		NextProtos:         []string{ALPN},
		InsecureSkipVerify: true,
		MinVersion:         tls.VersionTLS13,
	}
}
