package sim

import (
	"github.com/dep2p/go-secchord/internal/ring"
	"github.com/dep2p/go-secchord/pkg/types"
)

// RegisterRing 把静态环上的所有节点注册为诚实应答者
func (n *Network) RegisterRing(r *ring.Ring) error {
	for _, node := range r.Nodes() {
		if err := n.Register(node.Self(), node); err != nil {
			return err
		}
	}
	logger.Debug("静态环已注册到仿真网络", "nodes", r.Len())
	return nil
}

// NewRingNetwork 构建静态环并注册到新的仿真网络
func NewRingNetwork(descs []types.NodeDescriptor, succListSize int, opts ...Option) (*ring.Ring, *Network, error) {
	r, err := ring.Build(descs, succListSize)
	if err != nil {
		return nil, nil, err
	}
	net := NewNetwork(opts...)
	if err := net.RegisterRing(r); err != nil {
		return nil, nil, err
	}
	return r, net, nil
}
