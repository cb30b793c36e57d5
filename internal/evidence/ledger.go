package evidence

import (
	"fmt"

	"github.com/dep2p/go-secchord/internal/storage"
	"github.com/dep2p/go-secchord/internal/storage/kv"
	"github.com/dep2p/go-secchord/pkg/types"
)

// 账本键空间（相对账本前缀）
//
//	l/<suspect>/<unix_nano>/<seq>  证据 JSON
//	c/<suspect>                    证据计数
const (
	ledgerPrefix = "l/"
	countPrefix  = "c/"
)

// LedgerPrefix 证据账本在存储中的前缀
var LedgerPrefix = []byte("e/")

func entryPrefix(id types.RingID) []byte {
	return []byte(ledgerPrefix + id.String() + "/")
}

func entryKey(ev types.Evidence, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d/%010d", ledgerPrefix, ev.Suspect.ID, ev.ObservedAt.UnixNano(), seq))
}

func countKey(id types.RingID) []byte {
	return []byte(countPrefix + id.String())
}

// persist 写入一条证据并递增计数
func (r *Recorder) persist(ev types.Evidence) error {
	if err := r.ledger.PutJSON(entryKey(ev, r.seq.Add(1)), ev); err != nil {
		return err
	}
	_, err := r.ledger.IncrUint64(countKey(ev.Suspect.ID), 1)
	return err
}

// ledgerCount 账本中节点的证据计数，未启用账本或读取失败时为 0
func (r *Recorder) ledgerCount(id types.RingID) int {
	if r.ledger == nil {
		return 0
	}
	c, err := r.ledger.GetUint64(countKey(id))
	if err != nil {
		if !storage.IsNotFound(err) {
			logger.Debug("读取证据计数失败", "id", id.ShortString(), "error", err)
		}
		return 0
	}
	return int(c)
}

// listLedger 按时间顺序读取节点的全部证据
func (r *Recorder) listLedger(id types.RingID) ([]types.Evidence, error) {
	var out []types.Evidence
	err := kv.ScanJSON(r.ledger, entryPrefix(id), func(_ []byte, ev *types.Evidence) error {
		out = append(out, *ev)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
