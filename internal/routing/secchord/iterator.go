package secchord

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/dep2p/go-secchord/internal/rpc"
	"github.com/dep2p/go-secchord/pkg/interfaces"
	"github.com/dep2p/go-secchord/pkg/lib/log"
	"github.com/dep2p/go-secchord/pkg/types"
)

var logger = log.Logger("routing/secchord")

// ============================================================================
//                              状态
// ============================================================================

type iterState int

const (
	stateIdle iterState = iota
	stateFirstHopSent
	stateHopPending
	stateHopSettled
	stateBracketed
	stateFailed
)

func (s iterState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateFirstHopSent:
		return "first_hop_sent"
	case stateHopPending:
		return "hop_pending"
	case stateHopSettled:
		return "hop_settled"
	case stateBracketed:
		return "bracketed"
	case stateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s iterState) pending() bool {
	return s == stateFirstHopSent || s == stateHopPending
}

// bracketPair 一个被报告为夹住 key 的相邻节点对 (pred, succ]
type bracketPair struct {
	pred      types.NodeDescriptor
	succ      types.NodeDescriptor
	reporters map[types.RingID]struct{}
}

func (p *bracketPair) ids() [2]types.RingID {
	return [2]types.RingID{p.pred.ID, p.succ.ID}
}

// hopState 当前一跳的状态
type hopState struct {
	outstanding  int
	lasthop      types.NodeDescriptor
	bracketedKey int
	pairs        []*bracketPair
	queried      map[types.RingID]struct{}
	retries      int
	rpcErrors    int
	lastErr      error
}

func newHopState(lasthop types.NodeDescriptor) hopState {
	return hopState{
		lasthop: lasthop,
		queried: make(map[types.RingID]struct{}),
	}
}

// pendingCall 一次尚未完成的 RPC
type pendingCall struct {
	handle  interfaces.RPCHandle
	cancel  context.CancelFunc
	counted bool // 计入 outstanding（Probe 不计入）
}

// effects 在锁外执行的副作用
type effects struct {
	cancel   []pendingCall
	evidence []types.Evidence
	events   []interfaces.HopResult
}

// gate 安全门限的判定结果
type gateKind int

const (
	gateNone gateKind = iota
	gateBracketed
	gateAdvance
	gateContradiction
)

type gateDecision struct {
	kind gateKind
	pair *bracketPair
	node types.NodeDescriptor
}

// ============================================================================
//                              Iterator
// ============================================================================

// Iterator 安全路由迭代器
//
// 每跳向一组候选后继并行查询，交叉核对应答，只有在法定数量的独立应答
// 一致时才前进或宣布归属节点。同一查找的应答在互斥锁下逐个处理，
// 回调总是在锁外调用。
type Iterator struct {
	cfg        *Config
	key        types.RingID
	local      interfaces.LocalNode
	dispatcher interfaces.Dispatcher
	recorder   interfaces.EvidenceRecorder
	metrics    *Metrics
	upcall     *types.UpcallSpec
	onClose    func(*Iterator)

	mu           sync.Mutex
	state        iterState
	closed       bool
	ctx          context.Context
	cancel       context.CancelFunc
	cb           interfaces.HopFunc
	useUpcall    bool
	self         types.NodeDescriptor
	localBracket *bracketPair
	fromGuess    bool
	guessFailed  bool
	started      time.Time

	cands      *CandidateSet
	hop        hopState
	path       []types.NodeDescriptor
	gen        uint64
	seq        uint64
	calls      map[uint64]pendingCall
	backtracks int
}

var _ interfaces.RouteIterator = (*Iterator)(nil)

func newIterator(cfg *Config, key types.RingID, local interfaces.LocalNode, d interfaces.Dispatcher,
	recorder interfaces.EvidenceRecorder, metrics *Metrics, upcall *types.UpcallSpec) *Iterator {
	return &Iterator{
		cfg:        cfg,
		key:        key,
		local:      local,
		dispatcher: d,
		recorder:   recorder,
		metrics:    metrics,
		upcall:     upcall,
		cands:      NewCandidateSet(key),
		hop:        newHopState(types.NodeDescriptor{}),
		calls:      make(map[uint64]pendingCall),
	}
}

// Key 查找目标
func (it *Iterator) Key() types.RingID {
	return it.key
}

// Upcall 迭代器携带的 upcall（可为 nil）
func (it *Iterator) Upcall() *types.UpcallSpec {
	return it.upcall
}

// Path 已接受路径的副本，首元素为发起节点
func (it *Iterator) Path() []types.NodeDescriptor {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.pathLocked()
}

func (it *Iterator) pathLocked() []types.NodeDescriptor {
	return append([]types.NodeDescriptor(nil), it.path...)
}

func (it *Iterator) lastHopLocked() types.NodeDescriptor {
	if len(it.path) == 0 {
		return it.self
	}
	return it.path[len(it.path)-1]
}

// inRange 节点是否严格位于发起节点与 key 之间
func (it *Iterator) inRange(id types.RingID) bool {
	return types.Between(id, it.self.ID, it.key)
}

// ============================================================================
//                              首跳
// ============================================================================

// FirstHop 从本地路由状态开始查找
//
// 发起节点自己的后继列表视为可信的本地视图；若它已夹住 key，
// 查找在首跳直接确认。cb 可能在 FirstHop 返回之前被调用。
func (it *Iterator) FirstHop(ctx context.Context, cb interfaces.HopFunc, useUpcall bool) error {
	var fx effects

	it.mu.Lock()
	if err := it.startLocked(ctx, cb, useUpcall); err != nil {
		it.mu.Unlock()
		return err
	}
	if !it.evaluateLocked(&fx) {
		targets := it.localTargetsLocked()
		if len(targets) == 0 {
			it.failLocked(&fx, ReasonNoRoute, ErrNoRoute)
		} else {
			it.sendLocked(targets, true, &fx)
		}
	}
	it.mu.Unlock()

	it.flush(fx)
	return nil
}

// FirstHopFrom 从外部提供的猜测节点开始查找
//
// 先单独查询 guess：若其失败则退回本地路由状态扇出，否则在合并后的
// 候选集上选出下一轮目标。迭代器携带 upcall 时在确认后投递。
func (it *Iterator) FirstHopFrom(ctx context.Context, cb interfaces.HopFunc, guess types.NodeDescriptor) error {
	var fx effects

	it.mu.Lock()
	if err := it.startLocked(ctx, cb, it.upcall != nil); err != nil {
		it.mu.Unlock()
		return err
	}
	if !it.evaluateLocked(&fx) {
		if guess.IsZero() || guess.ID == it.self.ID {
			targets := it.localTargetsLocked()
			if len(targets) == 0 {
				it.failLocked(&fx, ReasonNoRoute, ErrNoRoute)
			} else {
				it.sendLocked(targets, true, &fx)
			}
		} else {
			it.fromGuess = true
			it.sendLocked([]types.NodeDescriptor{guess}, true, &fx)
		}
	}
	it.mu.Unlock()

	it.flush(fx)
	return nil
}

func (it *Iterator) startLocked(ctx context.Context, cb interfaces.HopFunc, useUpcall bool) error {
	if it.closed {
		return ErrClosed
	}
	if it.state != stateIdle {
		return fmt.Errorf("%w: first hop in state %s", ErrInvalidState, it.state)
	}
	if cb == nil {
		return fmt.Errorf("%w: nil continuation", ErrInvalidState)
	}

	it.ctx, it.cancel = context.WithCancel(ctx)
	it.cb = cb
	it.useUpcall = useUpcall
	it.self = it.local.Self()
	it.path = append(it.path[:0], it.self)
	it.hop = newHopState(it.self)
	it.started = time.Now()
	it.state = stateFirstHopSent

	// 本地后继列表作为发起节点自己的报告
	prev := it.self
	for _, s := range it.local.Successors() {
		if s.ID == it.self.ID {
			continue
		}
		it.cands.InsertOrMerge(s, it.self.ID)
		if it.localBracket == nil && types.Brackets(it.key, prev.ID, s.ID) {
			it.localBracket = &bracketPair{
				pred:      prev,
				succ:      s,
				reporters: map[types.RingID]struct{}{it.self.ID: {}},
			}
		}
		prev = s
	}

	logger.Debug("开始查找", "key", it.key.ShortString(), "self", it.self.String(),
		"successors", it.cands.Len(), "localBracket", it.localBracket != nil)
	return nil
}

// localTargetsLocked 本地路由表中最接近 key 的 SuccListSize 个前驱
func (it *Iterator) localTargetsLocked() []types.NodeDescriptor {
	local := NewCandidateSet(it.key)
	for _, d := range it.local.Successors() {
		local.InsertOrMerge(d, it.self.ID)
	}
	for _, d := range it.local.Fingers() {
		local.InsertOrMerge(d, it.self.ID)
	}
	entries := local.Preceding(it.cfg.SuccListSize, func(e CandidateEntry) bool {
		_, queried := it.hop.queried[e.Node.ID]
		return queried || !it.inRange(e.Node.ID)
	})
	return descriptors(entries)
}

// expandLocked 从当前候选集选出尚未查询过的目标
func (it *Iterator) expandLocked() []types.NodeDescriptor {
	entries := it.cands.Select(it.cfg.SuccListSize, it.cfg.Quorum, func(e CandidateEntry) bool {
		_, queried := it.hop.queried[e.Node.ID]
		return queried || !it.inRange(e.Node.ID)
	})
	return descriptors(entries)
}

func descriptors(entries []CandidateEntry) []types.NodeDescriptor {
	out := make([]types.NodeDescriptor, len(entries))
	for i, e := range entries {
		out[i] = e.Node
	}
	return out
}

// ============================================================================
//                              发送与应答
// ============================================================================

func (it *Iterator) sendLocked(targets []types.NodeDescriptor, counted bool, fx *effects) {
	gen := it.gen
	for _, t := range targets {
		it.seq++
		seq, dst := it.seq, t

		callCtx, cancel := context.WithTimeout(it.ctx, it.cfg.RPCTimeout)
		req := &types.RouteRequest{Op: types.OpGetSuccessors, Key: it.key}
		h := it.dispatcher.InvokeAsync(callCtx, dst, req, func(reply *types.RouteReply, err error) {
			it.onReply(gen, seq, dst, reply, err)
		})

		it.calls[seq] = pendingCall{handle: h, cancel: cancel, counted: counted}
		it.hop.queried[dst.ID] = struct{}{}
		if counted {
			it.hop.outstanding++
		}
	}
	logger.Debug("发出查询", "key", it.key.ShortString(), "hop", len(it.path),
		"targets", len(targets), "outstanding", it.hop.outstanding)
}

func (it *Iterator) onReply(gen, seq uint64, dst types.NodeDescriptor, reply *types.RouteReply, err error) {
	var fx effects

	it.mu.Lock()
	call, ok := it.calls[seq]
	if !ok || it.closed || gen != it.gen || !it.state.pending() {
		// 已结束的一跳或已关闭的迭代器：丢弃
		it.mu.Unlock()
		return
	}
	delete(it.calls, seq)
	call.cancel()
	if call.counted {
		it.hop.outstanding--
	}

	if err == nil {
		err = it.validateReply(dst, reply)
	}
	if err != nil {
		it.rpcErrorLocked(dst, err, &fx)
		if it.fromGuess {
			it.guessFailed = true
		}
	} else {
		it.mergeLocked(dst, reply.Nodes, &fx)
	}

	if !it.evaluateLocked(&fx) && call.counted && it.hop.outstanding == 0 {
		it.unresolvedLocked(&fx)
	}
	it.mu.Unlock()

	it.flush(fx)
}

// validateReply 检查后继列表应答的结构
//
// 非空、无重复、不含应答者自身、按距应答者的顺时针距离严格递增，
// 长度不超过 SuccListSize。
func (it *Iterator) validateReply(dst types.NodeDescriptor, reply *types.RouteReply) error {
	if reply == nil || len(reply.Nodes) == 0 {
		return fmt.Errorf("%w: empty successor list", rpc.ErrMalformedReply)
	}
	if len(reply.Nodes) > it.cfg.SuccListSize {
		return fmt.Errorf("%w: %d entries exceed succ list size %d",
			rpc.ErrMalformedReply, len(reply.Nodes), it.cfg.SuccListSize)
	}
	var prev types.RingID
	seen := make(map[types.RingID]struct{}, len(reply.Nodes))
	for i, n := range reply.Nodes {
		if n.ID == dst.ID {
			return fmt.Errorf("%w: contains responder", rpc.ErrMalformedReply)
		}
		if _, dup := seen[n.ID]; dup {
			return fmt.Errorf("%w: duplicate entry %s", rpc.ErrMalformedReply, n.ID.ShortString())
		}
		seen[n.ID] = struct{}{}
		d := types.Distance(dst.ID, n.ID)
		if i > 0 && d.Cmp(prev) <= 0 {
			return fmt.Errorf("%w: entries out of ring order", rpc.ErrMalformedReply)
		}
		prev = d
	}
	return nil
}

func (it *Iterator) rpcErrorLocked(dst types.NodeDescriptor, err error, fx *effects) {
	it.hop.rpcErrors++
	it.hop.lastErr = err
	it.metrics.rpcError(rpc.Kind(err))
	logger.Debug("查询失败", "key", it.key.ShortString(), "dst", dst.String(), "error", err)

	if errors.Is(err, rpc.ErrMalformedReply) {
		fx.evidence = append(fx.evidence, types.Evidence{
			Kind:       types.EvidenceMalformedReply,
			Key:        it.key,
			Suspect:    dst,
			Detail:     err.Error(),
			ObservedAt: time.Now(),
		})
	}
}

// mergeLocked 合并应答：每个描述计一次佐证，并从链中提取夹键报告
func (it *Iterator) mergeLocked(dst types.NodeDescriptor, nodes []types.NodeDescriptor, fx *effects) {
	for _, n := range nodes {
		it.cands.InsertOrMerge(n, dst.ID)
	}

	prev := dst
	for _, n := range nodes {
		if types.Brackets(it.key, prev.ID, n.ID) {
			it.reportPairLocked(prev, n, dst, fx)
			break
		}
		prev = n
	}
}

func (it *Iterator) reportPairLocked(pred, succ, reporter types.NodeDescriptor, fx *effects) {
	for _, p := range it.hop.pairs {
		if p.pred.ID == pred.ID && p.succ.ID == succ.ID {
			p.reporters[reporter.ID] = struct{}{}
			it.hop.bracketedKey = it.leadingCountLocked()
			return
		}
	}

	if lead := it.leadingPairLocked(); lead != nil {
		fx.evidence = append(fx.evidence, types.Evidence{
			Kind:        types.EvidenceContradictoryPair,
			Key:         it.key,
			Suspect:     reporter,
			Pair:        [2]types.RingID{pred.ID, succ.ID},
			Conflicting: lead.ids(),
			Detail:      "bracket pair differs from earlier reports",
			ObservedAt:  time.Now(),
		})
	}
	it.hop.pairs = append(it.hop.pairs, &bracketPair{
		pred:      pred,
		succ:      succ,
		reporters: map[types.RingID]struct{}{reporter.ID: {}},
	})
	it.hop.bracketedKey = it.leadingCountLocked()
}

// leadingPairLocked 报告者最多的节点对；并列时取最先出现的
func (it *Iterator) leadingPairLocked() *bracketPair {
	var lead *bracketPair
	for _, p := range it.hop.pairs {
		if lead == nil || len(p.reporters) > len(lead.reporters) {
			lead = p
		}
	}
	return lead
}

func (it *Iterator) leadingCountLocked() int {
	if lead := it.leadingPairLocked(); lead != nil {
		return len(lead.reporters)
	}
	return 0
}

// ============================================================================
//                              安全门限
// ============================================================================

// gateLocked 即 sufficient_successors()
func (it *Iterator) gateLocked() gateDecision {
	if it.localBracket != nil {
		return gateDecision{kind: gateBracketed, pair: it.localBracket}
	}

	last := it.lastHopLocked()
	if lead := it.leadingPairLocked(); lead != nil && len(lead.reporters) >= it.cfg.Quorum {
		if types.Between(last.ID, lead.pred.ID, lead.succ.ID) {
			return gateDecision{kind: gateContradiction, pair: lead}
		}
		return gateDecision{kind: gateBracketed, pair: lead}
	}

	lastDist := predDistance(it.key, last.ID)
	for _, e := range it.cands.Preceding(0, nil) {
		if predDistance(it.key, e.Node.ID).Cmp(lastDist) >= 0 {
			break
		}
		if e.Count >= it.cfg.Quorum {
			return gateDecision{kind: gateAdvance, node: e.Node}
		}
	}
	return gateDecision{kind: gateNone}
}

// evaluateLocked 评估门限并执行结果；返回 true 表示本跳已结束
func (it *Iterator) evaluateLocked(fx *effects) bool {
	for {
		d := it.gateLocked()
		switch d.kind {
		case gateBracketed:
			it.bracketLocked(d.pair.succ, fx)
			return true
		case gateAdvance:
			it.acceptLocked(d.node, fx)
			return true
		case gateContradiction:
			if it.backtrackLocked(d.pair, fx) {
				return true
			}
		default:
			return false
		}
	}
}

// backtrackLocked 处理矛盾；返回 true 表示查找因此失败
func (it *Iterator) backtrackLocked(pair *bracketPair, fx *effects) bool {
	if len(it.path) <= 1 {
		// 与发起节点的本地视图矛盾：丢弃该节点对
		for id := range pair.reporters {
			fx.evidence = append(fx.evidence, types.Evidence{
				Kind:       types.EvidenceContradictoryPair,
				Key:        it.key,
				Suspect:    types.NodeDescriptor{ID: id},
				Pair:       pair.ids(),
				Detail:     "bracket pair encloses the lookup origin",
				ObservedAt: time.Now(),
			})
		}
		it.dropPairLocked(pair)
		return false
	}

	if it.backtracks >= it.cfg.MaxBacktracks {
		it.failLocked(fx, ReasonContradiction,
			fmt.Errorf("%w: %w after %d backtracks", ErrQuorumFailure, ErrContradiction, it.backtracks))
		return true
	}

	popped := it.path[len(it.path)-1]
	it.path = it.path[:len(it.path)-1]
	it.hop.lasthop = it.lastHopLocked()
	it.backtracks++
	it.metrics.backtrack()
	fx.evidence = append(fx.evidence, types.Evidence{
		Kind:       types.EvidenceInvalidatedHop,
		Key:        it.key,
		Suspect:    popped,
		Pair:       pair.ids(),
		Detail:     "accepted hop lies inside a quorum bracket",
		ObservedAt: time.Now(),
	})
	if it.state == stateHopSettled {
		it.state = stateHopPending
	}
	logger.Info("发现矛盾，撤销一跳", "key", it.key.ShortString(), "popped", popped.String(),
		"pair", fmt.Sprintf("(%s, %s]", pair.pred, pair.succ), "backtracks", it.backtracks)
	return false
}

func (it *Iterator) dropPairLocked(pair *bracketPair) {
	for i, p := range it.hop.pairs {
		if p == pair {
			it.hop.pairs = append(it.hop.pairs[:i], it.hop.pairs[i+1:]...)
			break
		}
	}
	it.hop.bracketedKey = it.leadingCountLocked()
}

// unresolvedLocked 本跳所有查询都已返回但门限未通过
func (it *Iterator) unresolvedLocked(fx *effects) {
	if err := it.ctx.Err(); err != nil {
		it.failLocked(fx, ReasonCanceled, fmt.Errorf("%w: %w", ErrQuorumFailure, err))
		return
	}

	if it.fromGuess {
		it.fromGuess = false
		var targets []types.NodeDescriptor
		if !it.guessFailed {
			targets = it.expandLocked()
		}
		if len(targets) == 0 {
			targets = it.localTargetsLocked()
		}
		if len(targets) > 0 {
			it.sendLocked(targets, true, fx)
			return
		}
	} else if it.hop.retries < it.cfg.MaxHopRetries {
		if targets := it.expandLocked(); len(targets) > 0 {
			it.hop.retries++
			it.metrics.retry()
			logger.Debug("本跳未达法定数，扩展候选重试", "key", it.key.ShortString(),
				"retry", it.hop.retries, "targets", len(targets))
			it.sendLocked(targets, true, fx)
			return
		}
	}

	err := fmt.Errorf("%w: hop %d settled with %d pair reports (best %d/%d), %d rpc errors",
		ErrQuorumFailure, len(it.path), len(it.hop.pairs), it.hop.bracketedKey, it.cfg.Quorum, it.hop.rpcErrors)
	if it.hop.lastErr != nil {
		err = fmt.Errorf("%w, last: %v", err, it.hop.lastErr)
	}
	it.failLocked(fx, ReasonQuorum, err)
}

// ============================================================================
//                              结算
// ============================================================================

// settleCallsLocked 结束当前一跳：取消未完成的调用，迟到的应答按代数丢弃
func (it *Iterator) settleCallsLocked(fx *effects) {
	for seq, c := range it.calls {
		fx.cancel = append(fx.cancel, c)
		delete(it.calls, seq)
	}
	it.gen++
	it.hop.outstanding = 0
}

func (it *Iterator) acceptLocked(x types.NodeDescriptor, fx *effects) {
	if len(it.path)-1 >= it.cfg.MaxHops {
		it.failLocked(fx, ReasonHopBudget, fmt.Errorf("%w: hop budget %d exhausted", ErrNoRoute, it.cfg.MaxHops))
		return
	}

	it.settleCallsLocked(fx)
	it.path = append(it.path, x)
	it.hop.lasthop = x
	it.state = stateHopSettled

	logger.Debug("本跳确认", "key", it.key.ShortString(), "hop", len(it.path)-1, "node", x.String())
	fx.events = append(fx.events, interfaces.HopResult{
		Status: interfaces.HopAdvanced,
		Hop:    x,
		Path:   it.pathLocked(),
	})
}

func (it *Iterator) bracketLocked(owner types.NodeDescriptor, fx *effects) {
	it.settleCallsLocked(fx)
	it.localBracket = nil
	it.state = stateBracketed

	if it.useUpcall && it.upcall != nil {
		it.seq++
		seq, gen := it.seq, it.gen
		callCtx, cancel := context.WithTimeout(it.ctx, it.cfg.RPCTimeout)
		req := &types.RouteRequest{Op: types.OpUpcall, Key: it.key, Upcall: it.upcall}
		h := it.dispatcher.InvokeAsync(callCtx, owner, req, func(reply *types.RouteReply, err error) {
			it.onUpcall(gen, seq, owner, reply, err)
		})
		it.calls[seq] = pendingCall{handle: h, cancel: cancel}
		return
	}

	it.finishLocked(interfaces.HopResult{
		Status: interfaces.HopBracketed,
		Owner:  owner,
		Path:   it.pathLocked(),
	}, fx)
}

func (it *Iterator) onUpcall(gen, seq uint64, owner types.NodeDescriptor, reply *types.RouteReply, err error) {
	var fx effects

	it.mu.Lock()
	call, ok := it.calls[seq]
	if !ok || it.closed || gen != it.gen || it.state != stateBracketed {
		it.mu.Unlock()
		return
	}
	delete(it.calls, seq)
	call.cancel()

	res := interfaces.HopResult{
		Status: interfaces.HopBracketed,
		Owner:  owner,
		Path:   it.pathLocked(),
	}
	if err != nil {
		res.UpcallErr = err
		logger.Warn("upcall 投递失败", "key", it.key.ShortString(), "owner", owner.String(), "error", err)
	} else if reply != nil {
		res.UpcallReply = reply.Payload
	}
	it.finishLocked(res, &fx)
	it.mu.Unlock()

	it.flush(fx)
}

func (it *Iterator) failLocked(fx *effects, reason string, err error) {
	it.settleCallsLocked(fx)
	it.state = stateFailed
	it.finishLocked(interfaces.HopResult{
		Status: interfaces.HopFailed,
		Path:   it.pathLocked(),
		Err:    NewRouteError("lookup", reason, it.key, it.path, err),
	}, fx)
}

func (it *Iterator) finishLocked(res interfaces.HopResult, fx *effects) {
	hops := len(it.path) - 1
	it.metrics.observeLookup(res.Status.String(), hops, time.Since(it.started))
	if res.Status == interfaces.HopFailed {
		logger.Info("查找失败", "key", it.key.ShortString(), "hops", hops, "error", res.Err)
	} else {
		logger.Debug("查找完成", "key", it.key.ShortString(), "owner", res.Owner.String(), "hops", hops)
	}
	fx.events = append(fx.events, res)
}

// flush 在锁外执行副作用：取消调用、记录证据、投递续延
func (it *Iterator) flush(fx effects) {
	for _, c := range fx.cancel {
		c.handle.Cancel()
		c.cancel()
	}
	for _, ev := range fx.evidence {
		it.metrics.evidenceObserved(ev.Kind.String())
		if it.recorder == nil {
			continue
		}
		if err := it.recorder.Record(context.WithoutCancel(it.ctx), ev); err != nil {
			logger.Warn("记录证据失败", "kind", ev.Kind.String(), "suspect", ev.Suspect.String(), "error", err)
		}
	}
	for _, res := range fx.events {
		if it.isClosed() {
			return
		}
		it.cb(res)
	}
}

func (it *Iterator) isClosed() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.closed
}

// ============================================================================
//                              逐跳操作
// ============================================================================

// NextHop 在本跳确认后进入下一跳
//
// 下一轮目标在清空候选集之前从上一跳的候选中选出；清空后上一跳的
// 记录对本跳的合并逻辑不可见。
func (it *Iterator) NextHop() error {
	var fx effects

	it.mu.Lock()
	if it.closed {
		it.mu.Unlock()
		return ErrClosed
	}
	if it.state != stateHopSettled {
		state := it.state
		it.mu.Unlock()
		return fmt.Errorf("%w: next hop in state %s", ErrInvalidState, state)
	}

	it.hop = newHopState(it.lastHopLocked())
	targets := it.expandLocked()
	it.cands.Clear()
	it.state = stateHopPending

	if len(targets) == 0 {
		it.failLocked(&fx, ReasonQuorum, fmt.Errorf("%w: no candidates for hop %d", ErrQuorumFailure, len(it.path)))
	} else {
		it.sendLocked(targets, true, &fx)
	}
	it.mu.Unlock()

	it.flush(fx)
	return nil
}

// Probe 向 guess 发送一次额外查询
//
// 应答照常合并并评估门限，但不计入 outstanding，也不消耗重试次数。
func (it *Iterator) Probe(guess types.NodeDescriptor) error {
	var fx effects

	it.mu.Lock()
	if it.closed {
		it.mu.Unlock()
		return ErrClosed
	}
	if !it.state.pending() {
		state := it.state
		it.mu.Unlock()
		return fmt.Errorf("%w: probe in state %s", ErrInvalidState, state)
	}
	it.sendLocked([]types.NodeDescriptor{guess}, false, &fx)
	it.mu.Unlock()

	it.flush(fx)
	return nil
}

// Send 向当前最优的未查询候选补发本跳查询
func (it *Iterator) Send(useUpcall bool) error {
	var fx effects

	it.mu.Lock()
	if it.closed {
		it.mu.Unlock()
		return ErrClosed
	}
	if !it.state.pending() {
		state := it.state
		it.mu.Unlock()
		return fmt.Errorf("%w: send in state %s", ErrInvalidState, state)
	}
	it.useUpcall = useUpcall
	targets := it.expandLocked()
	if len(targets) == 0 {
		it.mu.Unlock()
		return ErrNoCandidates
	}
	it.sendLocked(targets, true, &fx)
	it.mu.Unlock()

	it.flush(fx)
	return nil
}

// PopBack 撤销最近接受的一跳
//
// 发起节点不属于可撤销的跳：路径中只有发起节点（或尚未开始）时返回
// ErrEmptyPath，且不修改任何状态。在 HopSettled 或 Bracketed 状态撤销后
// 迭代器回到 HopPending，未完成的调用（包括 upcall）被取消，由调用方
// 通过 Send 以新的上一跳继续本跳。
func (it *Iterator) PopBack() (types.NodeDescriptor, error) {
	var fx effects

	it.mu.Lock()
	if len(it.path) <= 1 {
		it.mu.Unlock()
		return types.NodeDescriptor{}, ErrEmptyPath
	}
	popped := it.path[len(it.path)-1]
	it.path = it.path[:len(it.path)-1]
	it.hop.lasthop = it.lastHopLocked()
	if it.state == stateHopSettled || it.state == stateBracketed {
		it.settleCallsLocked(&fx)
		it.state = stateHopPending
	}
	logger.Debug("撤销一跳", "key", it.key.ShortString(), "popped", popped.String(), "state", it.state.String())
	it.mu.Unlock()

	it.flush(fx)
	return popped, nil
}

// ============================================================================
//                              驱动与诊断
// ============================================================================

// Run 阻塞驱动查找直到终止事件
//
// 每个 HopAdvanced 之后自动调用 NextHop。ctx 结束时关闭迭代器。
func (it *Iterator) Run(ctx context.Context, useUpcall bool) (*interfaces.HopResult, error) {
	done := make(chan interfaces.HopResult, 1)
	deliver := func(res interfaces.HopResult) {
		select {
		case done <- res:
		default:
		}
	}

	cb := func(res interfaces.HopResult) {
		if res.Status == interfaces.HopAdvanced {
			if err := it.NextHop(); err != nil {
				deliver(interfaces.HopResult{Status: interfaces.HopFailed, Path: res.Path, Err: err})
			}
			return
		}
		deliver(res)
	}

	if err := it.FirstHop(ctx, cb, useUpcall); err != nil {
		return nil, err
	}

	select {
	case res := <-done:
		if res.Status == interfaces.HopFailed {
			return &res, res.Err
		}
		return &res, nil
	case <-ctx.Done():
		_ = it.Close()
		return nil, ctx.Err()
	}
}

// Print 输出诊断信息，不修改状态
func (it *Iterator) Print(w io.Writer) {
	it.mu.Lock()
	defer it.mu.Unlock()

	fmt.Fprintf(w, "lookup %s state=%s hops=%d backtracks=%d\n",
		it.key.ShortString(), it.state, max(len(it.path)-1, 0), it.backtracks)
	fmt.Fprintf(w, "  path: %s\n", types.FormatPath(it.path))
	fmt.Fprintf(w, "  hop: outstanding=%d bracketed=%d retries=%d rpc_errors=%d\n",
		it.hop.outstanding, it.hop.bracketedKey, it.hop.retries, it.hop.rpcErrors)
	for _, p := range it.hop.pairs {
		fmt.Fprintf(w, "  pair (%s, %s] reporters=%d\n", p.pred, p.succ, len(p.reporters))
	}
	for _, e := range it.cands.Entries() {
		mark := ""
		if _, ok := it.hop.queried[e.Node.ID]; ok {
			mark = " queried"
		}
		fmt.Fprintf(w, "  [%d] %s count=%d%s\n", e.Position, e.Node, e.Count, mark)
	}
}

// String 返回诊断信息
func (it *Iterator) String() string {
	var b strings.Builder
	it.Print(&b)
	return b.String()
}

// Close 结束迭代器
//
// 取消所有未完成的调用；之后到达的应答被丢弃，续延不再被调用。
func (it *Iterator) Close() error {
	var fx effects

	it.mu.Lock()
	if it.closed {
		it.mu.Unlock()
		return nil
	}
	it.closed = true
	it.settleCallsLocked(&fx)
	cancel, onClose := it.cancel, it.onClose
	it.mu.Unlock()

	for _, c := range fx.cancel {
		c.handle.Cancel()
		c.cancel()
	}
	if cancel != nil {
		cancel()
	}
	if onClose != nil {
		onClose(it)
	}
	return nil
}
