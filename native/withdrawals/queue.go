// Package withdrawals maintains the ordered queue of pending share withdrawal
// requests for a pool. Requests form a doubly-linked list over records keyed by
// a monotonic id, giving O(1) append, head access and removal by id.
package withdrawals

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"lendpool/crypto"
	nativecommon "lendpool/native/common"
)

var (
	ErrNotFound        = errors.New("withdrawals: request not found")
	ErrInvalidAmount   = errors.New("withdrawals: share amount must be positive")
	ErrAmountIncrease  = errors.New("withdrawals: share amount may only decrease")
	ErrIndexOutOfRange = errors.New("withdrawals: index out of range")
)

// Request is a single pending withdrawal. Prev and Next hold neighbour ids, zero
// meaning none.
type Request struct {
	ID        uint64
	Wallet    crypto.Address
	Shares    *uint256.Int
	Prev      uint64
	Next      uint64
	CreatedAt uint64
}

// Clone returns a deep copy of the request.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Shares = new(uint256.Int)
	if r.Shares != nil {
		clone.Shares.Set(r.Shares)
	}
	return &clone
}

type queueMeta struct {
	Head   uint64
	Tail   uint64
	NextID uint64
	Length uint64
}

// walletLock aggregates the open requests of one wallet.
type walletLock struct {
	Shares *uint256.Int
	Count  uint64
}

// Queue is the persisted request list of one pool.
type Queue struct {
	state  nativecommon.KVState
	prefix string
}

// New binds a queue to state under the namespace of poolID.
func New(state nativecommon.KVState, poolID string) *Queue {
	return &Queue{state: state, prefix: "withdrawals/" + strings.TrimSpace(poolID) + "/"}
}

func (q *Queue) metaKey() []byte { return []byte(q.prefix + "meta") }

func (q *Queue) requestKey(id uint64) []byte {
	key := []byte(q.prefix + "req/")
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return append(key, buf[:]...)
}

func (q *Queue) lockKey(wallet crypto.Address) []byte {
	key := []byte(q.prefix + "lock/")
	return append(key, wallet[:]...)
}

func (q *Queue) loadMeta() (*queueMeta, error) {
	meta := new(queueMeta)
	ok, err := q.state.KVGet(q.metaKey(), meta)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &queueMeta{NextID: 1}, nil
	}
	return meta, nil
}

func (q *Queue) storeMeta(meta *queueMeta) error {
	return q.state.KVPut(q.metaKey(), meta)
}

func (q *Queue) load(id uint64) (*Request, error) {
	if id == 0 {
		return nil, ErrNotFound
	}
	req := new(Request)
	ok, err := q.state.KVGet(q.requestKey(id), req)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if req.Shares == nil {
		req.Shares = new(uint256.Int)
	}
	return req, nil
}

func (q *Queue) store(req *Request) error {
	return q.state.KVPut(q.requestKey(req.ID), req)
}

func (q *Queue) loadLock(wallet crypto.Address) (*walletLock, error) {
	lock := new(walletLock)
	ok, err := q.state.KVGet(q.lockKey(wallet), lock)
	if err != nil {
		return nil, err
	}
	if !ok || lock.Shares == nil {
		return &walletLock{Shares: new(uint256.Int)}, nil
	}
	return lock, nil
}

func (q *Queue) storeLock(wallet crypto.Address, lock *walletLock) error {
	if lock.Count == 0 {
		return q.state.KVDelete(q.lockKey(wallet))
	}
	return q.state.KVPut(q.lockKey(wallet), lock)
}

func (q *Queue) adjustLock(wallet crypto.Address, add, sub *uint256.Int, countDelta int) error {
	lock, err := q.loadLock(wallet)
	if err != nil {
		return err
	}
	if add != nil {
		lock.Shares.Add(lock.Shares, add)
	}
	if sub != nil {
		if lock.Shares.Lt(sub) {
			lock.Shares.Clear()
		} else {
			lock.Shares.Sub(lock.Shares, sub)
		}
	}
	switch {
	case countDelta > 0:
		lock.Count += uint64(countDelta)
	case countDelta < 0 && lock.Count > 0:
		lock.Count--
	}
	return q.storeLock(wallet, lock)
}

// Enqueue appends a request at the tail and returns it.
func (q *Queue) Enqueue(wallet crypto.Address, shares *uint256.Int, now uint64) (*Request, error) {
	if shares == nil || shares.IsZero() {
		return nil, ErrInvalidAmount
	}
	meta, err := q.loadMeta()
	if err != nil {
		return nil, err
	}
	req := &Request{
		ID:        meta.NextID,
		Wallet:    wallet,
		Shares:    new(uint256.Int).Set(shares),
		Prev:      meta.Tail,
		CreatedAt: now,
	}
	if meta.Tail != 0 {
		tail, err := q.load(meta.Tail)
		if err != nil {
			return nil, err
		}
		tail.Next = req.ID
		if err := q.store(tail); err != nil {
			return nil, err
		}
	} else {
		meta.Head = req.ID
	}
	meta.Tail = req.ID
	meta.NextID++
	meta.Length++
	if err := q.store(req); err != nil {
		return nil, err
	}
	if err := q.storeMeta(meta); err != nil {
		return nil, err
	}
	if err := q.adjustLock(wallet, shares, nil, 1); err != nil {
		return nil, err
	}
	return req.Clone(), nil
}

// Get returns the request with id.
func (q *Queue) Get(id uint64) (*Request, error) {
	return q.load(id)
}

// DecreaseOrRemove lowers the share amount of a request. A zero amount removes
// the request. The boolean result reports removal.
func (q *Queue) DecreaseOrRemove(id uint64, shares *uint256.Int) (*Request, bool, error) {
	req, err := q.load(id)
	if err != nil {
		return nil, false, err
	}
	if shares == nil || shares.IsZero() {
		removed, err := q.Remove(id)
		return removed, true, err
	}
	if shares.Gt(req.Shares) {
		return nil, false, ErrAmountIncrease
	}
	delta := new(uint256.Int).Sub(req.Shares, shares)
	req.Shares = new(uint256.Int).Set(shares)
	if err := q.store(req); err != nil {
		return nil, false, err
	}
	if err := q.adjustLock(req.Wallet, nil, delta, 0); err != nil {
		return nil, false, err
	}
	return req.Clone(), false, nil
}

// Remove unlinks the request with id and returns it as it was stored.
func (q *Queue) Remove(id uint64) (*Request, error) {
	req, err := q.load(id)
	if err != nil {
		return nil, err
	}
	meta, err := q.loadMeta()
	if err != nil {
		return nil, err
	}
	if req.Prev != 0 {
		prev, err := q.load(req.Prev)
		if err != nil {
			return nil, err
		}
		prev.Next = req.Next
		if err := q.store(prev); err != nil {
			return nil, err
		}
	} else {
		meta.Head = req.Next
	}
	if req.Next != 0 {
		next, err := q.load(req.Next)
		if err != nil {
			return nil, err
		}
		next.Prev = req.Prev
		if err := q.store(next); err != nil {
			return nil, err
		}
	} else {
		meta.Tail = req.Prev
	}
	if meta.Length > 0 {
		meta.Length--
	}
	if err := q.state.KVDelete(q.requestKey(id)); err != nil {
		return nil, err
	}
	if err := q.storeMeta(meta); err != nil {
		return nil, err
	}
	if err := q.adjustLock(req.Wallet, nil, req.Shares, -1); err != nil {
		return nil, err
	}
	req.Prev, req.Next = 0, 0
	return req, nil
}

// PeekHead returns the oldest request. The boolean is false on an empty queue.
func (q *Queue) PeekHead() (*Request, bool, error) {
	meta, err := q.loadMeta()
	if err != nil {
		return nil, false, err
	}
	if meta.Head == 0 {
		return nil, false, nil
	}
	req, err := q.load(meta.Head)
	if err != nil {
		return nil, false, err
	}
	return req, true, nil
}

// PopHead removes and returns the oldest request.
func (q *Queue) PopHead() (*Request, error) {
	head, ok, err := q.PeekHead()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return q.Remove(head.ID)
}

// Len returns the number of pending requests.
func (q *Queue) Len() (uint64, error) {
	meta, err := q.loadMeta()
	if err != nil {
		return 0, err
	}
	return meta.Length, nil
}

// At returns the request at zero-based position index, scanning from the head.
func (q *Queue) At(index uint64) (*Request, error) {
	var found *Request
	var pos uint64
	err := q.Walk(func(req *Request) (bool, error) {
		if pos == index {
			found = req
			return true, nil
		}
		pos++
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrIndexOutOfRange
	}
	return found, nil
}

// Walk visits requests from head to tail until fn reports stop or fails.
func (q *Queue) Walk(fn func(req *Request) (stop bool, err error)) error {
	meta, err := q.loadMeta()
	if err != nil {
		return err
	}
	for id := meta.Head; id != 0; {
		req, err := q.load(id)
		if err != nil {
			return err
		}
		stop, err := fn(req)
		if err != nil || stop {
			return err
		}
		id = req.Next
	}
	return nil
}

// RequestsOf lists the pending requests of wallet in queue order.
func (q *Queue) RequestsOf(wallet crypto.Address) ([]*Request, error) {
	var out []*Request
	err := q.Walk(func(req *Request) (bool, error) {
		if req.Wallet == wallet {
			out = append(out, req)
		}
		return false, nil
	})
	return out, err
}

// LockedShares returns the total shares wallet has queued for withdrawal.
func (q *Queue) LockedShares(wallet crypto.Address) (*uint256.Int, error) {
	lock, err := q.loadLock(wallet)
	if err != nil {
		return nil, err
	}
	return lock.Shares, nil
}

// OpenRequests returns the number of pending requests held by wallet.
func (q *Queue) OpenRequests(wallet crypto.Address) (uint64, error) {
	lock, err := q.loadLock(wallet)
	if err != nil {
		return 0, err
	}
	return lock.Count, nil
}
