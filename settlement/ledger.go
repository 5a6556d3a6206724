// Package settlement implements the on-chain counterpart of the channel
// engine: escrow custody, signature-gated settlement, disputes, and the
// insurance skim. It is modeled as a single-authority state machine backed
// by a LevelDB ledger rather than a replicated multi-validator chain —
// every operation snapshots, verifies, then commits or rolls back.
package settlement

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/agentcasino/channel/storage"
)

const (
	prefixChannel = "chan:"
	prefixPending = "pend:"
)

const (
	keyInsuranceBalance = "ins:balance"
	keyOwner            = "own:current"
	keyPendingOwner     = "own:pending"
	keyOwnerTransferAt  = "own:transfer_at"
	keyInsuranceReqAt   = "ins:withdraw_req_at"
	keyInsuranceReqAmt  = "ins:withdraw_req_amt"
)

var statePrefixes = []string{prefixChannel, prefixPending, "ins:", "own:"}

// Status mirrors the on-chain channel lifecycle.
type Status int

const (
	StatusNone Status = iota
	StatusOpen
	StatusDisputed
	StatusClosed
)

// Channel is the on-chain escrow record.
type Channel struct {
	Agent           string   `json:"agent"`
	AgentDeposit    *big.Int `json:"agentDeposit"`
	HouseDeposit    *big.Int `json:"houseDeposit"`
	AgentBalance    *big.Int `json:"agentBalance"`
	HouseBalance    *big.Int `json:"houseBalance"`
	Nonce           uint64   `json:"nonce"`
	Status          Status   `json:"status"`
	OpenedAt        int64    `json:"openedAt"`
	DisputeDeadline int64    `json:"disputeDeadline"`
}

// InvariantOK reports whether conservation holds for c: balances sum to
// deposits and neither side is negative.
func (c *Channel) InvariantOK() bool {
	sum := new(big.Int).Add(c.AgentBalance, c.HouseBalance)
	dep := new(big.Int).Add(c.AgentDeposit, c.HouseDeposit)
	return sum.Cmp(dep) == 0 && c.AgentBalance.Sign() >= 0 && c.HouseBalance.Sign() >= 0
}

type snapshot struct {
	dirty   map[string][]byte
	deleted map[string]bool
}

// Ledger is the durable write buffer over a storage.DB with a
// Snapshot/RevertToSnapshot/Commit discipline: every contract call snapshots
// before mutating and reverts on any invariant failure, so a rejected
// operation never leaves partial state behind.
type Ledger struct {
	db        storage.DB
	dirty     map[string][]byte
	deleted   map[string]bool
	snapshots []snapshot
}

// NewLedger wraps db as a Ledger.
func NewLedger(db storage.DB) *Ledger {
	return &Ledger{
		db:      db,
		dirty:   make(map[string][]byte),
		deleted: make(map[string]bool),
	}
}

func (l *Ledger) get(key string) ([]byte, error) {
	if l.deleted[key] {
		return nil, storage.ErrNotFound
	}
	if v, ok := l.dirty[key]; ok {
		return v, nil
	}
	return l.db.Get([]byte(key))
}

func (l *Ledger) set(key string, val []byte) {
	delete(l.deleted, key)
	l.dirty[key] = val
}

func (l *Ledger) del(key string) {
	delete(l.dirty, key)
	l.deleted[key] = true
}

// GetChannel returns the channel for agent. Returns a zero-value
// (StatusNone) channel if none has ever been opened.
func (l *Ledger) GetChannel(agent string) (*Channel, error) {
	data, err := l.get(prefixChannel + agent)
	if errors.Is(err, storage.ErrNotFound) {
		return &Channel{Agent: agent, AgentDeposit: big.NewInt(0), HouseDeposit: big.NewInt(0),
			AgentBalance: big.NewInt(0), HouseBalance: big.NewInt(0), Status: StatusNone}, nil
	}
	if err != nil {
		return nil, err
	}
	var ch Channel
	if err := json.Unmarshal(data, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

// SetChannel persists ch.
func (l *Ledger) SetChannel(ch *Channel) error {
	data, err := json.Marshal(ch)
	if err != nil {
		return err
	}
	l.set(prefixChannel+ch.Agent, data)
	return nil
}

// PendingWithdrawal returns the amount owed to payee via the pull-payment
// fallback.
func (l *Ledger) PendingWithdrawal(payee string) *big.Int {
	data, err := l.get(prefixPending + payee)
	if err != nil {
		return big.NewInt(0)
	}
	v := new(big.Int)
	v.SetString(string(data), 10)
	return v
}

// CreditPendingWithdrawal adds amount to payee's pull-payment balance.
func (l *Ledger) CreditPendingWithdrawal(payee string, amount *big.Int) {
	cur := l.PendingWithdrawal(payee)
	cur.Add(cur, amount)
	l.set(prefixPending+payee, []byte(cur.String()))
}

// ClearPendingWithdrawal zeroes payee's pull-payment balance and returns
// the amount cleared.
func (l *Ledger) ClearPendingWithdrawal(payee string) *big.Int {
	amt := l.PendingWithdrawal(payee)
	l.del(prefixPending + payee)
	return amt
}

func (l *Ledger) getString(key string) (string, bool) {
	data, err := l.get(key)
	if err != nil {
		return "", false
	}
	return string(data), true
}

func (l *Ledger) getInt64(key string) (int64, bool) {
	s, ok := l.getString(key)
	if !ok {
		return 0, false
	}
	var v int64
	_, err := fmt.Sscanf(s, "%d", &v)
	return v, err == nil
}

func (l *Ledger) getBig(key string) *big.Int {
	s, ok := l.getString(key)
	if !ok {
		return big.NewInt(0)
	}
	v := new(big.Int)
	v.SetString(s, 10)
	return v
}

// Owner returns the currently persisted contract owner, or "" if none has
// ever been set.
func (l *Ledger) Owner() string {
	s, _ := l.getString(keyOwner)
	return s
}

// SetOwner persists owner as the contract's current owner.
func (l *Ledger) SetOwner(owner string) {
	l.set(keyOwner, []byte(owner))
}

// PendingOwner returns the owner of an in-flight ownership transfer, or ""
// if none is pending.
func (l *Ledger) PendingOwner() string {
	s, _ := l.getString(keyPendingOwner)
	return s
}

// SetPendingOwner persists owner as the pending transfer target. Passing ""
// clears any pending transfer along with its recorded request time.
func (l *Ledger) SetPendingOwner(owner string) {
	if owner == "" {
		l.del(keyPendingOwner)
		l.del(keyOwnerTransferAt)
		return
	}
	l.set(keyPendingOwner, []byte(owner))
}

// OwnerTransferAt returns when the pending ownership transfer was
// requested. Zero value if none is pending.
func (l *Ledger) OwnerTransferAt() time.Time {
	v, ok := l.getInt64(keyOwnerTransferAt)
	if !ok {
		return time.Time{}
	}
	return time.Unix(v, 0).UTC()
}

// SetOwnerTransferAt records when a pending ownership transfer was
// requested.
func (l *Ledger) SetOwnerTransferAt(t time.Time) {
	l.set(keyOwnerTransferAt, []byte(fmt.Sprintf("%d", t.Unix())))
}

// InsuranceBalance returns the insurance treasury's persisted balance.
func (l *Ledger) InsuranceBalance() *big.Int {
	return l.getBig(keyInsuranceBalance)
}

// SetInsuranceBalance persists the insurance treasury's balance.
func (l *Ledger) SetInsuranceBalance(amount *big.Int) {
	l.set(keyInsuranceBalance, []byte(amount.String()))
}

// InsuranceRequest returns the pending insurance withdrawal request, if any.
func (l *Ledger) InsuranceRequest() (amount *big.Int, at time.Time, pending bool) {
	s, ok := l.getString(keyInsuranceReqAmt)
	if !ok {
		return nil, time.Time{}, false
	}
	amt := new(big.Int)
	amt.SetString(s, 10)
	atUnix, _ := l.getInt64(keyInsuranceReqAt)
	return amt, time.Unix(atUnix, 0).UTC(), true
}

// SetInsuranceRequest persists a pending insurance withdrawal request.
func (l *Ledger) SetInsuranceRequest(amount *big.Int, at time.Time) {
	l.set(keyInsuranceReqAmt, []byte(amount.String()))
	l.set(keyInsuranceReqAt, []byte(fmt.Sprintf("%d", at.Unix())))
}

// ClearInsuranceRequest removes any pending insurance withdrawal request.
func (l *Ledger) ClearInsuranceRequest() {
	l.del(keyInsuranceReqAmt)
	l.del(keyInsuranceReqAt)
}

// Snapshot saves the current write buffer and returns its id.
func (l *Ledger) Snapshot() int {
	snap := snapshot{dirty: make(map[string][]byte, len(l.dirty)), deleted: make(map[string]bool, len(l.deleted))}
	for k, v := range l.dirty {
		cp := make([]byte, len(v))
		copy(cp, v)
		snap.dirty[k] = cp
	}
	for k, v := range l.deleted {
		snap.deleted[k] = v
	}
	l.snapshots = append(l.snapshots, snap)
	return len(l.snapshots) - 1
}

// RevertToSnapshot restores the write buffer to a previously saved
// snapshot, discarding everything written since.
func (l *Ledger) RevertToSnapshot(id int) error {
	if id < 0 || id >= len(l.snapshots) {
		return fmt.Errorf("settlement: invalid snapshot id %d", id)
	}
	snap := l.snapshots[id]
	dirty := make(map[string][]byte, len(snap.dirty))
	for k, v := range snap.dirty {
		cp := make([]byte, len(v))
		copy(cp, v)
		dirty[k] = cp
	}
	deleted := make(map[string]bool, len(snap.deleted))
	for k, v := range snap.deleted {
		deleted[k] = v
	}
	l.dirty = dirty
	l.deleted = deleted
	l.snapshots = l.snapshots[:id]
	return nil
}

// ComputeRoot returns a deterministic hash of the complete ledger state
// (persisted plus buffered), for audit/export purposes. It does not
// mutate or flush anything.
func (l *Ledger) ComputeRoot() string {
	merged := make(map[string][]byte)
	for _, prefix := range statePrefixes {
		it := l.db.NewIterator([]byte(prefix))
		for it.Next() {
			k := string(it.Key())
			v := make([]byte, len(it.Value()))
			copy(v, it.Value())
			merged[k] = v
		}
		it.Release()
	}
	for k, v := range l.dirty {
		merged[k] = v
	}
	for k := range l.deleted {
		delete(merged, k)
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	var lenBuf [4]byte
	for _, k := range keys {
		v := merged[k]
		kb := []byte(k)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(kb)))
		buf.Write(lenBuf[:])
		buf.Write(kb)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v)))
		buf.Write(lenBuf[:])
		buf.Write(v)
	}
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:])
}

// Commit atomically flushes the write buffer to the underlying DB.
func (l *Ledger) Commit() error {
	batch := l.db.NewBatch()
	for k, v := range l.dirty {
		batch.Set([]byte(k), v)
	}
	for k := range l.deleted {
		batch.Delete([]byte(k))
	}
	if err := batch.Write(); err != nil {
		return err
	}
	l.dirty = make(map[string][]byte)
	l.deleted = make(map[string]bool)
	l.snapshots = nil
	return nil
}
