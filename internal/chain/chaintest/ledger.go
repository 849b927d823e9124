// Package chaintest provides an in-memory chain.Client for tests of the
// services built on top of it.
package chaintest

import (
	"context"
	"fmt"
	"sync"

	"CoSign-Chain/internal/chain"
	"CoSign-Chain/internal/codec"
	xerrors "CoSign-Chain/internal/errors"
	"CoSign-Chain/internal/txn"
)

// Ledger records submissions and answers account queries from maps. Every
// submitted transaction confirms immediately.
type Ledger struct {
	mu         sync.Mutex
	chainID    uint8
	registered map[codec.AccountAddress]bool
	balances   map[codec.AccountAddress]uint64
	missing    map[codec.AccountAddress]bool
	sequences  map[codec.AccountAddress]uint64
	submitted  []txn.MultiAgentRawTransaction
	// SubmitErr, when set, is returned by the next Submit call.
	SubmitErr error
}

// NewLedger returns an empty ledger on chain id 2.
func NewLedger() *Ledger {
	return &Ledger{
		chainID:    2,
		registered: map[codec.AccountAddress]bool{},
		balances:   map[codec.AccountAddress]uint64{},
		missing:    map[codec.AccountAddress]bool{},
		sequences:  map[codec.AccountAddress]uint64{},
	}
}

// Fund registers addr and sets its balance.
func (l *Ledger) Fund(addr codec.AccountAddress, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.registered[addr] = true
	l.balances[addr] = amount
}

// Register marks addr as holding a coin store.
func (l *Ledger) Register(addrs ...codec.AccountAddress) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, addr := range addrs {
		l.registered[addr] = true
	}
}

// Forget makes addr unknown to the chain.
func (l *Ledger) Forget(addr codec.AccountAddress) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.missing[addr] = true
}

// Submitted returns a copy of every accepted transaction.
func (l *Ledger) Submitted() []txn.MultiAgentRawTransaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]txn.MultiAgentRawTransaction(nil), l.submitted...)
}

func (l *Ledger) SequenceNumber(_ context.Context, addr codec.AccountAddress) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sequences[addr], nil
}

func (l *Ledger) ChainID(context.Context) (uint8, error) { return l.chainID, nil }

func (l *Ledger) AccountInfo(_ context.Context, addr codec.AccountAddress) (chain.AccountInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.missing[addr] {
		return chain.AccountInfo{}, xerrors.New(chain.CodeAccountNotFound, fmt.Sprintf("account %s not found", addr))
	}
	return chain.AccountInfo{Address: addr, SequenceNumber: l.sequences[addr]}, nil
}

func (l *Ledger) Balance(_ context.Context, addr codec.AccountAddress, _ string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[addr], nil
}

func (l *Ledger) IsRegistered(_ context.Context, addr codec.AccountAddress, _ string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.registered[addr], nil
}

func (l *Ledger) Submit(_ context.Context, raw txn.MultiAgentRawTransaction, _ txn.Authenticator, _ []txn.Authenticator) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.SubmitErr; err != nil {
		l.SubmitErr = nil
		return "", err
	}
	l.submitted = append(l.submitted, raw)
	l.sequences[raw.Sender]++
	return fmt.Sprintf("0x%064x", len(l.submitted)), nil
}

func (l *Ledger) TransactionByHash(_ context.Context, hash string) (chain.TransactionInfo, error) {
	return chain.TransactionInfo{Hash: hash, Success: true, VMStatus: "Executed successfully"}, nil
}

func (l *Ledger) Close() {}

var _ chain.Client = (*Ledger)(nil)
