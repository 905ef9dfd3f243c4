// Copyright © 2024 Kaleido, Inc.
//
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package testledger is an in-memory ledger.Client that executes the node's
// transactions and queries with the same rules as the chain, for unit tests
// of the managers.
package testledger

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/ndidplatform/idconsent/internal/dispatch"
	"github.com/ndidplatform/idconsent/internal/ledgerapi"
	"github.com/ndidplatform/idconsent/internal/msgs"
	"github.com/ndidplatform/idconsent/pkg/icapi"
	"github.com/ndidplatform/idconsent/pkg/ledger"
)

const txFailedCode = 1

type association struct {
	info *icapi.IdentityInfo
}

type referenceGroup struct {
	code       string
	identities map[string]bool
	idps       map[string]*association
}

type accessor struct {
	key   *icapi.AccessorKey
	owner string
}

type Ledger struct {
	lock               sync.Mutex
	height             int64
	processedHeight    atomic.Int64
	continuations      *ledger.ContinuationTable
	handlersLock       sync.Mutex
	blockHandlers      []ledger.BlockHandler
	deliverLock        sync.Mutex
	asyncWG            sync.WaitGroup
	failNext           map[string]error
	txLog              []*TxRecord
	continuationErrors []error

	nodes           map[string]*icapi.NodeInfo
	services        map[string]map[string]*icapi.AsNode
	requests        map[string]*icapi.RequestDetail
	groups          map[string]*referenceGroup
	identityToGroup map[string]string
	accessors       map[string]*accessor
	prices          map[string]*ledgerapi.ServicePriceParams
	allowedModes    map[string][]icapi.Mode
	ialList         []float64
	aalList         []float64
	namespaces      []*icapi.Namespace
	errorCodes      map[string][]*icapi.ErrorCodeInfo
	requestTypes    []string
}

// TxRecord is the log of every transaction executed successfully
type TxRecord struct {
	NodeID string
	FnName string
	Params json.RawMessage
	Height int64
}

var _ ledger.Client = (*Ledger)(nil)

func New() *Ledger {
	return &Ledger{
		continuations:   dispatch.NewTable[*ledger.TxOutcome, struct{}]("testledger"),
		failNext:        make(map[string]error),
		nodes:           make(map[string]*icapi.NodeInfo),
		services:        make(map[string]map[string]*icapi.AsNode),
		requests:        make(map[string]*icapi.RequestDetail),
		groups:          make(map[string]*referenceGroup),
		identityToGroup: make(map[string]string),
		accessors:       make(map[string]*accessor),
		prices:          make(map[string]*ledgerapi.ServicePriceParams),
		allowedModes: map[string][]icapi.Mode{
			"": {icapi.Mode1, icapi.Mode2, icapi.Mode3},
		},
		ialList: []float64{1.1, 1.2, 1.3, 2.1, 2.2, 2.3, 3},
		aalList: []float64{1, 2.1, 2.2, 3},
		namespaces: []*icapi.Namespace{
			{Namespace: "citizen_id", Active: true},
			{Namespace: "passport", Active: true},
		},
		errorCodes: map[string][]*icapi.ErrorCodeInfo{
			ledgerapi.ErrorCodeTypeIdP: {{ErrorCode: 30000, Description: "user rejected consent"}},
			ledgerapi.ErrorCodeTypeAS:  {{ErrorCode: 40000, Description: "data unavailable"}},
		},
		requestTypes: []string{"document"},
	}
}

func identityKey(namespace, identifier string) string {
	return namespace + "/" + identifier
}

// AddNode registers a node, returning the stored info for further tweaking by the test
func (l *Ledger) AddNode(ni *icapi.NodeInfo) *icapi.NodeInfo {
	l.lock.Lock()
	defer l.lock.Unlock()
	ni.Active = true
	l.nodes[ni.NodeID] = ni
	return ni
}

func (l *Ledger) AddRP(nodeID string) *icapi.NodeInfo {
	return l.AddNode(&icapi.NodeInfo{NodeID: nodeID, Role: "RP"})
}

func (l *Ledger) AddIdP(nodeID string, maxIAL, maxAAL float64, modes ...icapi.Mode) *icapi.NodeInfo {
	if len(modes) == 0 {
		modes = []icapi.Mode{icapi.Mode1, icapi.Mode2, icapi.Mode3}
	}
	return l.AddNode(&icapi.NodeInfo{NodeID: nodeID, Role: "IdP", MaxIAL: maxIAL, MaxAAL: maxAAL, SupportedModeList: modes})
}

func (l *Ledger) AddAS(serviceID string, as *icapi.AsNode) {
	l.lock.Lock()
	defer l.lock.Unlock()
	if _, ok := l.nodes[as.NodeID]; !ok {
		l.nodes[as.NodeID] = &icapi.NodeInfo{NodeID: as.NodeID, Role: "AS", Active: true}
	}
	if l.services[serviceID] == nil {
		l.services[serviceID] = make(map[string]*icapi.AsNode)
	}
	as.Active = true
	l.services[serviceID][as.NodeID] = as
}

// AddIdentity associates an identity with an IdP, creating the reference group if needed
func (l *Ledger) AddIdentity(idpID, referenceGroupCode, namespace, identifier string, ial float64, modes ...icapi.Mode) {
	l.lock.Lock()
	defer l.lock.Unlock()
	if len(modes) == 0 {
		modes = []icapi.Mode{icapi.Mode2}
	}
	rg := l.group(referenceGroupCode)
	rg.identities[identityKey(namespace, identifier)] = true
	l.identityToGroup[identityKey(namespace, identifier)] = referenceGroupCode
	rg.idps[idpID] = &association{info: &icapi.IdentityInfo{ReferenceGroupCode: referenceGroupCode, IAL: ial, ModeList: modes}}
}

func (l *Ledger) AddAccessor(idpID, referenceGroupCode, accessorID, publicKeyPEM string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.accessors[accessorID] = &accessor{
		owner: idpID,
		key: &icapi.AccessorKey{
			AccessorID:         accessorID,
			AccessorPublicKey:  publicKeyPEM,
			AccessorType:       "RSA",
			Active:             true,
			ReferenceGroupCode: referenceGroupCode,
		},
	}
}

func (l *Ledger) SetAllowedModes(purpose string, modes ...icapi.Mode) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.allowedModes[purpose] = modes
}

// FailNext makes the next transaction with the given name fail with err
func (l *Ledger) FailNext(fnName string, err error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.failNext[fnName] = err
}

// Request returns a copy of the ledger state of a request, or nil
func (l *Ledger) Request(requestID string) *icapi.RequestDetail {
	l.lock.Lock()
	defer l.lock.Unlock()
	rd := l.requests[requestID]
	if rd == nil {
		return nil
	}
	var c icapi.RequestDetail
	roundTrip(rd, &c)
	return &c
}

// Transactions returns the transactions executed so far with the given name
func (l *Ledger) Transactions(fnName string) []*TxRecord {
	l.lock.Lock()
	defer l.lock.Unlock()
	var txs []*TxRecord
	for _, tx := range l.txLog {
		if tx.FnName == fnName {
			txs = append(txs, tx)
		}
	}
	return txs
}

func (l *Ledger) ReferenceGroupCode(namespace, identifier string) string {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.identityToGroup[identityKey(namespace, identifier)]
}

func (l *Ledger) Accessor(accessorID string) *icapi.AccessorKey {
	l.lock.Lock()
	defer l.lock.Unlock()
	if a := l.accessors[accessorID]; a != nil {
		c := *a.key
		return &c
	}
	return nil
}

func (l *Ledger) IdentityInfo(referenceGroupCode, idpID string) *icapi.IdentityInfo {
	l.lock.Lock()
	defer l.lock.Unlock()
	if rg := l.groups[referenceGroupCode]; rg != nil && rg.idps[idpID] != nil {
		c := *rg.idps[idpID].info
		return &c
	}
	return nil
}

func (l *Ledger) Height() int64 {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.height
}

// Wait blocks until all dispatched continuations and block handlers have returned
func (l *Ledger) Wait() {
	l.asyncWG.Wait()
}

func (l *Ledger) Continuations() *ledger.ContinuationTable {
	return l.continuations
}

func (l *Ledger) ProcessedHeight() int64 {
	return l.processedHeight.Load()
}

// HoldBlocks stops the processed height advancing, until the returned function is called
func (l *Ledger) HoldBlocks() (release func()) {
	l.deliverLock.Lock()
	return func() {
		l.lock.Lock()
		to := l.height
		from := l.processedHeight.Swap(to)
		l.deliverLock.Unlock()
		l.lock.Unlock()
		l.deliverBlocks(from, to)
	}
}

func (l *Ledger) AddBlockHandler(handler ledger.BlockHandler) {
	l.handlersLock.Lock()
	defer l.handlersLock.Unlock()
	l.blockHandlers = append(l.blockHandlers, handler)
}

func (l *Ledger) RetryPendingTransactions(ctx context.Context) error {
	return nil
}

func (l *Ledger) Start() error {
	return nil
}

func (l *Ledger) Stop() {
	l.asyncWG.Wait()
}

func (l *Ledger) Transact(ctx context.Context, req *ledger.TxRequest) (*ledger.TxResult, error) {
	if req.Continuation != nil && !l.continuations.Has(req.Continuation.Kind) {
		return nil, i18n.NewError(ctx, msgs.MsgUnknownContinuationKind, req.Continuation.Kind)
	}
	params, err := json.Marshal(req.Params)
	if err != nil {
		return nil, err
	}
	height, err := l.execute(ctx, req.NodeID, req.FnName, params)
	if req.Continuation == nil {
		if err != nil {
			return nil, err
		}
		return &ledger.TxResult{Height: height}, nil
	}
	l.asyncWG.Add(1)
	go func() {
		defer l.asyncWG.Done()
		if _, dErr := l.continuations.Dispatch(context.Background(), req.Continuation, &ledger.TxOutcome{Height: height, Err: err}); dErr != nil {
			l.lock.Lock()
			l.continuationErrors = append(l.continuationErrors, dErr)
			l.lock.Unlock()
		}
	}()
	return nil, nil
}

// ContinuationErrors returns the errors returned by dispatched continuations
func (l *Ledger) ContinuationErrors() []error {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.continuationErrors
}

// advanceLocked marks the new block processed, then delivers it to the handlers
// asynchronously. Called with the ledger lock held, so heights only increase.
func (l *Ledger) advanceLocked() {
	if !l.deliverLock.TryLock() {
		// held, delivered on release
		return
	}
	from := l.processedHeight.Swap(l.height)
	l.deliverLock.Unlock()
	l.deliverBlocks(from, l.height)
}

func (l *Ledger) deliverBlocks(from, to int64) {
	if to <= from {
		return
	}
	l.asyncWG.Add(1)
	go func() {
		defer l.asyncWG.Done()
		l.handlersLock.Lock()
		defer l.handlersLock.Unlock()
		for _, h := range l.blockHandlers {
			h(context.Background(), from, to)
		}
	}()
}

func roundTrip(in, out any) {
	b, _ := json.Marshal(in)
	_ = json.Unmarshal(b, out)
}
