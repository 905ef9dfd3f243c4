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

// Package dispatch resumes work after an external event, such as a ledger
// confirmation or a callback attempt, without holding a closure that would be
// lost on restart. A Continuation is plain data. Each Table maps a Kind to a
// handler registered by the owning manager during initialization.
package dispatch

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/ndidplatform/idconsent/internal/msgs"
)

type Kind string

type Continuation struct {
	Kind Kind            `json:"kind"`
	Args json.RawMessage `json:"args,omitempty"`
}

func NewContinuation(kind Kind, args any) *Continuation {
	c := &Continuation{Kind: kind}
	if args != nil {
		// args are always our own plain structs, so marshalling cannot fail
		c.Args, _ = json.Marshal(args)
	}
	return c
}

type HandlerFunc[In, Out any] func(ctx context.Context, args json.RawMessage, in In) (Out, error)

type Table[In, Out any] struct {
	name     string
	lock     sync.RWMutex
	handlers map[Kind]HandlerFunc[In, Out]
}

func NewTable[In, Out any](name string) *Table[In, Out] {
	return &Table[In, Out]{
		name:     name,
		handlers: make(map[Kind]HandlerFunc[In, Out]),
	}
}

func (t *Table[In, Out]) Name() string {
	return t.name
}

func (t *Table[In, Out]) Register(ctx context.Context, kind Kind, fn HandlerFunc[In, Out]) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if _, exists := t.handlers[kind]; exists {
		return i18n.NewError(ctx, msgs.MsgDuplicateContinuationKind, kind)
	}
	t.handlers[kind] = fn
	return nil
}

func (t *Table[In, Out]) Has(kind Kind) bool {
	t.lock.RLock()
	defer t.lock.RUnlock()
	_, ok := t.handlers[kind]
	return ok
}

func (t *Table[In, Out]) Dispatch(ctx context.Context, c *Continuation, in In) (out Out, err error) {
	t.lock.RLock()
	fn := t.handlers[c.Kind]
	t.lock.RUnlock()
	if fn == nil {
		return out, i18n.NewError(ctx, msgs.MsgUnknownContinuationKind, c.Kind)
	}
	return fn(ctx, c.Args, in)
}

// Handle registers a handler that receives its arguments already decoded
func Handle[A, In, Out any](ctx context.Context, t *Table[In, Out], kind Kind, fn func(ctx context.Context, args *A, in In) (Out, error)) error {
	return t.Register(ctx, kind, func(ctx context.Context, rawArgs json.RawMessage, in In) (out Out, err error) {
		args := new(A)
		if len(rawArgs) > 0 {
			if err := json.Unmarshal(rawArgs, args); err != nil {
				return out, i18n.WrapError(ctx, err, msgs.MsgContinuationArgsInvalid, kind)
			}
		}
		return fn(ctx, args, in)
	})
}
