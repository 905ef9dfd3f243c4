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

package persistence

import (
	"context"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/ndidplatform/idconsent/internal/msgs"
	"github.com/ndidplatform/idconsent/pkg/conf"
	"gorm.io/gorm"
)

// Persistence is the durable store shared by every manager on the node
type Persistence interface {
	DB() *gorm.DB
	Close()

	// Transaction runs fn in a DB transaction, with pre-commit, post-commit and finalizer hooks
	Transaction(ctx context.Context, fn func(ctx context.Context, dbTX DBTX) error) error
	// NOTX gives a DBTX outside of any transaction, that fails if hooks are registered
	NOTX() DBTX
}

const (
	TypePostgres = "postgres"
	TypeSQLite   = "sqlite"
)

func NewPersistence(ctx context.Context, dbc *conf.DBConfig) (Persistence, error) {
	switch dbc.Type {
	case "", TypeSQLite:
		return newSQLiteProvider(ctx, dbc)
	case TypePostgres:
		return newPostgresProvider(ctx, dbc)
	default:
		return nil, i18n.NewError(ctx, msgs.MsgPersistenceInvalidType, dbc.Type)
	}
}
