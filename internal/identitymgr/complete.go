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

package identitymgr

import (
	"context"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/ndidplatform/idconsent/internal/components"
	"github.com/ndidplatform/idconsent/internal/msgs"
	"github.com/ndidplatform/idconsent/pkg/icapi"
	"github.com/ndidplatform/idconsent/pkg/ledger"
	"github.com/ndidplatform/idconsent/pkg/log"
	"github.com/ndidplatform/idconsent/pkg/persistence"
)

// consentError is nil if the closed request carries enough valid consent to go ahead
func consentError(ctx context.Context, ev *components.RequestClosedEvent) error {
	switch {
	case ev.Err != nil:
		return ev.Err
	case ev.TimedOut:
		return i18n.NewError(ctx, msgs.MsgConsentRequestTimedOut, ev.RequestID)
	case ev.Status != icapi.RequestStatusCompleted:
		return i18n.NewError(ctx, msgs.MsgConsentRejected, ev.RequestID)
	}
	for _, rv := range ev.ResponseValidList {
		if !rv.AllValid() {
			return i18n.NewError(ctx, msgs.MsgConsentRejected, ev.RequestID)
		}
	}
	return nil
}

// onConsentClosed can be called more than once for a request, only the first call
// in the consent stage acts
func (im *identityManager) onConsentClosed(ctx context.Context, args *operationArgs, ev *components.RequestClosedEvent) (struct{}, error) {
	ctx = log.WithLogField(ctx, "ref", args.ReferenceID)
	release, err := im.locks.Lock(ctx, operationKey(args.NodeID, args.ReferenceID))
	if err != nil {
		return struct{}{}, err
	}
	defer release()

	op, err := im.loadOperation(ctx, im.p.NOTX(), args.NodeID, args.ReferenceID)
	if err != nil {
		return struct{}{}, err
	}
	if op == nil || op.Stage != stageConsent || op.RequestID == nil || *op.RequestID != ev.RequestID {
		log.L(ctx).Debugf("No identity operation waiting on consent request %s", ev.RequestID)
		return struct{}{}, nil
	}
	return struct{}{}, im.consentDecided(ctx, op, consentError(ctx, ev))
}

func (im *identityManager) consentDecided(ctx context.Context, op *operation, consentErr error) error {
	if consentErr != nil {
		log.L(ctx).Warnf("Identity operation %s not performed: %s", op.OpType, consentErr)
		return im.finish(ctx, op, consentErr)
	}
	log.L(ctx).Infof("Consent given for identity operation %s", op.OpType)
	err := im.p.Transaction(ctx, func(ctx context.Context, dbTX persistence.DBTX) error {
		return im.setStage(ctx, dbTX, op, stageMutating)
	})
	if err != nil {
		return err
	}
	if err := im.submitMutation(ctx, op); err != nil {
		return im.finish(ctx, op, i18n.WrapError(ctx, err, msgs.MsgIdentityOperationFailed, op.OpType, op.ReferenceID))
	}
	return nil
}

func (im *identityManager) onMutated(ctx context.Context, args *operationArgs, outcome *ledger.TxOutcome) error {
	ctx = log.WithLogField(ctx, "ref", args.ReferenceID)
	release, err := im.locks.Lock(ctx, operationKey(args.NodeID, args.ReferenceID))
	if err != nil {
		return err
	}
	defer release()

	op, err := im.loadOperation(ctx, im.p.NOTX(), args.NodeID, args.ReferenceID)
	if err != nil {
		return err
	}
	if op == nil || op.Stage != stageMutating {
		log.L(ctx).Debugf("Identity operation already finished")
		return nil
	}
	if outcome.Err != nil {
		return im.finish(ctx, op, i18n.WrapError(ctx, outcome.Err, msgs.MsgIdentityOperationFailed, op.OpType, op.ReferenceID))
	}
	log.L(ctx).Infof("Identity operation %s committed at height %d", op.OpType, outcome.Height)
	return im.finish(ctx, op, nil)
}

// finish removes the operation and queues its result callback in one transaction
func (im *identityManager) finish(ctx context.Context, op *operation, opErr error) error {
	return im.p.Transaction(ctx, func(ctx context.Context, dbTX persistence.DBTX) error {
		if err := im.deleteOperation(ctx, dbTX, op.NodeID, op.ReferenceID); err != nil {
			return err
		}
		if op.CallbackURL == "" {
			return nil
		}
		cb := &icapi.IdentityResultCallback{
			CallbackBase: icapi.NewCallbackBase(op.NodeID, op.OpType.CallbackType(), op.ReferenceID, op.RequestID),
			AccessorID:   op.AccessorID,
		}
		if op.OpType == icapi.IdentityOpRegister {
			exist := op.Exist
			cb.Exist = &exist
		}
		if opErr != nil {
			cb.FailWithError(opErr)
		}
		_, err := im.callbacks.Send(ctx, dbTX, &components.CallbackRequest{
			NodeID: op.NodeID,
			URL:    op.CallbackURL,
			Body:   cb,
			Retry:  true,
		})
		return err
	})
}

// recoverConsent decides an operation whose consent request closed on the ledger
// while the node was down
func (im *identityManager) recoverConsent(ctx context.Context, nodeID, referenceID string) error {
	release, err := im.locks.Lock(ctx, operationKey(nodeID, referenceID))
	if err != nil {
		return err
	}
	defer release()

	op, err := im.loadOperation(ctx, im.p.NOTX(), nodeID, referenceID)
	if err != nil || op == nil || op.Stage != stageConsent || op.RequestID == nil {
		return err
	}
	rd, err := im.queries.GetRequestDetail(ctx, *op.RequestID, 0)
	if err != nil {
		return err
	}
	if rd == nil || (!rd.Closed && !rd.TimedOut) {
		log.L(ctx).Infof("Identity operation %s waiting on consent request %s", op.OpType, *op.RequestID)
		return nil
	}
	validList := make([]*icapi.ResponseValid, len(rd.ResponseList))
	for i, r := range rd.ResponseList {
		validList[i] = &icapi.ResponseValid{IdpID: r.IdpID, ValidSignature: r.ValidSignature, ValidIAL: r.ValidIAL}
	}
	log.L(ctx).Infof("Resuming identity operation %s after consent request %s closed", op.OpType, *op.RequestID)
	return im.consentDecided(ctx, op, consentError(ctx, &components.RequestClosedEvent{
		NodeID:            op.NodeID,
		RequestID:         *op.RequestID,
		ReferenceID:       op.ReferenceID,
		Status:            rd.Status(),
		Closed:            rd.Closed,
		TimedOut:          rd.TimedOut,
		ResponseValidList: validList,
	}))
}
