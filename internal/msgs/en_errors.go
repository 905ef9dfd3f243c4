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

package msgs

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"golang.org/x/text/language"
)

const idConsentPrefix = "IC01"

var registered sync.Once
var ffe = func(key, translation string, statusHint ...int) i18n.ErrorMessageKey {
	registered.Do(func() {
		i18n.RegisterPrefix(idConsentPrefix, "Identity Consent Node")
	})
	if !strings.HasPrefix(key, idConsentPrefix) {
		panic(fmt.Errorf("must have prefix '%s': %s", idConsentPrefix, key))
	}
	return i18n.FFE(language.AmericanEnglish, key, translation, statusHint...)
}

var (
	// Config and components IC0100XX
	MsgConfigFileMissing         = ffe("IC010000", "Config file not found at location: %s")
	MsgConfigFileReadError       = ffe("IC010001", "Failed to read config file %s with error: %s")
	MsgConfigFileParseError      = ffe("IC010002", "Failed to parse config file: %s")
	MsgNodeIDNotConfigured       = ffe("IC010003", "nodeId must be configured to set the identity of the local node")
	MsgContextCanceled           = ffe("IC010004", "Context canceled")
	MsgComponentInitError        = ffe("IC010005", "Error initializing component %s")
	MsgComponentStartError       = ffe("IC010006", "Error starting component %s")
	MsgInvalidInput              = ffe("IC010007", "Invalid input: %s", 400)
	MsgNodeNotManaged            = ffe("IC010008", "Node '%s' is not managed by this node", 400)
	MsgNodeIDRequiredForProxy    = ffe("IC010009", "node_id must be supplied to a proxy node", 400)
	MsgKeyedLockContextCancelled = ffe("IC010010", "Cancelled waiting for lock on '%s'")
	MsgUnknownContinuationKind   = ffe("IC010011", "No continuation handler registered for kind '%s'")
	MsgDuplicateContinuationKind = ffe("IC010012", "Continuation handler already registered for kind '%s'")
	MsgContinuationArgsInvalid   = ffe("IC010013", "Invalid arguments for continuation kind '%s'")
	MsgInvalidHTTPURL            = ffe("IC010016", "Invalid HTTP URL '%s'")
	MsgHTTPServerStartFailed     = ffe("IC010017", "Failed to start server on '%s'")
	MsgInternalError             = ffe("IC010018", "Internal error: %s")

	// Persistence IC0101XX
	MsgPersistenceInvalidType          = ffe("IC010100", "Invalid persistence type: %s")
	MsgPersistenceMissingDSN           = ffe("IC010101", "Missing database connection Data Source Name (DSN)")
	MsgPersistenceInitFailed           = ffe("IC010102", "Database init failed")
	MsgPersistenceMigrationFailed      = ffe("IC010103", "Database migration failed")
	MsgPersistenceMissingMigrationDir  = ffe("IC010104", "Missing database migration directory for autoMigrate")
	MsgPersistenceErrorInDBTransaction = ffe("IC010105", "Error in database transaction: %v")

	// Request creation and validation IC0102XX
	MsgModeNotAllowed           = ffe("IC010200", "Mode %d is not allowed for purpose '%s' (allowed=%v)", 400)
	MsgUnsupportedIAL           = ffe("IC010201", "IAL %v is not in the supported list %v", 400)
	MsgUnsupportedAAL           = ffe("IC010202", "AAL %v is not in the supported list %v", 400)
	MsgInvalidRequestType       = ffe("IC010203", "Request type '%s' is not registered", 400)
	MsgDuplicateReferenceID     = ffe("IC010204", "Duplicate reference_id '%s'", 409)
	MsgInitialSaltTooShort      = ffe("IC010205", "initial_salt must be at least %d characters", 400)
	MsgRequestIDInvalid         = ffe("IC010207", "Supplied request_id '%s' is invalid", 400)
	MsgRequestIDAlreadyUsed     = ffe("IC010208", "Supplied request_id '%s' is already in use", 409)
	MsgNamespaceNotRegistered   = ffe("IC010210", "Namespace '%s' is not registered", 400)
	MsgRequestNotOwnedByNode    = ffe("IC010211", "Request %s was not created by node '%s'", 403)
	MsgRequestCreateFailed      = ffe("IC010212", "Failed to create request %s")
	MsgRequestCloseFailed       = ffe("IC010213", "Failed to close request %s")
	MsgRequestTimeoutFailed     = ffe("IC010214", "Failed to time out request %s")

	// Eligibility IC0103XX
	MsgIdpListLessThanMinIdp = ffe("IC010300", "Length of idp_id_list (%d) is less than min_idp (%d)", 400)
	MsgIdpIDListNeeded       = ffe("IC010301", "idp_id_list is required for mode %d", 400)
	MsgNoIdpFound            = ffe("IC010302", "No IdP found matching the request criteria", 400)
	MsgUnqualifiedIdp        = ffe("IC010303", "Some IdPs in idp_id_list do not qualify (requested=%v qualified=%v)", 400)
	MsgNotEnoughIdp          = ffe("IC010304", "Not enough IdPs qualify (found=%d min_idp=%d)", 400)
	MsgDuplicateServiceID    = ffe("IC010305", "Duplicate service_id '%s' in data_request_list", 400)
	MsgAsListLessThanMinAs   = ffe("IC010306", "Length of as_id_list (%d) is less than min_as (%d) for service '%s'", 400)
	MsgNotEnoughAs           = ffe("IC010307", "Not enough AS nodes for service '%s' (found=%d min_as=%d)", 400)
	MsgConditionTooLow       = ffe("IC010308", "No AS for service '%s' accepts the requested conditions (min_ial=%v min_aal=%v)", 400)
	MsgUnqualifiedAs         = ffe("IC010309", "Some AS nodes in as_id_list do not qualify for service '%s' (requested=%v qualified=%v)", 400)
	MsgNotInWhitelist        = ffe("IC010310", "Node '%s' is not whitelisted for requests from '%s'", 400)
	MsgServiceNotFound       = ffe("IC010311", "No AS provides service '%s'", 400)
	MsgUnsupportedNamespace  = ffe("IC010312", "No AS for service '%s' supports namespace '%s'", 400)

	// Protocol state IC0104XX
	MsgRequestNotFound        = ffe("IC010400", "Request %s not found", 404)
	MsgRequestIsClosed        = ffe("IC010401", "Request %s is closed", 400)
	MsgRequestIsTimedOut      = ffe("IC010402", "Request %s is timed out", 400)
	MsgEnoughIdpResponse      = ffe("IC010403", "Request %s already has enough IdP responses, or can no longer reach min_idp", 400)
	MsgUnknownConsentRequest  = ffe("IC010404", "Consent request %s was not received by this node", 404)
	MsgIdpNotInRequest        = ffe("IC010405", "IdP '%s' is not a receiver of request %s", 400)
	MsgDuplicateIdpResponse   = ffe("IC010406", "IdP '%s' has already responded to request %s", 400)
	MsgRequestMessageMismatch = ffe("IC010407", "Request message hash of %s does not match the ledger", 400)
	MsgResponseNotOnLedger    = ffe("IC010408", "Response of IdP '%s' to request %s not found on the ledger")
	MsgMessageSenderMismatch  = ffe("IC010409", "Message for request %s from '%s' was sent by '%s'", 400)
	MsgResponseSubmitFailed   = ffe("IC010410", "Failed to submit response to request %s")

	// Consent validation IC0105XX
	MsgInvalidErrorCode         = ffe("IC010500", "Error code %d is not registered for IdP responses", 400)
	MsgIALTooLow                = ffe("IC010501", "IAL %v is lower than the request minimum %v", 400)
	MsgAALTooLow                = ffe("IC010502", "AAL %v is lower than the request minimum %v", 400)
	MsgIdentityModeMismatch     = ffe("IC010503", "Mode %d of request %s is not in the supported modes of this identity %v", 400)
	MsgAccessorIDNeeded         = ffe("IC010504", "accessor_id is required for mode %d", 400)
	MsgAccessorNotInGroup       = ffe("IC010505", "Accessor '%s' does not belong to the reference group of request %s", 400)
	MsgIALMismatch              = ffe("IC010506", "IAL %v does not match the IAL %v registered for the identity", 400)
	MsgInvalidResponseSignature = ffe("IC010507", "Response signature is invalid for accessor '%s'", 400)
	MsgReferenceGroupNotFound   = ffe("IC010508", "No reference group found for the identity of request %s", 404)
	MsgAccessorKeyNotFound      = ffe("IC010509", "Accessor '%s' not found", 404)
	MsgAccessorNotActive        = ffe("IC010510", "Accessor '%s' is not active", 400)
	MsgSignatureNeeded          = ffe("IC010511", "signature is required for mode %d", 400)
	MsgInvalidPublicKey         = ffe("IC010512", "Accessor public key could not be parsed", 400)
	MsgIdentityNotFoundForIdp   = ffe("IC010513", "Identity for request %s is not associated with IdP '%s'", 400)

	// Callbacks IC0106XX
	MsgCallbackBodyTooLarge    = ffe("IC010600", "Callback response body exceeded the limit of %d bytes")
	MsgCallbackHTTPStatus      = ffe("IC010601", "Callback to %s returned HTTP status %d")
	MsgCallbackTimedOut        = ffe("IC010602", "Callback %s gave up after retrying for %s")
	MsgCallbackNoURL           = ffe("IC010603", "No callback URL available for callback %s")
	MsgCallbackURLResolveFail  = ffe("IC010604", "Failed to resolve the callback URL for callback %s")
	MsgCallbackRequestFailed   = ffe("IC010605", "Callback request to %s failed")
	MsgCallbackInvalidResponse = ffe("IC010607", "Callback response handler failed for %s")

	// Ledger IC0107XX
	MsgLedgerTxFailed           = ffe("IC010700", "Ledger transaction %s failed (code=%d): %s")
	MsgLedgerChainDisabled      = ffe("IC010701", "Ledger is disabled, transaction %s saved for retry later")
	MsgLedgerRPCError           = ffe("IC010702", "Ledger JSON/RPC call %s failed: %s")
	MsgLedgerQueryFailed        = ffe("IC010703", "Ledger query %s failed (code=%d): %s")
	MsgLedgerInvalidResponse    = ffe("IC010704", "Ledger returned an invalid response for %s")
	MsgLedgerURLNotConfigured   = ffe("IC010705", "Ledger URL must be configured")
	MsgLedgerChainDisabledNoTx  = ffe("IC010707", "Ledger is disabled, transaction %s rejected")
	MsgLedgerContinuationFailed = ffe("IC010708", "Continuation of ledger transaction %s failed")

	// Transport IC0108XX
	MsgTransportInvalidMessage    = ffe("IC010800", "Invalid transport message", 400)
	MsgTransportNoReceivers       = ffe("IC010801", "No receivers supplied for message")
	MsgTransportReceiverNoAddress = ffe("IC010802", "Receiver '%s' has no registered address")
	MsgTransportSendFailed        = ffe("IC010803", "Sending message to '%s' failed with HTTP status %d")
	MsgTransportInvalidSender     = ffe("IC010804", "Message received without a sender node id", 400)
	MsgTransportNoHandler         = ffe("IC010805", "No inbound message handler registered", 503)
	MsgTransportUnknownType       = ffe("IC010806", "Unknown message type '%s'", 400)

	// Identity operations IC0109XX
	MsgIdentityAlreadyExists     = ffe("IC010900", "Identity already exists for namespace '%s'", 409)
	MsgIdentityNotFound          = ffe("IC010901", "Identity not found", 404)
	MsgInvalidIdentityOperation  = ffe("IC010902", "Invalid identity operation '%s'", 400)
	MsgConsentRejected           = ffe("IC010903", "Consent request %s did not receive enough valid consent")
	MsgConsentRequestTimedOut    = ffe("IC010904", "Consent request %s timed out")
	MsgIdentityListEmpty         = ffe("IC010906", "identity_list must contain at least one identity", 400)
	MsgModeDowngradeNotAllowed   = ffe("IC010907", "Cannot change identity mode list from %v to %v", 400)
	MsgMergeSameGroup            = ffe("IC010908", "Both identities already belong to reference group '%s'", 400)
	MsgAccessorOwnedByOtherNode  = ffe("IC010909", "Accessor '%s' is not owned by node '%s'", 400)
	MsgIdentityOperationFailed   = ffe("IC010910", "Identity operation '%s' failed for reference_id '%s'")

	// AS operations IC0110XX
	MsgServiceDestinationNotFound = ffe("IC011000", "Node '%s' has no service destination for service '%s'", 404)
	MsgServicePriceInvalid        = ffe("IC011001", "Invalid price for service '%s': price_max %v is lower than price_min %v", 400)
	MsgASNotInRequest             = ffe("IC011002", "AS '%s' is not a receiver of service '%s' on request %s", 400)
	MsgInvalidASErrorCode         = ffe("IC011003", "Error code %d is not registered for AS responses", 400)
	MsgASOperationFailed          = ffe("IC011004", "AS operation %s failed for reference_id '%s'")
	MsgDuplicateASResponse        = ffe("IC011005", "AS '%s' has already answered service '%s' on request %s", 400)
	MsgConsentNotComplete         = ffe("IC011006", "Request %s does not have the IdP consent required before AS responses", 400)
)

// ErrorCode returns the message key of an error raised through this package (or any
// other i18n registered error), or an empty string for errors from elsewhere.
func ErrorCode(err error) string {
	var ffErr i18n.FFError
	if errors.As(err, &ffErr) {
		return string(ffErr.MessageKey())
	}
	return ""
}
