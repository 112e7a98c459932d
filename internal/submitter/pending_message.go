/*
 * Copyright © 2025 Kaleido, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with
 * the License. You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
 * an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
 * specific language governing permissions and limitations under the License.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package submitter

import (
	"context"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-common/pkg/log"

	"github.com/kaleido-io/relaymesh/internal/components"
	"github.com/kaleido-io/relaymesh/internal/gaspayment"
	"github.com/kaleido-io/relaymesh/internal/msgs"
	"github.com/kaleido-io/relaymesh/internal/store"
	"github.com/kaleido-io/relaymesh/internal/types"
)

// ConfirmDelay is how long after submission (or an observed prior
// delivery) an operation waits before its first confirmation check.
// A variable so tests can tighten the pipeline.
var ConfirmDelay = 60 * time.Second

// Status is the lifecycle state of a pending operation
type Status string

const (
	StatusFirstPrepareAttempt   Status = "firstPrepareAttempt"
	StatusRetry                 Status = "retry"
	StatusReadyToSubmit         Status = "readyToSubmit"
	StatusSubmittedNeedsConfirm Status = "submittedNeedsConfirm"
	StatusFinalized             Status = "finalized"
	StatusDropped               Status = "dropped"
)

// Reason tags why an operation was re-queued or dropped
type Reason string

const (
	ReasonNone                        Reason = ""
	ReasonErrorCheckingDeliveryStatus Reason = "errorCheckingDeliveryStatus"
	ReasonErrorCheckingIsContract     Reason = "errorCheckingIsContract"
	ReasonNotAContract                Reason = "notAContract"
	ReasonGasPolicy                   Reason = "gasPolicy"
	ReasonCouldNotFetchMetadata       Reason = "couldNotFetchMetadata"
	ReasonUnsupportedISM              Reason = "unsupportedISM"
	ReasonErrorEstimatingGas          Reason = "errorEstimatingGas"
	ReasonExceedsMaxGasLimit          Reason = "exceedsMaxGasLimit"
	ReasonErrorSubmitting             Reason = "errorSubmitting"
	ReasonReorged                     Reason = "reorged"
	ReasonReverted                    Reason = "reverted"
	ReasonMaxRetriesExceeded          Reason = "maxRetriesExceeded"
)

// ResultType routes an operation between pipeline queues
type ResultType int

const (
	// ResultSuccess advances the operation to the next stage
	ResultSuccess ResultType = iota
	// ResultNotReady leaves the operation where it is until its backoff expires
	ResultNotReady
	// ResultReprepare sends the operation back to the prepare queue
	ResultReprepare
	// ResultConfirm sends the operation straight to the confirm queue
	ResultConfirm
	// ResultDrop evicts the operation permanently
	ResultDrop
)

// Result is what every pipeline call on a PendingMessage returns; adapter
// errors never cross this boundary.
type Result struct {
	Type   ResultType
	Reason Reason
}

// SubmissionData is produced by a successful prepare and consumed by submit
type SubmissionData struct {
	Metadata types.Metadata
	GasLimit *big.Int
}

// MessageContext is the per-(origin, destination) wiring a pending
// message needs to progress: the destination contracts, the origin store,
// and the policy surfaces.
type MessageContext struct {
	DestinationMailbox  components.Mailbox
	DestinationProvider components.Provider
	MetadataBuilder     components.MetadataBuilder
	GasEnforcer         *gaspayment.Enforcer
	OriginStore         *store.OriginStore
	// TransactionGasLimit caps the submit gas when non-nil
	TransactionGasLimit *big.Int
}

// PendingMessage drives one message through prepare, submit, and confirm.
// It is owned by exactly one SerialSubmitter and never touched
// concurrently; queues re-order it between calls.
type PendingMessage struct {
	Message    *types.Message
	ctx        *MessageContext
	appContext string

	status           Status
	reason           Reason
	numRetries       uint32
	maxRetries       uint32
	createdAt        time.Time
	nextAttemptAfter time.Time

	metadata       types.Metadata
	submissionData *SubmissionData
	submitted      bool
	outcome        *types.TxOutcome

	// seq is assigned by the first queue push and kept for FIFO tiebreaks
	seq uint64

	messageID types.Bytes32
}

// NewPendingMessage builds the operation in its initial state. numRetries
// carries over the persisted retry count so a restart resumes backoff
// rather than restarting it.
func NewPendingMessage(msg *types.Message, msgCtx *MessageContext, appContext string, numRetries, maxRetries uint32) *PendingMessage {
	pm := &PendingMessage{
		Message:    msg,
		ctx:        msgCtx,
		appContext: appContext,
		status:     StatusFirstPrepareAttempt,
		numRetries: numRetries,
		maxRetries: maxRetries,
		createdAt:  time.Now(),
		messageID:  msg.ID(),
	}
	if numRetries > 0 {
		pm.status = StatusRetry
		pm.nextAttemptAfter = time.Now().Add(retryBackoff(numRetries))
	}
	return pm
}

func (pm *PendingMessage) ID() types.Bytes32          { return pm.messageID }
func (pm *PendingMessage) Origin() uint32             { return pm.Message.Origin }
func (pm *PendingMessage) Destination() types.Domain  { return pm.ctx.DestinationMailbox.Domain() }
func (pm *PendingMessage) Status() Status             { return pm.status }
func (pm *PendingMessage) Reason() Reason             { return pm.reason }
func (pm *PendingMessage) NumRetries() uint32         { return pm.numRetries }
func (pm *PendingMessage) AppContext() string         { return pm.appContext }
func (pm *PendingMessage) Outcome() *types.TxOutcome  { return pm.outcome }
func (pm *PendingMessage) NextAttempt() time.Time     { return pm.nextAttemptAfter }
func (pm *PendingMessage) CachedMetadata() types.Metadata {
	return pm.metadata
}

// PayloadUUID is the deterministic retry-correlation id: the first 16
// bytes of the message id, so a resubmitted message keeps its identity.
func (pm *PendingMessage) PayloadUUID() string {
	u, _ := uuid.FromBytes(pm.messageID[:16])
	return u.String()
}

// IsReady gates every pipeline attempt on the backoff deadline
func (pm *PendingMessage) IsReady() bool {
	return !time.Now().Before(pm.nextAttemptAfter)
}

// SetNextAttemptAfter pushes the next attempt out by d from now
func (pm *PendingMessage) SetNextAttemptAfter(d time.Duration) {
	pm.nextAttemptAfter = time.Now().Add(d)
}

// ResetAttemptTime makes the operation immediately eligible (manual retry)
func (pm *PendingMessage) ResetAttemptTime() {
	pm.nextAttemptAfter = time.Time{}
}

// Prepare performs delivery/contract checks, gas-payment preflight,
// metadata build (cached), gas estimation, and the post-estimate policy
// check, leaving submission data ready on success.
func (pm *PendingMessage) Prepare(ctx context.Context) Result {
	if !pm.IsReady() {
		return Result{Type: ResultNotReady}
	}

	// Another relayer may have beaten us to it; skip straight to confirm
	delivered, err := pm.ctx.DestinationMailbox.Delivered(ctx, pm.messageID)
	if err != nil {
		return pm.onReprepare(ctx, err, ReasonErrorCheckingDeliveryStatus)
	}
	if delivered {
		log.L(ctx).Debugf("Message %s already delivered, marking as submitted", pm.messageID)
		pm.submitted = true
		pm.status = StatusSubmittedNeedsConfirm
		pm.SetNextAttemptAfter(ConfirmDelay)
		return Result{Type: ResultConfirm}
	}

	isContract, err := pm.ctx.DestinationProvider.IsContract(ctx, pm.Message.Recipient)
	if err != nil {
		return pm.onReprepare(ctx, err, ReasonErrorCheckingIsContract)
	}
	if !isContract {
		log.L(ctx).Infof("Dropping message %s: recipient %s is not a contract", pm.messageID, pm.Message.Recipient)
		return pm.onDrop(ctx, ReasonNotAContract)
	}

	// Cheap policy short-circuit before metadata build and gas estimation
	switch outcome, err := pm.ctx.GasEnforcer.MeetsRequirementPreflight(ctx, pm.Message); {
	case err != nil:
		return pm.onReprepare(ctx, err, ReasonGasPolicy)
	case outcome == gaspayment.OutcomeRetry:
		return pm.onReprepare(ctx, nil, ReasonGasPolicy)
	case outcome == gaspayment.OutcomeDrop:
		return pm.onDrop(ctx, ReasonGasPolicy)
	}

	// Validate cached metadata by estimating against it; estimation
	// failure invalidates the cache and forces a rebuild
	var estimate *types.CostEstimate
	if pm.metadata != nil {
		estimate, err = pm.ctx.DestinationMailbox.ProcessEstimateCosts(ctx, pm.Message, pm.metadata)
		if err != nil {
			log.L(ctx).Debugf("Cached metadata gas estimation failed for %s, rebuilding: %s", pm.messageID, err)
			pm.clearMetadata()
			estimate = nil
		}
	}

	if pm.metadata == nil {
		metadata, err := pm.ctx.MetadataBuilder.Build(ctx, pm.Message)
		if err != nil {
			if components.IsUnsupported(err) {
				log.L(ctx).Warnf("Dropping message %s: %s", pm.messageID, err)
				return pm.onDrop(ctx, ReasonUnsupportedISM)
			}
			return pm.onReprepare(ctx, err, ReasonCouldNotFetchMetadata)
		}
		pm.metadata = metadata
	}

	if estimate == nil {
		estimate, err = pm.ctx.DestinationMailbox.ProcessEstimateCosts(ctx, pm.Message, pm.metadata)
		if err != nil {
			pm.clearMetadata()
			return pm.onReprepare(ctx, err, ReasonErrorEstimatingGas)
		}
	}

	gasLimit, outcome, err := pm.ctx.GasEnforcer.MeetsRequirement(ctx, pm.Message, estimate)
	switch {
	case err != nil:
		return pm.onReprepare(ctx, err, ReasonGasPolicy)
	case outcome == gaspayment.OutcomeRetry:
		return pm.onReprepare(ctx, nil, ReasonGasPolicy)
	case outcome == gaspayment.OutcomeDrop:
		return pm.onDrop(ctx, ReasonGasPolicy)
	}

	if pm.ctx.TransactionGasLimit != nil && gasLimit.Cmp(pm.ctx.TransactionGasLimit) > 0 {
		pm.clearMetadata()
		return pm.onReprepare(ctx, nil, ReasonExceedsMaxGasLimit)
	}

	pm.submissionData = &SubmissionData{Metadata: pm.metadata, GasLimit: gasLimit}
	pm.status = StatusReadyToSubmit
	pm.reason = ReasonNone
	return Result{Type: ResultSuccess}
}

// Submit dispatches the prepared transaction
func (pm *PendingMessage) Submit(ctx context.Context) Result {
	if pm.submissionData == nil {
		// prepare must run first; treat as a programming error surfaced
		// through the retry path rather than a panic
		return pm.onReprepare(ctx, nil, ReasonErrorSubmitting)
	}
	outcome, err := pm.ctx.DestinationMailbox.Process(ctx, pm.Message, pm.submissionData.Metadata, pm.submissionData.GasLimit)
	if err != nil {
		return pm.onReprepare(ctx, err, ReasonErrorSubmitting)
	}
	pm.recordOutcome(outcome)
	log.L(ctx).Infof("Submitted message %s in tx %s (executed=%t)", pm.messageID, outcome.TxID, outcome.Executed)
	return Result{Type: ResultSuccess}
}

// RecordBatchOutcome applies a batch transaction's outcome to this member
func (pm *PendingMessage) RecordBatchOutcome(outcome *types.TxOutcome) {
	pm.recordOutcome(outcome)
}

func (pm *PendingMessage) recordOutcome(outcome *types.TxOutcome) {
	pm.outcome = outcome
	pm.submitted = true
	pm.status = StatusSubmittedNeedsConfirm
	pm.SetNextAttemptAfter(ConfirmDelay)
}

// TryBatch exposes the message/metadata pair for batch submission
func (pm *PendingMessage) TryBatch(ctx context.Context) (*types.BatchItem, error) {
	if pm.submissionData == nil {
		return nil, errMissingSubmissionData(ctx)
	}
	return &types.BatchItem{
		Message:  pm.Message,
		Metadata: pm.submissionData.Metadata,
		GasLimit: pm.submissionData.GasLimit,
	}, nil
}

func errMissingSubmissionData(ctx context.Context) error {
	return i18n.NewError(ctx, msgs.MsgSubmissionDataMissing)
}

// Confirm checks for durable delivery, finalizing or routing back through
// prepare on reorg/revert
func (pm *PendingMessage) Confirm(ctx context.Context) Result {
	if !pm.IsReady() {
		return Result{Type: ResultNotReady}
	}
	delivered, err := pm.ctx.DestinationMailbox.Delivered(ctx, pm.messageID)
	if err != nil {
		// inconclusive; stay in the confirm queue and look again later
		log.L(ctx).Debugf("Could not check delivery of %s: %s", pm.messageID, err)
		pm.SetNextAttemptAfter(ConfirmDelay)
		return Result{Type: ResultConfirm}
	}
	if delivered {
		pm.status = StatusFinalized
		if err := pm.ctx.OriginStore.MarkProcessed(ctx, pm.Message.Nonce, pm.messageID, pm.outcome); err != nil {
			// delivery is confirmed on chain; the marker write retries next pass
			log.L(ctx).Errorf("Failed to persist processed marker for %s: %s", pm.messageID, err)
			pm.status = StatusSubmittedNeedsConfirm
			pm.SetNextAttemptAfter(ConfirmDelay)
			return Result{Type: ResultConfirm}
		}
		log.L(ctx).Infof("Message %s confirmed delivered to %s", pm.messageID, pm.Destination())
		return Result{Type: ResultSuccess}
	}
	if pm.outcome != nil && !pm.outcome.Executed {
		log.L(ctx).Warnf("Transaction for message %s reverted, repreparing", pm.messageID)
		return pm.onReprepare(ctx, nil, ReasonReverted)
	}
	// An executed (or externally observed) delivery has disappeared
	log.L(ctx).Warnf("Delivery of message %s no longer visible, assuming reorg", pm.messageID)
	return pm.onReprepare(ctx, nil, ReasonReorged)
}

func (pm *PendingMessage) clearMetadata() {
	pm.metadata = nil
	pm.submissionData = nil
}

// onReprepare books a retry: bump the count, persist it, apply backoff,
// and drop permanently once the budget is exhausted.
func (pm *PendingMessage) onReprepare(ctx context.Context, cause error, reason Reason) Result {
	pm.numRetries++
	pm.status = StatusRetry
	pm.reason = reason
	if cause != nil {
		log.L(ctx).Debugf("Repreparing message %s (%s, retry %d): %s", pm.messageID, reason, pm.numRetries, cause)
	} else {
		log.L(ctx).Debugf("Repreparing message %s (%s, retry %d)", pm.messageID, reason, pm.numRetries)
	}
	if err := pm.ctx.OriginStore.SetRetryCount(ctx, pm.messageID, pm.numRetries); err != nil {
		log.L(ctx).Warnf("Failed to persist retry count for %s: %s", pm.messageID, err)
	}
	if pm.numRetries >= pm.maxRetries {
		return pm.onDrop(ctx, ReasonMaxRetriesExceeded)
	}
	pm.nextAttemptAfter = time.Now().Add(retryBackoff(pm.numRetries))
	return Result{Type: ResultReprepare, Reason: reason}
}

func (pm *PendingMessage) onDrop(ctx context.Context, reason Reason) Result {
	pm.status = StatusDropped
	pm.reason = reason
	log.L(ctx).Warnf("Dropping message %s: %s (retries=%d)", pm.messageID, reason, pm.numRetries)
	return Result{Type: ResultDrop, Reason: reason}
}

// retryBackoff is deterministic given the retry count alone, so identical
// crash recovery reproduces identical timing: exponential doubling from
// five seconds, capped at one hour.
func retryBackoff(numRetries uint32) time.Duration {
	if numRetries == 0 {
		return 0
	}
	const base = 5 * time.Second
	const maxBackoff = time.Hour
	shift := numRetries - 1
	if shift > 12 {
		return maxBackoff
	}
	d := base << shift
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// statusPriority orders queue entries so operations with work ready to do
// beat ones cycling through retries
func statusPriority(s Status) int {
	switch s {
	case StatusReadyToSubmit:
		return 0
	case StatusFirstPrepareAttempt:
		return 1
	case StatusSubmittedNeedsConfirm:
		return 2
	case StatusRetry:
		return 3
	default:
		return 4
	}
}
