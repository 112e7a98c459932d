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

package store

import (
	"context"
	"math/big"
	"time"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-common/pkg/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kaleido-io/relaymesh/internal/msgs"
	"github.com/kaleido-io/relaymesh/internal/types"
)

// Store is the process-wide durable store. Each origin gets a scoped
// handle; all tables carry the origin domain id so one database file
// serves every chain pair.
type Store struct {
	db *gorm.DB
}

type indexedMessage struct {
	Origin      uint32 `gorm:"column:origin;primaryKey"`
	Nonce       uint32 `gorm:"column:nonce;primaryKey"`
	MessageID   string `gorm:"column:message_id;index"`
	Version     uint8  `gorm:"column:version"`
	Sender      string `gorm:"column:sender"`
	Destination uint32 `gorm:"column:destination"`
	Recipient   string `gorm:"column:recipient"`
	Body        []byte `gorm:"column:body"`
	Created     int64  `gorm:"column:created;autoCreateTime:nano"`
}

func (indexedMessage) TableName() string { return "messages" }

type gasPayment struct {
	Origin    uint32 `gorm:"column:origin;primaryKey"`
	Sequence  uint64 `gorm:"column:sequence;primaryKey"`
	MessageID string `gorm:"column:message_id;index"`
	Amount    string `gorm:"column:amount"`
	Created   int64  `gorm:"column:created;autoCreateTime:nano"`
}

func (gasPayment) TableName() string { return "gas_payments" }

type processedMarker struct {
	Origin    uint32 `gorm:"column:origin;primaryKey"`
	Nonce     uint32 `gorm:"column:nonce;primaryKey"`
	MessageID string `gorm:"column:message_id;index"`
	TxID      string `gorm:"column:tx_id"`
	Block     uint64 `gorm:"column:block"`
	Created   int64  `gorm:"column:created;autoCreateTime:nano"`
}

func (processedMarker) TableName() string { return "processed" }

type nonceCursor struct {
	Origin       uint32 `gorm:"column:origin;primaryKey"`
	HighestNonce uint32 `gorm:"column:highest_nonce"`
}

func (nonceCursor) TableName() string { return "nonce_cursors" }

type merkleInsertion struct {
	Origin    uint32 `gorm:"column:origin;primaryKey"`
	LeafIndex uint32 `gorm:"column:leaf_index;primaryKey"`
	MessageID string `gorm:"column:message_id;index"`
}

func (merkleInsertion) TableName() string { return "merkle_insertions" }

type retryRecord struct {
	Origin     uint32 `gorm:"column:origin;primaryKey"`
	MessageID  string `gorm:"column:message_id;primaryKey"`
	NumRetries uint32 `gorm:"column:num_retries"`
	Updated    int64  `gorm:"column:updated;autoUpdateTime:nano"`
}

func (retryRecord) TableName() string { return "message_retries" }

type payloadRecord struct {
	PayloadUUID string `gorm:"column:payload_uuid;primaryKey"`
	Origin      uint32 `gorm:"column:origin"`
	MessageID   string `gorm:"column:message_id;index"`
}

func (payloadRecord) TableName() string { return "payload_index" }

// Open opens (creating if necessary) the sqlite-backed store at path.
// Pass ":memory:" for an ephemeral store in tests.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgStoreOpenFailed, path)
	}
	err = db.AutoMigrate(
		&indexedMessage{},
		&gasPayment{},
		&processedMarker{},
		&nonceCursor{},
		&merkleInsertion{},
		&retryRecord{},
		&payloadRecord{},
	)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgStoreMigrationFailed)
	}
	log.L(ctx).Infof("Opened durable store at %s", path)
	return &Store{db: db}, nil
}

// ForOrigin returns the domain-scoped view of the store. Handles are
// cheap and may be cloned freely; gorm owns internal locking.
func (s *Store) ForOrigin(origin types.Domain) *OriginStore {
	return &OriginStore{store: s, origin: origin}
}

// OriginStore is the per-origin sub-store. The loader advances nonces and
// reads messages; the submitter writes processed markers and retry counts.
type OriginStore struct {
	store  *Store
	origin types.Domain
}

func (os *OriginStore) Domain() types.Domain { return os.origin }

func (os *OriginStore) StoreMessage(ctx context.Context, msg *types.Message) error {
	rec := &indexedMessage{
		Origin:      os.origin.ID,
		Nonce:       msg.Nonce,
		MessageID:   msg.ID().String(),
		Version:     msg.Version,
		Sender:      msg.Sender.String(),
		Destination: msg.Destination,
		Recipient:   msg.Recipient.String(),
		Body:        msg.Body,
	}
	return os.store.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}). // messages are immutable
		Create(rec).
		Error
}

// MessageByNonce returns nil (no error) when the nonce is not yet indexed
func (os *OriginStore) MessageByNonce(ctx context.Context, nonce uint32) (*types.Message, error) {
	var recs []*indexedMessage
	err := os.store.db.WithContext(ctx).
		Where("origin = ?", os.origin.ID).
		Where("nonce = ?", nonce).
		Limit(1).
		Find(&recs).
		Error
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return os.toMessage(ctx, recs[0])
}

func (os *OriginStore) MessageByID(ctx context.Context, messageID types.Bytes32) (*types.Message, error) {
	var recs []*indexedMessage
	err := os.store.db.WithContext(ctx).
		Where("origin = ?", os.origin.ID).
		Where("message_id = ?", messageID.String()).
		Limit(1).
		Find(&recs).
		Error
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return os.toMessage(ctx, recs[0])
}

func (os *OriginStore) toMessage(ctx context.Context, rec *indexedMessage) (*types.Message, error) {
	sender, err := types.ParseBytes32(rec.Sender)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgStoreInvalidRawrecord, rec.MessageID)
	}
	recipient, err := types.ParseBytes32(rec.Recipient)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgStoreInvalidRawrecord, rec.MessageID)
	}
	return &types.Message{
		Version:     rec.Version,
		Nonce:       rec.Nonce,
		Origin:      rec.Origin,
		Sender:      sender,
		Destination: rec.Destination,
		Recipient:   recipient,
		Body:        rec.Body,
	}, nil
}

// HighestSeenNonce returns nil when no message has been indexed yet
func (os *OriginStore) HighestSeenNonce(ctx context.Context) (*uint32, error) {
	var recs []*nonceCursor
	err := os.store.db.WithContext(ctx).
		Where("origin = ?", os.origin.ID).
		Limit(1).
		Find(&recs).
		Error
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return &recs[0].HighestNonce, nil
}

func (os *OriginStore) SetHighestSeenNonce(ctx context.Context, nonce uint32) error {
	return os.store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "origin"}},
			DoUpdates: clause.AssignmentColumns([]string{"highest_nonce"}),
		}).
		Create(&nonceCursor{Origin: os.origin.ID, HighestNonce: nonce}).
		Error
}

func (os *OriginStore) MarkProcessed(ctx context.Context, nonce uint32, messageID types.Bytes32, outcome *types.TxOutcome) error {
	rec := &processedMarker{
		Origin:    os.origin.ID,
		Nonce:     nonce,
		MessageID: messageID.String(),
	}
	if outcome != nil {
		rec.TxID = outcome.TxID.String()
		rec.Block = outcome.BlockNumber
	}
	return os.store.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}). // delivery is final
		Create(rec).
		Error
}

func (os *OriginStore) IsProcessed(ctx context.Context, nonce uint32) (bool, error) {
	var count int64
	err := os.store.db.WithContext(ctx).
		Model(&processedMarker{}).
		Where("origin = ?", os.origin.ID).
		Where("nonce = ?", nonce).
		Count(&count).
		Error
	return count > 0, err
}

func (os *OriginStore) StoreGasPayment(ctx context.Context, sequence uint64, messageID types.Bytes32, amount *big.Int) error {
	return os.store.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&gasPayment{
			Origin:    os.origin.ID,
			Sequence:  sequence,
			MessageID: messageID.String(),
			Amount:    amount.String(),
		}).
		Error
}

// TotalGasPayment aggregates every indexed IGP payment for the message id
func (os *OriginStore) TotalGasPayment(ctx context.Context, messageID types.Bytes32) (total *big.Int, numPayments int, err error) {
	var recs []*gasPayment
	err = os.store.db.WithContext(ctx).
		Where("origin = ?", os.origin.ID).
		Where("message_id = ?", messageID.String()).
		Find(&recs).
		Error
	if err != nil {
		return nil, 0, err
	}
	total = new(big.Int)
	for _, rec := range recs {
		amount, ok := new(big.Int).SetString(rec.Amount, 10)
		if !ok {
			return nil, 0, i18n.NewError(ctx, msgs.MsgStoreInvalidRawrecord, rec.MessageID)
		}
		total = total.Add(total, amount)
	}
	return total, len(recs), nil
}

func (os *OriginStore) StoreMerkleInsertion(ctx context.Context, leafIndex uint32, messageID types.Bytes32) error {
	return os.store.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&merkleInsertion{Origin: os.origin.ID, LeafIndex: leafIndex, MessageID: messageID.String()}).
		Error
}

// RetryCount restores the persisted retry count for a message, so that
// crash recovery resumes backoff instead of restarting it. Zero when the
// message has never failed.
func (os *OriginStore) RetryCount(ctx context.Context, messageID types.Bytes32) (uint32, error) {
	var recs []*retryRecord
	err := os.store.db.WithContext(ctx).
		Where("origin = ?", os.origin.ID).
		Where("message_id = ?", messageID.String()).
		Limit(1).
		Find(&recs).
		Error
	if err != nil || len(recs) == 0 {
		return 0, err
	}
	return recs[0].NumRetries, nil
}

func (os *OriginStore) SetRetryCount(ctx context.Context, messageID types.Bytes32, numRetries uint32) error {
	return os.store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "origin"}, {Name: "message_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"num_retries", "updated"}),
		}).
		Create(&retryRecord{
			Origin:     os.origin.ID,
			MessageID:  messageID.String(),
			NumRetries: numRetries,
			Updated:    time.Now().UnixNano(),
		}).
		Error
}

// MapPayload records the payload-uuid to message-id correlation, which
// MessageIDForPayload resolves back; the retry endpoint does not use it.
func (os *OriginStore) MapPayload(ctx context.Context, payloadUUID string, messageID types.Bytes32) error {
	return os.store.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&payloadRecord{PayloadUUID: payloadUUID, Origin: os.origin.ID, MessageID: messageID.String()}).
		Error
}

func (os *OriginStore) MessageIDForPayload(ctx context.Context, payloadUUID string) (*types.Bytes32, error) {
	var recs []*payloadRecord
	err := os.store.db.WithContext(ctx).
		Where("payload_uuid = ?", payloadUUID).
		Limit(1).
		Find(&recs).
		Error
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	id, err := types.ParseBytes32(recs[0].MessageID)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgStoreInvalidRawrecord, recs[0].MessageID)
	}
	return &id, nil
}
