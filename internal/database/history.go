package database

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"

	"intake/internal/model"
)

// ImportRecord is one line of the local import audit history.
type ImportRecord struct {
	ID         primitive.ObjectID     `bson:"_id,omitempty" json:"id"`
	BatchID    string                 `bson:"batch_id" json:"batch_id"`
	FileName   string                 `bson:"file_name" json:"file_name"`
	SourceType model.SourceType       `bson:"source_type" json:"source_type"`
	Status     model.EntryStatus      `bson:"status" json:"status"`
	Error      string                 `bson:"error,omitempty" json:"error,omitempty"`
	StagedURL  string                 `bson:"staged_url,omitempty" json:"staged_url,omitempty"`
	Promotion  *model.PromotionResult `bson:"promotion,omitempty" json:"promotion,omitempty"`
	CreatedAt  time.Time              `bson:"created_at" json:"created_at"`
	UpdatedAt  time.Time              `bson:"updated_at" json:"updated_at"`
}

// HistoryDatabase defines the import history operations.
type HistoryDatabase interface {
	// RecordEntry upserts the audit record for a queue entry, keyed by
	// batch id.
	RecordEntry(ctx context.Context, entry model.QueueEntry, sourceType model.SourceType) error

	// RecordPromotion attaches a promotion outcome to the batch's record.
	RecordPromotion(ctx context.Context, batchID string, sourceType model.SourceType, result model.PromotionResult) error

	// ListHistory returns recent records, newest first.
	ListHistory(ctx context.Context, limit int) ([]ImportRecord, error)
}

// RecordEntry upserts one audit record keyed by batch id.
func (m *mongoDB) RecordEntry(ctx context.Context, entry model.QueueEntry, sourceType model.SourceType) error {
	now := time.Now()
	update := bson.M{
		"$set": bson.M{
			"file_name":   entry.Name,
			"source_type": sourceType,
			"status":      entry.Status,
			"error":       entry.Error,
			"staged_url":  entry.StagedURL,
			"updated_at":  now,
		},
		"$setOnInsert": bson.M{
			"created_at": entry.CreatedAt,
		},
	}

	opts := options.Update().SetUpsert(true)
	_, err := m.historyCol.UpdateOne(ctx, bson.M{"batch_id": entry.BatchID}, update, opts)
	if err != nil {
		log.Error().Err(err).Str("batch_id", entry.BatchID).Msg("Failed to record import history entry")
		return err
	}
	return nil
}

// RecordPromotion attaches the aggregate promotion result to the record.
func (m *mongoDB) RecordPromotion(ctx context.Context, batchID string, sourceType model.SourceType, result model.PromotionResult) error {
	update := bson.M{
		"$set": bson.M{
			"source_type": sourceType,
			"promotion":   result,
			"updated_at":  time.Now(),
		},
		"$setOnInsert": bson.M{
			"created_at": time.Now(),
		},
	}

	opts := options.Update().SetUpsert(true)
	_, err := m.historyCol.UpdateOne(ctx, bson.M{"batch_id": batchID}, update, opts)
	if err != nil {
		log.Error().Err(err).Str("batch_id", batchID).Msg("Failed to record promotion history")
		return err
	}
	return nil
}

// ListHistory returns the most recent import records.
func (m *mongoDB) ListHistory(ctx context.Context, limit int) ([]ImportRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := m.historyCol.Find(ctx, bson.M{}, opts)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list import history")
		return nil, err
	}
	defer cursor.Close(ctx)

	var records []ImportRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}
