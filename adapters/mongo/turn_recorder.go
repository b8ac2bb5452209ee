package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/vocalis/server/domain/entities"
	"github.com/vocalis/server/domain/repositories"
)

// TurnRecorder appends turn outcomes to the "turns" collection
type TurnRecorder struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

var _ repositories.TurnRecorder = (*TurnRecorder)(nil)

// NewTurnRecorder creates a new MongoDB turn recorder
func NewTurnRecorder(db *mongo.Database, logger *zap.Logger) *TurnRecorder {
	return &TurnRecorder{
		collection: db.Collection("turns"),
		logger:     logger,
	}
}

// EnsureIndexes creates the indexes used by Stats and session lookups
func (r *TurnRecorder) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "started_at", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create turn indexes: %w", err)
	}
	return nil
}

// Record implements repositories.TurnRecorder
func (r *TurnRecorder) Record(ctx context.Context, record entities.TurnRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	if _, err := r.collection.InsertOne(ctx, record); err != nil {
		return fmt.Errorf("failed to record turn: %w", err)
	}
	return nil
}

type groupCount struct {
	Key   string `bson:"_id"`
	Count int    `bson:"count"`
}

// Stats implements repositories.TurnRecorder
func (r *TurnRecorder) Stats(ctx context.Context) (entities.TurnStats, error) {
	stats := entities.NewTurnStats()

	total, err := r.collection.CountDocuments(ctx, bson.D{})
	if err != nil {
		return stats, fmt.Errorf("failed to count turns: %w", err)
	}
	stats.Total = int(total)

	for field, add := range map[string]func(groupCount){
		"status":       func(g groupCount) { stats.ByStatus[entities.TurnStatus(g.Key)] = g.Count },
		"failure_kind": func(g groupCount) { stats.ByFailure[entities.FailureKind(g.Key)] = g.Count },
		"channel":      func(g groupCount) { stats.ByChannel[entities.Channel(g.Key)] = g.Count },
	} {
		groups, err := r.groupBy(ctx, field)
		if err != nil {
			return stats, err
		}
		for _, g := range groups {
			if g.Key != "" {
				add(g)
			}
		}
	}

	return stats, nil
}

func (r *TurnRecorder) groupBy(ctx context.Context, field string) ([]groupCount, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{field: bson.M{"$exists": true}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$" + field},
			{Key: "count", Value: bson.M{"$sum": 1}},
		}}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate turns by %s: %w", field, err)
	}
	defer cursor.Close(ctx)

	var groups []groupCount
	if err := cursor.All(ctx, &groups); err != nil {
		return nil, fmt.Errorf("failed to decode %s groups: %w", field, err)
	}
	return groups, nil
}
