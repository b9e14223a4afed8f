package persistence

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/petrijr/orderflow/pkg/api"
)

// MongoStore is an ExecutionStore backed by a MongoDB collection. Each
// execution is one document keyed by its id; Save is an UpdateOne filtered
// on version and status.
type MongoStore struct {
	coll *mongo.Collection
}

var _ ExecutionStore = (*MongoStore)(nil)

// NewMongoStore creates a MongoStore. dbName and collName default to
// "orderflow" and "executions".
func NewMongoStore(client *mongo.Client, dbName, collName string) *MongoStore {
	if dbName == "" {
		dbName = "orderflow"
	}
	if collName == "" {
		collName = "executions"
	}
	return &MongoStore{coll: client.Database(dbName).Collection(collName)}
}

// EnsureIndexes creates the secondary index used by List.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "status", Value: 1}, {Key: "definition_name", Value: 1}},
	})
	return err
}

func (s *MongoStore) Create(ctx context.Context, exec *api.Execution) error {
	rec := toRecord(exec)
	rec.Version = 1

	if _, err := s.coll.InsertOne(ctx, rec); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("execution %s: %w", exec.ID, api.ErrAlreadyExists)
		}
		return err
	}
	exec.Version = 1
	return nil
}

func (s *MongoStore) Load(ctx context.Context, id string) (*api.Execution, error) {
	var rec executionRecord
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("execution %s: %w", id, api.ErrNotFound)
		}
		return nil, err
	}
	return rec.toExecution(), nil
}

func (s *MongoStore) Save(ctx context.Context, exec *api.Execution) error {
	rec := toRecord(exec)

	filter := bson.M{
		"_id":     exec.ID,
		"version": exec.Version,
		"status":  string(api.StatusRunning),
	}
	update := bson.M{
		"$set": bson.M{
			"current_state": rec.CurrentState,
			"payload":       rec.Payload,
			"status":        rec.Status,
			"error_code":    rec.ErrorCode,
			"error_cause":   rec.ErrorCause,
			"updated_at":    rec.UpdatedAt,
		},
		"$inc": bson.M{"version": 1},
	}

	res, err := s.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		if _, err := s.Load(ctx, exec.ID); err != nil {
			return err
		}
		return fmt.Errorf("execution %s at version %d: %w", exec.ID, exec.Version, api.ErrConflict)
	}

	exec.Version++
	return nil
}

func (s *MongoStore) List(ctx context.Context, filter ExecutionFilter) ([]*api.Execution, error) {
	query := bson.M{}
	if filter.DefinitionName != "" {
		query["definition_name"] = filter.DefinitionName
	}
	if filter.Status != "" {
		query["status"] = string(filter.Status)
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.coll.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var result []*api.Execution
	for cur.Next(ctx) {
		var rec executionRecord
		if err := cur.Decode(&rec); err != nil {
			return nil, err
		}
		result = append(result, rec.toExecution())
	}
	return result, cur.Err()
}
