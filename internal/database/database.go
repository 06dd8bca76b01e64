// internal/database/database.go
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"gator-clubs/internal/models"
	"gator-clubs/internal/utils"
)

// MongoDB stores subjects, memberships and join requests as documents.
// InTx needs a replica set because it relies on multi-document transactions.
type MongoDB struct {
	mongoQueries
	Client *mongo.Client
	log    *zap.Logger
}

func NewMongoDB(uri, database string, logger *zap.Logger) (*MongoDB, error) {
	serverAPI := options.ServerAPI(options.ServerAPIVersion1)
	opts := options.Client().ApplyURI(uri).SetServerAPIOptions(serverAPI)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping the database to verify connection
	if err := client.Database("admin").RunCommand(ctx, bson.D{{Key: "ping", Value: 1}}).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	logger.Info("connected to MongoDB", zap.String("database", database))

	db := client.Database(database)
	return &MongoDB{
		mongoQueries: mongoQueries{
			Communities:  db.Collection("communities"),
			SubClubs:     db.Collection("subclubs"),
			Memberships:  db.Collection("memberships"),
			JoinRequests: db.Collection("join_requests"),
			PostActivity: db.Collection("post_activity"),
		},
		Client: client,
		log:    logger,
	}, nil
}

func (m *MongoDB) Close(ctx context.Context) error {
	return m.Client.Disconnect(ctx)
}

// EnsureIndexes creates the unique indexes the membership invariants rely on.
func (m *MongoDB) EnsureIndexes(ctx context.Context) error {
	_, err := m.Communities.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create community name index: %w", err)
	}

	_, err = m.Memberships.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "subject_type", Value: 1}, {Key: "subject_id", Value: 1}, {Key: "joined_at", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create membership index: %w", err)
	}

	_, err = m.JoinRequests.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "subject_type", Value: 1}, {Key: "subject_id", Value: 1}, {Key: "user_id", Value: 1}},
		Options: options.Index().
			SetUnique(true).
			SetName("one_pending_per_user").
			SetPartialFilterExpression(bson.M{"status": string(models.JoinRequestPending)}),
	})
	if err != nil {
		return fmt.Errorf("failed to create pending join request index: %w", err)
	}

	_, err = m.PostActivity.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "created_at", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create post activity index: %w", err)
	}
	return nil
}

// InTx runs fn in a session transaction. The driver retries the callback on
// transient write conflicts, so fn must not have side effects outside tx.
func (m *MongoDB) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	session, err := m.Client.StartSession()
	if err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to start session", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		if err := fn(sc, &m.mongoQueries); err != nil {
			return nil, err
		}
		return nil, sc.Err()
	})
	if err != nil {
		var appErr *utils.AppError
		if errors.As(err, &appErr) {
			return err
		}
		return utils.NewAppError(utils.ErrDatabase, "transaction failed", err)
	}
	return nil
}

func (m *MongoDB) ListCommunities(ctx context.Context) ([]*models.Community, error) {
	cursor, err := m.Communities.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to list communities", err)
	}
	defer cursor.Close(ctx)

	out := make([]*models.Community, 0)
	for cursor.Next(ctx) {
		var doc communityDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, utils.NewAppError(utils.ErrDatabase, "failed to decode community", err)
		}
		c, err := doc.model()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := cursor.Err(); err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "cursor error", err)
	}
	return out, nil
}

func (m *MongoDB) CountCommunities(ctx context.Context) (int, error) {
	n, err := m.Communities.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, utils.NewAppError(utils.ErrDatabase, "failed to count communities", err)
	}
	return int(n), nil
}

func (m *MongoDB) RecordPost(ctx context.Context, communityID uuid.UUID, at time.Time) error {
	result, err := m.Communities.UpdateOne(ctx,
		bson.M{"_id": communityID.String()},
		bson.M{"$inc": bson.M{"post_count": 1}})
	if err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to update post count", err)
	}
	if result.MatchedCount == 0 {
		return utils.NewNotFoundError("community", communityID)
	}
	_, err = m.PostActivity.InsertOne(ctx, bson.M{
		"_id":          uuid.NewString(),
		"community_id": communityID.String(),
		"created_at":   at,
	})
	if err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to record post activity", err)
	}
	return nil
}

func (m *MongoDB) PostCountsSince(ctx context.Context, since time.Time) (map[uuid.UUID]int, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"created_at": bson.M{"$gte": since}}}},
		{{Key: "$group", Value: bson.M{"_id": "$community_id", "posts": bson.M{"$sum": 1}}}},
	}
	cursor, err := m.PostActivity.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to aggregate post activity", err)
	}
	defer cursor.Close(ctx)

	counts := make(map[uuid.UUID]int)
	for cursor.Next(ctx) {
		var row struct {
			ID    string `bson:"_id"`
			Posts int    `bson:"posts"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, utils.NewAppError(utils.ErrDatabase, "failed to decode post activity", err)
		}
		id, err := uuid.Parse(row.ID)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrDatabase, "invalid community ID in post activity", err)
		}
		counts[id] = row.Posts
	}
	return counts, cursor.Err()
}
