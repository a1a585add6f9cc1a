package database

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"intake/internal/config"
)

// Database is the local persistence layer: an audit history of imports
// and their promotion outcomes. The batch service remains the source of
// truth for batches themselves.
type Database interface {
	Health(ctx context.Context) error
	Close(ctx context.Context) error
	HistoryDatabase
}

type mongoDB struct {
	client     *mongo.Client
	db         *mongo.Database
	historyCol *mongo.Collection
}

// New connects to MongoDB and prepares the history collection.
func New(cfg config.MongoDBConfig) (Database, error) {
	clientOptions := options.Client().ApplyURI(cfg.URI)
	if cfg.Username != "" {
		clientOptions.SetAuth(options.Credential{
			Username: cfg.Username,
			Password: cfg.Password,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, err
	}

	db := client.Database(cfg.DB)
	historyCol := db.Collection("import_history")

	indexModels := []mongo.IndexModel{
		{Keys: bson.D{{Key: "batch_id", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
	}
	if _, err := historyCol.Indexes().CreateMany(ctx, indexModels); err != nil {
		log.Warn().Err(err).Msg("Could not create history indexes")
	}

	log.Info().Str("db", cfg.DB).Msg("Connected to MongoDB")

	return &mongoDB{
		client:     client,
		db:         db,
		historyCol: historyCol,
	}, nil
}

func (m *mongoDB) Health(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

func (m *mongoDB) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
