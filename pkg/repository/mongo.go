package repository

import (
	"context"
	"time"

	"github.com/example/bookshop/pkg/config"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const deadLetterCollection = "webhook_dead_letters"

type MongoRepository struct {
	client   *mongo.Client
	database *mongo.Database
	config   *config.MongoDBConfig
}

func NewMongoRepository(cfg *config.MongoDBConfig) (*MongoRepository, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, err
	}

	return &MongoRepository{
		client:   client,
		database: client.Database(cfg.Database),
		config:   cfg,
	}, nil
}

func (m *MongoRepository) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

func (m *MongoRepository) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// WebhookAudit is one processed webhook delivery, recorded for traceability.
type WebhookAudit struct {
	ID        string    `bson:"_id,omitempty"`
	EventID   string    `bson:"event_id"`
	EventType string    `bson:"event_type"`
	SessionID string    `bson:"session_id"`
	Outcome   string    `bson:"outcome"` // processed, ignored, insert_failed
	CreatedAt time.Time `bson:"created_at"`
}

func (m *MongoRepository) RecordWebhookAudit(ctx context.Context, audit *WebhookAudit) error {
	collection := m.database.Collection(m.config.Collection)
	audit.CreatedAt = time.Now()
	_, err := collection.InsertOne(ctx, audit)
	return err
}

// DeadLetter captures an order that could not be inserted during webhook
// processing. The webhook still acknowledges 200, so this collection is the
// only durable trace of the lost row.
type DeadLetter struct {
	ID        string    `bson:"_id,omitempty"`
	EventID   string    `bson:"event_id"`
	SessionID string    `bson:"session_id"`
	Order     bson.M    `bson:"order"`
	Reason    string    `bson:"reason"`
	CreatedAt time.Time `bson:"created_at"`
}

func (m *MongoRepository) RecordDeadLetter(ctx context.Context, dl *DeadLetter) error {
	collection := m.database.Collection(deadLetterCollection)
	dl.CreatedAt = time.Now()
	_, err := collection.InsertOne(ctx, dl)
	return err
}

// ListDeadLetters returns the most recent dead-lettered orders for manual
// replay by the operator.
func (m *MongoRepository) ListDeadLetters(ctx context.Context, limit int64) ([]*DeadLetter, error) {
	collection := m.database.Collection(deadLetterCollection)

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(limit)
	cursor, err := collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var letters []*DeadLetter
	if err = cursor.All(ctx, &letters); err != nil {
		return nil, err
	}

	return letters, nil
}
