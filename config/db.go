// config/db.go
package config

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	CollectionUsers                 = "users"
	CollectionWithdrawals           = "withdrawalRequests"
	CollectionOrders                = "orders"
	CollectionLedgerEntries         = "ledgerEntries"
	CollectionNotifications         = "notifications"
	CollectionNotificationTemplates = "notificationTemplates"
	CollectionNotificationOutbox    = "notificationOutbox"
)

// OpenWithdrawalIndex enforces a single open withdrawal request per agent.
const OpenWithdrawalIndex = "one_open_withdrawal_per_user"

// ConnectDB establishes connection to MongoDB
func ConnectDB(cfg MongoConfig) (*mongo.Client, error) {
	log.Info().Str("uri", maskMongoURI(cfg.URI)).Msg("connecting to MongoDB")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}

	log.Info().Str("database", cfg.Database).Bool("transactions", cfg.Transactions).Msg("connected to MongoDB")
	return client, nil
}

// SetupCollections ensures the indexes the settlement queries rely on.
func SetupCollections(ctx context.Context, db *mongo.Database) {
	for name, models := range collectionIndexes() {
		if _, err := db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			log.Error().Err(err).Str("collection", name).Msg("creating indexes")
		}
	}
	log.Info().Msg("database collections and indexes setup complete")
}

func collectionIndexes() map[string][]mongo.IndexModel {
	// needs MongoDB 6.0+ for $in in a partial filter
	openWithdrawal := options.Index().
		SetName(OpenWithdrawalIndex).
		SetUnique(true).
		SetPartialFilterExpression(bson.M{"status": bson.M{"$in": bson.A{"pending", "approved"}}})

	return map[string][]mongo.IndexModel{
		CollectionWithdrawals: {
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "tenantId", Value: 1}, {Key: "status", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "userId", Value: 1}}, Options: openWithdrawal},
		},
		CollectionOrders: {
			{Keys: bson.D{{Key: "agentId", Value: 1}, {Key: "commissionStatus", Value: 1}, {Key: "createdAt", Value: 1}}},
			{Keys: bson.D{{Key: "refAgentId", Value: 1}, {Key: "commissionStatus", Value: 1}, {Key: "createdAt", Value: 1}}},
		},
		CollectionLedgerEntries: {
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}},
		},
		CollectionNotificationOutbox: {
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "nextAttemptAt", Value: 1}}},
			{Keys: bson.D{{Key: "eventId", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		CollectionNotificationTemplates: {
			{Keys: bson.D{{Key: "type", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
	}
}

// maskMongoURI masks the password in MongoDB URI for logging
func maskMongoURI(uri string) string {
	if idx := strings.Index(uri, "@"); idx > 0 {
		if colonIdx := strings.LastIndex(uri[:idx], ":"); colonIdx > 0 {
			return uri[:colonIdx+1] + "***" + uri[idx:]
		}
	}
	return uri
}
