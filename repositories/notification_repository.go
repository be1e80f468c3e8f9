package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/vipogroup/vipo_backend/config"
	"github.com/vipogroup/vipo_backend/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

type NotificationRepository struct {
	notifications *mongo.Collection
	templates     *mongo.Collection
}

func NewNotificationRepository(db *mongo.Database) *NotificationRepository {
	return &NotificationRepository{
		notifications: db.Collection(config.CollectionNotifications),
		templates:     db.Collection(config.CollectionNotificationTemplates),
	}
}

// Save writes an in-app notification.
func (r *NotificationRepository) Save(ctx context.Context, n *models.Notification) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if n.ID.IsZero() {
		n.ID = primitive.NewObjectID()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	_, err := r.notifications.InsertOne(ctx, n)
	return err
}

// FindTemplate returns the stored override for templateType, or nil when
// none exists.
func (r *NotificationRepository) FindTemplate(ctx context.Context, templateType string) (*models.NotificationTemplate, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var tmpl models.NotificationTemplate
	err := r.templates.FindOne(ctx, bson.M{"type": templateType}).Decode(&tmpl)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tmpl, nil
}
