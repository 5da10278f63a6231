package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"jitstream/internal/app"
)

const jitSettingsID = "jit"

type jitSettingsDoc struct {
	ID             string  `bson:"_id"`
	Enabled        bool    `bson:"enabled"`
	SegmentSeconds float64 `bson:"segmentSeconds"`
	UpdatedAt      int64   `bson:"updatedAt"`
}

type JITSettingsRepository struct {
	collection *mongo.Collection
}

func NewJITSettingsRepository(client *mongo.Client, dbName string) *JITSettingsRepository {
	return &JITSettingsRepository{collection: client.Database(dbName).Collection("settings")}
}

func (r *JITSettingsRepository) GetJITSettings(ctx context.Context) (app.JITSettings, bool, error) {
	var doc jitSettingsDoc
	err := r.collection.FindOne(ctx, bson.M{"_id": jitSettingsID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return app.JITSettings{}, false, nil
		}
		return app.JITSettings{}, false, err
	}
	return app.JITSettings{
		Enabled:        doc.Enabled,
		SegmentSeconds: doc.SegmentSeconds,
	}, true, nil
}

func (r *JITSettingsRepository) SetJITSettings(ctx context.Context, settings app.JITSettings) error {
	update := bson.M{
		"$set": bson.M{
			"enabled":        settings.Enabled,
			"segmentSeconds": settings.SegmentSeconds,
			"updatedAt":      time.Now().Unix(),
		},
	}
	_, err := r.collection.UpdateOne(
		ctx,
		bson.M{"_id": jitSettingsID},
		update,
		options.Update().SetUpsert(true),
	)
	return err
}
