package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"jitstream/internal/domain"
)

// PlaybackHistoryRepository persists per-variant playback positions so
// clients can resume where they left off after a restart.
type PlaybackHistoryRepository struct {
	collection *mongo.Collection
}

type playbackDoc struct {
	ID              string  `bson:"_id"` // <videoID>/<variant>
	VideoID         string  `bson:"videoId"`
	Variant         string  `bson:"variant"`
	Segment         int     `bson:"segment"`
	PositionSeconds float64 `bson:"positionSeconds"`
	UpdatedAt       int64   `bson:"updatedAt"`
}

func NewPlaybackHistoryRepository(client *mongo.Client, dbName string) *PlaybackHistoryRepository {
	return &PlaybackHistoryRepository{collection: client.Database(dbName).Collection("playback_history")}
}

func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	client, err := mongo.Connect(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (r *PlaybackHistoryRepository) EnsureIndexes(ctx context.Context) error {
	if r == nil || r.collection == nil {
		return nil
	}
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "videoId", Value: 1}}},
		{Keys: bson.D{{Key: "updatedAt", Value: -1}}},
	}
	_, err := r.collection.Indexes().CreateMany(ctx, models)
	return err
}

func (r *PlaybackHistoryRepository) Upsert(ctx context.Context, pos domain.PlaybackPosition) error {
	doc := toDoc(pos)
	_, err := r.collection.UpdateOne(
		ctx,
		bson.M{"_id": doc.ID},
		bson.M{"$set": bson.M{
			"videoId":         doc.VideoID,
			"variant":         doc.Variant,
			"segment":         doc.Segment,
			"positionSeconds": doc.PositionSeconds,
			"updatedAt":       doc.UpdatedAt,
		}},
		options.Update().SetUpsert(true),
	)
	return err
}

func (r *PlaybackHistoryRepository) Get(ctx context.Context, videoID domain.VideoID, variant string) (domain.PlaybackPosition, error) {
	var doc playbackDoc
	if err := r.collection.FindOne(ctx, bson.M{"_id": docID(videoID, variant)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.PlaybackPosition{}, domain.ErrNotFound
		}
		return domain.PlaybackPosition{}, err
	}
	return fromDoc(doc), nil
}

func (r *PlaybackHistoryRepository) ListRecent(ctx context.Context, limit int) ([]domain.PlaybackPosition, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []playbackDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	positions := make([]domain.PlaybackPosition, 0, len(docs))
	for _, doc := range docs {
		positions = append(positions, fromDoc(doc))
	}
	return positions, nil
}

func docID(videoID domain.VideoID, variant string) string {
	return string(videoID) + "/" + variant
}

func toDoc(pos domain.PlaybackPosition) playbackDoc {
	return playbackDoc{
		ID:              docID(pos.VideoID, pos.Variant),
		VideoID:         string(pos.VideoID),
		Variant:         pos.Variant,
		Segment:         pos.Segment,
		PositionSeconds: pos.PositionSeconds,
		UpdatedAt:       pos.UpdatedAt.Unix(),
	}
}

func timeFromUnix(value int64) time.Time {
	return time.Unix(value, 0).UTC()
}

func fromDoc(doc playbackDoc) domain.PlaybackPosition {
	return domain.PlaybackPosition{
		VideoID:         domain.VideoID(doc.VideoID),
		Variant:         doc.Variant,
		Segment:         doc.Segment,
		PositionSeconds: doc.PositionSeconds,
		UpdatedAt:       timeFromUnix(doc.UpdatedAt),
	}
}
