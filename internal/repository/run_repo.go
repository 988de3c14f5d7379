package repository

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/niikun/social-listening/internal/model"
)

// RunRepo archives finished survey runs in MongoDB
type RunRepo interface {
	Save(ctx context.Context, run *model.SurveyRun) error
	GetByID(ctx context.Context, id string) (*model.SurveyRun, error)
	ListRecent(ctx context.Context, limit int) ([]*model.SurveyRun, error)
	Delete(ctx context.Context, id string) error
}

type runRepo struct {
	collection *mongo.Collection
}

// NewRunRepo creates a new run repository
func NewRunRepo(db *mongo.Database) RunRepo {
	return &runRepo{
		collection: db.Collection("survey_runs"),
	}
}

// EnsureIndexes creates the listing index on startedAt
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection("survey_runs").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "startedAt", Value: -1}},
	})
	return err
}

func (r *runRepo) Save(ctx context.Context, run *model.SurveyRun) error {
	_, err := r.collection.ReplaceOne(ctx, bson.M{"_id": run.ID}, run, options.Replace().SetUpsert(true))
	return err
}

func (r *runRepo) GetByID(ctx context.Context, id string) (*model.SurveyRun, error) {
	var run model.SurveyRun
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&run)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRecent returns the newest runs without their persona and record arrays
func (r *runRepo) ListRecent(ctx context.Context, limit int) ([]*model.SurveyRun, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "startedAt", Value: -1}}).
		SetLimit(int64(limit)).
		SetProjection(bson.M{"personas": 0, "records": 0})

	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var runs []*model.SurveyRun
	if err := cursor.All(ctx, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

func (r *runRepo) Delete(ctx context.Context, id string) error {
	_, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	return err
}
