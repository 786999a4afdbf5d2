package memory

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoStore is a MongoDB-backed Store implementation used for production
// persistence of artifact metadata and content (spec §4.4).
type MongoStore struct {
	collection *mongo.Collection
}

var _ Store = (*MongoStore)(nil)

// NewMongoStore constructs a MongoStore over an already-connected
// collection. Callers are responsible for the Mongo client lifecycle.
func NewMongoStore(collection *mongo.Collection) *MongoStore {
	return &MongoStore{collection: collection}
}

// Put upserts a by its artifact_id.
func (s *MongoStore) Put(ctx context.Context, a Artifact) error {
	opts := options.Replace().SetUpsert(true)
	_, err := s.collection.ReplaceOne(ctx, bson.M{"_id": a.ArtifactID}, a, opts)
	if err != nil {
		return fmt.Errorf("memory: mongo put %s: %w", a.ArtifactID, err)
	}
	return nil
}

// Get retrieves an artifact by id.
func (s *MongoStore) Get(ctx context.Context, artifactID string) (Artifact, error) {
	var a Artifact
	err := s.collection.FindOne(ctx, bson.M{"_id": artifactID}).Decode(&a)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Artifact{}, ErrNotFound
	}
	if err != nil {
		return Artifact{}, fmt.Errorf("memory: mongo get %s: %w", artifactID, err)
	}
	return a, nil
}

// FindByLogicalIdentity returns every stored revision sharing
// logicalIdentity, newest first.
func (s *MongoStore) FindByLogicalIdentity(ctx context.Context, logicalIdentity string) ([]Artifact, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cur, err := s.collection.Find(ctx, bson.M{"logical_identity": logicalIdentity}, opts)
	if err != nil {
		return nil, fmt.Errorf("memory: mongo find by identity %s: %w", logicalIdentity, err)
	}
	defer cur.Close(ctx)
	var out []Artifact
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("memory: mongo decode by identity %s: %w", logicalIdentity, err)
	}
	return out, nil
}

// FindByTags returns artifacts containing every tag in tags.
func (s *MongoStore) FindByTags(ctx context.Context, tags []string) ([]Artifact, error) {
	cur, err := s.collection.Find(ctx, bson.M{"tags": bson.M{"$all": tags}})
	if err != nil {
		return nil, fmt.Errorf("memory: mongo find by tags: %w", err)
	}
	defer cur.Close(ctx)
	var out []Artifact
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("memory: mongo decode by tags: %w", err)
	}
	return out, nil
}

// List returns artifacts matching an optional kind filter.
func (s *MongoStore) List(ctx context.Context, kindFilter Kind) ([]Artifact, error) {
	filter := bson.M{}
	if kindFilter != "" {
		filter["kind"] = kindFilter
	}
	cur, err := s.collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("memory: mongo list: %w", err)
	}
	defer cur.Close(ctx)
	var out []Artifact
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("memory: mongo decode list: %w", err)
	}
	return out, nil
}

// Delete removes an artifact by id.
func (s *MongoStore) Delete(ctx context.Context, artifactID string) error {
	res, err := s.collection.DeleteOne(ctx, bson.M{"_id": artifactID})
	if err != nil {
		return fmt.Errorf("memory: mongo delete %s: %w", artifactID, err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}
