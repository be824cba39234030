// Package mongostore keeps blocks as documents in a MongoDB collection.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vestfoldfylke/azf-nettsperre/internal/localtime"
	"github.com/vestfoldfylke/azf-nettsperre/internal/models"
	"github.com/vestfoldfylke/azf-nettsperre/internal/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var _ store.BlockStore = (*Store)(nil)

type Store struct {
	coll *mongo.Collection
	now  func() time.Time
}

func New(coll *mongo.Collection) *Store {
	return &Store{coll: coll, now: time.Now}
}

// EnsureIndexes creates the indexes the lifecycle and list queries use.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "startBlock", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "endBlock", Value: 1}}},
		{Keys: bson.D{{Key: "teacher.userPrincipalName", Value: 1}}},
		{Keys: bson.D{{Key: "teacher.officeLocation", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create indexes on %s: %w", s.coll.Name(), err)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, b *models.Block) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	now := s.now().UTC().Truncate(time.Millisecond)
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	if _, err := s.coll.InsertOne(ctx, b); err != nil {
		return fmt.Errorf("failed to create block: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*models.Block, error) {
	var b models.Block
	err := s.coll.FindOne(ctx, idFilter(id)).Decode(&b)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get block %s: %w", id, err)
	}
	return &b, nil
}

func (s *Store) FindDue(ctx context.Context, status models.Status, field store.DueField, now localtime.Time) ([]models.Block, error) {
	return s.find(ctx, dueFilter(status, field, now), options.Find())
}

func (s *Store) Find(ctx context.Context, q store.Query) ([]models.Block, error) {
	order := 1
	if q.NewestFirst {
		order = -1
	}
	opts := options.Find().SetSort(bson.D{{Key: "startBlock", Value: order}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	return s.find(ctx, queryFilter(q), opts)
}

func (s *Store) find(ctx context.Context, filter any, opts *options.FindOptions) ([]models.Block, error) {
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", s.coll.Name(), err)
	}
	blocks := []models.Block{}
	if err := cur.All(ctx, &blocks); err != nil {
		return nil, fmt.Errorf("failed to decode blocks: %w", err)
	}
	return blocks, nil
}

func (s *Store) SetStatus(ctx context.Context, id string, status models.Status) error {
	res, err := s.coll.UpdateOne(ctx, idFilter(id), s.statusUpdate(status))
	if err != nil {
		return fmt.Errorf("failed to set status of %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) Transition(ctx context.Context, id string, from, to models.Status) error {
	res, err := s.coll.UpdateOne(ctx, transitionFilter(id, from), s.statusUpdate(to))
	if err != nil {
		return fmt.Errorf("failed to move %s from %s to %s: %w", id, from, to, err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return store.ErrConflict
}

func (s *Store) statusUpdate(status models.Status) bson.M {
	return bson.M{"$set": bson.M{"status": status, "updatedAt": s.now().UTC().Truncate(time.Millisecond)}}
}

// Mutate replaces the document only if updatedAt still holds the value that
// was read, so concurrent edits surface as store.ErrConflict.
func (s *Store) Mutate(ctx context.Context, id string, fn func(b *models.Block) error) (*models.Block, error) {
	b, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	seen := b.UpdatedAt
	if err := fn(b); err != nil {
		return nil, err
	}
	b.UpdatedAt = s.now().UTC().Truncate(time.Millisecond)

	doc, err := document(b)
	if err != nil {
		return nil, err
	}
	res, err := s.coll.ReplaceOne(ctx, versionFilter(id, seen), doc)
	if err != nil {
		return nil, fmt.Errorf("failed to update block %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return nil, store.ErrConflict
	}
	return b, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.coll.DeleteOne(ctx, idFilter(id))
	if err != nil {
		return fmt.Errorf("failed to delete block %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) InsertMany(ctx context.Context, blocks []models.Block) error {
	if len(blocks) == 0 {
		return nil
	}
	writes := make([]mongo.WriteModel, len(blocks))
	for i := range blocks {
		doc, err := document(&blocks[i])
		if err != nil {
			return err
		}
		writes[i] = mongo.NewReplaceOneModel().
			SetFilter(idFilter(blocks[i].ID)).
			SetReplacement(doc).
			SetUpsert(true)
	}
	if _, err := s.coll.BulkWrite(ctx, writes); err != nil {
		return fmt.Errorf("failed to insert %d blocks into %s: %w", len(blocks), s.coll.Name(), err)
	}
	return nil
}

// docID returns the key a block is stored under. Documents written before
// blocks got UUIDs are keyed by ObjectId and decode to its hex form.
func docID(id string) any {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return oid
	}
	return id
}

func idFilter(id string) bson.M {
	return bson.M{"_id": docID(id)}
}

func transitionFilter(id string, from models.Status) bson.M {
	return bson.M{"_id": docID(id), "status": from}
}

// versionFilter matches the block only if it is unchanged since it was read.
// Legacy documents have no updatedAt until their first write.
func versionFilter(id string, seen time.Time) bson.M {
	if seen.IsZero() {
		return bson.M{"_id": docID(id), "updatedAt": bson.M{"$exists": false}}
	}
	return bson.M{"_id": docID(id), "updatedAt": seen}
}

// document encodes b with its key in stored form, so replacing a legacy
// document keeps its ObjectId.
func document(b *models.Block) (bson.D, error) {
	raw, err := bson.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("failed to encode block %s: %w", b.ID, err)
	}
	var doc bson.D
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to encode block %s: %w", b.ID, err)
	}
	for i := range doc {
		if doc[i].Key == "_id" {
			doc[i].Value = docID(b.ID)
		}
	}
	return doc, nil
}

func dueFilter(status models.Status, field store.DueField, now localtime.Time) bson.M {
	return bson.M{
		"status":      status,
		string(field): bson.M{"$lte": now.String()},
	}
}

func queryFilter(q store.Query) bson.M {
	filter := bson.M{}
	if len(q.Statuses) > 0 {
		filter["status"] = bson.M{"$in": q.Statuses}
	}
	if q.TeacherUPN != "" {
		filter["teacher.userPrincipalName"] = q.TeacherUPN
	}
	if q.School != "" {
		filter["teacher.officeLocation"] = q.School
	}
	if q.Course != "" {
		filter["blockedGroup.displayName"] = q.Course
	}
	return filter
}
