// Package mongo provides a MongoDB implementation of archive.Archive.
//
// Each run is one document keyed by run ID. The accumulated state is kept as
// its JSON encoding so agent state round-trips with the same dynamic types the
// reducer produced.
package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"goa.design/runview/runtime/archive"
)

// Archive stores run records in a MongoDB collection.
type Archive struct {
	collection *mongo.Collection
}

var _ archive.Archive = (*Archive)(nil)

// runDocument is the MongoDB representation of an archive.Record.
type runDocument struct {
	RunID      string    `bson:"_id"`
	ThreadID   string    `bson:"thread_id"`
	Status     string    `bson:"status"`
	Error      string    `bson:"error,omitempty"`
	State      []byte    `bson:"state"`
	ArchivedAt time.Time `bson:"archived_at"`
}

// New returns an archive using collection.
func New(collection *mongo.Collection) *Archive {
	return &Archive{collection: collection}
}

// EnsureIndexes creates the index backing List.
func (a *Archive) EnsureIndexes(ctx context.Context) error {
	_, err := a.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "thread_id", Value: 1}, {Key: "archived_at", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("mongodb create run archive index: %w", err)
	}
	return nil
}

// Save upserts rec.
func (a *Archive) Save(ctx context.Context, rec *archive.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	doc, err := toDocument(rec)
	if err != nil {
		return err
	}
	opts := options.Replace().SetUpsert(true)
	if _, err := a.collection.ReplaceOne(ctx, bson.M{"_id": rec.RunID}, doc, opts); err != nil {
		return fmt.Errorf("mongodb save run %q: %w", rec.RunID, err)
	}
	return nil
}

// Load retrieves the record of runID.
func (a *Archive) Load(ctx context.Context, runID string) (*archive.Record, error) {
	var doc runDocument
	err := a.collection.FindOne(ctx, bson.M{"_id": runID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, archive.ErrNotFound
		}
		return nil, fmt.Errorf("mongodb load run %q: %w", runID, err)
	}
	return fromDocument(&doc)
}

// Delete removes the record of runID.
func (a *Archive) Delete(ctx context.Context, runID string) error {
	res, err := a.collection.DeleteOne(ctx, bson.M{"_id": runID})
	if err != nil {
		return fmt.Errorf("mongodb delete run %q: %w", runID, err)
	}
	if res.DeletedCount == 0 {
		return archive.ErrNotFound
	}
	return nil
}

// List returns the records of threadID ordered by archive time, or every
// record when threadID is empty.
func (a *Archive) List(ctx context.Context, threadID string) ([]*archive.Record, error) {
	filter := bson.M{}
	if threadID != "" {
		filter["thread_id"] = threadID
	}
	opts := options.Find().SetSort(bson.D{{Key: "archived_at", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := a.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("mongodb list runs: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var docs []runDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongodb decode runs: %w", err)
	}
	out := make([]*archive.Record, 0, len(docs))
	for i := range docs {
		rec, err := fromDocument(&docs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func toDocument(rec *archive.Record) (*runDocument, error) {
	st, err := json.Marshal(rec.State)
	if err != nil {
		return nil, fmt.Errorf("marshal state of run %q: %w", rec.RunID, err)
	}
	return &runDocument{
		RunID:      rec.RunID,
		ThreadID:   rec.ThreadID,
		Status:     rec.Status,
		Error:      rec.Error,
		State:      st,
		ArchivedAt: rec.ArchivedAt.UTC(),
	}, nil
}

func fromDocument(doc *runDocument) (*archive.Record, error) {
	rec := &archive.Record{
		RunID:      doc.RunID,
		ThreadID:   doc.ThreadID,
		Status:     doc.Status,
		Error:      doc.Error,
		ArchivedAt: doc.ArchivedAt.UTC(),
	}
	if err := json.Unmarshal(doc.State, &rec.State); err != nil {
		return nil, fmt.Errorf("unmarshal state of run %q: %w", doc.RunID, err)
	}
	return rec, nil
}
