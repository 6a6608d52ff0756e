package persistence

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/petrijr/cascade/pkg/api"
)

// MongoBackend is a StateBackend backed by a MongoDB collection with one
// document per (namespace, runID, flowName).
type MongoBackend struct {
	coll *mongo.Collection
	ns   string
}

var _ api.NamespacedBackend = (*MongoBackend)(nil)

// NewMongoBackend creates a Mongo-backed state backend.
// dbName defaults to "cascade" if empty, collName defaults to "flow_state".
func NewMongoBackend(client *mongo.Client, dbName, collName string) *MongoBackend {
	if dbName == "" {
		dbName = "cascade"
	}
	if collName == "" {
		collName = "flow_state"
	}
	return &MongoBackend{
		coll: client.Database(dbName).Collection(collName),
		ns:   DefaultNamespace,
	}
}

func (b *MongoBackend) WithNamespace(ns string) api.StateBackend {
	return &MongoBackend{coll: b.coll, ns: namespaceOr(ns)}
}

type mongoStateDoc struct {
	ID        string                `bson:"_id"`
	Namespace string                `bson:"namespace"`
	RunID     string                `bson:"run_id"`
	FlowName  string                `bson:"flow_name"`
	Cursors   map[string]api.Cursor `bson:"cursors"`
	Metadata  map[string]string     `bson:"metadata,omitempty"`
	Version   int64                 `bson:"version"`
	UpdatedAt time.Time             `bson:"updated_at"`
}

func (b *MongoBackend) docID(runID, flowName string) string {
	return b.ns + "/" + runID + "/" + flowName
}

func (b *MongoBackend) Load(ctx context.Context, runID, flowName string) (*api.PersistedState, error) {
	if err := checkKey(runID, flowName); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var doc mongoStateDoc
	err := b.coll.FindOne(ctx, bson.M{"_id": b.docID(runID, flowName)}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, notFound(b.ns, runID, flowName)
		}
		return nil, err
	}

	st := normalize(api.PersistedState{
		Cursors:   doc.Cursors,
		Metadata:  doc.Metadata,
		Version:   doc.Version,
		UpdatedAt: doc.UpdatedAt,
	})
	return &st, nil
}

func (b *MongoBackend) Save(ctx context.Context, runID, flowName string, state api.PersistedState) error {
	if err := checkKey(runID, flowName); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	state = normalize(state)
	doc := mongoStateDoc{
		ID:        b.docID(runID, flowName),
		Namespace: b.ns,
		RunID:     runID,
		FlowName:  flowName,
		Cursors:   state.Cursors,
		Metadata:  state.Metadata,
		Version:   state.Version,
		UpdatedAt: state.UpdatedAt.UTC(),
	}

	_, err := b.coll.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	return err
}
