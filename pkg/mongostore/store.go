// Package mongostore implements core.Backend on MongoDB.
//
// Fingerprints live in the "fingerprints" collection with an ascending index
// on hash; metadata lives in "resource_metadata" keyed by resource id.
// Batches run inside multi-document transactions, so the server must be a
// replica set or sharded cluster.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/liliang-cn/sqprint/pkg/core"
)

const (
	fingerprintsCollection = "fingerprints"
	metadataCollection     = "resource_metadata"
)

type fingerprintDoc struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	Hash       int64              `bson:"hash"`
	ResourceID int64              `bson:"resource_id"`
	T1         int64              `bson:"t1"`
}

type metadataDoc struct {
	ResourceID      int64   `bson:"_id"`
	Path            string  `bson:"path"`
	Duration        float64 `bson:"duration"`
	NumFingerprints int64   `bson:"num_fingerprints"`
}

// Store implements core.Backend for MongoDB
type Store struct {
	client *mongo.Client
	fps    *mongo.Collection
	meta   *mongo.Collection
	pool   *core.ConnPool
	logger core.Logger

	mu     sync.RWMutex
	closed bool
}

var _ core.Backend = (*Store)(nil)

// Open validates config, connects, and ensures the hash index exists.
// Configuration problems are reported before any network I/O.
func Open(ctx context.Context, config core.Config) (*Store, error) {
	if config.Backend != core.BackendMongo {
		return nil, &core.ConfigError{Key: core.EnvBackend, Reason: "mongo backend requested with backend " + string(config.Backend)}
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	opts := options.Client().
		ApplyURI(config.Endpoint).
		SetAuth(options.Credential{Username: config.User, Password: config.Password}).
		SetMaxPoolSize(uint64(config.Pool.MaxOpen)).
		SetMinPoolSize(uint64(config.Pool.MinIdle)).
		SetMaxConnIdleTime(config.Pool.IdleTimeout).
		SetConnectTimeout(config.Pool.AcquireTimeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, core.WrapError("init", fmt.Errorf("failed to connect: %w", err))
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, core.WrapError("init", fmt.Errorf("failed to ping: %w", err))
	}

	db := client.Database(config.Database)
	s := &Store{
		client: client,
		fps:    db.Collection(fingerprintsCollection),
		meta:   db.Collection(metadataCollection),
		pool:   core.NewConnPool(config.Pool),
		logger: loggerOrNop(config.Logger).With("backend", "mongo"),
	}

	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, core.WrapError("init", err)
	}

	s.logger.Info("database initialized", "database", config.Database, "pool", config.Pool.MaxOpen)
	return s, nil
}

func loggerOrNop(l core.Logger) core.Logger {
	if l == nil {
		return core.NopLogger()
	}
	return l
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.fps.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "hash", Value: 1}, {Key: "_id", Value: 1}},
		Options: options.Index().SetName("fp_hash_idx"),
	})
	if err != nil {
		return fmt.Errorf("failed to create hash index: %w", err)
	}
	return nil
}

// Name identifies the backend in reports
func (s *Store) Name() string {
	return "Mongo"
}

func (s *Store) acquire(ctx context.Context, op string) (func(), error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, core.WrapError(op, core.ErrStoreClosed)
	}
	release, err := s.pool.Checkout(ctx)
	if err != nil {
		return nil, core.WrapError(op, err)
	}
	return release, nil
}

// withTx runs fn inside a multi-document transaction
func (s *Store) withTx(ctx context.Context, op string, fn func(sc mongo.SessionContext) error) error {
	release, err := s.acquire(ctx, op)
	if err != nil {
		return err
	}
	defer release()

	sess, err := s.client.StartSession()
	if err != nil {
		return core.WrapError(op, err)
	}
	defer sess.EndSession(ctx)

	// A failed batch is returned as is; nothing here retries it.
	err = mongo.WithSession(ctx, sess, func(sc mongo.SessionContext) error {
		if err := sess.StartTransaction(); err != nil {
			return err
		}
		if err := fn(sc); err != nil {
			_ = sess.AbortTransaction(context.Background())
			return err
		}
		return sess.CommitTransaction(sc)
	})
	return core.WrapError(op, err)
}

// InsertRecords appends records in one transaction
func (s *Store) InsertRecords(ctx context.Context, recs []core.Record) error {
	if len(recs) == 0 {
		return nil
	}
	docs := make([]interface{}, len(recs))
	for i, r := range recs {
		docs[i] = fingerprintDoc{
			ID:         primitive.NewObjectID(),
			Hash:       r.Hash,
			ResourceID: int64(r.ResourceID),
			T1:         int64(r.T1),
		}
	}

	return s.withTx(ctx, "insert_records", func(sc mongo.SessionContext) error {
		_, err := s.fps.InsertMany(sc, docs, options.InsertMany().SetOrdered(true))
		return err
	})
}

// DeleteRecords removes every document matching one of the triples
func (s *Store) DeleteRecords(ctx context.Context, recs []core.Record) error {
	if len(recs) == 0 {
		return nil
	}

	return s.withTx(ctx, "delete_records", func(sc mongo.SessionContext) error {
		for i, r := range recs {
			filter := bson.D{
				{Key: "hash", Value: r.Hash},
				{Key: "resource_id", Value: int64(r.ResourceID)},
				{Key: "t1", Value: int64(r.T1)},
			}
			if _, err := s.fps.DeleteMany(sc, filter); err != nil {
				return fmt.Errorf("failed to delete record at index %d: %w", i, err)
			}
		}
		return nil
	})
}

type mongoRangeReader struct {
	fps *mongo.Collection
	sc  mongo.SessionContext
}

// Range implements core.RangeReader
func (r *mongoRangeReader) Range(_ context.Context, lo, hi int64, fn func(core.Record) error) error {
	filter := bson.D{{Key: "hash", Value: bson.D{{Key: "$gte", Value: lo}, {Key: "$lte", Value: hi}}}}
	opts := options.Find().SetSort(bson.D{{Key: "hash", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := r.fps.Find(r.sc, filter, opts)
	if err != nil {
		return fmt.Errorf("failed to query range [%d, %d]: %w", lo, hi, err)
	}
	return eachRecord(r.sc, cur, fn)
}

// View runs fn inside a snapshot transaction
func (s *Store) View(ctx context.Context, fn func(r core.RangeReader) error) error {
	return s.withTx(ctx, "view", func(sc mongo.SessionContext) error {
		return fn(&mongoRangeReader{fps: s.fps, sc: sc})
	})
}

// CountRecords returns the number of fingerprint documents
func (s *Store) CountRecords(ctx context.Context) (int64, error) {
	release, err := s.acquire(ctx, "count_records")
	if err != nil {
		return 0, err
	}
	defer release()

	n, err := s.fps.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, core.WrapError("count_records", err)
	}
	return n, nil
}

// ScanRecords visits every record in ascending hash order
func (s *Store) ScanRecords(ctx context.Context, fn func(core.Record) error) error {
	release, err := s.acquire(ctx, "scan_records")
	if err != nil {
		return err
	}
	defer release()

	opts := options.Find().SetSort(bson.D{{Key: "hash", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.fps.Find(ctx, bson.D{}, opts)
	if err != nil {
		return core.WrapError("scan_records", err)
	}
	return core.WrapError("scan_records", eachRecord(ctx, cur, fn))
}

func eachRecord(ctx context.Context, cur *mongo.Cursor, fn func(core.Record) error) error {
	defer func() { _ = cur.Close(ctx) }()
	for cur.Next(ctx) {
		var doc fingerprintDoc
		if err := cur.Decode(&doc); err != nil {
			return fmt.Errorf("failed to decode record: %w", err)
		}
		rec := core.Record{Hash: doc.Hash, ResourceID: uint32(doc.ResourceID), T1: uint32(doc.T1)}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return cur.Err()
}

// ClearRecords empties the fingerprint collection
func (s *Store) ClearRecords(ctx context.Context) error {
	return s.withTx(ctx, "clear_records", func(sc mongo.SessionContext) error {
		_, err := s.fps.DeleteMany(sc, bson.D{})
		return err
	})
}

// UpsertMetadata replaces the whole document for m.ResourceID
func (s *Store) UpsertMetadata(ctx context.Context, m core.ResourceMetadata) error {
	doc := metadataDoc{
		ResourceID:      int64(m.ResourceID),
		Path:            m.Path,
		Duration:        float64(m.Duration),
		NumFingerprints: int64(m.NumFingerprints),
	}
	return s.withTx(ctx, "upsert_metadata", func(sc mongo.SessionContext) error {
		_, err := s.meta.ReplaceOne(sc, bson.D{{Key: "_id", Value: doc.ResourceID}}, doc, options.Replace().SetUpsert(true))
		return err
	})
}

// GetMetadata returns the metadata for resourceID; ok is false when absent
func (s *Store) GetMetadata(ctx context.Context, resourceID uint32) (core.ResourceMetadata, bool, error) {
	release, err := s.acquire(ctx, "get_metadata")
	if err != nil {
		return core.ResourceMetadata{}, false, err
	}
	defer release()

	var doc metadataDoc
	err = s.meta.FindOne(ctx, bson.D{{Key: "_id", Value: int64(resourceID)}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return core.ResourceMetadata{}, false, nil
	}
	if err != nil {
		return core.ResourceMetadata{}, false, core.WrapError("get_metadata", err)
	}
	return toMetadata(doc), true, nil
}

// DeleteMetadata removes the document for resourceID if present
func (s *Store) DeleteMetadata(ctx context.Context, resourceID uint32) error {
	return s.withTx(ctx, "delete_metadata", func(sc mongo.SessionContext) error {
		_, err := s.meta.DeleteOne(sc, bson.D{{Key: "_id", Value: int64(resourceID)}})
		return err
	})
}

// ScanMetadata visits every metadata document in ascending resource id order
func (s *Store) ScanMetadata(ctx context.Context, fn func(core.ResourceMetadata) error) error {
	release, err := s.acquire(ctx, "scan_metadata")
	if err != nil {
		return err
	}
	defer release()

	cur, err := s.meta.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return core.WrapError("scan_metadata", err)
	}
	defer func() { _ = cur.Close(ctx) }()

	for cur.Next(ctx) {
		var doc metadataDoc
		if err := cur.Decode(&doc); err != nil {
			return core.WrapError("scan_metadata", err)
		}
		if err := fn(toMetadata(doc)); err != nil {
			return err
		}
	}
	return core.WrapError("scan_metadata", cur.Err())
}

// ClearMetadata empties the metadata collection
func (s *Store) ClearMetadata(ctx context.Context) error {
	return s.withTx(ctx, "clear_metadata", func(sc mongo.SessionContext) error {
		_, err := s.meta.DeleteMany(sc, bson.D{})
		return err
	})
}

// Clear empties both collections in one transaction
func (s *Store) Clear(ctx context.Context) error {
	return s.withTx(ctx, "clear", func(sc mongo.SessionContext) error {
		if _, err := s.fps.DeleteMany(sc, bson.D{}); err != nil {
			return fmt.Errorf("failed to clear fingerprints: %w", err)
		}
		if _, err := s.meta.DeleteMany(sc, bson.D{}); err != nil {
			return fmt.Errorf("failed to clear metadata: %w", err)
		}
		return nil
	})
}

// Close disconnects the client
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.client.Disconnect(context.Background()); err != nil {
		return core.WrapError("close", err)
	}
	s.logger.Info("database connection closed")
	return nil
}

func toMetadata(doc metadataDoc) core.ResourceMetadata {
	return core.ResourceMetadata{
		ResourceID:      uint32(doc.ResourceID),
		Path:            doc.Path,
		Duration:        float32(doc.Duration),
		NumFingerprints: int32(doc.NumFingerprints),
	}
}
