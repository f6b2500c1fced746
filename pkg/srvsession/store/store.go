package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/tbxark/srvsession/pkg/srvsession/common"
	"github.com/tbxark/srvsession/pkg/srvsession/session"
)

var _ session.Database = (*DB)(nil)

// DefaultBucket holds connect records.
var DefaultBucket = []byte("connects")

var (
	ErrConnClosed    = errors.New("connection closed")
	ErrNoTransaction = errors.New("no transaction in progress")
	ErrTxInProgress  = errors.New("transaction already in progress")
)

// DB is a bbolt-backed session.Database.
type DB struct {
	db     *bolt.DB    // Underlying bolt database
	bucket []byte      // Bucket written by connections
	logger *zap.Logger // Logger instance
}

// Open opens or creates the database file at path and makes sure the
// records bucket exists.
func Open(path string, logger *zap.Logger) (*DB, error) {
	logger = common.OrNop(logger)

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(DefaultBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	logger.Info("Database opened", zap.String("path", path))

	return &DB{
		db:     db,
		bucket: DefaultBucket,
		logger: logger,
	}, nil
}

// Get returns a new connection. No transaction is started until Begin.
func (d *DB) Get(ctx context.Context) (session.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.logger.Debug("Database connection acquired")
	return &Conn{
		db:     d.db,
		bucket: d.bucket,
		logger: d.logger,
	}, nil
}

// Records returns every committed record keyed by record key.
func (d *DB) Records() (map[string]string, error) {
	records := make(map[string]string)
	err := d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(d.bucket).ForEach(func(k, v []byte) error {
			records[string(k)] = string(v)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Count returns the number of committed records.
func (d *DB) Count() (int, error) {
	var n int
	err := d.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(d.bucket).Stats().KeyN
		return nil
	})
	return n, err
}

func (d *DB) Close() error {
	return d.db.Close()
}

// Conn wraps a single read-write bolt transaction.
type Conn struct {
	db     *bolt.DB
	bucket []byte
	logger *zap.Logger

	tx     *bolt.Tx
	closed bool
}

func (c *Conn) Begin() error {
	if c.closed {
		return ErrConnClosed
	}
	if c.tx != nil {
		return ErrTxInProgress
	}

	tx, err := c.db.Begin(true)
	if err != nil {
		return err
	}
	c.tx = tx
	c.logger.Debug("Transaction started")
	return nil
}

func (c *Conn) Put(key string, value []byte) error {
	if c.closed {
		return ErrConnClosed
	}
	if c.tx == nil {
		return ErrNoTransaction
	}
	return c.tx.Bucket(c.bucket).Put([]byte(key), value)
}

func (c *Conn) Commit() error {
	if c.closed {
		return ErrConnClosed
	}
	if c.tx == nil {
		return ErrNoTransaction
	}

	// bolt rolls the transaction back itself when Commit fails.
	err := c.tx.Commit()
	c.tx = nil
	if err != nil {
		return err
	}
	c.logger.Debug("Transaction committed")
	return nil
}

// Close releases the connection, rolling back any uncommitted transaction.
// Calling Close more than once is a no-op.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	if c.tx != nil {
		err := c.tx.Rollback()
		c.tx = nil
		c.logger.Debug("Uncommitted transaction rolled back")
		return err
	}
	return nil
}
