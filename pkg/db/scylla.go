// Package db connects to the Scylla cluster and owns the table layout.
package db

import (
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"
)

type Session struct {
	*gocql.Session
}

// Options tune the cluster connection. Zero values take the defaults.
type Options struct {
	// Consistency is a CQL level name such as QUORUM or LOCAL_QUORUM.
	Consistency string
	Timeout     time.Duration
	Retries     int
}

func (o Options) withDefaults() Options {
	if o.Consistency == "" {
		o.Consistency = "QUORUM"
	}
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	if o.Retries <= 0 {
		o.Retries = 3
	}
	return o
}

func NewSession(hosts []string, keyspace string, log *zap.Logger) (*Session, error) {
	return Connect(hosts, keyspace, Options{}, log)
}

// Connect opens a session. Conditional updates (edit, delete, receipts) run
// their Paxos round at LOCAL_SERIAL.
func Connect(hosts []string, keyspace string, opts Options, log *zap.Logger) (*Session, error) {
	opts = opts.withDefaults()
	consistency, err := gocql.ParseConsistencyWrapper(opts.Consistency)
	if err != nil {
		return nil, fmt.Errorf("scylla consistency: %w", err)
	}

	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = consistency
	cluster.SerialConsistency = gocql.LocalSerial
	cluster.Timeout = opts.Timeout
	cluster.ConnectTimeout = opts.Timeout
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: opts.Retries,
		Min:        100 * time.Millisecond,
		Max:        1 * time.Second,
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, err
	}

	log.Info("Connected to ScyllaDB cluster",
		zap.Strings("hosts", hosts), zap.String("keyspace", keyspace), zap.String("consistency", consistency.String()))
	return &Session{Session: session}, nil
}
