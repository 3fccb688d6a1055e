package repository

import (
	"context"
	"fmt"

	"github.com/gocql/gocql"

	"github.com/driftlabs/chatrelay/internal/config"
	"github.com/driftlabs/chatrelay/internal/domain"
)

// CassandraMessageRepository persists room timelines in Cassandra.
//
// The table clusters on seq inside a room partition, so a plain INSERT
// is already an upsert by (room_id, seq) and SELECTs come back ordered.
type CassandraMessageRepository struct {
	session *gocql.Session
	cfg     config.CassandraConfig
}

func NewCassandraMessageRepository(cfg config.CassandraConfig) (*CassandraMessageRepository, error) {
	cluster := newCluster(cfg)
	cluster.Keyspace = cfg.Keyspace

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create cassandra session: %w", err)
	}

	return &CassandraMessageRepository{session: session, cfg: cfg}, nil
}

func newCluster(cfg config.CassandraConfig) *gocql.ClusterConfig {
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.ConnectTimeout = cfg.ConnectTimeout
	cluster.Timeout = cfg.Timeout

	switch cfg.Consistency {
	case "LOCAL_ONE", "local_one":
		cluster.Consistency = gocql.LocalOne
	case "LOCAL_QUORUM", "local_quorum":
		cluster.Consistency = gocql.LocalQuorum
	case "ONE", "one":
		cluster.Consistency = gocql.One
	case "QUORUM", "quorum":
		cluster.Consistency = gocql.Quorum
	default:
		cluster.Consistency = gocql.Quorum
	}

	return cluster
}

// EnsureKeyspace creates the keyspace if it does not exist. It needs a
// keyspace-less session, so call it before NewCassandraMessageRepository.
func EnsureKeyspace(cfg config.CassandraConfig) error {
	cluster := newCluster(cfg)

	session, err := cluster.CreateSession()
	if err != nil {
		return fmt.Errorf("failed to connect for keyspace creation: %w", err)
	}
	defer session.Close()

	stmt := fmt.Sprintf(
		`CREATE KEYSPACE IF NOT EXISTS %s
		 WITH replication = {'class': 'SimpleStrategy', 'replication_factor': %d}`,
		cfg.Keyspace, cfg.ReplicationFactor,
	)
	if err := session.Query(stmt).Exec(); err != nil {
		return fmt.Errorf("failed to create keyspace %s: %w", cfg.Keyspace, err)
	}
	return nil
}

// EnsureSchema creates the messages table if it does not exist.
func (r *CassandraMessageRepository) EnsureSchema(ctx context.Context) error {
	stmt := `CREATE TABLE IF NOT EXISTS messages (
				room_id text,
				seq bigint,
				msg_id text,
				author text,
				role text,
				content text,
				PRIMARY KEY ((room_id), seq)
			 ) WITH CLUSTERING ORDER BY (seq ASC)`

	if err := r.session.Query(stmt).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("failed to create messages table: %w", err)
	}
	return nil
}

// ListMessages returns the full timeline of a room ordered by seq.
func (r *CassandraMessageRepository) ListMessages(ctx context.Context, roomID string) ([]Record, error) {
	query := `SELECT seq, msg_id, author, role, content
			  FROM messages
			  WHERE room_id = ?
			  ORDER BY seq ASC`

	iter := r.session.Query(query, roomID).WithContext(ctx).Iter()

	var records []Record
	var rec Record
	for iter.Scan(&rec.Seq, &rec.Message.ID, &rec.Message.Author, &rec.Message.Role, &rec.Message.Content) {
		records = append(records, rec)
		rec = Record{}
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	return records, nil
}

// UpsertMessage writes the row at (roomID, seq). INSERT overwrites an
// existing clustering key, which is exactly the upsert contract.
func (r *CassandraMessageRepository) UpsertMessage(ctx context.Context, roomID string, seq int64, msg domain.Message) error {
	query := `INSERT INTO messages (room_id, seq, msg_id, author, role, content)
			  VALUES (?, ?, ?, ?, ?, ?)`

	err := r.session.Query(query, roomID, seq, msg.ID, msg.Author, msg.Role, msg.Content).
		WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("failed to upsert message %s: %w", msg.ID, err)
	}
	return nil
}

func (r *CassandraMessageRepository) Close() error {
	r.session.Close()
	return nil
}

var _ MessageRepository = (*CassandraMessageRepository)(nil)
