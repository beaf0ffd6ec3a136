package db

import (
	"fmt"

	"go.uber.org/zap"
)

// Tables are created in this order by EnsureSchema and dropped in reverse by
// DropSchema.
var Tables = []struct {
	Name string
	DDL  string
}{
	{"rooms", `CREATE TABLE IF NOT EXISTS rooms (
		id text PRIMARY KEY,
		type text,
		members set<text>,
		last_message text,
		last_activity timestamp
	)`},
	// id is a snowflake, so the clustering order is also the creation order.
	{"messages", `CREATE TABLE IF NOT EXISTS messages (
		room_id text,
		id bigint,
		sender_id text,
		body text,
		kind text,
		attachment text,
		reply_to text,
		client_token text,
		created_at timestamp,
		edited_at timestamp,
		deleted_at timestamp,
		is_edited boolean,
		is_deleted boolean,
		PRIMARY KEY (room_id, id)
	) WITH CLUSTERING ORDER BY (id DESC)`},
	{"message_rooms", `CREATE TABLE IF NOT EXISTS message_rooms (
		id bigint PRIMARY KEY,
		room_id text
	)`},
	{"read_receipts", `CREATE TABLE IF NOT EXISTS read_receipts (
		room_id text,
		message_id bigint,
		user_id text,
		read_at timestamp,
		PRIMARY KEY ((room_id), message_id, user_id)
	)`},
}

// CreateKeyspace must run on a session bound to the system keyspace.
func CreateKeyspace(s *Session, keyspace string, replication int) error {
	q := fmt.Sprintf(`CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : %d }`,
		keyspace, replication)
	return s.Query(q).Exec()
}

func EnsureSchema(s *Session, log *zap.Logger) error {
	for _, t := range Tables {
		if err := s.Query(t.DDL).Exec(); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
		log.Info("Table ready", zap.String("table", t.Name))
	}
	return nil
}

func DropSchema(s *Session, log *zap.Logger) error {
	for i := len(Tables) - 1; i >= 0; i-- {
		name := Tables[i].Name
		if err := s.Query("DROP TABLE IF EXISTS " + name).Exec(); err != nil {
			return fmt.Errorf("drop table %s: %w", name, err)
		}
		log.Info("Table dropped", zap.String("table", name))
	}
	return nil
}
