package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on a PostgreSQL backend.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore initializes a new PostgresStore with a connection pool.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}

	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping reports backend liveness.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const messageColumns = `id, topic, payload, event, extension, private, inserted_at`

// InsertViaSend persists a message through the server-side send() function
// and returns the inserted row.
func (s *PostgresStore) InsertViaSend(ctx context.Context, m *Message) (*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM send($1, $2, $3, $4, $5)`
	var out Message
	err := s.pool.QueryRow(ctx, query, m.Payload, m.Event, m.Topic, m.Extension, m.Private).Scan(
		&out.ID, &out.Topic, &out.Payload, &out.Event, &out.Extension, &out.Private, &out.InsertedAt,
	)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// InsertMessage persists a message with a plain insert. Used as the fallback
// when send() is unavailable.
func (s *PostgresStore) InsertMessage(ctx context.Context, m *Message) (*Message, error) {
	query := `
		INSERT INTO messages (topic, payload, event, extension, private)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + messageColumns
	var out Message
	err := s.pool.QueryRow(ctx, query, m.Topic, m.Payload, m.Event, m.Extension, m.Private).Scan(
		&out.ID, &out.Topic, &out.Payload, &out.Event, &out.Extension, &out.Private, &out.InsertedAt,
	)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// MessagesByTopic returns the non-private messages of a topic in insertion order.
func (s *PostgresStore) MessagesByTopic(ctx context.Context, topic string) ([]*Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages WHERE topic = $1 AND private = false
		ORDER BY inserted_at ASC`
	rows, err := s.pool.Query(ctx, query, topic)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(
			&m.ID, &m.Topic, &m.Payload, &m.Event, &m.Extension, &m.Private, &m.InsertedAt,
		); err != nil {
			return nil, err
		}
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

// DistinctTopics lists every topic with at least one message. It prefers the
// get_distinct_topics() function and falls back to scanning the topic column
// when the function is missing or returns nothing.
func (s *PostgresStore) DistinctTopics(ctx context.Context) ([]string, error) {
	topics, err := s.scanTopics(ctx, `SELECT topic FROM get_distinct_topics()`)
	if err == nil && len(topics) > 0 {
		return topics, nil
	}

	raw, err := s.scanTopics(ctx, `SELECT topic FROM messages`)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(raw))
	var out []string
	for _, t := range raw {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *PostgresStore) scanTopics(ctx context.Context, query string) ([]string, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var topics []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

// --- Subscription Operations ---

func (s *PostgresStore) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	query := `
		SELECT subscription_id, entity, filters, claims, claims_role, created_at
		FROM subscription WHERE subscription_id = $1`
	var sub Subscription
	err := s.pool.QueryRow(ctx, query, subscriptionID).Scan(
		&sub.SubscriptionID, &sub.Entity, &sub.Filters, &sub.Claims, &sub.ClaimsRole, &sub.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *PostgresStore) InsertSubscription(ctx context.Context, sub *Subscription) error {
	query := `
		INSERT INTO subscription (subscription_id, entity, filters, claims, claims_role)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := s.pool.Exec(ctx, query,
		sub.SubscriptionID, sub.Entity, sub.Filters, sub.Claims, sub.ClaimsRole,
	)
	return err
}

func (s *PostgresStore) DeleteSubscription(ctx context.Context, subscriptionID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM subscription WHERE subscription_id = $1`, subscriptionID)
	return err
}

// IsDuplicateKey reports whether err is a unique-constraint violation.
// Concurrent joins for the same principal/topic race on the registry insert;
// the loser sees 23505 and treats it as already-subscribed.
func IsDuplicateKey(err error) bool {
	if errors.Is(err, ErrDuplicate) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
