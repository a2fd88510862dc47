package psql

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"time"

	"github.com/go-gorp/gorp/v3"
	"github.com/lib/pq"
	migrate "github.com/rubenv/sql-migrate"

	"github.com/rutishh0/testingAegis/proto"
	"github.com/rutishh0/testingAegis/proto/snowflake"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

var Migrations migrate.MigrationSource = &migrate.EmbedFileSystemMigrationSource{
	FileSystem: migrationFS,
	Root:       "migrations",
}

const uniqueViolation = "23505"

var schema = []struct {
	Name       string
	Table      interface{}
	PrimaryKey []string
}{
	{"users", User{}, []string{"ID"}},
	{"messages", Message{}, []string{"ID"}},
	{"admin_config", AdminConfig{}, []string{"ConfigID"}},
}

type Backend struct {
	*sql.DB
	*gorp.DbMap

	dsn     string
	version string
	logger  *log.Logger
}

func NewBackend(dsn, version string) (*Backend, error) {
	parsedDSN, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("url.Parse: %s", err)
	}
	if parsedDSN.User != nil {
		parsedDSN.User = url.UserPassword(parsedDSN.User.Username(), "xxxxxx")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %s", err)
	}

	b := &Backend{
		DB:      db,
		dsn:     dsn,
		version: version,
	}
	b.logger = log.New(os.Stdout, fmt.Sprintf("[backend %p] ", b), log.LstdFlags)
	b.logger.Printf("psql backend %s on %s", version, parsedDSN.String())

	b.DbMap = &gorp.DbMap{Db: b.DB, Dialect: gorp.PostgresDialect{}}
	for _, item := range schema {
		b.DbMap.AddTableWithName(item.Table, item.Name).SetKeys(false, item.PrimaryKey...)
	}
	return b, nil
}

// Migrate applies any pending schema migrations and reports how many ran.
func Migrate(db *sql.DB) (int, error) {
	return migrate.Exec(db, "postgres", Migrations, migrate.Up)
}

func (b *Backend) Version() string { return b.version }

func (b *Backend) Close() { b.DB.Close() }

func (b *Backend) Ping(ctx context.Context) error { return b.DB.PingContext(ctx) }

func (b *Backend) CreateUser(ctx context.Context, nu *proto.NewUser) (*proto.User, error) {
	id, err := snowflake.New()
	if err != nil {
		return nil, err
	}

	row := &User{
		ID:                  id.String(),
		Username:            nu.Username,
		PasswordHash:        nu.PasswordHash,
		PublicKey:           nu.PublicKey,
		EncryptedPrivateKey: nu.EncryptedPrivateKey,
		Created:             time.Now().UTC().Truncate(time.Microsecond),
	}
	if err := b.DbMap.WithContext(ctx).Insert(row); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, proto.ErrUsernameTaken
		}
		return nil, err
	}
	return row.ToBackend(), nil
}

func (b *Backend) GetUser(ctx context.Context, id snowflake.Snowflake) (*proto.User, error) {
	obj, err := b.DbMap.WithContext(ctx).Get(User{}, id.String())
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, proto.ErrUserNotFound
	}
	return obj.(*User).ToBackend(), nil
}

func (b *Backend) GetUserByName(ctx context.Context, username string) (*proto.User, error) {
	var row User
	err := b.DbMap.WithContext(ctx).SelectOne(&row, "SELECT * FROM users WHERE username = $1", username)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, proto.ErrUserNotFound
		}
		return nil, err
	}
	return row.ToBackend(), nil
}

func (b *Backend) ListUsers(ctx context.Context) ([]proto.UserView, error) {
	var rows []User
	if _, err := b.DbMap.WithContext(ctx).Select(&rows, "SELECT * FROM users ORDER BY username ASC"); err != nil {
		return nil, err
	}
	views := make([]proto.UserView, len(rows))
	for i := range rows {
		views[i] = rows[i].ToBackend().View()
	}
	return views, nil
}

func (b *Backend) CreateMessage(
	ctx context.Context, senderID snowflake.Snowflake, msg *proto.OutboundMessage) (*proto.MessageEnvelope, error) {

	id, err := snowflake.New()
	if err != nil {
		return nil, err
	}

	row := NewMessage(id, senderID, msg, time.Now().UTC().Truncate(time.Microsecond))
	if err := b.DbMap.WithContext(ctx).Insert(row); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return nil, proto.ErrUserNotFound
		}
		return nil, err
	}
	return row.ToBackend(), nil
}

func (b *Backend) GetMessage(ctx context.Context, id snowflake.Snowflake) (*proto.MessageEnvelope, error) {
	obj, err := b.DbMap.WithContext(ctx).Get(Message{}, id.String())
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, proto.ErrMessageNotFound
	}
	return obj.(*Message).ToBackend(), nil
}

func (b *Backend) MessagesBetween(ctx context.Context, a, c snowflake.Snowflake) ([]proto.MessageEnvelope, error) {
	var rows []Message
	_, err := b.DbMap.WithContext(ctx).Select(
		&rows,
		"SELECT * FROM messages"+
			" WHERE (sender_id = $1 AND recipient_id = $2) OR (sender_id = $2 AND recipient_id = $1)"+
			" ORDER BY sent_at ASC, message_id ASC",
		a.String(), c.String())
	if err != nil {
		return nil, err
	}
	return envelopes(rows), nil
}

func (b *Backend) AllMessages(ctx context.Context) ([]proto.MessageEnvelope, error) {
	var rows []Message
	_, err := b.DbMap.WithContext(ctx).Select(&rows, "SELECT * FROM messages ORDER BY sent_at ASC, message_id ASC")
	if err != nil {
		return nil, err
	}
	return envelopes(rows), nil
}

func (b *Backend) AdminPublicKey(ctx context.Context) (string, error) {
	var row AdminConfig
	err := b.DbMap.WithContext(ctx).SelectOne(
		&row, "SELECT * FROM admin_config ORDER BY config_id ASC LIMIT 1")
	if err != nil {
		if err == sql.ErrNoRows {
			return "", proto.ErrAdminConfigNotFound
		}
		return "", err
	}
	return row.AdminPublicKey, nil
}

func (b *Backend) SetAdminPublicKey(ctx context.Context, publicKey string) error {
	_, err := b.DbMap.WithContext(ctx).Exec(
		"INSERT INTO admin_config (config_id, admin_public_key, updated_at) VALUES (1, $1, NOW())"+
			" ON CONFLICT (config_id) DO UPDATE SET admin_public_key = EXCLUDED.admin_public_key, updated_at = NOW()",
		publicKey)
	return err
}

func envelopes(rows []Message) []proto.MessageEnvelope {
	msgs := make([]proto.MessageEnvelope, len(rows))
	for i := range rows {
		msgs[i] = *rows[i].ToBackend()
	}
	return msgs
}
