package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/markdave123-py/lawgpt/internal/core"
	"github.com/markdave123-py/lawgpt/internal/models"
)

const pgUniqueViolation = "23505"

// DatabaseClient is the Postgres store. Messages live in a JSONB column so a
// session keeps the same document shape it has in MongoDB.
type DatabaseClient struct {
	db *sql.DB
}

func NewDatabaseClient(ctx context.Context, databaseURL string) (*DatabaseClient, error) {
	if databaseURL == "" {
		return nil, errors.New("DATABASE_URL is empty")
	}

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "open db")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping db")
	}

	if err := EnsureBootstrapped(ctx, db); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "bootstrap")
	}

	log.Info().Msg("Postgres connected and bootstrapped")
	return &DatabaseClient{db: db}, nil
}

func (c *DatabaseClient) Close(context.Context) error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// Users

const userColumns = `id, first_name, last_name, mobile_number, email, password_hash, user_type,
	newsletter, favorite_feature, total_chats, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.MobileNumber, &u.Email, &u.PasswordHash,
		&u.UserType, &u.Newsletter, &u.FavoriteFeature, &u.TotalChats, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *DatabaseClient) CreateUser(ctx context.Context, user *models.User) error {
	if user == nil {
		return errors.New("nil user")
	}
	user.Email = normalizeEmail(user.Email)
	const q = `
		INSERT INTO users (id, first_name, last_name, mobile_number, email, password_hash, user_type,
			newsletter, favorite_feature, total_chats, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := c.db.ExecContext(ctx, q,
		user.ID, user.FirstName, user.LastName, user.MobileNumber, user.Email, user.PasswordHash, user.UserType,
		user.Newsletter, user.FavoriteFeature, user.TotalChats, user.CreatedAt, user.UpdatedAt)
	if isUniqueViolation(err) {
		return core.ErrEmailTaken
	}
	return errors.Wrap(err, "insert user")
}

func (c *DatabaseClient) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	u, err := scanUser(c.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, normalizeEmail(email)))
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return nil, errors.Wrap(err, "get user by email")
	}
	return u, err
}

func (c *DatabaseClient) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	u, err := scanUser(c.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return nil, errors.Wrap(err, "get user by id")
	}
	return u, err
}

func (c *DatabaseClient) UpdateUser(ctx context.Context, user *models.User) error {
	user.Email = normalizeEmail(user.Email)
	const q = `
		UPDATE users
		SET first_name = $2, last_name = $3, mobile_number = $4, email = $5, favorite_feature = $6, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`
	err := c.db.QueryRowContext(ctx, q,
		user.ID, user.FirstName, user.LastName, user.MobileNumber, user.Email, user.FavoriteFeature,
	).Scan(&user.UpdatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return core.ErrNotFound
	case isUniqueViolation(err):
		return core.ErrEmailTaken
	}
	return errors.Wrap(err, "update user")
}

func (c *DatabaseClient) AdjustTotalChats(ctx context.Context, userID string, delta int) error {
	res, err := c.db.ExecContext(ctx,
		`UPDATE users SET total_chats = GREATEST(0, total_chats + $2) WHERE id = $1`, userID, delta)
	if err != nil {
		return errors.Wrap(err, "adjust total_chats")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// Sessions

const sessionColumns = `id, user_id, conversation_id, title, messages, created_at, updated_at`

func scanSession(row interface{ Scan(...any) error }) (*models.ChatSession, error) {
	var (
		s   models.ChatSession
		raw []byte
	)
	err := row.Scan(&s.ID, &s.UserID, &s.ConversationID, &s.Title, &raw, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.Messages = []models.Message{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &s.Messages); err != nil {
			return nil, errors.Wrap(err, "decode messages")
		}
	}
	return &s, nil
}

func (c *DatabaseClient) CreateSession(ctx context.Context, session *models.ChatSession) error {
	if session == nil {
		return errors.New("nil session")
	}
	msgs, err := encodeMessages(session.Messages)
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO chat_sessions (id, user_id, conversation_id, title, messages, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7)
	`
	_, err = c.db.ExecContext(ctx, q,
		session.ID, session.UserID, session.ConversationID, session.Title, msgs, session.CreatedAt, session.UpdatedAt)
	return errors.Wrap(err, "insert session")
}

func (c *DatabaseClient) GetSession(ctx context.Context, userID, sessionID string) (*models.ChatSession, error) {
	s, err := scanSession(c.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM chat_sessions WHERE id = $1 AND user_id = $2`, sessionID, userID))
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return nil, errors.Wrap(err, "get session")
	}
	return s, err
}

func (c *DatabaseClient) ListSessions(ctx context.Context, userID string) ([]models.ChatSession, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM chat_sessions WHERE user_id = $1 ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list sessions")
	}
	defer rows.Close()

	out := []models.ChatSession{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan session")
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) CountSessions(ctx context.Context, userID string) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT count(*) FROM chat_sessions WHERE user_id = $1`, userID).Scan(&n)
	return n, errors.Wrap(err, "count sessions")
}

func (c *DatabaseClient) UpdateSessionTitle(ctx context.Context, userID, sessionID, title string) (*models.ChatSession, error) {
	s, err := scanSession(c.db.QueryRowContext(ctx, `
		UPDATE chat_sessions SET title = $3, updated_at = now()
		WHERE id = $1 AND user_id = $2
		RETURNING `+sessionColumns, sessionID, userID, title))
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return nil, errors.Wrap(err, "update session title")
	}
	return s, err
}

func (c *DatabaseClient) SaveMessages(ctx context.Context, userID, sessionID string, messages []models.Message) (*models.ChatSession, error) {
	msgs, err := encodeMessages(messages)
	if err != nil {
		return nil, err
	}
	s, err := scanSession(c.db.QueryRowContext(ctx, `
		UPDATE chat_sessions SET messages = $3::jsonb, updated_at = now()
		WHERE id = $1 AND user_id = $2
		RETURNING `+sessionColumns, sessionID, userID, msgs))
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return nil, errors.Wrap(err, "save messages")
	}
	return s, err
}

func (c *DatabaseClient) DeleteSession(ctx context.Context, userID, sessionID string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id = $1 AND user_id = $2`, sessionID, userID)
	if err != nil {
		return errors.Wrap(err, "delete session")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func encodeMessages(messages []models.Message) (string, error) {
	if messages == nil {
		messages = []models.Message{}
	}
	b, err := json.Marshal(messages)
	if err != nil {
		return "", errors.Wrap(err, "encode messages")
	}
	return string(b), nil
}

// Files

const fileColumns = `id, user_id, original_name, file_name, storage_key, url, mime_type, size, uploaded_at`

func scanFile(row interface{ Scan(...any) error }) (*models.StoredFile, error) {
	var f models.StoredFile
	err := row.Scan(&f.ID, &f.UserID, &f.OriginalName, &f.FileName, &f.StorageKey, &f.URL, &f.MimeType, &f.Size, &f.UploadedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (c *DatabaseClient) CreateFile(ctx context.Context, file *models.StoredFile) error {
	if file == nil {
		return errors.New("nil file")
	}
	const q = `
		INSERT INTO files (id, user_id, original_name, file_name, storage_key, url, mime_type, size, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := c.db.ExecContext(ctx, q,
		file.ID, file.UserID, file.OriginalName, file.FileName, file.StorageKey, file.URL, file.MimeType, file.Size, file.UploadedAt)
	return errors.Wrap(err, "insert file")
}

func (c *DatabaseClient) GetFile(ctx context.Context, userID, fileID string) (*models.StoredFile, error) {
	f, err := scanFile(c.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE id = $1 AND user_id = $2`, fileID, userID))
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return nil, errors.Wrap(err, "get file")
	}
	return f, err
}

func (c *DatabaseClient) DeleteFile(ctx context.Context, userID, fileID string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM files WHERE id = $1 AND user_id = $2`, fileID, userID)
	if err != nil {
		return errors.Wrap(err, "delete file")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (c *DatabaseClient) ListFilesBefore(ctx context.Context, cutoff time.Time) ([]models.StoredFile, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE uploaded_at < $1 ORDER BY uploaded_at ASC`, cutoff)
	if err != nil {
		return nil, errors.Wrap(err, "list old files")
	}
	defer rows.Close()

	var out []models.StoredFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan file")
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

var _ core.DbClient = (*DatabaseClient)(nil)
