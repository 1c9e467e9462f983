package infra

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	sqlcipher "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/eliteGoblin/focusd/rc_agent/internal/domain"
)

// Ensure sqlcipher driver is registered.
var _ = sqlcipher.ErrBusy

// DefaultJournalLimit is how many dispatches the journal keeps.
const DefaultJournalLimit = 500

// ErrSecretNotFound is returned by GetSecret for a missing key.
var ErrSecretNotFound = errors.New("secret not found")

// EncryptedStore implements domain.SecretStore and domain.Journal on a
// SQLCipher encrypted SQLite database.
type EncryptedStore struct {
	mu           sync.Mutex
	db           *sql.DB
	dbPath       string
	journalLimit int
}

// NewEncryptedStore opens (or creates) the store at dbPath.
// The key is used as the SQLCipher raw key via PRAGMA key.
func NewEncryptedStore(dbPath string, key []byte) (*EncryptedStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, hex.EncodeToString(key))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}

	// a wrong key only shows up on first access
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	s := &EncryptedStore{
		db:           db,
		dbPath:       dbPath,
		journalLimit: DefaultJournalLimit,
	}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// OpenStore loads or creates the key at keyPath and opens the store.
func OpenStore(keyPath, dbPath string) (*EncryptedStore, error) {
	key, err := NewStoreKeyFile(keyPath).StoreKey()
	if err != nil {
		return nil, fmt.Errorf("encryption key: %w", err)
	}
	return NewEncryptedStore(dbPath, key)
}

func (s *EncryptedStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS secrets (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS dispatch_journal (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL,
		topic TEXT NOT NULL,
		payload TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT '',
		action TEXT NOT NULL DEFAULT '',
		outcome TEXT NOT NULL,
		error_kind TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL DEFAULT '',
		at INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Path returns the database file path.
func (s *EncryptedStore) Path() string {
	return s.dbPath
}

// --- domain.SecretStore implementation ---

// GetSecret retrieves a secret by key.
func (s *EncryptedStore) GetSecret(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM secrets WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %q", ErrSecretNotFound, key)
	}
	return value, err
}

// SetSecret stores a secret.
func (s *EncryptedStore) SetSecret(key, value string) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO secrets (key, value, created_at) VALUES (?, ?, ?)`,
		key, value, time.Now().Unix())
	return err
}

// GetAllSecrets returns all stored secrets.
func (s *EncryptedStore) GetAllSecrets() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT key, value FROM secrets`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	secrets := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		secrets[k] = v
	}
	return secrets, rows.Err()
}

// --- domain.Journal implementation ---

// Record appends a dispatch and trims the journal to its limit.
func (s *EncryptedStore) Record(e domain.JournalEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
		INSERT INTO dispatch_journal (id, topic, payload, kind, action, outcome, error_kind, message, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Topic, e.Payload, e.Kind, e.Action, e.Outcome, e.ErrorKind, e.Message, e.At.UnixMilli(),
	)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`
		DELETE FROM dispatch_journal
		WHERE seq <= (SELECT MAX(seq) FROM dispatch_journal) - ?`, s.journalLimit)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// Recent returns up to limit entries, newest first.
func (s *EncryptedStore) Recent(limit int) ([]domain.JournalEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, topic, payload, kind, action, outcome, error_kind, message, at
		FROM dispatch_journal ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.JournalEntry
	for rows.Next() {
		var e domain.JournalEntry
		var at int64
		if err := rows.Scan(&e.ID, &e.Topic, &e.Payload, &e.Kind, &e.Action, &e.Outcome, &e.ErrorKind, &e.Message, &at); err != nil {
			return nil, err
		}
		e.At = time.UnixMilli(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the database connection.
func (s *EncryptedStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ensure EncryptedStore implements both interfaces.
var (
	_ domain.SecretStore = (*EncryptedStore)(nil)
	_ domain.Journal     = (*EncryptedStore)(nil)
)
