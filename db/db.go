package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/mewl/minipub/domain"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// DB is the persistence handle. It is constructed once in main and
// passed explicitly to everything that needs it.
type DB struct {
	db *sql.DB
}

const (
	//Accounts
	sqlCreateAccountsTable = `CREATE TABLE IF NOT EXISTS accounts(
                        id uuid NOT NULL PRIMARY KEY,
                        username varchar(100) UNIQUE NOT NULL,
                        display_name varchar(200),
                        summary text,
                        avatar_url text,
                        fields_json text,
                        created_at timestamp default current_timestamp,
                        updated_at timestamp default current_timestamp
                        )`
	sqlInsertAccount           = `INSERT INTO accounts(id, username, display_name, summary, avatar_url, fields_json, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectAccountById       = `SELECT id, username, display_name, summary, avatar_url, fields_json, created_at, updated_at FROM accounts WHERE id = ?`
	sqlSelectAccountByUsername = `SELECT id, username, display_name, summary, avatar_url, fields_json, created_at, updated_at FROM accounts WHERE username = ?`
	sqlCountAccounts           = `SELECT count(*) FROM accounts`

	//Notes
	sqlCreateNotesTable = `CREATE TABLE IF NOT EXISTS notes(
                        id uuid NOT NULL PRIMARY KEY,
                        account_id uuid NOT NULL,
                        source varchar(1000),
                        in_reply_to text,
                        created_at timestamp default current_timestamp
                        )`
	sqlInsertNote     = `INSERT INTO notes(id, account_id, source, in_reply_to, created_at) VALUES (?, ?, ?, ?, ?)`
	sqlSelectNoteById = `SELECT notes.id, notes.account_id, accounts.username, notes.source, notes.in_reply_to, notes.created_at FROM notes
    														INNER JOIN accounts ON accounts.id = notes.account_id 
                                                            WHERE notes.id = ?`
	sqlSelectNotesByAccountId = `SELECT notes.id, notes.account_id, accounts.username, notes.source, notes.in_reply_to, notes.created_at FROM notes
    														INNER JOIN accounts ON accounts.id = notes.account_id 
                                                            WHERE notes.account_id = ?
                                                            ORDER BY notes.created_at DESC`
	sqlSelectAllNotes = `SELECT notes.id, notes.account_id, accounts.username, notes.source, notes.in_reply_to, notes.created_at FROM notes
    														INNER JOIN accounts ON accounts.id = notes.account_id 
                                                            ORDER BY notes.created_at DESC`
)

// Open opens (and creates, if necessary) the sqlite database at path
// and prepares the schema. Use ":memory:" in tests.
func Open(path string) (*DB, error) {
	sqldb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	sqldb.SetMaxOpenConns(25)
	sqldb.SetMaxIdleConns(5)
	sqldb.SetConnMaxLifetime(time.Hour)

	var journalMode string
	if err := sqldb.QueryRow("PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
		log.Printf("Warning: Failed to enable WAL mode: %v", err)
	}

	sqldb.Exec("PRAGMA synchronous = NORMAL")
	sqldb.Exec("PRAGMA busy_timeout = 5000")
	sqldb.Exec("PRAGMA foreign_keys = ON")

	db := &DB{db: sqldb}
	if err := db.Migrate(); err != nil {
		sqldb.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

// Migrate creates all tables. Statements are IF NOT EXISTS, so this
// is safe to run on every boot.
func (db *DB) Migrate() error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		for _, stmt := range []string{
			sqlCreateAccountsTable,
			sqlCreateNotesTable,
			sqlCreateFollowersTable,
			sqlCreateFollowersIndices,
			sqlCreateDeliveryQueueTable,
			sqlCreateDeliveryQueueIndices,
		} {
			if _, err := tx.Exec(stmt); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *DB) CreateAccount(acc *domain.Account) error {
	fieldsJSON, err := json.Marshal(acc.Fields)
	if err != nil {
		return err
	}
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertAccount,
			acc.Id.String(),
			acc.Username,
			acc.DisplayName,
			acc.Summary,
			acc.AvatarURL,
			string(fieldsJSON),
			acc.CreatedAt,
			acc.UpdatedAt,
		)
		return err
	})
}

func (db *DB) ReadAccById(id uuid.UUID) (*domain.Account, error) {
	return db.scanAccount(db.db.QueryRow(sqlSelectAccountById, id.String()))
}

func (db *DB) ReadAccByUsername(username string) (*domain.Account, error) {
	return db.scanAccount(db.db.QueryRow(sqlSelectAccountByUsername, username))
}

func (db *DB) CountAccounts() (int, error) {
	var n int
	err := db.db.QueryRow(sqlCountAccounts).Scan(&n)
	return n, err
}

func (db *DB) scanAccount(row *sql.Row) (*domain.Account, error) {
	var acc domain.Account
	var idStr string
	var fieldsJSON sql.NullString
	err := row.Scan(&idStr, &acc.Username, &acc.DisplayName, &acc.Summary, &acc.AvatarURL, &fieldsJSON, &acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	acc.Id, err = uuid.Parse(idStr)
	if err != nil {
		return nil, err
	}
	if fieldsJSON.Valid && fieldsJSON.String != "" {
		if err := json.Unmarshal([]byte(fieldsJSON.String), &acc.Fields); err != nil {
			return nil, err
		}
	}
	return &acc, nil
}

func (db *DB) CreateNote(note *domain.Note) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertNote,
			note.Id.String(),
			note.AccountId.String(),
			note.Source,
			note.InReplyTo,
			note.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadNoteById(id uuid.UUID) (*domain.Note, error) {
	row := db.db.QueryRow(sqlSelectNoteById, id.String())
	return scanNoteRow(row.Scan)
}

func (db *DB) ReadNotesByAccId(accountId uuid.UUID) ([]domain.Note, error) {
	return db.queryNotes(sqlSelectNotesByAccountId, accountId.String())
}

func (db *DB) ReadAllNotes() ([]domain.Note, error) {
	return db.queryNotes(sqlSelectAllNotes)
}

func (db *DB) queryNotes(query string, args ...any) ([]domain.Note, error) {
	rows, err := db.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notes []domain.Note
	for rows.Next() {
		note, err := scanNoteRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		notes = append(notes, *note)
	}
	return notes, rows.Err()
}

func scanNoteRow(scan func(...any) error) (*domain.Note, error) {
	var note domain.Note
	var idStr, accIdStr string
	var inReplyTo sql.NullString
	if err := scan(&idStr, &accIdStr, &note.CreatedBy, &note.Source, &inReplyTo, &note.CreatedAt); err != nil {
		return nil, err
	}
	var err error
	if note.Id, err = uuid.Parse(idStr); err != nil {
		return nil, err
	}
	if note.AccountId, err = uuid.Parse(accIdStr); err != nil {
		return nil, err
	}
	note.InReplyTo = inReplyTo.String
	return &note, nil
}

// wrapTransaction runs the given function within a transaction,
// retrying on SQLITE_BUSY.
func (db *DB) wrapTransaction(f func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		log.Printf("error starting transaction: %s", err)
		return err
	}
	for {
		err = f(tx)
		if err != nil {
			serr, ok := err.(*sqlite.Error)
			if ok && serr.Code() == sqlitelib.SQLITE_BUSY {
				continue
			}
			tx.Rollback()
			return err
		}
		err = tx.Commit()
		if err != nil {
			log.Printf("error committing transaction: %s", err)
			return err
		}
		break
	}
	return nil
}
