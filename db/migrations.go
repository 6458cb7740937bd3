package db

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/mewl/minipub/domain"
)

const (
	//Followers
	sqlCreateFollowersTable = `CREATE TABLE IF NOT EXISTS followers(
                        account_id uuid NOT NULL,
                        actor_uri text NOT NULL,
                        actor_json text NOT NULL,
                        created_at timestamp default current_timestamp,
                        PRIMARY KEY (account_id, actor_uri)
                        )`
	sqlCreateFollowersIndices = `CREATE INDEX IF NOT EXISTS idx_followers_account ON followers(account_id)`
	sqlUpsertFollower         = `INSERT INTO followers(account_id, actor_uri, actor_json, created_at) VALUES (?, ?, ?, ?)
                        ON CONFLICT(account_id, actor_uri) DO UPDATE SET actor_json = excluded.actor_json`
	sqlSelectFollowersByAccountId = `SELECT actor_json FROM followers WHERE account_id = ? ORDER BY created_at DESC`
	sqlDeleteFollower             = `DELETE FROM followers WHERE account_id = ? AND actor_uri = ?`
	sqlCountFollowers             = `SELECT count(*) FROM followers WHERE account_id = ?`

	//Delivery queue
	sqlCreateDeliveryQueueTable = `CREATE TABLE IF NOT EXISTS delivery_queue(
                        id uuid NOT NULL PRIMARY KEY,
                        actor_uri text NOT NULL,
                        activity_json text NOT NULL,
                        attempts integer NOT NULL DEFAULT 0,
                        next_retry_at timestamp NOT NULL,
                        created_at timestamp default current_timestamp
                        )`
	sqlCreateDeliveryQueueIndices = `CREATE INDEX IF NOT EXISTS idx_delivery_queue_retry ON delivery_queue(next_retry_at)`
	sqlInsertDelivery             = `INSERT INTO delivery_queue(id, actor_uri, activity_json, attempts, next_retry_at, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	sqlSelectPendingDeliveries    = `SELECT id, actor_uri, activity_json, attempts, next_retry_at, created_at FROM delivery_queue
                        WHERE next_retry_at <= ? ORDER BY next_retry_at ASC LIMIT ?`
	sqlUpdateDeliveryAttempt = `UPDATE delivery_queue SET attempts = ?, next_retry_at = ? WHERE id = ?`
	sqlDeleteDelivery        = `DELETE FROM delivery_queue WHERE id = ?`
)

// UpsertFollower records a remote actor as a follower of the given
// account. Repeating a Follow from the same actor refreshes the stored
// actor document instead of duplicating the row.
func (db *DB) UpsertFollower(accountId uuid.UUID, follower *domain.RemoteUser) error {
	actorJSON, err := json.Marshal(follower)
	if err != nil {
		return err
	}
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpsertFollower,
			accountId.String(),
			follower.ID,
			string(actorJSON),
			time.Now().UTC(),
		)
		return err
	})
}

func (db *DB) ReadFollowersByAccId(accountId uuid.UUID) ([]domain.RemoteUser, error) {
	rows, err := db.db.Query(sqlSelectFollowersByAccountId, accountId.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var followers []domain.RemoteUser
	for rows.Next() {
		var actorJSON string
		if err := rows.Scan(&actorJSON); err != nil {
			return nil, err
		}
		var follower domain.RemoteUser
		if err := json.Unmarshal([]byte(actorJSON), &follower); err != nil {
			return nil, err
		}
		followers = append(followers, follower)
	}
	return followers, rows.Err()
}

// DeleteFollower removes a follower record. Deleting a record that
// does not exist is not an error.
func (db *DB) DeleteFollower(accountId uuid.UUID, actorURI string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteFollower, accountId.String(), actorURI)
		return err
	})
}

func (db *DB) CountFollowers(accountId uuid.UUID) (int, error) {
	var n int
	err := db.db.QueryRow(sqlCountFollowers, accountId.String()).Scan(&n)
	return n, err
}

func (db *DB) EnqueueDelivery(item *domain.DeliveryQueueItem) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertDelivery,
			item.Id.String(),
			item.ActorURI,
			item.ActivityJSON,
			item.Attempts,
			item.NextRetryAt,
			item.CreatedAt,
		)
		return err
	})
}

// ReadPendingDeliveries returns queue items due at or before now,
// oldest first, up to limit.
func (db *DB) ReadPendingDeliveries(now time.Time, limit int) ([]domain.DeliveryQueueItem, error) {
	rows, err := db.db.Query(sqlSelectPendingDeliveries, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.DeliveryQueueItem
	for rows.Next() {
		var item domain.DeliveryQueueItem
		var idStr string
		if err := rows.Scan(&idStr, &item.ActorURI, &item.ActivityJSON, &item.Attempts, &item.NextRetryAt, &item.CreatedAt); err != nil {
			return nil, err
		}
		if item.Id, err = uuid.Parse(idStr); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (db *DB) UpdateDeliveryAttempt(id uuid.UUID, attempts int, nextRetryAt time.Time) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateDeliveryAttempt, attempts, nextRetryAt, id.String())
		return err
	})
}

func (db *DB) DeleteDelivery(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteDelivery, id.String())
		return err
	})
}
