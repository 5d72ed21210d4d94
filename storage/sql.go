package storage

import (
	"context"
	"database/sql"
	"errors"

	"linerelay/core"
)

// SQLStore implements core.SessionStore over database/sql. Queries use
// positional "?" placeholders and never write NULLs so the same statements
// run on SQLite and on YDB.
type SQLStore struct {
	db *sql.DB
	// insert is the verb for fresh rows: YDB forbids INSERT after a write to
	// the same table inside one transaction, so it uses UPSERT.
	insert string
	// nonceSource is the table expression for lookups by nonce value; YDB
	// only uses a secondary index when the query names it.
	nonceSource string
	// lostRace reports a transaction aborted by a concurrent writer.
	lostRace func(error) bool
	closeFn  func() error
}

func (r *SQLStore) Close() error {
	if r.closeFn != nil {
		return r.closeFn()
	}
	return r.db.Close()
}

const (
	loginColumns  = `SELECT id, nonce, redirect_url, session_id FROM `
	selectLogin   = loginColumns + `login`
	selectSession = `SELECT id, access_token, refresh_token, user_id, name, picture, expire FROM sessions`
)

func (r *SQLStore) CreateNonce(ctx context.Context, nonce string, redirectURL *string) (*core.LoginNonce, error) {
	record := newNonce(nonce, redirectURL)

	if err := r.insertLogin(ctx, r.db, record); err != nil {
		return nil, storageError("create nonce", err)
	}

	return record, nil
}

func (r *SQLStore) ClearNonce(ctx context.Context, nonce string) error {
	return r.inTx(ctx, "clear nonce", func(tx *sql.Tx) error {
		return r.deleteByNonce(ctx, tx, nonce)
	})
}

func (r *SQLStore) ReplaceNonce(ctx context.Context, nonce string, redirectURL *string) (*core.LoginNonce, error) {
	record := newNonce(nonce, redirectURL)

	err := r.inTx(ctx, "replace nonce", func(tx *sql.Tx) error {
		if err := r.deleteByNonce(ctx, tx, nonce); err != nil {
			return err
		}
		return r.insertLogin(ctx, tx, record)
	})
	if err != nil {
		return nil, err
	}

	return record, nil
}

func (r *SQLStore) GetNonceByValue(ctx context.Context, nonce string) (*core.LoginNonce, error) {
	query := loginColumns + r.nonceSource + ` WHERE nonce = ? LIMIT 1`

	record, err := scanLogin(r.db.QueryRowContext(ctx, query, nonce))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, storageError("get nonce by value", err)
	}

	return record, nil
}

func (r *SQLStore) GetNonceByID(ctx context.Context, id string) (*core.LoginNonce, error) {
	query := selectLogin + ` WHERE id = ?`

	record, err := scanLogin(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError("get nonce by id", err)
	}

	return record, nil
}

func (r *SQLStore) LinkSession(ctx context.Context, nonceID string, sessionID string) error {
	return r.inTx(ctx, "link session", func(tx *sql.Tx) error {
		var linked string
		err := tx.QueryRowContext(ctx, `SELECT session_id FROM login WHERE id = ?`, nonceID).Scan(&linked)
		if errors.Is(err, sql.ErrNoRows) {
			return core.ErrNotFound
		}
		if err != nil {
			return err
		}
		// A link is set once; only deletion clears it
		if linked != "" {
			return core.ErrNotFound
		}

		found, err := exists(ctx, tx, `SELECT 1 FROM sessions WHERE id = ?`, sessionID)
		if err != nil {
			return err
		}
		if !found {
			return core.ErrNotFound
		}

		_, err = tx.ExecContext(ctx, `UPDATE login SET session_id = ? WHERE id = ? AND session_id = ''`, sessionID, nonceID)
		return err
	})
}

func (r *SQLStore) DeleteNonce(ctx context.Context, id string) error {
	err := r.inTx(ctx, "delete nonce", func(tx *sql.Tx) error {
		found, err := exists(ctx, tx, `SELECT 1 FROM login WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if !found {
			return core.ErrNotFound
		}

		_, err = tx.ExecContext(ctx, `DELETE FROM login WHERE id = ?`, id)
		return err
	})
	// A concurrent collector deleted the row first
	if err != nil && r.lostRace != nil && r.lostRace(err) {
		return core.ErrNotFound
	}
	return err
}

func (r *SQLStore) CreateSession(ctx context.Context, auth *core.AuthResult) (*core.Session, error) {
	session, err := newSession(auth)
	if err != nil {
		return nil, storageError("create session", err)
	}

	query := r.insert + ` INTO sessions (id, access_token, refresh_token, user_id, name, picture, expire)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, query,
		session.ID,
		session.AccessToken,
		session.RefreshToken,
		session.UserID,
		session.Name,
		core.StringValue(session.Picture),
		toMillis(session.Expire),
	)
	if err != nil {
		return nil, storageError("create session", err)
	}

	return session, nil
}

func (r *SQLStore) GetSessionByID(ctx context.Context, id string) (*core.Session, error) {
	query := selectSession + ` WHERE id = ?`

	var session core.Session
	var picture string
	var expire int64

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&session.ID,
		&session.AccessToken,
		&session.RefreshToken,
		&session.UserID,
		&session.Name,
		&picture,
		&expire,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError("get session", err)
	}

	session.Picture = core.StringPtr(picture)
	session.Expire = fromMillis(expire)
	return &session, nil
}

func (r *SQLStore) UpdateSession(ctx context.Context, session *core.Session) error {
	return r.inTx(ctx, "update session", func(tx *sql.Tx) error {
		found, err := exists(ctx, tx, `SELECT 1 FROM sessions WHERE id = ?`, session.ID)
		if err != nil {
			return err
		}
		if !found {
			return core.ErrNotFound
		}

		query := `
			UPDATE sessions
			SET access_token = ?, refresh_token = ?, name = ?, picture = ?, expire = ?
			WHERE id = ?
		`
		_, err = tx.ExecContext(ctx, query,
			session.AccessToken,
			session.RefreshToken,
			session.Name,
			core.StringValue(session.Picture),
			toMillis(session.Expire),
			session.ID,
		)
		return err
	})
}

// inTx runs fn in a transaction. Statements inside fn must issue their reads
// before their writes; YDB rejects reads after a write in the same transaction.
func (r *SQLStore) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storageError(op, err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return storageError(op, err)
	}

	return storageError(op, tx.Commit())
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// deleteByNonce removes every login row for nonce. The ids are read first so
// the lookup can go through the nonce index and all writes follow all reads.
func (r *SQLStore) deleteByNonce(ctx context.Context, tx *sql.Tx, nonce string) error {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM `+r.nonceSource+` WHERE nonce = ?`, nonce)
	if err != nil {
		return err
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM login WHERE id = ?`, id); err != nil {
			return err
		}
	}
	return nil
}

func (r *SQLStore) insertLogin(ctx context.Context, db execer, record *core.LoginNonce) error {
	query := r.insert + ` INTO login (id, nonce, redirect_url, session_id)
		VALUES (?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, query,
		record.ID,
		record.Nonce,
		core.StringValue(record.RedirectURL),
		core.StringValue(record.Session),
	)
	return err
}

func scanLogin(row *sql.Row) (*core.LoginNonce, error) {
	var record core.LoginNonce
	var redirectURL, sessionID string

	if err := row.Scan(&record.ID, &record.Nonce, &redirectURL, &sessionID); err != nil {
		return nil, err
	}

	record.RedirectURL = core.StringPtr(redirectURL)
	record.Session = core.StringPtr(sessionID)
	return &record, nil
}

func exists(ctx context.Context, tx *sql.Tx, query string, id string) (bool, error) {
	var found int64
	err := tx.QueryRowContext(ctx, query, id).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
