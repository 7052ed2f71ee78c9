package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/yarin-zhang/ha-cleveroom-home/internal/infrastructure/database"
	"github.com/yarin-zhang/ha-cleveroom-home/internal/klw"
)

// SQLiteStore keeps the records of one network id in the device_records
// table. The schema comes from the embedded migrations; run Migrate before
// first use.
type SQLiteStore struct {
	db  *database.DB
	nid string
	now func() time.Time
}

// NewSQLiteStore returns a store for the records of network nid.
func NewSQLiteStore(db *database.DB, nid string) *SQLiteStore {
	return &SQLiteStore{db: db, nid: nid, now: time.Now}
}

// Load reads every record of the network. Rows that no longer decode are
// skipped.
func (s *SQLiteStore) Load(ctx context.Context) (map[string]klw.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT oid, uid, category, data, detail FROM device_records WHERE nid = ?`, s.nid)
	if err != nil {
		return nil, fmt.Errorf("querying device records: %w", err)
	}
	defer rows.Close()

	records := make(map[string]klw.Record)
	for rows.Next() {
		var (
			rec    klw.Record
			cat    int
			data   []byte
			detail string
		)
		if err := rows.Scan(&rec.OID, &rec.UID, &cat, &data, &detail); err != nil {
			return nil, fmt.Errorf("scanning device record: %w", err)
		}
		ins, err := klw.DecodeInstruction(data)
		if err != nil {
			continue
		}
		rec.Detail = new(klw.Detail)
		if err := json.Unmarshal([]byte(detail), rec.Detail); err != nil {
			continue
		}
		rec.NID = s.nid
		rec.Data = ins
		rec.Type = klw.Category(cat)
		records[rec.OID] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device records: %w", err)
	}
	return records, nil
}

// Save replaces the network's rows with records in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, records map[string]klw.Record) error {
	updated := s.now().UTC().Format(time.RFC3339)

	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM device_records WHERE nid = ?`, s.nid); err != nil {
			return fmt.Errorf("clearing device records: %w", err)
		}
		if len(records) == 0 {
			return nil
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO device_records (oid, nid, uid, category, data, kind, detail, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("preparing insert: %w", err)
		}
		defer stmt.Close()

		for oid, rec := range records {
			detail, err := json.Marshal(rec.Detail)
			if err != nil {
				return fmt.Errorf("encoding detail of %s: %w", oid, err)
			}
			kind := 0
			if rec.Detail != nil {
				kind = int(rec.Detail.Kind)
			}
			if _, err := stmt.ExecContext(ctx,
				oid, s.nid, rec.UID, int(rec.Type), rec.Data.Bytes(), kind, string(detail), updated,
			); err != nil {
				return fmt.Errorf("inserting %s: %w", oid, err)
			}
		}
		return nil
	})
}
