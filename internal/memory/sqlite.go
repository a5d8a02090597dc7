package memory

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	id         TEXT PRIMARY KEY,
	collection TEXT NOT NULL,
	text       TEXT NOT NULL,
	source     TEXT NOT NULL,
	ts         INTEGER NOT NULL,
	metadata   TEXT NOT NULL,
	embedding  BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_records_collection ON records(collection);
`

// recordDB persists records to a local sqlite file so both collections
// survive restarts. The in-memory index stays authoritative at runtime;
// the database is written on insert and read once at startup.
type recordDB struct {
	db *sql.DB
}

func openRecordDB(path string) (*recordDB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &recordDB{db: db}, nil
}

func (r *recordDB) Close() error { return r.db.Close() }

func (r *recordDB) save(collection string, rec Record) error {
	md, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = r.db.Exec(
		`INSERT INTO records (id, collection, text, source, ts, metadata, embedding) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, collection, rec.Text, rec.Source, rec.Timestamp.UnixNano(), string(md), encodeVector(rec.Embedding),
	)
	return err
}

// loadInto replays every persisted record into the collection its source
// routes to, oldest first.
func (r *recordDB) loadInto(route func(source string) *collection) (int, error) {
	rows, err := r.db.Query(`SELECT id, text, source, ts, metadata, embedding FROM records ORDER BY ts`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var (
			rec  Record
			ts   int64
			md   string
			blob []byte
		)
		if err := rows.Scan(&rec.ID, &rec.Text, &rec.Source, &ts, &md, &blob); err != nil {
			return n, err
		}
		rec.Timestamp = time.Unix(0, ts)
		if err := json.Unmarshal([]byte(md), &rec.Metadata); err != nil {
			return n, fmt.Errorf("unmarshal metadata for %s: %w", rec.ID, err)
		}
		rec.Embedding = decodeVector(blob)

		route(rec.Source).insert(rec)
		n++
	}
	return n, rows.Err()
}

func encodeVector(v []float32) []byte {
	out := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(x))
	}
	return out
}

func decodeVector(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out
}
