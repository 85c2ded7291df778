// Package vectordb is the embedding store (C4): a small BLOB-backed table
// scanned in-process for cosine similarity, grounded byte-for-byte on
// original_source/src-tauri/src/db/vector_db.rs. It opens its own SQLite
// file and creates only the two tables it owns, never touching the C3
// schema, matching schema.rs's separate create_vector_tables entry point.
package vectordb

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"mailengine/internal/apperr"
)

// Dimensions is the fixed embedding width, matching
// EMBEDDING_DIMENSIONS in vector_db.rs.
const Dimensions = 384

const schema = `
CREATE TABLE IF NOT EXISTS embeddings (
	message_id TEXT PRIMARY KEY,
	embedding BLOB NOT NULL,
	model_id TEXT NOT NULL,
	text_hash TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS embedding_state (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	is_embedding INTEGER NOT NULL DEFAULT 0,
	total INTEGER NOT NULL DEFAULT 0,
	embedded INTEGER NOT NULL DEFAULT 0,
	current_model TEXT,
	last_embedded_at INTEGER,
	error_message TEXT
);
CREATE INDEX IF NOT EXISTS idx_embeddings_model ON embeddings(model_id);
`

// Store is the process-wide handle onto the vectors file. mu mirrors the
// "separate lock from metadata DB" requirement even though the single
// open-connection pool already serializes access.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening vector db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("creating vector tables: %w", err)
	}
	if _, err := db.Exec("INSERT OR IGNORE INTO embedding_state (id) VALUES (1)"); err != nil {
		return nil, fmt.Errorf("seeding embedding state: %w", err)
	}
	return &Store{db: db}, nil
}

// vectorToBytes serializes a []float32 as little-endian bytes, matching
// embedding_to_bytes in vector_db.rs.
func vectorToBytes(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// bytesToVector is the inverse of vectorToBytes, matching bytes_to_embedding.
func bytesToVector(b []byte) []float32 {
	n := len(b) / 4
	v := make([]float32, n)
	for i := 0; i < n; i++ {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

// cosineSimilarity returns 0 for empty, mismatched-length, or zero-norm
// vectors, matching cosine_similarity in vector_db.rs.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Upsert replaces any prior vector stored for messageID, matching the
// INSERT OR REPLACE semantics of store_embedding.
func (s *Store) Upsert(messageID string, vector []float32, modelID, textHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO embeddings (message_id, embedding, model_id, text_hash, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(message_id) DO UPDATE SET embedding=excluded.embedding, model_id=excluded.model_id, text_hash=excluded.text_hash, created_at=excluded.created_at`,
		messageID, vectorToBytes(vector), modelID, textHash, time.Now().Unix(),
	)
	if err != nil {
		return apperr.Wrap(apperr.ErrStorage, "upserting embedding for %s", messageID)
	}
	return nil
}

func (s *Store) Get(messageID string) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var blob []byte
	err := s.db.QueryRow("SELECT embedding FROM embeddings WHERE message_id = ?", messageID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, apperr.Wrap(apperr.ErrNotFound, "embedding for %s", messageID)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrStorage, "reading embedding for %s", messageID)
	}
	return bytesToVector(blob), nil
}

// EmbeddedIDs returns every message id with a stored vector under modelID.
func (s *Store) EmbeddedIDs(modelID string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query("SELECT message_id FROM embeddings WHERE model_id = ?", modelID)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrStorage, "listing embedded ids")
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Wrap(apperr.ErrStorage, "scanning embedded id")
		}
		ids[id] = true
	}
	return ids, nil
}

// Neighbor is one scored result from TopK/Neighbors.
type Neighbor struct {
	MessageID  string
	Similarity float64
}

// TopK ranks every vector under modelID by cosine similarity to query,
// breaking ties by lower message_id, and returns the best k. Vectors from
// other model ids are excluded (they were embedded by a retired model).
func (s *Store) TopK(query []float32, modelID string, k int) ([]Neighbor, error) {
	return s.topKExcluding(query, modelID, k, "")
}

// Neighbors is TopK using the stored vector of messageID as the query,
// excluding messageID itself from the results.
func (s *Store) Neighbors(messageID, modelID string, k int) ([]Neighbor, error) {
	vec, err := s.Get(messageID)
	if err != nil {
		return nil, err
	}
	return s.topKExcluding(vec, modelID, k, messageID)
}

func (s *Store) topKExcluding(query []float32, modelID string, k int, exclude string) ([]Neighbor, error) {
	s.mu.Lock()
	rows, err := s.db.Query("SELECT message_id, embedding FROM embeddings WHERE model_id = ?", modelID)
	s.mu.Unlock()
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrStorage, "scanning embeddings for top_k")
	}
	defer rows.Close()

	var scored []Neighbor
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, apperr.Wrap(apperr.ErrStorage, "reading embedding row")
		}
		if id == exclude {
			continue
		}
		scored = append(scored, Neighbor{MessageID: id, Similarity: cosineSimilarity(query, bytesToVector(blob))})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Similarity != scored[j].Similarity {
			return scored[i].Similarity > scored[j].Similarity
		}
		return scored[i].MessageID < scored[j].MessageID
	})

	if k > 0 && k < len(scored) {
		scored = scored[:k]
	}
	return scored, nil
}

// Delete removes a single message's vector, used by C3's cascade-on-delete
// rule (a Message's Insight and Embedding never outlive the Message).
func (s *Store) Delete(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec("DELETE FROM embeddings WHERE message_id = ?", messageID); err != nil {
		return apperr.Wrap(apperr.ErrStorage, "deleting embedding for %s", messageID)
	}
	return nil
}

func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec("DELETE FROM embeddings"); err != nil {
		return apperr.Wrap(apperr.ErrStorage, "clearing embeddings")
	}
	return nil
}

func (s *Store) Count() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM embeddings").Scan(&n); err != nil {
		return 0, apperr.Wrap(apperr.ErrStorage, "counting embeddings")
	}
	return n, nil
}

// PurgeStaleModel deletes vectors belonging to model ids other than the
// active one, implementing SPEC_FULL.md's "may be lazily purged" allowance.
func (s *Store) PurgeStaleModel(activeModelID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec("DELETE FROM embeddings WHERE model_id != ?", activeModelID)
	if err != nil {
		return 0, apperr.Wrap(apperr.ErrStorage, "purging stale embeddings")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// EmbeddingState mirrors the embedding_status singleton row.
type EmbeddingState struct {
	IsEmbedding    bool
	Total          int
	Embedded       int
	CurrentModel   string
	LastEmbeddedAt *time.Time
	ErrorMessage   string
}

func (s *Store) GetState() (*EmbeddingState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st EmbeddingState
	var lastEmbedded sql.NullInt64
	var currentModel, errMsg sql.NullString
	err := s.db.QueryRow(
		"SELECT is_embedding, total, embedded, current_model, last_embedded_at, error_message FROM embedding_state WHERE id = 1",
	).Scan(&st.IsEmbedding, &st.Total, &st.Embedded, &currentModel, &lastEmbedded, &errMsg)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrStorage, "reading embedding state")
	}
	st.CurrentModel = currentModel.String
	st.ErrorMessage = errMsg.String
	if lastEmbedded.Valid {
		t := time.Unix(lastEmbedded.Int64, 0)
		st.LastEmbeddedAt = &t
	}
	return &st, nil
}

func (s *Store) SetState(st *EmbeddingState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var lastEmbedded any
	if st.LastEmbeddedAt != nil {
		lastEmbedded = st.LastEmbeddedAt.Unix()
	}
	_, err := s.db.Exec(
		`UPDATE embedding_state SET is_embedding=?, total=?, embedded=?, current_model=?, last_embedded_at=?, error_message=? WHERE id = 1`,
		st.IsEmbedding, st.Total, st.Embedded, st.CurrentModel, lastEmbedded, st.ErrorMessage,
	)
	if err != nil {
		return apperr.Wrap(apperr.ErrStorage, "updating embedding state")
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
