// Package vocab implements the vocabulary book store: named collections of
// translated terms indexed by embedding vectors, persisted in bbolt.
package vocab

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.etcd.io/bbolt"

	"github.com/thebtf/glossa/internal/embedding"
	"github.com/thebtf/glossa/pkg/models"
)

var (
	bucketCollections = []byte("collections")
	bucketEntries     = []byte("entries")
	keyMeta           = []byte("meta")
)

// ErrNoCollection is returned when an operation targets an absent collection.
var ErrNoCollection = errors.New("vocabulary collection not found")

// Match is one query result. Distance is cosine distance, ascending order
// means nearest first. Listing operations report Distance 0 as a
// not-applicable sentinel; callers must not read it as a similarity score.
type Match struct {
	Metadata     map[string]any `json:"metadata"`
	ID           string         `json:"id"`
	OriginalText string         `json:"original_text"`
	Distance     float64        `json:"distance"`
}

// Store is a bbolt-backed vocabulary database. One sub-bucket per
// collection, durable across restarts.
type Store struct {
	db *bbolt.DB
}

// Open opens (or creates) the vocabulary database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("ensure vocabulary directory: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open vocabulary database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCollections)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create collections bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// EntryID derives the entry id from normalized original text: lowercased,
// trimmed, internal whitespace collapsed to underscores. Two texts that
// normalize identically share an id, so re-adding one overwrites (upsert).
func EntryID(original string) string {
	fields := strings.Fields(strings.ToLower(original))
	return strings.Join(fields, "_")
}

type collectionMeta struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// entryRecord is the stored JSON form of a vocabulary entry.
type entryRecord struct {
	Metadata     map[string]any `json:"metadata"`
	OriginalText string         `json:"original_text"`
	Model        string         `json:"model"`
	Embedding    []float32      `json:"embedding"`
}

// ListCollections returns id and name for every vocabulary book.
func (s *Store) ListCollections() ([]models.CollectionInfo, error) {
	var out []models.CollectionInfo
	err := s.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketCollections)
		return root.ForEachBucket(func(name []byte) error {
			col := root.Bucket(name)
			info := models.CollectionInfo{Name: string(name)}
			if raw := col.Get(keyMeta); raw != nil {
				var meta collectionMeta
				if err := json.Unmarshal(raw, &meta); err == nil {
					info.ID = meta.ID
				}
			}
			out = append(out, info)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CreateCollection creates a vocabulary book if it does not already exist.
// Creating an existing collection is not an error and leaves it untouched.
func (s *Store) CreateCollection(name string) (models.CollectionInfo, error) {
	if strings.TrimSpace(name) == "" {
		return models.CollectionInfo{}, errors.New("collection name must not be empty")
	}

	var info models.CollectionInfo
	err := s.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketCollections)
		_, meta, err := getOrCreateCollection(root, name)
		if err != nil {
			return err
		}
		info = models.CollectionInfo{ID: meta.ID, Name: name}
		return nil
	})
	return info, err
}

// getOrCreateCollection returns the collection bucket, creating it and its
// meta record when absent. Callers run inside a write transaction.
func getOrCreateCollection(root *bbolt.Bucket, name string) (*bbolt.Bucket, collectionMeta, error) {
	col, err := root.CreateBucketIfNotExists([]byte(name))
	if err != nil {
		return nil, collectionMeta{}, err
	}

	var meta collectionMeta
	if raw := col.Get(keyMeta); raw != nil {
		if err := json.Unmarshal(raw, &meta); err == nil && meta.ID != "" {
			return col, meta, nil
		}
	}

	meta = collectionMeta{ID: uuid.NewString(), Name: name}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, collectionMeta{}, err
	}
	if err := col.Put(keyMeta, raw); err != nil {
		return nil, collectionMeta{}, err
	}
	if _, err := col.CreateBucketIfNotExists(bucketEntries); err != nil {
		return nil, collectionMeta{}, err
	}
	return col, meta, nil
}

// DeleteCollection removes a vocabulary book and all of its entries.
func (s *Store) DeleteCollection(name string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketCollections)
		if root.Bucket([]byte(name)) == nil {
			return fmt.Errorf("%w: %q", ErrNoCollection, name)
		}
		return root.DeleteBucket([]byte(name))
	})
}

// RenameCollection moves every entry of old into new (created on demand)
// and deletes old. The whole move runs in a single write transaction, so a
// crash can never leave both names or a half-copied book behind.
func (s *Store) RenameCollection(oldName, newName string) error {
	if oldName == newName {
		return nil
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketCollections)
		oldCol := root.Bucket([]byte(oldName))
		if oldCol == nil {
			return fmt.Errorf("%w: %q", ErrNoCollection, oldName)
		}

		newCol, _, err := getOrCreateCollection(root, newName)
		if err != nil {
			return err
		}
		dst, err := newCol.CreateBucketIfNotExists(bucketEntries)
		if err != nil {
			return err
		}

		if src := oldCol.Bucket(bucketEntries); src != nil {
			err = src.ForEach(func(k, v []byte) error {
				return dst.Put(k, v)
			})
			if err != nil {
				return err
			}
		}

		if err := root.DeleteBucket([]byte(oldName)); err != nil {
			return err
		}

		log.Debug().
			Str("from", oldName).
			Str("to", newName).
			Msg("Renamed vocabulary collection")
		return nil
	})
}

// entries returns the entries bucket for a collection, or ErrNoCollection.
func entries(tx *bbolt.Tx, name string) (*bbolt.Bucket, error) {
	col := tx.Bucket(bucketCollections).Bucket([]byte(name))
	if col == nil {
		return nil, fmt.Errorf("%w: %q", ErrNoCollection, name)
	}
	b := col.Bucket(bucketEntries)
	if b == nil {
		return nil, fmt.Errorf("%w: %q has no entry index", ErrNoCollection, name)
	}
	return b, nil
}

// Upsert adds or overwrites a vocabulary entry. The id is derived from the
// normalized original text and the vector is generated from that same text,
// so a stale vector can never be written. When embedding fails the whole
// operation fails with no partial write.
func (s *Store) Upsert(
	ctx context.Context,
	emb embedding.Embedder,
	collection, original, translation string,
	metadata map[string]any,
) (string, error) {
	vector, err := emb.Embed(ctx, original)
	if err != nil {
		return "", fmt.Errorf("embed %q: %w", original, err)
	}

	id := EntryID(original)
	if id == "" {
		return "", errors.New("original text must not be empty")
	}

	return id, s.putEntry(collection, id, original, translation, metadata, vector, emb.Model())
}

// Update re-embeds newOriginal and writes at the existing entryID. Unlike
// Upsert the id is NOT re-derived: editing an entry's original text
// preserves its identity. Embedding failure aborts with no write.
func (s *Store) Update(
	ctx context.Context,
	emb embedding.Embedder,
	collection, entryID, newOriginal, newTranslation string,
	metadata map[string]any,
) error {
	vector, err := emb.Embed(ctx, newOriginal)
	if err != nil {
		return fmt.Errorf("embed %q: %w", newOriginal, err)
	}
	return s.putEntry(collection, entryID, newOriginal, newTranslation, metadata, vector, emb.Model())
}

func (s *Store) putEntry(
	collection, id, original, translation string,
	metadata map[string]any,
	vector []float32,
	model string,
) error {
	meta := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		meta[k] = v
	}
	meta[models.MetaTranslation] = translation

	raw, err := json.Marshal(entryRecord{
		OriginalText: original,
		Metadata:     meta,
		Embedding:    vector,
		Model:        model,
	})
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := entries(tx, collection)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), raw)
	})
}

// Query embeds text and returns up to k nearest entries, ascending cosine
// distance. An empty collection yields an empty slice, not an error; only
// an embedding failure is an error. Entries written under a different
// embedding model are skipped, their vectors are not comparable.
func (s *Store) Query(
	ctx context.Context,
	emb embedding.Embedder,
	collection, text string,
	k int,
) ([]Match, error) {
	queryVec, err := emb.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	var matches []Match
	err = s.db.View(func(tx *bbolt.Tx) error {
		b, err := entries(tx, collection)
		if err != nil {
			return err
		}
		return b.ForEach(func(id, v []byte) error {
			var rec entryRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return nil // skip corrupted entries
			}
			if rec.Model != emb.Model() {
				log.Debug().
					Str("entry", string(id)).
					Str("entryModel", rec.Model).
					Str("queryModel", emb.Model()).
					Msg("Skipping entry embedded with a different model")
				return nil
			}
			matches = append(matches, Match{
				ID:           string(id),
				OriginalText: rec.OriginalText,
				Metadata:     rec.Metadata,
				Distance:     cosineDistance(queryVec, rec.Embedding),
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Distance == matches[j].Distance {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].Distance < matches[j].Distance
	})
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// GetAll pages through a collection's entries in key order (stable across
// calls). Distance is always the 0 sentinel.
func (s *Store) GetAll(collection string, limit, offset int) ([]Match, error) {
	if limit <= 0 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}

	var out []Match
	err := s.db.View(func(tx *bbolt.Tx) error {
		b, err := entries(tx, collection)
		if err != nil {
			return err
		}

		c := b.Cursor()
		skipped := 0
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if skipped < offset {
				skipped++
				continue
			}
			if len(out) >= limit {
				break
			}
			var rec entryRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			out = append(out, Match{
				ID:           string(k),
				OriginalText: rec.OriginalText,
				Metadata:     rec.Metadata,
				Distance:     0,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteEntries removes entries by id. Missing ids are ignored.
func (s *Store) DeleteEntries(collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := entries(tx, collection)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := b.Delete([]byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
}

// cosineDistance is 1 - cosine similarity, so 0 means identical direction.
func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}
