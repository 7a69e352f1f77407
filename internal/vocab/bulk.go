package vocab

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"go.etcd.io/bbolt"
	"golang.org/x/sync/errgroup"

	"github.com/thebtf/glossa/internal/embedding"
	"github.com/thebtf/glossa/pkg/models"
)

// embedConcurrency bounds parallel embedding calls during imports.
const embedConcurrency = 4

// BulkEntry is one term in a vocabulary import.
type BulkEntry struct {
	Metadata     map[string]any `json:"metadata,omitempty"`
	OriginalText string         `json:"original_text"`
	Translation  string         `json:"translation"`
}

// BulkUpsert imports many entries at once. All texts are embedded first
// with bounded concurrency; any embedding failure aborts the import before
// a single entry is written. Returns the number of entries written.
func (s *Store) BulkUpsert(
	ctx context.Context,
	emb embedding.Embedder,
	collection string,
	items []BulkEntry,
) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	vectors := make([][]float32, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)

	for i := range items {
		i := i
		g.Go(func() error {
			if EntryID(items[i].OriginalText) == "" {
				return errors.New("original text must not be empty")
			}
			vec, err := emb.Embed(gctx, items[i].OriginalText)
			if err != nil {
				return fmt.Errorf("embed %q: %w", items[i].OriginalText, err)
			}
			vectors[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	written := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b, err := entries(tx, collection)
		if err != nil {
			return err
		}
		for i, item := range items {
			meta := make(map[string]any, len(item.Metadata)+1)
			for k, v := range item.Metadata {
				meta[k] = v
			}
			meta[models.MetaTranslation] = item.Translation

			raw, err := json.Marshal(entryRecord{
				OriginalText: item.OriginalText,
				Metadata:     meta,
				Embedding:    vectors[i],
				Model:        emb.Model(),
			})
			if err != nil {
				return err
			}
			if err := b.Put([]byte(EntryID(item.OriginalText)), raw); err != nil {
				return err
			}
			written++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	log.Debug().
		Str("collection", collection).
		Int("entries", written).
		Msg("Bulk imported vocabulary entries")
	return written, nil
}
