// Package surreal implements the vector store on SurrealDB with
// auto-reconnect support.
package surreal

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/contrib/rews"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/connection/gorillaws"
	"github.com/surrealdb/surrealdb.go/pkg/logger"
	"github.com/surrealdb/surrealdb.go/surrealcbor"

	"github.com/dmahlow/lorekeep/internal/knowledge"
)

func init() {
	// WebSocket upgrade requires HTTP/1.1 semantics which fail under HTTP/2
	// ALPN negotiation.
	gorillaws.DefaultDialer.TLSClientConfig = &tls.Config{
		NextProtos: []string{"http/1.1"},
	}
}

// Config holds SurrealDB connection configuration.
type Config struct {
	URL       string
	Namespace string
	Database  string
	Username  string
	Password  string
	Table     string
}

// Store is a SurrealDB-backed similarity store for memory records.
type Store struct {
	conn  *rews.Connection[*gorillaws.Connection]
	db    *surrealdb.DB
	table string
}

// Connect creates a Store with an auto-reconnecting WebSocket connection.
func Connect(ctx context.Context, cfg Config, log *slog.Logger) (*Store, error) {
	var sdkLogger logger.Logger
	if log != nil {
		sdkLogger = logger.New(log.Handler())
	} else {
		sdkLogger = logger.New(slog.Default().Handler())
	}

	codec := surrealcbor.New()

	// gorillaws requires the URL without the /rpc suffix (it adds /rpc
	// internally).
	baseURL := strings.TrimSuffix(cfg.URL, "/rpc")

	conn := rews.New(
		func(ctx context.Context) (*gorillaws.Connection, error) {
			ws := gorillaws.New(&connection.Config{
				BaseURL:     baseURL,
				Marshaler:   codec,
				Unmarshaler: codec,
				Logger:      sdkLogger,
			})
			return ws, nil
		},
		5*time.Second,
		codec,
		sdkLogger,
	)

	retryer := rews.NewExponentialBackoffRetryer()
	retryer.InitialDelay = 1 * time.Second
	retryer.MaxDelay = 30 * time.Second
	retryer.Multiplier = 2.0
	retryer.MaxRetries = 10
	conn.Retryer = retryer

	if err := conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	db, err := surrealdb.FromConnection(ctx, conn)
	if err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("from connection: %w", err)
	}

	if _, err := db.SignIn(ctx, surrealdb.Auth{
		Username: cfg.Username,
		Password: cfg.Password,
	}); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("signin: %w", err)
	}

	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("use: %w", err)
	}

	table := cfg.Table
	if table == "" {
		table = "memory_record"
	}
	return &Store{conn: conn, db: db, table: table}, nil
}

// Close closes the SurrealDB connection.
func (s *Store) Close(ctx context.Context) error {
	return s.conn.Close(ctx)
}

// memoryRow is the wire shape of one record returned by Search.
type memoryRow struct {
	ID             string    `json:"record_id"`
	ObjectID       string    `json:"object_id"`
	ChunkID        string    `json:"chunk_id"`
	Title          string    `json:"title"`
	SourceURI      string    `json:"source_uri"`
	Content        string    `json:"content"`
	Layer          string    `json:"layer"`
	Claims         []string  `json:"claims"`
	Score          float64   `json:"score"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

// Search runs a KNN query over the record table, scoped to the requested
// layers. Results below the threshold are dropped.
func (s *Store) Search(ctx context.Context, embedding []float32, q knowledge.VectorQuery) ([]knowledge.VectorHit, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}

	layerClause := ""
	if len(q.Layers) > 0 {
		layerClause = "AND layer IN $layers"
	}

	// KNN operator needs a literal count; ef=40 for better recall.
	sql := fmt.Sprintf(`
		SELECT record::id(id) AS record_id, object_id, chunk_id, title,
		       source_uri, content, layer, claims, last_accessed_at,
		       vector::similarity::cosine(vector, $emb) AS score
		FROM %s
		WHERE vector <|%d,40|> $emb %s
		ORDER BY score DESC
	`, s.table, limit, layerClause)

	vars := map[string]any{"emb": embedding}
	if len(q.Layers) > 0 {
		vars["layers"] = layerStrings(q.Layers)
	}

	results, err := surrealdb.Query[[]memoryRow](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	var rows []memoryRow
	if results != nil && len(*results) > 0 {
		rows = (*results)[0].Result
	}

	hits := make([]knowledge.VectorHit, 0, len(rows))
	for _, row := range rows {
		if q.Threshold > 0 && row.Score < q.Threshold {
			continue
		}
		hits = append(hits, knowledge.VectorHit{
			ID:             row.ID,
			ObjectID:       row.ObjectID,
			ChunkID:        row.ChunkID,
			Title:          row.Title,
			SourceURI:      row.SourceURI,
			Content:        row.Content,
			Score:          row.Score,
			Layer:          knowledge.MemoryLayer(row.Layer),
			LastAccessedAt: row.LastAccessedAt,
			Claims:         row.Claims,
		})
	}
	return hits, nil
}

// TouchAccess bumps last_accessed_at and the access counter on the given
// records.
func (s *Store) TouchAccess(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	sql := fmt.Sprintf(`
		UPDATE %s SET
			last_accessed_at = time::now(),
			access_count += 1
		WHERE record::id(id) IN $ids
	`, s.table)
	if _, err := surrealdb.Query[any](ctx, s.db, sql, map[string]any{"ids": ids}); err != nil {
		return fmt.Errorf("touch access: %w", err)
	}
	return nil
}

// Upsert creates or replaces a memory record. last_accessed_at is set only on
// create; access moves it, ingestion does not.
func (s *Store) Upsert(ctx context.Context, rec knowledge.VectorRecord, title, sourceURI string) error {
	sql := fmt.Sprintf(`
		UPSERT type::record(%q, $id) SET
			layer = $layer,
			depth = $depth,
			vector = $vector,
			content = $content,
			object_id = $object_id,
			chunk_id = $chunk_id,
			title = $title,
			source_uri = $source_uri,
			tags = $tags,
			claims = $claims,
			created_at = IF created_at THEN created_at ELSE time::now() END,
			last_accessed_at = IF last_accessed_at THEN last_accessed_at ELSE time::now() END,
			access_count = IF access_count THEN access_count ELSE 0 END
	`, s.table)
	_, err := surrealdb.Query[any](ctx, s.db, sql, map[string]any{
		"id":         rec.ID,
		"layer":      string(rec.Layer),
		"depth":      string(rec.Depth),
		"vector":     rec.Vector,
		"content":    rec.Content,
		"object_id":  rec.ObjectID,
		"chunk_id":   rec.ChunkID,
		"title":      title,
		"source_uri": sourceURI,
		"tags":       rec.Tags,
		"claims":     rec.Claims,
	})
	if err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

func layerStrings(layers []knowledge.MemoryLayer) []string {
	out := make([]string, len(layers))
	for i, l := range layers {
		out[i] = string(l)
	}
	return out
}
