package storeclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS asset_documents (
	collection text        NOT NULL,
	id         uuid        NOT NULL,
	seq        bigserial,
	data       jsonb       NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now(),
	updated_at timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS asset_documents_data_gin ON asset_documents USING gin (data jsonb_path_ops);
`

// sortKeyPattern restricts sort keys to plain identifiers before they are
// bound as jsonb path keys.
var sortKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Postgres stores documents as jsonb rows keyed by (collection, id).
type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

// EnsureSchema creates the documents table and index when missing.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure asset_documents schema: %w", err)
	}
	return nil
}

// Ping backs readiness checks.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *Postgres) CreateDocument(ctx context.Context, collection string, data Document) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}
	id := uuid.New()
	if _, err := s.db.Exec(ctx,
		`INSERT INTO asset_documents (collection, id, data) VALUES ($1, $2, $3::jsonb)`,
		collection, id, b,
	); err != nil {
		return "", fmt.Errorf("create %s: %w", collection, err)
	}
	return id.String(), nil
}

func (s *Postgres) UpdateDocument(ctx context.Context, collection, id string, patch Document) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, ErrNotFound)
	}
	b, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("encode patch: %w", err)
	}
	tag, err := s.db.Exec(ctx, `
UPDATE asset_documents SET data = data || $3::jsonb, updated_at = now()
WHERE collection = $1 AND id = $2`, collection, uid, b)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update %s/%s: %w", collection, id, ErrNotFound)
	}
	return nil
}

func (s *Postgres) DeleteDocument(ctx context.Context, collection, id string) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, ErrNotFound)
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM asset_documents WHERE collection = $1 AND id = $2`, collection, uid)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete %s/%s: %w", collection, id, ErrNotFound)
	}
	return nil
}

func (s *Postgres) GetDocument(ctx context.Context, collection, id string) (Document, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, ErrNotFound)
	}
	var raw []byte
	err = s.db.QueryRow(ctx,
		`SELECT data FROM asset_documents WHERE collection = $1 AND id = $2`, collection, uid,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get %s/%s: %w", collection, id, ErrNotFound)
		}
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	doc := Document{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	return doc, nil
}

func (s *Postgres) ListDocuments(ctx context.Context, collection string, q ListQuery) (Page, error) {
	offset, err := decodeCursor(q.Cursor)
	if err != nil {
		return Page{}, err
	}
	filter := q.Filter
	if filter == nil {
		filter = Document{}
	}
	fb, err := json.Marshal(filter)
	if err != nil {
		return Page{}, fmt.Errorf("encode filter: %w", err)
	}
	query, args, err := buildListQuery(collection, fb, q, offset)
	if err != nil {
		return Page{}, err
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return Page{}, fmt.Errorf("list %s: %w", collection, err)
	}
	defer rows.Close()

	size := q.pageSize()
	page := Page{Items: make([]Item, 0, size)}
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return Page{}, fmt.Errorf("scan %s: %w", collection, err)
		}
		if len(page.Items) == size {
			page.HasMore = true
			continue
		}
		doc := Document{}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return Page{}, fmt.Errorf("decode %s/%s: %w", collection, id, err)
		}
		page.Items = append(page.Items, Item{ID: id, Data: doc})
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("list %s: %w", collection, err)
	}
	if page.HasMore {
		page.NextCursor = encodeCursor(offset + size)
	}
	return page, nil
}

// buildListQuery fetches one extra row to learn whether another page exists.
func buildListQuery(collection string, filter []byte, q ListQuery, offset int) (string, []any, error) {
	args := []any{collection, filter}
	order := "seq ASC"
	if q.Sort != "" {
		if !sortKeyPattern.MatchString(q.Sort) {
			return "", nil, fmt.Errorf("invalid sort key %q", q.Sort)
		}
		dir := "ASC"
		if q.Desc {
			dir = "DESC"
		}
		args = append(args, q.Sort)
		order = fmt.Sprintf("data -> $%d %s NULLS FIRST, seq ASC", len(args), dir)
	}
	args = append(args, q.pageSize()+1, offset)
	query := fmt.Sprintf(`
SELECT id::text, data FROM asset_documents
WHERE collection = $1 AND data @> $2::jsonb
ORDER BY %s
LIMIT $%d OFFSET $%d`, order, len(args)-1, len(args))
	return query, args, nil
}
