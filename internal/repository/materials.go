package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/actuallystonmai/material-recommender/internal/domain"
)

const materialColumns = `id, title, author_id, price, categories, class_grades, tags, published_at`

// GetMaterials returns the catalog entries matching f, ordered by id.
func (r *Repository) GetMaterials(ctx context.Context, f domain.MaterialFilter) ([]domain.Material, error) {
	return guard(r.db, func() ([]domain.Material, error) {
		rows, err := r.pool.Query(ctx,
			`SELECT `+materialColumns+`
			FROM materials
			WHERE ($1::text = '' OR $1 = ANY(categories))
			  AND ($2::text = '' OR $2 = ANY(class_grades))
			  AND (cardinality($3::text[]) = 0 OR id = ANY($3))
			  AND NOT (id = ANY($4::text[]))
			ORDER BY id
			LIMIT NULLIF($5::int, 0)`,
			f.Category, f.Grade, nonNil(f.IDs), nonNil(f.ExcludeIDs), f.Limit,
		)
		if err != nil {
			return nil, fmt.Errorf("query materials: %w", err)
		}
		defer rows.Close()
		return scanMaterials(rows)
	})
}

func (r *Repository) GetMaterial(ctx context.Context, id string) (*domain.Material, error) {
	return guard(r.db, func() (*domain.Material, error) {
		var m domain.Material
		err := r.pool.QueryRow(ctx,
			`SELECT `+materialColumns+` FROM materials WHERE id = $1`, id,
		).Scan(&m.ID, &m.Title, &m.AuthorID, &m.Price, &m.Categories, &m.ClassGrades, &m.Tags, &m.PublishedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, domain.MaterialNotFound(id)
			}
			return nil, fmt.Errorf("query material %s: %w", id, err)
		}
		return &m, nil
	})
}

// Categories returns every category used in the catalog, sorted.
func (r *Repository) Categories(ctx context.Context) ([]string, error) {
	return guard(r.db, func() ([]string, error) {
		rows, err := r.pool.Query(ctx,
			`SELECT DISTINCT c FROM materials, unnest(categories) AS c ORDER BY c`,
		)
		if err != nil {
			return nil, fmt.Errorf("query categories: %w", err)
		}
		defer rows.Close()

		var out []string
		for rows.Next() {
			var c string
			if err := rows.Scan(&c); err != nil {
				return nil, fmt.Errorf("scan category: %w", err)
			}
			out = append(out, c)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("iterate categories: %w", err)
		}
		return out, nil
	})
}

// UpsertMaterial inserts or replaces a catalog entry.
func (r *Repository) UpsertMaterial(ctx context.Context, m domain.Material) error {
	_, err := guard(r.db, func() (struct{}, error) {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO materials (`+materialColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE SET
				title = EXCLUDED.title,
				author_id = EXCLUDED.author_id,
				price = EXCLUDED.price,
				categories = EXCLUDED.categories,
				class_grades = EXCLUDED.class_grades,
				tags = EXCLUDED.tags,
				published_at = EXCLUDED.published_at`,
			m.ID, m.Title, m.AuthorID, m.Price, nonNil(m.Categories), nonNil(m.ClassGrades), nonNil(m.Tags), m.PublishedAt,
		)
		if err != nil {
			return struct{}{}, fmt.Errorf("upsert material %s: %w", m.ID, err)
		}
		return struct{}{}, nil
	})
	return err
}

func scanMaterials(rows pgx.Rows) ([]domain.Material, error) {
	var items []domain.Material
	for rows.Next() {
		var m domain.Material
		if err := rows.Scan(&m.ID, &m.Title, &m.AuthorID, &m.Price, &m.Categories, &m.ClassGrades, &m.Tags, &m.PublishedAt); err != nil {
			return nil, fmt.Errorf("scan material: %w", err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate over materials: %w", err)
	}
	return items, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
