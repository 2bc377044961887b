package content

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrArticleNotFound is returned when an article id does not resolve.
var ErrArticleNotFound = errors.New("article not found")

// Article is a published content entity inside the portal's topic hierarchy.
type Article struct {
	ArticleID   string    `db:"article_id" json:"article_id"`
	TopicID     int64     `db:"topic_id" json:"topic_id"`
	Slug        string    `db:"slug" json:"slug"`
	Title       string    `db:"title" json:"title"`
	Body        string    `db:"body" json:"body"`
	SourceJobID *string   `db:"source_job_id" json:"source_job_id,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Store reads articles; writes go through the publish transaction owned by
// the queue storage so an article and its source job commit together.
type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// GetByID fetches a single article.
func (s *Store) GetByID(ctx context.Context, articleID string) (*Article, error) {
	const query = `
		SELECT article_id, topic_id, slug, title, body, source_job_id, created_at, updated_at
		FROM articles
		WHERE article_id = $1
	`

	var a Article
	if err := s.db.GetContext(ctx, &a, query, articleID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrArticleNotFound
		}
		return nil, fmt.Errorf("failed to get article: %w", err)
	}
	return &a, nil
}

// ListByTopic returns articles under one topic, newest first.
func (s *Store) ListByTopic(ctx context.Context, topicID int64, limit int) ([]Article, error) {
	const query = `
		SELECT article_id, topic_id, slug, title, body, source_job_id, created_at, updated_at
		FROM articles
		WHERE topic_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	var articles []Article
	if err := s.db.SelectContext(ctx, &articles, query, topicID, limit); err != nil {
		return nil, fmt.Errorf("failed to list articles: %w", err)
	}
	return articles, nil
}
