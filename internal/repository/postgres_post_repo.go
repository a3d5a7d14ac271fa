package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/socialhub/internal/model"
)

// PostgresPostRepo はPostgreSQLを使用した投稿リポジトリ。
type PostgresPostRepo struct {
	db *sql.DB
}

// NewPostgresPostRepo はPostgresPostRepoを生成する。
func NewPostgresPostRepo(db *sql.DB) *PostgresPostRepo {
	return &PostgresPostRepo{db: db}
}

// Create は投稿を作成する。
func (r *PostgresPostRepo) Create(ctx context.Context, post *model.Post) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO posts (id, owner_id, linked_account_id, content, media_urls, status,
		                    scheduled_for, published_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		post.ID, post.OwnerID, post.LinkedAccountID, post.Content, pq.Array(mediaOrEmpty(post.MediaURLs)),
		string(post.Status), nullTime(post.ScheduledFor), nullTime(post.PublishedAt),
		post.CreatedAt, post.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert post: %w", err)
	}
	return nil
}

// FindByID は所有者が一致する投稿を取得する。見つからない場合はnilを返す。
func (r *PostgresPostRepo) FindByID(ctx context.Context, ownerID, id string) (*model.Post, error) {
	if !validID(id) {
		return nil, nil
	}
	var (
		p                       model.Post
		status                  string
		scheduledFor, published sql.NullTime
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, owner_id, linked_account_id, content, media_urls, status,
		        scheduled_for, published_at, created_at, updated_at
		 FROM posts
		 WHERE id = $1 AND owner_id = $2`,
		id, ownerID,
	).Scan(&p.ID, &p.OwnerID, &p.LinkedAccountID, &p.Content, pq.Array(&p.MediaURLs), &status,
		&scheduledFor, &published, &p.CreatedAt, &p.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find post: %w", err)
	}

	p.Status = model.PostStatus(status)
	p.ScheduledFor = timePtr(scheduledFor)
	p.PublishedAt = timePtr(published)
	return &p, nil
}

// ListByOwner は所有者の投稿を連携アカウント情報付きで返す。
func (r *PostgresPostRepo) ListByOwner(ctx context.Context, ownerID string, from, to time.Time) ([]model.PostWithAccount, error) {
	query, args := buildPostListQuery(ownerID, from, to)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	defer rows.Close()

	var posts []model.PostWithAccount
	for rows.Next() {
		var (
			pa                      model.PostWithAccount
			status, platform        string
			scheduledFor, published sql.NullTime
		)
		if err := rows.Scan(&pa.ID, &pa.OwnerID, &pa.LinkedAccountID, &pa.Content, pq.Array(&pa.MediaURLs), &status,
			&scheduledFor, &published, &pa.CreatedAt, &pa.UpdatedAt, &platform, &pa.AccountName); err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		pa.Status = model.PostStatus(status)
		pa.Platform = model.Platform(platform)
		pa.ScheduledFor = timePtr(scheduledFor)
		pa.PublishedAt = timePtr(published)
		posts = append(posts, pa)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate posts: %w", err)
	}
	return posts, nil
}

// buildPostListQuery は期間指定の有無に応じた一覧クエリを組み立てる。
func buildPostListQuery(ownerID string, from, to time.Time) (string, []any) {
	var b strings.Builder
	b.WriteString(`SELECT p.id, p.owner_id, p.linked_account_id, p.content, p.media_urls, p.status,
	        p.scheduled_for, p.published_at, p.created_at, p.updated_at,
	        la.platform, la.display_name
	 FROM posts p
	 JOIN linked_accounts la ON la.id = p.linked_account_id
	 WHERE p.owner_id = $1`)
	args := []any{ownerID}

	if !from.IsZero() {
		args = append(args, from)
		fmt.Fprintf(&b, " AND COALESCE(p.scheduled_for, p.created_at) >= $%d", len(args))
	}
	if !to.IsZero() {
		args = append(args, to)
		fmt.Fprintf(&b, " AND COALESCE(p.scheduled_for, p.created_at) < $%d", len(args))
	}
	b.WriteString(" ORDER BY COALESCE(p.scheduled_for, p.created_at) ASC, p.id")
	return b.String(), args
}

// Update は投稿の本文・メディア・状態・日時を更新する。
func (r *PostgresPostRepo) Update(ctx context.Context, post *model.Post) error {
	if !validID(post.ID) {
		return fmt.Errorf("post %s: %w", post.ID, ErrNotFound)
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE posts
		 SET content = $3, media_urls = $4, status = $5,
		     scheduled_for = $6, published_at = $7, updated_at = $8
		 WHERE id = $1 AND owner_id = $2`,
		post.ID, post.OwnerID, post.Content, pq.Array(mediaOrEmpty(post.MediaURLs)), string(post.Status),
		nullTime(post.ScheduledFor), nullTime(post.PublishedAt), post.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update post: %w", err)
	}
	n, err := affectedRows(result)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("post %s: %w", post.ID, ErrNotFound)
	}
	return nil
}

// DeleteByIDAndOwner は所有者が一致する投稿を削除する。
func (r *PostgresPostRepo) DeleteByIDAndOwner(ctx context.Context, id, ownerID string) (bool, error) {
	if !validID(id) {
		return false, nil
	}
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM posts WHERE id = $1 AND owner_id = $2`,
		id, ownerID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete post: %w", err)
	}
	n, err := affectedRows(result)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// mediaOrEmpty はNULLではなく空配列として保存するための変換。
func mediaOrEmpty(urls []string) []string {
	if urls == nil {
		return []string{}
	}
	return urls
}

// compile-time interface check
var _ PostRepository = (*PostgresPostRepo)(nil)
