// Package post は予約投稿のドメインロジックを提供する。
//
// 投稿は連携アカウントに紐づき、draft → scheduled → published/failed の状態を持つ。
// 実際のプラットフォームへの公開は行わない。
package post

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/socialhub/internal/model"
	"github.com/hitoshi/socialhub/internal/repository"
)

// maxMediaURLs は1投稿に添付できるメディアの上限。
const maxMediaURLs = 10

// Sanitizer は投稿本文を平文化する。
type Sanitizer interface {
	Sanitize(raw string) string
}

// MediaValidator はメディアURLを検証する。
type MediaValidator interface {
	Validate(ctx context.Context, rawURL string) error
}

// CreateInput は投稿作成の入力。
type CreateInput struct {
	LinkedAccountID string
	Content         string
	MediaURLs       []string
	// Status はdraftまたはscheduled。空の場合はdraft。
	Status       model.PostStatus
	ScheduledFor *time.Time
}

// UpdateInput は投稿更新の入力。nilのフィールドは変更しない。
type UpdateInput struct {
	Content      *string
	MediaURLs    *[]string
	Status       *model.PostStatus
	ScheduledFor *time.Time
}

// Service は予約投稿のサービス層。
type Service struct {
	posts     repository.PostRepository
	accounts  repository.LinkedAccountRepository
	sanitizer Sanitizer
	media     MediaValidator
	newID     func() string
	now       func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	posts repository.PostRepository,
	accounts repository.LinkedAccountRepository,
	sanitizer Sanitizer,
	media MediaValidator,
) *Service {
	return &Service{
		posts:     posts,
		accounts:  accounts,
		sanitizer: sanitizer,
		media:     media,
		newID:     uuid.NewString,
		now:       time.Now,
	}
}

// Create は投稿を作成する。連携アカウントは呼び出し元の所有である必要がある。
func (s *Service) Create(ctx context.Context, ownerID string, in CreateInput) (*model.Post, error) {
	content := s.sanitizer.Sanitize(in.Content)
	if content == "" {
		return nil, model.NewEmptyContentError()
	}

	status := in.Status
	if status == "" {
		status = model.PostStatusDraft
	}
	if status != model.PostStatusDraft && status != model.PostStatusScheduled {
		return nil, model.NewInvalidPostStatusError(model.PostStatusDraft, status)
	}

	now := s.now()
	if status == model.PostStatusScheduled {
		if err := validateSchedule(in.ScheduledFor, now); err != nil {
			return nil, err
		}
	}

	account, err := s.accounts.FindByID(ctx, ownerID, in.LinkedAccountID)
	if err != nil {
		return nil, fmt.Errorf("連携アカウントの取得に失敗しました: %w", err)
	}
	if account == nil {
		return nil, model.NewAccountNotFoundError(in.LinkedAccountID)
	}

	media, err := s.validateMedia(ctx, in.MediaURLs)
	if err != nil {
		return nil, err
	}

	p := &model.Post{
		ID:              s.newID(),
		OwnerID:         ownerID,
		LinkedAccountID: account.ID,
		Content:         content,
		MediaURLs:       media,
		Status:          status,
		ScheduledFor:    utcPtr(in.ScheduledFor),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.posts.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("投稿の作成に失敗しました: %w", err)
	}
	return p, nil
}

// List は期間内の投稿を連携アカウント情報付きで返す。from/toはゼロ値なら無制限。
func (s *Service) List(ctx context.Context, ownerID string, from, to time.Time) ([]model.PostWithAccount, error) {
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		return nil, model.NewInvalidScheduleError("from は to より前である必要があります")
	}
	posts, err := s.posts.ListByOwner(ctx, ownerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("投稿一覧の取得に失敗しました: %w", err)
	}
	return posts, nil
}

// Update は投稿を更新する。状態遷移は model.PostStatus.CanTransitionTo に従う。
func (s *Service) Update(ctx context.Context, ownerID, postID string, in UpdateInput) (*model.Post, error) {
	p, err := s.posts.FindByID(ctx, ownerID, postID)
	if err != nil {
		return nil, fmt.Errorf("投稿の取得に失敗しました: %w", err)
	}
	if p == nil {
		return nil, model.NewPostNotFoundError(postID)
	}

	now := s.now()

	if in.Content != nil {
		content := s.sanitizer.Sanitize(*in.Content)
		if content == "" {
			return nil, model.NewEmptyContentError()
		}
		p.Content = content
	}
	if in.MediaURLs != nil {
		media, err := s.validateMedia(ctx, *in.MediaURLs)
		if err != nil {
			return nil, err
		}
		p.MediaURLs = media
	}
	if in.ScheduledFor != nil {
		p.ScheduledFor = utcPtr(in.ScheduledFor)
	}

	next := p.Status
	if in.Status != nil {
		next = *in.Status
		if !next.Valid() || !p.Status.CanTransitionTo(next) {
			return nil, model.NewInvalidPostStatusError(p.Status, next)
		}
	}
	if next == model.PostStatusScheduled && (in.ScheduledFor != nil || p.Status != model.PostStatusScheduled) {
		if err := validateSchedule(p.ScheduledFor, now); err != nil {
			return nil, err
		}
	}
	if next == model.PostStatusPublished && p.PublishedAt == nil {
		published := now.UTC()
		p.PublishedAt = &published
	}
	p.Status = next
	p.UpdatedAt = now

	if err := s.posts.Update(ctx, p); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewPostNotFoundError(postID)
		}
		return nil, fmt.Errorf("投稿の更新に失敗しました: %w", err)
	}
	return p, nil
}

// Delete は所有者が一致する投稿を削除する。存在しない場合もエラーにしない。
func (s *Service) Delete(ctx context.Context, ownerID, postID string) error {
	if _, err := s.posts.DeleteByIDAndOwner(ctx, postID, ownerID); err != nil {
		return fmt.Errorf("投稿の削除に失敗しました: %w", err)
	}
	return nil
}

func (s *Service) validateMedia(ctx context.Context, urls []string) ([]string, error) {
	if len(urls) > maxMediaURLs {
		return nil, model.NewInvalidMediaURLError(fmt.Sprintf("%d件を超えるメディアは添付できません", maxMediaURLs))
	}
	media := make([]string, 0, len(urls))
	for _, u := range urls {
		if err := s.media.Validate(ctx, u); err != nil {
			return nil, model.NewInvalidMediaURLError(u)
		}
		media = append(media, u)
	}
	return media, nil
}

func validateSchedule(at *time.Time, now time.Time) error {
	if at == nil {
		return model.NewInvalidScheduleError("scheduled には scheduled_for が必要です")
	}
	if !at.After(now) {
		return model.NewInvalidScheduleError("過去の日時は指定できません")
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
