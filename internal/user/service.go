// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/socialhub/internal/model"
	"github.com/hitoshi/socialhub/internal/repository"
)

// AccountRemover は連携アカウントの列挙と削除のインターフェース。
// repository.LinkedAccountRepositoryの部分集合。
type AccountRemover interface {
	ListByOwner(ctx context.Context, ownerID string) ([]*model.LinkedAccount, error)
	DeleteByIDAndOwner(ctx context.Context, id, ownerID string) (bool, error)
}

// Service はユーザー管理のサービス層。
// 退会処理のビジネスロジックを提供する。
type Service struct {
	userRepo repository.UserRepository
	accounts AccountRemover
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(userRepo repository.UserRepository, accounts AccountRemover) *Service {
	return &Service{
		userRepo: userRepo,
		accounts: accounts,
	}
}

// Withdraw はユーザーの退会処理を実行する。
// 連携アカウント（保存済みトークン）を先に削除し、続けてユーザーを削除する。
// identities、sessions、postsはユーザー削除時にCASCADE削除される。
func (s *Service) Withdraw(ctx context.Context, userID string) error {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	slog.Info("退会処理を開始します",
		slog.String("user_id", userID),
	)

	removed, err := s.removeLinkedAccounts(ctx, userID)
	if err != nil {
		return err
	}

	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	slog.Info("退会処理が完了しました",
		slog.String("user_id", userID),
		slog.Int("linked_accounts_removed", removed),
	)

	return nil
}

func (s *Service) removeLinkedAccounts(ctx context.Context, userID string) (int, error) {
	if s.accounts == nil {
		return 0, nil
	}

	accounts, err := s.accounts.ListByOwner(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("連携アカウントの取得に失敗しました: %w", err)
	}

	removed := 0
	for _, a := range accounts {
		deleted, err := s.accounts.DeleteByIDAndOwner(ctx, a.ID, userID)
		if err != nil {
			return removed, fmt.Errorf("連携アカウントの削除に失敗しました: %w", err)
		}
		if deleted {
			removed++
		}
	}
	return removed, nil
}
