package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"

	"github.com/hitoshi/socialhub/internal/model"
	"github.com/hitoshi/socialhub/internal/repository"
)

const (
	seedProvider        = "seed"
	seedProviderUserID  = "demo-user"
	seedPostsPerAccount = 3
)

// seedStore はデモデータ投入に使うリポジトリ群。
type seedStore struct {
	users      repository.UserRepository
	identities repository.IdentityRepository
	accounts   repository.LinkedAccountRepository
	posts      repository.PostRepository
}

// seedSummary は投入結果の件数。
type seedSummary struct {
	UserID   string
	Accounts int
	Posts    int
}

// seedDemoData はデモユーザーと各プラットフォームの連携アカウント、予約投稿を投入する。
// デモユーザーが既に存在する場合は再利用し、連携アカウントはUPSERTされる。
func seedDemoData(ctx context.Context, store seedStore, faker *gofakeit.Faker, now time.Time) (*seedSummary, error) {
	userID, err := ensureDemoUser(ctx, store, faker, now)
	if err != nil {
		return nil, err
	}
	summary := &seedSummary{UserID: userID}

	for _, platform := range model.Platforms() {
		expires := now.Add(60 * 24 * time.Hour)
		account := &model.LinkedAccount{
			ID:                uuid.NewString(),
			OwnerID:           userID,
			Platform:          platform,
			ExternalAccountID: "seed-" + string(platform),
			DisplayName:       faker.Company(),
			AccessToken:       "seed-access-" + faker.UUID(),
			TokenExpiresAt:    &expires,
			Metadata:          model.AccountMetadata{"seeded": true},
		}
		if platform == model.PlatformTikTok {
			account.DisplayName = faker.Username()
			account.RefreshToken = "seed-refresh-" + faker.UUID()
		}

		saved, _, err := store.accounts.Upsert(ctx, account)
		if err != nil {
			return nil, fmt.Errorf("failed to seed %s account: %w", platform, err)
		}
		summary.Accounts++

		for i := 0; i < seedPostsPerAccount; i++ {
			if err := store.posts.Create(ctx, demoPost(faker, userID, saved.ID, i, now)); err != nil {
				return nil, fmt.Errorf("failed to seed post: %w", err)
			}
			summary.Posts++
		}
	}

	return summary, nil
}

func ensureDemoUser(ctx context.Context, store seedStore, faker *gofakeit.Faker, now time.Time) (string, error) {
	identity, err := store.identities.FindByProviderAndProviderUserID(ctx, seedProvider, seedProviderUserID)
	if err != nil {
		return "", fmt.Errorf("failed to find demo identity: %w", err)
	}
	if identity != nil {
		return identity.UserID, nil
	}

	user := &model.User{
		ID:        uuid.NewString(),
		Email:     faker.Email(),
		Name:      faker.Name(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	identity = &model.Identity{
		ID:             uuid.NewString(),
		UserID:         user.ID,
		Provider:       seedProvider,
		ProviderUserID: seedProviderUserID,
		CreatedAt:      now,
	}
	if err := store.users.CreateWithIdentity(ctx, user, identity); err != nil {
		return "", fmt.Errorf("failed to create demo user: %w", err)
	}
	return user.ID, nil
}

// demoPost は偶数番目を予約済み、奇数番目を下書きとした投稿を生成する。
func demoPost(faker *gofakeit.Faker, ownerID, accountID string, i int, now time.Time) *model.Post {
	p := &model.Post{
		ID:              uuid.NewString(),
		OwnerID:         ownerID,
		LinkedAccountID: accountID,
		Content:         faker.Sentence(12),
		MediaURLs:       []string{},
		Status:          model.PostStatusDraft,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if i%2 == 0 {
		at := now.Add(time.Duration(faker.Number(1, 14*24)) * time.Hour).Truncate(time.Hour)
		p.Status = model.PostStatusScheduled
		p.ScheduledFor = &at
	}
	return p
}

func logSeedSummary(summary *seedSummary) {
	slog.Info("demo data seeded",
		slog.String("user_id", summary.UserID),
		slog.Int("accounts", summary.Accounts),
		slog.Int("posts", summary.Posts),
	)
}
