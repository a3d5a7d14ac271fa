package linking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/socialhub/internal/metrics"
	"github.com/hitoshi/socialhub/internal/model"
	"github.com/hitoshi/socialhub/internal/repository"
)

// MetadataKeyGrantedScope は連携時に許可された権限を記録するmetadataのキー。
const MetadataKeyGrantedScope = "granted_scope"

// Sanitizer は外部から取得した表示名を平文化する。
type Sanitizer interface {
	Sanitize(raw string) string
}

// EntityResult は連携対象1件の保存結果。
type EntityResult struct {
	ExternalAccountID string
	DisplayName       string
	// AccountID は保存された連携アカウントのID。失敗時は空。
	AccountID string
	Inserted  bool
	Err       error
}

// OK は保存に成功したかを返す。
func (r EntityResult) OK() bool {
	return r.Err == nil
}

// Result は連携フロー1回の結果。
type Result struct {
	Platform model.Platform
	Entities []EntityResult
}

// Saved は保存に成功した件数を返す。
func (r *Result) Saved() int {
	n := 0
	for _, e := range r.Entities {
		if e.OK() {
			n++
		}
	}
	return n
}

// Failed は保存に失敗した件数を返す。
func (r *Result) Failed() int {
	return len(r.Entities) - r.Saved()
}

// Service はアカウント連携のビジネスロジックを提供する。
type Service struct {
	registry  *Registry
	accounts  repository.LinkedAccountRepository
	sanitizer Sanitizer
	metrics   metrics.MetricsCollector
	newID     func() string
}

// NewService はServiceを生成する。collectorがnilの場合はメトリクスを記録しない。
func NewService(registry *Registry, accounts repository.LinkedAccountRepository, sanitizer Sanitizer, collector metrics.MetricsCollector) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		registry:  registry,
		accounts:  accounts,
		sanitizer: sanitizer,
		metrics:   collector,
		newID:     uuid.NewString,
	}
}

// AuthCodeURL は連携開始時のリダイレクト先を返す。
func (s *Service) AuthCodeURL(platform model.Platform, state string) (string, error) {
	conn, err := s.connector(platform)
	if err != nil {
		return "", err
	}
	return conn.AuthCodeURL(state), nil
}

// Link は認可コードを交換し、見つかった連携対象を保存する。
// 失敗時は*LinkErrorを返す。保存が1件も成功しなかった場合もResultを返す。
func (s *Service) Link(ctx context.Context, ownerID string, platform model.Platform, code string) (*Result, error) {
	result, err := s.link(ctx, ownerID, platform, code)
	s.recordAttempt(platform, result, err)
	return result, err
}

func (s *Service) link(ctx context.Context, ownerID string, platform model.Platform, code string) (*Result, error) {
	if ownerID == "" {
		return nil, linkError(CodeNotAuthenticated, nil)
	}
	if code == "" {
		return nil, linkError(CodeNoCode, nil)
	}

	conn, err := s.connector(platform)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	grant, err := conn.Exchange(ctx, code)
	s.metrics.ObservePlatformRequest(string(platform), "exchange", time.Since(start))
	if err != nil {
		return nil, linkError(CodeUnknown, err)
	}

	return s.discoverAndPersist(ctx, ownerID, conn, grant)
}

// LinkWithFacebookToken はクライアント側SDKで取得した短期トークンからページを連携する。
func (s *Service) LinkWithFacebookToken(ctx context.Context, ownerID, shortLivedToken string) (*Result, error) {
	result, err := s.linkWithFacebookToken(ctx, ownerID, shortLivedToken)
	s.recordAttempt(model.PlatformFacebook, result, err)
	return result, err
}

func (s *Service) linkWithFacebookToken(ctx context.Context, ownerID, shortLivedToken string) (*Result, error) {
	if ownerID == "" {
		return nil, linkError(CodeNotAuthenticated, nil)
	}
	if shortLivedToken == "" {
		return nil, linkError(CodeNoCode, errors.New("access token is empty"))
	}

	conn, err := s.connector(model.PlatformFacebook)
	if err != nil {
		return nil, err
	}
	exchanger, ok := conn.(LongLivedExchanger)
	if !ok {
		return nil, linkError(CodePlatformUnavailable, errors.New("connector cannot exchange long-lived tokens"))
	}

	start := time.Now()
	grant, err := exchanger.ExchangeLongLived(ctx, shortLivedToken)
	s.metrics.ObservePlatformRequest(string(model.PlatformFacebook), "exchange", time.Since(start))
	if err != nil {
		return nil, linkError(CodeUnknown, err)
	}

	return s.discoverAndPersist(ctx, ownerID, conn, grant)
}

func (s *Service) discoverAndPersist(ctx context.Context, ownerID string, conn Connector, grant *Grant) (*Result, error) {
	platform := conn.Platform()
	if grant == nil || grant.AccessToken == "" {
		return nil, linkError(CodeUnknown, ErrNoAccessToken)
	}

	start := time.Now()
	entities, err := conn.Discover(ctx, grant)
	s.metrics.ObservePlatformRequest(string(platform), "discover", time.Since(start))
	if err != nil {
		return nil, linkError(CodeUnknown, err)
	}
	if len(entities) == 0 {
		return nil, linkError(noEntitiesCode(platform), nil)
	}

	result := &Result{Platform: platform, Entities: make([]EntityResult, 0, len(entities))}
	var errs []error
	for _, entity := range entities {
		if grant.Scope != "" {
			entity.Metadata = entity.Metadata.Merge(model.AccountMetadata{MetadataKeyGrantedScope: grant.Scope})
		}
		entityResult := s.persist(ctx, ownerID, platform, entity)
		if entityResult.Err != nil {
			errs = append(errs, entityResult.Err)
		}
		result.Entities = append(result.Entities, entityResult)
	}

	if result.Saved() == 0 {
		return result, linkError(CodeStorageFailed, errors.Join(errs...))
	}
	return result, nil
}

// persist は連携対象1件を保存する。失敗しても他の連携対象の保存は続ける。
func (s *Service) persist(ctx context.Context, ownerID string, platform model.Platform, entity Entity) EntityResult {
	name := s.sanitizer.Sanitize(entity.DisplayName)
	if name == "" {
		name = entity.ExternalID
	}
	name = truncateRunes(name, model.MaxDisplayNameLength)
	result := EntityResult{ExternalAccountID: entity.ExternalID, DisplayName: name}

	saved, inserted, err := s.accounts.Upsert(ctx, &model.LinkedAccount{
		ID:                s.newID(),
		OwnerID:           ownerID,
		Platform:          platform,
		ExternalAccountID: entity.ExternalID,
		DisplayName:       name,
		AccessToken:       entity.AccessToken,
		RefreshToken:      entity.RefreshToken,
		TokenExpiresAt:    entity.TokenExpiresAt,
		RefreshExpiresAt:  entity.RefreshExpiresAt,
		Metadata:          entity.Metadata,
	})
	if err != nil {
		slog.Error("failed to save linked account",
			slog.String("owner_id", ownerID),
			slog.String("platform", string(platform)),
			slog.String("external_account_id", entity.ExternalID),
			slog.String("error", err.Error()),
		)
		s.metrics.RecordLinkedEntity(string(platform), metrics.ResultFailed)
		result.Err = fmt.Errorf("failed to save %s: %w", entity.ExternalID, err)
		return result
	}

	result.AccountID = saved.ID
	result.Inserted = inserted
	if inserted {
		s.metrics.RecordLinkedEntity(string(platform), metrics.ResultInserted)
	} else {
		s.metrics.RecordLinkedEntity(string(platform), metrics.ResultUpdated)
	}
	return result
}

// ListAccounts は所有者の連携アカウント一覧を返す。
func (s *Service) ListAccounts(ctx context.Context, ownerID string) ([]*model.LinkedAccount, error) {
	accounts, err := s.accounts.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list linked accounts: %w", err)
	}
	return accounts, nil
}

// Disconnect は所有者が一致する連携アカウントを削除する。
// 存在しない・他人のアカウントの場合もエラーにはしない。削除した場合はtrueを返す。
func (s *Service) Disconnect(ctx context.Context, ownerID, accountID string) (bool, error) {
	deleted, err := s.accounts.DeleteByIDAndOwner(ctx, accountID, ownerID)
	if err != nil {
		return false, fmt.Errorf("failed to disconnect account: %w", err)
	}
	return deleted, nil
}

// Platforms はConnectorの状態一覧を返す。
func (s *Service) Platforms() []PlatformStatus {
	return s.registry.Statuses()
}

func (s *Service) connector(platform model.Platform) (Connector, error) {
	conn, err := s.registry.Get(platform)
	if err == nil {
		return conn, nil
	}
	if errors.Is(err, ErrPlatformUnavailable) {
		return nil, linkError(CodePlatformUnavailable, err)
	}
	return nil, linkError(CodeUnknown, err)
}

func (s *Service) recordAttempt(platform model.Platform, result *Result, err error) {
	outcome := metrics.OutcomeSuccess
	switch {
	case err != nil:
		outcome = string(CodeOf(err))
	case result.Failed() > 0:
		outcome = metrics.OutcomePartial
	}
	s.metrics.RecordLinkAttempt(string(platform), outcome)
}

func noEntitiesCode(platform model.Platform) ErrorCode {
	if platform == model.PlatformFacebook {
		return CodeNoPages
	}
	return CodeNoProfile
}

// truncateRunes はsを先頭からn文字（rune単位）に切り詰める。
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
