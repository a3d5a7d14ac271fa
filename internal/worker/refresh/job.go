// Package refresh は連携アカウントのトークン更新ジョブを提供する。
//
// 期限が近いトークンをリフレッシュトークンで定期的に更新する。
// 現時点でリフレッシュトークンを発行するのはTikTokのみ。
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/socialhub/internal/linking"
	"github.com/hitoshi/socialhub/internal/metrics"
	"github.com/hitoshi/socialhub/internal/model"
	"github.com/hitoshi/socialhub/internal/repository"
)

const (
	defaultMaxConcurrency = 4
	defaultBatchSize      = 200
)

// RefresherSource は更新に対応したConnectorを提供する。linking.Registryが実装する。
type RefresherSource interface {
	Refreshers() map[model.Platform]linking.Refresher
}

// Config はJobの設定。
type Config struct {
	// Window はこの期間内に期限を迎えるトークンを更新対象とする。
	Window         time.Duration
	MaxConcurrency int
	BatchSize      int
}

// Job はトークン更新の定期実行ジョブ。
type Job struct {
	accounts repository.LinkedAccountRepository
	source   RefresherSource
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
	config   Config
	now      func() time.Time
}

// Stats はRunOnce 1回の集計。
type Stats struct {
	Refreshed int
	Revoked   int
	Retry     int
}

// NewJob はJobを生成する。MaxConcurrencyとBatchSizeが0以下の場合はデフォルト値を使う。
func NewJob(accounts repository.LinkedAccountRepository, source RefresherSource, collector metrics.MetricsCollector, logger *slog.Logger, config Config) *Job {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = defaultMaxConcurrency
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaultBatchSize
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Job{
		accounts: accounts,
		source:   source,
		metrics:  collector,
		logger:   logger,
		config:   config,
		now:      time.Now,
	}
}

// Start はintervalごとにRunOnceを実行する。起動直後にも1回実行する。
// コンテキストがキャンセルされるまで戻らない。
func (j *Job) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("トークン更新ジョブを開始しました",
		slog.Duration("interval", interval),
		slog.Duration("window", j.config.Window),
		slog.Int("max_concurrency", j.config.MaxConcurrency),
	)

	j.runLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("トークン更新ジョブを停止しました")
			return
		case <-ticker.C:
			j.runLogged(ctx)
		}
	}
}

func (j *Job) runLogged(ctx context.Context) {
	if _, err := j.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		j.logger.Error("トークン更新サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce は期限の迫った連携アカウントを取得し、並列に更新する。
func (j *Job) RunOnce(ctx context.Context) (Stats, error) {
	var stats Stats
	start := j.now()

	refreshers := j.source.Refreshers()
	if len(refreshers) == 0 {
		return stats, nil
	}
	platforms := make([]model.Platform, 0, len(refreshers))
	for p := range refreshers {
		platforms = append(platforms, p)
	}
	sort.Slice(platforms, func(a, b int) bool { return platforms[a] < platforms[b] })

	accounts, err := j.accounts.ListRefreshDue(ctx, platforms, start.Add(j.config.Window), j.config.BatchSize)
	if err != nil {
		return stats, fmt.Errorf("failed to list accounts to refresh: %w", err)
	}
	if len(accounts) == 0 {
		return stats, nil
	}

	var mu sync.Mutex
	sem := make(chan struct{}, j.config.MaxConcurrency)
	var wg sync.WaitGroup

	for _, account := range accounts {
		refresher, ok := refreshers[account.Platform]
		if !ok {
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(a *model.LinkedAccount, r linking.Refresher) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome := j.refreshOne(ctx, a, r)
			mu.Lock()
			switch outcome {
			case OutcomeRefreshed:
				stats.Refreshed++
			case OutcomeRevoked:
				stats.Revoked++
			default:
				stats.Retry++
			}
			mu.Unlock()
		}(account, refresher)
	}
	wg.Wait()

	j.logger.Info("トークン更新サイクルが完了しました",
		slog.Int("account_count", len(accounts)),
		slog.Int("refreshed", stats.Refreshed),
		slog.Int("revoked", stats.Revoked),
		slog.Int("retry", stats.Retry),
		slog.Float64("duration_ms", float64(j.now().Sub(start).Milliseconds())),
	)
	return stats, nil
}

func (j *Job) refreshOne(ctx context.Context, account *model.LinkedAccount, refresher linking.Refresher) Outcome {
	platform := string(account.Platform)
	attrs := []any{
		slog.String("account_id", account.ID),
		slog.String("platform", platform),
	}

	began := time.Now()
	grant, err := refresher.Refresh(ctx, account.RefreshToken)
	j.metrics.ObservePlatformRequest(platform, "refresh", time.Since(began))
	if err == nil && (grant == nil || grant.AccessToken == "") {
		err = linking.ErrNoAccessToken
	}

	outcome := Classify(err)
	switch outcome {
	case OutcomeRefreshed:
		ApplyGrant(account, grant)
		if saveErr := j.accounts.UpdateTokens(ctx, account); saveErr != nil {
			j.logger.Error("更新したトークンの保存に失敗しました", append(attrs, slog.String("error", saveErr.Error()))...)
			j.metrics.RecordTokenRefresh(platform, metrics.ResultFailed)
			return OutcomeRetry
		}
		j.metrics.RecordTokenRefresh(platform, metrics.ResultRefreshed)

	case OutcomeRevoked:
		j.logger.Warn("リフレッシュトークンが無効です。再連携が必要です", append(attrs, slog.String("error", err.Error()))...)
		if saveErr := j.accounts.MergeMetadata(ctx, account.ID, RevokedMetadata(err.Error(), j.now())); saveErr != nil {
			j.logger.Error("更新失敗の記録に失敗しました", append(attrs, slog.String("error", saveErr.Error()))...)
		}
		j.metrics.RecordTokenRefresh(platform, metrics.ResultRevoked)

	default:
		j.logger.Warn("トークン更新に失敗しました。次のサイクルで再試行します", append(attrs, slog.String("error", err.Error()))...)
		j.metrics.RecordTokenRefresh(platform, metrics.ResultFailed)
	}
	return outcome
}
