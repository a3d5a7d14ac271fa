package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/socialhub/internal/model"
)

// linkedAccountColumns はSELECT時の列順。scanLinkedAccountと対応する。
const linkedAccountColumns = `id, owner_id, platform, external_account_id, display_name,
	access_token, refresh_token, token_expires_at, refresh_expires_at,
	metadata, linked_at, updated_at`

// PostgresLinkedAccountRepo はPostgreSQLを使用した連携アカウントリポジトリ。
type PostgresLinkedAccountRepo struct {
	db     *sql.DB
	sealer TokenSealer
}

// NewPostgresLinkedAccountRepo はPostgresLinkedAccountRepoを生成する。
func NewPostgresLinkedAccountRepo(db *sql.DB, sealer TokenSealer) *PostgresLinkedAccountRepo {
	return &PostgresLinkedAccountRepo{db: db, sealer: sealer}
}

// Upsert は連携アカウントをUPSERTする。再連携時はrefresh_errorを取り除く。
// xmax = 0 は当該トランザクションで新規挿入された行を意味する。
func (r *PostgresLinkedAccountRepo) Upsert(ctx context.Context, account *model.LinkedAccount) (*model.LinkedAccount, bool, error) {
	access, refresh, err := r.sealTokens(account)
	if err != nil {
		return nil, false, err
	}
	meta, err := encodeMetadata(account.Metadata)
	if err != nil {
		return nil, false, err
	}

	now := time.Now()
	saved := *account
	var inserted bool
	var metaRaw []byte
	err = r.db.QueryRowContext(ctx,
		`INSERT INTO linked_accounts
		   (id, owner_id, platform, external_account_id, display_name,
		    access_token, refresh_token, token_expires_at, refresh_expires_at,
		    metadata, linked_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, $11, $11)
		 ON CONFLICT (owner_id, platform, external_account_id) DO UPDATE SET
		   display_name = EXCLUDED.display_name,
		   access_token = EXCLUDED.access_token,
		   refresh_token = EXCLUDED.refresh_token,
		   token_expires_at = EXCLUDED.token_expires_at,
		   refresh_expires_at = EXCLUDED.refresh_expires_at,
		   metadata = (linked_accounts.metadata - 'refresh_error') || EXCLUDED.metadata,
		   updated_at = EXCLUDED.updated_at
		 RETURNING id, metadata, linked_at, updated_at, (xmax = 0)`,
		account.ID, account.OwnerID, string(account.Platform), account.ExternalAccountID, account.DisplayName,
		access, refresh, nullTime(account.TokenExpiresAt), nullTime(account.RefreshExpiresAt),
		meta, now,
	).Scan(&saved.ID, &metaRaw, &saved.LinkedAt, &saved.UpdatedAt, &inserted)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert linked account: %w", err)
	}

	saved.Metadata, err = decodeMetadata(metaRaw)
	if err != nil {
		return nil, false, err
	}
	return &saved, inserted, nil
}

// FindByID は所有者が一致する連携アカウントを取得する。見つからない場合はnilを返す。
func (r *PostgresLinkedAccountRepo) FindByID(ctx context.Context, ownerID, id string) (*model.LinkedAccount, error) {
	if !validID(id) {
		return nil, nil
	}
	row := r.db.QueryRowContext(ctx,
		`SELECT `+linkedAccountColumns+`
		 FROM linked_accounts
		 WHERE id = $1 AND owner_id = $2`,
		id, ownerID,
	)
	account, err := r.scanLinkedAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find linked account: %w", err)
	}
	return account, nil
}

// ListByOwner は所有者の連携アカウント一覧を返す。
func (r *PostgresLinkedAccountRepo) ListByOwner(ctx context.Context, ownerID string) ([]*model.LinkedAccount, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+linkedAccountColumns+`
		 FROM linked_accounts
		 WHERE owner_id = $1
		 ORDER BY platform, display_name, id`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list linked accounts: %w", err)
	}
	defer rows.Close()

	return r.collect(rows)
}

// DeleteByIDAndOwner は所有者が一致する連携アカウントを削除する。
// 紐づく投稿はCASCADE削除される。
func (r *PostgresLinkedAccountRepo) DeleteByIDAndOwner(ctx context.Context, id, ownerID string) (bool, error) {
	if !validID(id) {
		return false, nil
	}
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM linked_accounts WHERE id = $1 AND owner_id = $2`,
		id, ownerID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete linked account: %w", err)
	}
	n, err := affectedRows(result)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListRefreshDue はトークン期限が迫った連携アカウントを期限の早い順に取得する。
func (r *PostgresLinkedAccountRepo) ListRefreshDue(ctx context.Context, platforms []model.Platform, before time.Time, limit int) ([]*model.LinkedAccount, error) {
	names := make([]string, len(platforms))
	for i, p := range platforms {
		names[i] = string(p)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+linkedAccountColumns+`
		 FROM linked_accounts
		 WHERE platform = ANY($1)
		   AND refresh_token IS NOT NULL
		   AND token_expires_at IS NOT NULL
		   AND token_expires_at < $2
		   AND (refresh_expires_at IS NULL OR refresh_expires_at > now())
		   AND NOT (metadata ? 'refresh_error')
		 ORDER BY token_expires_at ASC
		 LIMIT $3`,
		pq.Array(names), before, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list refresh due accounts: %w", err)
	}
	defer rows.Close()

	return r.collect(rows)
}

// UpdateTokens はトークン更新結果を保存し、metadataのrefresh_errorを取り除く。
func (r *PostgresLinkedAccountRepo) UpdateTokens(ctx context.Context, account *model.LinkedAccount) error {
	access, refresh, err := r.sealTokens(account)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE linked_accounts
		 SET access_token = $2, refresh_token = $3,
		     token_expires_at = $4, refresh_expires_at = $5,
		     metadata = metadata - 'refresh_error',
		     updated_at = now()
		 WHERE id = $1`,
		account.ID, access, refresh,
		nullTime(account.TokenExpiresAt), nullTime(account.RefreshExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("failed to update tokens: %w", err)
	}
	n, err := affectedRows(result)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("linked account %s: %w", account.ID, ErrNotFound)
	}
	return nil
}

// MergeMetadata はmetadataにキーを追加・上書きする。
func (r *PostgresLinkedAccountRepo) MergeMetadata(ctx context.Context, id string, metadata model.AccountMetadata) error {
	meta, err := encodeMetadata(metadata)
	if err != nil {
		return err
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE linked_accounts SET metadata = metadata || $2::jsonb, updated_at = now() WHERE id = $1`,
		id, meta,
	)
	if err != nil {
		return fmt.Errorf("failed to merge metadata: %w", err)
	}
	n, err := affectedRows(result)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("linked account %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *PostgresLinkedAccountRepo) sealTokens(account *model.LinkedAccount) (string, sql.NullString, error) {
	access, err := r.sealer.Seal(account.AccessToken)
	if err != nil {
		return "", sql.NullString{}, fmt.Errorf("failed to seal access token: %w", err)
	}
	if !account.HasRefreshToken() {
		return access, sql.NullString{}, nil
	}
	refresh, err := r.sealer.Seal(account.RefreshToken)
	if err != nil {
		return "", sql.NullString{}, fmt.Errorf("failed to seal refresh token: %w", err)
	}
	return access, sql.NullString{String: refresh, Valid: true}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *PostgresLinkedAccountRepo) scanLinkedAccount(row rowScanner) (*model.LinkedAccount, error) {
	var (
		a                           model.LinkedAccount
		platform                    string
		access                      string
		refresh                     sql.NullString
		tokenExpires, refreshExpiry sql.NullTime
		metaRaw                     []byte
	)
	if err := row.Scan(
		&a.ID, &a.OwnerID, &platform, &a.ExternalAccountID, &a.DisplayName,
		&access, &refresh, &tokenExpires, &refreshExpiry,
		&metaRaw, &a.LinkedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}

	a.Platform = model.Platform(platform)
	a.TokenExpiresAt = timePtr(tokenExpires)
	a.RefreshExpiresAt = timePtr(refreshExpiry)

	var err error
	if a.AccessToken, err = r.sealer.Open(access); err != nil {
		return nil, fmt.Errorf("failed to open access token of %s: %w", a.ID, err)
	}
	if refresh.Valid {
		if a.RefreshToken, err = r.sealer.Open(refresh.String); err != nil {
			return nil, fmt.Errorf("failed to open refresh token of %s: %w", a.ID, err)
		}
	}
	if a.Metadata, err = decodeMetadata(metaRaw); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *PostgresLinkedAccountRepo) collect(rows *sql.Rows) ([]*model.LinkedAccount, error) {
	var accounts []*model.LinkedAccount
	for rows.Next() {
		a, err := r.scanLinkedAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan linked account: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate linked accounts: %w", err)
	}
	return accounts, nil
}

// encodeMetadata はjsonb列へ渡すJSON文字列を返す。
// lib/pqは[]byteをbyteaとして送るため文字列で渡す。
func encodeMetadata(m model.AccountMetadata) (string, error) {
	if m == nil {
		return `{}`, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	return string(b), nil
}

func decodeMetadata(raw []byte) (model.AccountMetadata, error) {
	m := model.AccountMetadata{}
	if len(raw) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return m, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

// compile-time interface check
var _ LinkedAccountRepository = (*PostgresLinkedAccountRepo)(nil)
