package linking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hitoshi/socialhub/internal/model"
)

// State はConnectorのライフサイクル状態。
type State string

const (
	StateUnloaded State = "unloaded"
	StateLoading  State = "loading"
	StateReady    State = "ready"
	StateError    State = "error"
)

var (
	// ErrUnsupportedPlatform は登録されていないプラットフォームを指定した場合に返される。
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	// ErrPlatformUnavailable はConnectorがready状態でない場合に返される。
	ErrPlatformUnavailable = errors.New("platform unavailable")
)

// Loader はConnectorを初期化する。設定不足などで使えない場合はエラーを返す。
type Loader func(ctx context.Context) (Connector, error)

// PlatformStatus はプラットフォームごとの状態。
type PlatformStatus struct {
	Platform model.Platform
	State    State
	Error    string
}

type registryEntry struct {
	loader    Loader
	state     State
	connector Connector
	err       error
}

// Registry はプラットフォームごとのConnectorを保持する。
// ready状態のConnectorのみがGetで取り出せる。
type Registry struct {
	mu      sync.RWMutex
	order   []model.Platform
	entries map[model.Platform]*registryEntry
}

// NewRegistry は空のRegistryを生成する。
func NewRegistry() *Registry {
	return &Registry{entries: make(map[model.Platform]*registryEntry)}
}

// Register はLoaderをunloaded状態で登録する。同じプラットフォームの再登録は上書きする。
func (r *Registry) Register(platform model.Platform, loader Loader) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[platform]; !ok {
		r.order = append(r.order, platform)
	}
	r.entries[platform] = &registryEntry{loader: loader, state: StateUnloaded}
}

// LoadAll はready以外のConnectorを順に初期化する。
// 失敗したプラットフォームはerror状態になり、他のプラットフォームには影響しない。
func (r *Registry) LoadAll(ctx context.Context) {
	r.mu.RLock()
	platforms := append([]model.Platform(nil), r.order...)
	r.mu.RUnlock()

	for _, platform := range platforms {
		if err := r.Load(ctx, platform); err != nil {
			slog.Warn("platform connector unavailable",
				slog.String("platform", string(platform)),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Load は指定プラットフォームのConnectorを初期化する。
// 既にready、または他のゴルーチンがloading中であれば何もしない。
func (r *Registry) Load(ctx context.Context, platform model.Platform) error {
	r.mu.Lock()
	entry, ok := r.entries[platform]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%s: %w", platform, ErrUnsupportedPlatform)
	}
	if entry.state == StateReady || entry.state == StateLoading {
		r.mu.Unlock()
		return nil
	}
	entry.state = StateLoading
	loader := entry.loader
	r.mu.Unlock()

	connector, err := loader(ctx)
	if err == nil && connector == nil {
		err = errors.New("loader returned no connector")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		entry.state = StateError
		entry.connector = nil
		entry.err = err
		return fmt.Errorf("failed to load %s connector: %w", platform, err)
	}
	entry.state = StateReady
	entry.connector = connector
	entry.err = nil
	return nil
}

// Get はready状態のConnectorを返す。
func (r *Registry) Get(platform model.Platform) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[platform]
	if !ok {
		return nil, fmt.Errorf("%s: %w", platform, ErrUnsupportedPlatform)
	}
	if entry.state != StateReady {
		return nil, fmt.Errorf("%s is %s: %w", platform, entry.state, ErrPlatformUnavailable)
	}
	return entry.connector, nil
}

// Statuses は登録順に全プラットフォームの状態を返す。
func (r *Registry) Statuses() []PlatformStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	statuses := make([]PlatformStatus, 0, len(r.order))
	for _, platform := range r.order {
		entry := r.entries[platform]
		status := PlatformStatus{Platform: platform, State: entry.state}
		if entry.err != nil {
			status.Error = entry.err.Error()
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// Refreshers はready状態でトークン更新に対応するConnectorを返す。
func (r *Registry) Refreshers() map[model.Platform]Refresher {
	r.mu.RLock()
	defer r.mu.RUnlock()

	refreshers := make(map[model.Platform]Refresher)
	for _, platform := range r.order {
		entry := r.entries[platform]
		if entry.state != StateReady {
			continue
		}
		if refresher, ok := entry.connector.(Refresher); ok {
			refreshers[platform] = refresher
		}
	}
	return refreshers
}
