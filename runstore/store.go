// Package runstore persists terminal runs (Done or Failed) to a
// relational run history: script text, contributing providers, failed
// batch indices and token usage. Live run state belongs to
// pipeline/state; this store is the durable record that survives both
// process restarts and state-store TTL expiry.
package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/narraflow/internal/metrics"
	"github.com/BaSui01/narraflow/types"
)

// ErrNotFound 表示历史记录不存在。
var ErrNotFound = errors.New("run record not found")

// 支持的数据库驱动。
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// PoolConfig 连接池配置。
type PoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
}

// DefaultPoolConfig 返回默认连接池配置。
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdleConns:    10,
		MaxOpenConns:    100,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
	}
}

// Config 配置运行历史存储。sqlite 用 Path，postgres 用 DSN。
type Config struct {
	Driver string     `yaml:"driver" json:"driver"`
	DSN    string     `yaml:"dsn" json:"dsn"`
	Path   string     `yaml:"path" json:"path"`
	Pool   PoolConfig `yaml:"pool" json:"pool"`
}

// DefaultConfig 返回默认配置：当前目录下的 sqlite 文件。
func DefaultConfig() Config {
	return Config{
		Driver: DriverSQLite,
		Path:   "narraflow.db",
		Pool:   DefaultPoolConfig(),
	}
}

// RunRecord 是一条终态运行的历史记录。
type RunRecord struct {
	ID             string    `gorm:"primaryKey;size:64" json:"id"`
	VideoID        string    `gorm:"size:128;index" json:"video_id,omitempty"`
	VisionProvider string    `gorm:"size:32" json:"vision_provider"`
	TextProvider   string    `gorm:"size:32" json:"text_provider"`
	State          string    `gorm:"size:16;index" json:"state"`
	Progress       int       `json:"progress"`
	TotalBatches   int       `json:"total_batches"`
	DoneBatches    int       `json:"done_batches"`
	FailedBatches  string    `gorm:"size:1024" json:"-"` // JSON 数组
	FailureReason  string    `gorm:"size:1024" json:"failure_reason,omitempty"`
	Script         string    `gorm:"type:text" json:"script,omitempty"`
	Providers      string    `gorm:"size:256" json:"-"` // JSON 数组
	PromptTokens   int       `json:"prompt_tokens"`
	OutputTokens   int       `json:"output_tokens"`
	CreatedAt      time.Time `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName 固定表名。
func (RunRecord) TableName() string { return "runs" }

// FailedBatchList 解码失败批次序号。
func (r *RunRecord) FailedBatchList() []int {
	var out []int
	_ = json.Unmarshal([]byte(r.FailedBatches), &out)
	return out
}

// ProviderList 解码参与的 Provider 列表。
func (r *RunRecord) ProviderList() []string {
	var out []string
	_ = json.Unmarshal([]byte(r.Providers), &out)
	return out
}

// Query 限定 List 的返回集合。零值表示不过滤。
type Query struct {
	State   types.RunState
	VideoID string
	Limit   int
	Offset  int
}

// Store 是 GORM 之上的运行历史存储。
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open 打开数据库连接，应用连接池配置并迁移表结构。
func Open(cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case DriverSQLite, "":
		path := cfg.Path
		if path == "" {
			path = DefaultConfig().Path
		}
		dialector = sqlite.Open(path)
	case DriverPostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres driver requires database.dsn")
		}
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: sqlite, postgres)", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	applyPool(sqlDB, cfg.Pool)

	if err := db.AutoMigrate(&RunRecord{}); err != nil {
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}

	logger.Info("运行历史数据库已连接", zap.String("driver", cfg.Driver))
	return newStore(db, logger), nil
}

func newStore(db *gorm.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger.With(zap.String("component", "runstore"))}
}

// applyPool 应用连接池配置，零值字段使用默认值。
func applyPool(sqlDB *sql.DB, cfg PoolConfig) {
	def := DefaultPoolConfig()
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = def.MaxIdleConns
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = def.MaxOpenConns
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = def.ConnMaxLifetime
	}
	if cfg.ConnMaxIdleTime <= 0 {
		cfg.ConnMaxIdleTime = def.ConnMaxIdleTime
	}

	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
}

// SaveRun 持久化一条终态运行（同 ID 重复写入时覆盖），实现
// pipeline.Recorder。
func (s *Store) SaveRun(ctx context.Context, run *types.Run, result *types.NarrationResult) error {
	if run == nil {
		return fmt.Errorf("run cannot be nil")
	}

	rec, err := newRecord(run, result)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(rec).Error
}

// Get 按 ID 读取历史记录。
func (s *Store) Get(ctx context.Context, id string) (*RunRecord, error) {
	var rec RunRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// List 返回按创建时间倒序排列的历史记录。
func (s *Store) List(ctx context.Context, q Query) ([]*RunRecord, error) {
	tx := s.db.WithContext(ctx).Model(&RunRecord{}).Order("created_at DESC, id")
	if q.State != "" {
		tx = tx.Where("state = ?", string(q.State))
	}
	if q.VideoID != "" {
		tx = tx.Where("video_id = ?", q.VideoID)
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	if q.Offset > 0 {
		tx = tx.Offset(q.Offset)
	}

	var records []*RunRecord
	if err := tx.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// Ping 检查数据库可达性。
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Monitor 周期性上报连接池状态指标，直到 ctx 取消。
func (s *Store) Monitor(ctx context.Context, collector *metrics.Collector, interval time.Duration) {
	if collector == nil {
		return
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sqlDB, err := s.db.DB()
				if err != nil {
					continue
				}
				stats := sqlDB.Stats()
				collector.RecordDBConnections("runstore", stats.OpenConnections, stats.Idle)
			}
		}
	}()
}

// Close 关闭数据库连接。
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// newRecord 把运行与解说结果压成一行历史。
func newRecord(run *types.Run, result *types.NarrationResult) (*RunRecord, error) {
	failed, err := json.Marshal(run.FailedBatches)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal failed batches: %w", err)
	}

	rec := &RunRecord{
		ID:             run.ID,
		VideoID:        run.VideoID,
		VisionProvider: run.VisionProvider,
		TextProvider:   run.TextProvider,
		State:          string(run.State),
		Progress:       run.Progress,
		TotalBatches:   run.TotalBatches,
		DoneBatches:    run.DoneBatches,
		FailedBatches:  string(failed),
		FailureReason:  run.FailureReason,
		Script:         run.Script,
		CreatedAt:      run.CreatedAt,
	}

	if result != nil {
		providers, err := json.Marshal(result.Providers)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal providers: %w", err)
		}
		rec.Providers = string(providers)
		rec.PromptTokens = result.PromptTokens
		rec.OutputTokens = result.OutputTokens
	}
	return rec, nil
}
