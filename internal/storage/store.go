package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"cdpintercept/internal/logger"
)

// ResolutionRecord 一次拦截解析的审计记录
type ResolutionRecord struct {
	ID             uint   `gorm:"primaryKey"`
	TraceID        string `gorm:"size:64;index"`
	SessionID      string `gorm:"size:64;index"`
	TargetID       string `gorm:"size:128"`
	InterceptionID string `gorm:"size:128"`
	URL            string
	Method         string `gorm:"size:16"`
	ResourceType   string `gorm:"size:32"`
	IsNavigation   bool
	Action         string `gorm:"size:32;index"`
	Priority       *int
	HandlerErrors  int
	Error          string
	DurationMS     int64
	CreatedAt      time.Time
}

// ActionCount 按结果分组的计数
type ActionCount struct {
	Action string
	Count  int64
}

// Options 存储配置
type Options struct {
	Dsn    string
	Prefix string
}

// Store 基于 SQLite 的审计存储
type Store struct {
	db  *gorm.DB
	log logger.Logger
}

// Open 打开数据库并迁移表结构
func Open(opts Options, l logger.Logger) (*Store, error) {
	if l == nil {
		l = logger.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(opts.Dsn), &gorm.Config{
		Logger:         NewGormLogger(l),
		NamingStrategy: schema.NamingStrategy{TablePrefix: opts.Prefix},
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", opts.Dsn, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	// SQLite 单写者
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&ResolutionRecord{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	l.Info("审计存储已就绪", "dsn", opts.Dsn)
	return &Store{db: db, log: l}, nil
}

// Save 写入一条记录
func (s *Store) Save(ctx context.Context, rec *ResolutionRecord) error {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("save resolution: %w", err)
	}
	return nil
}

// Recent 按时间倒序返回最近的记录
func (s *Store) Recent(ctx context.Context, limit int) ([]ResolutionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []ResolutionRecord
	err := s.db.WithContext(ctx).Order("id desc").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	return out, nil
}

// CountByAction 按结果统计数量
func (s *Store) CountByAction(ctx context.Context) (map[string]int64, error) {
	var rows []ActionCount
	err := s.db.WithContext(ctx).Model(&ResolutionRecord{}).
		Select("action, count(*) as count").
		Group("action").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count by action: %w", err)
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Action] = r.Count
	}
	return out, nil
}

// Close 关闭数据库
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
