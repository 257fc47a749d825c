package journal

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/llmflow/envelope"
	"github.com/BaSui01/llmflow/types"
)

const defaultRecentLimit = 50

// Store 把终态化的调用记录写进数据库并提供用量查询。
// 实现 envelope.Sink。
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStore 创建日志存储。
func NewStore(db *gorm.DB, logger *zap.Logger) (*Store, error) {
	if db == nil {
		return nil, types.NewError(types.ErrInvalidConfig, "journal store requires a database handle")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:     db,
		logger: logger.With(zap.String("component", "journal")),
	}, nil
}

// AutoMigrate 按模型建表。开发与测试用; 生产环境走 internal/migration。
func (s *Store) AutoMigrate() error {
	if err := s.db.AutoMigrate(&Record{}); err != nil {
		return fmt.Errorf("failed to auto migrate: %w", err)
	}
	return nil
}

// Ping 检查数据库连接。
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Append 落一行终态记录。同一 CallID 重复写入幂等跳过,
// 信封的补偿重试不会造成重复计数。
func (s *Store) Append(ctx context.Context, src *envelope.CallRecord) error {
	row, err := newRecord(src)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "call_id"}},
			DoNothing: true,
		}).
		Create(row).Error
	if err != nil {
		return fmt.Errorf("append call record: %w", err)
	}

	s.logger.Debug("call record journaled",
		zap.String("call_id", row.CallID),
		zap.String("endpoint", row.Endpoint),
		zap.String("outcome", row.Outcome),
		zap.Float64("cost", row.Cost))

	return nil
}

// Recent 返回最近终态化的记录, 新的在前。limit <= 0 时取默认值。
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}

	var rows []Record
	err := s.db.WithContext(ctx).
		Order("finished_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load recent call records: %w", err)
	}
	return rows, nil
}

// EndpointSummary 是单个端点的用量汇总。
type EndpointSummary struct {
	Endpoint      string  `json:"endpoint"`
	Calls         int64   `json:"calls"`
	Succeeded     int64   `json:"succeeded"`
	TotalTokens   int64   `json:"total_tokens"`
	TotalCost     float64 `json:"total_cost"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
}

// SummarizeByEndpoint 按端点聚合 since 之后的用量。
// since 为零值时统计全部记录。花钱多的端点排前面。
func (s *Store) SummarizeByEndpoint(ctx context.Context, since time.Time) ([]EndpointSummary, error) {
	query := s.db.WithContext(ctx).
		Model(&Record{}).
		Select("endpoint, COUNT(*) AS calls, "+
			"SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END) AS succeeded, "+
			"COALESCE(SUM(total_tokens), 0) AS total_tokens, "+
			"COALESCE(SUM(cost), 0) AS total_cost, "+
			"COALESCE(AVG(duration_ms), 0) AS avg_duration_ms",
			string(envelope.OutcomeSuccess))
	if !since.IsZero() {
		query = query.Where("finished_at >= ?", since)
	}

	var summaries []EndpointSummary
	err := query.
		Group("endpoint").
		Order("total_cost DESC").
		Scan(&summaries).Error
	if err != nil {
		return nil, fmt.Errorf("summarize call records: %w", err)
	}
	return summaries, nil
}

// Purge 删除 before 之前终态化的记录, 返回删除行数。
func (s *Store) Purge(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("finished_at < ?", before).
		Delete(&Record{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge call records: %w", res.Error)
	}

	if res.RowsAffected > 0 {
		s.logger.Info("journal purged",
			zap.Int64("rows", res.RowsAffected),
			zap.Time("before", before))
	}
	return res.RowsAffected, nil
}
