package journal

import (
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/llmflow/types"
)

// Options 控制底层连接的驱动与连接池参数。
type Options struct {
	// Driver 取 postgres / mysql / sqlite, 空值按 sqlite 处理。
	Driver string `yaml:"driver" json:"driver"`
	DSN    string `yaml:"dsn" json:"dsn"`

	// 连接池参数, 零值取 DefaultOptions。
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
}

// DefaultOptions 返回默认连接池配置。
func DefaultOptions() Options {
	return Options{
		Driver:          "sqlite",
		DSN:             "file:llmflow.db",
		MaxIdleConns:    10,
		MaxOpenConns:    100,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
	}
}

// Open 按驱动建立 gorm 连接并配置连接池。
func Open(opts Options, logger *zap.Logger) (*gorm.DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	defaults := DefaultOptions()
	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = defaults.MaxIdleConns
	}
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = defaults.MaxOpenConns
	}
	if opts.ConnMaxLifetime <= 0 {
		opts.ConnMaxLifetime = defaults.ConnMaxLifetime
	}
	if opts.ConnMaxIdleTime <= 0 {
		opts.ConnMaxIdleTime = defaults.ConnMaxIdleTime
	}

	var dial gorm.Dialector
	switch strings.ToLower(opts.Driver) {
	case "postgres", "postgresql":
		dial = postgres.Open(opts.DSN)
	case "mysql":
		dial = mysql.Open(opts.DSN)
	case "sqlite", "sqlite3", "":
		dial = sqlite.Open(opts.DSN)
	default:
		return nil, types.Errorf(types.ErrInvalidConfig, "unsupported journal driver %q", opts.Driver)
	}

	db, err := gorm.Open(dial, &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		return nil, fmt.Errorf("open journal database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(opts.ConnMaxIdleTime)

	logger.Info("journal database opened",
		zap.String("driver", strings.ToLower(opts.Driver)),
		zap.Int("max_idle_conns", opts.MaxIdleConns),
		zap.Int("max_open_conns", opts.MaxOpenConns),
		zap.Duration("conn_max_lifetime", opts.ConnMaxLifetime),
	)

	return db, nil
}
