package migration

import (
	"context"
	"fmt"

	"github.com/BaSui01/swarmplane/config"
	"go.uber.org/zap"
)

// NewMigratorFromDatabaseConfig 按服务的数据库配置创建迁移器
func NewMigratorFromDatabaseConfig(dbCfg config.DatabaseConfig) (*DefaultMigrator, error) {
	dbType, err := ParseDatabaseType(dbCfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("invalid database type: %w", err)
	}

	var dbURL string
	switch dbType {
	case DatabaseTypePostgres:
		dbURL = BuildDatabaseURL(dbType, dbCfg.Host, dbCfg.Port, dbCfg.Name, dbCfg.User, dbCfg.Password, dbCfg.SSLMode)
	case DatabaseTypeMySQL:
		dbURL = BuildDatabaseURL(dbType, dbCfg.Host, dbCfg.Port, dbCfg.Name, dbCfg.User, dbCfg.Password, "")
	case DatabaseTypeSQLite:
		// SQLite 的 Name 为文件路径
		dbURL = BuildDatabaseURL(dbType, "", 0, dbCfg.Name, "", "", "")
	}

	return NewMigrator(&Config{
		DatabaseType: dbType,
		DatabaseURL:  dbURL,
		TableName:    DefaultTableName,
	})
}

// NewMigratorFromURL 按类型和连接串创建迁移器
func NewMigratorFromURL(dbType, dbURL string) (*DefaultMigrator, error) {
	dt, err := ParseDatabaseType(dbType)
	if err != nil {
		return nil, err
	}
	return NewMigrator(&Config{
		DatabaseType: dt,
		DatabaseURL:  dbURL,
		TableName:    DefaultTableName,
	})
}

// Apply 执行全部待执行迁移，serve 启动时的自动迁移使用
func Apply(ctx context.Context, dbCfg config.DatabaseConfig, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	m, err := NewMigratorFromDatabaseConfig(dbCfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := m.Close(); cerr != nil {
			logger.Warn("close migrator failed", zap.Error(cerr))
		}
	}()

	if err := m.Up(ctx); err != nil {
		return err
	}
	info, err := m.Info(ctx)
	if err != nil {
		return err
	}
	logger.Info("database migrations applied",
		zap.String("driver", dbCfg.Driver),
		zap.Uint("version", info.CurrentVersion),
		zap.Int("total", info.TotalMigrations),
	)
	return nil
}
