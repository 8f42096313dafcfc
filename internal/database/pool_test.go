package database

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/BaSui01/swarmplane/config"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// =============================================================================
// 🧪 PoolManager 测试
// =============================================================================

func setupMockDB(t *testing.T) (sqlmock.Sqlmock, *gorm.DB) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{
		DisableAutomaticPing: true,
	})
	require.NoError(t, err)
	return mock, gormDB
}

// sqlmock 每个 DSN 只有一条驱动连接，空闲连接被回收后无法重新打开，
// 因此测试配置必须保留空闲连接
func mockPoolConfig(interval time.Duration) PoolConfig {
	return PoolConfig{MaxOpenConns: 2, MaxIdleConns: 2, HealthCheckInterval: interval}
}

func TestNewPoolManager(t *testing.T) {
	_, gormDB := setupMockDB(t)

	cfg := PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5, ConnMaxLifetime: time.Hour}
	pm, err := NewPoolManager(gormDB, cfg, nil)
	require.NoError(t, err)

	assert.Same(t, gormDB, pm.DB())
	assert.Equal(t, 10, pm.Stats().MaxOpenConnections)
}

func TestNewPoolManager_NilDB(t *testing.T) {
	_, err := NewPoolManager(nil, DefaultPoolConfig(), zap.NewNop())
	assert.Error(t, err)
}

func TestPoolManager_Ping(t *testing.T) {
	mock, gormDB := setupMockDB(t)
	pm, err := NewPoolManager(gormDB, mockPoolConfig(0), zap.NewNop())
	require.NoError(t, err)

	mock.ExpectPing()
	assert.NoError(t, pm.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(sql.ErrConnDone)
	assert.ErrorIs(t, pm.Ping(context.Background()), sql.ErrConnDone)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_CloseIsIdempotent(t *testing.T) {
	mock, gormDB := setupMockDB(t)
	pm, err := NewPoolManager(gormDB, mockPoolConfig(time.Hour), zap.NewNop())
	require.NoError(t, err)

	mock.ExpectClose()
	require.NoError(t, pm.Close())
	require.NoError(t, pm.Close())

	err = pm.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_HealthCheckLoopPings(t *testing.T) {
	mock, gormDB := setupMockDB(t)
	mock.ExpectPing()
	mock.ExpectClose()

	core, logs := observer.New(zap.DebugLevel)
	pm, err := NewPoolManager(gormDB, mockPoolConfig(20*time.Millisecond), zap.New(core))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return logs.FilterMessage("database health check passed").Len() > 0
	}, 2*time.Second, 10*time.Millisecond)

	// 之后的 ping 没有期望会失败，只记录日志
	require.NoError(t, pm.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_Collector(t *testing.T) {
	_, gormDB := setupMockDB(t)
	pm, err := NewPoolManager(gormDB, PoolConfig{MaxOpenConns: 7}, zap.NewNop())
	require.NoError(t, err)

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(pm.Collector("swarmplane")))

	count, err := testutil.GatherAndCount(reg, "go_sql_max_open_connections")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

// =============================================================================
// 🧪 Open 测试
// =============================================================================

func TestOpen_SQLiteInMemory(t *testing.T) {
	db, err := Open(config.DatabaseConfig{Driver: "sqlite", Name: ":memory:"}, zap.NewNop())
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	var one int
	require.NoError(t, db.Raw("SELECT 1").Scan(&one).Error)
	assert.Equal(t, 1, one)
}

func TestDialector(t *testing.T) {
	for _, driver := range []string{"postgres", "mysql", "sqlite", "sqlite3"} {
		d, err := Dialector(config.DatabaseConfig{Driver: driver, Name: "x"})
		require.NoError(t, err, driver)
		assert.NotNil(t, d)
	}

	_, err := Dialector(config.DatabaseConfig{})
	assert.Error(t, err)

	_, err = Dialector(config.DatabaseConfig{Driver: "oracle"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestPoolConfigFrom(t *testing.T) {
	pc := PoolConfigFrom(config.DatabaseConfig{MaxOpenConns: 25, ConnMaxLifetime: time.Minute})
	assert.Equal(t, 25, pc.MaxOpenConns)
	assert.Equal(t, DefaultPoolConfig().MaxIdleConns, pc.MaxIdleConns)
	assert.Equal(t, time.Minute, pc.ConnMaxLifetime)
}
