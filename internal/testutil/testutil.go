// Package testutil 为各层测试提供 SQLite 数据库、miniredis 和可控时钟
package testutil

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"treasury/internal/infrastructure/database"
	"treasury/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// NewDB 每个测试一个临时 SQLite 文件，单连接使事务串行执行
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "treasury.db") + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), database.GormConfig("silent"))
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

// NewRedis 启动 miniredis 并返回客户端
func NewRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

// Clock 手动推进的时钟
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start.UTC()}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Dec 测试里书写金额用
func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var seq struct {
	sync.Mutex
	n int
}

// SeedAccount 补齐必填字段后写入账户
func SeedAccount(t *testing.T, db *gorm.DB, account *model.Account) *model.Account {
	t.Helper()
	seq.Lock()
	seq.n++
	n := seq.n
	seq.Unlock()

	if account.Name == "" {
		account.Name = fmt.Sprintf("company-%d", n)
	}
	if account.Email == "" {
		account.Email = fmt.Sprintf("treasury-%d@example.com", n)
	}
	if account.Role == "" {
		account.Role = "enterprise_admin"
	}
	if account.KYCStatus == "" {
		account.KYCStatus = model.KYCStatusApproved
	}
	require.NoError(t, db.Create(account).Error)
	return account
}

// Reload 重新读取账户
func Reload(t *testing.T, db *gorm.DB, id int64) *model.Account {
	t.Helper()
	var account model.Account
	require.NoError(t, db.First(&account, id).Error)
	return &account
}
