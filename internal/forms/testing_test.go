package forms

import (
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/formgate/formgate/internal/platform"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	return NewGormStore(newTestDB(t))
}

// seqReader yields a deterministic byte stream for code generation.
type seqReader struct {
	next byte
}

func (r *seqReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = r.next
		r.next++
	}
	return len(p), nil
}

func newTestCodes() *CodeSource {
	return NewCodeSource(&seqReader{})
}

const (
	testGuildID int64 = 100
	testUserID  int64 = 200
	testBotID   int64 = 999
)

func newTestPlatform() *platform.InMemory {
	client := platform.NewInMemory()
	client.PutGuild(&platform.Guild{ID: testGuildID, Name: "Test Guild"})
	client.SetBot(testGuildID, &platform.Member{
		UserID:      testBotID,
		Permissions: platform.PermissionManageRoles,
	}, 50)
	return client
}

func joinedMember(userID int64, joinedDaysAgo, accountAgeDays int) *platform.Member {
	joined := time.Now().AddDate(0, 0, -joinedDaysAgo)
	return &platform.Member{
		UserID:           userID,
		JoinedAt:         &joined,
		AccountCreatedAt: time.Now().AddDate(0, 0, -accountAgeDays),
	}
}

func ptrInt64(v int64) *int64 {
	return &v
}

func ptrString(v string) *string {
	return &v
}
