package test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/dx-tooling/sitebuilder-webapp-sub000/internal/profile"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/store"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/store/db"
)

// NewTestingStore opens a migrated store for the driver selected by DRIVER
// (sqlite by default). It is closed when the test finishes.
func NewTestingStore(ctx context.Context, t *testing.T) *store.Store {
	t.Helper()
	p := getTestingProfile(t, getDriverFromEnv())
	driver, err := db.NewDBDriver(p)
	if err != nil {
		t.Fatalf("failed to create db driver: %v", err)
	}

	s := store.New(driver, p)
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate db: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func getDriverFromEnv() string {
	if driver := os.Getenv("DRIVER"); driver != "" {
		return driver
	}
	return "sqlite"
}

func getTestingProfile(t *testing.T, driver string) *profile.Profile {
	dir := t.TempDir()
	p := &profile.Profile{
		Mode:   "dev",
		Data:   dir,
		Driver: driver,
	}
	switch driver {
	case "postgres":
		p.DSN = GetPostgresDSN(t)
	default:
		p.DSN = filepath.Join(dir, "sitebuilder_test.db")
	}
	return p
}

// CreateTestingConversation creates an available workspace and an Ongoing
// conversation on it owned by ownerID.
func CreateTestingConversation(ctx context.Context, t *testing.T, s *store.Store, ownerID int32, createdTs int64) (*store.Workspace, *store.Conversation) {
	t.Helper()
	workspace, err := s.CreateWorkspace(ctx, &store.Workspace{
		Name:      fmt.Sprintf("workspace-%s", shortuuid.New()),
		CreatedTs: createdTs,
		UpdatedTs: createdTs,
	})
	if err != nil {
		t.Fatalf("failed to create workspace: %v", err)
	}
	conversation, err := s.CreateConversation(ctx, &store.Conversation{
		UID:         shortuuid.New(),
		WorkspaceID: workspace.ID,
		OwnerID:     ownerID,
		CreatedTs:   createdTs,
		UpdatedTs:   createdTs,
	})
	if err != nil {
		t.Fatalf("failed to create conversation: %v", err)
	}
	return workspace, conversation
}

// Now returns a fixed base timestamp for store tests.
func Now() int64 {
	return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC).Unix()
}
