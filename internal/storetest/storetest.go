// Package storetest opens throwaway SQLite stores seeded with boards for tests.
package storetest

import (
	"path/filepath"
	"testing"

	"github.com/MarcoPoloResearchLab/corkboard/internal/boards"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

// Open creates a file-backed SQLite database under t.TempDir with the boards
// tables and any extra models migrated. A single connection serializes
// writers the way row locks do on Postgres.
func Open(t testing.TB, models ...any) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "corkboard_test.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	all := append([]any{&boards.Board{}, &boards.GroupMember{}, &boards.Element{}}, models...)
	if err := db.AutoMigrate(all...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

// PersonalBoard inserts a board owned by ownerID.
func PersonalBoard(t testing.TB, db *gorm.DB, ownerID string) boards.Board {
	t.Helper()
	board := boards.Board{OwnerID: ownerID, Title: "personal", CreatedAtSeconds: 1700000000}
	if err := db.Create(&board).Error; err != nil {
		t.Fatalf("failed to seed board: %v", err)
	}
	return board
}

// GroupBoard inserts a board shared with groupID and registers members.
func GroupBoard(t testing.TB, db *gorm.DB, groupID int64, members map[string]boards.GroupRole) boards.Board {
	t.Helper()
	owner := ""
	for userID, role := range members {
		if role == boards.GroupRoleOwner {
			owner = userID
		}
		member := boards.GroupMember{GroupID: groupID, UserID: userID, Role: role}
		if err := db.Create(&member).Error; err != nil {
			t.Fatalf("failed to seed member %s: %v", userID, err)
		}
	}
	board := boards.Board{OwnerID: owner, GroupID: &groupID, Title: "shared", CreatedAtSeconds: 1700000000}
	if err := db.Create(&board).Error; err != nil {
		t.Fatalf("failed to seed board: %v", err)
	}
	return board
}

// Element inserts an element of kind on boardID with the given text.
func Element(t testing.TB, db *gorm.DB, boardID int64, kind boards.ElementKind, text string) boards.Element {
	t.Helper()
	element := boards.Element{BoardID: boardID, Kind: kind, Text: text, Width: 200, Height: 120}
	if err := db.Create(&element).Error; err != nil {
		t.Fatalf("failed to seed element: %v", err)
	}
	return element
}
