package main

import (
	"context"
	"testing"
	"time"

	"github.com/erazemk/fieldstock/internal/db"
	"github.com/erazemk/fieldstock/internal/model"
	"github.com/erazemk/fieldstock/internal/store"
)

func TestLoadConfigFlagsOverride(t *testing.T) {
	t.Setenv("FIELDSTOCK_CONFIG", "")
	t.Setenv("FIELDSTOCK_ADDR", ":7070")
	t.Setenv("FIELDSTOCK_DB", "env.sqlite3")

	cfg, err := loadConfig([]string{"-a", ":9999", "--amend-window", "5m", "--node-id", "3"})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Addr != ":9999" {
		t.Errorf("expected flag to override env addr, got %q", cfg.Addr)
	}
	if cfg.Database != "env.sqlite3" {
		t.Errorf("expected env database, got %q", cfg.Database)
	}
	if cfg.AmendWindow != 5*time.Minute || cfg.NodeID != 3 {
		t.Errorf("unexpected window %s or node %d", cfg.AmendWindow, cfg.NodeID)
	}
}

func TestLoadConfigRejectsArgs(t *testing.T) {
	t.Setenv("FIELDSTOCK_CONFIG", "")
	if _, err := loadConfig([]string{"serve"}); err == nil {
		t.Error("expected error for positional argument")
	}
	if _, err := loadConfig([]string{"--node-id", "5000"}); err == nil {
		t.Error("expected error for out of range node id")
	}
}

func TestBootstrapAdmin(t *testing.T) {
	ctx := context.Background()
	database := db.NewTestDB(t)

	password, err := bootstrapAdmin(ctx, database, "Admin")
	if err != nil {
		t.Fatalf("bootstrapAdmin: %v", err)
	}
	if len(password) != 16 {
		t.Errorf("expected 16 character password, got %q", password)
	}

	again, err := bootstrapAdmin(ctx, database, "Admin")
	if err != nil {
		t.Fatalf("second bootstrapAdmin: %v", err)
	}
	if again != "" {
		t.Error("expected no new admin when one exists")
	}

	admins, _ := store.ListUsers(ctx, database, model.RoleAdmin)
	if len(admins) != 1 || admins[0].Username != "Admin" {
		t.Errorf("expected exactly one admin, got %+v", admins)
	}
}
