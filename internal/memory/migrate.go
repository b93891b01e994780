package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"
)

// legacyExport is one row of a JSON export of the memories table.
type legacyExport struct {
	UserID  string          `json:"userId"`
	Context json.RawMessage `json:"context"`
}

// MigrateFromFile imports a JSON export of memory rows. Users that already
// have a stored memory are skipped, so running it twice is a no-op.
func MigrateFromFile(ctx context.Context, path string, engine *Engine) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read memory export: %w", err)
	}

	var rows []legacyExport
	if err := json.Unmarshal(data, &rows); err != nil {
		return 0, fmt.Errorf("parse memory export: %w", err)
	}

	imported := 0
	now := time.Now()
	for _, row := range rows {
		userID := strings.TrimSpace(row.UserID)
		if userID == "" || len(row.Context) == 0 {
			continue
		}
		if _, err := engine.GetMemory(ctx, userID); err == nil {
			continue
		}

		mc, err := DecodeContext(row.Context)
		if err != nil {
			log.Printf("[memory] skip export row for %s: %v", userID, err)
			continue
		}
		if _, err := engine.PutMemory(ctx, userID, MigrateMemory(mc, userID, now)); err != nil {
			return imported, fmt.Errorf("import memory %s: %w", userID, err)
		}
		imported++
	}
	return imported, nil
}

// MigrateStored rewrites every legacy memory row into the structured shape.
// Structured rows are left untouched.
func MigrateStored(ctx context.Context, engine *Engine) (int, error) {
	records, err := engine.ListMemories(ctx)
	if err != nil {
		return 0, err
	}

	migrated := 0
	now := time.Now()
	for _, rec := range records {
		if _, ok := rec.Context.(LegacyMemory); !ok {
			continue
		}
		if _, err := engine.PutMemory(ctx, rec.UserID, MigrateMemory(rec.Context, rec.UserID, now)); err != nil {
			return migrated, fmt.Errorf("migrate memory %s: %w", rec.UserID, err)
		}
		migrated++
	}
	return migrated, nil
}
