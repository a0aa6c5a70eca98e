package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestContractsMigrationContainsConstraints(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_contracts.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no contracts migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE TABLE IF NOT EXISTS contracts",
		"CREATE TABLE IF NOT EXISTS contract_transactions",
		"FOREIGN KEY (order_id) REFERENCES orders(id) ON DELETE CASCADE",
		"CREATE UNIQUE INDEX IF NOT EXISTS uq_transactions_external",
		"(external_source, external_id)",
		"CREATE UNIQUE INDEX IF NOT EXISTS uq_contracts_order_pending",
		"ON contracts (order_id) WHERE status = 'pending'",
		"DROP TABLE IF EXISTS contract_transactions",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}
