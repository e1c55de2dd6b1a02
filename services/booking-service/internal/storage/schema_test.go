package storage

import (
	"strings"
	"testing"
)

// repositoryColumns lists every column name appearing in the shared select
// list, with COALESCE wrappers stripped.
func repositoryColumns() []string {
	var cols []string
	for _, f := range strings.Split(appointmentColumns, ",") {
		f = strings.TrimSpace(f)
		f = strings.TrimPrefix(f, "COALESCE(")
		f = strings.TrimSuffix(f, ")")
		f = strings.TrimSpace(f)
		if f == "" || f == "''" {
			continue
		}
		cols = append(cols, f)
	}
	return cols
}

// The repository select list and the migration DDL evolve separately; a
// column renamed in one but not the other only fails once a query runs
// against a live database.
func TestMigrationDefinesRepositoryColumns(t *testing.T) {
	ddl := strings.Join(migrationStatements(false), "\n")
	for _, col := range repositoryColumns() {
		if !strings.Contains(ddl, col) {
			t.Errorf("repository selects column %q but the schema does not define it", col)
		}
	}
	// Columns written outside the select list.
	for _, col := range []string{"cancellation_reason", "reminder_sent"} {
		if !strings.Contains(ddl, col) {
			t.Errorf("repository writes column %q but the schema does not define it", col)
		}
	}
}

// The exclusion constraint must enforce exactly the configured scope: a
// worker-wide constraint under worker+location scope would reject inserts
// the application check correctly allowed.
func TestMigrationConstraintMatchesScope(t *testing.T) {
	workerWide := strings.Join(migrationStatements(false), "\n")
	if strings.Contains(workerWide, `COALESCE(location_id, '') WITH =`) {
		t.Error("worker-wide constraint must not compare location")
	}
	if !strings.Contains(workerWide, "employee_id WITH =") {
		t.Error("constraint must compare the assigned worker")
	}

	scoped := strings.Join(migrationStatements(true), "\n")
	if !strings.Contains(scoped, `COALESCE(location_id, '') WITH =`) {
		t.Error("worker+location constraint must compare location")
	}
}
