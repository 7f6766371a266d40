package cmd

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/wesm/leasevault/internal/documents"
	"github.com/wesm/leasevault/internal/store"
)

// runCLI executes the real root command against an isolated home directory.
// Tests using it share package state and must NOT use t.Parallel().
func runCLI(t *testing.T, home string, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(append([]string{"--home", home}, args...))
	return rootCmd.ExecuteContext(t.Context())
}

func mustRunCLI(t *testing.T, home string, args ...string) {
	t.Helper()
	if err := runCLI(t, home, args...); err != nil {
		t.Fatalf("leasevault %v: %v", args, err)
	}
}

func openHomeStore(t *testing.T, home string) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(home, "leasevault.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRegisterCommands(t *testing.T) {
	home := t.TempDir()
	out := filepath.Join(t.TempDir(), "register.csv")

	mustRunCLI(t, home, "init-db")
	mustRunCLI(t, home, "add-landlord", "L1")
	mustRunCLI(t, home, "add-property", "--id", "P1", "--landlord", "L1", "--flat", "3",
		"--street", "Mill Lane", "--post-code", "LS1 4AB", "--city", "Leeds", "--units", "4")
	mustRunCLI(t, home, "set-tenant", "P1", "--first", "Ann", "--last", "Lee", "--email", "Ann@X.com")
	mustRunCLI(t, home, "list")
	mustRunCLI(t, home, "show", "P1")
	mustRunCLI(t, home, "stats")
	mustRunCLI(t, home, "occupancy")
	mustRunCLI(t, home, "export", out)

	s := openHomeStore(t, home)
	before, err := s.GetAllRecords(t.Context())
	if err != nil {
		t.Fatalf("GetAllRecords: %v", err)
	}
	if len(before) != 1 || before[0].Email.String != "ann@x.com" || before[0].UnitsInBuilding.Int64 != 4 {
		t.Fatalf("records = %+v", before)
	}

	mustRunCLI(t, home, "delete-property", "P1")
	mustRunCLI(t, home, "import", out)

	after, err := s.GetAllRecords(t.Context())
	if err != nil {
		t.Fatalf("GetAllRecords: %v", err)
	}
	if len(after) != 1 || after[0] != before[0] {
		t.Errorf("after import = %+v, want %+v", after, before)
	}

	if err := runCLI(t, home, "show", "P9"); err == nil {
		t.Error("show of an unknown property should fail")
	}
	err = runCLI(t, home, "set-tenant", "P9", "--first", "Bob", "--last", "Ray", "--email", "bob@x.com")
	if !errors.Is(err, store.ErrConstraintViolation) {
		t.Errorf("set-tenant on unknown property = %v, want ErrConstraintViolation", err)
	}
}

func TestDocumentCommandsWithoutMailProvider(t *testing.T) {
	home := t.TempDir()

	mustRunCLI(t, home, "add-landlord", "L1")
	mustRunCLI(t, home, "add-property", "--id", "P1", "--landlord", "L1", "--street", "Mill Lane")
	mustRunCLI(t, home, "set-tenant", "P1", "--first", "Ann", "--last", "Lee", "--email", "ann@x.com")

	// A miss cannot be checked without a mailbox.
	err := runCLI(t, home, "documents", "ann@x.com")
	if !errors.Is(err, documents.ErrRemoteUnavailable) {
		t.Errorf("documents = %v, want ErrRemoteUnavailable", err)
	}
	mustRunCLI(t, home, "documents", "nobody@x.com")

	err = runCLI(t, home, "refresh", "ann@x.com")
	if !errors.Is(err, documents.ErrRemoteUnavailable) {
		t.Errorf("refresh = %v, want ErrRemoteUnavailable", err)
	}
	err = runCLI(t, home, "refresh", "nobody@x.com")
	if !errors.Is(err, documents.ErrUnknownTenant) {
		t.Errorf("refresh unknown tenant = %v, want ErrUnknownTenant", err)
	}
}
