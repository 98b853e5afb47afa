package dotenv

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFileMissingIsNoop(t *testing.T) {
	if err := LoadFile(filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
}

func TestLoadFileParsesAndPreservesExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# comment\n" +
		"CONSULT_TEST_A=plain\n" +
		"export CONSULT_TEST_B=\"quoted value\"\n" +
		"CONSULT_TEST_C='single'\n" +
		"CONSULT_TEST_EXISTING=from-file\n" +
		"NOT_A_PAIR\n" +
		"=nokey\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	t.Setenv("CONSULT_TEST_EXISTING", "from-env")
	for _, key := range []string{"CONSULT_TEST_A", "CONSULT_TEST_B", "CONSULT_TEST_C"} {
		os.Unsetenv(key)
		t.Cleanup(func() { os.Unsetenv(key) })
	}

	if err := LoadFile(path); err != nil {
		t.Fatalf("load: %v", err)
	}

	if got := os.Getenv("CONSULT_TEST_A"); got != "plain" {
		t.Fatalf("A=%q", got)
	}
	if got := os.Getenv("CONSULT_TEST_B"); got != "quoted value" {
		t.Fatalf("B=%q", got)
	}
	if got := os.Getenv("CONSULT_TEST_C"); got != "single" {
		t.Fatalf("C=%q", got)
	}
	if got := os.Getenv("CONSULT_TEST_EXISTING"); got != "from-env" {
		t.Fatalf("existing env must win, got %q", got)
	}
}
