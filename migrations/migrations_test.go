package migrations

import (
	"strings"
	"testing"
)

func TestUp(t *testing.T) {
	ms, err := Up()
	if err != nil {
		t.Fatalf("Up: %v", err)
	}
	if len(ms) == 0 || ms[0].Version != 1 {
		t.Fatalf("unexpected migrations %+v", ms)
	}
	for _, m := range ms {
		if strings.HasSuffix(m.Name, ".down.sql") {
			t.Errorf("down migration %s returned by Up", m.Name)
		}
	}
	if !strings.Contains(ms[0].SQL, "audit_records") {
		t.Error("first migration should create audit_records")
	}
}

func TestVersionFromFile(t *testing.T) {
	if v, err := versionFromFile("012_x.up.sql"); err != nil || v != 12 {
		t.Errorf("got %d, %v", v, err)
	}
	if _, err := versionFromFile("nounderscore.sql"); err == nil {
		t.Error("expected error")
	}
}
