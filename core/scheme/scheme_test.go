package scheme

import (
	"os"
	"path/filepath"
	"testing"
)

const doc = `messages:
  - name: Heartbeat
    id: 10
    fields:
      - {name: ts, type: int64}
  - name: Quote
    id: 20
    fields:
      - {name: price, type: double}
      - {name: size, type: int32}
`

func TestParse(t *testing.T) {
	s, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(s.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(s.Messages))
	}

	hb := s.Lookup("Heartbeat")
	if hb == nil {
		t.Fatal("Lookup(Heartbeat) is nil")
	}
	if hb.ID != 10 {
		t.Errorf("Heartbeat id = %d, want 10", hb.ID)
	}

	q := s.LookupID(20)
	if q == nil || q.Name != "Quote" {
		t.Fatal("LookupID(20) should find Quote")
	}
	if len(q.Fields) != 2 || q.Fields[0].Name != "price" {
		t.Errorf("Quote fields = %v", q.Fields)
	}

	if s.Lookup("Missing") != nil || s.LookupID(99) != nil {
		t.Error("lookups of unknown entries should return nil")
	}
}

func TestParse_RejectsNamelessMessage(t *testing.T) {
	if _, err := Parse([]byte("messages:\n  - id: 1\n")); err == nil {
		t.Error("Parse() should reject a message without a name")
	}
}

func TestLoad_Inline(t *testing.T) {
	s, err := Load("yaml://" + doc)
	if err != nil {
		t.Fatalf("Load(yaml://) error = %v", err)
	}
	if s.Lookup("Quote") == nil {
		t.Error("inline load lost the Quote message")
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scheme.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, url := range []string{path, "file://" + path} {
		s, err := Load(url)
		if err != nil {
			t.Fatalf("Load(%q) error = %v", url, err)
		}
		if len(s.Messages) != 2 {
			t.Errorf("Load(%q) messages = %d, want 2", url, len(s.Messages))
		}
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() of a missing file should fail")
	}
}
