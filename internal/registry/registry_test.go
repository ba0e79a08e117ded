package registry

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"go.uber.org/zap/zaptest"

	"github.com/eugenenazirov/service-common/internal/database"
	"github.com/eugenenazirov/service-common/internal/server"
)

func TestConfigsAppendOnly(t *testing.T) {
	reg := New()
	if got := reg.Configs(); len(got) != 0 {
		t.Fatalf("expected empty registry, got %v", got)
	}

	first, second := &struct{ name string }{"a"}, &struct{ name string }{"b"}
	reg.AppendConfig(first)
	reg.AppendConfig(second)
	reg.AppendConfig(first)

	got := reg.Configs()
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	if got[0] != first || got[1] != second {
		t.Fatalf("entries not kept in registration order")
	}

	got[0] = nil
	if reg.Configs()[0] != first {
		t.Fatalf("Configs must return a copy")
	}
}

func TestAppSlotOverwrites(t *testing.T) {
	reg := New()
	if reg.App() != nil {
		t.Fatalf("expected nil app before registration")
	}

	logger := zaptest.NewLogger(t)
	a := server.New(server.Info{Title: "a"}, logger)
	b := server.New(server.Info{Title: "b"}, logger)
	reg.SetApp(a)
	reg.SetApp(b)

	if reg.App() != b {
		t.Fatalf("expected second app to replace the first")
	}
}

func TestEngineSlot(t *testing.T) {
	reg := New()
	if reg.Engine() != nil {
		t.Fatalf("expected nil engine before registration")
	}

	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	engine := database.NewWithDB(db, "postgres", database.Options{})
	reg.SetEngine(engine)

	if reg.Engine() != engine {
		t.Fatalf("expected registered engine")
	}
}
