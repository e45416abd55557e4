package backend

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"kpiprogress/internal/config"
	"kpiprogress/internal/core"
	applog "kpiprogress/internal/log"
)

func quietFactory() Factory {
	return NewFactory(applog.New(applog.Config{Output: &bytes.Buffer{}}))
}

func TestBackendType_IsValid(t *testing.T) {
	for _, bt := range GetBackendTypes() {
		if !bt.IsValid() {
			t.Errorf("%s should be valid", bt)
		}
	}
	if BackendType("postgres").IsValid() {
		t.Error("postgres should be invalid")
	}
	if got := strings.Join(GetBackendTypeStrings(), ","); got != "sqlite,sheets,memory" {
		t.Errorf("GetBackendTypeStrings() = %v", got)
	}
}

func TestFromAppConfig(t *testing.T) {
	if _, err := FromAppConfig(nil); err == nil {
		t.Error("nil config should fail")
	}
	if _, err := FromAppConfig(&config.Config{DataBackend: "csv"}); err == nil {
		t.Error("unknown backend should fail")
	}

	cfg, err := FromAppConfig(&config.Config{
		DataBackend:         "sheets",
		DataDir:             "seed",
		GoogleSpreadsheetID: "abc",
		GoogleProgressSheet: "Progress",
		GoogleYearsSheet:    "Years",
	})
	if err != nil {
		t.Fatalf("FromAppConfig() error = %v", err)
	}
	if cfg.Type != SheetsBackend || cfg.DataDirectory != "seed" || cfg.GoogleSpreadsheetID != "abc" {
		t.Errorf("unexpected config %+v", cfg)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"memory", Config{Type: MemoryBackend}, false},
		{"sqlite without path", Config{Type: SQLiteBackend}, true},
		{"sqlite", Config{Type: SQLiteBackend, SQLiteDBPath: "kpi.db"}, false},
		{"sheets without id", Config{Type: SheetsBackend}, true},
		{"sheets without credentials", Config{
			Type: SheetsBackend, GoogleSpreadsheetID: "x",
			GoogleProgressSheet: "Progress", GoogleYearsSheet: "Years",
		}, true},
		{"sheets", Config{
			Type: SheetsBackend, GoogleSpreadsheetID: "x",
			GoogleProgressSheet: "Progress", GoogleYearsSheet: "Years",
			GoogleServiceAccountJSON: "{}",
		}, false},
		{"unknown", Config{Type: "csv"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.config.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFactory_Memory(t *testing.T) {
	ctx := context.Background()
	res, err := quietFactory().CreateBackend(ctx, Config{Type: MemoryBackend, DataDirectory: t.TempDir()})
	if err != nil {
		t.Fatalf("CreateBackend() error = %v", err)
	}
	defer res.Close()

	opts, err := res.Backend.ListYearOptions(ctx)
	if err != nil || len(opts) != 3 {
		t.Fatalf("expected demo options, got %v %v", opts, err)
	}
	recs, err := res.Backend.ListYearRecords(ctx, 28)
	if err != nil || len(recs) != 2 {
		t.Fatalf("expected demo records, got %v %v", recs, err)
	}
}

func TestFactory_SQLite(t *testing.T) {
	ctx := context.Background()
	res, err := quietFactory().CreateBackend(ctx, Config{
		Type:         SQLiteBackend,
		SQLiteDBPath: filepath.Join(t.TempDir(), "kpi.db"),
	})
	if err != nil {
		t.Fatalf("CreateBackend() error = %v", err)
	}
	defer func() {
		if err := res.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	}()

	if p, ok := res.Backend.(Pinger); !ok || p.Ping(ctx) != nil {
		t.Fatal("sqlite backend should be pingable")
	}

	rec := core.NewBlankRecord(2024, 28).With(core.January, core.Some(100))
	saved, err := res.Backend.SaveChangeSet(ctx, 28, core.ChangeSet{2024: rec})
	if err != nil || len(saved) != 1 || saved[0].ID == 0 {
		t.Fatalf("SaveChangeSet() = %+v, %v", saved, err)
	}
}

func TestFactory_SheetsWithoutCredentials(t *testing.T) {
	_, err := quietFactory().CreateBackend(context.Background(), Config{
		Type:                     SheetsBackend,
		GoogleSpreadsheetID:      "x",
		GoogleProgressSheet:      "Progress",
		GoogleYearsSheet:         "Years",
		GoogleServiceAccountFile: filepath.Join(t.TempDir(), "missing.json"),
	})
	if err == nil || !strings.Contains(err.Error(), "credentials") {
		t.Fatalf("expected credentials error, got %v", err)
	}
}

func TestFactory_InvalidType(t *testing.T) {
	if _, err := quietFactory().CreateBackend(context.Background(), Config{Type: "csv"}); err == nil {
		t.Fatal("expected error for invalid type")
	}
}

func TestBackendResult_CloseNil(t *testing.T) {
	var r *BackendResult
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
}
