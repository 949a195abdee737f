package stores

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/compconf/pkg/engine"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func createComponent(t *testing.T, store *SQLiteStore, id string) *ComponentRecord {
	t.Helper()
	c := &ComponentRecord{
		ID:         id,
		Definition: "checkout",
		Name:       "Component " + id,
		Type:       "InvokeHTTP",
		Properties: `{"Remote URL":"https://example.com"}`,
		Status:     engine.StatusValidating,
	}
	if err := store.UpsertComponent(context.Background(), c); err != nil {
		t.Fatalf("failed to upsert component: %v", err)
	}
	return c
}

func TestNewSQLiteStore(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Error("expected error for empty path")
	}

	store, err := NewSQLiteStore(Config{Path: ":memory:", MaxOpenConns: 10})
	if err != nil {
		t.Fatal(err)
	}
	if store.cfg.MaxOpenConns != 1 {
		t.Errorf("in-memory store must use a single connection, got %d", store.cfg.MaxOpenConns)
	}

	store, _ = NewSQLiteStore(Config{Path: "history.db"})
	if store.cfg.MaxOpenConns != 25 || store.cfg.MaxIdleConns != 5 || store.cfg.ConnMaxLifetime != 5*time.Minute {
		t.Errorf("unexpected defaults: %+v", store.cfg)
	}
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: filepath.Join(t.TempDir(), "history.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.HealthCheck(ctx); err == nil {
		t.Error("health check should fail before Init")
	}
	if err := store.Migrate(ctx); err == nil {
		t.Error("Migrate should fail before Init")
	}

	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	// migrations are idempotent
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second migration failed: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"components", "validation_records"} {
		var count int
		if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}
}

func TestComponentCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	created := createComponent(t, store, "invoke")
	first := created.CreatedAt

	got, err := store.GetComponent(ctx, "invoke")
	if err != nil {
		t.Fatalf("failed to get component: %v", err)
	}
	if got.Name != "Component invoke" || got.Type != "InvokeHTTP" || got.Status != engine.StatusValidating {
		t.Errorf("unexpected component: %+v", got)
	}

	// Upsert keeps the creation time
	time.Sleep(5 * time.Millisecond)
	update := &ComponentRecord{ID: "invoke", Definition: "checkout", Name: "Renamed", Type: "InvokeHTTP", Status: engine.StatusValid}
	if err := store.UpsertComponent(ctx, update); err != nil {
		t.Fatalf("failed to upsert component: %v", err)
	}
	got, _ = store.GetComponent(ctx, "invoke")
	if got.Name != "Renamed" || got.Properties != "{}" || got.Status != engine.StatusValid {
		t.Errorf("unexpected component after upsert: %+v", got)
	}
	if !got.CreatedAt.Equal(first) {
		t.Errorf("CreatedAt changed from %v to %v", first, got.CreatedAt)
	}
	if !got.UpdatedAt.After(got.CreatedAt) {
		t.Errorf("UpdatedAt %v should be after CreatedAt %v", got.UpdatedAt, got.CreatedAt)
	}

	createComponent(t, store, "router")
	other := &ComponentRecord{ID: "audit", Definition: "billing", Name: "Audit", Type: "LogAttribute", Status: engine.StatusValid}
	if err := store.UpsertComponent(ctx, other); err != nil {
		t.Fatal(err)
	}

	all, err := store.ListComponents(ctx, nil, 0, 0)
	if err != nil {
		t.Fatalf("failed to list components: %v", err)
	}
	if len(all) != 3 || all[0].ID != "audit" {
		t.Errorf("expected 3 components ordered by id, got %d", len(all))
	}
	def := "checkout"
	checkout, _ := store.ListComponents(ctx, &def, 10, 0)
	if len(checkout) != 2 {
		t.Errorf("expected 2 checkout components, got %d", len(checkout))
	}
	page, _ := store.ListComponents(ctx, nil, 1, 1)
	if len(page) != 1 || page[0].ID != "invoke" {
		t.Errorf("unexpected page: %v", page)
	}

	if err := store.DeleteComponent(ctx, "invoke"); err != nil {
		t.Fatalf("failed to delete component: %v", err)
	}
	if _, err := store.GetComponent(ctx, "invoke"); !engine.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
	if err := store.DeleteComponent(ctx, "invoke"); !engine.IsNotFound(err) {
		t.Errorf("expected not found on second delete, got %v", err)
	}
}

func TestValidationHistory(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createComponent(t, store, "invoke")
	createComponent(t, store, "router")

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	records := []struct {
		component string
		status    engine.ValidationStatus
		results   []engine.ValidationResult
		at        time.Time
	}{
		{"invoke", engine.StatusInvalid, []engine.ValidationResult{engine.InvalidResult("Remote URL", "x", "value is not a valid url")}, base},
		{"invoke", engine.StatusValid, nil, base.Add(time.Minute)},
		{"router", engine.StatusValid, nil, base.Add(2 * time.Minute)},
	}
	var ids []string
	for _, r := range records {
		rec, err := NewValidationRecord("checkout", r.component, r.status, r.results, 3*time.Millisecond)
		if err != nil {
			t.Fatal(err)
		}
		rec.ValidatedAt = r.at
		if err := store.RecordValidation(ctx, rec); err != nil {
			t.Fatalf("failed to record validation: %v", err)
		}
		ids = append(ids, rec.ID)
	}

	first, err := store.GetValidation(ctx, ids[0])
	if err != nil {
		t.Fatalf("failed to get validation: %v", err)
	}
	if first.ResultCount != 1 || first.Duration != 3*time.Millisecond || !first.ValidatedAt.Equal(base) {
		t.Errorf("unexpected record: %+v", first)
	}
	results, err := first.DecodeResults()
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].String() != "'Remote URL' validated against 'x' is invalid because value is not a valid url" {
		t.Errorf("unexpected results: %v", results)
	}

	latest, err := store.LatestValidation(ctx, "invoke")
	if err != nil {
		t.Fatalf("failed to get latest validation: %v", err)
	}
	if latest.ID != ids[1] || latest.Status != engine.StatusValid {
		t.Errorf("expected latest %s, got %s (%s)", ids[1], latest.ID, latest.Status)
	}
	component, _ := store.GetComponent(ctx, "invoke")
	if component.Status != engine.StatusValid {
		t.Errorf("component status = %s, want VALID", component.Status)
	}

	invoke := "invoke"
	invalid := engine.StatusInvalid
	since := base.Add(30 * time.Second)
	tests := []struct {
		name   string
		filter ValidationFilter
		want   []string
	}{
		{"all newest first", ValidationFilter{}, []string{ids[2], ids[1], ids[0]}},
		{"by component", ValidationFilter{ComponentID: &invoke}, []string{ids[1], ids[0]}},
		{"by status", ValidationFilter{Status: &invalid}, []string{ids[0]}},
		{"since", ValidationFilter{Since: &since}, []string{ids[2], ids[1]}},
		{"paged", ValidationFilter{Limit: 1, Offset: 1}, []string{ids[1]}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.ListValidations(ctx, tt.filter)
			if err != nil {
				t.Fatalf("failed to list validations: %v", err)
			}
			var gotIDs []string
			for _, r := range got {
				gotIDs = append(gotIDs, r.ID)
			}
			if strings.Join(gotIDs, ",") != strings.Join(tt.want, ",") {
				t.Errorf("got %v, want %v", gotIDs, tt.want)
			}
		})
	}

	pruned, err := store.PruneValidations(ctx, base.Add(90*time.Second))
	if err != nil {
		t.Fatalf("failed to prune: %v", err)
	}
	if pruned != 2 {
		t.Errorf("expected 2 pruned records, got %d", pruned)
	}
	if _, err := store.LatestValidation(ctx, "invoke"); !engine.IsNotFound(err) {
		t.Errorf("expected no history for invoke, got %v", err)
	}

	// history follows the component
	if err := store.DeleteComponent(ctx, "router"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetValidation(ctx, ids[2]); !engine.IsNotFound(err) {
		t.Errorf("expected cascade delete, got %v", err)
	}
}

func TestRecordValidation_Errors(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.RecordValidation(ctx, &ValidationRecord{ComponentID: "x"}); err == nil {
		t.Error("expected error for missing id")
	}

	rec, _ := NewValidationRecord("checkout", "missing", engine.StatusValid, nil, 0)
	if err := store.RecordValidation(ctx, rec); !engine.IsNotFound(err) {
		t.Errorf("expected not found for unknown component, got %v", err)
	}
	if _, err := store.GetValidation(ctx, rec.ID); !engine.IsNotFound(err) {
		t.Errorf("a failed record must not be stored, got %v", err)
	}
}

type snapshotComponent struct{ descriptors []*engine.PropertyDescriptor }

func (c *snapshotComponent) PropertyDescriptors() []*engine.PropertyDescriptor { return c.descriptors }

func (c *snapshotComponent) PropertyDescriptor(name string) *engine.PropertyDescriptor {
	for _, d := range c.descriptors {
		if d.Name == name {
			return d
		}
	}
	return nil
}

func (c *snapshotComponent) CustomDescriptor(string) *engine.PropertyDescriptor { return nil }

func (c *snapshotComponent) Validate(context.Context, *engine.ValidationContext) ([]engine.ValidationResult, error) {
	return nil, nil
}

func (c *snapshotComponent) OnPropertyModified(*engine.PropertyDescriptor, *string, *string) {}

func TestComponentSnapshot(t *testing.T) {
	component := &snapshotComponent{descriptors: []*engine.PropertyDescriptor{
		{Name: "User"},
		{Name: "Password", Sensitive: true},
	}}
	node, err := engine.NewComponentNode(engine.NodeConfig{
		ID:        "db",
		Name:      "Database",
		Type:      "PutSQL",
		Component: component,
		Logger:    zerolog.Nop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	user, password := "admin", "s3cr3t"
	if err := node.SetProperties(context.Background(), map[string]*string{"User": &user, "Password": &password}, false); err != nil {
		t.Fatal(err)
	}

	c, err := ComponentSnapshot("checkout", node, engine.StatusValid)
	if err != nil {
		t.Fatal(err)
	}
	if c.ID != "db" || c.Name != "Database" || c.Type != "PutSQL" || c.Definition != "checkout" {
		t.Errorf("unexpected snapshot: %+v", c)
	}
	props, err := c.DecodeProperties()
	if err != nil {
		t.Fatal(err)
	}
	if props["User"] != "admin" || props["Password"] != maskedValue {
		t.Errorf("unexpected properties: %v", props)
	}
	if strings.Contains(c.Properties, password) {
		t.Error("sensitive value leaked into the snapshot")
	}
}
