package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/jgoulah/gridcache/pkg/models"
	"github.com/jonboulle/clockwork"
)

const testSite = "site-1"

var testNow = time.Date(2025, 12, 29, 9, 42, 30, 0, time.UTC)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "cache.sqlite"), WithClock(clockwork.NewFakeClockAt(testNow)))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func f64(v float64) *float64 { return &v }
func str(v string) *string { return &v }

func price(start time.Time, perKwh float64) models.PriceInterval {
	return models.PriceInterval{
		SiteID:        testSite,
		IntervalStart: start,
		IntervalEnd:   start.Add(5 * time.Minute),
		ChannelType:   models.DefaultChannel,
		PerKwh:        perKwh,
	}
}

func usage(start time.Time, kwh float64, cost *float64) models.UsageInterval {
	return models.UsageInterval{
		SiteID:        testSite,
		IntervalStart: start,
		IntervalEnd:   start.Add(5 * time.Minute),
		ChannelType:   models.DefaultChannel,
		Kwh:           kwh,
		Cost:          cost,
	}
}

func TestNewCreatesTables(t *testing.T) {
	db := newTestDB(t)

	for _, table := range []string{"prices", "usage"} {
		var name string
		err := db.conn.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if err != nil {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}
}

func TestNewMigratesOldUsageTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.sqlite")

	old, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open old db: %v", err)
	}
	_, err = old.Exec(`CREATE TABLE usage (
		site_id TEXT NOT NULL,
		interval_start TEXT NOT NULL,
		interval_end TEXT NOT NULL,
		channel_type TEXT NOT NULL,
		kwh REAL NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(site_id, interval_start, channel_type)
	)`)
	if err != nil {
		t.Fatalf("create old schema: %v", err)
	}
	old.Close()

	db, err := New(path)
	if err != nil {
		t.Fatalf("open migrated db: %v", err)
	}

	for _, column := range []string{"cost", "quality", "meter_identifier"} {
		ok, err := db.hasColumn("usage", column)
		if err != nil {
			t.Fatalf("hasColumn: %v", err)
		}
		if !ok {
			t.Errorf("column %s was not added", column)
		}
	}

	// Reopening must not try to add the columns again.
	db.Close()
	again, err := New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	again.Close()
}

func TestUpsertPricesUpdatesInPlace(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	start := time.Date(2025, 12, 29, 9, 40, 0, 0, time.UTC)

	first := price(start, 25.0)
	first.Renewables = f64(40)
	first.Descriptor = str("neutral")
	if n, err := db.UpsertPrices(ctx, []models.PriceInterval{first}); err != nil || n != 1 {
		t.Fatalf("first upsert: n=%d err=%v", n, err)
	}

	second := price(start, 31.5)
	if _, err := db.UpsertPrices(ctx, []models.PriceInterval{second}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, ok, err := db.PriceForInterval(ctx, testSite, start, models.DefaultChannel)
	if err != nil || !ok {
		t.Fatalf("PriceForInterval: ok=%v err=%v", ok, err)
	}
	if got.PerKwh != 31.5 {
		t.Errorf("per_kwh = %v, want 31.5", got.PerKwh)
	}
	if got.Renewables == nil || *got.Renewables != 40 {
		t.Errorf("renewables = %v, want preserved 40", got.Renewables)
	}
	if got.Descriptor == nil || *got.Descriptor != "neutral" {
		t.Errorf("descriptor = %v, want preserved neutral", got.Descriptor)
	}
	if !got.UpdatedAt.Equal(testNow) {
		t.Errorf("updated_at = %s, want %s", got.UpdatedAt, testNow)
	}

	prices, _, err := db.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if prices != 1 {
		t.Errorf("price rows = %d, want 1", prices)
	}
}

func TestUpsertPricesNormalizesJitter(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	jittered := price(time.Date(2025, 12, 29, 9, 40, 1, 0, time.UTC), 20)
	jittered.IntervalEnd = time.Date(2025, 12, 29, 9, 45, 0, 0, time.UTC)
	again := price(time.Date(2025, 12, 29, 9, 42, 17, 0, time.UTC), 22)
	if _, err := db.UpsertPrices(ctx, []models.PriceInterval{jittered, again}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	prices, _, err := db.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if prices != 1 {
		t.Fatalf("price rows = %d, want 1", prices)
	}

	var start, end string
	if err := db.conn.QueryRow(`SELECT interval_start, interval_end FROM prices`).Scan(&start, &end); err != nil {
		t.Fatalf("select: %v", err)
	}
	if start != "2025-12-29T09:40:00Z" || end != "2025-12-29T09:45:00Z" {
		t.Errorf("stored span = %s..%s", start, end)
	}
}

func TestUpsertUsageKeepsSettledCost(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	start := time.Date(2025, 12, 29, 9, 0, 0, 0, time.UTC)

	withCost := usage(start, 0.4, f64(5.0))
	withCost.Quality = str("billable")
	if _, err := db.UpsertUsage(ctx, []models.UsageInterval{withCost}); err != nil {
		t.Fatalf("upsert with cost: %v", err)
	}
	if _, err := db.UpsertUsage(ctx, []models.UsageInterval{usage(start, 0.45, nil)}); err != nil {
		t.Fatalf("upsert without cost: %v", err)
	}

	got, ok, err := db.LatestUsage(ctx, testSite, models.DefaultChannel, time.Time{})
	if err != nil || !ok {
		t.Fatalf("LatestUsage: ok=%v err=%v", ok, err)
	}
	if got.Kwh != 0.45 {
		t.Errorf("kwh = %v, want 0.45", got.Kwh)
	}
	if got.Cost == nil || *got.Cost != 5.0 {
		t.Errorf("cost = %v, want preserved 5.0", got.Cost)
	}
	if got.Quality == nil || *got.Quality != "billable" {
		t.Errorf("quality = %v, want preserved billable", got.Quality)
	}

	if _, err := db.UpsertUsage(ctx, []models.UsageInterval{usage(start, 0.45, f64(7.0))}); err != nil {
		t.Fatalf("upsert new cost: %v", err)
	}
	got, _, err = db.LatestUsage(ctx, testSite, models.DefaultChannel, time.Time{})
	if err != nil {
		t.Fatalf("LatestUsage: %v", err)
	}
	if got.Cost == nil || *got.Cost != 7.0 {
		t.Errorf("cost = %v, want 7.0", got.Cost)
	}
}

func TestUpsertSkipsIncompleteRows(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	rows := []models.PriceInterval{
		{SiteID: "", IntervalStart: testNow, PerKwh: 1},
		{SiteID: testSite, PerKwh: 1},
		price(testNow, 2),
	}
	n, err := db.UpsertPrices(ctx, rows)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if n != 1 {
		t.Errorf("written = %d, want 1", n)
	}
}

func TestLatestPriceExcludesFutureRows(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	now := time.Date(2025, 12, 29, 9, 42, 0, 0, time.UTC)

	rows := []models.PriceInterval{
		price(now.Add(-5*time.Minute), 10),
		price(now.Add(60*time.Minute), 30),
	}
	if _, err := db.UpsertPrices(ctx, rows); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, ok, err := db.LatestPrice(ctx, testSite, models.DefaultChannel, now)
	if err != nil || !ok {
		t.Fatalf("LatestPrice: ok=%v err=%v", ok, err)
	}
	if got.PerKwh != 10 {
		t.Errorf("bounded latest per_kwh = %v, want 10", got.PerKwh)
	}

	got, ok, err = db.LatestPrice(ctx, testSite, models.DefaultChannel, time.Time{})
	if err != nil || !ok {
		t.Fatalf("LatestPrice unbounded: ok=%v err=%v", ok, err)
	}
	if got.PerKwh != 30 {
		t.Errorf("unbounded latest per_kwh = %v, want 30", got.PerKwh)
	}
}

func TestLatestPriceEmpty(t *testing.T) {
	db := newTestDB(t)
	_, ok, err := db.LatestPrice(context.Background(), testSite, models.DefaultChannel, testNow)
	if err != nil {
		t.Fatalf("LatestPrice: %v", err)
	}
	if ok {
		t.Fatal("expected no row")
	}
}

func TestPriceForIntervalFindsLegacyRow(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	_, err := db.conn.Exec(`INSERT INTO prices (site_id, interval_start, interval_end, channel_type, per_kwh, updated_at)
		VALUES (?, '2025-12-29T09:40:01Z', '2025-12-29T09:45:00Z', 'general', 18.2, '2025-12-29T09:40:05Z')`, testSite)
	if err != nil {
		t.Fatalf("insert legacy row: %v", err)
	}

	got, ok, err := db.PriceForInterval(ctx, testSite, time.Date(2025, 12, 29, 9, 43, 0, 0, time.UTC), models.DefaultChannel)
	if err != nil {
		t.Fatalf("PriceForInterval: %v", err)
	}
	if !ok {
		t.Fatal("legacy row not found")
	}
	if got.PerKwh != 18.2 {
		t.Errorf("per_kwh = %v, want 18.2", got.PerKwh)
	}

	// A canonical row takes precedence once written.
	if _, err := db.UpsertPrices(ctx, []models.PriceInterval{price(time.Date(2025, 12, 29, 9, 40, 0, 0, time.UTC), 19)}); err != nil {
		t.Fatalf("upsert canonical: %v", err)
	}
	got, _, err = db.PriceForInterval(ctx, testSite, time.Date(2025, 12, 29, 9, 40, 0, 0, time.UTC), models.DefaultChannel)
	if err != nil {
		t.Fatalf("PriceForInterval: %v", err)
	}
	if got.PerKwh != 19 {
		t.Errorf("per_kwh = %v, want canonical 19", got.PerKwh)
	}
}

func TestUsageForInterval(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	_, err := db.conn.Exec(`INSERT INTO usage (site_id, interval_start, interval_end, channel_type, kwh, updated_at)
		VALUES (?, '2025-12-29T09:35:01Z', '2025-12-29T09:40:00Z', 'general', 0.12, '2025-12-29T09:40:05Z')`, testSite)
	if err != nil {
		t.Fatalf("insert legacy row: %v", err)
	}

	got, ok, err := db.UsageForInterval(ctx, testSite, time.Date(2025, 12, 29, 9, 37, 0, 0, time.UTC), models.DefaultChannel)
	if err != nil {
		t.Fatalf("UsageForInterval: %v", err)
	}
	if !ok || got.Kwh != 0.12 {
		t.Fatalf("got %+v ok=%v, want legacy row", got, ok)
	}

	if _, ok, _ := db.UsageForInterval(ctx, testSite, time.Date(2025, 12, 29, 9, 30, 0, 0, time.UTC), models.DefaultChannel); ok {
		t.Error("unexpected row for 09:30")
	}
}

func TestPriceForIntervalOtherChannel(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	start := time.Date(2025, 12, 29, 9, 40, 0, 0, time.UTC)

	feedIn := price(start, -5)
	feedIn.ChannelType = "feedIn"
	if _, err := db.UpsertPrices(ctx, []models.PriceInterval{feedIn}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if _, ok, _ := db.PriceForInterval(ctx, testSite, start, models.DefaultChannel); ok {
		t.Error("general channel lookup returned a feedIn row")
	}
	if _, ok, _ := db.PriceForInterval(ctx, testSite, start, "feedIn"); !ok {
		t.Error("feedIn row not found")
	}
}

func TestForecastAscendingAndLimited(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	now := time.Date(2025, 12, 29, 9, 40, 0, 0, time.UTC)

	var rows []models.PriceInterval
	for i := -2; i <= 30; i++ {
		rows = append(rows, price(now.Add(time.Duration(i)*5*time.Minute), float64(i)))
	}
	if _, err := db.UpsertPrices(ctx, rows); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := db.Forecast(ctx, testSite, models.DefaultChannel, now, 24)
	if err != nil {
		t.Fatalf("Forecast: %v", err)
	}
	if len(got) != 24 {
		t.Fatalf("len = %d, want 24", len(got))
	}
	if !got[0].IntervalStart.Equal(now.Add(5 * time.Minute)) {
		t.Errorf("first start = %s, want strictly after now", got[0].IntervalStart)
	}
	for i := 1; i < len(got); i++ {
		if !got[i].IntervalStart.After(got[i-1].IntervalStart) {
			t.Fatalf("forecast not ascending at %d", i)
		}
	}

	none, err := db.Forecast(ctx, testSite, models.DefaultChannel, now, 0)
	if err != nil || len(none) != 0 {
		t.Errorf("zero limit: len=%d err=%v", len(none), err)
	}
}

func TestUsageWindowBounds(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	from := time.Date(2025, 11, 30, 13, 0, 0, 0, time.UTC)
	to := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)

	rows := []models.UsageInterval{
		usage(from.Add(-5*time.Minute), 1, f64(1)),
		usage(from, 2, f64(2)),
		usage(to, 3, nil),
		usage(to.Add(5*time.Minute), 4, f64(4)),
	}
	if _, err := db.UpsertUsage(ctx, rows); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := db.UsageWindow(ctx, testSite, models.DefaultChannel, from, to)
	if err != nil {
		t.Fatalf("UsageWindow: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Kwh != 2 || got[1].Kwh != 3 {
		t.Errorf("window kwh = %v, %v", got[0].Kwh, got[1].Kwh)
	}
}

func TestPruneRemovesOldRows(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	old := testNow.Add(-31 * 24 * time.Hour)
	recent := testNow.Add(-5 * 24 * time.Hour)
	if _, err := db.UpsertPrices(ctx, []models.PriceInterval{price(old, 1), price(recent, 2)}); err != nil {
		t.Fatalf("upsert prices: %v", err)
	}
	if _, err := db.UpsertUsage(ctx, []models.UsageInterval{usage(old, 1, nil), usage(recent, 2, nil)}); err != nil {
		t.Fatalf("upsert usage: %v", err)
	}

	removed, err := db.Prune(ctx, 14*24*time.Hour, testNow)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	prices, usageRows, err := db.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if prices != 1 || usageRows != 1 {
		t.Errorf("remaining prices=%d usage=%d, want 1 and 1", prices, usageRows)
	}

	if _, err := db.Prune(ctx, 0, testNow); err == nil {
		t.Error("expected error for zero retention")
	}
}

func TestListNewestFirst(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	start := time.Date(2025, 12, 29, 9, 0, 0, 0, time.UTC)

	if _, err := db.UpsertUsage(ctx, []models.UsageInterval{
		usage(start, 1, nil),
		usage(start.Add(5*time.Minute), 2, nil),
		usage(start.Add(10*time.Minute), 3, nil),
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := db.ListUsage(ctx, testSite, models.DefaultChannel, 2)
	if err != nil {
		t.Fatalf("ListUsage: %v", err)
	}
	if len(got) != 2 || got[0].Kwh != 3 || got[1].Kwh != 2 {
		t.Errorf("ListUsage = %+v", got)
	}
}
