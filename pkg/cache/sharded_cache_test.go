package cache

import (
	"testing"
	"time"
)

func TestSetThenGetRoundTrips(t *testing.T) {
	c := NewShardedPriceCache()
	c.Set("005930", 70_500)

	price, ok := c.Get("005930")
	if !ok || price != 70_500 {
		t.Fatalf("Get=(%v,%v), expected (70500,true)", price, ok)
	}
}

func TestGetMissingSymbolReturnsFalse(t *testing.T) {
	c := NewShardedPriceCache()
	if _, ok := c.Get("000000"); ok {
		t.Fatal("expected ok=false for a symbol never set")
	}
}

func TestDeleteRemovesEntry(t *testing.T) {
	c := NewShardedPriceCache()
	c.Set("005930", 70_500)
	c.Delete("005930")
	if _, ok := c.Get("005930"); ok {
		t.Fatal("expected the entry gone after Delete")
	}
}

func TestLenCountsAcrossShards(t *testing.T) {
	c := NewShardedPriceCache()
	symbols := []string{"005930", "000660", "035720", "051910", "005380"}
	for _, s := range symbols {
		c.Set(s, 1_000)
	}
	if got := c.Len(); got != len(symbols) {
		t.Fatalf("Len=%d, expected %d", got, len(symbols))
	}
}

func TestCleanupRemovesOnlyStaleEntries(t *testing.T) {
	c := NewShardedPriceCache()
	c.Set("005930", 70_500)
	time.Sleep(5 * time.Millisecond)
	removed := c.Cleanup(time.Millisecond)
	if removed != 1 {
		t.Fatalf("removed=%d, expected 1", removed)
	}
	if _, ok := c.Get("005930"); ok {
		t.Fatal("expected the stale entry gone")
	}
}

func TestCleanupInvalidDropsUnknownSymbols(t *testing.T) {
	c := NewShardedPriceCache()
	c.Set("005930", 70_500)
	c.Set("999999", 1)

	removed := c.CleanupInvalid([]string{"005930"})
	if removed != 1 {
		t.Fatalf("removed=%d, expected 1", removed)
	}
	if _, ok := c.Get("005930"); !ok {
		t.Fatal("expected the valid symbol retained")
	}
	if _, ok := c.Get("999999"); ok {
		t.Fatal("expected the invalid symbol removed")
	}
}

func TestGetAllReturnsEverySetPrice(t *testing.T) {
	c := NewShardedPriceCache()
	c.Set("005930", 70_500)
	c.Set("000660", 180_000)

	all := c.GetAll()
	if all["005930"] != 70_500 || all["000660"] != 180_000 {
		t.Fatalf("GetAll=%v, expected both prices present", all)
	}
}

func TestStatsReflectsTotalItems(t *testing.T) {
	c := NewShardedPriceCache()
	c.Set("005930", 70_500)
	c.Set("000660", 180_000)

	stats := c.Stats()
	if stats.TotalItems != 2 {
		t.Fatalf("TotalItems=%d, expected 2", stats.TotalItems)
	}
}
