package expression

import "testing"

func TestParserCacheHitsAndEviction(t *testing.T) {
	c := NewParserCache(2)

	if _, err := c.GetOrParse(`channel_name contains "BBC"`); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := c.GetOrParse(`channel_name contains "BBC"`); err != nil {
		t.Fatalf("parse: %v", err)
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	if _, err := c.GetOrParse(`channel_name contains "ITV"`); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := c.GetOrParse(`channel_name contains "Sky"`); err != nil {
		t.Fatalf("parse: %v", err)
	}

	if c.Stats().Size != 2 {
		t.Fatalf("expected eviction to cap size at 2, got %d", c.Stats().Size)
	}
}
