package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(ttl time.Duration) (*Cache[string], *clockwork.FakeClock) {
	clock := clockwork.NewFakeClock()
	return New[string]("test", ttl, WithClock(clock)), clock
}

func TestGetReturnsMostRecentValueWhileFresh(t *testing.T) {
	c, clock := newTestCache(time.Minute)

	c.Set("k", "v1")
	clock.Advance(30 * time.Second)
	c.Set("k", "v2")
	clock.Advance(59 * time.Second)

	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v2", v)
}

func TestGetEvictsAtExactlyTTL(t *testing.T) {
	c, clock := newTestCache(time.Minute)

	c.Set("k", "v")
	clock.Advance(time.Minute)

	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "stale entry must be removed on read")
}

func TestStaleEntriesStayUntilRead(t *testing.T) {
	c, clock := newTestCache(time.Second)

	c.Set("a", "1")
	c.Set("b", "2")
	clock.Advance(2 * time.Second)

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())
}

func TestClear(t *testing.T) {
	c, _ := newTestCache(time.Hour)
	keys := []string{"a", "b", "c"}
	for i, k := range keys {
		c.Set(k, fmt.Sprint(i))
	}

	c.Clear()

	for _, k := range keys {
		_, ok := c.Get(k)
		assert.False(t, ok, k)
	}
}

func TestDelete(t *testing.T) {
	c, _ := newTestCache(time.Hour)
	c.Set("a", "1")
	c.Delete("a")
	c.Delete("missing")

	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestNonPositiveTTLUsesDefault(t *testing.T) {
	c := New[int]("x", 0)
	assert.Equal(t, DefaultTTL, c.TTL())
}

type progressFilter struct {
	Period     string `json:"period,omitempty"`
	DivisionID string `json:"divisionId,omitempty"`
}

func TestKeyIsStableAcrossConstructionOrder(t *testing.T) {
	a := map[string]string{"period": "07-2025", "divisionId": "D01"}
	b := map[string]string{"divisionId": "D01", "period": "07-2025"}
	s := progressFilter{Period: "07-2025", DivisionID: "D01"}

	assert.Equal(t, Key("progress", a), Key("progress", b))
	assert.Equal(t, Key("progress", a), Key("progress", s))
	assert.Equal(t, `progress:{"divisionId":"D01","period":"07-2025"}`, Key("progress", s))
}

func TestKeyIgnoresEmptyAttributes(t *testing.T) {
	withEmpty := map[string]any{"period": "07-2025", "status": ""}
	without := map[string]any{"period": "07-2025"}

	assert.Equal(t, Key("schedules", without), Key("schedules", withEmpty))
	assert.Equal(t, "schedules", Key("schedules", nil))
	assert.Equal(t, "schedules", Key("schedules", progressFilter{}))
}

func TestKeyDistinguishesValues(t *testing.T) {
	assert.NotEqual(t,
		Key("progress", progressFilter{Period: "07-2025"}),
		Key("progress", progressFilter{Period: "08-2025"}))
}
