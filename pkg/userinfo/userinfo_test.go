package userinfo

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/skycoin/skycoin/src/util/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skycoin/skyarena/pkg/wire"
)

func TestMain(m *testing.M) {
	loggingLevel, ok := os.LookupEnv("TEST_LOGGING_LEVEL")
	if ok {
		lvl, err := logging.LevelFromString(loggingLevel)
		if err != nil {
			log.Fatal(err)
		}
		logging.SetLevel(lvl)
	} else {
		logging.Disable()
	}

	os.Exit(m.Run())
}

var (
	epA = wire.MustParseEndpoint("10.0.0.1:100")
	epB = wire.MustParseEndpoint("10.0.0.2:100")
)

func TestDirectory_PutGet(t *testing.T) {
	d := NewDirectory(nil)
	now := time.Unix(1000, 0)

	_, ok := d.Get(epA)
	assert.False(t, ok)

	d.Put(epA, []byte("alice"), false, now)
	d.Put(epB, []byte("server"), true, now)

	r, ok := d.Get(epA)
	require.True(t, ok)
	assert.Equal(t, []byte("alice"), r.Info)
	assert.Equal(t, now, r.RefreshedAt)

	srv, ok := d.Server()
	require.True(t, ok)
	assert.Equal(t, epB, srv.Endpoint)

	all := d.All()
	require.Len(t, all, 2)
	assert.Equal(t, epA, all[0].Endpoint)
	assert.Equal(t, 2, d.Len())

	d.Remove(epA)
	_, ok = d.Get(epA)
	assert.False(t, ok)

	d.Clear()
	assert.Equal(t, 0, d.Len())
}

func TestDirectory_Placeholders(t *testing.T) {
	d := NewDirectory(nil)
	now := time.Unix(1000, 0)

	assert.True(t, d.MarkRequested(epA, now, 5*time.Second))
	assert.False(t, d.MarkRequested(epA, now.Add(time.Second), 5*time.Second))
	assert.True(t, d.MarkRequested(epA, now.Add(5*time.Second), 5*time.Second))

	_, ok := d.Get(epA)
	assert.False(t, ok)
	assert.Empty(t, d.All())
	assert.Equal(t, 0, d.Len())
}

func TestDirectory_DueForRefresh(t *testing.T) {
	const (
		maxAge      = 30 * time.Second
		minInterval = 5 * time.Second
	)
	d := NewDirectory(nil)
	t0 := time.Unix(1000, 0)

	d.Put(epA, []byte("a"), false, t0)
	d.Put(epB, []byte("b"), false, t0.Add(20*time.Second))

	assert.Empty(t, d.DueForRefresh(t0.Add(maxAge), maxAge, minInterval, nil))

	// stale beyond max age
	now := t0.Add(maxAge + time.Second)
	assert.Equal(t, []wire.Endpoint{epA}, d.DueForRefresh(now, maxAge, minInterval, nil))

	// recently requested
	assert.Empty(t, d.DueForRefresh(now.Add(time.Second), maxAge, minInterval, nil))

	now = now.Add(minInterval)
	assert.Equal(t, []wire.Endpoint{epA}, d.DueForRefresh(now, maxAge, minInterval, nil))

	// filter
	now = t0.Add(time.Hour)
	keepB := func(ep wire.Endpoint) bool { return ep == epB }
	assert.Equal(t, []wire.Endpoint{epB}, d.DueForRefresh(now, maxAge, minInterval, keepB))
	assert.Equal(t, []wire.Endpoint{epA}, d.DueForRefresh(now, maxAge, minInterval, nil))

	// refreshed records are no longer due
	d.Put(epA, []byte("a2"), false, now)
	d.Put(epB, []byte("b2"), false, now)
	assert.Empty(t, d.DueForRefresh(now.Add(time.Hour/2-time.Second), time.Hour, minInterval, nil))
}

func TestDirectory_Waiters(t *testing.T) {
	d := NewDirectory(nil)
	c := wire.MustParseEndpoint("10.0.0.3:100")

	d.AddWaiter(epA, epB)
	d.AddWaiter(epA, c)
	d.AddWaiter(epA, epB)

	assert.Equal(t, []wire.Endpoint{epB, c}, d.TakeWaiters(epA))
	assert.Empty(t, d.TakeWaiters(epA))

	d.AddWaiter(epA, epB)
	d.Remove(epB)
	assert.Empty(t, d.TakeWaiters(epA))
}

func testStore(t *testing.T, s Store) {
	t.Helper()
	now := time.Unix(5000, 0).UTC()

	d := NewDirectory(s)
	d.Put(epA, []byte("alice"), false, now)
	d.Put(epB, []byte("srv"), true, now)
	d.Remove(epB)

	loaded := NewDirectory(s)
	require.NoError(t, loaded.Load())
	r, ok := loaded.Get(epA)
	require.True(t, ok)
	assert.Equal(t, []byte("alice"), r.Info)
	assert.True(t, now.Equal(r.RefreshedAt))
	_, ok = loaded.Get(epB)
	assert.False(t, ok)
}

func TestInMemoryStore(t *testing.T) {
	s := InMemoryStore()
	testStore(t, s)
	require.NoError(t, s.Close())
}

func TestBoltDBStore(t *testing.T) {
	dir, err := ioutil.TempDir("", "userinfo")
	require.NoError(t, err)
	defer func() {
		require.NoError(t, os.RemoveAll(dir))
	}()

	s, err := BoltDBStore(filepath.Join(dir, "userinfo.db"))
	require.NoError(t, err)
	testStore(t, s)
	require.NoError(t, s.Close())
}
