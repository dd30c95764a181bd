package argus

import (
	"testing"

	"github.com/life-stream-dev/argus/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLibraryName(t *testing.T) {
	cases := []struct {
		name     string
		database string
		library  string
	}{
		{"lib", "argus", "lib"},
		{"ns.lib", "argus_ns", "lib"},
		{"argus_ns.lib", "argus_ns", "lib"},
		{"ns.lib.sub", "argus_ns", "lib.sub"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			db, lib, err := ParseLibraryName(c.name)
			require.NoError(t, err)
			assert.Equal(t, c.database, db)
			assert.Equal(t, c.library, lib)
		})
	}

	for _, bad := range []string{"", ".lib", "ns."} {
		_, _, err := ParseLibraryName(bad)
		assert.ErrorIs(t, err, errs.ErrInvalidLibraryName, bad)
	}
}

func TestDisplayNameRoundTrip(t *testing.T) {
	for _, name := range []string{"lib", "ns.lib"} {
		db, lib, err := ParseLibraryName(name)
		require.NoError(t, err)
		assert.Equal(t, name, displayName(db, lib))
	}
	for name, want := range map[string]string{"argus_ns.lib": "ns.lib", "argus.lib": "lib", "lib": "lib"} {
		db, lib, err := ParseLibraryName(name)
		require.NoError(t, err)
		assert.Equal(t, want, displayName(db, lib), name)
	}
}

func TestBelongsToLibrary(t *testing.T) {
	assert.True(t, belongsToLibrary("a", "a"))
	assert.True(t, belongsToLibrary("a.ARGUS", "a"))
	assert.False(t, belongsToLibrary("ab", "a"))
	assert.False(t, belongsToLibrary("b.a", "a"))
}

func TestParseConnectionString(t *testing.T) {
	lib, host, err := ParseConnectionString("ns.lib@db.example.com:27017")
	require.NoError(t, err)
	assert.Equal(t, "ns.lib", lib)
	assert.Equal(t, "db.example.com:27017", host)

	lib, host, err = ParseConnectionString("lib@localhost")
	require.NoError(t, err)
	assert.Equal(t, "lib", lib)
	assert.Equal(t, "localhost", host)

	_, _, err = ParseConnectionString("no host")
	assert.ErrorIs(t, err, errs.ErrInvalidLibraryName)
}
