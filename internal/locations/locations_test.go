package locations

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults_FirstIsConus(t *testing.T) {
	all := Defaults()
	require.NotEmpty(t, all)
	assert.Equal(t, "US", all[0].Name)
	assert.Equal(t, "conus", all[0].RadarSite)
}

func TestFind_CaseInsensitive(t *testing.T) {
	loc, err := Find(Defaults(), "portland")
	require.NoError(t, err)
	assert.Equal(t, "krtx", loc.RadarSite)
}

func TestFind_Unknown(t *testing.T) {
	_, err := Find(Defaults(), "Atlantis")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Atlantis")
}

func TestNames(t *testing.T) {
	names := Names(Defaults())
	assert.Equal(t, []string{"US", "Dover", "Sue", "Bob", "Portland", "Franzi"}, names)
}

func TestLocation_FallsBackToUTC(t *testing.T) {
	assert.Equal(t, time.UTC, HomeLocation{}.Location())
	assert.Equal(t, time.UTC, HomeLocation{TimeZone: "Not/AZone"}.Location())
}

func TestMarker3857(t *testing.T) {
	p := HomeLocation{Lon: 0, Lat: 0}.Marker3857()
	assert.InDelta(t, 0.0, p.X, 1e-6)
	assert.InDelta(t, 0.0, p.Y, 1e-6)
}
