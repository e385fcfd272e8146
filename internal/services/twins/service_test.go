package twins

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/tessera/internal/models"
)

func TestEtagForIsDeterministicAndVersioned(t *testing.T) {
	a := etagFor("twin1", 1)
	b := etagFor("twin1", 1)
	c := etagFor("twin1", 2)
	d := etagFor("twin2", 1)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
	assert.True(t, strings.HasPrefix(a, `W/"`))
	assert.True(t, strings.HasSuffix(a, `"`))
}

func TestCheckIfMatch(t *testing.T) {
	current := etagFor("twin1", 3)

	assert.NoError(t, checkIfMatch("", current))
	assert.NoError(t, checkIfMatch("*", current))
	assert.NoError(t, checkIfMatch(current, current))

	err := checkIfMatch(etagFor("twin1", 2), current)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindPreconditionFailed))
}

func TestPopVersion(t *testing.T) {
	props := map[string]interface{}{
		"$dtId":    "room1",
		"$version": float64(7),
	}
	assert.Equal(t, int64(7), popVersion(props))
	assert.NotContains(t, props, "$version")

	// Absent counter reads as zero.
	assert.Equal(t, int64(0), popVersion(map[string]interface{}{}))
}

func TestAsInt(t *testing.T) {
	assert.Equal(t, int64(3), asInt(float64(3)))
	assert.Equal(t, int64(3), asInt(int64(3)))
	assert.Equal(t, int64(3), asInt(3))
	assert.Equal(t, int64(0), asInt("3"))
	assert.Equal(t, int64(0), asInt(nil))
}
