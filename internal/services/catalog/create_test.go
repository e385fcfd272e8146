package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeBasesWalksTransitively(t *testing.T) {
	extends := map[string][]string{
		"dtmi:habitable;1": {"dtmi:planet;1"},
		"dtmi:planet;1":    {"dtmi:body;1"},
		"dtmi:body;1":      nil,
	}
	parents := func(id string) []string { return extends[id] }

	assert.Equal(t, []string{"dtmi:planet;1", "dtmi:body;1"},
		computeBases("dtmi:habitable;1", parents))
	assert.Equal(t, []string{"dtmi:body;1"}, computeBases("dtmi:planet;1", parents))
	assert.Empty(t, computeBases("dtmi:body;1", parents))
}

func TestComputeBasesOrdersEachLevel(t *testing.T) {
	extends := map[string][]string{
		"dtmi:d;1": {"dtmi:z;1", "dtmi:a;1"},
		"dtmi:z;1": {"dtmi:base;1"},
		"dtmi:a;1": {"dtmi:base;1"},
	}
	parents := func(id string) []string { return extends[id] }

	// Direct parents sort lexicographically; shared ancestors appear once.
	assert.Equal(t, []string{"dtmi:a;1", "dtmi:z;1", "dtmi:base;1"},
		computeBases("dtmi:d;1", parents))
}

func TestComputeBasesHandlesDiamond(t *testing.T) {
	extends := map[string][]string{
		"dtmi:bottom;1": {"dtmi:left;1", "dtmi:right;1"},
		"dtmi:left;1":   {"dtmi:top;1"},
		"dtmi:right;1":  {"dtmi:top;1"},
	}
	parents := func(id string) []string { return extends[id] }

	bases := computeBases("dtmi:bottom;1", parents)
	assert.Equal(t, []string{"dtmi:left;1", "dtmi:right;1", "dtmi:top;1"}, bases)
}

func TestOrEmpty(t *testing.T) {
	assert.Equal(t, []string{}, orEmpty(nil))
	assert.Equal(t, []string{"a"}, orEmpty([]string{"a"}))
}

func TestContainsString(t *testing.T) {
	assert.True(t, containsString([]string{"a", "b"}, "b"))
	assert.False(t, containsString(nil, "a"))
}
