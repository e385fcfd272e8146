package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDigitalTwinAccessors(t *testing.T) {
	twin := DigitalTwin{
		"$dtId": "room1",
		"$etag": `W/"abc"`,
		"$metadata": map[string]interface{}{
			"$model": "dtmi:com:example:Room;1",
		},
	}
	assert.Equal(t, "room1", twin.ID())
	assert.Equal(t, `W/"abc"`, twin.ETag())
	assert.Equal(t, "dtmi:com:example:Room;1", twin.ModelID())

	empty := DigitalTwin{}
	assert.Empty(t, empty.ID())
	assert.Empty(t, empty.ModelID())

	// Metadata materializes the object on first use.
	meta := empty.Metadata()
	meta["$model"] = "dtmi:x;1"
	assert.Equal(t, "dtmi:x;1", empty.ModelID())
}

func TestRelationshipAccessors(t *testing.T) {
	rel := Relationship{
		"$relationshipId":   "r1",
		"$sourceId":         "room1",
		"$targetId":         "desk1",
		"$relationshipName": "contains",
	}
	assert.Equal(t, "r1", rel.ID())
	assert.Equal(t, "room1", rel.SourceID())
	assert.Equal(t, "desk1", rel.TargetID())
	assert.Equal(t, "contains", rel.Name())
	assert.Empty(t, rel.ETag())
}
