package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/sketchsync/pkg/scene"
)

func TestSceneSurfaceMutationEvents(t *testing.T) {
	s := NewSceneSurface()
	count := 0
	unsubscribe := s.OnMutation(func() {
		count++
	})

	rect := scene.NewRectangle(0, 0, 10, 10)
	s.Add(rect)
	assert.Equal(t, 1, count)

	rect.X = 5
	s.Update(rect)
	assert.Equal(t, 2, count)

	s.Update(scene.NewRectangle(0, 0, 1, 1)) // unknown id, no event
	assert.Equal(t, 2, count)

	require.NoError(t, s.ReplaceAll(scene.EmptyBlob()))
	assert.Equal(t, 3, count)

	unsubscribe()
	s.Add(scene.NewEllipse(0, 0, 5, 5))
	assert.Equal(t, 3, count)
}

func TestSceneSurfaceListenerMayCallBackIn(t *testing.T) {
	s := NewSceneSurface()
	var blob string
	s.OnMutation(func() {
		// Listeners run without surface locks held, so this must not
		// deadlock.
		var err error
		blob, err = s.Serialize()
		require.NoError(t, err)
	})
	s.Add(scene.NewRectangle(0, 0, 10, 10))
	assert.NotEmpty(t, blob)
}

func TestSceneSurfaceSelectionFollowsRemovals(t *testing.T) {
	s := NewSceneSurface()
	rect := scene.NewRectangle(0, 0, 10, 10)
	s.Add(rect)
	s.Select(rect.ID)
	assert.Equal(t, rect.ID, s.Selection())

	s.Remove(rect.ID)
	assert.Equal(t, "", s.Selection())
	assert.Empty(t, s.Scene().Objects)
}

func TestSceneSurfaceReplaceAllRejectsBadBlob(t *testing.T) {
	s := NewSceneSurface()
	rect := scene.NewRectangle(0, 0, 10, 10)
	s.Add(rect)
	assert.Error(t, s.ReplaceAll("junk"))
	// A failed load leaves the contents untouched.
	assert.Equal(t, 0, s.Scene().Find(rect.ID))
}
