package engine

import (
	"fmt"
	"sync"

	"github.com/astromechza/sketchsync/pkg/scene"
)

// Surface is the editing surface capability the engine reconciles against.
// The engine never constructs one; the view that owns the canvas does.
//
// Mutation listeners are invoked synchronously before the mutating call
// (ReplaceAll, Add, Remove, Update) returns, and must not be invoked while
// any Surface-internal lock is held.
type Surface interface {
	// ReplaceAll discards the current contents and loads the blob.
	ReplaceAll(blob string) error
	// Serialize returns the full current state as a blob.
	Serialize() (string, error)
	Add(obj scene.Object)
	Remove(id string)
	// Select marks the object as the active selection.
	Select(id string)
	Selection() string
	// OnMutation registers fn to run on every mutation event: object added,
	// modified, removed, or stroke completed. The returned func unsubscribes.
	OnMutation(fn func()) func()
}

// SceneSurface is an in-memory Surface over a scene.Scene. It is the surface
// used by the headless client and by tests; a browser canvas would satisfy
// the same interface.
type SceneSurface struct {
	mu        sync.Mutex
	scene     scene.Scene
	selection string
	nextToken int
	listeners map[int]func()
}

var _ Surface = (*SceneSurface)(nil)

func NewSceneSurface() *SceneSurface {
	return &SceneSurface{scene: scene.Empty(), listeners: map[int]func(){}}
}

func (s *SceneSurface) ReplaceAll(blob string) error {
	sc, err := scene.Decode(blob)
	if err != nil {
		return fmt.Errorf("failed to replace contents: %w", err)
	}
	s.mu.Lock()
	s.scene = sc
	if sc.Find(s.selection) < 0 {
		s.selection = ""
	}
	s.mu.Unlock()
	s.fire()
	return nil
}

func (s *SceneSurface) Serialize() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scene.Encode()
}

func (s *SceneSurface) Add(obj scene.Object) {
	s.mu.Lock()
	s.scene.Objects = append(s.scene.Objects, obj)
	s.mu.Unlock()
	s.fire()
}

// Update replaces the object with the same id, e.g. after a move or resize.
// Unknown ids are ignored.
func (s *SceneSurface) Update(obj scene.Object) {
	s.mu.Lock()
	i := s.scene.Find(obj.ID)
	if i < 0 {
		s.mu.Unlock()
		return
	}
	s.scene.Objects[i] = obj
	s.mu.Unlock()
	s.fire()
}

func (s *SceneSurface) Remove(id string) {
	s.mu.Lock()
	i := s.scene.Find(id)
	if i < 0 {
		s.mu.Unlock()
		return
	}
	s.scene.Objects = append(s.scene.Objects[:i], s.scene.Objects[i+1:]...)
	if s.selection == id {
		s.selection = ""
	}
	s.mu.Unlock()
	s.fire()
}

func (s *SceneSurface) Select(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection = id
}

func (s *SceneSurface) Selection() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selection
}

func (s *SceneSurface) OnMutation(fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextToken++
	token := s.nextToken
	s.listeners[token] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, token)
	}
}

// Scene returns a copy of the current scene.
func (s *SceneSurface) Scene() scene.Scene {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc := s.scene
	sc.Objects = append([]scene.Object(nil), s.scene.Objects...)
	return sc
}

// fire must be called without the surface lock held, so that listeners are
// free to call back into the surface.
func (s *SceneSurface) fire() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
