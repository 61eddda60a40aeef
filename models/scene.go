package models

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/google/uuid"
)

// Scene drives frame-based components: registered frame handlers run once
// per frame tick, ordered by handler id.
type Scene struct {
	ID        uint32
	SceneUUID string

	frameDuration time.Duration
	frame         atomic.Uint64

	viewerMutex sync.RWMutex
	viewer      Viewer

	moduleStates map[string]any
	moduleMutex  sync.RWMutex

	startFrameOnce  sync.Once
	closeFrameChan  chan struct{}
	frameTicker     *time.Ticker
	frameHandlerIDs SequentialIDGenerator
	frameHandlers   map[uint32]func()
	frameMutex      sync.RWMutex

	closeOnce sync.Once
}

func NewScene(id uint32, frameDuration time.Duration) *Scene {
	instrumentIncreaseSceneGauge()

	return &Scene{
		ID:             id,
		SceneUUID:      uuid.New().String(),
		frameDuration:  frameDuration,
		viewer:         DefaultViewer(),
		closeFrameChan: make(chan struct{}, 1),
		frameTicker:    time.NewTicker(frameDuration),
		moduleStates:   make(map[string]any),
		frameHandlers:  make(map[uint32]func()),
	}
}

func (s *Scene) Close() {
	s.closeOnce.Do(func() {
		s.frameTicker.Stop()
		s.closeFrameChan <- struct{}{}
		instrumentDecreaseSceneGauge()
	})
}

// Frame returns the number of frames dispatched so far.
func (s *Scene) Frame() uint64 {
	return s.frame.Load()
}

func (s *Scene) FrameDuration() time.Duration {
	return s.frameDuration
}

func (s *Scene) SetViewer(v Viewer) {
	s.viewerMutex.Lock()
	defer s.viewerMutex.Unlock()

	s.viewer = v
}

func (s *Scene) Viewer() Viewer {
	s.viewerMutex.RLock()
	defer s.viewerMutex.RUnlock()

	return s.viewer
}

func (s *Scene) SetModuleState(moduleName string, state any) {
	s.moduleMutex.Lock()
	defer s.moduleMutex.Unlock()

	s.moduleStates[moduleName] = state
}

func (s *Scene) ModuleState(moduleName string) (any, bool) {
	s.moduleMutex.RLock()
	defer s.moduleMutex.RUnlock()

	state, ok := s.moduleStates[moduleName]
	return state, ok
}

// HandleFrame registers a handler called on every frame. The returned
// function unregisters it.
func (s *Scene) HandleFrame(h func()) (cancel func()) {
	s.frameMutex.Lock()
	defer s.frameMutex.Unlock()

	id := s.frameHandlerIDs.New()
	s.frameHandlers[id] = h

	return func() {
		s.frameMutex.Lock()
		defer s.frameMutex.Unlock()

		if _, ok := s.frameHandlers[id]; !ok {
			return
		}
		delete(s.frameHandlers, id)
		s.frameHandlerIDs.Reuse(id)
	}
}

// StartDispatchFrames dispatches frames until the scene is closed. It blocks
// and only runs once.
func (s *Scene) StartDispatchFrames() {
	s.startFrameOnce.Do(func() {
		logs.WithTag("scene_uuid", s.SceneUUID).
			WithTag("frame_duration", s.frameDuration).
			Info("starting frame dispatch")

		defer func() {
			logs.WithTag("scene_uuid", s.SceneUUID).
				WithTag("frames", s.Frame()).
				Info("frame dispatch stopped")
		}()

		for {
			select {
			case <-s.closeFrameChan:
				return

			case <-s.frameTicker.C:
				s.DispatchFrame()
			}
		}
	})
}

// DispatchFrame runs every frame handler once and advances the frame
// counter.
func (s *Scene) DispatchFrame() {
	start := time.Now()

	s.frameMutex.RLock()
	ids := make([]uint32, 0, len(s.frameHandlers))
	for id := range s.frameHandlers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool {
		return ids[a] < ids[b]
	})

	handlers := make([]func(), 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, s.frameHandlers[id])
	}
	s.frameMutex.RUnlock()

	for _, h := range handlers {
		h()
	}

	frame := s.frame.Add(1)
	elapsed := time.Since(start)
	slow := s.frameDuration > 0 && elapsed > s.frameDuration
	if slow {
		logs.WithTag("scene_uuid", s.SceneUUID).
			WithTag("frame", frame).
			WithTag("duration", elapsed).
			Warn("slow frame")
	}
	instrumentFrame(elapsed, slow)
}
