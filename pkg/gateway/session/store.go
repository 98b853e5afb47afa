// Package session implements the consultation lifecycle: the experience
// state store, the startup session resolver, the design fetch gateway,
// and the transcript-to-design pipeline.
package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/vozerp/consult-gateway/pkg/core/design"
	"github.com/vozerp/consult-gateway/pkg/gateway/store"
)

// Phase is the user's position in the start, interview, processing,
// design-ready lifecycle.
type Phase string

const (
	PhaseStart        Phase = "start"
	PhaseInterviewing Phase = "interviewing"
	PhaseProcessing   Phase = "processing"
	PhaseDesignReady  Phase = "design_ready"
)

// ParsePhase maps a persisted value back to a Phase, defaulting to
// PhaseStart for anything unrecognized.
func ParsePhase(raw string) Phase {
	switch Phase(strings.TrimSpace(raw)) {
	case PhaseInterviewing:
		return PhaseInterviewing
	case PhaseProcessing:
		return PhaseProcessing
	case PhaseDesignReady:
		return PhaseDesignReady
	default:
		return PhaseStart
	}
}

// Snapshot is a point-in-time copy of the session state. The contained
// design pointer is shared; callers treat it as read-only.
type Snapshot struct {
	Phase          Phase
	ThreadID       string
	Design         *design.Design
	ActiveView     *design.View
	SidebarOpen    bool
	InfoPanelOpen  bool
	VoicePanelOpen bool
	ErrorMessage   string
}

// State is the single source of truth for the consultation session:
// lifecycle phase, thread id, hydrated design, active view, and transient
// UI flags. All mutations go through its methods; a subset is written
// through to durable storage on every change.
//
// Persistence failures are swallowed and logged. The session must stay
// usable even when storage is unavailable.
type State struct {
	mu sync.Mutex

	phase          Phase
	threadID       string
	design         *design.Design
	activeView     *design.View
	sidebarOpen    bool
	infoPanelOpen  bool
	voicePanelOpen bool
	errorMessage   string

	kv     store.KV
	logger *slog.Logger
}

func NewState(kv store.KV, logger *slog.Logger) *State {
	if kv == nil {
		kv = store.NewMemory()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &State{
		phase:       PhaseStart,
		sidebarOpen: true,
		kv:          kv,
		logger:      logger,
	}
}

// Load hydrates the state from durable storage. Called once at startup,
// before any other access. Absent keys keep their defaults.
func (s *State) Load(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if raw, ok, err := s.kv.Get(ctx, store.KeyExperienceState); err != nil {
		s.logger.Warn("load persisted phase failed", "error", err)
	} else if ok {
		s.phase = ParsePhase(raw)
	}
	if raw, ok, err := s.kv.Get(ctx, store.KeyLastThreadID); err != nil {
		s.logger.Warn("load persisted thread id failed", "error", err)
	} else if ok {
		s.threadID = strings.TrimSpace(raw)
	}
	if raw, ok, _ := s.kv.Get(ctx, store.KeySidebarOpen); ok {
		s.sidebarOpen = raw == "true"
	}
	if raw, ok, _ := s.kv.Get(ctx, store.KeyInfoPanelOpen); ok {
		s.infoPanelOpen = raw == "true"
	}
	if raw, ok, _ := s.kv.Get(ctx, store.KeyActiveView); ok {
		var view design.View
		if err := json.Unmarshal([]byte(raw), &view); err != nil {
			s.logger.Warn("persisted active view is malformed, discarding", "error", err)
		} else {
			s.activeView = &view
		}
	}
}

// SetPhase overwrites the lifecycle phase and persists it. Entering
// design_ready collapses the voice panel: the interview surface closes
// when the result is ready.
func (s *State) SetPhase(ctx context.Context, next Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = next
	if next == PhaseDesignReady {
		s.voicePanelOpen = false
	}
	s.persist(ctx, store.KeyExperienceState, string(next))
}

// SetDesign replaces the design wholesale and reconciles the active view:
// if the previously active view exists in the new design by name and table
// it is kept, otherwise the first view is selected, or none when the
// design has no views.
func (s *State) SetDesign(ctx context.Context, doc *design.Design) {
	if doc != nil {
		doc.Normalize()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.design = doc

	switch {
	case doc == nil:
		s.activeView = nil
	case s.activeView != nil && doc.HasView(*s.activeView):
		// Persisted selection survives the reload.
	default:
		s.activeView = doc.FirstView()
	}
	s.persistActiveView(ctx)
}

// SetThreadID overwrites the thread id and persists it. Changing the
// thread id alone never changes phase.
func (s *State) SetThreadID(ctx context.Context, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threadID = strings.TrimSpace(id)
	s.persist(ctx, store.KeyLastThreadID, s.threadID)
}

// SetActiveView selects a view for display. The selection must come from
// the hydrated design; unknown views are ignored.
func (s *State) SetActiveView(ctx context.Context, view design.View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.design == nil || !s.design.HasView(view) {
		s.logger.Warn("ignoring unknown active view", "view", view.Name, "table", view.Table)
		return
	}
	s.activeView = &view
	s.persistActiveView(ctx)
}

func (s *State) SetSidebarOpen(ctx context.Context, open bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sidebarOpen = open
	s.persist(ctx, store.KeySidebarOpen, boolString(open))
}

func (s *State) SetInfoPanelOpen(ctx context.Context, open bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.infoPanelOpen = open
	s.persist(ctx, store.KeyInfoPanelOpen, boolString(open))
}

func (s *State) SetVoicePanelOpen(open bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voicePanelOpen = open
}

// SetError records a user-visible error message. Empty clears it.
func (s *State) SetError(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorMessage = message
}

// Reset tears the session down to defaults and purges the durable copies.
// Used exactly when the user starts a new design cycle.
func (s *State) Reset(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = PhaseStart
	s.threadID = ""
	s.design = nil
	s.activeView = nil
	s.errorMessage = ""
	s.voicePanelOpen = false

	for _, key := range []string{store.KeyExperienceState, store.KeyLastThreadID, store.KeyActiveView} {
		if err := s.kv.Delete(ctx, key); err != nil {
			s.logger.Warn("purge durable key failed", "key", key, "error", err)
		}
	}
}

func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Phase:          s.phase,
		ThreadID:       s.threadID,
		Design:         s.design,
		SidebarOpen:    s.sidebarOpen,
		InfoPanelOpen:  s.infoPanelOpen,
		VoicePanelOpen: s.voicePanelOpen,
		ErrorMessage:   s.errorMessage,
	}
	if s.activeView != nil {
		view := *s.activeView
		snap.ActiveView = &view
	}
	return snap
}

func (s *State) persist(ctx context.Context, key, value string) {
	if err := s.kv.Set(ctx, key, value); err != nil {
		s.logger.Warn("persist failed", "key", key, "error", err)
	}
}

func (s *State) persistActiveView(ctx context.Context) {
	if s.activeView == nil {
		if err := s.kv.Delete(ctx, store.KeyActiveView); err != nil {
			s.logger.Warn("purge active view failed", "error", err)
		}
		return
	}
	raw, err := json.Marshal(s.activeView)
	if err != nil {
		s.logger.Warn("encode active view failed", "error", err)
		return
	}
	s.persist(ctx, store.KeyActiveView, string(raw))
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
