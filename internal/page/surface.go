package page

import (
	"fmt"
	"sync"

	"popup-runtime/internal/domain"
)

// ContainerID is the id of the isolated element every popup is rendered into
const ContainerID = "pb-root"

// Mount is a rendered popup ready to be attached to the page
type Mount struct {
	ContainerID string              `json:"containerId"`
	PopupID     string              `json:"popupId"`
	VersionID   string              `json:"versionId,omitempty"`
	HTML        string              `json:"html"`
	Layout      domain.LayoutConfig `json:"layout"`
	Lang        string              `json:"lang"`
}

// Surface is where the runtime attaches popups and mirrors its event log. The bridge
// implements it over a websocket; MemorySurface implements it in process.
type Surface interface {
	Mount(m Mount) error
	Unmount(containerID, popupID string) error
	PushEventLog(entry domain.EventLogEntry)
}

// MemorySurface records mounts and event log entries. It also tracks the largest number
// of containers that were ever attached at the same time.
type MemorySurface struct {
	mu            sync.Mutex
	mounted       map[string]Mount
	history       []Mount
	eventLog      []domain.EventLogEntry
	maxConcurrent int
}

// NewMemorySurface creates an empty surface
func NewMemorySurface() *MemorySurface {
	return &MemorySurface{mounted: make(map[string]Mount)}
}

func (s *MemorySurface) Mount(m Mount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.mounted[m.ContainerID]; exists {
		return fmt.Errorf("container %q already mounted", m.ContainerID)
	}
	s.mounted[m.ContainerID] = m
	s.history = append(s.history, m)
	if len(s.mounted) > s.maxConcurrent {
		s.maxConcurrent = len(s.mounted)
	}
	return nil
}

func (s *MemorySurface) Unmount(containerID, popupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mounted[containerID]
	if !ok || m.PopupID != popupID {
		return fmt.Errorf("popup %q is not mounted in %q", popupID, containerID)
	}
	delete(s.mounted, containerID)
	return nil
}

func (s *MemorySurface) PushEventLog(entry domain.EventLogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventLog = append(s.eventLog, entry)
}

// Mounted returns the currently attached containers
func (s *MemorySurface) Mounted() []Mount {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Mount, 0, len(s.mounted))
	for _, m := range s.mounted {
		out = append(out, m)
	}
	return out
}

// History returns every mount in order
func (s *MemorySurface) History() []Mount {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Mount(nil), s.history...)
}

// EventLog returns the mirrored event log
func (s *MemorySurface) EventLog() []domain.EventLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.EventLogEntry(nil), s.eventLog...)
}

// MaxConcurrent is the high-water mark of simultaneously mounted containers
func (s *MemorySurface) MaxConcurrent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxConcurrent
}
