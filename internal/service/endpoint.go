package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/joeblew999/plat-ows/internal/ows"
	"github.com/joeblew999/plat-ows/pkg/logging"
)

var (
	// ErrNotFound is returned for unknown endpoint or session ids.
	ErrNotFound = errors.New("not found")
	// ErrExists is returned when creating an endpoint whose id is taken.
	ErrExists = errors.New("already exists")
)

// EndpointService manages saved service endpoints.
type EndpointService struct {
	dataDir   string
	endpoints map[string]Endpoint
	mu        sync.RWMutex
}

// NewEndpointService loads endpoints from dataDir. When nothing is saved yet
// it starts with one endpoint per kind in defaults.
func NewEndpointService(dataDir string, defaults map[ows.ServiceKind]string) *EndpointService {
	s := &EndpointService{
		dataDir:   dataDir,
		endpoints: make(map[string]Endpoint),
	}
	if !s.loadFromDisk() {
		for _, kind := range ows.Kinds {
			if u := defaults[kind]; u != "" {
				id := "default_" + string(kind)
				s.endpoints[id] = Endpoint{ID: id, Name: "Default " + kind.Upper(), Kind: kind, URL: u}
			}
		}
	}
	return s
}

// List returns all endpoints, optionally only those of kind, sorted by id.
func (s *EndpointService) List(kind ows.ServiceKind) []Endpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Endpoint, 0, len(s.endpoints))
	for _, ep := range s.endpoints {
		if kind == "" || ep.Kind == kind {
			result = append(result, ep)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Get returns an endpoint by ID.
func (s *EndpointService) Get(id string) (Endpoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ep, ok := s.endpoints[id]
	return ep, ok
}

// DefaultURL returns the URL of the first endpoint of kind.
func (s *EndpointService) DefaultURL(kind ows.ServiceKind) string {
	if eps := s.List(kind); len(eps) > 0 {
		return eps[0].URL
	}
	return ""
}

// Create adds a new endpoint.
func (s *EndpointService) Create(ep Endpoint) (Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ep.ID == "" {
		ep.ID = generateID(ep.Name)
	}
	if ep.ID == "" {
		return Endpoint{}, fmt.Errorf("endpoint name %q yields an empty id", ep.Name)
	}
	if _, exists := s.endpoints[ep.ID]; exists {
		return Endpoint{}, fmt.Errorf("endpoint %q: %w", ep.ID, ErrExists)
	}

	s.endpoints[ep.ID] = ep
	if err := s.saveToDisk(); err != nil {
		delete(s.endpoints, ep.ID)
		return Endpoint{}, err
	}
	return ep, nil
}

// Update replaces an endpoint by ID.
func (s *EndpointService) Update(id string, ep Endpoint) (Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, exists := s.endpoints[id]
	if !exists {
		return Endpoint{}, fmt.Errorf("endpoint %q: %w", id, ErrNotFound)
	}

	ep.ID = id
	s.endpoints[id] = ep
	if err := s.saveToDisk(); err != nil {
		s.endpoints[id] = prev
		return Endpoint{}, err
	}
	return ep, nil
}

// Delete removes an endpoint by ID.
func (s *EndpointService) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.endpoints[id]; !exists {
		return fmt.Errorf("endpoint %q: %w", id, ErrNotFound)
	}
	delete(s.endpoints, id)
	return s.saveToDisk()
}

func (s *EndpointService) configFile() string {
	return filepath.Join(s.dataDir, "endpoints.json")
}

// loadFromDisk reports whether a saved file was read.
func (s *EndpointService) loadFromDisk() bool {
	data, err := os.ReadFile(s.configFile())
	if err != nil {
		return false
	}

	var endpoints map[string]Endpoint
	if err := json.Unmarshal(data, &endpoints); err != nil {
		logging.Warn("Server", "ignoring invalid %s: %v", s.configFile(), err)
		return false
	}
	s.endpoints = endpoints
	return true
}

func (s *EndpointService) saveToDisk() error {
	if err := os.MkdirAll(s.dataDir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s.endpoints, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.configFile(), data, 0644)
}

// generateID creates a URL-safe ID from a name.
func generateID(name string) string {
	id := strings.ToLower(name)
	id = strings.ReplaceAll(id, " ", "_")
	var result strings.Builder
	for _, r := range id {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			result.WriteRune(r)
		}
	}
	return result.String()
}
