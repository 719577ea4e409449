package client

import (
	"sync"
)

// MockState is an in-memory StateStore for tests
type MockState struct {
	mu sync.RWMutex

	config  map[string]string
	servers map[string]string // server address -> player name
	dir     string

	// Error injection
	getConfigErr   error
	setConfigErr   error
	recordBoundErr error
}

// NewMockState creates a new mock state
func NewMockState() *MockState {
	return &MockState{
		config:  make(map[string]string),
		servers: make(map[string]string),
		dir:     "/tmp/mock-state",
	}
}

// GetConfig retrieves a configuration value
func (s *MockState) GetConfig(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.getConfigErr != nil {
		return "", s.getConfigErr
	}
	return s.config[key], nil
}

// SetConfig stores a configuration value
func (s *MockState) SetConfig(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.setConfigErr != nil {
		return s.setConfigErr
	}
	s.config[key] = value
	return nil
}

func (s *MockState) GetLastPlayerName() string {
	name, _ := s.GetConfig(configLastPlayerName)
	return name
}

func (s *MockState) GetLastServer() string {
	server, _ := s.GetConfig(configLastServer)
	return server
}

// RecordBound remembers a successful bind
func (s *MockState) RecordBound(serverAddress, playerName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.recordBoundErr != nil {
		return s.recordBoundErr
	}
	s.config[configLastPlayerName] = playerName
	s.config[configLastServer] = serverAddress
	s.servers[serverAddress] = playerName
	return nil
}

func (s *MockState) PlayerNameFor(serverAddress string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.servers[serverAddress], nil
}

// GetStateDir returns the directory where state is stored
func (s *MockState) GetStateDir() string {
	return s.dir
}

// Close closes the mock state (no-op for in-memory)
func (s *MockState) Close() error {
	return nil
}

// Test helpers

// SetGetConfigError sets an error to return from GetConfig()
func (s *MockState) SetGetConfigError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getConfigErr = err
}

// SetSetConfigError sets an error to return from SetConfig()
func (s *MockState) SetSetConfigError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setConfigErr = err
}

// SetRecordBoundError sets an error to return from RecordBound()
func (s *MockState) SetRecordBoundError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordBoundErr = err
}

var _ StateStore = (*MockState)(nil)
