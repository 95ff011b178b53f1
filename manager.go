package gqlpipe

import "sync"

// Manager hands out clients. In ModeBrowser the first client it builds is
// retained for the life of the Manager and never replaced; in ModeServer
// every call builds a new client that the Manager forgets immediately, so
// renders never share state.
type Manager struct {
	cfg  Config
	opts []ClientOption

	mu       sync.Mutex
	retained *Client
}

func NewManager(cfg Config, opts ...ClientOption) *Manager {
	return &Manager{cfg: cfg, opts: opts}
}

// Initialize returns a client for mode. A non-nil snapshot is restored into
// the returned client's cache, whether the client is new or retained.
func (m *Manager) Initialize(mode Mode, snapshot *Snapshot) (*Client, error) {
	if mode == ModeServer {
		client, err := NewClient(m.cfg, mode, m.opts...)
		if err != nil {
			return nil, err
		}
		restore(client, snapshot)
		return client, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	client := m.retained
	if client == nil {
		var err error
		client, err = NewClient(m.cfg, mode, m.opts...)
		if err != nil {
			return nil, err
		}
		m.retained = client
	}
	restore(client, snapshot)
	return client, nil
}

// Retained returns the browser client, or nil before the first browser
// Initialize.
func (m *Manager) Retained() *Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retained
}

func restore(client *Client, snapshot *Snapshot) {
	if snapshot != nil {
		client.cache.Restore(*snapshot)
	}
}

// Accessor memoizes Initialize on the snapshot pointer: Use re-derives the
// client only when it is handed a different snapshot than last time.
type Accessor struct {
	manager *Manager
	mode    Mode

	mu       sync.Mutex
	called   bool
	snapshot *Snapshot
	client   *Client
}

func NewAccessor(m *Manager, mode Mode) *Accessor {
	return &Accessor{manager: m, mode: mode}
}

func (a *Accessor) Use(snapshot *Snapshot) (*Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.called && a.snapshot == snapshot {
		return a.client, nil
	}
	client, err := a.manager.Initialize(a.mode, snapshot)
	if err != nil {
		return nil, err
	}
	a.called = true
	a.snapshot = snapshot
	a.client = client
	return client, nil
}
