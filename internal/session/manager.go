package session

import (
	"sync"

	"github.com/google/uuid"

	"cdpintercept/internal/handler"
	"cdpintercept/internal/logger"
	"cdpintercept/pkg/domain"
)

// Manager 全局会话管理器
type Manager struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*Session
	recorder handler.Recorder
	log      logger.Logger
}

// NewManager 创建会话管理器，rec 可为 nil
func NewManager(rec handler.Recorder, l logger.Logger) *Manager {
	if l == nil {
		l = logger.NewNop()
	}
	return &Manager{
		sessions: make(map[domain.SessionID]*Session),
		recorder: rec,
		log:      l,
	}
}

// Create 创建并注册新会话
func (m *Manager) Create(cfg domain.SessionConfig) *Session {
	id := domain.SessionID(uuid.NewString())
	s := New(id, cfg, m.recorder, m.log)

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	m.log.Info("创建业务会话", "sessionID", string(id), "devtools", cfg.DevToolsURL)
	return s
}

// Get 获取会话
func (m *Manager) Get(id domain.SessionID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Delete 注销会话并返回被移除的会话
func (m *Manager) Delete(id domain.SessionID) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
		m.log.Info("销毁业务会话", "sessionID", string(id))
	}
	return s, ok
}

// List 返回所有活动会话
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	return list
}
