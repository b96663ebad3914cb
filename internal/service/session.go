// Package service manages the open conversational AI sessions.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/convoai/internal/dispatch"
	"github.com/capitalize-ai/convoai/internal/model"
	"github.com/capitalize-ai/convoai/internal/session"
	"github.com/capitalize-ai/convoai/pkg/logger"
	"github.com/capitalize-ai/convoai/pkg/metrics"
)

// ErrSessionNotFound is returned for channels without an open session.
var ErrSessionNotFound = errors.New("session not found")

// Archiver provides an observer that persists a channel's captions.
type Archiver interface {
	Observer(channel string) model.Observer
}

// Session is one subscribed channel with its own dispatch goroutine.
type Session struct {
	channel  string
	openedAt time.Time
	router   *session.Router
	loop     *dispatch.Loop
	archiver model.Observer
	cancel   context.CancelFunc
	done     chan struct{}
}

// Channel returns the session's channel.
func (s *Session) Channel() string { return s.channel }

// Router returns the session's router.
func (s *Session) Router() *session.Router { return s.router }

// Done is closed when the session is closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Info returns a snapshot of the session.
func (s *Session) Info() model.SessionInfo {
	return model.SessionInfo{
		Channel:     s.channel,
		AgentUserID: s.router.AgentUserID(),
		Watermark:   s.router.Watermark(),
		RenderMode:  s.router.RenderMode(),
		Observers:   s.router.ObserverCount(),
		OpenedAt:    s.openedAt,
	}
}

// Watch registers a buffered event stream. The returned function removes it.
func (s *Session) Watch(buffer int) (*EventStream, func()) {
	es := newEventStream(buffer)
	s.router.AddObserver(es)
	return es, func() {
		s.router.RemoveObserver(es)
	}
}

// SessionService keeps one session per channel.
type SessionService struct {
	transport session.Transport
	archive   Archiver
	cfg       session.Config
	logger    *logger.Logger

	sessions map[string]*Session
	mu       sync.RWMutex
}

// NewSessionService creates a session service. archive may be nil.
func NewSessionService(transport session.Transport, archive Archiver, cfg session.Config, log *logger.Logger) *SessionService {
	if log == nil {
		log = logger.Global()
	}
	return &SessionService{
		transport: transport,
		archive:   archive,
		cfg:       cfg,
		logger:    log,
		sessions:  make(map[string]*Session),
	}
}

// Open subscribes to channel. Opening an already open channel resubscribes,
// which resets its state watermark. It reports whether a session was created.
func (s *SessionService) Open(ctx context.Context, channel string) (*Session, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[channel]; ok {
		if err := sess.router.Subscribe(channel); err != nil {
			return nil, false, fmt.Errorf("failed to resubscribe: %w", err)
		}
		return sess, false, nil
	}

	log := s.logger.WithSession(channel)
	loop := dispatch.NewLoop(dispatch.WithPanicHandler(func(v any) {
		log.Error("observer panicked", zap.Any("panic", v))
	}))
	router := session.NewRouter(s.transport, loop, s.cfg, log)

	if err := router.Subscribe(channel); err != nil {
		loop.Close()
		return nil, false, err
	}

	revealCtx, cancel := context.WithCancel(context.Background())
	sess := &Session{
		channel:  channel,
		openedAt: time.Now().UTC(),
		router:   router,
		loop:     loop,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	if s.archive != nil {
		sess.archiver = s.archive.Observer(channel)
		router.AddObserver(sess.archiver)
	}
	go router.RunReveal(revealCtx)

	s.sessions[channel] = sess
	metrics.SessionsActive.Inc()
	log.Info("session opened")

	return sess, true, nil
}

// Get returns the open session of channel.
func (s *SessionService) Get(channel string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[channel]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// List returns every open session ordered by channel.
func (s *SessionService) List() []model.SessionInfo {
	s.mu.RLock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()

	infos := make([]model.SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, sess.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Channel < infos[j].Channel })
	return infos
}

// Close unsubscribes and tears down the session of channel.
func (s *SessionService) Close(channel string) error {
	s.mu.Lock()
	sess, ok := s.sessions[channel]
	if ok {
		delete(s.sessions, channel)
	}
	s.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	return s.teardown(sess)
}

// CloseAll tears down every session.
func (s *SessionService) CloseAll() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	for _, sess := range sessions {
		if err := s.teardown(sess); err != nil {
			s.logger.Warn("failed to close session", zap.String("channel", sess.channel), zap.Error(err))
		}
	}
}

func (s *SessionService) teardown(sess *Session) error {
	err := sess.router.Destroy()
	sess.cancel()
	sess.loop.Close()
	close(sess.done)

	metrics.SessionsActive.Dec()
	s.logger.Info("session closed", zap.String("channel", sess.channel))
	return err
}
