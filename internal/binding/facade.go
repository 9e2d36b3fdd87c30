// Package binding exposes the session manager to user interfaces as an observable state.
package binding

import (
	"context"
	"errors"
	"sync"

	"chatkeep/internal/adapter"
	"chatkeep/internal/chat"
	"chatkeep/internal/session"
	"chatkeep/internal/storage"

	"go.uber.org/zap"
)

// ErrUnavailable is returned by mutations when initialization failed.
var ErrUnavailable = errors.New("session store unavailable")

// Manager 是 Facade 依赖的会话管理器接口；*session.Manager 实现了它
// Manager is what the Facade needs from the session manager; *session.Manager implements it
type Manager interface {
	Init(ctx context.Context) error
	Snapshot() ([]storage.Session, string)
	ActiveID() string
	CreateSession(ctx context.Context, title string) (storage.Session, error)
	DeleteSession(ctx context.Context, id string) error
	AddMessage(ctx context.Context, sessionID string, msg storage.Message) error
	UpdateTitle(ctx context.Context, sessionID, title string) error
	SetActive(id string) bool
	ClearActive()
}

// Factory builds the single Manager a Facade uses for its lifetime.
type Factory func(ctx context.Context) (Manager, error)

// NewFactory returns a Factory building a session.Manager over store.
func NewFactory(store storage.Store, opts ...session.Option) Factory {
	return func(ctx context.Context) (Manager, error) {
		if store == nil {
			return nil, ErrUnavailable
		}
		return session.NewManager(store, opts...), nil
	}
}

// State 发布给界面的快照；订阅者不得修改其中的切片
// State is the snapshot published to UIs; subscribers must treat it as read-only
type State struct {
	Sessions        []storage.Session
	ActiveSessionID string
	IsLoading       bool
	Err             error
}

// ActiveSession is absent when nothing is active or the active id is no longer listed.
func (s State) ActiveSession() (storage.Session, bool) {
	if s.ActiveSessionID == "" {
		return storage.Session{}, false
	}
	for _, sess := range s.Sessions {
		if sess.ID == s.ActiveSessionID {
			return sess, true
		}
	}
	return storage.Session{}, false
}

type listener struct {
	id int
	fn func(State)
}

// Facade 包装 Manager：异步初始化一次，每次变更完成后重新发布快照
// Facade wraps the Manager: it initializes once in the background and republishes after every completed mutation
type Facade struct {
	factory Factory
	logger  *zap.Logger

	startOnce sync.Once
	ready     chan struct{}
	manager   Manager
	initErr   error

	mu        sync.RWMutex
	state     State
	listeners []listener
	nextID    int

	// publishMu 保证快照按获取顺序送达 / publishMu delivers snapshots in the order they were taken
	publishMu sync.Mutex
}

type Option func(*Facade)

func WithLogger(l *zap.Logger) Option {
	return func(f *Facade) {
		if l != nil {
			f.logger = l
		}
	}
}

func New(factory Factory, opts ...Option) *Facade {
	f := &Facade{
		factory: factory,
		logger:  zap.NewNop(),
		ready:   make(chan struct{}),
		state:   State{IsLoading: true},
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.Named("binding")
	return f
}

// Start begins initialization in the background. Later calls do nothing.
func (f *Facade) Start(ctx context.Context) {
	f.startOnce.Do(func() {
		go f.initialize(ctx)
	})
}

// Ready is closed once initialization has finished, successfully or not.
func (f *Facade) Ready() <-chan struct{} {
	return f.ready
}

func (f *Facade) initialize(ctx context.Context) {
	defer close(f.ready)

	m, err := f.factory(ctx)
	if err == nil {
		err = m.Init(ctx)
	}
	if err != nil {
		f.initErr = err
		f.logger.Error("session binding initialization failed", zap.Error(err))
		f.publishMu.Lock()
		f.deliver(State{Err: err})
		f.publishMu.Unlock()
		return
	}
	f.manager = m
	f.republish()
}

func (f *Facade) State() State {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

// Subscribe registers fn for every published state. fn runs on the publishing
// goroutine and must not call back into the Facade.
func (f *Facade) Subscribe(fn func(State)) (unsubscribe func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addListenerLocked(fn)
}

// Watch 返回一个只保留最新状态的通道；ctx 结束时关闭
// Watch returns a channel that always holds the latest state; it closes when ctx ends
func (f *Facade) Watch(ctx context.Context) <-chan State {
	ch := make(chan State, 1)
	var (
		chMu   sync.Mutex
		closed bool
	)
	push := func(s State) {
		chMu.Lock()
		defer chMu.Unlock()
		if closed {
			return
		}
		select {
		case <-ch:
		default:
		}
		ch <- s
	}

	f.publishMu.Lock()
	f.mu.Lock()
	unsubscribe := f.addListenerLocked(push)
	current := f.state
	f.mu.Unlock()
	push(current)
	f.publishMu.Unlock()

	go func() {
		<-ctx.Done()
		unsubscribe()
		chMu.Lock()
		closed = true
		close(ch)
		chMu.Unlock()
	}()
	return ch
}

func (f *Facade) addListenerLocked(fn func(State)) func() {
	id := f.nextID
	f.nextID++
	f.listeners = append(f.listeners, listener{id: id, fn: fn})
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, l := range f.listeners {
			if l.id == id {
				f.listeners = append(f.listeners[:i:i], f.listeners[i+1:]...)
				return
			}
		}
	}
}

// --- Mutations ---

func (f *Facade) CreateSession(ctx context.Context, title string) (storage.Session, error) {
	m, err := f.await(ctx)
	if err != nil {
		return storage.Session{}, err
	}
	sess, err := m.CreateSession(ctx, title)
	f.republish()
	return sess, err
}

func (f *Facade) DeleteSession(ctx context.Context, id string) error {
	m, err := f.await(ctx)
	if err != nil {
		return err
	}
	err = m.DeleteSession(ctx, id)
	f.republish()
	return err
}

// AddMessage appends msg to the active session. With no active session it logs and does nothing.
func (f *Facade) AddMessage(ctx context.Context, msg chat.Message) error {
	m, err := f.await(ctx)
	if err != nil {
		return err
	}
	active := m.ActiveID()
	if active == "" {
		f.logger.Warn("add message without an active session ignored", zap.String("message_id", msg.ID))
		return nil
	}
	return f.addTo(ctx, m, active, msg)
}

// AddMessageTo appends msg to a specific session, independent of the active pointer.
func (f *Facade) AddMessageTo(ctx context.Context, sessionID string, msg chat.Message) error {
	m, err := f.await(ctx)
	if err != nil {
		return err
	}
	return f.addTo(ctx, m, sessionID, msg)
}

func (f *Facade) addTo(ctx context.Context, m Manager, sessionID string, msg chat.Message) error {
	err := m.AddMessage(ctx, sessionID, adapter.ToPersisted(msg))
	f.republish()
	return err
}

func (f *Facade) UpdateSessionTitle(ctx context.Context, id, title string) error {
	m, err := f.await(ctx)
	if err != nil {
		return err
	}
	err = m.UpdateTitle(ctx, id, title)
	f.republish()
	return err
}

// SetActiveSession is synchronous and does no store I/O. Before initialization it does nothing.
func (f *Facade) SetActiveSession(id string) {
	m, ok := f.readyManager()
	if !ok {
		return
	}
	m.SetActive(id)
	f.republish()
}

func (f *Facade) ClearActiveSession() {
	m, ok := f.readyManager()
	if !ok {
		return
	}
	m.ClearActive()
	f.republish()
}

// --- internals ---

func (f *Facade) await(ctx context.Context) (Manager, error) {
	select {
	case <-f.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if f.manager == nil {
		if f.initErr != nil {
			return nil, errors.Join(ErrUnavailable, f.initErr)
		}
		return nil, ErrUnavailable
	}
	return f.manager, nil
}

func (f *Facade) readyManager() (Manager, bool) {
	select {
	case <-f.ready:
	default:
		return nil, false
	}
	return f.manager, f.manager != nil
}

func (f *Facade) republish() {
	f.publishMu.Lock()
	defer f.publishMu.Unlock()
	sessions, active := f.manager.Snapshot()
	f.deliver(State{Sessions: sessions, ActiveSessionID: active})
}

// deliver must be called with publishMu held.
func (f *Facade) deliver(s State) {
	f.mu.Lock()
	f.state = s
	listeners := make([]listener, len(f.listeners))
	copy(listeners, f.listeners)
	f.mu.Unlock()

	for _, l := range listeners {
		l.fn(s)
	}
}
