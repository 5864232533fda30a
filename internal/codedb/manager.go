package codedb

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jward/xrefdb/internal/errors"
	"github.com/jward/xrefdb/internal/idset"
	"github.com/jward/xrefdb/internal/logging"
	"github.com/jward/xrefdb/internal/model"
	"github.com/jward/xrefdb/internal/store"
	"github.com/jward/xrefdb/internal/symbols"
)

// Manager owns the state shared by every accessor: the DatabaseLock, the
// used ID sets, the reference change caches and the change watchers.
// The ID sets and caches may only be touched while the DatabaseLock is
// held.
type Manager struct {
	store       *store.Store
	lock        *DatabaseLock
	interpreter *symbols.Interpreter
	betterClass func(current, toTest *model.Topic) bool
	logger      *slog.Logger

	usedTopicIDs   *idset.NumberSet
	usedLinkIDs    *idset.NumberSet
	usedClassIDs   *idset.NumberSet
	usedContextIDs *idset.NumberSet

	usedImageLinkIDs *idset.NumberSet

	classRefs   *ReferenceChangeCache
	contextRefs *ReferenceChangeCache

	watchersMu sync.Mutex
	watchers   []ChangeWatcher
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithInterpreter sets the link text interpreter used by AddLink.
func WithInterpreter(in *symbols.Interpreter) ManagerOption {
	return func(m *Manager) {
		if in != nil {
			m.interpreter = in
		}
	}
}

// WithClassDefinitionRanker sets the function GetBestClassDefinitionTopics
// uses to pick between topics defining the same class. It reports whether
// toTest is a better definition than current.
func WithClassDefinitionRanker(fn func(current, toTest *model.Topic) bool) ManagerOption {
	return func(m *Manager) {
		if fn != nil {
			m.betterClass = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logging.OrDefault(logger)
	}
}

// NewManager returns a Manager over st. Call Start before getting
// accessors.
func NewManager(st *store.Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:            st,
		lock:             NewDatabaseLock(),
		interpreter:      symbols.DefaultInterpreter(),
		betterClass:      lowerPositionIsBetter,
		logger:           slog.Default(),
		usedTopicIDs:     idset.New(),
		usedLinkIDs:      idset.New(),
		usedClassIDs:     idset.New(),
		usedContextIDs:   idset.New(),
		usedImageLinkIDs: idset.New(),
		classRefs:        NewReferenceChangeCache(),
		contextRefs:      NewReferenceChangeCache(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// lowerPositionIsBetter prefers class definitions, then the earliest one.
func lowerPositionIsBetter(current, toTest *model.Topic) bool {
	if toTest.DefinesClass != current.DefinesClass {
		return toTest.DefinesClass
	}
	if current.FileID != toTest.FileID {
		return toTest.FileID < current.FileID
	}
	return toTest.FilePosition < current.FilePosition
}

// Start loads the used ID sets from the System table.
func (m *Manager) Start(ctx context.Context) error {
	st, err := m.store.LoadSystem(ctx)
	if err != nil {
		return err
	}
	m.lock.AcquireReadPossibleWrite(true)
	m.lock.UpgradeToReadWrite()
	defer m.lock.ReleaseReadWrite()
	m.usedTopicIDs = st.UsedTopicIDs
	m.usedLinkIDs = st.UsedLinkIDs
	m.usedClassIDs = st.UsedClassIDs
	m.usedContextIDs = st.UsedContextIDs
	m.usedImageLinkIDs = st.UsedImageLinkIDs
	m.logger.Debug("code database started",
		"topics", m.usedTopicIDs.Count(), "links", m.usedLinkIDs.Count(),
		"image_links", m.usedImageLinkIDs.Count(),
		"classes", m.usedClassIDs.Count(), "contexts", m.usedContextIDs.Count())
	return nil
}

// Store returns the underlying store.
func (m *Manager) Store() *store.Store {
	return m.store
}

// Lock returns the DatabaseLock.
func (m *Manager) Lock() *DatabaseLock {
	return m.lock
}

// NewAccessor reserves a connection and returns an accessor holding no lock.
// Priority accessors are not held back by waiting non-priority callers.
func (m *Manager) NewAccessor(ctx context.Context, priority bool) (*Accessor, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeCancelled, "new accessor")
	}
	conn, err := m.store.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return newAccessor(m, conn, priority), nil
}

// Cleanup flushes both reference change caches.
func (m *Manager) Cleanup(ctx context.Context) error {
	a, err := m.NewAccessor(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	a.GetReadPossibleWriteLock()
	defer a.ReleaseLock()

	if err := a.FlushClassReferenceChangeCache(ctx); err != nil {
		return err
	}
	return a.FlushContextReferenceChangeCache(ctx)
}

// Close flushes the caches, saves the used ID sets and closes the store.
func (m *Manager) Close(ctx context.Context) error {
	if m.lock.IsLocked() {
		return errors.New(errors.CodeLockDiscipline, "closing the code database while locks are held")
	}
	if err := m.Cleanup(ctx); err != nil {
		m.store.Close()
		return err
	}
	if err := m.SaveSystem(ctx); err != nil {
		m.store.Close()
		return err
	}
	return m.store.Close()
}

// SaveSystem writes the used ID sets to the System table.
func (m *Manager) SaveSystem(ctx context.Context) error {
	m.lock.AcquireReadOnly(true)
	defer m.lock.ReleaseReadOnly()
	return m.store.SaveSystem(ctx, &store.SystemState{
		UsedTopicIDs:   m.usedTopicIDs,
		UsedLinkIDs:    m.usedLinkIDs,
		UsedClassIDs:   m.usedClassIDs,
		UsedContextIDs: m.usedContextIDs,

		UsedImageLinkIDs: m.usedImageLinkIDs,
	})
}

// UsedIDCounts returns the number of used topic, link, class and context
// IDs. The caller must hold a lock.
func (m *Manager) UsedIDCounts() (topics, links, classes, contexts int) {
	return m.usedTopicIDs.Count(), m.usedLinkIDs.Count(), m.usedClassIDs.Count(), m.usedContextIDs.Count()
}

// UsedImageLinkIDCount returns the number of used image link IDs. The
// caller must hold a lock.
func (m *Manager) UsedImageLinkIDCount() int {
	return m.usedImageLinkIDs.Count()
}
