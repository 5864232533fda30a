package codedb

import (
	"context"

	"github.com/jward/xrefdb/internal/idset"
	"github.com/jward/xrefdb/internal/model"
	"github.com/jward/xrefdb/internal/symbols"
)

// ChangeWatcher is notified synchronously of every topic and link change.
// Callbacks run while the DatabaseLock is held by the changing accessor, so
// they must not try to get another lock. Use the EventAccessor for any
// follow-up reads.
type ChangeWatcher interface {
	OnAddTopic(topic *model.Topic, ev *EventAccessor)
	OnUpdateTopic(oldTopic, newTopic *model.Topic, flags model.ChangeFlags, ev *EventAccessor)
	// OnDeleteTopic runs before the topic is removed. linksAffected holds
	// every link that targeted it.
	OnDeleteTopic(topic *model.Topic, linksAffected *idset.NumberSet, ev *EventAccessor)
	OnAddLink(link *model.Link, ev *EventAccessor)
	OnChangeLinkTarget(link *model.Link, oldTargetTopicID, oldTargetClassID int, ev *EventAccessor)
	// OnDeleteLink runs before the link is removed.
	OnDeleteLink(link *model.Link, ev *EventAccessor)
	OnAddImageLink(imageLink *model.ImageLink, ev *EventAccessor)
	OnChangeImageLinkTarget(imageLink *model.ImageLink, oldTargetFileID int, ev *EventAccessor)
	// OnDeleteImageLink runs before the image link is removed.
	OnDeleteImageLink(imageLink *model.ImageLink, ev *EventAccessor)
}

// EventAccessor exposes the read queries of the accessor that triggered an
// event. The lock is already held, so no lock calls are available.
type EventAccessor struct {
	a *Accessor
}

func (e *EventAccessor) GetTopicsByID(ctx context.Context, ids *idset.NumberSet, flags GetTopicFlags) ([]*model.Topic, error) {
	return e.a.GetTopicsByID(ctx, ids, flags)
}

func (e *EventAccessor) GetTopicsInFile(ctx context.Context, fileID int, flags GetTopicFlags) ([]*model.Topic, error) {
	return e.a.GetTopicsInFile(ctx, fileID, flags)
}

func (e *EventAccessor) GetTopicsInClass(ctx context.Context, classID int, flags GetTopicFlags) ([]*model.Topic, error) {
	return e.a.GetTopicsInClass(ctx, classID, flags)
}

func (e *EventAccessor) GetLinkByID(ctx context.Context, linkID int, flags GetLinkFlags) (*model.Link, error) {
	return e.a.GetLinkByID(ctx, linkID, flags)
}

func (e *EventAccessor) GetLinksInFile(ctx context.Context, fileID int, flags GetLinkFlags) ([]*model.Link, error) {
	return e.a.GetLinksInFile(ctx, fileID, flags)
}

func (e *EventAccessor) GetImageLinkByID(ctx context.Context, imageLinkID int, flags GetLinkFlags) (*model.ImageLink, error) {
	return e.a.GetImageLinkByID(ctx, imageLinkID, flags)
}

func (e *EventAccessor) GetClassByID(ctx context.Context, classID int) (symbols.ClassString, error) {
	return e.a.GetClassByID(ctx, classID)
}

func (e *EventAccessor) GetContextByID(ctx context.Context, contextID int) (symbols.ContextString, error) {
	return e.a.GetContextByID(ctx, contextID)
}

// AddChangeWatcher appends w to the notification list.
func (m *Manager) AddChangeWatcher(w ChangeWatcher) {
	m.watchersMu.Lock()
	defer m.watchersMu.Unlock()
	m.watchers = append(m.watchers, w)
}

// AddPriorityChangeWatcher puts w ahead of every existing watcher.
func (m *Manager) AddPriorityChangeWatcher(w ChangeWatcher) {
	m.watchersMu.Lock()
	defer m.watchersMu.Unlock()
	m.watchers = append([]ChangeWatcher{w}, m.watchers...)
}

// RemoveChangeWatcher removes w, compared by identity.
func (m *Manager) RemoveChangeWatcher(w ChangeWatcher) {
	m.watchersMu.Lock()
	defer m.watchersMu.Unlock()
	for i, existing := range m.watchers {
		if existing == w {
			m.watchers = append(m.watchers[:i], m.watchers[i+1:]...)
			return
		}
	}
}

// notify calls fn for each watcher in order. The caller must already hold
// the DatabaseLock.
func (m *Manager) notify(a *Accessor, fn func(w ChangeWatcher, ev *EventAccessor)) {
	m.watchersMu.Lock()
	defer m.watchersMu.Unlock()
	if len(m.watchers) == 0 {
		return
	}
	ev := &EventAccessor{a: a}
	for _, w := range m.watchers {
		fn(w, ev)
	}
}
