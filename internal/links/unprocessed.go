package links

import (
	"sync"

	"github.com/google/btree"

	"github.com/jward/xrefdb/internal/idset"
	"github.com/jward/xrefdb/internal/model"
	"github.com/jward/xrefdb/internal/symbols"
)

// topicBatch is the set of new topic IDs sharing one ending symbol.
type topicBatch struct {
	ending   symbols.EndingSymbol
	topicIDs *idset.NumberSet
}

func topicBatchLess(a, b *topicBatch) bool { return a.ending < b.ending }

// imageFileBatch is the set of new image file IDs sharing one lowercase
// file name.
type imageFileBatch struct {
	name    string
	fileIDs *idset.NumberSet
}

func imageFileBatchLess(a, b *imageFileBatch) bool { return a.name < b.name }

// UnprocessedChanges holds the work the resolver hasn't done yet: links and
// image links whose target must be recomputed, and new topics and image
// files that might be better targets for existing ones. It is safe for
// concurrent use.
type UnprocessedChanges struct {
	mu                  sync.Mutex
	linksToResolve      *idset.NumberSet
	newTopics           *btree.BTreeG[*topicBatch]
	imageLinksToResolve *idset.NumberSet
	newImageFiles       *btree.BTreeG[*imageFileBatch]
	allLinksAreNew      bool
}

// NewUnprocessedChanges returns an empty set of changes. When
// reparsingEverything is true, new topics are not recorded until the first
// pick, since every link will be resolved from scratch anyway.
func NewUnprocessedChanges(reparsingEverything bool) *UnprocessedChanges {
	return &UnprocessedChanges{
		linksToResolve:      idset.New(),
		newTopics:           btree.NewG(16, topicBatchLess),
		imageLinksToResolve: idset.New(),
		newImageFiles:       btree.NewG(16, imageFileBatchLess),
		allLinksAreNew:      reparsingEverything,
	}
}

func (u *UnprocessedChanges) AddLink(link *model.Link) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.linksToResolve.Add(link.LinkID)
}

func (u *UnprocessedChanges) DeleteLink(link *model.Link) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.linksToResolve.Remove(link.LinkID)
}

// AddTopic records a new topic as a candidate for links sharing its ending
// symbol.
func (u *UnprocessedChanges) AddTopic(topic *model.Topic) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.allLinksAreNew {
		return
	}
	ending := topic.EndingSymbol()
	if b, ok := u.newTopics.Get(&topicBatch{ending: ending}); ok {
		b.topicIDs.Add(topic.TopicID)
		return
	}
	u.newTopics.ReplaceOrInsert(&topicBatch{ending: ending, topicIDs: idset.New(topic.TopicID)})
}

// DeleteTopic queues the links that targeted topic and forgets it as a new
// topic.
func (u *UnprocessedChanges) DeleteTopic(topic *model.Topic, linksAffected *idset.NumberSet) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if linksAffected != nil {
		u.linksToResolve.AddSet(linksAffected)
	}
	key := &topicBatch{ending: topic.EndingSymbol()}
	if b, ok := u.newTopics.Get(key); ok {
		b.topicIDs.Remove(topic.TopicID)
		if b.topicIDs.IsEmpty() {
			u.newTopics.Delete(key)
		}
	}
}

func (u *UnprocessedChanges) AddImageLink(imageLink *model.ImageLink) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.imageLinksToResolve.Add(imageLink.ImageLinkID)
}

func (u *UnprocessedChanges) DeleteImageLink(imageLink *model.ImageLink) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.imageLinksToResolve.Remove(imageLink.ImageLinkID)
}

// AddImageFile records a new image file as a candidate for image links
// ending in its file name.
func (u *UnprocessedChanges) AddImageFile(fileID int, path string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.allLinksAreNew {
		return
	}
	name := model.ImageFileName(path)
	if b, ok := u.newImageFiles.Get(&imageFileBatch{name: name}); ok {
		b.fileIDs.Add(fileID)
		return
	}
	u.newImageFiles.ReplaceOrInsert(&imageFileBatch{name: name, fileIDs: idset.New(fileID)})
}

// DeleteImageFile queues the image links that targeted the file and
// forgets it as a new image file.
func (u *UnprocessedChanges) DeleteImageFile(fileID int, path string, linksAffected *idset.NumberSet) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if linksAffected != nil {
		u.imageLinksToResolve.AddSet(linksAffected)
	}
	key := &imageFileBatch{name: model.ImageFileName(path)}
	if b, ok := u.newImageFiles.Get(key); ok {
		b.fileIDs.Remove(fileID)
		if b.fileIDs.IsEmpty() {
			u.newImageFiles.Delete(key)
		}
	}
}

// PickLinkID removes and returns the highest queued link ID, or 0 if there
// are none.
func (u *UnprocessedChanges) PickLinkID() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.allLinksAreNew = false
	return u.linksToResolve.Pop()
}

// PickNewTopics removes and returns the new topics with the smallest ending
// symbol. It returns false if there are none.
func (u *UnprocessedChanges) PickNewTopics() (*idset.NumberSet, symbols.EndingSymbol, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.allLinksAreNew = false
	b, ok := u.newTopics.DeleteMin()
	if !ok {
		return nil, "", false
	}
	return b.topicIDs, b.ending, true
}

// PickImageLinkID removes and returns the highest queued image link ID, or
// 0 if there are none.
func (u *UnprocessedChanges) PickImageLinkID() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.allLinksAreNew = false
	return u.imageLinksToResolve.Pop()
}

// PickNewImageFiles removes and returns the new image files with the
// smallest file name. It returns false if there are none.
func (u *UnprocessedChanges) PickNewImageFiles() (*idset.NumberSet, string, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.allLinksAreNew = false
	b, ok := u.newImageFiles.DeleteMin()
	if !ok {
		return nil, "", false
	}
	return b.fileIDs, b.name, true
}

// Count returns the number of queued links and image links plus the number
// of new topics and image files.
func (u *UnprocessedChanges) Count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	n := u.linksToResolve.Count() + u.imageLinksToResolve.Count()
	u.newTopics.Ascend(func(b *topicBatch) bool {
		n += b.topicIDs.Count()
		return true
	})
	u.newImageFiles.Ascend(func(b *imageFileBatch) bool {
		n += b.fileIDs.Count()
		return true
	})
	return n
}

// restoreLink puts back a link ID whose resolution failed.
func (u *UnprocessedChanges) restoreLink(linkID int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.linksToResolve.Add(linkID)
}

// restoreTopics puts back a batch of new topics whose rescoring failed.
func (u *UnprocessedChanges) restoreTopics(ending symbols.EndingSymbol, topicIDs *idset.NumberSet) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if b, ok := u.newTopics.Get(&topicBatch{ending: ending}); ok {
		b.topicIDs.AddSet(topicIDs)
		return
	}
	u.newTopics.ReplaceOrInsert(&topicBatch{ending: ending, topicIDs: topicIDs})
}

func (u *UnprocessedChanges) restoreImageLink(imageLinkID int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.imageLinksToResolve.Add(imageLinkID)
}

func (u *UnprocessedChanges) restoreImageFiles(name string, fileIDs *idset.NumberSet) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if b, ok := u.newImageFiles.Get(&imageFileBatch{name: name}); ok {
		b.fileIDs.AddSet(fileIDs)
		return
	}
	u.newImageFiles.ReplaceOrInsert(&imageFileBatch{name: name, fileIDs: fileIDs})
}
