// Package links resolves every link in the code database to the topic that
// best matches it, and every image link to the image file that best matches
// it, and keeps those targets current as topics, files and links change.
package links

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/jward/xrefdb/internal/codedb"
	"github.com/jward/xrefdb/internal/errors"
	"github.com/jward/xrefdb/internal/idset"
	"github.com/jward/xrefdb/internal/logging"
	"github.com/jward/xrefdb/internal/model"
	"github.com/jward/xrefdb/internal/observability"
	"github.com/jward/xrefdb/internal/symbols"
)

const (
	candidateTopicFlags = codedb.BodyLengthOnly | codedb.DontLookupClasses | codedb.DontLookupContexts
	resolveLinkFlags    = codedb.DontLookupLinkClasses
)

// Resolver keeps every link pointed at its best topic. It learns about
// changes as a codedb.ChangeWatcher and works through them in
// WorkOnResolvingLinks, which any number of goroutines may run at once.
type Resolver struct {
	manager *codedb.Manager
	scorer  *Scorer
	changes *UnprocessedChanges
	logger  *slog.Logger

	mu         sync.Mutex
	inProgress int
}

var _ codedb.ChangeWatcher = (*Resolver)(nil)

// NewResolver returns a resolver over manager. Register it with
// manager.AddChangeWatcher before any changes are made.
func NewResolver(manager *codedb.Manager, scorer *Scorer, changes *UnprocessedChanges, logger *slog.Logger) *Resolver {
	return &Resolver{
		manager: manager,
		scorer:  scorer,
		changes: changes,
		logger:  logging.OrDefault(logger),
	}
}

// Status is a snapshot of the resolver's progress.
type Status struct {
	InProgress int
	Remaining  int
}

// Status returns the number of changes being worked on and the number still
// queued.
func (r *Resolver) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{InProgress: r.inProgress, Remaining: r.changes.Count()}
}

// Run resolves every queued change using workers goroutines and returns the
// first error.
func (r *Resolver) Run(ctx context.Context, workers int) (err error) {
	workers = max(workers, 1)
	ctx, span := observability.Tracer.Start(ctx, "links.Resolve")
	span.SetAttributes(
		attribute.Int("workers", workers),
		attribute.Int("changes", r.changes.Count()),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			return r.WorkOnResolvingLinks(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	r.logger.Info("links resolved", "workers", workers)
	return nil
}

// WorkOnResolvingLinks takes changes off the queue until it is empty or ctx
// is cancelled. Queued links and image links are resolved before new topics
// and image files are considered.
// When several goroutines call it the work is shared between them, so one
// returning doesn't mean the others are done.
func (r *Resolver) WorkOnResolvingLinks(ctx context.Context) (err error) {
	a, err := r.manager.NewAccessor(ctx, false)
	if err != nil {
		return err
	}
	defer func() {
		if a.LockHeld() != codedb.LockNone {
			a.ReleaseLock()
		}
		if cerr := a.Close(); err == nil {
			err = cerr
		}
	}()

	a.GetReadPossibleWriteLock()
	for {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, errors.CodeCancelled, "resolve links")
		}

		if linkID := r.pickLinkID(); linkID != 0 {
			err := r.ResolveLink(ctx, a, linkID)
			r.finish(1)
			if err != nil {
				r.changes.restoreLink(linkID)
				return errors.AddContext(err, errors.CtxLinkID, linkID)
			}
		} else if imageLinkID := r.pickImageLinkID(); imageLinkID != 0 {
			err := r.ResolveImageLink(ctx, a, imageLinkID)
			r.finish(1)
			if err != nil {
				r.changes.restoreImageLink(imageLinkID)
				return errors.AddContext(err, errors.CtxLinkID, imageLinkID)
			}
		} else if topicIDs, ending, ok := r.pickNewTopics(); ok {
			err := r.ResolveNewTopics(ctx, a, topicIDs, ending)
			r.finish(topicIDs.Count())
			if err != nil {
				r.changes.restoreTopics(ending, topicIDs)
				return err
			}
		} else if fileIDs, name, ok := r.pickNewImageFiles(); ok {
			err := r.ResolveNewImageFiles(ctx, a, fileIDs, name)
			r.finish(fileIDs.Count())
			if err != nil {
				r.changes.restoreImageFiles(name, fileIDs)
				return err
			}
		} else {
			return nil
		}

		if a.LockHeld() == codedb.LockReadWrite {
			a.DowngradeToReadPossibleWriteLock()
		}
	}
}

func (r *Resolver) pickLinkID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	linkID := r.changes.PickLinkID()
	if linkID != 0 {
		r.inProgress++
	}
	return linkID
}

func (r *Resolver) pickNewTopics() (*idset.NumberSet, symbols.EndingSymbol, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	topicIDs, ending, ok := r.changes.PickNewTopics()
	if ok {
		r.inProgress += topicIDs.Count()
	}
	return topicIDs, ending, ok
}

func (r *Resolver) pickImageLinkID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	imageLinkID := r.changes.PickImageLinkID()
	if imageLinkID != 0 {
		r.inProgress++
	}
	return imageLinkID
}

func (r *Resolver) pickNewImageFiles() (*idset.NumberSet, string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fileIDs, name, ok := r.changes.PickNewImageFiles()
	if ok {
		r.inProgress += fileIDs.Count()
	}
	return fileIDs, name, ok
}

func (r *Resolver) finish(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inProgress -= n
}

// ResolveLink recalculates the target of one link from every topic sharing
// one of its ending symbols. A link that no longer exists is skipped. The
// accessor must hold at least a read-possible-write lock and is upgraded if
// the target changes.
func (r *Resolver) ResolveLink(ctx context.Context, a *codedb.Accessor, linkID int) error {
	link, err := a.GetLinkByID(ctx, linkID, resolveLinkFlags)
	if errors.IsCode(err, errors.CodeNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	endings, err := a.GetAlternateLinkEndingSymbols(ctx, linkID)
	if err != nil {
		return err
	}
	endings = append(endings, link.EndingSymbol)

	topics, err := a.GetTopicsByEndingSymbol(ctx, endings, candidateTopicFlags)
	if err != nil {
		return err
	}

	interps := r.scorer.Interpret(link)
	bestTopicID, bestClassID, bestScore := model.TargetNone, 0, int64(0)
	for _, topic := range topics {
		if score := r.scorer.Score(link, topic, bestScore, interps); score > bestScore {
			bestTopicID = topic.TopicID
			bestClassID = topic.ClassID
			bestScore = score
		}
	}
	observability.LinksResolvedTotal.Inc()

	return r.retarget(ctx, a, link, bestTopicID, bestClassID, bestScore)
}

// ResolveNewTopics checks whether any of topicIDs, which all share ending,
// is a better target for the links with that ending symbol than the one
// they have.
func (r *Resolver) ResolveNewTopics(ctx context.Context, a *codedb.Accessor, topicIDs *idset.NumberSet, ending symbols.EndingSymbol) error {
	topics, err := a.GetTopicsByID(ctx, topicIDs, candidateTopicFlags)
	if err != nil {
		return err
	}
	if len(topics) == 0 {
		return nil
	}

	links, err := a.GetLinksByEndingSymbol(ctx, ending, resolveLinkFlags)
	if err != nil {
		return err
	}
	observability.NewTopicBatchesTotal.Inc()

	for _, link := range links {
		interps := r.scorer.Interpret(link)
		bestTopicID, bestClassID, bestScore := link.TargetTopicID, link.TargetClassID, link.TargetScore
		for _, topic := range topics {
			if topic.TopicID == link.TargetTopicID {
				continue
			}
			if score := r.scorer.Score(link, topic, bestScore, interps); score > bestScore {
				bestTopicID = topic.TopicID
				bestClassID = topic.ClassID
				bestScore = score
			}
		}
		if err := r.retarget(ctx, a, link, bestTopicID, bestClassID, bestScore); err != nil {
			return errors.AddContext(err, errors.CtxLinkID, link.LinkID)
		}
	}

	r.logger.Debug("new topics rescored",
		"ending_symbol", ending, "topics", len(topics), "links", len(links))
	return nil
}

// retarget stores a new target for link if anything about it changed.
func (r *Resolver) retarget(ctx context.Context, a *codedb.Accessor, link *model.Link, topicID, classID int, score int64) error {
	if topicID == link.TargetTopicID && classID == link.TargetClassID && score == link.TargetScore {
		return nil
	}
	oldTopicID, oldClassID := link.TargetTopicID, link.TargetClassID
	link.TargetTopicID = topicID
	link.TargetClassID = classID
	link.TargetScore = score
	if err := a.UpdateLinkTarget(ctx, link, oldTopicID, oldClassID); err != nil {
		return err
	}
	observability.LinkTargetChangesTotal.Inc()
	return nil
}

// ResolveImageLink recalculates the target of one image link from every
// image file sharing its file name. An image link that no longer exists is
// skipped. Lock requirements are the same as ResolveLink's.
func (r *Resolver) ResolveImageLink(ctx context.Context, a *codedb.Accessor, imageLinkID int) error {
	link, err := a.GetImageLinkByID(ctx, imageLinkID, codedb.DontLookupLinkClasses)
	if errors.IsCode(err, errors.CodeNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	sourcePath, err := a.GetFilePath(ctx, link.FileID)
	if err != nil {
		return err
	}
	files, err := a.GetImageFilesByName(ctx, link.FileName())
	if err != nil {
		return err
	}

	bestFileID, bestScore := model.TargetNone, int64(0)
	for _, f := range files {
		if score := r.scorer.ScoreImageLink(link, sourcePath, f.Path); score > bestScore {
			bestFileID = f.ID
			bestScore = score
		}
	}
	observability.ImageLinksResolvedTotal.Inc()

	return r.retargetImage(ctx, a, link, bestFileID, bestScore)
}

// ResolveNewImageFiles checks whether any of fileIDs, which all share the
// lowercase file name name, is a better target for the image links ending
// in that name than the one they have.
func (r *Resolver) ResolveNewImageFiles(ctx context.Context, a *codedb.Accessor, fileIDs *idset.NumberSet, name string) error {
	files, err := a.GetImageFilesByName(ctx, name)
	if err != nil {
		return err
	}
	newFiles := files[:0]
	for _, f := range files {
		if fileIDs.Contains(f.ID) {
			newFiles = append(newFiles, f)
		}
	}
	if len(newFiles) == 0 {
		return nil
	}

	links, err := a.GetImageLinksByFileName(ctx, name, codedb.DontLookupLinkClasses)
	if err != nil {
		return err
	}
	for _, link := range links {
		sourcePath, err := a.GetFilePath(ctx, link.FileID)
		if err != nil {
			return err
		}
		bestFileID, bestScore := link.TargetFileID, link.TargetScore
		for _, f := range newFiles {
			if f.ID == link.TargetFileID {
				continue
			}
			if score := r.scorer.ScoreImageLink(link, sourcePath, f.Path); score > bestScore {
				bestFileID = f.ID
				bestScore = score
			}
		}
		if err := r.retargetImage(ctx, a, link, bestFileID, bestScore); err != nil {
			return errors.AddContext(err, errors.CtxLinkID, link.ImageLinkID)
		}
	}

	r.logger.Debug("new image files rescored", "file_name", name, "files", len(newFiles), "image_links", len(links))
	return nil
}

func (r *Resolver) retargetImage(ctx context.Context, a *codedb.Accessor, link *model.ImageLink, fileID int, score int64) error {
	if fileID == link.TargetFileID && score == link.TargetScore {
		return nil
	}
	oldFileID := link.TargetFileID
	link.TargetFileID = fileID
	link.TargetScore = score
	if err := a.UpdateImageLinkTarget(ctx, link, oldFileID); err != nil {
		return err
	}
	observability.LinkTargetChangesTotal.Inc()
	return nil
}

// AddImageFile queues a newly registered image file as a candidate for the
// image links ending in its file name.
func (r *Resolver) AddImageFile(fileID int, path string) {
	r.changes.AddImageFile(fileID, path)
}

// DeleteImageFile queues the image links that targeted a removed image
// file. linksAffected comes from codedb.Accessor.DeleteImageFileTargets.
func (r *Resolver) DeleteImageFile(fileID int, path string, linksAffected *idset.NumberSet) {
	r.changes.DeleteImageFile(fileID, path, linksAffected)
}

// --- codedb.ChangeWatcher ---

func (r *Resolver) OnAddTopic(topic *model.Topic, _ *codedb.EventAccessor) {
	r.changes.AddTopic(topic)
}

func (r *Resolver) OnUpdateTopic(_, _ *model.Topic, _ model.ChangeFlags, _ *codedb.EventAccessor) {}

func (r *Resolver) OnDeleteTopic(topic *model.Topic, linksAffected *idset.NumberSet, _ *codedb.EventAccessor) {
	r.changes.DeleteTopic(topic, linksAffected)
}

func (r *Resolver) OnAddLink(link *model.Link, _ *codedb.EventAccessor) {
	r.changes.AddLink(link)
}

// OnChangeLinkTarget is a no-op. Target changes are the resolver's own
// output.
func (r *Resolver) OnChangeLinkTarget(_ *model.Link, _, _ int, _ *codedb.EventAccessor) {}

func (r *Resolver) OnDeleteLink(link *model.Link, _ *codedb.EventAccessor) {
	r.changes.DeleteLink(link)
}

func (r *Resolver) OnAddImageLink(imageLink *model.ImageLink, _ *codedb.EventAccessor) {
	r.changes.AddImageLink(imageLink)
}

func (r *Resolver) OnChangeImageLinkTarget(_ *model.ImageLink, _ int, _ *codedb.EventAccessor) {}

func (r *Resolver) OnDeleteImageLink(imageLink *model.ImageLink, _ *codedb.EventAccessor) {
	r.changes.DeleteImageLink(imageLink)
}
