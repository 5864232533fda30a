package store

import (
	"context"

	"github.com/jward/xrefdb/internal/errors"
	"github.com/jward/xrefdb/internal/idset"
)

// SystemState is the persisted ID bookkeeping restored at startup.
type SystemState struct {
	Version        string
	UsedTopicIDs   *idset.NumberSet
	UsedLinkIDs    *idset.NumberSet
	UsedContextIDs *idset.NumberSet
	UsedClassIDs   *idset.NumberSet

	UsedImageLinkIDs *idset.NumberSet
}

// LoadSystem reads the System row.
func (s *Store) LoadSystem(ctx context.Context) (*SystemState, error) {
	var version, topics, links, contexts, classes, imageLinks string
	err := s.db.QueryRowContext(ctx,
		"SELECT Version, UsedTopicIDs, UsedLinkIDs, UsedContextIDs, UsedClassIDs, UsedImageLinkIDs FROM System LIMIT 1",
	).Scan(&version, &topics, &links, &contexts, &classes, &imageLinks)
	if err != nil {
		return nil, errors.Store(err, "load system")
	}

	st := &SystemState{Version: version}
	for _, f := range []struct {
		dst  **idset.NumberSet
		text string
		name string
	}{
		{&st.UsedTopicIDs, topics, "UsedTopicIDs"},
		{&st.UsedLinkIDs, links, "UsedLinkIDs"},
		{&st.UsedContextIDs, contexts, "UsedContextIDs"},
		{&st.UsedClassIDs, classes, "UsedClassIDs"},
		{&st.UsedImageLinkIDs, imageLinks, "UsedImageLinkIDs"},
	} {
		set, err := idset.Parse(f.text)
		if err != nil {
			return nil, errors.AddContext(errors.Wrap(err, errors.CodeStoreFailure, "corrupt system row"), errors.CtxField, f.name)
		}
		*f.dst = set
	}
	return st, nil
}

// SaveSystem writes the System row.
func (s *Store) SaveSystem(ctx context.Context, st *SystemState) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE System SET Version = ?, UsedTopicIDs = ?, UsedLinkIDs = ?, UsedContextIDs = ?, UsedClassIDs = ?, UsedImageLinkIDs = ?",
		SchemaVersion, st.UsedTopicIDs.String(), st.UsedLinkIDs.String(),
		st.UsedContextIDs.String(), st.UsedClassIDs.String(), st.UsedImageLinkIDs.String(),
	)
	return errors.Store(err, "save system")
}
