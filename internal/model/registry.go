package model

import (
	"sort"
	"strings"

	"github.com/jward/xrefdb/internal/errors"
	"github.com/jward/xrefdb/internal/symbols"
)

// Language describes a source language known to the database.
type Language struct {
	ID             int
	Name           string
	CaseSensitive  bool
	ParameterStyle symbols.ParameterStyle
}

type TopicTypeFlags uint8

const (
	FlagCode TopicTypeFlags = 1 << iota
	FlagFile
	FlagDocumentation
	// FlagClassHierarchy lets ClassParent links target the type.
	FlagClassHierarchy
	// FlagVariableType lets Type links target the type.
	FlagVariableType
)

// TopicType describes a kind of topic such as "Function" or "Class".
type TopicType struct {
	ID    int
	Name  string
	Flags TopicTypeFlags
}

func (t *TopicType) Has(flag TopicTypeFlags) bool { return t.Flags&flag != 0 }

// Registry indexes languages and topic types by ID and by name. It is built
// once from configuration and read concurrently afterwards.
type Registry struct {
	languages      map[int]*Language
	languagesByKey map[string]*Language
	types          map[int]*TopicType
	typesByKey     map[string]*TopicType
}

// NewRegistry validates and indexes the given definitions. IDs must be
// positive and unique, and names unique ignoring case.
func NewRegistry(languages []Language, topicTypes []TopicType) (*Registry, error) {
	r := &Registry{
		languages:      make(map[int]*Language, len(languages)),
		languagesByKey: make(map[string]*Language, len(languages)),
		types:          make(map[int]*TopicType, len(topicTypes)),
		typesByKey:     make(map[string]*TopicType, len(topicTypes)),
	}
	for i := range languages {
		l := languages[i]
		key := strings.ToLower(l.Name)
		if l.ID <= 0 || l.Name == "" {
			return nil, errors.Newf(errors.CodeValidationError, "language %q: id must be positive and name non-empty", l.Name)
		}
		if _, dup := r.languages[l.ID]; dup {
			return nil, errors.Newf(errors.CodeValidationError, "duplicate language id %d", l.ID)
		}
		if _, dup := r.languagesByKey[key]; dup {
			return nil, errors.Newf(errors.CodeValidationError, "duplicate language name %q", l.Name)
		}
		r.languages[l.ID] = &l
		r.languagesByKey[key] = &l
	}
	for i := range topicTypes {
		t := topicTypes[i]
		key := strings.ToLower(t.Name)
		if t.ID <= 0 || t.Name == "" {
			return nil, errors.Newf(errors.CodeValidationError, "topic type %q: id must be positive and name non-empty", t.Name)
		}
		if _, dup := r.types[t.ID]; dup {
			return nil, errors.Newf(errors.CodeValidationError, "duplicate topic type id %d", t.ID)
		}
		if _, dup := r.typesByKey[key]; dup {
			return nil, errors.Newf(errors.CodeValidationError, "duplicate topic type name %q", t.Name)
		}
		r.types[t.ID] = &t
		r.typesByKey[key] = &t
	}
	return r, nil
}

// DefaultLanguages is the built-in language list.
func DefaultLanguages() []Language {
	return []Language{
		{ID: 1, Name: "Text", CaseSensitive: false},
		{ID: 2, Name: "Go", CaseSensitive: true, ParameterStyle: symbols.ParameterStylePascal},
		{ID: 3, Name: "Python", CaseSensitive: true},
		{ID: 4, Name: "JavaScript", CaseSensitive: true},
		{ID: 5, Name: "C#", CaseSensitive: true},
	}
}

// DefaultTopicTypes is the built-in topic type list.
func DefaultTopicTypes() []TopicType {
	return []TopicType{
		{ID: 1, Name: "Function", Flags: FlagCode},
		{ID: 2, Name: "Class", Flags: FlagCode | FlagClassHierarchy | FlagVariableType},
		{ID: 3, Name: "Type", Flags: FlagCode | FlagVariableType},
		{ID: 4, Name: "Variable", Flags: FlagCode},
		{ID: 5, Name: "Section", Flags: FlagDocumentation},
		{ID: 6, Name: "File", Flags: FlagFile},
	}
}

// DefaultRegistry returns a registry of the built-in definitions.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultLanguages(), DefaultTopicTypes())
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) Language(id int) (*Language, bool) {
	l, ok := r.languages[id]
	return l, ok
}

func (r *Registry) LanguageByName(name string) (*Language, bool) {
	l, ok := r.languagesByKey[strings.ToLower(name)]
	return l, ok
}

func (r *Registry) TopicType(id int) (*TopicType, bool) {
	t, ok := r.types[id]
	return t, ok
}

func (r *Registry) TopicTypeByName(name string) (*TopicType, bool) {
	t, ok := r.typesByKey[strings.ToLower(name)]
	return t, ok
}

// Languages returns all languages ordered by ID.
func (r *Registry) Languages() []*Language {
	out := make([]*Language, 0, len(r.languages))
	for _, l := range r.languages {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TopicTypes returns all topic types ordered by ID.
func (r *Registry) TopicTypes() []*TopicType {
	out := make([]*TopicType, 0, len(r.types))
	for _, t := range r.types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
