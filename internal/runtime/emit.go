package runtime

import (
	"context"
	"fmt"
	"strings"

	"github.com/risor-io/risor/object"

	"github.com/jward/xrefdb/internal/idset"
	"github.com/jward/xrefdb/internal/model"
	"github.com/jward/xrefdb/internal/symbols"
)

// defaultHierarchyID is the class hierarchy used when a script doesn't name
// one.
const defaultHierarchyID = 1

// Batch is everything one script run emitted for a file. Topics are in
// source order. Links and image links are in emission order.
type Batch struct {
	Topics     []*model.Topic
	Links      []*model.Link
	ImageLinks []*model.ImageLink
}

// emitter builds topics and links from the maps scripts pass to emit_topic
// and emit_link. Risor scripts cannot construct Go struct pointers, so the
// structs are built on the Go side.
type emitter struct {
	registry *model.Registry
	file     File
	batch    *Batch
}

// emit_topic({title, type, symbol?, body?, summary?, prototype?, access?,
// effective_access?, comment_line?, code_line?, class?, class_string?,
// hierarchy?, defines_class?, is_embedded?, is_list?, prototype_context?,
// body_context?, tags?, language?})
func (e *emitter) topicFn() *object.Builtin {
	return object.NewBuiltin("emit_topic", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("emit_topic", 1, len(args))
		}
		m, err := extractMap(args[0])
		if err != nil {
			return object.Errorf("emit_topic: %v", err)
		}
		t, err := e.topic(m)
		if err != nil {
			return object.Errorf("emit_topic: %v", err)
		}
		e.batch.Topics = append(e.batch.Topics, t)
		return object.Nil
	})
}

// emit_link({text | symbol, type?, context?, class?, class_string?,
// hierarchy?, language?})
func (e *emitter) linkFn() *object.Builtin {
	return object.NewBuiltin("emit_link", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("emit_link", 1, len(args))
		}
		m, err := extractMap(args[0])
		if err != nil {
			return object.Errorf("emit_link: %v", err)
		}
		l, err := e.link(m)
		if err != nil {
			return object.Errorf("emit_link: %v", err)
		}
		e.batch.Links = append(e.batch.Links, l)
		return object.Nil
	})
}

// emit_image_link({text, path?, class?, class_string?, hierarchy?,
// language?})
func (e *emitter) imageLinkFn() *object.Builtin {
	return object.NewBuiltin("emit_image_link", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("emit_image_link", 1, len(args))
		}
		m, err := extractMap(args[0])
		if err != nil {
			return object.Errorf("emit_image_link: %v", err)
		}
		l, err := e.imageLink(m)
		if err != nil {
			return object.Errorf("emit_image_link: %v", err)
		}
		e.batch.ImageLinks = append(e.batch.ImageLinks, l)
		return object.Nil
	})
}

func (e *emitter) topic(m map[string]object.Object) (*model.Topic, error) {
	title := strings.TrimSpace(getString(m, "title"))
	if title == "" {
		return nil, fmt.Errorf("title is required")
	}
	typeName := getString(m, "type")
	topicType, ok := e.registry.TopicTypeByName(typeName)
	if !ok {
		return nil, fmt.Errorf("unknown topic type %q", typeName)
	}
	lang, err := e.language(m)
	if err != nil {
		return nil, err
	}
	sym, _ := symbols.SymbolFromPlainText(getStringDefault(m, "symbol", title))
	if sym.IsNull() {
		return nil, fmt.Errorf("topic %q has no symbol", title)
	}

	access, err := accessLevel(m, "access", model.AccessPublic)
	if err != nil {
		return nil, err
	}
	effective, err := accessLevel(m, "effective_access", access)
	if err != nil {
		return nil, err
	}

	t := &model.Topic{
		Title:                title,
		Body:                 getString(m, "body"),
		Summary:              getString(m, "summary"),
		Prototype:            getString(m, "prototype"),
		Symbol:               sym,
		ClassString:          e.classString(m, lang),
		IsEmbedded:           getBool(m, "is_embedded"),
		IsList:               getBool(m, "is_list"),
		DefinesClass:         getBool(m, "defines_class"),
		TopicTypeID:          topicType.ID,
		DeclaredAccessLevel:  access,
		EffectiveAccessLevel: effective,
		FileID:               e.file.ID,
		CommentLineNumber:    getInt(m, "comment_line"),
		CodeLineNumber:       getInt(m, "code_line"),
		LanguageID:           lang.ID,
		PrototypeContext:     symbols.ContextString(getString(m, "prototype_context")),
		BodyContext:          symbols.ContextString(getString(m, "body_context")),
	}
	t.BodyLength = len(t.Body)
	if t.IsList && t.IsEmbedded {
		return nil, fmt.Errorf("topic %q can't be both a list and embedded", title)
	}
	if v, ok := m["tags"]; ok {
		tags, err := toNumberSet(v)
		if err != nil {
			return nil, fmt.Errorf("tags: %v", err)
		}
		t.Tags = tags
	}
	return t, nil
}

func (e *emitter) link(m map[string]object.Object) (*model.Link, error) {
	linkType, ok := model.ParseLinkType(getStringDefault(m, "type", "naturaldocs"))
	if !ok {
		return nil, fmt.Errorf("unknown link type %q", getString(m, "type"))
	}
	lang, err := e.language(m)
	if err != nil {
		return nil, err
	}

	l := &model.Link{
		Type:       linkType,
		Context:    symbols.ContextString(getString(m, "context")),
		FileID:     e.file.ID,
		LanguageID: lang.ID,
	}
	if linkType == model.LinkNaturalDocs {
		l.TextOrSymbol = strings.TrimSpace(getString(m, "text"))
	} else {
		l.TextOrSymbol = string(symbols.SymbolFromPlainTextNoParameters(getStringDefault(m, "symbol", getString(m, "text"))))
	}
	if l.TextOrSymbol == "" {
		return nil, fmt.Errorf("%s link has no text", linkType)
	}
	l.ClassString = e.classString(m, lang)
	return l, nil
}

func (e *emitter) imageLink(m map[string]object.Object) (*model.ImageLink, error) {
	text := strings.TrimSpace(getString(m, "text"))
	if text == "" {
		return nil, fmt.Errorf("text is required")
	}
	imagePath := strings.TrimSpace(getString(m, "path"))
	if imagePath == "" {
		found := docImageLinks(text)
		if len(found) == 0 {
			return nil, fmt.Errorf("no image path in %q", text)
		}
		imagePath = found[0].path
	}
	lang, err := e.language(m)
	if err != nil {
		return nil, err
	}
	return &model.ImageLink{
		OriginalText: text,
		Path:         strings.ReplaceAll(imagePath, `\`, "/"),
		FileID:       e.file.ID,
		ClassString:  e.classString(m, lang),
	}, nil
}

// language returns the file's language unless the map overrides it.
func (e *emitter) language(m map[string]object.Object) (*model.Language, error) {
	name := getString(m, "language")
	if name == "" {
		return e.file.Language, nil
	}
	lang, ok := e.registry.LanguageByName(name)
	if !ok {
		return nil, fmt.Errorf("unknown language %q", name)
	}
	return lang, nil
}

// classString prefers an exported class_string and otherwise builds one
// from the class symbol.
func (e *emitter) classString(m map[string]object.Object, lang *model.Language) symbols.ClassString {
	if v := getString(m, "class_string"); v != "" {
		return symbols.ClassStringFromExported(v)
	}
	class := getString(m, "class")
	if class == "" {
		return symbols.ClassString{}
	}
	hierarchy := getInt(m, "hierarchy")
	if hierarchy == 0 {
		hierarchy = defaultHierarchyID
	}
	return symbols.NewClassString(hierarchy, lang.ID, lang.CaseSensitive, symbols.SymbolFromPlainTextNoParameters(class))
}

func accessLevel(m map[string]object.Object, key string, def model.AccessLevel) (model.AccessLevel, error) {
	name := getString(m, key)
	if name == "" {
		return def, nil
	}
	level := model.ParseAccessLevel(strings.ToLower(name))
	if level == model.AccessUnknown {
		return 0, fmt.Errorf("%s: unknown access level %q", key, name)
	}
	return level, nil
}

// --- Symbol helpers ---

// makeSymbolFn creates "symbol", which normalizes text the way topic and
// link symbols are stored. A trailing parameter list is dropped.
//
// symbol(text) → string
func makeSymbolFn() *object.Builtin {
	return object.NewBuiltin("symbol", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("symbol", 1, len(args))
		}
		text, err := toString(args[0])
		if err != nil {
			return object.Errorf("symbol: %v", err)
		}
		sym, _ := symbols.SymbolFromPlainText(text)
		return object.NewString(sym.String())
	})
}

// makeContextFn creates "context". Each using is either a prefix string to
// add or a [remove, add] pair.
//
// context(scope, usings...) → string
func makeContextFn() *object.Builtin {
	return object.NewBuiltin("context", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) < 1 {
			return object.Errorf("context: expected at least 1 argument (scope), got 0")
		}
		var scope symbols.SymbolString
		if args[0] != object.Nil {
			text, err := toString(args[0])
			if err != nil {
				return object.Errorf("context: scope: %v", err)
			}
			scope = symbols.SymbolFromPlainTextNoParameters(text)
		}

		usings := make([]symbols.UsingString, 0, len(args)-1)
		for i, arg := range args[1:] {
			switch v := arg.(type) {
			case *object.String:
				usings = append(usings, symbols.NewAddPrefixUsing(symbols.SymbolFromPlainTextNoParameters(v.Value())))
			case *object.List:
				items := v.Value()
				if len(items) != 2 {
					return object.Errorf("context: using %d: expected [remove, add], got %d items", i+1, len(items))
				}
				remove, err1 := toString(items[0])
				add, err2 := toString(items[1])
				if err1 != nil || err2 != nil {
					return object.Errorf("context: using %d: expected strings", i+1)
				}
				usings = append(usings, symbols.NewReplacePrefixUsing(
					symbols.SymbolFromPlainTextNoParameters(remove),
					symbols.SymbolFromPlainTextNoParameters(add)))
			default:
				return object.Errorf("context: using %d: expected string or list, got %s", i+1, arg.Type())
			}
		}
		return object.NewString(symbols.NewContextString(scope, usings...).String())
	})
}

// makeClassStringFn creates "class_string".
//
// class_string(symbol, language, hierarchy?) → string
func makeClassStringFn(registry *model.Registry) *object.Builtin {
	return object.NewBuiltin("class_string", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) < 2 || len(args) > 3 {
			return object.NewArgsError("class_string", 2, len(args))
		}
		text, err := toString(args[0])
		if err != nil {
			return object.Errorf("class_string: symbol: %v", err)
		}
		name, err := toString(args[1])
		if err != nil {
			return object.Errorf("class_string: language: %v", err)
		}
		lang, ok := registry.LanguageByName(name)
		if !ok {
			return object.Errorf("class_string: unknown language %q", name)
		}
		hierarchy := int64(defaultHierarchyID)
		if len(args) == 3 {
			if hierarchy, err = toInt64(args[2]); err != nil {
				return object.Errorf("class_string: hierarchy: %v", err)
			}
		}
		cs := symbols.NewClassString(int(hierarchy), lang.ID, lang.CaseSensitive, symbols.SymbolFromPlainTextNoParameters(text))
		return object.NewString(cs.String())
	})
}

// makeDocLinksFn creates "doc_links", which returns the text of every
// <link> written in a comment, without the brackets. Links never span lines,
// and HTML-like tags such as </b> or <!-- are skipped.
//
// doc_links(text) → [string]
func makeDocLinksFn() *object.Builtin {
	return object.NewBuiltin("doc_links", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("doc_links", 1, len(args))
		}
		text, err := toString(args[0])
		if err != nil {
			return object.Errorf("doc_links: %v", err)
		}
		var items []object.Object
		for _, link := range docLinks(text) {
			items = append(items, object.NewString(link))
		}
		return object.NewList(items)
	})
}

// makeDocImageLinksFn creates "doc_image_links", which finds every
// "(see path)" in a comment whose path has an image extension.
//
// doc_image_links(text) → [{text, path}]
func makeDocImageLinksFn() *object.Builtin {
	return object.NewBuiltin("doc_image_links", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("doc_image_links", 1, len(args))
		}
		text, err := toString(args[0])
		if err != nil {
			return object.Errorf("doc_image_links: %v", err)
		}
		var items []object.Object
		for _, l := range docImageLinks(text) {
			items = append(items, object.NewMap(map[string]object.Object{
				"text": object.NewString(l.text),
				"path": object.NewString(l.path),
			}))
		}
		return object.NewList(items)
	})
}

type docImageLink struct {
	text string
	path string
}

func docImageLinks(text string) []docImageLink {
	var links []docImageLink
	for {
		open := strings.Index(strings.ToLower(text), "(see ")
		if open < 0 {
			return links
		}
		rest := text[open:]
		end := strings.IndexAny(rest, ")\n")
		if end < 0 {
			return links
		}
		if rest[end] != ')' {
			text = rest[end:]
			continue
		}
		p := strings.TrimSpace(rest[len("(see "):end])
		if p != "" && IsImageFile(p) {
			links = append(links, docImageLink{text: rest[:end+1], path: p})
		}
		text = rest[end+1:]
	}
}

func docLinks(text string) []string {
	var links []string
	for {
		open := strings.IndexByte(text, '<')
		if open < 0 {
			return links
		}
		rest := text[open+1:]
		end := strings.IndexAny(rest, "<>\n")
		if end < 0 {
			return links
		}
		if rest[end] != '>' {
			text = rest[end:]
			continue
		}
		inner := strings.TrimSpace(rest[:end])
		if inner != "" && inner[0] != '/' && inner[0] != '!' {
			links = append(links, inner)
		}
		text = rest[end+1:]
	}
}

// --- Map helpers ---

func extractMap(obj object.Object) (map[string]object.Object, error) {
	m, ok := obj.(*object.Map)
	if !ok {
		return nil, fmt.Errorf("expected map, got %s", obj.Type())
	}
	return m.Value(), nil
}

func getString(m map[string]object.Object, key string) string {
	v, ok := m[key]
	if !ok {
		return ""
	}
	if s, ok := v.(*object.String); ok {
		return s.Value()
	}
	return ""
}

func getStringDefault(m map[string]object.Object, key, def string) string {
	v := getString(m, key)
	if v == "" {
		return def
	}
	return v
}

func getInt(m map[string]object.Object, key string) int {
	v, ok := m[key]
	if !ok {
		return 0
	}
	n, err := toInt64(v)
	if err != nil {
		return 0
	}
	return int(n)
}

func getBool(m map[string]object.Object, key string) bool {
	v, ok := m[key]
	if !ok {
		return false
	}
	if b, ok := v.(*object.Bool); ok {
		return b.Value()
	}
	return false
}

func toInt64(obj object.Object) (int64, error) {
	if i, ok := obj.(*object.Int); ok {
		return i.Value(), nil
	}
	if f, ok := obj.(*object.Float); ok {
		return int64(f.Value()), nil
	}
	return 0, fmt.Errorf("expected int, got %s", obj.Type())
}

func toString(obj object.Object) (string, error) {
	if s, ok := obj.(*object.String); ok {
		return s.Value(), nil
	}
	return "", fmt.Errorf("expected string, got %s", obj.Type())
}

func toNumberSet(obj object.Object) (*idset.NumberSet, error) {
	list, ok := obj.(*object.List)
	if !ok {
		return nil, fmt.Errorf("expected list, got %s", obj.Type())
	}
	set := idset.New()
	for _, item := range list.Value() {
		n, err := toInt64(item)
		if err != nil {
			return nil, err
		}
		if n <= 0 {
			return nil, fmt.Errorf("tag IDs must be positive, got %d", n)
		}
		set.Add(int(n))
	}
	return set, nil
}
