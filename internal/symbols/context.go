package symbols

import (
	"strings"
)

// ContextSeparator divides the scope and using statements of a
// ContextString.
const ContextSeparator = '\x1D'

// UsingType is the kind of import a UsingString describes.
type UsingType byte

const (
	// UsingAddPrefix makes "Name" also resolve as "Prefix.Name".
	UsingAddPrefix UsingType = 'A'
	// UsingReplacePrefix makes "Old.Name" also resolve as "New.Name".
	UsingReplacePrefix UsingType = 'R'
)

// UsingString is a single using statement or import alias in effect at some
// point in a source file.
type UsingString string

// NewAddPrefixUsing returns a using statement that adds prefix to symbols.
func NewAddPrefixUsing(prefix SymbolString) UsingString {
	return UsingString("A" + string(prefix))
}

// NewReplacePrefixUsing returns a using statement that replaces the leading
// segments remove with add.
func NewReplacePrefixUsing(remove, add SymbolString) UsingString {
	return UsingString("R" + string(remove) + string(ClassSeparator) + string(add))
}

// Type returns the kind of using statement.
func (u UsingString) Type() UsingType {
	if u == "" {
		return 0
	}
	return UsingType(u[0])
}

// PrefixToAdd returns the prefix applied by the statement.
func (u UsingString) PrefixToAdd() SymbolString {
	switch u.Type() {
	case UsingAddPrefix:
		return SymbolString(u[1:])
	case UsingReplacePrefix:
		i := strings.IndexByte(string(u), ClassSeparator)
		if i < 0 {
			return ""
		}
		return SymbolString(u[i+1:])
	}
	return ""
}

// PrefixToRemove returns the prefix removed by a replace-prefix statement.
func (u UsingString) PrefixToRemove() SymbolString {
	if u.Type() != UsingReplacePrefix {
		return ""
	}
	i := strings.IndexByte(string(u), ClassSeparator)
	if i < 0 {
		return ""
	}
	return SymbolString(u[1:i])
}

// ContextString is the scope plus the using statements active where a topic
// or link appears. The serialized form is the scope symbol followed by one
// ContextSeparator-prefixed UsingString per statement. The empty string is
// the global scope with no using statements.
type ContextString string

// NewContextString builds a ContextString from its parts.
func NewContextString(scope SymbolString, usings ...UsingString) ContextString {
	var b strings.Builder
	b.WriteString(string(scope))
	for _, u := range usings {
		b.WriteByte(ContextSeparator)
		b.WriteString(string(u))
	}
	return ContextString(b.String())
}

func (c ContextString) String() string { return string(c) }

// LookupKey is the key used to intern the context.
func (c ContextString) LookupKey() string { return string(c) }

// IsNull reports whether the context is global with no using statements.
func (c ContextString) IsNull() bool { return c == "" }

// Scope returns the scope portion.
func (c ContextString) Scope() SymbolString {
	if i := strings.IndexByte(string(c), ContextSeparator); i >= 0 {
		return SymbolString(c[:i])
	}
	return SymbolString(c)
}

// ScopeIsGlobal reports whether there is no scope.
func (c ContextString) ScopeIsGlobal() bool {
	return c == "" || c[0] == ContextSeparator
}

// HasUsingStatements reports whether any using statements are present.
func (c ContextString) HasUsingStatements() bool {
	return strings.IndexByte(string(c), ContextSeparator) >= 0
}

// UsingStatements returns the using statements in order.
func (c ContextString) UsingStatements() []UsingString {
	i := strings.IndexByte(string(c), ContextSeparator)
	if i < 0 {
		return nil
	}
	parts := strings.Split(string(c[i+1:]), string(ContextSeparator))
	out := make([]UsingString, 0, len(parts))
	for _, p := range parts {
		out = append(out, UsingString(p))
	}
	return out
}

// WithScope returns a copy of the context with its scope replaced.
func (c ContextString) WithScope(scope SymbolString) ContextString {
	rest := ""
	if i := strings.IndexByte(string(c), ContextSeparator); i >= 0 {
		rest = string(c[i:])
	}
	return ContextString(string(scope) + rest)
}

// WithUsing returns a copy of the context with u appended.
func (c ContextString) WithUsing(u UsingString) ContextString {
	return ContextString(string(c) + string(ContextSeparator) + string(u))
}
