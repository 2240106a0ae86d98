package core

// TagReader extracts the raw tag mapping from an audio file. It is an
// injected capability: the catalog core never parses audio itself.
// A nil TagSet with a nil error means the file carries no usable tags.
type TagReader interface {
	ReadTags(path string) (TagSet, error)
}

// Evaluator renders a field-formatting expression against a tag set.
// Expressions that produce multiple values (multi-valued fields) return
// one element per value; single-valued expressions return one element.
type Evaluator interface {
	Evaluate(expr string, tags TagSet) ([]string, error)
}

// FieldFormat is the value-derivation rule for one string field.
type FieldFormat struct {
	// Expr derives the stored value from the raw tags.
	Expr string
	// SortExpr optionally derives an explicit sort key. Empty means the
	// value itself, case-folded.
	SortExpr string
	// Multiple marks fields whose expression may yield several values,
	// expanding the track into one index row per combination.
	Multiple bool
}
