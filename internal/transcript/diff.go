package transcript

import "github.com/sergi/go-diff/diffmatchpatch"

// Edit operations produced by [Diff].
const (
	EditEqual  = "equal"
	EditInsert = "insert"
	EditDelete = "delete"
)

// Edit is one run of a character-level diff between two texts.
type Edit struct {
	Op   string `json:"op"`
	Text string `json:"text"`
}

// Diff returns the semantic character diff turning before into after. It
// returns nil when the texts are equal.
func Diff(before, after string) []Edit {
	if before == after {
		return nil
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	edits := make([]Edit, 0, len(diffs))
	for _, d := range diffs {
		var op string
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			op = EditEqual
		case diffmatchpatch.DiffInsert:
			op = EditInsert
		case diffmatchpatch.DiffDelete:
			op = EditDelete
		}
		edits = append(edits, Edit{Op: op, Text: d.Text})
	}
	return edits
}

// ApplyEdits rebuilds the "after" text of a diff.
func ApplyEdits(edits []Edit) string {
	n := 0
	for _, e := range edits {
		n += len(e.Text)
	}
	buf := make([]byte, 0, n)
	for _, e := range edits {
		if e.Op != EditDelete {
			buf = append(buf, e.Text...)
		}
	}
	return string(buf)
}
