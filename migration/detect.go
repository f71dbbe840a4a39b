package migration

import (
	"sort"

	"github.com/ppongpan/Q-Collector-sub018/ident"
)

// DetectChanges compares a form's previous field set against its
// current one and returns the operations needed to bring the table in
// line, ordered RENAME, then MODIFY, then ADD, then DROP, stable by
// DisplayOrder within each class (spec §4.4 "change detection").
//
// Fields are matched by ID. A field present in both sets whose label
// produces a different column name yields a RenameColumn operation; one
// whose logical type differs yields a ModifyColumn operation (both may
// fire for the same field). A field only in old yields DropColumn; one
// only in new yields AddColumn.
func DetectChanges(table string, old, new []Field) ([]Operation, error) {
	oldByID := make(map[string]Field, len(old))
	for _, f := range old {
		oldByID[f.ID] = f
	}
	newByID := make(map[string]Field, len(new))
	for _, f := range new {
		newByID[f.ID] = f
	}

	var renames, modifies, adds, drops []Operation

	for _, nf := range new {
		of, existed := oldByID[nf.ID]
		if !existed {
			col, err := ident.NormalizeLabel(ident.KindField, nf.Title, nf.ID)
			if err != nil {
				return nil, err
			}
			adds = append(adds, Operation{
				Kind: AddColumn, FieldID: nf.ID, Table: table,
				Column: col, NewLogical: nf.Logical, DisplayOrder: nf.DisplayOrder,
			})
			continue
		}

		oldCol, err := ident.NormalizeLabel(ident.KindField, of.Title, of.ID)
		if err != nil {
			return nil, err
		}
		newCol, err := ident.NormalizeLabel(ident.KindField, nf.Title, nf.ID)
		if err != nil {
			return nil, err
		}

		if oldCol != newCol {
			renames = append(renames, Operation{
				Kind: RenameColumn, FieldID: nf.ID, Table: table,
				Column: newCol, OldColumn: oldCol,
				OldLogical: of.Logical, NewLogical: of.Logical, DisplayOrder: nf.DisplayOrder,
			})
		}
		if of.Logical != nf.Logical {
			modifies = append(modifies, Operation{
				Kind: ModifyColumn, FieldID: nf.ID, Table: table,
				Column: newCol, OldColumn: newCol,
				OldLogical: of.Logical, NewLogical: nf.Logical, DisplayOrder: nf.DisplayOrder,
			})
		}
	}

	for _, of := range old {
		if _, stillPresent := newByID[of.ID]; stillPresent {
			continue
		}
		col, err := ident.NormalizeLabel(ident.KindField, of.Title, of.ID)
		if err != nil {
			return nil, err
		}
		drops = append(drops, Operation{
			Kind: DropColumn, FieldID: of.ID, Table: table,
			Column: col, OldLogical: of.Logical, DisplayOrder: of.DisplayOrder,
		})
	}

	byDisplayOrder := func(ops []Operation) {
		sort.SliceStable(ops, func(i, j int) bool { return ops[i].DisplayOrder < ops[j].DisplayOrder })
	}
	byDisplayOrder(renames)
	byDisplayOrder(modifies)
	byDisplayOrder(adds)
	byDisplayOrder(drops)

	out := make([]Operation, 0, len(renames)+len(modifies)+len(adds)+len(drops))
	out = append(out, renames...)
	out = append(out, modifies...)
	out = append(out, adds...)
	out = append(out, drops...)
	return out, nil
}
