package host

import (
	"github.com/pkg/errors"

	"github.com/spacetimedb/core/pkg/abi"
	"github.com/spacetimedb/core/pkg/algebra"
	"github.com/spacetimedb/core/pkg/catalog"
)

// columnAddition is one auto-migration add_column operation (§4.7
// @migrate add_column): a nullable trailing column appended to an
// already-published table.
type columnAddition struct {
	table  algebra.TableId
	column catalog.ColumnDef
}

// migrationPlan is the set of schema changes diffSchema found compatible
// with an automatic migration: brand new tables, plus nullable columns
// appended to the trailing end of existing ones. Anything diffSchema
// can't reconcile this way — a dropped table, a dropped or retyped
// column, a non-nullable column addition — fails the diff instead of
// populating a plan.
type migrationPlan struct {
	desc      abi.ModuleDescription
	newTables []abi.TableDesc
	additions []columnAddition
}

// empty reports whether applying plan would change nothing, i.e. the new
// program's schema is identical to what's already running.
func (p *migrationPlan) empty() bool {
	return len(p.newTables) == 0 && len(p.additions) == 0
}

// diffSchema compares the tables program declares against cat, the
// currently running schema, and decides whether the difference is one
// update_database can apply automatically (§4.7, §8 scenario 2).
func diffSchema(cat *catalog.Catalog, desc abi.ModuleDescription) (*migrationPlan, error) {
	plan := &migrationPlan{desc: desc}

	newNames := make(map[string]struct{}, len(desc.Tables))
	for _, t := range desc.Tables {
		newNames[t.Name] = struct{}{}
	}
	for _, old := range cat.AllTables() {
		if old.Kind != catalog.KindUser {
			continue
		}
		if _, ok := newNames[old.Name]; !ok {
			return nil, errors.Errorf("table %q was dropped; auto-migration does not support table removal", old.Name)
		}
	}

	for _, t := range desc.Tables {
		id, ok := cat.TableIDFromName(t.Name)
		if !ok {
			plan.newTables = append(plan.newTables, t)
			continue
		}
		old, _ := cat.TableByID(id)

		rowSchema := desc.Typespace.Resolve(algebra.RefTo(t.ProductTypeRef))
		if rowSchema.Kind != algebra.KindProduct {
			return nil, errors.Errorf("table %q's row type is not a product", t.Name)
		}
		if len(rowSchema.Elements) < len(old.Columns) {
			return nil, errors.Errorf("table %q dropped a column; auto-migration does not support column removal", t.Name)
		}
		for i, col := range old.Columns {
			field := rowSchema.Elements[i]
			if field.Name != col.Name || !sameType(field.Type, col.Type) {
				return nil, errors.Errorf("table %q column %q changed incompatibly; auto-migration does not support retyping a column", t.Name, col.Name)
			}
		}
		for i := len(old.Columns); i < len(rowSchema.Elements); i++ {
			field := rowSchema.Elements[i]
			if !algebra.IsNullable(field.Type) {
				return nil, errors.Errorf("table %q added non-nullable column %q; only a @migrate add_column of a nullable column auto-migrates", t.Name, field.Name)
			}
			plan.additions = append(plan.additions, columnAddition{
				table:  id,
				column: catalog.ColumnDef{ID: algebra.ColId(i), Name: field.Name, Type: field.Type},
			})
		}
	}

	return plan, nil
}

// sameType reports whether a and b describe the same algebraic type,
// deeply comparing product/sum fields and array/map element types.
func sameType(a, b algebra.Type) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case algebra.KindProduct, algebra.KindSum:
		if len(a.Elements) != len(b.Elements) {
			return false
		}
		for i := range a.Elements {
			if a.Elements[i].Name != b.Elements[i].Name || !sameType(a.Elements[i].Type, b.Elements[i].Type) {
				return false
			}
		}
		return true
	case algebra.KindArray:
		return sameType(*a.Elem, *b.Elem)
	case algebra.KindMap:
		return sameType(*a.Key, *b.Key) && sameType(*a.Elem, *b.Elem)
	default:
		return true
	}
}
