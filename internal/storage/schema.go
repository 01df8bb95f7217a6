package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

// ErrDependencyCycle is returned when foreign keys form a cycle.
var ErrDependencyCycle = errors.New("foreign key dependency cycle")

// Table is one registered model.
type Table struct {
	Name  string
	Model any
	// DependsOn lists the tables this one references.
	DependsOn []string
}

// Schema holds tables in dependency order: every table comes after the
// tables it references.
type Schema struct {
	tables []Table
}

// NewSchema parses the gorm relationships of models and orders them.
// Relationships to tables outside models are ignored.
func NewSchema(db *gorm.DB, models ...any) (*Schema, error) {
	cache := &sync.Map{}
	parsed := make([]*schema.Schema, 0, len(models))
	byName := make(map[string]any, len(models))
	names := make([]string, 0, len(models))

	for _, m := range models {
		s, err := schema.Parse(m, cache, db.NamingStrategy)
		if err != nil {
			return nil, fmt.Errorf("parse model %T: %w", m, err)
		}
		if _, dup := byName[s.Table]; dup {
			continue
		}
		parsed = append(parsed, s)
		byName[s.Table] = m
		names = append(names, s.Table)
	}

	deps := make(map[string][]string, len(names))
	addEdge := func(child, parent string) {
		if child == parent {
			return
		}
		if _, ok := byName[child]; !ok {
			return
		}
		if _, ok := byName[parent]; !ok {
			return
		}
		for _, d := range deps[child] {
			if d == parent {
				return
			}
		}
		deps[child] = append(deps[child], parent)
	}

	for _, s := range parsed {
		for _, rel := range s.Relationships.BelongsTo {
			addEdge(s.Table, rel.FieldSchema.Table)
		}
		for _, rel := range s.Relationships.HasOne {
			addEdge(rel.FieldSchema.Table, s.Table)
		}
		for _, rel := range s.Relationships.HasMany {
			addEdge(rel.FieldSchema.Table, s.Table)
		}
	}

	order, err := sortByDependency(names, deps)
	if err != nil {
		return nil, err
	}

	tables := make([]Table, len(order))
	for i, name := range order {
		tables[i] = Table{Name: name, Model: byName[name], DependsOn: deps[name]}
	}
	return &Schema{tables: tables}, nil
}

// sortByDependency orders names so that each comes after its deps. Ties
// keep the input order.
func sortByDependency(names []string, deps map[string][]string) ([]string, error) {
	placed := make(map[string]bool, len(names))
	order := make([]string, 0, len(names))

	for len(order) < len(names) {
		progressed := false
		for _, name := range names {
			if placed[name] {
				continue
			}
			ready := true
			for _, d := range deps[name] {
				if !placed[d] {
					ready = false
					break
				}
			}
			if ready {
				placed[name] = true
				order = append(order, name)
				progressed = true
			}
		}
		if !progressed {
			var stuck []string
			for _, name := range names {
				if !placed[name] {
					stuck = append(stuck, name)
				}
			}
			return nil, fmt.Errorf("%w: %s", ErrDependencyCycle, strings.Join(stuck, ", "))
		}
	}
	return order, nil
}

// Tables returns the tables in dependency order.
func (s *Schema) Tables() []Table {
	out := make([]Table, len(s.tables))
	copy(out, s.tables)
	return out
}

// Names returns the table names in dependency order.
func (s *Schema) Names() []string {
	names := make([]string, len(s.tables))
	for i, t := range s.tables {
		names[i] = t.Name
	}
	return names
}

// Create migrates every table, referenced tables first.
func (s *Schema) Create(ctx context.Context, db *gorm.DB) error {
	for _, t := range s.tables {
		if err := db.WithContext(ctx).AutoMigrate(t.Model); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// Drop drops every table, referencing tables first.
func (s *Schema) Drop(ctx context.Context, db *gorm.DB) error {
	for i := len(s.tables) - 1; i >= 0; i-- {
		t := s.tables[i]
		if err := db.WithContext(ctx).Migrator().DropTable(t.Model); err != nil {
			return fmt.Errorf("drop table %s: %w", t.Name, err)
		}
	}
	return nil
}

// Truncate deletes every row, referencing tables first, in one transaction.
func (s *Schema) Truncate(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := len(s.tables) - 1; i >= 0; i-- {
			name := s.tables[i].Name
			if err := tx.Exec("DELETE FROM ?", clause.Table{Name: name}).Error; err != nil {
				return fmt.Errorf("truncate table %s: %w", name, err)
			}
		}
		return nil
	})
}

// Counts returns the number of rows per table.
func (s *Schema) Counts(ctx context.Context, db *gorm.DB) (map[string]int64, error) {
	counts := make(map[string]int64, len(s.tables))
	for _, t := range s.tables {
		var n int64
		if err := db.WithContext(ctx).Table(t.Name).Count(&n).Error; err != nil {
			return nil, fmt.Errorf("count table %s: %w", t.Name, err)
		}
		counts[t.Name] = n
	}
	return counts, nil
}
