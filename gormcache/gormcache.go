// Package gormcache integrates surgecache with gorm.
//
// The plugin hooks gorm's create/update/delete callbacks and emits a write
// event for every committed row mutation, carrying the before/after images
// the invalidation engine matches conjunctions against. Reads opt in through
// Cached, which routes a find through the engine and deduplicates its JSON
// payload handling.
//
// Image capture is best effort in the conservative direction: whenever the
// plugin cannot reconstruct the row images a statement touched (bulk updates,
// deletes without loaded models, raw SQL), it emits a bulk event and the
// engine invalidates everything registered for the model.
package gormcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"

	surgecache "github.com/surgecache/surgecache"
	"github.com/surgecache/surgecache/filter"
	"github.com/surgecache/surgecache/internal/logging"
)

const beforeRowsKey = "surgecache:before_rows"

// Plugin is a gorm.Plugin emitting write events into a surgecache engine.
type Plugin struct {
	engine *surgecache.Engine
	log    *slog.Logger

	// captureBefore selects the row images affected by updates and
	// deletes with an extra SELECT before the write. Without it those
	// statements degrade to bulk invalidation.
	captureBefore bool
}

// Option configures the plugin.
type Option func(*Plugin)

// WithLogger directs plugin diagnostics to l.
func WithLogger(l *slog.Logger) Option {
	return func(p *Plugin) { p.log = l }
}

// WithBeforeImageCapture toggles the pre-write SELECT that captures before
// images for updates and deletes. Enabled by default; disable it to trade
// invalidation precision for one round trip per write.
func WithBeforeImageCapture(on bool) Option {
	return func(p *Plugin) { p.captureBefore = on }
}

// New creates the plugin around an engine.
func New(engine *surgecache.Engine, opts ...Option) *Plugin {
	p := &Plugin{
		engine:        engine,
		log:           logging.Discard(),
		captureBefore: true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements gorm.Plugin.
func (p *Plugin) Name() string {
	return "surgecache"
}

// Initialize implements gorm.Plugin, registering the write callbacks.
func (p *Plugin) Initialize(db *gorm.DB) error {
	create := db.Callback().Create().After("gorm:create")
	if err := create.Register("surgecache:after_create", p.afterCreate); err != nil {
		return fmt.Errorf("gormcache: register create callback: %w", err)
	}
	update := db.Callback().Update()
	if err := update.Before("gorm:update").Register("surgecache:before_update", p.captureBeforeRows); err != nil {
		return fmt.Errorf("gormcache: register before-update callback: %w", err)
	}
	if err := update.After("gorm:update").Register("surgecache:after_update", p.afterUpdate); err != nil {
		return fmt.Errorf("gormcache: register update callback: %w", err)
	}
	del := db.Callback().Delete()
	if err := del.Before("gorm:delete").Register("surgecache:before_delete", p.captureBeforeRows); err != nil {
		return fmt.Errorf("gormcache: register before-delete callback: %w", err)
	}
	if err := del.After("gorm:delete").Register("surgecache:after_delete", p.afterDelete); err != nil {
		return fmt.Errorf("gormcache: register delete callback: %w", err)
	}
	return nil
}

// Cached routes a read through the engine. On a hit dest is decoded from the
// cached payload without touching the database; on a miss run must populate
// dest, which is then marshaled into the cache. A never-matching predicate
// leaves dest untouched except for slice resets.
func (p *Plugin) Cached(ctx context.Context, q *surgecache.Query, dest any, run func() error) error {
	payload, err := p.engine.Fetch(ctx, q, func(context.Context) ([]byte, error) {
		if err := run(); err != nil {
			return nil, err
		}
		return json.Marshal(dest)
	})
	if errors.Is(err, surgecache.ErrEmptyResult) {
		resetSlice(dest)
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(payload, dest)
}

func (p *Plugin) afterCreate(db *gorm.DB) {
	if db.Error != nil || db.Statement.Schema == nil {
		return
	}
	images := imagesFromReflect(db.Statement.Context, db.Statement.Schema, db.Statement.ReflectValue)
	p.emitPerRow(db, surgecache.OpInsert, nil, images)
}

// captureBeforeRows selects the rows the pending update/delete will touch,
// stashing them on the statement for the after callback. Runs inside the
// statement's transaction, so the images are consistent with the write.
func (p *Plugin) captureBeforeRows(db *gorm.DB) {
	if !p.captureBefore || db.Error != nil || db.Statement.Table == "" {
		return
	}
	cond, ok := db.Statement.Clauses["WHERE"]
	if !ok {
		return
	}
	where, ok := cond.Expression.(clause.Where)
	if !ok || len(where.Exprs) == 0 {
		return
	}

	limit := p.engine.Profile(db.Statement.Table).BulkDegradeRows
	var rows []map[string]any
	tx := db.Session(&gorm.Session{NewDB: true, SkipHooks: true}).
		Table(db.Statement.Table).
		Where(clause.Where{Exprs: where.Exprs})
	if limit > 0 {
		// One row past the threshold is enough to know we degrade.
		tx = tx.Limit(limit + 1)
	}
	if err := tx.Find(&rows).Error; err != nil {
		p.log.Warn("before-image capture failed", "table", db.Statement.Table, "error", err)
		return
	}
	images := make([]filter.Row, 0, len(rows))
	for _, raw := range rows {
		images = append(images, filter.RowFromMap(raw))
	}
	db.InstanceSet(beforeRowsKey, images)
}

func (p *Plugin) afterUpdate(db *gorm.DB) {
	if db.Error != nil {
		return
	}
	before := p.storedBeforeRows(db)
	if before == nil || p.exceedsBulkLimit(db, len(before)) {
		p.emitBulk(db, surgecache.OpUpdate)
		return
	}

	assignments := updateAssignments(db)
	if assignments == nil {
		p.emitBulk(db, surgecache.OpUpdate)
		return
	}
	for _, img := range before {
		after := make(filter.Row, len(img)+len(assignments))
		for f, v := range img {
			after[f] = v
		}
		for f, v := range assignments {
			after[f] = v
		}
		p.emit(db, surgecache.WriteEvent{
			Model:  db.Statement.Table,
			Op:     surgecache.OpUpdate,
			Before: img,
			After:  after,
		})
	}
}

func (p *Plugin) afterDelete(db *gorm.DB) {
	if db.Error != nil {
		return
	}
	if before := p.storedBeforeRows(db); before != nil && !p.exceedsBulkLimit(db, len(before)) {
		p.emitPerRow(db, surgecache.OpDelete, before, nil)
		return
	}
	// Fall back to the statement's model value when it carries the row.
	if db.Statement.Schema != nil {
		if images := imagesFromReflect(db.Statement.Context, db.Statement.Schema, db.Statement.ReflectValue); len(images) > 0 {
			p.emitPerRow(db, surgecache.OpDelete, images, nil)
			return
		}
	}
	p.emitBulk(db, surgecache.OpDelete)
}

func (p *Plugin) storedBeforeRows(db *gorm.DB) []filter.Row {
	v, ok := db.InstanceGet(beforeRowsKey)
	if !ok {
		return nil
	}
	rows, ok := v.([]filter.Row)
	if !ok {
		return nil
	}
	return rows
}

func (p *Plugin) exceedsBulkLimit(db *gorm.DB, rows int) bool {
	limit := p.engine.Profile(db.Statement.Table).BulkDegradeRows
	if limit < 0 {
		return false
	}
	if int(db.RowsAffected) > limit {
		return true
	}
	return rows > limit
}

func (p *Plugin) emitPerRow(db *gorm.DB, op surgecache.WriteOp, before, after []filter.Row) {
	images := after
	if op == surgecache.OpDelete {
		images = before
	}
	if len(images) == 0 {
		p.emitBulk(db, op)
		return
	}
	if p.exceedsBulkLimit(db, len(images)) {
		p.emitBulk(db, op)
		return
	}
	for _, img := range images {
		ev := surgecache.WriteEvent{Model: db.Statement.Table, Op: op}
		if op == surgecache.OpDelete {
			ev.Before = img
		} else {
			ev.After = img
		}
		p.emit(db, ev)
	}
}

func (p *Plugin) emitBulk(db *gorm.DB, op surgecache.WriteOp) {
	p.emit(db, surgecache.WriteEvent{
		Model: db.Statement.Table,
		Op:    op,
		Bulk:  true,
	})
}

func (p *Plugin) emit(db *gorm.DB, ev surgecache.WriteEvent) {
	if ev.Model == "" {
		return
	}
	if err := p.engine.OnWrite(db.Statement.Context, ev); err != nil {
		p.log.Error("write invalidation failed", "table", ev.Model, "op", ev.Op.String(), "error", err)
	}
}

// updateAssignments extracts the SET columns of an update statement: the map
// keys for Updates(map), the non-zero fields for Updates(struct), matching
// gorm's own semantics. Returns nil when the assignments cannot be
// determined.
func updateAssignments(db *gorm.DB) filter.Row {
	switch dest := db.Statement.Dest.(type) {
	case map[string]any:
		raw := make(map[string]any, len(dest))
		for col, v := range dest {
			if field := lookupField(db.Statement.Schema, col); field != "" {
				raw[field] = v
			}
		}
		return filter.RowFromMap(raw)
	default:
		if db.Statement.Schema == nil {
			return nil
		}
		rv := reflect.ValueOf(db.Statement.Dest)
		for rv.Kind() == reflect.Pointer {
			rv = rv.Elem()
		}
		if rv.Kind() != reflect.Struct {
			return nil
		}
		raw := make(map[string]any)
		for _, f := range db.Statement.Schema.Fields {
			if f.DBName == "" {
				continue
			}
			v, zero := f.ValueOf(db.Statement.Context, rv)
			if zero {
				continue
			}
			raw[f.DBName] = v
		}
		return filter.RowFromMap(raw)
	}
}

func lookupField(sch *schema.Schema, name string) string {
	if sch == nil {
		return name
	}
	if f := sch.LookUpField(name); f != nil {
		return f.DBName
	}
	return name
}

// imagesFromReflect extracts one row image per model value in the
// statement's reflect value (a struct or a slice of structs).
func imagesFromReflect(ctx context.Context, sch *schema.Schema, rv reflect.Value) []filter.Row {
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Struct:
		if img := rowFromStruct(ctx, sch, rv); img != nil {
			return []filter.Row{img}
		}
		return nil
	case reflect.Slice, reflect.Array:
		images := make([]filter.Row, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			if img := rowFromStruct(ctx, sch, rv.Index(i)); img != nil {
				images = append(images, img)
			}
		}
		return images
	default:
		return nil
	}
}

func rowFromStruct(ctx context.Context, sch *schema.Schema, rv reflect.Value) filter.Row {
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil
	}
	raw := make(map[string]any, len(sch.Fields))
	for _, f := range sch.Fields {
		if f.DBName == "" {
			continue
		}
		v, _ := f.ValueOf(ctx, rv)
		raw[f.DBName] = v
	}
	return filter.RowFromMap(raw)
}

func resetSlice(dest any) {
	rv := reflect.ValueOf(dest)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return
	}
	elem := rv.Elem()
	if elem.Kind() == reflect.Slice {
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
	}
}

// Ensure Plugin implements gorm.Plugin
var _ gorm.Plugin = (*Plugin)(nil)
