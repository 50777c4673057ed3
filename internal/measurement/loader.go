// Package measurement loads the traffic and mobility fact tables from
// delimited files. Each file is cleaned row by row and committed in its own
// transaction together with its checkpoint entry.
package measurement

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cdr-etl/internal/checkpoint"
	"github.com/sells-group/cdr-etl/internal/db"
	"github.com/sells-group/cdr-etl/internal/gate"
)

// FileStats counts what happened to one file's rows.
type FileStats struct {
	File               string
	Read               int64
	Loaded             int64
	InvalidDates       int64
	InvalidCells       int64
	UnmatchedProvinces int64
	Malformed          int64
	Clamped            int64
	// Skipped is set when the file was not loaded: already checkpointed, or
	// missing a required column.
	Skipped    bool
	SkipReason string
}

// Rejected is the number of rows dropped by cleaning.
func (s FileStats) Rejected() int64 {
	return s.InvalidDates + s.InvalidCells + s.UnmatchedProvinces + s.Malformed
}

func (s *FileStats) add(o FileStats) {
	s.Read += o.Read
	s.Loaded += o.Loaded
	s.InvalidDates += o.InvalidDates
	s.InvalidCells += o.InvalidCells
	s.UnmatchedProvinces += o.UnmatchedProvinces
	s.Malformed += o.Malformed
	s.Clamped += o.Clamped
}

func (s FileStats) fields() []zap.Field {
	return []zap.Field{
		zap.Int64("read", s.Read),
		zap.Int64("loaded", s.Loaded),
		zap.Int64("invalid_dates", s.InvalidDates),
		zap.Int64("invalid_cells", s.InvalidCells),
		zap.Int64("unmatched_provinces", s.UnmatchedProvinces),
		zap.Int64("malformed", s.Malformed),
		zap.Int64("clamped", s.Clamped),
	}
}

// Result summarises one fact load.
type Result struct {
	Entity        string
	Decision      gate.Decision
	AlreadyLoaded bool
	Files         []FileStats
	Totals        FileStats
}

// Options configures a Loader.
type Options struct {
	Dir       string
	Limit     int
	BatchSize int
	Location  *time.Location
	Reader    ReaderOptions
	RunID     uuid.UUID
}

// Loader loads fact tables file by file.
type Loader struct {
	pool   db.Pool
	gate   *gate.Gate
	ledger *checkpoint.Ledger
	opts   Options
}

// NewLoader creates a Loader.
func NewLoader(pool db.Pool, opts Options) *Loader {
	if opts.BatchSize <= 0 {
		opts.BatchSize = db.DefaultBatchSize
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Loader{
		pool:   pool,
		gate:   gate.New(pool),
		ledger: checkpoint.NewLedger(pool),
		opts:   opts,
	}
}

// Load loads the files matching pattern into ds's table. A table that is
// populated without checkpoints is skipped; on resume, checkpointed files are
// skipped and the rest are loaded. ErrNoMatchingFiles is returned when the
// pattern matches nothing.
func (l *Loader) Load(ctx context.Context, ds Dataset, pattern string) (*Result, error) {
	entity := ds.Entity()
	log := zap.L().With(
		zap.String("component", "measurement.load"),
		zap.String("entity", entity.Name),
		zap.String("run_id", l.opts.RunID.String()),
	)
	res := &Result{Entity: entity.Name}

	decision, err := l.gate.Check(ctx, entity)
	if err != nil {
		return nil, eris.Wrapf(err, "measurement: %s gate", entity.Name)
	}
	res.Decision = decision
	if decision == gate.Populated {
		res.AlreadyLoaded = true
		log.Info("table already loaded, skipping")
		return res, nil
	}

	files, err := MatchFiles(l.opts.Dir, pattern, l.opts.Limit)
	if err != nil {
		if errors.Is(err, ErrNoMatchingFiles) {
			log.Warn("no files matched", zap.String("pattern", pattern), zap.String("dir", l.opts.Dir))
		}
		return res, err
	}

	done := map[string]string{}
	if decision == gate.Resume {
		if done, err = l.ledger.Fingerprints(ctx, entity.Name); err != nil {
			return nil, eris.Wrapf(err, "measurement: %s checkpoints", entity.Name)
		}
	}

	if err := ds.Prepare(ctx, l.pool); err != nil {
		return nil, err
	}

	start := time.Now()
	log.Info("loading files", zap.Int("files", len(files)), zap.String("decision", decision.String()))

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return res, eris.Wrap(err, "measurement: cancelled")
		}

		stats, err := l.loadFile(ctx, ds, path, done, log)
		if err != nil {
			return res, err
		}
		res.Files = append(res.Files, *stats)
		res.Totals.add(*stats)
	}

	if m, ok := ds.(*Mobility); ok {
		m.logResolution(log)
	}

	log.Info("load complete",
		append(res.Totals.fields(),
			zap.Int("files", len(res.Files)),
			zap.Duration("elapsed", time.Since(start)),
		)...,
	)
	if rejected := res.Totals.Rejected(); rejected > 0 {
		log.Warn("rows rejected", zap.Int64("rejected", rejected))
	}
	return res, nil
}

// loadFile loads one file in its own transaction, or skips it when it is
// already checkpointed or lacks a required column.
func (l *Loader) loadFile(ctx context.Context, ds Dataset, path string, done map[string]string, log *zap.Logger) (*FileStats, error) {
	name := filepath.Base(path)
	stats := &FileStats{File: name}
	flog := log.With(zap.String("file", name))

	fingerprint, err := checkpoint.Fingerprint(path)
	if err != nil {
		return nil, err
	}
	if prev, ok := done[name]; ok {
		stats.Skipped = true
		stats.SkipReason = "checkpointed"
		if prev != fingerprint {
			stats.SkipReason = "checkpointed, contents changed"
			flog.Warn("file changed since it was loaded, skipping",
				zap.String("loaded_fingerprint", prev),
				zap.String("fingerprint", fingerprint),
			)
		} else {
			flog.Info("file already loaded, skipping")
		}
		return stats, nil
	}

	cr, closer, err := openCSV(path, l.opts.Reader)
	if err != nil {
		return nil, err
	}
	defer func() { _ = closer.Close() }()

	schema := ds.Schema()
	dec, header, err := newDecoder(cr, schema)
	if err != nil {
		if errors.Is(err, ErrMissingColumn) {
			stats.Skipped = true
			stats.SkipReason = err.Error()
			flog.Warn("file skipped", zap.Error(err))
			return stats, nil
		}
		return nil, eris.Wrapf(err, "measurement: %s", name)
	}

	table := ds.Entity().Table
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, db.NewStorageError("begin", table, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	c := &cleaner{loc: l.opts.Location, schema: schema, header: header, stats: stats}
	batch := make([][]any, 0, l.opts.BatchSize)
	flush := func() error {
		n, err := db.CopyFrom(ctx, tx, table, ds.Columns(), batch)
		if err != nil {
			return err
		}
		stats.Loaded += n
		batch = batch[:0]
		return nil
	}

	err = clean(ds, dec, c, func(row []any) error {
		batch = append(batch, row)
		if len(batch) < l.opts.BatchSize {
			return nil
		}
		return flush()
	})
	if err != nil {
		return nil, eris.Wrapf(err, "measurement: %s", name)
	}
	if err := flush(); err != nil {
		return nil, eris.Wrapf(err, "measurement: %s", name)
	}

	err = checkpoint.Record(ctx, tx, checkpoint.Entry{
		Entity:       ds.Entity().Name,
		FileName:     name,
		Fingerprint:  fingerprint,
		RowsLoaded:   stats.Loaded,
		RowsRejected: stats.Rejected(),
		RunID:        l.opts.RunID,
	})
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, db.NewStorageError("commit", table, err)
	}

	flog.Info("file loaded", stats.fields()...)
	if stats.Rejected() > 0 {
		flog.Warn("file rows rejected", zap.Int64("rejected", stats.Rejected()))
	}
	return stats, nil
}

// clean decodes every remaining record through ds, counting rejections in
// c.stats and passing surviving rows to emit.
func clean(ds Dataset, dec *csvutil.Decoder, c *cleaner, emit func([]any) error) error {
	for {
		row, why, err := ds.row(dec, c)
		if errors.Is(err, io.EOF) {
			return nil
		}
		c.stats.Read++
		if err != nil {
			if isMalformed(err) {
				c.stats.Malformed++
				continue
			}
			return eris.Wrapf(err, "line %d", c.stats.Read+1)
		}

		switch why {
		case invalidDate:
			c.stats.InvalidDates++
		case unmatchedProvince:
			c.stats.UnmatchedProvinces++
		case invalidCell:
			c.stats.InvalidCells++
		default:
			if err := emit(row); err != nil {
				return err
			}
		}
	}
}
