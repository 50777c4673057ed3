// Package pipeline sequences the loads: grid, provinces, traffic, mobility,
// then an optional audit. Steps run one at a time and the first failure halts
// the rest; work already committed stays.
package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cdr-etl/internal/audit"
	"github.com/sells-group/cdr-etl/internal/config"
	"github.com/sells-group/cdr-etl/internal/crs"
	"github.com/sells-group/cdr-etl/internal/db"
	"github.com/sells-group/cdr-etl/internal/geometry"
	"github.com/sells-group/cdr-etl/internal/measurement"
)

// StepStatus is the outcome of one step.
type StepStatus string

const (
	StepComplete StepStatus = "complete"
	StepSkipped  StepStatus = "skipped"
	StepNoFiles  StepStatus = "no_files"
	StepFailed   StepStatus = "failed"
)

// Step names, in execution order.
const (
	StepGrid      = "grid"
	StepProvinces = "provinces"
	StepTraffic   = "traffic"
	StepMobility  = "mobility"
	StepAudit     = "audit"
)

// StepResult records one step.
type StepResult struct {
	Name     string
	Status   StepStatus
	Duration time.Duration
	Loaded   int64
	Rejected int64
	Error    string
}

// Options selects which steps run.
type Options struct {
	Geo        bool
	Data       bool
	Audit      bool
	LimitFiles int
}

// Result holds everything a run produced.
type Result struct {
	RunID     uuid.UUID
	Steps     []StepResult
	Grid      *geometry.Result
	Provinces *geometry.Result
	Traffic   *measurement.Result
	Mobility  *measurement.Result
	Findings  []audit.Finding
}

// Pipeline runs the load steps against one store.
type Pipeline struct {
	cfg  *config.Config
	pool db.Pool
}

// New creates a Pipeline.
func New(cfg *config.Config, pool db.Pool) *Pipeline {
	return &Pipeline{cfg: cfg, pool: pool}
}

// Run executes the selected steps in dependency order.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Result, error) {
	res := &Result{RunID: uuid.New()}
	log := zap.L().With(zap.String("component", "pipeline.run"), zap.String("run_id", res.RunID.String()))
	log.Info("pipeline: starting",
		zap.Bool("geo", opts.Geo),
		zap.Bool("data", opts.Data),
		zap.Bool("audit", opts.Audit),
		zap.Int("limit_files", opts.LimitFiles),
	)

	track := func(name string, fn func() (StepResult, error)) error {
		start := time.Now()
		step, err := fn()
		step.Name = name
		step.Duration = time.Since(start)
		if err != nil {
			step.Status = StepFailed
			step.Error = err.Error()
			log.Error("pipeline: step failed", zap.String("step", name), zap.Duration("elapsed", step.Duration), zap.Error(err))
		} else {
			log.Info("pipeline: step complete",
				zap.String("step", name),
				zap.String("status", string(step.Status)),
				zap.Int64("loaded", step.Loaded),
				zap.Int64("rejected", step.Rejected),
				zap.Duration("elapsed", step.Duration),
			)
		}
		res.Steps = append(res.Steps, step)
		return err
	}

	if opts.Geo {
		if err := p.runGeo(ctx, res, track); err != nil {
			return res, err
		}
	}
	if opts.Data {
		if err := p.runData(ctx, res, opts.LimitFiles, track); err != nil {
			return res, err
		}
	}
	if opts.Audit {
		err := track(StepAudit, func() (StepResult, error) {
			findings, err := audit.New(p.pool).Run(ctx)
			res.Findings = findings
			if err != nil {
				return StepResult{}, err
			}
			return StepResult{Status: StepComplete, Rejected: violations(findings)}, nil
		})
		if err != nil {
			return res, eris.Wrap(err, "pipeline: audit")
		}
	}

	log.Info("pipeline: done", zap.Int("steps", len(res.Steps)))
	return res, nil
}

type tracker func(name string, fn func() (StepResult, error)) error

func (p *Pipeline) runGeo(ctx context.Context, res *Result, track tracker) error {
	target, err := crs.Parse(p.cfg.Data.TargetCRS)
	if err != nil {
		return eris.Wrap(err, "pipeline: target crs")
	}
	if !target.Supported() {
		return eris.Wrapf(crs.ErrUnsupported, "pipeline: target %s", target)
	}
	loader := geometry.NewLoader(p.pool, target, p.cfg.Load.BatchSize)

	err = track(StepGrid, func() (StepResult, error) {
		r, err := loader.LoadGrid(ctx, filepath.Join(p.cfg.Data.Dir, p.cfg.Data.GridFile))
		if err != nil {
			return StepResult{}, err
		}
		res.Grid = r
		return geometryStep(r), nil
	})
	if err != nil {
		return eris.Wrap(err, "pipeline: grid")
	}

	err = track(StepProvinces, func() (StepResult, error) {
		r, err := loader.LoadProvinces(ctx, filepath.Join(p.cfg.Data.Dir, p.cfg.Data.ProvincesFile))
		if err != nil {
			return StepResult{}, err
		}
		res.Provinces = r
		return geometryStep(r), nil
	})
	if err != nil {
		return eris.Wrap(err, "pipeline: provinces")
	}
	return nil
}

func (p *Pipeline) runData(ctx context.Context, res *Result, limit int, track tracker) error {
	loc, err := p.cfg.Data.Location()
	if err != nil {
		return err
	}
	loader := measurement.NewLoader(p.pool, measurement.Options{
		Dir:       p.cfg.Data.Dir,
		Limit:     limit,
		BatchSize: p.cfg.Load.BatchSize,
		Location:  loc,
		Reader: measurement.ReaderOptions{
			Delimiter: p.cfg.Data.Comma(),
			Encoding:  p.cfg.Data.Encoding,
		},
		RunID: res.RunID,
	})

	err = track(StepTraffic, func() (StepResult, error) {
		r, err := loader.Load(ctx, measurement.Traffic{}, p.cfg.Data.TrafficPattern)
		res.Traffic = r
		return measurementStep(r, err)
	})
	if err != nil {
		return eris.Wrap(err, "pipeline: traffic")
	}

	err = track(StepMobility, func() (StepResult, error) {
		r, err := loader.Load(ctx, measurement.NewMobility(nil), p.cfg.Data.MobilityPattern)
		res.Mobility = r
		return measurementStep(r, err)
	})
	if err != nil {
		return eris.Wrap(err, "pipeline: mobility")
	}
	return nil
}

func geometryStep(r *geometry.Result) StepResult {
	if r.AlreadyLoaded {
		return StepResult{Status: StepSkipped}
	}
	return StepResult{Status: StepComplete, Loaded: r.Loaded, Rejected: int64(r.Skipped)}
}

// measurementStep maps a measurement load onto a step. No matching files is
// a no-op, not a failure.
func measurementStep(r *measurement.Result, err error) (StepResult, error) {
	if errors.Is(err, measurement.ErrNoMatchingFiles) {
		return StepResult{Status: StepNoFiles}, nil
	}
	if err != nil {
		return StepResult{}, err
	}
	if r.AlreadyLoaded {
		return StepResult{Status: StepSkipped}, nil
	}
	return StepResult{Status: StepComplete, Loaded: r.Totals.Loaded, Rejected: r.Totals.Rejected()}, nil
}

func violations(findings []audit.Finding) int64 {
	var n int64
	for _, f := range findings {
		n += f.Violations
	}
	return n
}
