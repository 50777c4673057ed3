// Package gate decides, once per entity, whether a load should run.
package gate

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/cdr-etl/internal/checkpoint"
	"github.com/sells-group/cdr-etl/internal/db"
)

// Kind separates load-once dimensions from append-only facts.
type Kind int

const (
	Dimension Kind = iota
	Fact
)

// Entity names a loadable table.
type Entity struct {
	Name  string
	Table string
	Kind  Kind
}

// Decision is the outcome of a gate check.
type Decision int

const (
	// Empty means nothing has been loaded; load everything.
	Empty Decision = iota
	// Populated means the entity is complete; skip it.
	Populated
	// Resume means some files are checkpointed; load only the rest.
	Resume
)

func (d Decision) String() string {
	switch d {
	case Empty:
		return "empty"
	case Populated:
		return "populated"
	case Resume:
		return "resume"
	default:
		return "unknown"
	}
}

// Gate queries the store for load state. It holds no state between checks.
type Gate struct {
	pool   db.Pool
	ledger *checkpoint.Ledger
}

// New creates a Gate backed by pool.
func New(pool db.Pool) *Gate {
	return &Gate{pool: pool, ledger: checkpoint.NewLedger(pool)}
}

// Check returns the load decision for e.
//
// Dimensions are Empty or Populated. For facts the checkpoint ledger takes
// precedence: any ledger entry yields Resume. A fact table with rows but no
// ledger entries was loaded before the ledger existed and is Populated.
func (g *Gate) Check(ctx context.Context, e Entity) (Decision, error) {
	log := zap.L().With(zap.String("component", "gate.check"), zap.String("entity", e.Name))

	if e.Kind == Fact {
		files, err := g.ledger.Count(ctx, e.Name)
		if err != nil {
			return Empty, err
		}
		if files > 0 {
			log.Info("checkpointed files found", zap.Int64("files", files))
			return Resume, nil
		}
	}

	rows, err := db.CountRows(ctx, g.pool, e.Table)
	if err != nil {
		return Empty, err
	}
	if rows > 0 {
		log.Info("entity already populated", zap.Int64("rows", rows))
		return Populated, nil
	}
	return Empty, nil
}
