package measurement

import (
	"context"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cdr-etl/internal/db"
	"github.com/sells-group/cdr-etl/internal/gate"
	"github.com/sells-group/cdr-etl/internal/resolve"
)

// MobilityEntity is the cell to province mobility fact table.
var MobilityEntity = gate.Entity{Name: "mobility", Table: "fact_mobility_provinces", Kind: gate.Fact}

var mobilitySchema = Schema{Columns: []Column{
	{Name: "datetime", Required: true},
	{Name: "cell_id", Aliases: []string{"CellID", "square_id"}, Required: true},
	{Name: "provincia", Aliases: []string{"provinceName", "province", "provincia_name"}, Required: true},
	{Name: "cell2province", Aliases: []string{"cell2Province"}},
	{Name: "province2cell", Aliases: []string{"Province2cell", "province2Cell"}},
}}

var mobilityColumns = []string{"datetime", "cell_id", "provincia", "cell2province", "province2cell"}

type mobilityRecord struct {
	Datetime      string `csv:"datetime"`
	CellID        string `csv:"cell_id"`
	Provincia     string `csv:"provincia"`
	Cell2Province string `csv:"cell2province"`
	Province2Cell string `csv:"province2cell"`
}

// Mobility loads fact_mobility_provinces. Province names are resolved against
// dim_provinces_it, which Prepare reads.
type Mobility struct {
	resolver *resolve.Resolver
}

// NewMobility creates a Mobility dataset. A nil resolver is loaded from the
// store by Prepare.
func NewMobility(r *resolve.Resolver) *Mobility {
	return &Mobility{resolver: r}
}

// Entity implements Dataset.
func (*Mobility) Entity() gate.Entity { return MobilityEntity }

// Schema implements Dataset.
func (*Mobility) Schema() Schema { return mobilitySchema }

// Columns implements Dataset.
func (*Mobility) Columns() []string { return mobilityColumns }

// Prepare primes the resolver. An empty province dimension means provinces
// were not loaded first; that is an error, not a reason to drop every row.
func (m *Mobility) Prepare(ctx context.Context, pool db.Pool) error {
	if m.resolver != nil {
		return nil
	}
	r, err := resolve.Load(ctx, pool)
	if err != nil {
		return eris.Wrap(err, "measurement: mobility needs provinces loaded first")
	}
	m.resolver = r
	return nil
}

func (m *Mobility) row(dec *csvutil.Decoder, c *cleaner) ([]any, reject, error) {
	var rec mobilityRecord
	if err := dec.Decode(&rec); err != nil {
		return nil, accepted, err
	}

	ts, ok := c.timestamp(rec.Datetime)
	if !ok {
		return nil, invalidDate, nil
	}
	c2p := c.metric("cell2province", rec.Cell2Province)
	p2c := c.metric("province2cell", rec.Province2Cell)

	provincia, ok := m.resolver.Resolve(rec.Provincia)
	if !ok {
		return nil, unmatchedProvince, nil
	}

	cell, ok := cellID(rec.CellID)
	if !ok {
		return nil, invalidCell, nil
	}

	return []any{ts, cell, provincia, c2p, p2c}, accepted, nil
}

// logResolution reports the resolver's match counters and the most frequent
// province names that failed to resolve.
func (m *Mobility) logResolution(log *zap.Logger) {
	if m.resolver == nil {
		return
	}
	stats := m.resolver.Stats()
	log.Info("province resolution",
		zap.Int64("matched", stats.Matched),
		zap.Int64("unmatched", stats.Unmatched),
	)
	names := m.resolver.Unmatched()
	if len(names) == 0 {
		return
	}
	if len(names) > 10 {
		names = names[:10]
	}
	for _, n := range names {
		log.Warn("unmatched province", zap.String("name", n.Name), zap.Int64("rows", n.Count))
	}
}
