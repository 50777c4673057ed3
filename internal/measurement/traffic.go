package measurement

import (
	"context"

	"github.com/jszwec/csvutil"

	"github.com/sells-group/cdr-etl/internal/db"
	"github.com/sells-group/cdr-etl/internal/gate"
)

// TrafficEntity is the hourly traffic fact table.
var TrafficEntity = gate.Entity{Name: "traffic", Table: "fact_traffic_milan", Kind: gate.Fact}

var trafficSchema = Schema{Columns: []Column{
	{Name: "datetime", Required: true},
	{Name: "cell_id", Aliases: []string{"CellID", "square_id", "squareid"}, Required: true},
	{Name: "countrycode", Aliases: []string{"CountryCode", "country_code"}},
	{Name: "smsin"},
	{Name: "smsout"},
	{Name: "callin"},
	{Name: "callout"},
	{Name: "internet"},
}}

var trafficColumns = []string{
	"datetime", "cell_id", "countrycode", "smsin", "smsout", "callin", "callout", "internet",
}

type trafficRecord struct {
	Datetime    string `csv:"datetime"`
	CellID      string `csv:"cell_id"`
	CountryCode string `csv:"countrycode"`
	SMSIn       string `csv:"smsin"`
	SMSOut      string `csv:"smsout"`
	CallIn      string `csv:"callin"`
	CallOut     string `csv:"callout"`
	Internet    string `csv:"internet"`
}

// Traffic loads fact_traffic_milan.
type Traffic struct{}

// Entity implements Dataset.
func (Traffic) Entity() gate.Entity { return TrafficEntity }

// Schema implements Dataset.
func (Traffic) Schema() Schema { return trafficSchema }

// Columns implements Dataset.
func (Traffic) Columns() []string { return trafficColumns }

// Prepare implements Dataset. Traffic needs no reference data.
func (Traffic) Prepare(context.Context, db.Pool) error { return nil }

func (Traffic) row(dec *csvutil.Decoder, c *cleaner) ([]any, reject, error) {
	var rec trafficRecord
	if err := dec.Decode(&rec); err != nil {
		return nil, accepted, err
	}

	ts, ok := c.timestamp(rec.Datetime)
	if !ok {
		return nil, invalidDate, nil
	}
	smsin := c.metric("smsin", rec.SMSIn)
	smsout := c.metric("smsout", rec.SMSOut)
	callin := c.metric("callin", rec.CallIn)
	callout := c.metric("callout", rec.CallOut)
	internet := c.metric("internet", rec.Internet)

	cell, ok := cellID(rec.CellID)
	if !ok {
		return nil, invalidCell, nil
	}
	country := c.integer("countrycode", rec.CountryCode)

	return []any{ts, cell, country, smsin, smsout, callin, callout, internet}, accepted, nil
}
