package output

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/jaxxstorm/hopwatch/internal/model"
)

// WriteEventsCSV writes one row per event with a fixed column order.
func WriteEventsCSV(w io.Writer, events []model.AnomalyEvent) error {
	writer := csv.NewWriter(w)

	header := []string{
		"id",
		"created_at",
		"target",
		"destination_addr",
		"issue_kind",
		"hop_count",
		"problem_hop",
		"mean_latency_ms",
		"loss_pct",
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, e := range events {
		record := []string{
			e.ID,
			e.CreatedAt.UTC().Format(time.RFC3339Nano),
			e.Target,
			e.DestinationAddr,
			string(e.IssueKind),
			strconv.Itoa(e.HopCount),
			strconv.Itoa(e.ProblemHop),
			formatOptional(e.MeanLatencyMs),
			strconv.FormatFloat(e.LossPct, 'f', 3, 64),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// WriteAggregatesCSV writes one row per hop bucket with a fixed column order.
func WriteAggregatesCSV(w io.Writer, aggs []model.HopAggregate) error {
	writer := csv.NewWriter(w)

	header := []string{
		"minute",
		"target",
		"hop_number",
		"hop_address",
		"attempts",
		"losses",
		"samples",
		"mean_ms",
		"min_ms",
		"max_ms",
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, a := range aggs {
		record := []string{
			a.Key.Minute.UTC().Format(time.RFC3339),
			a.Key.Target,
			strconv.Itoa(a.Key.HopNumber),
			a.Key.HopAddress,
			strconv.FormatInt(a.Attempts, 10),
			strconv.FormatInt(a.Losses, 10),
			strconv.FormatInt(a.Samples, 10),
			formatOptional(a.MeanMs),
			formatOptional(a.MinMs),
			formatOptional(a.MaxMs),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 3, 64)
}
