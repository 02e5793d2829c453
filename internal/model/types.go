package model

import "time"

// NoResponseLabel is shown for hops that neither named nor addressed themselves.
const NoResponseLabel = "no response"

type HopObservation struct {
	HopNumber int      `json:"hop_number"`
	Address   string   `json:"address,omitempty"`
	Hostname  string   `json:"hostname,omitempty"`
	LatencyMs *float64 `json:"latency_ms"`
	TimedOut  bool     `json:"timed_out"`
}

func (h HopObservation) HasAddress() bool {
	return h.Address != ""
}

func (h HopObservation) HasLatency() bool {
	return h.LatencyMs != nil && !h.TimedOut
}

func (h HopObservation) DisplayName() string {
	if h.Hostname != "" {
		return h.Hostname
	}
	if h.Address != "" {
		return h.Address
	}
	return NoResponseLabel
}

type ProbeRun struct {
	Target     string           `json:"target"`
	Hops       []HopObservation `json:"hops"`
	ObservedAt time.Time        `json:"observed_at"`
}

type FindingKind string

const (
	FindingHighLatency FindingKind = "HighLatency"
	FindingTimeout     FindingKind = "Timeout"
)

type AnomalyFinding struct {
	Kind      FindingKind `json:"kind"`
	HopNumber int         `json:"hop_number"`
	Value     *float64    `json:"value"`
	Threshold float64     `json:"threshold"`
}

type IssueKind string

const (
	IssueHighLatency IssueKind = "high_latency"
	IssueTimeout     IssueKind = "timeout"
	IssuePacketLoss  IssueKind = "packet_loss"
)

type RunStats struct {
	MeanLatencyMs *float64 `json:"mean_latency_ms"`
	LossPct       float64  `json:"loss_pct"`
}

// AnomalyEvent is the durable record of one anomalous run. It owns a snapshot
// of every hop in the run.
type AnomalyEvent struct {
	ID              string           `json:"id"`
	Target          string           `json:"target"`
	DestinationAddr string           `json:"destination_addr,omitempty"`
	IssueKind       IssueKind        `json:"issue_kind"`
	HopCount        int              `json:"hop_count"`
	ProblemHop      int              `json:"problem_hop"`
	MeanLatencyMs   *float64         `json:"mean_latency_ms"`
	LossPct         float64          `json:"loss_pct"`
	CreatedAt       time.Time        `json:"created_at"`
	Hops            []HopObservation `json:"hops"`
}

// InsertSummary counts the per-row outcome of writing an event's hop path.
type InsertSummary struct {
	Inserted int `json:"inserted"`
	Skipped  int `json:"skipped"`
}

func Float(v float64) *float64 {
	return &v
}
