package channel

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"spinwheel/internal/core/network"
)

// Report is one result produced by a spoke: a scalar bound tagged with the
// state version it was computed against and a per-spoke sequence number.
// Usable false is an explicit "no result this iteration"; Infeasible marks a
// relaxation that proved the problem infeasible, which the hub treats as a
// termination criterion.
type Report struct {
	Spoke        string    `json:"spoke"`
	Seq          uint64    `json:"seq"`
	StateVersion uint64    `json:"state_version"`
	Bound        float64   `json:"bound"`
	Usable       bool      `json:"usable"`
	Infeasible   bool      `json:"infeasible,omitempty"`
	At           time.Time `json:"at"`
}

// ReportWriter is the sending end of one spoke's report stream. Each spoke
// is the sole writer of its own topic.
type ReportWriter struct {
	ps    network.PubSub
	topic string
	spoke string
	seq   uint64
}

func NewReportWriter(ps network.PubSub, topic, spoke string) *ReportWriter {
	return &ReportWriter{ps: ps, topic: topic, spoke: spoke}
}

func (w *ReportWriter) Send(r Report) error {
	w.seq++
	r.Spoke = w.spoke
	r.Seq = w.seq
	if r.At.IsZero() {
		r.At = time.Now().UTC()
	}
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := w.ps.Publish(w.topic, b); err != nil {
		return fmt.Errorf("publish %s: %w", w.topic, err)
	}
	return nil
}

// ReportCollector is the hub's receiving end for every spoke's report
// stream. Drain never blocks: it empties whatever has arrived and returns.
type ReportCollector struct {
	chans   []<-chan network.Message
	cancels []func()
	log     *zap.Logger
}

func NewReportCollector(ps network.PubSub, topics []string, log *zap.Logger) (*ReportCollector, error) {
	if log == nil {
		log = zap.NewNop()
	}
	c := &ReportCollector{log: log}
	for _, topic := range topics {
		ch, cancel, err := ps.Subscribe(topic)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("attach %s: %w", topic, err)
		}
		c.chans = append(c.chans, ch)
		c.cancels = append(c.cancels, cancel)
	}
	return c, nil
}

func (c *ReportCollector) Drain() []Report {
	var out []Report
	for _, ch := range c.chans {
		draining := true
		for draining {
			select {
			case msg, ok := <-ch:
				if !ok {
					draining = false
					break
				}
				var r Report
				if err := json.Unmarshal(msg.Payload, &r); err != nil {
					c.log.Warn("bad report frame", zap.String("topic", msg.Topic), zap.Error(err))
					continue
				}
				out = append(out, r)
			default:
				draining = false
			}
		}
	}
	return out
}

func (c *ReportCollector) Close() {
	for _, cancel := range c.cancels {
		cancel()
	}
}
