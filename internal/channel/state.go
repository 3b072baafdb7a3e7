package channel

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"spinwheel/internal/core/network"
)

// stateFrame is the wire form of one published version.
type stateFrame struct {
	Version uint64    `json:"version"`
	Values  []float64 `json:"values"`
	At      int64     `json:"at_unix_ns,omitempty"`
}

// Writer is the publishing end of a state channel. Exactly one Writer may
// exist per topic for the lifetime of a computation; it assigns versions
// 1, 2, 3… and broadcasts each fully written snapshot to all readers.
type Writer struct {
	reg   *Register
	ps    network.PubSub
	topic string
	log   *zap.Logger
	ver   uint64
}

func NewWriter(ps network.PubSub, topic string, dim int, log *zap.Logger) *Writer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{reg: NewRegister(dim), ps: ps, topic: topic, log: log}
}

func (w *Writer) Dim() int { return w.reg.Dim() }

// Version returns the last version published, 0 before the first publish.
func (w *Writer) Version() uint64 { return w.ver }

// Publish stores vals as the next version and broadcasts it. The local
// register is updated before the broadcast so same-process readers attached
// via Register never observe the version ahead of the data.
func (w *Writer) Publish(vals []float64) (uint64, error) {
	if len(vals) != w.reg.Dim() {
		return 0, fmt.Errorf("publish %s: got %d values, channel holds %d", w.topic, len(vals), w.reg.Dim())
	}
	w.ver++
	w.reg.Store(w.ver, vals)
	b, err := json.Marshal(stateFrame{Version: w.ver, Values: vals})
	if err != nil {
		return 0, fmt.Errorf("marshal state frame: %w", err)
	}
	if err := w.ps.Publish(w.topic, b); err != nil {
		return 0, fmt.Errorf("publish %s: %w", w.topic, err)
	}
	w.log.Debug("published state", zap.String("topic", w.topic), zap.Uint64("version", w.ver))
	return w.ver, nil
}

// Reader is the consuming end of a state channel. A consumer goroutine
// mirrors arriving frames into a local register; TryRead and HasNewSince are
// non-blocking polls against that register. Frames whose version is not
// strictly greater than the current one are dropped, so a reader observes
// versions in increasing order even if the transport reorders or duplicates.
type Reader struct {
	reg    *Register
	cancel func()
}

func NewReader(ps network.PubSub, topic string, dim int, log *zap.Logger) (*Reader, error) {
	if log == nil {
		log = zap.NewNop()
	}
	ch, cancel, err := ps.Subscribe(topic)
	if err != nil {
		return nil, fmt.Errorf("attach %s: %w", topic, err)
	}
	r := &Reader{reg: NewRegister(dim), cancel: cancel}
	go func() {
		for msg := range ch {
			var f stateFrame
			if err := json.Unmarshal(msg.Payload, &f); err != nil {
				log.Warn("bad state frame", zap.String("topic", topic), zap.Error(err))
				continue
			}
			if f.Version == 0 || len(f.Values) != dim {
				log.Warn("dropping malformed state frame",
					zap.String("topic", topic), zap.Uint64("version", f.Version), zap.Int("len", len(f.Values)))
				continue
			}
			if f.Version <= r.reg.Version() {
				continue
			}
			r.reg.Store(f.Version, f.Values)
		}
	}()
	return r, nil
}

func (r *Reader) Dim() int { return r.reg.Dim() }

// TryRead copies the latest published snapshot into dst; ok is false before
// any version has arrived. Never blocks.
func (r *Reader) TryRead(dst []float64) (version uint64, ok bool) {
	return r.reg.TryRead(dst)
}

func (r *Reader) HasNewSince(lastSeen uint64) bool {
	return r.reg.HasNewSince(lastSeen)
}

func (r *Reader) Close() {
	r.cancel()
}
