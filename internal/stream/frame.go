// Package stream publishes render snapshots to remote presentation
// consumers over WebSocket and QUIC. Feeds only ever read snapshots from a
// sim.Exchange; they never touch the simulation.
package stream

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/pkg/errors"

	"github.com/zeusync/scenesync/internal/core/scene"
	"github.com/zeusync/scenesync/internal/core/sim"
	"github.com/zeusync/scenesync/internal/core/spatial"
	"github.com/zeusync/scenesync/pkg/generic"
)

// MaxFrameSize bounds a single length-prefixed frame on the QUIC feed.
const MaxFrameSize = 16 << 20

var (
	ErrUnauthorized  = errors.New("stream: unauthorized")
	ErrFrameTooLarge = errors.New("stream: frame too large")
)

// Frame is the wire form of a snapshot.
type Frame struct {
	RunID  string      `json:"run_id"`
	Frame  uint64      `json:"frame"`
	Tick   uint64      `json:"tick"`
	Alpha  float64     `json:"alpha"`
	Digest uint64      `json:"digest"`
	Nodes  []NodeFrame `json:"nodes"`
}

// NodeFrame is one presented node. Orientation is [w, x, y, z].
type NodeFrame struct {
	ID          uint64     `json:"id"`
	Parent      uint64     `json:"parent,omitempty"`
	Position    [3]float64 `json:"position"`
	Orientation [4]float64 `json:"orientation"`
	Scale       [3]float64 `json:"scale"`
}

// Encode copies a snapshot into its wire form.
func Encode(s *sim.Snapshot) Frame {
	f := Frame{
		RunID:  s.RunID(),
		Frame:  s.Frame(),
		Tick:   s.Tick(),
		Alpha:  s.Alpha(),
		Digest: s.Digest(),
		Nodes:  make([]NodeFrame, 0, s.Len()),
	}
	s.Each(func(id, parent scene.NodeID, t spatial.Transform) bool {
		f.Nodes = append(f.Nodes, NodeFrame{
			ID:          uint64(id),
			Parent:      uint64(parent),
			Position:    t.Position,
			Orientation: [4]float64{t.Orientation.W, t.Orientation.V[0], t.Orientation.V[1], t.Orientation.V[2]},
			Scale:       t.Scale,
		})
		return true
	})
	return f
}

// hello is the first message a QUIC subscriber sends.
type hello struct {
	Token string `json:"token,omitempty"`
}

var buffers = generic.NewPool(func() *bytes.Buffer { return new(bytes.Buffer) }, (*bytes.Buffer).Reset)

// writeFrame writes v as a big-endian uint32 length followed by JSON, in a
// single Write.
func writeFrame(w io.Writer, v any) error {
	buf := buffers.Get()
	defer buffers.Put(buf)

	buf.Write(make([]byte, 4))
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		return errors.Wrap(err, "marshal frame")
	}
	data := buf.Bytes()
	n := len(data) - 4
	if n > MaxFrameSize {
		return errors.Wrapf(ErrFrameTooLarge, "%d bytes", n)
	}
	binary.BigEndian.PutUint32(data[:4], uint32(n))
	if _, err := w.Write(data); err != nil {
		return errors.Wrap(err, "write frame")
	}
	return nil
}

func readFrame(r io.Reader, v any) error {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return errors.Wrap(err, "read frame header")
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameSize {
		return errors.Wrapf(ErrFrameTooLarge, "%d bytes", n)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return errors.Wrap(err, "read frame body")
	}
	return errors.Wrap(json.Unmarshal(data, v), "unmarshal frame")
}
