package occupancy

import (
	"math"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/raido/voxel"
	"google.golang.org/protobuf/encoding/protowire"
)

// ErrTypeBadSnapshot reports snapshot bytes that cannot be decoded into a
// map.
const ErrTypeBadSnapshot = "invalid_map_snapshot"

// Snapshots are hand-rolled protobuf wire data: a few header fields
// followed by one length-delimited record per cell. Unknown fields are
// skipped on decode so the format can grow.
const snapshotVersion = 1

const (
	snapFieldVersion   = 1 // varint
	snapFieldVoxelSize = 2 // fixed64, float bits
	snapFieldTuning    = 3 // bytes, tuning record
	snapFieldRays      = 4 // varint
	snapFieldCell      = 5 // bytes, repeated cell record
)

const (
	tuningFieldHit      = 1
	tuningFieldMiss     = 2
	tuningFieldMin      = 3
	tuningFieldMax      = 4
	tuningFieldOccupied = 5
	tuningFieldFree     = 6
)

const (
	cellFieldX            = 1 // sint64
	cellFieldY            = 2 // sint64
	cellFieldZ            = 3 // sint64
	cellFieldOdds         = 4 // fixed32, float bits
	cellFieldObservations = 5 // varint
)

// Snapshot serializes the whole map. The result round-trips through
// FromSnapshot and is safe to hand to slow writers since it aliases
// nothing.
func (m *Map) Snapshot() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b := protowire.AppendTag(nil, snapFieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, snapshotVersion)
	b = protowire.AppendTag(b, snapFieldVoxelSize, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(m.size))
	b = protowire.AppendTag(b, snapFieldTuning, protowire.BytesType)
	b = protowire.AppendBytes(b, appendTuning(nil, m.tuning))
	b = protowire.AppendTag(b, snapFieldRays, protowire.VarintType)
	b = protowire.AppendVarint(b, m.rays)

	record := make([]byte, 0, 64)
	for idx, c := range m.cells {
		record = appendCell(record[:0], idx, c)
		b = protowire.AppendTag(b, snapFieldCell, protowire.BytesType)
		b = protowire.AppendBytes(b, record)
	}
	return b
}

// FromSnapshot rebuilds a map from Snapshot bytes.
func FromSnapshot(b []byte) (*Map, error) {
	m := &Map{cells: make(map[voxel.Index]Cell)}

	var version uint64
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, snapshotErr(n, "field tag")
		}
		b = b[n:]

		switch num {
		case snapFieldVersion:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, snapshotErr(n, "version")
			}
			b = b[n:]
			version = v

		case snapFieldVoxelSize:
			bits, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return nil, snapshotErr(n, "voxel size")
			}
			b = b[n:]
			m.size = math.Float64frombits(bits)

		case snapFieldTuning:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, snapshotErr(n, "tuning record")
			}
			b = b[n:]
			tuning, err := parseTuning(raw)
			if err != nil {
				return nil, err
			}
			m.tuning = tuning

		case snapFieldRays:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, snapshotErr(n, "ray count")
			}
			b = b[n:]
			m.rays = v

		case snapFieldCell:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, snapshotErr(n, "cell record")
			}
			b = b[n:]
			idx, c, err := parseCell(raw)
			if err != nil {
				return nil, err
			}
			m.cells[idx] = c

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, snapshotErr(n, "unknown field")
			}
			b = b[n:]
		}
	}

	if version != snapshotVersion {
		return nil, errors.New("unsupported snapshot version").
			WithType(ErrTypeBadSnapshot).
			WithTag("version", version)
	}
	if !(m.size > 0) || math.IsInf(m.size, 0) {
		return nil, errors.New("snapshot voxel size is not a positive finite number").
			WithType(ErrTypeBadSnapshot).
			WithTag("voxel_size", m.size)
	}
	if m.tuning == (Tuning{}) {
		m.tuning = DefaultTuning()
	}
	if err := m.tuning.Validate(); err != nil {
		return nil, errors.New("snapshot tuning is invalid").
			WithType(ErrTypeBadSnapshot).
			Wrap(err)
	}

	for _, c := range m.cells {
		switch m.stateOf(c) {
		case StateOccupied:
			m.occupied++
		case StateFree:
			m.free++
		}
	}
	unknown := uint64(len(m.cells)) - m.occupied - m.free
	instrumentRestoreMap(m.occupied, m.free, unknown)

	return m, nil
}

func appendTuning(b []byte, t Tuning) []byte {
	b = protowire.AppendTag(b, tuningFieldHit, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, math.Float32bits(t.HitOdds))
	b = protowire.AppendTag(b, tuningFieldMiss, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, math.Float32bits(t.MissOdds))
	b = protowire.AppendTag(b, tuningFieldMin, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, math.Float32bits(t.MinOdds))
	b = protowire.AppendTag(b, tuningFieldMax, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, math.Float32bits(t.MaxOdds))
	b = protowire.AppendTag(b, tuningFieldOccupied, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, math.Float32bits(t.OccupiedOdds))
	b = protowire.AppendTag(b, tuningFieldFree, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, math.Float32bits(t.FreeOdds))
	return b
}

func parseTuning(b []byte) (Tuning, error) {
	var t Tuning
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return t, snapshotErr(n, "tuning field tag")
		}
		b = b[n:]

		if typ != protowire.Fixed32Type {
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return t, snapshotErr(n, "tuning field")
			}
			b = b[n:]
			continue
		}

		bits, n := protowire.ConsumeFixed32(b)
		if n < 0 {
			return t, snapshotErr(n, "tuning value")
		}
		b = b[n:]

		v := math.Float32frombits(bits)
		switch num {
		case tuningFieldHit:
			t.HitOdds = v
		case tuningFieldMiss:
			t.MissOdds = v
		case tuningFieldMin:
			t.MinOdds = v
		case tuningFieldMax:
			t.MaxOdds = v
		case tuningFieldOccupied:
			t.OccupiedOdds = v
		case tuningFieldFree:
			t.FreeOdds = v
		}
	}
	return t, nil
}

func appendCell(b []byte, idx voxel.Index, c Cell) []byte {
	b = protowire.AppendTag(b, cellFieldX, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(idx.X)))
	b = protowire.AppendTag(b, cellFieldY, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(idx.Y)))
	b = protowire.AppendTag(b, cellFieldZ, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(idx.Z)))
	b = protowire.AppendTag(b, cellFieldOdds, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, math.Float32bits(c.Odds))
	b = protowire.AppendTag(b, cellFieldObservations, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.Observations))
	return b
}

func parseCell(b []byte) (voxel.Index, Cell, error) {
	var idx voxel.Index
	var c Cell
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return idx, c, snapshotErr(n, "cell field tag")
		}
		b = b[n:]

		switch num {
		case cellFieldX, cellFieldY, cellFieldZ, cellFieldObservations:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return idx, c, snapshotErr(n, "cell value")
			}
			b = b[n:]
			switch num {
			case cellFieldX:
				idx.X = int(protowire.DecodeZigZag(v))
			case cellFieldY:
				idx.Y = int(protowire.DecodeZigZag(v))
			case cellFieldZ:
				idx.Z = int(protowire.DecodeZigZag(v))
			case cellFieldObservations:
				c.Observations = uint32(v)
			}

		case cellFieldOdds:
			bits, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return idx, c, snapshotErr(n, "cell odds")
			}
			b = b[n:]
			c.Odds = math.Float32frombits(bits)

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return idx, c, snapshotErr(n, "cell field")
			}
			b = b[n:]
		}
	}
	return idx, c, nil
}

func snapshotErr(n int, what string) error {
	return errors.Newf("reading snapshot %s failed", what).
		WithType(ErrTypeBadSnapshot).
		Wrap(protowire.ParseError(n))
}
