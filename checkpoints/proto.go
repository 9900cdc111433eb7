package checkpoints

import (
	"encoding/json"
	"maps"
	"math"
	"slices"

	"github.com/hal2001/data-science-bowl-2018/layers"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Wire layout of a checkpoint file. Field numbers are stable; readers skip
// fields they do not know.
//
//	Checkpoint      1: model spec (JSON bytes)  2: WeightTensor*  3: TrainingState
//	                4: OptimizerState           5: Metadata
//	WeightTensor    1: name  2: shape (packed varint)  3: data (packed fixed32)
//	                4: layer  5: type
//	TrainingState   1: epoch  2: step  3: learning rate (fixed32)
//	                4: metric (fixed64)  5: total steps
//	OptimizerState  1: type  2: Parameter*  3: OptimizerTensor*
//	Parameter       1: key  2: value (fixed64)
//	OptimizerTensor 1: name  2: shape  3: data  4: state type
//	Metadata        1: version  2: framework  3: run id
//	                4: created at (google.protobuf.Timestamp)  5: description  6: tag*

func marshalProto(c *Checkpoint) ([]byte, error) {
	var b []byte
	if c.ModelSpec != nil {
		spec, err := json.Marshal(c.ModelSpec)
		if err != nil {
			return nil, errors.Wrap(err, "model spec")
		}
		b = appendBytes(b, 1, spec)
	}
	for _, w := range c.Weights {
		b = appendBytes(b, 2, appendWeight(nil, w))
	}
	b = appendBytes(b, 3, appendTrainingState(nil, c.TrainingState))
	if c.OptimizerState != nil {
		b = appendBytes(b, 4, appendOptimizerState(nil, c.OptimizerState))
	}
	md, err := appendMetadata(nil, c.Metadata)
	if err != nil {
		return nil, err
	}
	b = appendBytes(b, 5, md)
	return b, nil
}

func unmarshalProto(b []byte) (*Checkpoint, error) {
	c := &Checkpoint{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.BytesType {
			return 0, nil
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n, nil
		}
		switch num {
		case 1:
			c.ModelSpec = &layers.ModelSpec{}
			if err := json.Unmarshal(v, c.ModelSpec); err != nil {
				return 0, errors.Wrap(err, "model spec")
			}
		case 2:
			w, err := parseWeight(v)
			if err != nil {
				return 0, err
			}
			c.Weights = append(c.Weights, w)
		case 3:
			ts, err := parseTrainingState(v)
			if err != nil {
				return 0, err
			}
			c.TrainingState = ts
		case 4:
			st, err := parseOptimizerState(v)
			if err != nil {
				return 0, err
			}
			c.OptimizerState = st
		case 5:
			md, err := parseMetadata(v)
			if err != nil {
				return 0, err
			}
			c.Metadata = md
		default:
			return 0, nil
		}
		return n, nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func appendWeight(b []byte, w WeightTensor) []byte {
	b = appendString(b, 1, w.Name)
	b = appendInts(b, 2, w.Shape)
	b = appendFloats(b, 3, w.Data)
	b = appendString(b, 4, w.Layer)
	b = appendString(b, 5, w.Type)
	return b
}

func parseWeight(b []byte) (WeightTensor, error) {
	var w WeightTensor
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(b, typ, &w.Name)
		case 2:
			return consumeInts(b, typ, &w.Shape)
		case 3:
			return consumeFloats(b, typ, &w.Data)
		case 4:
			return consumeString(b, typ, &w.Layer)
		case 5:
			return consumeString(b, typ, &w.Type)
		}
		return 0, nil
	})
	return w, errors.Wrap(err, "weight tensor")
}

func appendTrainingState(b []byte, ts TrainingState) []byte {
	b = appendVarint(b, 1, int64(ts.Epoch))
	b = appendVarint(b, 2, int64(ts.Step))
	b = protowire.AppendTag(b, 3, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, math.Float32bits(ts.LearningRate))
	b = protowire.AppendTag(b, 4, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(ts.Metric))
	b = appendVarint(b, 5, int64(ts.TotalSteps))
	return b
}

func parseTrainingState(b []byte) (TrainingState, error) {
	var ts TrainingState
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeInt(b, typ, &ts.Epoch)
		case 2:
			return consumeInt(b, typ, &ts.Step)
		case 3:
			if typ != protowire.Fixed32Type {
				return 0, nil
			}
			v, n := protowire.ConsumeFixed32(b)
			ts.LearningRate = math.Float32frombits(v)
			return n, nil
		case 4:
			return consumeDouble(b, typ, &ts.Metric)
		case 5:
			return consumeInt(b, typ, &ts.TotalSteps)
		}
		return 0, nil
	})
	return ts, errors.Wrap(err, "training state")
}

func appendOptimizerState(b []byte, st *OptimizerState) []byte {
	b = appendString(b, 1, st.Type)
	for _, k := range slices.Sorted(maps.Keys(st.Parameters)) {
		var p []byte
		p = appendString(p, 1, k)
		p = protowire.AppendTag(p, 2, protowire.Fixed64Type)
		p = protowire.AppendFixed64(p, math.Float64bits(st.Parameters[k]))
		b = appendBytes(b, 2, p)
	}
	for _, t := range st.StateData {
		var tb []byte
		tb = appendString(tb, 1, t.Name)
		tb = appendInts(tb, 2, t.Shape)
		tb = appendFloats(tb, 3, t.Data)
		tb = appendString(tb, 4, t.StateType)
		b = appendBytes(b, 3, tb)
	}
	return b
}

func parseOptimizerState(b []byte) (*OptimizerState, error) {
	st := &OptimizerState{Parameters: map[string]float64{}}
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(b, typ, &st.Type)
		case 2, 3:
			if typ != protowire.BytesType {
				return 0, nil
			}
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			if num == 2 {
				var key string
				var val float64
				err := walk(v, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
					switch num {
					case 1:
						return consumeString(b, typ, &key)
					case 2:
						return consumeDouble(b, typ, &val)
					}
					return 0, nil
				})
				if err != nil {
					return 0, err
				}
				st.Parameters[key] = val
				return n, nil
			}
			var t OptimizerTensor
			err := walk(v, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
				switch num {
				case 1:
					return consumeString(b, typ, &t.Name)
				case 2:
					return consumeInts(b, typ, &t.Shape)
				case 3:
					return consumeFloats(b, typ, &t.Data)
				case 4:
					return consumeString(b, typ, &t.StateType)
				}
				return 0, nil
			})
			if err != nil {
				return 0, err
			}
			st.StateData = append(st.StateData, t)
			return n, nil
		}
		return 0, nil
	})
	return st, errors.Wrap(err, "optimizer state")
}

func appendMetadata(b []byte, md CheckpointMetadata) ([]byte, error) {
	b = appendString(b, 1, md.Version)
	b = appendString(b, 2, md.Framework)
	b = appendString(b, 3, md.RunID)
	ts, err := proto.Marshal(timestamppb.New(md.CreatedAt))
	if err != nil {
		return nil, errors.Wrap(err, "created at")
	}
	b = appendBytes(b, 4, ts)
	if md.Description != "" {
		b = appendString(b, 5, md.Description)
	}
	for _, tag := range md.Tags {
		b = appendString(b, 6, tag)
	}
	return b, nil
}

func parseMetadata(b []byte) (CheckpointMetadata, error) {
	var md CheckpointMetadata
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(b, typ, &md.Version)
		case 2:
			return consumeString(b, typ, &md.Framework)
		case 3:
			return consumeString(b, typ, &md.RunID)
		case 4:
			if typ != protowire.BytesType {
				return 0, nil
			}
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			var ts timestamppb.Timestamp
			if err := proto.Unmarshal(v, &ts); err != nil {
				return 0, errors.Wrap(err, "created at")
			}
			md.CreatedAt = ts.AsTime()
			return n, nil
		case 5:
			return consumeString(b, typ, &md.Description)
		case 6:
			var tag string
			n, err := consumeString(b, typ, &tag)
			if n > 0 {
				md.Tags = append(md.Tags, tag)
			}
			return n, err
		}
		return 0, nil
	})
	return md, errors.Wrap(err, "metadata")
}

// walk visits every field of a message. fn returns the number of bytes it
// consumed after the tag, 0 to skip the field, or a negative protowire
// error code.
func walk(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m == 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return protowire.ParseError(m)
		}
		b = b[m:]
	}
	return nil
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendVarint(b []byte, num protowire.Number, v int64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendInts(b []byte, num protowire.Number, vs []int) []byte {
	var p []byte
	for _, v := range vs {
		p = protowire.AppendVarint(p, uint64(int64(v)))
	}
	return appendBytes(b, num, p)
}

func appendFloats(b []byte, num protowire.Number, vs []float32) []byte {
	p := make([]byte, 0, 4*len(vs))
	for _, v := range vs {
		p = protowire.AppendFixed32(p, math.Float32bits(v))
	}
	return appendBytes(b, num, p)
}

func consumeString(b []byte, typ protowire.Type, dst *string) (int, error) {
	if typ != protowire.BytesType {
		return 0, nil
	}
	v, n := protowire.ConsumeString(b)
	if n >= 0 {
		*dst = v
	}
	return n, nil
}

func consumeInt(b []byte, typ protowire.Type, dst *int) (int, error) {
	if typ != protowire.VarintType {
		return 0, nil
	}
	v, n := protowire.ConsumeVarint(b)
	if n >= 0 {
		*dst = int(int64(v))
	}
	return n, nil
}

func consumeDouble(b []byte, typ protowire.Type, dst *float64) (int, error) {
	if typ != protowire.Fixed64Type {
		return 0, nil
	}
	v, n := protowire.ConsumeFixed64(b)
	if n >= 0 {
		*dst = math.Float64frombits(v)
	}
	return n, nil
}

func consumeInts(b []byte, typ protowire.Type, dst *[]int) (int, error) {
	if typ != protowire.BytesType {
		return 0, nil
	}
	p, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return n, nil
	}
	out := []int{}
	for len(p) > 0 {
		v, m := protowire.ConsumeVarint(p)
		if m < 0 {
			return m, nil
		}
		out = append(out, int(int64(v)))
		p = p[m:]
	}
	*dst = out
	return n, nil
}

func consumeFloats(b []byte, typ protowire.Type, dst *[]float32) (int, error) {
	if typ != protowire.BytesType {
		return 0, nil
	}
	p, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return n, nil
	}
	if len(p)%4 != 0 {
		return 0, errors.Errorf("packed float field has %d bytes", len(p))
	}
	out := make([]float32, 0, len(p)/4)
	for len(p) > 0 {
		v, m := protowire.ConsumeFixed32(p)
		out = append(out, math.Float32frombits(v))
		p = p[m:]
	}
	*dst = out
	return n, nil
}
