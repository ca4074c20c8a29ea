package checkpoints

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/ulikunitz/xz"
	"google.golang.org/protobuf/encoding/protowire"
)

// Binary checkpoint layout: a protobuf wire-format record built directly
// with protowire, no generated code. Unknown fields are skipped on read
// so older binaries can load newer checkpoints.
//
//	Checkpoint: 1=header 2=weight(repeated) 3=optimizer 4=scheduler
//	header:     1=run_id 2=epoch 3=best_metric 4=saved_at_unixnano
//	weight:     1=name 2=shape(packed varint) 3=data(packed fixed32)
//	optimizer:  1=type 2=parameters(json) 3=tensor(repeated)
//	tensor:     1=name 2=shape 3=data 4=state_type
//	scheduler:  1=name 2=best_metric 3=bad_epochs 4=current_lr 5=initialized
const (
	fieldHeader    = 1
	fieldWeight    = 2
	fieldOptimizer = 3
	fieldScheduler = 4
)

func marshalBinary(cp *Checkpoint) ([]byte, error) {
	var b []byte

	var header []byte
	header = protowire.AppendTag(header, 1, protowire.BytesType)
	header = protowire.AppendString(header, cp.RunID)
	header = protowire.AppendTag(header, 2, protowire.VarintType)
	header = protowire.AppendVarint(header, uint64(cp.Epoch))
	header = protowire.AppendTag(header, 3, protowire.Fixed64Type)
	header = protowire.AppendFixed64(header, math.Float64bits(cp.BestMetric))
	header = protowire.AppendTag(header, 4, protowire.VarintType)
	header = protowire.AppendVarint(header, uint64(cp.SavedAt.UnixNano()))
	b = protowire.AppendTag(b, fieldHeader, protowire.BytesType)
	b = protowire.AppendBytes(b, header)

	for _, w := range cp.Weights {
		var msg []byte
		msg = protowire.AppendTag(msg, 1, protowire.BytesType)
		msg = protowire.AppendString(msg, w.Name)
		msg = appendIntsPacked(msg, 2, w.Shape)
		msg = appendFloatsPacked(msg, 3, w.Data)
		b = protowire.AppendTag(b, fieldWeight, protowire.BytesType)
		b = protowire.AppendBytes(b, msg)
	}

	if cp.Optimizer != nil {
		msg, err := marshalOptimizerState(cp.Optimizer)
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, fieldOptimizer, protowire.BytesType)
		b = protowire.AppendBytes(b, msg)
	}

	if cp.Scheduler != nil {
		var msg []byte
		msg = protowire.AppendTag(msg, 1, protowire.BytesType)
		msg = protowire.AppendString(msg, cp.Scheduler.Name)
		msg = protowire.AppendTag(msg, 2, protowire.Fixed64Type)
		msg = protowire.AppendFixed64(msg, math.Float64bits(cp.Scheduler.BestMetric))
		msg = protowire.AppendTag(msg, 3, protowire.VarintType)
		msg = protowire.AppendVarint(msg, uint64(cp.Scheduler.BadEpochs))
		msg = protowire.AppendTag(msg, 4, protowire.Fixed64Type)
		msg = protowire.AppendFixed64(msg, math.Float64bits(cp.Scheduler.CurrentLR))
		msg = protowire.AppendTag(msg, 5, protowire.VarintType)
		if cp.Scheduler.Initialized {
			msg = protowire.AppendVarint(msg, 1)
		} else {
			msg = protowire.AppendVarint(msg, 0)
		}
		b = protowire.AppendTag(b, fieldScheduler, protowire.BytesType)
		b = protowire.AppendBytes(b, msg)
	}

	return b, nil
}

func marshalOptimizerState(st *OptimizerState) ([]byte, error) {
	params, err := json.Marshal(st.Parameters)
	if err != nil {
		return nil, fmt.Errorf("encode optimizer parameters: %w", err)
	}
	var msg []byte
	msg = protowire.AppendTag(msg, 1, protowire.BytesType)
	msg = protowire.AppendString(msg, st.Type)
	msg = protowire.AppendTag(msg, 2, protowire.BytesType)
	msg = protowire.AppendBytes(msg, params)
	for _, tensor := range st.StateData {
		var tm []byte
		tm = protowire.AppendTag(tm, 1, protowire.BytesType)
		tm = protowire.AppendString(tm, tensor.Name)
		tm = appendIntsPacked(tm, 2, tensor.Shape)
		tm = appendFloatsPacked(tm, 3, tensor.Data)
		tm = protowire.AppendTag(tm, 4, protowire.BytesType)
		tm = protowire.AppendString(tm, tensor.StateType)
		msg = protowire.AppendTag(msg, 3, protowire.BytesType)
		msg = protowire.AppendBytes(msg, tm)
	}
	return msg, nil
}

func unmarshalBinary(data []byte) (*Checkpoint, error) {
	cp := &Checkpoint{}
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("decode binary checkpoint: %v", protowire.ParseError(n))
		}
		b = b[n:]

		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("decode binary checkpoint field %d: %v", num, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}

		msg, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, fmt.Errorf("decode binary checkpoint field %d: %v", num, protowire.ParseError(n))
		}
		b = b[n:]

		var err error
		switch num {
		case fieldHeader:
			err = parseHeader(msg, cp)
		case fieldWeight:
			var w WeightTensor
			if w, err = parseWeightTensor(msg); err == nil {
				cp.Weights = append(cp.Weights, w)
			}
		case fieldOptimizer:
			cp.Optimizer, err = parseOptimizerState(msg)
		case fieldScheduler:
			cp.Scheduler, err = parseSchedulerState(msg)
		}
		if err != nil {
			return nil, fmt.Errorf("decode binary checkpoint: %w", err)
		}
	}
	return cp, nil
}

func parseHeader(msg []byte, cp *Checkpoint) error {
	return eachField(msg, "header", func(num protowire.Number, typ protowire.Type, val []byte) error {
		switch num {
		case 1:
			cp.RunID = string(val)
		case 2:
			v, err := parseVarint(val)
			if err != nil {
				return err
			}
			cp.Epoch = int(v)
		case 3:
			v, err := parseFixed64(val)
			if err != nil {
				return err
			}
			cp.BestMetric = math.Float64frombits(v)
		case 4:
			v, err := parseVarint(val)
			if err != nil {
				return err
			}
			cp.SavedAt = time.Unix(0, int64(v))
		}
		return nil
	})
}

func parseWeightTensor(msg []byte) (WeightTensor, error) {
	var w WeightTensor
	err := eachField(msg, "weight tensor", func(num protowire.Number, typ protowire.Type, val []byte) error {
		var err error
		switch num {
		case 1:
			w.Name = string(val)
		case 2:
			w.Shape, err = parseIntsPacked(val)
		case 3:
			w.Data, err = parseFloatsPacked(val)
		}
		return err
	})
	return w, err
}

func parseOptimizerState(msg []byte) (*OptimizerState, error) {
	st := &OptimizerState{}
	err := eachField(msg, "optimizer state", func(num protowire.Number, typ protowire.Type, val []byte) error {
		switch num {
		case 1:
			st.Type = string(val)
		case 2:
			if len(val) == 0 {
				return nil
			}
			if err := json.Unmarshal(val, &st.Parameters); err != nil {
				return fmt.Errorf("decode optimizer parameters: %w", err)
			}
		case 3:
			tensor, err := parseOptimizerTensor(val)
			if err != nil {
				return err
			}
			st.StateData = append(st.StateData, tensor)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

func parseOptimizerTensor(msg []byte) (OptimizerTensor, error) {
	var tensor OptimizerTensor
	err := eachField(msg, "optimizer tensor", func(num protowire.Number, typ protowire.Type, val []byte) error {
		var err error
		switch num {
		case 1:
			tensor.Name = string(val)
		case 2:
			tensor.Shape, err = parseIntsPacked(val)
		case 3:
			tensor.Data, err = parseFloatsPacked(val)
		case 4:
			tensor.StateType = string(val)
		}
		return err
	})
	return tensor, err
}

func parseSchedulerState(msg []byte) (*SchedulerState, error) {
	st := &SchedulerState{}
	err := eachField(msg, "scheduler state", func(num protowire.Number, typ protowire.Type, val []byte) error {
		switch num {
		case 1:
			st.Name = string(val)
		case 2:
			v, err := parseFixed64(val)
			if err != nil {
				return err
			}
			st.BestMetric = math.Float64frombits(v)
		case 3:
			v, err := parseVarint(val)
			if err != nil {
				return err
			}
			st.BadEpochs = int(v)
		case 4:
			v, err := parseFixed64(val)
			if err != nil {
				return err
			}
			st.CurrentLR = math.Float64frombits(v)
		case 5:
			v, err := parseVarint(val)
			if err != nil {
				return err
			}
			st.Initialized = v != 0
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// eachField walks one wire message, handing every field's raw value to fn.
// Varint and fixed fields are re-encoded as raw bytes so fn can parse them
// uniformly; bytes fields arrive as their payload.
func eachField(msg []byte, what string, fn func(num protowire.Number, typ protowire.Type, val []byte) error) error {
	b := msg
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("decode %s: %v", what, protowire.ParseError(n))
		}
		b = b[n:]

		var val []byte
		switch typ {
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("decode %s field %d: %v", what, num, protowire.ParseError(n))
			}
			val = v
			b = b[n:]
		case protowire.VarintType:
			_, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("decode %s field %d: %v", what, num, protowire.ParseError(n))
			}
			val = b[:n]
			b = b[n:]
		case protowire.Fixed64Type:
			_, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return fmt.Errorf("decode %s field %d: %v", what, num, protowire.ParseError(n))
			}
			val = b[:n]
			b = b[n:]
		case protowire.Fixed32Type:
			_, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return fmt.Errorf("decode %s field %d: %v", what, num, protowire.ParseError(n))
			}
			val = b[:n]
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("decode %s field %d: %v", what, num, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}

		if err := fn(num, typ, val); err != nil {
			return err
		}
	}
	return nil
}

func parseVarint(val []byte) (uint64, error) {
	v, n := protowire.ConsumeVarint(val)
	if n < 0 {
		return 0, fmt.Errorf("decode varint: %v", protowire.ParseError(n))
	}
	return v, nil
}

func parseFixed64(val []byte) (uint64, error) {
	v, n := protowire.ConsumeFixed64(val)
	if n < 0 {
		return 0, fmt.Errorf("decode fixed64: %v", protowire.ParseError(n))
	}
	return v, nil
}

func appendIntsPacked(b []byte, num protowire.Number, vals []int) []byte {
	packed := make([]byte, 0, len(vals))
	for _, v := range vals {
		packed = protowire.AppendVarint(packed, uint64(v))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

func parseIntsPacked(val []byte) ([]int, error) {
	var out []int
	for len(val) > 0 {
		v, n := protowire.ConsumeVarint(val)
		if n < 0 {
			return nil, fmt.Errorf("decode packed ints: %v", protowire.ParseError(n))
		}
		out = append(out, int(v))
		val = val[n:]
	}
	return out, nil
}

func appendFloatsPacked(b []byte, num protowire.Number, vals []float32) []byte {
	packed := make([]byte, 0, len(vals)*4)
	for _, v := range vals {
		packed = protowire.AppendFixed32(packed, math.Float32bits(v))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

func parseFloatsPacked(val []byte) ([]float32, error) {
	if len(val)%4 != 0 {
		return nil, fmt.Errorf("decode packed floats: %d bytes is not a multiple of 4", len(val))
	}
	out := make([]float32, 0, len(val)/4)
	for len(val) > 0 {
		v, n := protowire.ConsumeFixed32(val)
		if n < 0 {
			return nil, fmt.Errorf("decode packed floats: %v", protowire.ParseError(n))
		}
		out = append(out, math.Float32frombits(v))
		val = val[n:]
	}
	return out, nil
}

func compressXZ(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("xz compress: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("xz compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("xz compress: %w", err)
	}
	return buf.Bytes(), nil
}

func decompressXZ(data []byte) ([]byte, error) {
	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("xz decompress: %w", err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("xz decompress: %w", err)
	}
	return out, nil
}
