package api

import (
	"fmt"
	"math"

	"github.com/matheus3301/talk/internal/model"
	"google.golang.org/protobuf/types/known/structpb"
)

// Wire field names of a message.
const (
	fieldID       = "id"
	fieldUniqueID = "unique_id"
	fieldThreadID = "thread_id"
	fieldSenderID = "sender_id"
	fieldBody     = "body"
	fieldStatus   = "status"
	fieldTime     = "time"
)

// maxExactInt is the largest integer a protobuf number value carries exactly.
const maxExactInt = 1 << 53

// MessageToStruct encodes m. Absent ids and times are left out.
func MessageToStruct(m model.Message) *structpb.Struct {
	fields := map[string]*structpb.Value{
		fieldThreadID: structpb.NewNumberValue(float64(m.ThreadID)),
		fieldSenderID: structpb.NewNumberValue(float64(m.SenderID)),
		fieldBody:     structpb.NewStringValue(m.Body),
		fieldStatus:   structpb.NewStringValue(m.Status),
	}
	if m.ID != nil {
		fields[fieldID] = structpb.NewNumberValue(float64(*m.ID))
	}
	if m.UniqueID != "" {
		fields[fieldUniqueID] = structpb.NewStringValue(m.UniqueID)
	}
	if m.Time != nil {
		fields[fieldTime] = structpb.NewNumberValue(float64(*m.Time))
	}
	return &structpb.Struct{Fields: fields}
}

// MessageFromStruct decodes a message written by MessageToStruct.
func MessageFromStruct(s *structpb.Struct) (model.Message, error) {
	var (
		m   model.Message
		err error
	)
	if m.ThreadID, _, err = Int(s, fieldThreadID); err != nil {
		return m, err
	}
	if m.SenderID, _, err = Int(s, fieldSenderID); err != nil {
		return m, err
	}
	m.Body = String(s, fieldBody)
	m.Status = String(s, fieldStatus)
	m.UniqueID = String(s, fieldUniqueID)

	id, ok, err := Int(s, fieldID)
	if err != nil {
		return m, err
	}
	if ok {
		m.ID = model.Int64(id)
	}
	ts, ok, err := Int(s, fieldTime)
	if err != nil {
		return m, err
	}
	if ok {
		if ts < 0 {
			return m, fmt.Errorf("field %s: negative time %d", fieldTime, ts)
		}
		m.Time = model.Uint64(uint64(ts))
	}
	return m, nil
}

// MessagesToList encodes msgs as a list value.
func MessagesToList(msgs []model.Message) *structpb.Value {
	values := make([]*structpb.Value, 0, len(msgs))
	for _, m := range msgs {
		values = append(values, structpb.NewStructValue(MessageToStruct(m)))
	}
	return structpb.NewListValue(&structpb.ListValue{Values: values})
}

// MessagesFromList decodes the list stored under key. A missing key is an
// empty list.
func MessagesFromList(s *structpb.Struct, key string) ([]model.Message, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return nil, nil
	}
	lv := v.GetListValue()
	if lv == nil {
		return nil, fmt.Errorf("field %s: not a list", key)
	}
	msgs := make([]model.Message, 0, len(lv.GetValues()))
	for i, item := range lv.GetValues() {
		sv := item.GetStructValue()
		if sv == nil {
			return nil, fmt.Errorf("field %s[%d]: not an object", key, i)
		}
		m, err := MessageFromStruct(sv)
		if err != nil {
			return nil, fmt.Errorf("field %s[%d]: %w", key, i, err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// Int reads an integer field. ok is false when the field is absent or null.
func Int(s *structpb.Struct, key string) (v int64, ok bool, err error) {
	val, present := s.GetFields()[key]
	if !present {
		return 0, false, nil
	}
	switch kind := val.GetKind().(type) {
	case *structpb.Value_NullValue:
		return 0, false, nil
	case *structpb.Value_NumberValue:
		f := kind.NumberValue
		if f != math.Trunc(f) || math.Abs(f) > maxExactInt {
			return 0, false, fmt.Errorf("field %s: %v is not an exact integer", key, f)
		}
		return int64(f), true, nil
	default:
		return 0, false, fmt.Errorf("field %s: not a number", key)
	}
}

// String reads a string field, empty when absent.
func String(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

// Bool reads a boolean field, false when absent.
func Bool(s *structpb.Struct, key string) bool {
	return s.GetFields()[key].GetBoolValue()
}
