// Code generated by protoc-gen-go; hand-authored here because protoc is
// not run in this environment. Field layout mirrors
// original_source/dna/protocol's dna.stream.v2 package (Cursor,
// DataFinality, StreamDataRequest/Response) per spec.md §6's gRPC
// surface; message types satisfy the classic three-method
// proto.Message interface (Reset/String/ProtoMessage) that
// google.golang.org/protobuf's legacy-message bridge derives wire
// descriptors from via struct tags, so no generated file descriptor
// bytes are required.
package dnapb

import "fmt"

// DataFinality mirrors apibara's node.v1alpha2.DataFinality: how final
// the data backing a response is.
type DataFinality int32

const (
	DataFinality_DATA_STATUS_UNKNOWN  DataFinality = 0
	DataFinality_DATA_STATUS_PENDING  DataFinality = 1
	DataFinality_DATA_STATUS_ACCEPTED DataFinality = 2
	DataFinality_DATA_STATUS_FINALIZED DataFinality = 3
)

func (f DataFinality) String() string {
	switch f {
	case DataFinality_DATA_STATUS_PENDING:
		return "DATA_STATUS_PENDING"
	case DataFinality_DATA_STATUS_ACCEPTED:
		return "DATA_STATUS_ACCEPTED"
	case DataFinality_DATA_STATUS_FINALIZED:
		return "DATA_STATUS_FINALIZED"
	default:
		return "DATA_STATUS_UNKNOWN"
	}
}

// Cursor is the wire form of package cursor's Cursor: (number, hash).
type Cursor struct {
	OrderKey uint64 `protobuf:"varint,1,opt,name=order_key,json=orderKey,proto3" json:"order_key,omitempty"`
	UniqueKey []byte `protobuf:"bytes,2,opt,name=unique_key,json=uniqueKey,proto3" json:"unique_key,omitempty"`
}

func (x *Cursor) Reset()         { *x = Cursor{} }
func (x *Cursor) String() string { return fmt.Sprintf("cursor:<order_key:%d >", x.GetOrderKey()) }
func (*Cursor) ProtoMessage()    {}

func (x *Cursor) GetOrderKey() uint64 {
	if x != nil {
		return x.OrderKey
	}
	return 0
}

func (x *Cursor) GetUniqueKey() []byte {
	if x != nil {
		return x.UniqueKey
	}
	return nil
}

// StreamDataRequest is the client's StreamData request, per spec.md
// §4.10 state 1 ("Resolving start"). Filters carries one opaque,
// chain-plugin-defined filter blob per independent filter (bound to 5
// per request by the rpc layer, spec.md §8).
type StreamDataRequest struct {
	StartingCursor *Cursor      `protobuf:"bytes,1,opt,name=starting_cursor,json=startingCursor,proto3" json:"starting_cursor,omitempty"`
	Finality       DataFinality `protobuf:"varint,2,opt,name=finality,proto3,enum=dna.stream.v2.DataFinality" json:"finality,omitempty"`
	Filter         [][]byte     `protobuf:"bytes,3,rep,name=filter,proto3" json:"filter,omitempty"`
}

func (x *StreamDataRequest) Reset()         { *x = StreamDataRequest{} }
func (x *StreamDataRequest) String() string { return "stream_data_request" }
func (*StreamDataRequest) ProtoMessage()    {}

func (x *StreamDataRequest) GetStartingCursor() *Cursor {
	if x != nil {
		return x.StartingCursor
	}
	return nil
}

func (x *StreamDataRequest) GetFinality() DataFinality {
	if x != nil {
		return x.Finality
	}
	return DataFinality_DATA_STATUS_UNKNOWN
}

func (x *StreamDataRequest) GetFilter() [][]byte {
	if x != nil {
		return x.Filter
	}
	return nil
}

// Data is one batch of matched, serialized fragment projections for a
// single block, per spec.md §4.9's SendData.
type Data struct {
	Cursor    *Cursor  `protobuf:"bytes,1,opt,name=cursor,proto3" json:"cursor,omitempty"`
	EndCursor *Cursor  `protobuf:"bytes,2,opt,name=end_cursor,json=endCursor,proto3" json:"end_cursor,omitempty"`
	Finality  DataFinality `protobuf:"varint,3,opt,name=finality,proto3,enum=dna.stream.v2.DataFinality" json:"finality,omitempty"`
	Data      [][]byte `protobuf:"bytes,4,rep,name=data,proto3" json:"data,omitempty"`
}

func (x *Data) Reset()         { *x = Data{} }
func (x *Data) String() string { return "data" }
func (*Data) ProtoMessage()    {}

func (x *Data) GetCursor() *Cursor {
	if x != nil {
		return x.Cursor
	}
	return nil
}

func (x *Data) GetEndCursor() *Cursor {
	if x != nil {
		return x.EndCursor
	}
	return nil
}

func (x *Data) GetFinality() DataFinality {
	if x != nil {
		return x.Finality
	}
	return DataFinality_DATA_STATUS_UNKNOWN
}

func (x *Data) GetData() [][]byte {
	if x != nil {
		return x.Data
	}
	return nil
}

// Invalidate tells the client the chain reorganized: discard everything
// at or after cursor.
type Invalidate struct {
	Cursor *Cursor `protobuf:"bytes,1,opt,name=cursor,proto3" json:"cursor,omitempty"`
}

func (x *Invalidate) Reset()         { *x = Invalidate{} }
func (x *Invalidate) String() string { return "invalidate" }
func (*Invalidate) ProtoMessage()    {}

func (x *Invalidate) GetCursor() *Cursor {
	if x != nil {
		return x.Cursor
	}
	return nil
}

// Finalize advances the client's notion of the finalized cursor.
type Finalize struct {
	Cursor *Cursor `protobuf:"bytes,1,opt,name=cursor,proto3" json:"cursor,omitempty"`
}

func (x *Finalize) Reset()         { *x = Finalize{} }
func (x *Finalize) String() string { return "finalize" }
func (*Finalize) ProtoMessage()    {}

func (x *Finalize) GetCursor() *Cursor {
	if x != nil {
		return x.Cursor
	}
	return nil
}

// Heartbeat carries no data; its presence on the stream is the signal.
type Heartbeat struct{}

func (x *Heartbeat) Reset()         { *x = Heartbeat{} }
func (x *Heartbeat) String() string { return "heartbeat" }
func (*Heartbeat) ProtoMessage()    {}

// SystemMessage carries scanner-side diagnostics the client can surface
// without tearing down the stream (spec.md §6: "SystemMessage{stdout|stderr}").
type SystemMessage struct {
	// Exactly one of Stdout/Stderr is set, mirroring the proto oneof.
	Stdout string `protobuf:"bytes,1,opt,name=stdout,proto3,oneof"`
	Stderr string `protobuf:"bytes,2,opt,name=stderr,proto3,oneof"`
}

func (x *SystemMessage) Reset()         { *x = SystemMessage{} }
func (x *SystemMessage) String() string { return "system_message" }
func (*SystemMessage) ProtoMessage()    {}

// StreamDataResponse is the oneof-wrapped response, per spec.md §6:
// "Data|Invalidate|Finalize|Heartbeat|SystemMessage".
type StreamDataResponse struct {
	Message isStreamDataResponse_Message `protobuf_oneof:"message"`
}

func (x *StreamDataResponse) Reset()         { *x = StreamDataResponse{} }
func (x *StreamDataResponse) String() string { return "stream_data_response" }
func (*StreamDataResponse) ProtoMessage()    {}

type isStreamDataResponse_Message interface {
	isStreamDataResponse_Message()
}

type StreamDataResponse_Data struct {
	Data *Data `protobuf:"bytes,1,opt,name=data,proto3,oneof"`
}

type StreamDataResponse_Invalidate struct {
	Invalidate *Invalidate `protobuf:"bytes,2,opt,name=invalidate,proto3,oneof"`
}

type StreamDataResponse_Finalize struct {
	Finalize *Finalize `protobuf:"bytes,3,opt,name=finalize,proto3,oneof"`
}

type StreamDataResponse_Heartbeat struct {
	Heartbeat *Heartbeat `protobuf:"bytes,4,opt,name=heartbeat,proto3,oneof"`
}

type StreamDataResponse_SystemMessage struct {
	SystemMessage *SystemMessage `protobuf:"bytes,5,opt,name=system_message,json=systemMessage,proto3,oneof"`
}

func (*StreamDataResponse_Data) isStreamDataResponse_Message()          {}
func (*StreamDataResponse_Invalidate) isStreamDataResponse_Message()    {}
func (*StreamDataResponse_Finalize) isStreamDataResponse_Message()      {}
func (*StreamDataResponse_Heartbeat) isStreamDataResponse_Message()     {}
func (*StreamDataResponse_SystemMessage) isStreamDataResponse_Message() {}

func (x *StreamDataResponse) GetData() *Data {
	if v, ok := x.GetMessage().(*StreamDataResponse_Data); ok {
		return v.Data
	}
	return nil
}

func (x *StreamDataResponse) GetInvalidate() *Invalidate {
	if v, ok := x.GetMessage().(*StreamDataResponse_Invalidate); ok {
		return v.Invalidate
	}
	return nil
}

func (x *StreamDataResponse) GetFinalize() *Finalize {
	if v, ok := x.GetMessage().(*StreamDataResponse_Finalize); ok {
		return v.Finalize
	}
	return nil
}

func (x *StreamDataResponse) GetHeartbeat() *Heartbeat {
	if v, ok := x.GetMessage().(*StreamDataResponse_Heartbeat); ok {
		return v.Heartbeat
	}
	return nil
}

func (x *StreamDataResponse) GetSystemMessage() *SystemMessage {
	if v, ok := x.GetMessage().(*StreamDataResponse_SystemMessage); ok {
		return v.SystemMessage
	}
	return nil
}

func (x *StreamDataResponse) GetMessage() isStreamDataResponse_Message {
	if x != nil {
		return x.Message
	}
	return nil
}

// StatusRequest carries no fields.
type StatusRequest struct{}

func (x *StatusRequest) Reset()         { *x = StatusRequest{} }
func (x *StatusRequest) String() string { return "status_request" }
func (*StatusRequest) ProtoMessage()    {}

// StatusResponse is spec.md §6's Status() result.
type StatusResponse struct {
	CurrentHead *Cursor `protobuf:"bytes,1,opt,name=current_head,json=currentHead,proto3" json:"current_head,omitempty"`
	Finalized   *Cursor `protobuf:"bytes,2,opt,name=finalized,proto3" json:"finalized,omitempty"`
}

func (x *StatusResponse) Reset()         { *x = StatusResponse{} }
func (x *StatusResponse) String() string { return "status_response" }
func (*StatusResponse) ProtoMessage()    {}

func (x *StatusResponse) GetCurrentHead() *Cursor {
	if x != nil {
		return x.CurrentHead
	}
	return nil
}

func (x *StatusResponse) GetFinalized() *Cursor {
	if x != nil {
		return x.Finalized
	}
	return nil
}
