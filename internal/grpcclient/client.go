package grpcclient

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/leafscan/internal/inference"
	"github.com/example/leafscan/internal/logging"
)

// DialModelServer returns a ready connection to a remote model server.
func DialModelServer(ctx context.Context, addr string, logger *zap.Logger, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	}, opts...)

	conn, err := grpc.DialContext(dialCtx, addr, opts...)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_model_server", "", err)
		logger.Error("failed to dial model server", zap.Error(wrapped), zap.String("addr", addr))
		return nil, wrapped
	}
	return conn, nil
}

// RemoteModel runs one named model on the server behind conn.
type RemoteModel struct {
	conn   grpc.ClientConnInterface
	name   string
	logger *zap.Logger
}

// NewRemoteModel binds model name to conn. The connection is owned by the caller.
func NewRemoteModel(conn grpc.ClientConnInterface, name string, logger *zap.Logger) *RemoteModel {
	return &RemoteModel{conn: conn, name: name, logger: logger.Named("remote_model").With(zap.String("model", name))}
}

var _ inference.Model = (*RemoteModel)(nil)

// Predict sends the tensor and returns the scores the server answers with.
func (m *RemoteModel) Predict(ctx context.Context, input *inference.Tensor) ([]float32, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	req := EncodeRequest(m.name, input)
	resp := new(structpb.Struct)
	if err := m.conn.Invoke(ctx, predictMethod, req, resp); err != nil {
		wrapped := logging.NewOperationError("grpcclient.predict", "", err)
		m.logger.Error("model server call failed", zap.Error(wrapped))
		return nil, wrapped
	}

	scores, err := DecodeScores(resp)
	if err != nil {
		return nil, logging.NewOperationError("grpcclient.decode_scores", "", err)
	}
	return scores, nil
}

// Close is a no-op; the shared connection is closed by its owner.
func (m *RemoteModel) Close() error { return nil }

// EncodeRequest builds the Predict request message.
func EncodeRequest(model string, input *inference.Tensor) *structpb.Struct {
	shape := make([]*structpb.Value, len(input.Shape))
	for i, d := range input.Shape {
		shape[i] = structpb.NewNumberValue(float64(d))
	}
	data := make([]*structpb.Value, len(input.Data))
	for i, v := range input.Data {
		data[i] = structpb.NewNumberValue(float64(v))
	}

	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"model": structpb.NewStringValue(model),
		"shape": structpb.NewListValue(&structpb.ListValue{Values: shape}),
		"data":  structpb.NewListValue(&structpb.ListValue{Values: data}),
	}}
}

// DecodeRequest is the server side inverse of EncodeRequest.
func DecodeRequest(req *structpb.Struct) (string, *inference.Tensor, error) {
	fields := req.GetFields()
	shapeValues := fields["shape"].GetListValue().GetValues()
	dataValues := fields["data"].GetListValue().GetValues()
	if len(shapeValues) == 0 {
		return "", nil, fmt.Errorf("request has no shape")
	}

	tensor := &inference.Tensor{
		Shape: make([]int64, len(shapeValues)),
		Data:  make([]float32, len(dataValues)),
	}
	for i, v := range shapeValues {
		tensor.Shape[i] = int64(v.GetNumberValue())
	}
	for i, v := range dataValues {
		tensor.Data[i] = float32(v.GetNumberValue())
	}
	if err := tensor.Validate(); err != nil {
		return "", nil, err
	}
	return fields["model"].GetStringValue(), tensor, nil
}

// EncodeScores builds the Predict response message.
func EncodeScores(scores []float32) *structpb.Struct {
	values := make([]*structpb.Value, len(scores))
	for i, s := range scores {
		values[i] = structpb.NewNumberValue(float64(s))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"scores": structpb.NewListValue(&structpb.ListValue{Values: values}),
	}}
}

// DecodeScores reads the score vector from a Predict response.
func DecodeScores(resp *structpb.Struct) ([]float32, error) {
	field, ok := resp.GetFields()["scores"]
	if !ok {
		return nil, fmt.Errorf("response has no scores")
	}
	values := field.GetListValue().GetValues()
	scores := make([]float32, len(values))
	for i, v := range values {
		scores[i] = float32(v.GetNumberValue())
	}
	return scores, nil
}
