package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"

	"github.com/sleepwatch/backend/internal/models"
	"github.com/sleepwatch/backend/internal/signal"
)

const (
	serviceName    = "sleepwatch.inference.v1.EpochClassifier"
	jsonCodecName  = "json"
	methodClassify = "/" + serviceName + "/Classify"
)

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return jsonCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// ClassifyRequest is one epoch sent to the inference service.
type ClassifyRequest struct {
	EpochIndex int       `json:"epoch_index"`
	SampleRate int       `json:"sample_rate"`
	EEG        []float32 `json:"eeg"`
	HR         []float32 `json:"hr"`
}

// ClassifyResponse is the model output for one epoch.
type ClassifyResponse struct {
	Stage   models.Stage `json:"stage"`
	IsApnea bool         `json:"is_apnea"`
}

// ClassifierServer is implemented by inference services.
type ClassifierServer interface {
	Classify(ctx context.Context, in *ClassifyRequest) (*ClassifyResponse, error)
}

// Remote calls an inference service over gRPC with a JSON codec.
type Remote struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

// DialRemote creates a client for addr. The connection is established lazily.
func DialRemote(addr string, timeout time.Duration, opts ...grpc.DialOption) (*Remote, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial classifier %s: %w", addr, err)
	}
	return &Remote{conn: conn, timeout: timeout}, nil
}

// Classify sends the window and returns the model's labels. Any transport or
// decoding failure is reported as ErrUnavailable.
func (r *Remote) Classify(ctx context.Context, w signal.Window) (models.Stage, bool, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	in := &ClassifyRequest{EpochIndex: w.Index, SampleRate: w.SampleRate, EEG: w.EEG, HR: w.HR}
	out := &ClassifyResponse{}
	if err := r.conn.Invoke(ctx, methodClassify, in, out, grpc.CallContentSubtype(jsonCodecName)); err != nil {
		return models.StageWake, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !out.Stage.Valid() {
		return models.StageWake, false, fmt.Errorf("%w: invalid stage %d", ErrUnavailable, out.Stage)
	}
	return out.Stage, out.IsApnea, nil
}

// Close tears down the connection.
func (r *Remote) Close() error { return r.conn.Close() }

// RegisterClassifierServer exposes impl on server under the classifier service name.
func RegisterClassifierServer(server grpc.ServiceRegistrar, impl ClassifierServer) {
	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*ClassifierServer)(nil),
		Methods: []grpc.MethodDesc{
			{
				MethodName: "Classify",
				Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
					in := &ClassifyRequest{}
					if err := dec(in); err != nil {
						return nil, err
					}
					if interceptor == nil {
						return impl.Classify(ctx, in)
					}
					info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodClassify}
					handler := func(ctx context.Context, req any) (any, error) {
						r, ok := req.(*ClassifyRequest)
						if !ok {
							return nil, fmt.Errorf("invalid request type")
						}
						return impl.Classify(ctx, r)
					}
					return interceptor(ctx, in, info, handler)
				},
			},
		},
		Streams: []grpc.StreamDesc{},
	}, impl)
}
