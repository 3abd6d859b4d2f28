package classifier

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/sleepwatch/backend/internal/models"
	"github.com/sleepwatch/backend/internal/signal"
)

func TestReferenceUsesWindowLabel(t *testing.T) {
	stage, apnea, err := Reference{}.Classify(context.Background(), signal.Window{
		Truth: &signal.Label{Stage: models.StageREM, IsApnea: true},
	})
	require.NoError(t, err)
	assert.Equal(t, models.StageREM, stage)
	assert.True(t, apnea)

	_, _, err = Reference{}.Classify(context.Background(), signal.Window{})
	assert.ErrorIs(t, err, ErrUnavailable)
}

type stubServer struct {
	got   *ClassifyRequest
	reply *ClassifyResponse
	delay time.Duration
}

func (s *stubServer) Classify(ctx context.Context, in *ClassifyRequest) (*ClassifyResponse, error) {
	s.got = in
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.reply == nil {
		return nil, errors.New("model not loaded")
	}
	return s.reply, nil
}

func startServer(t *testing.T, impl ClassifierServer) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer()
	RegisterClassifierServer(srv, impl)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestRemoteClassify(t *testing.T) {
	stub := &stubServer{reply: &ClassifyResponse{Stage: models.StageN3, IsApnea: true}}
	r := &Remote{conn: startServer(t, stub), timeout: time.Second}

	stage, apnea, err := r.Classify(context.Background(), signal.Window{
		Index: 4, SampleRate: 128, EEG: []float32{0.5, -0.5}, HR: []float32{60, 61},
	})
	require.NoError(t, err)
	assert.Equal(t, models.StageN3, stage)
	assert.True(t, apnea)
	require.NotNil(t, stub.got)
	assert.Equal(t, 4, stub.got.EpochIndex)
	assert.Equal(t, []float32{0.5, -0.5}, stub.got.EEG)
}

func TestRemoteFailuresAreUnavailable(t *testing.T) {
	r := &Remote{conn: startServer(t, &stubServer{}), timeout: time.Second}
	_, _, err := r.Classify(context.Background(), signal.Window{})
	assert.ErrorIs(t, err, ErrUnavailable)

	slow := &Remote{conn: startServer(t, &stubServer{delay: time.Second, reply: &ClassifyResponse{}}), timeout: 20 * time.Millisecond}
	_, _, err = slow.Classify(context.Background(), signal.Window{})
	assert.ErrorIs(t, err, ErrUnavailable)
}
