package transport

import (
	"context"
	"errors"
	"net"
	"net/rpc"
	"time"

	"github.com/pyropy/gfs/lib/logger"
)

var log, _ = logger.New("transport")

// DialTimeout bounds connection establishment to a peer.
var DialTimeout = 5 * time.Second

// Server is a rpc server that serves connections with the framed codec.
type Server struct {
	*rpc.Server
}

func NewServer() *Server {
	return &Server{
		Server: rpc.NewServer(),
	}
}

// Serve accepts connections on l until ctx is canceled.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}

			log.Warnw("accept", "error", err)
			return err
		}

		go s.ServeCodec(NewServerCodec(conn))
	}
}

// Dial connects to a framed rpc server.
func Dial(addr string) (*rpc.Client, error) {
	conn, err := net.DialTimeout("tcp", addr, DialTimeout)
	if err != nil {
		return nil, err
	}

	return rpc.NewClientWithCodec(NewClientCodec(conn)), nil
}

// Call dials addr, performs a single call and closes the connection.
func Call(ctx context.Context, addr string, method string, args any, reply any) error {
	client, err := Dial(addr)
	if err != nil {
		return err
	}

	defer client.Close()

	call := client.Go(method, args, reply, make(chan *rpc.Call, 1))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case done := <-call.Done:
		return done.Error
	}
}
