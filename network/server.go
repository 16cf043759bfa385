package network

import (
	"errors"
	"fmt"
	"net"
	"sync"
)

// Server accepts inbound TCP connections for one mailbox.
type Server struct {
	listener net.Listener

	incoming chan net.Conn
	errs     chan error

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Listen starts a TCP listener and accept loop.
func Listen(address string) (*Server, error) {
	if address == "" {
		address = ":0"
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listen on %q: %w", address, err)
	}

	server := &Server{
		listener: listener,
		incoming: make(chan net.Conn, 4),
		errs:     make(chan error, 16),
		closed:   make(chan struct{}),
	}

	server.wg.Add(1)
	go server.acceptLoop()
	return server, nil
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Port returns the listening TCP port.
func (s *Server) Port() int {
	if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// Incoming returns accepted connections.
func (s *Server) Incoming() <-chan net.Conn {
	return s.incoming
}

// Errors returns asynchronous server errors.
func (s *Server) Errors() <-chan error {
	return s.errs
}

// Close stops accepting and closes connections nobody claimed.
func (s *Server) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		close(s.closed)
		closeErr = s.listener.Close()
		s.wg.Wait()
		close(s.incoming)
		for conn := range s.incoming {
			_ = conn.Close()
		}
		close(s.errs)
	})
	return closeErr
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}

			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.reportError(fmt.Errorf("accept connection: %w", err))
			continue
		}

		select {
		case s.incoming <- conn:
		case <-s.closed:
			_ = conn.Close()
			return
		default:
			// Mailbox already has a pending peer.
			_ = conn.Close()
		}
	}
}

func (s *Server) reportError(err error) {
	if err == nil {
		return
	}
	select {
	case s.errs <- err:
	default:
	}
}
