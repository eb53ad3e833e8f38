// Package server runs the shared device port: one accept loop and one
// goroutine per connection.
package server

import (
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Lifecycle is the run flag shared by the accept loop and the device
// receive loops.
type Lifecycle struct {
	running atomic.Bool
}

func (l *Lifecycle) Start()          { l.running.Store(true) }
func (l *Lifecycle) Stop()           { l.running.Store(false) }
func (l *Lifecycle) IsRunning() bool { return l.running.Load() }

// ConnHandler owns an accepted connection until it returns.
type ConnHandler interface {
	Serve(conn net.Conn)
}

type Server struct {
	addr          string
	acceptTimeout time.Duration
	handler       ConnHandler
	life          *Lifecycle

	mu       sync.Mutex
	listener *net.TCPListener
	conns    sync.WaitGroup
	done     chan struct{}
}

func New(addr string, acceptTimeout time.Duration, handler ConnHandler, life *Lifecycle) *Server {
	if acceptTimeout <= 0 {
		acceptTimeout = time.Second
	}
	if life == nil {
		life = &Lifecycle{}
	}
	return &Server{
		addr:          addr,
		acceptTimeout: acceptTimeout,
		handler:       handler,
		life:          life,
	}
}

func (s *Server) Lifecycle() *Lifecycle { return s.life }

// Listen binds the device port and marks the lifecycle running.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.listener = ln.(*net.TCPListener)
	s.done = make(chan struct{})
	s.mu.Unlock()
	s.life.Start()
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until Stop is called. Each accept waits at
// most the accept timeout so the run flag is checked regularly. A failed
// accept is logged and does not end the loop.
func (s *Server) Serve() error {
	s.mu.Lock()
	ln, done := s.listener, s.done
	s.mu.Unlock()
	if ln == nil {
		return errors.New("server is not listening")
	}
	defer close(done)
	defer ln.Close()

	log.Printf("Device server listening on %s", ln.Addr())
	for s.life.IsRunning() {
		ln.SetDeadline(time.Now().Add(s.acceptTimeout))
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			if !s.life.IsRunning() {
				break
			}
			log.Printf("Accept failed: %v", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.handler.Serve(conn)
		}()
	}
	log.Println("Device server stopped accepting connections.")
	return nil
}

// ListenAndServe binds the port and serves until Stop.
func (s *Server) ListenAndServe() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Stop clears the run flag and waits for a started accept loop to exit. In
// flight connections are not interrupted; they end on their next read
// timeout, end of stream or error.
func (s *Server) Stop() {
	s.life.Stop()
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Wait blocks until every connection goroutine has returned.
func (s *Server) Wait() { s.conns.Wait() }
