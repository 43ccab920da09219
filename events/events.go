// Package events fans completion events out over a unix-domain socket
// as JSON Lines: a Server/client-set/notify-loop shape built for
// completion events instead of TCP flow open/close events, so an
// external log-shipper or visualizer can observe the core without
// touching the endpoint lock.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"sync"
	"time"
)

// Kind identifies what happened to a TX/RX entry.
type Kind int

const (
	// TXComplete is sent when a TX entry finishes successfully.
	TXComplete Kind = iota
	// RXComplete is sent when an RX entry finishes successfully.
	RXComplete
	// Failed is sent when a TX/RX entry completes with a non-nil
	// xfer.CompletionDesc.Err.
	Failed
)

func (k Kind) String() string {
	switch k {
	case TXComplete:
		return "TX_COMPLETE"
	case RXComplete:
		return "RX_COMPLETE"
	case Failed:
		return "FAILED"
	default:
		return fmt.Sprintf("UNKNOWN_KIND_%d", k)
	}
}

// CompletionEvent is one line of JSON sent down the socket to every
// connected client. Context and Timestamp are always populated; Peer,
// Tag and Err are zero-valued when not meaningful for Kind.
type CompletionEvent struct {
	Kind      Kind
	Timestamp time.Time
	Context   uint64
	Peer      uint64 `json:",omitempty"`
	Tag       uint64 `json:",omitempty"`
	Len       int    `json:",omitempty"`
	Err       string `json:",omitempty"`
}

// Server serves CompletionEvents over a unix domain socket. Construct
// with New; do not build the zero value directly.
type Server struct {
	eventC       chan *CompletionEvent
	filename     string
	clients      map[net.Conn]struct{}
	unixListener net.Listener
	mutex        sync.Mutex
	servingWG    sync.WaitGroup
}

// New makes a Server that will serve clients on the given unix domain
// socket path once Listen and Serve are called.
func New(filename string) *Server {
	return &Server{
		filename: filename,
		eventC:   make(chan *CompletionEvent, 100),
		clients:  make(map[net.Conn]struct{}),
	}
}

func (s *Server) addClient(c net.Conn) {
	log.Println("Adding new completion event client", c)
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.clients[c] = struct{}{}
}

func (s *Server) removeClient(c net.Conn) {
	s.servingWG.Add(1)
	defer s.servingWG.Done()
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, ok := s.clients[c]; !ok {
		log.Println("Tried to remove completion event client", c, "that was not present")
		return
	}
	delete(s.clients, c)
}

func (s *Server) sendToAllListeners(data string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for c := range s.clients {
		if _, err := fmt.Fprintln(c, data); err != nil {
			log.Println("Write to client", c, "failed with error", err, "- removing the client.")
			go s.removeClient(c)
			go c.Close()
		}
	}
}

func (s *Server) notifyClients(ctx context.Context) {
	s.servingWG.Add(1)
	defer s.servingWG.Done()
	for ctx.Err() == nil {
		event := <-s.eventC
		if event == nil {
			continue
		}
		b, err := json.Marshal(*event)
		if err != nil {
			log.Printf("WARNING: could not marshal event %v (err: %v)\n", event, err)
			continue
		}
		s.sendToAllListeners(string(b))
	}
}

// Listen binds the unix socket. Call Serve afterward to actually accept
// connections; splitting the two lets a caller bind early and defer
// accepting connections.
func (s *Server) Listen() error {
	s.servingWG.Add(1)
	var err error
	s.unixListener, err = net.Listen("unix", s.filename)
	return err
}

// Serve accepts clients until ctx is canceled. Expected to run in its
// own goroutine after Listen.
func (s *Server) Serve(ctx context.Context) error {
	defer s.servingWG.Done()
	derivedCtx, derivedCancel := context.WithCancel(ctx)
	defer derivedCancel()

	go s.notifyClients(derivedCtx)

	s.servingWG.Add(1)
	go func() {
		<-derivedCtx.Done()
		s.unixListener.Close()
		close(s.eventC)
		s.servingWG.Done()
	}()

	var err error
	for derivedCtx.Err() == nil {
		var conn net.Conn
		conn, err = s.unixListener.Accept()
		if err != nil {
			log.Printf("Could not Accept on socket %q: %s\n", s.filename, err)
			break
		}
		s.addClient(conn)
	}
	return err
}

// TXComplete should be called whenever a TX entry completes
// successfully.
func (s *Server) TXComplete(context, peer uint64, tag uint64, length int) {
	s.eventC <- &CompletionEvent{
		Kind:      TXComplete,
		Timestamp: time.Now(),
		Context:   context,
		Peer:      peer,
		Tag:       tag,
		Len:       length,
	}
}

// RXComplete should be called whenever an RX entry completes
// successfully.
func (s *Server) RXComplete(context, peer uint64, tag uint64, length int) {
	s.eventC <- &CompletionEvent{
		Kind:      RXComplete,
		Timestamp: time.Now(),
		Context:   context,
		Peer:      peer,
		Tag:       tag,
		Len:       length,
	}
}

// Failed should be called whenever a TX/RX entry completes with a
// non-nil error.
func (s *Server) Failed(context uint64, err error) {
	s.eventC <- &CompletionEvent{
		Kind:      Failed,
		Timestamp: time.Now(),
		Context:   context,
		Err:       err.Error(),
	}
}
