// Command epdemo wires config, metrics, endpoint and progress into a
// runnable process: parse flags/env, start the prometheus exporter,
// then drive the core loop until interrupted.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"time"

	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"

	"github.com/m-lab/rdmtp/bufpool"
	"github.com/m-lab/rdmtp/config"
	"github.com/m-lab/rdmtp/endpoint"
	"github.com/m-lab/rdmtp/events"
	"github.com/m-lab/rdmtp/progress"
	"github.com/m-lab/rdmtp/transport"
	"github.com/m-lab/rdmtp/xfer"
)

func init() {
	// Always prepend the filename and line number.
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

var (
	listenAddr = flag.String("listen", ":9444", "UDP address this demo endpoint listens on")
	connectTo  = flag.String("connect", "", "UDP address of a peer to send a greeting RTS to on startup, empty to just listen")
	promPort   = flag.String("prom", ":9090", "Prometheus metrics export address and port")
	eventsSock = flag.String("events_socket", "", "Unix socket path to serve completion events on, empty disables the events fan-out")
)

func main() {
	config.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	promSrv := prometheusx.MustStartPrometheus(*promPort)
	defer promSrv.Shutdown(ctx)

	udpAddr, err := net.ResolveUDPAddr("udp", *listenAddr)
	rtx.Must(err, "Could not resolve listen address %q", *listenAddr)
	conn, err := net.ListenUDP("udp", udpAddr)
	rtx.Must(err, "Could not listen on %q", *listenAddr)
	defer conn.Close()

	av := newAddressVector()
	lt := newUDPTransport(conn, av)

	ep := endpoint.New(config.Endpoint(), av, nil)
	localAddr, err := lt.GetName()
	rtx.Must(err, "Could not read local UDP address")
	ep.SetLocalAddr(localAddr)

	var evSrv *events.Server
	if *eventsSock != "" {
		evSrv = events.New(*eventsSock)
		rtx.Must(evSrv.Listen(), "Could not listen on events socket %q", *eventsSock)
		go evSrv.Serve(ctx)
	}

	if *connectTo != "" {
		dest, err := av.Insert([]byte(*connectTo))
		rtx.Must(err, "Could not resolve peer address %q", *connectTo)
		if err := sendGreeting(ep, lt, dest); err != nil {
			log.Println("epdemo: initial greeting RTS failed:", err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)

	pcfg := config.Progress()
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-sigCh:
			log.Println("epdemo: received interrupt, shutting down")
			return
		case <-ticker.C:
			now := progress.NowNanos()
			if err := progress.Tick(ep, lt, nil, pcfg, now); err != nil {
				log.Println("epdemo: Tick error:", err)
			}
		}
	}
}

// sendGreeting posts a single untagged message to dest, demonstrating
// the alloc_tx_entry -> post path an application follows for every
// send (spec.md §6).
func sendGreeting(ep *endpoint.Endpoint, lt transport.LowerTransport, dest bufpool.PeerHandle) error {
	payload := []byte("hello from epdemo")
	segs := []xfer.IOSeg{{Base: payload}}
	e, err := ep.AllocTXEntry(xfer.OpMsg, dest, segs, uint64(len(payload)), 0, 0, 1)
	if err != nil {
		return err
	}
	return ep.PostRTS(lt, e, progress.NowNanos())
}
