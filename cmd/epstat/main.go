// Command epstat dumps a CSV snapshot of an endpoint's peer and pool
// state, the same role cmd/csvtool played for converting ArchiveRecord
// files: a small flag-driven tool wrapping one package's Marshal call.
// Since an Endpoint only exists inside a running epdemo process, this
// tool builds a throwaway Endpoint from the same config flags and
// prints its (empty) starting state, pools or peers as -rows selects,
// useful for checking
// that a given flag set produces the pool sizes an operator expects.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/m-lab/go/rtx"

	"github.com/m-lab/rdmtp/bufpool"
	"github.com/m-lab/rdmtp/config"
	"github.com/m-lab/rdmtp/endpoint"
	"github.com/m-lab/rdmtp/snapshot"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

var which = flag.String("rows", "pools", "Which snapshot to print: \"pools\" or \"peers\"")

// nullAV is the minimal transport.AddressVector a pool-sizing-only
// dump needs: no peer ever gets inserted before the process exits.
type nullAV struct{}

func (nullAV) Insert(addr []byte) (bufpool.PeerHandle, error) { return 0, nil }
func (nullAV) Lookup(h bufpool.PeerHandle) ([]byte, bool)     { return nil, false }
func (nullAV) Used() int                                      { return 0 }

func main() {
	config.Parse()

	ep := endpoint.New(config.Endpoint(), nullAV{}, nil)

	var err error
	switch *which {
	case "pools":
		err = snapshot.WritePoolCSV(ep, os.Stdout)
	case "peers":
		err = snapshot.WritePeerCSV(ep, os.Stdout)
	default:
		log.Fatalf("unknown -rows value %q, want \"pools\" or \"peers\"", *which)
	}
	rtx.Must(err, "Could not write CSV snapshot")
}
