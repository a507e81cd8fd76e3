// Package rpcsuite contains the standard assertions run against every scenario.
package rpcsuite

import (
	"encoding/json"
	"strings"

	"github.com/vaporyco/gvaphive/gvapsim"
	"github.com/vaporyco/gvaphive/internal/libgvap"
)

// Sha3Input is hashed by the sha3 assertion. It is not hex, so nodes hash it as empty
// input and the digest is the hash of nothing.
const (
	Sha3Input  = "boom!"
	Sha3Digest = "0xc5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470"
)

const zeroAddress = "0x0000000000000000000000000000000000000000"

// New creates the suite. The coinbase table of params provides the account queried by
// the balance and transaction count assertions.
func New(params gvapsim.NetworkParams) gvapsim.Suite {
	s := gvapsim.Suite{
		Name:        "rpc",
		Description: "JSON-RPC checks over the node's IPC endpoint.",
	}
	probe := func(t *gvapsim.T) string {
		cfg := t.Scenario()
		if addr := params.Coinbase[cfg.NetworkIDValue()]; addr != "" {
			return addr
		}
		if addr := cfg.CoinbaseAddress(); addr != "" {
			return addr
		}
		return zeroAddress
	}

	s.Add(gvapsim.AssertionSpec{
		Name:        "broadcast/net_listening",
		Description: "A raw net_listening request returns true.",
		Run: func(t *gvapsim.T, c *gvapsim.Client) {
			res, err := c.Broadcast(t.Ctx(), gvapsim.Request{ID: 1, JSONRPC: "2.0", Method: "net_listening", Params: []interface{}{}})
			if err != nil {
				t.Fatal(err)
			}
			gvapsim.Expect(t, "net_listening", decode(t, res), true)
		},
	})
	s.Add(gvapsim.AssertionSpec{
		Name:        "broadcast/protocolVersion",
		Description: "A raw protocolVersion request in the client namespace returns the client's protocol version.",
		Run: func(t *gvapsim.T, c *gvapsim.Client) {
			method := t.Client().ProtocolPrefix + "_protocolVersion"
			res, err := c.Broadcast(t.Ctx(), gvapsim.Request{ID: 2, JSONRPC: "2.0", Method: method, Params: []interface{}{}})
			if err != nil {
				t.Fatal(err)
			}
			gvapsim.Expect(t, method, decode(t, res), t.Client().ProtocolVersion)
		},
	})
	s.Add(gvapsim.AssertionSpec{
		Name:        "listening",
		Description: "The node reports that it is listening for peers.",
		Run: func(t *gvapsim.T, c *gvapsim.Client) {
			listening, err := c.Listening(t.Ctx())
			if err != nil {
				t.Fatal(err)
			}
			gvapsim.Expect(t, "net_listening", listening, true)
		},
	})
	s.Add(gvapsim.AssertionSpec{
		Name:        "version",
		Description: "net_version returns the network id of the scenario.",
		Run: func(t *gvapsim.T, c *gvapsim.Client) {
			version, err := c.Version(t.Ctx())
			if err != nil {
				t.Fatal(err)
			}
			gvapsim.Expect(t, "net_version", version, t.Scenario().NetworkIDValue())
		},
	})
	addBindings(&s, probe)
	s.Add(gvapsim.AssertionSpec{
		Name:        "datadir/persistence",
		Description: "Persistent scenarios reuse the data directory of earlier runs, all others start empty.",
		Run:         checkPersistence,
	})
	s.Add(gvapsim.AssertionSpec{
		Name:        "listeners/stderr/data",
		Description: "After a restart triggered on the P2P startup line, a stderr line subscription sees the HTTP endpoint.",
		Run:         stderrListener(true),
	})
	s.Add(gvapsim.AssertionSpec{
		Name:        "listeners/stderr",
		Description: "After a restart triggered on the P2P startup line, stderr reports the HTTP endpoint.",
		Run:         stderrListener(false),
	})
	return s
}

// decode unmarshals a raw result into its generic JSON representation.
func decode(t *gvapsim.T, raw json.RawMessage) interface{} {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("invalid result %s: %v", raw, err)
	}
	return v
}

func checkPersistence(t *gvapsim.T, c *gvapsim.Client) {
	dd := t.DataDir()
	t.Logf("datadir %s (persistent: %t, reused: %t, chain state: %t, prior runs: %d)", dd.Path, dd.Persist, dd.Reused, dd.ChainState, dd.PriorRuns)
	switch {
	case !dd.Persist:
		gvapsim.Expect(t, "datadir reused", dd.Reused, false)
		gvapsim.Expect(t, "prior chain state", dd.ChainState, false)
	case dd.PriorRuns > 0:
		gvapsim.Expect(t, "datadir reused", dd.Reused, true)
		gvapsim.Expect(t, "prior chain state", dd.ChainState, true)
	}
}

// stderrListener restarts the node and waits for the HTTP endpoint line on stderr. With
// subscribe set, the line is read from a subscription instead of a marker wait.
func stderrListener(subscribe bool) func(t *gvapsim.T, c *gvapsim.Client) {
	return func(t *gvapsim.T, c *gvapsim.Client) {
		def := t.Client()
		ready := def.ReadyMarker
		if ready == "" {
			ready = libgvap.DefaultReadyMarker
		}
		marker := def.HTTPMarker
		if marker == "" {
			marker = libgvap.DefaultHTTPMarker
		}

		proc := t.Restart(libgvap.StartOptions{ReadyMarker: ready, ReadyStream: libgvap.Stderr})
		if subscribe {
			waitForLine(t, proc.Output, marker)
		} else if err := proc.Output.WaitFor(t.Ctx(), libgvap.Stderr, marker); err != nil {
			t.Fatalf("no %q on stderr: %v", marker, err)
		}
		t.Logf("node %s reported %q", proc.ID, marker)

		// The restarted node must serve requests again.
		listening, err := c.Listening(t.Ctx())
		if err != nil {
			t.Fatal(err)
		}
		gvapsim.Expect(t, "net_listening", listening, true)
	}
}

func waitForLine(t *gvapsim.T, out *libgvap.OutputHub, marker string) {
	lines, unsubscribe := out.Subscribe(libgvap.Stderr)
	defer unsubscribe()
	for _, ev := range out.Lines() {
		if ev.Stream == libgvap.Stderr && strings.Contains(ev.Line, marker) {
			return
		}
	}
	for {
		select {
		case ev, ok := <-lines:
			if !ok {
				t.Fatalf("stderr closed before %q", marker)
			}
			if strings.Contains(ev.Line, marker) {
				return
			}
		case <-t.Ctx().Done():
			t.Fatalf("no %q on stderr: %v", marker, t.Ctx().Err())
		}
	}
}
