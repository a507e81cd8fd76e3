package rpcsuite

import (
	"encoding/json"

	"github.com/vaporyco/gvaphive/gvapsim"
	"github.com/vaporyco/gvaphive/internal/libgvap"
)

func addBindings(s *gvapsim.Suite, probe func(*gvapsim.T) string) {
	s.Add(gvapsim.AssertionSpec{
		Name:        "bindings/protocolVersion",
		Description: "protocolVersion returns the client's protocol version.",
		Run: func(t *gvapsim.T, c *gvapsim.Client) {
			v, err := c.ProtocolVersion(t.Ctx())
			if err != nil {
				t.Fatal(err)
			}
			gvapsim.Expect(t, "protocolVersion", v, t.Client().ProtocolVersion)
		},
	})
	s.Add(gvapsim.AssertionSpec{
		Name:        "bindings/gasPrice",
		Description: "The suggested gas price is positive.",
		Run: func(t *gvapsim.T, c *gvapsim.Client) {
			price, err := c.GasPrice(t.Ctx())
			if err != nil {
				t.Fatal(err)
			}
			gvapsim.ExpectPositive(t, "gasPrice", price)
		},
	})
	s.Add(gvapsim.AssertionSpec{
		Name:         "bindings/blockNumber",
		Description:  "blockNumber returns a block number.",
		NeedsNetwork: true,
		Run: func(t *gvapsim.T, c *gvapsim.Client) {
			n, err := c.BlockNumber(t.Ctx())
			if err != nil {
				t.Fatal(err)
			}
			t.Logf("block number %d", n)
		},
	})
	s.Add(gvapsim.AssertionSpec{
		Name:         "bindings/balance",
		Description:  "getBalance returns the same balance without block tag, with \"latest\" and with null.",
		NeedsNetwork: true,
		Run: func(t *gvapsim.T, c *gvapsim.Client) {
			addr := probe(t)
			base, err := c.Balance(t.Ctx(), addr)
			if err != nil {
				t.Fatal(err)
			}
			t.Logf("balance of %s: %v", addr, base)
			for _, tag := range [][]interface{}{{}, {"latest"}, {nil}} {
				bal, err := c.Balance(t.Ctx(), addr, tag...)
				if err != nil {
					t.Fatal(err)
				}
				gvapsim.Expect(t, "getBalance", bal.String(), base.String())
			}
		},
	})
	s.Add(gvapsim.AssertionSpec{
		Name:         "bindings/txCount",
		Description:  "Transaction counts can be queried for the latest and the pending state.",
		NeedsNetwork: true,
		Run: func(t *gvapsim.T, c *gvapsim.Client) {
			addr := probe(t)
			n, err := c.TxCount(t.Ctx(), addr)
			if err != nil {
				t.Fatal(err)
			}
			pending, err := c.PendingTxCount(t.Ctx(), addr)
			if err != nil {
				t.Fatal(err)
			}
			gvapsim.ExpectAtLeast(t, "pending getTransactionCount", pending, n)
		},
	})
	s.Add(gvapsim.AssertionSpec{
		Name:        "bindings/peerCount",
		Description: "peerCount returns a number.",
		Run: func(t *gvapsim.T, c *gvapsim.Client) {
			n, err := c.PeerCount(t.Ctx())
			if err != nil {
				t.Fatal(err)
			}
			t.Logf("%d peers", n)
		},
	})
	s.Add(gvapsim.AssertionSpec{
		Name:        "bindings/hashrate",
		Description: "hashrate returns a number.",
		Run: func(t *gvapsim.T, c *gvapsim.Client) {
			if _, err := c.Hashrate(t.Ctx()); err != nil {
				t.Fatal(err)
			}
		},
	})
	s.Add(gvapsim.AssertionSpec{
		Name:        "bindings/mining",
		Description: "mining returns a boolean.",
		Run: func(t *gvapsim.T, c *gvapsim.Client) {
			raw, err := c.Namespace(t.Ctx(), "mining")
			if err != nil {
				t.Fatal(err)
			}
			var mining bool
			if err := json.Unmarshal(raw, &mining); err != nil {
				t.Fatal(&libgvap.MismatchError{Method: "mining", Want: "a boolean", Got: string(raw)})
			}
		},
	})
	s.Add(gvapsim.AssertionSpec{
		Name:        "bindings/coinbase",
		Description: "The coinbase is the account configured by the scenario.",
		Run: func(t *gvapsim.T, c *gvapsim.Client) {
			want := t.Scenario().CoinbaseAddress()
			if want == "" {
				t.Log("scenario configures no coinbase")
				return
			}
			got, err := c.Coinbase(t.Ctx())
			if err != nil {
				t.Fatal(err)
			}
			gvapsim.ExpectEqualFold(t, "coinbase", got, want)
		},
	})
	s.Add(gvapsim.AssertionSpec{
		Name:        "bindings/sha3",
		Description: "web3_sha3 returns the digest of the hex-decoded input.",
		Run: func(t *gvapsim.T, c *gvapsim.Client) {
			digest, err := c.Sha3(t.Ctx(), Sha3Input)
			if err != nil {
				t.Fatal(err)
			}
			gvapsim.Expect(t, "web3_sha3", digest, Sha3Digest)
		},
	})
	s.Add(gvapsim.AssertionSpec{
		Name:        "bindings/clientVersion",
		Description: "The client version starts with the client's name token.",
		Run: func(t *gvapsim.T, c *gvapsim.Client) {
			v, err := c.ClientVersion(t.Ctx())
			if err != nil {
				t.Fatal(err)
			}
			gvapsim.ExpectToken(t, "web3_clientVersion", v, t.Client().VersionToken)
		},
	})
}
