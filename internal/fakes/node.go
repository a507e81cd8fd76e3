package fakes

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
)

// Environment variables understood by NodeMain.
const (
	EnvFakeNode = "GVAPHIVE_FAKE_NODE" // run NodeMain instead of the test binary
	EnvNodeFail = "FAKE_NODE_FAIL"     // exit with an error before becoming ready
	EnvNodeHang = "FAKE_NODE_HANG"     // never print the ready marker
)

// Log lines printed by the fake node.
const (
	ReadyLine = "INFO Starting P2P networking"
	IPCLine   = "INFO IPC endpoint opened"
	HTTPLine  = "INFO HTTP endpoint opened url=http://127.0.0.1:8545"
)

// NodeConfig configures a fake node.
type NodeConfig struct {
	DataDir   string
	IPCPath   string
	NetworkID string
	Coinbase  string
	Mining    bool
	Version   string // web3_clientVersion
	Protocol  uint   // vap_protocolVersion

	Fail bool
	Hang bool
}

// ParseNodeArgs derives a node configuration from a node command line.
// Unknown flags are accepted and ignored, like the flag-style scenarios expect.
func ParseNodeArgs(args []string) NodeConfig {
	cfg := NodeConfig{NetworkID: "1", IPCPath: "gvap.ipc", Protocol: 63, Version: "Gvap/v1.5.0-fake/linux/go1.18"}
	flags := make(map[string]string)
	for i := 0; i < len(args); i++ {
		name := strings.TrimLeft(args[i], "-")
		if name == args[i] {
			continue
		}
		if eq := strings.IndexByte(name, '='); eq >= 0 {
			flags[name[:eq]] = name[eq+1:]
			continue
		}
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			flags[name] = args[i+1]
			i++
		} else {
			flags[name] = ""
		}
	}
	if v, ok := flags["datadir"]; ok {
		cfg.DataDir = v
	}
	if v, ok := flags["ipcpath"]; ok {
		cfg.IPCPath = v
	}
	if v, ok := flags["networkid"]; ok {
		cfg.NetworkID = v
	}
	for _, f := range []string{"vaporbase", "etherbase", "unlock"} {
		if v := flags[f]; v != "" && cfg.Coinbase == "" {
			cfg.Coinbase = v
		}
	}
	if _, ok := flags["mine"]; ok {
		cfg.Mining = true
	}
	if v, ok := flags["identity"]; ok && v != "" {
		cfg.Version = v
	}
	return cfg
}

// Node is a minimal JSON-RPC node served over an IPC socket.
type Node struct {
	cfg      NodeConfig
	server   *rpc.Server
	listener net.Listener
	starts   uint64
	once     sync.Once
	done     chan struct{}
}

// StartNode starts a fake node, printing its startup log to out.
func StartNode(cfg NodeConfig, out io.Writer) (*Node, error) {
	fmt.Fprintf(out, "INFO Starting peer-to-peer node instance=%s\n", cfg.Version)
	if cfg.Fail {
		return nil, errors.New("Error starting protocol stack: injected failure")
	}
	if cfg.DataDir == "" {
		return nil, errors.New("no data directory")
	}
	starts, err := countStart(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	n := &Node{cfg: cfg, starts: starts, server: rpc.NewServer(), done: make(chan struct{})}
	n.register()

	ipc := cfg.IPCPath
	if !filepath.IsAbs(ipc) {
		ipc = filepath.Join(cfg.DataDir, ipc)
	}
	os.Remove(ipc)
	n.listener, err = net.Listen("unix", ipc)
	if err != nil {
		return nil, err
	}
	go n.server.ServeListener(n.listener)

	if cfg.Hang {
		return n, nil
	}
	fmt.Fprintln(out, ReadyLine)
	fmt.Fprintf(out, "%s url=%s\n", IPCLine, ipc)
	fmt.Fprintln(out, HTTPLine)
	return n, nil
}

// countStart increments the start counter kept in the data directory.
func countStart(datadir string) (uint64, error) {
	dir := filepath.Join(datadir, "chaindata")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, err
	}
	file := filepath.Join(dir, "starts")
	var n uint64
	if data, err := os.ReadFile(file); err == nil {
		n, _ = strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	}
	n++
	return n, os.WriteFile(file, []byte(strconv.FormatUint(n, 10)), 0644)
}

func (n *Node) register() {
	chain := &chainAPI{n}
	n.server.RegisterName("net", &netAPI{n})
	n.server.RegisterName("vap", chain)
	n.server.RegisterName("eth", chain)
	n.server.RegisterName("web3", &web3API{n})
}

// Starts returns how often a node was started on the data directory, including this one.
func (n *Node) Starts() uint64 {
	return n.starts
}

// Close stops serving RPC.
func (n *Node) Close() error {
	n.once.Do(func() {
		n.listener.Close()
		n.server.Stop()
		close(n.done)
	})
	return nil
}

// Wait blocks until the node is closed.
func (n *Node) Wait() {
	<-n.done
}

// NodeMain runs a fake node process. It returns the process exit code.
func NodeMain(args []string, stderr io.Writer) int {
	cfg := ParseNodeArgs(args)
	cfg.Fail = os.Getenv(EnvNodeFail) != ""
	cfg.Hang = os.Getenv(EnvNodeHang) != ""

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	n, err := StartNode(cfg, stderr)
	if err != nil {
		fmt.Fprintln(stderr, "Fatal:", err)
		return 1
	}
	<-sigs
	fmt.Fprintln(stderr, "INFO Got interrupt, shutting down...")
	n.Close()
	return 0
}

type netAPI struct{ n *Node }

func (api *netAPI) Listening() bool { return true }

func (api *netAPI) Version() string { return api.n.cfg.NetworkID }

func (api *netAPI) PeerCount() hexutil.Uint { return 0 }

type chainAPI struct{ n *Node }

var errNoCoinbase = errors.New("etherbase must be explicitly specified")

func (api *chainAPI) ProtocolVersion() hexutil.Uint { return hexutil.Uint(api.n.cfg.Protocol) }

func (api *chainAPI) GasPrice() *hexutil.Big { return (*hexutil.Big)(big.NewInt(20e9)) }

func (api *chainAPI) BlockNumber() hexutil.Uint64 { return hexutil.Uint64(api.n.starts - 1) }

func (api *chainAPI) Hashrate() hexutil.Uint64 { return 0 }

func (api *chainAPI) Mining() bool { return api.n.cfg.Mining }

func (api *chainAPI) Coinbase() (common.Address, error) {
	if api.n.cfg.Coinbase == "" {
		return common.Address{}, errNoCoinbase
	}
	return common.HexToAddress(api.n.cfg.Coinbase), nil
}

func (api *chainAPI) GetBalance(ctx context.Context, addr common.Address, block *string) (*hexutil.Big, error) {
	if err := checkBlockTag(block); err != nil {
		return nil, err
	}
	bal := new(big.Int)
	if api.n.cfg.Coinbase != "" && addr == common.HexToAddress(api.n.cfg.Coinbase) {
		bal.SetUint64(5e18)
	}
	return (*hexutil.Big)(bal), nil
}

func (api *chainAPI) GetTransactionCount(ctx context.Context, addr common.Address, block *string) (hexutil.Uint64, error) {
	if err := checkBlockTag(block); err != nil {
		return 0, err
	}
	return 0, nil
}

func checkBlockTag(block *string) error {
	if block == nil {
		return nil
	}
	switch *block {
	case "latest", "pending", "earliest":
		return nil
	}
	if _, err := hexutil.DecodeUint64(*block); err != nil {
		return fmt.Errorf("invalid block number %q", *block)
	}
	return nil
}

type web3API struct{ n *Node }

func (api *web3API) ClientVersion() string { return api.n.cfg.Version }

// Sha3 hashes the hex-decoded input. Input that is not valid hex hashes as empty, the way
// older nodes treat it.
func (api *web3API) Sha3(input string) hexutil.Bytes {
	data, err := hexutil.Decode(input)
	if err != nil {
		data = nil
	}
	return crypto.Keccak256(data)
}
