package gvapsim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/vaporyco/gvaphive/internal/libgvap"
)

// DefaultRPCTimeout bounds every request made through a Client.
const DefaultRPCTimeout = 2 * time.Minute

// Request is a raw JSON-RPC request.
type Request struct {
	ID      interface{}   `json:"id"`
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// Client talks JSON-RPC to the node of a scenario over its IPC socket. Error responses
// are returned as *libgvap.RPCError. Requests are never retried.
type Client struct {
	def     *libgvap.ClientDefinition
	timeout time.Duration

	mu  sync.Mutex
	ipc string
	rpc *rpc.Client
}

// Dial connects to the IPC socket at path, waiting for the socket to appear.
func Dial(ctx context.Context, path string, def *libgvap.ClientDefinition, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = DefaultRPCTimeout
	}
	c := &Client{def: def, timeout: timeout}
	if err := c.connect(ctx, path); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) connect(ctx context.Context, path string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := waitForSocket(ctx, path); err != nil {
		return fmt.Errorf("IPC endpoint %s not available: %w", path, err)
	}
	rc, err := rpc.DialIPC(ctx, path)
	if err != nil {
		return err
	}

	c.mu.Lock()
	old := c.rpc
	c.ipc, c.rpc = path, rc
	c.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return nil
}

// waitForSocket polls until the file at path exists.
func waitForSocket(ctx context.Context, path string) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RPC returns the underlying client.
func (c *Client) RPC() *rpc.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rpc
}

// IPCPath returns the socket the client is connected to.
func (c *Client) IPCPath() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ipc
}

// Close closes the connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpc != nil {
		c.rpc.Close()
		c.rpc = nil
	}
}

// Call performs a JSON-RPC call and decodes the result into result.
func (c *Client) Call(ctx context.Context, result interface{}, method string, params ...interface{}) error {
	rc := c.RPC()
	if rc == nil {
		return fmt.Errorf("%s: client is closed", method)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := rc.CallContext(ctx, result, method, params...)
	if err == nil {
		return nil
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		e := &libgvap.RPCError{Method: method, Code: rpcErr.ErrorCode(), Message: rpcErr.Error()}
		var dataErr rpc.DataError
		if errors.As(err, &dataErr) {
			e.Data = dataErr.ErrorData()
		}
		return e
	}
	return fmt.Errorf("%s: %w", method, err)
}

// Broadcast sends a raw request and returns the raw result. The request id is
// informational, the connection assigns its own ids.
func (c *Client) Broadcast(ctx context.Context, req Request) (json.RawMessage, error) {
	if req.JSONRPC != "" && req.JSONRPC != "2.0" {
		return nil, fmt.Errorf("unsupported jsonrpc version %q", req.JSONRPC)
	}
	var result json.RawMessage
	err := c.Call(ctx, &result, req.Method, req.Params...)
	return result, err
}

// Namespace calls method in the client's protocol namespace, e.g. "vap_gasPrice".
func (c *Client) Namespace(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	var result json.RawMessage
	err := c.Call(ctx, &result, c.method(method), params...)
	return result, err
}

func (c *Client) method(name string) string {
	prefix := "eth"
	if c.def != nil && c.def.ProtocolPrefix != "" {
		prefix = c.def.ProtocolPrefix
	}
	return prefix + "_" + name
}

// Listening calls net_listening.
func (c *Client) Listening(ctx context.Context) (bool, error) {
	var v bool
	err := c.Call(ctx, &v, "net_listening")
	return v, err
}

// Version calls net_version, which returns the network id.
func (c *Client) Version(ctx context.Context) (string, error) {
	var v string
	err := c.Call(ctx, &v, "net_version")
	return v, err
}

// PeerCount calls net_peerCount.
func (c *Client) PeerCount(ctx context.Context) (uint64, error) {
	var v hexutil.Uint64
	err := c.Call(ctx, &v, "net_peerCount")
	return uint64(v), err
}

// ProtocolVersion returns the protocol version exactly as reported by the node.
func (c *Client) ProtocolVersion(ctx context.Context) (string, error) {
	var v string
	err := c.Call(ctx, &v, c.method("protocolVersion"))
	return v, err
}

// GasPrice returns the suggested gas price.
func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	var v hexutil.Big
	if err := c.Call(ctx, &v, c.method("gasPrice")); err != nil {
		return nil, err
	}
	return (*big.Int)(&v), nil
}

// BlockNumber returns the number of the head block.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var v hexutil.Uint64
	err := c.Call(ctx, &v, c.method("blockNumber"))
	return uint64(v), err
}

// Balance returns the balance of addr. The block argument is forwarded as given, so
// it can be omitted, a tag like "latest", or nil for a JSON null.
func (c *Client) Balance(ctx context.Context, addr string, block ...interface{}) (*big.Int, error) {
	var v hexutil.Big
	params := append([]interface{}{addr}, block...)
	if err := c.Call(ctx, &v, c.method("getBalance"), params...); err != nil {
		return nil, err
	}
	return (*big.Int)(&v), nil
}

// TxCount returns the number of transactions sent from addr.
func (c *Client) TxCount(ctx context.Context, addr string) (uint64, error) {
	var v hexutil.Uint64
	err := c.Call(ctx, &v, c.method("getTransactionCount"), addr, "latest")
	return uint64(v), err
}

// PendingTxCount is like TxCount, but includes pending transactions.
func (c *Client) PendingTxCount(ctx context.Context, addr string) (uint64, error) {
	var v hexutil.Uint64
	err := c.Call(ctx, &v, c.method("getTransactionCount"), addr, "pending")
	return uint64(v), err
}

// Hashrate returns the mining hash rate.
func (c *Client) Hashrate(ctx context.Context) (uint64, error) {
	var v hexutil.Uint64
	err := c.Call(ctx, &v, c.method("hashrate"))
	return uint64(v), err
}

// Mining reports whether the node is mining.
func (c *Client) Mining(ctx context.Context) (bool, error) {
	var v bool
	err := c.Call(ctx, &v, c.method("mining"))
	return v, err
}

// Coinbase returns the mining reward address.
func (c *Client) Coinbase(ctx context.Context) (string, error) {
	var v string
	err := c.Call(ctx, &v, c.method("coinbase"))
	return v, err
}

// ClientVersion calls web3_clientVersion.
func (c *Client) ClientVersion(ctx context.Context) (string, error) {
	var v string
	err := c.Call(ctx, &v, "web3_clientVersion")
	return v, err
}

// Sha3 calls web3_sha3. The input is sent unmodified.
func (c *Client) Sha3(ctx context.Context, data string) (string, error) {
	var v string
	err := c.Call(ctx, &v, "web3_sha3", data)
	return v, err
}
