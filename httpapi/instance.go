package httpapi

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"pkt.systems/cortex/schema"
)

// InstanceFile is the name of the discovery file under the state directory.
const InstanceFile = "ipc.json"

// ErrNoInstance reports that no running backend could be reached.
var ErrNoInstance = errors.New("no running instance")

// Instance locates a running backend.
type Instance struct {
	Addr      string    `json:"addr"`
	Token     string    `json:"token"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"startedAt"`
}

// NewToken returns a random bearer token.
func NewToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// WriteInstance records inst owner-only at path.
func WriteInstance(path string, inst Instance) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(inst, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".ipc-*.json")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ReadInstance loads the discovery file.
func ReadInstance(path string) (Instance, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Instance{}, ErrNoInstance
		}
		return Instance{}, err
	}
	var inst Instance
	if err := json.Unmarshal(data, &inst); err != nil {
		return Instance{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if inst.Addr == "" || inst.Token == "" {
		return Instance{}, ErrNoInstance
	}
	return inst, nil
}

// RemoveInstance deletes the discovery file when it still belongs to pid.
func RemoveInstance(path string, pid int) error {
	inst, err := ReadInstance(path)
	if err != nil {
		if errors.Is(err, ErrNoInstance) {
			return nil
		}
		return err
	}
	if inst.PID != pid {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Client invokes commands on a running backend.
type Client struct {
	inst Instance
	http *http.Client
}

// Connect reads the discovery file at path and checks that the instance
// answers. Stale files yield ErrNoInstance.
func Connect(ctx context.Context, path string) (*Client, error) {
	inst, err := ReadInstance(path)
	if err != nil {
		return nil, err
	}
	c := &Client{inst: inst, http: &http.Client{Timeout: 30 * time.Second}}
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, c.url("/ipc/health"), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, ErrNoInstance
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, ErrNoInstance
	}
	return c, nil
}

// Instance returns the instance the client talks to.
func (c *Client) Instance() Instance { return c.inst }

func (c *Client) url(path string) string {
	return "http://" + c.inst.Addr + path
}

// Invoke runs command with params and decodes the result into result when
// non-nil. Failures come back as *schema.Error.
func (c *Client) Invoke(ctx context.Context, command string, params, result any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/ipc/invoke/"+command), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.inst.Token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return schema.TransportClosed(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return schema.IO(err)
	}
	if resp.StatusCode != http.StatusOK {
		var wire schema.WireError
		if err := json.Unmarshal(data, &wire); err != nil || wire.Kind == "" {
			return schema.Protocol(fmt.Sprintf("unexpected status %d", resp.StatusCode), err)
		}
		return &schema.Error{Kind: wire.Kind, Message: wire.Message, Code: wire.Code, Field: wire.Field}
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(data, result); err != nil {
		return schema.Protocol("decode result", err)
	}
	return nil
}
