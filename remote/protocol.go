// Package remote implements qudi's remote module server and client: a
// framed TCP (optionally TLS) transport that lets one qudi process call
// methods on another process's activated modules, proxying each remote
// object by name rather than by generic RPC stub. Per spec §4.6 the wire
// encoding is YAML, not gRPC/protobuf, because qudi config and status
// documents are already YAML and the remote protocol reuses that same
// "human-inspectable on the wire" property. writeFloat64Array and
// readFloat64Array provide a binary encoding for []float64, but Client and
// Server never use it: every argument and return value, dense numeric
// arrays included, travels as YAML.
package remote

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"gopkg.in/yaml.v3"
)

var (
	ErrTransport           = errors.New("remote transport error")
	ErrModuleNotRemotable  = errors.New("module is not configured with allow_remote")
	ErrHandleUnknown       = errors.New("unknown or expired remote handle")
)

// Op identifies one remote call kind, matching the operations named in
// spec §4.6.
type Op string

const (
	OpListRemotable Op = "list-remotable"
	OpAcquire       Op = "acquire"
	OpRelease       Op = "release"
	OpCall          Op = "call"
	OpGetAttr       Op = "get_attr"
	OpSetAttr       Op = "set_attr"
)

// Request is one client->server message. Args carries every argument as a
// YAML-encodable value. BinaryArg is never set by Client, and Server does
// not read a binary payload.
type Request struct {
	Op         Op     `yaml:"op"`
	Module     string `yaml:"module,omitempty"`
	Handle     string `yaml:"handle,omitempty"`
	Method     string `yaml:"method,omitempty"`
	Attr       string `yaml:"attr,omitempty"`
	Args       []any  `yaml:"args,omitempty"`
	BinaryArg  bool   `yaml:"binary_arg,omitempty"`
}

// Response is one server->client message.
type Response struct {
	OK        bool     `yaml:"ok"`
	Error     string   `yaml:"error,omitempty"`
	Handle    string   `yaml:"handle,omitempty"`
	Modules   []string `yaml:"modules,omitempty"`
	Value     any      `yaml:"value,omitempty"`
	BinaryVal bool     `yaml:"binary_val,omitempty"`
}

// frame is length-prefix-framed YAML. writeFrame appends a raw binary
// payload when binaryData is non-nil; readFrame reads only the YAML part,
// and Client and Server always pass nil.
// The length prefix is a plain stdlib encoding/binary uint32; no pack
// library provides custom application-level framing, so this one piece of
// the transport is deliberately standard-library.
func writeFrame(w io.Writer, payload any, binaryData []float64) error {
	body, err := yaml.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: encode frame: %v", ErrTransport, err)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if binaryData != nil {
		if err := writeFloat64Array(w, binaryData); err != nil {
			return err
		}
	}
	return nil
}

func readFrame(r io.Reader, out any) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if err := yaml.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode frame: %v", ErrTransport, err)
	}
	return nil
}

// writeFloat64Array is the binary fast path for dense numeric arrays: a
// uint32 element count followed by that many big-endian float64s, avoiding
// YAML's text encoding of potentially megapixel-sized acquisition traces.
func writeFloat64Array(w io.Writer, data []float64) error {
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(data)))
	if _, err := w.Write(countBuf[:]); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	buf := make([]byte, 8*len(data))
	for i, v := range data {
		binary.BigEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	_, err := w.Write(buf)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return nil
}

func readFloat64Array(r io.Reader) ([]float64, error) {
	var countBuf [4]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	n := binary.BigEndian.Uint32(countBuf[:])
	buf := make([]byte, 8*n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Float64frombits(binary.BigEndian.Uint64(buf[i*8:]))
	}
	return out, nil
}
