package gree

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"net"
)

// Constants of the Gree LAN protocol.
const (
	DefaultPort = 7000

	// ClientID is sent as cid in every request.
	ClientID = "app"

	// MaxDatagramSize bounds the receive buffer. Device responses are well
	// below this.
	MaxDatagramSize = 65536
)

// Command is the request kind carried in the t field.
type Command string

const (
	CommandBind   Command = "bind"
	CommandCmd    Command = "cmd"
	CommandPack   Command = "pack"
	CommandScan   Command = "scan"
	CommandStatus Command = "status"
)

// ResponseType is the t field of a decrypted response pack.
type ResponseType string

const (
	ResponseBindOK ResponseType = "bindok"
	ResponseData   ResponseType = "dat"
	ResponseResult ResponseType = "res"
	ResponseDevice ResponseType = "dev"
)

// Valid reports whether r is a response the protocol dispatches.
func (r ResponseType) Valid() bool {
	switch r {
	case ResponseBindOK, ResponseData, ResponseResult, ResponseDevice:
		return true
	}
	return false
}

// Message is an outbound envelope. Pack is encrypted by Protocol.Send.
type Message struct {
	CID  string `json:"cid"`
	I    int    `json:"i"`
	T    string `json:"t"`
	UID  int    `json:"uid"`
	TCID string `json:"tcid"`
	Pack *Pack  `json:"-"`
}

// KeyExchange reports whether the pack must be encrypted with a bootstrap
// cipher instead of the session cipher.
func (m *Message) KeyExchange() bool {
	return m.I == 1
}

// wireMessage is a Message after its pack was encrypted.
type wireMessage struct {
	CID  string `json:"cid"`
	I    int    `json:"i"`
	T    string `json:"t"`
	UID  int    `json:"uid"`
	TCID string `json:"tcid"`
	Pack string `json:"pack,omitempty"`
	Tag  string `json:"tag,omitempty"`
}

// Pack is the decrypted body of an envelope. Only the fields relevant to its
// type are set.
type Pack struct {
	T    string   `json:"t"`
	MAC  string   `json:"mac,omitempty"`
	UID  *int     `json:"uid,omitempty"`
	Key  string   `json:"key,omitempty"`
	Cols []string `json:"cols,omitempty"`
	Dat  []any    `json:"dat,omitempty"`
	Opt  []string `json:"opt,omitempty"`
	P    []any    `json:"p,omitempty"`
	Val  []any    `json:"val,omitempty"`

	// Scan response fields.
	CID   string `json:"cid,omitempty"`
	Name  string `json:"name,omitempty"`
	Brand string `json:"brand,omitempty"`
	Model string `json:"model,omitempty"`
	Ver   string `json:"ver,omitempty"`
}

// Packet is an inbound envelope. Pack holds either the raw encrypted string
// or, once decrypted, the pack object.
type Packet struct {
	CID  string          `json:"cid,omitempty"`
	I    int             `json:"i,omitempty"`
	T    string          `json:"t,omitempty"`
	UID  int             `json:"uid,omitempty"`
	TCID string          `json:"tcid,omitempty"`
	Pack json.RawMessage `json:"pack,omitempty"`
	Tag  string          `json:"tag,omitempty"`
}

// Decode parses a datagram into a Packet.
func Decode(data []byte) (*Packet, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty datagram", ErrParse)
	}
	var p Packet
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	return &p, nil
}

// EncryptedPack returns the pack as ciphertext when it has not been
// decrypted yet.
func (p *Packet) EncryptedPack() (string, bool) {
	raw := bytes.TrimSpace(p.Pack)
	if len(raw) == 0 || raw[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return "", false
	}
	return s, true
}

// Response is the result of extracting a decrypted packet.
type Response struct {
	Type ResponseType
	// Key is the session key of a bindok response.
	Key string
	// Values holds the zipped cols/dat or opt/val arrays.
	Values map[string]any
	// Device is set for scan responses.
	Device *DeviceInfo
	Addr   net.Addr
}

// Extract selects the extraction strategy from the pack type. Packets
// without a decrypted pack or with an unrecognised type return
// ErrUnknownResponse; recognised types with a broken shape return ErrParse.
func Extract(p *Packet, addr net.Addr) (*Response, error) {
	raw := bytes.TrimSpace(p.Pack)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, fmt.Errorf("%w: no decrypted pack", ErrUnknownResponse)
	}
	var pack Pack
	if err := json.Unmarshal(raw, &pack); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}

	resp := &Response{Type: ResponseType(pack.T), Addr: addr}
	switch resp.Type {
	case ResponseBindOK:
		if pack.Key == "" {
			return nil, fmt.Errorf("%w: bindok without key", ErrParse)
		}
		resp.Key = pack.Key
	case ResponseData:
		values, err := zip(pack.Cols, pack.Dat)
		if err != nil {
			return nil, err
		}
		resp.Values = values
	case ResponseResult:
		values, err := zip(pack.Opt, pack.Val)
		if err != nil {
			return nil, err
		}
		resp.Values = values
	case ResponseDevice:
		info, err := deviceInfoFromPack(&pack, addr)
		if err != nil {
			return nil, err
		}
		resp.Device = info
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownResponse, pack.T)
	}
	return resp, nil
}

func zip(keys []string, values []any) (map[string]any, error) {
	if keys == nil || values == nil {
		return nil, fmt.Errorf("%w: missing keys or values", ErrParse)
	}
	if len(keys) != len(values) {
		return nil, fmt.Errorf("%w: %d keys for %d values", ErrParse, len(keys), len(values))
	}
	m := make(map[string]any, len(keys))
	for i, k := range keys {
		m[k] = normalizeValue(values[i])
	}
	return m, nil
}

// normalizeValue turns integral JSON numbers into int.
func normalizeValue(v any) any {
	f, ok := v.(float64)
	if !ok {
		return v
	}
	if f == math.Trunc(f) && f >= math.MinInt32 && f <= math.MaxInt32 {
		return int(f)
	}
	return f
}

func newMessage(cmd Command, mac string, pack *Pack) *Message {
	m := &Message{
		CID:  ClientID,
		T:    string(cmd),
		TCID: mac,
	}
	if cmd == CommandBind || cmd == CommandScan {
		m.I = 1
	}
	if pack != nil {
		pack.T = string(cmd)
		pack.MAC = mac
		m.T = string(CommandPack)
		m.Pack = pack
	}
	return m
}

// NewBindMessage builds the key exchange request for a device.
func NewBindMessage(info *DeviceInfo) *Message {
	uid := 0
	return newMessage(CommandBind, info.MAC, &Pack{UID: &uid})
}

// NewStatusMessage requests the given property keys.
func NewStatusMessage(info *DeviceInfo, keys ...string) *Message {
	return newMessage(CommandStatus, info.MAC, &Pack{Cols: keys})
}

// NewCommandMessage sets properties. opt and p are sent as parallel arrays
// in the given order.
func NewCommandMessage(info *DeviceInfo, opt []string, p []any) *Message {
	return newMessage(CommandCmd, info.MAC, &Pack{Opt: opt, P: p})
}

// NewScanMessage builds the discovery broadcast. It carries no pack.
func NewScanMessage() *Message {
	return newMessage(CommandScan, "", nil)
}
