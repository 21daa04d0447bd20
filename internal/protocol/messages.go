package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/chronologos/terminus/internal/buffer"
)

var (
	ErrShortFrame     = errors.New("frame too short for message type")
	ErrTagMismatch    = errors.New("frame tag does not match message type")
	ErrUnknownTag     = errors.New("unknown message tag")
	ErrInvalidRole    = errors.New("invalid connection role")
	ErrInvalidCode    = errors.New("invalid response code")
	ErrEmptyClientID  = errors.New("client identifier is empty")
	ErrBadMetadata    = errors.New("response metadata is not a JSON object")
	ErrFieldTooLarge  = errors.New("field exceeds its length prefix")
	ErrNestingTooDeep = errors.New("encrypted envelope nested too deeply")
	ErrDecrypt        = errors.New("decrypt envelope")
)

// Message is one of the five frame variants. The set is closed: only types
// in this package implement it.
type Message interface {
	Tag() Tag
	appendPayload(b *buffer.Builder) error
}

// --- Message types ---

// ConnectOptions describe how a connection wants to be registered.
type ConnectOptions struct {
	role              Role
	ClientID          string
	KeepAlive         bool
	KeepAliveInterval uint16 // seconds
}

// NewConnectOptions validates role and clientID. A zero keepAliveInterval
// with keepAlive set selects DefaultKeepAliveInterval.
func NewConnectOptions(role Role, clientID string, keepAlive bool, keepAliveInterval uint16) (ConnectOptions, error) {
	if !role.Valid() {
		return ConnectOptions{}, fmt.Errorf("%w: %#x", ErrInvalidRole, uint32(role))
	}
	if clientID == "" {
		return ConnectOptions{}, ErrEmptyClientID
	}
	if keepAlive && keepAliveInterval == 0 {
		keepAliveInterval = DefaultKeepAliveInterval
	}
	return ConnectOptions{
		role:              role,
		ClientID:          clientID,
		KeepAlive:         keepAlive,
		KeepAliveInterval: keepAliveInterval,
	}, nil
}

// Role returns the registered role. It cannot change after construction.
func (o ConnectOptions) Role() Role { return o.role }

type Connect struct {
	ConnectOptions
}

type PutChar struct {
	Text []byte
}

type ResizeTerminal struct {
	Width  uint32
	Height uint32
}

// Response carries a status code and optional JSON object metadata. A nil
// Metadata map is encoded without the metadata block.
type Response struct {
	Code     ResponseCode
	Metadata map[string]any
}

type Encrypted struct {
	Ciphertext []byte
}

func (*Connect) Tag() Tag        { return TagConnect }
func (*PutChar) Tag() Tag        { return TagPutChar }
func (*ResizeTerminal) Tag() Tag { return TagResizeTerminal }
func (*Response) Tag() Tag       { return TagResponse }
func (*Encrypted) Tag() Tag      { return TagEncrypted }

// --- Encoding ---

// Encode serializes m into a frame: tag followed by the variant payload.
func Encode(m Message) ([]byte, error) {
	b := buffer.NewBuilder(64)
	b.AppendU32(uint32(m.Tag()))
	if err := m.appendPayload(b); err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Tag(), err)
	}
	return b.Bytes(), nil
}

func (m *Connect) appendPayload(b *buffer.Builder) error {
	if !m.role.Valid() {
		return ErrInvalidRole
	}
	if m.ClientID == "" {
		return ErrEmptyClientID
	}
	if len(m.ClientID) > MaxFrameSize {
		return ErrFieldTooLarge
	}
	b.AppendU32(uint32(m.role))
	b.AppendU32(uint32(len(m.ClientID)))
	b.AppendString(m.ClientID)
	var used uint8
	if m.KeepAlive {
		used = 1
	}
	b.AppendU8(used)
	b.AppendU16(m.KeepAliveInterval)
	return nil
}

func (m *PutChar) appendPayload(b *buffer.Builder) error {
	if len(m.Text) > MaxFrameSize-PutCharMinSize {
		return ErrFieldTooLarge
	}
	b.AppendU32(uint32(len(m.Text)))
	b.AppendBytes(m.Text)
	return nil
}

func (m *ResizeTerminal) appendPayload(b *buffer.Builder) error {
	b.AppendU32(m.Width)
	b.AppendU32(m.Height)
	return nil
}

func (m *Response) appendPayload(b *buffer.Builder) error {
	if !m.Code.Valid() {
		return fmt.Errorf("%w: %#x", ErrInvalidCode, uint32(m.Code))
	}
	b.AppendU32(uint32(m.Code))
	if m.Metadata == nil {
		return nil
	}
	meta, err := json.Marshal(m.Metadata)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadMetadata, err)
	}
	if len(meta) > 1<<16-1 {
		return ErrFieldTooLarge
	}
	b.AppendU16(uint16(len(meta)))
	b.AppendBytes(meta)
	return nil
}

func (m *Encrypted) appendPayload(b *buffer.Builder) error {
	if len(m.Ciphertext) > MaxCiphertextSize {
		return ErrFieldTooLarge
	}
	b.AppendU16(uint16(len(m.Ciphertext)))
	b.AppendBytes(m.Ciphertext)
	return nil
}

// --- Decoding ---

// Decode parses one plaintext frame. An Encrypted frame is returned
// unopened; use Parser.Parse to decrypt envelopes.
func Decode(frame []byte) (Message, error) {
	if len(frame) < tagSize {
		return nil, ErrShortFrame
	}
	r := buffer.NewReader(frame)
	tag := Tag(r.U32())
	switch tag {
	case TagConnect:
		return decodeConnect(r)
	case TagPutChar:
		return decodePutChar(r)
	case TagResizeTerminal:
		return decodeResizeTerminal(r)
	case TagResponse:
		return decodeResponse(r)
	case TagEncrypted:
		return decodeEncrypted(r)
	default:
		return nil, fmt.Errorf("%w: %#08x", ErrUnknownTag, uint32(tag))
	}
}

// DecodeAs decodes frame and checks that it is the variant identified by
// want.
func DecodeAs(want Tag, frame []byte) (Message, error) {
	if len(frame) < tagSize {
		return nil, ErrShortFrame
	}
	r := buffer.NewReader(frame[:tagSize])
	if got := Tag(r.U32()); got != want {
		return nil, fmt.Errorf("%w: want %s, got %#08x", ErrTagMismatch, want, uint32(got))
	}
	return Decode(frame)
}

func decodeConnect(r *buffer.Reader) (Message, error) {
	if r.Len() < ConnectMinSize {
		return nil, ErrShortFrame
	}
	role := Role(r.U32())
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %#x", ErrInvalidRole, uint32(role))
	}
	idLen := r.U32()
	if idLen == 0 {
		return nil, ErrEmptyClientID
	}
	if uint64(r.Remaining()) < uint64(idLen)+3 {
		return nil, ErrShortFrame
	}
	id := r.Bytes(int(idLen))
	used := r.U8()
	interval := r.U16()
	return &Connect{ConnectOptions{
		role:              role,
		ClientID:          string(id),
		KeepAlive:         used != 0,
		KeepAliveInterval: interval,
	}}, nil
}

func decodePutChar(r *buffer.Reader) (Message, error) {
	if r.Len() < PutCharMinSize {
		return nil, ErrShortFrame
	}
	n := r.U32()
	if uint64(r.Remaining()) < uint64(n) {
		return nil, ErrShortFrame
	}
	return &PutChar{Text: r.Bytes(int(n))}, nil
}

func decodeResizeTerminal(r *buffer.Reader) (Message, error) {
	if r.Len() < ResizeTerminalSize {
		return nil, ErrShortFrame
	}
	return &ResizeTerminal{Width: r.U32(), Height: r.U32()}, nil
}

func decodeResponse(r *buffer.Reader) (Message, error) {
	if r.Len() < ResponseMinSize {
		return nil, ErrShortFrame
	}
	resp := &Response{Code: ResponseCode(r.U32())}
	if !resp.Code.Valid() {
		return nil, fmt.Errorf("%w: %#x", ErrInvalidCode, uint32(resp.Code))
	}
	if r.Remaining() == 0 {
		return resp, nil
	}
	if r.Remaining() < 2 {
		return nil, ErrShortFrame
	}
	n := int(r.U16())
	meta := r.Bytes(n)
	if meta == nil {
		return nil, ErrShortFrame
	}
	if err := json.Unmarshal(meta, &resp.Metadata); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMetadata, err)
	}
	if resp.Metadata == nil {
		// "null" decodes without error but is not an object.
		return nil, ErrBadMetadata
	}
	return resp, nil
}

func decodeEncrypted(r *buffer.Reader) (Message, error) {
	if r.Len() < EncryptedMinSize {
		return nil, ErrShortFrame
	}
	n := int(r.U16())
	ct := r.Bytes(n)
	if ct == nil {
		return nil, ErrShortFrame
	}
	return &Encrypted{Ciphertext: ct}, nil
}
