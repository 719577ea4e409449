package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// MessageType identifies the payload carried by a frame.
type MessageType uint8

// Message type constants (Client → Server)
const (
	TypeHello                       MessageType = 0x01
	TypeBeginAuthenticationResponse MessageType = 0x02
	TypeGoodbye                     MessageType = 0x03
	TypeRequestControl              MessageType = 0x04
	TypeCancelControlRequest        MessageType = 0x05
	TypeGiveControl                 MessageType = 0x06
)

// Message type constants (Server → Client)
const (
	TypeHelloResponse              MessageType = 0x81
	TypeBeginAuthenticationRequest MessageType = 0x82
	TypeEndAuthentication          MessageType = 0x83
)

// Message type constants (either direction)
const (
	TypeError MessageType = 0x91

	// TypeInvalid is never sent. It marks a received frame whose type is unknown
	// or whose payload could not be decoded.
	TypeInvalid MessageType = 0x00
)

var messageTypeNames = map[MessageType]string{
	TypeHello:                       "HELLO",
	TypeBeginAuthenticationResponse: "BEGIN_AUTHENTICATION_RESPONSE",
	TypeGoodbye:                     "GOODBYE",
	TypeRequestControl:              "REQUEST_CONTROL",
	TypeCancelControlRequest:        "CANCEL_CONTROL_REQUEST",
	TypeGiveControl:                 "GIVE_CONTROL",
	TypeHelloResponse:               "HELLO_RESPONSE",
	TypeBeginAuthenticationRequest:  "BEGIN_AUTHENTICATION_REQUEST",
	TypeEndAuthentication:           "END_AUTHENTICATION",
	TypeError:                       "ERROR",
	TypeInvalid:                     "INVALID",
}

func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

// MessageID identifies a message within one connection.
type MessageID uint64

// NoCorrelation is the correlation id of an unsolicited message.
const NoCorrelation MessageID = 0

var ErrUnknownMessageType = errors.New("unknown message type")

// Body is the type-specific payload of a Message.
type Body interface {
	Type() MessageType
	EncodeTo(w io.Writer) error
	Decode(payload []byte) error
}

// Message is the logical unit exchanged over a connection. Messages are not
// modified after construction.
type Message struct {
	ID            MessageID
	CorrelationID MessageID
	Body          Body
}

// NewMessage builds an unsolicited message.
func NewMessage(id MessageID, body Body) *Message {
	return &Message{ID: id, CorrelationID: NoCorrelation, Body: body}
}

// NewReply builds a message that answers request.
func NewReply(id MessageID, request *Message, body Body) *Message {
	return &Message{ID: id, CorrelationID: request.ID, Body: body}
}

// Type returns the type of the message body.
func (m *Message) Type() MessageType {
	if m.Body == nil {
		return TypeInvalid
	}
	return m.Body.Type()
}

// IsReplyTo reports whether m answers request.
func (m *Message) IsReplyTo(request *Message) bool {
	return m.CorrelationID != NoCorrelation && m.CorrelationID == request.ID
}

func (m *Message) String() string {
	return fmt.Sprintf("%s(id=%d, correlation=%d)", m.Type(), m.ID, m.CorrelationID)
}

// ToFrame encodes the message into a frame.
func (m *Message) ToFrame() (*Frame, error) {
	if m.Body == nil || m.Type() == TypeInvalid {
		return nil, fmt.Errorf("cannot encode %s", m)
	}

	buf := new(bytes.Buffer)
	if err := m.Body.EncodeTo(buf); err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", m.Type(), err)
	}

	return &Frame{
		Version:       FrameVersion,
		Type:          uint8(m.Type()),
		ID:            uint64(m.ID),
		CorrelationID: uint64(m.CorrelationID),
		Payload:       buf.Bytes(),
	}, nil
}

// FromFrame decodes a frame into a message. A frame of unknown type or with a
// malformed payload still yields a message, carrying an InvalidMessage body,
// together with the decode error.
func FromFrame(f *Frame) (*Message, error) {
	msg := &Message{
		ID:            MessageID(f.ID),
		CorrelationID: MessageID(f.CorrelationID),
	}

	body := newBody(MessageType(f.Type))
	if body == nil {
		msg.Body = &InvalidMessage{RawType: f.Type, Err: ErrUnknownMessageType}
		return msg, ErrUnknownMessageType
	}

	if err := body.Decode(f.Payload); err != nil {
		msg.Body = &InvalidMessage{RawType: f.Type, Err: err}
		return msg, fmt.Errorf("failed to decode %s: %w", MessageType(f.Type), err)
	}

	msg.Body = body
	return msg, nil
}

func newBody(t MessageType) Body {
	switch t {
	case TypeHello:
		return &HelloMessage{}
	case TypeHelloResponse:
		return &HelloResponseMessage{}
	case TypeBeginAuthenticationRequest:
		return &BeginAuthenticationRequestMessage{}
	case TypeBeginAuthenticationResponse:
		return &BeginAuthenticationResponseMessage{}
	case TypeEndAuthentication:
		return &EndAuthenticationMessage{}
	case TypeError:
		return &ErrorMessage{}
	case TypeGoodbye:
		return &GoodbyeMessage{}
	case TypeRequestControl:
		return &RequestControlMessage{}
	case TypeCancelControlRequest:
		return &CancelControlRequestMessage{}
	case TypeGiveControl:
		return &GiveControlMessage{}
	default:
		return nil
	}
}

// expectEOF fails if a payload has bytes left after decoding.
func expectEOF(r *bytes.Reader) error {
	if r.Len() != 0 {
		return fmt.Errorf("%d trailing bytes", r.Len())
	}
	return nil
}

// HelloMessage (0x01) - Open the handshake
type HelloMessage struct {
	SupportedVersion ProtocolVersion
}

func (m *HelloMessage) Type() MessageType { return TypeHello }

func (m *HelloMessage) EncodeTo(w io.Writer) error {
	return WriteUint32(w, uint32(m.SupportedVersion))
}

func (m *HelloMessage) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	version, err := ReadUint32(buf)
	if err != nil {
		return err
	}
	m.SupportedVersion = ProtocolVersion(version)
	return expectEOF(buf)
}

// HelloResponseMessage (0x81) - Negotiated protocol version
type HelloResponseMessage struct {
	ChosenVersion ProtocolVersion
}

func (m *HelloResponseMessage) Type() MessageType { return TypeHelloResponse }

func (m *HelloResponseMessage) EncodeTo(w io.Writer) error {
	return WriteUint32(w, uint32(m.ChosenVersion))
}

func (m *HelloResponseMessage) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	version, err := ReadUint32(buf)
	if err != nil {
		return err
	}
	m.ChosenVersion = ProtocolVersion(version)
	return expectEOF(buf)
}

// BeginAuthenticationRequestMessage (0x82) - Challenge material for the client
type BeginAuthenticationRequestMessage struct {
	Challenge []byte
	Salt      []byte
}

func (m *BeginAuthenticationRequestMessage) Type() MessageType {
	return TypeBeginAuthenticationRequest
}

func (m *BeginAuthenticationRequestMessage) EncodeTo(w io.Writer) error {
	if err := WriteBytes(w, m.Challenge); err != nil {
		return err
	}
	return WriteBytes(w, m.Salt)
}

func (m *BeginAuthenticationRequestMessage) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	challenge, err := ReadBytes(buf)
	if err != nil {
		return err
	}
	salt, err := ReadBytes(buf)
	if err != nil {
		return err
	}

	m.Challenge = challenge
	m.Salt = salt
	return expectEOF(buf)
}

// BeginAuthenticationResponseMessage (0x02) - Player name and challenge response
type BeginAuthenticationResponseMessage struct {
	PlayerName string
	Response   []byte
}

func (m *BeginAuthenticationResponseMessage) Type() MessageType {
	return TypeBeginAuthenticationResponse
}

func (m *BeginAuthenticationResponseMessage) EncodeTo(w io.Writer) error {
	if err := WriteString(w, m.PlayerName); err != nil {
		return err
	}
	return WriteBytes(w, m.Response)
}

func (m *BeginAuthenticationResponseMessage) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	name, err := ReadString(buf)
	if err != nil {
		return err
	}
	response, err := ReadBytes(buf)
	if err != nil {
		return err
	}

	m.PlayerName = name
	m.Response = response
	return expectEOF(buf)
}

// EndAuthenticationMessage (0x83) - Authentication succeeded; carries only its correlation
type EndAuthenticationMessage struct{}

func (m *EndAuthenticationMessage) Type() MessageType        { return TypeEndAuthentication }
func (m *EndAuthenticationMessage) EncodeTo(io.Writer) error { return nil }
func (m *EndAuthenticationMessage) Decode(payload []byte) error {
	return expectEOF(bytes.NewReader(payload))
}

// ErrorMessage (0x91) - Fatal condition detected by the sender
type ErrorMessage struct {
	Code TableNetworkError
}

func (m *ErrorMessage) Type() MessageType { return TypeError }

func (m *ErrorMessage) EncodeTo(w io.Writer) error {
	return WriteUint8(w, uint8(m.Code))
}

func (m *ErrorMessage) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	code, err := ReadUint8(buf)
	if err != nil {
		return err
	}
	if !TableNetworkError(code).Valid() {
		return fmt.Errorf("invalid error code %d", code)
	}
	m.Code = TableNetworkError(code)
	return expectEOF(buf)
}

// GoodbyeMessage (0x03) - Voluntary disconnect
type GoodbyeMessage struct{}

func (m *GoodbyeMessage) Type() MessageType        { return TypeGoodbye }
func (m *GoodbyeMessage) EncodeTo(io.Writer) error { return nil }
func (m *GoodbyeMessage) Decode(payload []byte) error {
	return expectEOF(bytes.NewReader(payload))
}

// RequestControlMessage (0x04) - Ask for the control token
type RequestControlMessage struct{}

func (m *RequestControlMessage) Type() MessageType        { return TypeRequestControl }
func (m *RequestControlMessage) EncodeTo(io.Writer) error { return nil }
func (m *RequestControlMessage) Decode(payload []byte) error {
	return expectEOF(bytes.NewReader(payload))
}

// CancelControlRequestMessage (0x05) - Withdraw a pending control request
type CancelControlRequestMessage struct{}

func (m *CancelControlRequestMessage) Type() MessageType        { return TypeCancelControlRequest }
func (m *CancelControlRequestMessage) EncodeTo(io.Writer) error { return nil }
func (m *CancelControlRequestMessage) Decode(payload []byte) error {
	return expectEOF(bytes.NewReader(payload))
}

// GiveControlMessage (0x06) - Hand the control token to another player
type GiveControlMessage struct {
	TargetPlayerName string
}

func (m *GiveControlMessage) Type() MessageType { return TypeGiveControl }

func (m *GiveControlMessage) EncodeTo(w io.Writer) error {
	return WriteString(w, m.TargetPlayerName)
}

func (m *GiveControlMessage) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	target, err := ReadString(buf)
	if err != nil {
		return err
	}
	m.TargetPlayerName = target
	return expectEOF(buf)
}

// InvalidMessage stands in for a received frame that could not be decoded.
type InvalidMessage struct {
	RawType uint8
	Err     error
}

func (m *InvalidMessage) Type() MessageType { return TypeInvalid }

func (m *InvalidMessage) EncodeTo(io.Writer) error {
	return errors.New("invalid message cannot be encoded")
}

func (m *InvalidMessage) Decode([]byte) error {
	return errors.New("invalid message cannot be decoded")
}
