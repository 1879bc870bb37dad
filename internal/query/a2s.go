// Package query implements the A2S_INFO UDP client used to observe
// live game server state.
package query

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"

	"mapwatch/internal/domain"
)

// A2S_INFO wire constants.
const (
	headerByte        = 0xFF
	infoRequestType   = 0x54
	infoResponseType  = 0x49
	challengeResponse = 0x41
)

const (
	defaultQueryTimeout  = 5 * time.Second
	maxChallengeAttempts = 3
	responseBufferSize   = 1400
)

var infoPayload = []byte("Source Engine Query\x00")

// A2SClient queries game servers over UDP with the A2S_INFO handshake.
// Params: default timeout applied when the context has no deadline.
// Returns: engine state provider backed by the Source query protocol.
type A2SClient struct {
	timeout time.Duration
	dialer  net.Dialer
}

// NewA2SClient creates the UDP query client.
// Params: per-query timeout; zero or negative selects the 5s default.
// Returns: initialized client.
func NewA2SClient(timeout time.Duration) *A2SClient {
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	return &A2SClient{timeout: timeout}
}

// Query performs one A2S_INFO exchange against one server.
// Params: context and host:port address.
// Returns: sanitized observation or transport/protocol error.
func (c *A2SClient) Query(ctx context.Context, address string) (domain.ServerObservation, error) {
	conn, err := c.dialer.DialContext(ctx, "udp", address)
	if err != nil {
		return domain.ServerObservation{}, fmt.Errorf("dial %s: %w", address, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return domain.ServerObservation{}, fmt.Errorf("set deadline: %w", err)
	}

	response, err := exchange(conn)
	if err != nil {
		return domain.ServerObservation{}, fmt.Errorf("query %s: %w", address, err)
	}

	observation, err := parseInfoResponse(response)
	if err != nil {
		return domain.ServerObservation{}, fmt.Errorf("parse %s response: %w", address, err)
	}
	observation.Address = address
	return observation.Sanitize(), nil
}

// exchange sends the info request and resolves challenge round-trips.
// Params: connected UDP socket with deadline applied.
// Returns: raw info response payload after the type byte.
func exchange(conn net.Conn) ([]byte, error) {
	request := buildInfoRequest(nil)
	buffer := make([]byte, responseBufferSize)

	for attempt := 0; attempt < maxChallengeAttempts; attempt++ {
		if _, err := conn.Write(request); err != nil {
			return nil, fmt.Errorf("send info request: %w", err)
		}
		n, err := conn.Read(buffer)
		if err != nil {
			return nil, fmt.Errorf("read info response: %w", err)
		}
		responseType, payload, err := splitResponse(buffer[:n])
		if err != nil {
			return nil, err
		}
		switch responseType {
		case infoResponseType:
			return payload, nil
		case challengeResponse:
			if len(payload) < 4 {
				return nil, errors.New("challenge response too short")
			}
			request = buildInfoRequest(payload[:4])
		default:
			return nil, fmt.Errorf("unexpected response type 0x%02X", responseType)
		}
	}
	return nil, errors.New("challenge retries exhausted")
}

// buildInfoRequest assembles the A2S_INFO request packet.
// Params: optional 4-byte challenge from a prior round-trip.
// Returns: full request datagram.
func buildInfoRequest(challenge []byte) []byte {
	request := make([]byte, 0, 5+len(infoPayload)+len(challenge))
	request = append(request, headerByte, headerByte, headerByte, headerByte, infoRequestType)
	request = append(request, infoPayload...)
	request = append(request, challenge...)
	return request
}

// splitResponse validates the packet header and extracts the payload.
// Params: raw response datagram.
// Returns: response type byte and payload after it.
func splitResponse(datagram []byte) (byte, []byte, error) {
	if len(datagram) < 5 {
		return 0, nil, errors.New("response too short")
	}
	for i := 0; i < 4; i++ {
		if datagram[i] != headerByte {
			return 0, nil, errors.New("malformed response header")
		}
	}
	return datagram[4], datagram[5:], nil
}

// parseInfoResponse decodes the A2S_INFO payload fields.
// Params: payload following the 0x49 type byte.
// Returns: unsanitized observation or decode error.
func parseInfoResponse(payload []byte) (domain.ServerObservation, error) {
	reader := bytes.NewReader(payload)

	// Protocol version byte precedes the string block.
	if _, err := reader.ReadByte(); err != nil {
		return domain.ServerObservation{}, fmt.Errorf("read protocol byte: %w", err)
	}

	name, err := readCString(reader)
	if err != nil {
		return domain.ServerObservation{}, fmt.Errorf("read server name: %w", err)
	}
	mapName, err := readCString(reader)
	if err != nil {
		return domain.ServerObservation{}, fmt.Errorf("read map name: %w", err)
	}
	if _, err := readCString(reader); err != nil {
		return domain.ServerObservation{}, fmt.Errorf("read game folder: %w", err)
	}
	game, err := readCString(reader)
	if err != nil {
		return domain.ServerObservation{}, fmt.Errorf("read game description: %w", err)
	}

	var appID uint16
	if err := binary.Read(reader, binary.LittleEndian, &appID); err != nil {
		return domain.ServerObservation{}, fmt.Errorf("read app id: %w", err)
	}
	players, err := reader.ReadByte()
	if err != nil {
		return domain.ServerObservation{}, fmt.Errorf("read player count: %w", err)
	}
	maxPlayers, err := reader.ReadByte()
	if err != nil {
		return domain.ServerObservation{}, fmt.Errorf("read max players: %w", err)
	}
	bots, err := reader.ReadByte()
	if err != nil {
		return domain.ServerObservation{}, fmt.Errorf("read bot count: %w", err)
	}

	return domain.ServerObservation{
		Online:     true,
		Name:       name,
		Map:        mapName,
		Game:       game,
		Players:    int(players),
		MaxPlayers: int(maxPlayers),
		Bots:       int(bots),
	}, nil
}

// readCString consumes one NUL-terminated string.
// Params: payload reader.
// Returns: string without the terminator or read error.
func readCString(reader *bytes.Reader) (string, error) {
	var builder bytes.Buffer
	for {
		b, err := reader.ReadByte()
		if err != nil {
			return "", err
		}
		if b == 0 {
			return builder.String(), nil
		}
		builder.WriteByte(b)
	}
}
