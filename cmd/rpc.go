package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/voxd/pkg/protocol"
)

// Client-side frame shapes. Payloads stay raw so each command decodes
// only what it needs.
type rpcResponse struct {
	Type    string               `json:"type"`
	ID      string               `json:"id"`
	OK      bool                 `json:"ok"`
	Payload json.RawMessage      `json:"payload"`
	Error   *protocol.ErrorShape `json:"error"`
}

type rpcEvent struct {
	Type    string          `json:"type"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Seq     int64           `json:"seq"`
}

type gatewayClient struct {
	conn *websocket.Conn
}

// dialGateway connects to the daemon and performs the connect handshake.
func dialGateway(addr, token string) (*gatewayClient, error) {
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	if err != nil {
		return nil, fmt.Errorf("daemon not reachable at %s (is it running? start with: voxd serve): %w", addr, err)
	}
	c := &gatewayClient{conn: conn}

	if _, err := c.call(protocol.MethodConnect, map[string]interface{}{
		"token":    token,
		"protocol": protocol.ProtocolVersion,
	}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("connect: %w", err)
	}
	return c, nil
}

func (c *gatewayClient) Close() { c.conn.Close() }

// call sends one request and waits for its response, skipping any event
// frames that arrive in between.
func (c *gatewayClient) call(method string, params interface{}) (json.RawMessage, error) {
	id := uuid.NewString()
	frame := map[string]interface{}{
		"type":   protocol.FrameTypeRequest,
		"id":     id,
		"method": method,
	}
	if params != nil {
		frame["params"] = params
	}
	if err := c.conn.WriteJSON(frame); err != nil {
		return nil, err
	}

	c.conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	for {
		resp, _, err := c.next()
		if err != nil {
			return nil, err
		}
		if resp == nil || resp.ID != id {
			continue
		}
		if !resp.OK {
			return nil, fmt.Errorf("%s: %s", resp.Error.Code, resp.Error.Message)
		}
		return resp.Payload, nil
	}
}

// next reads one frame, returning either a response or an event.
func (c *gatewayClient) next() (*rpcResponse, *rpcEvent, error) {
	var raw json.RawMessage
	if err := c.conn.ReadJSON(&raw); err != nil {
		return nil, nil, err
	}
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, nil, err
	}
	switch head.Type {
	case protocol.FrameTypeResponse:
		var resp rpcResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, nil, err
		}
		return &resp, nil, nil
	case protocol.FrameTypeEvent:
		var ev rpcEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, nil, err
		}
		return nil, &ev, nil
	}
	return nil, nil, nil
}
