// Package mavlink connects to an ArduCopter flight controller (or SITL) over
// MAVLink and exposes it as a vehicle.Vehicle.
package mavlink

import (
	"context"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"github.com/waypointer/guided-mission/internal/vehicle"
	"github.com/waypointer/guided-mission/types"
)

// DefaultSystemID is the MAVLink system id used by ground stations.
const DefaultSystemID = 255

// ArduCopter custom_mode numbers.
var copterModes = map[types.FlightMode]uint32{
	types.ModeStabilize: 0,
	types.ModeAltHold:   2,
	types.ModeAuto:      3,
	types.ModeGuided:    4,
	types.ModeLoiter:    5,
	types.ModeRTL:       6,
	types.ModeLand:      9,
}

// CustomMode returns the ArduCopter custom_mode for m.
func CustomMode(m types.FlightMode) (uint32, bool) {
	n, ok := copterModes[m]
	return n, ok
}

// ModeName maps an ArduCopter custom_mode back to a FlightMode.
func ModeName(custom uint32) types.FlightMode {
	for m, n := range copterModes {
		if n == custom {
			return m
		}
	}
	return types.ModeUnknown
}

// Config selects the link to the autopilot.
type Config struct {
	// Endpoint is one of tcp:host:port, udp:host:port, udpserver:addr or
	// serial:device[:baud].
	Endpoint string
	SystemID byte
}

// ParseEndpoint turns an endpoint string into a gomavlib endpoint.
func ParseEndpoint(s string) (gomavlib.EndpointConf, error) {
	kind, addr, ok := strings.Cut(s, ":")
	if !ok || addr == "" {
		return nil, fmt.Errorf("invalid endpoint %q", s)
	}
	switch kind {
	case "tcp":
		return gomavlib.EndpointTCPClient{Address: addr}, nil
	case "udp":
		return gomavlib.EndpointUDPClient{Address: addr}, nil
	case "udpserver":
		return gomavlib.EndpointUDPServer{Address: addr}, nil
	case "serial":
		dev, baud := addr, 57600
		if i := strings.LastIndex(addr, ":"); i > 0 {
			b, err := strconv.Atoi(addr[i+1:])
			if err != nil {
				return nil, fmt.Errorf("invalid baud rate in %q", s)
			}
			dev, baud = addr[:i], b
		}
		return gomavlib.EndpointSerial{Device: dev, Baud: baud}, nil
	default:
		return nil, fmt.Errorf("unsupported endpoint type %q", kind)
	}
}

// Client is a MAVLink link to one autopilot. Telemetry is served from the
// latest messages seen; requests are sent without waiting for an ACK.
type Client struct {
	node *gomavlib.Node

	mu        sync.RWMutex
	tel       types.Telemetry
	sysID     uint8
	compID    uint8
	heartbeat bool
	status    common.MAV_STATE
	fix       common.GPS_FIX_TYPE
	// linkDown is set while the transport is disconnected. gomavlib
	// reconnects client endpoints by itself and clears it on reopen.
	linkDown bool
	closed   bool

	ready chan struct{}
	once  sync.Once
	done  chan struct{}
}

var _ vehicle.Vehicle = (*Client)(nil)

// Connect opens the link and waits for the first autopilot heartbeat.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	ep, err := ParseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	if cfg.SystemID == 0 {
		cfg.SystemID = DefaultSystemID
	}
	node, err := gomavlib.NewNode(gomavlib.NodeConf{
		Endpoints:           []gomavlib.EndpointConf{ep},
		Dialect:             common.Dialect,
		OutVersion:          gomavlib.V2,
		OutSystemID:         cfg.SystemID,
		StreamRequestEnable: true,
	})
	if err != nil {
		return nil, err
	}

	c := newClient()
	c.node = node
	go c.run()

	log.Printf("[mavlink] connecting to %s", cfg.Endpoint)
	select {
	case <-c.ready:
		log.Printf("[mavlink] heartbeat from system %d", c.sysID)
		return c, nil
	case <-c.done:
		node.Close()
		return nil, vehicle.ErrConnection
	case <-ctx.Done():
		node.Close()
		return nil, ctx.Err()
	}
}

func newClient() *Client {
	return &Client{
		tel:   types.Telemetry{Mode: types.ModeUnknown},
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
}

func (c *Client) run() {
	defer close(c.done)
	for evt := range c.node.Events() {
		c.handleEvent(evt)
	}
}

func (c *Client) handleEvent(evt gomavlib.Event) {
	switch e := evt.(type) {
	case *gomavlib.EventFrame:
		c.handle(e.SystemID(), e.ComponentID(), e.Message())
	case *gomavlib.EventChannelOpen:
		log.Printf("[mavlink] channel open: %v", e.Channel)
		c.setLinkDown(false)
	case *gomavlib.EventChannelClose:
		log.Printf("[mavlink] channel closed: %v, waiting for reconnect", e.Channel)
		c.setLinkDown(true)
	}
}

func (c *Client) setLinkDown(down bool) {
	c.mu.Lock()
	c.linkDown = down
	c.mu.Unlock()
}

// handle folds one incoming message into the snapshot.
func (c *Client) handle(sysID, compID uint8, msg message.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if hb, ok := msg.(*common.MessageHeartbeat); ok && !c.heartbeat {
		if hb.Autopilot == common.MAV_AUTOPILOT_INVALID {
			return
		}
		c.heartbeat = true
		c.sysID, c.compID = sysID, compID
		c.once.Do(func() { close(c.ready) })
	}
	if !c.heartbeat || sysID != c.sysID {
		return
	}

	switch m := msg.(type) {
	case *common.MessageHeartbeat:
		if compID != c.compID {
			return
		}
		c.tel.Mode = ModeName(m.CustomMode)
		c.tel.Armed = m.BaseMode&common.MAV_MODE_FLAG_SAFETY_ARMED != 0
		c.status = m.SystemStatus
	case *common.MessageGlobalPositionInt:
		c.tel.Position = types.GlobalPosition{
			Lat: float64(m.Lat) / 1e7,
			Lon: float64(m.Lon) / 1e7,
			Alt: float64(m.RelativeAlt) / 1000,
		}
	case *common.MessageGpsRawInt:
		c.fix = m.FixType
	}
	c.tel.Armable = armable(c.heartbeat, c.status, c.fix)
}

// armable mirrors the usual pre-arm gate: autopilot booted and a 3D fix.
func armable(heartbeat bool, status common.MAV_STATE, fix common.GPS_FIX_TYPE) bool {
	if !heartbeat || fix < common.GPS_FIX_TYPE_3D_FIX {
		return false
	}
	return status == common.MAV_STATE_STANDBY || status == common.MAV_STATE_ACTIVE
}

func (c *Client) Telemetry(ctx context.Context) (types.Telemetry, error) {
	if err := ctx.Err(); err != nil {
		return types.Telemetry{}, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed || c.linkDown {
		return types.Telemetry{}, vehicle.ErrConnection
	}
	return c.tel, nil
}

func (c *Client) RequestMode(ctx context.Context, mode types.FlightMode) error {
	custom, ok := CustomMode(mode)
	if !ok {
		return fmt.Errorf("mavlink: no custom mode for %s", mode)
	}
	return c.send(ctx, func(sys, _ uint8) message.Message {
		return &common.MessageSetMode{
			TargetSystem: sys,
			BaseMode:     common.MAV_MODE(common.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED),
			CustomMode:   custom,
		}
	})
}

func (c *Client) RequestArm(ctx context.Context, arm bool) error {
	var p1 float32
	if arm {
		p1 = 1
	}
	return c.send(ctx, func(sys, comp uint8) message.Message {
		return &common.MessageCommandLong{
			TargetSystem:    sys,
			TargetComponent: comp,
			Command:         common.MAV_CMD_COMPONENT_ARM_DISARM,
			Param1:          p1,
		}
	})
}

func (c *Client) RequestTakeoff(ctx context.Context, altitude float64) error {
	return c.send(ctx, func(sys, comp uint8) message.Message {
		return &common.MessageCommandLong{
			TargetSystem:    sys,
			TargetComponent: comp,
			Command:         common.MAV_CMD_NAV_TAKEOFF,
			Param7:          float32(altitude),
		}
	})
}

// positionOnly ignores velocity, acceleration and yaw fields.
const positionOnly = common.POSITION_TARGET_TYPEMASK(0x0FF8)

func (c *Client) RequestGoto(ctx context.Context, target types.GlobalPosition) error {
	return c.send(ctx, func(sys, comp uint8) message.Message {
		return gotoMessage(sys, comp, target)
	})
}

func gotoMessage(sys, comp uint8, target types.GlobalPosition) *common.MessageSetPositionTargetGlobalInt {
	return &common.MessageSetPositionTargetGlobalInt{
		TargetSystem:    sys,
		TargetComponent: comp,
		CoordinateFrame: common.MAV_FRAME_GLOBAL_RELATIVE_ALT_INT,
		TypeMask:        positionOnly,
		LatInt:          int32(math.Round(target.Lat * 1e7)),
		LonInt:          int32(math.Round(target.Lon * 1e7)),
		Alt:             float32(target.Alt),
	}
}

func (c *Client) send(ctx context.Context, build func(sys, comp uint8) message.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.RLock()
	closed, sys, comp := c.closed || c.linkDown, c.sysID, c.compID
	c.mu.RUnlock()
	if closed {
		return vehicle.ErrConnection
	}
	c.node.WriteMessageAll(build(sys, comp))
	return nil
}

// Close shuts the link down for good; a later reconnect does not reopen it.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	if c.node != nil {
		c.node.Close()
	}
	return nil
}
