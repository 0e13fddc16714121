package p4switch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	p4config "github.com/p4lang/p4runtime/go/p4/config/v1"
	p4v1 "github.com/p4lang/p4runtime/go/p4/v1"
	"github.com/rs/zerolog"
	"github.com/tagmesh/tagmesh/pkg/log"
	"github.com/tagmesh/tagmesh/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/prototext"
)

var (
	// ErrNotConnected is returned for entry operations on a switch whose
	// control channel is not Ready.
	ErrNotConnected = errors.New("switch not connected")

	// ErrBackoff is returned by Connect while a failed switch is inside
	// its retry backoff window.
	ErrBackoff = errors.New("connection attempt backed off")
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// Device is the per-switch control surface the reconciler drives. *Conn is
// the production implementation; tests substitute fakes.
type Device interface {
	Name() string
	State() types.ConnState
	Connect(ctx context.Context) error
	Disconnect()
	WriteEntry(ctx context.Context, op types.EntryOp, e types.CanonicalEntry) error
	ReadCounter(ctx context.Context, e types.CanonicalEntry) (types.CounterSample, error)
}

// PipelineConfig optionally installs the forwarding pipeline during connect,
// the way the bring-up tooling would. Installation errors on an
// already-programmed switch are tolerated.
type PipelineConfig struct {
	P4InfoPath       string
	DeviceConfigPath string
}

// Config configures a switch connection
type Config struct {
	Switch   *types.Switch
	Profile  *Profile
	Pipeline *PipelineConfig
	// ElectionID for master arbitration. Zero value defaults to {0,1}.
	ElectionID *p4v1.Uint128
}

// Conn owns the control-channel lifecycle for one switch: gRPC channel,
// stream channel, master arbitration, optional pipeline install, teardown.
// All state transitions happen here and nowhere else.
type Conn struct {
	sw         *types.Switch
	profile    *Profile
	pipeline   *PipelineConfig
	electionID *p4v1.Uint128
	logger     zerolog.Logger

	mu           sync.Mutex
	state        types.ConnState
	cc           *grpc.ClientConn
	client       p4v1.P4RuntimeClient
	stream       p4v1.P4Runtime_StreamChannelClient
	streamCancel context.CancelFunc
	failures     int
	nextAttempt  time.Time
}

// NewConn creates a connection manager for one switch. No I/O happens until
// Connect.
func NewConn(cfg Config) *Conn {
	election := cfg.ElectionID
	if election == nil {
		election = &p4v1.Uint128{Low: 1}
	}
	return &Conn{
		sw:         cfg.Switch,
		profile:    cfg.Profile,
		pipeline:   cfg.Pipeline,
		electionID: election,
		logger:     log.WithSwitch(cfg.Switch.Name),
		state:      types.ConnStateDisconnected,
	}
}

// Name returns the switch name
func (c *Conn) Name() string { return c.sw.Name }

// State returns the current connection state
func (c *Conn) State() types.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect establishes the control channel: dial, stream setup, master
// arbitration, optional pipeline install. Calling it while Ready is a no-op.
// A switch in backoff returns ErrBackoff without touching the network.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == types.ConnStateReady {
		return nil
	}
	if now := time.Now(); now.Before(c.nextAttempt) {
		return fmt.Errorf("%w until %s", ErrBackoff, c.nextAttempt.Format(time.RFC3339))
	}

	c.state = types.ConnStateConnecting
	if err := c.connectLocked(ctx); err != nil {
		c.teardownLocked()
		c.state = types.ConnStateFailed
		c.failures++
		c.nextAttempt = time.Now().Add(backoff(c.failures))
		return err
	}

	c.state = types.ConnStateReady
	c.failures = 0
	c.nextAttempt = time.Time{}
	c.logger.Info().Str("endpoint", c.sw.Endpoint).Uint64("device_id", c.sw.DeviceID).Msg("switch connected")
	return nil
}

func (c *Conn) connectLocked(ctx context.Context) error {
	cc, err := grpc.NewClient(c.sw.Endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", c.sw.Endpoint, err)
	}
	c.cc = cc
	c.client = p4v1.NewP4RuntimeClient(cc)

	// The stream outlives Connect: arbitration stays open for the life of
	// the session, so it gets its own cancelable context.
	streamCtx, cancel := context.WithCancel(context.Background())
	c.streamCancel = cancel

	stream, err := c.client.StreamChannel(streamCtx)
	if err != nil {
		return fmt.Errorf("failed to open stream channel: %w", err)
	}
	c.stream = stream

	if err := c.arbitrate(ctx); err != nil {
		return fmt.Errorf("master arbitration failed: %w", err)
	}

	if c.pipeline != nil {
		if err := c.installPipeline(ctx); err != nil {
			// Same tolerance as the bring-up tooling: the pipeline is
			// usually already installed on reconnect.
			c.logger.Warn().Err(err).Msg("pipeline install failed, continuing")
		}
	}
	return nil
}

// arbitrate performs the mastership handshake and waits for the switch to
// acknowledge this controller as primary.
func (c *Conn) arbitrate(ctx context.Context) error {
	req := &p4v1.StreamMessageRequest{
		Update: &p4v1.StreamMessageRequest_Arbitration{
			Arbitration: &p4v1.MasterArbitrationUpdate{
				DeviceId:   c.sw.DeviceID,
				ElectionId: c.electionID,
			},
		},
	}
	if err := c.stream.Send(req); err != nil {
		return err
	}

	type recvResult struct {
		resp *p4v1.StreamMessageResponse
		err  error
	}
	ch := make(chan recvResult, 1)
	go func() {
		resp, err := c.stream.Recv()
		ch <- recvResult{resp, err}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return r.err
		}
		arb := r.resp.GetArbitration()
		if arb == nil {
			return fmt.Errorf("unexpected stream message %T during arbitration", r.resp.GetUpdate())
		}
		if arb.Status.GetCode() != int32(codes.OK) {
			return fmt.Errorf("not primary controller for device %d: %s", c.sw.DeviceID, arb.Status.GetMessage())
		}
		return nil
	}
}

func (c *Conn) installPipeline(ctx context.Context) error {
	infoData, err := os.ReadFile(c.pipeline.P4InfoPath)
	if err != nil {
		return fmt.Errorf("failed to read p4info: %w", err)
	}
	var info p4config.P4Info
	if err := prototext.Unmarshal(infoData, &info); err != nil {
		return fmt.Errorf("failed to parse p4info: %w", err)
	}
	deviceConfig, err := os.ReadFile(c.pipeline.DeviceConfigPath)
	if err != nil {
		return fmt.Errorf("failed to read device config: %w", err)
	}

	_, err = c.client.SetForwardingPipelineConfig(ctx, &p4v1.SetForwardingPipelineConfigRequest{
		DeviceId:   c.sw.DeviceID,
		ElectionId: c.electionID,
		Action:     p4v1.SetForwardingPipelineConfigRequest_VERIFY_AND_COMMIT,
		Config: &p4v1.ForwardingPipelineConfig{
			P4Info:         &info,
			P4DeviceConfig: deviceConfig,
		},
	})
	return err
}

// Disconnect releases the channel and transitions to Disconnected. The
// caller owns invalidating the applied-state cache; a reconnect always
// re-diffs against an empty baseline.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == types.ConnStateDisconnected {
		return
	}
	c.teardownLocked()
	c.state = types.ConnStateDisconnected
	c.logger.Info().Msg("switch disconnected")
}

func (c *Conn) teardownLocked() {
	if c.streamCancel != nil {
		c.streamCancel()
		c.streamCancel = nil
	}
	c.stream = nil
	if c.cc != nil {
		_ = c.cc.Close()
		c.cc = nil
	}
	c.client = nil
}

// WriteEntry issues a single insert/modify/delete for one canonical entry
func (c *Conn) WriteEntry(ctx context.Context, op types.EntryOp, e types.CanonicalEntry) error {
	c.mu.Lock()
	client := c.client
	ready := c.state == types.ConnStateReady
	c.mu.Unlock()
	if !ready || client == nil {
		return ErrNotConnected
	}

	entry, err := toTableEntry(c.profile, e)
	if err != nil {
		return err
	}

	var updateType p4v1.Update_Type
	switch op {
	case types.OpInsert:
		updateType = p4v1.Update_INSERT
	case types.OpModify:
		updateType = p4v1.Update_MODIFY
	case types.OpDelete:
		updateType = p4v1.Update_DELETE
	default:
		return fmt.Errorf("unknown entry op %q", op)
	}

	_, err = client.Write(ctx, &p4v1.WriteRequest{
		DeviceId:   c.sw.DeviceID,
		ElectionId: c.electionID,
		Updates: []*p4v1.Update{{
			Type: updateType,
			Entity: &p4v1.Entity{
				Entity: &p4v1.Entity_TableEntry{TableEntry: entry},
			},
		}},
	})
	return err
}

// ReadCounter reads the direct counter attached to one applied entry
func (c *Conn) ReadCounter(ctx context.Context, e types.CanonicalEntry) (types.CounterSample, error) {
	c.mu.Lock()
	client := c.client
	ready := c.state == types.ConnStateReady
	c.mu.Unlock()
	if !ready || client == nil {
		return types.CounterSample{}, ErrNotConnected
	}

	entry, err := toTableEntry(c.profile, e)
	if err != nil {
		return types.CounterSample{}, err
	}

	rc, err := client.Read(ctx, &p4v1.ReadRequest{
		DeviceId: c.sw.DeviceID,
		Entities: []*p4v1.Entity{{
			Entity: &p4v1.Entity_DirectCounterEntry{
				DirectCounterEntry: &p4v1.DirectCounterEntry{TableEntry: entry},
			},
		}},
	})
	if err != nil {
		return types.CounterSample{}, err
	}

	resp, err := rc.Recv()
	if err != nil {
		return types.CounterSample{}, err
	}
	for _, entity := range resp.Entities {
		if dce := entity.GetDirectCounterEntry(); dce != nil && dce.Data != nil {
			return types.CounterSample{
				Packets: dce.Data.PacketCount,
				Bytes:   dce.Data.ByteCount,
			}, nil
		}
	}
	return types.CounterSample{}, fmt.Errorf("no counter data for entry %s", e.Key())
}

// IsConnectionError reports whether an entry-operation error indicates the
// control channel itself is gone (as opposed to the switch rejecting one
// entry). Mastership loss surfaces as PermissionDenied.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotConnected) {
		return true
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.PermissionDenied, codes.Unauthenticated, codes.Aborted:
		return true
	}
	return false
}

func backoff(failures int) time.Duration {
	d := initialBackoff << (failures - 1)
	if d > maxBackoff || d <= 0 {
		return maxBackoff
	}
	return d
}
