package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/BjarkeHJ/rosbus/pkg/rosbus"
)

var (
	// ErrNotStarted is returned when the bridge is used before Start
	ErrNotStarted = errors.New("bridge is not started")
	// ErrAlreadyStarted is returned when Start is called twice
	ErrAlreadyStarted = errors.New("bridge is already started")
	// ErrBridgeClosed is returned on operations against a closed bridge
	ErrBridgeClosed = errors.New("bridge is closed")
)

// originHeader marks a message with the bridge node it entered the mesh
// through. Messages carrying it are never forwarded again, which keeps a
// two-node mesh from echoing traffic back and forth.
const originHeader = "origin"

const (
	serviceName      = "rosbus.v1.TopicBridge"
	attachMethod     = "Attach"
	attachFullMethod = "/rosbus.v1.TopicBridge/Attach"
)

// Bus is the local transport surface the bridge forwards from and injects
// into. The broker satisfies it.
type Bus interface {
	rosbus.Transport
	Tap() (<-chan *rosbus.Message, func(), error)
}

// frameStream is the send/receive surface shared by both stream directions.
type frameStream interface {
	SendMsg(m interface{}) error
	RecvMsg(m interface{}) error
}

// topicBridgeServer is the handler contract for the Attach stream.
type topicBridgeServer interface {
	handleAttach(stream grpc.ServerStream) error
}

var topicBridgeServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*topicBridgeServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    attachMethod,
			Handler:       attachHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
}

var attachStreamDesc = grpc.StreamDesc{
	StreamName:    attachMethod,
	ServerStreams: true,
	ClientStreams: true,
}

func attachHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(topicBridgeServer).handleAttach(stream)
}

// peer is one attached remote bridge, regardless of which side dialed.
type peer struct {
	id    string
	sendQ chan *Frame

	stopOnce sync.Once
	done     chan struct{}
}

func (p *peer) stop() {
	p.stopOnce.Do(func() {
		close(p.done)
	})
}

// enqueue offers a frame to the peer's send queue without blocking.
// Returns false when the queue is full and the frame is dropped.
func (p *peer) enqueue(frame *Frame) bool {
	select {
	case p.sendQ <- frame:
		return true
	default:
		return false
	}
}

// Bridge links the local bus to remote buses over a gRPC bidirectional
// stream. Every locally published message is forwarded once to each
// attached peer; messages received from a peer are injected into the local
// bus tagged with their origin.
type Bridge struct {
	mu     sync.RWMutex
	config Config
	bus    Bus
	logger *slog.Logger

	server   *grpc.Server
	listener net.Listener
	conns    []*grpc.ClientConn
	peers    map[string]*peer

	tapStop func()
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	started bool
	closed  bool
}

// New creates a bridge bound to the given local bus.
func New(config Config, bus Bus, logger *slog.Logger) (*Bridge, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bridge config: %w", err)
	}
	config.SetDefaults()

	if bus == nil {
		return nil, errors.New("bus cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Bridge{
		config: config,
		bus:    bus,
		logger: logger.With("component", "bridge", "node_id", config.NodeID),
		peers:  make(map[string]*peer),
	}, nil
}

// Start begins listening for inbound peers and forwarding local traffic.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBridgeClosed
	}
	if b.started {
		return ErrAlreadyStarted
	}

	listener, err := net.Listen("tcp", b.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", b.config.ListenAddress, err)
	}

	tapCh, tapStop, err := b.bus.Tap()
	if err != nil {
		listener.Close()
		return fmt.Errorf("failed to tap bus: %w", err)
	}

	b.ctx, b.cancel = context.WithCancel(context.Background())
	b.listener = listener
	b.tapStop = tapStop
	b.server = grpc.NewServer(
		grpc.ForceServerCodec(frameCodec{}),
		grpc.MaxRecvMsgSize(b.config.MaxMessageSize),
	)
	b.server.RegisterService(&topicBridgeServiceDesc, b)
	b.started = true

	b.wg.Add(2)
	go func() {
		defer b.wg.Done()
		if err := b.server.Serve(listener); err != nil {
			b.logger.Debug("grpc server stopped", "error", err)
		}
	}()
	go b.forwardLocal(tapCh)

	b.logger.Info("bridge listening", "address", listener.Addr().String())
	return nil
}

// ListeningAddress returns the bound listen address, useful with ":0".
func (b *Bridge) ListeningAddress() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.listener == nil {
		return ""
	}
	return b.listener.Addr().String()
}

// Connect dials a remote bridge and attaches to it. The stream lives until
// either side closes.
func (b *Bridge) Connect(ctx context.Context, address string) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBridgeClosed
	}
	if !b.started {
		b.mu.RUnlock()
		return ErrNotStarted
	}
	streamCtx := b.ctx
	b.mu.RUnlock()

	conn, err := grpc.NewClient(address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.ForceCodec(frameCodec{}),
			grpc.MaxCallRecvMsgSize(b.config.MaxMessageSize),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", address, err)
	}

	stream, err := conn.NewStream(streamCtx, &attachStreamDesc, attachFullMethod)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open attach stream to %s: %w", address, err)
	}

	// Handshake: we speak first when dialing.
	if err := stream.SendMsg(&Frame{Handshake: &Handshake{
		NodeID:          b.config.NodeID,
		ProtocolVersion: protocolVersion,
	}}); err != nil {
		conn.Close()
		return fmt.Errorf("failed to send handshake to %s: %w", address, err)
	}

	var reply Frame
	if err := stream.RecvMsg(&reply); err != nil {
		conn.Close()
		return fmt.Errorf("failed to receive handshake from %s: %w", address, err)
	}
	remote, err := b.checkHandshake(&reply)
	if err != nil {
		conn.Close()
		return err
	}

	p, err := b.addPeer(remote)
	if err != nil {
		conn.Close()
		return err
	}

	b.mu.Lock()
	b.conns = append(b.conns, conn)
	b.mu.Unlock()

	b.wg.Add(2)
	go func() {
		defer b.wg.Done()
		b.sendLoop(p, stream)
	}()
	go func() {
		defer b.wg.Done()
		defer b.removePeer(p)
		b.recvLoop(p, stream)
	}()

	b.logger.Info("attached to peer", "peer", remote, "address", address)
	return nil
}

// handleAttach serves one inbound peer stream.
func (b *Bridge) handleAttach(stream grpc.ServerStream) error {
	var hello Frame
	if err := stream.RecvMsg(&hello); err != nil {
		return fmt.Errorf("failed to receive handshake: %w", err)
	}
	remote, err := b.checkHandshake(&hello)
	if err != nil {
		return err
	}

	if err := stream.SendMsg(&Frame{Handshake: &Handshake{
		NodeID:          b.config.NodeID,
		ProtocolVersion: protocolVersion,
	}}); err != nil {
		return fmt.Errorf("failed to send handshake: %w", err)
	}

	p, err := b.addPeer(remote)
	if err != nil {
		return err
	}
	defer b.removePeer(p)

	b.logger.Info("peer attached", "peer", remote)

	sendDone := make(chan struct{})
	go func() {
		defer close(sendDone)
		b.sendLoop(p, stream)
	}()

	err = b.recvLoop(p, stream)
	p.stop()
	<-sendDone
	return err
}

func (b *Bridge) checkHandshake(frame *Frame) (string, error) {
	if frame.Handshake == nil {
		return "", errors.New("expected handshake frame")
	}
	if frame.Handshake.ProtocolVersion != protocolVersion {
		return "", fmt.Errorf("%w: local %d, remote %d",
			ErrVersionMismatch, protocolVersion, frame.Handshake.ProtocolVersion)
	}
	if frame.Handshake.NodeID == "" {
		return "", ErrEmptyNodeID
	}
	return frame.Handshake.NodeID, nil
}

func (b *Bridge) addPeer(id string) (*peer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBridgeClosed
	}
	if _, exists := b.peers[id]; exists {
		return nil, fmt.Errorf("peer %s is already attached", id)
	}
	p := &peer{
		id:    id,
		sendQ: make(chan *Frame, b.config.SendQueueSize),
		done:  make(chan struct{}),
	}
	b.peers[id] = p
	return p, nil
}

func (b *Bridge) removePeer(p *peer) {
	p.stop()
	b.mu.Lock()
	if current, ok := b.peers[p.id]; ok && current == p {
		delete(b.peers, p.id)
	}
	b.mu.Unlock()
	b.logger.Info("peer detached", "peer", p.id)
}

// ConnectedPeers returns the node IDs of all attached peers, sorted.
func (b *Bridge) ConnectedPeers() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]string, 0, len(b.peers))
	for id := range b.peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// forwardLocal pumps locally published messages to every attached peer.
// Messages that already carry an origin entered through a bridge and stay
// local.
func (b *Bridge) forwardLocal(tapCh <-chan *rosbus.Message) {
	defer b.wg.Done()
	for msg := range tapCh {
		if msg.Headers[originHeader] != "" {
			continue
		}

		env := EnvelopeFromMessage(msg)
		if env.Headers == nil {
			env.Headers = make(map[string]string, 1)
		}
		env.Headers[originHeader] = b.config.NodeID
		frame := &Frame{Envelope: env}

		b.mu.RLock()
		for _, p := range b.peers {
			if !p.enqueue(frame) {
				b.logger.Warn("peer send queue full, dropping message",
					"peer", p.id, "topic", msg.Topic)
			}
		}
		b.mu.RUnlock()
	}
}

// sendLoop drains the peer's queue onto the stream, interleaving
// heartbeats.
func (b *Bridge) sendLoop(p *peer, stream frameStream) {
	ticker := time.NewTicker(b.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-p.done:
			return
		case frame := <-p.sendQ:
			if err := stream.SendMsg(frame); err != nil {
				b.logger.Debug("send to peer failed", "peer", p.id, "error", err)
				p.stop()
				return
			}
		case <-ticker.C:
			hb := &Frame{Heartbeat: &Heartbeat{UnixNano: time.Now().UnixNano()}}
			if err := stream.SendMsg(hb); err != nil {
				b.logger.Debug("heartbeat to peer failed", "peer", p.id, "error", err)
				p.stop()
				return
			}
		}
	}
}

// recvLoop reads frames from the peer until the stream ends, injecting
// envelopes into the local bus.
func (b *Bridge) recvLoop(p *peer, stream frameStream) error {
	for {
		select {
		case <-b.ctx.Done():
			return nil
		case <-p.done:
			return nil
		default:
		}

		var frame Frame
		if err := stream.RecvMsg(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			b.logger.Debug("receive from peer failed", "peer", p.id, "error", err)
			return nil
		}

		switch {
		case frame.Envelope != nil:
			b.inject(p.id, frame.Envelope)
		case frame.Heartbeat != nil:
			// Keepalive only; nothing to do.
		case frame.Handshake != nil:
			b.logger.Warn("unexpected handshake mid-stream", "peer", p.id)
		}
	}
}

// inject publishes a remote envelope on the local bus. A message whose
// origin is this node already made the round trip and is dropped.
func (b *Bridge) inject(peerID string, env *Envelope) {
	msg := env.ToMessage()
	if msg.Headers[originHeader] == b.config.NodeID {
		return
	}
	if msg.Headers == nil {
		msg.Headers = map[string]string{originHeader: peerID}
	} else if msg.Headers[originHeader] == "" {
		msg.Headers[originHeader] = peerID
	}

	if _, err := b.bus.Publish(b.ctx, msg); err != nil {
		b.logger.Warn("failed to inject remote message",
			"peer", peerID, "topic", msg.Topic, "error", err)
	}
}

// Close shuts the bridge down: the listener stops, all peer streams end,
// and no further frames are forwarded. Idempotent.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil // Already closed, safe to call multiple times
	}
	b.closed = true
	started := b.started
	peers := make([]*peer, 0, len(b.peers))
	for _, p := range b.peers {
		peers = append(peers, p)
	}
	conns := b.conns
	b.conns = nil
	b.mu.Unlock()

	if !started {
		return nil
	}

	b.cancel()
	for _, p := range peers {
		p.stop()
	}
	b.tapStop()
	b.server.Stop()
	for _, conn := range conns {
		conn.Close()
	}
	b.wg.Wait()

	b.logger.Info("bridge closed")
	return nil
}
