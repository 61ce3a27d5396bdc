// Package service runs the NIP-74 front end of a Cashu mint: it announces
// the mint on Nostr relays and answers encrypted operation requests,
// alongside or instead of a mint run by this process.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/purrmint/purrmint/nip74"
	"github.com/purrmint/purrmint/relay"
	"github.com/purrmint/purrmint/signer"
)

const DefaultConnectTimeout = 5 * time.Second

type Mode int

const (
	// LocalMintOnly runs the local mint without the Nostr front end.
	LocalMintOnly Mode = iota
	// ProtocolOnly runs the Nostr front end without a local mint.
	ProtocolOnly
	// Both runs the local mint and the Nostr front end serving it.
	Both
)

func (m Mode) String() string {
	switch m {
	case LocalMintOnly:
		return "mintd_only"
	case ProtocolOnly:
		return "nip74_only"
	case Both:
		return "mintd_and_nip74"
	default:
		return "unknown"
	}
}

func ParseMode(mode string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "mintd_only", "local":
		return LocalMintOnly, nil
	case "nip74_only", "protocol":
		return ProtocolOnly, nil
	case "mintd_and_nip74", "both":
		return Both, nil
	default:
		return 0, fmt.Errorf("%w: unknown mode %q", ErrInvalidMode, mode)
	}
}

func (m Mode) protocol() bool {
	return m == ProtocolOnly || m == Both
}

func (m Mode) localMint() bool {
	return m == LocalMintOnly || m == Both
}

type State int

const (
	Stopped State = iota
	Starting
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

type Config struct {
	Mode   Mode
	Relays []string
	// Identifier is the d tag of the mint info event.
	// Defaults to the signer's public key in hex.
	Identifier string
	// ConnectTimeout bounds how long Start waits for a first relay.
	ConnectTimeout time.Duration
	// MintInfo is the content of the mint info event. When nil, the info
	// of the mint backing the default handler is announced.
	MintInfo any

	// Pool is the relay pool of the front end. Required unless the mode
	// is LocalMintOnly.
	Pool relay.Pool
	// LocalMint is required when the mode runs a local mint.
	LocalMint LocalMint
	// Backend is an external mint served by the default handler in
	// ProtocolOnly mode when no handler is set.
	Backend MintBackend

	Logger *slog.Logger
}

// Status is a snapshot of the service.
type Status struct {
	Mode             Mode
	State            State
	Pubkey           string
	Identifier       string
	Relays           []string
	LocalMintRunning bool
	ConnectedRelays  int
}

func (s Status) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%v (%v)", s.State, s.Mode)
	if s.Pubkey != "" {
		fmt.Fprintf(&sb, " pubkey=%v identifier=%v relays=%v/%v", s.Pubkey, s.Identifier, s.ConnectedRelays, len(s.Relays))
	}
	if s.Mode.localMint() {
		fmt.Fprintf(&sb, " local_mint_running=%v", s.LocalMintRunning)
	}
	return sb.String()
}

// Service is the orchestrator of the mint front ends. Start and Stop may
// be called from any goroutine. The signer and handler are set before
// Start.
type Service struct {
	config Config
	logger *slog.Logger

	// serializes Start and Stop
	lifecycle sync.Mutex

	mu          sync.Mutex
	state       State
	signer      signer.Signer
	handler     nip74.RequestHandler
	pubkey      string
	identifier  string
	mintInfo    any
	cancel      context.CancelFunc
	done        chan struct{}
	startedMint bool
}

func New(config Config) (*Service, error) {
	switch config.Mode {
	case LocalMintOnly, ProtocolOnly, Both:
	default:
		return nil, fmt.Errorf("%w: %v", ErrInvalidMode, config.Mode)
	}
	if config.Mode.localMint() && config.LocalMint == nil {
		return nil, fmt.Errorf("%w: mode %v needs a local mint", ErrInvalidMode, config.Mode)
	}
	if config.Mode.protocol() && config.Pool == nil {
		return nil, fmt.Errorf("%w: mode %v needs a relay pool", ErrInvalidMode, config.Mode)
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Service{config: config, logger: config.Logger}, nil
}

func (s *Service) SetSigner(signer signer.Signer) error {
	if !s.config.Mode.protocol() {
		return fmt.Errorf("%w: no signer is used in mode %v", ErrInvalidMode, s.config.Mode)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Stopped {
		return ErrAlreadyRunning
	}
	s.signer = signer
	return nil
}

func (s *Service) SetHandler(handler nip74.RequestHandler) error {
	if !s.config.Mode.protocol() {
		return fmt.Errorf("%w: no handler is used in mode %v", ErrInvalidMode, s.config.Mode)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Stopped {
		return ErrAlreadyRunning
	}
	s.handler = handler
	return nil
}

// Start runs the subsystems of the configured mode, the local mint first.
// A relay that cannot be reached within the connect timeout does not fail
// Start: the pool keeps connecting in the background.
func (s *Service) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.state != Stopped {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	if s.config.Mode.protocol() {
		if s.signer == nil {
			s.mu.Unlock()
			return fmt.Errorf("%w: %w", ErrInvalidMode, ErrNoSigner)
		}
		if s.handler == nil {
			switch {
			case s.config.Mode == Both:
				s.handler = NewMintHandler(s.config.LocalMint, s.logger)
			case s.config.Backend != nil:
				s.handler = NewMintHandler(s.config.Backend, s.logger)
			default:
				s.mu.Unlock()
				return ErrNoHandler
			}
		}
		if len(s.config.Relays) == 0 {
			s.mu.Unlock()
			return ErrNoRelays
		}
	}
	s.state = Starting
	s.mu.Unlock()

	if s.config.Mode.localMint() {
		if err := s.config.LocalMint.Start(ctx); err != nil {
			s.setState(Stopped)
			return fmt.Errorf("error starting local mint: %w", err)
		}
		s.mu.Lock()
		s.startedMint = true
		s.mu.Unlock()
		s.logger.Info("local mint started")
	}

	if s.config.Mode.protocol() {
		if err := s.startProtocol(ctx); err != nil {
			s.config.Pool.Disconnect()
			if stopErr := s.stopLocalMint(ctx); stopErr != nil {
				err = errors.Join(err, stopErr)
			}
			s.setState(Stopped)
			return err
		}
	}

	s.setState(Running)
	s.logger.Info(fmt.Sprintf("service running in mode %v", s.config.Mode))
	return nil
}

func (s *Service) startProtocol(ctx context.Context) error {
	pubkey, err := s.signer.GetPublicKey(ctx)
	if err != nil {
		return fmt.Errorf("error getting signer public key: %w", err)
	}
	identifier := s.config.Identifier
	if identifier == "" {
		identifier = pubkey
	}

	pool := s.config.Pool
	for _, url := range s.config.Relays {
		if err := pool.AddRelay(url); err != nil {
			return fmt.Errorf("error adding relay: %w", err)
		}
	}
	pool.Connect(ctx)
	if !pool.WaitForConnection(ctx, s.config.ConnectTimeout) {
		s.logger.Warn(fmt.Sprintf("no relay connected after %v, continuing", s.config.ConnectTimeout))
	}

	info, err := s.announcedInfo(ctx)
	if err != nil {
		return err
	}
	s.publishMintInfo(ctx, info, identifier, nip74.StatusRunning)

	if err := pool.Subscribe(ctx, nostr.Filter{Kinds: []int{nip74.KindOperationReq}}); err != nil {
		return fmt.Errorf("error subscribing to requests: %w", err)
	}

	l := &listener{
		pool:    pool,
		signer:  s.signer,
		handler: s.handler,
		pubkey:  pubkey,
		logger:  s.logger,
	}
	listenerCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.run(listenerCtx)
	}()

	s.mu.Lock()
	s.pubkey = pubkey
	s.identifier = identifier
	s.mintInfo = info
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	s.logger.Info(fmt.Sprintf("listening for requests to %v", pubkey))
	return nil
}

func (s *Service) announcedInfo(ctx context.Context) (any, error) {
	if s.config.MintInfo != nil {
		return s.config.MintInfo, nil
	}

	var backend MintBackend
	switch {
	case s.config.Mode == Both:
		backend = s.config.LocalMint
	case s.config.Backend != nil:
		backend = s.config.Backend
	default:
		return struct{}{}, nil
	}

	info, err := backend.MintInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting mint info: %w", err)
	}
	return info, nil
}

// publish failures are logged only
func (s *Service) publishMintInfo(ctx context.Context, info any, identifier, status string) {
	evt, err := nip74.BuildMintInfoEvent(ctx, info, s.signer, identifier, s.config.Relays, status, nil)
	if err != nil {
		s.logger.Error(fmt.Sprintf("could not build mint info event: %v", err))
		return
	}

	results := s.config.Pool.Publish(ctx, *evt)
	if succeeded := relay.Succeeded(results); len(succeeded) > 0 {
		s.logger.Info(fmt.Sprintf("mint info %v (%v) published to %v", evt.ID, status, succeeded))
	} else {
		s.logger.Warn(fmt.Sprintf("mint info %v not accepted by any relay: %v", evt.ID, relay.Failed(results)))
	}
}

// Stop cancels the listener and waits for it, disconnects from the
// relays and stops the local mint if Start started it. A request being
// handled when Stop is called gets no reply. Stopping a stopped service
// does nothing.
func (s *Service) Stop(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.state == Stopped {
		s.mu.Unlock()
		return nil
	}
	s.state = Stopping
	cancel, done := s.cancel, s.done
	info, identifier := s.mintInfo, s.identifier
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			s.logger.Warn("listener did not stop before the context expired")
		}
		s.publishMintInfo(ctx, info, identifier, nip74.StatusStopped)
		s.config.Pool.Disconnect()
		s.logger.Info("disconnected from relays")
	}

	err := s.stopLocalMint(ctx)
	s.setState(Stopped)
	return err
}

func (s *Service) stopLocalMint(ctx context.Context) error {
	s.mu.Lock()
	started := s.startedMint
	s.startedMint = false
	s.mu.Unlock()

	if !started {
		return nil
	}
	if err := s.config.LocalMint.Stop(ctx); err != nil {
		s.logger.Error(fmt.Sprintf("error stopping local mint: %v", err))
		return fmt.Errorf("error stopping local mint: %w", err)
	}
	s.logger.Info("local mint stopped")
	return nil
}

func (s *Service) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Service) Status() Status {
	s.mu.Lock()
	status := Status{
		Mode:       s.config.Mode,
		State:      s.state,
		Pubkey:     s.pubkey,
		Identifier: s.identifier,
		Relays:     append([]string(nil), s.config.Relays...),
	}
	s.mu.Unlock()

	if s.config.LocalMint != nil {
		status.LocalMintRunning = s.config.LocalMint.IsRunning()
	}
	if s.config.Mode.protocol() {
		status.ConnectedRelays = len(s.config.Pool.ConnectedRelays())
	}
	return status
}
