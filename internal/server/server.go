// Package server wires the control listener, the media relay and the admin
// HTTP surface into one process lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	router "github.com/dkeye/Relay/internal/adapters/http"
	"github.com/dkeye/Relay/internal/adapters/signal"
	"github.com/dkeye/Relay/internal/app"
	"github.com/dkeye/Relay/internal/app/media"
	"github.com/dkeye/Relay/internal/app/orch"
	"github.com/dkeye/Relay/internal/config"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	cfg *config.Config

	Orch     *orch.Orchestrator
	Control  *signal.Controller
	Metrics  *metrics.Metrics
	Gatherer *prometheus.Registry

	ready     chan struct{}
	mu        sync.RWMutex
	control   net.Addr
	mediaAddr net.Addr
	admin     net.Addr
}

func New(cfg *config.Config) *Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	o := &orch.Orchestrator{
		Registry:       app.NewRegistry(),
		Rooms:          app.NewRoomManager(),
		Calls:          app.NewCallTracker(),
		Policy:         app.PolicyFor(cfg.SlowPeerPolicy),
		Metrics:        m,
		MediaPort:      cfg.AdvertisedMediaPort(),
		DefaultRoom:    domain.NormalizeRoomName(cfg.DefaultRoom),
		ExclusiveCalls: cfg.ExclusiveCalls,
	}
	if o.DefaultRoom != "" {
		o.Rooms.Ensure(o.DefaultRoom)
	}
	ctl := signal.NewController(o, signal.NewRateLimiter(cfg.RateLimit, cfg.RateBurst), m, signal.Options{
		ReadLimit:    cfg.ReadLimit,
		SendQueue:    cfg.SendQueue,
		WriteTimeout: cfg.WriteTimeout,
	})
	return &Server{
		cfg:      cfg,
		Orch:     o,
		Control:  ctl,
		Metrics:  m,
		Gatherer: reg,
		ready:    make(chan struct{}),
	}
}

// Ready is closed once every listener is bound.
func (s *Server) Ready() <-chan struct{} { return s.ready }

func (s *Server) ControlAddr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.control
}

func (s *Server) MediaAddr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mediaAddr
}

func (s *Server) AdminAddr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.admin
}

// Run binds all listeners and serves until ctx is cancelled or one of them
// fails.
func (s *Server) Run(ctx context.Context) error {
	controlLn, err := net.Listen("tcp", s.cfg.ControlAddr)
	if err != nil {
		return fmt.Errorf("listen control %s: %w", s.cfg.ControlAddr, err)
	}
	udpAddr, err := net.ResolveUDPAddr("udp", s.cfg.MediaAddr)
	if err != nil {
		_ = controlLn.Close()
		return fmt.Errorf("resolve media %s: %w", s.cfg.MediaAddr, err)
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		_ = controlLn.Close()
		return fmt.Errorf("listen media %s: %w", s.cfg.MediaAddr, err)
	}
	var adminLn net.Listener
	if s.cfg.AdminAddr != "" {
		if adminLn, err = net.Listen("tcp", s.cfg.AdminAddr); err != nil {
			_ = controlLn.Close()
			_ = udpConn.Close()
			return fmt.Errorf("listen admin %s: %w", s.cfg.AdminAddr, err)
		}
	}

	if s.cfg.MediaPort == 0 {
		s.Orch.MediaPort = udpConn.LocalAddr().(*net.UDPAddr).Port
	}
	s.mu.Lock()
	s.control = controlLn.Addr()
	s.mediaAddr = udpConn.LocalAddr()
	if adminLn != nil {
		s.admin = adminLn.Addr()
	}
	s.mu.Unlock()
	close(s.ready)

	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		<-ctx.Done()
		return controlLn.Close()
	})
	eg.Go(func() error {
		return s.acceptLoop(ctx, controlLn)
	})

	relay := media.NewRelay(udpConn, s.Orch.Registry, s.Orch.Calls, s.Metrics, s.cfg.MediaWorkers, s.cfg.MediaBuffer)
	eg.Go(func() error {
		return relay.Serve(ctx)
	})

	if adminLn != nil {
		srv := &http.Server{
			Handler:           router.SetupRouter(ctx, s.cfg, s.Orch, s.Control, s.Gatherer),
			ReadHeaderTimeout: 10 * time.Second,
		}
		eg.Go(func() error {
			log.Info().Str("module", "server").Str("addr", adminLn.Addr().String()).Msg("admin http listening")
			if err := srv.Serve(adminLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin http: %w", err)
			}
			return nil
		})
		eg.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Str("module", "server").Msg("admin http forced to shutdown")
			}
			return nil
		})
	}

	err = eg.Wait()
	log.Info().Str("module", "server").Msg("server exited")
	return err
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	log.Info().Str("module", "server").Str("addr", ln.Addr().String()).Msg("control listening")
	var conns conc.WaitGroup
	defer conns.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				log.Warn().Err(err).Str("module", "server").Msg("accept")
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		conns.Go(func() {
			s.Control.ServeTCP(ctx, conn)
		})
	}
}
