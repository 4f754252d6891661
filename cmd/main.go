// Command relay runs the dataflow-graph relay: a tunnel device and a UDP
// socket bridged through the Collector's batching/classification policy
// and an Encoder/Decoder pair, wired together by the NodeManager.
package main

import (
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/plhitsz/services-framework/internal/codec"
	"github.com/plhitsz/services-framework/internal/collector"
	"github.com/plhitsz/services-framework/internal/conf"
	"github.com/plhitsz/services-framework/internal/flog"
	"github.com/plhitsz/services-framework/internal/flowstate"
	"github.com/plhitsz/services-framework/internal/iotun"
	"github.com/plhitsz/services-framework/internal/ioudp"
	"github.com/plhitsz/services-framework/internal/node"
	"github.com/plhitsz/services-framework/internal/reactor"
	"github.com/plhitsz/services-framework/internal/route"
	"github.com/plhitsz/services-framework/internal/timer"
	"github.com/plhitsz/services-framework/internal/transport"
)

// nextHop is whichever of ioudp's two FullDuplex node kinds cfg.Transport
// selects: UdpNode's raw-socket/epoll path for the mandatory "udp"
// protocol, or SessionNode's net.Conn/Pump path for "kcp"/"quic".
type nextHop interface {
	node.Worker
	Close() error
	RegisterToPoller() bool
	Pump()
}

var configPath string

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "run the tunnel/collector/udp relay",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(configPath)
	},
}

func main() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "relay.ini", "path to the INI configuration file")
	if err := rootCmd.Execute(); err != nil {
		flog.Fatalf("relay: %v", err)
	}
}

func run(path string) error {
	flog.SetLevel(flog.Info)

	cfg, err := conf.LoadFromFile(path)
	if err != nil {
		return err
	}

	if err := reactor.Init(); err != nil {
		return err
	}
	defer reactor.Instance().Shutdown()

	tm := timer.NewManager(timer.DefaultResolutionMs, timer.DefaultWorkers)
	tm.Start()
	defer tm.Stop()

	node.Init()
	mgr := node.Instance()

	routes := route.New()
	for _, r := range cfg.Routes {
		if err := routes.Add(r.Destination, r.Mask, r.NextHop, r.Metric); err != nil {
			return err
		}
	}
	if cfg.Transport.PeerAddr != "" && len(cfg.Routes) == 0 {
		if err := routes.Add("0.0.0.0", 0, cfg.Transport.PeerAddr, 0); err != nil {
			return err
		}
	}
	flows := flowstate.New(flowstate.DefaultThresholdPolicy())

	prefix, err := netip.ParsePrefix(cfg.Tun.Address)
	if err != nil {
		return err
	}
	tunnel, err := iotun.New(cfg.Tun.Name, prefix, cfg.Tun.MTU)
	if err != nil {
		return err
	}
	defer tunnel.Close()

	var cipherKey []byte
	if cfg.Transport.CipherKey != "" {
		cipherKey = conf.DeriveKey(cfg.Transport.CipherKey)
	}
	var udpNode nextHop
	switch cfg.Transport.Protocol {
	case "kcp", "quic":
		peerAddr := fmt.Sprintf("%s:%d", cfg.Transport.PeerAddr, cfg.Transport.PeerPort)
		conn, err := transport.Dial(peerAddr, &cfg.Transport)
		if err != nil {
			return err
		}
		sess, err := ioudp.NewSession("UDP", conn, cipherKey)
		if err != nil {
			return err
		}
		udpNode = sess
	default:
		u, err := ioudp.New(uint16(cfg.Transport.LocalPort), uint16(cfg.Transport.PeerPort), cipherKey)
		if err != nil {
			return err
		}
		udpNode = u
	}
	defer udpNode.Close()

	coll := collector.New("collector", collector.Config{
		MaxBlockSize:     cfg.Coding.MaxBlockSize,
		CodingThreshold:  cfg.Coding.EncodeThreshold,
		FlushPeriodTicks: collector.DefaultFlushPeriodTicks,
	}, routes, flows, tm)

	enc := codec.NewEncoder("encoder", nil)
	dec := codec.NewDecoder("decoder", nil)

	// Egress: tunnel -> collector -> encoder -> udp (coded), or
	// collector -> udp directly (raw passthrough; Collector.Dispatch
	// routes by name, see internal/collector).
	if _, err := mgr.Connect(tunnel, coll, false); err != nil {
		return err
	}
	if _, err := mgr.Connect(coll, enc, false); err != nil {
		return err
	}
	// Collector.Dispatch sends raw (uncoded) packets straight to an
	// out-channel whose name contains ":UDP", bypassing the encoder
	// entirely. The udp node runs a single worker that drains one
	// in-channel, so the collector is attached to the same "encoder:UDP"
	// channel the encoder writes to rather than to a second in-channel.
	udpIn, err := mgr.Connect(enc, udpNode, false)
	if err != nil {
		return err
	}
	coll.AddOutChannel(udpIn)

	// Ingress: udp -> decoder -> tunnel.
	if _, err := mgr.Connect(udpNode, dec, false); err != nil {
		return err
	}
	if _, err := mgr.Connect(dec, tunnel, false); err != nil {
		return err
	}

	if !tunnel.RegisterToPoller() {
		flog.Fatalf("relay: failed to register tunnel with the reactor")
	}
	switch cfg.Transport.Protocol {
	case "kcp", "quic":
		// SessionNode has no pollable fd: its net.Conn session is read by
		// a dedicated blocking-read goroutine instead of the reactor.
		go udpNode.Pump()
	default:
		if !udpNode.RegisterToPoller() {
			flog.Fatalf("relay: failed to register udp socket with the reactor")
		}
	}

	if err := mgr.RunAsThreads(coll, 1); err != nil {
		return err
	}
	if err := mgr.RunAsThreads(enc, 1); err != nil {
		return err
	}
	if err := mgr.RunAsThreads(dec, 1); err != nil {
		return err
	}
	if err := mgr.RunAsThreads(tunnel, 1); err != nil {
		return err
	}
	if err := mgr.RunAsThreads(udpNode, 1); err != nil {
		return err
	}

	flog.Infof("relay: running, tun=%s udp_local=%d udp_peer=%s:%d",
		tunnel.DeviceName(), cfg.Transport.LocalPort, cfg.Transport.PeerAddr, cfg.Transport.PeerPort)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	flog.Infof("relay: shutting down")
	mgr.Shutdown()
	return nil
}
