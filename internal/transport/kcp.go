package transport

import (
	"fmt"
	"net"

	kcp "github.com/xtaci/kcp-go/v5"
	"github.com/xtaci/smux"

	"github.com/plhitsz/services-framework/internal/conf"
)

// kcpStream adapts a smux.Stream multiplexed over a KCP session to
// net.Conn.
type kcpStream struct {
	*smux.Stream
	sess *smux.Session
}

func (s *kcpStream) Close() error {
	err := s.Stream.Close()
	s.sess.Close()
	return err
}

// blockCrypt builds the kcp-go BlockCrypt for cfg.Block. conf.ValidBlocks
// is a general-purpose cipher name list shared across transports; only
// the subset kcp-go itself ships a constructor for is usable here, so
// unsupported-but-otherwise-valid names still error.
func blockCrypt(cfg *conf.KCP) (kcp.BlockCrypt, error) {
	if conf.IsNullBlock(cfg.Block) {
		return nil, nil
	}
	key := conf.TrimKey(conf.DeriveKey(cfg.Key), cfg.Block)
	switch cfg.Block {
	case "aes", "aes-128", "aes-192":
		return kcp.NewAESBlockCrypt(key)
	case "tea":
		return kcp.NewTEABlockCrypt(key)
	case "cast5":
		return kcp.NewCast5BlockCrypt(key)
	case "salsa20":
		return kcp.NewSalsa20BlockCrypt(key)
	case "blowfish":
		return kcp.NewBlowfishBlockCrypt(key)
	case "twofish":
		return kcp.NewTwofishBlockCrypt(key)
	case "3des":
		return kcp.NewTripleDESBlockCrypt(key)
	case "xor":
		return kcp.NewSimpleXORBlockCrypt(key), nil
	default:
		return nil, fmt.Errorf("transport: unsupported kcp block cipher %q", cfg.Block)
	}
}

func tuneSession(sess *kcp.UDPSession, cfg *conf.KCP) {
	sess.SetWindowSize(cfg.SndWnd, cfg.RcvWnd)
	sess.SetMtu(cfg.MTU)
	sess.SetNoDelay(cfg.NoDelay, cfg.Interval, cfg.Resend, cfg.NoCongest)
	sess.SetStreamMode(true)
}

// DialKCP opens a KCP session to raddr with a single smux stream on top.
func DialKCP(raddr string, cfg *conf.KCP) (net.Conn, error) {
	block, err := blockCrypt(cfg)
	if err != nil {
		return nil, fmt.Errorf("transport: kcp block cipher: %w", err)
	}
	udpSess, err := kcp.DialWithOptions(raddr, block, cfg.DataShard, cfg.ParShard)
	if err != nil {
		return nil, fmt.Errorf("transport: kcp dial %s: %w", raddr, err)
	}
	tuneSession(udpSess, cfg)

	smuxCfg := smux.DefaultConfig()
	smuxCfg.MaxReceiveBuffer = cfg.SmuxBuf
	sess, err := smux.Client(udpSess, smuxCfg)
	if err != nil {
		udpSess.Close()
		return nil, fmt.Errorf("transport: smux client: %w", err)
	}
	strm, err := sess.OpenStream()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("transport: smux open stream: %w", err)
	}
	return &kcpStream{Stream: strm, sess: sess}, nil
}

// kcpListener accepts KCP sessions and returns one smux stream per
// accepted session as a net.Conn.
type kcpListener struct {
	l   *kcp.Listener
	cfg *conf.KCP
}

func (kl *kcpListener) Accept() (net.Conn, error) {
	udpSess, err := kl.l.AcceptKCP()
	if err != nil {
		return nil, err
	}
	tuneSession(udpSess, kl.cfg)

	smuxCfg := smux.DefaultConfig()
	smuxCfg.MaxReceiveBuffer = kl.cfg.SmuxBuf
	sess, err := smux.Server(udpSess, smuxCfg)
	if err != nil {
		udpSess.Close()
		return nil, fmt.Errorf("transport: smux server: %w", err)
	}
	strm, err := sess.AcceptStream()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("transport: smux accept stream: %w", err)
	}
	return &kcpStream{Stream: strm, sess: sess}, nil
}

func (kl *kcpListener) Close() error   { return kl.l.Close() }
func (kl *kcpListener) Addr() net.Addr { return kl.l.Addr() }

// ListenKCP binds a KCP listener on laddr.
func ListenKCP(laddr string, cfg *conf.KCP) (net.Listener, error) {
	block, err := blockCrypt(cfg)
	if err != nil {
		return nil, fmt.Errorf("transport: kcp block cipher: %w", err)
	}
	l, err := kcp.ListenWithOptions(laddr, block, cfg.DataShard, cfg.ParShard)
	if err != nil {
		return nil, fmt.Errorf("transport: kcp listen %s: %w", laddr, err)
	}
	return &kcpListener{l: l, cfg: cfg}, nil
}
