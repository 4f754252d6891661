package transport

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/plhitsz/services-framework/internal/conf"
)

// quicStream adapts a quic.Conn's single default stream to net.Conn,
// since this relay opens exactly one stream per session.
type quicStream struct {
	*quic.Stream
	conn *quic.Conn
}

func (s *quicStream) Close() error {
	err := s.Stream.Close()
	s.conn.CloseWithError(0, "closed")
	return err
}

func (s *quicStream) LocalAddr() net.Addr  { return s.conn.LocalAddr() }
func (s *quicStream) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

func buildQUICConfig(cfg *conf.QUIC) *quic.Config {
	return &quic.Config{
		MaxIncomingStreams: int64(cfg.MaxStreams),
		MaxIdleTimeout:     cfg.IdleTimeout,
	}
}

func buildClientTLSConfig(cfg *conf.QUIC) (*tls.Config, error) {
	return &tls.Config{
		NextProtos:         []string{cfg.ALPN},
		InsecureSkipVerify: cfg.CertFile == "",
	}, nil
}

func buildServerTLSConfig(cfg *conf.QUIC) (*tls.Config, error) {
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		c, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("transport: load quic cert: %w", err)
		}
		return &tls.Config{Certificates: []tls.Certificate{c}, NextProtos: []string{cfg.ALPN}}, nil
	}
	cert, err := selfSignedCert()
	if err != nil {
		return nil, fmt.Errorf("transport: generate quic cert: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, NextProtos: []string{cfg.ALPN}}, nil
}

// selfSignedCert builds an ephemeral ECDSA cert for peers that have not
// configured cert_file/key_file in [quic], so QUIC stays usable with
// nothing but a shared ALPN between relay peers.
func selfSignedCert() (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}
	tmpl := x509.Certificate{SerialNumber: big.NewInt(1), NotAfter: time.Now().Add(24 * time.Hour)}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, err
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return tls.Certificate{}, err
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return tls.X509KeyPair(certPEM, keyPEM)
}

// DialQUIC opens a QUIC connection to raddr and a single stream on top.
func DialQUIC(raddr string, cfg *conf.QUIC) (net.Conn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", raddr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve quic addr %s: %w", raddr, err)
	}
	pconn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, fmt.Errorf("transport: quic local socket: %w", err)
	}
	tlsConf, err := buildClientTLSConfig(cfg)
	if err != nil {
		pconn.Close()
		return nil, err
	}
	qConn, err := quic.Dial(context.Background(), pconn, udpAddr, tlsConf, buildQUICConfig(cfg))
	if err != nil {
		pconn.Close()
		return nil, fmt.Errorf("transport: quic dial %s: %w", raddr, err)
	}
	strm, err := qConn.OpenStreamSync(context.Background())
	if err != nil {
		qConn.CloseWithError(0, "open stream failed")
		return nil, fmt.Errorf("transport: quic open stream: %w", err)
	}
	return &quicStream{Stream: strm, conn: qConn}, nil
}

// quicListener accepts QUIC connections and returns one stream per
// accepted connection as a net.Conn.
type quicListener struct {
	l *quic.Listener
}

func (ql *quicListener) Accept() (net.Conn, error) {
	qConn, err := ql.l.Accept(context.Background())
	if err != nil {
		return nil, err
	}
	strm, err := qConn.AcceptStream(context.Background())
	if err != nil {
		qConn.CloseWithError(0, "accept stream failed")
		return nil, err
	}
	return &quicStream{Stream: strm, conn: qConn}, nil
}

func (ql *quicListener) Close() error   { return ql.l.Close() }
func (ql *quicListener) Addr() net.Addr { return ql.l.Addr() }

// ListenQUIC binds a QUIC listener on laddr.
func ListenQUIC(laddr string, cfg *conf.QUIC) (net.Listener, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve quic addr %s: %w", laddr, err)
	}
	pconn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: quic listen %s: %w", laddr, err)
	}
	tlsConf, err := buildServerTLSConfig(cfg)
	if err != nil {
		pconn.Close()
		return nil, err
	}
	l, err := quic.Listen(pconn, tlsConf, buildQUICConfig(cfg))
	if err != nil {
		pconn.Close()
		return nil, fmt.Errorf("transport: quic listen %s: %w", laddr, err)
	}
	return &quicListener{l: l}, nil
}
