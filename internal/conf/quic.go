package conf

import (
	"fmt"
	"time"
)

// QUIC configures the quic-go connection, carrying a single stream, used
// when [transport] protocol = quic.
type QUIC struct {
	Key         string        `ini:"key"`
	ALPN        string        `ini:"alpn"`
	MaxStreams  int           `ini:"max_streams"`
	IdleTimeout time.Duration `ini:"idle_timeout"`
	CertFile    string        `ini:"cert_file"`
	KeyFile     string        `ini:"key_file"`
}

func (q *QUIC) setDefaults() {
	if q.ALPN == "" {
		q.ALPN = "bats"
	}
	if q.MaxStreams == 0 {
		q.MaxStreams = 256
	}
	if q.IdleTimeout == 0 {
		q.IdleTimeout = 30 * time.Second
	}
}

func (q *QUIC) validate() []error {
	var errors []error
	if q.Key == "" && q.CertFile == "" {
		errors = append(errors, fmt.Errorf("quic: key or cert_file/key_file is required"))
	}
	if q.MaxStreams < 1 || q.MaxStreams > 65535 {
		errors = append(errors, fmt.Errorf("quic.max_streams must be between 1 and 65535"))
	}
	if (q.CertFile == "") != (q.KeyFile == "") {
		errors = append(errors, fmt.Errorf("quic: both cert_file and key_file must be set, or neither"))
	}
	return errors
}
