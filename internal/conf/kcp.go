package conf

import "fmt"

// KCP configures the kcp-go session multiplexed with smux when
// [transport] protocol = kcp.
type KCP struct {
	Key       string `ini:"key"`
	Block     string `ini:"block"`
	MTU       int    `ini:"mtu"`
	SndWnd    int    `ini:"sndwnd"`
	RcvWnd    int    `ini:"rcvwnd"`
	DataShard int    `ini:"datashard"`
	ParShard  int    `ini:"parshard"`
	NoDelay   int    `ini:"nodelay"`
	Interval  int    `ini:"interval"`
	Resend    int    `ini:"resend"`
	NoCongest int    `ini:"nc"`
	SmuxBuf   int    `ini:"smuxbuf"`
}

func (k *KCP) setDefaults() {
	if k.Block == "" {
		k.Block = "aes"
	}
	if k.MTU == 0 {
		k.MTU = 1400
	}
	if k.SndWnd == 0 {
		k.SndWnd = 1024
	}
	if k.RcvWnd == 0 {
		k.RcvWnd = 1024
	}
	if k.DataShard == 0 {
		k.DataShard = 10
	}
	if k.ParShard == 0 {
		k.ParShard = 3
	}
	if k.Interval == 0 {
		k.Interval = 20
	}
	if k.Resend == 0 {
		k.Resend = 2
	}
	if k.NoCongest == 0 {
		k.NoCongest = 1
	}
	if k.SmuxBuf == 0 {
		k.SmuxBuf = 8 * 1024 * 1024
	}
}

func (k *KCP) validate() []error {
	var errors []error
	if err := ValidateBlockAndKey(k.Block, k.Key); err != nil {
		errors = append(errors, fmt.Errorf("kcp: %w", err))
	}
	if k.MTU < 256 || k.MTU > 1500 {
		errors = append(errors, fmt.Errorf("kcp.mtu must be between 256 and 1500"))
	}
	return errors
}
