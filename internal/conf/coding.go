package conf

import "fmt"

// Coding configures the Collector's batching policy: [coding]
// max_block_size, encode_threshold.
type Coding struct {
	MaxBlockSize    int `ini:"max_block_size"`
	EncodeThreshold int `ini:"encode_threshold"`
}

func (c *Coding) setDefaults() {
	if c.MaxBlockSize == 0 {
		c.MaxBlockSize = 65540
	}
	if c.EncodeThreshold == 0 {
		c.EncodeThreshold = 30000
	}
}

func (c *Coding) validate() []error {
	var errors []error
	if c.MaxBlockSize <= 0 {
		errors = append(errors, fmt.Errorf("coding.max_block_size must be positive"))
	}
	if c.EncodeThreshold <= 0 || c.EncodeThreshold >= c.MaxBlockSize {
		errors = append(errors, fmt.Errorf("coding.encode_threshold must be positive and less than max_block_size"))
	}
	return errors
}
