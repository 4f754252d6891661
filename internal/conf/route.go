package conf

import (
	"fmt"
	"net"
)

// Route is one [routeN] section: destination, mask, nexthop, metric.
type Route struct {
	Destination string `ini:"destination"`
	Mask        int    `ini:"mask"`
	NextHop     string `ini:"nexthop"`
	Metric      int    `ini:"metric"`
}

func (r *Route) setDefaults() {
	if r.Mask == 0 && r.Destination == "0.0.0.0" {
		r.Mask = 0
	}
}

func (r *Route) validate() []error {
	var errors []error
	if net.ParseIP(r.Destination) == nil {
		errors = append(errors, fmt.Errorf("destination: invalid IP %q", r.Destination))
	}
	if r.Mask < 0 || r.Mask > 32 {
		errors = append(errors, fmt.Errorf("mask: must be between 0 and 32, got %d", r.Mask))
	}
	if net.ParseIP(r.NextHop) == nil {
		errors = append(errors, fmt.Errorf("nexthop: invalid IP %q", r.NextHop))
	}
	return errors
}
