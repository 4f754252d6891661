// Package conf loads the relay's INI configuration file around
// gopkg.in/ini.v1, with a setDefaults()/validate() []error pattern per
// section: [coding], [tun], [config]/[routeN], plus the additive
// [transport] section covering the pluggable next-hop backend.
package conf

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"
)

// Conf is the fully parsed, defaulted, and validated configuration.
type Conf struct {
	Coding    Coding
	Tun       Tun
	Routes    []Route
	Transport Transport
}

// LoadFromFile reads and validates path as an INI configuration file.
func LoadFromFile(path string) (*Conf, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("conf: load %s: %w", path, err)
	}

	var c Conf
	if err := f.Section("coding").MapTo(&c.Coding); err != nil {
		return nil, fmt.Errorf("conf: section [coding]: %w", err)
	}
	if err := f.Section("tun").MapTo(&c.Tun); err != nil {
		return nil, fmt.Errorf("conf: section [tun]: %w", err)
	}
	if err := f.Section("transport").MapTo(&c.Transport); err != nil {
		return nil, fmt.Errorf("conf: section [transport]: %w", err)
	}
	if f.Section("transport").HasKey("kcp_mtu") || strings.EqualFold(c.Transport.Protocol, "kcp") {
		c.Transport.KCP = &KCP{}
		if err := f.Section("kcp").MapTo(c.Transport.KCP); err != nil {
			return nil, fmt.Errorf("conf: section [kcp]: %w", err)
		}
	}
	if strings.EqualFold(c.Transport.Protocol, "quic") {
		c.Transport.QUIC = &QUIC{}
		if err := f.Section("quic").MapTo(c.Transport.QUIC); err != nil {
			return nil, fmt.Errorf("conf: section [quic]: %w", err)
		}
	}

	routes, err := loadRoutes(f)
	if err != nil {
		return nil, err
	}
	c.Routes = routes

	c.setDefaults()
	if err := c.validate(); err != nil {
		return &c, err
	}
	return &c, nil
}

// loadRoutes reads [config] route_count and the route_count numbered
// [routeN] sections that follow, per the system's external interfaces.
func loadRoutes(f *ini.File) ([]Route, error) {
	count := f.Section("config").Key("route_count").MustInt(0)
	routes := make([]Route, 0, count)
	for i := 0; i < count; i++ {
		name := "route" + strconv.Itoa(i)
		sec, err := f.GetSection(name)
		if err != nil {
			return nil, fmt.Errorf("conf: missing section [%s] (route_count=%d)", name, count)
		}
		var r Route
		if err := sec.MapTo(&r); err != nil {
			return nil, fmt.Errorf("conf: section [%s]: %w", name, err)
		}
		routes = append(routes, r)
	}
	return routes, nil
}

func (c *Conf) setDefaults() {
	c.Coding.setDefaults()
	c.Tun.setDefaults()
	c.Transport.setDefaults()
	for i := range c.Routes {
		c.Routes[i].setDefaults()
	}
}

func (c *Conf) validate() error {
	var allErrors []error

	allErrors = append(allErrors, c.Coding.validate()...)
	allErrors = append(allErrors, c.Tun.validate()...)
	allErrors = append(allErrors, c.Transport.validate()...)
	for i := range c.Routes {
		for _, err := range c.Routes[i].validate() {
			allErrors = append(allErrors, fmt.Errorf("route%d: %w", i, err))
		}
	}

	return writeErr(allErrors)
}

func writeErr(allErrors []error) error {
	if len(allErrors) == 0 {
		return nil
	}
	var messages []string
	for _, err := range allErrors {
		messages = append(messages, err.Error())
	}
	return fmt.Errorf("validation failed:\n  - %s", strings.Join(messages, "\n  - "))
}
