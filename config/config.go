// Package config loads the omoi4 TOML configuration file.
package config

import (
	"fmt"
	"net"
	"os"

	"github.com/BurntSushi/toml"
)

// DefaultPath is used when OMOI_CONFIG_PATH is unset.
const DefaultPath = "/etc/omoi.conf"

// EnvPath is the environment variable that overrides DefaultPath.
const EnvPath = "OMOI_CONFIG_PATH"

type Config struct {
	Common Common `toml:"common"`
	Dhcp4  Dhcp4  `toml:"dhcp4"`
	HTTP   HTTP   `toml:"http"`
}

type Common struct {
	DatabaseDir string `toml:"database-dir"`
}

type Dhcp4 struct {
	Subnets []Subnet `toml:"subnet"`
	Hosts   []Host   `toml:"host"`
}

type Subnet struct {
	Subnet            string    `toml:"subnet"`
	Netmask           string    `toml:"netmask"`
	Range             [2]string `toml:"range"`
	DomainNameServers []string  `toml:"domain-name-servers"`
	Routers           []string  `toml:"routers"`
	BroadcastAddress  string    `toml:"broadcast-address"`
	AddressLeaseTime  uint32    `toml:"address-lease-time"`
}

type Host struct {
	Name             string `toml:"name"`
	HardwareEthernet string `toml:"hardware-ethernet"`
	FixedAddress     string `toml:"fixed-address"`
}

type HTTP struct {
	Addr string `toml:"addr"`
}

// Path returns the configured path, honoring OMOI_CONFIG_PATH.
func Path() string {
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads and parses the TOML config at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var conf Config
	if err := toml.Unmarshal(b, &conf); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	return &conf, nil
}

// ResolvedSubnet is the subnet configuration in wire-ready form.
type ResolvedSubnet struct {
	Netmask           net.IP
	RangeLo           net.IP
	RangeHi           net.IP
	BroadcastAddress  net.IP
	Routers           []net.IP
	DomainNameServers []net.IP
	AddressLeaseTime  uint32
}

// ResolvedHost is a static reservation in wire-ready form.
type ResolvedHost struct {
	Name             string
	HardwareEthernet net.HardwareAddr
	FixedAddress     net.IP
}

// Resolve validates the config and converts string fields into net.IP /
// net.HardwareAddr values. Exactly one dhcp4.subnet must be configured.
func (c *Config) Resolve() (ResolvedSubnet, []ResolvedHost, error) {
	if len(c.Dhcp4.Subnets) != 1 {
		return ResolvedSubnet{}, nil, fmt.Errorf("dhcp4: expected exactly 1 subnet, got %d", len(c.Dhcp4.Subnets))
	}
	if c.Common.DatabaseDir == "" {
		return ResolvedSubnet{}, nil, fmt.Errorf("common.database-dir is required")
	}

	s := c.Dhcp4.Subnets[0]

	netmask := net.ParseIP(s.Netmask)
	if netmask == nil {
		return ResolvedSubnet{}, nil, fmt.Errorf("dhcp4.subnet: invalid netmask %q", s.Netmask)
	}
	lo := net.ParseIP(s.Range[0])
	if lo == nil {
		return ResolvedSubnet{}, nil, fmt.Errorf("dhcp4.subnet: invalid range[0] %q", s.Range[0])
	}
	hi := net.ParseIP(s.Range[1])
	if hi == nil {
		return ResolvedSubnet{}, nil, fmt.Errorf("dhcp4.subnet: invalid range[1] %q", s.Range[1])
	}
	broadcast := net.ParseIP(s.BroadcastAddress)
	if broadcast == nil {
		return ResolvedSubnet{}, nil, fmt.Errorf("dhcp4.subnet: invalid broadcast-address %q", s.BroadcastAddress)
	}

	routers, err := parseIPs(s.Routers)
	if err != nil {
		return ResolvedSubnet{}, nil, fmt.Errorf("dhcp4.subnet: routers: %w", err)
	}
	dns, err := parseIPs(s.DomainNameServers)
	if err != nil {
		return ResolvedSubnet{}, nil, fmt.Errorf("dhcp4.subnet: domain-name-servers: %w", err)
	}

	resolvedSubnet := ResolvedSubnet{
		Netmask:           netmask.To4(),
		RangeLo:           lo.To4(),
		RangeHi:           hi.To4(),
		BroadcastAddress:  broadcast.To4(),
		Routers:           routers,
		DomainNameServers: dns,
		AddressLeaseTime:  s.AddressLeaseTime,
	}

	hosts := make([]ResolvedHost, 0, len(c.Dhcp4.Hosts))
	for _, h := range c.Dhcp4.Hosts {
		hw, err := net.ParseMAC(h.HardwareEthernet)
		if err != nil {
			return ResolvedSubnet{}, nil, fmt.Errorf("dhcp4.host %q: invalid hardware-ethernet %q: %w", h.Name, h.HardwareEthernet, err)
		}
		fixed := net.ParseIP(h.FixedAddress)
		if fixed == nil {
			return ResolvedSubnet{}, nil, fmt.Errorf("dhcp4.host %q: invalid fixed-address %q", h.Name, h.FixedAddress)
		}
		hosts = append(hosts, ResolvedHost{
			Name:             h.Name,
			HardwareEthernet: hw,
			FixedAddress:     fixed.To4(),
		})
	}

	return resolvedSubnet, hosts, nil
}

func parseIPs(in []string) ([]net.IP, error) {
	out := make([]net.IP, 0, len(in))
	for _, s := range in {
		ip := net.ParseIP(s)
		if ip == nil {
			return nil, fmt.Errorf("invalid ip %q", s)
		}
		out = append(out, ip.To4())
	}
	return out, nil
}
