package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTOML = `
[common]
database-dir = "omoi-db"

[[dhcp4.subnet]]
subnet = "192.168.0.0"
netmask = "255.255.255.0"
range = ["192.168.0.101", "192.168.0.250"]
domain-name-servers = ["192.168.0.1"]
routers = ["192.168.0.1"]
broadcast-address = "192.168.0.255"
address-lease-time = 172800

[[dhcp4.host]]
name = "aoi"
hardware-ethernet = "dc:a6:32:e6:0f:44"
fixed-address = "192.168.1.15"

[http]
addr = ":5512"
`

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "omoi.conf")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadAndResolve(t *testing.T) {
	path := writeTemp(t, sampleTOML)

	conf, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "omoi-db", conf.Common.DatabaseDir)
	assert.Equal(t, ":5512", conf.HTTP.Addr)

	subnet, hosts, err := conf.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "192.168.0.101", subnet.RangeLo.String())
	assert.Equal(t, "192.168.0.250", subnet.RangeHi.String())
	assert.Equal(t, uint32(172800), subnet.AddressLeaseTime)
	require.Len(t, hosts, 1)
	assert.Equal(t, "192.168.1.15", hosts[0].FixedAddress.String())
	assert.Equal(t, "dc:a6:32:e6:0f:44", hosts[0].HardwareEthernet.String())
}

func TestResolveRequiresExactlyOneSubnet(t *testing.T) {
	conf := &Config{Common: Common{DatabaseDir: "db"}}
	_, _, err := conf.Resolve()
	assert.Error(t, err)

	conf.Dhcp4.Subnets = []Subnet{{}, {}}
	_, _, err = conf.Resolve()
	assert.Error(t, err)
}

func TestPathEnvOverride(t *testing.T) {
	t.Setenv(EnvPath, "")
	assert.Equal(t, DefaultPath, Path())

	t.Setenv(EnvPath, "/tmp/custom.conf")
	assert.Equal(t, "/tmp/custom.conf", Path())
}
