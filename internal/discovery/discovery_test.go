package discovery

import (
	"net"
	"strings"
	"testing"

	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/assert"
)

func entry(instance string, port int) *zeroconf.ServiceEntry {
	e := zeroconf.NewServiceEntry(instance, Service, "local.")
	e.Port = port
	return e
}

func TestRelayFromEntry(t *testing.T) {
	v4 := entry("a", 8000)
	v4.AddrIPv4 = []net.IP{net.ParseIP("192.168.1.5")}

	v6 := entry("b", 8000)
	v6.AddrIPv6 = []net.IP{net.ParseIP("fe80::1")}

	named := entry("c", 9000)
	named.HostName = "box.local."
	named.Text = []string{"txtv=1", "path=/relay/"}

	tests := []struct {
		in   *zeroconf.ServiceEntry
		want string
	}{
		{v4, "http://192.168.1.5:8000"},
		{v6, "http://[fe80::1]:8000"},
		{named, "http://box.local:9000/relay"},
	}
	for _, tt := range tests {
		r, ok := relayFromEntry(tt.in)
		assert.True(t, ok, tt.in.Instance)
		assert.Equal(t, tt.want, r.URL)
		assert.Equal(t, tt.in.Instance, r.Instance)
	}

	_, ok := relayFromEntry(entry("noaddr", 8000))
	assert.False(t, ok)
	_, ok = relayFromEntry(nil)
	assert.False(t, ok)
}

func TestSortRelays(t *testing.T) {
	got := sortRelays(map[string]Relay{"b": {Instance: "b"}, "a": {Instance: "a"}})
	assert.Equal(t, []Relay{{Instance: "a"}, {Instance: "b"}}, got)
}

func TestInstanceName(t *testing.T) {
	assert.Equal(t, "mine", InstanceName("mine"))
	assert.True(t, strings.HasPrefix(InstanceName(""), "codeshare-"))
}
