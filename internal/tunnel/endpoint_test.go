// Copyright 2026 Howard Hughes Medical Institute.
// Licensed under the AGPLv3, see LICENCE file for details.

package tunnel_test

import (
	"fmt"

	"github.com/juju/collections/set"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/JaneliaSciComp/ssh-cluster-tunnel-for-vscode/internal/tunnel"
)

type endpointSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&endpointSuite{})

var lsfUnset = set.NewStrings("-")

func (s *endpointSuite) TestParse(c *gc.C) {
	for i, t := range []struct {
		listing  string
		expected tunnel.Endpoint
	}{
		{"nodeA:40123\n", tunnel.Endpoint{Host: "nodeA", Port: 40123}},
		{"  e10u05.int.example.org:2222  ", tunnel.Endpoint{Host: "e10u05.int.example.org", Port: 2222}},
		{"4*nodeB:40123", tunnel.Endpoint{Host: "nodeB", Port: 40123}},
		{"nodeA:-", tunnel.Endpoint{}},
		{"-:40123", tunnel.Endpoint{}},
		{"-:-", tunnel.Endpoint{}},
		{"", tunnel.Endpoint{}},
		{"\n\n", tunnel.Endpoint{}},
		{"nodeA", tunnel.Endpoint{}},
		{"nodeA:", tunnel.Endpoint{}},
		{":40123", tunnel.Endpoint{}},
		{"nodeA:http", tunnel.Endpoint{}},
		{"nodeA:0", tunnel.Endpoint{}},
		{"nodeA:65536", tunnel.Endpoint{}},
		{"nodeA:40123:junk", tunnel.Endpoint{}},
		{"4*:40123", tunnel.Endpoint{}},
		// The last line is authoritative.
		{"nodeA:1111\nnodeB:2222\n", tunnel.Endpoint{Host: "nodeB", Port: 2222}},
		{"nodeA:1111\n-:-\n", tunnel.Endpoint{}},
		{"-:-\nnodeB:2222\n\n", tunnel.Endpoint{Host: "nodeB", Port: 2222}},
	} {
		c.Check(tunnel.ParseEndpoint(t.listing, lsfUnset), jc.DeepEquals, t.expected,
			gc.Commentf("test %d: %q", i, t.listing))
	}
}

func (s *endpointSuite) TestParseRoundTrip(c *gc.C) {
	for _, host := range []string{"nodeA", "h07u01", "e02u30.int.example.org", "10.36.1.7"} {
		for _, port := range []int{1, 22, 40123, 65535} {
			listing := fmt.Sprintf("%s:%d\n", host, port)
			c.Check(tunnel.ParseEndpoint(listing, lsfUnset), jc.DeepEquals,
				tunnel.Endpoint{Host: host, Port: port}, gc.Commentf("%q", listing))

			c.Check(tunnel.ParseEndpoint(fmt.Sprintf("%s:-", host), lsfUnset).Resolved(), jc.IsFalse)
			c.Check(tunnel.ParseEndpoint(fmt.Sprintf("-:%d", port), lsfUnset).Resolved(), jc.IsFalse)
		}
	}
}

func (s *endpointSuite) TestParseSlurmMarkers(c *gc.C) {
	unset := set.NewStrings("(null)", "n/a", "N/A")
	c.Check(tunnel.ParseEndpoint("n/a:(null)", unset).Resolved(), jc.IsFalse)
	c.Check(tunnel.ParseEndpoint("nodeA:(null)", unset).Resolved(), jc.IsFalse)
	c.Check(tunnel.ParseEndpoint("nodeA:40123", unset), jc.DeepEquals, tunnel.Endpoint{Host: "nodeA", Port: 40123})
}

func (s *endpointSuite) TestString(c *gc.C) {
	c.Check(tunnel.Endpoint{}.String(), gc.Equals, "unresolved")
	c.Check(tunnel.Endpoint{Host: "nodeA", Port: 40123}.String(), gc.Equals, "nodeA:40123")
	c.Check(tunnel.Endpoint{Host: "fe80::1", Port: 22}.String(), gc.Equals, "[fe80::1]:22")
}
