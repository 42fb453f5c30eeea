package nat

import (
	"errors"
	"net"
	"net/url"
	"time"

	"github.com/huin/goupnp/dcps/internetgateway1"
	"github.com/huin/goupnp/dcps/internetgateway2"
)

// igdClient is the subset shared by the WANIPConnection and WANPPPConnection
// clients of both IGD versions.
type igdClient interface {
	AddPortMapping(
		NewRemoteHost string,
		NewExternalPort uint16,
		NewProtocol string,
		NewInternalPort uint16,
		NewInternalClient string,
		NewEnabled bool,
		NewPortMappingDescription string,
		NewLeaseDuration uint32,
	) error
	DeletePortMapping(NewRemoteHost string, NewExternalPort uint16, NewProtocol string) error
	GetExternalIPAddress() (string, error)
}

type upnpMapper struct {
	client  igdClient
	localIP string
}

var errNoIGD = errors.New("upnp: no internet gateway device")

// discoverUPnP tries IGDv2 before IGDv1, IP connections before PPP.
func discoverUPnP(_ time.Duration) (mapper, error) {
	if clients, _, err := internetgateway2.NewWANIPConnection1Clients(); err == nil && len(clients) > 0 {
		return newUPnPMapper(clients[0], clients[0].Location)
	}
	if clients, _, err := internetgateway2.NewWANPPPConnection1Clients(); err == nil && len(clients) > 0 {
		return newUPnPMapper(clients[0], clients[0].Location)
	}
	if clients, _, err := internetgateway1.NewWANIPConnection1Clients(); err == nil && len(clients) > 0 {
		return newUPnPMapper(clients[0], clients[0].Location)
	}
	if clients, _, err := internetgateway1.NewWANPPPConnection1Clients(); err == nil && len(clients) > 0 {
		return newUPnPMapper(clients[0], clients[0].Location)
	}
	return nil, errNoIGD
}

func newUPnPMapper(client igdClient, location *url.URL) (*upnpMapper, error) {
	host := ""
	if location != nil {
		host = location.Host
	}
	ip, err := localIPToward(host)
	if err != nil {
		return nil, err
	}
	return &upnpMapper{client: client, localIP: ip.String()}, nil
}

func (u *upnpMapper) method() string { return "upnp" }

// addMapping requests a permanent mapping to the same external port; the
// lifetime argument is ignored because many IGDs reject finite leases.
func (u *upnpMapper) addMapping(proto string, port int, _ time.Duration) (Mapping, error) {
	err := u.client.AddPortMapping("", uint16(port), proto, uint16(port), u.localIP, true, Description, 0)
	if err != nil {
		return Mapping{}, err
	}

	extIP, err := u.client.GetExternalIPAddress()
	if err != nil {
		extIP = ""
	}
	return Mapping{
		Method:       u.method(),
		Protocol:     proto,
		InternalPort: port,
		ExternalPort: port,
		ExternalIP:   extIP,
	}, nil
}

func (u *upnpMapper) deleteMapping(m Mapping) error {
	return u.client.DeletePortMapping("", uint16(m.ExternalPort), m.Protocol)
}

// localIPToward returns the local address used to reach host (host:port),
// falling back to the default route when host is empty.
func localIPToward(host string) (net.IP, error) {
	if host == "" {
		host = "8.8.8.8:80"
	}
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "80")
	}
	// UDP dial sends nothing; it only selects a route.
	conn, err := net.Dial("udp", host)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP, nil
}
