package nat

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jackpal/gateway"
	natpmp "github.com/jackpal/go-nat-pmp"
)

// natpmpLifetime is requested from NAT-PMP gateways, which do not grant
// permanent mappings. The forwarder renews at half of it.
const natpmpLifetime = 2 * time.Hour

// natpmpClient is the subset of *natpmp.Client the mapper uses.
type natpmpClient interface {
	AddPortMapping(protocol string, internalPort, requestedExternalPort int, lifetime int) (*natpmp.AddPortMappingResult, error)
	GetExternalAddress() (*natpmp.GetExternalAddressResult, error)
}

type natpmpMapper struct {
	client natpmpClient
}

func discoverNATPMP(timeout time.Duration) (mapper, error) {
	gw, err := gateway.DiscoverGateway()
	if err != nil {
		return nil, fmt.Errorf("natpmp: discover gateway: %w", err)
	}
	client := natpmp.NewClientWithTimeout(gw, timeout)
	// Probe so a gateway without NAT-PMP fails discovery instead of mapping.
	if _, err := client.GetExternalAddress(); err != nil {
		return nil, fmt.Errorf("natpmp: gateway %s: %w", gw, err)
	}
	return &natpmpMapper{client: client}, nil
}

func (n *natpmpMapper) method() string { return "natpmp" }

func (n *natpmpMapper) addMapping(proto string, port int, lifetime time.Duration) (Mapping, error) {
	if lifetime <= 0 {
		lifetime = natpmpLifetime
	}
	res, err := n.client.AddPortMapping(strings.ToLower(proto), port, port, int(lifetime.Seconds()))
	if err != nil {
		return Mapping{}, err
	}

	extIP := ""
	if addr, err := n.client.GetExternalAddress(); err == nil {
		extIP = net.IP(addr.ExternalIPAddress[:]).String()
	}
	return Mapping{
		Method:       n.method(),
		Protocol:     proto,
		InternalPort: int(res.InternalPort),
		ExternalPort: int(res.MappedExternalPort),
		ExternalIP:   extIP,
		Lifetime:     time.Duration(res.PortMappingLifetimeInSeconds) * time.Second,
	}, nil
}

// deleteMapping requests a zero lifetime, which NAT-PMP defines as removal.
func (n *natpmpMapper) deleteMapping(m Mapping) error {
	_, err := n.client.AddPortMapping(strings.ToLower(m.Protocol), m.InternalPort, 0, 0)
	return err
}
