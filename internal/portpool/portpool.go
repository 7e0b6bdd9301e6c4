/*
Package portpool allocates backend listen ports shared by the Website
and Service Supervisors: both write into the same Config Store port
namespace, so allocation has to check both maps before handing out a
number, not just its own.
*/
package portpool

import (
	"fmt"
	"net"

	"github.com/odacrun/odac/internal/config"
	"github.com/odacrun/odac/internal/models"
)

// DefaultWebsiteMin is the lowest port handed out for a website backend.
const DefaultWebsiteMin = 10000

// DefaultServiceMin is the lowest port handed out for an "auto" service
// or recipe port, per spec: ports set to auto resolve to the next free
// port at or above 30000.
const DefaultServiceMin = 30000

const maxPort = 65000

// Next returns the lowest port at or above min that is not recorded in
// the Config Store's website/service maps and is currently bindable on
// the host, confirming the port is free by actually listening on it
// briefly rather than trusting the config alone (a process outside
// odac's bookkeeping may already hold it).
func Next(store *config.Store, min int) (int, error) {
	used := usedPorts(store)

	for port := min; port < maxPort; port++ {
		if used[port] {
			continue
		}
		if !bindable(port) {
			continue
		}
		return port, nil
	}
	return 0, fmt.Errorf("portpool: no free port at or above %d", min)
}

func usedPorts(store *config.Store) map[int]bool {
	used := make(map[int]bool)
	store.ViewWeb(func(sites map[string]models.Website) {
		for _, s := range sites {
			used[s.Port] = true
		}
	})
	store.ViewServices(func(services map[string]models.Service) {
		for _, svc := range services {
			for _, p := range svc.Ports {
				used[p.HostPort] = true
			}
		}
	})
	return used
}

func bindable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}
