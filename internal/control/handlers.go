package control

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/odacrun/odac/internal/audit"
	"github.com/odacrun/odac/internal/config"
	"github.com/odacrun/odac/internal/firewall"
	"github.com/odacrun/odac/internal/models"
	"github.com/odacrun/odac/internal/service"
	"github.com/odacrun/odac/internal/website"
)

// Dependencies groups every collaborator the builtin action table
// dispatches into. Passing one struct keeps RegisterBuiltins stable as
// actions are added.
type Dependencies struct {
	Store    *config.Store
	Websites *website.Supervisor
	Services *service.Supervisor
	Firewall *firewall.Guard
	Audit    *audit.Log
	Shutdown func()
}

// recordMutation appends an entry to the audit log. deps.Audit already
// warn-logs its own failures, so a missed row never fails the mutation
// it describes.
func recordMutation(deps Dependencies, module, subject, action, message string) {
	if deps.Audit == nil {
		return
	}
	_ = deps.Audit.Record(module, subject, action, message)
}

// RegisterBuiltins wires the dotted action namespace described by the
// wire protocol (web.*, service.*, firewall.*, ssl.*, server.*) into s.
func RegisterBuiltins(s *Server, deps Dependencies) {
	s.Register("web.create", handleWebCreate(deps))
	s.Register("web.start", handleWebStart(deps))
	s.Register("web.delete", handleWebDelete(deps))
	s.Register("web.list", handleWebList(deps))

	s.Register("service.install", handleServiceInstall(deps))
	s.Register("service.start", handleServiceStart(deps))
	s.Register("service.stop", handleServiceStop(deps))
	s.Register("service.delete", handleServiceDelete(deps))
	s.Register("service.list", handleServiceList(deps))

	s.Register("firewall.block", handleFirewallMutate(deps, "block", (*firewall.Guard).AddBlock))
	s.Register("firewall.unblock", handleFirewallMutate(deps, "unblock", (*firewall.Guard).RemoveBlock))
	s.Register("firewall.whitelist", handleFirewallMutate(deps, "whitelist", (*firewall.Guard).AddWhitelist))
	s.Register("firewall.unwhitelist", handleFirewallMutate(deps, "unwhitelist", (*firewall.Guard).RemoveWhitelist))

	s.Register("ssl.renew", handleSSLRenew(deps))

	s.Register("server.stop", handleServerStop(deps))
}

func decodeString(data []json.RawMessage, index int) (string, error) {
	if index >= len(data) {
		return "", fmt.Errorf("control: missing argument %d", index)
	}
	var value string
	if err := json.Unmarshal(data[index], &value); err != nil {
		return "", fmt.Errorf("control: argument %d is not a string", index)
	}
	if value == "" {
		return "", fmt.Errorf("control: argument %d must not be empty", index)
	}
	return value, nil
}

func handleWebCreate(deps Dependencies) Handler {
	return func(progress ProgressFunc, data []json.RawMessage) (any, error) {
		domain, err := decodeString(data, 0)
		if err != nil {
			return nil, err
		}
		if err := deps.Websites.Create(domain, website.ProgressFunc(progress)); err != nil {
			return nil, err
		}
		recordMutation(deps, "web", domain, "create", "website created")
		return fmt.Sprintf("Website %s created.", domain), nil
	}
}

func handleWebStart(deps Dependencies) Handler {
	return func(progress ProgressFunc, data []json.RawMessage) (any, error) {
		domain, err := decodeString(data, 0)
		if err != nil {
			return nil, err
		}
		if err := deps.Websites.Start(context.Background(), domain); err != nil {
			return nil, err
		}
		recordMutation(deps, "web", domain, "start", "website started")
		return fmt.Sprintf("Website %s started.", domain), nil
	}
}

func handleWebDelete(deps Dependencies) Handler {
	return func(progress ProgressFunc, data []json.RawMessage) (any, error) {
		domain, err := decodeString(data, 0)
		if err != nil {
			return nil, err
		}
		if err := deps.Websites.Delete(context.Background(), domain); err != nil {
			return nil, err
		}
		recordMutation(deps, "web", domain, "delete", "website deleted")
		return fmt.Sprintf("Website %s deleted.", domain), nil
	}
}

func handleWebList(deps Dependencies) Handler {
	return func(progress ProgressFunc, data []json.RawMessage) (any, error) {
		var sites []models.Website
		deps.Store.ViewWeb(func(all map[string]models.Website) {
			for _, site := range all {
				sites = append(sites, site)
			}
		})
		return sites, nil
	}
}

func handleServiceInstall(deps Dependencies) Handler {
	return func(progress ProgressFunc, data []json.RawMessage) (any, error) {
		recipe, err := decodeString(data, 0)
		if err != nil {
			return nil, err
		}
		name, err := decodeString(data, 1)
		if err != nil {
			return nil, err
		}
		svc, err := deps.Services.InstallRecipe(recipe, name)
		if err != nil {
			return nil, err
		}
		recordMutation(deps, "service", svc.ID, "install", fmt.Sprintf("installed from recipe %q as %q", recipe, name))
		return svc, nil
	}
}

func handleServiceStart(deps Dependencies) Handler {
	return func(progress ProgressFunc, data []json.RawMessage) (any, error) {
		id, err := decodeString(data, 0)
		if err != nil {
			return nil, err
		}
		if err := deps.Services.Start(context.Background(), id); err != nil {
			return nil, err
		}
		recordMutation(deps, "service", id, "start", "service started")
		return fmt.Sprintf("Service %s started.", id), nil
	}
}

func handleServiceStop(deps Dependencies) Handler {
	return func(progress ProgressFunc, data []json.RawMessage) (any, error) {
		id, err := decodeString(data, 0)
		if err != nil {
			return nil, err
		}
		if err := deps.Services.Stop(context.Background(), id); err != nil {
			return nil, err
		}
		recordMutation(deps, "service", id, "stop", "service stopped")
		return fmt.Sprintf("Service %s stopped.", id), nil
	}
}

func handleServiceDelete(deps Dependencies) Handler {
	return func(progress ProgressFunc, data []json.RawMessage) (any, error) {
		id, err := decodeString(data, 0)
		if err != nil {
			return nil, err
		}
		if err := deps.Services.Delete(context.Background(), id); err != nil {
			return nil, err
		}
		recordMutation(deps, "service", id, "delete", "service deleted")
		return fmt.Sprintf("Service %s deleted.", id), nil
	}
}

func handleServiceList(deps Dependencies) Handler {
	return func(progress ProgressFunc, data []json.RawMessage) (any, error) {
		var services []models.Service
		deps.Store.ViewServices(func(all map[string]models.Service) {
			for _, svc := range all {
				services = append(services, svc)
			}
		})
		return services, nil
	}
}

// handleFirewallMutate adapts a Guard method taking a single ip string
// into a Handler, shared by block/unblock/whitelist/unwhitelist.
func handleFirewallMutate(deps Dependencies, action string, mutate func(*firewall.Guard, string)) Handler {
	return func(progress ProgressFunc, data []json.RawMessage) (any, error) {
		ip, err := decodeString(data, 0)
		if err != nil {
			return nil, err
		}
		mutate(deps.Firewall, ip)
		recordMutation(deps, "firewall", ip, action, fmt.Sprintf("firewall %s applied to %s", action, ip))
		return fmt.Sprintf("%s updated.", ip), nil
	}
}

func handleSSLRenew(deps Dependencies) Handler {
	return func(progress ProgressFunc, data []json.RawMessage) (any, error) {
		domain, err := decodeString(data, 0)
		if err != nil {
			return nil, err
		}
		if err := deps.Websites.Renew(domain); err != nil {
			return nil, err
		}
		recordMutation(deps, "ssl", domain, "renew", "certificate renewed")
		return fmt.Sprintf("Certificate for %s renewed.", domain), nil
	}
}

func handleServerStop(deps Dependencies) Handler {
	return func(progress ProgressFunc, data []json.RawMessage) (any, error) {
		if deps.Shutdown != nil {
			go deps.Shutdown()
		}
		return "Server stopping.", nil
	}
}
