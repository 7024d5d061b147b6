package compose

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

// Labels docker compose puts on the containers it creates.
const (
	ProjectLabel = "com.docker.compose.project"
	ServiceLabel = "com.docker.compose.service"
)

type engineAPI interface {
	Ping(ctx context.Context) (types.Ping, error)
	ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error)
	Close() error
}

// ContainerStatus describes one container of a compose project.
type ContainerStatus struct {
	Name    string
	Service string
	Image   string
	State   string
	Status  string
	Ports   []string
}

// Inspector reads container state from the local docker engine.
type Inspector struct {
	client engineAPI
}

// NewInspector returns an inspector that connects lazily using the
// standard DOCKER_* environment.
func NewInspector() *Inspector {
	return &Inspector{}
}

func (i *Inspector) ensureClient() error {
	if i.client != nil {
		return nil
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return fmt.Errorf("failed to create Docker client: %w", err)
	}
	i.client = cli
	return nil
}

// Ping checks that the docker engine is reachable.
func (i *Inspector) Ping(ctx context.Context) error {
	if err := i.ensureClient(); err != nil {
		return err
	}
	if _, err := i.client.Ping(ctx); err != nil {
		return fmt.Errorf("docker engine is not reachable: %w", err)
	}
	return nil
}

// ProjectContainers lists every container, running or not, that belongs to
// the compose project, sorted by service then name.
func (i *Inspector) ProjectContainers(ctx context.Context, project string) ([]ContainerStatus, error) {
	if err := i.ensureClient(); err != nil {
		return nil, err
	}
	list, err := i.client.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", ProjectLabel+"="+project)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers of %s: %w", project, err)
	}

	out := make([]ContainerStatus, 0, len(list))
	for _, c := range list {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		out = append(out, ContainerStatus{
			Name:    name,
			Service: c.Labels[ServiceLabel],
			Image:   c.Image,
			State:   c.State,
			Status:  c.Status,
			Ports:   formatPorts(c.Ports),
		})
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Service != out[b].Service {
			return out[a].Service < out[b].Service
		}
		return out[a].Name < out[b].Name
	})
	return out, nil
}

// Close releases the docker client.
func (i *Inspector) Close() error {
	if i.client == nil {
		return nil
	}
	return i.client.Close()
}

// formatPorts renders ports the way "docker ps" does, e.g. "0.0.0.0:8080->80/tcp",
// ordered by container port.
func formatPorts(ports []types.Port) []string {
	bindings := make(nat.PortMap)
	for _, p := range ports {
		port, err := nat.NewPort(p.Type, strconv.Itoa(int(p.PrivatePort)))
		if err != nil {
			continue
		}
		if _, ok := bindings[port]; !ok {
			bindings[port] = nil
		}
		if p.PublicPort == 0 {
			continue
		}
		b := nat.PortBinding{HostIP: p.IP, HostPort: strconv.Itoa(int(p.PublicPort))}
		if !slices.Contains(bindings[port], b) {
			bindings[port] = append(bindings[port], b)
		}
	}

	keys := make([]nat.Port, 0, len(bindings))
	for port := range bindings {
		keys = append(keys, port)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Int() != keys[j].Int() {
			return keys[i].Int() < keys[j].Int()
		}
		return keys[i].Proto() < keys[j].Proto()
	})

	var out []string
	for _, port := range keys {
		bound := bindings[port]
		if len(bound) == 0 {
			out = append(out, string(port))
			continue
		}
		sort.Slice(bound, func(i, j int) bool {
			if bound[i].HostIP != bound[j].HostIP {
				return bound[i].HostIP < bound[j].HostIP
			}
			return bound[i].HostPort < bound[j].HostPort
		})
		for _, b := range bound {
			out = append(out, fmt.Sprintf("%s:%s->%s", b.HostIP, b.HostPort, port))
		}
	}
	return out
}

// Running reports whether every container is in the running state.
func Running(containers []ContainerStatus) bool {
	if len(containers) == 0 {
		return false
	}
	for _, c := range containers {
		if c.State != "running" {
			return false
		}
	}
	return true
}
