package compose

import (
	"context"
	"errors"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	pingErr    error
	containers []types.Container
	lastOpts   container.ListOptions
	closed     bool
}

func (f *fakeEngine) Ping(context.Context) (types.Ping, error) {
	return types.Ping{APIVersion: "1.47"}, f.pingErr
}

func (f *fakeEngine) ContainerList(_ context.Context, opts container.ListOptions) ([]types.Container, error) {
	f.lastOpts = opts
	return f.containers, nil
}

func (f *fakeEngine) Close() error {
	f.closed = true
	return nil
}

func TestInspector_ProjectContainers(t *testing.T) {
	engine := &fakeEngine{containers: []types.Container{
		{
			Names:  []string{"/gitea-server-1"},
			Image:  "gitea/gitea:1.22",
			State:  "running",
			Status: "Up 2 hours",
			Labels: map[string]string{ProjectLabel: "gitea", ServiceLabel: "server"},
			Ports: []types.Port{
				{IP: "0.0.0.0", PrivatePort: 3000, PublicPort: 3000, Type: "tcp"},
				{IP: "::", PrivatePort: 3000, PublicPort: 3000, Type: "tcp"},
				{PrivatePort: 22, Type: "tcp"},
			},
		},
		{
			Names:  []string{"/gitea-db-1"},
			Image:  "postgres:16",
			State:  "exited",
			Status: "Exited (1) 5 minutes ago",
			Labels: map[string]string{ProjectLabel: "gitea", ServiceLabel: "db"},
		},
	}}
	insp := &Inspector{client: engine}

	got, err := insp.ProjectContainers(context.Background(), "gitea")
	require.NoError(t, err)

	assert.True(t, engine.lastOpts.All)
	assert.Equal(t, []string{ProjectLabel + "=gitea"}, engine.lastOpts.Filters.Get("label"))

	require.Len(t, got, 2)
	assert.Equal(t, "db", got[0].Service)
	assert.Equal(t, "gitea-db-1", got[0].Name)
	assert.Equal(t, "server", got[1].Service)
	assert.Equal(t, []string{"22/tcp", "0.0.0.0:3000->3000/tcp", ":::3000->3000/tcp"}, got[1].Ports)

	assert.False(t, Running(got))
	assert.True(t, Running(got[1:]))
	assert.False(t, Running(nil))

	require.NoError(t, insp.Close())
	assert.True(t, engine.closed)
}

func TestInspector_Ping(t *testing.T) {
	insp := &Inspector{client: &fakeEngine{}}
	require.NoError(t, insp.Ping(context.Background()))

	insp = &Inspector{client: &fakeEngine{pingErr: errors.New("dial unix /var/run/docker.sock: connect: no such file")}}
	err := insp.Ping(context.Background())
	assert.ErrorContains(t, err, "not reachable")
}

func TestFormatPorts(t *testing.T) {
	tests := []struct {
		name  string
		ports []types.Port
		want  []string
	}{
		{name: "none", ports: nil, want: nil},
		{
			name: "ordered by container port, not text",
			ports: []types.Port{
				{PrivatePort: 8080, PublicPort: 8080, IP: "0.0.0.0", Type: "tcp"},
				{PrivatePort: 443, PublicPort: 8443, IP: "0.0.0.0", Type: "tcp"},
				{PrivatePort: 53, Type: "udp"},
				{PrivatePort: 53, Type: "tcp"},
			},
			want: []string{"53/tcp", "53/udp", "0.0.0.0:8443->443/tcp", "0.0.0.0:8080->8080/tcp"},
		},
		{
			name: "duplicate bindings collapse",
			ports: []types.Port{
				{PrivatePort: 80, PublicPort: 8000, IP: "0.0.0.0", Type: "tcp"},
				{PrivatePort: 80, PublicPort: 8000, IP: "0.0.0.0", Type: "tcp"},
				{PrivatePort: 80, Type: "tcp"},
			},
			want: []string{"0.0.0.0:8000->80/tcp"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatPorts(tt.ports))
		})
	}
}
