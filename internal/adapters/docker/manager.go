package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"slices"
	"sort"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	"github.com/viorelcanja/v86-1/internal/core/domain"
	"github.com/viorelcanja/v86-1/internal/core/ports"
)

const containerPrefix = "fixturegen-worker-"

// Manager runs each worker in its own container. Directories named by the
// invocation are bind-mounted at identical paths so argument paths stay valid.
type Manager struct {
	cli    *client.Client
	logger *slog.Logger
	image  string
	grace  time.Duration
}

// NewManager creates a new Docker manager
func NewManager(logger *slog.Logger, image string, grace time.Duration) (*Manager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Manager{cli: cli, logger: logger, image: image, grace: grace}, nil
}

// Ensure Manager implements ports.Launcher
var _ ports.Launcher = (*Manager)(nil)

func (m *Manager) Launch(ctx context.Context, inv domain.Invocation, capture bool) (ports.Process, error) {
	name := containerPrefix + uuid.New().String()

	cfg := &container.Config{
		Image:        m.image,
		Cmd:          inv.Argv(),
		WorkingDir:   inv.Dir,
		Tty:          false,
		OpenStdin:    false,
		AttachStdout: capture,
		AttachStderr: capture,
		Labels:       containerLabels(inv.Labels),
	}

	hostCfg := &container.HostConfig{
		NetworkMode: "none",
		Mounts:      bindMounts(inv.Mounts),
	}

	resp, err := m.cli.ContainerCreate(ctx, cfg, hostCfg, &network.NetworkingConfig{}, nil, name)
	if client.IsErrNotFound(err) {
		reader, pullErr := m.cli.ImagePull(ctx, m.image, image.PullOptions{})
		if pullErr != nil {
			return nil, fmt.Errorf("failed to pull image %s: %w", m.image, pullErr)
		}
		_, _ = io.Copy(io.Discard, reader)
		reader.Close()
		resp, err = m.cli.ContainerCreate(ctx, cfg, hostCfg, &network.NetworkingConfig{}, nil, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	if err := m.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		m.remove(resp.ID)
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	c := &containerProcess{
		mgr:    m,
		id:     resp.ID,
		done:   make(chan struct{}),
		copied: make(chan struct{}),
	}

	if capture {
		// Logs outlive ctx: output written while stopping is still relayed.
		logs, err := m.cli.ContainerLogs(context.Background(), resp.ID, container.LogsOptions{
			ShowStdout: true,
			ShowStderr: true,
			Follow:     true,
		})
		if err != nil {
			m.stop(resp.ID)
			m.remove(resp.ID)
			return nil, fmt.Errorf("failed to attach container logs: %w", err)
		}
		outR, outW := io.Pipe()
		errR, errW := io.Pipe()
		c.stdout, c.stderr = outR, errR
		go func() {
			defer close(c.copied)
			defer logs.Close()
			_, copyErr := stdcopy.StdCopy(outW, errW, logs)
			outW.CloseWithError(copyErr)
			errW.CloseWithError(copyErr)
		}()
	} else {
		close(c.copied)
	}

	go c.stopOnCancel(ctx)

	m.logger.Debug("worker container started", "container", name, "worker", inv.Labels[domain.LabelWorker])
	return c, nil
}

// ReapStale removes containers left behind by earlier runs that died
// before cleaning up. Running containers may belong to a concurrent batch
// and are left alone.
func (m *Manager) ReapStale(ctx context.Context) (int, error) {
	containers, err := m.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: staleFilters(),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list containers: %w", err)
	}

	removed := 0
	for _, c := range containers {
		if !stale(c.State) {
			continue
		}
		err := m.cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true})
		if err != nil && !client.IsErrNotFound(err) {
			return removed, fmt.Errorf("failed to remove container %s: %w", c.ID, err)
		}
		m.logger.Info("removed stale worker container", "container", c.ID, "batch", c.Labels[domain.LabelBatch])
		removed++
	}
	return removed, nil
}

// Close releases the docker client.
func (m *Manager) Close() error {
	return m.cli.Close()
}

func (m *Manager) stop(id string) {
	timeout := stopTimeout(m.grace)
	if err := m.cli.ContainerStop(context.Background(), id, container.StopOptions{Timeout: &timeout}); err != nil && !client.IsErrNotFound(err) {
		m.logger.Warn("failed to stop container", "container", id, "error", err)
	}
}

func (m *Manager) remove(id string) {
	err := m.cli.ContainerRemove(context.Background(), id, container.RemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		m.logger.Warn("failed to remove container", "container", id, "error", err)
	}
}

type containerProcess struct {
	mgr    *Manager
	id     string
	stdout io.Reader
	stderr io.Reader
	done   chan struct{}
	copied chan struct{}
}

func (c *containerProcess) Stdout() io.Reader { return c.stdout }
func (c *containerProcess) Stderr() io.Reader { return c.stderr }

func (c *containerProcess) Wait() (int, error) {
	defer c.mgr.remove(c.id)
	defer close(c.done)

	statusCh, errCh := c.mgr.cli.ContainerWait(context.Background(), c.id, container.WaitConditionNotRunning)

	var (
		code int
		err  error
	)
	select {
	case status := <-statusCh:
		code = int(status.StatusCode)
		if status.Error != nil {
			err = fmt.Errorf("container wait: %s", status.Error.Message)
		}
	case waitErr := <-errCh:
		code, err = 1, fmt.Errorf("container wait: %w", waitErr)
	}

	<-c.copied
	return code, err
}

func (c *containerProcess) stopOnCancel(ctx context.Context) {
	select {
	case <-ctx.Done():
		c.mgr.stop(c.id)
	case <-c.done:
	}
}

func containerLabels(extra map[string]string) map[string]string {
	labels := map[string]string{domain.LabelManaged: "true"}
	for k, v := range extra {
		labels[k] = v
	}
	return labels
}

// bindMounts maps each host directory onto the same path inside the
// container, skipping duplicates.
func bindMounts(paths []string) []mount.Mount {
	seen := make(map[string]bool, len(paths))
	unique := make([]string, 0, len(paths))
	for _, p := range paths {
		if p == "" {
			continue
		}
		p = filepath.Clean(p)
		if seen[p] {
			continue
		}
		seen[p] = true
		unique = append(unique, p)
	}
	sort.Strings(unique)

	mounts := make([]mount.Mount, 0, len(unique))
	for _, p := range unique {
		mounts = append(mounts, mount.Mount{
			Type:   mount.TypeBind,
			Source: p,
			Target: p,
		})
	}
	return mounts
}

// staleStates are the container states that can no longer produce output.
var staleStates = []container.ContainerState{container.StateCreated, container.StateExited, container.StateDead}

// staleFilters selects managed containers that are not running.
func staleFilters() filters.Args {
	args := makeFilters(map[string]string{"label": domain.LabelManaged + "=true"})
	for _, s := range staleStates {
		args.Add("status", s)
	}
	return args
}

func stale(state container.ContainerState) bool {
	return slices.Contains(staleStates, state)
}

// stopTimeout rounds grace up to whole seconds; the daemon treats 0 as kill now.
func stopTimeout(grace time.Duration) int {
	return int(math.Ceil(grace.Seconds()))
}

// Helper to construct list filters
func makeFilters(m map[string]string) filters.Args {
	args := filters.NewArgs()
	for k, v := range m {
		args.Add(k, v)
	}
	return args
}
