package hub

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/jaakkos/deaddrop/internal/policy"
)

// roomPort is the port the room server listens on inside its container.
const roomPort = 9400

// ContainerRunner abstracts the container engine so spawner logic is
// testable without a Docker daemon.
type ContainerRunner interface {
	Start(ctx context.Context, room Room) (containerID string, err error)
	Stop(ctx context.Context, containerID string) error
}

// Spawner provisions and tears down rooms: registry row, container, archive.
type Spawner struct {
	registry *Registry
	runner   ContainerRunner
	archiver *Archiver
	cfg      *policy.HubConfig
	logger   *log.Logger
}

// NewSpawner wires the room lifecycle together.
func NewSpawner(registry *Registry, runner ContainerRunner, archiver *Archiver,
	cfg *policy.HubConfig, logger *log.Logger) *Spawner {
	return &Spawner{registry: registry, runner: runner, archiver: archiver, cfg: cfg, logger: logger}
}

// OpenRoom allocates a room and starts its container. Returns the room with
// its assigned port and token; the room's data directory is created on the
// host so the container can bind-mount it.
func (s *Spawner) OpenRoom(ctx context.Context, name, team string) (Room, error) {
	room, err := s.registry.CreateRoom(name, team)
	if err != nil {
		return Room{}, err
	}
	if err := os.MkdirAll(filepath.Dir(room.DBPath), 0o755); err != nil {
		return Room{}, fmt.Errorf("open room: %w", err)
	}
	containerID, err := s.runner.Start(ctx, room)
	if err != nil {
		return Room{}, fmt.Errorf("open room %q: %w", name, err)
	}
	if err := s.registry.SetContainer(name, containerID); err != nil {
		return Room{}, err
	}
	room.ContainerID = containerID
	s.logger.Printf("Room %q opened: port=%d container=%.12s", name, room.Port, containerID)
	return room, nil
}

// CloseRoom stops a room's container, archives its store file, and marks the
// room archived. The archive index path is returned.
func (s *Spawner) CloseRoom(ctx context.Context, name string) (string, error) {
	room, err := s.registry.GetRoom(name)
	if err != nil {
		return "", err
	}
	if room.Status != RoomRunning {
		return "", fmt.Errorf("room %q is not running", name)
	}
	if room.Pinned {
		return "", fmt.Errorf("room %q is pinned; unpin before archiving", name)
	}
	if room.ContainerID != "" {
		if err := s.runner.Stop(ctx, room.ContainerID); err != nil {
			s.logger.Printf("Room %q: container stop: %v", name, err)
		}
	}
	indexPath, err := s.archiver.Archive(room)
	if err != nil {
		return "", fmt.Errorf("close room %q: %w", name, err)
	}
	if err := s.registry.MarkArchived(name); err != nil {
		return "", err
	}
	s.logger.Printf("Room %q closed and archived: %s", name, indexPath)
	return indexPath, nil
}

// DestroyRoom stops a room's container and deletes its data without
// archiving. Running and archived rooms can be destroyed; pinned rooms
// cannot.
func (s *Spawner) DestroyRoom(ctx context.Context, name string) error {
	room, err := s.registry.GetRoom(name)
	if err != nil {
		return err
	}
	if room.Status == RoomDestroyed {
		return fmt.Errorf("room %q is already destroyed", name)
	}
	if room.Pinned {
		return fmt.Errorf("room %q is pinned; unpin before destroying", name)
	}
	if room.Status == RoomRunning && room.ContainerID != "" {
		if err := s.runner.Stop(ctx, room.ContainerID); err != nil {
			s.logger.Printf("Room %q: container stop: %v", name, err)
		}
	}
	if err := os.RemoveAll(filepath.Dir(room.DBPath)); err != nil {
		return fmt.Errorf("destroy room %q: %w", name, err)
	}
	if err := s.registry.MarkDestroyed(name); err != nil {
		return err
	}
	s.logger.Printf("Room %q destroyed", name)
	return nil
}

// URL returns the address agents connect to for a room.
func (s *Spawner) URL(room Room) string {
	return fmt.Sprintf("http://%s:%d/mcp", s.cfg.AdvertiseHost, room.Port)
}

// DockerRunner runs rooms as containers on a local Docker daemon.
type DockerRunner struct {
	cli    *client.Client
	cfg    *policy.HubConfig
	logger *log.Logger
}

// NewDockerRunner creates a Docker-backed runner with API version
// negotiation.
func NewDockerRunner(cfg *policy.HubConfig, logger *log.Logger) (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &DockerRunner{cli: cli, cfg: cfg, logger: logger}, nil
}

// Close releases the Docker client.
func (d *DockerRunner) Close() error { return d.cli.Close() }

// Start creates and starts one room container: the room image, the room's
// host data directory bind-mounted at /data, the room port published on the
// host, and the room identity injected as environment.
func (d *DockerRunner) Start(ctx context.Context, room Room) (string, error) {
	port, err := nat.NewPort("tcp", fmt.Sprintf("%d", roomPort))
	if err != nil {
		return "", fmt.Errorf("room port: %w", err)
	}
	containerCfg := &container.Config{
		Image: d.cfg.RoomImage,
		Env: []string{
			"DB_PATH=/data/messages.db",
			"ROOM_TOKEN=" + room.Token,
			"ROOM_ID=" + room.Name,
			"HOST=0.0.0.0",
			fmt.Sprintf("PORT=%d", roomPort),
		},
		ExposedPorts: nat.PortSet{port: struct{}{}},
		Labels: map[string]string{
			"dead-drop.room": room.Name,
			"dead-drop.team": room.Team,
		},
	}
	hostCfg := &container.HostConfig{
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: filepath.Dir(room.DBPath),
			Target: "/data",
		}},
		PortBindings: nat.PortMap{
			port: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: fmt.Sprintf("%d", room.Port)}},
		},
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
	}

	name := "dead-drop-room-" + room.Name
	resp, err := d.cli.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("container create: %w", err)
	}
	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// Don't leave a created-but-dead container behind.
		_ = d.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("container start: %w", err)
	}
	d.logger.Printf("Container %.12s started for room %q", resp.ID, room.Name)
	return resp.ID, nil
}

// Stop stops and removes a room container.
func (d *DockerRunner) Stop(ctx context.Context, containerID string) error {
	timeout := int((10 * time.Second).Seconds())
	if err := d.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("container stop: %w", err)
	}
	if err := d.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{RemoveVolumes: true}); err != nil {
		return fmt.Errorf("container remove: %w", err)
	}
	return nil
}
