package browser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	log "github.com/sirupsen/logrus"
)

const (
	// DefaultImage serves the DevTools protocol on port 3000.
	DefaultImage = "browserless/chrome:latest"

	managedBy   = "rostersync"
	devtoolPort = nat.Port("3000/tcp")

	readyInterval = 500 * time.Millisecond
	stopTimeout   = 10 // seconds

	// maxConnections is the session's chromedp connection plus one debug client.
	maxConnections = 2
)

// Container is a running browser container bound to one session.
type Container struct {
	ID         string
	SessionID  string
	Port       string
	ConnectURL string
}

// Pool starts and stops browser containers through the Docker API.
type Pool struct {
	client *client.Client
	image  string
	host   string
}

// NewPool connects to the Docker daemon configured in the environment.
func NewPool(image string) (*Pool, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	if image == "" {
		image = DefaultImage
	}

	return &Pool{
		client: cli,
		image:  image,
		host:   "localhost",
	}, nil
}

// Start creates a container for sessionID and blocks until its DevTools
// endpoint answers or ctx is done. A container that never gets ready is
// removed again.
func (p *Pool) Start(ctx context.Context, sessionID string) (*Container, error) {
	resp, err := p.client.ContainerCreate(ctx, p.containerConfig(sessionID), hostConfig(), nil, nil,
		fmt.Sprintf("rostersync-%s", shortID(sessionID)))
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	logger := log.WithField("session-id", sessionID).WithField("container", shortID(resp.ID))

	c, err := p.start(ctx, resp.ID, sessionID)
	if err != nil {
		// The caller's context may be the reason; clean up on a fresh one.
		rctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if rerr := p.remove(rctx, resp.ID); rerr != nil {
			logger.WithError(rerr).Warn("failed to remove container")
		}
		return nil, err
	}

	logger.WithField("port", c.Port).Info("browser container ready")
	return c, nil
}

// containerConfig admits chromedp plus one debug proxy client per browser.
func (p *Pool) containerConfig(sessionID string) *container.Config {
	return &container.Config{
		Image: p.image,
		Labels: map[string]string{
			"session-id": sessionID,
			"managed-by": managedBy,
		},
		Env: []string{
			"CONNECTION_TIMEOUT=-1",
			fmt.Sprintf("MAX_CONCURRENT_SESSIONS=%d", maxConnections),
			"PREBOOT_CHROME=true",
			"KEEP_ALIVE=true",
			"EXIT_ON_HEALTH_FAILURE=false",
		},
		ExposedPorts: nat.PortSet{
			devtoolPort: struct{}{},
		},
	}
}

func hostConfig() *container.HostConfig {
	return &container.HostConfig{
		PortBindings: nat.PortMap{
			devtoolPort: []nat.PortBinding{
				{HostIP: "127.0.0.1", HostPort: "0"},
			},
		},
	}
}

func (p *Pool) start(ctx context.Context, id, sessionID string) (*Container, error) {
	if err := p.client.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	inspect, err := p.client.ContainerInspect(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect container: %w", err)
	}

	bindings := inspect.NetworkSettings.Ports[devtoolPort]
	if len(bindings) == 0 {
		return nil, fmt.Errorf("container %s exposes no devtools port", shortID(id))
	}
	port := bindings[0].HostPort

	if err := p.waitReady(ctx, port); err != nil {
		return nil, fmt.Errorf("browser failed to become ready: %w", err)
	}

	return &Container{
		ID:         id,
		SessionID:  sessionID,
		Port:       port,
		ConnectURL: fmt.Sprintf("ws://%s:%s", p.host, port),
	}, nil
}

// Stop stops and removes a container.
func (p *Pool) Stop(ctx context.Context, containerID string) error {
	timeout := stopTimeout
	if err := p.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("failed to stop container: %w", err)
	}
	return p.remove(ctx, containerID)
}

func (p *Pool) remove(ctx context.Context, containerID string) error {
	if err := p.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

// Prune removes containers left behind by an earlier process and returns
// how many it removed.
func (p *Pool) Prune(ctx context.Context) (int, error) {
	list, err := p.client.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", "managed-by="+managedBy)),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list containers: %w", err)
	}

	removed := 0
	for _, c := range list {
		if err := p.remove(ctx, c.ID); err != nil {
			log.WithField("container", shortID(c.ID)).WithError(err).Warn("failed to prune container")
			continue
		}
		removed++
	}
	return removed, nil
}

// EnsureImage pulls the browser image unless it is present already.
func (p *Pool) EnsureImage(ctx context.Context) error {
	images, err := p.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return fmt.Errorf("failed to list images: %w", err)
	}

	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == p.image {
				return nil
			}
		}
	}

	log.WithField("image", p.image).Info("pulling browser image")
	reader, err := p.client.ImagePull(ctx, p.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

func (p *Pool) Close() error {
	return p.client.Close()
}

// waitReady polls /json/version until the browser answers.
func (p *Pool) waitReady(ctx context.Context, port string) error {
	url := fmt.Sprintf("http://%s:%s/json/version", p.host, port)

	ticker := time.NewTicker(readyInterval)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
