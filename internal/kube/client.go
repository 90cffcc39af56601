package kube

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/OldStager01/oke-autoscaler/internal/secrets"
)

var (
	ErrNoClient     = errors.New("kubernetes client unavailable")
	ErrDrainTimeout = errors.New("node drain timed out")
)

// ClientSource hands out a Kubernetes client for the current tick.
type ClientSource interface {
	Client(ctx context.Context) (kubernetes.Interface, error)
}

// KubeconfigLoader returns a kubeconfig document.
type KubeconfigLoader func(ctx context.Context) ([]byte, error)

// FileKubeconfig loads the kubeconfig from a local path.
func FileKubeconfig(path string) KubeconfigLoader {
	return func(ctx context.Context) ([]byte, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read kubeconfig %s: %w", path, err)
		}
		return data, nil
	}
}

// TokenClientSource builds clients from the cluster kubeconfig, replacing
// its credentials with the service account bearer token. The client is
// rebuilt whenever the token changes.
type TokenClientSource struct {
	loadKubeconfig KubeconfigLoader
	tokens         secrets.TokenProvider
	timeout        time.Duration

	mu         sync.Mutex
	kubeconfig []byte
	token      string
	client     kubernetes.Interface
}

func NewTokenClientSource(loader KubeconfigLoader, tokens secrets.TokenProvider, timeout time.Duration) *TokenClientSource {
	return &TokenClientSource{
		loadKubeconfig: loader,
		tokens:         tokens,
		timeout:        timeout,
	}
}

func (s *TokenClientSource) Client(ctx context.Context) (kubernetes.Interface, error) {
	token, err := s.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoClient, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil && s.token == token {
		return s.client, nil
	}

	if s.kubeconfig == nil {
		data, err := s.loadKubeconfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoClient, err)
		}
		s.kubeconfig = data
	}

	restConfig, err := clientcmd.RESTConfigFromKubeConfig(s.kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("failed to parse kubeconfig: %w", err)
	}
	restConfig.BearerToken = token
	restConfig.BearerTokenFile = ""
	restConfig.ExecProvider = nil
	restConfig.AuthProvider = nil
	restConfig.Username = ""
	restConfig.Password = ""
	if s.timeout > 0 {
		restConfig.Timeout = s.timeout
	}

	client, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}

	s.client = client
	s.token = token
	return client, nil
}

// StaticClientSource always returns the same client.
type StaticClientSource struct {
	Interface kubernetes.Interface
}

func (s StaticClientSource) Client(ctx context.Context) (kubernetes.Interface, error) {
	if s.Interface == nil {
		return nil, ErrNoClient
	}
	return s.Interface, nil
}
