//go:build integration

// Package firestoretest hands integration tests a provider bound to a Firestore emulator.
package firestoretest

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	pconfig "github.com/solarshop/api/internal/platform/config"
	pfirestore "github.com/solarshop/api/internal/platform/firestore"
)

const (
	emulatorImage  = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"
	readyTimeout   = 30 * time.Second
	emulatorEnvVar = "FIRESTORE_EMULATOR_HOST"
)

// NewProvider returns a provider for projectID. An emulator already advertised through
// FIRESTORE_EMULATOR_HOST is reused; otherwise one is started in docker and removed when the
// test ends. The test is skipped when neither is possible.
func NewProvider(t *testing.T, projectID string) *pfirestore.Provider {
	t.Helper()

	endpoint := strings.TrimSpace(os.Getenv(emulatorEnvVar))
	if endpoint == "" {
		endpoint = startDockerEmulator(t)
	}
	if err := awaitTCP(endpoint, readyTimeout); err != nil {
		t.Fatalf("firestore emulator at %s not reachable: %v", endpoint, err)
	}

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: projectID, EmulatorHost: endpoint})
	t.Cleanup(func() { _ = provider.Close(context.Background()) })
	return provider
}

func startDockerEmulator(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}
	if err := docker(5*time.Second, "info"); err != nil {
		t.Skip("docker daemon unavailable: " + err.Error())
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	_ = listener.Close()

	out, err := exec.Command("docker", "run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		emulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start", "--host-port=0.0.0.0:8080", "--quiet",
	).CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, out)
	}
	container := strings.TrimSpace(string(out))
	if container == "" {
		t.Fatalf("docker returned empty container id")
	}
	t.Cleanup(func() { _ = docker(10*time.Second, "stop", container) })

	return fmt.Sprintf("127.0.0.1:%d", port)
}

func docker(timeout time.Duration, args ...string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return exec.CommandContext(ctx, "docker", args...).Run()
}

func awaitTCP(endpoint string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			return conn.Close()
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(250 * time.Millisecond)
	}
}
