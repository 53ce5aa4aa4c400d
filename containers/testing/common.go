// Package testing provides testcontainers-based container setup for integration tests.
//
// This package uses testcontainers-go to create ephemeral containers for testing
// purposes. Containers are automatically cleaned up after tests complete.
//
// Key Features:
//   - Ephemeral containers with automatic cleanup
//   - Randomized port allocation to avoid conflicts
//   - Wait strategies for service readiness
//   - Integration test isolation
//
// Build Tags:
//
//	Integration tests using this package should use the integration build tag:
//	//go:build integration
//
// Example Usage:
//
//	func TestMyService(t *testing.T) {
//	    ctx := context.Background()
//	    connStr, cleanup, err := SetupPostgres(ctx, t, nil)
//	    require.NoError(t, err)
//	    defer cleanup()
//	    // Use connStr for testing...
//	}
package testing

import (
	"context"
	"fmt"

	"github.com/testcontainers/testcontainers-go"
)

// ContainerCleanup is a function type for cleaning up test containers.
// Call this function in defer to ensure containers are terminated after tests.
type ContainerCleanup func()

// createCleanupFunc creates a standardized cleanup function for testcontainers.
// This ensures consistent cleanup behavior across all container types.
//
// Parameters:
//   - ctx: Context for container operations
//   - container: The testcontainer to clean up
//   - containerType: Human-readable name for logging (e.g., "PostgreSQL", "Redis")
//
// Returns:
//   - ContainerCleanup: Function that terminates the container
//
// Usage:
//
//	cleanup := createCleanupFunc(ctx, container, "PostgreSQL")
//	defer cleanup()
func createCleanupFunc(ctx context.Context, container testcontainers.Container, containerType string) ContainerCleanup {
	return func() {
		if err := container.Terminate(ctx); err != nil {
			// Note: Using fmt.Printf since we can't access testing.T here
			fmt.Printf("Warning: Failed to terminate %s container: %v\n", containerType, err)
		}
	}
}
