// Package store persists named workflows, either as JSON files in a
// directory or as rows in Postgres.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ravi-parthasarathy/mosaik/pkg/workflow"
)

var (
	ErrNotFound    = errors.New("workflow not found")
	ErrInvalidName = errors.New("invalid workflow name")
)

// Repository saves and loads workflows by name.
type Repository interface {
	Save(ctx context.Context, name string, g *workflow.Graph) error
	Load(ctx context.Context, name string) (*workflow.Graph, error)
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, name string) error
}

// DefaultDir returns <user config dir>/mosaik/workflows.
func DefaultDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config dir: %w", err)
	}
	return filepath.Join(dir, "mosaik", "workflows"), nil
}

// checkName rejects names that are empty or would escape a directory.
func checkName(name string) error {
	if strings.TrimSpace(name) == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
