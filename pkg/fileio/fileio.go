// Package fileio moves text between the file system and the file import
// and export nodes of a workflow.
package fileio

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/ravi-parthasarathy/mosaik/pkg/workflow"
)

var (
	// ErrExportTarget means an export node lacks a folder or file name.
	ErrExportTarget = errors.New("export target needs a folder and a file name")
	// ErrNoInput means an export node has nothing upstream to write.
	ErrNoInput = errors.New("export node has no input")
)

// ReadText returns a file's contents. HTML files are converted to Markdown
// so model nodes downstream see text rather than markup.
func ReadText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		md, err := htmltomarkdown.ConvertString(string(data))
		if err != nil {
			return "", fmt.Errorf("convert %s to markdown: %w", path, err)
		}
		return md, nil
	}
	return string(data), nil
}

// Import loads path into an import node: the file is recorded on the node
// and its text becomes the node's output.
func Import(s *workflow.Store, id int, path string) error {
	text, err := ReadText(path)
	if err != nil {
		return err
	}
	return s.Update(func(g *workflow.Graph) error {
		if err := g.SetFileImport(id, path, filepath.Base(path)); err != nil {
			return err
		}
		return g.SetOutput(id, text)
	})
}

// WriteText writes content to <folder>/<name>.<fileType> and returns the
// path written. An empty fileType means "txt".
func WriteText(folder, name, fileType, content string) (string, error) {
	if folder == "" || strings.TrimSpace(name) == "" {
		return "", ErrExportTarget
	}
	if fileType == "" {
		fileType = "txt"
	}
	path := filepath.Join(folder, name+"."+fileType)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

// Export writes an export node's aggregated input to its target.
func Export(s *workflow.Store, id int) (string, error) {
	var (
		p     workflow.FileExportPayload
		input *string
		err   error
	)
	s.View(func(g *workflow.Graph) {
		n, ok := g.Node(id)
		if !ok {
			err = fmt.Errorf("export node %d: %w", id, workflow.ErrNodeNotFound)
			return
		}
		ep, ok := n.Payload.(*workflow.FileExportPayload)
		if !ok {
			err = fmt.Errorf("node %d is %s, not %s: %w", id, n.Kind(), workflow.KindFileExport, workflow.ErrWrongKind)
			return
		}
		p = *ep
		if n.Input != nil {
			v := *n.Input
			input = &v
		}
	})
	if err != nil {
		return "", err
	}
	if p.FolderPath == nil || p.FileName == nil {
		return "", fmt.Errorf("export node %d: %w", id, ErrExportTarget)
	}
	if input == nil {
		return "", fmt.Errorf("export node %d: %w", id, ErrNoInput)
	}
	path, err := WriteText(*p.FolderPath, *p.FileName, p.FileType, *input)
	if err != nil {
		return "", fmt.Errorf("export node %d: %w", id, err)
	}
	slog.Info("exported node", "node", id, "path", path)
	return path, nil
}

// ExportAll runs Export for every export node with a complete target and
// some input. Nodes not ready to export are skipped.
func ExportAll(s *workflow.Store) ([]string, error) {
	var ids []int
	s.View(func(g *workflow.Graph) {
		for _, n := range g.Nodes() {
			if n.Kind() == workflow.KindFileExport {
				ids = append(ids, n.ID)
			}
		}
	})
	var (
		paths []string
		errs  []error
	)
	for _, id := range ids {
		path, err := Export(s, id)
		switch {
		case errors.Is(err, ErrExportTarget), errors.Is(err, ErrNoInput):
			slog.Debug("skipping export", "node", id, "reason", err)
		case err != nil:
			errs = append(errs, err)
		default:
			paths = append(paths, path)
		}
	}
	return paths, errors.Join(errs...)
}
