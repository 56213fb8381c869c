package tasks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrTaskNotFound is returned when UpdateStatus names an unknown task.
var ErrTaskNotFound = errors.New("task not found")

// Source reads and writes the work-breakdown.
type Source interface {
	Parse(ctx context.Context) ([]*Task, error)
	UpdateStatus(ctx context.Context, id string, status Status) error
}

// fileDoc is the on-disk work-breakdown layout.
type fileDoc struct {
	Project string     `yaml:"project"`
	Tasks   []fileTask `yaml:"tasks"`
}

type fileTask struct {
	ID        string   `yaml:"id"`
	Title     string   `yaml:"title"`
	Category  string   `yaml:"category"`
	Status    string   `yaml:"status"`
	Priority  string   `yaml:"priority"`
	Depends   []string `yaml:"depends"`
	BlockedBy string   `yaml:"blocked_by"`
}

// FileSource is a YAML work-breakdown file.
type FileSource struct {
	path string
	mu   sync.Mutex
}

// NewFileSource returns a source backed by path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Path returns the backing file path.
func (f *FileSource) Path() string {
	return f.path
}

// Parse reads every task from the file.
func (f *FileSource) Parse(ctx context.Context) ([]*Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	data, err := os.ReadFile(f.path)
	f.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("reading tasks file: %w", err)
	}
	return ParseYAML(data)
}

// ParseYAML decodes a work-breakdown document.
func ParseYAML(data []byte) ([]*Task, error) {
	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing tasks file: %w", err)
	}

	out := make([]*Task, 0, len(doc.Tasks))
	seen := make(map[string]bool, len(doc.Tasks))
	for i, ft := range doc.Tasks {
		id := strings.TrimSpace(ft.ID)
		if id == "" {
			return nil, fmt.Errorf("task %d: missing id", i+1)
		}
		if seen[id] {
			return nil, fmt.Errorf("task %s: duplicate id", id)
		}
		seen[id] = true

		status, err := ParseStatus(ft.Status)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", id, err)
		}
		category := Category(strings.ToLower(strings.TrimSpace(ft.Category)))
		if category == "" {
			category = CategoryDevelopment
		}
		priority := Priority(strings.ToLower(strings.TrimSpace(ft.Priority)))
		if priority == "" {
			priority = PriorityMedium
		}

		out = append(out, &Task{
			ID:        id,
			Title:     ft.Title,
			Category:  category,
			Status:    status,
			Priority:  priority,
			Depends:   ft.Depends,
			BlockedBy: strings.TrimSpace(ft.BlockedBy),
			Project:   doc.Project,
		})
	}
	return out, nil
}

// UpdateStatus rewrites the status of one task, leaving the rest of the
// document as written.
func (f *FileSource) UpdateStatus(ctx context.Context, id string, status Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !status.Valid() {
		return fmt.Errorf("unknown status %q", status)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("reading tasks file: %w", err)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return fmt.Errorf("parsing tasks file: %w", err)
	}
	item := findTaskNode(&root, id)
	if item == nil {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	setMappingValue(item, "status", string(status))

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&root); err != nil {
		return fmt.Errorf("encoding tasks file: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encoding tasks file: %w", err)
	}

	tmp := filepath.Join(filepath.Dir(f.path), "."+filepath.Base(f.path)+".tmp")
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing tasks file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("renaming tasks file: %w", err)
	}
	return nil
}

func findTaskNode(root *yaml.Node, id string) *yaml.Node {
	doc := root
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		doc = doc.Content[0]
	}
	list := mappingValue(doc, "tasks")
	if list == nil || list.Kind != yaml.SequenceNode {
		return nil
	}
	for _, item := range list.Content {
		if v := mappingValue(item, "id"); v != nil && strings.TrimSpace(v.Value) == id {
			return item
		}
	}
	return nil
}

func mappingValue(node *yaml.Node, key string) *yaml.Node {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

func setMappingValue(node *yaml.Node, key, value string) {
	if v := mappingValue(node, key); v != nil {
		v.Kind = yaml.ScalarNode
		v.Tag = "!!str"
		v.Value = value
		return
	}
	node.Content = append(node.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value},
	)
}
