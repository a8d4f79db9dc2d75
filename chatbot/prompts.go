package chatbot

import (
	"embed"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/YuminosukeSato/exoml/pkg/errors"
)

//go:embed templates/*.txt
var builtinTemplates embed.FS

const promptExt = ".txt"

// PromptManager loads system prompts named <name>.txt and caches them.
type PromptManager struct {
	fsys  fs.FS
	mu    sync.Mutex
	cache map[string]string
}

// NewPromptManager reads prompts from dir, or from the built-in templates
// when dir is empty.
func NewPromptManager(dir string) *PromptManager {
	if dir != "" {
		return NewPromptManagerFS(os.DirFS(dir))
	}
	sub, _ := fs.Sub(builtinTemplates, "templates")
	return NewPromptManagerFS(sub)
}

// NewPromptManagerFS reads prompts from the root of fsys.
func NewPromptManagerFS(fsys fs.FS) *PromptManager {
	return &PromptManager{fsys: fsys, cache: make(map[string]string)}
}

// Load returns the trimmed prompt, from the cache when possible. A missing
// template returns an error matching fs.ErrNotExist.
func (m *PromptManager) Load(name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.cache[name]; ok {
		return p, nil
	}
	if name == "" || strings.ContainsAny(name, `/\`) {
		return "", errors.Wrapf(fs.ErrNotExist, "prompt %q", name)
	}
	data, err := fs.ReadFile(m.fsys, name+promptExt)
	if err != nil {
		return "", errors.Wrapf(err, "prompt %q", name)
	}
	p := strings.TrimSpace(string(data))
	m.cache[name] = p
	return p, nil
}

// Reload drops the cached copy and reads the template again.
func (m *PromptManager) Reload(name string) (string, error) {
	m.mu.Lock()
	delete(m.cache, name)
	m.mu.Unlock()
	return m.Load(name)
}

// Available lists template names, sorted.
func (m *PromptManager) Available() []string {
	entries, err := fs.ReadDir(m.fsys, ".")
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && path.Ext(e.Name()) == promptExt {
			names = append(names, strings.TrimSuffix(e.Name(), promptExt))
		}
	}
	sort.Strings(names)
	return names
}
