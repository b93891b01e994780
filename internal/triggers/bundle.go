package triggers

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/theamal11z/Rex68/internal/memory"
)

const bundleFileName = "TRIGGER.md"

var errInvalidBundleYAML = errors.New("invalid trigger YAML frontmatter")

type bundleFrontmatter struct {
	Phrase      string `yaml:"phrase"`
	Identity    string `yaml:"identity"`
	Purpose     string `yaml:"purpose"`
	Audience    string `yaml:"audience"`
	Task        string `yaml:"task"`
	Personality string `yaml:"personality"`
	Examples    string `yaml:"examples"`
	Active      *bool  `yaml:"active"`
}

// LoadBundles reads every <dir>/<name>/TRIGGER.md. The frontmatter holds the
// phrase and persona fields; the markdown body is the guidelines. A missing
// dir yields no bundles.
func LoadBundles(dir string) ([]memory.TriggerPhrase, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, nil
	}

	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat triggers dir %q: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("triggers path is not a directory: %s", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read triggers dir %q: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	bundles := make([]memory.TriggerPhrase, 0, len(entries))
	seen := make(map[string]string, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		path := filepath.Join(dir, entry.Name(), bundleFileName)
		bundle, skip, err := parseBundleFile(path)
		if err != nil {
			return nil, err
		}
		if skip {
			continue
		}

		key := normalize(bundle.Phrase)
		if prev, exists := seen[key]; exists {
			return nil, fmt.Errorf("duplicate trigger phrase %q in %s (already in %s)", bundle.Phrase, path, prev)
		}
		seen[key] = path
		bundles = append(bundles, bundle)
	}
	return bundles, nil
}

func parseBundleFile(path string) (memory.TriggerPhrase, bool, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return memory.TriggerPhrase{}, true, nil
		}
		return memory.TriggerPhrase{}, false, fmt.Errorf("read trigger %q: %w", path, err)
	}

	meta, body, err := parseFrontmatter(content)
	if err != nil {
		if errors.Is(err, errInvalidBundleYAML) {
			log.Printf("[triggers] warning: skip invalid YAML trigger %s: %v", path, err)
			return memory.TriggerPhrase{}, true, nil
		}
		return memory.TriggerPhrase{}, false, fmt.Errorf("parse trigger %q: %w", path, err)
	}
	if strings.TrimSpace(meta.Phrase) == "" {
		return memory.TriggerPhrase{}, false, fmt.Errorf("parse trigger %q: missing phrase", path)
	}

	active := true
	if meta.Active != nil {
		active = *meta.Active
	}
	return memory.TriggerPhrase{
		Phrase:      strings.TrimSpace(meta.Phrase),
		Guidelines:  strings.TrimSpace(body),
		Personality: strings.TrimSpace(meta.Personality),
		Examples:    strings.TrimSpace(meta.Examples),
		Identity:    strings.TrimSpace(meta.Identity),
		Purpose:     strings.TrimSpace(meta.Purpose),
		Audience:    strings.TrimSpace(meta.Audience),
		Task:        strings.TrimSpace(meta.Task),
		Active:      active,
	}, false, nil
}

func parseFrontmatter(content []byte) (bundleFrontmatter, string, error) {
	text := strings.TrimPrefix(string(content), "\uFEFF")
	lines := strings.Split(text, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return bundleFrontmatter{}, "", errors.New("missing YAML frontmatter")
	}

	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			end = i
			break
		}
	}
	if end == -1 {
		return bundleFrontmatter{}, "", errors.New("missing closing frontmatter separator")
	}

	var meta bundleFrontmatter
	if err := yaml.Unmarshal([]byte(strings.Join(lines[1:end], "\n")), &meta); err != nil {
		return bundleFrontmatter{}, "", fmt.Errorf("%w: %v", errInvalidBundleYAML, err)
	}
	return meta, strings.Join(lines[end+1:], "\n"), nil
}
