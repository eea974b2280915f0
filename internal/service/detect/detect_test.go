package detect

import (
	"strings"
	"testing"

	"github.com/xjrogers/Forma-sub002/internal/domain"
)

func projectFiles(paths map[string]string) []domain.ProjectFile {
	files := make([]domain.ProjectFile, 0, len(paths))
	for path, content := range paths {
		files = append(files, domain.ProjectFile{Path: path, Content: content})
	}
	return files
}

func TestManifestPriorityPrefersNextOverReact(t *testing.T) {
	result := Apply(projectFiles(map[string]string{
		"package.json": `{"dependencies":{"react":"^18.2.0","next":"^14.0.0"}}`,
		"pages/index.js": "export default () => null",
	}))
	if result.Framework != FrameworkNext {
		t.Fatalf("expected %q, got %q", FrameworkNext, result.Framework)
	}
}

func TestManifestDevDependenciesCount(t *testing.T) {
	result := Apply(projectFiles(map[string]string{
		"package.json": `{"devDependencies":{"vue":"^3.4.0"}}`,
	}))
	if result.Framework != FrameworkVue {
		t.Fatalf("expected %q, got %q", FrameworkVue, result.Framework)
	}
}

func TestStaticFallbackWithoutManifest(t *testing.T) {
	result := Apply(projectFiles(map[string]string{
		"index.html": "<html></html>",
		"style.css":  "body {}",
	}))
	if result.Framework != FrameworkStatic {
		t.Fatalf("expected %q, got %q", FrameworkStatic, result.Framework)
	}
}

func TestConfigFileFallbackBeatsStaticEntry(t *testing.T) {
	result := Apply(projectFiles(map[string]string{
		"next.config.js": "module.exports = {}",
		"index.html":     "<html></html>",
	}))
	if result.Framework != FrameworkNext {
		t.Fatalf("expected %q, got %q", FrameworkNext, result.Framework)
	}
}

func TestDefaultTagWhenNothingMatches(t *testing.T) {
	result := Apply(projectFiles(map[string]string{
		"main.txt": "hello",
	}))
	if result.Framework != FrameworkNode {
		t.Fatalf("expected %q, got %q", FrameworkNode, result.Framework)
	}
}

func TestSynthesizedManifestDoesNotOverwriteExisting(t *testing.T) {
	original := `{"dependencies":{"express":"^4.18.0"},"scripts":{"start":"node server.js"}}`
	result := Apply(projectFiles(map[string]string{
		"package.json": original,
		"server.js":    "require('express')",
	}))

	count := 0
	for _, f := range result.Files {
		if f.Path == "package.json" {
			count++
			if f.Content != original {
				t.Fatalf("existing manifest was rewritten: %s", f.Content)
			}
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one manifest, got %d", count)
	}
}

func TestSynthesizedManifestAddedWhenMissing(t *testing.T) {
	result := Apply(projectFiles(map[string]string{
		"index.html": "<html></html>",
	}))

	var manifest string
	for _, f := range result.Files {
		if f.Path == "package.json" {
			manifest = f.Content
		}
	}
	if manifest == "" {
		t.Fatal("expected a synthesized manifest")
	}
	if !strings.Contains(manifest, `"start"`) {
		t.Fatalf("synthesized manifest missing start script: %s", manifest)
	}
}

func TestUnknownFrameworkGetsBareStartTemplate(t *testing.T) {
	result := Apply(projectFiles(map[string]string{
		"main.txt": "hello",
	}))
	for _, f := range result.Files {
		if f.Path == "package.json" {
			if strings.Contains(f.Content, "dependencies") {
				t.Fatalf("default template should not pin dependencies: %s", f.Content)
			}
			if !strings.Contains(f.Content, `"start"`) {
				t.Fatalf("default template missing start script: %s", f.Content)
			}
			return
		}
	}
	t.Fatal("expected a synthesized manifest")
}

func TestAllFilesCopiedUnchanged(t *testing.T) {
	files := projectFiles(map[string]string{
		"package.json": `{"dependencies":{"fastify":"^4.25.0"}}`,
		"index.js":     "console.log('hi')",
		"lib/util.js":  "module.exports = {}",
	})
	result := Apply(files)
	if len(result.Files) != len(files) {
		t.Fatalf("expected %d files, got %d", len(files), len(result.Files))
	}
	byPath := make(map[string]string)
	for _, f := range result.Files {
		byPath[f.Path] = f.Content
	}
	for _, f := range files {
		if byPath[f.Path] != f.Content {
			t.Fatalf("file %s changed during packaging", f.Path)
		}
	}
}
