// Package detect inspects a project's file manifest to choose a runtime
// profile and synthesizes a minimal build manifest when none exists. It
// never fails a deployment; missing data only selects defaults.
package detect

import (
	"encoding/json"

	"github.com/xjrogers/Forma-sub002/internal/domain"
	"github.com/xjrogers/Forma-sub002/internal/sourcehost"
)

// Framework tags resolved by detection.
const (
	FrameworkNext    = "nextjs"
	FrameworkReact   = "react"
	FrameworkVue     = "vue"
	FrameworkExpress = "express"
	FrameworkFastify = "fastify"
	FrameworkStatic  = "static"
	FrameworkNode    = "node"
)

const manifestPath = "package.json"

// dependencyPriority is the fixed tie-break order when a manifest declares
// several frameworks at once.
var dependencyPriority = []struct {
	dependency string
	framework  string
}{
	{"next", FrameworkNext},
	{"react", FrameworkReact},
	{"vue", FrameworkVue},
	{"express", FrameworkExpress},
	{"fastify", FrameworkFastify},
}

// fallbackFiles is checked in order when no manifest dependency matches:
// framework config files first, then the generic static entry file.
var fallbackFiles = []struct {
	path      string
	framework string
}{
	{"next.config.js", FrameworkNext},
	{"next.config.mjs", FrameworkNext},
	{"vue.config.js", FrameworkVue},
	{"index.html", FrameworkStatic},
}

// Result is the packaged, deployment-ready output of detection.
type Result struct {
	Framework string
	Files     []sourcehost.File
}

type manifest struct {
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

// Apply classifies the project and returns its deployable file set. All
// files are copied unchanged; a manifest is synthesized only when the
// project has none.
func Apply(files []domain.ProjectFile) Result {
	packaged := make([]sourcehost.File, 0, len(files)+1)
	byPath := make(map[string]string, len(files))
	for _, f := range files {
		packaged = append(packaged, sourcehost.File{Path: f.Path, Content: f.Content})
		byPath[f.Path] = f.Content
	}

	framework := classify(byPath)
	if _, ok := byPath[manifestPath]; !ok {
		packaged = append(packaged, sourcehost.File{
			Path:    manifestPath,
			Content: manifestTemplate(framework),
		})
	}
	return Result{Framework: framework, Files: packaged}
}

func classify(files map[string]string) string {
	if raw, ok := files[manifestPath]; ok {
		if framework, ok := classifyManifest(raw); ok {
			return framework
		}
	}
	for _, fallback := range fallbackFiles {
		if _, ok := files[fallback.path]; ok {
			return fallback.framework
		}
	}
	return FrameworkNode
}

func classifyManifest(raw string) (string, bool) {
	var m manifest
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return "", false
	}
	deps := make(map[string]struct{}, len(m.Dependencies)+len(m.DevDependencies))
	for name := range m.Dependencies {
		deps[name] = struct{}{}
	}
	for name := range m.DevDependencies {
		deps[name] = struct{}{}
	}
	for _, candidate := range dependencyPriority {
		if _, ok := deps[candidate.dependency]; ok {
			return candidate.framework, true
		}
	}
	return "", false
}

// manifestTemplate returns the synthesized package.json for a framework.
// Each template fixes its own script names and a minimal dependency list.
func manifestTemplate(framework string) string {
	switch framework {
	case FrameworkNext:
		return `{
  "name": "app",
  "private": true,
  "scripts": {
    "dev": "next dev",
    "build": "next build",
    "start": "next start -p 3000"
  },
  "dependencies": {
    "next": "^14.0.0",
    "react": "^18.2.0",
    "react-dom": "^18.2.0"
  }
}
`
	case FrameworkReact:
		return `{
  "name": "app",
  "private": true,
  "scripts": {
    "dev": "react-scripts start",
    "build": "react-scripts build",
    "start": "serve -s build -l 3000"
  },
  "dependencies": {
    "react": "^18.2.0",
    "react-dom": "^18.2.0",
    "react-scripts": "^5.0.1",
    "serve": "^14.2.0"
  }
}
`
	case FrameworkVue:
		return `{
  "name": "app",
  "private": true,
  "scripts": {
    "dev": "vite",
    "build": "vite build",
    "start": "vite preview --port 3000"
  },
  "dependencies": {
    "vue": "^3.4.0",
    "vite": "^5.0.0"
  }
}
`
	case FrameworkExpress:
		return `{
  "name": "app",
  "private": true,
  "scripts": {
    "start": "node index.js"
  },
  "dependencies": {
    "express": "^4.18.0"
  }
}
`
	case FrameworkFastify:
		return `{
  "name": "app",
  "private": true,
  "scripts": {
    "start": "node index.js"
  },
  "dependencies": {
    "fastify": "^4.25.0"
  }
}
`
	case FrameworkStatic:
		return `{
  "name": "app",
  "private": true,
  "scripts": {
    "start": "serve -s . -l 3000"
  },
  "dependencies": {
    "serve": "^14.2.0"
  }
}
`
	default:
		return `{
  "name": "app",
  "private": true,
  "scripts": {
    "start": "node index.js"
  }
}
`
	}
}
