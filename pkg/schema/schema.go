package schema

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"
)

// Page is one screen of a form, backed by a script file.
type Page struct {
	Key      string
	Title    string
	Filename string
	Form     *Form
}

// Form is a node of the application form tree.
type Form struct {
	Key   string
	Title string
	Multi bool // children of this form are a list rather than a single record

	Parent *Form
	Chain  []*Form // root first, self last
	Pages  []*Page
	Forms  []*Form

	pages map[string]*Page
}

// Page returns the page with the given key, or nil.
func (f *Form) Page(key string) *Page {
	return f.pages[key]
}

// IsRoot reports whether the form has no parent.
func (f *Form) IsRoot() bool { return f.Parent == nil }

// Application is the resolved form tree.
type Application struct {
	Roots []*Form

	forms map[string]*Form
	pages map[string]*Page
}

// Form returns the form with the given key, or nil.
func (a *Application) Form(key string) *Form {
	return a.forms[key]
}

// Page returns the page with the given key, or nil.
func (a *Application) Page(key string) *Page {
	return a.pages[key]
}

// Forms returns every form, parents before children.
func (a *Application) Forms() []*Form {
	var out []*Form
	var walk func(f *Form)
	walk = func(f *Form) {
		out = append(out, f)
		for _, c := range f.Forms {
			walk(c)
		}
	}
	for _, r := range a.Roots {
		walk(r)
	}
	return out
}

// Files returns the script filenames referenced by pages.
func (a *Application) Files() []string {
	var out []string
	seen := map[string]bool{}
	for _, f := range a.Forms() {
		for _, p := range f.Pages {
			if p.Filename != "" && !seen[p.Filename] {
				seen[p.Filename] = true
				out = append(out, p.Filename)
			}
		}
	}
	return out
}

type fileSchema struct {
	Forms []formSpec `yaml:"forms"`
}

type formSpec struct {
	Key   string     `yaml:"key"`
	Title string     `yaml:"title"`
	Multi bool       `yaml:"multi"`
	Pages []pageSpec `yaml:"pages"`
	Forms []formSpec `yaml:"forms"`
}

type pageSpec struct {
	Key      string `yaml:"key"`
	Title    string `yaml:"title"`
	Filename string `yaml:"filename"`
}

// Load reads a form tree from a YAML file.
func Load(path string) (*Application, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes and resolves a form tree.
func Parse(data []byte) (*Application, error) {
	var fs fileSchema
	if err := yaml.Unmarshal(data, &fs); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	if len(fs.Forms) == 0 {
		return nil, fmt.Errorf("schema declares no forms")
	}

	app := &Application{forms: map[string]*Form{}, pages: map[string]*Page{}}
	for _, spec := range fs.Forms {
		f, err := app.build(spec, nil)
		if err != nil {
			return nil, err
		}
		app.Roots = append(app.Roots, f)
	}
	return app, nil
}

func (a *Application) build(spec formSpec, parent *Form) (*Form, error) {
	if spec.Key == "" {
		return nil, fmt.Errorf("form without key")
	}
	if _, dup := a.forms[spec.Key]; dup {
		return nil, fmt.Errorf("duplicate form %q", spec.Key)
	}

	f := &Form{
		Key:    spec.Key,
		Title:  spec.Title,
		Multi:  spec.Multi,
		Parent: parent,
		pages:  map[string]*Page{},
	}
	if f.Title == "" {
		f.Title = f.Key
	}
	if parent != nil {
		f.Chain = append(append([]*Form{}, parent.Chain...), f)
	} else {
		f.Chain = []*Form{f}
	}
	a.forms[f.Key] = f

	for _, ps := range spec.Pages {
		if ps.Key == "" {
			return nil, fmt.Errorf("form %q: page without key", f.Key)
		}
		if _, dup := a.pages[ps.Key]; dup {
			return nil, fmt.Errorf("duplicate page %q", ps.Key)
		}
		p := &Page{Key: ps.Key, Title: ps.Title, Filename: ps.Filename, Form: f}
		if p.Title == "" {
			p.Title = p.Key
		}
		f.Pages = append(f.Pages, p)
		f.pages[p.Key] = p
		a.pages[p.Key] = p
	}

	for _, cs := range spec.Forms {
		c, err := a.build(cs, f)
		if err != nil {
			return nil, err
		}
		f.Forms = append(f.Forms, c)
	}
	return f, nil
}
