package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	cobraDoc "github.com/spf13/cobra/doc"

	"github.com/dotsetgreg/budgetsim/pkg/config"
)

func newDocsCommand(rootFactory func() *cobra.Command) *cobra.Command {
	docsRoot := &cobra.Command{
		Use:    "docs",
		Short:  "Internal docs maintenance commands",
		Hidden: true,
	}

	var (
		outputDir string
		checkOnly bool
	)

	gen := &cobra.Command{
		Use:   "generate",
		Short: "Generate reference docs from command and config source",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(outputDir) == "" {
				return fmt.Errorf("--output must not be empty")
			}
			return generateDocumentation(rootFactory, outputDir, checkOnly)
		},
	}
	gen.Flags().StringVar(&outputDir, "output", "docs", "Docs directory root")
	gen.Flags().BoolVar(&checkOnly, "check", false, "Fail if generated docs are out of date")

	docsRoot.AddCommand(gen)
	return docsRoot
}

func generateDocumentation(rootFactory func() *cobra.Command, outputDir string, checkOnly bool) error {
	tmpDir, err := os.MkdirTemp("", "budgetsim-docs-gen-*")
	if err != nil {
		return fmt.Errorf("create temp docs dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	generatedRoots, err := writeGeneratedReferences(rootFactory, tmpDir)
	if err != nil {
		return err
	}

	if checkOnly {
		for _, rel := range generatedRoots {
			if err := comparePath(filepath.Join(tmpDir, rel), filepath.Join(outputDir, rel), rel); err != nil {
				return err
			}
		}
		return nil
	}

	for _, rel := range generatedRoots {
		src := filepath.Join(tmpDir, rel)
		dst := filepath.Join(outputDir, rel)
		if err := copyPath(src, dst); err != nil {
			return fmt.Errorf("write %s: %w", rel, err)
		}
	}
	return nil
}

func writeGeneratedReferences(rootFactory func() *cobra.Command, outDir string) ([]string, error) {
	cliRoot := rootFactory()
	markCommandsForDocgen(cliRoot)

	cliDir := filepath.Join(outDir, "reference", "cli")
	if err := os.MkdirAll(cliDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cli docs dir: %w", err)
	}
	prepender := func(filename string) string {
		title := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
		title = strings.ReplaceAll(title, "_", " ")
		return fmt.Sprintf("# %s\n\n", strings.TrimSpace(title))
	}
	linkHandler := func(name string) string {
		return name
	}
	if err := cobraDoc.GenMarkdownTreeCustom(cliRoot, cliDir, prepender, linkHandler); err != nil {
		return nil, fmt.Errorf("generate cli markdown docs: %w", err)
	}

	manDir := filepath.Join(outDir, "reference", "man")
	if err := os.MkdirAll(manDir, 0o755); err != nil {
		return nil, fmt.Errorf("create man docs dir: %w", err)
	}
	header := &cobraDoc.GenManHeader{
		Title:   "BUDGETSIM",
		Section: "1",
		Source:  "budgetsim",
	}
	if err := cobraDoc.GenManTree(cliRoot, header, manDir); err != nil {
		return nil, fmt.Errorf("generate man pages: %w", err)
	}

	configRef, err := buildConfigReferenceMarkdown()
	if err != nil {
		return nil, err
	}
	if err := writeTextFile(filepath.Join(outDir, "reference", "config.md"), configRef); err != nil {
		return nil, err
	}

	if err := writeTextFile(filepath.Join(outDir, "reference", "catalog.md"), buildCatalogReferenceMarkdown()); err != nil {
		return nil, err
	}

	return []string{
		filepath.Join("reference", "cli"),
		filepath.Join("reference", "man"),
		filepath.Join("reference", "config.md"),
		filepath.Join("reference", "catalog.md"),
	}, nil
}

func markCommandsForDocgen(cmd *cobra.Command) {
	cmd.DisableAutoGenTag = true
	for _, child := range cmd.Commands() {
		if child.Name() == "docs" {
			continue
		}
		markCommandsForDocgen(child)
	}
}

func writeTextFile(path string, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parent dir for %s: %w", path, err)
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

func copyPath(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if info.IsDir() {
		_ = os.RemoveAll(dst)
		if err := os.MkdirAll(dst, 0o755); err != nil {
			return err
		}
		return filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			rel, err := filepath.Rel(src, path)
			if err != nil {
				return err
			}
			if rel == "." {
				return nil
			}
			target := filepath.Join(dst, rel)
			if d.IsDir() {
				return os.MkdirAll(target, 0o755)
			}
			return copyFile(path, target)
		})
	}
	return copyFile(src, dst)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func comparePath(src, dst, rel string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("generated path missing: %s (%w)", rel, err)
	}
	dstInfo, err := os.Stat(dst)
	if err != nil {
		return fmt.Errorf("docs out of date: missing %s", rel)
	}

	if srcInfo.IsDir() != dstInfo.IsDir() {
		return fmt.Errorf("docs out of date: kind mismatch for %s", rel)
	}
	if !srcInfo.IsDir() {
		srcBytes, err := os.ReadFile(src)
		if err != nil {
			return err
		}
		dstBytes, err := os.ReadFile(dst)
		if err != nil {
			return err
		}
		if !bytes.Equal(srcBytes, dstBytes) {
			return fmt.Errorf("docs out of date: %s differs; run `budgetsim docs generate`", rel)
		}
		return nil
	}

	srcFiles, err := listFiles(src)
	if err != nil {
		return err
	}
	dstFiles, err := listFiles(dst)
	if err != nil {
		return err
	}
	if len(srcFiles) != len(dstFiles) {
		return fmt.Errorf("docs out of date: file count mismatch under %s", rel)
	}
	for i := range srcFiles {
		if srcFiles[i] != dstFiles[i] {
			return fmt.Errorf("docs out of date: file set mismatch under %s", rel)
		}
		srcBytes, err := os.ReadFile(filepath.Join(src, srcFiles[i]))
		if err != nil {
			return err
		}
		dstBytes, err := os.ReadFile(filepath.Join(dst, dstFiles[i]))
		if err != nil {
			return err
		}
		if !bytes.Equal(srcBytes, dstBytes) {
			return fmt.Errorf("docs out of date: %s changed; run `budgetsim docs generate`", filepath.Join(rel, srcFiles[i]))
		}
	}
	return nil
}

func listFiles(root string) ([]string, error) {
	files := []string{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

type configFieldRow struct {
	Path    string
	Type    string
	Env     string
	Default string
}

func buildConfigReferenceMarkdown() (string, error) {
	defaults, err := flattenConfigDefaults()
	if err != nil {
		return "", err
	}

	rows := []configFieldRow{}
	collectConfigRows(reflect.TypeOf(config.Config{}), "", defaults, &rows)
	sort.Slice(rows, func(i, j int) bool { return rows[i].Path < rows[j].Path })

	var b strings.Builder
	b.WriteString("# Config Reference\n\n")
	b.WriteString("Generated from `pkg/config/config.go` and `config.DefaultConfig()`.\n\n")
	b.WriteString("| Key | Type | Env Var | Default |\n")
	b.WriteString("| --- | --- | --- | --- |\n")
	for _, row := range rows {
		b.WriteString("| `" + escapePipes(row.Path) + "` | `" + escapePipes(row.Type) + "` | `" + escapePipes(valueOr(row.Env, "-")) + "` | `" + escapePipes(valueOr(row.Default, "-")) + "` |\n")
	}
	return b.String(), nil
}

func collectConfigRows(t reflect.Type, prefix string, defaults map[string]string, rows *[]configFieldRow) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		jsonTag := strings.TrimSpace(strings.Split(f.Tag.Get("json"), ",")[0])
		if jsonTag == "" || jsonTag == "-" {
			continue
		}
		path := jsonTag
		if prefix != "" {
			path = prefix + "." + jsonTag
		}

		fieldType := f.Type
		if fieldType.Kind() == reflect.Struct {
			collectConfigRows(fieldType, path, defaults, rows)
			continue
		}

		*rows = append(*rows, configFieldRow{
			Path:    path,
			Type:    friendlyType(fieldType),
			Env:     strings.TrimSpace(f.Tag.Get("env")),
			Default: defaults[path],
		})
	}
}

func flattenConfigDefaults() (map[string]string, error) {
	data, err := json.Marshal(config.DefaultConfig())
	if err != nil {
		return nil, err
	}
	var root map[string]interface{}
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	out := map[string]string{}
	flattenMapValues("", root, out)
	return out, nil
}

func flattenMapValues(prefix string, v interface{}, out map[string]string) {
	switch typed := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(typed))
		for k := range typed {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			next := k
			if prefix != "" {
				next = prefix + "." + k
			}
			flattenMapValues(next, typed[k], out)
		}
	default:
		encoded, _ := json.Marshal(typed)
		out[prefix] = string(encoded)
	}
}

func friendlyType(t reflect.Type) string {
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "bool"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return "int"
	case reflect.Float32, reflect.Float64:
		return "float"
	case reflect.Slice:
		return "array<" + friendlyType(t.Elem()) + ">"
	case reflect.Map:
		return "map<" + friendlyType(t.Key()) + "," + friendlyType(t.Elem()) + ">"
	case reflect.Struct:
		return "object"
	case reflect.Pointer:
		return "*" + friendlyType(t.Elem())
	default:
		return t.String()
	}
}

type catalogColumnSpec struct {
	Name     string
	Required string
	Meaning  string
}

func buildCatalogReferenceMarkdown() string {
	columns := []catalogColumnSpec{
		{"event_id", "yes", "Stable item identifier. Numeric-looking ids (`1001.0`) collapse to their integer form."},
		{"name", "no", "Display name shown to the player."},
		{"summary", "no", "Short description, used as fallback text for reference estimates."},
		{"issues", "no", "Problem statement; preferred text for reference estimates."},
		{"ministry", "no", "Owning ministry."},
		{"bureau", "no", "Owning bureau."},
		{"initial_budget", "no", "Historical initial budget. Blank or unparsable loads as missing."},
		{"final_budget", "no", "Historical final budget. Blank or unparsable loads as missing."},
		{"url", "no", "Source document link."},
		{"embedding", "yes", "JSON float array (or bracketed number list). All rows must share one dimension."},
	}

	var b strings.Builder
	b.WriteString("# Catalog Reference\n\n")
	b.WriteString("CSV columns accepted by the event catalog loader.\n\n")
	b.WriteString("| Column | Required | Meaning |\n")
	b.WriteString("| --- | --- | --- |\n")
	for _, c := range columns {
		b.WriteString("| `" + c.Name + "` | " + c.Required + " | " + escapePipes(c.Meaning) + " |\n")
	}
	b.WriteString("\nThe first successful load writes a SQLite snapshot next to the CSV;\n")
	b.WriteString("later startups reuse it until the CSV bytes change.\n")
	return b.String()
}

func escapePipes(v string) string {
	return strings.ReplaceAll(v, "|", "\\|")
}

func valueOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
