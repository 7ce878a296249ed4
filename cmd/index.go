package cmd

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sriramkolli-zennith/RAG-sub000/internal/app"
	"github.com/sriramkolli-zennith/RAG-sub000/internal/chunk"
)

// maxIndexFileSize bounds a single file read during ingestion.
const maxIndexFileSize = 10 << 20

// indexableExtensions lists the file types ingested when walking a
// directory. Explicit file arguments bypass this filter.
var indexableExtensions = map[string]bool{
	".txt": true, ".md": true, ".markdown": true,
	".rst": true, ".adoc": true, ".org": true,
}

var indexChunkSize int

var indexCmd = &cobra.Command{
	Use:   "index <path>...",
	Short: "Index files or directories into the knowledge store",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIndex,
}

func init() {
	indexCmd.Flags().IntVar(&indexChunkSize, "chunk-size", 0, "target chunk length in characters (0 uses the configured default)")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := setupApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	// Fail before reading anything if the embedder disagrees with the
	// configured dimensionality.
	if err := a.ProbeEmbedder(ctx); err != nil {
		return err
	}

	files, err := collectFiles(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no indexable files under %s", strings.Join(args, ", "))
	}

	size := indexChunkSize
	if size <= 0 {
		size = a.Config.ChunkSize
	}

	var totalChunks int
	for _, path := range files {
		n, err := indexFile(cmd, a, path, size)
		if err != nil {
			return fmt.Errorf("indexing %s: %w", path, err)
		}
		totalChunks += n
	}

	cmd.Printf("Indexed %d file(s), %d chunk(s)\n", len(files), totalChunks)
	return nil
}

func indexFile(cmd *cobra.Command, a *app.App, path string, chunkSize int) (int, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if info.Size() > maxIndexFileSize {
		return 0, fmt.Errorf("file exceeds %d bytes", maxIndexFileSize)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	metadata := map[string]string{
		"file_name": filepath.Base(path),
		"source":    path,
	}
	if ext := strings.ToLower(filepath.Ext(path)); ext == ".md" || ext == ".markdown" {
		metadata["content_type"] = "markdown"
	}

	chunks := chunk.Process(string(content), metadata, chunk.Options{ChunkSize: chunkSize})
	if len(chunks) == 0 {
		cmd.Printf("  %s: no content, skipped\n", path)
		return 0, nil
	}

	docs, err := a.Knowledge.Add(cmd.Context(), chunks)
	if err != nil {
		return 0, err
	}
	cmd.Printf("  %s: %d chunk(s)\n", path, len(docs))
	return len(docs), nil
}

// collectFiles expands arguments into a flat file list. Directories are
// walked recursively, keeping only indexable extensions; explicitly named
// files are always taken.
func collectFiles(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}

		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if strings.HasPrefix(d.Name(), ".") && path != arg {
					return filepath.SkipDir
				}
				return nil
			}
			if indexableExtensions[strings.ToLower(filepath.Ext(path))] {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}
