// Package files provides the embedded Ren'Py runtime loader and installs
// it into a built game directory. The loader hooks Ren'Py's file callbacks
// so original asset names resolve to their compressed targets through the
// manifest.
package files

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
)

//go:embed runtime/renpak_init.rpy runtime/renpak_loader.py
var runtimeFiles embed.FS

// RuntimeFiles lists the loader files, in install order.
var RuntimeFiles = []string{"renpak_init.rpy", "renpak_loader.py"}

// GetRuntimeFile returns the content of an embedded runtime file.
func GetRuntimeFile(name string) ([]byte, error) {
	return runtimeFiles.ReadFile("runtime/" + name)
}

// Install writes the runtime loader files into gameDir so the game serves
// compressed assets at launch.
func Install(gameDir string) error {
	if err := os.MkdirAll(gameDir, 0755); err != nil {
		return fmt.Errorf("failed to create game directory: %w", err)
	}
	for _, name := range RuntimeFiles {
		content, err := GetRuntimeFile(name)
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", name, err)
		}
		if err := os.WriteFile(filepath.Join(gameDir, name), content, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	return nil
}
