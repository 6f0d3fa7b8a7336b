// Package detector locates a Ren'Py game's directories and archives. It
// accepts either the game root or the game/ subdirectory itself.
package detector

import (
	"path/filepath"

	"github.com/NihilDigit/renpak/utils"
)

// GameInfo contains detected information about a Ren'Py game.
type GameInfo struct {
	// Name of the game (for display purposes)
	Name string
	// RootDir is the game's root directory (where the executable is)
	RootDir string
	// GameDir is the game's "game" subdirectory
	GameDir string
	// RPAFiles found in the game directory, sorted
	RPAFiles []string
}

// DetectGame attempts to detect a Ren'Py game from the given directory.
// It can be called from either the game root or the game/ subdirectory,
// or from any directory that directly contains .rpa archives.
func DetectGame(dir string) (*GameInfo, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	info := &GameInfo{}

	switch {
	case filepath.Base(absDir) == "game":
		// We're in the game/ directory, parent is root
		info.GameDir = absDir
		info.RootDir = filepath.Dir(absDir)
	case utils.DirExists(filepath.Join(absDir, "game")):
		// We're in the root directory
		info.RootDir = absDir
		info.GameDir = filepath.Join(absDir, "game")
	default:
		// A plain directory of archives is also acceptable
		if archives, _ := utils.FindFilesWithExtension(absDir, ".rpa"); len(archives) > 0 {
			info.RootDir = absDir
			info.GameDir = absDir
		} else {
			return nil, &GameNotFoundError{Dir: absDir}
		}
	}

	info.Name = filepath.Base(info.RootDir)
	info.RPAFiles, _ = utils.FindFilesWithExtension(info.GameDir, ".rpa")

	return info, nil
}

// HasRPAFiles returns true if the game has RPA archive files.
func (g *GameInfo) HasRPAFiles() bool {
	return len(g.RPAFiles) > 0
}

// GameNotFoundError is returned when a valid Ren'Py game cannot be
// detected.
type GameNotFoundError struct {
	Dir string
}

func (e *GameNotFoundError) Error() string {
	return "could not detect Ren'Py game in directory: " + e.Dir
}
