// Package assets holds files shipped inside the binary.
package assets

import (
	_ "embed"
	"fmt"
	"os"
)

// ConfusedName is the filename the confused reply is sent under.
const ConfusedName = "confused.webp"

//go:embed confused.webp
var confused []byte

// Confused returns the image sent in reply to documents and photos. A
// non-empty override path replaces the built-in image.
func Confused(override string) ([]byte, error) {
	if override == "" {
		return confused, nil
	}
	data, err := os.ReadFile(override)
	if err != nil {
		return nil, fmt.Errorf("read confused image: %w", err)
	}
	return data, nil
}
