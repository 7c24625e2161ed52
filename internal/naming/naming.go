// Package naming derives delivery filenames and download links for rendered
// stickers.
package naming

import (
	"net/url"
	"sort"
	"strings"
	"sync"

	"asticker2vid/internal/domain"

	"github.com/kyokomi/emoji/v2"
)

const (
	VideoExt       = ".mp4"
	baseName       = "animated_sticker"
	variationSel16 = "\ufe0f"
)

// LookupFunc maps an emoji glyph to a short name such as "grinning".
type LookupFunc func(glyph string) (string, bool)

// Namer builds presentable output filenames.
type Namer struct {
	lookup LookupFunc
}

// NewNamer returns a Namer using lookup, or the built-in emoji table when
// lookup is nil.
func NewNamer(lookup LookupFunc) *Namer {
	if lookup == nil {
		lookup = EmojiName
	}
	return &Namer{lookup: lookup}
}

// Name returns "<emoji-name>_animated_sticker.mp4", or
// "animated_sticker.mp4" when the sticker has no emoji or the emoji is not
// in the table.
func (n *Namer) Name(s domain.Sticker) string {
	if s.Emoji != "" {
		if name, ok := n.lookup(s.Emoji); ok {
			return name + "_" + baseName + VideoExt
		}
	}
	return baseName + VideoExt
}

var reverseTable = sync.OnceValue(func() map[string]string {
	table := make(map[string]string)
	for glyph, aliases := range emoji.RevCodeMap() {
		if len(aliases) == 0 {
			continue
		}
		sorted := append([]string(nil), aliases...)
		sort.Slice(sorted, func(i, j int) bool {
			if len(sorted[i]) != len(sorted[j]) {
				return len(sorted[i]) < len(sorted[j])
			}
			return sorted[i] < sorted[j]
		})
		name := strings.Trim(sorted[0], ":")
		table[strings.TrimSpace(glyph)] = name
	}
	return table
})

// EmojiName looks a glyph up in the emoji table. The shortest alias wins, so
// U+1F600 maps to "grinning". Variation selectors are tolerated on either
// side.
func EmojiName(glyph string) (string, bool) {
	table := reverseTable()
	candidates := []string{
		glyph,
		strings.ReplaceAll(glyph, variationSel16, ""),
		glyph + variationSel16,
	}
	for _, c := range candidates {
		if name, ok := table[c]; ok && name != "" {
			return name, true
		}
	}
	return "", false
}

// NormalizeTransportName prepares a transport-reported filename for a URL
// path segment: one trailing underscore is stripped, then the rest is
// percent-encoded.
func NormalizeTransportName(name string) string {
	name = strings.TrimSuffix(name, "_")
	return url.PathEscape(name)
}

// DownloadLink builds "<base>/<fileID>/<encoded name>?dl=1".
func DownloadLink(base, fileID, transportName string) string {
	base = strings.TrimRight(base, "/")
	return base + "/" + url.PathEscape(fileID) + "/" + NormalizeTransportName(transportName) + "?dl=1"
}
