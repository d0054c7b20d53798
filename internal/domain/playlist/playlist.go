// Package playlist provides the Playlist domain entity and text playlist parsing.
package playlist

import (
	"bufio"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/osa030/tunebox/internal/domain/track"
)

// ErrUnknownFormat is returned when the content is not a supported playlist.
var ErrUnknownFormat = errors.New("unknown playlist format")

// Format represents a text playlist format.
type Format int

const (
	FormatUnknown Format = iota
	FormatM3U            // M3U / M3U8
	FormatPLS            // Shoutcast PLS
)

// Playlist represents an expandable list of refs.
type Playlist struct {
	Name    string      // Playlist title (from #PLAYLIST or the source name)
	Entries []track.Ref // Entries in play order
}

// Refs returns a copy of the entries.
func (p *Playlist) Refs() []track.Ref {
	out := make([]track.Ref, len(p.Entries))
	copy(out, p.Entries)
	return out
}

// Len returns the number of entries.
func (p *Playlist) Len() int {
	return len(p.Entries)
}

// DetectFormat guesses the playlist format from a content type and a source URL.
func DetectFormat(contentType, source string) Format {
	ct := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	switch ct {
	case "audio/x-mpegurl", "audio/mpegurl", "application/x-mpegurl", "application/vnd.apple.mpegurl":
		return FormatM3U
	case "audio/x-scpls", "application/pls+xml":
		return FormatPLS
	}

	p := source
	if u, err := url.Parse(source); err == nil {
		p = u.Path
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".m3u", ".m3u8":
		return FormatM3U
	case ".pls":
		return FormatPLS
	}
	return FormatUnknown
}

// Parse parses playlist content. Relative entries are resolved against base.
func Parse(format Format, content string, base string) (*Playlist, error) {
	var (
		pl  *Playlist
		err error
	)
	switch format {
	case FormatM3U:
		pl, err = parseM3U(content)
	case FormatPLS:
		pl, err = parsePLS(content)
	default:
		return nil, ErrUnknownFormat
	}
	if err != nil {
		return nil, err
	}

	if base != "" {
		for i, e := range pl.Entries {
			pl.Entries[i] = resolveEntry(base, e)
		}
	}
	return pl, nil
}

func parseM3U(content string) (*Playlist, error) {
	pl := &Playlist{}
	sc := bufio.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "#PLAYLIST:"):
			pl.Name = strings.TrimSpace(strings.TrimPrefix(line, "#PLAYLIST:"))
		case strings.HasPrefix(line, "#"):
			continue
		default:
			pl.Entries = append(pl.Entries, track.Ref(line))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read m3u playlist")
	}
	return pl, nil
}

func parsePLS(content string) (*Playlist, error) {
	pl := &Playlist{}
	files := make(map[int]string)
	sc := bufio.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if !strings.HasPrefix(key, "file") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(key, "file"))
		if err != nil {
			continue
		}
		files[n] = strings.TrimSpace(value)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read pls playlist")
	}

	keys := make([]int, 0, len(files))
	for k := range files {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	for _, k := range keys {
		if files[k] != "" {
			pl.Entries = append(pl.Entries, track.Ref(files[k]))
		}
	}
	return pl, nil
}

func resolveEntry(base string, entry track.Ref) track.Ref {
	if entry.IsURL() {
		return entry
	}
	b, err := url.Parse(base)
	if err != nil {
		return entry
	}
	rel, err := url.Parse(string(entry))
	if err != nil {
		return entry
	}
	return track.Ref(b.ResolveReference(rel).String())
}
