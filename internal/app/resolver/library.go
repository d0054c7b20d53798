package resolver

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/osa030/tunebox/internal/domain/track"
)

// LibraryConfig configures the local library strategy.
type LibraryConfig struct {
	Root       string   `mapstructure:"root" validate:"required"`
	Extensions []string `mapstructure:"extensions" default:"[\".mp3\",\".ogg\",\".opus\",\".flac\",\".wav\",\".m4a\"]"`
	MinScore   float64  `mapstructure:"min_score" default:"0.6" validate:"gt=0,lte=1"`
}

type libraryEntry struct {
	path   string
	title  string
	tokens map[string]bool
}

// LibraryStrategy resolves search queries against audio files under a
// local directory.
type LibraryStrategy struct {
	name   string
	config *LibraryConfig

	once    sync.Once
	entries []libraryEntry
	scanErr error
}

// NewLibraryStrategy creates a library strategy from free-form settings.
func NewLibraryStrategy(name string, settings map[string]any) (*LibraryStrategy, error) {
	var cfg LibraryConfig
	if err := mapstructure.Decode(settings, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, errors.Wrap(err, "validation failed")
	}
	if name == "" {
		name = "library"
	}
	return &LibraryStrategy{name: name, config: &cfg}, nil
}

// Name returns the strategy name.
func (s *LibraryStrategy) Name() string {
	return s.name
}

// Resolve finds the file whose name best covers the query.
func (s *LibraryStrategy) Resolve(ctx context.Context, ref track.Ref) (*track.Resolution, error) {
	if ref.IsURL() {
		return nil, ErrNotApplicable
	}

	s.once.Do(s.scan)
	if s.scanErr != nil {
		return nil, Unplayable(s.scanErr)
	}

	if p, ok := strings.CutPrefix(string(ref), "file://"); ok {
		return s.resolvePath(p)
	}

	query := tokenize(string(ref))
	if len(query) == 0 {
		return nil, NotFound(errors.New("empty query"))
	}

	var (
		best      *libraryEntry
		bestScore float64
	)
	for i := range s.entries {
		if i%256 == 0 && ctx.Err() != nil {
			return nil, Timeout(ctx.Err())
		}
		e := &s.entries[i]
		hit := 0
		for tok := range query {
			if e.tokens[tok] {
				hit++
			}
		}
		score := float64(hit) / float64(len(query))
		if score > bestScore {
			best, bestScore = e, score
		}
	}

	if best == nil || bestScore < s.config.MinScore {
		return nil, NotFound(errors.Newf("no library match for %q", ref.Short(60)))
	}
	zlog.Debug().Msgf("library match: query=%s file=%s score=%.2f", ref.Short(40), best.path, bestScore)
	return track.NewSingle(best.title, "file://"+best.path), nil
}

func (s *LibraryStrategy) resolvePath(p string) (*track.Resolution, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return nil, Unplayable(err)
	}
	root, _ := filepath.Abs(s.config.Root)
	if rel, err := filepath.Rel(root, abs); err != nil || strings.HasPrefix(rel, "..") {
		return nil, ErrNotApplicable
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, NotFound(err)
	}
	return track.NewSingle(titleOf(abs), "file://"+abs), nil
}

func (s *LibraryStrategy) scan() {
	root, err := filepath.Abs(s.config.Root)
	if err != nil {
		s.scanErr = errors.Wrap(err, "library root")
		return
	}
	exts := make(map[string]bool, len(s.config.Extensions))
	for _, e := range s.config.Extensions {
		exts[strings.ToLower(e)] = true
	}

	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !exts[strings.ToLower(filepath.Ext(p))] {
			return nil
		}
		rel, _ := filepath.Rel(root, p)
		s.entries = append(s.entries, libraryEntry{
			path:   p,
			title:  titleOf(p),
			tokens: tokenize(strings.TrimSuffix(rel, filepath.Ext(rel))),
		})
		return nil
	})
	if err != nil {
		s.scanErr = errors.Wrap(err, "failed to scan library")
		return
	}
	zlog.Info().Msgf("library scanned: root=%s files=%d", root, len(s.entries))
}

func titleOf(p string) string {
	base := filepath.Base(p)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// tokenize folds s to lowercase ASCII-ish words. Accents are stripped and
// punctuation splits words.
func tokenize(s string) map[string]bool {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	words := strings.FieldsFunc(strings.ToLower(folded), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	out := make(map[string]bool, len(words))
	for _, w := range words {
		out[w] = true
	}
	return out
}
