// Package verse holds the read-only Bhagavad Gita dataset: the chapter index,
// the verse texts with their translations, and the lookups built on them
// (search, verse of the day).
//
// A default dataset is embedded in the binary. Deployments can replace it
// with their own YAML file of the same shape; see [LoadFile].
package verse

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/xxh3"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/gitapractice/internal/phonetic"
)

// Chapter bounds.
const (
	MinChapter = 1
	MaxChapter = 18
)

var (
	// ErrChapterOutOfRange is returned for chapter numbers outside 1..18.
	ErrChapterOutOfRange = errors.New("verse: chapter out of range")

	// ErrNotFound is returned when no verse matches a lookup.
	ErrNotFound = errors.New("verse: not found")
)

//go:embed gita.yaml
var defaultData []byte

// Chapter is one entry of the chapter index.
type Chapter struct {
	Number int    `yaml:"number" json:"number"`
	Name   string `yaml:"name"   json:"name"`
}

// Verse is a single verse in Devanagari with its romanisation and
// translations keyed by language code ("en", "hi").
type Verse struct {
	ID              string            `yaml:"id"              json:"id"`
	Devanagari      string            `yaml:"devanagari"      json:"devanagari"`
	Transliteration string            `yaml:"transliteration" json:"transliteration"`
	Translations    map[string]string `yaml:"translations"    json:"translations"`
}

// Ref is a verse together with its chapter number. It encodes as a flat JSON
// object: {"chapter": 2, "id": "2.47", ...}.
type Ref struct {
	Chapter int `json:"chapter"`
	Verse
}

// fileFormat is the on-disk YAML layout.
type fileFormat struct {
	Chapters []struct {
		Number int     `yaml:"number"`
		Name   string  `yaml:"name"`
		Verses []Verse `yaml:"verses"`
	} `yaml:"chapters"`
}

// Dataset is an immutable, validated verse collection. All methods are safe
// for concurrent use.
type Dataset struct {
	chapters    []Chapter
	byChapter   map[int][]Verse
	all         []Ref
	searchText  []string
	fingerprint string
	matcher     *phonetic.Matcher
}

var defaultDataset = sync.OnceValues(func() (*Dataset, error) {
	return Parse(defaultData)
})

// Default returns the embedded dataset.
func Default() (*Dataset, error) {
	return defaultDataset()
}

// LoadFile reads a dataset from a YAML file.
func LoadFile(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("verse: read %s: %w", path, err)
	}
	d, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("verse: %s: %w", path, err)
	}
	return d, nil
}

// Load reads a dataset from r.
func Load(r io.Reader) (*Dataset, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("verse: read: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML dataset. Chapters missing from the file
// are added with the name "Chapter N" and no verses.
func Parse(data []byte) (*Dataset, error) {
	var f fileFormat
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("verse: decode dataset: %w", err)
	}

	d := &Dataset{
		byChapter:   make(map[int][]Verse),
		fingerprint: strconv.FormatUint(xxh3.Hash(data), 16),
		matcher:     phonetic.New(),
	}
	names := make(map[int]string)
	seenIDs := make(map[string]bool)
	var errs []error

	for i, ch := range f.Chapters {
		if ch.Number < MinChapter || ch.Number > MaxChapter {
			errs = append(errs, fmt.Errorf("chapters[%d]: number %d outside %d..%d", i, ch.Number, MinChapter, MaxChapter))
			continue
		}
		if _, dup := names[ch.Number]; dup {
			errs = append(errs, fmt.Errorf("chapters[%d]: duplicate chapter %d", i, ch.Number))
			continue
		}
		names[ch.Number] = ch.Name

		prefix := strconv.Itoa(ch.Number) + "."
		for j, v := range ch.Verses {
			switch {
			case v.ID == "":
				errs = append(errs, fmt.Errorf("chapter %d verses[%d]: id is required", ch.Number, j))
				continue
			case !strings.HasPrefix(v.ID, prefix):
				errs = append(errs, fmt.Errorf("chapter %d verse %q: id must start with %q", ch.Number, v.ID, prefix))
				continue
			case seenIDs[v.ID]:
				errs = append(errs, fmt.Errorf("chapter %d verse %q: duplicate id", ch.Number, v.ID))
				continue
			case v.Devanagari == "" && v.Transliteration == "":
				errs = append(errs, fmt.Errorf("chapter %d verse %q: devanagari or transliteration is required", ch.Number, v.ID))
				continue
			}
			seenIDs[v.ID] = true
			if v.Translations == nil {
				v.Translations = map[string]string{}
			}
			d.byChapter[ch.Number] = append(d.byChapter[ch.Number], v)
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("verse: invalid dataset: %w", errors.Join(errs...))
	}

	for n := MinChapter; n <= MaxChapter; n++ {
		name := names[n]
		if name == "" {
			name = "Chapter " + strconv.Itoa(n)
		}
		d.chapters = append(d.chapters, Chapter{Number: n, Name: name})
		for _, v := range d.byChapter[n] {
			d.all = append(d.all, Ref{Chapter: n, Verse: v})
			d.searchText = append(d.searchText, searchText(v))
		}
	}
	return d, nil
}

// searchText joins every text field of v, folded for matching.
func searchText(v Verse) string {
	parts := []string{v.Devanagari, v.Transliteration}
	for _, lang := range slices.Sorted(maps.Keys(v.Translations)) {
		parts = append(parts, v.Translations[lang])
	}
	return phonetic.Fold(strings.Join(parts, " "))
}

// Chapters returns the chapter index, 1 through 18.
func (d *Dataset) Chapters() []Chapter {
	return slices.Clone(d.chapters)
}

// Verses returns the verses of chapter in dataset order. A valid chapter
// without verses yields an empty slice.
func (d *Dataset) Verses(chapter int) ([]Verse, error) {
	if chapter < MinChapter || chapter > MaxChapter {
		return nil, fmt.Errorf("%w: %d", ErrChapterOutOfRange, chapter)
	}
	out := make([]Verse, 0, len(d.byChapter[chapter]))
	return append(out, d.byChapter[chapter]...), nil
}

// Verse looks up one verse by chapter and id.
func (d *Dataset) Verse(chapter int, id string) (Verse, error) {
	verses, err := d.Verses(chapter)
	if err != nil {
		return Verse{}, err
	}
	for _, v := range verses {
		if v.ID == id {
			return v, nil
		}
	}
	return Verse{}, fmt.Errorf("%w: verse %q in chapter %d", ErrNotFound, id, chapter)
}

// All returns every verse with its chapter, in chapter order.
func (d *Dataset) All() []Ref {
	return slices.Clone(d.all)
}

// Len returns the number of verses.
func (d *Dataset) Len() int { return len(d.all) }

// Search finds verses whose text contains q, ignoring case and Latin
// diacritics. When nothing contains q, verses whose transliteration sounds
// like it are returned instead, best match first. An empty query matches
// every verse.
func (d *Dataset) Search(q string) []Ref {
	needle := phonetic.Fold(strings.TrimSpace(q))
	out := make([]Ref, 0)
	for i, text := range d.searchText {
		if strings.Contains(text, needle) {
			out = append(out, d.all[i])
		}
	}
	if len(out) > 0 || needle == "" {
		return out
	}

	translits := make([]string, len(d.all))
	for i, r := range d.all {
		translits[i] = r.Transliteration
	}
	for _, c := range d.matcher.Rank(needle, translits) {
		out = append(out, d.all[c.Index])
	}
	return out
}

// Daily returns the verse of the day for the calendar date of t in UTC. The
// pick is stable for a given date and dataset.
func (d *Dataset) Daily(t time.Time) (Ref, error) {
	if len(d.all) == 0 {
		return Ref{}, fmt.Errorf("%w: dataset has no verses", ErrNotFound)
	}
	key := t.UTC().Format(time.DateOnly)
	return d.all[xxh3.HashString(key)%uint64(len(d.all))], nil
}

// Fingerprint identifies the dataset content. It changes whenever the source
// file changes and is suitable as an HTTP entity tag.
func (d *Dataset) Fingerprint() string { return d.fingerprint }
