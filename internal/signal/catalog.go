package signal

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	edfPrefix        = "shhs1-"
	edfSuffix        = ".edf"
	annotationSuffix = "-nsrr.xml"
)

// CatalogConfig locates a recorded corpus. Either Manifest or EDFDir and
// AnnotationDir must be set; an all-empty config yields an empty catalog.
type CatalogConfig struct {
	Manifest      string
	EDFDir        string
	AnnotationDir string
	MaxSubjects   int
	SampleRate    int
}

// Subject is one replayable record.
type Subject struct {
	ID          string `yaml:"id" json:"id"`
	EDF         string `yaml:"edf" json:"-"`
	Annotations string `yaml:"annotations" json:"-"`
}

type manifest struct {
	Subjects []Subject `yaml:"subjects"`
}

// Catalog is the process-wide registry of recorded subjects. It is built once
// at startup and never mutated afterwards.
type Catalog struct {
	subjects []Subject
	byID     map[string]Subject
	rate     int
}

// EmptyCatalog returns a catalog with no subjects.
func EmptyCatalog() *Catalog {
	return &Catalog{byID: map[string]Subject{}, rate: DefaultSampleRate}
}

// NewCatalog discovers subjects from a YAML manifest or from an NSRR-style
// directory pair. Only subjects with both an EDF and an annotation file are kept.
func NewCatalog(cfg CatalogConfig, logger *zap.Logger) (*Catalog, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := EmptyCatalog()
	if cfg.SampleRate > 0 {
		c.rate = cfg.SampleRate
	}

	var (
		found []Subject
		err   error
	)
	switch {
	case cfg.Manifest != "":
		found, err = loadManifest(cfg.Manifest)
	case cfg.EDFDir != "" && cfg.AnnotationDir != "":
		found, err = scanDirs(cfg.EDFDir, cfg.AnnotationDir)
	default:
		return c, nil
	}
	if err != nil {
		return nil, err
	}

	for _, s := range found {
		if !fileExists(s.EDF) || !fileExists(s.Annotations) {
			logger.Debug("skipping incomplete subject", zap.String("subject_id", s.ID))
			continue
		}
		if _, dup := c.byID[s.ID]; dup {
			continue
		}
		c.subjects = append(c.subjects, s)
		c.byID[s.ID] = s
		if cfg.MaxSubjects > 0 && len(c.subjects) >= cfg.MaxSubjects {
			break
		}
	}
	logger.Info("recorded corpus loaded", zap.Int("subjects", len(c.subjects)))
	return c, nil
}

// Available reports whether any subject can be replayed.
func (c *Catalog) Available() bool { return len(c.subjects) > 0 }

// Subjects lists subject references in catalog order.
func (c *Catalog) Subjects() []string {
	out := make([]string, len(c.subjects))
	for i, s := range c.subjects {
		out[i] = s.ID
	}
	return out
}

// Has reports whether id is in the catalog.
func (c *Catalog) Has(id string) bool {
	_, ok := c.byID[id]
	return ok
}

// Pick selects a subject uniformly at random.
func (c *Catalog) Pick(rng *rand.Rand) (string, error) {
	if len(c.subjects) == 0 {
		return "", ErrNoCorpus
	}
	var i int
	if rng != nil {
		i = rng.IntN(len(c.subjects))
	} else {
		i = rand.IntN(len(c.subjects))
	}
	return c.subjects[i].ID, nil
}

// Open prepares a playback source for id. Unknown ids fail immediately with
// ErrSubjectNotFound.
func (c *Catalog) Open(id string) (*Recorded, error) {
	s, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSubjectNotFound, id)
	}
	ann, err := LoadAnnotations(s.Annotations)
	if err != nil {
		return nil, fmt.Errorf("subject %s: %w", id, err)
	}
	edf, err := OpenEDF(s.EDF)
	if err != nil {
		return nil, fmt.Errorf("subject %s: %w", id, err)
	}
	rec, err := NewRecorded(id, edf, ann, c.rate)
	if err != nil {
		edf.Close()
		return nil, err
	}
	return rec, nil
}

func loadManifest(path string) ([]Subject, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read corpus manifest: %w", err)
	}
	var m manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse corpus manifest: %w", err)
	}
	base := filepath.Dir(path)
	for i := range m.Subjects {
		s := &m.Subjects[i]
		if s.ID == "" {
			return nil, fmt.Errorf("corpus manifest entry %d: missing id", i)
		}
		if !filepath.IsAbs(s.EDF) {
			s.EDF = filepath.Join(base, s.EDF)
		}
		if !filepath.IsAbs(s.Annotations) {
			s.Annotations = filepath.Join(base, s.Annotations)
		}
	}
	return m.Subjects, nil
}

func scanDirs(edfDir, annDir string) ([]Subject, error) {
	matches, err := filepath.Glob(filepath.Join(edfDir, edfPrefix+"*"+edfSuffix))
	if err != nil {
		return nil, fmt.Errorf("scan edf dir: %w", err)
	}
	sort.Strings(matches)
	out := make([]Subject, 0, len(matches))
	for _, m := range matches {
		id := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), edfPrefix), edfSuffix)
		out = append(out, Subject{
			ID:          id,
			EDF:         m,
			Annotations: filepath.Join(annDir, edfPrefix+id+annotationSuffix),
		})
	}
	return out, nil
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}
